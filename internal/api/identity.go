// Parley - Real-Time Conversation Synchronization for Business Networking
// Copyright 2026 Parley Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/parleyhq/parley

package api

import (
	"context"
	"net/http"
)

// UserHeader carries the caller identity established by the gateway. The
// sync core trusts the gateway's authentication; it never sees credentials.
const UserHeader = "X-Parley-User"

type contextKey string

const userContextKey contextKey = "parley-user"

// RequireUser rejects requests without a caller identity and stores the
// user ID in the request context.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get(UserHeader)
		if userID == "" {
			respondError(w, http.StatusUnauthorized, "MISSING_IDENTITY",
				"caller identity header is required", nil)
			return
		}
		ctx := context.WithValue(r.Context(), userContextKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// UserFromContext returns the caller identity set by RequireUser.
func UserFromContext(ctx context.Context) string {
	userID, _ := ctx.Value(userContextKey).(string)
	return userID
}
