package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/realbeatz/backend/internal/logging"
)

type userIDKey struct{}

// TokenVerifier resolves an access token to a user id.
type TokenVerifier interface {
	Verify(accessToken string) (string, error)
}

// WithUserID stores the authenticated user id on the context.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey{}, userID)
}

// UserIDFromContext returns the authenticated user id, if any.
func UserIDFromContext(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(userIDKey{}).(string)
	return userID, ok && userID != ""
}

// RequireUser rejects requests without a valid bearer token and exposes the
// caller's user id to next through the request context.
func RequireUser(verifier TokenVerifier, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			unauthorized(w, "missing bearer token")
			return
		}

		userID, err := verifier.Verify(strings.TrimSpace(token))
		if err != nil {
			logging.FromContext(r.Context()).Warn("rejected access token", "error", err)
			unauthorized(w, "invalid access token")
			return
		}

		ctx := WithUserID(r.Context(), userID)
		ctx = logging.WithLogger(ctx, logging.FromContext(ctx).With("user_id", userID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", "Bearer")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
