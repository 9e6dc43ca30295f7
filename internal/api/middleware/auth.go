package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/notifyhub/collab-notify/internal/presence"
)

const (
	userIDKey     contextKey = "user_id"
	callerSlotKey contextKey = "caller_slot"
)

// Claims is the payload of the access tokens issued by the auth service.
type Claims struct {
	jwt.RegisteredClaims
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}

// GenerateToken signs an HS256 token for userID valid for ttl.
func GenerateToken(secret, userID, email string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		UserID: userID,
		Email:  email,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ParseToken verifies raw and returns its claims.
func ParseToken(secret, raw string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if !token.Valid || claims.UserID == "" {
		return nil, errors.New("token carries no user")
	}
	return claims, nil
}

type sessionData struct {
	Email    string    `json:"email"`
	LastSeen time.Time `json:"lastSeen"`
}

// Authenticate requires a valid Bearer token and stores the caller on the
// request context. Each authenticated request refreshes the caller's
// presence session; sessions may be nil.
func Authenticate(secret string, sessions presence.SessionStore, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || raw == "" {
				unauthorized(w, "missing bearer token")
				return
			}
			claims, err := ParseToken(secret, raw)
			if err != nil {
				unauthorized(w, "invalid token")
				return
			}

			if sessions != nil {
				data, _ := json.Marshal(sessionData{Email: claims.Email, LastSeen: time.Now().UTC()})
				if err := sessions.Touch(r.Context(), claims.UserID, string(data)); err != nil {
					// Routing falls back to email while sessions are unavailable.
					logger.Warn("failed to refresh presence session",
						zap.String("user_id", claims.UserID), zap.Error(err))
				}
			}

			if slot, ok := r.Context().Value(callerSlotKey).(*callerSlot); ok {
				slot.userID = claims.UserID
			}
			ctx := context.WithValue(r.Context(), userIDKey, claims.UserID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// TokenIdentity extracts the caller of a WebSocket upgrade from a ?token=
// query parameter or a Bearer header, since browsers cannot set headers on
// WebSocket requests.
func TokenIdentity(secret string) func(*http.Request) (string, bool) {
	return func(r *http.Request) (string, bool) {
		raw := r.URL.Query().Get("token")
		if raw == "" {
			raw, _ = strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		}
		if raw == "" {
			return "", false
		}
		claims, err := ParseToken(secret, raw)
		if err != nil {
			return "", false
		}
		return claims.UserID, true
	}
}

// UserID returns the authenticated caller, or "" outside Authenticate.
func UserID(ctx context.Context) string {
	v, _ := ctx.Value(userIDKey).(string)
	return v
}

type callerSlot struct {
	userID string
}

func withCallerSlot(ctx context.Context, s *callerSlot) context.Context {
	return context.WithValue(ctx, callerSlotKey, s)
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
