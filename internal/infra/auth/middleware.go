package auth

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/xela07ax/trustgate/internal/domain"
)

type ctxKey string

const (
	scopesKey ctxKey = "user_scopes"
	userIDKey ctxKey = "user_id"
)

// TokenValidator — контракт проверки операторских токенов.
type TokenValidator interface {
	VerifyToken(tokenStr string) (*domain.OpsClaims, error)
}

// NewMiddleware закрывает группу маршрутов RS256-токеном.
func NewMiddleware(v TokenValidator, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			claims, err := v.VerifyToken(authHeader)
			if err != nil {
				logger.Warn("auth failure", zap.Error(err))
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			// Прокидываем данные в контекст
			ctx := context.WithValue(r.Context(), scopesKey, claims.Scopes)
			ctx = context.WithValue(ctx, userIDKey, claims.UserID)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ScopesFromContext достает права оператора в любом месте ниже по стеку.
func ScopesFromContext(ctx context.Context) map[string]bool {
	if scopes, ok := ctx.Value(scopesKey).(map[string]bool); ok {
		return scopes
	}
	return nil
}

// UserIDFromContext — идентификатор оператора из проверенного токена.
// Используется как subject в записях аудита привилегированных маршрутов.
func UserIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(userIDKey).(string); ok {
		return id
	}
	return ""
}
