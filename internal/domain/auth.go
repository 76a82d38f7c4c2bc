package domain

import "github.com/golang-jwt/jwt/v5"

// OpsClaims — клеймы операторского токена (RS256) для защищенных
// маршрутов /v1/audit и /v1/uploads. Шлюз токены только проверяет,
// выпуск — на стороне внешней консоли.
type OpsClaims struct {
	UserID string          `json:"user_id"`
	Scopes map[string]bool `json:"scopes"` // Напр. "audit.read": true, "uploads.write": true
	jwt.RegisteredClaims
}
