package utils

import (
	"errors"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/google/uuid"
)

// Claims represents the JWT claims
type Claims struct {
	UserID     uuid.UUID `json:"user_id"`
	TelegramID int64     `json:"telegram_id"`
	IsAdmin    bool      `json:"is_admin"`
	jwt.StandardClaims
}

// JWTManager signs and validates access tokens
type JWTManager struct {
	secret     []byte
	expiration time.Duration
}

// NewJWTManager creates a JWT manager. expirationHours <= 0 defaults to 24.
func NewJWTManager(secret string, expirationHours int) *JWTManager {
	if expirationHours <= 0 {
		expirationHours = 24
	}
	return &JWTManager{
		secret:     []byte(secret),
		expiration: time.Duration(expirationHours) * time.Hour,
	}
}

// GenerateToken creates a signed access token
func (m *JWTManager) GenerateToken(userID uuid.UUID, telegramID int64, isAdmin bool) (string, time.Time, error) {
	expiresAt := time.Now().Add(m.expiration)
	claims := Claims{
		UserID:     userID,
		TelegramID: telegramID,
		IsAdmin:    isAdmin,
		StandardClaims: jwt.StandardClaims{
			ExpiresAt: expiresAt.Unix(),
			IssuedAt:  time.Now().Unix(),
			Subject:   userID.String(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// ValidateToken validates a JWT token and returns the claims
func (m *JWTManager) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return m.secret, nil
	})
	if err != nil {
		return nil, err
	}

	if !token.Valid {
		return nil, errors.New("invalid token")
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, errors.New("failed to parse token claims")
	}

	return claims, nil
}
