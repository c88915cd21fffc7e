// Package auth 负责签发与校验 Bearer 令牌，令牌只携带会话所需的身份信息。
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken 表示令牌缺失、签名错误或已过期。
var ErrInvalidToken = errors.New("invalid token")

// Claims 是令牌中的自定义声明，Subject 为 user_id。
type Claims struct {
	Username  string `json:"username"`
	Name      string `json:"name"`
	Role      string `json:"role"`
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// TokenIssuer 使用 HS256 签发令牌。
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

// NewTokenIssuer 构造 TokenIssuer，ttl 非正数时默认 7 天。
func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &TokenIssuer{secret: []byte(secret), ttl: ttl, issuer: "moodjournal", now: time.Now}
}

// TTL 返回令牌有效期。
func (t *TokenIssuer) TTL() time.Duration {
	return t.ttl
}

// Issue 为指定身份与会话签发令牌。
func (t *TokenIssuer) Issue(userID, username, name, role, sessionID string) (string, time.Time, error) {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(sessionID) == "" {
		return "", time.Time{}, fmt.Errorf("issue token: %w", ErrInvalidToken)
	}
	now := t.now()
	expires := now.Add(t.ttl)
	claims := Claims{
		Username:  username,
		Name:      name,
		Role:      role,
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    t.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expires, nil
}

// Parse 校验令牌并返回声明。
func (t *TokenIssuer) Parse(tokenString string) (*Claims, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return nil, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(t.issuer),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || strings.TrimSpace(claims.Subject) == "" || claims.SessionID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
