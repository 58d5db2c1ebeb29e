package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

type userClaims struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// LocalAuthenticator accepts HS256 bearer tokens signed with a shared secret.
type LocalAuthenticator struct {
	secret []byte
}

func NewLocalAuthenticator(secret string) (*LocalAuthenticator, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is required for local authentication")
	}
	return &LocalAuthenticator{secret: []byte(secret)}, nil
}

// GenerateToken issues a token for user valid for ttl.
func GenerateToken(secret string, user User, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := userClaims{
		Username: user.Username,
		Role:     user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign user token: %s", err)
	}
	return signed, nil
}

func (la *LocalAuthenticator) Authenticate(token string) (User, error) {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}), jwt.WithIssuedAt(), jwt.WithExpirationRequired())
	claims := &userClaims{}
	t, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return la.secret, nil
	})
	if err != nil {
		return User{}, fmt.Errorf("failed to authenticate token: %w", err)
	}
	if !t.Valid {
		return User{}, fmt.Errorf("failed to parse or validate token")
	}
	if claims.Subject == "" || claims.Role == "" {
		return User{}, errors.New("token has no subject or role")
	}

	return User{
		ID:       claims.Subject,
		Username: claims.Username,
		Role:     claims.Role,
	}, nil
}

func (la *LocalAuthenticator) Authenticator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		accessToken, found := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !found || accessToken == "" {
			http.Error(w, "No token provided", http.StatusUnauthorized)
			return
		}

		user, err := la.Authenticate(accessToken)
		if err != nil {
			zap.S().Named("auth").Debugw("rejected token", "error", err)
			http.Error(w, "authentication failed", http.StatusUnauthorized)
			return
		}

		ctx := NewUserContext(r.Context(), user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
