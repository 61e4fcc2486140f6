package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hackgods/appointment-scheduling-core/internal/apperr"
)

var (
	ErrMissingToken = apperr.Authentication("No token, authorization denied")
	ErrInvalidToken = apperr.Authentication("Invalid or expired token")
)

// Authenticator resolves a bearer credential to a Principal.
type Authenticator interface {
	Authenticate(ctx context.Context, bearer string) (Principal, error)
}

// Claims issued by the identity service.
type Claims struct {
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

// JWTAuthenticator validates HS256 tokens signed with the identity service secret.
type JWTAuthenticator struct {
	secret []byte
}

func NewJWTAuthenticator(secret string) *JWTAuthenticator {
	return &JWTAuthenticator{secret: []byte(secret)}
}

func (a *JWTAuthenticator) Authenticate(_ context.Context, bearer string) (Principal, error) {
	if bearer == "" {
		return Principal{}, ErrMissingToken
	}
	if len(a.secret) == 0 {
		return Principal{}, ErrInvalidToken
	}

	claims := Claims{}
	token, err := jwt.ParseWithClaims(bearer, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return a.secret, nil
	})
	if err != nil || !token.Valid {
		return Principal{}, ErrInvalidToken
	}
	if claims.Subject == "" || len(claims.Roles) == 0 {
		return Principal{}, ErrInvalidToken
	}

	return Principal{UserID: claims.Subject, Roles: claims.Roles}, nil
}

// BearerToken extracts the token from an Authorization: Bearer header.
func BearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
}

// SignToken issues an HS256 token for subject with roles.
func SignToken(secret, subject string, roles []string, ttl time.Duration, now time.Time) (string, error) {
	if secret == "" {
		return "", errors.New("auth: signing secret required")
	}
	claims := Claims{
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}

// ServiceTokenSource mints service credentials for trusted inter-component
// calls and reuses them until shortly before expiry.
type ServiceTokenSource struct {
	secret    string
	serviceID string
	ttl       time.Duration
	now       func() time.Time

	mu      sync.Mutex
	token   string
	expires time.Time
}

func NewServiceTokenSource(secret, serviceID string, ttl time.Duration) *ServiceTokenSource {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &ServiceTokenSource{
		secret:    secret,
		serviceID: serviceID,
		ttl:       ttl,
		now:       time.Now,
	}
}

func (s *ServiceTokenSource) Token() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.token != "" && now.Add(30*time.Second).Before(s.expires) {
		return s.token, nil
	}

	token, err := SignToken(s.secret, s.serviceID, []string{RoleService}, s.ttl, now)
	if err != nil {
		return "", err
	}
	s.token = token
	s.expires = now.Add(s.ttl)
	return token, nil
}
