package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Service issues and verifies the signed tokens used for magic-link
// sign-in. The same token type backs both the emailed link and the
// session cookie set after verification; only the TTL differs.
type Service struct {
	issuer     string
	secret     []byte
	linkTTL    time.Duration
	sessionTTL time.Duration
}

// NewService creates a token service. linkTTL bounds how long a magic
// link stays valid; sessionTTL bounds the cookie session.
func NewService(issuer string, secret []byte, linkTTL, sessionTTL time.Duration) *Service {
	if linkTTL <= 0 {
		linkTTL = 15 * time.Minute
	}
	if sessionTTL <= 0 {
		sessionTTL = 24 * time.Hour
	}
	return &Service{
		issuer:     issuer,
		secret:     secret,
		linkTTL:    linkTTL,
		sessionTTL: sessionTTL,
	}
}

// IssueLinkToken signs a short-lived token for the magic link sent to email.
func (s *Service) IssueLinkToken(email string) (string, error) {
	return s.sign(email, s.linkTTL)
}

// IssueSessionToken signs the longer-lived token stored in the session cookie.
func (s *Service) IssueSessionToken(email string) (string, error) {
	return s.sign(email, s.sessionTTL)
}

// SessionTTL reports the configured session lifetime, for cookie expiry.
func (s *Service) SessionTTL() time.Duration {
	return s.sessionTTL
}

func (s *Service) sign(email string, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := jwt.RegisteredClaims{
		Issuer:    s.issuer,
		Subject:   email,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(s.secret)
}

// ParseToken validates a token and returns the subject email.
func (s *Service) ParseToken(token string) (string, error) {
	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return s.secret, nil
	})
	if err != nil {
		return "", err
	}
	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || !parsed.Valid {
		return "", errors.New("invalid token")
	}
	if claims.Issuer != s.issuer {
		return "", errors.New("invalid issuer")
	}
	if claims.Subject == "" {
		return "", errors.New("invalid subject")
	}
	return claims.Subject, nil
}
