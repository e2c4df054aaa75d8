// Package auth issues and validates viewer access tokens.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenTypeAccess is the typ claim of viewer access tokens.
const TokenTypeAccess = "access"

// Defaults for token lifetime and validation.
const (
	DefaultAccessTokenExpiry = 60 * time.Minute
	DefaultLeeway            = 30 * time.Second
)

var (
	// ErrInvalidToken is returned when token validation fails.
	ErrInvalidToken = errors.New("invalid token")

	// ErrExpiredToken is returned when the token has expired.
	ErrExpiredToken = errors.New("token has expired")

	// ErrEmptyViewerID is returned when issuing a token without a subject.
	ErrEmptyViewerID = errors.New("viewer id cannot be empty")

	// ErrMissingSecret is returned when the service has no signing secret.
	ErrMissingSecret = errors.New("jwt secret is required")
)

// Claims are the JWT claims of a viewer access token. The viewer id is the
// registered subject.
type Claims struct {
	jwt.RegisteredClaims
	Type string `json:"typ"`
}

// ViewerID returns the subject of the token.
func (c *Claims) ViewerID() string {
	return c.Subject
}

// Config configures a Service.
type Config struct {
	// Secret signs new tokens and validates current ones.
	Secret string
	// PreviousSecret, when set, is still accepted for validation so keys
	// can rotate without invalidating live sessions.
	PreviousSecret string
	// Issuer is set on issued tokens and required on validated ones when non-empty.
	Issuer string
	// Expiry is the lifetime of issued tokens.
	Expiry time.Duration
	// Leeway tolerates clock skew on exp/nbf/iat.
	Leeway time.Duration
}

// Service signs and validates HS256 access tokens.
type Service struct {
	current  []byte
	previous []byte
	issuer   string
	expiry   time.Duration
	leeway   time.Duration
	now      func() time.Time
}

// NewService creates a token service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Secret == "" {
		return nil, ErrMissingSecret
	}
	if cfg.Expiry <= 0 {
		cfg.Expiry = DefaultAccessTokenExpiry
	}
	if cfg.Leeway <= 0 {
		cfg.Leeway = DefaultLeeway
	}

	s := &Service{
		current: []byte(cfg.Secret),
		issuer:  cfg.Issuer,
		expiry:  cfg.Expiry,
		leeway:  cfg.Leeway,
		now:     time.Now,
	}
	if cfg.PreviousSecret != "" {
		s.previous = []byte(cfg.PreviousSecret)
	}
	return s, nil
}

// IssueAccessToken creates a signed access token for viewerID.
func (s *Service) IssueAccessToken(viewerID string) (string, error) {
	if viewerID == "" {
		return "", ErrEmptyViewerID
	}

	now := s.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   viewerID,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.expiry)),
		},
		Type: TokenTypeAccess,
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.current)
}

// ValidateAccessToken parses tokenString and returns its claims. The
// current secret is tried first, then the previous one.
func (s *Service) ValidateAccessToken(tokenString string) (*Claims, error) {
	claims, err := s.parse(tokenString, s.current)
	if err != nil && s.previous != nil && !errors.Is(err, jwt.ErrTokenExpired) {
		claims, err = s.parse(tokenString, s.previous)
	}
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	if claims.Type != TokenTypeAccess || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (s *Service) parse(tokenString string, secret []byte) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithLeeway(s.leeway),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(*jwt.Token) (any, error) {
		return secret, nil
	}, opts...)
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
