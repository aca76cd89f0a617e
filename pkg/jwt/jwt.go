package jwt

import (
	"errors"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Roles carried in the session token, matching users.role.
const (
	RoleUser  = "USER"
	RoleAdmin = "ADMIN"
)

// Config configures session tokens.
type Config struct {
	Secret string        `env:"SESSION_SECRET,required"`
	Cookie string        `env:"SESSION_COOKIE" envDefault:"session"`
	Issuer string        `env:"SESSION_ISSUER" envDefault:"saaskit"`
	TTL    time.Duration `env:"SESSION_TTL" envDefault:"720h"`
}

// Claims is the payload of a session token. Subject holds the user id.
type Claims struct {
	gojwt.RegisteredClaims
	Role string `json:"role,omitempty"`
}

// Session is the authenticated principal extracted from a token.
type Session struct {
	UserID uuid.UUID
	Role   string
}

// IsAdmin reports whether the session carries the admin role.
func (s Session) IsAdmin() bool {
	return s.Role == RoleAdmin
}

// Service issues and verifies HS256 session tokens.
type Service struct {
	key    []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithIssuer sets the iss claim. Tokens from other issuers are rejected.
func WithIssuer(iss string) ServiceOption {
	return func(s *Service) { s.issuer = iss }
}

// WithTTL sets the lifetime of issued tokens.
func WithTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithClock overrides time.Now for issuing and validating tokens.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// New returns ErrMissingSigningKey for an empty secret.
func New(secret string, opts ...ServiceOption) (*Service, error) {
	if secret == "" {
		return nil, ErrMissingSigningKey
	}
	s := &Service{
		key: []byte(secret),
		ttl: 24 * time.Hour,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// NewFromConfig builds a Service from Config.
func NewFromConfig(cfg Config) (*Service, error) {
	return New(cfg.Secret, WithIssuer(cfg.Issuer), WithTTL(cfg.TTL))
}

// Issue signs a token for userID with the given role.
func (s *Service) Issue(userID uuid.UUID, role string) (string, error) {
	now := s.now()
	claims := Claims{
		RegisteredClaims: gojwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID.String(),
			Issuer:    s.issuer,
			IssuedAt:  gojwt.NewNumericDate(now),
			NotBefore: gojwt.NewNumericDate(now),
			ExpiresAt: gojwt.NewNumericDate(now.Add(s.ttl)),
		},
		Role: role,
	}
	return gojwt.NewWithClaims(gojwt.SigningMethodHS256, claims).SignedString(s.key)
}

// Parse verifies the token and returns its session. Only HS256 is accepted
// and the expiry claim is required.
func (s *Service) Parse(token string) (Session, error) {
	opts := []gojwt.ParserOption{
		gojwt.WithValidMethods([]string{gojwt.SigningMethodHS256.Alg()}),
		gojwt.WithExpirationRequired(),
		gojwt.WithTimeFunc(s.now),
	}
	if s.issuer != "" {
		opts = append(opts, gojwt.WithIssuer(s.issuer))
	}

	var claims Claims
	_, err := gojwt.ParseWithClaims(token, &claims, func(*gojwt.Token) (any, error) {
		return s.key, nil
	}, opts...)
	switch {
	case errors.Is(err, gojwt.ErrTokenExpired):
		return Session{}, errors.Join(ErrExpiredToken, err)
	case err != nil:
		return Session{}, errors.Join(ErrInvalidToken, err)
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return Session{}, errors.Join(ErrInvalidToken, err)
	}
	return Session{UserID: userID, Role: claims.Role}, nil
}
