package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/felixgeelhaar/drill/internal/domain"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidToken  = errors.New("invalid actor token")
	ErrTokenExpired  = errors.New("actor token expired")
	ErrNotConfigured = errors.New("token signing secret is not configured")
)

// Config configures actor token signing
type Config struct {
	Secret   []byte
	Issuer   string
	Audience string
	TTL      time.Duration
	Now      func() time.Time
}

// actorClaims is the JWT body of an actor token. The subject is the actor ref.
type actorClaims struct {
	jwt.RegisteredClaims
	Session string `json:"sid,omitempty"`
}

// Service issues and verifies actor tokens. Tokens are HS256 JWTs whose
// subject is "user:<ref>" or "guest:<ref>".
type Service struct {
	cfg Config
}

// NewService creates a token service
func NewService(cfg Config) (*Service, error) {
	if len(cfg.Secret) < 16 {
		return nil, ErrNotConfigured
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Service{cfg: cfg}, nil
}

// Issued is a freshly signed token
type Issued struct {
	Token     string    `json:"token"`
	ActorRef  string    `json:"actor_ref"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Issue signs a token for actor
func (s *Service) Issue(actor domain.Actor, sessionRef string) (*Issued, error) {
	if actor.IsZero() {
		return nil, fmt.Errorf("%w: actor is required", domain.ErrInvalidInput)
	}

	now := s.cfg.Now()
	exp := now.Add(s.cfg.TTL)
	claims := actorClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   actor.Ref(),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Session: sessionRef,
	}
	if s.cfg.Issuer != "" {
		claims.Issuer = s.cfg.Issuer
	}
	if s.cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{s.cfg.Audience}
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.cfg.Secret)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}
	return &Issued{Token: signed, ActorRef: actor.Ref(), ExpiresAt: exp}, nil
}

// ResolveActor verifies token and returns the actor it was issued to
func (s *Service) ResolveActor(_ context.Context, token string) (domain.Actor, error) {
	token = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(token), "Bearer "))
	if token == "" {
		return domain.Actor{}, ErrInvalidToken
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.cfg.Now),
		jwt.WithExpirationRequired(),
	}
	if s.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.cfg.Issuer))
	}
	if s.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(s.cfg.Audience))
	}

	var claims actorClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return s.cfg.Secret, nil
	}, opts...)
	if errors.Is(err, jwt.ErrTokenExpired) {
		return domain.Actor{}, ErrTokenExpired
	}
	if err != nil {
		return domain.Actor{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	return ParseActorRef(claims.Subject)
}

// ParseActorRef is the inverse of domain.Actor.Ref
func ParseActorRef(ref string) (domain.Actor, error) {
	kind, id, ok := strings.Cut(ref, ":")
	if !ok || id == "" {
		return domain.Actor{}, fmt.Errorf("%w: malformed subject %q", ErrInvalidToken, ref)
	}
	switch kind {
	case "user":
		return domain.Actor{UserRef: id}, nil
	case "guest":
		return domain.Actor{GuestRef: id}, nil
	default:
		return domain.Actor{}, fmt.Errorf("%w: unknown subject kind %q", ErrInvalidToken, kind)
	}
}
