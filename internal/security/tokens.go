package security

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"conversation-api/internal/domain"
)

const defaultTokenTTL = 120 * time.Hour

var (
	// ErrInvalidToken is returned when a token is malformed, expired or signed by
	// someone else.
	ErrInvalidToken = errors.New("invalid token")
)

// JSONParamGetter loads a JSON encoded parameter into v.
type JSONParamGetter interface {
	GetJSON(ctx context.Context, name string, v any) error
}

// Claims are the JWT claims carried by an access token. Subject is the user id.
type Claims struct {
	jwt.RegisteredClaims
	Role domain.Role `json:"role"`
}

// Identity is what a verified token says about the caller.
type Identity struct {
	UserID string
	Role   domain.Role
}

type TokenConfig struct {
	// Secret signs tokens directly. When empty the secret is read from
	// SecretParam through Params on first use.
	Secret      string
	Params      JSONParamGetter
	SecretParam string
	Issuer      string
	Audience    string
	TTL         time.Duration
}

// secretPayload is the JSON shape stored in SSM for the signing secret.
type secretPayload struct {
	Secret string `json:"secret"`
}

// TokenProvider issues and verifies HS256 access tokens.
type TokenProvider struct {
	params      JSONParamGetter
	secretParam string
	issuer      string
	audience    string
	ttl         time.Duration

	mu     sync.RWMutex
	secret []byte
}

func NewTokenProvider(cfg TokenConfig) (*TokenProvider, error) {
	if cfg.Secret == "" && (cfg.Params == nil || strings.TrimSpace(cfg.SecretParam) == "") {
		return nil, errors.New("security: either a secret or a secret parameter is required")
	}
	if strings.TrimSpace(cfg.Issuer) == "" || strings.TrimSpace(cfg.Audience) == "" {
		return nil, errors.New("security: issuer and audience must not be empty")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTokenTTL
	}
	p := &TokenProvider{
		params:      cfg.Params,
		secretParam: strings.TrimSpace(cfg.SecretParam),
		issuer:      cfg.Issuer,
		audience:    cfg.Audience,
		ttl:         cfg.TTL,
	}
	if cfg.Secret != "" {
		p.secret = []byte(cfg.Secret)
	}
	return p, nil
}

// Issue signs a token for userID valid for the configured TTL.
func (p *TokenProvider) Issue(ctx context.Context, userID string, role domain.Role) (string, time.Time, error) {
	if userID == "" {
		return "", time.Time{}, errors.New("security: user id is required")
	}
	key, err := p.signingKey(ctx)
	if err != nil {
		return "", time.Time{}, err
	}
	jti, err := generateJTI()
	if err != nil {
		return "", time.Time{}, err
	}
	now := time.Now().UTC()
	expiresAt := now.Add(p.ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   userID,
			Issuer:    p.issuer,
			Audience:  jwt.ClaimStrings{p.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Role: role,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("security: sign token: %w", err)
	}
	return token, expiresAt, nil
}

// Verify checks signature, expiry, issuer and audience and returns the caller.
// Any failure is ErrInvalidToken except a failure to load the signing secret.
func (p *TokenProvider) Verify(ctx context.Context, tokenString string) (Identity, error) {
	key, err := p.signingKey(ctx)
	if err != nil {
		return Identity{}, err
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(p.issuer),
		jwt.WithAudience(p.audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return Identity{}, ErrInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return Identity{}, ErrInvalidToken
	}
	return Identity{UserID: claims.Subject, Role: claims.Role}, nil
}

// signingKey returns the cached secret, loading it from the parameter store
// once. A failed load is retried on the next call.
func (p *TokenProvider) signingKey(ctx context.Context) ([]byte, error) {
	p.mu.RLock()
	if p.secret != nil {
		key := p.secret
		p.mu.RUnlock()
		return key, nil
	}
	p.mu.RUnlock()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.secret != nil {
		return p.secret, nil
	}

	var payload secretPayload
	if err := p.params.GetJSON(ctx, p.secretParam, &payload); err != nil {
		return nil, fmt.Errorf("security: load signing secret: %w", err)
	}
	if strings.TrimSpace(payload.Secret) == "" {
		return nil, errors.New("security: signing secret is empty")
	}
	p.secret = []byte(payload.Secret)
	return p.secret, nil
}

func generateJTI() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
