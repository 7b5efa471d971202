package usecase

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"conversation-api/internal/domain"
)

const minPasswordLen = 6

// Reasons for rejected account input.
const (
	ReasonMissingName        = "missing_name"
	ReasonInvalidEmail       = "invalid_email"
	ReasonWeakPassword       = "weak_password"
	ReasonMissingCredentials = "missing_credentials"
)

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

type UserStore interface {
	CreateUser(ctx context.Context, u domain.User) error
	GetUserByID(ctx context.Context, id string) (domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (domain.User, error)
	TouchLastLogin(ctx context.Context, id string, at time.Time) error
}

type PasswordHasher interface {
	Hash(password []byte) (string, error)
	Compare(hash string, password []byte) error
}

type TokenIssuer interface {
	Issue(ctx context.Context, userID string, role domain.Role) (string, time.Time, error)
}

type RegisterInput struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AuthOutput struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expiresAt"`
	User      domain.User `json:"user"`
}

// AuthService registers and signs in users. Token verification lives with the
// request boundary, not here.
type AuthService struct {
	users  UserStore
	hasher PasswordHasher
	tokens TokenIssuer
}

func NewAuthService(users UserStore, hasher PasswordHasher, tokens TokenIssuer) (*AuthService, error) {
	if users == nil {
		return nil, errors.New("usecase: user store must not be nil")
	}
	if hasher == nil {
		return nil, errors.New("usecase: password hasher must not be nil")
	}
	if tokens == nil {
		return nil, errors.New("usecase: token issuer must not be nil")
	}
	return &AuthService{users: users, hasher: hasher, tokens: tokens}, nil
}

func (s *AuthService) Register(ctx context.Context, in RegisterInput) (AuthOutput, error) {
	name := strings.TrimSpace(in.Name)
	email := domain.NormalizeEmail(in.Email)
	if name == "" {
		return AuthOutput{}, newError(ErrorInvalidInput, ReasonMissingName, nil)
	}
	if !emailPattern.MatchString(email) {
		return AuthOutput{}, newError(ErrorInvalidInput, ReasonInvalidEmail, nil)
	}
	if len(in.Password) < minPasswordLen {
		return AuthOutput{}, newError(ErrorInvalidInput, ReasonWeakPassword, nil)
	}

	hash, err := s.hasher.Hash([]byte(in.Password))
	if err != nil {
		return AuthOutput{}, newError(ErrorInternal, "hash_password", err)
	}
	user := domain.User{
		ID:           newUUID(),
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		Role:         domain.RoleUser,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, domain.ErrEmailTaken) {
			return AuthOutput{}, newError(ErrorInvalidInput, ReasonUserExists, err)
		}
		return AuthOutput{}, newError(ErrorInternal, "create_user", err)
	}
	return s.signIn(ctx, user)
}

func (s *AuthService) Login(ctx context.Context, in LoginInput) (AuthOutput, error) {
	email := domain.NormalizeEmail(in.Email)
	if email == "" || in.Password == "" {
		return AuthOutput{}, newError(ErrorInvalidInput, ReasonMissingCredentials, nil)
	}

	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return AuthOutput{}, newError(ErrorInvalidInput, ReasonInvalidCredentials, nil)
		}
		return AuthOutput{}, newError(ErrorInternal, "find_user", err)
	}
	if err := s.hasher.Compare(user.PasswordHash, []byte(in.Password)); err != nil {
		return AuthOutput{}, newError(ErrorInvalidInput, ReasonInvalidCredentials, nil)
	}

	at := time.Now().UTC()
	if err := s.users.TouchLastLogin(ctx, user.ID, at); err != nil {
		return AuthOutput{}, newError(ErrorInternal, "touch_last_login", err)
	}
	user.LastLogin = &at
	return s.signIn(ctx, user)
}

// CurrentUser returns the account behind a verified identity.
func (s *AuthService) CurrentUser(ctx context.Context, caller string) (domain.User, error) {
	user, err := s.users.GetUserByID(ctx, caller)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.User{}, newError(ErrorNotFound, ReasonUserNotFound, err)
		}
		return domain.User{}, newError(ErrorInternal, "find_user", err)
	}
	return user, nil
}

func (s *AuthService) signIn(ctx context.Context, user domain.User) (AuthOutput, error) {
	token, expiresAt, err := s.tokens.Issue(ctx, user.ID, user.Role)
	if err != nil {
		return AuthOutput{}, newError(ErrorInternal, "issue_token", err)
	}
	return AuthOutput{Token: token, ExpiresAt: expiresAt, User: user}, nil
}

var newUUID = func() string {
	return uuid.NewString()
}
