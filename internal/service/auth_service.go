package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/user-service/internal/auth"
	"github.com/spec-kit/user-service/internal/config"
	"github.com/spec-kit/user-service/internal/domain"
	"github.com/spec-kit/user-service/internal/events"
	"github.com/spec-kit/user-service/internal/observability"
	"github.com/spec-kit/user-service/internal/repository"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrTooManyAttempts    = errors.New("too many failed login attempts")
)

// RegisterInput carries the fields accepted at registration.
type RegisterInput struct {
	Username string
	Email    string
	Password string
}

// AuthService coordinates registration and login flows.
type AuthService struct {
	users      repository.UserRepository
	tokens     *auth.TokenService
	throttle   *LoginThrottle
	dispatcher events.Dispatcher
	metrics    *observability.Metrics
	logger     *zap.Logger
	bcryptCost int
}

// AuthDependencies encapsulates collaborators for the auth service.
type AuthDependencies struct {
	UserRepo   repository.UserRepository
	Tokens     *auth.TokenService
	Throttle   *LoginThrottle
	Dispatcher events.Dispatcher
	Metrics    *observability.Metrics
	Logger     *zap.Logger
}

// NewAuthService builds the service.
func NewAuthService(cfg config.AuthConfig, deps AuthDependencies) *AuthService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	dispatcher := deps.Dispatcher
	if dispatcher == nil {
		dispatcher = events.NewInMemoryDispatcher()
	}
	return &AuthService{
		users:      deps.UserRepo,
		tokens:     deps.Tokens,
		throttle:   deps.Throttle,
		dispatcher: dispatcher,
		metrics:    deps.Metrics,
		logger:     logger,
		bcryptCost: cfg.BcryptCost,
	}
}

// Register creates a new account with role USER.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*domain.User, error) {
	return s.createUser(ctx, in, domain.RoleUser)
}

// EnsureAdmin creates the bootstrap ADMIN account unless it already exists.
func (s *AuthService) EnsureAdmin(ctx context.Context, admin config.BootstrapAdminConfig) error {
	if admin.Username == "" {
		return nil
	}
	if admin.Password == "" {
		return errors.New("bootstrap admin password is required")
	}

	_, err := s.users.GetByUsername(ctx, admin.Username)
	if err == nil {
		s.logger.Debug("bootstrap admin already present", zap.String("username", admin.Username))
		return nil
	}
	if !errors.Is(err, repository.ErrUserNotFound) {
		return err
	}

	user, err := s.createUser(ctx, RegisterInput{
		Username: admin.Username,
		Email:    admin.Email,
		Password: admin.Password,
	}, domain.RoleAdmin)
	if err != nil {
		return fmt.Errorf("create bootstrap admin: %w", err)
	}
	s.logger.Info("bootstrap admin created", zap.String("user_id", user.ID), zap.String("username", user.Username))
	return nil
}

func (s *AuthService) createUser(ctx context.Context, in RegisterInput, role domain.Role) (*domain.User, error) {
	hash, err := auth.HashPassword(in.Password, s.bcryptCost)
	if err != nil {
		return nil, err
	}

	user := &domain.User{
		ID:           uuid.NewString(),
		Username:     in.Username,
		Email:        strings.ToLower(strings.TrimSpace(in.Email)),
		PasswordHash: hash,
		Role:         role,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}

	s.publish(ctx, events.NewEvent(events.EventUserRegistered, user.Username, events.UserRegisteredPayload{
		UserID: user.ID,
		Role:   user.Role.String(),
	}))
	return user, nil
}

// Authenticate verifies a username/password pair, applying the login
// throttle. Unknown usernames and wrong passwords are indistinguishable.
func (s *AuthService) Authenticate(ctx context.Context, username, password string) (*domain.User, error) {
	allowed, err := s.throttle.Allow(ctx, username)
	if err != nil {
		s.logger.Warn("login throttle unavailable", zap.Error(err))
	}
	if !allowed {
		s.metrics.RecordLogin("throttled")
		s.publish(ctx, events.NewEvent(events.EventLoginThrottled, username, nil))
		return nil, ErrTooManyAttempts
	}

	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, s.loginFailed(ctx, username, "unknown user")
		}
		return nil, err
	}
	if err := auth.ComparePassword(user.PasswordHash, password); err != nil {
		return nil, s.loginFailed(ctx, username, "password mismatch")
	}

	if err := s.throttle.Reset(ctx, username); err != nil {
		s.logger.Warn("failed to reset login throttle", zap.String("username", username), zap.Error(err))
	}
	return user, nil
}

// Login authenticates the caller and issues a token carrying the user's role.
func (s *AuthService) Login(ctx context.Context, username, password string) (*domain.User, auth.Token, error) {
	user, err := s.Authenticate(ctx, username, password)
	if err != nil {
		return nil, auth.Token{}, err
	}

	token, err := s.tokens.Issue(user.Username, map[string]any{auth.ClaimRole: user.Role.String()})
	if err != nil {
		s.metrics.RecordToken("issue", observability.TokenOutcomeError)
		return nil, auth.Token{}, err
	}
	s.metrics.RecordToken("issue", observability.TokenOutcomeOK)
	s.metrics.RecordLogin("success")

	s.publish(ctx, events.NewEvent(events.EventUserLoggedIn, user.Username, events.UserLoggedInPayload{
		UserID:    user.ID,
		ExpiresAt: token.ExpiresAt,
	}))
	return user, token, nil
}

// RetryAfter exposes the remaining throttle window for username.
func (s *AuthService) RetryAfter(ctx context.Context, username string) int {
	return int(s.throttle.RetryAfter(ctx, username).Seconds())
}

func (s *AuthService) loginFailed(ctx context.Context, username, reason string) error {
	attempts, err := s.throttle.RecordFailure(ctx, username)
	if err != nil {
		s.logger.Warn("failed to record login failure", zap.String("username", username), zap.Error(err))
	}
	s.metrics.RecordLogin("failure")
	s.publish(ctx, events.NewEvent(events.EventLoginFailed, username, events.LoginFailedPayload{
		Reason:   reason,
		Attempts: attempts,
	}))
	return ErrInvalidCredentials
}

func (s *AuthService) publish(ctx context.Context, event events.Event) {
	if err := s.dispatcher.Publish(ctx, event); err != nil {
		s.logger.Warn("event handler failed", zap.String("event", string(event.Type)), zap.Error(err))
	}
}

// Tokens exposes the token service for middleware usage.
func (s *AuthService) Tokens() *auth.TokenService {
	return s.tokens
}
