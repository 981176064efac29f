package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/raakeshmj/activationplane/internal/auth"
	"github.com/raakeshmj/activationplane/internal/db"
	"github.com/raakeshmj/activationplane/internal/repository"
)

var (
	ErrAlreadyInitialized = errors.New("system already initialized")
	ErrWeakPassword       = errors.New("password must be at least 6 characters")
	ErrBadCredentials     = errors.New("invalid username or password")
	ErrBadOldPassword     = errors.New("old password is incorrect")
)

// AdminService handles tenant credentials: bootstrap, login, password change
// and API key pair regeneration.
type AdminService struct {
	tenants repository.TenantRepository
	tokens  *auth.TokenManager
}

func NewAdminService(tenants repository.TenantRepository, tokens *auth.TokenManager) *AdminService {
	return &AdminService{tenants: tenants, tokens: tokens}
}

// Bootstrap creates the first tenant. Refused once any tenant exists; there is
// no self-service signup beyond this.
func (s *AdminService) Bootstrap(ctx context.Context, username, password string) (*db.Tenant, error) {
	count, err := s.tenants.CountTenants(ctx)
	if err != nil {
		return nil, fmt.Errorf("count tenants: %w", err)
	}
	if count > 0 {
		return nil, ErrAlreadyInitialized
	}
	if username == "" || password == "" {
		return nil, ErrBadCredentials
	}
	if len(password) < 6 {
		return nil, ErrWeakPassword
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	apiKey, err := auth.GenerateAPIKey()
	if err != nil {
		return nil, err
	}
	apiSecret, err := auth.GenerateAPISecret()
	if err != nil {
		return nil, err
	}

	t := &db.Tenant{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: hash,
		APIKey:       apiKey,
		APISecret:    apiSecret,
	}
	if err := s.tenants.CreateTenant(ctx, t); err != nil {
		return nil, fmt.Errorf("create tenant: %w", err)
	}
	return t, nil
}

// Login verifies the password and issues a session token. The same error
// covers unknown user and wrong password.
func (s *AdminService) Login(ctx context.Context, username, password string) (string, *db.Tenant, error) {
	if username == "" || password == "" {
		return "", nil, ErrBadCredentials
	}
	t, err := s.tenants.GetTenantByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", nil, ErrBadCredentials
		}
		return "", nil, fmt.Errorf("load tenant: %w", err)
	}
	if !auth.CheckPasswordHash(password, t.PasswordHash) {
		return "", nil, ErrBadCredentials
	}

	token, err := s.tokens.Generate(t.ID, t.Username)
	if err != nil {
		return "", nil, fmt.Errorf("issue token: %w", err)
	}
	return token, t, nil
}

func (s *AdminService) ChangePassword(ctx context.Context, tenantID, oldPassword, newPassword string) error {
	if oldPassword == "" || newPassword == "" {
		return ErrBadCredentials
	}
	if len(newPassword) < 6 {
		return ErrWeakPassword
	}
	t, err := s.tenants.GetTenantByID(ctx, tenantID)
	if err != nil {
		return err
	}
	if !auth.CheckPasswordHash(oldPassword, t.PasswordHash) {
		return ErrBadOldPassword
	}
	hash, err := auth.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	return s.tenants.UpdatePassword(ctx, tenantID, hash)
}

// Keys returns the tenant's current pair for display in the admin surface.
func (s *AdminService) Keys(ctx context.Context, tenantID string) (apiKey, apiSecret string, err error) {
	t, err := s.tenants.GetTenantByID(ctx, tenantID)
	if err != nil {
		return "", "", err
	}
	return t.APIKey, t.APISecret, nil
}

// RegenerateKeys replaces the pair in one atomic row update. Every signature
// issued under the old secret is invalid immediately; there is no grace period
// and no in-memory cache of secrets to invalidate.
func (s *AdminService) RegenerateKeys(ctx context.Context, tenantID string) (apiKey, apiSecret string, err error) {
	apiKey, err = auth.GenerateAPIKey()
	if err != nil {
		return "", "", err
	}
	apiSecret, err = auth.GenerateAPISecret()
	if err != nil {
		return "", "", err
	}
	if err := s.tenants.UpdateKeys(ctx, tenantID, apiKey, apiSecret); err != nil {
		return "", "", err
	}
	return apiKey, apiSecret, nil
}
