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
	ErrInvalidCodeInput = errors.New("app_name, user_name and duration_hours are required")
	ErrInvalidDuration  = errors.New("duration_hours must be positive")
	// ErrCodeSpaceExhausted is retryable: the generation loop hit its attempt
	// budget without finding an unused code.
	ErrCodeSpaceExhausted = errors.New("could not generate a unique activation code")
)

// maxGenerateAttempts bounds worst-case creation latency. With 52^6 possible
// codes, exhausting it means something is very wrong.
const maxGenerateAttempts = 10

// CodeService exposes the administrative data-access operations over the code
// registry. It shares the state-machine invariants with the verification path
// but is session-authenticated, not signature-authenticated.
type CodeService struct {
	codes repository.CodeRepository
}

func NewCodeService(codes repository.CodeRepository) *CodeService {
	return &CodeService{codes: codes}
}

// Create issues a new pending code for the tenant. Uniqueness among live rows
// is enforced by the store; generation retries on collision.
func (s *CodeService) Create(ctx context.Context, tenantID, appName, userName string, durationHours int, remark string) (*db.ActivationCode, error) {
	if appName == "" || userName == "" {
		return nil, ErrInvalidCodeInput
	}
	if durationHours <= 0 {
		return nil, ErrInvalidDuration
	}

	for attempt := 0; attempt < maxGenerateAttempts; attempt++ {
		code, err := auth.GenerateActivationCode()
		if err != nil {
			return nil, fmt.Errorf("generate code: %w", err)
		}

		rec := &db.ActivationCode{
			ID:            uuid.NewString(),
			Code:          code,
			TenantID:      tenantID,
			AppName:       appName,
			UserName:      userName,
			Status:        db.StatusPending,
			DurationHours: durationHours,
			Remark:        remark,
		}
		err = s.codes.CreateCode(ctx, rec)
		if err == nil {
			return rec, nil
		}
		if errors.Is(err, repository.ErrDuplicateCode) {
			continue
		}
		return nil, fmt.Errorf("store code: %w", err)
	}
	return nil, ErrCodeSpaceExhausted
}

func (s *CodeService) List(ctx context.Context, tenantID string, f repository.CodeFilter) ([]*db.ActivationCode, int, error) {
	return s.codes.ListCodes(ctx, tenantID, f)
}

func (s *CodeService) Get(ctx context.Context, tenantID, id string) (*db.ActivationCode, error) {
	return s.codes.GetCodeByID(ctx, tenantID, id)
}

// Revoke is a terminal override from pending or activated. Revoking an
// already-revoked or expired code is an error and leaves state unchanged.
func (s *CodeService) Revoke(ctx context.Context, tenantID, id string) error {
	return s.codes.RevokeCode(ctx, tenantID, id)
}

// SoftDelete sets deleted_at without altering status; the row stays for audit
// but disappears from verification and listings.
func (s *CodeService) SoftDelete(ctx context.Context, tenantID, id string) error {
	return s.codes.SoftDeleteCode(ctx, tenantID, id)
}
