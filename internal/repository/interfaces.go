package repository

import (
	"context"
	"errors"
	"time"

	"github.com/raakeshmj/activationplane/internal/db"
)

var (
	ErrNotFound       = errors.New("record not found")
	ErrDuplicateCode  = errors.New("activation code already exists")
	ErrAlreadyRevoked = errors.New("activation code already revoked")
	ErrCodeTerminal   = errors.New("activation code in terminal state")
)

// CodeFilter narrows listings. Zero values mean "no constraint".
type CodeFilter struct {
	Code      string
	AppName   string
	UserName  string
	Status    db.CodeStatus
	StartDate *time.Time
	EndDate   *time.Time
	Page      int
	PageSize  int
}

type TenantRepository interface {
	CreateTenant(ctx context.Context, t *db.Tenant) error
	CountTenants(ctx context.Context) (int, error)
	GetTenantByID(ctx context.Context, id string) (*db.Tenant, error)
	GetTenantByUsername(ctx context.Context, username string) (*db.Tenant, error)
	GetTenantByAPIKey(ctx context.Context, apiKey string) (*db.Tenant, error)
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	// UpdateKeys overwrites api_key and api_secret in one atomic row update;
	// signatures under the old secret are invalid the moment it commits.
	UpdateKeys(ctx context.Context, id, apiKey, apiSecret string) error
}

// CodeRepository persists activation codes. The three transition methods
// (Activate, Touch, Expire) are conditional single-row updates keyed on the
// current status, so concurrent verifications racing on one row serialize in
// the store: the boolean reports whether this caller applied the change.
type CodeRepository interface {
	CreateCode(ctx context.Context, c *db.ActivationCode) error
	// GetByCode excludes soft-deleted rows; used by the verification path.
	GetByCode(ctx context.Context, code string) (*db.ActivationCode, error)
	GetCodeByID(ctx context.Context, tenantID, id string) (*db.ActivationCode, error)
	ListCodes(ctx context.Context, tenantID string, f CodeFilter) ([]*db.ActivationCode, int, error)

	// Activate moves pending -> activated, stamps both timestamps and counts
	// the request. Applies only if the row is still pending.
	Activate(ctx context.Context, id string, activatedAt, expiredAt time.Time) (bool, error)
	// Touch counts one more successful verification of an activated code.
	Touch(ctx context.Context, id string) (bool, error)
	// Expire applies the lazy activated -> expired transition.
	Expire(ctx context.Context, id string) (bool, error)

	RevokeCode(ctx context.Context, tenantID, id string) error
	SoftDeleteCode(ctx context.Context, tenantID, id string) error
}

type LogRepository interface {
	RecordLog(ctx context.Context, e *db.OperationLog) error
}
