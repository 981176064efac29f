package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raakeshmj/activationplane/internal/db"
	"github.com/raakeshmj/activationplane/internal/repository"
	"github.com/raakeshmj/activationplane/internal/repository/memory"
)

func TestCodeServiceCreate(t *testing.T) {
	repo := memory.New()
	svc := NewCodeService(repo)
	ctx := context.Background()
	tenantID := uuid.NewString()

	code, err := svc.Create(ctx, tenantID, "myapp", "alice", 24, "trial license")
	require.NoError(t, err)

	assert.Len(t, code.Code, 6)
	assert.Equal(t, db.StatusPending, code.Status)
	assert.Equal(t, 24, code.DurationHours)
	assert.Equal(t, "trial license", code.Remark)
	assert.Nil(t, code.ActivatedAt)
	assert.Nil(t, code.ExpiredAt)
	assert.Zero(t, code.RequestCount)

	stored, err := repo.GetCodeByID(ctx, tenantID, code.ID)
	require.NoError(t, err)
	assert.Equal(t, code.Code, stored.Code)
}

func TestCodeServiceCreateValidation(t *testing.T) {
	svc := NewCodeService(memory.New())
	ctx := context.Background()

	_, err := svc.Create(ctx, "t1", "", "alice", 24, "")
	assert.ErrorIs(t, err, ErrInvalidCodeInput)

	_, err = svc.Create(ctx, "t1", "myapp", "", 24, "")
	assert.ErrorIs(t, err, ErrInvalidCodeInput)

	_, err = svc.Create(ctx, "t1", "myapp", "alice", 0, "")
	assert.ErrorIs(t, err, ErrInvalidDuration)

	_, err = svc.Create(ctx, "t1", "myapp", "alice", -5, "")
	assert.ErrorIs(t, err, ErrInvalidDuration)
}

// collidingRepo forces duplicate-code errors for a set number of attempts.
type collidingRepo struct {
	repository.CodeRepository
	collisions int
	attempts   int
}

func (r *collidingRepo) CreateCode(ctx context.Context, c *db.ActivationCode) error {
	r.attempts++
	if r.attempts <= r.collisions {
		return repository.ErrDuplicateCode
	}
	return r.CodeRepository.CreateCode(ctx, c)
}

func TestCodeServiceCreateRetriesOnCollision(t *testing.T) {
	repo := &collidingRepo{CodeRepository: memory.New(), collisions: 3}
	svc := NewCodeService(repo)

	code, err := svc.Create(context.Background(), "t1", "myapp", "alice", 1, "")
	require.NoError(t, err)
	assert.NotNil(t, code)
	assert.Equal(t, 4, repo.attempts)
}

func TestCodeServiceCreateExhaustsRetryBudget(t *testing.T) {
	repo := &collidingRepo{CodeRepository: memory.New(), collisions: 100}
	svc := NewCodeService(repo)

	_, err := svc.Create(context.Background(), "t1", "myapp", "alice", 1, "")
	assert.ErrorIs(t, err, ErrCodeSpaceExhausted)
	assert.Equal(t, 10, repo.attempts, "generation is bounded at 10 attempts")
}

func TestCodeServiceRevokeIdempotenceError(t *testing.T) {
	repo := memory.New()
	svc := NewCodeService(repo)
	ctx := context.Background()
	tenantID := uuid.NewString()

	code, err := svc.Create(ctx, tenantID, "myapp", "alice", 24, "")
	require.NoError(t, err)

	require.NoError(t, svc.Revoke(ctx, tenantID, code.ID))

	stored, err := repo.GetCodeByID(ctx, tenantID, code.ID)
	require.NoError(t, err)
	assert.Equal(t, db.StatusRevoked, stored.Status)

	// Second revocation is an error and leaves state unchanged.
	err = svc.Revoke(ctx, tenantID, code.ID)
	assert.ErrorIs(t, err, repository.ErrAlreadyRevoked)

	stored, err = repo.GetCodeByID(ctx, tenantID, code.ID)
	require.NoError(t, err)
	assert.Equal(t, db.StatusRevoked, stored.Status)
}

func TestCodeServiceSoftDelete(t *testing.T) {
	repo := memory.New()
	svc := NewCodeService(repo)
	ctx := context.Background()
	tenantID := uuid.NewString()

	code, err := svc.Create(ctx, tenantID, "myapp", "alice", 24, "")
	require.NoError(t, err)

	require.NoError(t, svc.SoftDelete(ctx, tenantID, code.ID))

	_, err = svc.Get(ctx, tenantID, code.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	_, err = repo.GetByCode(ctx, code.Code)
	assert.ErrorIs(t, err, repository.ErrNotFound, "deleted codes are invisible to verification")

	_, total, err := svc.List(ctx, tenantID, repository.CodeFilter{})
	require.NoError(t, err)
	assert.Zero(t, total, "deleted codes drop out of listings")
}

func TestCodeServiceListFilters(t *testing.T) {
	repo := memory.New()
	svc := NewCodeService(repo)
	ctx := context.Background()
	tenantID := uuid.NewString()

	a, err := svc.Create(ctx, tenantID, "appA", "alice", 24, "")
	require.NoError(t, err)
	_, err = svc.Create(ctx, tenantID, "appB", "bob", 48, "")
	require.NoError(t, err)
	_, err = svc.Create(ctx, uuid.NewString(), "appA", "carol", 24, "")
	require.NoError(t, err)

	list, total, err := svc.List(ctx, tenantID, repository.CodeFilter{})
	require.NoError(t, err)
	assert.Equal(t, 2, total, "listing is tenant-scoped")
	assert.Len(t, list, 2)

	list, total, err = svc.List(ctx, tenantID, repository.CodeFilter{AppName: "appA"})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, list, 1)
	assert.Equal(t, a.ID, list[0].ID)

	list, total, err = svc.List(ctx, tenantID, repository.CodeFilter{Status: db.StatusPending, PageSize: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, list, 1, "pagination caps the page")
}
