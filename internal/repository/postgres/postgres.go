// Package postgres implements the repositories over a pgx connection pool.
// State transitions are conditional single-row updates guarded by the current
// status, so two verifications racing on one code cannot both apply a change.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/raakeshmj/activationplane/internal/db"
	"github.com/raakeshmj/activationplane/internal/repository"
)

const uniqueViolation = "23505"

type Store struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *Store) Close() { s.pool.Close() }

// Tenants

func (s *Store) CreateTenant(ctx context.Context, t *db.Tenant) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tenants (id, username, password_hash, api_key, api_secret, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, now(), now())`,
		t.ID, t.Username, t.PasswordHash, t.APIKey, t.APISecret,
	)
	return err
}

func (s *Store) CountTenants(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM tenants`).Scan(&n)
	return n, err
}

const tenantColumns = `id, username, password_hash, api_key, api_secret, created_at, updated_at`

func (s *Store) scanTenant(row pgx.Row) (*db.Tenant, error) {
	var t db.Tenant
	err := row.Scan(&t.ID, &t.Username, &t.PasswordHash, &t.APIKey, &t.APISecret, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

func (s *Store) GetTenantByID(ctx context.Context, id string) (*db.Tenant, error) {
	return s.scanTenant(s.pool.QueryRow(ctx,
		`SELECT `+tenantColumns+` FROM tenants WHERE id = $1`, id))
}

func (s *Store) GetTenantByUsername(ctx context.Context, username string) (*db.Tenant, error) {
	return s.scanTenant(s.pool.QueryRow(ctx,
		`SELECT `+tenantColumns+` FROM tenants WHERE username = $1`, username))
}

func (s *Store) GetTenantByAPIKey(ctx context.Context, apiKey string) (*db.Tenant, error) {
	return s.scanTenant(s.pool.QueryRow(ctx,
		`SELECT `+tenantColumns+` FROM tenants WHERE api_key = $1`, apiKey))
}

func (s *Store) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tenants SET password_hash = $1, updated_at = now() WHERE id = $2`,
		passwordHash, id,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (s *Store) UpdateKeys(ctx context.Context, id, apiKey, apiSecret string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tenants SET api_key = $1, api_secret = $2, updated_at = now() WHERE id = $3`,
		apiKey, apiSecret, id,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// Activation codes

const codeColumns = `id, code, tenant_id, app_name, user_name, status, duration_hours,
	activated_at, expired_at, request_count, remark, deleted_at, created_at, updated_at`

func scanCode(row pgx.Row) (*db.ActivationCode, error) {
	var c db.ActivationCode
	var remark *string
	err := row.Scan(&c.ID, &c.Code, &c.TenantID, &c.AppName, &c.UserName, &c.Status,
		&c.DurationHours, &c.ActivatedAt, &c.ExpiredAt, &c.RequestCount, &remark,
		&c.DeletedAt, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	if remark != nil {
		c.Remark = *remark
	}
	return &c, nil
}

func (s *Store) CreateCode(ctx context.Context, c *db.ActivationCode) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO activation_codes
			(id, code, tenant_id, app_name, user_name, status, duration_hours, remark, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), now(), now())`,
		c.ID, c.Code, c.TenantID, c.AppName, c.UserName, c.Status, c.DurationHours, c.Remark,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return repository.ErrDuplicateCode
	}
	return err
}

func (s *Store) GetByCode(ctx context.Context, code string) (*db.ActivationCode, error) {
	return scanCode(s.pool.QueryRow(ctx,
		`SELECT `+codeColumns+` FROM activation_codes WHERE code = $1 AND deleted_at IS NULL`, code))
}

func (s *Store) GetCodeByID(ctx context.Context, tenantID, id string) (*db.ActivationCode, error) {
	return scanCode(s.pool.QueryRow(ctx,
		`SELECT `+codeColumns+` FROM activation_codes
		 WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL`, id, tenantID))
}

func (s *Store) ListCodes(ctx context.Context, tenantID string, f repository.CodeFilter) ([]*db.ActivationCode, int, error) {
	where := `tenant_id = $1 AND deleted_at IS NULL`
	args := []any{tenantID}

	add := func(cond string, v any) {
		args = append(args, v)
		where += fmt.Sprintf(" AND "+cond, len(args))
	}
	if f.Code != "" {
		add("code ILIKE '%%' || $%d || '%%'", f.Code)
	}
	if f.AppName != "" {
		add("app_name ILIKE '%%' || $%d || '%%'", f.AppName)
	}
	if f.UserName != "" {
		add("user_name ILIKE '%%' || $%d || '%%'", f.UserName)
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if f.StartDate != nil {
		add("created_at >= $%d", *f.StartDate)
	}
	if f.EndDate != nil {
		add("created_at <= $%d", *f.EndDate)
	}

	var total int
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM activation_codes WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	page, pageSize := f.Page, f.PageSize
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 10
	}
	args = append(args, pageSize, (page-1)*pageSize)
	rows, err := s.pool.Query(ctx,
		`SELECT `+codeColumns+` FROM activation_codes WHERE `+where+
			fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args)),
		args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var list []*db.ActivationCode
	for rows.Next() {
		c, err := scanCode(rows)
		if err != nil {
			return nil, 0, err
		}
		list = append(list, c)
	}
	return list, total, rows.Err()
}

func (s *Store) Activate(ctx context.Context, id string, activatedAt, expiredAt time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE activation_codes
		   SET status = $1, activated_at = $2, expired_at = $3,
		       request_count = request_count + 1, updated_at = now()
		 WHERE id = $4 AND status = $5 AND deleted_at IS NULL`,
		db.StatusActivated, activatedAt, expiredAt, id, db.StatusPending,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) Touch(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE activation_codes
		   SET request_count = request_count + 1, updated_at = now()
		 WHERE id = $1 AND status = $2 AND deleted_at IS NULL`,
		id, db.StatusActivated,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) Expire(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE activation_codes
		   SET status = $1, updated_at = now()
		 WHERE id = $2 AND status = $3 AND deleted_at IS NULL`,
		db.StatusExpired, id, db.StatusActivated,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) RevokeCode(ctx context.Context, tenantID, id string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE activation_codes
		   SET status = $1, updated_at = now()
		 WHERE id = $2 AND tenant_id = $3 AND deleted_at IS NULL
		   AND status IN ($4, $5)`,
		db.StatusRevoked, id, tenantID, db.StatusPending, db.StatusActivated,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	// Nothing changed: distinguish missing row from terminal state.
	existing, err := s.GetCodeByID(ctx, tenantID, id)
	if err != nil {
		return err
	}
	if existing.Status == db.StatusRevoked {
		return repository.ErrAlreadyRevoked
	}
	return repository.ErrCodeTerminal
}

func (s *Store) SoftDeleteCode(ctx context.Context, tenantID, id string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE activation_codes
		   SET deleted_at = now(), updated_at = now()
		 WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL`,
		id, tenantID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// Operation logs

func (s *Store) RecordLog(ctx context.Context, e *db.OperationLog) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO operation_logs (id, tenant_id, action, target_type, target_id, details, ip, created_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, now())`,
		e.ID, e.TenantID, e.Action, e.TargetType, e.TargetID, e.Details, e.IP,
	)
	return err
}

var (
	_ repository.TenantRepository = (*Store)(nil)
	_ repository.CodeRepository   = (*Store)(nil)
	_ repository.LogRepository    = (*Store)(nil)
)
