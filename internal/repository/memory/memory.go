// Package memory implements the repositories as a mutex-guarded in-process
// store. It exists for unit tests and local development; the state-machine
// semantics match the postgres implementation exactly.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/raakeshmj/activationplane/internal/db"
	"github.com/raakeshmj/activationplane/internal/repository"
)

type Repository struct {
	tenants map[string]*db.Tenant         // id -> tenant
	codes   map[string]*db.ActivationCode // id -> code
	logs    []*db.OperationLog
	mu      sync.RWMutex
}

func New() *Repository {
	return &Repository{
		tenants: make(map[string]*db.Tenant),
		codes:   make(map[string]*db.ActivationCode),
	}
}

// Tenants

func (r *Repository) CreateTenant(ctx context.Context, t *db.Tenant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	cp := *t
	cp.CreatedAt, cp.UpdatedAt = now, now
	r.tenants[t.ID] = &cp
	return nil
}

func (r *Repository) CountTenants(ctx context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tenants), nil
}

func (r *Repository) GetTenantByID(ctx context.Context, id string) (*db.Tenant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if t, ok := r.tenants[id]; ok {
		cp := *t
		return &cp, nil
	}
	return nil, repository.ErrNotFound
}

func (r *Repository) GetTenantByUsername(ctx context.Context, username string) (*db.Tenant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.tenants {
		if t.Username == username {
			cp := *t
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *Repository) GetTenantByAPIKey(ctx context.Context, apiKey string) (*db.Tenant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.tenants {
		if t.APIKey == apiKey {
			cp := *t
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *Repository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tenants[id]
	if !ok {
		return repository.ErrNotFound
	}
	t.PasswordHash = passwordHash
	t.UpdatedAt = time.Now()
	return nil
}

func (r *Repository) UpdateKeys(ctx context.Context, id, apiKey, apiSecret string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tenants[id]
	if !ok {
		return repository.ErrNotFound
	}
	t.APIKey, t.APISecret = apiKey, apiSecret
	t.UpdatedAt = time.Now()
	return nil
}

// Activation codes

func (r *Repository) CreateCode(ctx context.Context, c *db.ActivationCode) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.codes {
		if existing.Code == c.Code && existing.DeletedAt == nil {
			return repository.ErrDuplicateCode
		}
	}
	now := time.Now()
	cp := *c
	cp.CreatedAt, cp.UpdatedAt = now, now
	r.codes[c.ID] = &cp
	return nil
}

func (r *Repository) GetByCode(ctx context.Context, code string) (*db.ActivationCode, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.codes {
		if c.Code == code && c.DeletedAt == nil {
			cp := *c
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *Repository) GetCodeByID(ctx context.Context, tenantID, id string) (*db.ActivationCode, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.codes[id]
	if !ok || c.TenantID != tenantID || c.DeletedAt != nil {
		return nil, repository.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *Repository) ListCodes(ctx context.Context, tenantID string, f repository.CodeFilter) ([]*db.ActivationCode, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []*db.ActivationCode
	for _, c := range r.codes {
		if c.TenantID != tenantID || c.DeletedAt != nil {
			continue
		}
		if f.Code != "" && !strings.Contains(strings.ToLower(c.Code), strings.ToLower(f.Code)) {
			continue
		}
		if f.AppName != "" && !strings.Contains(strings.ToLower(c.AppName), strings.ToLower(f.AppName)) {
			continue
		}
		if f.UserName != "" && !strings.Contains(strings.ToLower(c.UserName), strings.ToLower(f.UserName)) {
			continue
		}
		if f.Status != "" && c.Status != f.Status {
			continue
		}
		if f.StartDate != nil && c.CreatedAt.Before(*f.StartDate) {
			continue
		}
		if f.EndDate != nil && c.CreatedAt.After(*f.EndDate) {
			continue
		}
		cp := *c
		matched = append(matched, &cp)
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	page, pageSize := f.Page, f.PageSize
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 10
	}
	start := (page - 1) * pageSize
	if start >= total {
		return nil, total, nil
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func (r *Repository) Activate(ctx context.Context, id string, activatedAt, expiredAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.codes[id]
	if !ok || c.DeletedAt != nil || c.Status != db.StatusPending {
		return false, nil
	}
	at, exp := activatedAt, expiredAt
	c.Status = db.StatusActivated
	c.ActivatedAt = &at
	c.ExpiredAt = &exp
	c.RequestCount++
	c.UpdatedAt = time.Now()
	return true, nil
}

func (r *Repository) Touch(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.codes[id]
	if !ok || c.DeletedAt != nil || c.Status != db.StatusActivated {
		return false, nil
	}
	c.RequestCount++
	c.UpdatedAt = time.Now()
	return true, nil
}

func (r *Repository) Expire(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.codes[id]
	if !ok || c.DeletedAt != nil || c.Status != db.StatusActivated {
		return false, nil
	}
	c.Status = db.StatusExpired
	c.UpdatedAt = time.Now()
	return true, nil
}

func (r *Repository) RevokeCode(ctx context.Context, tenantID, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.codes[id]
	if !ok || c.TenantID != tenantID || c.DeletedAt != nil {
		return repository.ErrNotFound
	}
	switch c.Status {
	case db.StatusRevoked:
		return repository.ErrAlreadyRevoked
	case db.StatusExpired:
		return repository.ErrCodeTerminal
	}
	c.Status = db.StatusRevoked
	c.UpdatedAt = time.Now()
	return nil
}

func (r *Repository) SoftDeleteCode(ctx context.Context, tenantID, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.codes[id]
	if !ok || c.TenantID != tenantID || c.DeletedAt != nil {
		return repository.ErrNotFound
	}
	now := time.Now()
	c.DeletedAt = &now
	c.UpdatedAt = now
	return nil
}

// Operation logs

func (r *Repository) RecordLog(ctx context.Context, e *db.OperationLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *e
	cp.CreatedAt = time.Now()
	r.logs = append(r.logs, &cp)
	return nil
}

// Logs returns a snapshot of recorded entries, oldest first. Test helper.
func (r *Repository) Logs() []*db.OperationLog {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*db.OperationLog, len(r.logs))
	copy(out, r.logs)
	return out
}

var (
	_ repository.TenantRepository = (*Repository)(nil)
	_ repository.CodeRepository   = (*Repository)(nil)
	_ repository.LogRepository    = (*Repository)(nil)
)
