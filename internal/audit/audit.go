// Package audit records the append-only operation log written by the admin
// surface. The verification path writes nothing here.
package audit

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/raakeshmj/activationplane/internal/db"
	"github.com/raakeshmj/activationplane/internal/repository"
)

const (
	ActionLogin            = "login"
	ActionGenerateCode     = "generate_code"
	ActionRevokeCode       = "revoke_code"
	ActionDeleteCode       = "delete_code"
	ActionRegenerateSecret = "regenerate_secret"

	TargetAdmin = "admin"
	TargetCode  = "activation_code"
)

// Recorder persists operation log entries. Failures are logged and swallowed:
// losing an audit row must not fail the admin action that produced it.
type Recorder struct {
	logs   repository.LogRepository
	logger *zap.Logger
}

func NewRecorder(logs repository.LogRepository, logger *zap.Logger) *Recorder {
	return &Recorder{logs: logs, logger: logger}
}

func (r *Recorder) Record(ctx context.Context, tenantID, action, targetType, targetID string, details map[string]any, ip string) {
	var payload json.RawMessage
	if details != nil {
		b, err := json.Marshal(details)
		if err != nil {
			r.logger.Warn("audit details not serializable", zap.String("action", action), zap.Error(err))
		} else {
			payload = b
		}
	}

	entry := &db.OperationLog{
		ID:         uuid.NewString(),
		TenantID:   tenantID,
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID,
		Details:    payload,
		IP:         ip,
	}
	if err := r.logs.RecordLog(ctx, entry); err != nil {
		r.logger.Warn("operation log write failed",
			zap.String("action", action),
			zap.String("tenant_id", tenantID),
			zap.Error(err))
	}
}
