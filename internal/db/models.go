package db

import (
	"encoding/json"
	"time"
)

// CodeStatus is the lifecycle state of an activation code.
// Transitions only move forward: pending -> activated -> expired, with
// revoked reachable from pending or activated. Expired and revoked are terminal.
type CodeStatus string

const (
	StatusPending   CodeStatus = "pending"
	StatusActivated CodeStatus = "activated"
	StatusExpired   CodeStatus = "expired"
	StatusRevoked   CodeStatus = "revoked"
)

// Tenant is an administrator account owning a namespace of activation codes
// and a signing key pair for the consumer verification API.
type Tenant struct {
	ID           string    `json:"id" db:"id"`
	Username     string    `json:"username" db:"username"`
	PasswordHash string    `json:"-" db:"password_hash"` // salt:hex, PBKDF2-SHA256
	APIKey       string    `json:"api_key" db:"api_key"`
	APISecret    string    `json:"-" db:"api_secret"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// ActivationCode is a time-boxed code issued to an end user of a third-party app.
// ActivatedAt and ExpiredAt stay nil until the first successful verification;
// once set, ExpiredAt = ActivatedAt + DurationHours and is never recomputed.
type ActivationCode struct {
	ID            string     `json:"id" db:"id"`
	Code          string     `json:"code" db:"code"` // 6 mixed-case letters, unique among live rows
	TenantID      string     `json:"tenant_id" db:"tenant_id"`
	AppName       string     `json:"app_name" db:"app_name"`
	UserName      string     `json:"user_name" db:"user_name"`
	Status        CodeStatus `json:"status" db:"status"`
	DurationHours int        `json:"duration_hours" db:"duration_hours"`
	ActivatedAt   *time.Time `json:"activated_at" db:"activated_at"`
	ExpiredAt     *time.Time `json:"expired_at" db:"expired_at"`
	RequestCount  int64      `json:"request_count" db:"request_count"`
	Remark        string     `json:"remark,omitempty" db:"remark"`
	DeletedAt     *time.Time `json:"-" db:"deleted_at"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`
}

// Duration converts the fixed hour budget into a time.Duration.
func (c *ActivationCode) Duration() time.Duration {
	return time.Duration(c.DurationHours) * time.Hour
}

// OperationLog is an append-only audit entry written for mutating admin
// actions. The verification path writes none.
type OperationLog struct {
	ID         string          `json:"id" db:"id"`
	TenantID   string          `json:"tenant_id" db:"tenant_id"`
	Action     string          `json:"action" db:"action"`
	TargetType string          `json:"target_type" db:"target_type"`
	TargetID   string          `json:"target_id,omitempty" db:"target_id"`
	Details    json.RawMessage `json:"details,omitempty" db:"details"`
	IP         string          `json:"ip" db:"ip"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
}
