package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/raakeshmj/activationplane/internal/auth"
	"github.com/raakeshmj/activationplane/internal/db"
	"github.com/raakeshmj/activationplane/internal/nonce"
	"github.com/raakeshmj/activationplane/internal/repository"
)

// Protocol-level failures. Each is terminal for a single call and maps to a
// 400/401 response with success=false; the signature and nonce checks fail
// closed on any ambiguity.
var (
	ErrMissingFields    = errors.New("missing required fields")
	ErrInvalidTimestamp = errors.New("invalid timestamp")
	ErrUnknownAPIKey    = errors.New("invalid api key")
	ErrStaleRequest     = errors.New("request expired")
	ErrBadSignature     = errors.New("signature verification failed")
	ErrNonceReplayed    = errors.New("request already used")
)

// Outcome messages for the code state machine. These travel to callers, so
// they stay stable.
const (
	msgNotFound     = "activation code not found"
	msgAppMismatch  = "activation code does not match this app"
	msgUserMismatch = "activation code does not match this user"
	msgRevoked      = "activation code has been revoked"
	msgExpired      = "activation code has expired"
	msgActivated    = "activation code activated"
	msgValid        = "activation code valid"
)

// DefaultTimestampTolerance bounds the replay window: requests older or newer
// than this are rejected before the nonce is recorded.
const DefaultTimestampTolerance = 5 * time.Minute

type VerifyRequest struct {
	Code      string `json:"code"`
	AppName   string `json:"app_name"`
	UserName  string `json:"user_name"`
	Timestamp string `json:"timestamp"` // epoch millis, as signed by the client
	Nonce     string `json:"nonce"`
	Signature string `json:"signature"`
	APIKey    string `json:"api_key"`
}

// VerifyResult is the outcome of a well-formed, authenticated call. Valid is
// false for codes that are missing, mismatched, revoked or expired; the
// protocol call itself still succeeded.
type VerifyResult struct {
	Valid       bool
	Message     string
	ActivatedAt *time.Time
	ExpiredAt   *time.Time
}

// VerifyService orchestrates the signature engine, the nonce ledger and the
// code registry to answer "is this code valid for this app and user right now"
// and apply the resulting state transition.
type VerifyService struct {
	tenants   repository.TenantRepository
	codes     repository.CodeRepository
	ledger    nonce.Ledger
	tolerance time.Duration
	nonceTTL  time.Duration
	now       func() time.Time
}

func NewVerifyService(tenants repository.TenantRepository, codes repository.CodeRepository, ledger nonce.Ledger) *VerifyService {
	return &VerifyService{
		tenants:   tenants,
		codes:     codes,
		ledger:    ledger,
		tolerance: DefaultTimestampTolerance,
		nonceTTL:  nonce.DefaultTTL,
		now:       time.Now,
	}
}

// Configure overrides the timestamp tolerance and nonce TTL.
func (s *VerifyService) Configure(tolerance, nonceTTL time.Duration) {
	if tolerance > 0 {
		s.tolerance = tolerance
	}
	if nonceTTL > 0 {
		s.nonceTTL = nonceTTL
	}
}

// Verify runs the full pipeline in its contractual order: field presence,
// tenant resolution, timestamp freshness, signature, atomic nonce claim, then
// the state machine. The only persistent writes are the single-row transition
// in the registry and the nonce record.
func (s *VerifyService) Verify(ctx context.Context, req VerifyRequest) (*VerifyResult, error) {
	if req.Code == "" || req.AppName == "" || req.UserName == "" ||
		req.Timestamp == "" || req.Nonce == "" || req.Signature == "" || req.APIKey == "" {
		return nil, ErrMissingFields
	}

	tenant, err := s.tenants.GetTenantByAPIKey(ctx, req.APIKey)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUnknownAPIKey
		}
		return nil, fmt.Errorf("resolve tenant: %w", err)
	}

	// Freshness before anything else that has side effects: a stale request
	// must not record its nonce.
	ts, err := strconv.ParseInt(req.Timestamp, 10, 64)
	if err != nil {
		return nil, ErrInvalidTimestamp
	}
	if drift := s.now().Sub(time.UnixMilli(ts)); drift > s.tolerance || drift < -s.tolerance {
		return nil, ErrStaleRequest
	}

	signed := auth.VerificationString(req.Code, req.AppName, req.UserName, req.Timestamp, req.Nonce, tenant.APISecret)
	if !auth.VerifySignature(req.Signature, signed, tenant.APISecret) {
		return nil, ErrBadSignature
	}

	claimed, err := s.ledger.Claim(ctx, req.Nonce, s.nonceTTL)
	if err != nil {
		return nil, fmt.Errorf("nonce ledger: %w", err)
	}
	if !claimed {
		return nil, ErrNonceReplayed
	}

	return s.transition(ctx, req)
}

func invalid(message string) *VerifyResult {
	return &VerifyResult{Valid: false, Message: message}
}

// transition runs the registry state machine. All writes are conditional
// single-row updates; when a concurrent call wins a race the row is reloaded
// and re-evaluated, which terminates because status only moves forward.
func (s *VerifyService) transition(ctx context.Context, req VerifyRequest) (*VerifyResult, error) {
	rec, err := s.codes.GetByCode(ctx, req.Code)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return invalid(msgNotFound), nil
		}
		return nil, fmt.Errorf("load code: %w", err)
	}

	if rec.AppName != req.AppName {
		return invalid(msgAppMismatch), nil
	}
	if rec.UserName != req.UserName {
		return invalid(msgUserMismatch), nil
	}

	for attempt := 0; attempt < 3; attempt++ {
		switch rec.Status {
		case db.StatusRevoked:
			return invalid(msgRevoked), nil

		case db.StatusExpired:
			return invalid(msgExpired), nil

		case db.StatusPending:
			now := s.now()
			expiresAt := now.Add(rec.Duration())
			applied, err := s.codes.Activate(ctx, rec.ID, now, expiresAt)
			if err != nil {
				return nil, fmt.Errorf("activate code: %w", err)
			}
			if applied {
				return &VerifyResult{
					Valid:       true,
					Message:     msgActivated,
					ActivatedAt: &now,
					ExpiredAt:   &expiresAt,
				}, nil
			}
			// Lost the activation race; fall through to reload.

		case db.StatusActivated:
			if rec.ExpiredAt != nil && rec.ExpiredAt.Before(s.now()) {
				// Lazy terminal discovery: write through, no counter bump.
				if _, err := s.codes.Expire(ctx, rec.ID); err != nil {
					return nil, fmt.Errorf("expire code: %w", err)
				}
				return invalid(msgExpired), nil
			}
			applied, err := s.codes.Touch(ctx, rec.ID)
			if err != nil {
				return nil, fmt.Errorf("count request: %w", err)
			}
			if applied {
				return &VerifyResult{
					Valid:       true,
					Message:     msgValid,
					ActivatedAt: rec.ActivatedAt,
					ExpiredAt:   rec.ExpiredAt,
				}, nil
			}
			// Row moved to a terminal state under us; reload.
		}

		rec, err = s.codes.GetByCode(ctx, req.Code)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return invalid(msgNotFound), nil
			}
			return nil, fmt.Errorf("reload code: %w", err)
		}
	}

	return nil, fmt.Errorf("code %s: transition contention not resolved", req.Code)
}
