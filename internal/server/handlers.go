package server

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/raakeshmj/activationplane/internal/db"
	"github.com/raakeshmj/activationplane/internal/service"
)

type verifyData struct {
	ActivatedAt string `json:"activated_at"`
	ExpiredAt   string `json:"expired_at"`
}

type verifyResponse struct {
	Success bool        `json:"success"`
	Valid   *bool       `json:"valid,omitempty"`
	Message string      `json:"message,omitempty"`
	Data    *verifyData `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func fail(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"success": false, "message": message})
}

func ok(w http.ResponseWriter, data any, message string) {
	resp := map[string]any{"success": true}
	if message != "" {
		resp["message"] = message
	}
	if data != nil {
		resp["data"] = data
	}
	writeJSON(w, http.StatusOK, resp)
}

// clientIP prefers the forwarding header set by the edge proxy.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if first, _, found := strings.Cut(fwd, ","); found || first != "" {
			return strings.TrimSpace(first)
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return "unknown"
	}
	return host
}

func isoTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// VerifyHandler is the signature-authenticated consumer endpoint. A 200 with
// valid=false means the protocol call succeeded but the code is not usable;
// only malformed, unauthenticated or replayed requests get success=false.
func (s *Server) VerifyHandler(w http.ResponseWriter, r *http.Request) {
	var req service.VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		fail(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	res, err := s.verifySvc.Verify(r.Context(), req)
	if err != nil {
		s.collector.RecordOutcome("rejected")
		switch {
		case errors.Is(err, service.ErrMissingFields),
			errors.Is(err, service.ErrInvalidTimestamp),
			errors.Is(err, service.ErrStaleRequest),
			errors.Is(err, service.ErrNonceReplayed):
			fail(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, service.ErrUnknownAPIKey),
			errors.Is(err, service.ErrBadSignature):
			fail(w, http.StatusUnauthorized, err.Error())
		default:
			s.logger.Error("verification failed", zap.Error(err))
			fail(w, http.StatusInternalServerError, "verification failed")
		}
		return
	}

	if res.Valid {
		s.collector.RecordOutcome("valid")
	} else {
		s.collector.RecordOutcome("invalid")
	}

	resp := verifyResponse{Success: true, Valid: &res.Valid, Message: res.Message}
	if res.ActivatedAt != nil && res.ExpiredAt != nil {
		resp.Data = &verifyData{
			ActivatedAt: isoTime(res.ActivatedAt),
			ExpiredAt:   isoTime(res.ExpiredAt),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// codeView shapes an activation code for admin responses.
type codeView struct {
	ID            string `json:"id"`
	Code          string `json:"code"`
	AppName       string `json:"app_name"`
	UserName      string `json:"user_name"`
	Status        string `json:"status"`
	DurationHours int    `json:"duration_hours"`
	ActivatedAt   string `json:"activated_at,omitempty"`
	ExpiredAt     string `json:"expired_at,omitempty"`
	RequestCount  int64  `json:"request_count"`
	Remark        string `json:"remark,omitempty"`
	CreatedAt     string `json:"created_at"`
}

func toCodeView(c *db.ActivationCode) codeView {
	return codeView{
		ID:            c.ID,
		Code:          c.Code,
		AppName:       c.AppName,
		UserName:      c.UserName,
		Status:        string(c.Status),
		DurationHours: c.DurationHours,
		ActivatedAt:   isoTime(c.ActivatedAt),
		ExpiredAt:     isoTime(c.ExpiredAt),
		RequestCount:  c.RequestCount,
		Remark:        c.Remark,
		CreatedAt:     c.CreatedAt.UTC().Format(time.RFC3339),
	}
}
