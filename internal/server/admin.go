package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/raakeshmj/activationplane/internal/audit"
	"github.com/raakeshmj/activationplane/internal/db"
	"github.com/raakeshmj/activationplane/internal/middleware"
	"github.com/raakeshmj/activationplane/internal/repository"
	"github.com/raakeshmj/activationplane/internal/service"
)

// InitHandler bootstraps the first tenant. Open only while no tenant exists.
func (s *Server) InitHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		fail(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	tenant, err := s.adminSvc.Bootstrap(r.Context(), req.Username, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrAlreadyInitialized):
			fail(w, http.StatusForbidden, err.Error())
		case errors.Is(err, service.ErrWeakPassword), errors.Is(err, service.ErrBadCredentials):
			fail(w, http.StatusBadRequest, err.Error())
		default:
			s.logger.Error("bootstrap failed", zap.Error(err))
			fail(w, http.StatusInternalServerError, "initialization failed")
		}
		return
	}

	ok(w, map[string]string{
		"username": tenant.Username,
		"api_key":  tenant.APIKey,
	}, "administrator created")
}

func (s *Server) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		fail(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	token, tenant, err := s.adminSvc.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrBadCredentials) {
			fail(w, http.StatusUnauthorized, err.Error())
			return
		}
		s.logger.Error("login failed", zap.Error(err))
		fail(w, http.StatusInternalServerError, "login failed")
		return
	}

	s.recorder.Record(r.Context(), tenant.ID, audit.ActionLogin, audit.TargetAdmin, tenant.ID,
		map[string]any{"username": tenant.Username}, clientIP(r))

	ok(w, map[string]any{
		"token": token,
		"admin": map[string]string{"id": tenant.ID, "username": tenant.Username},
	}, "")
}

func (s *Server) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	// Stateless sessions: nothing to revoke server side.
	ok(w, nil, "logged out")
}

func (s *Server) ChangePasswordHandler(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := middleware.TenantID(r.Context())

	var req struct {
		OldPassword string `json:"oldPassword"`
		NewPassword string `json:"newPassword"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		fail(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	err := s.adminSvc.ChangePassword(r.Context(), tenantID, req.OldPassword, req.NewPassword)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrBadOldPassword):
			fail(w, http.StatusUnauthorized, err.Error())
		case errors.Is(err, service.ErrWeakPassword), errors.Is(err, service.ErrBadCredentials):
			fail(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, repository.ErrNotFound):
			fail(w, http.StatusNotFound, "administrator not found")
		default:
			s.logger.Error("password change failed", zap.Error(err))
			fail(w, http.StatusInternalServerError, "password change failed")
		}
		return
	}

	ok(w, nil, "password changed")
}

func (s *Server) GetKeysHandler(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := middleware.TenantID(r.Context())

	apiKey, apiSecret, err := s.adminSvc.Keys(r.Context(), tenantID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			fail(w, http.StatusNotFound, "administrator not found")
			return
		}
		s.logger.Error("key lookup failed", zap.Error(err))
		fail(w, http.StatusInternalServerError, "key lookup failed")
		return
	}

	ok(w, map[string]string{"api_key": apiKey, "api_secret": apiSecret}, "")
}

// RegenerateKeysHandler overwrites the key pair atomically. Every signature
// under the old secret is dead the moment this returns.
func (s *Server) RegenerateKeysHandler(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := middleware.TenantID(r.Context())

	apiKey, apiSecret, err := s.adminSvc.RegenerateKeys(r.Context(), tenantID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			fail(w, http.StatusNotFound, "administrator not found")
			return
		}
		s.logger.Error("key regeneration failed", zap.Error(err))
		fail(w, http.StatusInternalServerError, "key regeneration failed")
		return
	}

	s.recorder.Record(r.Context(), tenantID, audit.ActionRegenerateSecret, audit.TargetAdmin, tenantID,
		map[string]any{"message": "api key pair regenerated"}, clientIP(r))

	ok(w, map[string]string{"api_key": apiKey, "api_secret": apiSecret}, "api key pair regenerated")
}

func (s *Server) CreateCodeHandler(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := middleware.TenantID(r.Context())

	var req struct {
		AppName       string `json:"app_name"`
		UserName      string `json:"user_name"`
		DurationHours int    `json:"duration_hours"`
		Remark        string `json:"remark"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		fail(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	code, err := s.codeSvc.Create(r.Context(), tenantID, req.AppName, req.UserName, req.DurationHours, req.Remark)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidCodeInput), errors.Is(err, service.ErrInvalidDuration):
			fail(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, service.ErrCodeSpaceExhausted):
			fail(w, http.StatusInternalServerError, err.Error())
		default:
			s.logger.Error("code creation failed", zap.Error(err))
			fail(w, http.StatusInternalServerError, "code creation failed")
		}
		return
	}

	s.recorder.Record(r.Context(), tenantID, audit.ActionGenerateCode, audit.TargetCode, code.ID,
		map[string]any{
			"code":           code.Code,
			"app_name":       code.AppName,
			"user_name":      code.UserName,
			"duration_hours": code.DurationHours,
		}, clientIP(r))

	ok(w, toCodeView(code), "")
}

func (s *Server) ListCodesHandler(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := middleware.TenantID(r.Context())
	q := r.URL.Query()

	f := repository.CodeFilter{
		Code:     q.Get("code"),
		AppName:  q.Get("app_name"),
		UserName: q.Get("user_name"),
		Status:   db.CodeStatus(q.Get("status")),
		Page:     atoiDefault(q.Get("page"), 1),
		PageSize: atoiDefault(q.Get("pageSize"), 10),
	}
	if v := q.Get("start_date"); v != "" {
		if t, err := time.Parse("2006-01-02", v); err == nil {
			f.StartDate = &t
		}
	}
	if v := q.Get("end_date"); v != "" {
		if t, err := time.Parse("2006-01-02", v); err == nil {
			end := t.Add(24*time.Hour - time.Second)
			f.EndDate = &end
		}
	}

	list, total, err := s.codeSvc.List(r.Context(), tenantID, f)
	if err != nil {
		s.logger.Error("code listing failed", zap.Error(err))
		fail(w, http.StatusInternalServerError, "code listing failed")
		return
	}

	views := make([]codeView, 0, len(list))
	for _, c := range list {
		views = append(views, toCodeView(c))
	}
	totalPages := (total + f.PageSize - 1) / f.PageSize

	ok(w, map[string]any{
		"list": views,
		"pagination": map[string]int{
			"page":       f.Page,
			"pageSize":   f.PageSize,
			"total":      total,
			"totalPages": totalPages,
		},
	}, "")
}

func (s *Server) GetCodeHandler(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := middleware.TenantID(r.Context())

	code, err := s.codeSvc.Get(r.Context(), tenantID, r.PathValue("id"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			fail(w, http.StatusNotFound, "activation code not found")
			return
		}
		s.logger.Error("code lookup failed", zap.Error(err))
		fail(w, http.StatusInternalServerError, "code lookup failed")
		return
	}

	ok(w, toCodeView(code), "")
}

func (s *Server) RevokeCodeHandler(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := middleware.TenantID(r.Context())
	id := r.PathValue("id")

	err := s.codeSvc.Revoke(r.Context(), tenantID, id)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			fail(w, http.StatusNotFound, "activation code not found")
		case errors.Is(err, repository.ErrAlreadyRevoked):
			fail(w, http.StatusBadRequest, "activation code already revoked")
		case errors.Is(err, repository.ErrCodeTerminal):
			fail(w, http.StatusBadRequest, "activation code already expired")
		default:
			s.logger.Error("revocation failed", zap.Error(err))
			fail(w, http.StatusInternalServerError, "revocation failed")
		}
		return
	}

	s.recorder.Record(r.Context(), tenantID, audit.ActionRevokeCode, audit.TargetCode, id,
		nil, clientIP(r))

	ok(w, nil, "activation code revoked")
}

func (s *Server) DeleteCodeHandler(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := middleware.TenantID(r.Context())
	id := r.PathValue("id")

	err := s.codeSvc.SoftDelete(r.Context(), tenantID, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			fail(w, http.StatusNotFound, "activation code not found")
			return
		}
		s.logger.Error("deletion failed", zap.Error(err))
		fail(w, http.StatusInternalServerError, "deletion failed")
		return
	}

	s.recorder.Record(r.Context(), tenantID, audit.ActionDeleteCode, audit.TargetCode, id,
		nil, clientIP(r))

	ok(w, nil, "activation code deleted")
}

func atoiDefault(s string, fallback int) int {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return fallback
	}
	return n
}
