package parking

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/vialibre/vialibre/internal/authz"
	"github.com/vialibre/vialibre/internal/registry"
	"github.com/vialibre/vialibre/internal/shared"
)

// Handler wires HTTP endpoints for the session lifecycle.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	gate      authz.Middleware
	idem      *shared.IdempotencyStore
	validator *validator.Validate
}

// NewHandler constructs a Handler instance. idem may be nil.
func NewHandler(logger *slog.Logger, service *Service, gate authz.Middleware, idem *shared.IdempotencyStore) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		gate:      gate,
		idem:      idem,
		validator: validator.New(),
	}
}

// MountRoutes registers session routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.gate.RequireAuthenticated())
		r.Post("/", h.handleOpen)
		r.Get("/", h.handleHistory)
		r.Get("/{sessionID}", h.handleGet)
		r.Post("/{sessionID}/finalize", h.handleFinalize)
		r.Post("/finalize", h.handleFinalizeByPlate)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.gate.RequireAny(authz.RoleVendor, authz.RoleInspector, authz.RoleAdmin))
		r.Post("/prepaid", h.handleOpenPrepaid)
	})
}

type openRequest struct {
	Plate  string `json:"plate" validate:"required,max=12"`
	ZoneID int64  `json:"zone_id" validate:"required,gt=0"`
}

type openPrepaidRequest struct {
	Plate  string `json:"plate" validate:"required,max=12"`
	ZoneID int64  `json:"zone_id" validate:"required,gt=0"`
	Hours  int    `json:"hours" validate:"required,gt=0"`
}

type finalizeByPlateRequest struct {
	Plate string `json:"plate" validate:"required,max=12"`
}

type sessionResponse struct {
	ID           int64      `json:"id"`
	VehicleID    int64      `json:"vehicle_id"`
	ZoneID       int64      `json:"zone_id"`
	RegisteredBy int64      `json:"registered_by"`
	StartedAt    time.Time  `json:"started_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
	Cost         float64    `json:"cost"`
	Active       bool       `json:"active"`
	Prepaid      bool       `json:"prepaid"`
}

func toSessionResponse(s *Session) sessionResponse {
	return sessionResponse{
		ID:           s.ID,
		VehicleID:    s.VehicleID,
		ZoneID:       s.ZoneID,
		RegisteredBy: s.RegisteredBy,
		StartedAt:    s.StartedAt,
		EndedAt:      s.EndedAt,
		Cost:         s.Cost,
		Active:       s.Active,
		Prepaid:      s.Prepaid,
	}
}

type finalizeResponse struct {
	Session          sessionResponse `json:"session"`
	Charged          float64         `json:"charged"`
	NewBalance       float64         `json:"new_balance,omitempty"`
	AlreadyFinalized bool            `json:"already_finalized"`
	Debited          bool            `json:"debited"`
}

func (h *Handler) handleOpen(w http.ResponseWriter, r *http.Request) {
	var req openRequest
	if !h.decode(w, r, &req) {
		return
	}
	if !h.checkIdempotency(w, r) {
		return
	}
	principal := authz.PrincipalFromContext(r.Context())
	session, err := h.service.Open(r.Context(), principal, req.Plate, req.ZoneID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"session": toSessionResponse(session)})
}

func (h *Handler) handleOpenPrepaid(w http.ResponseWriter, r *http.Request) {
	var req openPrepaidRequest
	if !h.decode(w, r, &req) {
		return
	}
	if !h.checkIdempotency(w, r) {
		return
	}
	principal := authz.PrincipalFromContext(r.Context())
	session, err := h.service.OpenPrepaid(r.Context(), principal, req.Plate, req.ZoneID, req.Hours)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"session": toSessionResponse(session)})
}

func (h *Handler) handleFinalize(w http.ResponseWriter, r *http.Request) {
	sessionID, err := strconv.ParseInt(chi.URLParam(r, "sessionID"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid session id"})
		return
	}
	principal := authz.PrincipalFromContext(r.Context())
	result, err := h.service.Finalize(r.Context(), principal, sessionID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeFinalize(w, result)
}

func (h *Handler) handleFinalizeByPlate(w http.ResponseWriter, r *http.Request) {
	var req finalizeByPlateRequest
	if !h.decode(w, r, &req) {
		return
	}
	principal := authz.PrincipalFromContext(r.Context())
	result, err := h.service.FinalizeByPlate(r.Context(), principal, req.Plate)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeFinalize(w, result)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	sessionID, err := strconv.ParseInt(chi.URLParam(r, "sessionID"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid session id"})
		return
	}
	session, err := h.service.Get(r.Context(), sessionID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	principal := authz.PrincipalFromContext(r.Context())
	if session.RegisteredBy != principal.ID && !authz.Authorize(principal, authz.RoleInspector, authz.RoleAdmin) {
		h.writeError(w, shared.ErrForbidden)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": toSessionResponse(session)})
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	principal := authz.PrincipalFromContext(r.Context())
	sessions, err := h.service.History(r.Context(), principal, limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	out := make([]sessionResponse, 0, len(sessions))
	for i := range sessions {
		out = append(out, toSessionResponse(&sessions[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

func (h *Handler) writeFinalize(w http.ResponseWriter, result *FinalizeResult) {
	writeJSON(w, http.StatusOK, finalizeResponse{
		Session:          toSessionResponse(result.Session),
		Charged:          result.Charged,
		NewBalance:       result.NewBalance,
		AlreadyFinalized: result.AlreadyFinalized,
		Debited:          result.Debited,
	})
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrVehicleAlreadyParked):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "vehicle already has an active session"})
	case errors.Is(err, ErrVehicleExempt):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "vehicle is exempt in this zone"})
	case errors.Is(err, ErrInsufficientBalance):
		writeJSON(w, http.StatusPaymentRequired, map[string]string{"error": "insufficient balance"})
	case errors.Is(err, ErrInvalidDuration):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "hours must be a positive whole number"})
	case errors.Is(err, ErrNoActiveSession):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no active session"})
	case errors.Is(err, ErrNotFound), errors.Is(err, registry.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	case errors.Is(err, shared.ErrForbidden):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "forbidden"})
	case errors.Is(err, shared.ErrUnauthenticated):
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "authentication required"})
	default:
		h.logger.Error("parking handler", slog.Any("error", err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

// checkIdempotency consumes an Idempotency-Key header when one is sent, so a
// retried open does not create a second session after the first one settled.
func (h *Handler) checkIdempotency(w http.ResponseWriter, r *http.Request) bool {
	key := r.Header.Get("Idempotency-Key")
	if key == "" || h.idem == nil {
		return true
	}
	if err := h.idem.CheckAndInsert(r.Context(), key, "parking"); err != nil {
		if errors.Is(err, shared.ErrIdempotencyConflict) {
			writeJSON(w, http.StatusConflict, map[string]string{"error": "request already processed"})
			return false
		}
		h.logger.Error("idempotency check", slog.Any("error", err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return false
	}
	return true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json body"})
		return false
	}
	if err := h.validator.Struct(dst); err != nil {
		fields := make(map[string]string)
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fieldErr := range verrs {
				fields[fieldErr.Field()] = fieldErr.Tag()
			}
		}
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "validation failed", "fields": fields})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
