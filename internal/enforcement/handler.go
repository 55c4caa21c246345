package enforcement

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

// Handler wires HTTP endpoints for enforcement.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	gate      authz.Middleware
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, gate authz.Middleware) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		gate:      gate,
		validator: validator.New(),
	}
}

// MountRoutes registers enforcement routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.gate.RequireAny(authz.RoleInspector, authz.RoleAdmin))
		r.Post("/infractions", h.handleIssue)
		r.Post("/infractions/{infractionID}/review", h.handleReview)
		r.Get("/infractions", h.handleList)
		r.Get("/verify", h.handleVerify)
		r.Get("/summary", h.handleSummary)
	})
}

type issueRequest struct {
	Plate  string `json:"plate" validate:"required,max=12"`
	ZoneID int64  `json:"zone_id" validate:"gte=0"`
	Motive string `json:"motive" validate:"max=200"`
}

type infractionResponse struct {
	ID          int64      `json:"id"`
	VehicleID   int64      `json:"vehicle_id"`
	InspectorID int64      `json:"inspector_id"`
	ZoneID      *int64     `json:"zone_id,omitempty"`
	SessionID   *int64     `json:"session_id,omitempty"`
	Motive      string     `json:"motive"`
	IssuedAt    time.Time  `json:"issued_at"`
	Cancelled   bool       `json:"cancelled"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
}

func toInfractionResponse(inf *Infraction) infractionResponse {
	return infractionResponse{
		ID:          inf.ID,
		VehicleID:   inf.VehicleID,
		InspectorID: inf.InspectorID,
		ZoneID:      inf.ZoneID,
		SessionID:   inf.SessionID,
		Motive:      inf.Motive,
		IssuedAt:    inf.IssuedAt,
		Cancelled:   inf.Cancelled,
		CancelledAt: inf.CancelledAt,
	}
}

func (h *Handler) handleIssue(w http.ResponseWriter, r *http.Request) {
	var req issueRequest
	if !h.decode(w, r, &req) {
		return
	}
	principal := authz.PrincipalFromContext(r.Context())
	result, err := h.service.Issue(r.Context(), principal, req.Plate, req.ZoneID, req.Motive)
	if err != nil {
		h.writeError(w, err)
		return
	}
	switch result.Status {
	case IssueCreated:
		writeJSON(w, http.StatusCreated, map[string]any{
			"status":     result.Status,
			"infraction": toInfractionResponse(result.Infraction),
		})
	default:
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"status": result.Status})
	}
}

func (h *Handler) handleReview(w http.ResponseWriter, r *http.Request) {
	infractionID, err := strconv.ParseInt(chi.URLParam(r, "infractionID"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid infraction id"})
		return
	}
	outcome, err := h.service.EvaluateCancellation(r.Context(), infractionID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"outcome": outcome})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	plate := r.URL.Query().Get("plate")
	if plate == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "plate query parameter required"})
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	infractions, err := h.service.ListForVehicle(r.Context(), plate, limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	out := make([]infractionResponse, 0, len(infractions))
	for i := range infractions {
		out = append(out, toInfractionResponse(&infractions[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"infractions": out})
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	plate := r.URL.Query().Get("plate")
	if plate == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "plate query parameter required"})
		return
	}
	var zoneID int64
	if raw := r.URL.Query().Get("zone_id"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid zone id"})
			return
		}
		zoneID = parsed
	}

	verification, err := h.service.Verify(r.Context(), plate, zoneID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	payload := map[string]any{
		"status": verification.Status,
		"plate":  verification.Plate,
		"detail": verification.Detail,
	}
	if len(verification.ExemptZones) > 0 {
		zones := make([]map[string]any, 0, len(verification.ExemptZones))
		for _, z := range verification.ExemptZones {
			zones = append(zones, map[string]any{"id": z.ID, "street": z.Street, "block": z.Block})
		}
		payload["exempt_zones"] = zones
	}
	if verification.Session != nil {
		payload["session_id"] = verification.Session.ID
	}
	writeJSON(w, http.StatusOK, payload)
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.Summarize(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	recent := make([]infractionResponse, 0, len(summary.Recent))
	for i := range summary.Recent {
		recent = append(recent, toInfractionResponse(&summary.Recent[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"issued_24h":    summary.Issued,
		"cancelled_24h": summary.Cancelled,
		"recent":        recent,
	})
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, registry.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	case errors.Is(err, shared.ErrForbidden):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "forbidden"})
	case errors.Is(err, shared.ErrUnauthenticated):
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "authentication required"})
	default:
		h.logger.Error("enforcement handler", slog.Any("error", err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
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
