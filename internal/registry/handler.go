package registry

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/vialibre/vialibre/internal/authz"
)

// Handler wires HTTP endpoints for master data management.
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

// MountRoutes registers master data routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.gate.RequireAuthenticated())
		r.Get("/zones", h.handleListZones)
		r.Get("/vehicles/{plate}", h.handleGetVehicle)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.gate.RequireAny(authz.RoleAdmin))
		r.Post("/zones", h.handleCreateZone)
		r.Post("/rates", h.handleCreateRate)
		r.Post("/exemptions", h.handleGrantExemption)
		r.Delete("/exemptions", h.handleRevokeExemption)
	})
}

type createZoneRequest struct {
	Street string `json:"street" validate:"required,max=100"`
	Block  int    `json:"block" validate:"gte=0"`
}

type createRateRequest struct {
	PricePerHour float64 `json:"price_per_hour" validate:"required,gt=0"`
}

type exemptionRequest struct {
	Plate  string `json:"plate" validate:"required,max=12"`
	ZoneID int64  `json:"zone_id" validate:"gte=0"`
}

type zoneResponse struct {
	ID        int64     `json:"id"`
	Street    string    `json:"street"`
	Block     int       `json:"block"`
	CreatedAt time.Time `json:"created_at"`
}

type vehicleResponse struct {
	ID             int64   `json:"id"`
	Plate          string  `json:"plate"`
	GloballyExempt bool    `json:"globally_exempt"`
	ExemptZoneIDs  []int64 `json:"exempt_zone_ids,omitempty"`
}

func toVehicleResponse(v *Vehicle) vehicleResponse {
	return vehicleResponse{
		ID:             v.ID,
		Plate:          v.Plate,
		GloballyExempt: v.GloballyExempt,
		ExemptZoneIDs:  v.ExemptZoneIDs,
	}
}

func (h *Handler) handleCreateZone(w http.ResponseWriter, r *http.Request) {
	var req createZoneRequest
	if !h.decode(w, r, &req) {
		return
	}
	zone, err := h.service.CreateZone(r.Context(), req.Street, req.Block)
	if err != nil {
		if errors.Is(err, ErrZoneExists) {
			writeJSON(w, http.StatusConflict, map[string]string{"error": "zone already exists"})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"zone": zoneResponse{
		ID: zone.ID, Street: zone.Street, Block: zone.Block, CreatedAt: zone.CreatedAt,
	}})
}

func (h *Handler) handleListZones(w http.ResponseWriter, r *http.Request) {
	zones, err := h.service.ListZones(r.Context())
	if err != nil {
		h.logger.Error("list zones", slog.Any("error", err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	out := make([]zoneResponse, 0, len(zones))
	for _, z := range zones {
		out = append(out, zoneResponse{ID: z.ID, Street: z.Street, Block: z.Block, CreatedAt: z.CreatedAt})
	}
	writeJSON(w, http.StatusOK, map[string]any{"zones": out})
}

func (h *Handler) handleCreateRate(w http.ResponseWriter, r *http.Request) {
	var req createRateRequest
	if !h.decode(w, r, &req) {
		return
	}
	rate, err := h.service.CreateRate(r.Context(), req.PricePerHour)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"rate": map[string]any{
		"id": rate.ID, "price_per_hour": rate.PricePerHour, "created_at": rate.CreatedAt,
	}})
}

func (h *Handler) handleGetVehicle(w http.ResponseWriter, r *http.Request) {
	vehicle, err := h.service.FindVehicle(r.Context(), chi.URLParam(r, "plate"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "vehicle not found"})
			return
		}
		h.logger.Error("get vehicle", slog.Any("error", err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"vehicle": toVehicleResponse(vehicle)})
}

func (h *Handler) handleGrantExemption(w http.ResponseWriter, r *http.Request) {
	var req exemptionRequest
	if !h.decode(w, r, &req) {
		return
	}
	vehicle, err := h.service.GrantExemption(r.Context(), req.Plate, req.ZoneID)
	if err != nil {
		h.writeExemptionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"vehicle": toVehicleResponse(vehicle)})
}

func (h *Handler) handleRevokeExemption(w http.ResponseWriter, r *http.Request) {
	var req exemptionRequest
	if !h.decode(w, r, &req) {
		return
	}
	vehicle, err := h.service.RevokeExemption(r.Context(), req.Plate, req.ZoneID)
	if err != nil {
		h.writeExemptionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"vehicle": toVehicleResponse(vehicle)})
}

func (h *Handler) writeExemptionError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	h.logger.Error("exemption", slog.Any("error", err))
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
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
