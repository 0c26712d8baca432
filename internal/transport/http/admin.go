package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/cimillas/boxoffice/internal/app"
	"github.com/cimillas/boxoffice/internal/domain"
)

// AdminEventService is the minimal interface needed for admin event endpoints.
type AdminEventService interface {
	CreateEvent(ctx context.Context, in app.CreateEventInput) (domain.Event, error)
	ListEvents(ctx context.Context) ([]domain.Event, error)
	GetEvent(ctx context.Context, eventID string) (domain.Event, error)
}

// AdminZoneService is the minimal interface needed for admin zone endpoints.
type AdminZoneService interface {
	CreateZone(ctx context.Context, in app.CreateZoneInput) (domain.Zone, error)
	ListZones(ctx context.Context, eventID string) ([]domain.Zone, error)
	IncreaseZoneCapacity(ctx context.Context, in app.IncreaseCapacityInput) (domain.Zone, error)
}

// HandleAdminEvents returns an HTTP handler for admin event creation/listing.
func HandleAdminEvents(svc AdminEventService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			events, err := svc.ListEvents(r.Context())
			if err != nil {
				writeDomainError(w, err)
				return
			}
			resp := make([]eventResponse, 0, len(events))
			for _, event := range events {
				resp = append(resp, toEventResponse(event))
			}
			writeJSON(w, http.StatusOK, resp)
		case http.MethodPost:
			var req createEventRequest
			if !decodeBody(w, r, &req) {
				return
			}
			if req.Name == "" {
				writeError(w, http.StatusBadRequest, codeEventNameRequired, domain.ErrEventNameRequired.Error())
				return
			}

			var startsAt *time.Time
			if req.StartsAt != "" {
				parsed, err := time.Parse(time.RFC3339, req.StartsAt)
				if err != nil {
					writeError(w, http.StatusBadRequest, codeInvalidStartsAt, "invalid starts_at format")
					return
				}
				startsAt = &parsed
			}

			event, err := svc.CreateEvent(r.Context(), app.CreateEventInput{
				Name:     req.Name,
				StartsAt: startsAt,
				Location: req.Location,
			})
			if err != nil {
				writeDomainError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, toEventResponse(event))
		default:
			methodNotAllowed(w)
		}
	}
}

// HandleAdminEvent returns one event with its zones and sales counters.
func HandleAdminEvent(svc AdminEventService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		event, err := svc.GetEvent(r.Context(), r.PathValue("eventID"))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toEventResponse(event))
	}
}

// HandleAdminZones returns an HTTP handler for admin zone creation/listing.
func HandleAdminZones(svc AdminZoneService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		eventID := r.PathValue("eventID")
		if eventID == "" {
			writeError(w, http.StatusNotFound, codeNotFound, "not found")
			return
		}

		switch r.Method {
		case http.MethodGet:
			zones, err := svc.ListZones(r.Context(), eventID)
			if err != nil {
				writeDomainError(w, err)
				return
			}
			resp := make([]zoneResponse, 0, len(zones))
			for _, zone := range zones {
				resp = append(resp, toZoneResponse(zone))
			}
			writeJSON(w, http.StatusOK, resp)
		case http.MethodPost:
			var req createZoneRequest
			if !decodeBody(w, r, &req) {
				return
			}
			if req.Name == "" {
				writeError(w, http.StatusBadRequest, codeZoneNameRequired, domain.ErrZoneNameRequired.Error())
				return
			}
			if req.Capacity <= 0 {
				writeError(w, http.StatusBadRequest, codeInvalidCapacity, domain.ErrInvalidCapacity.Error())
				return
			}

			zone, err := svc.CreateZone(r.Context(), app.CreateZoneInput{
				EventID:    eventID,
				Name:       req.Name,
				Kind:       domain.ZoneKind(req.Kind),
				PriceCents: req.PriceCents,
				Capacity:   req.Capacity,
			})
			if err != nil {
				writeDomainError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, toZoneResponse(zone))
		default:
			methodNotAllowed(w)
		}
	}
}

// HandleIncreaseCapacity raises a zone's capacity.
func HandleIncreaseCapacity(svc AdminZoneService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		var req increaseCapacityRequest
		if !decodeBody(w, r, &req) {
			return
		}
		zone, err := svc.IncreaseZoneCapacity(r.Context(), app.IncreaseCapacityInput{
			EventID:  r.PathValue("eventID"),
			ZoneID:   r.PathValue("zoneID"),
			Capacity: req.Capacity,
		})
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toZoneResponse(zone))
	}
}

// decodeBody strictly decodes a JSON body and writes the error response
// itself when decoding fails.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
		return false
	}
	return true
}

const maxBodyBytes = 1 << 20

type createEventRequest struct {
	Name     string `json:"name"`
	StartsAt string `json:"starts_at,omitempty"`
	Location string `json:"location,omitempty"`
}

type eventResponse struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	StartsAt     time.Time      `json:"starts_at"`
	Location     string         `json:"location,omitempty"`
	TicketsSold  int64          `json:"tickets_sold"`
	RevenueCents int64          `json:"revenue_cents"`
	Zones        []zoneResponse `json:"zones,omitempty"`
}

func toEventResponse(event domain.Event) eventResponse {
	resp := eventResponse{
		ID:           event.ID,
		Name:         event.Name,
		StartsAt:     event.StartsAt,
		Location:     event.Location,
		TicketsSold:  event.TicketsSold,
		RevenueCents: event.RevenueCents,
	}
	for _, zone := range event.Zones {
		resp.Zones = append(resp.Zones, toZoneResponse(zone))
	}
	return resp
}

type createZoneRequest struct {
	Name       string `json:"name"`
	Kind       string `json:"kind,omitempty"`
	PriceCents int64  `json:"price_cents"`
	Capacity   int    `json:"capacity"`
}

type increaseCapacityRequest struct {
	Capacity int `json:"capacity"`
}

type zoneResponse struct {
	ID         string `json:"id"`
	EventID    string `json:"event_id"`
	Name       string `json:"name"`
	Kind       string `json:"kind"`
	PriceCents int64  `json:"price_cents"`
	Capacity   int    `json:"capacity"`
	Sold       int    `json:"sold"`
	Available  int    `json:"available"`
}

func toZoneResponse(zone domain.Zone) zoneResponse {
	return zoneResponse{
		ID:         zone.ID,
		EventID:    zone.EventID,
		Name:       zone.Name,
		Kind:       string(zone.Kind),
		PriceCents: zone.PriceCents,
		Capacity:   zone.Capacity,
		Sold:       zone.Sold,
		Available:  zone.Available(),
	}
}
