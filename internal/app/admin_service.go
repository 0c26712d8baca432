package app

import (
	"context"
	"strings"
	"time"

	"github.com/cimillas/boxoffice/internal/clock"
	"github.com/cimillas/boxoffice/internal/domain"
)

type AdminRepository interface {
	CreateEvent(ctx context.Context, event domain.Event) error
	ListEvents(ctx context.Context) ([]domain.Event, error)
	GetEvent(ctx context.Context, eventID string) (domain.Event, error)
	CreateZone(ctx context.Context, zone domain.Zone) error
	ListZonesByEvent(ctx context.Context, eventID string) ([]domain.Zone, error)
	IncreaseZoneCapacity(ctx context.Context, eventID, zoneID string, capacity int) (domain.Zone, error)
}

type AdminService struct {
	repo  AdminRepository
	clock clock.Clock
}

func NewAdminService(repo AdminRepository, clk clock.Clock) *AdminService {
	return &AdminService{
		repo:  repo,
		clock: clk,
	}
}

type CreateEventInput struct {
	Name     string
	StartsAt *time.Time
	Location string
}

func (s *AdminService) CreateEvent(ctx context.Context, in CreateEventInput) (domain.Event, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return domain.Event{}, domain.ErrEventNameRequired
	}
	startsAt := s.clock.Now()
	if in.StartsAt != nil {
		startsAt = in.StartsAt.UTC()
	}

	event := domain.Event{
		ID:       newUUID(),
		Name:     name,
		StartsAt: startsAt,
		Location: strings.TrimSpace(in.Location),
	}

	if err := s.repo.CreateEvent(ctx, event); err != nil {
		return domain.Event{}, err
	}
	return event, nil
}

func (s *AdminService) ListEvents(ctx context.Context) ([]domain.Event, error) {
	return s.repo.ListEvents(ctx)
}

// GetEvent returns an event with its zones and counters.
func (s *AdminService) GetEvent(ctx context.Context, eventID string) (domain.Event, error) {
	if eventID == "" {
		return domain.Event{}, domain.ErrInvalidID
	}
	return s.repo.GetEvent(ctx, eventID)
}

type CreateZoneInput struct {
	EventID    string
	Name       string
	Kind       domain.ZoneKind
	PriceCents int64
	Capacity   int
}

func (s *AdminService) CreateZone(ctx context.Context, in CreateZoneInput) (domain.Zone, error) {
	if in.EventID == "" {
		return domain.Zone{}, domain.ErrInvalidID
	}
	if in.Name == "" {
		return domain.Zone{}, domain.ErrZoneNameRequired
	}
	if !domain.ValidZoneName(in.Name) {
		return domain.Zone{}, domain.ErrInvalidZoneName
	}
	kind := in.Kind
	if kind == "" {
		kind = domain.ZoneKindCapacity
	}
	if !kind.Valid() {
		return domain.Zone{}, domain.ErrInvalidZoneKind
	}
	if in.PriceCents < 0 {
		return domain.Zone{}, domain.ErrInvalidPrice
	}
	if in.Capacity <= 0 {
		return domain.Zone{}, domain.ErrInvalidCapacity
	}

	zone := domain.Zone{
		ID:         newUUID(),
		EventID:    in.EventID,
		Name:       in.Name,
		Kind:       kind,
		PriceCents: in.PriceCents,
		Capacity:   in.Capacity,
		CreatedAt:  s.clock.Now(),
	}

	if err := s.repo.CreateZone(ctx, zone); err != nil {
		return domain.Zone{}, err
	}
	return zone, nil
}

func (s *AdminService) ListZones(ctx context.Context, eventID string) ([]domain.Zone, error) {
	if eventID == "" {
		return nil, domain.ErrInvalidID
	}
	return s.repo.ListZonesByEvent(ctx, eventID)
}

type IncreaseCapacityInput struct {
	EventID  string
	ZoneID   string
	Capacity int
}

// IncreaseZoneCapacity raises a zone's capacity. Zones never shrink.
func (s *AdminService) IncreaseZoneCapacity(ctx context.Context, in IncreaseCapacityInput) (domain.Zone, error) {
	if in.EventID == "" || in.ZoneID == "" {
		return domain.Zone{}, domain.ErrInvalidID
	}
	if in.Capacity <= 0 {
		return domain.Zone{}, domain.ErrInvalidCapacity
	}
	return s.repo.IncreaseZoneCapacity(ctx, in.EventID, in.ZoneID, in.Capacity)
}
