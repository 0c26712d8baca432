package app

import (
	"context"
	"testing"
	"time"

	"github.com/cimillas/boxoffice/internal/clock"
	"github.com/cimillas/boxoffice/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAdminRepo struct {
	createdEvent domain.Event
	createdZone  domain.Zone
	raised       IncreaseCapacityInput

	createEventErr error
	createZoneErr  error
}

func (f *fakeAdminRepo) CreateEvent(ctx context.Context, event domain.Event) error {
	f.createdEvent = event
	return f.createEventErr
}

func (f *fakeAdminRepo) ListEvents(ctx context.Context) ([]domain.Event, error) {
	return nil, nil
}

func (f *fakeAdminRepo) GetEvent(ctx context.Context, eventID string) (domain.Event, error) {
	if eventID != f.createdEvent.ID {
		return domain.Event{}, domain.ErrEventNotFound
	}
	return f.createdEvent, nil
}

func (f *fakeAdminRepo) CreateZone(ctx context.Context, zone domain.Zone) error {
	f.createdZone = zone
	return f.createZoneErr
}

func (f *fakeAdminRepo) ListZonesByEvent(ctx context.Context, eventID string) ([]domain.Zone, error) {
	return nil, nil
}

func (f *fakeAdminRepo) IncreaseZoneCapacity(ctx context.Context, eventID, zoneID string, capacity int) (domain.Zone, error) {
	f.raised = IncreaseCapacityInput{EventID: eventID, ZoneID: zoneID, Capacity: capacity}
	return domain.Zone{ID: zoneID, EventID: eventID, Capacity: capacity}, nil
}

func TestAdminService_CreateEvent_DefaultStartsAt(t *testing.T) {
	repo := &fakeAdminRepo{}
	now := time.Date(2025, 1, 5, 10, 0, 0, 0, time.UTC)
	svc := NewAdminService(repo, clock.NewFixed(now))

	got, err := svc.CreateEvent(context.Background(), CreateEventInput{Name: " Concert ", Location: "Hall 1"})
	require.NoError(t, err)
	assert.Equal(t, "Concert", got.Name)
	assert.Equal(t, "Hall 1", got.Location)
	assert.Equal(t, now, got.StartsAt)
	assert.NotEmpty(t, repo.createdEvent.ID)

	fetched, err := svc.GetEvent(context.Background(), got.ID)
	require.NoError(t, err)
	assert.Equal(t, got.ID, fetched.ID)
}

func TestAdminService_CreateEvent_ValidatesName(t *testing.T) {
	repo := &fakeAdminRepo{}
	svc := NewAdminService(repo, clock.NewFixed(time.Now()))

	_, err := svc.CreateEvent(context.Background(), CreateEventInput{Name: "  "})
	assert.ErrorIs(t, err, domain.ErrEventNameRequired)
}

func TestAdminService_CreateZone_ValidatesInput(t *testing.T) {
	svc := NewAdminService(&fakeAdminRepo{}, clock.NewFixed(time.Now()))
	ctx := context.Background()

	tests := []struct {
		name string
		in   CreateZoneInput
		want error
	}{
		{"missing event", CreateZoneInput{Name: "Floor", Capacity: 10}, domain.ErrInvalidID},
		{"missing name", CreateZoneInput{EventID: "event", Capacity: 10}, domain.ErrZoneNameRequired},
		{"separator in name", CreateZoneInput{EventID: "event", Name: "Row:A", Capacity: 10}, domain.ErrInvalidZoneName},
		{"unknown kind", CreateZoneInput{EventID: "event", Name: "Floor", Kind: "standing", Capacity: 10}, domain.ErrInvalidZoneKind},
		{"negative price", CreateZoneInput{EventID: "event", Name: "Floor", PriceCents: -1, Capacity: 10}, domain.ErrInvalidPrice},
		{"zero capacity", CreateZoneInput{EventID: "event", Name: "Floor"}, domain.ErrInvalidCapacity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateZone(ctx, tt.in)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestAdminService_CreateZone_DefaultsToCapacityKind(t *testing.T) {
	repo := &fakeAdminRepo{}
	svc := NewAdminService(repo, clock.NewFixed(time.Now()))

	zone, err := svc.CreateZone(context.Background(), CreateZoneInput{EventID: "event", Name: "Floor", PriceCents: 2500, Capacity: 200})
	require.NoError(t, err)
	assert.Equal(t, domain.ZoneKindCapacity, zone.Kind)
	assert.Equal(t, int64(2500), repo.createdZone.PriceCents)
}

func TestAdminService_IncreaseZoneCapacity(t *testing.T) {
	repo := &fakeAdminRepo{}
	svc := NewAdminService(repo, clock.NewFixed(time.Now()))
	ctx := context.Background()

	_, err := svc.IncreaseZoneCapacity(ctx, IncreaseCapacityInput{EventID: "event", ZoneID: "zone", Capacity: 0})
	assert.ErrorIs(t, err, domain.ErrInvalidCapacity)

	zone, err := svc.IncreaseZoneCapacity(ctx, IncreaseCapacityInput{EventID: "event", ZoneID: "zone", Capacity: 50})
	require.NoError(t, err)
	assert.Equal(t, 50, zone.Capacity)
	assert.Equal(t, IncreaseCapacityInput{EventID: "event", ZoneID: "zone", Capacity: 50}, repo.raised)
}
