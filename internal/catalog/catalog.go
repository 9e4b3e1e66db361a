// Package catalog handles event intake: the transactional event and ticket
// type rows go to CockroachDB, and a denormalized document is mirrored to
// mongo for the read-side surfaces.
package catalog

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/eventra/payment-settlement/internal/adapters/crdb"
	mongoadapter "github.com/eventra/payment-settlement/internal/adapters/mongo"
	"github.com/eventra/payment-settlement/internal/domain"
	"github.com/eventra/payment-settlement/internal/observability"
)

type Service struct {
	repo   *crdb.Repository
	docs   *mongoadapter.CatalogRepository
	logger observability.Logger
}

func NewService(repo *crdb.Repository, docs *mongoadapter.CatalogRepository, logger observability.Logger) *Service {
	return &Service{repo: repo, docs: docs, logger: logger}
}

type TicketTypeParams struct {
	Capacity     int
	Price        *int64
	MinQuantity  int
	MaxQuantity  int
	SaleStartsAt *time.Time
	SaleEndsAt   *time.Time
}

type EventParams struct {
	OrganizerID           uuid.UUID
	Name                  string
	Venue                 string
	Date                  time.Time
	AllowsRepeatPurchases bool
	TicketTypes           []TicketTypeParams
}

// CreateEvent registers an event and its ticket types. The mongo mirror is
// best-effort; the CockroachDB rows are the source of truth and settlement
// never reads the mirror.
func (s *Service) CreateEvent(ctx context.Context, p EventParams) (*domain.Event, []domain.TicketType, error) {
	if p.Name == "" || p.OrganizerID == uuid.Nil || len(p.TicketTypes) == 0 {
		return nil, nil, domain.ErrInvalidInput
	}
	for _, tt := range p.TicketTypes {
		if tt.Capacity <= 0 || tt.MinQuantity < 1 || tt.MaxQuantity < tt.MinQuantity {
			return nil, nil, domain.ErrInvalidInput
		}
		if tt.Price != nil && *tt.Price <= 0 {
			return nil, nil, domain.ErrInvalidInput
		}
	}

	ev := domain.Event{
		ID:                    uuid.New(),
		OrganizerID:           p.OrganizerID,
		Name:                  p.Name,
		AllowsRepeatPurchases: p.AllowsRepeatPurchases,
	}
	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		return nil, nil, err
	}

	types := make([]domain.TicketType, 0, len(p.TicketTypes))
	for _, ttp := range p.TicketTypes {
		tt := domain.TicketType{
			ID:           uuid.New(),
			EventID:      ev.ID,
			Capacity:     ttp.Capacity,
			Price:        ttp.Price,
			MinQuantity:  ttp.MinQuantity,
			MaxQuantity:  ttp.MaxQuantity,
			SaleStartsAt: ttp.SaleStartsAt,
			SaleEndsAt:   ttp.SaleEndsAt,
		}
		if err := s.repo.InsertTicketType(ctx, tt); err != nil {
			return nil, nil, err
		}
		types = append(types, tt)
	}

	if err := s.docs.UpsertEvent(ctx, mongoadapter.EventDoc{
		ID:          ev.ID,
		OrganizerID: ev.OrganizerID,
		Name:        ev.Name,
		Venue:       p.Venue,
		Date:        p.Date,
	}); err != nil {
		s.logger.WithField("event_id", ev.ID).Warn("event doc mirror failed", err)
	}

	return &ev, types, nil
}

func (s *Service) GetEventDoc(ctx context.Context, id uuid.UUID) (*mongoadapter.EventDoc, error) {
	doc, err := s.docs.GetEvent(ctx, id)
	if err == mongo.ErrNoDocuments {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}
