package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/field-ticket-service/internal/clients"
	"github.com/spec-kit/field-ticket-service/internal/domain"
	"github.com/spec-kit/field-ticket-service/internal/events"
	"github.com/spec-kit/field-ticket-service/internal/observability"
	"github.com/spec-kit/field-ticket-service/internal/repository"
	apperrors "github.com/spec-kit/field-ticket-service/pkg/util/errorutil"
)

// DocumentFetcher resolves the delivery document attached on reschedule.
type DocumentFetcher interface {
	FetchDocument(ctx context.Context, ticketID, commerceID string) (clients.Document, error)
}

// Actor names the employee performing a change when the call site knows it.
type Actor struct {
	ID   string
	Name string
}

// RecordInput describes one transition to journal.
type RecordInput struct {
	CommerceID  string
	TicketID    string
	From        domain.StateRef
	To          domain.StateRef
	Dispatchers domain.Assignments
	Technicians domain.Assignments
	// Actor overrides the first enabled dispatcher as the acting dispatcher.
	Actor   *Actor
	Customs map[string]any
	At      time.Time
}

// HistoryService writes the state history of tickets.
type HistoryService struct {
	repo       repository.StateHistoryRepository
	documents  DocumentFetcher
	dispatcher events.Dispatcher
	logger     *zap.Logger
	metrics    *observability.Metrics
	now        func() time.Time
	newID      func() string
}

// HistoryDependencies bundles collaborators for the history service.
type HistoryDependencies struct {
	Repo       repository.StateHistoryRepository
	Documents  DocumentFetcher
	Dispatcher events.Dispatcher
	Logger     *zap.Logger
	Metrics    *observability.Metrics
}

// NewHistoryService constructs the service.
func NewHistoryService(deps HistoryDependencies) *HistoryService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HistoryService{
		repo:       deps.Repo,
		documents:  deps.Documents,
		dispatcher: deps.Dispatcher,
		logger:     logger,
		metrics:    deps.Metrics,
		now:        time.Now,
		newID:      uuid.NewString,
	}
}

// Record prepares and commits inputs in one step.
func (s *HistoryService) Record(ctx context.Context, inputs ...RecordInput) ([]domain.StateHistoryEntry, error) {
	entries, err := s.Prepare(ctx, inputs...)
	if err != nil {
		return nil, err
	}
	if err := s.Commit(ctx, entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// Prepare builds the entries for inputs without persisting anything. It
// performs the synchronous document fetch of reschedule transitions, so its
// failure leaves no trace.
func (s *HistoryService) Prepare(ctx context.Context, inputs ...RecordInput) ([]domain.StateHistoryEntry, error) {
	entries := make([]domain.StateHistoryEntry, 0, len(inputs))
	for _, in := range inputs {
		entry, err := s.build(ctx, in)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Commit persists entries in one batch and then publishes a state-change event
// per entry. Event delivery never fails the commit.
func (s *HistoryService) Commit(ctx context.Context, entries []domain.StateHistoryEntry) error {
	if len(entries) == 0 {
		return nil
	}
	if err := s.repo.CreateBatch(ctx, entries); err != nil {
		return fmt.Errorf("persist state history: %w", err)
	}
	for _, entry := range entries {
		s.metrics.RecordTransition(entry.StateID)
		s.publish(ctx, entry)
	}
	return nil
}

func (s *HistoryService) build(ctx context.Context, in RecordInput) (domain.StateHistoryEntry, error) {
	at := in.At
	if at.IsZero() {
		at = s.now()
	}

	dispatcher, hasDispatcher := in.Dispatchers.Active()
	technician, hasTechnician := in.Technicians.Active()
	previous, hasPrevious := in.Technicians.Previous()

	var dispatcherID, dispatcherName string
	switch {
	case in.Actor != nil:
		dispatcherID, dispatcherName = in.Actor.ID, in.Actor.Name
	case hasDispatcher:
		dispatcherID, dispatcherName = dispatcher.ID, dispatcher.Name
	}

	narrative := narrativeInput{
		from:           in.From,
		to:             in.To,
		dispatcherName: dispatcherName,
	}
	if hasTechnician {
		narrative.technicianName = technician.Name
		narrative.hasTechnician = true
	}
	if hasPrevious {
		narrative.previousName = previous.Name
		narrative.hasPrevious = true
	}

	customs := copyCustoms(in.Customs)
	if in.To.ID == domain.StateReschedule {
		if s.documents == nil {
			return domain.StateHistoryEntry{}, apperrors.NewUpstreamError("document service not configured", nil)
		}
		doc, err := s.documents.FetchDocument(ctx, in.TicketID, in.CommerceID)
		if err != nil {
			return domain.StateHistoryEntry{}, apperrors.NewUpstreamError("unable to fetch delivery document", err)
		}
		if customs == nil {
			customs = map[string]any{}
		}
		customs["ods"] = doc
	}

	entry := domain.StateHistoryEntry{
		ID:          s.newID(),
		TicketID:    in.TicketID,
		CommerceID:  in.CommerceID,
		StateID:     in.To.ID,
		StateLabel:  labelOf(in.To),
		Description: describeTransition(narrative),
		Customs:     customs,
		CreatedAt:   at,
	}
	if dispatcherID != "" {
		entry.DispatcherID = &dispatcherID
	}
	if hasTechnician {
		id := technician.ID
		entry.TechnicianID = &id
	}
	return entry, nil
}

func (s *HistoryService) publish(ctx context.Context, entry domain.StateHistoryEntry) {
	if s.dispatcher == nil {
		return
	}
	clientID, _ := entry.Customs["clientId"].(string)
	event := events.Event{
		ID:         s.newID(),
		Type:       events.EventTicketStateChanged,
		TicketID:   entry.TicketID,
		CommerceID: entry.CommerceID,
		Timestamp:  entry.CreatedAt,
		Payload: events.TicketStateChangedPayload{
			TicketID: entry.TicketID,
			NewState: entry.StateID,
			ClientID: clientID,
		},
	}
	if err := s.dispatcher.Publish(ctx, event); err != nil {
		s.logger.Warn("state change event not published", zap.String("ticket_id", entry.TicketID), zap.Error(err))
	}
}

func copyCustoms(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func labelOf(ref domain.StateRef) string {
	if ref.Label != "" {
		return ref.Label
	}
	return ref.ID
}
