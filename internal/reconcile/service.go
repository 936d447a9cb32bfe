// Package reconcile implements statement imports, the matching engine and the operator
// actions that resolve statement movements against the ledger.
package reconcile

import (
	"context"
	"crypto/rand"
	"sync"
	"time"

	"github.com/dvloznov/reconciler/internal/domain"
	"github.com/dvloznov/reconciler/internal/events"
	"github.com/dvloznov/reconciler/internal/statement"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
)

// Archiver keeps a copy of raw statement files.
type Archiver interface {
	Archive(ctx context.Context, importID, filename string, content []byte) (uri string, err error)
	Delete(ctx context.Context, uri string) error
}

// Service is the reconciliation engine. It is safe for concurrent use; every movement
// transition is its own atomic unit in the store.
type Service struct {
	store    domain.Store
	ledger   domain.Ledger
	accounts domain.AccountRegistry
	parsers  *statement.Registry
	archiver Archiver
	events   events.Publisher
	cfg      MatchConfig
	log      zerolog.Logger
	now      func() time.Time
	ids      *movementIDs
}

// Option configures a Service.
type Option func(*Service)

func WithParsers(r *statement.Registry) Option { return func(s *Service) { s.parsers = r } }
func WithArchiver(a Archiver) Option           { return func(s *Service) { s.archiver = a } }
func WithPublisher(p events.Publisher) Option  { return func(s *Service) { s.events = p } }
func WithMatchConfig(c MatchConfig) Option     { return func(s *Service) { s.cfg = c } }
func WithLogger(l zerolog.Logger) Option       { return func(s *Service) { s.log = l } }
func WithClock(now func() time.Time) Option    { return func(s *Service) { s.now = now } }

// NewService wires the engine to its collaborators.
func NewService(store domain.Store, ledger domain.Ledger, accounts domain.AccountRegistry, opts ...Option) *Service {
	s := &Service{
		store:    store,
		ledger:   ledger,
		accounts: accounts,
		parsers:  statement.DefaultRegistry(),
		events:   events.Nop{},
		cfg:      DefaultMatchConfig(),
		log:      zerolog.Nop(),
		now:      time.Now,
		ids:      newMovementIDs(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Config returns the active matching configuration.
func (s *Service) Config() MatchConfig {
	return s.cfg
}

func (s *Service) publish(ctx context.Context, ev events.Event) {
	ev.OccurredAt = s.now().UTC()
	if err := s.events.Publish(ctx, ev); err != nil {
		s.log.Warn().Err(err).
			Str("event_type", string(ev.Type)).
			Str("import_id", ev.ImportID).
			Str("movement_id", ev.MovementID).
			Msg("Failed to publish event")
	}
}

func movementEvent(t events.Type, m domain.StatementMovement) events.Event {
	ev := events.Event{
		Type:          t,
		ImportID:      m.ImportID,
		BankAccountID: m.BankAccountID,
		MovementID:    m.ID,
		Status:        string(m.Status()),
	}
	if id, ok := domain.LinkedLedgerID(m.Resolution); ok {
		ev.LedgerMovementID = id
	}
	if c, ok := domain.ConfidenceOf(m.Resolution); ok {
		ev.Confidence = &c
	}
	return ev
}

// movementIDs issues ULIDs that sort in creation order, including within one millisecond.
type movementIDs struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

func newMovementIDs() *movementIDs {
	return &movementIDs{entropy: ulid.Monotonic(rand.Reader, 0)}
}

func (g *movementIDs) next(at time.Time) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(at), g.entropy).String()
}

func newImportID() string {
	return uuid.NewString()
}
