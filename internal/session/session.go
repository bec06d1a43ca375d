package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mgdov/Electro-net/internal/api"
	"github.com/mgdov/Electro-net/internal/domain"
	"github.com/mgdov/Electro-net/internal/events"
)

// How long an unconfirmed optimistic connector state may out-live backend
// confirmation before a refresh snapshot is allowed to win again. Covers
// several poll cycles plus the full identifier-poll budget.
const optimisticHoldMax = 45 * time.Second

const snapshotLimit = 10

// Options configures a dashboard session.
type Options struct {
	UnitPrice       float64
	RefreshInterval time.Duration
	// MeterInterval is the assumed spacing of meter.values events, used
	// to integrate power into energy.
	MeterInterval time.Duration
}

func (o *Options) fill() {
	if o.UnitPrice == 0 {
		o.UnitPrice = 0.35
	}
	if o.RefreshInterval <= 0 {
		o.RefreshInterval = 5 * time.Second
	}
	if o.MeterInterval <= 0 {
		o.MeterInterval = 5 * time.Second
	}
}

// Snapshot is the render-ready view of the session.
type Snapshot struct {
	Stations     []domain.ChargePoint `json:"stations"`
	Transactions []domain.Transaction `json:"transactions"`
	LoadError    string               `json:"loadError,omitempty"`
}

type hold struct {
	since time.Time
	// stoppedTx is set for a local-stop hold: the identifier the stale
	// snapshot may still be reporting for this connector.
	stoppedTx string
}

// Session owns all dashboard state for one operator: the station set, the
// transaction ledger, the reverse index, and the command machinery. All
// collaborators are injected; nothing lives at package level, and the
// whole thing dies with Close.
type Session struct {
	backend Backend
	bus     *events.Bus
	index   *TxIndex
	log     zerolog.Logger
	opts    Options

	mu        sync.Mutex
	stations  []domain.ChargePoint
	ledger    *Ledger
	holds     map[ConnectorRef]hold
	pending   map[ConnectorRef]struct{}
	reported  map[string]struct{}
	loadError string
	closed    bool

	onChange func()
	unsubs   []func()
	done     chan struct{}
	wg       sync.WaitGroup

	pollInterval time.Duration
	pollAttempts int
}

func New(backend Backend, bus *events.Bus, log zerolog.Logger, opts Options) *Session {
	opts.fill()
	return &Session{
		backend:  backend,
		bus:      bus,
		index:    NewTxIndex(),
		log:      log,
		opts:     opts,
		ledger:   NewLedger(),
		holds:    make(map[ConnectorRef]hold),
		pending:  make(map[ConnectorRef]struct{}),
		reported: make(map[string]struct{}),
		done:     make(chan struct{}),

		pollInterval: idPollInterval,
		pollAttempts: idPollAttempts,
	}
}

// OnChange registers a callback invoked after every state mutation, off
// the session lock. Set it before Start.
func (s *Session) OnChange(fn func()) {
	s.onChange = fn
}

// Start subscribes the event appliers, performs an initial load, and
// launches the periodic refresh.
func (s *Session) Start(ctx context.Context) {
	s.unsubs = append(s.unsubs,
		s.bus.Subscribe(events.NameStatusChanged, s.handleEvent),
		s.bus.Subscribe(events.NameMeterValues, s.handleEvent),
		s.bus.Subscribe(events.NameTransactionStarted, s.handleEvent),
		s.bus.Subscribe(events.NameTransactionStopped, s.handleEvent),
	)

	s.Refresh(ctx)
	s.RefreshTransactions(ctx)

	s.wg.Add(1)
	go s.refreshLoop(ctx)
}

// Close stops the refresh loop and detaches from the bus. Outstanding
// identifier polls are abandoned: their results are ignored once the
// session is closed.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	close(s.done)
	for _, unsub := range s.unsubs {
		unsub()
	}
	s.wg.Wait()
	s.log.Info().Msg("dashboard session closed")
}

func (s *Session) refreshLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.opts.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Refresh(ctx)
			s.RefreshTransactions(ctx)
		}
	}
}

func (s *Session) handleEvent(ev events.Event) {
	switch p := ev.Data.(type) {
	case events.StatusChanged:
		s.ApplyStatusChanged(p, ev.Timestamp)
	case events.MeterValues:
		s.ApplyMeterValues(p, ev.Timestamp)
	case events.TransactionStarted:
		s.ApplyTransactionStarted(p, ev.Timestamp)
	case events.TransactionStopped:
		s.ApplyTransactionStopped(p, ev.Timestamp)
	}
}

// Snapshot returns a deep copy of the current state for render layers.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Stations:     copyStations(s.stations),
		Transactions: copyTransactions(s.ledger.Snapshot()),
		LoadError:    s.loadError,
	}
}

// DeleteTransaction removes one ledger entry optimistically and confirms
// with the backend, rolling back on failure.
func (s *Session) DeleteTransaction(ctx context.Context, id string) api.CommandResult {
	s.mu.Lock()
	prev := s.ledger.Snapshot()
	_, ok := s.ledger.Remove(id)
	s.mu.Unlock()
	if !ok {
		return api.CommandResult{OK: false, Message: "transaction not found"}
	}
	s.notify()

	res := s.backend.DeleteTransaction(ctx, id)
	if !res.OK {
		s.mu.Lock()
		s.ledger.Restore(prev)
		s.mu.Unlock()
		s.notify()
		s.log.Warn().Str("tx", id).Str("reason", res.Message).Msg("delete rolled back")
	}
	return res
}

// ClearTransactions empties the ledger optimistically and confirms with
// the backend's bulk-clear fallback chain, rolling back if every pattern
// fails.
func (s *Session) ClearTransactions(ctx context.Context) api.CommandResult {
	s.mu.Lock()
	prev := s.ledger.Clear()
	s.mu.Unlock()
	s.notify()

	if !s.backend.ClearTransactions(ctx) {
		s.mu.Lock()
		s.ledger.Restore(prev)
		s.mu.Unlock()
		s.notify()
		return api.CommandResult{OK: false, Message: "failed to clear transactions"}
	}
	return api.CommandResult{OK: true}
}

func (s *Session) notify() {
	if s.onChange != nil {
		s.onChange()
	}
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func copyStations(in []domain.ChargePoint) []domain.ChargePoint {
	out := make([]domain.ChargePoint, len(in))
	for i, cp := range in {
		out[i] = cp
		out[i].Connectors = make([]domain.Connector, len(cp.Connectors))
		for j, conn := range cp.Connectors {
			out[i].Connectors[j] = conn
			if conn.SoCPercent != nil {
				soc := *conn.SoCPercent
				out[i].Connectors[j].SoCPercent = &soc
			}
		}
	}
	return out
}

func copyTransactions(in []domain.Transaction) []domain.Transaction {
	out := make([]domain.Transaction, len(in))
	for i, tx := range in {
		out[i] = tx
		if tx.StopTime != nil {
			t := *tx.StopTime
			out[i].StopTime = &t
		}
		if tx.MeterStopWh != nil {
			v := *tx.MeterStopWh
			out[i].MeterStopWh = &v
		}
		if tx.Cost != nil {
			v := *tx.Cost
			out[i].Cost = &v
		}
	}
	return out
}
