package session

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/mgdov/Electro-net/internal/domain"
	"github.com/mgdov/Electro-net/internal/events"
)

func newTestSession(backend Backend) *Session {
	return New(backend, events.NewBus(zerolog.Nop()), zerolog.Nop(), Options{
		UnitPrice:     0.35,
		MeterInterval: 5 * time.Second,
	})
}

func (s *Session) connector(t *testing.T, stationID string, connectorID int) domain.Connector {
	t.Helper()
	for _, cp := range s.Snapshot().Stations {
		if cp.ID != stationID {
			continue
		}
		for _, conn := range cp.Connectors {
			if conn.ID == connectorID {
				return conn
			}
		}
	}
	t.Fatalf("connector %s/%d not found", stationID, connectorID)
	return domain.Connector{}
}

func TestRefreshInsertsUnknownStations(t *testing.T) {
	t.Parallel()
	backend := newFakeBackend()
	backend.setStations([]domain.WireStation{
		wireStation("cp-001", wireConnector(1, "Available", "")),
		wireStation("cp-002", wireConnector(1, "Charging", "txn-7")),
	})
	s := newTestSession(backend)

	s.Refresh(context.Background())

	snap := s.Snapshot()
	if len(snap.Stations) != 2 {
		t.Fatalf("expected 2 stations, got %d", len(snap.Stations))
	}
	conn := s.connector(t, "cp-002", 1)
	if conn.Status != domain.StatusOccupied || conn.TransactionID != "txn-7" {
		t.Errorf("charging connector not mapped: %+v", conn)
	}
}

func TestRefreshRecordsLoadError(t *testing.T) {
	t.Parallel()
	backend := newFakeBackend()
	backend.stationsErr = context.DeadlineExceeded
	s := newTestSession(backend)

	s.Refresh(context.Background())

	if s.Snapshot().LoadError == "" {
		t.Error("load error not surfaced")
	}

	backend.mu.Lock()
	backend.stationsErr = nil
	backend.mu.Unlock()
	backend.setStations([]domain.WireStation{wireStation("cp-001", wireConnector(1, "Available", ""))})
	s.Refresh(context.Background())

	if s.Snapshot().LoadError != "" {
		t.Error("load error not cleared after successful refresh")
	}
}

// An optimistic Occupied connector must survive a stale snapshot that
// still reports Available, and a later stopped push event must release it.
func TestMergePrecedenceOptimisticOccupiedBeatsStaleSnapshot(t *testing.T) {
	t.Parallel()
	backend := newFakeBackend()
	backend.setStations([]domain.WireStation{wireStation("cp-001", wireConnector(1, "Available", ""))})
	s := newTestSession(backend)
	s.Refresh(context.Background())

	// Optimistic start with no synchronous identifier.
	s.pollAttempts = 0
	res := s.StartCharging(context.Background(), "cp-001", 1, "RFID-1")
	if !res.OK {
		t.Fatalf("start rejected: %s", res.Message)
	}

	// Backend still reports Available: local Occupied must win.
	s.Refresh(context.Background())
	conn := s.connector(t, "cp-001", 1)
	if conn.Status != domain.StatusOccupied || !conn.AwaitingTxID {
		t.Fatalf("stale snapshot clobbered optimistic state: %+v", conn)
	}

	// Confirmation, then a stopped push event releases the connector.
	s.ApplyTransactionStarted(events.TransactionStarted{
		StationID: "cp-001", ConnectorID: 1, TransactionID: "txn-42", IDTag: "RFID-1",
	}, time.Now())
	s.ApplyTransactionStopped(events.TransactionStopped{
		StationID: "cp-001", TransactionID: "txn-42",
	}, time.Now())

	conn = s.connector(t, "cp-001", 1)
	if conn.Status != domain.StatusAvailable || conn.TransactionID != "" || conn.AwaitingTxID {
		t.Errorf("stop event did not release connector: %+v", conn)
	}
}

func TestMergePrecedenceExpiresAfterStalenessWindow(t *testing.T) {
	t.Parallel()
	backend := newFakeBackend()
	backend.setStations([]domain.WireStation{wireStation("cp-001", wireConnector(1, "Available", ""))})
	s := newTestSession(backend)
	s.Refresh(context.Background())

	s.pollAttempts = 0
	s.StartCharging(context.Background(), "cp-001", 1, "RFID-1")

	// Age the hold past the staleness window.
	s.mu.Lock()
	ref := ConnectorRef{StationID: "cp-001", ConnectorID: 1}
	h := s.holds[ref]
	h.since = h.since.Add(-optimisticHoldMax - time.Second)
	s.holds[ref] = h
	s.mu.Unlock()

	s.Refresh(context.Background())
	conn := s.connector(t, "cp-001", 1)
	if conn.Status != domain.StatusAvailable {
		t.Errorf("expired optimistic hold still beat the snapshot: %+v", conn)
	}
}

func TestMergePrecedenceLocalStopBeatsStaleOccupied(t *testing.T) {
	t.Parallel()
	backend := newFakeBackend()
	backend.setStations([]domain.WireStation{wireStation("cp-001", wireConnector(1, "Charging", "txn-7"))})
	s := newTestSession(backend)
	s.Refresh(context.Background())

	res := s.StopCharging(context.Background(), "cp-001", "txn-7")
	if !res.OK {
		t.Fatalf("stop rejected: %s", res.Message)
	}

	// Backend still reports the stopped session: local Available wins.
	s.Refresh(context.Background())
	conn := s.connector(t, "cp-001", 1)
	if conn.Status != domain.StatusAvailable {
		t.Errorf("stale snapshot resurrected stopped session: %+v", conn)
	}
}

func TestStatusChangedOverwritesUnconditionally(t *testing.T) {
	t.Parallel()
	backend := newFakeBackend()
	backend.setStations([]domain.WireStation{wireStation("cp-001", wireConnector(1, "Available", ""))})
	s := newTestSession(backend)
	s.Refresh(context.Background())

	s.pollAttempts = 0
	s.StartCharging(context.Background(), "cp-001", 1, "RFID-1")

	// Push events beat the optimistic hold.
	s.ApplyStatusChanged(events.StatusChanged{
		StationID: "cp-001", ConnectorID: 1, Status: "Available", ErrorCode: "NoError",
	}, time.Now())

	conn := s.connector(t, "cp-001", 1)
	if conn.Status != domain.StatusAvailable || conn.AwaitingTxID || conn.TransactionID != "" {
		t.Errorf("status push did not clear session residue: %+v", conn)
	}
}

func TestMeterValuesAccumulateEnergy(t *testing.T) {
	t.Parallel()
	backend := newFakeBackend()
	backend.setStations([]domain.WireStation{wireStation("cp-001", wireConnector(1, "Charging", "txn-7"))})
	backend.transactions = []domain.WireTransaction{{
		TransactionID: "txn-7", StationID: "cp-001", ConnectorID: 1,
		StartTime: time.Now().Format(time.RFC3339),
	}}
	s := newTestSession(backend)
	s.Refresh(context.Background())
	s.RefreshTransactions(context.Background())

	soc := 40.0
	s.ApplyMeterValues(events.MeterValues{
		StationID: "cp-001", ConnectorID: 1,
		PowerKW: 20, VoltageV: 400, CurrentA: 60, SoCPercent: &soc,
	}, time.Now())

	conn := s.connector(t, "cp-001", 1)
	if conn.CurrentPowerKW != 20 || conn.VoltageV != 400 {
		t.Errorf("instant readings not applied: %+v", conn)
	}

	var tx domain.Transaction
	for _, item := range s.Snapshot().Transactions {
		if item.ID == "txn-7" {
			tx = item
		}
	}
	want := 20 * (5.0 / 3600)
	if math.Abs(tx.KWh-want) > 1e-9 {
		t.Errorf("kWh = %v, want %v", tx.KWh, want)
	}
	if tx.Cost == nil || math.Abs(*tx.Cost-want*0.35) > 1e-9 {
		t.Errorf("cost = %v, want %v", tx.Cost, want*0.35)
	}

	// A second tick keeps the total non-decreasing.
	s.ApplyMeterValues(events.MeterValues{
		StationID: "cp-001", ConnectorID: 1, PowerKW: 10,
	}, time.Now())
	for _, item := range s.Snapshot().Transactions {
		if item.ID == "txn-7" && item.KWh < want {
			t.Errorf("energy decreased: %v < %v", item.KWh, want)
		}
	}
}

func TestTransactionStartedIsIdempotent(t *testing.T) {
	t.Parallel()
	backend := newFakeBackend()
	backend.setStations([]domain.WireStation{wireStation("cp-001", wireConnector(1, "Available", ""))})
	s := newTestSession(backend)
	s.Refresh(context.Background())

	ev := events.TransactionStarted{
		StationID: "cp-001", ConnectorID: 1, TransactionID: "txn-42", IDTag: "RFID-1",
	}
	s.ApplyTransactionStarted(ev, time.Now())
	s.ApplyTransactionStarted(ev, time.Now())

	snap := s.Snapshot()
	count := 0
	for _, tx := range snap.Transactions {
		if tx.ID == "txn-42" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("duplicate event created %d ledger entries", count)
	}
}

func TestTransactionStoppedReportsCompletion(t *testing.T) {
	t.Parallel()
	backend := newFakeBackend()
	backend.setStations([]domain.WireStation{wireStation("cp-001", wireConnector(1, "Available", ""))})
	s := newTestSession(backend)
	s.Refresh(context.Background())

	s.ApplyTransactionStarted(events.TransactionStarted{
		StationID: "cp-001", ConnectorID: 1, TransactionID: "txn-42", IDTag: "RFID-1",
	}, time.Now())
	s.ApplyTransactionStopped(events.TransactionStopped{
		StationID: "cp-001", TransactionID: "txn-42",
	}, time.Now())

	select {
	case <-backend.reported:
	case <-time.After(time.Second):
		t.Fatal("finalized transaction never reported")
	}
	backend.mu.Lock()
	defer backend.mu.Unlock()
	if len(backend.reports) != 1 || backend.reports[0].ID != "txn-42" {
		t.Errorf("unexpected reports: %+v", backend.reports)
	}
	if backend.reports[0].Reason != "Completed" {
		t.Errorf("reason = %q", backend.reports[0].Reason)
	}
}

// A local stop flips the ledger entry to Completed before the backend's
// stopped event lands; the event must still synthesize the missing stop
// meter reading and cost, and the upstream report must carry them.
func TestLocalStopThenEventFinalizesRecord(t *testing.T) {
	t.Parallel()
	backend := newFakeBackend()
	backend.setStations([]domain.WireStation{wireStation("cp-001", wireConnector(1, "Charging", "txn-9"))})
	backend.transactions = []domain.WireTransaction{{
		TransactionID: "txn-9", StationID: "cp-001", ConnectorID: 1,
		StartTime: time.Now().Format(time.RFC3339), MeterStart: 1000,
	}}
	s := newTestSession(backend)
	s.Refresh(context.Background())
	s.RefreshTransactions(context.Background())

	s.ApplyMeterValues(events.MeterValues{
		StationID: "cp-001", ConnectorID: 1, PowerKW: 20,
	}, time.Now())

	if res := s.StopCharging(context.Background(), "cp-001", "txn-9"); !res.OK {
		t.Fatalf("stop rejected: %s", res.Message)
	}
	s.ApplyTransactionStopped(events.TransactionStopped{
		StationID: "cp-001", TransactionID: "txn-9",
	}, time.Now())

	select {
	case <-backend.reported:
	case <-time.After(time.Second):
		t.Fatal("finalized transaction never reported")
	}

	wantKWh := 20 * (5.0 / 3600)
	backend.mu.Lock()
	report := backend.reports[len(backend.reports)-1]
	backend.mu.Unlock()
	if report.MeterStop == nil {
		t.Fatal("report shipped without a stop meter reading")
	}
	if math.Abs(*report.MeterStop-(1000+wantKWh*1000)) > 1e-6 {
		t.Errorf("meterStop = %v, want %v", *report.MeterStop, 1000+wantKWh*1000)
	}
	if report.Cost == nil || math.Abs(*report.Cost-wantKWh*0.35) > 1e-9 {
		t.Errorf("cost = %v, want %v", report.Cost, wantKWh*0.35)
	}

	tx, ok := s.ledger.Get("txn-9")
	if !ok || tx.MeterStopWh == nil || tx.Cost == nil {
		t.Errorf("ledger entry not finalized: %+v", tx)
	}
}

// A stopped event delivered twice, as happens when a locally republished
// stop is followed by the backend's own, must report upstream only once.
func TestTransactionStoppedReportsOnce(t *testing.T) {
	t.Parallel()
	backend := newFakeBackend()
	backend.setStations([]domain.WireStation{wireStation("cp-001", wireConnector(1, "Available", ""))})
	s := newTestSession(backend)
	s.Refresh(context.Background())

	s.ApplyTransactionStarted(events.TransactionStarted{
		StationID: "cp-001", ConnectorID: 1, TransactionID: "txn-42", IDTag: "RFID-1",
	}, time.Now())
	ev := events.TransactionStopped{StationID: "cp-001", TransactionID: "txn-42"}
	s.ApplyTransactionStopped(ev, time.Now())
	s.ApplyTransactionStopped(ev, time.Now())

	select {
	case <-backend.reported:
	case <-time.After(time.Second):
		t.Fatal("finalized transaction never reported")
	}
	select {
	case <-backend.reported:
		t.Fatal("duplicate stopped event produced a second report")
	case <-time.After(50 * time.Millisecond):
	}
	backend.mu.Lock()
	defer backend.mu.Unlock()
	if len(backend.reports) != 1 {
		t.Errorf("expected 1 report, got %d", len(backend.reports))
	}
}

// When a snapshot shows a session gone without any push event, its
// identifier must stop resolving, so a later stop fails fast locally
// instead of reaching the backend.
func TestRefreshPrunesVanishedIdentifiers(t *testing.T) {
	t.Parallel()
	backend := newFakeBackend()
	backend.setStations([]domain.WireStation{wireStation("cp-001", wireConnector(1, "Charging", "txn-9"))})
	s := newTestSession(backend)
	s.Refresh(context.Background())
	if _, ok := s.index.Get("txn-9"); !ok {
		t.Fatal("identifier not indexed after first refresh")
	}

	backend.setStations([]domain.WireStation{wireStation("cp-001", wireConnector(1, "Available", ""))})
	s.Refresh(context.Background())

	if _, ok := s.index.Get("txn-9"); ok {
		t.Error("vanished identifier still resolves")
	}
	res := s.StopCharging(context.Background(), "cp-001", "txn-9")
	if res.OK || res.Message != "no active transaction to stop" {
		t.Errorf("stop for vanished session did not fail fast: %+v", res)
	}
	backend.mu.Lock()
	calls := len(backend.stopCalls)
	backend.mu.Unlock()
	if calls != 0 {
		t.Error("backend was called for a vanished session")
	}
}

// Every connector holding an identifier must resolve through the index to
// exactly that connector.
func TestIndexConsistencyAfterRefresh(t *testing.T) {
	t.Parallel()
	backend := newFakeBackend()
	backend.setStations([]domain.WireStation{
		wireStation("cp-001", wireConnector(1, "Charging", "txn-1"), wireConnector(2, "Available", "")),
		wireStation("cp-002", wireConnector(1, "Charging", "txn-2")),
	})
	s := newTestSession(backend)
	s.Refresh(context.Background())

	for _, cp := range s.Snapshot().Stations {
		for _, conn := range cp.Connectors {
			if conn.TransactionID == "" {
				continue
			}
			ref, ok := s.index.Get(conn.TransactionID)
			if !ok {
				t.Errorf("identifier %q not in index", conn.TransactionID)
				continue
			}
			if ref.StationID != cp.ID || ref.ConnectorID != conn.ID {
				t.Errorf("index maps %q to %+v, connector is %s/%d", conn.TransactionID, ref, cp.ID, conn.ID)
			}
		}
	}
}
