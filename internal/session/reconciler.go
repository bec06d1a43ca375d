package session

import (
	"context"
	"time"

	"github.com/mgdov/Electro-net/internal/domain"
	"github.com/mgdov/Electro-net/internal/events"
)

// Refresh pulls the authoritative station snapshot and merges it against
// local state. Stations unknown locally are inserted as-is; for known
// stations the merge runs connector-by-connector so an unconfirmed
// optimistic transition is not clobbered by a snapshot the backend
// computed before the operator's command landed. Push events remain
// authoritative: any hold is released the moment one supersedes it.
func (s *Session) Refresh(ctx context.Context) {
	wire, err := s.backend.Stations(ctx)
	if err != nil {
		s.mu.Lock()
		s.loadError = err.Error()
		s.mu.Unlock()
		s.log.Error().Err(err).Msg("station refresh failed")
		s.notify()
		return
	}
	now := time.Now()
	incoming := domain.MapStations(wire, now)

	s.mu.Lock()
	s.loadError = ""
	if len(s.stations) == 0 {
		s.stations = incoming
	} else {
		s.stations = s.mergeStations(incoming, now)
	}
	s.reindexLocked()
	s.mu.Unlock()
	s.notify()
}

// RefreshTransactions pulls the authoritative transaction snapshot into
// the ledger.
func (s *Session) RefreshTransactions(ctx context.Context) {
	wire, err := s.backend.RecentTransactions(ctx, snapshotLimit)
	if err != nil {
		s.log.Error().Err(err).Msg("transaction refresh failed")
		return
	}
	mapped := domain.MapTransactions(wire, time.Now())

	s.mu.Lock()
	s.ledger.UpsertFromSnapshot(mapped)
	s.mu.Unlock()
	s.notify()
}

func (s *Session) mergeStations(incoming []domain.ChargePoint, now time.Time) []domain.ChargePoint {
	merged := make([]domain.ChargePoint, 0, len(incoming))
	for _, in := range incoming {
		local, ok := findStation(s.stations, in.ID)
		if !ok {
			merged = append(merged, in)
			continue
		}
		for i := range in.Connectors {
			inc := &in.Connectors[i]
			cur, ok := findConnector(local, inc.ID)
			if !ok {
				continue
			}
			if s.keepLocalLocked(cur, *inc, now) {
				*inc = *cur
			}
		}
		merged = append(merged, in)
	}
	return merged
}

// keepLocalLocked decides whether the locally-held connector record beats
// the snapshot's. Only unconfirmed optimistic transitions win, and only
// inside the bounded staleness window.
func (s *Session) keepLocalLocked(local *domain.Connector, incoming domain.Connector, now time.Time) bool {
	ref := ConnectorRef{StationID: local.StationID, ConnectorID: local.ID}
	h, held := s.holds[ref]
	if !held {
		return false
	}
	if now.Sub(h.since) > optimisticHoldMax {
		delete(s.holds, ref)
		s.log.Warn().Str("station", ref.StationID).Int("connector", ref.ConnectorID).
			Msg("optimistic hold expired, yielding to snapshot")
		return false
	}

	// Optimistic start: local Occupied with an unconfirmed session must
	// not flicker back to Available on a stale poll.
	if local.Status == domain.StatusOccupied && incoming.Status == domain.StatusAvailable {
		if local.AwaitingTxID {
			return true
		}
		if tx, ok := s.ledger.Get(local.TransactionID); ok && tx.Pending {
			return true
		}
	}

	// Optimistic stop: local Available must not flicker back to Occupied
	// while the snapshot still reports the session we just ended (or an
	// anonymous occupation).
	if local.Status == domain.StatusAvailable && incoming.Status == domain.StatusOccupied {
		if incoming.TransactionID == "" || incoming.TransactionID == h.stoppedTx {
			return true
		}
	}

	return false
}

// ApplyStatusChanged overwrites the named connector's status
// unconditionally: push events always beat the merge heuristic. A push to
// Available also clears any session residue so the status invariant holds.
func (s *Session) ApplyStatusChanged(p events.StatusChanged, ts time.Time) {
	s.mu.Lock()
	if conn := s.findConnectorLocked(p.StationID, p.ConnectorID); conn != nil {
		conn.Status = domain.ConnectorStatus(p.Status)
		conn.ErrorCode = p.ErrorCode
		conn.LastUpdated = ts
		if conn.Status == domain.StatusAvailable {
			if conn.TransactionID != "" {
				s.index.Remove(conn.TransactionID)
			}
			conn.TransactionID = ""
			conn.AwaitingTxID = false
		}
		delete(s.holds, ConnectorRef{StationID: p.StationID, ConnectorID: p.ConnectorID})
	}
	s.mu.Unlock()
	s.notify()
}

// ApplyMeterValues overwrites the connector's instantaneous readings and
// integrates power into the active transaction's energy.
func (s *Session) ApplyMeterValues(p events.MeterValues, ts time.Time) {
	s.mu.Lock()
	if conn := s.findConnectorLocked(p.StationID, p.ConnectorID); conn != nil {
		conn.CurrentPowerKW = p.PowerKW
		conn.VoltageV = p.VoltageV
		conn.CurrentA = p.CurrentA
		conn.SoCPercent = p.SoCPercent
		conn.LastUpdated = ts
	}
	deltaKWh := p.PowerKW * (s.opts.MeterInterval.Seconds() / 3600)
	s.ledger.AddEnergy(p.StationID, p.ConnectorID, deltaKWh, s.opts.UnitPrice)
	s.mu.Unlock()
	s.notify()
}

// ApplyTransactionStarted records the backend-confirmed identifier for a
// session on the named connector. Idempotent: a repeat delivery finds the
// identifier already confirmed and changes nothing.
func (s *Session) ApplyTransactionStarted(p events.TransactionStarted, ts time.Time) {
	s.mu.Lock()
	if conn := s.findConnectorLocked(p.StationID, p.ConnectorID); conn != nil {
		conn.Status = domain.StatusOccupied
		conn.TransactionID = p.TransactionID
		conn.AwaitingTxID = false
		conn.LastUpdated = ts
	}
	s.ledger.Confirm(p.StationID, p.ConnectorID, p.TransactionID, p.IDTag, ts)
	s.index.Put(p.TransactionID, p.StationID, p.ConnectorID)
	// Confirmed state is backend truth; no hold needed anymore.
	delete(s.holds, ConnectorRef{StationID: p.StationID, ConnectorID: p.ConnectorID})
	s.mu.Unlock()
	s.notify()
}

// ApplyTransactionStopped frees the connector owning the identifier,
// finalizes the ledger entry, and reports the completed session upstream.
// The report is fire-and-forget (a failure is logged and otherwise
// swallowed, since the local record is already authoritative enough for
// the operator) and ships at most once per identifier, so a locally
// republished stop followed by the backend's own event does not report
// twice.
func (s *Session) ApplyTransactionStopped(p events.TransactionStopped, ts time.Time) {
	s.mu.Lock()
	ref := s.refForTxLocked(p.TransactionID)
	for i := range s.stations {
		cp := &s.stations[i]
		if cp.ID != p.StationID {
			continue
		}
		for j := range cp.Connectors {
			conn := &cp.Connectors[j]
			if conn.TransactionID == p.TransactionID {
				conn.Status = domain.StatusAvailable
				conn.TransactionID = ""
				conn.AwaitingTxID = false
				conn.CurrentPowerKW = 0
				conn.SoCPercent = nil
				conn.LastUpdated = ts
			}
		}
	}
	s.index.Remove(p.TransactionID)
	delete(s.holds, ref)
	final, ok := s.ledger.Complete(p.TransactionID, ts, s.opts.UnitPrice)
	if ok {
		if _, dup := s.reported[final.ID]; dup {
			ok = false
		} else {
			s.reported[final.ID] = struct{}{}
		}
	}
	s.mu.Unlock()
	s.notify()

	if ok {
		s.reportCompleted(final)
	}
}

func (s *Session) reportCompleted(tx domain.Transaction) {
	report := domain.CompletedReport{
		ID:          tx.ID,
		StationID:   tx.StationID,
		ConnectorID: tx.ConnectorID,
		StartTime:   tx.StartTime,
		StopTime:    tx.StopTime,
		MeterStart:  tx.MeterStartWh,
		MeterStop:   tx.MeterStopWh,
		TotalKWh:    tx.KWh,
		Cost:        tx.Cost,
		Energy:      tx.KWh,
		Reason:      "Completed",
	}
	if tx.IDTag != "" {
		tag := tx.IDTag
		report.IDTag = &tag
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if !s.backend.ReportCompleted(ctx, report) {
			s.log.Warn().Str("tx", tx.ID).Msg("completed-session report dropped")
		}
	}()
}

// reindexLocked rebuilds index entries from connector truth after a
// snapshot merge: every connector holding an identifier resolves, and
// identifiers the merged state no longer carries are pruned so a stop
// for a vanished session fails fast locally.
func (s *Session) reindexLocked() {
	live := make(map[string]struct{})
	for i := range s.stations {
		cp := &s.stations[i]
		for j := range cp.Connectors {
			conn := &cp.Connectors[j]
			if conn.TransactionID != "" {
				live[conn.TransactionID] = struct{}{}
				s.index.Put(conn.TransactionID, cp.ID, conn.ID)
			}
		}
	}
	s.index.PruneExcept(live)
}

func (s *Session) findConnectorLocked(stationID string, connectorID int) *domain.Connector {
	for i := range s.stations {
		if s.stations[i].ID != stationID {
			continue
		}
		cp := &s.stations[i]
		for j := range cp.Connectors {
			if cp.Connectors[j].ID == connectorID {
				return &cp.Connectors[j]
			}
		}
	}
	return nil
}

func (s *Session) refForTxLocked(txID string) ConnectorRef {
	if ref, ok := s.index.Get(txID); ok {
		return ref
	}
	for _, cp := range s.stations {
		for _, conn := range cp.Connectors {
			if conn.TransactionID == txID {
				return ConnectorRef{StationID: cp.ID, ConnectorID: conn.ID}
			}
		}
	}
	return ConnectorRef{}
}

func findStation(list []domain.ChargePoint, id string) (*domain.ChargePoint, bool) {
	for i := range list {
		if list[i].ID == id {
			return &list[i], true
		}
	}
	return nil, false
}

func findConnector(cp *domain.ChargePoint, id int) (*domain.Connector, bool) {
	for i := range cp.Connectors {
		if cp.Connectors[i].ID == id {
			return &cp.Connectors[i], true
		}
	}
	return nil, false
}
