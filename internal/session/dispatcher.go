package session

import (
	"context"
	"time"

	"github.com/mgdov/Electro-net/internal/api"
	"github.com/mgdov/Electro-net/internal/domain"
	"github.com/mgdov/Electro-net/internal/events"
)

// Bounded poll for the backend-issued transaction identifier after a
// start command that returned none synchronously.
const (
	idPollInterval = 800 * time.Millisecond
	idPollAttempts = 10
)

// StartCharging issues a remote start for the connector. On acceptance the
// connector is occupied optimistically; if the backend returned no
// transaction identifier, a bounded poll hunts for it in subsequent
// snapshots. At most one command may be in flight per connector. A
// confirmed start is republished on the bus so other event consumers
// (the simulator's busy tracking, for one) see it alongside backend
// pushes.
func (s *Session) StartCharging(ctx context.Context, stationID string, connectorID int, idTag string) api.CommandResult {
	if idTag == "" {
		idTag = "FRONTEND_USER"
	}
	ref := ConnectorRef{StationID: stationID, ConnectorID: connectorID}
	if !s.acquire(ref) {
		return api.CommandResult{OK: false, Message: "a command is already in flight for this connector"}
	}

	res := s.backend.RemoteStart(ctx, stationID, connectorID, idTag)
	if !res.OK {
		s.release(ref)
		s.log.Warn().Str("station", stationID).Int("connector", connectorID).
			Str("reason", res.Message).Msg("remote start rejected")
		return res
	}

	now := time.Now()
	if res.TransactionID != "" {
		// Identifier known synchronously: no awaiting state needed.
		s.mu.Lock()
		if conn := s.findConnectorLocked(stationID, connectorID); conn != nil {
			conn.Status = domain.StatusOccupied
			conn.TransactionID = res.TransactionID
			conn.AwaitingTxID = false
			conn.LastUpdated = now
		}
		s.ledger.Confirm(stationID, connectorID, res.TransactionID, idTag, now)
		s.index.Put(res.TransactionID, stationID, connectorID)
		s.mu.Unlock()
		s.release(ref)
		s.notify()
		s.bus.Emit(events.New(events.TransactionStarted{
			StationID:     stationID,
			ConnectorID:   connectorID,
			TransactionID: res.TransactionID,
			IDTag:         idTag,
		}, now))
		return res
	}

	s.mu.Lock()
	if conn := s.findConnectorLocked(stationID, connectorID); conn != nil {
		conn.Status = domain.StatusOccupied
		conn.AwaitingTxID = true
		conn.LastUpdated = now
	}
	s.holds[ref] = hold{since: now}
	s.ledger.InsertOptimistic(stationID, connectorID, idTag, now)
	s.mu.Unlock()
	s.notify()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.release(ref)
		s.pollForIdentifier(ref, idTag)
	}()
	return res
}

// pollForIdentifier queries station snapshots until the backend surfaces
// a real identifier for the connector, up to the attempt budget. Exceeding
// the budget is degraded but not fatal: the connector stays Occupied with
// the awaiting flag, and a later push event or refresh completes the
// picture.
func (s *Session) pollForIdentifier(ref ConnectorRef, idTag string) {
	for attempt := 1; attempt <= s.pollAttempts; attempt++ {
		select {
		case <-s.done:
			return
		case <-time.After(s.pollInterval):
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		wire, err := s.backend.Stations(ctx)
		cancel()
		if err != nil {
			continue
		}

		txID := findWireTransactionID(wire, ref)
		if txID == "" {
			continue
		}
		if s.isClosed() {
			return
		}

		now := time.Now()
		s.mu.Lock()
		if conn := s.findConnectorLocked(ref.StationID, ref.ConnectorID); conn != nil {
			conn.Status = domain.StatusOccupied
			conn.TransactionID = txID
			conn.AwaitingTxID = false
			conn.LastUpdated = now
		}
		s.ledger.Confirm(ref.StationID, ref.ConnectorID, txID, idTag, now)
		s.index.Put(txID, ref.StationID, ref.ConnectorID)
		delete(s.holds, ref)
		s.mu.Unlock()
		s.notify()
		s.bus.Emit(events.New(events.TransactionStarted{
			StationID:     ref.StationID,
			ConnectorID:   ref.ConnectorID,
			TransactionID: txID,
			IDTag:         idTag,
		}, now))

		s.log.Info().Str("station", ref.StationID).Int("connector", ref.ConnectorID).
			Str("tx", txID).Int("attempt", attempt).Msg("transaction identifier confirmed")
		return
	}

	s.log.Warn().Str("station", ref.StationID).Int("connector", ref.ConnectorID).
		Msg("identifier poll budget exhausted; waiting for push event or refresh")
}

// StopCharging resolves the connector owning the transaction and issues a
// remote stop. Resolution consults the index first, then scans connector
// state; with no match the request fails outright rather than guessing a
// connector. An accepted stop is republished on the bus like a confirmed
// start.
func (s *Session) StopCharging(ctx context.Context, stationID, txID string) api.CommandResult {
	s.mu.Lock()
	ref, ok := s.index.Get(txID)
	if !ok {
		ref, ok = s.scanForTxLocked(stationID, txID)
	}
	s.mu.Unlock()
	if !ok {
		s.log.Error().Str("station", stationID).Str("tx", txID).Msg("stop request has no active transaction")
		return api.CommandResult{OK: false, Message: "no active transaction to stop"}
	}

	if !s.acquire(ref) {
		return api.CommandResult{OK: false, Message: "a command is already in flight for this connector"}
	}
	defer s.release(ref)

	res := s.backend.RemoteStop(ctx, ref.StationID, ref.ConnectorID, txID)
	if !res.OK {
		s.log.Warn().Str("station", ref.StationID).Int("connector", ref.ConnectorID).
			Str("reason", res.Message).Msg("remote stop rejected")
		return res
	}

	now := time.Now()
	s.mu.Lock()
	if conn := s.findConnectorLocked(ref.StationID, ref.ConnectorID); conn != nil && conn.TransactionID == txID {
		conn.Status = domain.StatusAvailable
		conn.TransactionID = ""
		conn.AwaitingTxID = false
		conn.CurrentPowerKW = 0
		conn.SoCPercent = nil
		conn.LastUpdated = now
	}
	s.holds[ref] = hold{since: now, stoppedTx: txID}
	s.ledger.MarkStopped(txID, now)
	s.index.Remove(txID)
	s.mu.Unlock()
	s.notify()
	s.bus.Emit(events.New(events.TransactionStopped{
		StationID:     ref.StationID,
		TransactionID: txID,
	}, now))
	return res
}

func (s *Session) scanForTxLocked(stationID, txID string) (ConnectorRef, bool) {
	for _, cp := range s.stations {
		if stationID != "" && cp.ID != stationID {
			continue
		}
		for _, conn := range cp.Connectors {
			if conn.TransactionID == txID {
				return ConnectorRef{StationID: cp.ID, ConnectorID: conn.ID}, true
			}
		}
	}
	return ConnectorRef{}, false
}

func (s *Session) acquire(ref ConnectorRef) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.pending[ref]; busy {
		return false
	}
	s.pending[ref] = struct{}{}
	return true
}

func (s *Session) release(ref ConnectorRef) {
	s.mu.Lock()
	delete(s.pending, ref)
	s.mu.Unlock()
}

func findWireTransactionID(wire []domain.WireStation, ref ConnectorRef) string {
	for _, ws := range wire {
		if ws.ID != ref.StationID {
			continue
		}
		for _, wc := range ws.Connectors {
			if wc.ID == ref.ConnectorID && wc.TransactionID != nil {
				return string(*wc.TransactionID)
			}
		}
	}
	return ""
}
