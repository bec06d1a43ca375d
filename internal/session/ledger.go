package session

import (
	"fmt"
	"time"

	"github.com/mgdov/Electro-net/internal/domain"
)

// Ledger holds the ordered-by-recency transaction collection, at most one
// entry per identifier. It carries no lock of its own: the owning session
// serializes access.
type Ledger struct {
	items []domain.Transaction
}

func NewLedger() *Ledger {
	return &Ledger{}
}

// Get returns a copy of the entry with the given identifier.
func (l *Ledger) Get(id string) (domain.Transaction, bool) {
	for _, tx := range l.items {
		if tx.ID == id {
			return tx, true
		}
	}
	return domain.Transaction{}, false
}

// Snapshot returns a copy of the full collection, newest first.
func (l *Ledger) Snapshot() []domain.Transaction {
	out := make([]domain.Transaction, len(l.items))
	copy(out, l.items)
	return out
}

func (l *Ledger) Len() int { return len(l.items) }

// UpsertFromSnapshot merges the authoritative snapshot. Snapshot entries
// replace local ones with matching identifiers; local entries still
// in flight (pending, or active but not yet visible in the snapshot) are
// preserved at the head so an optimistic start is never dropped by a stale
// poll.
func (l *Ledger) UpsertFromSnapshot(snapshot []domain.Transaction) {
	seen := make(map[string]struct{}, len(snapshot))
	merged := make([]domain.Transaction, 0, len(snapshot))
	for _, tx := range snapshot {
		if _, dup := seen[tx.ID]; dup {
			continue
		}
		seen[tx.ID] = struct{}{}
		merged = append(merged, tx)
	}

	var kept []domain.Transaction
	for _, tx := range l.items {
		if _, inSnap := seen[tx.ID]; inSnap {
			continue
		}
		if tx.Pending || tx.Status == domain.TxActive {
			kept = append(kept, tx)
		}
	}
	l.items = append(kept, merged...)
}

// InsertOptimistic adds a pending entry for a start command whose real
// identifier is not yet known, and returns the local token.
func (l *Ledger) InsertOptimistic(stationID string, connectorID int, idTag string, now time.Time) domain.Transaction {
	tx := domain.Transaction{
		ID:          fmt.Sprintf("optimistic-%s-%d-%d", stationID, connectorID, now.UnixNano()),
		Pending:     true,
		StationID:   stationID,
		ConnectorID: connectorID,
		IDTag:       idTag,
		StartTime:   now,
		Status:      domain.TxActive,
	}
	l.items = append([]domain.Transaction{tx}, l.items...)
	return tx
}

// Confirm records the backend-issued identifier for a started session on
// the given connector. A pending entry for the pair is rewritten in place
// (same position, identifier replaced); otherwise a new entry is inserted
// at the head. Applying the same confirmation twice is a no-op.
func (l *Ledger) Confirm(stationID string, connectorID int, txID, idTag string, now time.Time) {
	// Already confirmed.
	for i := range l.items {
		if l.items[i].ID == txID {
			l.items[i].Pending = false
			return
		}
	}

	for i := range l.items {
		tx := &l.items[i]
		if tx.Pending && tx.StationID == stationID && tx.ConnectorID == connectorID {
			tx.ID = txID
			tx.Pending = false
			if idTag != "" {
				tx.IDTag = idTag
			}
			return
		}
	}

	tag := idTag
	if tag == "" {
		tag = "RFID-UNKNOWN"
	}
	l.items = append([]domain.Transaction{{
		ID:          txID,
		StationID:   stationID,
		ConnectorID: connectorID,
		IDTag:       tag,
		StartTime:   now,
		Status:      domain.TxActive,
	}}, l.items...)
}

// AddEnergy accumulates deltaKWh into the active entry for the pair and
// recomputes its cost. Negative deltas are ignored so accumulated energy
// never decreases.
func (l *Ledger) AddEnergy(stationID string, connectorID int, deltaKWh, unitPrice float64) {
	if deltaKWh < 0 {
		return
	}
	for i := range l.items {
		tx := &l.items[i]
		if tx.StationID == stationID && tx.ConnectorID == connectorID && tx.Active() {
			tx.KWh += deltaKWh
			cost := tx.KWh * unitPrice
			tx.Cost = &cost
			return
		}
	}
}

// Complete marks the entry finished. When the backend never reported a
// stop meter reading, a synthetic one is derived from the accumulated
// energy so the record stays internally consistent. An entry a local
// stop already flipped to Completed still gets its missing meter stop
// and cost filled in here.
func (l *Ledger) Complete(id string, stopTime time.Time, unitPrice float64) (domain.Transaction, bool) {
	for i := range l.items {
		tx := &l.items[i]
		if tx.ID != id {
			continue
		}
		if tx.Status == domain.TxCompleted {
			if tx.MeterStopWh == nil {
				stop := tx.MeterStartWh + tx.KWh*1000
				tx.MeterStopWh = &stop
			}
			if tx.Cost == nil {
				cost := tx.KWh * unitPrice
				tx.Cost = &cost
			}
			return *tx, true
		}
		tx.Status = domain.TxCompleted
		tx.StopTime = &stopTime
		if tx.MeterStopWh == nil {
			stop := tx.MeterStartWh + tx.KWh*1000
			tx.MeterStopWh = &stop
		}
		if tx.KWh == 0 && tx.MeterStopWh != nil {
			tx.KWh = (*tx.MeterStopWh - tx.MeterStartWh) / 1000
		}
		cost := tx.KWh * unitPrice
		tx.Cost = &cost
		return *tx, true
	}
	return domain.Transaction{}, false
}

// MarkStopped records a locally issued stop before the backend's stopped
// event lands: status flips to Completed with the stop time, final energy
// left for the event or next snapshot to settle.
func (l *Ledger) MarkStopped(id string, stopTime time.Time) {
	for i := range l.items {
		tx := &l.items[i]
		if tx.ID == id && tx.Status == domain.TxActive {
			tx.Status = domain.TxCompleted
			tx.StopTime = &stopTime
			return
		}
	}
}

// Remove deletes one entry, returning it for rollback.
func (l *Ledger) Remove(id string) (domain.Transaction, bool) {
	for i, tx := range l.items {
		if tx.ID == id {
			l.items = append(l.items[:i:i], l.items[i+1:]...)
			return tx, true
		}
	}
	return domain.Transaction{}, false
}

// Clear empties the ledger, returning the prior contents for rollback.
func (l *Ledger) Clear() []domain.Transaction {
	prev := l.items
	l.items = nil
	return prev
}

// Restore reinstates a previously captured collection.
func (l *Ledger) Restore(items []domain.Transaction) {
	l.items = items
}
