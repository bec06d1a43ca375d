package session

import "sync"

// ConnectorRef names one (station, connector) pair.
type ConnectorRef struct {
	StationID   string
	ConnectorID int
}

// TxIndex is the reverse lookup from transaction identifier to its owning
// connector. It is derived state only: the connector's TransactionID field
// remains the source of truth, and stop resolution falls back to scanning
// connectors when an identifier is missing here.
type TxIndex struct {
	mu      sync.RWMutex
	entries map[string]ConnectorRef
}

func NewTxIndex() *TxIndex {
	return &TxIndex{entries: make(map[string]ConnectorRef)}
}

func (ix *TxIndex) Put(txID, stationID string, connectorID int) {
	if txID == "" {
		return
	}
	ix.mu.Lock()
	ix.entries[txID] = ConnectorRef{StationID: stationID, ConnectorID: connectorID}
	ix.mu.Unlock()
}

func (ix *TxIndex) Get(txID string) (ConnectorRef, bool) {
	ix.mu.RLock()
	ref, ok := ix.entries[txID]
	ix.mu.RUnlock()
	return ref, ok
}

func (ix *TxIndex) Remove(txID string) {
	ix.mu.Lock()
	delete(ix.entries, txID)
	ix.mu.Unlock()
}

// PruneExcept drops every entry whose identifier is not in live, so
// identifiers no connector carries anymore stop resolving.
func (ix *TxIndex) PruneExcept(live map[string]struct{}) {
	ix.mu.Lock()
	for id := range ix.entries {
		if _, ok := live[id]; !ok {
			delete(ix.entries, id)
		}
	}
	ix.mu.Unlock()
}
