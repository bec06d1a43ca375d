package session

import (
	"context"
	"sync"

	"github.com/mgdov/Electro-net/internal/api"
	"github.com/mgdov/Electro-net/internal/domain"
)

type stopCall struct {
	StationID   string
	ConnectorID int
	TxID        string
}

type fakeBackend struct {
	mu sync.Mutex

	stations     []domain.WireStation
	stationsErr  error
	transactions []domain.WireTransaction

	startResult api.CommandResult
	stopResult  api.CommandResult
	delResult   api.CommandResult
	clearOK     bool
	reportOK    bool

	startCalls int
	stopCalls  []stopCall
	reports    []domain.CompletedReport
	reported   chan struct{}
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		startResult: api.CommandResult{OK: true},
		stopResult:  api.CommandResult{OK: true},
		delResult:   api.CommandResult{OK: true},
		clearOK:     true,
		reportOK:    true,
		reported:    make(chan struct{}, 16),
	}
}

func (f *fakeBackend) Stations(context.Context) ([]domain.WireStation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stationsErr != nil {
		return nil, f.stationsErr
	}
	return f.stations, nil
}

func (f *fakeBackend) RecentTransactions(context.Context, int) ([]domain.WireTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.transactions, nil
}

func (f *fakeBackend) RemoteStart(_ context.Context, _ string, _ int, _ string) api.CommandResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startCalls++
	return f.startResult
}

func (f *fakeBackend) RemoteStop(_ context.Context, stationID string, connectorID int, txID string) api.CommandResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopCalls = append(f.stopCalls, stopCall{stationID, connectorID, txID})
	return f.stopResult
}

func (f *fakeBackend) ReportCompleted(_ context.Context, report domain.CompletedReport) bool {
	f.mu.Lock()
	f.reports = append(f.reports, report)
	ok := f.reportOK
	f.mu.Unlock()
	f.reported <- struct{}{}
	return ok
}

func (f *fakeBackend) DeleteTransaction(context.Context, string) api.CommandResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.delResult
}

func (f *fakeBackend) ClearTransactions(context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clearOK
}

func (f *fakeBackend) setStations(list []domain.WireStation) {
	f.mu.Lock()
	f.stations = list
	f.mu.Unlock()
}

func wireStation(id string, connectors ...domain.WireConnector) domain.WireStation {
	return domain.WireStation{ID: id, Name: "Station " + id, Status: "Available", Connectors: connectors}
}

func wireConnector(id int, status string, txID string) domain.WireConnector {
	wc := domain.WireConnector{ID: id, Type: "Type2", Status: status, Price: 0.35}
	if txID != "" {
		w := domain.WireID(txID)
		wc.TransactionID = &w
	}
	return wc
}
