package session

import (
	"context"

	"github.com/mgdov/Electro-net/internal/api"
	"github.com/mgdov/Electro-net/internal/domain"
)

// Backend is the slice of the charging backend the session consumes.
// Implemented by api.Client; tests substitute a fake.
type Backend interface {
	Stations(ctx context.Context) ([]domain.WireStation, error)
	RecentTransactions(ctx context.Context, limit int) ([]domain.WireTransaction, error)
	RemoteStart(ctx context.Context, stationID string, connectorID int, idTag string) api.CommandResult
	RemoteStop(ctx context.Context, stationID string, connectorID int, txID string) api.CommandResult
	ReportCompleted(ctx context.Context, report domain.CompletedReport) bool
	DeleteTransaction(ctx context.Context, id string) api.CommandResult
	ClearTransactions(ctx context.Context) bool
}
