package events

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// The simulator decides between meter ticks and status noise by watching
// transaction traffic on the bus; both backend pushes and republished
// operator commands arrive the same way.
func TestSimulatorTracksBusyConnectors(t *testing.T) {
	t.Parallel()
	bus := NewBus(zerolog.Nop())
	sim := NewSimulator(bus, time.Hour, zerolog.Nop())
	sim.Start()
	defer sim.Stop()

	bus.Emit(New(TransactionStarted{
		StationID: "cp-001", ConnectorID: 2, TransactionID: "txn-9",
	}, time.Now()))

	sim.mu.Lock()
	id := sim.active[connectorKey("cp-001", 2)]
	sim.mu.Unlock()
	if id != "txn-9" {
		t.Fatalf("started connector not tracked as busy, got %q", id)
	}

	bus.Emit(New(TransactionStopped{
		StationID: "cp-001", TransactionID: "txn-9",
	}, time.Now()))

	sim.mu.Lock()
	_, busy := sim.active[connectorKey("cp-001", 2)]
	sim.mu.Unlock()
	if busy {
		t.Error("stopped connector still tracked as busy")
	}
}
