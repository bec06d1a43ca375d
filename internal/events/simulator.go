package events

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Simulator stands in for the backend's push feed during development. It
// emits the same typed events the live feed would: meter ticks for
// connectors it knows to be charging, status noise and idle readings for
// the rest. It learns which connectors are busy by watching the bus's own
// transaction.started/stopped traffic.
type Simulator struct {
	bus      *Bus
	log      zerolog.Logger
	interval time.Duration
	rng      *rand.Rand

	mu     sync.Mutex
	active map[string]string // "station-connector" -> transaction id

	unsubStarted func()
	unsubStopped func()
	done         chan struct{}
	wg           sync.WaitGroup
}

func NewSimulator(bus *Bus, interval time.Duration, log zerolog.Logger) *Simulator {
	return &Simulator{
		bus:      bus,
		log:      log,
		interval: interval,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		active:   make(map[string]string),
	}
}

func (s *Simulator) Start() {
	s.unsubStarted = s.bus.Subscribe(NameTransactionStarted, func(ev Event) {
		p := ev.Data.(TransactionStarted)
		s.mu.Lock()
		s.active[connectorKey(p.StationID, p.ConnectorID)] = p.TransactionID
		s.mu.Unlock()
	})
	s.unsubStopped = s.bus.Subscribe(NameTransactionStopped, func(ev Event) {
		p := ev.Data.(TransactionStopped)
		s.mu.Lock()
		for key, id := range s.active {
			if id == p.TransactionID {
				delete(s.active, key)
				break
			}
		}
		s.mu.Unlock()
	})

	s.done = make(chan struct{})
	s.wg.Add(1)
	go s.run()
	s.log.Info().Dur("interval", s.interval).Msg("event simulator started")
}

func (s *Simulator) Stop() {
	if s.done == nil {
		return
	}
	close(s.done)
	s.wg.Wait()
	s.unsubStarted()
	s.unsubStopped()
	s.done = nil
	s.log.Info().Msg("event simulator stopped")
}

func (s *Simulator) run() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *Simulator) tick() {
	stationID := fmt.Sprintf("cp-%03d", s.rng.Intn(4)+1)
	connectorID := s.rng.Intn(4) + 1

	s.mu.Lock()
	_, busy := s.active[connectorKey(stationID, connectorID)]
	s.mu.Unlock()

	now := time.Now()
	if busy {
		soc := float64(s.rng.Intn(101))
		s.bus.Emit(New(MeterValues{
			StationID:   stationID,
			ConnectorID: connectorID,
			PowerKW:     20 + s.rng.Float64()*10,
			VoltageV:    400,
			CurrentA:    60,
			SoCPercent:  &soc,
		}, now))
		return
	}

	if s.rng.Float64() > 0.5 {
		// Occupied never appears here: a connector only becomes busy
		// through a start command.
		status := "Available"
		errCode := "NoError"
		if s.rng.Float64() > 0.98 {
			status = "Faulted"
			errCode = "ConnectorLockFailure"
		}
		s.bus.Emit(New(StatusChanged{
			StationID:   stationID,
			ConnectorID: connectorID,
			Status:      status,
			ErrorCode:   errCode,
		}, now))
		return
	}

	s.bus.Emit(New(MeterValues{
		StationID:   stationID,
		ConnectorID: connectorID,
		PowerKW:     0,
		VoltageV:    380 + s.rng.Float64()*20,
		CurrentA:    0,
	}, now))
}

func connectorKey(stationID string, connectorID int) string {
	return fmt.Sprintf("%s-%d", stationID, connectorID)
}
