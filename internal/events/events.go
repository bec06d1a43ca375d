package events

import "time"

// Event names carried by the charging backend's push feed.
const (
	NameStatusChanged      = "connector.statusChanged"
	NameMeterValues        = "meter.values"
	NameTransactionStarted = "transaction.started"
	NameTransactionStopped = "transaction.stopped"

	// Wildcard matches every event name at subscription time.
	Wildcard = "*"
)

// Payload is implemented by exactly one struct per event name, so handlers
// dispatch over a closed set instead of digging through untyped maps.
type Payload interface {
	eventName() string
}

type StatusChanged struct {
	StationID   string `json:"chargePointId"`
	ConnectorID int    `json:"connectorId"`
	Status      string `json:"status"`
	ErrorCode   string `json:"errorCode,omitempty"`
}

type MeterValues struct {
	StationID   string   `json:"chargePointId"`
	ConnectorID int      `json:"connectorId"`
	PowerKW     float64  `json:"power_kW"`
	VoltageV    float64  `json:"voltage_V"`
	CurrentA    float64  `json:"current_A"`
	SoCPercent  *float64 `json:"soc_percent"`
}

type TransactionStarted struct {
	StationID     string `json:"chargePointId"`
	ConnectorID   int    `json:"connectorId"`
	TransactionID string `json:"transactionId"`
	IDTag         string `json:"idTag,omitempty"`
}

type TransactionStopped struct {
	StationID     string `json:"chargePointId"`
	TransactionID string `json:"transactionId"`
}

func (StatusChanged) eventName() string      { return NameStatusChanged }
func (MeterValues) eventName() string        { return NameMeterValues }
func (TransactionStarted) eventName() string { return NameTransactionStarted }
func (TransactionStopped) eventName() string { return NameTransactionStopped }

// Event is the envelope delivered to subscribers.
type Event struct {
	Name      string
	Timestamp time.Time
	Data      Payload
}

// New builds an envelope for the payload, naming it after the payload type.
func New(data Payload, ts time.Time) Event {
	return Event{Name: data.eventName(), Timestamp: ts, Data: data}
}
