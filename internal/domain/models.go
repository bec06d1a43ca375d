package domain

import "time"

type ConnectorStatus string

const (
	StatusAvailable   ConnectorStatus = "Available"
	StatusOccupied    ConnectorStatus = "Occupied"
	StatusFaulted     ConnectorStatus = "Faulted"
	StatusUnavailable ConnectorStatus = "Unavailable"
	StatusReserved    ConnectorStatus = "Reserved"
)

type TransactionStatus string

const (
	TxActive    TransactionStatus = "Active"
	TxCompleted TransactionStatus = "Completed"
	TxFailed    TransactionStatus = "Failed"
)

// Connector is a single charging socket on a station. A connector is
// Occupied exactly when it holds a transaction id or the awaiting flag;
// Available implies neither.
type Connector struct {
	ID             int             `json:"connectorId"`
	StationID      string          `json:"chargePointId"`
	Status         ConnectorStatus `json:"status"`
	TransactionID  string          `json:"currentTransactionId,omitempty"`
	AwaitingTxID   bool            `json:"awaitingTransactionId,omitempty"`
	PowerLimitKW   float64         `json:"powerLimit_kW"`
	CurrentPowerKW float64         `json:"currentPower_kW"`
	VoltageV       float64         `json:"voltage_V"`
	CurrentA       float64         `json:"current_A"`
	SoCPercent     *float64        `json:"soc_percent"`
	ErrorCode      string          `json:"errorCode,omitempty"`
	LastUpdated    time.Time       `json:"lastUpdated"`
}

// Busy reports whether the connector holds an active or pending session.
func (c Connector) Busy() bool {
	return c.TransactionID != "" || c.AwaitingTxID
}

type ChargePoint struct {
	ID              string      `json:"id"`
	Name            string      `json:"name"`
	Location        string      `json:"location"`
	FirmwareVersion string      `json:"firmwareVersion"`
	Online          bool        `json:"online"`
	LastSeen        time.Time   `json:"lastSeen"`
	Model           string      `json:"model,omitempty"`
	Vendor          string      `json:"vendor,omitempty"`
	Connectors      []Connector `json:"connectors"`
}

// Transaction is one charging session. Pending marks an entry whose
// identifier is a local token not yet confirmed by the backend; the flag
// is cleared when the backend-issued identifier replaces the token.
type Transaction struct {
	ID           string            `json:"id"`
	Pending      bool              `json:"pending,omitempty"`
	StationID    string            `json:"chargePointId"`
	ConnectorID  int               `json:"connectorId"`
	IDTag        string            `json:"idTag"`
	StartTime    time.Time         `json:"startTime"`
	StopTime     *time.Time        `json:"stopTime"`
	MeterStartWh float64           `json:"meterStart_Wh"`
	MeterStopWh  *float64          `json:"meterStop_Wh"`
	KWh          float64           `json:"kWh"`
	Status       TransactionStatus `json:"status"`
	Cost         *float64          `json:"cost,omitempty"`
	UserID       string            `json:"userId,omitempty"`
}

func (t Transaction) Active() bool { return t.Status == TxActive }
