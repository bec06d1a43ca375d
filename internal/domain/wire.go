package domain

import (
	"bytes"
	"encoding/json"
	"time"
)

// Wire-level shapes of the charging backend. The backend speaks a slightly
// different vocabulary than the dashboard (connector status "Charging"
// instead of "Occupied", transaction ids as either JSON numbers or
// strings); everything is normalized here, at the transport boundary, and
// nowhere else.

// WireID decodes a transaction identifier that arrives as either a JSON
// number or a JSON string. The canonical in-memory representation is a
// string.
type WireID string

func (w *WireID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*w = WireID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*w = WireID(n.String())
	return nil
}

type WireConnector struct {
	ID            int      `json:"id"`
	Type          string   `json:"type"`
	Status        string   `json:"status"`
	PowerKW       float64  `json:"power_kW"`
	SoC           *float64 `json:"soc"`
	TransactionID *WireID  `json:"transactionId"`
	Price         float64  `json:"price"`
	UpdatedAt     string   `json:"updatedAt"`
}

type WireStation struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Status     string          `json:"status"`
	Connectors []WireConnector `json:"connectors"`
}

type WireTransaction struct {
	TransactionID WireID   `json:"transactionId"`
	StationID     string   `json:"chargePointId"`
	ConnectorID   int      `json:"connectorId"`
	StartTime     string   `json:"startTime"`
	StopTime      *string  `json:"stopTime"`
	MeterStart    float64  `json:"meterStart"`
	MeterStop     *float64 `json:"meterStop"`
	Energy        *float64 `json:"energy"`
	TotalKWh      *float64 `json:"totalKWh"`
	Cost          *float64 `json:"cost"`
	IDTag         *string  `json:"idTag"`
	Reason        *string  `json:"reason"`
}

// CompletedReport is the payload posted back to the backend when a session
// is finalized locally.
type CompletedReport struct {
	ID          string     `json:"id"`
	StationID   string     `json:"chargePointId"`
	ConnectorID int        `json:"connectorId"`
	StartTime   time.Time  `json:"startTime"`
	StopTime    *time.Time `json:"stopTime"`
	MeterStart  float64    `json:"meterStart"`
	MeterStop   *float64   `json:"meterStop"`
	TotalKWh    float64    `json:"totalKWh"`
	Cost        *float64   `json:"cost"`
	IDTag       *string    `json:"idTag"`
	Energy      float64    `json:"energy"`
	Reason      string     `json:"reason"`
}

// The backend does not report a power limit per connector.
const defaultPowerLimitKW = 50

func mapWireStatus(s string) ConnectorStatus {
	switch s {
	case "Charging":
		return StatusOccupied
	case "Faulted":
		return StatusFaulted
	case "Unavailable":
		return StatusUnavailable
	case "Reserved":
		return StatusReserved
	default:
		return StatusAvailable
	}
}

func parseWireTime(s string, fallback time.Time) time.Time {
	if s == "" {
		return fallback
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	return fallback
}

// MapStation converts a backend station into the dashboard model.
func MapStation(ws WireStation, now time.Time) ChargePoint {
	cp := ChargePoint{
		ID:              ws.ID,
		Name:            ws.Name,
		Location:        "Remote station",
		FirmwareVersion: "N/A",
		Online:          ws.Status != "Unavailable",
		LastSeen:        now,
		Model:           "OCPP Station",
		Connectors:      make([]Connector, 0, len(ws.Connectors)),
	}
	for _, wc := range ws.Connectors {
		cp.Connectors = append(cp.Connectors, mapConnector(wc, ws.ID, now))
	}
	return cp
}

func mapConnector(wc WireConnector, stationID string, now time.Time) Connector {
	status := mapWireStatus(wc.Status)
	c := Connector{
		ID:             wc.ID,
		StationID:      stationID,
		Status:         status,
		PowerLimitKW:   defaultPowerLimitKW,
		CurrentPowerKW: wc.PowerKW,
		SoCPercent:     wc.SoC,
		LastUpdated:    parseWireTime(wc.UpdatedAt, now),
	}
	if wc.TransactionID != nil {
		c.TransactionID = string(*wc.TransactionID)
	}
	if status == StatusOccupied {
		// The backend reports no electrical detail; estimate until the
		// first meter.values event lands.
		c.VoltageV = 400
		c.CurrentA = 60
	}
	if status == StatusFaulted {
		c.ErrorCode = "UnknownError"
	}
	return c
}

// MapTransaction converts a backend transaction into the dashboard model.
// Energy falls back to the meter delta when the backend omits totals, and
// status is derived from the presence of a stop time.
func MapTransaction(wt WireTransaction, now time.Time) Transaction {
	tx := Transaction{
		ID:           string(wt.TransactionID),
		StationID:    wt.StationID,
		ConnectorID:  wt.ConnectorID,
		IDTag:        "UNKNOWN",
		StartTime:    parseWireTime(wt.StartTime, now),
		MeterStartWh: wt.MeterStart,
		MeterStopWh:  wt.MeterStop,
		Status:       TxActive,
		Cost:         wt.Cost,
	}
	if wt.IDTag != nil && *wt.IDTag != "" {
		tx.IDTag = *wt.IDTag
	}
	switch {
	case wt.TotalKWh != nil:
		tx.KWh = *wt.TotalKWh
	case wt.MeterStop != nil:
		tx.KWh = (*wt.MeterStop - wt.MeterStart) / 1000
	}
	if wt.StopTime != nil {
		stop := parseWireTime(*wt.StopTime, now)
		tx.StopTime = &stop
		tx.Status = TxCompleted
	}
	return tx
}

func MapStations(list []WireStation, now time.Time) []ChargePoint {
	out := make([]ChargePoint, 0, len(list))
	for _, ws := range list {
		out = append(out, MapStation(ws, now))
	}
	return out
}

func MapTransactions(list []WireTransaction, now time.Time) []Transaction {
	out := make([]Transaction, 0, len(list))
	for _, wt := range list {
		out = append(out, MapTransaction(wt, now))
	}
	return out
}
