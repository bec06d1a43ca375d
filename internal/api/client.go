package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/mgdov/Electro-net/internal/domain"
)

// CommandResult is the structured outcome of a backend command. Transport
// failures and backend rejections both land here as OK=false with a
// message; callers never see a raised error for a well-formed rejection.
type CommandResult struct {
	OK            bool
	Message       string
	TransactionID string
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Message string          `json:"message"`
}

// Client wraps the charging backend's REST API.
type Client struct {
	baseURL string
	http    *http.Client
	log     zerolog.Logger
}

func New(baseURL string, log zerolog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
		log:     log,
	}
}

// Stations fetches the authoritative station snapshot.
func (c *Client) Stations(ctx context.Context) ([]domain.WireStation, error) {
	var out []domain.WireStation
	if err := c.getData(ctx, "/stations", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// RecentTransactions fetches the authoritative transaction snapshot.
func (c *Client) RecentTransactions(ctx context.Context, limit int) ([]domain.WireTransaction, error) {
	var out []domain.WireTransaction
	path := fmt.Sprintf("/transactions/recent?limit=%d", limit)
	if err := c.getData(ctx, path, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// RemoteStart asks the backend to begin a session. The backend may return
// the transaction identifier synchronously in data.transactionId.
func (c *Client) RemoteStart(ctx context.Context, stationID string, connectorID int, idTag string) CommandResult {
	payload := map[string]any{
		"chargePointId": stationID,
		"connectorId":   connectorID,
		"idTag":         idTag,
	}
	res := c.postCommand(ctx, "/admin/remote-start-session", payload)
	if res.OK && res.TransactionID == "" {
		c.log.Debug().Str("station", stationID).Int("connector", connectorID).
			Msg("start accepted without transaction id")
	}
	return res
}

// RemoteStop asks the backend to end a session. A digits-only identifier
// is downgraded to a JSON number here; this is the single place identifier
// shape is inspected.
func (c *Client) RemoteStop(ctx context.Context, stationID string, connectorID int, txID string) CommandResult {
	var wireID any = txID
	if n, err := strconv.ParseInt(txID, 10, 64); err == nil {
		wireID = n
	}
	payload := map[string]any{
		"chargePointId": stationID,
		"connectorId":   connectorID,
		"transactionId": wireID,
	}
	return c.postCommand(ctx, "/admin/remote-stop-session", payload)
}

// ReportCompleted posts a finalized session record. Best-effort: the
// caller treats false as a diagnostic, never an operator-facing failure.
func (c *Client) ReportCompleted(ctx context.Context, report domain.CompletedReport) bool {
	body, err := json.Marshal(report)
	if err != nil {
		return false
	}
	resp, err := c.do(ctx, http.MethodPost, "/transactions/recent", body)
	if err != nil {
		c.log.Error().Err(err).Str("tx", report.ID).Msg("completed-session report failed")
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		c.log.Error().Int("status", resp.StatusCode).Str("tx", report.ID).
			Msg("completed-session report rejected")
		return false
	}
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err == nil && !env.Success && env.Error != "" {
		c.log.Error().Str("error", env.Error).Str("tx", report.ID).
			Msg("completed-session report rejected")
		return false
	}
	return true
}

// DeleteTransaction removes one record server-side.
func (c *Client) DeleteTransaction(ctx context.Context, id string) CommandResult {
	resp, err := c.do(ctx, http.MethodDelete, "/transactions/recent/"+id, nil)
	if err != nil {
		return CommandResult{OK: false, Message: err.Error()}
	}
	defer resp.Body.Close()
	return parseCommandResponse(resp)
}

// ClearTransactions attempts bulk deletion. The endpoint's exact shape is
// not guaranteed server-side, so a fixed sequence of patterns is tried and
// a 404 means "try the next one".
func (c *Client) ClearTransactions(ctx context.Context) bool {
	attempts := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/transactions/recent/delete"},
		{http.MethodDelete, "/transactions/recent"},
		{http.MethodPost, "/transactions/delete"},
	}
	for _, a := range attempts {
		resp, err := c.do(ctx, a.method, a.path, nil)
		if err != nil {
			c.log.Error().Err(err).Str("path", a.path).Msg("clear attempt failed")
			continue
		}
		result := func() CommandResult {
			defer resp.Body.Close()
			if resp.StatusCode == http.StatusNotFound {
				c.log.Warn().Str("method", a.method).Str("path", a.path).
					Msg("clear endpoint not found, trying next pattern")
				return CommandResult{OK: false}
			}
			return parseCommandResponse(resp)
		}()
		if result.OK {
			return true
		}
	}
	c.log.Error().Msg("all clear attempts failed; endpoint likely not implemented")
	return false
}

func (c *Client) postCommand(ctx context.Context, path string, payload any) CommandResult {
	body, err := json.Marshal(payload)
	if err != nil {
		return CommandResult{OK: false, Message: err.Error()}
	}
	resp, err := c.do(ctx, http.MethodPost, path, body)
	if err != nil {
		return CommandResult{OK: false, Message: err.Error()}
	}
	defer resp.Body.Close()
	return parseCommandResponse(resp)
}

func parseCommandResponse(resp *http.Response) CommandResult {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return CommandResult{OK: false, Message: err.Error()}
	}

	var env envelope
	if jerr := json.Unmarshal(raw, &env); jerr != nil {
		if resp.StatusCode >= 300 {
			return CommandResult{OK: false, Message: fmt.Sprintf("HTTP %d", resp.StatusCode)}
		}
		return CommandResult{OK: true}
	}

	msg := env.Error
	if msg == "" {
		msg = env.Message
	}
	if resp.StatusCode >= 300 {
		if msg == "" {
			msg = fmt.Sprintf("HTTP %d", resp.StatusCode)
		}
		return CommandResult{OK: false, Message: msg}
	}
	if !env.Success {
		if msg == "" {
			msg = "command rejected"
		}
		return CommandResult{OK: false, Message: msg}
	}

	res := CommandResult{OK: true, Message: env.Message}
	if len(env.Data) > 0 {
		var data struct {
			TransactionID *domain.WireID `json:"transactionId"`
		}
		if jerr := json.Unmarshal(env.Data, &data); jerr == nil && data.TransactionID != nil {
			res.TransactionID = string(*data.TransactionID)
		}
	}
	return res
}

func (c *Client) getData(ctx context.Context, path string, out any) error {
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("request failed: %s", resp.Status)
	}
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	if !env.Success {
		if env.Error != "" {
			return fmt.Errorf("backend error: %s", env.Error)
		}
		return fmt.Errorf("backend request failed")
	}
	return json.Unmarshal(env.Data, out)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.http.Do(req)
}
