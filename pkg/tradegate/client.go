// Package tradegate is a Go SDK for the tradegate-server API.
package tradegate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"tradegate/internal/api"
	"tradegate/internal/domain"
)

// Client provides a Go SDK for interacting with the tradegate-server API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new tradegate API client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
	Reasons    []string
	// OrderStatus is set on state conflicts.
	OrderStatus string
}

func (e *APIError) Error() string {
	if len(e.Reasons) > 0 {
		return fmt.Sprintf("tradegate: %d: %s", e.StatusCode, strings.Join(e.Reasons, "; "))
	}
	return fmt.Sprintf("tradegate: %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.StatusCode == http.StatusNotFound
}

// ---------------------------------------------------------------------------
// Orders
// ---------------------------------------------------------------------------

// SubmitOrder submits a new order.
func (c *Client) SubmitOrder(ctx context.Context, req api.SubmitOrderRequest) (*api.OrderView, error) {
	var o api.OrderView
	if err := c.do(ctx, http.MethodPost, "/api/v1/orders", req, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

// GetOrder retrieves an order.
func (c *Client) GetOrder(ctx context.Context, id string) (*api.OrderView, error) {
	var o api.OrderView
	if err := c.do(ctx, http.MethodGet, "/api/v1/orders/"+url.PathEscape(id), nil, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

// CancelOrder cancels a working order.
func (c *Client) CancelOrder(ctx context.Context, id, reason string) (*api.OrderView, error) {
	path := "/api/v1/orders/" + url.PathEscape(id)
	if reason != "" {
		path += "?reason=" + url.QueryEscape(reason)
	}
	var o api.OrderView
	if err := c.do(ctx, http.MethodDelete, path, nil, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

// AcceptOrder records the venue acknowledgement of an order.
func (c *Client) AcceptOrder(ctx context.Context, id string) (*api.OrderView, error) {
	var o api.OrderView
	if err := c.do(ctx, http.MethodPost, "/api/v1/orders/"+url.PathEscape(id)+"/accept", nil, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

// RecordFill reports an execution against an order.
func (c *Client) RecordFill(ctx context.Context, orderID string, req api.FillRequest) (*api.FillView, error) {
	var f api.FillView
	if err := c.do(ctx, http.MethodPost, "/api/v1/orders/"+url.PathEscape(orderID)+"/fills", req, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// Reconcile closes an order awaiting reconciliation.
func (c *Client) Reconcile(ctx context.Context, orderID string, req api.ReconcileRequest) (*api.OrderView, error) {
	var o api.OrderView
	if err := c.do(ctx, http.MethodPost, "/api/v1/orders/"+url.PathEscape(orderID)+"/reconcile", req, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

// Executions lists the fills of an order.
func (c *Client) Executions(ctx context.Context, orderID string) ([]domain.Execution, error) {
	var out []domain.Execution
	err := c.do(ctx, http.MethodGet, "/api/v1/orders/"+url.PathEscape(orderID)+"/executions", nil, &out)
	return out, err
}

// ---------------------------------------------------------------------------
// Accounts
// ---------------------------------------------------------------------------

// PutAccount creates or updates an account.
func (c *Client) PutAccount(ctx context.Context, id string, req api.AccountRequest) (*api.AccountView, error) {
	var a api.AccountView
	if err := c.do(ctx, http.MethodPut, "/api/v1/accounts/"+url.PathEscape(id), req, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// GetAccount retrieves an account with its buying power.
func (c *Client) GetAccount(ctx context.Context, id string) (*api.AccountView, error) {
	var a api.AccountView
	if err := c.do(ctx, http.MethodGet, "/api/v1/accounts/"+url.PathEscape(id), nil, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// GetPositions retrieves the positions of an account.
func (c *Client) GetPositions(ctx context.Context, accountID string) ([]domain.Position, error) {
	var out []domain.Position
	err := c.do(ctx, http.MethodGet, "/api/v1/accounts/"+url.PathEscape(accountID)+"/positions", nil, &out)
	return out, err
}

// AccountOrders lists the orders of an account created at or after since.
// A zero since returns the whole history.
func (c *Client) AccountOrders(ctx context.Context, accountID string, since time.Time) ([]api.OrderView, error) {
	path := "/api/v1/accounts/" + url.PathEscape(accountID) + "/orders"
	if !since.IsZero() {
		path += "?since=" + url.QueryEscape(since.UTC().Format(time.RFC3339))
	}
	var out []api.OrderView
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// ArchivedExecutions reads an account's archived fills executed in
// [start, end].
func (c *Client) ArchivedExecutions(ctx context.Context, accountID string, start, end time.Time) ([]domain.Execution, error) {
	q := url.Values{}
	q.Set("start", start.UTC().Format(time.RFC3339))
	q.Set("end", end.UTC().Format(time.RFC3339))
	var out []domain.Execution
	err := c.do(ctx, http.MethodGet, "/api/v1/accounts/"+url.PathEscape(accountID)+"/executions/archive?"+q.Encode(), nil, &out)
	return out, err
}

// Scan runs surveillance over an account. It returns nil when nothing was
// detected.
func (c *Client) Scan(ctx context.Context, accountID string) (*domain.Alert, error) {
	var a *domain.Alert
	if err := c.do(ctx, http.MethodPost, "/api/v1/accounts/"+url.PathEscape(accountID)+"/surveillance", nil, &a); err != nil {
		return nil, err
	}
	return a, nil
}

// Alerts lists the surveillance alerts of an account, newest first.
func (c *Client) Alerts(ctx context.Context, accountID string) ([]domain.Alert, error) {
	var out []domain.Alert
	err := c.do(ctx, http.MethodGet, "/api/v1/accounts/"+url.PathEscape(accountID)+"/alerts", nil, &out)
	return out, err
}

// ---------------------------------------------------------------------------
// Reference data and operations
// ---------------------------------------------------------------------------

// PutSecurity creates or updates the reference data of a symbol.
func (c *Client) PutSecurity(ctx context.Context, symbol string, req api.SecurityRequest) (*domain.Security, error) {
	var s domain.Security
	if err := c.do(ctx, http.MethodPut, "/api/v1/securities/"+url.PathEscape(symbol), req, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// AddRestriction restricts trading in a symbol.
func (c *Client) AddRestriction(ctx context.Context, symbol string, req api.RestrictionRequest) (*domain.Restriction, error) {
	var r domain.Restriction
	if err := c.do(ctx, http.MethodPost, "/api/v1/securities/"+url.PathEscape(symbol)+"/restrictions", req, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// AddHalt halts trading in a symbol.
func (c *Client) AddHalt(ctx context.Context, symbol string, req api.HaltRequest) (*domain.Halt, error) {
	var h domain.Halt
	if err := c.do(ctx, http.MethodPost, "/api/v1/securities/"+url.PathEscape(symbol)+"/halts", req, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// Anomalies lists execution anomalies recorded at or after since.
func (c *Client) Anomalies(ctx context.Context, since time.Time) ([]domain.Anomaly, error) {
	path := "/api/v1/anomalies?since=" + url.QueryEscape(since.UTC().Format(time.RFC3339))
	var out []domain.Anomaly
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// RecentEvents returns up to n of the most recent events, oldest first.
func (c *Client) RecentEvents(ctx context.Context, n int) ([]domain.Event, error) {
	var out []domain.Event
	err := c.do(ctx, http.MethodGet, "/api/v1/events?n="+strconv.Itoa(n), nil, &out)
	return out, err
}

// ---------------------------------------------------------------------------
// Transport
// ---------------------------------------------------------------------------

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode >= 300 {
		var er api.ErrorResponse
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(data))}
		if json.Unmarshal(data, &er) == nil && er.Error != "" {
			apiErr.Message = er.Error
			apiErr.Reasons = er.Reasons
			apiErr.OrderStatus = er.Status
		}
		return apiErr
	}
	if out == nil || resp.StatusCode == http.StatusNoContent || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
