package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/keypad-relay/keypad-relay-server/internal/models"
)

// APIError is a non-2xx response
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

// Client talks to the relay admin API
type Client struct {
	baseURL string
	http    *http.Client
	token   string
}

// NewClient creates an admin API client for baseURL (http://host:port)
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// SetToken sets the bearer token sent with every request
func (c *Client) SetToken(token string) {
	c.token = token
}

// Login obtains an access token and keeps it for later calls
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	var resp struct {
		AccessToken string `json:"access_token"`
	}
	body := map[string]string{"username": username, "password": password}
	if err := c.do(ctx, http.MethodPost, "/api/v1/auth/login", body, &resp); err != nil {
		return "", err
	}
	c.token = resp.AccessToken
	return resp.AccessToken, nil
}

// Health checks the server
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/api/v1/health", nil, nil)
}

// Clients lists connected relay clients
func (c *Client) Clients(ctx context.Context) ([]models.ClientStats, error) {
	var resp struct {
		Clients []models.ClientStats `json:"clients"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/relay/clients", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Clients, nil
}

// Stats returns relay server statistics
func (c *Client) Stats(ctx context.Context) (*models.ServerStats, error) {
	var stats models.ServerStats
	if err := c.do(ctx, http.MethodGet, "/api/v1/relay/stats", nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// SendCommand sends a command to one client, or broadcasts when ClientID is empty
func (c *Client) SendCommand(ctx context.Context, req CommandRequest) (*CommandResponse, error) {
	var resp CommandResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/relay/commands", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RelayKeyEvents lists key events stored by the relay server
func (c *Client) RelayKeyEvents(ctx context.Context, clientID string, baseID *int, limit, offset int) ([]*models.KeyEventRecord, int64, error) {
	q := url.Values{}
	if clientID != "" {
		q.Set("client_id", clientID)
	}
	if baseID != nil {
		q.Set("base_id", strconv.Itoa(*baseID))
	}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))

	var resp struct {
		KeyEvents []*models.KeyEventRecord `json:"key_events"`
		Total     int64                    `json:"total"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/relay/key-events?"+q.Encode(), nil, &resp); err != nil {
		return nil, 0, err
	}
	return resp.KeyEvents, resp.Total, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		json.NewDecoder(resp.Body).Decode(&e)
		msg := e.Error
		if msg == "" {
			msg = e.Message
		}
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
