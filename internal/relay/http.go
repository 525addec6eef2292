package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
)

// EndpointURL returns the backend create URL for an endpoint name
func (c *Client) EndpointURL(endpoint string) string {
	return strings.TrimRight(c.opts.BackendURL, "/") + "/api/" + endpoint + "/create/"
}

// PostEvent posts payload to the backend, retrying with a fixed backoff.
// Only HTTP 201 counts as success; after the last attempt the event is lost.
func (c *Client) PostEvent(ctx context.Context, endpoint string, payload interface{}) bool {
	url := c.EndpointURL(endpoint)

	body, err := json.Marshal(payload)
	if err != nil {
		c.postFailed.Add(1)
		log.Error().Err(err).Str("endpoint", endpoint).Msg("Failed to encode event")
		return false
	}

	for attempt := 1; attempt <= c.opts.PostAttempts; attempt++ {
		status, err := c.post(ctx, url, body)
		if err == nil && status == http.StatusCreated {
			c.posted.Add(1)
			log.Debug().Str("endpoint", endpoint).Int("attempt", attempt).Msg("Event posted")
			return true
		}

		log.Warn().
			Err(err).
			Str("endpoint", endpoint).
			Int("status", status).
			Int("attempt", attempt).
			Int("max_attempts", c.opts.PostAttempts).
			Msg("Event post failed")

		if attempt < c.opts.PostAttempts {
			if err := c.opts.Sleep(ctx, c.opts.PostBackoff); err != nil {
				break
			}
		}
	}

	c.postFailed.Add(1)
	log.Error().Str("endpoint", endpoint).Msg("Giving up on event post")
	return false
}

func (c *Client) post(ctx context.Context, url string, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	return resp.StatusCode, nil
}
