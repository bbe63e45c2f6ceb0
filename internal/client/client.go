// Package client wraps the server's feed/set HTTP API for the replication
// engine, classifying failures into rejected (fix and resubmit) and
// transient (retry with backoff).
package client

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

	"github.com/ohboy/herosync/internal/document"
)

var (
	// ErrRejected marks a write the server refused (validation). Never
	// retried as-is.
	ErrRejected = errors.New("document rejected")

	// ErrTransient marks a network or server failure worth retrying.
	ErrTransient = errors.New("transient request failure")
)

type Config struct {
	// Endpoint is the server base URL, e.g. http://localhost:10102.
	Endpoint string
	// Token is an optional bearer token sent on every request.
	Token string
	// Timeout bounds each request; defaults to 30s.
	Timeout time.Duration
}

type Client struct {
	cfg  Config
	http *http.Client
}

func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		cfg:  Config{Endpoint: strings.TrimRight(cfg.Endpoint, "/"), Token: cfg.Token, Timeout: cfg.Timeout},
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

// Feed fetches up to limit documents strictly past cp.
func (c *Client) Feed(ctx context.Context, cp document.Checkpoint, limit int) ([]document.Document, error) {
	q := url.Values{}
	if !cp.IsZero() {
		q.Set("updatedAt", strconv.FormatInt(cp.UpdatedAt, 10))
		q.Set("id", cp.ID)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.Endpoint+"/api/feed?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	var docs []document.Document
	if err := c.do(req, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

// Set upserts doc and returns the server's version-stamped copy.
func (c *Client) Set(ctx context.Context, doc document.Document) (document.Document, error) {
	body, err := json.Marshal(doc)
	if err != nil {
		return document.Document{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint+"/api/set", bytes.NewReader(body))
	if err != nil {
		return document.Document{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	var stored document.Document
	if err := c.do(req, &stored); err != nil {
		return document.Document{}, err
	}
	return stored, nil
}

func (c *Client) do(req *http.Request, out interface{}) error {
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		return json.NewDecoder(resp.Body).Decode(out)
	case resp.StatusCode == http.StatusTooManyRequests:
		// throttled, not refused; retry after backoff
		return fmt.Errorf("%w: rate limited", ErrTransient)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return fmt.Errorf("%w: %s", ErrRejected, readError(resp.Body))
	default:
		return fmt.Errorf("%w: status %d", ErrTransient, resp.StatusCode)
	}
}

func readError(r io.Reader) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(r).Decode(&payload); err != nil || payload.Error == "" {
		return "request failed"
	}
	return payload.Error
}
