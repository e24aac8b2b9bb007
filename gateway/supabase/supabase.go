// Package supabase implements gateway.TaskGateway against a hosted
// Postgres backend exposing a PostgREST-style rows API. All task
// operations are filtered by owner identity on the wire; the server
// enforces row-level authorization independently.
package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"taskflow/gateway"
	"taskflow/internal/ratelimit"
)

const tasksPath = "/rest/v1/tasks"

// Config holds remote backend connection settings.
type Config struct {
	BaseURL string
	AnonKey string

	// TokenFunc returns the current access token for the signed-in
	// user. It is consulted per request so token refreshes take effect
	// without rebuilding the gateway.
	TokenFunc func() string

	// PollInterval is the change-feed polling cadence. Default: 3s.
	PollInterval time.Duration

	// MaxRetries caps 429 retries on a single request.
	MaxRetries int
}

// Gateway implements gateway.TaskGateway using the rows API.
type Gateway struct {
	config  Config
	client  *ratelimit.Client
	baseURL string
}

// New creates a new remote gateway.
func New(cfg Config) (*Gateway, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("remote base URL is required")
	}

	return &Gateway{
		config: cfg,
		client: ratelimit.NewClient(ratelimit.Config{
			MaxRetries:   cfg.MaxRetries,
			EnableJitter: true,
		}),
		baseURL: cfg.BaseURL,
	}, nil
}

// Close releases any connections held by the gateway.
func (g *Gateway) Close() error {
	return nil
}

// token returns the current access token, falling back to the anon key.
func (g *Gateway) token() string {
	if g.config.TokenFunc != nil {
		if t := g.config.TokenFunc(); t != "" {
			return t
		}
	}
	return g.config.AnonKey
}

// doRequest performs an authenticated rows-API request.
func (g *Gateway) doRequest(ctx context.Context, method, path, query string, body interface{}) (*http.Response, error) {
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return nil, err
		}
	}

	u := g.baseURL + path
	if query != "" {
		u += "?" + query
	}

	return g.client.Do(ctx, func() (*http.Request, error) {
		var bodyReader io.Reader
		if bodyBytes != nil {
			bodyReader = bytes.NewReader(bodyBytes)
		}

		req, err := http.NewRequest(method, u, bodyReader)
		if err != nil {
			return nil, err
		}

		req.Header.Set("apikey", g.config.AnonKey)
		req.Header.Set("Authorization", "Bearer "+g.token())
		req.Header.Set("Content-Type", "application/json")
		if method == http.MethodPost || method == http.MethodPatch {
			req.Header.Set("Prefer", "return=representation")
		}
		return req, nil
	})
}

// taskRow is the wire shape of one task row.
type taskRow struct {
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	IsComplete bool       `json:"is_complete"`
	CreatedAt  *time.Time `json:"created_at"`
	UpdatedAt  *time.Time `json:"updated_at"`
	UserID     string     `json:"user_id"`
}

func (r taskRow) toTask() gateway.Task {
	return gateway.Task{
		ID:         r.ID,
		Title:      r.Title,
		IsComplete: r.IsComplete,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
		UserID:     r.UserID,
	}
}

// FetchAll returns the user's current rows, newest first.
func (g *Gateway) FetchAll(ctx context.Context, userID string) ([]gateway.Task, error) {
	query := "user_id=eq." + url.QueryEscape(userID) +
		"&select=id,title,is_complete,created_at,updated_at,user_id" +
		"&order=updated_at.desc.nullslast,created_at.desc"

	resp, err := g.doRequest(ctx, http.MethodGet, tasksPath, query, nil)
	if err != nil {
		return nil, &gateway.GatewayError{Op: "fetch", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, &gateway.GatewayError{Op: "fetch", Status: resp.StatusCode}
	}

	var rows []taskRow
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, &gateway.GatewayError{Op: "fetch", Err: err}
	}

	tasks := make([]gateway.Task, len(rows))
	for i, r := range rows {
		tasks[i] = r.toTask()
	}
	return tasks, nil
}

// Create inserts a new task with the given title. The caller validates
// the title first; this only reports remote rejection.
func (g *Gateway) Create(ctx context.Context, userID, title string) (*gateway.Task, error) {
	body := []map[string]interface{}{
		{"title": title, "user_id": userID, "is_complete": false},
	}

	resp, err := g.doRequest(ctx, http.MethodPost, tasksPath, "", body)
	if err != nil {
		return nil, &gateway.GatewayError{Op: "create", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return nil, &gateway.GatewayError{Op: "create", Status: resp.StatusCode}
	}

	var rows []taskRow
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, &gateway.GatewayError{Op: "create", Err: err}
	}
	if len(rows) == 0 {
		return nil, &gateway.GatewayError{Op: "create", Err: fmt.Errorf("no row returned from insert")}
	}

	task := rows[0].toTask()
	return &task, nil
}

// Update applies partial fields to one of the user's tasks. A missing
// or foreign-owned row is reported as not found; the two cases are
// indistinguishable by design.
func (g *Gateway) Update(ctx context.Context, userID, id string, fields gateway.TaskFields) (*gateway.Task, error) {
	query := "id=eq." + url.QueryEscape(id) + "&user_id=eq." + url.QueryEscape(userID)

	resp, err := g.doRequest(ctx, http.MethodPatch, tasksPath, query, fields)
	if err != nil {
		return nil, &gateway.GatewayError{Op: "update", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return nil, &gateway.NotFoundError{ID: id}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &gateway.GatewayError{Op: "update", Status: resp.StatusCode}
	}

	var rows []taskRow
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, &gateway.GatewayError{Op: "update", Err: err}
	}
	if len(rows) == 0 {
		// The filter matched no rows: absent or owned by someone else.
		return nil, &gateway.NotFoundError{ID: id}
	}

	task := rows[0].toTask()
	return &task, nil
}

// Remove deletes one of the user's tasks. Removing an already-absent
// row is not an error.
func (g *Gateway) Remove(ctx context.Context, userID, id string) error {
	query := "id=eq." + url.QueryEscape(id) + "&user_id=eq." + url.QueryEscape(userID)

	resp, err := g.doRequest(ctx, http.MethodDelete, tasksPath, query, nil)
	if err != nil {
		return &gateway.GatewayError{Op: "remove", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusNoContent, http.StatusOK, http.StatusNotFound:
		return nil
	default:
		return &gateway.GatewayError{Op: "remove", Status: resp.StatusCode}
	}
}

// Verify interface compliance at compile time
var _ gateway.TaskGateway = (*Gateway)(nil)
