package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/roach88/autosync/internal/doc"
	"github.com/roach88/autosync/internal/syncerr"
)

// DefaultBeaconTimeout bounds a beacon request that nobody waits on.
const DefaultBeaconTimeout = 5 * time.Second

// HTTP is the Remote implementation for the JSON HTTP API.
type HTTP struct {
	httpClient *http.Client
	baseURL    string
	token      string
	logger     *slog.Logger
}

var (
	_ Remote   = (*HTTP)(nil)
	_ Beaconer = (*HTTP)(nil)
)

// HTTPOption configures an HTTP client.
type HTTPOption func(*HTTP)

// WithHTTPClient overrides http.DefaultClient.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(h *HTTP) { h.httpClient = c }
}

// WithToken sends token as a bearer Authorization header.
func WithToken(token string) HTTPOption {
	return func(h *HTTP) { h.token = strings.TrimSpace(token) }
}

// WithLogger sets the logger used for beacon failures.
func WithLogger(l *slog.Logger) HTTPOption {
	return func(h *HTTP) { h.logger = l }
}

// NewHTTP returns a client for the API rooted at baseURL.
func NewHTTP(baseURL string, opts ...HTTPOption) *HTTP {
	h := &HTTP{
		httpClient: http.DefaultClient,
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Create posts payload to /{kind}.
func (h *HTTP) Create(ctx context.Context, kind string, payload doc.Object) (doc.Object, error) {
	out, err := h.do(ctx, http.MethodPost, kind, payload.ID(), "/"+url.PathEscape(kind), payload)
	if err != nil {
		return nil, err
	}
	return normalized(out, payload), nil
}

// Update puts payload to /{kind}/{id}.
func (h *HTTP) Update(ctx context.Context, kind, id string, payload doc.Object) (doc.Object, error) {
	out, err := h.do(ctx, http.MethodPut, kind, id, entityPath(kind, id), payload)
	if err != nil {
		return nil, err
	}
	return normalized(out, payload), nil
}

// Delete sends DELETE /{kind}/{id}.
func (h *HTTP) Delete(ctx context.Context, kind, id string) error {
	_, err := h.do(ctx, http.MethodDelete, kind, id, entityPath(kind, id), nil)
	return err
}

// Beacon fires a write in the background and discards the response: an
// update, or a create when id is empty. Delivery is not guaranteed.
func (h *HTTP) Beacon(kind, id string, payload doc.Object) {
	payload = payload.Clone()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), DefaultBeaconTimeout)
		defer cancel()
		var err error
		if id == "" {
			_, err = h.Create(ctx, kind, payload)
		} else {
			_, err = h.Update(ctx, kind, id, payload)
		}
		if err != nil {
			h.logger.Debug("beacon failed", "entity_kind", kind, "entity_id", id, "error", err)
		}
	}()
}

type conflictBody struct {
	Remote doc.Object `json:"remote"`
	Error  string     `json:"error"`
}

func (h *HTTP) do(ctx context.Context, method, kind, id, path string, body doc.Object) (doc.Object, error) {
	var r io.Reader
	if body != nil {
		b, err := body.MarshalJSON()
		if err != nil {
			return nil, syncerr.RemoteWriteFailed(kind, id, fmt.Errorf("encode body: %w", err))
		}
		r = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, h.baseURL+path, r)
	if err != nil {
		return nil, syncerr.RemoteWriteFailed(kind, id, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if h.token != "" {
		token := h.token
		if !strings.HasPrefix(strings.ToLower(token), "bearer ") {
			token = "Bearer " + token
		}
		req.Header.Set("Authorization", token)
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, syncerr.RemoteWriteFailed(kind, id, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, syncerr.RemoteWriteFailed(kind, id, fmt.Errorf("read body: %w", err))
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if len(bytes.TrimSpace(data)) == 0 {
			return nil, nil
		}
		out, err := doc.ParseObject(data)
		if err != nil {
			return nil, syncerr.RemoteWriteFailed(kind, id, fmt.Errorf("decode response: %w", err))
		}
		return out, nil

	case resp.StatusCode == http.StatusConflict:
		var cb conflictBody
		if err := json.Unmarshal(data, &cb); err != nil {
			return nil, syncerr.RemoteWriteFailed(kind, id, fmt.Errorf("decode conflict: %w", err))
		}
		return nil, &ConflictError{Kind: kind, ID: id, Remote: cb.Remote}

	default:
		var cb conflictBody
		_ = json.Unmarshal(data, &cb)
		if msg := strings.TrimSpace(cb.Error); msg != "" {
			return nil, syncerr.RemoteWriteFailed(kind, id, fmt.Errorf("status %d: %s", resp.StatusCode, msg))
		}
		return nil, syncerr.RemoteWriteFailed(kind, id, fmt.Errorf("status %d", resp.StatusCode))
	}
}

func entityPath(kind, id string) string {
	return "/" + url.PathEscape(kind) + "/" + url.PathEscape(id)
}

// normalized returns the remote's record, or the sent payload when the
// remote answered without a body.
func normalized(out, sent doc.Object) doc.Object {
	if out != nil {
		return out
	}
	return sent.Clone()
}
