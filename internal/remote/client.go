// Package remote talks to the gateway sidecar that holds the network
// connection and to the web services the bot depends on.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/BradenHooton/autobot/internal/models"
	pkghttp "github.com/BradenHooton/autobot/pkg/http"
)

// StatusError is returned for a non-2xx response
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.StatusCode)
}

// Is lets 5xx and 429 responses match models.ErrTransientNetwork
func (e *StatusError) Is(target error) bool {
	return target == models.ErrTransientNetwork &&
		(e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests)
}

// jsonClient sends JSON requests relative to a base URL
type jsonClient struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger

	mu      sync.RWMutex
	cookies []string
}

func newJSONClient(baseURL string, client *http.Client, logger *slog.Logger) *jsonClient {
	if client == nil {
		client = &http.Client{}
	}
	return &jsonClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    client,
		logger:  logger,
	}
}

func (c *jsonClient) setCookies(cookies []string) {
	c.mu.Lock()
	c.cookies = append([]string(nil), cookies...)
	c.mu.Unlock()
}

// do sends in (if not nil) and decodes the response into out (if not nil)
func (c *jsonClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.mu.RLock()
	if len(c.cookies) > 0 {
		req.Header.Set("Cookie", strings.Join(c.cookies, "; "))
	}
	c.mu.RUnlock()

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%s %s: %w: %w", method, path, models.ErrTransientNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		statusErr := &StatusError{Method: method, Path: path, StatusCode: resp.StatusCode}
		var errResp pkghttp.ErrorResponse
		if json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&errResp) == nil {
			statusErr.Message = errResp.Message
		}
		return statusErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}
