package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/BradenHooton/autobot/internal/models"
	"golang.org/x/sync/singleflight"
	"k8s.io/utils/clock"
)

// TimeAuthority reports the remote service's current time
type TimeAuthority interface {
	ServerTime(ctx context.Context) (time.Time, error)
}

// TimeOffsetService resolves the difference between local time and the remote
// authority once per process and caches it.
type TimeOffsetService struct {
	authority TimeAuthority
	clock     clock.Clock
	timeout   time.Duration
	logger    *slog.Logger

	group singleflight.Group

	mu     sync.RWMutex
	offset *int64
}

// NewTimeOffsetService creates a new TimeOffsetService
func NewTimeOffsetService(authority TimeAuthority, clk clock.Clock, timeout time.Duration, logger *slog.Logger) *TimeOffsetService {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &TimeOffsetService{
		authority: authority,
		clock:     clk,
		timeout:   timeout,
		logger:    logger,
	}
}

// Offset returns the offset in seconds, resolving it on first use.
// Concurrent callers share a single in-flight resolution.
func (s *TimeOffsetService) Offset(ctx context.Context) (int64, error) {
	if cached, ok := s.Cached(); ok {
		return cached, nil
	}

	ch := s.group.DoChan("offset", func() (interface{}, error) {
		if cached, ok := s.Cached(); ok {
			return cached, nil
		}

		// Not tied to the first caller's context so a cancelled caller does not
		// fail the others waiting on the same resolution.
		resolveCtx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()

		before := s.clock.Now()
		server, err := s.authority.ServerTime(resolveCtx)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", models.ErrTimeResolution, err)
		}

		offset := server.Unix() - before.Unix()

		s.mu.Lock()
		s.offset = &offset
		s.mu.Unlock()

		s.logger.Info("resolved time offset", slog.Int64("offset_seconds", offset))
		return offset, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return 0, res.Err
		}
		return res.Val.(int64), nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Cached returns the resolved offset, if any
func (s *TimeOffsetService) Cached() (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.offset == nil {
		return 0, false
	}
	return *s.offset, true
}

// Now returns the authoritative time. When the offset cannot be resolved the
// local time is returned together with the resolution error.
func (s *TimeOffsetService) Now(ctx context.Context) (time.Time, error) {
	offset, err := s.Offset(ctx)
	now := s.clock.Now()
	if err != nil {
		return now, err
	}
	return now.Add(time.Duration(offset) * time.Second), nil
}

// HTTPTimeAuthority queries the remote two-factor time endpoint
type HTTPTimeAuthority struct {
	url    string
	client *http.Client
}

// NewHTTPTimeAuthority creates a new HTTPTimeAuthority
func NewHTTPTimeAuthority(url string, client *http.Client) *HTTPTimeAuthority {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPTimeAuthority{url: url, client: client}
}

type queryTimeResponse struct {
	Response struct {
		ServerTime int64 `json:"server_time,string"`
	} `json:"response"`
}

// ServerTime implements TimeAuthority
func (a *HTTPTimeAuthority) ServerTime(ctx context.Context) (time.Time, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(nil))
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to build time request: %w", err)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %w", models.ErrTransientNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return time.Time{}, fmt.Errorf("time authority returned status %d", resp.StatusCode)
	}

	var body queryTimeResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return time.Time{}, fmt.Errorf("failed to decode time response: %w", err)
	}
	if body.Response.ServerTime == 0 {
		return time.Time{}, fmt.Errorf("time response is missing server_time")
	}

	return time.Unix(body.Response.ServerTime, 0), nil
}
