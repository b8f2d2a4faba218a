package background

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/BradenHooton/autobot/internal/services"
	"golang.org/x/mod/semver"
	"k8s.io/utils/clock"
)

// VersionSource reports the latest released version
type VersionSource interface {
	LatestVersion(ctx context.Context) (string, error)
}

// UpdateChecker periodically compares the running version with the latest
// release and notifies the admins once per newer version.
type UpdateChecker struct {
	current  string
	source   VersionSource
	notifier services.Notifier
	clock    clock.WithTicker
	logger   *slog.Logger
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once

	mu       sync.Mutex
	notified string
}

// NewUpdateChecker creates a new update checker
func NewUpdateChecker(
	current string,
	source VersionSource,
	notifier services.Notifier,
	clk clock.WithTicker,
	logger *slog.Logger,
	interval time.Duration,
) *UpdateChecker {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &UpdateChecker{
		current:  canonical(current),
		source:   source,
		notifier: notifier,
		clock:    clk,
		logger:   logger,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the periodic check. It blocks until ctx is done or Stop is called.
func (uc *UpdateChecker) Start(ctx context.Context) {
	if uc.current == "" {
		uc.logger.Warn("running version is not a semantic version, update checks disabled")
		return
	}

	ticker := uc.clock.NewTicker(uc.interval)
	defer ticker.Stop()

	// Run immediately on startup
	uc.check(ctx)

	for {
		select {
		case <-ticker.C():
			uc.check(ctx)
		case <-uc.stopCh:
			uc.logger.Info("update checker stopped")
			return
		case <-ctx.Done():
			uc.logger.Info("update checker context cancelled")
			return
		}
	}
}

// Stop signals the update checker to stop
func (uc *UpdateChecker) Stop() {
	uc.stopOnce.Do(func() { close(uc.stopCh) })
}

func (uc *UpdateChecker) check(ctx context.Context) {
	checkCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	latest, err := uc.source.LatestVersion(checkCtx)
	if err != nil {
		uc.logger.Warn("failed to check for updates", slog.Any("error", err))
		return
	}

	latest = canonical(latest)
	if latest == "" || semver.Compare(latest, uc.current) <= 0 {
		return
	}

	uc.mu.Lock()
	if uc.notified == latest {
		uc.mu.Unlock()
		return
	}
	uc.notified = latest
	uc.mu.Unlock()

	uc.logger.Info("new version available",
		slog.String("current", uc.current),
		slog.String("latest", latest),
	)
	uc.notifier.Notify(ctx, services.CategoryUpdate,
		fmt.Sprintf("Update available! Current: %s, Latest: %s", uc.current, latest))
}

// canonical normalises "1.2.3" to "v1.2.3"; invalid versions become ""
func canonical(v string) string {
	v = strings.TrimSpace(v)
	if v != "" && !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return semver.Canonical(v)
}

// HTTPVersionSource reads {"version": "..."} from a URL
type HTTPVersionSource struct {
	url    string
	client *http.Client
}

// NewHTTPVersionSource creates a new HTTPVersionSource
func NewHTTPVersionSource(url string, client *http.Client) *HTTPVersionSource {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPVersionSource{url: url, client: client}
}

// LatestVersion implements VersionSource
func (s *HTTPVersionSource) LatestVersion(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build version request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("version request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("version endpoint returned status %d", resp.StatusCode)
	}

	var body struct {
		Version string `json:"version"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("failed to decode version response: %w", err)
	}
	return body.Version, nil
}
