package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/BradenHooton/autobot/internal/models"
	pkglogger "github.com/BradenHooton/autobot/pkg/logger"
)

// WebClient reaches the trade engine, inventory, profile, listing and social
// services behind one base URL. Requests carry the current web session cookies.
type WebClient struct {
	client *jsonClient
	logger *slog.Logger
}

// NewWebClient creates a new WebClient
func NewWebClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *WebClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &WebClient{
		client: newJSONClient(baseURL, httpClient, logger),
		logger: logger,
	}
}

// SetCookies replaces the cookies sent with every request
func (c *WebClient) SetCookies(cookies []string) {
	c.logger.Debug("web cookies updated", slog.Any("cookies", pkglogger.CookieNames(cookies)))
	c.client.setCookies(cookies)
}

// RestorePollData hands the trade engine the poll data saved by the last run
func (c *WebClient) RestorePollData(ctx context.Context, pollData json.RawMessage) error {
	if err := c.client.do(ctx, http.MethodPut, "/trade/polldata", pollData, nil); err != nil {
		return fmt.Errorf("failed to restore poll data: %w", err)
	}
	return nil
}

// PollData returns the trade engine's current poll data
func (c *WebClient) PollData(ctx context.Context) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.client.do(ctx, http.MethodGet, "/trade/polldata", nil, &raw); err != nil {
		return nil, fmt.Errorf("failed to read poll data: %w", err)
	}
	return raw, nil
}

// ExchangeCookies trades the web session cookies for the long-lived trade API key
func (c *WebClient) ExchangeCookies(ctx context.Context, cookies []string) (string, error) {
	var resp struct {
		APIKey string `json:"api_key"`
	}
	if err := c.client.do(ctx, http.MethodPost, "/trade/apikey", map[string][]string{"cookies": cookies}, &resp); err != nil {
		return "", fmt.Errorf("failed to get trade API key: %w", err)
	}
	if resp.APIKey == "" {
		return "", fmt.Errorf("failed to get trade API key: empty key")
	}
	return resp.APIKey, nil
}

// EnablePolling starts trade offer polling at the given interval
func (c *WebClient) EnablePolling(ctx context.Context, interval time.Duration) error {
	body := map[string]int64{"interval_ms": interval.Milliseconds()}
	if err := c.client.do(ctx, http.MethodPost, "/trade/polling", body, nil); err != nil {
		return fmt.Errorf("failed to enable trade polling: %w", err)
	}
	return nil
}

// Fetch loads the inventory of identity
func (c *WebClient) Fetch(ctx context.Context, identity string) error {
	if err := c.client.do(ctx, http.MethodPost, "/inventory/fetch", map[string]string{"identity": identity}, nil); err != nil {
		return fmt.Errorf("failed to fetch inventory: %w", err)
	}
	return nil
}

// UpdateProfileSettings applies profile visibility settings
func (c *WebClient) UpdateProfileSettings(ctx context.Context, settings models.ProfileSettings) error {
	if err := c.client.do(ctx, http.MethodPost, "/profile/settings", settings, nil); err != nil {
		return fmt.Errorf("failed to update profile settings: %w", err)
	}
	return nil
}

// ProvisionCredentials fills in listing service credentials that are missing from existing
func (c *WebClient) ProvisionCredentials(ctx context.Context, existing models.APICredentials) (models.APICredentials, error) {
	var creds models.APICredentials
	if err := c.client.do(ctx, http.MethodPost, "/listings/credentials", existing, &creds); err != nil {
		return existing, fmt.Errorf("failed to provision listing credentials: %w", err)
	}

	if creds.APIKey == "" {
		creds.APIKey = existing.APIKey
	}
	if creds.AccessToken == "" {
		creds.AccessToken = existing.AccessToken
	}
	if !creds.Complete() {
		return creds, fmt.Errorf("failed to provision listing credentials: incomplete response")
	}

	c.logger.Info("listing credentials provisioned",
		slog.String("api_key", pkglogger.MaskSecret(creds.APIKey)),
		slog.String("access_token", pkglogger.MaskSecret(creds.AccessToken)),
	)
	return creds, nil
}

// FriendCapacity returns how many friends the account may have
func (c *WebClient) FriendCapacity(ctx context.Context) (int, error) {
	var resp struct {
		Capacity int `json:"capacity"`
	}
	if err := c.client.do(ctx, http.MethodGet, "/social/friends/capacity", nil, &resp); err != nil {
		return 0, fmt.Errorf("failed to get friend capacity: %w", err)
	}
	return resp.Capacity, nil
}

// Pricelist returns the pricelist view of the client
func (c *WebClient) Pricelist() *PricelistClient {
	return &PricelistClient{client: c.client}
}

// Listings returns the listing view of the client
func (c *WebClient) Listings() *ListingsClient {
	return &ListingsClient{client: c.client}
}

// PricelistClient prepares the pricing baseline
type PricelistClient struct {
	client *jsonClient
}

// Initialize loads the pricelist
func (p *PricelistClient) Initialize(ctx context.Context) error {
	if err := p.client.do(ctx, http.MethodPost, "/pricelist/init", nil, nil); err != nil {
		return fmt.Errorf("failed to initialize pricelist: %w", err)
	}
	return nil
}

// ListingsClient manages the listings on the listing service
type ListingsClient struct {
	client *jsonClient
}

// Initialize authenticates the listing service for identity
func (l *ListingsClient) Initialize(ctx context.Context, token, identity string) error {
	body := map[string]string{"token": token, "identity": identity}
	if err := l.client.do(ctx, http.MethodPost, "/listings/init", body, nil); err != nil {
		return fmt.Errorf("failed to initialize listings: %w", err)
	}
	return nil
}

// RedoListings rebuilds every listing
func (l *ListingsClient) RedoListings(ctx context.Context) error {
	if err := l.client.do(ctx, http.MethodPost, "/listings/redo", nil, nil); err != nil {
		return fmt.Errorf("failed to redo listings: %w", err)
	}
	return nil
}
