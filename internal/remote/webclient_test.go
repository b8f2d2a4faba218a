package remote

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/BradenHooton/autobot/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
	Cookie string
}

func newWebServer(t *testing.T, responses map[string]string) (*httptest.Server, func() []recordedRequest) {
	var (
		mu       sync.Mutex
		requests []recordedRequest
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		requests = append(requests, recordedRequest{r.Method, r.URL.Path, string(body), r.Header.Get("Cookie")})
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if resp, ok := responses[r.Method+" "+r.URL.Path]; ok {
			_, _ = w.Write([]byte(resp))
		}
	}))
	t.Cleanup(server.Close)

	return server, func() []recordedRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]recordedRequest(nil), requests...)
	}
}

func TestWebClient_StartupCalls(t *testing.T) {
	server, requests := newWebServer(t, map[string]string{
		"POST /trade/apikey":           `{"api_key":"trade-key"}`,
		"GET /social/friends/capacity": `{"capacity":250}`,
		"POST /listings/credentials":   `{"access_token":"new-token"}`,
	})
	c := NewWebClient(server.URL, server.Client(), newTestLogger())
	ctx := context.Background()

	require.NoError(t, c.Pricelist().Initialize(ctx))
	require.NoError(t, c.RestorePollData(ctx, json.RawMessage(`{"sent":{}}`)))
	require.NoError(t, c.Fetch(ctx, "76561198000000000"))
	require.NoError(t, c.Listings().Initialize(ctx, "token", "76561198000000000"))
	require.NoError(t, c.UpdateProfileSettings(ctx, models.PublicProfileSettings()))

	creds, err := c.ProvisionCredentials(ctx, models.APICredentials{APIKey: "configured-key"})
	require.NoError(t, err)
	assert.Equal(t, models.APICredentials{APIKey: "configured-key", AccessToken: "new-token"}, creds)

	c.SetCookies([]string{"sessionid=abc", "steamLoginSecure=xyz"})
	key, err := c.ExchangeCookies(ctx, []string{"sessionid=abc"})
	require.NoError(t, err)
	assert.Equal(t, "trade-key", key)

	capacity, err := c.FriendCapacity(ctx)
	require.NoError(t, err)
	assert.Equal(t, 250, capacity)

	require.NoError(t, c.Listings().RedoListings(ctx))
	require.NoError(t, c.EnablePolling(ctx, 1500*time.Millisecond))

	got := requests()
	paths := make([]string, len(got))
	for i, r := range got {
		paths[i] = r.Method + " " + r.Path
	}
	assert.Equal(t, []string{
		"POST /pricelist/init",
		"PUT /trade/polldata",
		"POST /inventory/fetch",
		"POST /listings/init",
		"POST /profile/settings",
		"POST /listings/credentials",
		"POST /trade/apikey",
		"GET /social/friends/capacity",
		"POST /listings/redo",
		"POST /trade/polling",
	}, paths)

	assert.JSONEq(t, `{"sent":{}}`, got[1].Body)
	assert.JSONEq(t, `{"identity":"76561198000000000"}`, got[2].Body)
	assert.JSONEq(t, `{"profile":3,"inventory":3,"inventory_gifts":false}`, got[4].Body)
	assert.Empty(t, got[5].Cookie)
	assert.Equal(t, "sessionid=abc; steamLoginSecure=xyz", got[6].Cookie)
	assert.JSONEq(t, `{"interval_ms":1500}`, got[9].Body)
}

func TestWebClient_PollData(t *testing.T) {
	server, _ := newWebServer(t, map[string]string{
		"GET /trade/polldata": `{"received":{"1":2}}`,
	})
	c := NewWebClient(server.URL, server.Client(), newTestLogger())

	raw, err := c.PollData(context.Background())
	require.NoError(t, err)
	assert.JSONEq(t, `{"received":{"1":2}}`, string(raw))
}

func TestWebClient_EmptyAPIKeyIsAnError(t *testing.T) {
	server, _ := newWebServer(t, map[string]string{"POST /trade/apikey": `{}`})
	c := NewWebClient(server.URL, server.Client(), newTestLogger())

	_, err := c.ExchangeCookies(context.Background(), nil)
	assert.ErrorContains(t, err, "empty key")
}

func TestWebClient_IncompleteCredentials(t *testing.T) {
	server, _ := newWebServer(t, map[string]string{"POST /listings/credentials": `{}`})
	c := NewWebClient(server.URL, server.Client(), newTestLogger())

	_, err := c.ProvisionCredentials(context.Background(), models.APICredentials{})
	assert.ErrorContains(t, err, "incomplete")
}
