package e2e_test

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/maxdhml/pulse-coach-backend/internal/delivery"
	"github.com/maxdhml/pulse-coach-backend/internal/metrics"
	"github.com/maxdhml/pulse-coach-backend/internal/relay"
	"github.com/maxdhml/pulse-coach-backend/internal/server"
	"github.com/maxdhml/pulse-coach-backend/internal/store"
	"github.com/maxdhml/pulse-coach-backend/internal/strava"
	"github.com/stretchr/testify/require"
)

const (
	testClientID     = "e2e-client"
	testClientSecret = "e2e-secret-value"
	testAthleteID    = 4242

	iPhoneUA  = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) Mobile/15E148"
	desktopUA = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) Safari/605.1.15"
)

// fakeStrava mimics the three Strava endpoints the relay talks to. The
// authorize endpoint approves immediately and bounces back to the
// callback with a fresh code.
type fakeStrava struct {
	srv *httptest.Server

	mu        sync.Mutex
	codes     int
	exchanges int
	refreshes int
	expiresIn time.Duration
	// tokenStatus, when non-zero, makes the token endpoint fail with it.
	tokenStatus int
	lastBearer  string
}

func newFakeStrava(t *testing.T) *fakeStrava {
	t.Helper()

	f := &fakeStrava{expiresIn: 6 * time.Hour}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /oauth/authorize", f.authorize)
	mux.HandleFunc("POST /oauth/token", f.token)
	mux.HandleFunc("GET /api/v3/athlete/activities", f.activities)

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)

	return f
}

func (f *fakeStrava) endpoints() strava.Endpoints {
	return strava.Endpoints{
		AuthURL:  f.srv.URL + "/oauth/authorize",
		TokenURL: f.srv.URL + "/oauth/token",
		APIURL:   f.srv.URL + "/api/v3",
	}
}

func (f *fakeStrava) setExpiry(d time.Duration) {
	f.mu.Lock()
	f.expiresIn = d
	f.mu.Unlock()
}

func (f *fakeStrava) failTokens(status int) {
	f.mu.Lock()
	f.tokenStatus = status
	f.mu.Unlock()
}

func (f *fakeStrava) counts() (exchanges, refreshes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exchanges, f.refreshes
}

func (f *fakeStrava) bearer() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastBearer
}

func (f *fakeStrava) authorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("client_id") != testClientID || q.Get("response_type") != "code" {
		http.Error(w, "bad authorize request", http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	f.codes++
	code := fmt.Sprintf("code-%d", f.codes)
	f.mu.Unlock()

	back, err := url.Parse(q.Get("redirect_uri"))
	if err != nil {
		http.Error(w, "bad redirect_uri", http.StatusBadRequest)
		return
	}

	bq := back.Query()
	bq.Set("code", code)
	bq.Set("state", q.Get("state"))
	bq.Set("scope", q.Get("scope"))
	back.RawQuery = bq.Encode()

	http.Redirect(w, r, back.String(), http.StatusFound)
}

func (f *fakeStrava) token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	status := f.tokenStatus
	expires := time.Now().Add(f.expiresIn).Unix()
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")

	if status != 0 {
		w.WriteHeader(status)
		fmt.Fprint(w, `{"message":"Bad Request","errors":[{"resource":"AuthorizationCode","field":"code","code":"invalid"}]}`)
		return
	}

	if r.PostForm.Get("client_id") != testClientID || r.PostForm.Get("client_secret") != testClientSecret {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"message":"Authorization Error"}`)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		f.exchanges++
		fmt.Fprintf(w, `{"token_type":"Bearer","access_token":"access-%d","refresh_token":"refresh-%d","expires_at":%d,"athlete":{"id":%d,"firstname":"Ada","lastname":"Lovelace","username":"ada"}}`,
			f.exchanges, f.exchanges, expires, testAthleteID)
	case "refresh_token":
		f.refreshes++
		fmt.Fprintf(w, `{"token_type":"Bearer","access_token":"refreshed-%d","refresh_token":"refresh-r%d","expires_at":%d}`,
			f.refreshes, f.refreshes, time.Now().Add(6*time.Hour).Unix())
	default:
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"message":"Bad Request"}`)
	}
}

func (f *fakeStrava) activities(w http.ResponseWriter, r *http.Request) {
	bearer := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")

	f.mu.Lock()
	f.lastBearer = bearer
	f.mu.Unlock()

	if bearer == "" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	fmt.Fprint(w, `[{"id":1,"name":"Morning Run","sport_type":"Run","distance":5012.3,"moving_time":1500,"elapsed_time":1560,"total_elevation_gain":42,"start_date":"2026-10-01T06:30:00Z"},{"id":2,"name":"Evening Ride","sport_type":"Ride","distance":20110,"moving_time":3600,"elapsed_time":3700,"total_elevation_gain":120,"start_date":"2026-10-02T17:00:00Z"}]`)
}

// harness is the full relay stack behind a real HTTP listener, backed by
// a sqlite account store and the fake provider.
type harness struct {
	URL      string
	Relay    *relay.Relay
	Accounts *store.SQLiteStore
	Provider *fakeStrava
	Client   *http.Client
}

func newHarness(t *testing.T, table delivery.Table) *harness {
	t.Helper()

	provider := newFakeStrava(t)

	accounts, err := store.OpenSQLite(t.Context(), filepath.Join(t.TempDir(), "accounts.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { accounts.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.New()

	r := relay.New(relay.Settings{
		ClientID:     testClientID,
		ClientSecret: testClientSecret,
		Scope:        "read,activity:read",
		RefreshSkew:  5 * time.Minute,
	},
		strava.NewClient(strava.NewHTTPClient(5*time.Second), provider.endpoints()),
		accounts,
		delivery.NewResolver(table),
		m,
		logger,
	)

	ts := httptest.NewServer(server.NewRouter(server.Config{
		Relay:   r,
		Metrics: m,
		Logger:  logger,
	}))
	t.Cleanup(ts.Close)

	// Every hop is inspected by hand, so redirects are never followed.
	client := &http.Client{
		Timeout: 10 * time.Second,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	return &harness{
		URL:      ts.URL,
		Relay:    r,
		Accounts: accounts,
		Provider: provider,
		Client:   client,
	}
}

func (h *harness) get(t *testing.T, target, ua string) *http.Response {
	t.Helper()

	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, target, nil)
	require.NoError(t, err)
	req.Header.Set("User-Agent", ua)

	resp, err := h.Client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	return resp
}

// authorize runs the browser side of the flow up to the callback and
// returns the callback response. returnTarget may be empty.
func (h *harness) authorize(t *testing.T, returnTarget, ua string) *http.Response {
	t.Helper()

	begin := h.URL + server.PathBegin
	if returnTarget != "" {
		begin += "?" + url.Values{"redirect_uri": {returnTarget}}.Encode()
	}

	resp := h.get(t, begin, ua)
	require.Equal(t, http.StatusFound, resp.StatusCode)

	authURL := resp.Header.Get("Location")
	require.True(t, strings.HasPrefix(authURL, h.Provider.srv.URL), "begin must point at the provider: %s", authURL)

	resp = h.get(t, authURL, ua)
	require.Equal(t, http.StatusFound, resp.StatusCode)

	callback := resp.Header.Get("Location")
	require.True(t, strings.HasPrefix(callback, h.URL+relay.CallbackPath), "provider must bounce to the callback: %s", callback)

	return h.get(t, callback, ua)
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

func decodeJSON(t *testing.T, resp *http.Response) map[string]string {
	t.Helper()
	var out map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}
