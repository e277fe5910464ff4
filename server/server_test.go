package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/jrsteele09/primehr-session/internal/config"
	"github.com/jrsteele09/primehr-session/internal/metrics"
	"github.com/jrsteele09/primehr-session/profiles"
	"github.com/jrsteele09/primehr-session/provider"
	"github.com/jrsteele09/primehr-session/provider/local"
	"github.com/jrsteele09/primehr-session/provider/local/localtest"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

const testSiteURL = "http://primehr.test"

type testServer struct {
	*Server
	env    *localtest.Env
	http   *httptest.Server
	client *http.Client
}

func newTestServer(t *testing.T, overrides map[string]string, opts localtest.Options) *testServer {
	t.Helper()

	vars := map[string]string{
		"ENV":                   "TEST",
		"SITE_URL":              testSiteURL,
		"INSTANCE_IDLE_TIMEOUT": "0s",
		"ENABLE_RATE_LIMITING":  "false",
		"COOKIE_SECRET":         "0123456789abcdef0123456789abcdef",
	}
	for k, v := range overrides {
		vars[k] = v
	}
	for k, v := range vars {
		t.Setenv(k, v)
	}

	env := localtest.New(t, opts)
	reg := prometheus.NewRegistry()
	s, err := New(config.New(), Dependencies{
		Backend:  env.Backend,
		Profiles: env.Profiles,
		Metrics:  metrics.NewCollector(reg),
		Gatherer: reg,
	})
	require.NoError(t, err)

	srv := httptest.NewServer(s)
	t.Cleanup(func() {
		srv.Close()
		s.Close()
	})

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	client := &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	return &testServer{Server: s, env: env, http: srv, client: client}
}

func (ts *testServer) postJSON(t *testing.T, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := ts.client.Post(ts.http.URL+path, "application/json", bytes.NewReader(b))
	require.NoError(t, err)
	return resp, decodeBody(t, resp)
}

func (ts *testServer) get(t *testing.T, path string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := ts.client.Get(ts.http.URL + path)
	require.NoError(t, err)
	if resp.Header.Get("Content-Type") != "application/json" {
		resp.Body.Close()
		return resp, nil
	}
	return resp, decodeBody(t, resp)
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	out := map[string]any{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func stateOf(t *testing.T, ts *testServer) (map[string]any, []any) {
	t.Helper()
	resp, body := ts.get(t, RouteState)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return body["state"].(map[string]any), body["notifications"].([]any)
}

func TestSignInAndSignOut(t *testing.T) {
	ts := newTestServer(t, nil, localtest.Options{})
	ts.env.ConfirmedUser(t, "user@example.com", profiles.Fields{FirstName: "Ada", UserType: profiles.UserTypeEmployer})

	resp, body := ts.postJSON(t, RouteSignIn, signInRequest{Email: "user@example.com", Password: localtest.Password})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Nil(t, body["error"])
	data := body["data"].(map[string]any)
	require.NotEmpty(t, data["access_token"])

	state, _ := stateOf(t, ts)
	require.NotNil(t, state["session"])
	require.Equal(t, "user@example.com", state["user"].(map[string]any)["email"])
	require.Equal(t, "Ada", state["profile"].(map[string]any)["first_name"])
	require.Equal(t, false, state["is_loading"])

	resp, body = ts.postJSON(t, RouteSignOut, struct{}{})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Nil(t, body["error"])

	state, _ = stateOf(t, ts)
	require.Nil(t, state["session"])
	require.Nil(t, state["user"])
	require.Nil(t, state["profile"])
}

func TestSignInInvalidCredentials(t *testing.T) {
	ts := newTestServer(t, nil, localtest.Options{})

	resp, body := ts.postJSON(t, RouteSignIn, signInRequest{Email: "nobody@example.com", Password: "Whatever1x"})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Nil(t, body["data"])
	require.Equal(t, "invalid login credentials", body["error"])

	state, _ := stateOf(t, ts)
	require.Nil(t, state["session"])
}

func TestSignInRejectsMalformedBody(t *testing.T) {
	ts := newTestServer(t, nil, localtest.Options{})

	resp, err := ts.client.Post(ts.http.URL+RouteSignIn, "application/json", strings.NewReader(`{"email":`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSignUpNotifiesAndConfirms(t *testing.T) {
	ts := newTestServer(t, nil, localtest.Options{})

	resp, body := ts.postJSON(t, RouteSignUp, map[string]string{
		"email":      "new@example.com",
		"password":   localtest.Password,
		"first_name": "New",
		"user_type":  "candidate",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Nil(t, body["data"])
	require.Nil(t, body["error"])

	state, notes := stateOf(t, ts)
	require.Nil(t, state["session"])
	require.Len(t, notes, 1)
	require.Equal(t, "Check your email", notes[0].(map[string]any)["title"])

	_, notes = stateOf(t, ts)
	require.Empty(t, notes, "notifications are handed out once")

	sent := ts.env.Mailer.Sent()
	require.Len(t, sent, 1)
	token := localtest.ConfirmationToken(t, sent[0].Text)

	resp, body = ts.get(t, RouteConfirm+"?token="+url.QueryEscape(token))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "new@example.com", body["data"].(map[string]any)["email"])

	resp, _ = ts.get(t, RouteConfirm+"?token="+url.QueryEscape(token))
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = ts.postJSON(t, RouteSignIn, signInRequest{Email: "new@example.com", Password: localtest.Password})
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSignUpDuplicate(t *testing.T) {
	ts := newTestServer(t, nil, localtest.Options{})
	ts.env.ConfirmedUser(t, "taken@example.com", profiles.Fields{})

	resp, body := ts.postJSON(t, RouteSignUp, map[string]string{"email": "taken@example.com", "password": localtest.Password})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	require.NotNil(t, body["error"])

	_, notes := stateOf(t, ts)
	require.Empty(t, notes)
}

// userInfoIDP is an authorization server that answers with a fixed identity.
func userInfoIDP(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		w.Header().Set("Content-Type", "application/json")
		if r.PostForm.Get("code") != "good-code" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		_, _ = w.Write([]byte(`{"access_token":"at-1","token_type":"Bearer","expires_in":3600}`))
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"sub":"g-42","email":"oauth@example.com","email_verified":true,"given_name":"Olu"}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func googleProvider(idpURL string) *local.OAuthProvider {
	return &local.OAuthProvider{
		Name: provider.OAuthGoogle,
		Config: &oauth2.Config{
			ClientID:     "client",
			ClientSecret: "secret",
			Endpoint: oauth2.Endpoint{
				AuthURL:   idpURL + "/authorize",
				TokenURL:  idpURL + "/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
			RedirectURL: testSiteURL + RouteCallback,
			Scopes:      []string{"openid"},
		},
		UserInfoURL: idpURL + "/userinfo",
	}
}

func TestOAuthStartAndCallback(t *testing.T) {
	idp := userInfoIDP(t)
	ts := newTestServer(t, nil, localtest.Options{BackendOpts: []local.BackendOption{
		local.WithOAuthProvider(googleProvider(idp.URL)),
	}})

	resp, _ := ts.get(t, "/auth/oauth/google")
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	location, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(location.String(), idp.URL+"/authorize"))
	require.Equal(t, "offline", location.Query().Get("access_type"))
	require.Equal(t, "consent", location.Query().Get("prompt"))

	state := location.Query().Get("state")
	resp, _ = ts.get(t, RouteCallback+"?state="+url.QueryEscape(state)+"&code=good-code")
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	require.Equal(t, testSiteURL+RouteDashboard, resp.Header.Get("Location"))

	st, _ := stateOf(t, ts)
	require.NotNil(t, st["session"])
	require.Equal(t, "oauth@example.com", st["user"].(map[string]any)["email"])
	require.Equal(t, "Olu", st["profile"].(map[string]any)["first_name"])
}

func TestOAuthCallbackFailures(t *testing.T) {
	idp := userInfoIDP(t)
	ts := newTestServer(t, nil, localtest.Options{BackendOpts: []local.BackendOption{
		local.WithOAuthProvider(googleProvider(idp.URL)),
	}})

	resp, _ := ts.get(t, "/auth/oauth/github")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = ts.get(t, RouteCallback+"?error=access_denied")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = ts.get(t, RouteCallback+"?state=unknown&code=good-code")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	st, notes := stateOf(t, ts)
	require.Nil(t, st["session"])
	require.Len(t, notes, 1)
	require.Equal(t, "error", notes[0].(map[string]any)["kind"])
}

func TestRateLimitedSignIn(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"ENABLE_RATE_LIMITING": "true",
		"AUTH_RATE_PER_MINUTE": "2",
	}, localtest.Options{})

	req := signInRequest{Email: "nobody@example.com", Password: "Whatever1x"}
	for i := 0; i < 2; i++ {
		resp, _ := ts.postJSON(t, RouteSignIn, req)
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}
	resp, body := ts.postJSON(t, RouteSignIn, req)
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	require.Equal(t, "rate limit exceeded", body["error"])
	require.Equal(t, "30", resp.Header.Get("Retry-After"))
}

func TestEventsStreamsSnapshots(t *testing.T) {
	ts := newTestServer(t, nil, localtest.Options{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.http.URL+RouteEvents, nil)
	require.NoError(t, err)
	resp, err := ts.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	scanner := bufio.NewScanner(resp.Body)
	var data string
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data: ") {
			data = strings.TrimPrefix(line, "data: ")
			break
		}
	}
	require.NotEmpty(t, data)

	var st map[string]any
	require.NoError(t, json.Unmarshal([]byte(data), &st))
	require.Contains(t, st, "is_loading")
	require.Contains(t, st, "version")
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t, nil, localtest.Options{})

	resp, _ := ts.postJSON(t, RouteSignIn, signInRequest{Email: "nobody@example.com", Password: "Whatever1x"})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp, body := ts.get(t, RouteHealth)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ok", body["status"])
	require.Equal(t, float64(1), body["instances"])

	resp, err := ts.client.Get(ts.http.URL + RouteMetrics)
	require.NoError(t, err)
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	require.Contains(t, buf.String(), "primehr_active_instances 1")
	require.Contains(t, buf.String(), "primehr_http_request_duration_seconds")
}

func TestCorsPreflight(t *testing.T) {
	ts := newTestServer(t, nil, localtest.Options{})

	req, err := http.NewRequest(http.MethodOptions, ts.http.URL+RouteSignIn, nil)
	require.NoError(t, err)
	req.Header.Set("Origin", testSiteURL)
	resp, err := ts.client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, testSiteURL, resp.Header.Get("Access-Control-Allow-Origin"))
	require.Equal(t, "true", resp.Header.Get("Access-Control-Allow-Credentials"))
}

func TestReapedInstanceReadsSignedOut(t *testing.T) {
	ts := newTestServer(t, nil, localtest.Options{})
	ts.env.ConfirmedUser(t, "user@example.com", profiles.Fields{})

	resp, _ := ts.postJSON(t, RouteSignIn, signInRequest{Email: "user@example.com", Password: localtest.Password})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, 1, ts.instances.Len())

	require.Equal(t, 1, ts.instances.Reap(time.Now().Add(time.Minute)))
	require.Zero(t, ts.instances.Len())

	st, _ := stateOf(t, ts)
	require.Nil(t, st["session"])
	require.Zero(t, ts.instances.Len(), "reading state does not bring the instance back")

	resp, _ = ts.postJSON(t, RouteSignIn, signInRequest{Email: "user@example.com", Password: localtest.Password})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, 1, ts.instances.Len())
}

func TestReadRoutesDoNotCreateInstances(t *testing.T) {
	ts := newTestServer(t, nil, localtest.Options{})

	for i := 0; i < 50; i++ {
		st, notes := stateOf(t, ts)
		require.Nil(t, st["session"])
		require.Equal(t, false, st["is_loading"])
		require.Empty(t, notes)
	}

	resp, err := ts.client.Get(ts.http.URL + RouteEvents)
	require.NoError(t, err)
	_, err = io.Copy(io.Discard, resp.Body)
	require.NoError(t, err)
	resp.Body.Close()

	resp, body := ts.postJSON(t, RouteSignOut, struct{}{})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Nil(t, body["error"])

	resp, _ = ts.get(t, RouteCallback+"?state=s&code=c")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	require.Zero(t, ts.instances.Len())
}

func TestInstanceCap(t *testing.T) {
	ts := newTestServer(t, map[string]string{"MAX_INSTANCES": "2"}, localtest.Options{})

	// Each request carries no cookie, so each one asks for a new instance.
	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		resp, err := http.Post(ts.http.URL+RouteSignIn, "application/json",
			strings.NewReader(`{"email":"nobody@example.com","password":"Whatever1x"}`))
		require.NoError(t, err)
		resp.Body.Close()
		codes = append(codes, resp.StatusCode)
	}
	require.Equal(t, []int{http.StatusUnauthorized, http.StatusUnauthorized, http.StatusServiceUnavailable}, codes)
	require.Equal(t, 2, ts.instances.Len())
}

func TestSafeRedirect(t *testing.T) {
	ts := newTestServer(t, nil, localtest.Options{})

	tests := []struct {
		target string
		want   string
	}{
		{"", testSiteURL + RouteDashboard},
		{testSiteURL + "/jobs", testSiteURL + "/jobs"},
		{"/settings", testSiteURL + "/settings"},
		{"//evil.test/x", testSiteURL + RouteDashboard},
		{"https://evil.test/dashboard", testSiteURL + RouteDashboard},
		{"https://primehr.test/dashboard", testSiteURL + RouteDashboard},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, ts.safeRedirect(tt.target), tt.target)
	}
}
