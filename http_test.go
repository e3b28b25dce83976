package bridge_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"golang.org/x/crypto/bcrypt"

	bridge "github.com/ZinovevEzCode/BaronessLaravelBridge"
	"github.com/ZinovevEzCode/BaronessLaravelBridge/identity"
)

func newTestIdentityStore(t *testing.T) *identity.Store {
	t.Helper()

	dsn := "file:" + filepath.Join(t.TempDir(), "identity.db") + "?_busy_timeout=5000"
	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	require.NoError(t, err)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { _ = db.Close() })

	store := identity.NewStore(
		db,
		identity.WithHashCost(bcrypt.MinCost),
		identity.WithLogger(slogutil.NewDiscardLogger()),
	)
	require.NoError(t, store.CreateSchema(context.Background()))

	return store
}

type testServer struct {
	server *bridge.Server
	store  *identity.Store
	tokens *bridge.TokenHolder
	reg    *prometheus.Registry
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	store := newTestIdentityStore(t)
	tokens := bridge.NewTokenHolder(newTestTokenService(t, testKey))
	reg := prometheus.NewRegistry()
	metrics := bridge.NewMetrics(reg)
	logger := slogutil.NewDiscardLogger()

	server := bridge.NewServer(bridge.ServerConfig{
		Exchanger: newTestExchanger(
			store,
			tokens,
			bridge.WithExchangeMetrics(metrics),
			bridge.WithExtendedTTL(bridge.DefaultExtendedTokenTTL),
		),
		Tokens:         tokens,
		Passwords:      store,
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		Metrics:        metrics,
		Logger:         logger,
	})

	return &testServer{
		server: server,
		store:  store,
		tokens: tokens,
		reg:    reg,
	}
}

func (ts *testServer) do(t *testing.T, req *http.Request) (*http.Response, []byte) {
	t.Helper()

	resp, err := ts.server.App().Test(req, -1)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp, body
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decodeExchange(t *testing.T, body []byte) bridge.ExchangeResponse {
	t.Helper()

	var resp bridge.ExchangeResponse
	require.NoError(t, json.Unmarshal(body, &resp))
	return resp
}

func (ts *testServer) exchange(t *testing.T, login, password string) bridge.ExchangeResponse {
	t.Helper()

	resp, body := ts.do(t, jsonRequest(
		http.MethodPost,
		bridge.RouteExchange,
		`{"login":"`+login+`","password":"`+password+`"}`,
	))
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	return decodeExchange(t, body)
}

func TestServer_Exchange(t *testing.T) {
	ts := newTestServer(t)

	first := ts.exchange(t, "alice", "pw1")
	assert.Equal(t, bridge.StatusOK, first.Status)
	assert.Equal(t, bridge.ActionRegister, first.Action)
	assert.Equal(t, "alice", first.Name)
	require.NotEmpty(t, first.JWT)

	second := ts.exchange(t, "alice", "pw1")
	assert.Equal(t, bridge.ActionLogin, second.Action)
	assert.NotEmpty(t, second.JWT)

	t.Run("wrong password", func(t *testing.T) {
		resp, body := ts.do(t, jsonRequest(
			http.MethodPost,
			bridge.RouteExchange,
			`{"login":"alice","password":"nope"}`,
		))
		require.Equal(t, http.StatusOK, resp.StatusCode)

		got := decodeExchange(t, body)
		assert.Equal(t, bridge.StatusError, got.Status)
		assert.Equal(t, "invalid password", got.Error)
		assert.Empty(t, got.JWT)
		assert.NotContains(t, string(body), `"jwt"`)
	})

	t.Run("missing fields", func(t *testing.T) {
		for _, payload := range []string{`{}`, `{"login":"alice"}`, `{"password":"pw1"}`, `{"login":"","password":""}`} {
			resp, body := ts.do(t, jsonRequest(http.MethodPost, bridge.RouteExchange, payload))
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode, payload)
			assert.Contains(t, string(body), bridge.ErrClientInput.Error())
		}
	})

	t.Run("malformed body", func(t *testing.T) {
		resp, _ := ts.do(t, jsonRequest(http.MethodPost, bridge.RouteExchange, `{"login":`))
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("no bearer required", func(t *testing.T) {
		resp, _ := ts.do(t, jsonRequest(http.MethodPost, bridge.RouteExchange+"/", `{"login":"bob","password":"pw"}`))
		assert.NotEqual(t, http.StatusUnauthorized, resp.StatusCode)
	})
}

func TestServer_BackendFailure(t *testing.T) {
	const errDown errors.Error = "connection refused"

	backend := newMockBackend()
	backend.On("WithTransaction", mock.Anything, "alice").Return(errDown)

	tokens := newTestTokenService(t, testKey)
	server := bridge.NewServer(bridge.ServerConfig{
		Exchanger: newTestExchanger(backend, tokens),
		Tokens:    tokens,
		Logger:    slogutil.NewDiscardLogger(),
	})

	resp, err := server.App().Test(jsonRequest(
		http.MethodPost,
		bridge.RouteExchange,
		`{"login":"alice","password":"pw1"}`,
	), -1)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.NotContains(t, string(body), errDown.Error())
}

func TestServer_BearerCheck(t *testing.T) {
	ts := newTestServer(t)
	token := ts.exchange(t, "alice", "pw1").JWT

	otherKey := newTestTokenService(t, []byte(strings.Repeat("k", 32)))
	foreign, err := otherKey.Issue("alice")
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{name: "missing header", header: "", want: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic " + token, want: http.StatusUnauthorized},
		{name: "scheme only", header: "Bearer ", want: http.StatusUnauthorized},
		{name: "garbage token", header: "Bearer abc.def.ghi", want: http.StatusUnauthorized},
		{name: "foreign key", header: "Bearer " + foreign, want: http.StatusUnauthorized},
		{name: "valid", header: "Bearer " + token, want: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, bridge.RouteMe, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}

			resp, body := ts.do(t, req)
			assert.Equal(t, tt.want, resp.StatusCode)

			if tt.want == http.StatusUnauthorized {
				assert.Equal(t, "Unauthorized", string(body))
				return
			}

			var me map[string]any
			require.NoError(t, json.Unmarshal(body, &me))
			assert.Equal(t, "alice", me["name"])
			assert.NotEmpty(t, me["expires_at"])
		})
	}

	t.Run("unknown api route still protected", func(t *testing.T) {
		resp, _ := ts.do(t, httptest.NewRequest(http.MethodGet, "/api/unknown", nil))
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

		req := httptest.NewRequest(http.MethodGet, "/api/unknown", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		resp, body := ts.do(t, req)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Contains(t, string(body), `"status":"error"`)
	})

	t.Run("rotation invalidates old tokens", func(t *testing.T) {
		ts.tokens.Swap(newTestTokenService(t, []byte(strings.Repeat("r", 32))))

		req := httptest.NewRequest(http.MethodGet, bridge.RouteMe, nil)
		req.Header.Set("Authorization", "Bearer "+token)

		resp, _ := ts.do(t, req)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})
}

func TestServer_ChangePassword(t *testing.T) {
	ts := newTestServer(t)
	token := ts.exchange(t, "alice", "pw1").JWT

	var events []identity.PasswordChanged
	unsubscribe := ts.store.Subscribe(func(ev identity.PasswordChanged) {
		events = append(events, ev)
	})
	t.Cleanup(unsubscribe)

	changePassword := func(body string) (*http.Response, []byte) {
		req := jsonRequest(http.MethodPost, bridge.RoutePassword, body)
		req.Header.Set("Authorization", "Bearer "+token)
		return ts.do(t, req)
	}

	t.Run("wrong current password", func(t *testing.T) {
		resp, body := changePassword(`{"password":"nope","new_password":"pw2"}`)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, string(body), `"status":"error"`)
		assert.Empty(t, events)
	})

	t.Run("missing new password", func(t *testing.T) {
		resp, _ := changePassword(`{"password":"pw1"}`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Empty(t, events)
	})

	t.Run("changed", func(t *testing.T) {
		resp, body := changePassword(`{"password":"pw1","new_password":"pw2"}`)
		require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
		assert.Contains(t, string(body), `"status":"OK"`)

		require.Len(t, events, 1)
		assert.Equal(t, "alice", events[0].Name)

		got := ts.exchange(t, "alice", "pw2")
		assert.Equal(t, bridge.ActionLogin, got.Action)
	})

	t.Run("requires bearer", func(t *testing.T) {
		resp, _ := ts.do(t, jsonRequest(http.MethodPost, bridge.RoutePassword, `{"password":"pw2","new_password":"pw3"}`))
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})
}

func TestServer_ChangePassword_Mocked(t *testing.T) {
	tokens := newTestTokenService(t, testKey)
	token, err := tokens.Issue("ghost")
	require.NoError(t, err)

	passwords := &MockPasswordChanger{}
	passwords.On("FindAccountByName", mock.Anything, "ghost").Return(nil, nil).Once()

	server := bridge.NewServer(bridge.ServerConfig{
		Exchanger: newTestExchanger(newMockBackend(), tokens),
		Tokens:    tokens,
		Passwords: passwords,
		Logger:    slogutil.NewDiscardLogger(),
	})

	req := jsonRequest(http.MethodPost, bridge.RoutePassword, `{"password":"a","new_password":"b"}`)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := server.App().Test(req, -1)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	passwords.AssertExpectations(t)
	passwords.AssertNotCalled(t, "ChangePassword", mock.Anything, mock.Anything, mock.Anything)
}

func TestServer_HealthAndMetrics(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(t, httptest.NewRequest(http.MethodGet, bridge.RouteHealth, nil))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", string(body))

	token := ts.exchange(t, "alice", "pw1").JWT

	unauth := httptest.NewRequest(http.MethodGet, bridge.RouteMe, nil)
	resp, _ = ts.do(t, unauth)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	authed := httptest.NewRequest(http.MethodGet, bridge.RouteMe, nil)
	authed.Header.Set("Authorization", "Bearer "+token)
	resp, _ = ts.do(t, authed)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = ts.do(t, httptest.NewRequest(http.MethodGet, bridge.RouteMetrics, nil))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `bridge_gateway_exchanges_total{outcome="register"} 1`)
	assert.Contains(t, string(body), `bridge_gateway_token_rejections_total 1`)
	assert.Contains(t, string(body), `bridge_gateway_token_acceptances_total 1`)
}
