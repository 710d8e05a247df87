package admin

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/alluxio-auth/pkg/auth"
	"github.com/marmos91/alluxio-auth/pkg/auth/login"
	"github.com/marmos91/alluxio-auth/pkg/auth/principal"
	"github.com/marmos91/alluxio-auth/pkg/auth/realm"
)

func get(t *testing.T, h http.Handler, path string) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	var body Response
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestLiveness(t *testing.T) {
	rec, body := get(t, NewRouter(Deps{}), "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body.Status)
}

func TestReadiness(t *testing.T) {
	session := login.NewSession(auth.ModeSimple, nil, login.Environment{AppUser: "alluxio"})
	router := NewRouter(Deps{Session: session})

	rec, body := get(t, router, "/healthz/ready")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "not logged in", body.Error)

	_, err := session.Identity(context.Background())
	require.NoError(t, err)

	rec, body = get(t, router, "/healthz/ready")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body.Status)

	rec, _ = get(t, NewRouter(Deps{}), "/healthz/ready")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRules(t *testing.T) {
	m := principal.NewMapper(realm.Static("EXAMPLE.COM"))
	rules := "DEFAULT"
	require.NoError(t, m.SetRules(&rules))

	rec, body := get(t, NewRouter(Deps{Mapper: m}), "/rules")
	assert.Equal(t, http.StatusOK, rec.Code)
	data := body.Data.(map[string]any)
	assert.Equal(t, "DEFAULT", data["rules"])
	assert.Equal(t, "EXAMPLE.COM", data["default_realm"])
	assert.Equal(t, true, data["installed"])

	rec, _ = get(t, NewRouter(Deps{}), "/rules")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "alluxio_auth_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()

	rec, _ := get(t, NewRouter(Deps{Gatherer: reg}), "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "alluxio_auth_test_total 1")
}

func TestServer_StartStop(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := NewServer(ln.Addr().String(), Deps{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	var resp *http.Response
	require.Eventually(t, func() bool {
		resp, err = http.Get("http://" + ln.Addr().String() + "/healthz")
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("admin server did not stop")
	}
}
