package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/codrhq/codr/internal/bus"
	"github.com/codrhq/codr/internal/config"
	"github.com/codrhq/codr/internal/jobstore"
	"github.com/codrhq/codr/internal/token"
)

type testEnv struct {
	srv   *Server
	http  *httptest.Server
	store jobstore.Store
	bus   bus.Bus
	cfg   *config.Config
}

func newTestEnv(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()
	return newEnvWithRegistry(t, mutate, nil)
}

// newMetricsEnv is newTestEnv with a live registry, so tests can observe the
// gauges over /metrics.
func newMetricsEnv(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()
	return newEnvWithRegistry(t, mutate, prometheus.NewRegistry())
}

func newEnvWithRegistry(t *testing.T, mutate func(*config.Config), reg *prometheus.Registry) *testEnv {
	t.Helper()

	cfg := config.Default()
	cfg.JWTSecret = "test-secret"
	if mutate != nil {
		mutate(cfg)
	}

	store := jobstore.NewMemoryStore()
	b := bus.NewMemoryBus()
	tokens := token.NewManager(cfg.JWTSecret, time.Duration(cfg.TokenTTLSec)*time.Second)

	srv := New(cfg, store, b, tokens, reg, nil)
	ts := httptest.NewServer(srv.Handler())

	t.Cleanup(func() {
		ts.Close()
		b.Close()
		store.Close()
	})
	return &testEnv{srv: srv, http: ts, store: store, bus: b, cfg: cfg}
}

func (e *testEnv) createJob(t *testing.T) createJobResponse {
	t.Helper()
	resp, err := http.Post(e.http.URL+"/api/jobs", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create job status = %d", resp.StatusCode)
	}

	var created createJobResponse
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatal(err)
	}
	return created
}

func TestCreateJob(t *testing.T) {
	env := newTestEnv(t, nil)

	created := env.createJob(t)
	if created.JobID == "" || created.JobToken == "" {
		t.Fatalf("incomplete response: %+v", created)
	}
	if _, err := time.Parse(time.RFC3339, created.ExpiresAt); err != nil {
		t.Errorf("expiresAt not RFC3339: %q", created.ExpiresAt)
	}

	resp, err := http.Get(env.http.URL + "/api/jobs/" + created.JobID)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get job status = %d", resp.StatusCode)
	}

	var job jobResponse
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		t.Fatal(err)
	}
	if job.Status != jobstore.StatusQueued {
		t.Errorf("status = %s, want queued", job.Status)
	}
}

func TestGetJobNotFound(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, err := http.Get(env.http.URL + "/api/jobs/no-such-job")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestAPIKeyGate(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.APIKey = "sekrit" })

	// No key.
	resp, err := http.Post(env.http.URL+"/api/jobs", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("no key: status = %d, want 401", resp.StatusCode)
	}

	// Wrong key.
	req, _ := http.NewRequest(http.MethodPost, env.http.URL+"/api/jobs", bytes.NewReader(nil))
	req.Header.Set("X-API-Key", "wrong")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("wrong key: status = %d, want 401", resp.StatusCode)
	}

	// Correct key.
	req, _ = http.NewRequest(http.MethodPost, env.http.URL+"/api/jobs", bytes.NewReader(nil))
	req.Header.Set("X-API-Key", "sekrit")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Errorf("correct key: status = %d, want 201", resp.StatusCode)
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, err := http.Get(env.http.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
}
