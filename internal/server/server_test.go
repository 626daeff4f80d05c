package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/proximityhq/proximity/internal/catalog"
	"github.com/proximityhq/proximity/internal/config"
	"github.com/proximityhq/proximity/internal/events"
	"github.com/proximityhq/proximity/internal/lifecycle"
	"github.com/proximityhq/proximity/internal/store"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "proximity.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	cat := catalog.New(t.TempDir())
	if err := cat.Load(); err != nil {
		t.Fatalf("load catalog: %v", err)
	}

	cfg := config.Default()
	ctl := lifecycle.New(s, nil, nil, nil, nil, nil)

	return New(Deps{
		Config:    cfg,
		Store:     s,
		Catalog:   cat,
		Lifecycle: ctl,
		Events:    events.NewHub(),
	})
}

func doRequest(t *testing.T, srv *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var r *http.Request
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		r = httptest.NewRequest(method, path, bytes.NewReader(b))
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	srv.http.Handler.ServeHTTP(w, r)
	return w
}

func TestHandleHealth(t *testing.T) {
	srv := newTestServer(t)
	w := doRequest(t, srv, "GET", "/api/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %v, want ok", body["status"])
	}
}

func TestHandleListCatalogEmpty(t *testing.T) {
	srv := newTestServer(t)
	w := doRequest(t, srv, "GET", "/api/catalog", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body struct {
		Total int `json:"total"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body.Total != 0 {
		t.Errorf("total = %d, want 0", body.Total)
	}
}

func TestHandleGetCatalogAppNotFound(t *testing.T) {
	srv := newTestServer(t)
	w := doRequest(t, srv, "GET", "/api/catalog/nonexistent", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	assertDetailEnvelope(t, w)
}

func TestHandleGetAppNotFound(t *testing.T) {
	srv := newTestServer(t)
	w := doRequest(t, srv, "GET", "/api/apps/nonexistent", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	assertDetailEnvelope(t, w)
}

func TestHandleListAppsEmpty(t *testing.T) {
	srv := newTestServer(t)
	w := doRequest(t, srv, "GET", "/api/apps", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body struct {
		Apps  []*store.App `json:"apps"`
		Total int          `json:"total"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body.Total != 0 || body.Apps == nil {
		t.Errorf("apps = %+v, total = %d, want empty non-nil slice", body.Apps, body.Total)
	}
}

func TestHandleAppActionRejectsIllegalTransition(t *testing.T) {
	srv := newTestServer(t)
	app := &store.App{ID: "app1", CatalogID: "adminer", Hostname: "app1", Status: store.StatusDeploying}
	if err := srv.store.CreateApp(app); err != nil {
		t.Fatalf("creating app: %v", err)
	}

	w := doRequest(t, srv, "POST", "/api/apps/app1/action", actionRequest{Action: "start"})
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", w.Code)
	}
	assertDetailEnvelope(t, w)
}

func TestHandleAppActionRejectsUnknownAction(t *testing.T) {
	srv := newTestServer(t)
	app := &store.App{ID: "app1", CatalogID: "adminer", Hostname: "app1", Status: store.StatusRunning}
	if err := srv.store.CreateApp(app); err != nil {
		t.Fatalf("creating app: %v", err)
	}

	w := doRequest(t, srv, "POST", "/api/apps/app1/action", actionRequest{Action: "teleport"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestHandleAppActionNoopOnAlreadyStopped(t *testing.T) {
	srv := newTestServer(t)
	app := &store.App{ID: "app1", CatalogID: "adminer", Hostname: "app1", Status: store.StatusStopped}
	if err := srv.store.CreateApp(app); err != nil {
		t.Fatalf("creating app: %v", err)
	}

	w := doRequest(t, srv, "POST", "/api/apps/app1/action", actionRequest{Action: "stop"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

func TestHandleGetResourceSettingsReturnsDefaults(t *testing.T) {
	srv := newTestServer(t)
	w := doRequest(t, srv, "GET", "/api/core/settings/resources", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var got resourcesSettings
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if got.Cores != srv.cfg.Defaults.Cores {
		t.Errorf("cores = %d, want %d", got.Cores, srv.cfg.Defaults.Cores)
	}
}

func TestHandleUpdateResourceSettingsRejectsInvalid(t *testing.T) {
	srv := newTestServer(t)
	w := doRequest(t, srv, "POST", "/api/core/settings/resources", resourcesSettings{Cores: 0, MemoryMB: 512, DiskGB: 4})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestHandleUpdateResourceSettingsPersists(t *testing.T) {
	srv := newTestServer(t)
	req := resourcesSettings{Cores: 4, MemoryMB: 2048, DiskGB: 20, SwapMB: 512, Storage: "local-lvm", Template: "debian-12"}
	w := doRequest(t, srv, "POST", "/api/core/settings/resources", req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if srv.cfg.Defaults.Cores != 4 {
		t.Errorf("cfg.Defaults.Cores = %d, want 4", srv.cfg.Defaults.Cores)
	}

	setting, err := srv.store.GetSetting("lxc_cores", nil)
	if err != nil {
		t.Fatalf("reading persisted setting: %v", err)
	}
	if setting.Value != "4" {
		t.Errorf("persisted lxc_cores = %q, want 4", setting.Value)
	}
}

func assertDetailEnvelope(t *testing.T, w *httptest.ResponseRecorder) {
	t.Helper()
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding error body: %v", err)
	}
	if _, ok := body["detail"]; !ok {
		t.Errorf("error body = %v, want a \"detail\" key", body)
	}
}
