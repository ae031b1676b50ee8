// Package server contains integration tests that start a full in-process
// EdgeLUN server and run HTTP requests against it.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/edgelun/edgelun/internal/backend"
	"github.com/edgelun/edgelun/internal/config"
	"github.com/edgelun/edgelun/internal/driver"
	"github.com/edgelun/edgelun/internal/lifecycle"
)

// integrationServer holds a running test server instance.
type integrationServer struct {
	srv      *Server
	endpoint string
	mem      *backend.MemoryBackend
}

// newIntegrationServer starts a full EdgeLUN server over a memory backend.
func newIntegrationServer(t *testing.T) *integrationServer {
	t.Helper()

	cfg := &config.Config{
		Server: config.ServerConfig{
			Host: "127.0.0.1",
			Port: 0,
		},
		Backend: config.BackendConfig{
			Protocol: "http",
			Host:     "backend.test",
			Port:     8080,
			Bucket:   "cltest/trd/bk1",
			Mode:     "memory",
		},
		ISCSI:  config.ISCSIConfig{TargetPortalPort: 3260},
		Driver: config.DriverConfig{BackendName: "edge-pool-1"},
	}

	mem, err := backend.NewMemoryBackend(cfg.Backend.Bucket)
	if err != nil {
		t.Fatalf("creating memory backend: %v", err)
	}
	mem.SetTargetName("iqn.test")

	mgr, err := lifecycle.New(mem, cfg.Backend.Bucket, cfg.Backend.Host, cfg.ISCSI.TargetPortalPort)
	if err != nil {
		t.Fatalf("creating lifecycle manager: %v", err)
	}
	drv := driver.New(mgr, cfg.Driver.BackendName)
	if err := drv.Setup(context.Background()); err != nil {
		t.Fatalf("driver setup: %v", err)
	}

	srv := New(cfg, drv)

	// Find a free port
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("finding free port: %v", err)
	}
	addr := listener.Addr().String()
	listener.Close()

	go func() {
		srv.ListenAndServe(addr)
	}()

	// Wait for the server to be ready
	endpoint := "http://" + addr
	for i := 0; i < 50; i++ {
		resp, err := http.Get(endpoint + "/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == 200 {
				break
			}
		}
		time.Sleep(100 * time.Millisecond)
	}

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	})

	return &integrationServer{srv: srv, endpoint: endpoint, mem: mem}
}

// doJSON issues a request with an optional JSON body and decodes the JSON
// response into out (when out is non-nil).
func (is *integrationServer) doJSON(t *testing.T, method, path string, body, out any) int {
	t.Helper()

	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("encoding request body: %v", err)
		}
		payload = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, is.endpoint+path, payload)
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("%s %s: decoding response: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func TestHealthEndpoint(t *testing.T) {
	is := newIntegrationServer(t)

	var health struct {
		Status string `json:"status"`
	}
	if status := is.doJSON(t, "GET", "/health", nil, &health); status != 200 {
		t.Fatalf("GET /health = %d", status)
	}
	if health.Status != "ok" {
		t.Errorf("health status = %q, want ok", health.Status)
	}
}

func TestVolumeLifecycleOverHTTP(t *testing.T) {
	is := newIntegrationServer(t)

	var export struct {
		ProviderLocation string `json:"provider_location"`
	}
	status := is.doJSON(t, "POST", "/v1/volumes",
		map[string]any{"name": "vol1", "size_gb": 2}, &export)
	if status != 201 {
		t.Fatalf("POST /v1/volumes = %d", status)
	}
	if want := "backend.test:3260,1 iqn.test 1"; export.ProviderLocation != want {
		t.Errorf("provider_location = %q, want %q", export.ProviderLocation, want)
	}
	if !is.mem.HasLUN(1) {
		t.Error("backend has no LUN 1 after create")
	}

	var volumes map[string]int
	if status := is.doJSON(t, "GET", "/v1/volumes", nil, &volumes); status != 200 {
		t.Fatalf("GET /v1/volumes = %d", status)
	}
	if volumes["vol1"] != 1 {
		t.Errorf("volume list = %v", volumes)
	}

	var vol struct {
		Name             string `json:"name"`
		LUN              int    `json:"lun"`
		LocalPath        string `json:"local_path"`
		ProviderLocation string `json:"provider_location"`
	}
	if status := is.doJSON(t, "GET", "/v1/volumes/vol1", nil, &vol); status != 200 {
		t.Fatalf("GET /v1/volumes/vol1 = %d", status)
	}
	if vol.LUN != 1 || vol.LocalPath != "cltest/trd/bk1/1" {
		t.Errorf("volume = %+v", vol)
	}

	if status := is.doJSON(t, "POST", "/v1/volumes/vol1/extend",
		map[string]any{"new_size_gb": 4}, nil); status != 204 {
		t.Fatalf("POST extend = %d", status)
	}
	if got := is.mem.LUNSizeMB(1); got != 4*1024 {
		t.Errorf("LUN size = %d MB, want %d", got, 4*1024)
	}

	if status := is.doJSON(t, "DELETE", "/v1/volumes/vol1", nil, nil); status != 204 {
		t.Fatalf("DELETE /v1/volumes/vol1 = %d", status)
	}
	if is.mem.HasLUN(1) {
		t.Error("backend still has LUN 1 after delete")
	}
}

func TestSnapshotAndCloneOverHTTP(t *testing.T) {
	is := newIntegrationServer(t)

	if status := is.doJSON(t, "POST", "/v1/volumes",
		map[string]any{"name": "src", "size_gb": 2}, nil); status != 201 {
		t.Fatalf("POST /v1/volumes = %d", status)
	}
	if status := is.doJSON(t, "POST", "/v1/volumes/src/snapshots",
		map[string]any{"name": "snap"}, nil); status != 201 {
		t.Fatalf("POST snapshots = %d", status)
	}
	if !is.mem.HasSnapshot(1, "snap") {
		t.Fatal("backend has no snapshot")
	}

	var restored struct {
		ProviderLocation string `json:"provider_location"`
	}
	status := is.doJSON(t, "POST", "/v1/volumes/src/snapshots/snap/restore",
		map[string]any{"name": "restored", "size_gb": 2}, &restored)
	if status != 201 {
		t.Fatalf("POST restore = %d", status)
	}
	if !strings.HasSuffix(restored.ProviderLocation, " 2") {
		t.Errorf("restored provider_location = %q", restored.ProviderLocation)
	}

	var cloned struct {
		ProviderLocation string `json:"provider_location"`
	}
	status = is.doJSON(t, "POST", "/v1/volumes/src/clone",
		map[string]any{"name": "copy", "size_gb": 2}, &cloned)
	if status != 201 {
		t.Fatalf("POST clone = %d", status)
	}
	if !strings.HasSuffix(cloned.ProviderLocation, " 3") {
		t.Errorf("cloned provider_location = %q", cloned.ProviderLocation)
	}

	if status := is.doJSON(t, "DELETE", "/v1/volumes/src/snapshots/snap", nil, nil); status != 204 {
		t.Fatalf("DELETE snapshot = %d", status)
	}
}

func TestConnectionEndpoints(t *testing.T) {
	is := newIntegrationServer(t)

	if status := is.doJSON(t, "POST", "/v1/volumes",
		map[string]any{"name": "vol", "size_gb": 1}, nil); status != 201 {
		t.Fatalf("POST /v1/volumes = %d", status)
	}

	var info struct {
		DriverVolumeType string `json:"driver_volume_type"`
		Data             struct {
			TargetIQN    string `json:"target_iqn"`
			TargetPortal string `json:"target_portal"`
			TargetLUN    int    `json:"target_lun"`
		} `json:"data"`
	}
	if status := is.doJSON(t, "GET", "/v1/volumes/vol/connection", nil, &info); status != 200 {
		t.Fatalf("GET connection = %d", status)
	}
	if info.DriverVolumeType != "iscsi" {
		t.Errorf("driver_volume_type = %q", info.DriverVolumeType)
	}
	if info.Data.TargetIQN != "iqn.test" || info.Data.TargetLUN != 1 {
		t.Errorf("connection data = %+v", info.Data)
	}
	if info.Data.TargetPortal != "backend.test:3260" {
		t.Errorf("target_portal = %q", info.Data.TargetPortal)
	}

	if status := is.doJSON(t, "DELETE", "/v1/volumes/vol/connection", nil, nil); status != 204 {
		t.Errorf("DELETE connection = %d", status)
	}
	if status := is.doJSON(t, "POST", "/v1/volumes/vol/export", nil, nil); status != 200 {
		t.Errorf("POST export = %d", status)
	}
	if status := is.doJSON(t, "PUT", "/v1/volumes/vol/export", nil, nil); status != 204 {
		t.Errorf("PUT export = %d", status)
	}
	if status := is.doJSON(t, "DELETE", "/v1/volumes/vol/export", nil, nil); status != 204 {
		t.Errorf("DELETE export = %d", status)
	}
}

func TestStatsEndpoint(t *testing.T) {
	is := newIntegrationServer(t)

	var stats struct {
		VolumeBackendName string `json:"volume_backend_name"`
		StorageProtocol   string `json:"storage_protocol"`
		TotalCapacityGB   string `json:"total_capacity_gb"`
		LocationInfo      string `json:"location_info"`
	}
	if status := is.doJSON(t, "GET", "/v1/stats", nil, &stats); status != 200 {
		t.Fatalf("GET /v1/stats = %d", status)
	}
	if stats.VolumeBackendName != "edge-pool-1" {
		t.Errorf("volume_backend_name = %q", stats.VolumeBackendName)
	}
	if stats.StorageProtocol != "iSCSI" {
		t.Errorf("storage_protocol = %q", stats.StorageProtocol)
	}
	if stats.TotalCapacityGB != "infinite" {
		t.Errorf("total_capacity_gb = %q", stats.TotalCapacityGB)
	}
	if want := "EdgeISCSIDriver:backend.test:cltest/trd/bk1"; stats.LocationInfo != want {
		t.Errorf("location_info = %q, want %q", stats.LocationInfo, want)
	}
}

func TestErrorResponses(t *testing.T) {
	is := newIntegrationServer(t)

	cases := []struct {
		name       string
		method     string
		path       string
		body       any
		wantStatus int
		wantCode   string
	}{
		{"unknown volume", "GET", "/v1/volumes/ghost", nil, 404, "UnknownVolume"},
		{"delete unknown", "DELETE", "/v1/volumes/ghost", nil, 404, "UnknownVolume"},
		{"invalid name", "POST", "/v1/volumes",
			map[string]any{"name": "bad name!", "size_gb": 1}, 400, "InvalidRequest"},
		{"zero size", "POST", "/v1/volumes",
			map[string]any{"name": "vol", "size_gb": 0}, 400, "InvalidRequest"},
		{"unknown field", "POST", "/v1/volumes",
			map[string]any{"name": "vol", "size_gb": 1, "bogus": true}, 400, "InvalidRequest"},
		{"backup unsupported", "POST", "/v1/volumes/vol/backup", nil, 501, "Unsupported"},
		{"restore unsupported", "POST", "/v1/volumes/vol/restore-backup", nil, 501, "Unsupported"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req, err := http.NewRequest(tc.method, is.endpoint+tc.path, encodeBody(t, tc.body))
			if err != nil {
				t.Fatalf("building request: %v", err)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatalf("%s %s: %v", tc.method, tc.path, err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != tc.wantStatus {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tc.wantStatus)
			}
			var body struct {
				Error struct {
					Code string `json:"code"`
				} `json:"error"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				t.Fatalf("decoding error body: %v", err)
			}
			if body.Error.Code != tc.wantCode {
				t.Errorf("error code = %q, want %q", body.Error.Code, tc.wantCode)
			}
		})
	}
}

func encodeBody(t *testing.T, body any) io.Reader {
	t.Helper()
	if body == nil {
		return nil
	}
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("encoding body: %v", err)
	}
	return bytes.NewReader(data)
}

func TestDuplicateVolumeConflict(t *testing.T) {
	is := newIntegrationServer(t)

	body := map[string]any{"name": "vol", "size_gb": 1}
	if status := is.doJSON(t, "POST", "/v1/volumes", body, nil); status != 201 {
		t.Fatalf("first create = %d", status)
	}
	if status := is.doJSON(t, "POST", "/v1/volumes", body, nil); status != 409 {
		t.Errorf("duplicate create = %d, want 409", status)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	is := newIntegrationServer(t)

	resp, err := http.Get(is.endpoint + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Fatalf("GET /metrics = %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading metrics body: %v", err)
	}
	if !strings.Contains(string(data), "go_goroutines") {
		t.Error("metrics output missing standard collectors")
	}
}

func TestRequestIDHeader(t *testing.T) {
	is := newIntegrationServer(t)

	resp, err := http.Get(is.endpoint + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	resp.Body.Close()
	if resp.Header.Get("X-Request-Id") == "" {
		t.Error("response missing X-Request-Id header")
	}
	if got := resp.Header.Get("Server"); got != "EdgeLUN" {
		t.Errorf("Server header = %q, want EdgeLUN", got)
	}
}

func TestSetupCheckEndpoint(t *testing.T) {
	is := newIntegrationServer(t)

	if status := is.doJSON(t, "GET", "/v1/setup/check", nil, nil); status != 200 {
		t.Fatalf("GET /v1/setup/check = %d", status)
	}

	is.mem.FailNext("GET", "clusters/")
	resp, err := http.Get(is.endpoint + "/v1/setup/check")
	if err != nil {
		t.Fatalf("GET /v1/setup/check: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != 502 {
		t.Errorf("setup check with unreachable backend = %d, want 502", resp.StatusCode)
	}
}

func TestOpenAPIDocumented(t *testing.T) {
	is := newIntegrationServer(t)

	resp, err := http.Get(is.endpoint + "/openapi.json")
	if err != nil {
		t.Fatalf("GET /openapi.json: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Fatalf("GET /openapi.json = %d", resp.StatusCode)
	}
	var doc struct {
		Info struct {
			Title string `json:"title"`
		} `json:"info"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		t.Fatalf("decoding OpenAPI document: %v", err)
	}
	if doc.Info.Title == "" {
		t.Error("OpenAPI document has no title")
	}
}
