package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"

	"github.com/smartgarden/garden-core/internal/api"
)

// recorded is one request seen by the fake server.
type recorded struct {
	method      string
	path        string
	query       string
	contentType string
	body        []byte
}

// fakeCore answers canned JSON per "METHOD /path" and records requests.
func fakeCore(t *testing.T, routes map[string]any) (*httptest.Server, *[]recorded) {
	t.Helper()
	var seen []recorded
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		seen = append(seen, recorded{
			method:      r.Method,
			path:        r.URL.Path,
			query:       r.URL.RawQuery,
			contentType: r.Header.Get("Content-Type"),
			body:        body,
		})

		resp, ok := routes[r.Method+" "+r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(api.Error{Status: 404, Code: api.ErrCodeNotFound, Message: "no route"})
			return
		}
		if e, isErr := resp.(api.Error); isErr {
			w.WriteHeader(e.Status)
			json.NewEncoder(w).Encode(e)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv, &seen
}

func execute(t *testing.T, server string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd(viper.New(), &out)
	root.SetArgs(append([]string{"--server", server}, args...))
	err := root.Execute()
	return out.String(), err
}

// ─── Read commands ──────────────────────────────────────────────────

func TestTelemetry_Table(t *testing.T) {
	srv, _ := fakeCore(t, map[string]any{
		"GET /api/v1/telemetry": map[string]any{
			"temperature":   24.5,
			"humidity":      91,
			"light":         300,
			"soil_moisture": 12,
			"updated_at":    "2026-03-01T10:00:00Z",
		},
	})

	out, err := execute(t, srv.URL, "telemetry")
	if err != nil {
		t.Fatalf("telemetry error = %v", err)
	}
	for _, want := range []string{"Humidity", "91", "24.5", "Soil moisture"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestTelemetryHistory_PassesFilters(t *testing.T) {
	srv, seen := fakeCore(t, map[string]any{
		"GET /api/v1/telemetry/history": map[string]any{"readings": []any{}, "count": 0},
	})

	if _, err := execute(t, srv.URL, "telemetry", "history", "--kind", "Humidity", "--limit", "5"); err != nil {
		t.Fatalf("telemetry history error = %v", err)
	}
	if len(*seen) != 1 {
		t.Fatalf("requests = %d, want 1", len(*seen))
	}
	q := (*seen)[0].query
	if !strings.Contains(q, "kind=Humidity") || !strings.Contains(q, "limit=5") {
		t.Errorf("query = %q, want kind and limit", q)
	}
}

func TestDevices_JSON(t *testing.T) {
	srv, _ := fakeCore(t, map[string]any{
		"GET /api/v1/devices": map[string]any{
			"devices": []map[string]any{
				{"device_id": "fan1", "state": "RUNNING", "controller": "smart"},
			},
			"count": 1,
		},
	})

	out, err := execute(t, srv.URL, "--json", "devices")
	if err != nil {
		t.Fatalf("devices error = %v", err)
	}
	var devices []map[string]any
	if err := json.Unmarshal([]byte(out), &devices); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if len(devices) != 1 || devices[0]["device_id"] != "fan1" {
		t.Errorf("devices = %v", devices)
	}
}

func TestActions_Filters(t *testing.T) {
	srv, seen := fakeCore(t, map[string]any{
		"GET /api/v1/actions": map[string]any{"entries": []any{}, "total": 0, "limit": 50, "offset": 0},
	})

	if _, err := execute(t, srv.URL, "actions", "--device", "pump1", "--event", "dropped"); err != nil {
		t.Fatalf("actions error = %v", err)
	}
	q := (*seen)[0].query
	if !strings.Contains(q, "device=pump1") || !strings.Contains(q, "event=dropped") {
		t.Errorf("query = %q", q)
	}
}

// ─── Smart control ──────────────────────────────────────────────────

func TestTrigger_PrintsActions(t *testing.T) {
	srv, _ := fakeCore(t, map[string]any{
		"POST /api/v1/smart-control": map[string]any{
			"cycle_id":  "c-1",
			"diagnosis": map[string]any{"label": "Anthracnose", "confidence": 0.9},
			"actions": []map[string]any{
				{"device_id": "fan1", "duration_seconds": 600, "priority": "high"},
			},
			"message": "1 action(s) executed",
		},
	})

	out, err := execute(t, srv.URL, "trigger")
	if err != nil {
		t.Fatalf("trigger error = %v", err)
	}
	for _, want := range []string{"c-1", "fan1", "600", "high"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestTrigger_NoDiagnosis(t *testing.T) {
	srv, _ := fakeCore(t, map[string]any{
		"POST /api/v1/smart-control": api.Error{Status: http.StatusConflict, Code: api.ErrCodeConflict, Message: "no diagnosis available"},
	})

	_, err := execute(t, srv.URL, "trigger")
	if err == nil {
		t.Fatal("trigger should fail on 409")
	}
	if !isStatus(err, http.StatusConflict) {
		t.Errorf("error = %v, want wrapped 409", err)
	}
	if !strings.Contains(err.Error(), "analyze") {
		t.Errorf("error = %v, want hint to run analyze", err)
	}
}

func TestAnalyze_UploadsMultipart(t *testing.T) {
	img := filepath.Join(t.TempDir(), "leaf.jpg")
	if err := os.WriteFile(img, []byte("jpeg-bytes"), 0600); err != nil {
		t.Fatal(err)
	}
	srv, seen := fakeCore(t, map[string]any{
		"POST /api/v1/diagnoses": map[string]any{
			"id":         "d-1",
			"image_name": "leaf.jpg",
			"diagnosis":  map[string]any{"label": "Downy-Mildew", "confidence": 0.7, "supporting_count": 2, "total_leaves": 3},
		},
	})

	out, err := execute(t, srv.URL, "analyze", img)
	if err != nil {
		t.Fatalf("analyze error = %v", err)
	}
	req := (*seen)[0]
	if !strings.HasPrefix(req.contentType, "multipart/form-data") {
		t.Errorf("Content-Type = %q, want multipart", req.contentType)
	}
	if !bytes.Contains(req.body, []byte(`name="file"; filename="leaf.jpg"`)) {
		t.Errorf("form body missing file part:\n%s", req.body)
	}
	if !strings.Contains(out, "Downy-Mildew") || !strings.Contains(out, "2/3") {
		t.Errorf("output = %s", out)
	}
}

func TestAnalyze_MissingFile(t *testing.T) {
	srv, seen := fakeCore(t, nil)

	if _, err := execute(t, srv.URL, "analyze", filepath.Join(t.TempDir(), "absent.jpg")); err == nil {
		t.Fatal("analyze should fail for a missing file")
	}
	if len(*seen) != 0 {
		t.Errorf("requests = %d, want none", len(*seen))
	}
}

// ─── Direct commands ────────────────────────────────────────────────

func TestMotor_SendsRequest(t *testing.T) {
	srv, seen := fakeCore(t, map[string]any{
		"POST /api/v1/commands/motor": map[string]any{"status": "sent"},
	})

	out, err := execute(t, srv.URL, "motor", "pump1", "RUN")
	if err != nil {
		t.Fatalf("motor error = %v", err)
	}
	var req api.MotorRequest
	if err := json.Unmarshal((*seen)[0].body, &req); err != nil {
		t.Fatalf("decode request: %v", err)
	}
	if req.Device != "pump1" || req.State != "run" {
		t.Errorf("request = %+v, want pump1/run", req)
	}
	if !strings.Contains(out, "command sent") {
		t.Errorf("output = %q", out)
	}
}

func TestMotor_RejectsBadState(t *testing.T) {
	srv, seen := fakeCore(t, nil)

	if _, err := execute(t, srv.URL, "motor", "fan1", "toggle"); err == nil {
		t.Fatal("motor should reject an unknown state")
	}
	if len(*seen) != 0 {
		t.Errorf("requests = %d, want none", len(*seen))
	}
}

func TestServo_ServerRejection(t *testing.T) {
	srv, _ := fakeCore(t, map[string]any{
		"POST /api/v1/commands/servo": api.Error{Status: http.StatusUnprocessableEntity, Code: api.ErrCodeValidation, Message: "servo angle out of range"},
	})

	_, err := execute(t, srv.URL, "servo", "200")
	if !isStatus(err, http.StatusUnprocessableEntity) {
		t.Fatalf("error = %v, want 422", err)
	}
	if !strings.Contains(err.Error(), "out of range") {
		t.Errorf("error = %v, want server message", err)
	}
}

func TestServo_NonNumeric(t *testing.T) {
	srv, _ := fakeCore(t, nil)

	if _, err := execute(t, srv.URL, "servo", "left"); err == nil {
		t.Fatal("servo should reject a non-numeric angle")
	}
}

// ─── Client ─────────────────────────────────────────────────────────

func TestNewClient_InvalidServer(t *testing.T) {
	for _, s := range []string{"", "127.0.0.1:8080", "://bad"} {
		if _, err := newClient(s, 0); err == nil {
			t.Errorf("newClient(%q) should fail", s)
		}
	}
}

func TestClient_PlainTextError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := execute(t, srv.URL, "photo")
	if !isStatus(err, http.StatusBadGateway) {
		t.Fatalf("error = %v, want 502", err)
	}
	if !strings.Contains(err.Error(), "upstream exploded") {
		t.Errorf("error = %v, want body text", err)
	}
}

func TestServerFromEnv(t *testing.T) {
	srv, seen := fakeCore(t, map[string]any{
		"POST /api/v1/commands/camera": map[string]any{"status": "sent"},
	})
	t.Setenv("GARDENCTL_SERVER", srv.URL)

	var out bytes.Buffer
	root := newRootCmd(viper.New(), &out)
	root.SetArgs([]string{"photo"})
	if err := root.Execute(); err != nil {
		t.Fatalf("photo error = %v", err)
	}
	if len(*seen) != 1 {
		t.Errorf("requests = %d, want 1", len(*seen))
	}
}

func TestStatus_ShowsVisionProcess(t *testing.T) {
	srv, _ := fakeCore(t, map[string]any{
		"GET /api/v1/health": map[string]any{"status": "healthy", "version": "1.2.0"},
		"GET /api/v1/debug": map[string]any{
			"bus_connected": true,
			"vision_url":    "http://127.0.0.1:8000/predict",
			"vision_process": map[string]any{
				"name":       "vision",
				"state":      "backoff",
				"restarts":   3,
				"last_error": "exit status 1",
			},
		},
	})

	out, err := execute(t, srv.URL, "status")
	if err != nil {
		t.Fatalf("status error = %v", err)
	}
	for _, want := range []string{"1.2.0", "backoff", "exit status 1"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}
