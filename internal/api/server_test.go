package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/smartgarden/garden-core/internal/audit"
	"github.com/smartgarden/garden-core/internal/device"
	"github.com/smartgarden/garden-core/internal/diagnosis"
	"github.com/smartgarden/garden-core/internal/history"
	"github.com/smartgarden/garden-core/internal/infrastructure/config"
	"github.com/smartgarden/garden-core/internal/infrastructure/database"
	"github.com/smartgarden/garden-core/internal/infrastructure/logging"
	"github.com/smartgarden/garden-core/internal/infrastructure/metrics"
	"github.com/smartgarden/garden-core/internal/infrastructure/mqtt"
	"github.com/smartgarden/garden-core/internal/process"
	"github.com/smartgarden/garden-core/internal/smart"
	"github.com/smartgarden/garden-core/internal/telemetry"
	"github.com/smartgarden/garden-core/internal/vision"
	"github.com/smartgarden/garden-core/migrations"
)

// ─── Mocks ──────────────────────────────────────────────────────────

type mockController struct {
	enabled    bool
	cycle      smart.CycleResult
	cycleErr   error
	analysis   smart.Analysis
	analyzeErr error
	gotFile    string
	gotBytes   int
}

func (m *mockController) Enabled() bool { return m.enabled }

func (m *mockController) TriggerSmartControl(context.Context) (smart.CycleResult, error) {
	return m.cycle, m.cycleErr
}

func (m *mockController) Analyze(_ context.Context, filename string, image io.Reader) (smart.Analysis, error) {
	m.gotFile = filename
	b, _ := io.ReadAll(image) //nolint:errcheck // test reader
	m.gotBytes = len(b)
	return m.analysis, m.analyzeErr
}

type mockManual struct {
	calls []string
	err   error
}

func (m *mockManual) Motor(id string, run bool) error {
	m.calls = append(m.calls, fmt.Sprintf("motor %s %v", id, run))
	return m.err
}

func (m *mockManual) Servo(angle int) error {
	m.calls = append(m.calls, fmt.Sprintf("servo %d", angle))
	return m.err
}

func (m *mockManual) CapturePhoto() error {
	m.calls = append(m.calls, "photo")
	return m.err
}

type fixedBus bool

func (b fixedBus) IsConnected() bool { return bool(b) }

type testEnv struct {
	srv        *Server
	router     http.Handler
	registry   *device.Registry
	store      *telemetry.Store
	history    *history.Store
	actions    *audit.SQLiteRepository
	controller *mockController
	manual     *mockManual
}

// testServer creates a Server over an in-memory SQLite database.
func testServer(t *testing.T) *testEnv {
	t.Helper()

	db, err := database.Open(config.DatabaseConfig{Path: database.MemoryPath})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	env := &testEnv{
		registry:   device.NewRegistry(),
		store:      telemetry.NewStore(),
		history:    history.NewStore(db.DB),
		actions:    audit.NewSQLiteRepository(db.DB),
		controller: &mockController{enabled: true},
		manual:     &mockManual{},
	}

	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
	srv, err := New(Deps{
		Config: config.APIConfig{Host: "127.0.0.1", MaxUploadBytes: 1024},
		WS: config.WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logger:       log,
		Registry:     env.registry,
		Telemetry:    env.store,
		Controller:   env.controller,
		Manual:       env.manual,
		History:      env.history,
		Actions:      env.actions,
		StateHistory: device.NewSQLiteStateHistoryRepository(db.DB),
		Bus:          fixedBus(true),
		DB:           db,
		Metrics:      metrics.New(),
		VisionURL:    "http://vision.test/predict",
		Version:      "test",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go srv.Hub().Run(ctx)

	env.srv = srv
	env.router = srv.buildRouter()
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decoding response %q: %v", w.Body.String(), err)
	}
}

// ─── Construction ───────────────────────────────────────────────────

func TestNew_RequiresDeps(t *testing.T) {
	log := logging.New(config.LoggingConfig{Level: "error"}, "test")
	reg := device.NewRegistry()
	store := telemetry.NewStore()
	ctrl := &mockController{}

	tests := []struct {
		name string
		deps Deps
	}{
		{"no logger", Deps{Registry: reg, Telemetry: store, Controller: ctrl}},
		{"no registry", Deps{Logger: log, Telemetry: store, Controller: ctrl}},
		{"no telemetry", Deps{Logger: log, Registry: reg, Controller: ctrl}},
		{"no controller", Deps{Logger: log, Registry: reg, Telemetry: store}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.deps); err == nil {
				t.Error("New() error = nil, want error")
			}
		})
	}
}

// ─── Health and status ──────────────────────────────────────────────

func TestHealth(t *testing.T) {
	env := testServer(t)
	w := env.do(t, http.MethodGet, "/api/v1/health", "")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp map[string]any
	decode(t, w, &resp)
	if resp["status"] != "ok" || resp["smart_control_enabled"] != true {
		t.Errorf("health = %v", resp)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID header")
	}
}

func TestDebug(t *testing.T) {
	env := testServer(t)
	env.controller.enabled = false
	if err := env.store.Update(telemetry.KindHumidity, 81, time.Time{}); err != nil {
		t.Fatal(err)
	}

	w := env.do(t, http.MethodGet, "/api/v1/debug", "")
	var info DebugInfo
	decode(t, w, &info)

	if !info.BusConnected || info.SmartControlEnabled || !info.ManualAvailable {
		t.Errorf("debug flags = %+v", info)
	}
	if info.VisionURL != "http://vision.test/predict" || info.Telemetry.Humidity != 81 {
		t.Errorf("debug = %+v", info)
	}
}

type fixedProcess struct{ stats process.Stats }

func (f fixedProcess) Stats() process.Stats { return f.stats }

func TestDebug_VisionProcess(t *testing.T) {
	env := testServer(t)

	w := env.do(t, http.MethodGet, "/api/v1/debug", "")
	if strings.Contains(w.Body.String(), "vision_process") {
		t.Errorf("vision_process reported without a supervisor: %s", w.Body.String())
	}

	env.srv.visionProcess = fixedProcess{process.Stats{Name: "vision", State: process.StateBackoff, Restarts: 2}}
	w = env.do(t, http.MethodGet, "/api/v1/debug", "")
	var info DebugInfo
	decode(t, w, &info)
	if info.VisionProcess == nil {
		t.Fatal("vision_process missing")
	}
	if info.VisionProcess.State != process.StateBackoff || info.VisionProcess.Restarts != 2 {
		t.Errorf("vision_process = %+v", info.VisionProcess)
	}
}

func TestSystemMetrics(t *testing.T) {
	env := testServer(t)
	env.registry.SetState(device.Fan1, device.StateRunning, device.ControllerRaspberry)
	env.registry.SetState(device.Pump1, device.StateIdle, device.ControllerNone)

	w := env.do(t, http.MethodGet, "/api/v1/metrics", "")
	var m SystemMetrics
	decode(t, w, &m)

	if m.Devices.Total != 2 || m.Devices.Free != 1 || m.Devices.ByState["RUNNING"] != 1 {
		t.Errorf("device metrics = %+v", m.Devices)
	}
	if !m.Bus.Connected || m.Version != "test" {
		t.Errorf("metrics = %+v", m)
	}
}

func TestPrometheusEndpoint(t *testing.T) {
	env := testServer(t)
	env.srv.metrics.RecordCycle("actions")

	w := env.do(t, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "garden_smart_cycles_total") {
		t.Errorf("exposition missing cycle counter:\n%s", w.Body.String())
	}
}

// ─── Telemetry and devices ──────────────────────────────────────────

func TestTelemetry(t *testing.T) {
	env := testServer(t)
	at := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	if err := env.store.Update(telemetry.KindSoilMoisture, 40, at); err != nil {
		t.Fatal(err)
	}
	if err := env.history.RecordReading(context.Background(), "soil1", telemetry.KindSoilMoisture, 40, at); err != nil {
		t.Fatal(err)
	}

	w := env.do(t, http.MethodGet, "/api/v1/telemetry", "")
	var snap telemetry.Snapshot
	decode(t, w, &snap)
	if snap.SoilMoisture != 40 || !snap.UpdatedAt.Equal(at) {
		t.Errorf("snapshot = %+v", snap)
	}

	w = env.do(t, http.MethodGet, "/api/v1/telemetry/history?kind=Soil_Moisture", "")
	var hist struct {
		Readings []history.Sample `json:"readings"`
		Count    int              `json:"count"`
	}
	decode(t, w, &hist)
	if hist.Count != 1 || hist.Readings[0].SensorID != "soil1" {
		t.Errorf("history = %+v", hist)
	}

	if w := env.do(t, http.MethodGet, "/api/v1/telemetry/history?kind=Pressure", ""); w.Code != http.StatusBadRequest {
		t.Errorf("unknown kind status = %d, want 400", w.Code)
	}
	if w := env.do(t, http.MethodGet, "/api/v1/telemetry/history?limit=abc", ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want 400", w.Code)
	}
}

func TestDevices(t *testing.T) {
	env := testServer(t)
	env.registry.AddObserver(device.HistoryObserver(env.srv.stateHistory, nil))
	env.registry.SetStatus(device.Pump1, device.StateRunning, device.ControllerRaspberry, "OPEN")
	env.registry.SetStatus(device.Pump1, device.StateIdle, device.ControllerRaspberry, "CLOSED")

	w := env.do(t, http.MethodGet, "/api/v1/devices", "")
	var list struct {
		Devices []device.Record `json:"devices"`
		Count   int             `json:"count"`
	}
	decode(t, w, &list)
	if list.Count != 1 || list.Devices[0].DeviceID != device.Pump1 {
		t.Errorf("devices = %+v", list)
	}

	w = env.do(t, http.MethodGet, "/api/v1/devices/pump1", "")
	var one struct {
		Device device.Record `json:"device"`
		IsFree bool          `json:"is_free"`
	}
	decode(t, w, &one)
	if one.Device.Detail != "CLOSED" || !one.IsFree {
		t.Errorf("device = %+v", one)
	}

	if w := env.do(t, http.MethodGet, "/api/v1/devices/fan9", ""); w.Code != http.StatusNotFound {
		t.Errorf("unknown device status = %d, want 404", w.Code)
	}

	w = env.do(t, http.MethodGet, "/api/v1/devices/pump1/history?limit=10", "")
	var hist struct {
		History []device.StateHistoryEntry `json:"history"`
	}
	decode(t, w, &hist)
	if len(hist.History) != 2 || hist.History[0].Detail != "CLOSED" {
		t.Errorf("history = %+v", hist.History)
	}
}

// ─── Smart control ──────────────────────────────────────────────────

func TestTriggerSmartControl(t *testing.T) {
	env := testServer(t)
	env.controller.cycle = smart.CycleResult{
		CycleID: "c1",
		Actions: []smart.ActionIntent{{DeviceID: device.Fan1, DurationSeconds: 300, Priority: smart.PriorityHigh}},
		Message: "1 action(s) dispatched",
	}

	w := env.do(t, http.MethodPost, "/api/v1/smart-control", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	var res smart.CycleResult
	decode(t, w, &res)
	if res.CycleID != "c1" || len(res.Actions) != 1 {
		t.Errorf("result = %+v", res)
	}
}

func TestTriggerSmartControl_Errors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"disabled", smart.ErrSmartControlDisabled, http.StatusServiceUnavailable},
		{"no diagnosis", smart.ErrNoDiagnosis, http.StatusConflict},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := testServer(t)
			env.controller.cycleErr = tt.err
			if w := env.do(t, http.MethodPost, "/api/v1/smart-control", ""); w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func multipartBody(t *testing.T, field, filename string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, filename)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fw.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, mw.FormDataContentType()
}

func TestAnalyze(t *testing.T) {
	env := testServer(t)
	env.controller.analysis = smart.Analysis{
		ID:        "d1",
		ImageName: "leaf.jpg",
		Diagnosis: diagnosis.Diagnosis{Label: diagnosis.LabelAnthracnose, Confidence: 0.8, SupportingCount: 1, TotalLeaves: 1},
	}

	body, ct := multipartBody(t, "file", "leaf.jpg", []byte("jpegbytes"))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/diagnoses", body)
	req.Header.Set("Content-Type", ct)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", w.Code, w.Body.String())
	}
	if env.controller.gotFile != "leaf.jpg" || env.controller.gotBytes != len("jpegbytes") {
		t.Errorf("controller got %q (%d bytes)", env.controller.gotFile, env.controller.gotBytes)
	}
	var a smart.Analysis
	decode(t, w, &a)
	if a.Diagnosis.Label != diagnosis.LabelAnthracnose {
		t.Errorf("analysis = %+v", a)
	}
}

func TestAnalyze_Errors(t *testing.T) {
	tests := []struct {
		name  string
		field string
		size  int
		err   error
		want  int
	}{
		{"missing file field", "image", 10, nil, http.StatusBadRequest},
		{"too large", "file", 4096, nil, http.StatusRequestEntityTooLarge},
		{"vision timeout", "file", 10, fmt.Errorf("analyzing image: %w", vision.ErrTimeout), http.StatusGatewayTimeout},
		{"vision down", "file", 10, fmt.Errorf("analyzing image: %w", vision.ErrUnavailable), http.StatusBadGateway},
		{"vision rejected", "file", 10, vision.ErrRejected, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := testServer(t)
			env.controller.analyzeErr = tt.err

			body, ct := multipartBody(t, tt.field, "leaf.jpg", make([]byte, tt.size))
			req := httptest.NewRequest(http.MethodPost, "/api/v1/diagnoses", body)
			req.Header.Set("Content-Type", ct)
			w := httptest.NewRecorder()
			env.router.ServeHTTP(w, req)

			if w.Code != tt.want {
				t.Errorf("status = %d, want %d: %s", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestDiagnosesHistory(t *testing.T) {
	env := testServer(t)
	ctx := context.Background()

	if w := env.do(t, http.MethodGet, "/api/v1/diagnoses/latest", ""); w.Code != http.StatusNotFound {
		t.Errorf("latest on empty store status = %d, want 404", w.Code)
	}

	d := diagnosis.Diagnosis{Label: diagnosis.LabelDownyMildew, Confidence: 0.7, SupportingCount: 2, TotalLeaves: 3}
	id, err := env.history.SaveDiagnosis(ctx, d, "a.jpg", []diagnosis.LeafObservation{{Label: diagnosis.LabelDownyMildew, Confidence: 0.7}})
	if err != nil {
		t.Fatal(err)
	}

	w := env.do(t, http.MethodGet, "/api/v1/diagnoses/latest", "")
	var latest diagnosis.Diagnosis
	decode(t, w, &latest)
	if latest.Label != diagnosis.LabelDownyMildew {
		t.Errorf("latest = %+v", latest)
	}

	w = env.do(t, http.MethodGet, "/api/v1/diagnoses/"+id, "")
	var rec history.DiagnosisRecord
	decode(t, w, &rec)
	if rec.ImageName != "a.jpg" || len(rec.Leaves) != 1 {
		t.Errorf("record = %+v", rec)
	}

	if w := env.do(t, http.MethodGet, "/api/v1/diagnoses/nope", ""); w.Code != http.StatusNotFound {
		t.Errorf("unknown id status = %d, want 404", w.Code)
	}

	w = env.do(t, http.MethodGet, "/api/v1/diagnoses?limit=5", "")
	var list struct {
		Count int `json:"count"`
	}
	decode(t, w, &list)
	if list.Count != 1 {
		t.Errorf("count = %d, want 1", list.Count)
	}
}

// ─── Actions and commands ───────────────────────────────────────────

func TestListActions(t *testing.T) {
	env := testServer(t)
	ctx := context.Background()
	for _, ev := range []smart.ActionEvent{
		{ActionID: "a1", CycleID: "c1", DeviceID: device.Fan1, Event: smart.ActionStarted, Controller: device.ControllerSmart},
		{ActionID: "a2", CycleID: "c1", DeviceID: device.Pump1, Event: smart.ActionDropped, Controller: device.ControllerSmart, Reason: "device busy"},
	} {
		if err := env.actions.Record(ctx, ev); err != nil {
			t.Fatal(err)
		}
	}

	w := env.do(t, http.MethodGet, "/api/v1/actions?device=pump1", "")
	var res audit.ListResult
	decode(t, w, &res)
	if res.Total != 1 || res.Entries[0].Reason != "device busy" {
		t.Errorf("actions = %+v", res)
	}

	if w := env.do(t, http.MethodGet, "/api/v1/actions?offset=-1", ""); w.Code != http.StatusBadRequest {
		t.Errorf("negative offset status = %d, want 400", w.Code)
	}
}

func TestCommands(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		body     string
		wantCode int
		wantCall string
	}{
		{"run pump", "/api/v1/commands/motor", `{"device":"pump1","state":"run"}`, http.StatusAccepted, "motor pump1 true"},
		{"stop fan", "/api/v1/commands/motor", `{"device":"fan1","state":"stop"}`, http.StatusAccepted, "motor fan1 false"},
		{"bad state", "/api/v1/commands/motor", `{"device":"fan1","state":"spin"}`, http.StatusBadRequest, ""},
		{"bad json", "/api/v1/commands/motor", `{"device":`, http.StatusBadRequest, ""},
		{"servo", "/api/v1/commands/servo", `{"angle":90}`, http.StatusAccepted, "servo 90"},
		{"servo zero", "/api/v1/commands/servo", `{"angle":0}`, http.StatusAccepted, "servo 0"},
		{"servo missing angle", "/api/v1/commands/servo", `{}`, http.StatusBadRequest, ""},
		{"camera", "/api/v1/commands/camera", "", http.StatusAccepted, "photo"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := testServer(t)
			w := env.do(t, http.MethodPost, tt.path, tt.body)
			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d: %s", w.Code, tt.wantCode, w.Body.String())
			}
			if tt.wantCall == "" {
				if len(env.manual.calls) != 0 {
					t.Errorf("calls = %v, want none", env.manual.calls)
				}
				return
			}
			if len(env.manual.calls) != 1 || env.manual.calls[0] != tt.wantCall {
				t.Errorf("calls = %v, want [%s]", env.manual.calls, tt.wantCall)
			}
		})
	}
}

func TestCommands_Errors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"bus down", smart.ErrBusUnavailable, http.StatusServiceUnavailable},
		{"not connected", fmt.Errorf("motor command for pump1: %w", mqtt.ErrNotConnected), http.StatusServiceUnavailable},
		{"unknown device", smart.ErrUnknownDevice, http.StatusUnprocessableEntity},
		{"publish failed", fmt.Errorf("motor command for pump1: %w", mqtt.ErrPublishFailed), http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := testServer(t)
			env.manual.err = tt.err
			w := env.do(t, http.MethodPost, "/api/v1/commands/motor", `{"device":"pump1","state":"run"}`)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

// ─── Middleware ─────────────────────────────────────────────────────

func TestCORS(t *testing.T) {
	env := testServer(t)
	env.srv.cfg.CORS.AllowedOrigins = []string{"http://dashboard.local"}
	router := env.srv.buildRouter()

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/health", nil)
	req.Header.Set("Origin", "http://dashboard.local")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent || w.Header().Get("Access-Control-Allow-Origin") != "http://dashboard.local" {
		t.Errorf("preflight = %d %q", w.Code, w.Header().Get("Access-Control-Allow-Origin"))
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("Origin", "http://evil.local")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Error("disallowed origin got CORS header")
	}
}

// ─── WebSocket ──────────────────────────────────────────────────────

func TestWebSocket_SubscribeAndBroadcast(t *testing.T) {
	env := testServer(t)
	ts := httptest.NewServer(env.router)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	sub := WSMessage{Type: WSTypeSubscribe, ID: "1", Payload: WSSubscribePayload{Channels: []string{ChannelSmartAction}}}
	if err := conn.WriteJSON(sub); err != nil {
		t.Fatal(err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck // test deadline

	var ack WSMessage
	if err := conn.ReadJSON(&ack); err != nil {
		t.Fatalf("reading subscribe ack: %v", err)
	}
	if ack.Type != WSTypeResponse || ack.ID != "1" {
		t.Fatalf("ack = %+v", ack)
	}

	env.srv.Hub().Broadcast(ChannelTelemetry, map[string]any{"ignored": true})
	env.srv.Hub().Broadcast(ChannelSmartAction, smart.ActionEvent{ActionID: "a1", DeviceID: device.Fan1, Event: smart.ActionStarted})

	var ev WSMessage
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("reading event: %v", err)
	}
	if ev.Type != WSTypeEvent || ev.EventType != ChannelSmartAction {
		t.Errorf("event = %+v, want smart.action event", ev)
	}
}

func dialWS(t *testing.T, env *testEnv, query string) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(env.router)
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck // test deadline
	return conn
}

func TestWebSocket_SnapshotOnSubscribe(t *testing.T) {
	env := testServer(t)
	if err := env.store.Update(telemetry.KindSoilMoisture, 42, time.Time{}); err != nil {
		t.Fatal(err)
	}
	conn := dialWS(t, env, "")

	sub := WSMessage{Type: WSTypeSubscribe, ID: "s", Payload: WSSubscribePayload{Channels: []string{ChannelTelemetry}}}
	if err := conn.WriteJSON(sub); err != nil {
		t.Fatal(err)
	}

	var ack WSMessage
	if err := conn.ReadJSON(&ack); err != nil || ack.Type != WSTypeResponse {
		t.Fatalf("ack = %+v, err = %v", ack, err)
	}

	var snap struct {
		Type      string             `json:"type"`
		EventType string             `json:"event_type"`
		Payload   telemetry.Snapshot `json:"payload"`
	}
	if err := conn.ReadJSON(&snap); err != nil {
		t.Fatalf("reading snapshot: %v", err)
	}
	if snap.Type != WSTypeSnapshot || snap.EventType != ChannelTelemetry {
		t.Fatalf("snapshot frame = %+v", snap)
	}
	if snap.Payload.SoilMoisture != 42 {
		t.Errorf("snapshot soil moisture = %v, want 42", snap.Payload.SoilMoisture)
	}
}

func TestWebSocket_UnknownChannel(t *testing.T) {
	env := testServer(t)
	conn := dialWS(t, env, "")

	sub := WSMessage{Type: WSTypeSubscribe, ID: "x", Payload: WSSubscribePayload{Channels: []string{"pump.secret"}}}
	if err := conn.WriteJSON(sub); err != nil {
		t.Fatal(err)
	}
	var reply WSMessage
	if err := conn.ReadJSON(&reply); err != nil {
		t.Fatal(err)
	}
	if reply.Type != WSTypeError || reply.ID != "x" {
		t.Errorf("reply = %+v, want error", reply)
	}

	w := env.do(t, http.MethodGet, "/api/v1/ws?channels=pump.secret", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for unknown query channel", w.Code)
	}
}

func TestWebSocket_QueryWildcard(t *testing.T) {
	env := testServer(t)
	env.registry.SetState(device.Pump1, device.StateIdle, device.ControllerNone)
	conn := dialWS(t, env, "?channels=*")

	// Telemetry and device state prime in channel order.
	for _, want := range []string{ChannelTelemetry, ChannelDeviceState} {
		var snap WSMessage
		if err := conn.ReadJSON(&snap); err != nil {
			t.Fatalf("reading %s snapshot: %v", want, err)
		}
		if snap.Type != WSTypeSnapshot || snap.EventType != want {
			t.Fatalf("frame = %+v, want %s snapshot", snap, want)
		}
	}

	env.srv.Hub().Broadcast(ChannelSmartCycle, map[string]string{"cycle_id": "c-9"})
	var ev WSMessage
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatal(err)
	}
	if ev.Type != WSTypeEvent || ev.EventType != ChannelSmartCycle {
		t.Errorf("event = %+v, want smart.cycle", ev)
	}
}
