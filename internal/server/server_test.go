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

	"phaseline/internal/db"
	"phaseline/internal/domain"
	"phaseline/internal/engine"
	"phaseline/internal/migrate"
	"phaseline/internal/orchestrator"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, string) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(context.Background(), conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, nil)
	p, err := e.CreateProject(context.Background(), "demo", workspace)
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	handler, err := New(Config{Engine: e, Orchestrator: orchestrator.New(e, 3, nil), BasePath: "/v0"})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	t.Cleanup(testSrv.Close)
	return testSrv, p.ID
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any) (*http.Response, []byte) {
	t.Helper()
	reader := bytes.NewReader(nil)
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func expectStatus(t *testing.T, res *http.Response, data []byte, want int) {
	t.Helper()
	if res.StatusCode != want {
		t.Fatalf("%s %s: status %d, want %d: %s", res.Request.Method, res.Request.URL.Path, res.StatusCode, want, string(data))
	}
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil)
	expectStatus(t, res, data, http.StatusOK)
	if !strings.Contains(string(data), `"ok"`) {
		t.Fatalf("unexpected body %s", data)
	}
}

func TestAdvanceBlockedIsNotAnError(t *testing.T) {
	srv, projectID := newTestServer(t)
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/projects/"+projectID+"/advance", nil)
	expectStatus(t, res, data, http.StatusOK)
	var out engine.AdvanceResult
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Success || out.Reason != engine.ReasonNeedDesign {
		t.Fatalf("unexpected result %+v", out)
	}
}

func TestNotFoundEnvelope(t *testing.T) {
	srv, _ := newTestServer(t)
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/projects/nope", nil)
	expectStatus(t, res, data, http.StatusNotFound)
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if env.Error.Code != "not_found" {
		t.Fatalf("unexpected code %q", env.Error.Code)
	}
}

func TestArtifactRejectRequiresFeedback(t *testing.T) {
	srv, projectID := newTestServer(t)
	client := srv.Client()
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/"+projectID+"/artifacts", map[string]any{
		"type":    "design",
		"content": "# Design",
	})
	expectStatus(t, res, data, http.StatusCreated)
	var a domain.Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		t.Fatalf("unmarshal artifact: %v", err)
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/artifacts/"+a.ID+"/reject", map[string]any{"feedback": ""})
	expectStatus(t, res, data, http.StatusBadRequest)
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/artifacts/"+a.ID+"/approve", nil)
	expectStatus(t, res, data, http.StatusOK)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/"+projectID+"/advance", nil)
	expectStatus(t, res, data, http.StatusOK)
	if !strings.Contains(string(data), `"success":true`) {
		t.Fatalf("expected advance, got %s", data)
	}
}

func TestOrchestrationFlow(t *testing.T) {
	srv, projectID := newTestServer(t)
	client := srv.Client()
	base := srv.URL + "/v0/projects/" + projectID

	res, data := doJSON(t, client, http.MethodPost, base+"/plans", map[string]any{
		"markdown": "### Task 1: Schema\n\nbody\n\n### Task 2: Repo\n\nbody\n",
	})
	expectStatus(t, res, data, http.StatusCreated)

	res, data = doJSON(t, client, http.MethodGet, base+"/orchestrator/status", nil)
	expectStatus(t, res, data, http.StatusOK)
	var st orchestrator.StatusReport
	if err := json.Unmarshal(data, &st); err != nil {
		t.Fatalf("unmarshal status: %v", err)
	}
	if st.Action != orchestrator.ActionSpawnBatch || st.Batch == nil || len(st.Batch.Tasks) != 2 {
		t.Fatalf("unexpected status %+v", st)
	}

	res, data = doJSON(t, client, http.MethodPost, base+"/orchestrator/claim", map[string]any{})
	expectStatus(t, res, data, http.StatusOK)

	res, data = doJSON(t, client, http.MethodGet, base+"/orchestrator/next-batch", nil)
	expectStatus(t, res, data, http.StatusOK)
	if !strings.Contains(string(data), `"batch":null`) {
		t.Fatalf("expected no batch while in flight, got %s", data)
	}

	for _, n := range []string{"1", "2"} {
		res, data = doJSON(t, client, http.MethodPost, base+"/tasks/"+n+"/complete", map[string]any{"result": "pass"})
		expectStatus(t, res, data, http.StatusOK)
	}

	res, data = doJSON(t, client, http.MethodGet, base+"/orchestrator/status/slack", nil)
	expectStatus(t, res, data, http.StatusOK)
	if !strings.Contains(string(data), `"type":"actions"`) {
		t.Fatalf("expected slack actions block, got %s", data)
	}
	res, data = doJSON(t, client, http.MethodGet, base+"/orchestrator/status/discord", nil)
	expectStatus(t, res, data, http.StatusOK)
	if !strings.Contains(string(data), `"custom_id":"confirm_done:`) {
		t.Fatalf("expected discord confirm button, got %s", data)
	}

	res, data = doJSON(t, client, http.MethodGet, base+"/orchestrator/progress", nil)
	expectStatus(t, res, data, http.StatusOK)
	if !strings.Contains(string(data), "2/2 tasks done") {
		t.Fatalf("unexpected progress %s", data)
	}

	res, data = doJSON(t, client, http.MethodGet, base+"/events?limit=1", nil)
	expectStatus(t, res, data, http.StatusOK)
	var events []EventResponse
	if err := json.Unmarshal(data, &events); err != nil || len(events) != 1 {
		t.Fatalf("events: %v %s", err, data)
	}
	if events[0].Type != domain.EventTaskUpdate {
		t.Fatalf("unexpected newest event %+v", events[0])
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, projectID := newTestServer(t)
	doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/projects/"+projectID+"/advance", nil)
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/metrics", nil)
	expectStatus(t, res, data, http.StatusOK)
	body := string(data)
	for _, want := range []string{"phaseline_http_requests_total", `phaseline_phase_advances_total{result="blocked"} 1`} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics missing %q", want)
		}
	}
}

func TestOpenAPIDocumentsStatusShapes(t *testing.T) {
	srv, _ := newTestServer(t)
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/openapi.json", nil)
	expectStatus(t, res, data, http.StatusOK)
	var doc struct {
		Paths      map[string]json.RawMessage `json:"paths"`
		Components struct {
			Schemas map[string]json.RawMessage `json:"schemas"`
		} `json:"components"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("unmarshal openapi: %v", err)
	}
	for _, p := range []string{"/status", "/status/slack", "/status/discord"} {
		if _, ok := doc.Paths["/v0/projects/{project_id}/orchestrator"+p]; !ok {
			t.Fatalf("openapi missing path %s", p)
		}
	}
	if _, ok := doc.Components.Schemas["StatusReport"]; !ok {
		t.Fatalf("openapi missing StatusReport schema")
	}
}
