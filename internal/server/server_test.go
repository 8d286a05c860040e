package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"grantdesk/internal/config"
	"grantdesk/internal/db"
	"grantdesk/internal/engine"
	"grantdesk/internal/migrate"
)

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default(workspace)
	e := engine.New(conn, cfg, nil)
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth: AuthConfig{
			Username:  "admin",
			Password:  "secret",
			JWTSecret: "test-secret",
			TokenTTL:  time.Hour,
		},
	})
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
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func adminAuth() map[string]string {
	cred := base64.StdEncoding.EncodeToString([]byte("admin:secret"))
	return map[string]string{"Authorization": "Basic " + cred}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
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

func createRequest(t *testing.T, srv *testServer) RequestResponse {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/requests", map[string]any{
		"client_name":  "Dana Alvarez",
		"client_email": "dana@example.org",
		"grant_name":   "Local Small Business Support Program",
		"purpose":      "Open a community bakery",
	}, adminAuth())
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create request status %d: %s", res.StatusCode, string(data))
	}
	var created RequestResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal request: %v", err)
	}
	return created
}

func TestHealthIsOpen(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", res.StatusCode, string(data))
	}
}

func TestRequestsRequireAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/requests", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", res.StatusCode, string(data))
	}
	if got := res.Header.Get("WWW-Authenticate"); !strings.Contains(got, "Basic") {
		t.Fatalf("expected challenge header, got %q", got)
	}
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/requests", nil, map[string]string{
		"Authorization": "Basic " + base64.StdEncoding.EncodeToString([]byte("admin:wrong")),
	})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad password, got %d", res.StatusCode)
	}
}

func TestLoginIssuesUsableToken(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/auth/login", map[string]any{
		"username": "admin",
		"password": "secret",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("login status %d: %s", res.StatusCode, string(data))
	}
	var login LoginResponse
	if err := json.Unmarshal(data, &login); err != nil || login.Token == "" {
		t.Fatalf("expected token, got %s (%v)", string(data), err)
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/requests", nil, map[string]string{
		"Authorization": "Bearer " + login.Token,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("bearer request status %d: %s", res.StatusCode, string(data))
	}

	res, _ = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/auth/login", map[string]any{
		"username": "admin",
		"password": "wrong",
	}, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad login, got %d", res.StatusCode)
	}
}

func TestRequestLifecycleOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	created := createRequest(t, srv)
	if created.Status != "PAID" || !created.Actions.Run {
		t.Fatalf("expected runnable PAID request, got %+v", created)
	}

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/requests/"+created.ID+"/run", nil, adminAuth())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("run status %d: %s", res.StatusCode, string(data))
	}
	var ran RequestResponse
	_ = json.Unmarshal(data, &ran)
	if ran.Status != "REPORT_READY" || !ran.Actions.Download {
		t.Fatalf("expected REPORT_READY with download action, got %+v", ran)
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/v0/requests/"+created.ID+"/report", nil)
	req.SetBasicAuth("admin", "secret")
	dl, err := client.Do(req)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	defer dl.Body.Close()
	if dl.StatusCode != http.StatusOK {
		t.Fatalf("download status %d", dl.StatusCode)
	}
	if ct := dl.Header.Get("Content-Type"); ct != "application/pdf" {
		t.Fatalf("expected application/pdf, got %q", ct)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/requests/"+created.ID+"/delivered", nil, adminAuth())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("delivered status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/requests/"+created.ID+"/archive", nil, adminAuth())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("archive status %d: %s", res.StatusCode, string(data))
	}
	var archived RequestResponse
	_ = json.Unmarshal(data, &archived)
	if archived.Status != "ARCHIVED" {
		t.Fatalf("expected ARCHIVED, got %s", archived.Status)
	}

	res, data = doJSON(t, client, http.MethodDelete, srv.URL+"/v0/requests/"+created.ID, nil, adminAuth())
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status %d: %s", res.StatusCode, string(data))
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/requests/"+created.ID, nil, adminAuth())
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", res.StatusCode)
	}
}

func TestRunConflictOnSecondRun(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	created := createRequest(t, srv)
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/requests/"+created.ID+"/run", nil, adminAuth())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("first run status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/requests/"+created.ID+"/run", nil, adminAuth())
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil || envelope.Error.Code != "conflict" {
		t.Fatalf("expected conflict envelope, got %s (%v)", string(data), err)
	}
}

func TestIntakeValidationErrors(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/requests", map[string]any{
		"client_name":  "Dana",
		"client_email": "not-an-email",
		"grant_name":   "Grant",
	}, adminAuth())
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", res.StatusCode, string(data))
	}
}

func TestListPagination(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	for i := 0; i < 3; i++ {
		createRequest(t, srv)
	}
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/requests?limit=2", nil, adminAuth())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list status %d: %s", res.StatusCode, string(data))
	}
	var page paginatedRequests
	if err := json.Unmarshal(data, &page); err != nil {
		t.Fatalf("unmarshal page: %v", err)
	}
	if len(page.Items) != 2 || page.NextCursor == "" {
		t.Fatalf("expected 2 items and cursor, got %d items cursor=%q", len(page.Items), page.NextCursor)
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/requests?limit=2&cursor="+page.NextCursor, nil, adminAuth())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("second page status %d: %s", res.StatusCode, string(data))
	}
	var rest paginatedRequests
	if err := json.Unmarshal(data, &rest); err != nil {
		t.Fatalf("unmarshal second page: %v", err)
	}
	if len(rest.Items) != 1 || rest.NextCursor != "" {
		t.Fatalf("expected final page of 1, got %d cursor=%q", len(rest.Items), rest.NextCursor)
	}
}

func TestDownloadWithoutArtifact(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	created := createRequest(t, srv)
	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/v0/requests/"+created.ID+"/report", nil)
	req.SetBasicAuth("admin", "secret")
	res, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 without artifact, got %d", res.StatusCode)
	}
}

func TestDiscoverIsOpen(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/grants/discover", map[string]any{
		"location":       "CA",
		"applicant_type": "llc",
		"sector":         "small_business",
		"amount_needed":  10000,
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("discover status %d: %s", res.StatusCode, string(data))
	}
	var matches []map[string]any
	if err := json.Unmarshal(data, &matches); err != nil || len(matches) == 0 {
		t.Fatalf("expected matches, got %s (%v)", string(data), err)
	}
	if matches[0]["band"] != "Likely Match" {
		t.Fatalf("expected Likely Match, got %v", matches[0]["band"])
	}
}

func TestAnalyzeEmptyInputReturnsBody(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/analyze/run", map[string]any{
		"input": "",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("analyze status %d: %s", res.StatusCode, string(data))
	}
	var result struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if result.Status != "error" || result.Message != "No input provided" {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestEventsTail(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	created := createRequest(t, srv)
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/events?request_id="+created.ID, nil, adminAuth())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events status %d: %s", res.StatusCode, string(data))
	}
	var events []map[string]any
	if err := json.Unmarshal(data, &events); err != nil || len(events) == 0 {
		t.Fatalf("expected events, got %s (%v)", string(data), err)
	}
	if events[0]["type"] != "request.created" {
		t.Fatalf("expected request.created, got %v", events[0]["type"])
	}
}

func TestAdminViewRendersActions(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	createRequest(t, srv)
	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/v0/admin", nil)
	req.SetBasicAuth("admin", "secret")
	res, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("admin view: %v", err)
	}
	defer res.Body.Close()
	body, _ := io.ReadAll(res.Body)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("admin status %d: %s", res.StatusCode, string(body))
	}
	if ct := res.Header.Get("Content-Type"); !strings.Contains(ct, "text/html") {
		t.Fatalf("expected html, got %q", ct)
	}
	page := string(body)
	if !strings.Contains(page, "Dana Alvarez") || !strings.Contains(page, ">Run<") {
		t.Fatalf("expected request row with Run button:\n%s", page)
	}
}
