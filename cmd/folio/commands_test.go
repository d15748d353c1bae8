package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kalambet/folio/internal/config"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
	Auth   string
	User   string
}

type testServer struct {
	server   *httptest.Server
	requests []recordedRequest
	stdout   bytes.Buffer
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
			Auth:   r.Header.Get("Authorization"),
			User:   r.Header.Get("X-Folio-User"),
		})

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"not found","type":"not_found"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		token:      "test-token",
		user:       "owner-1",
		httpClient: ts.server.Client(),
	}
}

// runCLI executes the root command against ts.
func runCLI(t *testing.T, ts *testServer, args ...string) error {
	t.Helper()
	oldClient, oldUser := newAPIClient, userFlag
	oldOut, oldErr := stdout, stderr
	t.Cleanup(func() {
		newAPIClient = oldClient
		userFlag = oldUser
		stdout, stderr = oldOut, oldErr
		rootCmd.SetArgs(nil)
	})
	stdout, stderr = &ts.stdout, io.Discard
	newAPIClient = func() (*apiClient, error) {
		c := ts.client()
		c.user = userFlag
		return c, nil
	}
	userFlag = ""
	rootCmd.SetArgs(args)
	return rootCmd.Execute()
}

var ctx = context.Background()

func TestChatCommand(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /portfolios/p1/chat": `{"reply":{"text":"Done, your hero is shorter."},"document":{}}`,
	})

	if err := runCLI(t, ts, "chat", "--user", "owner-1", "p1", "make", "the", "hero", "shorter"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	r := ts.requests[0]
	if r.User != "owner-1" {
		t.Errorf("user header = %q", r.User)
	}
	var body map[string]string
	if err := json.Unmarshal([]byte(r.Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if body["message"] != "make the hero shorter" {
		t.Errorf("message = %q", body["message"])
	}
	if got := ts.stdout.String(); got != "Done, your hero is shorter.\n" {
		t.Errorf("stdout = %q", got)
	}
}

func TestTranscriptCommand(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /portfolios/p1/transcript": `[
			{"text":"make it blue","isUser":true,"timestamp":"2026-01-02T10:00:00Z"},
			{"text":"Theme \"ocean\" applied!","isSystemNotification":true,"timestamp":"2026-01-02T10:00:05Z"}
		]`,
	})
	noColor = true
	t.Cleanup(func() { noColor = false })

	if err := runCLI(t, ts, "transcript", "p1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(ts.stdout.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %q", ts.stdout.String())
	}
	if !strings.HasSuffix(lines[0], "you: make it blue") {
		t.Errorf("line 0 = %q", lines[0])
	}
	if !strings.HasSuffix(lines[1], `system: Theme "ocean" applied!`) {
		t.Errorf("line 1 = %q", lines[1])
	}
}

func TestChatCommand_RequiresUser(t *testing.T) {
	ts := newTestServer(t, nil)
	err := runCLI(t, ts, "chat", "p1", "hello")
	if err == nil || !strings.Contains(err.Error(), "--user") {
		t.Fatalf("expected missing user error, got %v", err)
	}
	if len(ts.requests) != 0 {
		t.Error("no request should be sent without a user")
	}
}

func TestReorderCommand(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"PUT /portfolios/p1/order": `{"status":"committed"}`,
	})

	if err := runCLI(t, ts, "reorder", "--user", "owner-1", "p1", "skills", "projects", "contact"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body struct {
		Order []string `json:"order"`
	}
	json.Unmarshal([]byte(ts.requests[0].Body), &body)
	if strings.Join(body.Order, ",") != "skills,projects,contact" {
		t.Errorf("order = %v", body.Order)
	}
}

func TestThemeCommand(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"PUT /portfolios/p1/theme": `{"status":"superseded","metadata":{"theme":"forest"}}`,
	})

	// A superseded write is not an error.
	if err := runCLI(t, ts, "theme", "--user", "owner-1", "p1", "ocean"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ts.requests[0].Method != http.MethodPut || !strings.Contains(ts.requests[0].Body, `"value":"ocean"`) {
		t.Errorf("request = %+v", ts.requests[0])
	}
}

func TestPortfoliosCommand_OwnerQuery(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /portfolios": `[{"id":"p2","name":"Ada","template":"minimal","created_at":"2026-01-02T00:00:00Z"}]`,
	})

	if err := runCLI(t, ts, "portfolios", "--owner", "ada lovelace"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ts.requests[0].Path != "/portfolios?owner=ada+lovelace" {
		t.Errorf("path = %q", ts.requests[0].Path)
	}
}

func TestPublishCommand_ErrorEnvelope(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error":{"message":"only the portfolio owner may edit it","type":"permission_error"}}`))
	}))
	defer ts.Close()

	client := &apiClient{baseURL: ts.URL, token: "t", user: "intruder", httpClient: ts.Client()}
	resp, err := client.post(ctx, portfolioPath("p1", "publish"), nil)
	if err != nil {
		t.Fatalf("unexpected transport error: %v", err)
	}
	var out any
	err = decodeJSON(resp, &out)
	if err == nil {
		t.Fatal("expected error for 403 response")
	}
	if !strings.Contains(err.Error(), "permission_error") || !strings.Contains(err.Error(), "403") {
		t.Errorf("error = %q", err)
	}
}

func TestAPIClientAuth(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /health": `{"status":"ok"}`,
	})

	client := ts.client()
	client.token = "my-secret-token"

	if _, err := client.get(ctx, "/health"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ts.requests[0].Auth != "Bearer my-secret-token" {
		t.Errorf("auth = %q, want 'Bearer my-secret-token'", ts.requests[0].Auth)
	}
}

func TestServerStopped(t *testing.T) {
	ts := newTestServer(t, map[string]string{})
	ts.server.Close()

	_, err := ts.client().get(ctx, "/health")
	if err == nil {
		t.Fatal("expected error for stopped server")
	}
	if !strings.Contains(err.Error(), "not reachable") {
		t.Errorf("error = %q, want it to mention 'not reachable'", err.Error())
	}
}

func TestPortfolioPath(t *testing.T) {
	if got := portfolioPath("a/b", "sections", "userInfo"); got != "/portfolios/a%2Fb/sections/userInfo" {
		t.Errorf("path = %q", got)
	}
}

func TestNoColorFlag(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	if result := colorize(colorGreen, "test message"); result != "test message" {
		t.Errorf("result = %q, want %q", result, "test message")
	}

	noColor = false
	if result := colorize(colorGreen, "test message"); !strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=false should contain ANSI codes, got %q", result)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]string{"debug": "DEBUG", "WARN": "WARN", "error": "ERROR", "": "INFO", "verbose": "INFO"}
	for in, want := range tests {
		if got := parseLogLevel(in).String(); got != want {
			t.Errorf("parseLogLevel(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestConfigShowAll(t *testing.T) {
	cfg := config.Config{}
	cfg.Server.Port = 4100
	cfg.Resolver.Backend = "ollama"

	found := 0
	for _, k := range config.ShowAll(cfg) {
		if (k.Key == "server.port" && k.Value == "4100") || (k.Key == "resolver.backend" && k.Value == "ollama") {
			found++
		}
	}
	if found != 2 {
		t.Errorf("expected server.port and resolver.backend in ShowAll output, found %d", found)
	}
}
