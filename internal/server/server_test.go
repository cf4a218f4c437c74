package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"requestline/internal/app"
	"requestline/internal/server"
)

type testServer struct {
	BaseURL string
	App     *app.Context
}

func newTestServer(t *testing.T) testServer {
	t.Helper()
	ctx := context.Background()
	a, err := app.Open(ctx, t.TempDir())
	if err != nil {
		t.Fatalf("open workspace: %v", err)
	}
	t.Cleanup(func() { a.Close() })

	handler, err := server.New(server.Config{
		Engine: a.Engine,
		Auth:   server.AuthConfig{AllowLegacyActorHeader: true},
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	t.Cleanup(func() { srv.Close() })
	return testServer{BaseURL: "http://" + ln.Addr().String(), App: a}
}

// doJSON sends a request and decodes the JSON response into out. A nil
// headers map sends no credentials at all.
func doJSON(t *testing.T, method, url string, headers map[string]string, body any, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			t.Fatalf("decode %s %s (%d): %v\n%s", method, url, resp.StatusCode, err, data)
		}
	}
	return resp.StatusCode
}

func asActor(actor string) map[string]string {
	return map[string]string{"X-Actor-Id": actor}
}

func createViaAPI(t *testing.T, ts testServer, actor string) map[string]any {
	t.Helper()
	var created map[string]any
	status := doJSON(t, http.MethodPost, ts.BaseURL+"/v0/requests", asActor(actor), map[string]any{
		"type":      "enhancement",
		"requester": "Alice",
		"reason":    "add export button",
	}, &created)
	if status != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d (%v)", status, created)
	}
	return created
}

func TestRequestLifecycleHTTP(t *testing.T) {
	ts := newTestServer(t)
	created := createViaAPI(t, ts, "u1")
	id, _ := created["id"].(string)
	if id == "" || created["status"] != "created" {
		t.Fatalf("unexpected create response: %v", created)
	}

	var approved map[string]any
	status := doJSON(t, http.MethodPost, ts.BaseURL+"/v0/requests/"+id+"/approve", asActor("u1"), nil, &approved)
	if status != http.StatusOK || approved["status"] != "processing" {
		t.Fatalf("approve: got %d %v", status, approved)
	}

	var completed map[string]any
	status = doJSON(t, http.MethodPost, ts.BaseURL+"/v0/requests/"+id+"/complete", asActor("u1"), map[string]any{
		"completion_content": "shipped",
	}, &completed)
	if status != http.StatusOK || completed["status"] != "completed" {
		t.Fatalf("complete: got %d %v", status, completed)
	}

	// terminal: a second complete must map to 422 invalid_transition
	var errResp map[string]any
	status = doJSON(t, http.MethodPost, ts.BaseURL+"/v0/requests/"+id+"/complete", asActor("u1"), map[string]any{}, &errResp)
	if status != http.StatusUnprocessableEntity {
		t.Fatalf("double complete: expected 422, got %d (%v)", status, errResp)
	}
	inner, _ := errResp["error"].(map[string]any)
	if inner["code"] != "invalid_transition" {
		t.Fatalf("expected invalid_transition code, got %v", errResp)
	}

	var steps []map[string]any
	status = doJSON(t, http.MethodGet, ts.BaseURL+"/v0/requests/"+id+"/steps", asActor("u1"), nil, &steps)
	if status != http.StatusOK || len(steps) != 3 {
		t.Fatalf("steps: got %d entries, status %d", len(steps), status)
	}
}

func TestUnauthenticatedRequestsRejected(t *testing.T) {
	ts := newTestServer(t)
	var errResp map[string]any
	status := doJSON(t, http.MethodPost, ts.BaseURL+"/v0/requests", nil, map[string]any{
		"type": "enhancement",
	}, &errResp)
	if status != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d (%v)", status, errResp)
	}

	// health stays open
	status = doJSON(t, http.MethodGet, ts.BaseURL+"/v0/health", nil, nil, nil)
	if status != http.StatusOK {
		t.Fatalf("health: expected 200, got %d", status)
	}
}

func TestInspectionTokenSubmit(t *testing.T) {
	ts := newTestServer(t)
	created := createViaAPI(t, ts, "u1")
	id := created["id"].(string)

	var inspection map[string]any
	status := doJSON(t, http.MethodPost, ts.BaseURL+"/v0/requests/"+id+"/inspections", asActor("u1"), map[string]any{
		"reviewer_name":  "Bob",
		"reviewer_email": "bob@example.com",
	}, &inspection)
	if status != http.StatusCreated {
		t.Fatalf("create inspection: got %d (%v)", status, inspection)
	}
	token, _ := inspection["token"].(string)
	if token == "" {
		t.Fatalf("expected one-time token in response")
	}
	completionPath, _ := inspection["completion_path"].(string)
	if !strings.HasSuffix(completionPath, token) {
		t.Fatalf("completion path must carry the token, got %q", completionPath)
	}

	// the reviewer submits with no credentials: the token is the credential
	var result map[string]any
	status = doJSON(t, http.MethodPost, ts.BaseURL+"/v0/inspections/"+token, nil, map[string]any{
		"verdict": "needs_rework",
		"note":    "button misaligned",
	}, &result)
	if status != http.StatusOK {
		t.Fatalf("submit: expected 200, got %d (%v)", status, result)
	}
	if result["result"] != "needs_rework" || result["result_note"] != "button misaligned" {
		t.Fatalf("unexpected verdict: %v", result)
	}

	// a spent token cannot be replayed
	var errResp map[string]any
	status = doJSON(t, http.MethodPost, ts.BaseURL+"/v0/inspections/"+token, nil, map[string]any{
		"verdict": "complete",
	}, &errResp)
	if status != http.StatusUnprocessableEntity {
		t.Fatalf("resubmit: expected 422, got %d (%v)", status, errResp)
	}

	// an unknown token is a 404, not a 401
	status = doJSON(t, http.MethodPost, ts.BaseURL+"/v0/inspections/"+strings.Repeat("0", 64), nil, map[string]any{
		"verdict": "complete",
	}, &errResp)
	if status != http.StatusNotFound {
		t.Fatalf("unknown token: expected 404, got %d (%v)", status, errResp)
	}
}

func TestSplitTreeAndAttachmentsHTTP(t *testing.T) {
	ts := newTestServer(t)
	created := createViaAPI(t, ts, "u1")
	rootID := created["id"].(string)

	var child map[string]any
	status := doJSON(t, http.MethodPost, ts.BaseURL+"/v0/requests/"+rootID+"/split", asActor("u1"), map[string]any{
		"split_content": "backend part",
		"assignee_id":   "u2",
	}, &child)
	if status != http.StatusCreated {
		t.Fatalf("split: got %d (%v)", status, child)
	}
	childID := child["id"].(string)

	status = doJSON(t, http.MethodPost, ts.BaseURL+"/v0/requests/"+childID+"/attachments", asActor("u2"), map[string]any{
		"origin":    "reception",
		"file_name": "estimate.xlsx",
	}, nil)
	if status != http.StatusCreated {
		t.Fatalf("attach: got %d", status)
	}

	var tree map[string]any
	status = doJSON(t, http.MethodGet, ts.BaseURL+"/v0/requests/"+childID+"/tree", asActor("u1"), nil, &tree)
	if status != http.StatusOK {
		t.Fatalf("tree: got %d", status)
	}
	root, _ := tree["root"].(map[string]any)
	if root["id"] != rootID {
		t.Fatalf("tree root mismatch: %v", tree)
	}
	children, _ := tree["children"].([]any)
	if len(children) != 1 {
		t.Fatalf("expected 1 child in tree, got %d", len(children))
	}

	// attachment added to the child is visible from the root
	var atts []map[string]any
	status = doJSON(t, http.MethodGet, ts.BaseURL+"/v0/requests/"+rootID+"/attachments", asActor("u1"), nil, &atts)
	if status != http.StatusOK || len(atts) != 1 {
		t.Fatalf("attachments: status %d, %d entries", status, len(atts))
	}
}

func TestRequestPagination(t *testing.T) {
	ts := newTestServer(t)
	for i := 0; i < 3; i++ {
		createViaAPI(t, ts, fmt.Sprintf("u%d", i))
	}
	var page map[string]any
	status := doJSON(t, http.MethodGet, ts.BaseURL+"/v0/requests?limit=2", asActor("u1"), nil, &page)
	if status != http.StatusOK {
		t.Fatalf("list: got %d", status)
	}
	items, _ := page["items"].([]any)
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	cursor, _ := page["next_cursor"].(string)
	if cursor == "" {
		t.Fatalf("expected next_cursor on a truncated page")
	}
	var rest map[string]any
	status = doJSON(t, http.MethodGet, ts.BaseURL+"/v0/requests?limit=2&cursor="+cursor, asActor("u1"), nil, &rest)
	if status != http.StatusOK {
		t.Fatalf("second page: got %d", status)
	}
	items, _ = rest["items"].([]any)
	if len(items) != 1 {
		t.Fatalf("expected 1 item on second page, got %d", len(items))
	}
	if _, ok := rest["next_cursor"].(string); ok && rest["next_cursor"] != "" {
		t.Fatalf("last page must not carry a cursor")
	}
}

func TestCodesEndpoint(t *testing.T) {
	ts := newTestServer(t)
	var codes []map[string]any
	status := doJSON(t, http.MethodGet, ts.BaseURL+"/v0/codes/request_types", asActor("u1"), nil, &codes)
	if status != http.StatusOK || len(codes) == 0 {
		t.Fatalf("codes: status %d, %d entries", status, len(codes))
	}
	var errResp map[string]any
	status = doJSON(t, http.MethodGet, ts.BaseURL+"/v0/codes/nonexistent", asActor("u1"), nil, &errResp)
	if status != http.StatusNotFound {
		t.Fatalf("unknown group: expected 404, got %d", status)
	}
}

func TestAPIKeyAuthentication(t *testing.T) {
	ts := newTestServer(t)
	var keyResp map[string]any
	status := doJSON(t, http.MethodPost, ts.BaseURL+"/v0/apikeys", asActor("admin"), map[string]any{
		"actor_id": "svc-bot",
		"name":     "integration",
	}, &keyResp)
	if status != http.StatusCreated {
		t.Fatalf("create api key: got %d (%v)", status, keyResp)
	}
	rawKey, _ := keyResp["key"].(string)
	if rawKey == "" {
		t.Fatalf("expected one-time raw key in response")
	}

	var created map[string]any
	status = doJSON(t, http.MethodPost, ts.BaseURL+"/v0/requests", map[string]string{
		"X-Api-Key": rawKey,
	}, map[string]any{
		"type": "enhancement",
	}, &created)
	if status != http.StatusCreated {
		t.Fatalf("create with api key: got %d (%v)", status, created)
	}
	if created["assignee_id"] != "svc-bot" {
		t.Fatalf("expected key's actor as assignee, got %v", created["assignee_id"])
	}

	var errResp map[string]any
	status = doJSON(t, http.MethodPost, ts.BaseURL+"/v0/requests", map[string]string{
		"X-Api-Key": "not-a-key",
	}, map[string]any{"type": "enhancement"}, &errResp)
	if status != http.StatusUnauthorized {
		t.Fatalf("bad api key: expected 401, got %d", status)
	}
}

func TestInvalidTypeHTTP(t *testing.T) {
	ts := newTestServer(t)
	var errResp map[string]any
	status := doJSON(t, http.MethodPost, ts.BaseURL+"/v0/requests", asActor("u1"), map[string]any{
		"type": "not-a-type",
	}, &errResp)
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d (%v)", status, errResp)
	}
	inner, _ := errResp["error"].(map[string]any)
	if inner["code"] != "invalid_type" {
		t.Fatalf("expected invalid_type code, got %v", errResp)
	}
}
