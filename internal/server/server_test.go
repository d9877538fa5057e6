package server_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"steward/internal/config"
	"steward/internal/db"
	"steward/internal/domain"
	"steward/internal/engine"
	"steward/internal/mcp"
	"steward/internal/migrate"
	"steward/internal/repo"
	"steward/internal/server"
)

const (
	testOrg    = "org-1"
	ownerID    = "alice"
	mcpID      = "desk-connector"
	jwtSecret  = "test-secret"
	testAPIKey = "sk-local-test"
)

type httpEnv struct {
	Engine engine.Engine
	Server *httptest.Server
	Ctx    context.Context
}

func newHTTPEnv(t *testing.T) httpEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default())
	ctx := context.Background()
	now := "2024-01-01T00:00:00Z"
	if err := eng.Repo.InsertOrganization(ctx, domain.Organization{ID: testOrg, Name: testOrg, CreatedAt: now}); err != nil {
		t.Fatalf("seed org: %v", err)
	}
	members := []domain.Membership{
		{OrgID: testOrg, UserID: ownerID, Role: "owner", CreatedAt: now},
		{OrgID: testOrg, UserID: mcpID, Role: "agent", CreatedAt: now},
	}
	for _, m := range members {
		if err := eng.Repo.UpsertMembership(ctx, m); err != nil {
			t.Fatalf("seed member: %v", err)
		}
	}
	if err := eng.Repo.InsertAPIKey(ctx, domain.APIKey{
		ID:        "key-1",
		CallerID:  mcpID,
		Name:      "test key",
		KeyHash:   repo.HashAPIKey(testAPIKey),
		CreatedAt: now,
	}); err != nil {
		t.Fatalf("seed api key: %v", err)
	}

	handler, err := server.New(server.Config{
		Engine:  eng,
		Gateway: mcp.NewGateway(eng, nil),
		Auth:    server.AuthConfig{JWTSecret: jwtSecret},
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return httpEnv{Engine: eng, Server: srv, Ctx: ctx}
}

func mintToken(t *testing.T, subject string) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(jwtSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func do(t *testing.T, env httpEnv, method, path, token string, body string) (*http.Response, []byte) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, env.Server.URL+path, rd)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := env.Server.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	data, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, data
}

func errorCode(t *testing.T, body []byte) string {
	t.Helper()
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		t.Fatalf("decode error body: %v\n%s", err, body)
	}
	return envelope.Error.Code
}

func seedDraft(t *testing.T, env httpEnv) domain.Proposal {
	t.Helper()
	p, err := env.Engine.CreateDraft(env.Ctx, engine.DraftOptions{
		OrgID:        testOrg,
		Reasoning:    "bulk onboarding",
		Author:       domain.MCPActor(mcpID),
		CallerUserID: mcpID,
		Operations: []domain.Operation{{
			Verb:       domain.VerbCreate,
			EntityType: domain.EntityProperty,
			Data:       map[string]any{"name": "Unit 4B", "kind": "residential"},
		}},
	})
	if err != nil {
		t.Fatalf("seed draft: %v", err)
	}
	return p
}

func TestHealthNeedsNoAuth(t *testing.T) {
	env := newHTTPEnv(t)
	resp, body := do(t, env, http.MethodGet, "/v0/health", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d\n%s", resp.StatusCode, body)
	}
}

func TestUnauthenticatedRequestsRejected(t *testing.T) {
	env := newHTTPEnv(t)
	resp, _ := do(t, env, http.MethodGet, "/v0/orgs/org-1/drafts", "", "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("no credentials: status = %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, env.Server.URL+"/v0/orgs/org-1/drafts", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	resp2, err := env.Server.Client().Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusUnauthorized {
		t.Fatalf("garbage token: status = %d", resp2.StatusCode)
	}
}

func TestApproveOverREST(t *testing.T) {
	env := newHTTPEnv(t)
	draft := seedDraft(t, env)
	token := mintToken(t, ownerID)

	resp, body := do(t, env, http.MethodPost, "/v0/orgs/"+testOrg+"/drafts/"+draft.ID+"/approve", token, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("approve: status = %d\n%s", resp.StatusCode, body)
	}
	var out struct {
		Draft   domain.Proposal    `json:"draft"`
		Applied []domain.EntityRef `json:"applied"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode approve body: %v\n%s", err, body)
	}
	if out.Draft.Status != domain.ProposalApplied {
		t.Fatalf("status = %s", out.Draft.Status)
	}
	if len(out.Applied) != 1 || out.Applied[0].EntityType != domain.EntityProperty {
		t.Fatalf("applied = %+v", out.Applied)
	}

	resp2, body2 := do(t, env, http.MethodPost, "/v0/orgs/"+testOrg+"/drafts/"+draft.ID+"/approve", token, "")
	if resp2.StatusCode != http.StatusConflict {
		t.Fatalf("second approve: status = %d\n%s", resp2.StatusCode, body2)
	}
	if code := errorCode(t, body2); code != "already_resolved" {
		t.Fatalf("code = %s", code)
	}
}

func TestRejectWithReasonOverREST(t *testing.T) {
	env := newHTTPEnv(t)
	draft := seedDraft(t, env)
	token := mintToken(t, ownerID)

	resp, body := do(t, env, http.MethodPost, "/v0/orgs/"+testOrg+"/drafts/"+draft.ID+"/reject", token, `{"reason":"duplicate entry"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("reject: status = %d\n%s", resp.StatusCode, body)
	}
	var out domain.Proposal
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode reject body: %v", err)
	}
	if out.Status != domain.ProposalRejected {
		t.Fatalf("status = %s", out.Status)
	}
	if !strings.Contains(out.Summary, "Rejected: duplicate entry") {
		t.Fatalf("summary = %q", out.Summary)
	}
}

func TestAuditExposesChangedPaths(t *testing.T) {
	env := newHTTPEnv(t)
	draft := seedDraft(t, env)
	token := mintToken(t, ownerID)
	if resp, body := do(t, env, http.MethodPost, "/v0/orgs/"+testOrg+"/drafts/"+draft.ID+"/approve", token, ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("approve: status = %d\n%s", resp.StatusCode, body)
	}

	resp, body := do(t, env, http.MethodGet, "/v0/orgs/"+testOrg+"/audit?entity_type="+domain.EntityProperty, token, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("audit: status = %d\n%s", resp.StatusCode, body)
	}
	var out struct {
		Items []struct {
			EntityType   string   `json:"entity_type"`
			Action       string   `json:"action"`
			ChangedPaths []string `json:"changed_paths"`
		} `json:"items"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode audit body: %v\n%s", err, body)
	}
	if len(out.Items) != 1 {
		t.Fatalf("audit records = %d", len(out.Items))
	}
	rec := out.Items[0]
	if rec.Action != domain.AuditCreate {
		t.Fatalf("action = %s", rec.Action)
	}
	found := false
	for _, p := range rec.ChangedPaths {
		if p == "name" {
			found = true
		}
	}
	if !found {
		t.Fatalf("changed_paths = %v", rec.ChangedPaths)
	}
}

func TestTimelineAfterApply(t *testing.T) {
	env := newHTTPEnv(t)
	draft := seedDraft(t, env)
	token := mintToken(t, ownerID)
	if resp, body := do(t, env, http.MethodPost, "/v0/orgs/"+testOrg+"/drafts/"+draft.ID+"/approve", token, ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("approve: status = %d\n%s", resp.StatusCode, body)
	}

	resp, body := do(t, env, http.MethodGet, "/v0/orgs/"+testOrg+"/timeline", token, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("timeline: status = %d\n%s", resp.StatusCode, body)
	}
	var out struct {
		Items []domain.TimelineEntry `json:"items"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode timeline body: %v", err)
	}
	if len(out.Items) != 1 {
		t.Fatalf("timeline entries = %d", len(out.Items))
	}
	entry := out.Items[0]
	if entry.Actor.Kind != domain.ActorMCP || entry.Actor.ID != mcpID {
		t.Fatalf("timeline actor = %+v", entry.Actor)
	}
	if entry.ProposalID == nil || *entry.ProposalID != draft.ID {
		t.Fatalf("proposal link = %v", entry.ProposalID)
	}
}

func TestDraftNotFound(t *testing.T) {
	env := newHTTPEnv(t)
	token := mintToken(t, ownerID)
	resp, body := do(t, env, http.MethodGet, "/v0/orgs/"+testOrg+"/drafts/nope", token, "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d\n%s", resp.StatusCode, body)
	}
}

func TestRPCWithAPIKey(t *testing.T) {
	env := newHTTPEnv(t)

	req, _ := http.NewRequest(http.MethodPost, env.Server.URL+"/rpc", strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	req.Header.Set("X-Api-Key", testAPIKey)
	req.Header.Set("Content-Type", "application/json")
	resp, err := env.Server.Client().Do(req)
	if err != nil {
		t.Fatalf("rpc: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d\n%s", resp.StatusCode, body)
	}
	var rpcOut struct {
		Result struct {
			Tools []json.RawMessage `json:"tools"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &rpcOut); err != nil {
		t.Fatalf("decode rpc body: %v\n%s", err, body)
	}
	if len(rpcOut.Result.Tools) == 0 {
		t.Fatal("no tools advertised")
	}
}

func TestRPCNotificationGets204(t *testing.T) {
	env := newHTTPEnv(t)
	req, _ := http.NewRequest(http.MethodPost, env.Server.URL+"/rpc", strings.NewReader(`{"jsonrpc":"2.0","method":"tools/list"}`))
	req.Header.Set("X-Api-Key", testAPIKey)
	resp, err := env.Server.Client().Do(req)
	if err != nil {
		t.Fatalf("rpc: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestRPCUnauthenticated(t *testing.T) {
	env := newHTTPEnv(t)
	resp, err := env.Server.Client().Post(env.Server.URL+"/rpc", "application/json", strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	if err != nil {
		t.Fatalf("rpc: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}
