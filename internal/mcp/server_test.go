package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"steward/internal/config"
	"steward/internal/db"
	"steward/internal/domain"
	"steward/internal/engine"
	"steward/internal/migrate"
	"steward/internal/repo"
)

const (
	testOrg  = "org-1"
	otherOrg = "org-2"
	ownerID  = "alice"
	mcpID    = "desk-connector"
)

func newTestGateway(t *testing.T) (*Gateway, context.Context) {
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
	for _, org := range []string{testOrg, otherOrg} {
		if err := eng.Repo.InsertOrganization(ctx, domain.Organization{ID: org, Name: org, CreatedAt: now}); err != nil {
			t.Fatalf("seed org: %v", err)
		}
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
	return NewGateway(eng, nil), ctx
}

func userCaller(id string) Caller {
	return Caller{Actor: domain.UserActor(id), UserID: id}
}

func mcpCaller(id string) Caller {
	return Caller{Actor: domain.MCPActor(id), UserID: id}
}

func decodeOne(t *testing.T, body []byte) rpcResponse {
	t.Helper()
	var resp rpcResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("decode response: %v\n%s", err, body)
	}
	return resp
}

func decodeBatch(t *testing.T, body []byte) []rpcResponse {
	t.Helper()
	var resps []rpcResponse
	if err := json.Unmarshal(body, &resps); err != nil {
		t.Fatalf("decode batch: %v\n%s", err, body)
	}
	return resps
}

// resultAs re-marshals a decoded result into its concrete type. Handle
// returns bytes, so structured results come back as generic maps.
func resultAs(t *testing.T, resp rpcResponse, dst any) {
	t.Helper()
	if resp.Error != nil {
		t.Fatalf("expected result, got error %+v", resp.Error)
	}
	raw, err := json.Marshal(resp.Result)
	if err != nil {
		t.Fatalf("re-marshal result: %v", err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		t.Fatalf("decode result: %v", err)
	}
}

func errData(t *testing.T, resp rpcResponse) map[string]any {
	t.Helper()
	if resp.Error == nil {
		t.Fatalf("expected error, got result %v", resp.Result)
	}
	data, _ := resp.Error.Data.(map[string]any)
	return data
}

func call(id int, tool string, args string) string {
	return fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"method":"tools/call","params":{"name":%q,"arguments":%s}}`, id, tool, args)
}

func TestParseErrorOnMalformedBody(t *testing.T) {
	g, ctx := newTestGateway(t)
	resp := decodeOne(t, g.Handle(ctx, userCaller(ownerID), []byte(`{"jsonrpc":`)))
	if resp.Error == nil || resp.Error.Code != codeParse {
		t.Fatalf("error = %+v", resp.Error)
	}
	if string(resp.ID) != "null" {
		t.Fatalf("id = %s", resp.ID)
	}
}

func TestEmptyBatchIsInvalidRequest(t *testing.T) {
	g, ctx := newTestGateway(t)
	resp := decodeOne(t, g.Handle(ctx, userCaller(ownerID), []byte(`[]`)))
	if resp.Error == nil || resp.Error.Code != codeInvalidRequest {
		t.Fatalf("error = %+v", resp.Error)
	}
}

func TestWrongVersionRejected(t *testing.T) {
	g, ctx := newTestGateway(t)
	resp := decodeOne(t, g.Handle(ctx, userCaller(ownerID), []byte(`{"jsonrpc":"1.0","id":1,"method":"tools/list"}`)))
	if resp.Error == nil || resp.Error.Code != codeInvalidRequest {
		t.Fatalf("error = %+v", resp.Error)
	}
}

func TestNonStringMethodIsInvalidRequest(t *testing.T) {
	g, ctx := newTestGateway(t)
	resp := decodeOne(t, g.Handle(ctx, userCaller(ownerID), []byte(`{"jsonrpc":"2.0","id":1,"method":123}`)))
	if resp.Error == nil || resp.Error.Code != codeInvalidRequest {
		t.Fatalf("error = %+v", resp.Error)
	}
	if string(resp.ID) != "1" {
		t.Fatalf("id = %s", resp.ID)
	}
}

func TestMalformedNotificationIsDropped(t *testing.T) {
	g, ctx := newTestGateway(t)
	if out := g.Handle(ctx, userCaller(ownerID), []byte(`{"jsonrpc":"2.0","method":123}`)); out != nil {
		t.Fatalf("malformed notification answered: %s", out)
	}
	body := `[{"jsonrpc":"2.0","method":123},` + call(3, "property_list", `{"organizationId":"org-1"}`) + "]"
	resps := decodeBatch(t, g.Handle(ctx, userCaller(ownerID), []byte(body)))
	if len(resps) != 1 || string(resps[0].ID) != "3" {
		t.Fatalf("responses = %+v", resps)
	}
}

func TestMethodNotFound(t *testing.T) {
	g, ctx := newTestGateway(t)
	resp := decodeOne(t, g.Handle(ctx, userCaller(ownerID), []byte(`{"jsonrpc":"2.0","id":7,"method":"resources/list"}`)))
	if resp.Error == nil || resp.Error.Code != codeMethodNotFound {
		t.Fatalf("error = %+v", resp.Error)
	}
	if string(resp.ID) != "7" {
		t.Fatalf("id = %s", resp.ID)
	}
}

func TestUnknownTool(t *testing.T) {
	g, ctx := newTestGateway(t)
	resp := decodeOne(t, g.Handle(ctx, userCaller(ownerID), []byte(call(1, "tenant_list", `{"organizationId":"org-1"}`))))
	if resp.Error == nil || resp.Error.Code != codeInvalidParams {
		t.Fatalf("error = %+v", resp.Error)
	}
}

func TestInitializeHandshake(t *testing.T) {
	g, ctx := newTestGateway(t)
	resp := decodeOne(t, g.Handle(ctx, userCaller(ownerID), []byte(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`)))
	if resp.Error != nil {
		t.Fatalf("initialize: %+v", resp.Error)
	}
	result := resp.Result.(map[string]any)
	if result["protocolVersion"] != protocolVersion {
		t.Fatalf("protocolVersion = %v", result["protocolVersion"])
	}
}

func TestToolsListIsComplete(t *testing.T) {
	g, ctx := newTestGateway(t)
	resp := decodeOne(t, g.Handle(ctx, userCaller(ownerID), []byte(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)))
	if resp.Error != nil {
		t.Fatalf("tools/list: %+v", resp.Error)
	}
	result := resp.Result.(map[string]any)
	tools := result["tools"].([]any)
	if len(tools) != len(g.handlers) {
		t.Fatalf("advertised %d tools, registered %d handlers", len(tools), len(g.handlers))
	}
	for _, raw := range tools {
		name := raw.(map[string]any)["name"].(string)
		if _, ok := g.handlers[name]; !ok {
			t.Fatalf("tool %s advertised but not registered", name)
		}
	}
}

func TestBatchOrderAndNotificationSkipping(t *testing.T) {
	g, ctx := newTestGateway(t)
	body := "[" +
		call(1, "property_list", `{"organizationId":"org-1"}`) + "," +
		`{"jsonrpc":"2.0","method":"tools/list"}` + "," +
		call(2, "vendor_list", `{"organizationId":"org-1"}`) +
		"]"
	resps := decodeBatch(t, g.Handle(ctx, userCaller(ownerID), []byte(body)))
	if len(resps) != 2 {
		t.Fatalf("got %d responses, want 2", len(resps))
	}
	if string(resps[0].ID) != "1" || string(resps[1].ID) != "2" {
		t.Fatalf("ids = %s, %s", resps[0].ID, resps[1].ID)
	}
	for _, r := range resps {
		if r.Error != nil {
			t.Fatalf("batch entry failed: %+v", r.Error)
		}
	}
}

func TestToolsAreDirectMethods(t *testing.T) {
	g, ctx := newTestGateway(t)
	now := "2024-01-01T00:00:00Z"
	if err := g.Repo.InsertProperty(ctx, domain.Property{ID: "prop-1", OrgID: testOrg, Name: "Mill", Kind: "commercial", Status: "active", CreatedAt: now, UpdatedAt: now}); err != nil {
		t.Fatalf("seed property: %v", err)
	}

	resp := decodeOne(t, g.Handle(ctx, userCaller(ownerID), []byte(`{"jsonrpc":"2.0","id":5,"method":"property_list","params":{"organizationId":"org-1"}}`)))
	var result struct {
		Items []domain.Property `json:"items"`
	}
	resultAs(t, resp, &result)
	if len(result.Items) != 1 || result.Items[0].ID != "prop-1" {
		t.Fatalf("items = %+v", result.Items)
	}
	if string(resp.ID) != "5" {
		t.Fatalf("id = %s", resp.ID)
	}

	// errors go through the same classifier as tools/call
	resp = decodeOne(t, g.Handle(ctx, userCaller(ownerID), []byte(`{"jsonrpc":"2.0","id":6,"method":"property_get","params":{"organizationId":"org-1","id":"nope"}}`)))
	if resp.Error == nil || resp.Error.Code != codeInvalidParams {
		t.Fatalf("error = %+v", resp.Error)
	}
}

func TestAllNotificationBatchHasNoBody(t *testing.T) {
	g, ctx := newTestGateway(t)
	body := `[{"jsonrpc":"2.0","method":"tools/list"},{"jsonrpc":"2.0","id":null,"method":"initialize"}]`
	if out := g.Handle(ctx, userCaller(ownerID), []byte(body)); out != nil {
		t.Fatalf("expected no response body, got %s", out)
	}
}

func TestNotificationErrorsAreSilent(t *testing.T) {
	g, ctx := newTestGateway(t)
	if out := g.Handle(ctx, userCaller(ownerID), []byte(`{"jsonrpc":"2.0","method":"no/such"}`)); out != nil {
		t.Fatalf("notification answered: %s", out)
	}
}

func TestInvalidBatchEntryStillAnswered(t *testing.T) {
	g, ctx := newTestGateway(t)
	body := "[" + call(1, "property_list", `{"organizationId":"org-1"}`) + `,42]`
	resps := decodeBatch(t, g.Handle(ctx, userCaller(ownerID), []byte(body)))
	if len(resps) != 2 {
		t.Fatalf("got %d responses, want 2", len(resps))
	}
	if resps[1].Error == nil || resps[1].Error.Code != codeInvalidRequest {
		t.Fatalf("entry error = %+v", resps[1].Error)
	}
}

func TestCrossOrgAccessIsHidden(t *testing.T) {
	g, ctx := newTestGateway(t)
	resp := decodeOne(t, g.Handle(ctx, userCaller(ownerID), []byte(call(1, "property_list", `{"organizationId":"org-2"}`))))
	if resp.Error == nil || resp.Error.Code != codeInternal {
		t.Fatalf("error = %+v", resp.Error)
	}
	if data := errData(t, resp); data["reason"] != "forbidden" {
		t.Fatalf("data = %v", data)
	}
}

func TestCrossOrgReferenceRejected(t *testing.T) {
	g, ctx := newTestGateway(t)
	now := "2024-01-01T00:00:00Z"
	prop := domain.Property{ID: "prop-far", OrgID: otherOrg, Name: "Far Mill", Kind: "commercial", Status: "active", CreatedAt: now, UpdatedAt: now}
	if err := g.Repo.InsertProperty(ctx, prop); err != nil {
		t.Fatalf("seed property: %v", err)
	}

	args := `{"organizationId":"org-1","reasoningSummary":"fix roof","data":{"property_id":"prop-far","title":"Roof repair"}}`
	resp := decodeOne(t, g.Handle(ctx, userCaller(ownerID), []byte(call(1, "draft_create_maintenance", args))))
	if resp.Error == nil || resp.Error.Code != codeInvalidParams {
		t.Fatalf("error = %+v", resp.Error)
	}
	if data := errData(t, resp); data["field"] != "property_id" {
		t.Fatalf("data = %v", data)
	}
}

func TestMissingOrganizationID(t *testing.T) {
	g, ctx := newTestGateway(t)
	resp := decodeOne(t, g.Handle(ctx, userCaller(ownerID), []byte(call(1, "maintenance_list", `{}`))))
	if resp.Error == nil || resp.Error.Code != codeInvalidParams {
		t.Fatalf("error = %+v", resp.Error)
	}
	if data := errData(t, resp); data["field"] != "organizationId" {
		t.Fatalf("data = %v", data)
	}
}

func TestDraftMissingReasoningWritesNothing(t *testing.T) {
	g, ctx := newTestGateway(t)
	args := `{"organizationId":"org-1","data":{"name":"Unit 4B","kind":"residential"}}`
	resp := decodeOne(t, g.Handle(ctx, mcpCaller(mcpID), []byte(call(1, "draft_create_property", args))))
	if resp.Error == nil || resp.Error.Code != codeInvalidParams {
		t.Fatalf("error = %+v", resp.Error)
	}
	if data := errData(t, resp); data["field"] != "reasoningSummary" {
		t.Fatalf("data = %v", data)
	}
	drafts, err := g.Repo.ListProposals(ctx, testOrg, "", repo.ListPage{})
	if err != nil {
		t.Fatalf("list proposals: %v", err)
	}
	if len(drafts) != 0 {
		t.Fatalf("%d proposals persisted after rejected draft", len(drafts))
	}
}

func TestDraftCreateViaToolsCall(t *testing.T) {
	g, ctx := newTestGateway(t)
	args := `{"organizationId":"org-1","reasoningSummary":"onboarding","confidence":0.9,"data":{"name":"Unit 4B","kind":"residential"}}`
	resp := decodeOne(t, g.Handle(ctx, mcpCaller(mcpID), []byte(call(1, "draft_create_property", args))))
	var draft domain.Proposal
	resultAs(t, resp, &draft)
	if draft.Status != domain.ProposalPending {
		t.Fatalf("status = %s", draft.Status)
	}
	if draft.Author.Kind != domain.ActorMCP || draft.Author.ID != mcpID {
		t.Fatalf("author = %+v", draft.Author)
	}

	stored, err := g.Repo.GetProposal(ctx, testOrg, draft.ID)
	if err != nil {
		t.Fatalf("get proposal: %v", err)
	}
	if stored.Reasoning != "onboarding" {
		t.Fatalf("reasoning = %q", stored.Reasoning)
	}
}

func TestAgentContextPromotesAuthor(t *testing.T) {
	g, ctx := newTestGateway(t)
	args := `{"organizationId":"org-1","reasoningSummary":"inspection note","agentContext":{"label":"site-agent","tool":"inspect","runId":"run-9"},"data":{"body":"Boiler inspected, all clear."}}`
	resp := decodeOne(t, g.Handle(ctx, mcpCaller(mcpID), []byte(call(1, "draft_create_note", args))))
	var draft domain.Proposal
	resultAs(t, resp, &draft)
	if draft.Author.Kind != domain.ActorAgent {
		t.Fatalf("author kind = %s", draft.Author.Kind)
	}
	if draft.Author.ID != mcpID || draft.Author.Label != "site-agent" || draft.Author.RunID != "run-9" {
		t.Fatalf("author = %+v", draft.Author)
	}
}

func TestAgentContextIgnoredForUsers(t *testing.T) {
	g, ctx := newTestGateway(t)
	args := `{"organizationId":"org-1","reasoningSummary":"manual entry","agentContext":{"label":"x","tool":"y","runId":"z"},"data":{"body":"Called the plumber."}}`
	resp := decodeOne(t, g.Handle(ctx, userCaller(ownerID), []byte(call(1, "draft_create_note", args))))
	var draft domain.Proposal
	resultAs(t, resp, &draft)
	if draft.Author.Kind != domain.ActorUser || draft.Author.ID != ownerID {
		t.Fatalf("author = %+v", draft.Author)
	}
}

func TestDraftUpdateRequiresEntityID(t *testing.T) {
	g, ctx := newTestGateway(t)
	args := `{"organizationId":"org-1","reasoningSummary":"close it","data":{"status":"completed"}}`
	resp := decodeOne(t, g.Handle(ctx, userCaller(ownerID), []byte(call(1, "draft_update_maintenance", args))))
	if resp.Error == nil || resp.Error.Code != codeInvalidParams {
		t.Fatalf("error = %+v", resp.Error)
	}
	if data := errData(t, resp); data["field"] != "entityId" {
		t.Fatalf("data = %v", data)
	}
}

func TestUnknownPayloadFieldRejected(t *testing.T) {
	g, ctx := newTestGateway(t)
	args := `{"organizationId":"org-1","reasoningSummary":"seed","data":{"name":"Unit 4B","kind":"residential","price":950}}`
	resp := decodeOne(t, g.Handle(ctx, userCaller(ownerID), []byte(call(1, "draft_create_property", args))))
	if resp.Error == nil || resp.Error.Code != codeInvalidParams {
		t.Fatalf("error = %+v", resp.Error)
	}
	if data := errData(t, resp); data["field"] != "price" {
		t.Fatalf("data = %v", data)
	}
}

func TestGetMissingEntity(t *testing.T) {
	g, ctx := newTestGateway(t)
	resp := decodeOne(t, g.Handle(ctx, userCaller(ownerID), []byte(call(1, "property_get", `{"organizationId":"org-1","id":"nope"}`))))
	if resp.Error == nil || resp.Error.Code != codeInvalidParams {
		t.Fatalf("error = %+v", resp.Error)
	}
	if data := errData(t, resp); data["reason"] != "not found" {
		t.Fatalf("data = %v", data)
	}
}

func TestOrgListScopedToCaller(t *testing.T) {
	g, ctx := newTestGateway(t)
	resp := decodeOne(t, g.Handle(ctx, userCaller(ownerID), []byte(`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"org_list","arguments":{}}}`)))
	var result struct {
		Items []domain.Organization `json:"items"`
	}
	resultAs(t, resp, &result)
	if len(result.Items) != 1 || result.Items[0].ID != testOrg {
		t.Fatalf("orgs = %+v", result.Items)
	}
}
