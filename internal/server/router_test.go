package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"fund-connect/internal/auth"
	"fund-connect/internal/funds"
	"fund-connect/internal/hub"
	"fund-connect/internal/identity"
	"fund-connect/internal/messaging"
	"fund-connect/internal/metrics"
	"fund-connect/internal/middleware"
	"fund-connect/internal/store/storetest"
)

var testTokenConfig = auth.TokenConfig{Secret: "secret", Expiry: time.Hour, Issuer: "test"}

type testEnv struct {
	t         *testing.T
	router    *gin.Engine
	hub       *hub.Hub
	messaging *messaging.Service
}

func newTestEnv(t *testing.T, messageLimit int) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st := storetest.New(t)
	m := metrics.New()
	h := hub.New(m)
	ids := identity.NewService(st, identity.Options{Metrics: m})
	msgs := messaging.NewService(st, ids, messaging.Options{Publisher: h, Metrics: m})
	fs := funds.NewService(st, ids, funds.Options{})

	limiter := middleware.NewRateLimiter(messageLimit, time.Minute)
	t.Cleanup(limiter.Close)

	r := NewRouter(Deps{
		Identity:       ids,
		Messaging:      msgs,
		Funds:          fs,
		Hub:            h,
		TokenConfig:    testTokenConfig,
		MessageLimiter: limiter,
		Metrics:        m,
		Ready:          st.Ping,
	})
	return &testEnv{t: t, router: r, hub: h, messaging: msgs}
}

func (e *testEnv) token(userID string) string {
	e.t.Helper()
	tok, err := auth.CreateToken(userID, testTokenConfig)
	if err != nil {
		e.t.Fatalf("CreateToken: %v", err)
	}
	return tok
}

// do sends a request as userID (anonymous when empty) and decodes the JSON
// response into out when out is non-nil.
func (e *testEnv) do(method, path, userID string, body any, out any) int {
	e.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			e.t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+e.token(userID))
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	if out != nil {
		if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
			e.t.Fatalf("%s %s: unmarshal %q: %v", method, path, w.Body.String(), err)
		}
	}
	return w.Code
}

func (e *testEnv) assignRole(userID, role string, extra map[string]any) {
	e.t.Helper()
	body := map[string]any{"userId": userID, "role": role, "name": userID}
	for k, v := range extra {
		body[k] = v
	}
	var resp map[string]any
	if code := e.do(http.MethodPost, "/assign-role", userID, body, &resp); code != http.StatusOK {
		e.t.Fatalf("assign-role %s: expected 200, got %d: %v", userID, code, resp)
	}
}

func TestHealthAndMetricsAreOpen(t *testing.T) {
	env := newTestEnv(t, 10)

	var health map[string]any
	if code := env.do(http.MethodGet, "/health", "", nil, &health); code != http.StatusOK || health["ok"] != true {
		t.Fatalf("unexpected health response %d %v", code, health)
	}

	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "fundconnect_http_requests_total") {
		t.Fatalf("unexpected metrics response %d", w.Code)
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	env := newTestEnv(t, 10)
	for _, path := range []string{"/check-role?userId=u1", "/get-all-agents", "/v1/me", "/v1/conversations", "/v1/funds"} {
		var resp map[string]any
		if code := env.do(http.MethodGet, path, "", nil, &resp); code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", path, code)
		}
		if resp["error"] != "Invalid authentication token" {
			t.Fatalf("%s: unexpected body %v", path, resp)
		}
	}
}

func TestAssignAndCheckRole(t *testing.T) {
	env := newTestEnv(t, 10)

	var check map[string]any
	if code := env.do(http.MethodGet, "/check-role", "u1", nil, &check); code != http.StatusBadRequest {
		t.Fatalf("expected 400 without userId, got %d", code)
	}

	var resp map[string]any
	code := env.do(http.MethodPost, "/assign-role", "u1", map[string]any{"userId": "u2", "role": "agent"}, &resp)
	if code != http.StatusForbidden {
		t.Fatalf("expected 403 for another user, got %d: %v", code, resp)
	}

	code = env.do(http.MethodPost, "/assign-role", "u1", map[string]any{"userId": "u1", "role": "wizard"}, &resp)
	if code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown role, got %d", code)
	}

	for i, wantCreated := range []bool{true, false} {
		resp = nil
		code = env.do(http.MethodPost, "/assign-role", "u1", map[string]any{"userId": "u1", "role": "agent", "name": "Alice", "firm": "Acme"}, &resp)
		if code != http.StatusOK {
			t.Fatalf("attempt %d: expected 200, got %d: %v", i, code, resp)
		}
		if resp["success"] != true || resp["created"] != wantCreated || resp["role"] != "agent" {
			t.Fatalf("attempt %d: unexpected body %v", i, resp)
		}
	}

	code = env.do(http.MethodPost, "/assign-role", "u1", map[string]any{"userId": "u1", "role": "investor"}, &resp)
	if code != http.StatusConflict {
		t.Fatalf("expected 409 for the other role, got %d", code)
	}

	check = nil
	if code := env.do(http.MethodGet, "/check-role?userId=u1", "u1", nil, &check); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if check["isAgent"] != true || check["isInvestor"] != false || check["agentData"] == nil {
		t.Fatalf("unexpected check-role body %v", check)
	}

	var agents []map[string]any
	if code := env.do(http.MethodGet, "/get-all-agents", "u1", nil, &agents); code != http.StatusOK || len(agents) != 1 {
		t.Fatalf("expected one agent, got %d %v", code, agents)
	}

	var me map[string]any
	if code := env.do(http.MethodGet, "/v1/me", "u1", nil, &me); code != http.StatusOK || me["role"] != "agent" {
		t.Fatalf("unexpected /v1/me %d %v", code, me)
	}
}

func TestConversationFlow(t *testing.T) {
	env := newTestEnv(t, 10)
	env.assignRole("agent-1", "agent", nil)
	env.assignRole("investor-1", "investor", map[string]any{"introducingAgentId": "agent-1"})
	env.assignRole("agent-2", "agent", nil)

	var opened struct {
		Conversation struct {
			ID string `json:"id"`
		} `json:"conversation"`
		Created bool `json:"created"`
	}
	code := env.do(http.MethodPost, "/v1/conversations", "investor-1", map[string]any{"counterpartId": "agent-1"}, &opened)
	if code != http.StatusCreated || !opened.Created {
		t.Fatalf("expected 201 created, got %d %+v", code, opened)
	}
	convID := opened.Conversation.ID

	code = env.do(http.MethodPost, "/v1/conversations", "agent-1", map[string]any{"counterpartId": "investor-1"}, &opened)
	if code != http.StatusOK || opened.Created || opened.Conversation.ID != convID {
		t.Fatalf("expected the existing conversation, got %d %+v", code, opened)
	}

	var errBody map[string]any
	if code := env.do(http.MethodPost, "/v1/conversations/"+convID+"/messages", "investor-1", map[string]any{"content": "   "}, &errBody); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for blank content, got %d", code)
	}

	for _, text := range []string{"hello", "are you there?"} {
		var sent map[string]any
		if code := env.do(http.MethodPost, "/v1/conversations/"+convID+"/messages", "investor-1", map[string]any{"content": text}, &sent); code != http.StatusCreated {
			t.Fatalf("expected 201, got %d %v", code, sent)
		}
	}
	var reply map[string]any
	if code := env.do(http.MethodPost, "/v1/conversations/"+convID+"/messages", "agent-1", map[string]any{"content": "yes"}, &reply); code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", code)
	}

	var history struct {
		Messages []struct {
			Seq     int64  `json:"seq"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	if code := env.do(http.MethodGet, "/v1/conversations/"+convID+"/messages", "agent-1", nil, &history); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if len(history.Messages) != 3 || history.Messages[0].Content != "hello" || history.Messages[2].Content != "yes" {
		t.Fatalf("unexpected history %+v", history.Messages)
	}
	if code := env.do(http.MethodGet, "/v1/conversations/"+convID+"/messages?after=2", "agent-1", nil, &history); code != http.StatusOK || len(history.Messages) != 1 {
		t.Fatalf("expected one message after seq 2, got %d %+v", code, history.Messages)
	}
	if code := env.do(http.MethodGet, "/v1/conversations/"+convID+"/messages?after=x", "agent-1", nil, &errBody); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad cursor, got %d", code)
	}

	var list struct {
		Conversations []struct {
			ID     string `json:"id"`
			Unread int64  `json:"unread"`
		} `json:"conversations"`
	}
	if code := env.do(http.MethodGet, "/v1/conversations", "agent-1", nil, &list); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if len(list.Conversations) != 1 || list.Conversations[0].Unread != 2 {
		t.Fatalf("expected two unread for the agent, got %+v", list.Conversations)
	}

	var read map[string]any
	if code := env.do(http.MethodPost, "/v1/conversations/"+convID+"/read", "agent-1", nil, &read); code != http.StatusOK || read["readAt"] == nil {
		t.Fatalf("unexpected read response %d %v", code, read)
	}
	env.do(http.MethodGet, "/v1/conversations", "agent-1", nil, &list)
	if list.Conversations[0].Unread != 0 {
		t.Fatalf("expected no unread after read, got %d", list.Conversations[0].Unread)
	}

	var conv map[string]any
	if code := env.do(http.MethodGet, "/get-conversation?id="+convID, "investor-1", nil, &conv); code != http.StatusOK || conv["id"] != convID {
		t.Fatalf("unexpected get-conversation %d %v", code, conv)
	}
	if code := env.do(http.MethodGet, "/get-conversation?id="+convID, "agent-2", nil, &errBody); code != http.StatusForbidden {
		t.Fatalf("expected 403 for a non-participant, got %d", code)
	}
	if code := env.do(http.MethodGet, "/get-conversation?id=missing", "agent-1", nil, &errBody); code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", code)
	}
	if code := env.do(http.MethodPost, "/v1/conversations/"+convID+"/messages", "agent-2", map[string]any{"content": "hi"}, &errBody); code != http.StatusForbidden {
		t.Fatalf("expected 403 for a non-participant send, got %d", code)
	}
}

func TestOpenConversation_NoRole(t *testing.T) {
	env := newTestEnv(t, 10)
	env.assignRole("agent-1", "agent", nil)

	var resp map[string]any
	if code := env.do(http.MethodPost, "/v1/conversations", "nobody", map[string]any{"counterpartId": "agent-1"}, &resp); code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d %v", code, resp)
	}
}

func TestSendMessage_RateLimited(t *testing.T) {
	env := newTestEnv(t, 2)
	env.assignRole("agent-1", "agent", nil)
	env.assignRole("investor-1", "investor", nil)

	var opened struct {
		Conversation struct {
			ID string `json:"id"`
		} `json:"conversation"`
	}
	env.do(http.MethodPost, "/v1/conversations", "agent-1", map[string]any{"counterpartId": "investor-1"}, &opened)

	path := "/v1/conversations/" + opened.Conversation.ID + "/messages"
	var resp map[string]any
	for i := 0; i < 2; i++ {
		if code := env.do(http.MethodPost, path, "agent-1", map[string]any{"content": "hi"}, &resp); code != http.StatusCreated {
			t.Fatalf("send %d: expected 201, got %d", i, code)
		}
	}
	if code := env.do(http.MethodPost, path, "agent-1", map[string]any{"content": "hi"}, &resp); code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", code)
	}
	if code := env.do(http.MethodPost, path, "investor-1", map[string]any{"content": "hi"}, &resp); code != http.StatusCreated {
		t.Fatalf("expected the other sender to be unaffected, got %d", code)
	}
}

func TestFundsFlow(t *testing.T) {
	env := newTestEnv(t, 10)
	env.assignRole("agent-1", "agent", nil)
	env.assignRole("investor-1", "investor", map[string]any{"introducingAgentId": "agent-1"})
	env.assignRole("investor-2", "investor", nil)

	var resp map[string]any
	if code := env.do(http.MethodPost, "/v1/funds", "investor-1", map[string]any{"name": "Nope"}, &resp); code != http.StatusForbidden {
		t.Fatalf("expected 403 for an investor, got %d", code)
	}
	if code := env.do(http.MethodPost, "/v1/funds", "agent-1", map[string]any{"strategy": "Venture"}, &resp); code != http.StatusBadRequest {
		t.Fatalf("expected 400 without name, got %d", code)
	}

	var fund struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if code := env.do(http.MethodPost, "/v1/funds", "agent-1", map[string]any{"name": "Growth II", "strategy": "Venture", "targetSize": 1000}, &fund); code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", code)
	}
	if fund.Status != "open" {
		t.Fatalf("expected open fund, got %q", fund.Status)
	}

	var list struct {
		Funds []map[string]any `json:"funds"`
	}
	if code := env.do(http.MethodGet, "/v1/funds?q=growth", "investor-1", nil, &list); code != http.StatusOK || len(list.Funds) != 1 {
		t.Fatalf("expected one fund, got %d %v", code, list.Funds)
	}
	if code := env.do(http.MethodGet, "/v1/funds/missing", "investor-1", nil, &resp); code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", code)
	}

	if code := env.do(http.MethodPost, "/v1/funds/"+fund.ID+"/interests", "investor-2", map[string]any{"note": "hi"}, &resp); code != http.StatusForbidden {
		t.Fatalf("expected 403 for a pending investor, got %d", code)
	}

	var interest struct {
		Interest struct {
			ID string `json:"id"`
		} `json:"interest"`
		Created bool `json:"created"`
	}
	if code := env.do(http.MethodPost, "/v1/funds/"+fund.ID+"/interests", "investor-1", map[string]any{"note": "keen"}, &interest); code != http.StatusCreated || !interest.Created {
		t.Fatalf("expected 201, got %d %+v", code, interest)
	}
	firstID := interest.Interest.ID
	if code := env.do(http.MethodPost, "/v1/funds/"+fund.ID+"/interests", "investor-1", nil, &interest); code != http.StatusOK || interest.Created || interest.Interest.ID != firstID {
		t.Fatalf("expected the existing interest, got %d %+v", code, interest)
	}

	var interests struct {
		Interests []map[string]any `json:"interests"`
	}
	if code := env.do(http.MethodGet, "/v1/interests", "agent-1", nil, &interests); code != http.StatusOK || len(interests.Interests) != 1 {
		t.Fatalf("expected one interest for the agent, got %d %v", code, interests.Interests)
	}

	var responded map[string]any
	if code := env.do(http.MethodPost, "/v1/interests/"+firstID+"/respond", "agent-1", map[string]any{"accept": true}, &responded); code != http.StatusOK || responded["status"] != "accepted" {
		t.Fatalf("unexpected respond %d %v", code, responded)
	}
	if code := env.do(http.MethodPost, "/v1/interests/"+firstID+"/respond", "agent-1", map[string]any{}, &responded); code != http.StatusBadRequest {
		t.Fatalf("expected 400 without accept, got %d", code)
	}
}

func TestProfile(t *testing.T) {
	env := newTestEnv(t, 10)

	var resp map[string]any
	if code := env.do(http.MethodGet, "/v1/profile", "u1", nil, &resp); code != http.StatusNotFound {
		t.Fatalf("expected 404 before the profile exists, got %d", code)
	}
	if code := env.do(http.MethodPut, "/v1/profile", "u1", map[string]any{"email": "not-an-email"}, &resp); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a bad email, got %d", code)
	}
	if code := env.do(http.MethodPut, "/v1/profile", "u1", map[string]any{"displayName": "Una", "email": "u1@example.com"}, &resp); code != http.StatusOK {
		t.Fatalf("expected 200, got %d %v", code, resp)
	}
	if code := env.do(http.MethodGet, "/v1/profile", "u1", nil, &resp); code != http.StatusOK || resp["display_name"] != "Una" {
		t.Fatalf("unexpected profile %d %v", code, resp)
	}

	// The stored display name is used when a role is assigned without a name.
	var assigned map[string]any
	env.do(http.MethodPost, "/assign-role", "u1", map[string]any{"userId": "u1", "role": "agent"}, &assigned)
	record, _ := assigned["record"].(map[string]any)
	if record["name"] != "Una" {
		t.Fatalf("expected profile name fallback, got %v", assigned)
	}
}
