package internal

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

type testServer struct {
	t     *testing.T
	store Store
	h     http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	s := newTestStore(t)
	return &testServer{t: t, store: s, h: newWebhookRouter(t, s, testWebhookSecret)}
}

func (ts *testServer) do(method, path, token string, body any) (*httptest.ResponseRecorder, map[string]any) {
	ts.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			ts.t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	ts.h.ServeHTTP(w, req)

	var out map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return w, out
}

func TestSubmitEndToEnd(t *testing.T) {
	ts := newTestServer(t)
	seedOpenCall(t, ts.store, "oc1", "owner", StatusActive)
	tok := signToken(t, "u1")

	w, body := ts.do(http.MethodPost, "/api/open-calls/oc1/submit", tok, map[string]any{
		"userId":     "u1",
		"artwork_id": "a1",
		"bio":        "hi",
		"responses":  map[string]any{},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("first submit: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if body["isFirstSubmission"] != true || body["requiresPayment"] != false || body["payment_id"] != nil {
		t.Fatalf("first submit: unexpected body %v", body)
	}
	if body["artwork_id"] != "a1" || body["is_selected"] != false || body["open_call_id"] != "oc1" {
		t.Fatalf("first submit: unexpected record %v", body)
	}

	w, body = ts.do(http.MethodPost, "/api/open-calls/oc1/submit", tok, map[string]any{
		"userId":    "u1",
		"media_url": "http://x/y.jpg",
		"bio":       "hi",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("second submit: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if body["isFirstSubmission"] != false || body["requiresPayment"] != true {
		t.Fatalf("second submit: unexpected flags %v", body)
	}
	if id, _ := body["payment_id"].(string); id == "" {
		t.Fatalf("second submit: expected payment id, got %v", body)
	}
	if body["payment_client_secret"] == nil {
		t.Fatalf("second submit: expected client secret, got %v", body)
	}

	for i := 3; i <= MaxSubmissions; i++ {
		if w, _ := ts.do(http.MethodPost, "/api/open-calls/oc1/submit", tok, map[string]any{"artwork_id": "a", "bio": "hi"}); w.Code != http.StatusCreated {
			t.Fatalf("submit #%d: expected 201, got %d", i, w.Code)
		}
	}

	w, body = ts.do(http.MethodPost, "/api/open-calls/oc1/submit", tok, map[string]any{"artwork_id": "a", "bio": "hi"})
	if w.Code != http.StatusBadRequest || body["error"] != "maximum 6 submissions reached" {
		t.Fatalf("seventh submit: expected 400 quota error, got %d %v", w.Code, body)
	}
	if got := countSubmissions(t, ts.store, "oc1", "u1"); got != MaxSubmissions {
		t.Fatalf("expected %d rows, got %d", MaxSubmissions, got)
	}
}

func TestSubmitErrors(t *testing.T) {
	ts := newTestServer(t)
	seedOpenCall(t, ts.store, "oc1", "owner", StatusActive)
	seedOpenCall(t, ts.store, "draft", "owner", StatusDraft)
	tok := signToken(t, "u1")

	tests := []struct {
		name   string
		path   string
		token  string
		body   any
		status int
		msg    string
	}{
		{"no token", "/api/open-calls/oc1/submit", "", map[string]any{"artwork_id": "a", "bio": "b"}, http.StatusUnauthorized, "not authorized"},
		{"bad token", "/api/open-calls/oc1/submit", "garbage", map[string]any{"artwork_id": "a", "bio": "b"}, http.StatusUnauthorized, "bad token"},
		{"other user", "/api/open-calls/oc1/submit", tok, map[string]any{"userId": "u2", "artwork_id": "a", "bio": "b"}, http.StatusUnauthorized, "unauthorized"},
		{"bad json", "/api/open-calls/oc1/submit", tok, "not an object", http.StatusBadRequest, "bad json"},
		{"no bio", "/api/open-calls/oc1/submit", tok, map[string]any{"artwork_id": "a"}, http.StatusBadRequest, "bio required"},
		{"no content", "/api/open-calls/oc1/submit", tok, map[string]any{"bio": "b"}, http.StatusBadRequest, "content reference required"},
		{"inactive call", "/api/open-calls/draft/submit", tok, map[string]any{"artwork_id": "a", "bio": "b"}, http.StatusNotFound, "open call not found or not active"},
		{"missing call", "/api/open-calls/ghost/submit", tok, map[string]any{"artwork_id": "a", "bio": "b"}, http.StatusNotFound, "open call not found or not active"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, body := ts.do(http.MethodPost, tt.path, tt.token, tt.body)
			if w.Code != tt.status || body["error"] != tt.msg {
				t.Fatalf("expected %d %q, got %d %v", tt.status, tt.msg, w.Code, body)
			}
		})
	}
	n, err := ts.store.Count(context.Background(), tableSubmissions, nil)
	if err != nil || n != 0 {
		t.Fatalf("expected no submissions, got %d %v", n, err)
	}
}

func TestSubmitReplayReturnsOK(t *testing.T) {
	ts := newTestServer(t)
	seedOpenCall(t, ts.store, "oc1", "owner", StatusActive)
	tok := signToken(t, "u1")
	ts.do(http.MethodPost, "/api/open-calls/oc1/submit", tok, map[string]any{"artwork_id": "a", "bio": "b"})

	_, paid := ts.do(http.MethodPost, "/api/open-calls/oc1/submit", tok, map[string]any{"artwork_id": "a", "bio": "b"})
	w, body := ts.do(http.MethodPost, "/api/open-calls/oc1/submit", tok, map[string]any{
		"artwork_id": "a",
		"bio":        "b",
		"payment_id": paid["payment_id"],
	})
	if w.Code != http.StatusOK || body["id"] != paid["id"] {
		t.Fatalf("expected replay of %v, got %d %v", paid["id"], w.Code, body)
	}
	if body["payment_client_secret"] == nil || body["payment_client_secret"] != paid["payment_client_secret"] {
		t.Fatalf("expected replay to return the client secret, got %v", body)
	}
	if got := countSubmissions(t, ts.store, "oc1", "u1"); got != 2 {
		t.Fatalf("expected 2 rows, got %d", got)
	}
}

func TestOpenCallEndpoints(t *testing.T) {
	ts := newTestServer(t)
	seedUser(t, ts.store, "admin", true)
	seedUser(t, ts.store, "owner", false)
	owner := signToken(t, "owner")
	admin := signToken(t, "admin")

	w, call := ts.do(http.MethodPost, "/api/open-calls", owner, map[string]any{
		"title":               "Spring",
		"description":         "Show",
		"organization_name":   "Org",
		"submission_deadline": "2030-01-01T00:00:00Z",
	})
	if w.Code != http.StatusCreated || call["status"] != string(StatusPendingApproval) {
		t.Fatalf("propose: %d %v", w.Code, call)
	}
	id, _ := call["id"].(string)

	if w, _ := ts.do(http.MethodGet, "/api/admin/open-calls/pending", owner, nil); w.Code != http.StatusForbidden {
		t.Fatalf("non-admin pending: expected 403, got %d", w.Code)
	}
	if w, _ := ts.do(http.MethodGet, "/api/admin/open-calls/pending", "", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous pending: expected 401, got %d", w.Code)
	}
	w, _ = ts.do(http.MethodGet, "/api/admin/open-calls/pending", admin, nil)
	if w.Code != http.StatusOK || !bytes.Contains(w.Body.Bytes(), []byte(id)) {
		t.Fatalf("admin pending: %d %s", w.Code, w.Body.String())
	}

	if w, _ := ts.do(http.MethodPost, "/api/open-calls/"+id+"/submit", signToken(t, "u1"), map[string]any{"artwork_id": "a", "bio": "b"}); w.Code != http.StatusNotFound {
		t.Fatalf("submit to pending call: expected 404, got %d", w.Code)
	}

	w, approved := ts.do(http.MethodPut, "/api/admin/open-calls/"+id+"/approve", admin, nil)
	if w.Code != http.StatusOK || approved["status"] != string(StatusActive) || approved["is_approved"] != true {
		t.Fatalf("approve: %d %v", w.Code, approved)
	}

	w, _ = ts.do(http.MethodGet, "/api/open-calls", "", nil)
	if w.Code != http.StatusOK || !bytes.Contains(w.Body.Bytes(), []byte(id)) {
		t.Fatalf("list: %d %s", w.Code, w.Body.String())
	}

	if w, _ := ts.do(http.MethodPost, "/api/open-calls/"+id+"/submit", signToken(t, "u1"), map[string]any{"artwork_id": "a", "bio": "b"}); w.Code != http.StatusCreated {
		t.Fatalf("submit to approved call: expected 201, got %d", w.Code)
	}
	w, detail := ts.do(http.MethodGet, "/api/open-calls/"+id, owner, nil)
	if subs, _ := detail["submissions"].([]any); w.Code != http.StatusOK || len(subs) != 1 {
		t.Fatalf("owner detail: %d %v", w.Code, detail)
	}
	w, detail = ts.do(http.MethodGet, "/api/open-calls/"+id, "", nil)
	if subs, _ := detail["submissions"].([]any); w.Code != http.StatusOK || len(subs) != 0 {
		t.Fatalf("anonymous detail: %d %v", w.Code, detail)
	}

	w, closed := ts.do(http.MethodPut, "/api/admin/open-calls/"+id, admin, map[string]any{"status": "closed"})
	if w.Code != http.StatusOK || closed["status"] != string(StatusClosed) {
		t.Fatalf("close: %d %v", w.Code, closed)
	}
	if w, body := ts.do(http.MethodPut, "/api/admin/open-calls/"+id, admin, map[string]any{"status": "bogus"}); w.Code != http.StatusBadRequest {
		t.Fatalf("bad status: expected 400, got %d %v", w.Code, body)
	}
}

func TestAdminConfirmPayment(t *testing.T) {
	ts := newTestServer(t)
	seedUser(t, ts.store, "admin", true)
	seedOpenCall(t, ts.store, "oc1", "owner", StatusActive)
	tok := signToken(t, "u1")
	ts.do(http.MethodPost, "/api/open-calls/oc1/submit", tok, map[string]any{"artwork_id": "a", "bio": "b"})
	_, paid := ts.do(http.MethodPost, "/api/open-calls/oc1/submit", tok, map[string]any{"artwork_id": "a", "bio": "b"})
	paymentID, _ := paid["payment_id"].(string)

	if w, _ := ts.do(http.MethodPost, "/api/admin/payments/"+paymentID, tok, map[string]any{"status": "succeeded"}); w.Code != http.StatusForbidden {
		t.Fatalf("non-admin confirm: expected 403, got %d", w.Code)
	}
	w, body := ts.do(http.MethodPost, "/api/admin/payments/"+paymentID, signToken(t, "admin"), map[string]any{"status": "succeeded"})
	if w.Code != http.StatusOK || body["payment_status"] != string(PaymentSucceeded) {
		t.Fatalf("confirm: %d %v", w.Code, body)
	}
	if w, _ := ts.do(http.MethodPost, "/api/admin/payments/pi_missing", signToken(t, "admin"), map[string]any{"status": "failed"}); w.Code != http.StatusNotFound {
		t.Fatalf("unknown payment: expected 404, got %d", w.Code)
	}
}

func TestCookieAuth(t *testing.T) {
	ts := newTestServer(t)
	seedOpenCall(t, ts.store, "oc1", "owner", StatusActive)

	req := httptest.NewRequest(http.MethodPost, "/api/open-calls/oc1/submit", bytes.NewBufferString(`{"artwork_id":"a","bio":"b"}`))
	req.Header.Set("Content-Type", "application/json")
	req.AddCookie(&http.Cookie{Name: "sb-access-token", Value: signToken(t, "u1")})
	w := httptest.NewRecorder()
	ts.h.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201 with cookie auth, got %d: %s", w.Code, w.Body.String())
	}
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	if w, body := ts.do(http.MethodGet, "/healthz", "", nil); w.Code != http.StatusOK || body["ok"] != true {
		t.Fatalf("health: %d %v", w.Code, body)
	}
}
