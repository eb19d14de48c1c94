package livepreview

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hazyhaar/livepick/livepreview/selection"
)

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHTTPFlow(t *testing.T) {
	s, _ := newSession(t, nil)
	h := s.Handler()

	src, _ := json.Marshal(renderRequest{RawCode: saveForm, Stylesheet: "button { color: red }"})
	rec := do(t, h, http.MethodPost, "/api/source", string(src))
	if rec.Code != http.StatusOK {
		t.Fatalf("render: %d %s", rec.Code, rec.Body)
	}
	var res RenderResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusRendered || res.Component != "Form" {
		t.Errorf("render result = %+v", res)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("no request id")
	}

	rec = do(t, h, http.MethodGet, "/preview", "")
	if !strings.Contains(rec.Body.String(), "button { color: red }") || !strings.Contains(rec.Body.String(), ">Save</button>") {
		t.Errorf("preview = %s", rec.Body)
	}

	rec = do(t, h, http.MethodPost, "/api/pick", `{"selector":"button#save"}`)
	if rec.Code != http.StatusConflict {
		t.Errorf("pick without edit mode: %d", rec.Code)
	}
	rec = do(t, h, http.MethodPost, "/api/edit-mode", `{"enabled":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("edit mode: %d %s", rec.Code, rec.Body)
	}

	rec = do(t, h, http.MethodPost, "/api/pick", `{"selector":"button#save"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("pick: %d %s", rec.Code, rec.Body)
	}
	var snap selection.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatal(err)
	}
	if snap.ID != "save" {
		t.Errorf("snapshot = %+v", snap)
	}

	rec = do(t, h, http.MethodPost, "/api/pick/"+snap.IdentityTag, "")
	if rec.Code != http.StatusOK {
		t.Errorf("pick by tag: %d %s", rec.Code, rec.Body)
	}
	rec = do(t, h, http.MethodPost, "/api/pick/missing", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("pick missing: %d", rec.Code)
	}

	rec = do(t, h, http.MethodGet, "/api/selection", "")
	var sel SelectionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &sel); err != nil {
		t.Fatal(err)
	}
	if !sel.State.Valid || sel.Target == nil || !strings.Contains(sel.Target.Prompt, "button#save") {
		t.Errorf("selection = %+v", sel)
	}

	rec = do(t, h, http.MethodPost, "/api/validate", "")
	var v ValidateResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatal(err)
	}
	if !v.Valid {
		t.Error("validate = false")
	}

	rec = do(t, h, http.MethodDelete, "/api/selection", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("clear: %d", rec.Code)
	}
	rec = do(t, h, http.MethodGet, "/api/selection", "")
	sel = SelectionResponse{}
	json.Unmarshal(rec.Body.Bytes(), &sel)
	if sel.State.Selection != nil || sel.Target != nil {
		t.Errorf("selection after clear = %+v", sel)
	}
}

func TestHTTPBadRequests(t *testing.T) {
	s, _ := newSession(t, nil)
	h := s.Handler()

	if rec := do(t, h, http.MethodPost, "/api/source", "{"); rec.Code != http.StatusBadRequest {
		t.Errorf("bad json: %d", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/api/pick", `{}`); rec.Code != http.StatusBadRequest {
		t.Errorf("empty pick: %d", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/api/dispatch", `{"event":"click"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("dispatch without tag: %d", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/api/pick", `{"selector":"button[="}`); rec.Code != http.StatusBadRequest {
		t.Errorf("invalid selector: %d", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/api/pick/x", ""); rec.Code != http.StatusConflict {
		t.Errorf("pick before render: %d", rec.Code)
	}
}
