package admin

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"tunnelguard/pkg/guard"
)

const testRules = `
restrictions:
  - name: api
    match:
      - PathPrefix: "/api"
    allow:
      - Tunnel:
          protocol: [Tcp]
          port: ["8080"]
          cidr: ["10.0.0.0/8"]
  - name: default
    match: [Any]
    allow: []
`

func newTestAPI(t *testing.T) (*API, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "restrictions.yaml")
	if err := os.WriteFile(path, []byte(testRules), 0644); err != nil {
		t.Fatal(err)
	}
	cfg := guard.DefaultConfig()
	cfg.RulesFile = path
	g, err := guard.New(cfg)
	if err != nil {
		t.Fatalf("guard.New failed: %v", err)
	}
	return NewAPI(g, ":0"), path
}

func do(t *testing.T, a *API, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	a.Api.ServeHTTP(rec, req)
	return rec
}

func TestGetRestrictions(t *testing.T) {
	a, _ := newTestAPI(t)

	rec := do(t, a, http.MethodGet, "/restrictions", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}

	var summaries []struct {
		Name  string   `json:"name"`
		Match []string `json:"match"`
		Allow []string `json:"allow"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &summaries); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	if len(summaries) != 2 || summaries[0].Name != "api" || summaries[1].Name != "default" {
		t.Errorf("unexpected summaries: %+v", summaries)
	}
	if len(summaries[0].Match) != 1 || !strings.Contains(summaries[0].Match[0], "PathPrefix") {
		t.Errorf("unexpected matchers: %+v", summaries[0].Match)
	}
}

func TestPostCheck(t *testing.T) {
	a, _ := newTestAPI(t)

	rec := do(t, a, http.MethodPost, "/check",
		`{"direction":"forward","protocol":"tcp","path":"/api/v1","port":8080,"addr":"10.1.2.3"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var res struct {
		Allowed bool   `json:"allowed"`
		Reason  string `json:"reason"`
		Rule    string `json:"rule"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if !res.Allowed || res.Rule != "api" {
		t.Errorf("expected allow by api, got %+v", res)
	}

	rec = do(t, a, http.MethodPost, "/check",
		`{"direction":"forward","protocol":"tcp","path":"/elsewhere","port":80,"addr":"10.1.2.3"}`)
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if res.Allowed || res.Reason != "NoAllowRuleMatched" || res.Rule != "default" {
		t.Errorf("expected deny by default rule, got %+v", res)
	}
}

func TestPostCheckRejectsBadInput(t *testing.T) {
	a, _ := newTestAPI(t)

	cases := []string{
		`{"direction":"sideways","protocol":"tcp"}`,
		`{"direction":"forward","protocol":"carrier-pigeon"}`,
		`{"direction":"forward","protocol":"tcp","addr":"not-an-ip"}`,
		`{not json`,
	}
	for _, body := range cases {
		rec := do(t, a, http.MethodPost, "/check", body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("body %q: status = %d, want 400", body, rec.Code)
		}
	}
}

func TestPostReload(t *testing.T) {
	a, path := newTestAPI(t)

	rec := do(t, a, http.MethodPost, "/reload", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}

	// An invalid file reports a conflict and keeps the old set.
	if err := os.WriteFile(path, []byte("restrictions: [{name: bad, match: []}]"), 0644); err != nil {
		t.Fatal(err)
	}
	rec = do(t, a, http.MethodPost, "/reload", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	if len(a.Guard.Snapshot().Rules) != 2 {
		t.Errorf("old set should remain active after failed reload")
	}
}
