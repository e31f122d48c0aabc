package guard

import (
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"tunnelguard/pkg/manage"
	"tunnelguard/pkg/restrict"
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
`

func newTestGuard(t *testing.T) (*Guard, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "restrictions.yaml")
	if err := os.WriteFile(path, []byte(testRules), 0644); err != nil {
		t.Fatal(err)
	}
	cfg := DefaultConfig()
	cfg.RulesFile = path
	g, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return g, path
}

func TestNewRejectsInvalidRules(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "restrictions.yaml")
	if err := os.WriteFile(path, []byte("restrictions: [{name: r, match: []}]"), 0644); err != nil {
		t.Fatal(err)
	}
	cfg := DefaultConfig()
	cfg.RulesFile = path
	if _, err := New(cfg); err == nil {
		t.Fatal("service must not start with an invalid rule set")
	}
}

func TestDecide(t *testing.T) {
	g, _ := newTestGuard(t)

	d := g.Decide(restrict.Request{
		Direction: restrict.Forward,
		Protocol:  restrict.ProtoTCP,
		Path:      "/api/v1",
		Port:      8080,
		Addr:      netip.MustParseAddr("10.1.2.3"),
	})
	if !d.Allowed || d.Rule != "api" {
		t.Errorf("expected allow by api, got %+v", d)
	}

	d = g.Decide(restrict.Request{
		Direction: restrict.Forward,
		Protocol:  restrict.ProtoTCP,
		Path:      "/other",
		Port:      8080,
		Addr:      netip.MustParseAddr("10.1.2.3"),
	})
	if d.Allowed || d.Reason != restrict.ReasonNoMatchingRule {
		t.Errorf("expected NoMatchingRule deny, got %+v", d)
	}
}

func TestReloadKeepsOldSetOnError(t *testing.T) {
	g, path := newTestGuard(t)
	before := g.Snapshot()

	if err := os.WriteFile(path, []byte("restrictions: [{name: bad, match: []}]"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := g.Reload(); err == nil {
		t.Fatal("expected reload error")
	}
	if g.Snapshot() != before {
		t.Errorf("failed reload must keep the previous rule set")
	}
}

func TestManagementCommands(t *testing.T) {
	g, path := newTestGuard(t)

	srv := manage.NewServerAt(filepath.Join(t.TempDir(), "mgmt.sock"), "")
	g.RegisterManagement(srv)
	if err := srv.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer srv.Stop()

	client := manage.NewClientAt(srv.SocketPath(), "")
	res, err := client.SendCommand("rules")
	if err != nil {
		t.Fatalf("rules command failed: %v", err)
	}
	if !strings.Contains(res, "api") {
		t.Errorf("rules output missing rule name: %q", res)
	}

	res, err = client.SendCommand("reload")
	if err != nil {
		t.Fatalf("reload command failed: %v", err)
	}
	if !strings.Contains(res, "OK") {
		t.Errorf("unexpected reload response: %q", res)
	}

	// A broken file reports the error and keeps the old set.
	if err := os.WriteFile(path, []byte("restrictions: [{name: bad, match: []}]"), 0644); err != nil {
		t.Fatal(err)
	}
	res, err = client.SendCommand("reload")
	if err != nil {
		t.Fatalf("reload command failed: %v", err)
	}
	if !strings.Contains(res, "previous rules kept") {
		t.Errorf("expected failure notice, got %q", res)
	}
	if len(g.Snapshot().Rules) != 1 {
		t.Errorf("old set should remain active")
	}
}
