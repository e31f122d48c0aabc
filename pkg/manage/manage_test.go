package manage

import (
	"path/filepath"
	"strings"
	"testing"
)

func startServer(t *testing.T, password string) (*Server, string) {
	t.Helper()
	socketPath := filepath.Join(t.TempDir(), "mgmt.sock")
	srv := NewServerAt(socketPath, password)
	if err := srv.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(srv.Stop)
	return srv, socketPath
}

func TestPingRoundTrip(t *testing.T) {
	_, socketPath := startServer(t, "")
	client := NewClientAt(socketPath, "")

	if !client.IsServerStarted() {
		t.Fatal("server should answer ping")
	}

	res, err := client.SendCommand("status")
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if !strings.HasPrefix(res, "OK: Daemon running") {
		t.Errorf("unexpected status response: %q", res)
	}
}

func TestRegisteredHandler(t *testing.T) {
	srv, socketPath := startServer(t, "")
	srv.RegisterHandler("echo", "Echo the arguments back", func(args []string) (string, error) {
		return "OK: " + strings.Join(args, " "), nil
	})

	client := NewClientAt(socketPath, "")
	res, err := client.SendCommand("echo hello world")
	if err != nil {
		t.Fatalf("echo failed: %v", err)
	}
	if res != "OK: hello world" {
		t.Errorf("unexpected response: %q", res)
	}
}

func TestMultiLineResponse(t *testing.T) {
	srv, socketPath := startServer(t, "")
	srv.RegisterHandler("lines", "Multi-line response", func(args []string) (string, error) {
		return "first\nsecond\nthird", nil
	})

	client := NewClientAt(socketPath, "")
	res, err := client.SendCommand("lines")
	if err != nil {
		t.Fatalf("lines failed: %v", err)
	}
	if res != "first\nsecond\nthird" {
		t.Errorf("framing mangled the response: %q", res)
	}
}

func TestUnknownCommand(t *testing.T) {
	_, socketPath := startServer(t, "")
	client := NewClientAt(socketPath, "")

	res, err := client.SendCommand("frobnicate")
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if !strings.Contains(res, "Unknown command") {
		t.Errorf("expected unknown-command error, got %q", res)
	}
}

func TestHelpListsCommands(t *testing.T) {
	srv, socketPath := startServer(t, "")
	srv.RegisterHandler("reload", "Reload the restrictions file", func(args []string) (string, error) {
		return "OK", nil
	})

	client := NewClientAt(socketPath, "")
	res, err := client.SendCommand("help")
	if err != nil {
		t.Fatalf("help failed: %v", err)
	}
	for _, cmd := range []string{"status", "ping", "reload"} {
		if !strings.Contains(res, cmd) {
			t.Errorf("help output missing %q: %q", cmd, res)
		}
	}
}

func TestPasswordAuth(t *testing.T) {
	_, socketPath := startServer(t, "sekret")

	good := NewClientAt(socketPath, "sekret")
	res, err := good.SendCommand("ping")
	if err != nil {
		t.Fatalf("authenticated ping failed: %v", err)
	}
	if res != pongString {
		t.Errorf("unexpected ping response: %q", res)
	}

	bad := NewClientAt(socketPath, "wrong")
	if _, err := bad.SendCommand("ping"); err == nil {
		t.Errorf("wrong password should fail")
	}
}
