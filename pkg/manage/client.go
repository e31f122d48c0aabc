package manage

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"time"
)

const (
	connectTimeout   = 1 * time.Second
	readWriteTimeout = 8 * time.Second
	authTimeout      = 3 * time.Second
)

// Client talks to a running daemon over its management socket.
type Client struct {
	socketPath string
	password   string
}

// NewClient creates a client for the conventional socket path of app.
func NewClient(app string, password string) *Client {
	return NewClientAt(DefaultSocketPath(app), password)
}

// NewClientAt creates a client for an explicit socket path.
func NewClientAt(socketPath string, password string) *Client {
	return &Client{socketPath: socketPath, password: password}
}

// IsServerStarted reports whether a daemon answers on the socket.
func (c *Client) IsServerStarted() bool {
	res, err := c.SendCommand("ping")
	return err == nil && res == pongString
}

// SendCommand sends one command line and returns the (possibly
// multi-line) response with the framing stripped.
func (c *Client) SendCommand(command string) (string, error) {
	if command == "" {
		command = "help"
	}

	conn, err := net.DialTimeout("unix", c.socketPath, connectTimeout)
	if err != nil {
		return "", fmt.Errorf("manage: error connecting to daemon socket %s: %w (is the daemon running?)", c.socketPath, err)
	}
	defer conn.Close()

	reader := bufio.NewReader(conn)

	if c.password != "" {
		conn.SetDeadline(time.Now().Add(authTimeout))
		if _, err = fmt.Fprintf(conn, "%s\n", c.password); err != nil {
			return "", fmt.Errorf("manage: error sending password: %w", err)
		}
		response, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("manage: error reading auth response: %w", err)
		}
		if strings.Contains(response, nokAuthString) {
			return "", fmt.Errorf("manage: auth failure: %s", strings.TrimSpace(response))
		}
	}

	if err := conn.SetDeadline(time.Now().Add(readWriteTimeout)); err != nil {
		return "", fmt.Errorf("manage: error setting deadline: %w", err)
	}
	if _, err = fmt.Fprintf(conn, "%s\n", command); err != nil {
		return "", fmt.Errorf("manage: error sending command: %w", err)
	}

	var response strings.Builder
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("manage: error reading response: %w", err)
		}
		line = strings.TrimRight(line, "\n")
		if line == endMarker {
			break
		}
		response.WriteString(line)
		response.WriteString("\n")
	}
	return strings.TrimRight(response.String(), "\n"), nil
}
