// Package manage implements the Unix-socket control channel of the
// tunnelguard daemon: a line-oriented command protocol with registered
// handlers, used by the `ctl` subcommand.
package manage

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"tunnelguard/pkg/log"

	"github.com/rs/zerolog"
)

const (
	defaultSocketDir = "/run/tunnelguard"

	// endMarker terminates a (possibly multi-line) response.
	endMarker = "."

	pongString    = "OK: pong"
	nokAuthString = "NOK: auth"
)

// DefaultSocketPath returns the conventional socket location for app.
func DefaultSocketPath(app string) string {
	return fmt.Sprintf("%s/%s.sock", defaultSocketDir, app)
}

// CommandHandler handles one command. It receives the argument words
// and returns the response text.
type CommandHandler func(args []string) (string, error)

// CommandInfo holds a handler and its help description.
type CommandInfo struct {
	Handler     CommandHandler
	Description string
}

// Server listens on a Unix socket for daemon control commands.
type Server struct {
	socketPath string
	listener   net.Listener
	handlers   map[string]CommandInfo
	mu         sync.RWMutex
	quit       chan struct{}
	wg         sync.WaitGroup
	startTime  time.Time
	password   string
}

// NewServer creates a management server at the conventional socket
// path for app. An empty password disables authentication.
func NewServer(app string, password string) *Server {
	return NewServerAt(DefaultSocketPath(app), password)
}

// NewServerAt creates a management server listening on socketPath.
func NewServerAt(socketPath string, password string) *Server {
	s := &Server{
		socketPath: socketPath,
		handlers:   make(map[string]CommandInfo),
		quit:       make(chan struct{}),
		startTime:  time.Now(),
		password:   password,
	}
	s.RegisterHandler("status", "Show daemon status and uptime", s.handleStatus)
	s.RegisterHandler("ping", "Check if the management interface is responsive", s.handlePing)
	s.RegisterHandler("logs", "Show recent audit log entries. Usage: logs [pretty]", s.handleLogs)
	s.RegisterHandler("help", "Show help for commands. Usage: help [command]", s.handleHelp)
	s.RegisterHandler("list", "Alias for 'help'", s.handleHelp)
	return s
}

// SocketPath returns the socket the server listens on.
func (s *Server) SocketPath() string { return s.socketPath }

// RegisterHandler adds a command handler with its description.
// Commands are case-insensitive.
func (s *Server) RegisterHandler(command, description string, handler CommandHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[strings.ToLower(command)] = CommandInfo{
		Handler:     handler,
		Description: description,
	}
}

// Start begins listening on the Unix socket.
func (s *Server) Start() error {
	s.quit = make(chan struct{})

	if dir := filepath.Dir(s.socketPath); dir != "" {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			os.MkdirAll(dir, 0755)
		}
	}
	// A stale socket file from a previous run would block net.Listen.
	if _, err := os.Stat(s.socketPath); err == nil {
		if err := os.Remove(s.socketPath); err != nil {
			log.Warn().Err(err).Str("socket", s.socketPath).Msg("mgmt: failed to remove existing socket file")
		}
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("manage: failed to listen on %s: %w", s.socketPath, err)
	}
	s.listener = listener
	if err := os.Chmod(s.socketPath, 0600); err != nil {
		log.Warn().Err(err).Msg("mgmt: could not set socket permissions")
	}

	log.Info().Str("socket", s.socketPath).Msg("mgmt: management server listening")

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Stop gracefully shuts down the server and removes the socket file.
func (s *Server) Stop() {
	close(s.quit)
	if s.listener != nil {
		s.listener.Close()
	}
	s.wg.Wait()
	if _, err := os.Stat(s.socketPath); err == nil {
		os.Remove(s.socketPath)
	}
	log.Info().Msg("mgmt: management server stopped")
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.quit:
			return
		default:
			if unixListener, ok := s.listener.(*net.UnixListener); ok {
				_ = unixListener.SetDeadline(time.Now().Add(1 * time.Second))
			}
			conn, err := s.listener.Accept()
			if err != nil {
				if opErr, ok := err.(*net.OpError); ok && opErr.Timeout() {
					continue
				}
				select {
				case <-s.quit:
					return
				default:
					log.Error().Err(err).Msg("mgmt: error accepting connection")
					time.Sleep(100 * time.Millisecond)
					continue
				}
			}
			s.wg.Add(1)
			go s.handleConnection(conn)
		}
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	reader := bufio.NewReader(conn)
	writer := bufio.NewWriter(conn)

	if s.password != "" {
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		clientPass, err := reader.ReadString('\n')
		if err != nil || strings.TrimSpace(clientPass) != s.password {
			log.Warn().Msg("mgmt: authentication failed")
			fmt.Fprintln(writer, nokAuthString)
			writer.Flush()
			// Slow down brute forcing.
			time.Sleep(2 * time.Second)
			return
		}
		conn.SetReadDeadline(time.Time{})
		fmt.Fprintln(writer, "OK: auth")
		writer.Flush()
	}

	for {
		conn.SetReadDeadline(time.Now().Add(30 * time.Second))
		cmdLine, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		conn.SetReadDeadline(time.Time{})

		cmdLine = strings.TrimSpace(cmdLine)
		if cmdLine == "" {
			continue
		}
		if cmdLine == "quit" {
			writeResponse(writer, "OK: Bye!")
			return
		}

		parts := strings.Fields(cmdLine)
		command := strings.ToLower(parts[0])
		args := parts[1:]

		s.mu.RLock()
		cmdInfo, ok := s.handlers[command]
		s.mu.RUnlock()

		var response string
		if ok {
			var handlerErr error
			response, handlerErr = cmdInfo.Handler(args)
			if handlerErr != nil {
				response = fmt.Sprintf("Error: %v", handlerErr)
				log.Error().Err(handlerErr).Str("command", command).Msg("mgmt: handler error")
			}
		} else {
			response = fmt.Sprintf("Error: Unknown command '%s'. Try 'help'.", command)
		}

		if err := writeResponse(writer, response); err != nil {
			return
		}
	}
}

// writeResponse sends a response followed by the end marker line. A
// response line consisting of only "." would be swallowed by the
// framing, so it is space-padded.
func writeResponse(w *bufio.Writer, response string) error {
	for _, line := range strings.Split(response, "\n") {
		if line == endMarker {
			line = ". "
		}
		if _, err := w.WriteString(line + "\n"); err != nil {
			return err
		}
	}
	if _, err := w.WriteString(endMarker + "\n"); err != nil {
		return err
	}
	return w.Flush()
}

// --- Default command handlers ---

func (s *Server) handleStatus(args []string) (string, error) {
	uptime := time.Since(s.startTime).Round(time.Second)
	return fmt.Sprintf("OK: Daemon running. Uptime: %s", uptime), nil
}

func (s *Server) handlePing(args []string) (string, error) {
	return pongString, nil
}

func (s *Server) handleLogs(args []string) (string, error) {
	entries, err := log.LastN(20)
	if err != nil {
		return "", err
	}

	var response strings.Builder
	for _, entry := range entries {
		response.WriteString(entry.Event)
	}
	res := strings.TrimRight(response.String(), "\n")

	if len(args) > 0 && args[0] == "pretty" {
		var b strings.Builder
		w := zerolog.ConsoleWriter{Out: &b, TimeFormat: time.RFC3339}
		scanner := bufio.NewScanner(strings.NewReader(res))
		for scanner.Scan() {
			w.Write(scanner.Bytes())
		}
		return strings.TrimRight(b.String(), "\n"), nil
	}
	return res, nil
}

func (s *Server) handleHelp(args []string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var response strings.Builder
	if len(args) > 0 {
		cmdName := strings.ToLower(args[0])
		cmdInfo, ok := s.handlers[cmdName]
		if !ok {
			response.WriteString(fmt.Sprintf("Error: Unknown command '%s'. Try 'help' for a list.", cmdName))
		} else {
			response.WriteString(fmt.Sprintf("OK: Help for '%s':\n", cmdName))
			response.WriteString(fmt.Sprintf("  Usage: %s [args...]\n", cmdName))
			response.WriteString(fmt.Sprintf("  Description: %s", cmdInfo.Description))
		}
		return response.String(), nil
	}

	response.WriteString("OK: Available commands:\n")
	cmds := make([]string, 0, len(s.handlers))
	maxLen := 0
	for cmd := range s.handlers {
		cmds = append(cmds, cmd)
		if len(cmd) > maxLen {
			maxLen = len(cmd)
		}
	}
	sort.Strings(cmds)
	for _, cmd := range cmds {
		padding := strings.Repeat(" ", maxLen-len(cmd)+2)
		response.WriteString(fmt.Sprintf("  %s%s%s\n", cmd, padding, s.handlers[cmd].Description))
	}
	response.WriteString("\nUse 'help <command>' for more details on a specific command.")
	return response.String(), nil
}
