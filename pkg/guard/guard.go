// Package guard wires the restriction engine into the running service:
// it owns the active rule-set store, answers admit/deny for the
// transport layer, and audits every decision.
package guard

import (
	"context"
	"fmt"

	"tunnelguard/pkg/log"
	"tunnelguard/pkg/manage"
	"tunnelguard/pkg/restrict"
)

type Guard struct {
	cfg   *Config
	store *restrict.Store
}

// New creates a Guard and loads the configured restrictions file. An
// invalid file is fatal here: the service must not start without a
// valid rule set.
func New(cfg *Config) (*Guard, error) {
	g := &Guard{
		cfg:   cfg,
		store: restrict.NewStore(cfg.RulesFile),
	}
	if err := g.store.Load(); err != nil {
		return nil, fmt.Errorf("guard: %w", err)
	}
	return g, nil
}

// Store exposes the underlying rule-set store.
func (g *Guard) Store() *restrict.Store { return g.store }

// Snapshot returns the active rule set.
func (g *Guard) Snapshot() *restrict.Set { return g.store.Current() }

// Decide evaluates req against the active rule set and writes one
// audit event for the outcome. This is the per-connection entry point
// for the transport layer; it is safe for concurrent use.
func (g *Guard) Decide(req restrict.Request) restrict.Decision {
	d := g.Snapshot().Evaluate(req)

	ev := log.Info()
	if !d.Allowed {
		ev = log.Warn()
	}
	ev.Bool("allowed", d.Allowed).
		Str("reason", d.Reason.String()).
		Str("rule", d.Rule).
		Str("direction", req.Direction.String()).
		Str("protocol", req.Protocol.String()).
		Str("path", req.Path).
		Str("host", req.Host).
		Uint16("port", req.Port).
		Str("addr", req.Addr.String()).
		Msg("tunnel request evaluated")

	return d
}

// Check evaluates req without auditing. Used by the dry-run surfaces
// (admin API, eval subcommand).
func (g *Guard) Check(req restrict.Request) restrict.Decision {
	return g.Snapshot().Evaluate(req)
}

// Reload re-loads the restrictions file. On failure the previous set
// stays active and the error is returned to the operator.
func (g *Guard) Reload() error {
	return g.store.Load()
}

// WatchRules starts the file watcher when enabled in the config.
func (g *Guard) WatchRules(ctx context.Context) error {
	if !g.cfg.WatchRules {
		return nil
	}
	return g.store.Watch(ctx)
}

// RegisterManagement adds the guard commands to the management socket
// server.
func (g *Guard) RegisterManagement(s *manage.Server) {
	s.RegisterHandler("rules", "Show the active restriction rules", func(args []string) (string, error) {
		set := g.Snapshot()
		if len(set.Rules) == 0 {
			return "OK: no restriction rules loaded (all requests denied)", nil
		}
		out := fmt.Sprintf("OK: %d restriction rules:\n", len(set.Rules))
		for i, r := range set.Rules {
			out += fmt.Sprintf("  %d. %s (%d matchers, %d allow entries)\n", i+1, r.Name, len(r.Match), len(r.Allow))
		}
		return out, nil
	})
	s.RegisterHandler("reload", "Reload the restrictions file", func(args []string) (string, error) {
		if err := g.Reload(); err != nil {
			return "", fmt.Errorf("reload failed, previous rules kept: %w", err)
		}
		return fmt.Sprintf("OK: reloaded %d rules from %s", len(g.Snapshot().Rules), g.store.Path()), nil
	})
}
