// Package engine orchestrates session lifecycles: the acceptor binds
// listeners and matches inbound logons to configured sessions; the
// initiator dials out and retries. Both own the reactor goroutines that
// drive the session engines.
package engine

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/fixwire/fixd/internal/config"
	"github.com/fixwire/fixd/internal/fix"
	"github.com/fixwire/fixd/internal/fix/dict"
	"github.com/fixwire/fixd/internal/fix/store"
)

// -------------------------------------------------------------------------
// Shared dependencies
// -------------------------------------------------------------------------

// Deps bundles the collaborators shared by every session the engine
// creates.
type Deps struct {
	// App receives the engine callbacks.
	App fix.Application

	// Stores creates one message store per session.
	Stores store.Factory

	// Registry tracks live sessions for cross-thread sends and
	// monitoring.
	Registry *fix.Registry

	// Metrics is optional; nil keeps the engine's no-op reporter.
	Metrics fix.MetricsReporter

	// Logger is the root logger.
	Logger *slog.Logger
}

// validate checks the mandatory dependencies.
func (d *Deps) validate() error {
	if d.App == nil || d.Stores == nil || d.Registry == nil || d.Logger == nil {
		return errors.New("engine deps require app, store factory, registry, and logger")
	}
	return nil
}

// -------------------------------------------------------------------------
// Session assembly
// -------------------------------------------------------------------------

// buildDictionary resolves the profile's validation dictionary: the
// configured XML file when dictionary use is enabled, the built-in
// transport dictionary otherwise. For FIXT sessions the transport
// dictionary file takes precedence over the combined one.
func buildDictionary(p *config.SessionProfile) (*dict.Dictionary, error) {
	if !p.UseDataDictionary {
		return dict.Transport(p.Session.ID.BeginString), nil
	}
	path := p.DataDictionaryPath
	if p.Session.ID.IsFIXT() && p.TransportDictionaryPath != "" {
		path = p.TransportDictionaryPath
	}
	if path == "" {
		return dict.Transport(p.Session.ID.BeginString), nil
	}
	d, err := dict.Load(path)
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", p.Session.ID, err)
	}
	return d, nil
}

// buildSession assembles a session for the profile under the given
// concrete identity (which differs from the configured one only for
// wildcard acceptor sessions).
func buildSession(p *config.SessionProfile, id fix.SessionID, deps *Deps) (*fix.Session, error) {
	dd, err := buildDictionary(p)
	if err != nil {
		return nil, err
	}
	st, err := deps.Stores.Create(id.Prefix())
	if err != nil {
		return nil, fmt.Errorf("session %s: create store: %w", id, err)
	}

	cfg := p.Session
	cfg.ID = id
	sess, err := fix.NewSession(cfg, dd, st, deps.App, deps.Logger,
		fix.WithMetrics(deps.Metrics),
	)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("session %s: %w", id, err)
	}
	return sess, nil
}
