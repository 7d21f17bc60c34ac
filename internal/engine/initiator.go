package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fixwire/fixd/internal/config"
	"github.com/fixwire/fixd/internal/fix"
	"github.com/fixwire/fixd/internal/netio"
)

// -------------------------------------------------------------------------
// Initiator — connect-and-retry orchestration
// -------------------------------------------------------------------------

// ErrNoInitiatorSessions indicates no initiator profiles were given.
var ErrNoInitiatorSessions = errors.New("no initiator sessions configured")

// scheduleIdle is how long a session worker sleeps while outside its
// scheduled window.
const scheduleIdle = time.Second

// initiatorEntry pairs a profile with its session.
type initiatorEntry struct {
	profile *config.SessionProfile
	session *fix.Session
}

// Initiator spawns one worker per configured session. Each worker
// dials the configured endpoint, runs a reactor for the connection's
// lifetime, and retries after ReconnectInterval on failure or
// disconnect. Logon is sent immediately after transport-level connect.
type Initiator struct {
	deps    *Deps
	logger  *slog.Logger
	entries []*initiatorEntry

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewInitiator validates the profiles and builds the sessions.
func NewInitiator(profiles []*config.SessionProfile, deps *Deps) (*Initiator, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	ini := &Initiator{
		deps:   deps,
		logger: deps.Logger.With(slog.String("component", "engine.initiator")),
	}

	for _, p := range profiles {
		if p.ConnectionType != config.ConnectionInitiator {
			continue
		}
		sess, err := buildSession(p, p.Session.ID, deps)
		if err != nil {
			return nil, err
		}
		if err := deps.Registry.Register(sess); err != nil {
			return nil, fmt.Errorf("register %s: %w", sess.ID(), err)
		}
		ini.entries = append(ini.entries, &initiatorEntry{profile: p, session: sess})
	}
	if len(ini.entries) == 0 {
		return nil, ErrNoInitiatorSessions
	}
	return ini, nil
}

// Start launches one worker per session and returns immediately.
func (i *Initiator) Start(ctx context.Context) error {
	ctx, i.cancel = context.WithCancel(ctx)
	i.running.Store(true)

	for _, entry := range i.entries {
		i.wg.Add(1)
		go func(entry *initiatorEntry) {
			defer i.wg.Done()
			i.runSession(ctx, entry)
		}(entry)
	}
	return nil
}

// Stop cancels all workers and waits for them to exit.
func (i *Initiator) Stop() {
	if !i.running.CompareAndSwap(true, false) {
		return
	}
	if i.cancel != nil {
		i.cancel()
	}
	i.wg.Wait()
	for _, entry := range i.entries {
		i.deps.Registry.Unregister(entry.session.ID())
	}
}

// runSession is one session's connect-retry loop.
func (i *Initiator) runSession(ctx context.Context, entry *initiatorEntry) {
	logger := i.logger.With(slog.String("session", entry.session.ID().String()))
	schedule := entry.profile.Session.Schedule
	if schedule == nil {
		schedule = fix.NonStopSchedule{}
	}

	for i.running.Load() && ctx.Err() == nil {
		if !schedule.IsSessionTime(time.Now().UTC()) {
			if !sleepCtx(ctx, scheduleIdle) {
				return
			}
			continue
		}

		conn, err := netio.Dial(entry.profile.ConnectAddr, entry.profile.Socket)
		if err != nil {
			logger.Warn("connect failed",
				slog.String("addr", entry.profile.ConnectAddr),
				slog.String("error", err.Error()),
			)
			if !sleepCtx(ctx, entry.profile.ReconnectInterval) {
				return
			}
			continue
		}

		logger.Info("connected", slog.String("addr", entry.profile.ConnectAddr))
		reactor := netio.NewReactor(conn, entry.session, nil, entry.profile.Socket, logger)
		reactor.Run(ctx)

		if ctx.Err() != nil {
			return
		}
		logger.Info("connection ended, retrying",
			slog.Duration("in", entry.profile.ReconnectInterval))
		if !sleepCtx(ctx, entry.profile.ReconnectInterval) {
			return
		}
	}
}

// sleepCtx sleeps for d unless ctx is cancelled; reports whether the
// caller should continue.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = time.Millisecond
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
