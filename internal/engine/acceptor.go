package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fixwire/fixd/internal/config"
	"github.com/fixwire/fixd/internal/fix"
	"github.com/fixwire/fixd/internal/netio"
)

// -------------------------------------------------------------------------
// Acceptor — bind-and-accept orchestration
// -------------------------------------------------------------------------

// logonWait bounds how long an unbound inbound connection may take to
// produce its first framed message (the Logon used for session
// selection).
const logonWait = 10 * time.Second

// Sentinel errors for acceptor operation.
var (
	// ErrNoAcceptorSessions indicates no acceptor profiles were given.
	ErrNoAcceptorSessions = errors.New("no acceptor sessions configured")

	// ErrNoSessionMatch indicates an inbound logon matched no
	// configured session.
	ErrNoSessionMatch = errors.New("no configured session matches logon")

	// ErrSessionBusy indicates the matched session already has a live
	// connection.
	ErrSessionBusy = errors.New("session already connected")
)

// acceptorEntry pairs a configured profile with its pre-built session.
// Wildcard profiles have no pre-built session; they instantiate one per
// connection.
type acceptorEntry struct {
	profile *config.SessionProfile
	session *fix.Session

	// busy guards against a second connection claiming a session that
	// already has a reactor.
	busy atomic.Bool
}

// Acceptor binds one listener per distinct endpoint found across the
// configured sessions and spawns a reactor goroutine per accepted
// connection. The connection initially has no session bound; the
// incoming Logon's identity selects the best-matching configuration
// (wildcards permitted, exact matches outrank them).
type Acceptor struct {
	deps    *Deps
	logger  *slog.Logger
	entries []*acceptorEntry

	// listeners by endpoint address.
	listeners map[string]net.Listener

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewAcceptor validates the profiles and pre-builds the sessions for
// every non-wildcard configuration.
func NewAcceptor(profiles []*config.SessionProfile, deps *Deps) (*Acceptor, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	a := &Acceptor{
		deps:      deps,
		logger:    deps.Logger.With(slog.String("component", "engine.acceptor")),
		listeners: make(map[string]net.Listener),
	}

	for _, p := range profiles {
		if p.ConnectionType != config.ConnectionAcceptor {
			continue
		}
		entry := &acceptorEntry{profile: p}
		if p.Session.ID.TargetCompID != fix.WildcardCompID {
			sess, err := buildSession(p, p.Session.ID, deps)
			if err != nil {
				return nil, err
			}
			if err := deps.Registry.Register(sess); err != nil {
				return nil, fmt.Errorf("register %s: %w", sess.ID(), err)
			}
			entry.session = sess
		}
		a.entries = append(a.entries, entry)
	}
	if len(a.entries) == 0 {
		return nil, ErrNoAcceptorSessions
	}
	return a, nil
}

// Start binds the listeners and begins accepting. It returns after the
// listeners are bound; accepting runs in background goroutines until
// Stop or context cancellation.
func (a *Acceptor) Start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)
	a.running.Store(true)

	for _, entry := range a.entries {
		addr := entry.profile.AcceptAddr
		if _, bound := a.listeners[addr]; bound {
			continue
		}
		ln, err := netio.Listen(addr, entry.profile.Socket)
		if err != nil {
			a.Stop()
			return fmt.Errorf("bind acceptor: %w", err)
		}
		a.listeners[addr] = ln
		a.logger.Info("listening", slog.String("addr", addr))

		a.wg.Add(1)
		go func(ln net.Listener, addr string) {
			defer a.wg.Done()
			a.acceptLoop(ctx, ln, addr)
		}(ln, addr)
	}
	return nil
}

// Stop closes the listeners, cancels the reactors, and waits for all
// goroutines to exit.
func (a *Acceptor) Stop() {
	if !a.running.CompareAndSwap(true, false) {
		return
	}
	for _, ln := range a.listeners {
		ln.Close()
	}
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
	for _, entry := range a.entries {
		if entry.session != nil {
			a.deps.Registry.Unregister(entry.session.ID())
		}
	}
}

// Endpoints returns the bound listener addresses; useful when a port of
// 0 requested ephemeral allocation.
func (a *Acceptor) Endpoints() []net.Addr {
	out := make([]net.Addr, 0, len(a.listeners))
	for _, ln := range a.listeners {
		out = append(out, ln.Addr())
	}
	return out
}

// acceptLoop accepts connections for one endpoint until shutdown.
func (a *Acceptor) acceptLoop(ctx context.Context, ln net.Listener, addr string) {
	for a.running.Load() {
		conn, err := ln.Accept()
		if err != nil {
			if a.running.Load() && !errors.Is(err, net.ErrClosed) {
				a.logger.Warn("accept failed", slog.String("error", err.Error()))
			}
			return
		}
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.serveConn(ctx, conn, addr)
		}()
	}
}

// serveConn reads the first framed message off a fresh connection,
// selects the session, and runs the reactor for the connection's
// lifetime.
func (a *Acceptor) serveConn(ctx context.Context, conn net.Conn, addr string) {
	logger := a.logger.With(slog.String("remote", conn.RemoteAddr().String()))

	framer, first, err := readFirstFrame(conn)
	if err != nil {
		logger.Info("closing unidentified connection", slog.String("error", err.Error()))
		conn.Close()
		return
	}

	entry, inboundID, err := a.selectSession(addr, first)
	if err != nil {
		logger.Warn("rejecting connection",
			slog.String("error", err.Error()),
			slog.String("inbound", inboundID.String()),
		)
		conn.Close()
		return
	}

	if !entry.busy.CompareAndSwap(false, true) {
		logger.Warn("rejecting connection", slog.String("error", ErrSessionBusy.Error()))
		conn.Close()
		return
	}
	defer entry.busy.Store(false)

	session := entry.session
	dynamic := session == nil
	if dynamic {
		session, err = buildSession(entry.profile, inboundID, a.deps)
		if err != nil {
			logger.Error("build dynamic session", slog.String("error", err.Error()))
			conn.Close()
			return
		}
		if err := a.deps.Registry.Register(session); err != nil {
			logger.Error("register dynamic session", slog.String("error", err.Error()))
			conn.Close()
			return
		}
		defer a.deps.Registry.Unregister(session.ID())
	}

	reactor := netio.NewReactor(conn, session, framer, entry.profile.Socket, logger)
	reactor.Run(ctx)
}

// readFirstFrame reads from the raw connection until one complete FIX
// message is framed; the returned framer retains it (and any extra
// bytes) for the reactor.
func readFirstFrame(conn net.Conn) (*fix.Framer, []byte, error) {
	framer := fix.NewFramer()
	buf := make([]byte, 4096)
	deadline := time.Now().Add(logonWait)

	for {
		if err := conn.SetReadDeadline(deadline); err != nil {
			return nil, nil, fmt.Errorf("set logon deadline: %w", err)
		}
		n, err := conn.Read(buf)
		if n > 0 {
			framer.Feed(buf[:n])
			msg, ferr := framer.TryNext()
			if ferr != nil {
				return nil, nil, ferr
			}
			if msg != nil {
				// Hand the message back through a fresh framer so the
				// reactor processes it in order with the remainder.
				rest := fix.NewFramer()
				rest.Feed(msg)
				rest.FeedFrom(framer)
				return rest, msg, nil
			}
		}
		if err != nil {
			return nil, nil, fmt.Errorf("read logon: %w", err)
		}
	}
}

// selectSession scores the inbound identity against every configured
// session on the endpoint and returns the best match.
func (a *Acceptor) selectSession(addr string, first []byte) (*acceptorEntry, fix.SessionID, error) {
	version, _ := fix.ReadVersion(first)
	sender, _ := fix.ReadFieldValue(first, fix.TagSenderCompID)
	target, _ := fix.ReadFieldValue(first, fix.TagTargetCompID)

	// Our local view of the peer's identity: their sender is our target.
	inbound := fix.SessionID{
		BeginString:  version,
		SenderCompID: target,
		TargetCompID: sender,
	}

	var best *acceptorEntry
	bestScore := -1
	for _, entry := range a.entries {
		if entry.profile.AcceptAddr != addr {
			continue
		}
		score := entry.profile.Session.ID.MatchScore(inbound)
		if score > bestScore {
			best = entry
			bestScore = score
		}
	}
	if best == nil || bestScore < 0 {
		return nil, inbound, ErrNoSessionMatch
	}
	return best, inbound, nil
}
