// Package netio owns the transport layer: the per-connection reactor
// loop and the TCP/TLS stream factory. One reactor goroutine drives one
// connection and its session engine; no session state ever crosses a
// goroutine boundary.
package netio

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/fixwire/fixd/internal/fix"
)

// -------------------------------------------------------------------------
// Reactor — per-connection event loop
// -------------------------------------------------------------------------

const (
	// readTimeout bounds each socket read so the loop reaches Poll at
	// a steady cadence.
	readTimeout = 10 * time.Millisecond

	// writeTimeout bounds each flush attempt; unwritten bytes stay in
	// the pending buffer.
	writeTimeout = 10 * time.Millisecond

	// readBufSize is the scratch read buffer size.
	readBufSize = 16 * 1024

	// maxPendingWrite is the back-pressure threshold: beyond it the
	// reactor stops reading until the backlog drains.
	maxPendingWrite = 1 << 20
)

// Reactor drives one connection: it reads bytes into the framer, hands
// complete messages to the session engine, flushes outbound bytes, and
// calls the engine's Poll on every iteration.
//
// Reactor implements fix.Responder; the engine addresses the transport
// only through that interface.
type Reactor struct {
	conn    net.Conn
	session *fix.Session
	framer  *fix.Framer
	logger  *slog.Logger

	// pending holds bytes accepted from the engine but not yet written.
	pending []byte

	readTO  time.Duration
	writeTO time.Duration

	// disconnect is set when the engine requests shutdown.
	disconnect bool
}

// NewReactor wraps a connected stream. The framer may already hold
// bytes consumed during session selection (acceptor side). Socket
// timeouts from the settings override the loop's default deadlines.
func NewReactor(conn net.Conn, session *fix.Session, framer *fix.Framer, ss SocketSettings, logger *slog.Logger) *Reactor {
	if framer == nil {
		framer = fix.NewFramer()
	}
	r := &Reactor{
		conn:    conn,
		session: session,
		framer:  framer,
		readTO:  readTimeout,
		writeTO: writeTimeout,
		logger:  logger.With(slog.String("remote", conn.RemoteAddr().String())),
	}
	if ss.ReceiveTimeout > 0 {
		r.readTO = ss.ReceiveTimeout
	}
	if ss.SendTimeout > 0 {
		r.writeTO = ss.SendTimeout
	}
	return r
}

// Send implements fix.Responder by buffering bytes for the next flush.
// It reports false once the backlog exceeds the back-pressure threshold.
func (r *Reactor) Send(msg []byte) bool {
	if len(r.pending) > maxPendingWrite {
		return false
	}
	r.pending = append(r.pending, msg...)
	return true
}

// Disconnect implements fix.Responder.
func (r *Reactor) Disconnect() {
	r.disconnect = true
}

// Run executes the event loop until the engine disconnects, the peer
// closes, or ctx is cancelled. The connection is closed on return;
// pending writes are flushed best-effort.
func (r *Reactor) Run(ctx context.Context) {
	defer r.shutdown()

	if err := r.session.OnConnect(r); err != nil {
		r.logger.Error("session connect", slog.String("error", err.Error()))
		return
	}

	// Drain anything the framer was pre-fed during session selection.
	if !r.dispatchFrames() {
		return
	}

	buf := make([]byte, readBufSize)
	for {
		if ctx.Err() != nil {
			r.session.Disconnect("shutting down")
			return
		}

		r.flush()
		if r.disconnect {
			return
		}

		// Back-pressure: let the backlog drain before reading more.
		if len(r.pending) <= maxPendingWrite {
			if !r.readOnce(buf) {
				return
			}
		}

		r.session.Poll(time.Now())
		if r.disconnect || r.session.Status() == fix.StatusDisconnected {
			return
		}
	}
}

// readOnce performs one bounded read and dispatches completed frames.
// It reports false when the connection is done.
func (r *Reactor) readOnce(buf []byte) bool {
	if err := r.conn.SetReadDeadline(time.Now().Add(r.readTO)); err != nil {
		r.logger.Warn("set read deadline", slog.String("error", err.Error()))
	}
	n, err := r.conn.Read(buf)
	if n > 0 {
		r.framer.Feed(buf[:n])
		if !r.dispatchFrames() {
			return false
		}
	}
	if err != nil && !isTimeout(err) {
		if !errors.Is(err, net.ErrClosed) {
			r.logger.Info("transport closed", slog.String("error", err.Error()))
		}
		r.session.Disconnect("transport error")
		return false
	}
	return true
}

// dispatchFrames hands every completed message to the engine. It
// reports false when processing disconnected the session fatally.
func (r *Reactor) dispatchFrames() bool {
	for {
		msg, err := r.framer.TryNext()
		if err != nil {
			// Oversized garbage; the framer already resynchronized.
			r.logger.Warn("framing error", slog.String("error", err.Error()))
			continue
		}
		if msg == nil {
			return true
		}
		if err := r.session.NextMsg(msg); err != nil {
			r.logger.Error("process message", slog.String("error", err.Error()))
			r.session.Disconnect("processing error")
			return false
		}
		if r.disconnect {
			return true
		}
	}
}

// flush writes as much of the pending buffer as the socket accepts.
func (r *Reactor) flush() {
	if len(r.pending) == 0 {
		return
	}
	if err := r.conn.SetWriteDeadline(time.Now().Add(r.writeTO)); err != nil {
		r.logger.Warn("set write deadline", slog.String("error", err.Error()))
	}
	n, err := r.conn.Write(r.pending)
	if n > 0 {
		r.pending = r.pending[n:]
	}
	if err != nil && !isTimeout(err) {
		r.logger.Info("write failed", slog.String("error", err.Error()))
		r.session.Disconnect("transport error")
	}
}

// shutdown flushes remaining bytes and closes the socket.
func (r *Reactor) shutdown() {
	r.flush()
	if err := r.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		r.logger.Debug("close connection", slog.String("error", err.Error()))
	}
}

// isTimeout reports whether err is a read/write deadline expiry.
func isTimeout(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return errors.Is(err, os.ErrDeadlineExceeded)
}
