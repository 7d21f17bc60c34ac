package engine_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/fixwire/fixd/internal/config"
	"github.com/fixwire/fixd/internal/engine"
	"github.com/fixwire/fixd/internal/fix"
	"github.com/fixwire/fixd/internal/fix/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// discard returns a logger that drops everything.
func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// acceptorProfile builds a GW-side acceptor on an ephemeral port.
func acceptorProfile() *config.SessionProfile {
	return &config.SessionProfile{
		ConnectionType: config.ConnectionAcceptor,
		AcceptAddr:     "127.0.0.1:0",
		Session: fix.SessionConfig{
			ID: fix.SessionID{
				BeginString:  fix.BeginStringFIX44,
				SenderCompID: "GW",
				TargetCompID: "CLIENT",
			},
			Role:                      fix.RoleAcceptor,
			HeartBtInt:                time.Second,
			PersistMessages:           true,
			ValidateLengthAndChecksum: true,
		},
	}
}

// initiatorProfile builds the CLIENT side dialing port.
func initiatorProfile(port int) *config.SessionProfile {
	return &config.SessionProfile{
		ConnectionType:    config.ConnectionInitiator,
		ConnectAddr:       fmt.Sprintf("127.0.0.1:%d", port),
		ReconnectInterval: 100 * time.Millisecond,
		Session: fix.SessionConfig{
			ID: fix.SessionID{
				BeginString:  fix.BeginStringFIX44,
				SenderCompID: "CLIENT",
				TargetCompID: "GW",
			},
			Role:                      fix.RoleInitiator,
			HeartBtInt:                time.Second,
			PersistMessages:           true,
			ValidateLengthAndChecksum: true,
		},
	}
}

func TestAcceptorInitiatorLogonExchange(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := fix.NewRegistry()
	deps := &engine.Deps{
		App:      fix.NullApplication{},
		Stores:   store.MemoryFactory{},
		Registry: registry,
		Logger:   discard(),
	}

	acceptor, err := engine.NewAcceptor([]*config.SessionProfile{acceptorProfile()}, deps)
	if err != nil {
		t.Fatalf("NewAcceptor() = %v", err)
	}
	if err := acceptor.Start(ctx); err != nil {
		t.Fatalf("acceptor Start() = %v", err)
	}
	defer acceptor.Stop()

	endpoints := acceptor.Endpoints()
	if len(endpoints) != 1 {
		t.Fatalf("endpoints = %v, want one", endpoints)
	}
	port := endpoints[0].(*net.TCPAddr).Port

	initiator, err := engine.NewInitiator([]*config.SessionProfile{initiatorProfile(port)}, deps)
	if err != nil {
		t.Fatalf("NewInitiator() = %v", err)
	}
	if err := initiator.Start(ctx); err != nil {
		t.Fatalf("initiator Start() = %v", err)
	}
	defer initiator.Stop()

	acceptorID := fix.SessionID{
		BeginString: fix.BeginStringFIX44, SenderCompID: "GW", TargetCompID: "CLIENT",
	}
	initiatorID := fix.SessionID{
		BeginString: fix.BeginStringFIX44, SenderCompID: "CLIENT", TargetCompID: "GW",
	}

	waitFor(t, "both sessions active", func() bool {
		a, okA := registry.Lookup(acceptorID)
		i, okI := registry.Lookup(initiatorID)
		return okA && okI &&
			a.Status() == fix.StatusActive &&
			i.Status() == fix.StatusActive
	})

	// One Logon consumed on each side.
	a, _ := registry.Lookup(acceptorID)
	i, _ := registry.Lookup(initiatorID)
	if a.NextTargetSeqNum() != 2 || i.NextTargetSeqNum() != 2 {
		t.Errorf("target seqs = %d/%d, want 2/2", a.NextTargetSeqNum(), i.NextTargetSeqNum())
	}
}

func TestAcceptorRejectsUnknownCompIDs(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := fix.NewRegistry()
	deps := &engine.Deps{
		App:      fix.NullApplication{},
		Stores:   store.MemoryFactory{},
		Registry: registry,
		Logger:   discard(),
	}
	acceptor, err := engine.NewAcceptor([]*config.SessionProfile{acceptorProfile()}, deps)
	if err != nil {
		t.Fatalf("NewAcceptor() = %v", err)
	}
	if err := acceptor.Start(ctx); err != nil {
		t.Fatalf("Start() = %v", err)
	}
	defer acceptor.Stop()

	port := acceptor.Endpoints()[0].(*net.TCPAddr).Port
	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		t.Fatalf("dial = %v", err)
	}
	defer conn.Close()

	// A logon from comp ids no session is configured for.
	logon := fix.NewAdminMessage(fix.MsgTypeLogon)
	logon.Header.Set(fix.TagBeginString, fix.BeginStringFIX44)
	logon.Header.Set(fix.TagSenderCompID, "NOBODY")
	logon.Header.Set(fix.TagTargetCompID, "NOWHERE")
	logon.Header.SetInt(fix.TagMsgSeqNum, 1)
	logon.Header.SetUTCTimestamp(fix.TagSendingTime, time.Now(), fix.PrecisionMillis)
	logon.Body.Set(fix.TagEncryptMethod, "0")
	logon.Body.SetInt(fix.TagHeartBtInt, 30)
	if _, err := conn.Write(logon.Bytes()); err != nil {
		t.Fatalf("write = %v", err)
	}

	// The acceptor closes the connection without binding a session.
	if err := conn.SetReadDeadline(time.Now().Add(5 * time.Second)); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 256)
	if n, err := conn.Read(buf); err == nil && n > 0 {
		t.Errorf("unexpected reply to unmatched logon: %q", buf[:n])
	}
}
