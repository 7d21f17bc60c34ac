package config_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/fixwire/fixd/internal/config"
	"github.com/fixwire/fixd/internal/fix"
)

const sampleSettings = `
# Trading gateway sessions.
[DEFAULT]
ConnectionType=initiator
BeginString=FIX.4.4
SenderCompID=TW
HeartBtInt=20
ReconnectInterval=5
PersistMessages=Y
SocketConnectHost=fix.example.com

[SESSION]
TargetCompID=ISLD
SocketConnectPort=9876

[SESSION]
TargetCompID=ARCA
SocketConnectPort=9877
HeartBtInt=45
ResetOnLogon=Y
StartTime=08:00:00
EndTime=17:00:00
MaxMessagesInResendRequest=100
`

func TestParseSessionSettings(t *testing.T) {
	t.Parallel()

	profiles, err := config.ParseSessionSettings(strings.NewReader(sampleSettings))
	if err != nil {
		t.Fatalf("ParseSessionSettings() = %v", err)
	}
	if len(profiles) != 2 {
		t.Fatalf("profiles = %d, want 2", len(profiles))
	}

	first := profiles[0]
	if first.ConnectionType != config.ConnectionInitiator {
		t.Errorf("ConnectionType = %q", first.ConnectionType)
	}
	if first.Session.ID.SenderCompID != "TW" || first.Session.ID.TargetCompID != "ISLD" {
		t.Errorf("session id = %v", first.Session.ID)
	}
	if first.Session.Role != fix.RoleInitiator {
		t.Errorf("role = %v", first.Session.Role)
	}
	if first.ConnectAddr != "fix.example.com:9876" {
		t.Errorf("ConnectAddr = %q", first.ConnectAddr)
	}
	if first.ReconnectInterval != 5*time.Second {
		t.Errorf("ReconnectInterval = %v", first.ReconnectInterval)
	}
	// DEFAULT-level HeartBtInt applies when the session does not override.
	if first.Session.HeartBtInt != 20*time.Second {
		t.Errorf("HeartBtInt = %v, want 20s", first.Session.HeartBtInt)
	}
	if _, ok := first.Session.Schedule.(fix.NonStopSchedule); !ok {
		t.Errorf("schedule = %T, want NonStopSchedule", first.Session.Schedule)
	}

	second := profiles[1]
	if second.Session.HeartBtInt != 45*time.Second {
		t.Errorf("override HeartBtInt = %v, want 45s", second.Session.HeartBtInt)
	}
	if !second.Session.ResetOnLogon {
		t.Error("ResetOnLogon not applied")
	}
	if second.Session.MaxMessagesInResendRequest != 100 {
		t.Errorf("MaxMessagesInResendRequest = %d", second.Session.MaxMessagesInResendRequest)
	}
	if _, ok := second.Session.Schedule.(*fix.DailySchedule); !ok {
		t.Errorf("schedule = %T, want *DailySchedule", second.Session.Schedule)
	}
}

func TestParseAcceptorSettings(t *testing.T) {
	t.Parallel()

	const acceptor = `
[DEFAULT]
ConnectionType=acceptor
BeginString=FIX.4.2
SenderCompID=GW

[SESSION]
TargetCompID=*
SocketAcceptHost=0.0.0.0
SocketAcceptPort=5001
`
	profiles, err := config.ParseSessionSettings(strings.NewReader(acceptor))
	if err != nil {
		t.Fatalf("ParseSessionSettings() = %v", err)
	}
	p := profiles[0]
	if p.Session.Role != fix.RoleAcceptor {
		t.Errorf("role = %v", p.Session.Role)
	}
	if p.AcceptAddr != "0.0.0.0:5001" {
		t.Errorf("AcceptAddr = %q", p.AcceptAddr)
	}
	if p.Session.ID.TargetCompID != fix.WildcardCompID {
		t.Errorf("TargetCompID = %q, want wildcard", p.Session.ID.TargetCompID)
	}
}

func TestParseSettingsErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		wantErr error
	}{
		{
			name:    "no sessions",
			content: "[DEFAULT]\nConnectionType=initiator\n",
			wantErr: config.ErrNoSessions,
		},
		{
			name:    "option outside section",
			content: "ConnectionType=initiator\n[SESSION]\n",
			wantErr: config.ErrBadSettings,
		},
		{
			name:    "unknown section",
			content: "[WAT]\n",
			wantErr: config.ErrBadSettings,
		},
		{
			name: "missing comp ids",
			content: `
[DEFAULT]
ConnectionType=acceptor
[SESSION]
SocketAcceptPort=5001
`,
			wantErr: config.ErrMissingOption,
		},
		{
			name: "bad boolean",
			content: `
[DEFAULT]
ConnectionType=acceptor
BeginString=FIX.4.4
SenderCompID=A
[SESSION]
TargetCompID=B
SocketAcceptPort=5001
ResetOnLogon=MAYBE
`,
			wantErr: config.ErrBadOption,
		},
		{
			name: "unsupported begin string",
			content: `
[DEFAULT]
ConnectionType=acceptor
BeginString=FIX.9.9
SenderCompID=A
[SESSION]
TargetCompID=B
SocketAcceptPort=5001
`,
			wantErr: config.ErrBadOption,
		},
		{
			name: "initiator without endpoint",
			content: `
[DEFAULT]
ConnectionType=initiator
BeginString=FIX.4.4
SenderCompID=A
[SESSION]
TargetCompID=B
`,
			wantErr: config.ErrMissingOption,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.ParseSessionSettings(strings.NewReader(tt.content))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
