package fix_test

import (
	"testing"

	"github.com/fixwire/fixd/internal/fix"
)

func TestSessionIDString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		id   fix.SessionID
		want string
	}{
		{
			name: "comp ids only",
			id: fix.SessionID{
				BeginString:  fix.BeginStringFIX44,
				SenderCompID: "TW",
				TargetCompID: "ISLD",
			},
			want: "FIX.4.4:TW->ISLD",
		},
		{
			name: "with sub and location",
			id: fix.SessionID{
				BeginString:      fix.BeginStringFIX42,
				SenderCompID:     "TW",
				SenderSubID:      "DESK",
				TargetCompID:     "ISLD",
				TargetLocationID: "NY",
			},
			want: "FIX.4.2:TW/DESK->ISLD/NY",
		},
		{
			name: "with qualifier",
			id: fix.SessionID{
				BeginString:  fix.BeginStringFIX44,
				SenderCompID: "TW",
				TargetCompID: "ISLD",
				Qualifier:    "backup",
			},
			want: "FIX.4.4:TW->ISLD:backup",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.id.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSessionIDPrefix(t *testing.T) {
	t.Parallel()

	id := fix.SessionID{
		BeginString:  fix.BeginStringFIX44,
		SenderCompID: "TW",
		SenderSubID:  "DESK",
		TargetCompID: "ISLD",
	}
	if got := id.Prefix(); got != "FIX.4.4-TW-DESK-ISLD" {
		t.Errorf("Prefix() = %q, want FIX.4.4-TW-DESK-ISLD", got)
	}
}

func TestSessionIDReverse(t *testing.T) {
	t.Parallel()

	id := fix.SessionID{
		BeginString:  fix.BeginStringFIX44,
		SenderCompID: "TW",
		TargetCompID: "ISLD",
		TargetSubID:  "GW",
	}
	rev := id.Reverse()
	if rev.SenderCompID != "ISLD" || rev.TargetCompID != "TW" || rev.SenderSubID != "GW" {
		t.Errorf("Reverse() = %+v", rev)
	}
}

func TestSessionIDMatchScore(t *testing.T) {
	t.Parallel()

	inbound := fix.SessionID{
		BeginString:  fix.BeginStringFIX44,
		SenderCompID: "ME",
		TargetCompID: "PEER",
	}

	tests := []struct {
		name       string
		configured fix.SessionID
		want       int
	}{
		{
			name: "exact match outranks wildcard",
			configured: fix.SessionID{
				BeginString: fix.BeginStringFIX44, SenderCompID: "ME", TargetCompID: "PEER",
			},
			want: 4,
		},
		{
			name: "wildcard target",
			configured: fix.SessionID{
				BeginString: fix.BeginStringFIX44, SenderCompID: "ME", TargetCompID: "*",
			},
			want: 2,
		},
		{
			name: "comp id mismatch",
			configured: fix.SessionID{
				BeginString: fix.BeginStringFIX44, SenderCompID: "ME", TargetCompID: "OTHER",
			},
			want: -1,
		},
		{
			name: "begin string mismatch",
			configured: fix.SessionID{
				BeginString: fix.BeginStringFIX42, SenderCompID: "ME", TargetCompID: "PEER",
			},
			want: -1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.configured.MatchScore(inbound); got != tt.want {
				t.Errorf("MatchScore() = %d, want %d", got, tt.want)
			}
		})
	}
}
