package cli

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/broadcomms/meeting-ledger/internal/conference"
)

func TestCallOutcome(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantErr bool
	}{
		{"left", nil, false},
		{"ended by organizer", conference.ErrConferenceEnded, false},
		{"interrupted", fmt.Errorf("run: %w", context.Canceled), false},
		{"channel lost", conference.ErrChannelClosed, true},
		{"media", &conference.Error{Op: "acquire media", Err: errors.New("no camera")}, true},
	}

	for _, tt := range tests {
		if err := callOutcome(tt.err); (err != nil) != tt.wantErr {
			t.Errorf("%s: callOutcome = %v, wantErr %v", tt.name, err, tt.wantErr)
		}
	}
}

func TestLoadIdentityRequiresUser(t *testing.T) {
	t.Setenv("MESHCALL_USER", "")
	flagUser, flagConfig = "", ""
	if _, err := loadIdentity(); !errors.Is(err, ErrMissingUser) {
		t.Fatalf("err = %v, want ErrMissingUser", err)
	}

	flagUser = "alice"
	defer func() { flagUser = "" }()
	cfg, err := loadIdentity()
	if err != nil {
		t.Fatalf("loadIdentity: %v", err)
	}
	if cfg.UserID != "alice" || cfg.DisplayName != "alice" {
		t.Errorf("identity = %q/%q", cfg.UserID, cfg.DisplayName)
	}
}

func TestRelayNeedsTURN(t *testing.T) {
	flagRelay = true
	defer func() { flagRelay = false }()
	t.Setenv("TURN_SERVER", "")
	if _, err := loadConfig(); err == nil {
		t.Fatal("expected error forcing relay without TURN")
	}
}

func TestCommandsRegistered(t *testing.T) {
	for _, name := range []string{"join", "start", "stop", "meetings"} {
		cmd, _, err := rootCmd.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Errorf("command %s not registered: %v", name, err)
		}
	}
}
