package cli

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/broadcomms/meeting-ledger/internal/config"
	"github.com/broadcomms/meeting-ledger/internal/logging"
	"github.com/broadcomms/meeting-ledger/internal/ui"
	"github.com/broadcomms/meeting-ledger/internal/version"
	"github.com/spf13/cobra"
)

var ErrMissingUser = errors.New("a user id is required (--user or MESHCALL_USER)")

var (
	flagConfig   string
	flagServer   string
	flagSTUN     string
	flagTURN     string
	flagTURNUser string
	flagTURNPass string
	flagRelay    bool
	flagUser     string
	flagName     string
	flagVideo    string
	flagAudio    string
	flagLogLevel string
)

var rootCmd = &cobra.Command{
	Use:   "meshcall",
	Short: "Full-mesh WebRTC conference client",
	Long: `meshcall joins a meeting and keeps one direct WebRTC connection to every
other participant. The signaling server only relays offers, answers and ICE
candidates; media flows peer to peer.

Organizers start and stop the conference for everyone with "meshcall start"
and "meshcall stop".`,
	Version: version.Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := logging.ParseLevel(os.Getenv("LOG_LEVEL"), slog.LevelError)
		logging.Setup(logging.ParseLevel(flagLogLevel, level))
	},
}

// Execute runs the command line. SIGINT and SIGTERM cancel the command's
// context, which makes an active call leave the meeting cleanly.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		ui.PrintError(err.Error())
		stop()
		os.Exit(1)
	}
}

// loadConfig layers the persistent flags over environment and config file.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(config.Options{
		ConfigFile:  flagConfig,
		ServerURL:   flagServer,
		STUNServer:  flagSTUN,
		TURNServer:  flagTURN,
		TURNUser:    flagTURNUser,
		TURNPass:    flagTURNPass,
		ForceRelay:  flagRelay,
		UserID:      flagUser,
		DisplayName: flagName,
		VideoFile:   flagVideo,
		AudioFile:   flagAudio,
	})
	if err != nil {
		return nil, err
	}

	if cfg.ForceRelay && cfg.GetTURNServers() == nil {
		return nil, errors.New("cannot force relay mode without TURN server configured")
	}
	return cfg, nil
}

// loadIdentity is loadConfig for commands that act as a named user.
func loadIdentity() (*config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.UserID == "" {
		return nil, ErrMissingUser
	}
	return cfg, nil
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVarP(&flagConfig, "config", "c", "", "Config file (default: meshcall.{yaml,toml,json} in ~/.config/meshcall or .)")
	f.StringVar(&flagServer, "server", "", "Signaling server URL")
	f.StringVarP(&flagSTUN, "stun", "s", "", "Custom STUN server")
	f.StringVarP(&flagTURN, "turn", "t", "", "Custom TURN server")
	f.StringVar(&flagTURNUser, "turn-user", "", "TURN username")
	f.StringVar(&flagTURNPass, "turn-pass", "", "TURN password")
	f.BoolVarP(&flagRelay, "relay", "r", false, "Force relay mode")
	f.StringVarP(&flagUser, "user", "u", "", "Your user id")
	f.StringVarP(&flagName, "name", "n", "", "Display name shown to other participants")
	f.StringVar(&flagVideo, "video", "", "IVF (VP8) file used as the camera")
	f.StringVar(&flagAudio, "audio", "", "Ogg (Opus) file used as the microphone")
	f.StringVar(&flagLogLevel, "log-level", "", "Log level: debug, info, warn or error")
}
