package cli

import (
	"context"
	"errors"
	"net/http"

	"github.com/broadcomms/meeting-ledger/internal/conference"
	"github.com/broadcomms/meeting-ledger/internal/config"
	"github.com/broadcomms/meeting-ledger/internal/media"
	"github.com/broadcomms/meeting-ledger/internal/organizer"
	"github.com/broadcomms/meeting-ledger/internal/rtc"
	"github.com/broadcomms/meeting-ledger/internal/signaling"
	"github.com/broadcomms/meeting-ledger/internal/ui"
	"github.com/spf13/cobra"
)

var (
	flagWait     bool
	flagLoopback bool
)

var joinCmd = &cobra.Command{
	Use:     "join <meeting-id>",
	Aliases: []string{"j"},
	Short:   "Join a meeting",
	Long: `Join a meeting and connect to every participant already in it.

Examples:
  meshcall join standup --user alice
  meshcall join standup --wait
  meshcall join standup --video cam.ivf --audio mic.ogg`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadIdentity()
		if err != nil {
			return err
		}
		return joinMeeting(cmd.Context(), cfg, args[0], joinOptions{wait: flagWait})
	},
}

type joinOptions struct {
	wait      bool
	organizer bool
}

// joinMeeting runs one call from connect to summary.
func joinMeeting(ctx context.Context, cfg *config.Config, meetingID string, opts joinOptions) error {
	stopSpinner := ui.RunConnectionSpinner("Connecting to server...")
	client := signaling.NewClient(cfg.WebSocketURL, http.Header{organizer.UserHeader: []string{cfg.UserID}}, nil)
	err := client.Connect(ctx)
	stopSpinner()
	if err != nil {
		return &conference.Error{Op: "connect to server", Err: err}
	}
	defer client.Close()
	ui.PrintSuccessf("Connected as %s", cfg.DisplayName)

	view := ui.NewCallUI(meetingID)
	coord := conference.New(conference.Options{
		Session: conference.MeetingSession{
			MeetingID:    meetingID,
			UserID:       cfg.UserID,
			DisplayName:  cfg.DisplayName,
			Organizer:    opts.organizer,
			WaitForStart: opts.wait,
		},
		Channel:    client,
		Transports: rtc.NewFactory(cfg, rtc.Options{IncludeLoopback: flagLoopback}, nil),
		Media:      media.NewSource(media.FileCapturer{VideoPath: cfg.VideoFile, AudioPath: cfg.AudioFile}, nil),
		Renderer:   view,
		Notifier:   view,
	})

	view.Start(coord)
	err = coord.Run(ctx)
	view.Stop()

	ui.RenderSummary(coord.Summary())
	return callOutcome(err)
}

// callOutcome turns the way a call ended into the command result.
func callOutcome(err error) error {
	switch {
	case err == nil:
		ui.PrintSuccess("Left the meeting")
	case errors.Is(err, conference.ErrConferenceEnded):
		ui.PrintInfo("The organizer ended the conference")
	case errors.Is(err, context.Canceled):
		ui.PrintInfo("Interrupted, left the meeting")
	case errors.Is(err, conference.ErrChannelClosed):
		return errors.New("lost connection to the signaling server")
	default:
		return err
	}
	return nil
}

func init() {
	rootCmd.AddCommand(joinCmd)

	joinCmd.Flags().BoolVarP(&flagWait, "wait", "w", false, "Wait for the organizer to start the conference")
	joinCmd.Flags().BoolVar(&flagLoopback, "loopback", false, "Gather loopback candidates (participants on one host)")
}
