package cli

import (
	"github.com/broadcomms/meeting-ledger/internal/organizer"
	"github.com/broadcomms/meeting-ledger/internal/ui"
	"github.com/spf13/cobra"
)

var flagNoJoin bool

var startCmd = &cobra.Command{
	Use:   "start <meeting-id>",
	Short: "Start a meeting's conference and join it",
	Long: `Start the conference of a meeting you organize. Participants waiting with
"meshcall join --wait" join as soon as it starts.

Examples:
  meshcall start standup --user alice
  meshcall start standup --no-join`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadIdentity()
		if err != nil {
			return err
		}
		meetingID := args[0]

		sp := ui.NewWaitingSpinner("Starting conference...").Start()
		_, err = organizer.NewClient(cfg, nil).Start(cmd.Context(), meetingID)
		if err != nil {
			sp.Stop()
			return err
		}
		sp.Success("Conference " + meetingID + " started")

		if flagNoJoin {
			return nil
		}
		return joinMeeting(cmd.Context(), cfg, meetingID, joinOptions{organizer: true})
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop <meeting-id>",
	Short: "End a meeting's conference for everyone",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadIdentity()
		if err != nil {
			return err
		}

		if _, err := organizer.NewClient(cfg, nil).Stop(cmd.Context(), args[0]); err != nil {
			return err
		}
		ui.PrintSuccessf("Conference %s stopped", args[0])
		return nil
	},
}

var meetingsCmd = &cobra.Command{
	Use:     "meetings",
	Aliases: []string{"ls"},
	Short:   "List meetings known to the server",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		stopSpinner := ui.RunConnectionSpinner("Fetching meetings...")
		meetings, err := organizer.NewClient(cfg, nil).ListMeetings(cmd.Context())
		stopSpinner()
		if err != nil {
			return err
		}

		ui.RenderMeetings(meetings, cfg.UserID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(startCmd, stopCmd, meetingsCmd)

	startCmd.Flags().BoolVar(&flagNoJoin, "no-join", false, "Only start the conference")
	startCmd.Flags().BoolVar(&flagLoopback, "loopback", false, "Gather loopback candidates (participants on one host)")
}
