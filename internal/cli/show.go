package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"chainalerts/internal/app"
)

var (
	showLimit   int
	showUnread  bool
	showArchive bool
	showAlerts  bool
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display persisted notifications, price alerts or archived triggers",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}
		if showArchive && showAlerts {
			return fmt.Errorf("--archive and --alerts are mutually exclusive")
		}

		opts := app.ShowOptions{
			Limit:   showLimit,
			Unread:  showUnread,
			Archive: showArchive,
			Alerts:  showAlerts,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of rows to display")
	showCmd.Flags().BoolVar(&showUnread, "unread", false, "Only show unread notifications")
	showCmd.Flags().BoolVar(&showArchive, "archive", false, "Show archived triggers (postgres backend)")
	showCmd.Flags().BoolVar(&showAlerts, "alerts", false, "Show configured price alerts")
}
