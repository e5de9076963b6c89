package cli

import (
	"github.com/spf13/cobra"

	"chainalerts/internal/app"
)

var (
	integrationType     string
	integrationEndpoint string
	integrationToken    string
	integrationChat     string
	integrationAPIBase  string
)

var integrationsCmd = &cobra.Command{
	Use:   "integrations",
	Short: "Manage external integrations",
}

var integrationsTestCmd = &cobra.Command{
	Use:   "test",
	Short: "Send a test message to an endpoint without saving it",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().TestIntegration(cmd.Context(), app.IntegrationTestOptions{
			Type:     integrationType,
			Endpoint: integrationEndpoint,
			Token:    integrationToken,
			Chat:     integrationChat,
			APIBase:  integrationAPIBase,
		})
	},
}

var integrationsCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Test every configured integration and report its status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().CheckIntegrations(cmd.Context())
	},
}

func init() {
	integrationsTestCmd.Flags().StringVar(&integrationType, "type", "webhook", "Integration type: webhook (discord) or telegram")
	integrationsTestCmd.Flags().StringVar(&integrationEndpoint, "endpoint", "", "Webhook URL")
	integrationsTestCmd.Flags().StringVar(&integrationToken, "token", "", "Telegram bot token")
	integrationsTestCmd.Flags().StringVar(&integrationChat, "chat", "", "Telegram chat id")
	integrationsTestCmd.Flags().StringVar(&integrationAPIBase, "api-base", "", "Override the Telegram API base URL")

	integrationsCmd.AddCommand(integrationsTestCmd)
	integrationsCmd.AddCommand(integrationsCheckCmd)
}
