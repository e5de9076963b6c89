package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"chainalerts/internal/integration"
	"chainalerts/internal/version"
)

// TestIntegration sends a test message with the given connection settings.
// Nothing is persisted.
func (a *App) TestIntegration(ctx context.Context, opts IntegrationTestOptions) error {
	typ, err := integration.ParseType(opts.Type)
	if err != nil {
		return err
	}

	manager := integration.NewManager(a.Logger, integration.Options{UserAgent: version.UserAgent()})
	res := manager.TestConnection(ctx, integration.Integration{
		Type: typ,
		Name: "cli-test",
		Connection: integration.Connection{
			WebhookURL: opts.Endpoint,
			BotToken:   opts.Token,
			ChatID:     opts.Chat,
			APIBase:    opts.APIBase,
		},
		Enabled: true,
	})

	fmt.Fprintln(os.Stdout, res.Message)
	if !res.Success {
		return errors.New("integration test failed")
	}
	return nil
}

// CheckIntegrations tests every integration seeded from config and prints
// the resulting status of each.
func (a *App) CheckIntegrations(ctx context.Context) error {
	manager := a.newIntegrations()
	items := manager.List()
	if len(items) == 0 {
		fmt.Fprintln(os.Stdout, "no integrations configured")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tName\tType\tStatus\tMessage")
	failed := 0
	for _, in := range items {
		res := manager.Check(ctx, in.ID)
		if !res.Success {
			failed++
		}
		status := integration.StatusPending
		if checked, ok := manager.Get(in.ID); ok {
			status = checked.Status
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\n", in.ID, in.Name, in.Type, status, sanitizeInline(res.Message))
	}
	if err := writer.Flush(); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d integrations failed", failed, len(items))
	}
	return nil
}
