package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"chainalerts/internal/alerting"
)

// Prune 删除早于 opts.Before 的归档触发记录。
func (a *App) Prune(ctx context.Context, opts PruneOptions) error {
	before := opts.Before.UTC()
	if before.IsZero() || before.After(time.Now().UTC()) {
		return errors.New("--before 必须是过去的时间")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("storage.database.dsn 未配置，无法清理归档")
	}
	defer closeStore()

	records, err := store.ListTriggers(ctx, alerting.ArchiveQuery{})
	if err != nil {
		return err
	}
	stale := 0
	for _, r := range records {
		if r.OccurredAt.Before(before) {
			stale++
		}
	}

	if opts.DryRun {
		a.Logger.Warn().Int("stale", stale).Time("before", before).Msg("清理 dry-run：不会删除任何记录")
		fmt.Fprintf(os.Stdout, "%d of %d archived triggers would be removed\n", stale, len(records))
		return nil
	}

	if err := store.DeleteTriggersBefore(ctx, before); err != nil {
		return err
	}
	a.Logger.Info().Int("removed", stale).Time("before", before).Msg("归档清理完成")
	fmt.Fprintf(os.Stdout, "removed %d archived triggers\n", stale)
	return nil
}
