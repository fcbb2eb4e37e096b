package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/meridian-scm/meridian-scm/cmd/meridian/cli"
)

// runJobsCommand handles `meridian jobs <trigger|stats> [task type]`.
func runJobsCommand(ctx context.Context, logger *slog.Logger, redisAddr string, args []string) error {
	jobsCLI, err := cli.NewJobsCLI(redisAddr)
	if err != nil {
		return err
	}
	defer func() {
		if err := jobsCLI.Close(); err != nil {
			logger.Warn("jobs cli close", slog.Any("error", err))
		}
	}()

	if len(args) == 0 {
		return errors.New("usage: meridian jobs <trigger|stats> [task type]")
	}
	switch args[0] {
	case "trigger":
		if len(args) < 2 {
			return errors.New("usage: meridian jobs trigger <task type>")
		}
		info, err := jobsCLI.Trigger(ctx, args[1])
		if err != nil {
			return err
		}
		logger.Info("job enqueued", slog.String("task", info.Type), slog.String("id", info.ID))
		return nil
	case "stats":
		stats, err := jobsCLI.InspectQueue(ctx)
		if err != nil {
			return err
		}
		logger.Info("queue stats",
			slog.String("queue", stats.Queue),
			slog.Int("pending", stats.Pending),
			slog.Int("active", stats.Active),
			slog.Int("scheduled", stats.Scheduled),
			slog.Int("retry", stats.Retry),
		)
		return nil
	default:
		return errors.New("usage: meridian jobs <trigger|stats> [task type]")
	}
}
