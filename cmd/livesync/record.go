package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/scoresync/livesync/internal/recorder"
	"github.com/scoresync/livesync/internal/telemetry"
)

func recordCmd() *cobra.Command {
	var (
		session  string
		frames   int
		interval time.Duration
		outDir   string
		workers  int
	)

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Capture provider responses into a replay session for the fake provider",
		RunE: func(cmd *cobra.Command, args []string) error {
			if session == "" {
				session = time.Now().Format("2006-01-02")
			}
			if interval <= 0 {
				return fmt.Errorf("--interval must be positive")
			}

			client := telemetry.NewClient(
				cfg.Provider.BaseURL,
				cfg.Provider.RatePerSecond,
				cfg.Provider.Timeout,
				cfg.Provider.RetryDelay,
				cfg.Provider.RetryCount,
				logger.Named("telemetry"),
			)
			rec := recorder.NewRecorder(client, recorder.NewStaging(outDir), workers, logger.Named("recorder"))

			res, err := rec.Record(cmd.Context(), recorder.Options{
				Session:   session,
				Endpoints: []string{telemetry.EndpointPlayers, telemetry.EndpointCircle, telemetry.EndpointBackpacks},
				Frames:    frames,
				Interval:  interval,
			})
			if err != nil {
				return err
			}

			for _, e := range res.Errors {
				logger.Debug("capture failed", zap.String("detail", e))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Recorded %d frames into %s (%d failed fetches)\n", res.Frames, res.Session, res.Failed)
			return nil
		},
	}

	cmd.Flags().StringVar(&session, "session", "", "session name, YYYY-MM-DD[_label] (default today)")
	cmd.Flags().IntVar(&frames, "frames", 360, "frames to capture")
	cmd.Flags().DurationVar(&interval, "interval", 10*time.Second, "time between frames")
	cmd.Flags().StringVar(&outDir, "out", "recordings", "directory holding replay sessions")
	cmd.Flags().IntVar(&workers, "workers", 3, "concurrent fetches per frame")
	return cmd
}
