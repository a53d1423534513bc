package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/scoresync/livesync/internal/store"
)

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed <fixture.json>",
		Short: "Load rounds, selections, rosters and match records into the configured store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := store.LoadFixture(args[0])
			if err != nil {
				return err
			}

			st, err := store.Open(cfg.Store, logger.Named("store"))
			if err != nil {
				return err
			}
			defer st.Close()

			if err := f.Apply(cmd.Context(), st); err != nil {
				return err
			}

			fields := []zap.Field{zap.String("driver", cfg.Store.Driver), zap.String("path", cfg.Store.Path)}
			for k, n := range f.Counts() {
				fields = append(fields, zap.Int(k, n))
			}
			logger.Info("store seeded", fields...)
			return nil
		},
	}
}
