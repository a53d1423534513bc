package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/scoresync/livesync/internal/config"
	"github.com/scoresync/livesync/internal/poller"
)

// printBus writes every broadcast to out as one JSON line instead of sending
// it to viewers.
type printBus struct {
	mu  sync.Mutex
	out io.Writer
}

func (b *printBus) Publish(topic, event string, payload any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return json.NewEncoder(b.out).Encode(map[string]any{"room": topic, "event": event, "data": payload})
}

func (b *printBus) PublishAll(event string, payload any) error {
	return b.Publish("", event, payload)
}

func pollOnceCmd() *cobra.Command {
	var (
		class     string
		broadcast bool
	)
	cmd := &cobra.Command{
		Use:   "poll-once",
		Short: "Discover active keys and run a single tick for each, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			classes := config.Classes
			if class != "" {
				if a.policy(config.Class(class)) == nil {
					return fmt.Errorf("unknown class %q", class)
				}
				classes = []config.Class{config.Class(class)}
			}

			w, bus := pollOutputs(cmd, broadcast)
			fmt.Fprintln(w, "CLASS\tKEY\tCHANGED\tNEXT\tERROR")
			for _, c := range classes {
				results, err := a.engine(a.policy(c), bus).PollOnce(ctx)
				if err != nil {
					return fmt.Errorf("%s: %w", c, err)
				}
				for _, r := range results {
					fmt.Fprintf(w, "%s\t%s\t%v\t%s\t%s\n", c, r.Key, r.Changed, r.State.Interval, errString(r))
				}
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&class, "class", "", "only poll this class (livestats, circle, backpack)")
	cmd.Flags().BoolVar(&broadcast, "print-broadcasts", false, "print broadcast payloads as JSON lines on stderr")
	return cmd
}

// pollOutputs sends the result table to stdout and, when asked, the
// broadcast echo to stderr so the two never interleave.
func pollOutputs(cmd *cobra.Command, broadcast bool) (*tabwriter.Writer, *printBus) {
	bus := &printBus{out: io.Discard}
	if broadcast {
		bus.out = cmd.ErrOrStderr()
	}
	return tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0), bus
}

func errString(r poller.KeyResult) string {
	if r.Err == nil {
		return "-"
	}
	return r.Err.Error()
}
