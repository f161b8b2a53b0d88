package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/dealhub/internal/service"
)

var (
	searchLimit int
	staleAfter  time.Duration
)

var searchCmd = &cobra.Command{
	Use:   "search <channel-id> <query>",
	Short: "Search the loaded window of a channel",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEnv(cmd, func(ctx context.Context, e *env) error {
			channels := service.NewChannels(e.redis.Messages(), e.redis.Bus(), nil, nil, e.cfg.Channels)
			if !channels.Known(args[0]) {
				return fmt.Errorf("unknown channel %q", args[0])
			}
			msgs, err := channels.Latest(ctx, args[0], service.MaxWindow)
			if err != nil {
				return err
			}
			found := service.NewSearchIndex(msgs).Search(args[1])
			if searchLimit > 0 && len(found) > searchLimit {
				found = found[:searchLimit]
			}
			out := cmd.OutOrStdout()
			for _, m := range found {
				fmt.Fprintf(out, "[%s] %s: %s\n", humanize.Time(m.CreatedAt), m.AuthorName, m.Body)
			}
			fmt.Fprintf(out, "%d match(es) in the last %d messages\n", len(found), len(msgs))
			return nil
		})
	},
}

var reapCmd = &cobra.Command{
	Use:   "reap",
	Short: "Mark stale online users offline",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEnv(cmd, func(ctx context.Context, e *env) error {
			after := staleAfter
			if after <= 0 {
				after = e.cfg.Presence.StaleAfter
			}
			n, err := service.NewPresence(e.redis.Presence(), e.redis.Bus(), e.cfg.Presence.TypingTTL).Reap(ctx, after)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reaped %d user(s) without a heartbeat for %v\n", n, after)
			return nil
		})
	},
}

func init() {
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "l", 20, "maximum number of results")
	reapCmd.Flags().DurationVar(&staleAfter, "stale-after", 0, "heartbeat age considered stale (default: presence.stale_after_sec)")
}
