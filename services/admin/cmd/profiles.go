package cmd

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/dealhub/internal/reputation"
	"github.com/dealhub/internal/service"
)

var leaderboardLimit int

var ranksCmd = &cobra.Command{
	Use:   "ranks",
	Short: "Print the rank ladder and badge catalogue",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "Ranks:")
		for _, r := range reputation.Ranks() {
			fmt.Fprintf(out, "  %2d. %-12s from %s XP\n", r.Level, r.Name, humanize.Comma(r.XPRequired))
		}
		fmt.Fprintln(out, "Badges:")
		for _, b := range reputation.Badges() {
			fmt.Fprintf(out, "  %-18s %-22s %s >= %s\n", b.ID, b.Name, b.Stat, humanize.Comma(b.Threshold))
		}
	},
}

var profileCmd = &cobra.Command{
	Use:   "profile <user-id>",
	Short: "Show a profile with rank and badges",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEnv(cmd, func(ctx context.Context, e *env) error {
			p, err := service.NewProfiles(e.profiles, nil).Get(ctx, args[0])
			if err != nil {
				return fmt.Errorf("profile %s: %w", args[0], err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s (%s), role %s, joined %s\n", p.DisplayName, p.ID, p.Role, humanize.Time(p.CreatedAt))
			fmt.Fprintf(out, "Rank: %s (level %d), %s XP", p.Rank.Name, p.Rank.Level, humanize.Comma(p.XP))
			if p.Rank.Next != nil {
				fmt.Fprintf(out, ", %s to %s", humanize.Comma(p.Rank.Next.XPToGo), p.Rank.Next.Name)
			}
			fmt.Fprintln(out)
			if len(p.Badges) > 0 {
				fmt.Fprintf(out, "Badges: %s\n", strings.Join(p.Badges, ", "))
			}
			stats := make([]string, 0, len(p.Stats))
			for k := range p.Stats {
				stats = append(stats, k)
			}
			sort.Strings(stats)
			for _, k := range stats {
				fmt.Fprintf(out, "  %-24s %s\n", k, humanize.Comma(p.Stats[k]))
			}
			return nil
		})
	},
}

var leaderboardCmd = &cobra.Command{
	Use:   "leaderboard",
	Short: "Top users by community XP",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEnv(cmd, func(ctx context.Context, e *env) error {
			list, err := service.NewProfiles(e.profiles, nil).Leaderboard(ctx, leaderboardLimit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for i, p := range list {
				name := p.DisplayName
				if name == "" {
					name = p.ID
				}
				fmt.Fprintf(out, "%5s  %-24s %-10s %s XP\n", humanize.Ordinal(i+1), name, p.Rank.Name, humanize.Comma(p.XP))
			}
			return nil
		})
	},
}

var recomputeCmd = &cobra.Command{
	Use:   "recompute-badges <user-id>...",
	Short: "Re-evaluate badge predicates for users",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEnv(cmd, func(ctx context.Context, e *env) error {
			engine := reputation.NewEngine(e.profiles, nil).WithBus(e.redis.Bus())
			for _, id := range args {
				added, err := engine.RecomputeBadges(ctx, id)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d new badge(s) %v\n", id, len(added), added)
			}
			return nil
		})
	},
}

func init() {
	leaderboardCmd.Flags().IntVarP(&leaderboardLimit, "limit", "n", service.DefaultLeaderboard, "number of users")
}
