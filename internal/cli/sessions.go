package cli

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/harun/ragent/pkg/session"
	"github.com/spf13/cobra"
)

var (
	showJSON       bool
	pruneOlderThan time.Duration
	pruneDryRun    bool
)

var sessionsCmd = &cobra.Command{
	Use:     "sessions",
	Aliases: []string{"session"},
	Short:   "Manage saved sessions",
	Long:    `List, inspect, delete and prune the named sessions kept by 'ragent run --session'.`,
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved sessions",
	Args:  cobra.NoArgs,
	RunE:  runSessionsList,
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Print a session transcript",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsShow,
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsDelete,
}

var sessionsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete sessions not updated for a while",
	Args:  cobra.NoArgs,
	RunE:  runSessionsPrune,
}

func init() {
	sessionsShowCmd.Flags().BoolVar(&showJSON, "json", false, "print the stored record as JSON")
	sessionsPruneCmd.Flags().DurationVar(&pruneOlderThan, "older-than", 0, "age of the last update, e.g. 720h (required)")
	sessionsPruneCmd.Flags().BoolVar(&pruneDryRun, "dry-run", false, "only print what would be deleted")
	_ = sessionsPruneCmd.MarkFlagRequired("older-than")

	sessionsCmd.AddCommand(sessionsListCmd, sessionsShowCmd, sessionsDeleteCmd, sessionsPruneCmd)
	rootCmd.AddCommand(sessionsCmd)
}

// withStore runs fn against the configured session store.
func withStore(cmd *cobra.Command, fn func(a *app, s session.Store) error) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close(cmd.Context())

	s, err := a.openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer s.Close()

	return fn(a, s)
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	return withStore(cmd, func(a *app, s session.Store) error {
		infos, err := s.List(cmd.Context())
		if err != nil {
			return err
		}
		out := a.renderer(cmd)
		if len(infos) == 0 {
			out.Plain("No sessions in %s", storeLocation(a))
			return nil
		}

		now := time.Now()
		rows := make([][]string, 0, len(infos))
		for _, info := range infos {
			if info.Corrupt {
				rows = append(rows, []string{info.Name, "-", "corrupt", "-", "-"})
				continue
			}
			rows = append(rows, []string{
				info.Name,
				strconv.Itoa(info.Exchanges),
				info.LastModelUsed,
				formatDuration(now.Sub(info.UpdatedAt)) + " ago",
				formatBytes(info.SizeBytes),
			})
		}
		out.Table(cmd.OutOrStdout(), []string{"NAME", "EXCHANGES", "LAST MODEL", "UPDATED", "SIZE"}, rows)
		return nil
	})
}

func runSessionsShow(cmd *cobra.Command, args []string) error {
	return withStore(cmd, func(a *app, s session.Store) error {
		tr, err := session.Show(cmd.Context(), s, args[0])
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		if showJSON {
			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			return enc.Encode(tr)
		}

		fmt.Fprintf(w, "Session: %s (%d exchanges, last model %s)\n", tr.Name, tr.Len(), tr.LastModelUsed)
		for i, ex := range tr.Exchanges {
			fmt.Fprintf(w, "\n[%d] %s  %s\n", i+1, ex.Timestamp.Local().Format(time.DateTime), ex.Model)
			fmt.Fprintf(w, "Task: %s\n", ex.Task)
			if ex.ImageRef != "" {
				fmt.Fprintf(w, "Image: %s\n", ex.ImageRef)
			}
			if ex.ContextBytes > 0 {
				fmt.Fprintf(w, "Context: %s\n", formatBytes(int64(ex.ContextBytes)))
			}
			fmt.Fprintf(w, "\n%s\n", ex.Response)
		}
		return nil
	})
}

func runSessionsDelete(cmd *cobra.Command, args []string) error {
	return withStore(cmd, func(a *app, s session.Store) error {
		if err := s.Delete(cmd.Context(), args[0]); err != nil {
			return err
		}
		a.renderer(cmd).Plain("Deleted session %s", args[0])
		return nil
	})
}

func runSessionsPrune(cmd *cobra.Command, args []string) error {
	if pruneOlderThan <= 0 {
		return fmt.Errorf("--older-than must be positive")
	}
	cutoff := time.Now().Add(-pruneOlderThan)

	return withStore(cmd, func(a *app, s session.Store) error {
		out := a.renderer(cmd)

		if pruneDryRun {
			infos, err := s.List(cmd.Context())
			if err != nil {
				return err
			}
			for _, name := range session.ExpiredBefore(infos, cutoff) {
				out.Plain("Would delete %s", name)
			}
			return nil
		}

		removed, err := session.Prune(cmd.Context(), s, cutoff)
		for _, name := range removed {
			out.Plain("Deleted %s", name)
		}
		if err != nil {
			return err
		}
		a.logger.Info().Int("removed", len(removed)).Dur("older_than", pruneOlderThan).Msg("Sessions pruned")
		out.Plain("Pruned %d sessions", len(removed))
		return nil
	})
}

func storeLocation(a *app) string {
	switch a.cfg.Store.Driver {
	case session.DriverSQLite:
		return a.cfg.Store.SQLitePath
	case session.DriverRedis:
		return "redis " + a.cfg.Store.Redis.Addr
	default:
		return a.cfg.SessionsDir
	}
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	if d < 0 {
		d = 0
	}
	days := d / (24 * time.Hour)
	d -= days * 24 * time.Hour
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if days > 0 {
		return fmt.Sprintf("%dd%dh", days, h)
	}
	if h > 0 {
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}

func formatBytes(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MiB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KiB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}
