package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/pomotimer/pomoledger/internal/db"
	"github.com/pomotimer/pomoledger/internal/insights"
	"github.com/pomotimer/pomoledger/internal/rollup"
)

func newRecordCmd() *cobra.Command {
	var kind string
	var duration time.Duration
	var cycle bool

	cmd := &cobra.Command{
		Use:   "record --duration <d>",
		Short: "Record a completed session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, database, err := openStore(cmd.Flags())
			if err != nil {
				return err
			}
			defer database.Close()

			id, err := database.Append(
				cmd.Context(), db.Kind(kind),
				duration.Milliseconds(), cycle,
			)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(),
				"recorded session %d: %s %s\n", id, kind, duration)
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", string(db.KindFocus), "session kind: focus|break")
	cmd.Flags().DurationVar(&duration, "duration", 0, "session length, e.g. 25m")
	cmd.Flags().BoolVar(&cycle, "cycle", false, "the session completed a pomodoro cycle")
	return cmd
}

func newSessionsCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List recent sessions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, database, err := openStore(cmd.Flags())
			if err != nil {
				return err
			}
			defer database.Close()

			sessions, err := database.ListSessions(cmd.Context(), limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(sessions) == 0 {
				_, _ = fmt.Fprintln(out, "no sessions")
				return nil
			}
			loc, err := cfg.Location()
			if err != nil {
				return err
			}
			return printSessions(out, sessions, loc)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of sessions")
	return cmd
}

func printSessions(
	w io.Writer, sessions []db.Session, loc *time.Location,
) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tOCCURRED\tKIND\tDURATION\tCYCLE")
	for _, s := range sessions {
		cycle := ""
		if s.CycleCompleted {
			cycle = "yes"
		}
		_, _ = fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n",
			s.ID, s.OccurredAt.In(loc).Format("2006-01-02 15:04:05"),
			s.Kind, time.Duration(s.DurationMs)*time.Millisecond,
			cycle,
		)
	}
	return tw.Flush()
}

func newInsightsCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "insights",
		Short: "Print today's, the last 7 days' and lifetime totals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := checkOutput(output); err != nil {
				return err
			}
			cfg, database, err := openStore(cmd.Flags())
			if err != nil {
				return err
			}
			defer database.Close()

			loc, err := cfg.Location()
			if err != nil {
				return err
			}
			svc := insights.NewService(rollup.New(database, loc))
			snap, err := svc.Snapshot(cmd.Context())
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), output, snap)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "json", "output format: json|yaml")
	return cmd
}

func checkOutput(format string) error {
	switch format {
	case "json", "yaml":
		return nil
	}
	return fmt.Errorf("unknown output %q: want json or yaml", format)
}

// render writes v as indented JSON or YAML.
func render(w io.Writer, format string, v any) error {
	if err := checkOutput(format); err != nil {
		return err
	}
	if format == "yaml" {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("encoding yaml: %w", err)
		}
		return enc.Close()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newConfigCmd() *cobra.Command {
	cfgCmd := &cobra.Command{Use: "config", Short: "Timer phase durations"}

	var output string
	get := &cobra.Command{
		Use:   "get",
		Short: "Show the phase durations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := checkOutput(output); err != nil {
				return err
			}
			_, database, err := openStore(cmd.Flags())
			if err != nil {
				return err
			}
			defer database.Close()
			return render(cmd.OutOrStdout(), output, database.GetPhaseConfig())
		},
	}
	get.Flags().StringVarP(&output, "output", "o", "json", "output format: json|yaml")

	var focus, shortBreak, longBreak time.Duration
	set := &cobra.Command{
		Use:   "set",
		Short: "Change one or more phase durations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var u db.PhaseUpdate
			fs := cmd.Flags()
			for _, f := range []struct {
				name string
				v    time.Duration
				dst  **int64
			}{
				{"focus", focus, &u.FocusMs},
				{"short-break", shortBreak, &u.ShortBreakMs},
				{"long-break", longBreak, &u.LongBreakMs},
			} {
				if fs.Changed(f.name) {
					ms := f.v.Milliseconds()
					*f.dst = &ms
				}
			}
			if u.Empty() {
				return errors.New("nothing to set: pass --focus, --short-break or --long-break")
			}

			_, database, err := openStore(fs)
			if err != nil {
				return err
			}
			defer database.Close()

			merged, err := database.UpdatePhaseConfig(cmd.Context(), u)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), "json", merged)
		},
	}
	set.Flags().DurationVar(&focus, "focus", 0, "focus phase length")
	set.Flags().DurationVar(&shortBreak, "short-break", 0, "short break length")
	set.Flags().DurationVar(&longBreak, "long-break", 0, "long break length")

	cfgCmd.AddCommand(get, set)
	return cfgCmd
}
