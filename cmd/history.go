package cmd

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/iksnae/synthshot/internal"
	"github.com/spf13/cobra"
)

var (
	historyMonitor string
	historyLimit   int
	historySteps   bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show past reconstructions",
	Long:  `List reconstructions recorded by "synthshot reconstruct" and "synthshot serve", newest first.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd, nil)
		if err != nil {
			return err
		}
		if !cfg.History.Enabled {
			return fmt.Errorf("history is disabled (history.enabled=false)")
		}

		history, closeHistory, err := openHistory(cfg)
		if err != nil {
			return err
		}
		defer closeHistory()

		entries, err := history.List(cmd.Context(), historyMonitor, historyLimit)
		if err != nil {
			return fmt.Errorf("failed to list history: %w", err)
		}
		if historySteps {
			for i := range entries {
				steps, err := history.Steps(cmd.Context(), entries[i].ID)
				if err != nil {
					return fmt.Errorf("failed to load steps of %s: %w", entries[i].ID, err)
				}
				entries[i].Steps = steps
			}
		}

		displayHistory(cmd.OutOrStdout(), entries, time.Now())
		return nil
	},
}

func displayHistory(out io.Writer, entries []internal.HistoryEntry, now time.Time) {
	if len(entries) == 0 {
		fmt.Fprintln(out, headerStyle.Render("📋 No reconstructions recorded"))
		return
	}

	fmt.Fprintln(out, headerStyle.Render(fmt.Sprintf("📋 %d reconstruction(s)", len(entries))))
	fmt.Fprintln(out)

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	_, _ = fmt.Fprintln(w, titleStyle.Render("Monitor")+"\t"+titleStyle.Render("Run")+"\t"+titleStyle.Render("Steps")+"\t"+titleStyle.Render("Failed")+"\t"+titleStyle.Render("Took")+"\t"+titleStyle.Render("Recorded")+"\t")
	_, _ = fmt.Fprintln(w, strings.Repeat("─", 100))

	for _, e := range entries {
		failed := dateStyle.Render("0")
		if e.FailedCount > 0 {
			failed = errorStyle.Render(strconv.Itoa(e.FailedCount))
		}
		run := internal.Run{GroupingKey: e.GroupingKey, DurationMicros: e.DurationMicros, StartedAt: e.StartedAt}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t\n",
			idStyle.Render(e.MonitorID),
			e.GroupingKey,
			countStyle.Render(strconv.Itoa(e.StepCount)),
			failed,
			fmt.Sprintf("%ds", run.DurationSeconds()),
			dateStyle.Render(internal.FormatTimestamp(e.CreatedAt, now)))

		for _, s := range e.Steps {
			detail := s.OutputPath
			if s.Status != "ok" {
				detail = errorStyle.Render(s.Status) + " " + s.Error
			}
			_, _ = fmt.Fprintf(w, "\t  step %d\t%s\t\t\t\t\n", s.StepIndex, detail)
		}
	}
	_ = w.Flush()
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().StringVarP(&historyMonitor, "monitor", "m", "", "Only show this monitor")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Maximum number of entries")
	historyCmd.Flags().BoolVar(&historySteps, "steps", false, "Include per-step outcomes")
}
