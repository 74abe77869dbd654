package cmd

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"
	"github.com/iksnae/synthshot/internal"
	"github.com/iksnae/synthshot/internal/kibana"
	"github.com/spf13/cobra"
)

var (
	// Styles
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("62")).
			Padding(0, 1)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212"))

	idStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("240")).
		Italic(true)

	countStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)

	dateStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	typeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("135")).
			Italic(true)
)

var monitorsCmd = &cobra.Command{
	Use:     "monitors",
	Aliases: []string{"list"},
	Short:   "List synthetic monitors",
	Long:    `List Fleet-managed and service-managed synthetic monitors with their latest status.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd, nil)
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		client := kibana.NewClientFromConfig(cfg)
		var monitors []kibana.Monitor
		err = internal.ShowProgress(cmd.Context(), "Loading monitors", func() error {
			var listErr error
			monitors, listErr = client.ListMonitors(cmd.Context())
			return listErr
		})
		if err != nil {
			return fmt.Errorf("failed to list monitors: %w", err)
		}

		displayMonitors(cmd.OutOrStdout(), monitors)
		return nil
	},
}

func displayMonitors(out io.Writer, monitors []kibana.Monitor) {
	if len(monitors) == 0 {
		fmt.Fprintln(out, headerStyle.Render("📋 No monitors found"))
		return
	}

	fmt.Fprintln(out, headerStyle.Render(fmt.Sprintf("📋 Found %d monitor(s)", len(monitors))))
	fmt.Fprintln(out)

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	_, _ = fmt.Fprintln(w, titleStyle.Render("ID")+"\t"+titleStyle.Render("Name")+"\t"+titleStyle.Render("Type")+"\t"+titleStyle.Render("Status")+"\t")
	_, _ = fmt.Fprintln(w, strings.Repeat("─", 90))

	for _, m := range monitors {
		name := m.Name
		if name == "" {
			name = "Untitled"
		}
		if len(name) > 50 {
			name = name[:47] + "..."
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t\n",
			idStyle.Render(m.ID),
			lipgloss.NewStyle().Foreground(lipgloss.Color("255")).Render(name),
			typeStyle.Render(m.Type),
			renderStatus(m.Status))
	}

	_ = w.Flush()
	fmt.Fprintln(out)
	fmt.Fprintln(out, idStyle.Render("💡 Tip: Use the ID with `synthshot reconstruct ")+
		lipgloss.NewStyle().Foreground(lipgloss.Color("62")).Render(monitors[0].ID)+
		idStyle.Render("`"))
}

func renderStatus(status string) string {
	switch status {
	case "up":
		return countStyle.Render(status)
	case "down":
		return errorStyle.Render(status)
	default:
		return dateStyle.Render(status)
	}
}

func init() {
	rootCmd.AddCommand(monitorsCmd)
}
