package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/iksnae/synthshot/internal"
	"github.com/iksnae/synthshot/internal/kibana"
	"github.com/spf13/cobra"
)

var (
	healthcheckVerbose bool
	healthcheckTimeout time.Duration
)

var (
	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39"))

	sectionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("62")).
			Bold(true).
			Underline(true)
)

var errHealthcheckFailed = errors.New("health check failed")

// healthcheckCmd represents the healthcheck command
var healthcheckCmd = &cobra.Command{
	Use:   "healthcheck",
	Short: "Check that synthshot can reach the monitoring API",
	Long: `Check the health of synthshot by verifying:
  • Configuration loading and validation
  • Kibana reachability and API key
  • History database access

This command is useful for debugging connectivity issues, especially in CI/CD environments.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		line := func(a ...interface{}) { fmt.Fprintln(out, a...) }
		detail := func(format string, a ...interface{}) {
			if healthcheckVerbose {
				fmt.Fprintf(out, "   "+format+"\n", a...)
			}
		}

		line(sectionStyle.Render("🔍 synthshot Health Check"))
		line()

		// Step 1: Load configuration
		line(infoStyle.Render("Step 1: Loading configuration..."))
		cfg, err := loadConfig(cmd, nil)
		if err != nil {
			line(errorStyle.Render("❌ Failed to load configuration:"), err)
			return errHealthcheckFailed
		}
		if err := cfg.Validate(); err != nil {
			line(errorStyle.Render("❌ Invalid configuration:"), err)
			return errHealthcheckFailed
		}
		line(successStyle.Render("✅ Configuration valid"))
		detail("Kibana URL: %s", cfg.Kibana.URL)
		detail("Lookback: %s", cfg.Lookback)
		detail("Output format: %s", cfg.Output.Format)
		line()

		// Step 2: Contact Kibana
		line(infoStyle.Render("Step 2: Contacting Kibana..."))
		ctx, cancel := context.WithTimeout(cmd.Context(), healthcheckTimeout)
		defer cancel()
		status, err := kibana.NewClientFromConfig(cfg).Status(ctx)
		if err != nil {
			line(errorStyle.Render("❌ Kibana is not reachable"))
			line()
			line("Error details:")
			line(err)
			var apiErr *internal.APIError
			if errors.As(err, &apiErr) && (apiErr.Status == 401 || apiErr.Status == 403) {
				line()
				line(warningStyle.Render("💡 Check the API key (SYNTHSHOT_KIBANA_API_KEY or --api-key)"))
			}
			return errHealthcheckFailed
		}
		line(successStyle.Render(fmt.Sprintf("✅ Connected to %s", status.Name)))
		detail("Version: %s", status.Version)
		detail("Status: %s", status.Level)
		if status.Level != "" && status.Level != "available" && status.Level != "green" {
			line(warningStyle.Render(fmt.Sprintf("⚠️  Kibana reports status %q", status.Level)))
		}
		line()

		// Step 3: History database
		line(infoStyle.Render("Step 3: Checking history database..."))
		if !cfg.History.Enabled {
			line(warningStyle.Render("⚠️  History disabled"))
		} else {
			history, closeHistory, err := openHistory(cfg)
			if err != nil {
				line(errorStyle.Render("❌ Failed to open history database:"), err)
				return errHealthcheckFailed
			}
			entries, err := history.List(ctx, "", 1)
			closeHistory()
			if err != nil {
				line(errorStyle.Render("❌ Failed to read history database:"), err)
				return errHealthcheckFailed
			}
			line(successStyle.Render("✅ History database accessible"))
			detail("Path: %s", cfg.History.Path)
			if len(entries) > 0 {
				detail("Last reconstruction: %s", internal.FormatTimestamp(entries[0].CreatedAt, time.Now()))
			}
		}
		line()

		line(successStyle.Render("✅ All checks passed"))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(healthcheckCmd)
	healthcheckCmd.Flags().BoolVarP(&healthcheckVerbose, "verbose", "v", false, "Show detailed information")
	healthcheckCmd.Flags().DurationVar(&healthcheckTimeout, "timeout", 10*time.Second, "Timeout for contacting Kibana")
}
