package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/iksnae/synthshot/internal"
	"github.com/iksnae/synthshot/internal/export"
	"github.com/iksnae/synthshot/internal/kibana"
	"github.com/spf13/cobra"
)

var (
	reconstructOutput      string
	reconstructFormat      string
	reconstructImageFormat string
	reconstructMetricsFile string
	reconstructNoHistory   bool
)

// reconstructCmd represents the reconstruct command
var reconstructCmd = &cobra.Command{
	Use:   "reconstruct <monitor-id>",
	Short: "Reconstruct the screenshots of a monitor's latest run",
	Long: `Find the latest run of a monitor, rebuild each step's screenshot from its tiles
and write the images plus a manifest to the output directory.

Steps that fail are listed with their reason; the other steps are still written.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd, map[string]string{
			"output.format": "image-format",
			"metrics.file":  "metrics-file",
		})
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		exporter, err := export.NewExporter(reconstructFormat)
		if err != nil {
			return err
		}

		client := kibana.NewClientFromConfig(cfg)
		reconstructor := internal.NewReconstructor(client, cfg.ReconstructorOptions())

		monitorID := args[0]
		var rec *internal.Reconstruction
		err = internal.ShowProgress(cmd.Context(), fmt.Sprintf("Reconstructing %s", monitorID), func() error {
			var runErr error
			rec, runErr = reconstructor.ReconstructRun(cmd.Context(), monitorID)
			return runErr
		})
		if cfg.Metrics.File != "" {
			if mErr := internal.WriteMetricsFile(cfg.Metrics.File); mErr != nil {
				internal.LogWarn("Failed to write metrics: %v", mErr)
			}
		}
		if errors.Is(err, internal.ErrNotFound) {
			internal.PrintInfo("No image data")
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to reconstruct %s: %w", monitorID, err)
		}

		internal.PrintInfo(fmt.Sprintf("Run %s  %s", rec.Run.GroupingKey, internal.FormatRunSummary(rec.Run, time.Now())))

		files, err := writeImages(rec, reconstructOutput)
		if err != nil {
			return err
		}
		internal.PrintStepResults(rec, files)

		manifestPath, err := writeManifest(rec, files, reconstructOutput, exporter)
		if err != nil {
			return err
		}
		internal.LogInfo("Wrote manifest %s", manifestPath)

		if !reconstructNoHistory {
			recordHistory(cmd.Context(), cfg, rec, files)
		}

		if failed := len(rec.Failed()); failed > 0 {
			internal.PrintWarning(fmt.Sprintf("%d of %d step(s) failed", failed, len(rec.Steps)))
		} else {
			internal.PrintSuccess(fmt.Sprintf("Reconstructed %d step(s) to %s", len(rec.Steps), reconstructOutput))
		}
		return nil
	},
}

// writeImages writes each successful step as step_<index>.<ext> and returns the
// written paths by step index
func writeImages(rec *internal.Reconstruction, dir string) (map[int]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	files := make(map[int]string, len(rec.Steps))
	for _, img := range rec.Images() {
		path := filepath.Join(dir, fmt.Sprintf("step_%d.%s", img.StepIndex, internal.Extension(img.Format)))
		if err := os.WriteFile(path, img.Data, 0644); err != nil {
			return nil, &internal.ExportError{Path: path, Err: err}
		}
		files[img.StepIndex] = path
	}
	return files, nil
}

func writeManifest(rec *internal.Reconstruction, files map[int]string, dir string, exporter export.Exporter) (string, error) {
	path := filepath.Join(dir, "manifest."+exporter.Extension())
	f, err := os.Create(path)
	if err != nil {
		return "", &internal.ExportError{Path: path, Err: err}
	}
	defer f.Close()

	if err := exporter.Export(export.NewManifest(rec, files, dir), f); err != nil {
		return "", &internal.ExportError{Path: path, Err: err}
	}
	return path, nil
}

// recordHistory stores the reconstruction. Failures are logged, never fatal.
func recordHistory(ctx context.Context, cfg *internal.Config, rec *internal.Reconstruction, files map[int]string) {
	history, closeHistory, err := openHistory(cfg)
	if err != nil {
		internal.LogWarn("%v", err)
		return
	}
	defer closeHistory()
	if history == nil {
		return
	}

	abs := make(map[int]string, len(files))
	for idx, path := range files {
		if p, err := filepath.Abs(path); err == nil {
			path = p
		}
		abs[idx] = path
	}
	if err := history.Record(ctx, rec, abs); err != nil {
		internal.LogWarn("Failed to record history: %v", err)
	}
}

func init() {
	rootCmd.AddCommand(reconstructCmd)
	reconstructCmd.Flags().StringVarP(&reconstructOutput, "out", "o", "./screenshots", "Output directory")
	reconstructCmd.Flags().StringVarP(&reconstructFormat, "format", "f", "json", "Manifest format: json, jsonl, md, yaml")
	reconstructCmd.Flags().StringVar(&reconstructImageFormat, "image-format", "", "Image format: jpeg, png (default from config)")
	reconstructCmd.Flags().StringVar(&reconstructMetricsFile, "metrics-file", "", "Write Prometheus metrics to this file")
	reconstructCmd.Flags().BoolVar(&reconstructNoHistory, "no-history", false, "Do not record this reconstruction in history")
}
