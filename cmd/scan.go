package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/sells-group/lead-scanner/internal/export"
	"github.com/sells-group/lead-scanner/internal/job"
	"github.com/sells-group/lead-scanner/internal/model"
)

var (
	scanLocations  []string
	scanTypes      []string
	scanMaxResults int
	scanMaxAge     int
	scanFormat     string
	scanOutput     string
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run a single scan in the foreground and print the scored leads",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		format, err := parseFormat(scanFormat)
		if err != nil {
			return err
		}

		env, err := initEnv(ctx, cfg, "scan")
		if err != nil {
			return err
		}
		defer env.Close()

		params := scanParams(env.Defaults, cmd.Flags())
		id, err := env.Manager.Submit(params)
		if err != nil {
			return err
		}
		log := zap.L().With(zap.String("job_id", id))
		log.Info("scan submitted",
			zap.Strings("location", params.Location),
			zap.Strings("business_types", params.BusinessTypes),
		)

		snap, err := waitJob(ctx, env, id)
		if err != nil {
			return err
		}
		if err := env.Manager.Shutdown(context.Background()); err != nil {
			zap.L().Warn("job manager shutdown", zap.Error(err))
		}

		log.Info("scan finished",
			zap.String("state", string(snap.State)),
			zap.Int("leads", len(snap.Results)),
			zap.Int("items_scanned", snap.Progress.ItemsScanned),
		)
		if snap.State == job.StateFailed {
			return eris.Errorf("scan failed: %s", snap.Error)
		}

		return writeResults(snap, format, scanOutput, cmd.OutOrStdout())
	},
}

// waitJob blocks until the job finishes. An interrupt cancels the job and
// still waits so partial results are printed.
func waitJob(ctx context.Context, env *scanEnv, id string) (job.Snapshot, error) {
	done, err := env.Manager.Done(id)
	if err != nil {
		return job.Snapshot{}, err
	}
	select {
	case <-done:
	case <-ctx.Done():
		zap.L().Info("interrupted, cancelling scan", zap.String("job_id", id))
		if err := env.Manager.Cancel(id); err != nil {
			return job.Snapshot{}, err
		}
		<-done
	}
	return env.Manager.Status(id)
}

func parseFormat(name string) (export.Format, error) {
	formats, err := export.ParseFormats([]string{name})
	if err != nil {
		return "", err
	}
	if len(formats) != 1 {
		return "", eris.Errorf("exactly one output format required, got %q", name)
	}
	return formats[0], nil
}

// scanParams overlays flags the user actually set onto defaults.
func scanParams(defaults model.SearchParams, flags *pflag.FlagSet) model.SearchParams {
	p := defaults.Clone()
	if flags.Changed("location") {
		p.Location = append([]string(nil), scanLocations...)
	}
	if flags.Changed("types") {
		p.BusinessTypes = append([]string(nil), scanTypes...)
	}
	if flags.Changed("max-results") {
		p.MaxResults = scanMaxResults
	}
	if flags.Changed("max-age-days") {
		p.MaxAgeDays = scanMaxAge
	}
	return p
}

func writeResults(snap job.Snapshot, format export.Format, path string, stdout io.Writer) error {
	data, err := export.Render(format, snap)
	if err != nil {
		return err
	}
	if path == "" || path == "-" {
		_, err = stdout.Write(data)
		return eris.Wrap(err, "write results")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return eris.Wrapf(err, "write results to %s", path)
	}
	zap.L().Info("results written", zap.String("path", path), zap.Int("bytes", len(data)))
	return nil
}

func init() {
	scanCmd.Flags().StringSliceVar(&scanLocations, "location", nil, "locations to scan (default from config)")
	scanCmd.Flags().StringSliceVar(&scanTypes, "types", nil, "business types to scan (default from config)")
	scanCmd.Flags().IntVar(&scanMaxResults, "max-results", 0, "max results per source and business type")
	scanCmd.Flags().IntVar(&scanMaxAge, "max-age-days", 0, "ignore items older than this many days")
	scanCmd.Flags().StringVar(&scanFormat, "format", "csv", "output format: csv, json or xlsx")
	scanCmd.Flags().StringVarP(&scanOutput, "output", "o", "", "output file (default stdout)")
	rootCmd.AddCommand(scanCmd)
}
