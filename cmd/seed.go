package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/unieasy/places-cli/internal/config"
	"github.com/unieasy/places-cli/internal/monitoring"
	"github.com/unieasy/places-cli/internal/places"
	"github.com/unieasy/places-cli/internal/resilience"
	"github.com/unieasy/places-cli/internal/seed"
	"github.com/unieasy/places-cli/pkg/google"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the places table from Google Places nearby search",
	Long: "Runs one nearby search per category around the configured center, maps the results " +
		"onto app categories and upserts them. Rows flagged on-campus and manually overridden are never modified. " +
		"With --dry-run the intended writes are printed as JSON lines and nothing is written.",
	Example: `  # Preview every category without writing
  places-cli seed --dry-run --verbose

  # Seed a subset around a custom center
  places-cli seed --location "12.9345,77.6069" --radius 2000 --categories restaurant,cafe`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		location, _ := cmd.Flags().GetString("location")
		radius, _ := cmd.Flags().GetInt("radius")
		categories, _ := cmd.Flags().GetString("categories")
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		// Input problems are reported before any network or database activity.
		runCfg, err := buildRunConfig(cfg, location, radius, cmd.Flags().Changed("radius"), categories, dryRun)
		if err != nil {
			return err
		}
		if err := cfg.Validate("seed"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if !dryRun {
			if err := st.Migrate(ctx); err != nil {
				return err
			}
		}

		var preview io.Writer
		if dryRun {
			preview = cmd.OutOrStdout()
		}

		metrics := monitoring.NewRunMetrics()
		runner := seed.NewRunner(
			newFetcher(cfg),
			seed.NewReconciler(st, preview),
			seed.WithRunLog(st),
			seed.WithObserver(metrics),
		)

		started := time.Now()
		tally, runErr := runner.Run(ctx, runCfg)
		metrics.Finish(started, time.Now(), dryRun)

		writeSummary(cmd.ErrOrStderr(), tally, dryRun)
		report(ctx, cfg.Monitoring, metrics, tally, runErr)

		return runErr
	},
}

func init() {
	seedCmd.Flags().String("location", "", `center point as "lat,lng" (default from seed.lat/seed.lng)`)
	seedCmd.Flags().Int("radius", 0, "search radius in metres, capped at seed.max_radius (default from seed.radius)")
	seedCmd.Flags().String("categories", "", "comma-separated Google place types to seed (default: all)")
	seedCmd.Flags().Bool("dry-run", false, "print intended upserts as JSON lines without writing")
	rootCmd.AddCommand(seedCmd)
}

// buildRunConfig validates the command-line inputs against c. Errors are
// *config.ValidationError.
func buildRunConfig(c *config.Config, location string, radius int, radiusSet bool, categories string, dryRun bool) (seed.RunConfig, error) {
	center := places.LatLng{Lat: c.Seed.Lat, Lng: c.Seed.Lng}
	if location != "" {
		loc, err := config.ParseLocation(location)
		if err != nil {
			return seed.RunConfig{}, err
		}
		center = loc
	}

	if !radiusSet {
		radius = c.Seed.Radius
	}
	radius, err := config.ClampRadius(radius, c.Seed.MaxRadius)
	if err != nil {
		return seed.RunConfig{}, err
	}

	tags, err := config.ParseTags(categories)
	if err != nil {
		return seed.RunConfig{}, err
	}

	return seed.RunConfig{
		Tags:   tags,
		Area:   seed.Area{Center: center, Radius: float64(radius)},
		City:   c.Seed.City,
		DryRun: dryRun,
	}, nil
}

func newFetcher(c *config.Config) *seed.Fetcher {
	client := google.NewClient(c.Google.APIKey,
		google.WithBaseURL(c.Google.BaseURL),
		google.WithTimeout(time.Duration(c.Google.TimeoutSecs)*time.Second),
	)

	retry := c.Google.Retry
	policy := resilience.FromConfig(retry.MaxAttempts, retry.InitialWaitMs, retry.MaxWaitMs, retry.RateLimitWaitSecs)

	var limiter *rate.Limiter
	if c.Google.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(c.Google.RateLimit), 1)
	}
	return seed.NewFetcher(client, policy, limiter)
}

// writeSummary prints the run tally. Dry runs report the same shape.
func writeSummary(out io.Writer, t seed.Tally, dryRun bool) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "SEED SUMMARY")
	_, _ = fmt.Fprintf(w, "Fetched:\t%d\n", t.Fetched)
	_, _ = fmt.Fprintf(w, "Inserted:\t%d\n", t.Inserted)
	_, _ = fmt.Fprintf(w, "Updated:\t%d\n", t.Updated)
	_, _ = fmt.Fprintf(w, "Skipped (override):\t%d\n", t.Skipped)
	_, _ = fmt.Fprintf(w, "Errors:\t%d\n", t.Errors)
	if dryRun {
		_, _ = fmt.Fprintln(w, "Dry run: no records were written.")
	}
	_ = w.Flush()
}

// report pushes run metrics and sends alerts. Failures are logged only.
func report(ctx context.Context, mon config.MonitoringConfig, metrics *monitoring.RunMetrics, tally seed.Tally, runErr error) {
	ctx = context.WithoutCancel(ctx)

	if err := metrics.Push(ctx, mon.PushgatewayURL, mon.Job); err != nil {
		zap.L().Warn("metrics push failed", zap.Error(err))
	}

	alerter := monitoring.NewAlerter(mon)
	if alerts := alerter.Evaluate(tally, runErr); len(alerts) > 0 {
		alerter.SendAlerts(ctx, alerts)
	}
}
