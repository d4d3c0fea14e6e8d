package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"acs-pipeline/acs"
	"acs-pipeline/config"
	"acs-pipeline/locations"
	"acs-pipeline/models"
	"acs-pipeline/services"
	"acs-pipeline/storage"
	"acs-pipeline/utils"
)

type collectFlags struct {
	tables    []string
	families  []string
	locations []string
	from      int
	to        int
	estimate  int
	noJoin    bool
	out       string
	preview   []string
}

var collectOpts collectFlags

func init() {
	f := collectCmd.Flags()
	f.StringSliceVarP(&collectOpts.tables, "table", "t", nil, "table id, repeatable (S2701, B01001, DP05, ...)")
	f.StringSliceVar(&collectOpts.families, "family", nil, "table family: once for every table or once per table (default: inferred from the id)")
	f.StringArrayVarP(&collectOpts.locations, "location", "l", nil, `location, repeatable: "state=06" or "place=palm springs, ca"`)
	f.IntVar(&collectOpts.from, "from", 0, "first year")
	f.IntVar(&collectOpts.to, "to", 0, "last year (default: --from)")
	f.IntVar(&collectOpts.estimate, "estimate", 0, "estimate period in years (default: ACS_ESTIMATE or 5)")
	f.BoolVar(&collectOpts.noJoin, "no-join", false, "stack tables instead of joining them on year and state")
	f.StringVarP(&collectOpts.out, "out", "o", "", "output CSV path (default: CSV_OUTPUT_PATH)")
	f.StringSliceVar(&collectOpts.preview, "preview", nil, "column to preview in the summary, repeatable")

	_ = collectCmd.MarkFlagRequired("table")
	_ = collectCmd.MarkFlagRequired("location")
	_ = collectCmd.MarkFlagRequired("from")

	rootCmd.AddCommand(collectCmd)
}

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Collects tables for locations over a year range and writes them to CSV.",
	Example: `  acs collect --table S2701 --location "state=06" --from 2015 --to 2019
  acs collect -t S2701 -t B01001 -l "state=ca" -l "place=palm springs, ca" --from 2018 --no-join`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runCollect(ctx, config.Load(), collectOpts)
	},
}

func runCollect(ctx context.Context, cfg *config.Config, opts collectFlags) error {
	logger := utils.NewLoggerWithWriters(utils.ParseLevel(cfg.LogLevel), os.Stdout, os.Stderr)

	req, err := buildRequest(cfg, opts)
	if err != nil {
		return err
	}

	logger.Info("=== ACS collection starting ===")
	logger.Info("Config: tables %s | locations %d | years %d-%d | concurrency %d | rate %dms | attempts %d",
		strings.Join(req.TableIDs, ","), len(req.Locations), req.Years.Start, req.Years.End,
		cfg.MaxConcurrency, cfg.RateLimitMs, cfg.MaxRetries)

	var lookup locations.Lookup
	if table, err := locations.LoadTable(cfg.LocationsFile); err != nil {
		logger.Warn("[locations] %v; only numeric codes will resolve", err)
	} else {
		lookup = table
	}

	sessionCfg := acs.SessionConfig{
		Timeout:     time.Duration(cfg.RequestTimeoutSec) * time.Second,
		MaxAttempts: cfg.MaxRetries,
		BaseDelay:   time.Duration(cfg.RetryBaseDelayMs) * time.Millisecond,
		MinInterval: time.Duration(cfg.RateLimitMs) * time.Millisecond,
		MaxInFlight: cfg.MaxConcurrency,
		Logger:      logger,
	}

	var coll *services.Collection
	collectErr := acs.WithSession(sessionCfg, func(s *acs.Session) error {
		builder := acs.NewRequestBuilder(cfg.BaseURL, cfg.APIKey)
		catalog := acs.NewCatalog(cfg.CatalogDir, builder, s, logger)
		aggregator := services.NewAggregator(builder, s, catalog, cfg.MaxConcurrency, logger)
		joiner := services.NewJoiner(locations.NewResolver(lookup), aggregator, services.JoinerOptions{
			EarliestYear:   cfg.EarliestYear,
			LatestYear:     cfg.LatestYear,
			MaxConcurrency: cfg.MaxConcurrency,
		}, logger)

		var err error
		coll, err = joiner.Collect(ctx, req)
		return err
	})
	if coll == nil {
		return collectErr
	}

	summary := services.NewSummaryService(logger)
	summary.Print(os.Stdout, summary.Generate(coll, opts.preview))

	if errors.Is(collectErr, models.ErrNoData) {
		return collectErr
	}
	if collectErr != nil {
		logger.Warn("[collect] %v", collectErr)
	}

	result := coll.Result()
	if err := writeResult(ctx, cfg, logger, opts.out, result); err != nil {
		return err
	}

	fmt.Printf("  Done. %d rows → %s\n\n", result.Len(), outputPath(cfg, opts.out))
	return nil
}

func buildRequest(cfg *config.Config, opts collectFlags) (services.Request, error) {
	req := services.Request{
		TableIDs: opts.tables,
		Families: opts.families,
		Join:     !opts.noJoin,
	}

	to := opts.to
	if to == 0 {
		to = opts.from
	}
	req.Years = models.YearRange{Start: opts.from, End: to}

	estimate := opts.estimate
	if estimate == 0 {
		estimate = cfg.Estimate
	}
	precision, err := models.ParsePrecision(estimate)
	if err != nil {
		return req, err
	}
	req.Precision = precision

	for _, s := range opts.locations {
		loc, err := ParseLocation(s)
		if err != nil {
			return req, err
		}
		req.Locations = append(req.Locations, loc)
	}
	return req, nil
}

func writeResult(ctx context.Context, cfg *config.Config, logger *utils.Logger, out string, result *models.ResultTable) error {
	writers := make([]storage.ResultWriter, 0, 2)

	csvWriter, err := storage.NewCSVWriter(outputPath(cfg, out))
	if err != nil {
		return err
	}
	writers = append(writers, csvWriter)

	if cfg.PostgresEnabled() {
		pgWriter, err := storage.NewPostgresWriter(ctx, cfg.DSN(), logger)
		if err != nil {
			logger.Error("Failed to connect to PostgreSQL: %v", err)
		} else {
			writers = append(writers, pgWriter)
		}
	}

	var errs []error
	for _, w := range writers {
		if err := w.Write(ctx, result); err != nil {
			errs = append(errs, err)
		}
		if err := w.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func outputPath(cfg *config.Config, out string) string {
	if out != "" {
		return out
	}
	return cfg.CSVOutputPath
}

var locationKeys = map[string]models.GeoKind{
	"state":  models.GeoState,
	"metro":  models.GeoMetro,
	"msa":    models.GeoMetro,
	"county": models.GeoCounty,
	"place":  models.GeoPlace,
	"city":   models.GeoPlace,
}

// ParseLocation reads a location flag of comma-separated key=value
// fields, for example "state=06,place=palm springs, ca". A comma that is
// not followed by a known key belongs to the current value.
func ParseLocation(s string) (models.Location, error) {
	var loc models.Location
	var kind models.GeoKind
	var value strings.Builder

	flush := func() error {
		v := strings.TrimSpace(value.String())
		value.Reset()
		if kind == "" {
			return nil
		}
		if v == "" {
			return fmt.Errorf("location %q: empty %s", s, kind)
		}
		var dst *string
		switch kind {
		case models.GeoState:
			dst = &loc.State
		case models.GeoMetro:
			dst = &loc.Metro
		case models.GeoCounty:
			dst = &loc.County
		case models.GeoPlace:
			dst = &loc.Place
		}
		if *dst != "" {
			return fmt.Errorf("location %q: %s given twice", s, kind)
		}
		*dst = v
		return nil
	}

	for i, part := range strings.Split(s, ",") {
		if k, v, ok := strings.Cut(part, "="); ok {
			if next, known := locationKeys[strings.ToLower(strings.TrimSpace(k))]; known {
				if err := flush(); err != nil {
					return loc, err
				}
				kind = next
				value.WriteString(v)
				continue
			}
		}
		if kind == "" {
			return loc, fmt.Errorf("location %q: expected key=value with key state, metro, county or place", s)
		}
		if i > 0 {
			value.WriteString(",")
		}
		value.WriteString(part)
	}
	if err := flush(); err != nil {
		return loc, err
	}
	if loc == (models.Location{}) {
		return loc, fmt.Errorf("location %q: no fields", s)
	}
	return loc, nil
}
