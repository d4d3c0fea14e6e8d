package services

import (
	"context"
	"errors"
	"fmt"

	"acs-pipeline/acs"
	"acs-pipeline/models"
	"acs-pipeline/utils"
)

// Fetcher performs one API request. *acs.Session implements it.
type Fetcher interface {
	Fetch(ctx context.Context, spec acs.RequestSpec) (models.RawSeriesResponse, error)
}

// VariableSource provides variable definitions. *acs.Catalog implements it.
type VariableSource interface {
	Load(ctx context.Context, family models.TableFamily, year int, precision models.Precision) (models.Variables, error)
}

// Query selects one table at one location over a range of years.
type Query struct {
	TableID   string
	Family    models.TableFamily
	Location  models.ResolvedLocation
	Names     models.LocationNames
	Years     models.YearRange
	Precision models.Precision
}

// Series is the per-location time series of one table, together with the
// years that could not be collected.
type Series struct {
	TableID  string
	Location models.ResolvedLocation
	Table    *models.ResultTable
	Failures []models.Failure
}

// Aggregator collects one table across a year range, one request per year.
type Aggregator struct {
	builder    *acs.RequestBuilder
	fetcher    Fetcher
	catalog    VariableSource
	reshaper   *Reshaper
	maxWorkers int
	logger     *utils.Logger
}

// NewAggregator wires an Aggregator. maxWorkers bounds the number of
// years in flight at once.
func NewAggregator(builder *acs.RequestBuilder, fetcher Fetcher, catalog VariableSource, maxWorkers int, logger *utils.Logger) *Aggregator {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	return &Aggregator{
		builder:    builder,
		fetcher:    fetcher,
		catalog:    catalog,
		reshaper:   NewReshaper(logger),
		maxWorkers: maxWorkers,
		logger:     logger,
	}
}

type yearResult struct {
	table *models.ResultTable
	err   error
}

// Aggregate dispatches every year concurrently and concatenates the
// results in ascending year order. A failed year is reported in
// Series.Failures without affecting the others; an error is returned only
// when every year failed (the Series is still returned in that case).
func (a *Aggregator) Aggregate(ctx context.Context, q Query) (*Series, error) {
	if !q.Family.Valid() {
		return nil, &models.InvalidTableFamilyError{Value: q.Family.String()}
	}
	years := q.Years.Years()
	if len(years) == 0 {
		return nil, fmt.Errorf("%w: %d-%d", models.ErrInvalidYearRange, q.Years.Start, q.Years.End)
	}

	results := make([]yearResult, len(years))
	pool := utils.NewWorkerPool(a.maxWorkers)
	for i, year := range years {
		pool.Submit(func() {
			table, err := a.collectYear(ctx, q, year)
			results[i] = yearResult{table: table, err: err}
		})
	}
	pool.Wait()

	series := &Series{TableID: q.TableID, Location: q.Location}
	tables := make([]*models.ResultTable, 0, len(years))
	var errs []error
	for i, res := range results {
		if res.err != nil {
			a.logger.Warn("[aggregator] %s %d %s: %v", q.TableID, years[i], q.Location.Key(), res.err)
			series.Failures = append(series.Failures, models.Failure{
				TableID:  q.TableID,
				Year:     years[i],
				Location: q.Location.Key(),
				Err:      res.err,
			})
			errs = append(errs, res.err)
			continue
		}
		tables = append(tables, res.table)
	}

	series.Table = models.Concat(tables...)
	series.Table.SortByYear()

	a.logger.Info("[aggregator] %s %s: %d/%d years collected",
		q.TableID, q.Location.Key(), len(tables), len(years))

	if len(tables) == 0 {
		return series, fmt.Errorf("%w: %s at %s: %w", models.ErrAllYearsFailed, q.TableID, q.Location.Key(), errors.Join(errs...))
	}
	return series, nil
}

func (a *Aggregator) collectYear(ctx context.Context, q Query, year int) (*models.ResultTable, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	spec, err := a.builder.Build(q.TableID, year, q.Location, q.Family, q.Precision)
	if err != nil {
		return nil, err
	}

	raw, err := a.fetcher.Fetch(ctx, spec)
	if err != nil {
		return nil, err
	}

	vars, err := a.catalog.Load(ctx, q.Family, year, q.Precision)
	if err != nil {
		return nil, err
	}

	return a.reshaper.Reshape(raw, vars, year, q.Location, q.Names)
}
