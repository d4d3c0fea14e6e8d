package services

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"acs-pipeline/locations"
	"acs-pipeline/models"
	"acs-pipeline/utils"
)

// Request describes a collection across tables, locations and years.
type Request struct {
	TableIDs []string
	// Families is either empty (infer every family from its table id),
	// a single entry applied to every table, or one entry per table.
	// Empty entries are inferred.
	Families  []string
	Locations []models.Location
	Years     models.YearRange
	// Precision defaults to the 5-year estimates when zero.
	Precision models.Precision
	Join      bool
}

// NamedTable is one table's result when tables are not joined.
type NamedTable struct {
	TableID string
	Table   *models.ResultTable
}

// Collection is the outcome of Collect: the data that could be collected
// and a manifest of every (table, year, location) that could not.
type Collection struct {
	Joined   *models.ResultTable
	Tables   []NamedTable
	Failures []models.Failure
}

// Result returns the joined table, or the per-table results stacked in
// table order when the collection was not joined.
func (c *Collection) Result() *models.ResultTable {
	if c.Joined != nil {
		return c.Joined
	}
	tables := make([]*models.ResultTable, 0, len(c.Tables))
	for _, nt := range c.Tables {
		tables = append(tables, nt.Table)
	}
	return models.Concat(tables...)
}

// JoinerOptions bounds the years a request may ask for and the number of
// (table, location) series collected at once.
type JoinerOptions struct {
	EarliestYear   int
	LatestYear     int
	MaxConcurrency int
}

// Joiner drives an Aggregator across every table and location of a
// Request and combines the results.
type Joiner struct {
	resolver   *locations.Resolver
	aggregator *Aggregator
	opts       JoinerOptions
	logger     *utils.Logger
}

// NewJoiner wires a Joiner.
func NewJoiner(resolver *locations.Resolver, aggregator *Aggregator, opts JoinerOptions, logger *utils.Logger) *Joiner {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	if opts.MaxConcurrency < 1 {
		opts.MaxConcurrency = 1
	}
	return &Joiner{resolver: resolver, aggregator: aggregator, opts: opts, logger: logger}
}

// Collect validates the request, fetches every table × location series
// concurrently and combines them.
//
// Input problems (year range, table family, location) abort before any
// request is made. Per-request failures end up in Collection.Failures.
// With Join, each location's tables are folded into the first table by a
// left join on (year, state); locations are then stacked in request
// order. Rows are ordered by year, then by location order. ErrNoData is
// returned alongside the Collection when nothing at all was collected.
func (j *Joiner) Collect(ctx context.Context, req Request) (*Collection, error) {
	if len(req.TableIDs) == 0 {
		return nil, errors.New("collect: no table ids")
	}
	if len(req.Locations) == 0 {
		return nil, errors.New("collect: no locations")
	}
	if err := req.Years.Validate(j.opts.EarliestYear, j.opts.LatestYear); err != nil {
		return nil, fmt.Errorf("collect: %w", err)
	}

	precision := req.Precision
	if precision == 0 {
		precision = models.FiveYear
	}
	if _, err := models.ParsePrecision(int(precision)); err != nil {
		return nil, fmt.Errorf("collect: %w", err)
	}

	families, err := resolveFamilies(req.TableIDs, req.Families)
	if err != nil {
		return nil, fmt.Errorf("collect: %w", err)
	}

	resolved := make([]models.ResolvedLocation, len(req.Locations))
	names := make([]models.LocationNames, len(req.Locations))
	for i, loc := range req.Locations {
		r, err := j.resolver.Resolve(loc)
		if err != nil {
			return nil, fmt.Errorf("collect: %w", err)
		}
		resolved[i] = r
		names[i] = j.resolver.Names(r)
	}

	grid := make([][]*Series, len(req.TableIDs))
	for t := range grid {
		grid[t] = make([]*Series, len(resolved))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(j.opts.MaxConcurrency)
	for t, tableID := range req.TableIDs {
		for l, loc := range resolved {
			g.Go(func() error {
				q := Query{
					TableID:   tableID,
					Family:    families[t],
					Location:  loc,
					Names:     names[l],
					Years:     req.Years,
					Precision: precision,
				}
				series, err := j.aggregator.Aggregate(gctx, q)
				if series == nil {
					series = &Series{TableID: tableID, Location: loc, Table: models.NewTable()}
					for _, y := range req.Years.Years() {
						series.Failures = append(series.Failures, models.Failure{
							TableID: tableID, Year: y, Location: loc.Key(), Err: err,
						})
					}
				}
				if err != nil {
					j.logger.Warn("[joiner] %s at %s: %v", tableID, loc.Key(), err)
				}
				grid[t][l] = series
				// a failed series never cancels its siblings
				return nil
			})
		}
	}
	_ = g.Wait()

	coll := &Collection{}
	for t := range grid {
		for l := range grid[t] {
			coll.Failures = append(coll.Failures, grid[t][l].Failures...)
		}
	}

	if req.Join {
		perLocation := make([]*models.ResultTable, len(resolved))
		for l := range resolved {
			joined := grid[0][l].Table
			for t := 1; t < len(grid); t++ {
				joined = models.LeftJoin(joined, grid[t][l].Table)
			}
			perLocation[l] = joined
		}
		coll.Joined = models.Concat(perLocation...)
		coll.Joined.SortByYear()
	} else {
		for t, tableID := range req.TableIDs {
			stacked := make([]*models.ResultTable, len(resolved))
			for l := range resolved {
				stacked[l] = grid[t][l].Table
			}
			table := models.Concat(stacked...)
			table.SortByYear()
			coll.Tables = append(coll.Tables, NamedTable{TableID: tableID, Table: table})
		}
	}

	j.logger.Info("[joiner] collected %d table(s) × %d location(s) × %d year(s): %d failure(s)",
		len(req.TableIDs), len(resolved), len(req.Years.Years()), len(coll.Failures))

	if coll.Result().Len() == 0 {
		return coll, models.ErrNoData
	}
	return coll, nil
}

func resolveFamilies(tableIDs, names []string) ([]models.TableFamily, error) {
	switch {
	case len(names) == 0:
	case len(names) == 1:
		names = repeat(names[0], len(tableIDs))
	case len(names) != len(tableIDs):
		return nil, fmt.Errorf("%d table families given for %d tables", len(names), len(tableIDs))
	}

	families := make([]models.TableFamily, len(tableIDs))
	for i, id := range tableIDs {
		var (
			f   models.TableFamily
			err error
		)
		if len(names) == 0 || names[i] == "" {
			f, err = models.InferTableFamily(id)
		} else {
			f, err = models.ParseTableFamily(names[i])
		}
		if err != nil {
			return nil, err
		}
		families[i] = f
	}
	return families, nil
}

func repeat(s string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = s
	}
	return out
}
