package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"acs-pipeline/acs"
	"acs-pipeline/models"
)

// fakeFetcher answers from a canned response per table id. Requests can
// be made to fail per (table, year, location key), and later years answer
// sooner so completion order is the reverse of request order.
type fakeFetcher struct {
	mu       sync.Mutex
	calls    int
	byTable  map[string]models.RawSeriesResponse
	failures map[string]error
	delay    bool
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		byTable:  make(map[string]models.RawSeriesResponse),
		failures: make(map[string]error),
	}
}

func failKey(tableID string, year int, loc models.ResolvedLocation) string {
	return fmt.Sprintf("%s/%d/%s", tableID, year, loc.Key())
}

func (f *fakeFetcher) fail(tableID string, year int, loc models.ResolvedLocation, err error) {
	f.failures[failKey(tableID, year, loc)] = err
}

func (f *fakeFetcher) Fetch(ctx context.Context, spec acs.RequestSpec) (models.RawSeriesResponse, error) {
	f.mu.Lock()
	f.calls++
	raw, ok := f.byTable[spec.TableID]
	err := f.failures[failKey(spec.TableID, spec.Year, spec.Location)]
	f.mu.Unlock()

	if f.delay {
		time.Sleep(time.Duration(2030-spec.Year) * time.Millisecond)
	}
	if err != nil {
		return models.RawSeriesResponse{}, &models.FetchFailedError{Target: spec.Target(), Attempts: 1, Err: err}
	}
	if !ok {
		return models.RawSeriesResponse{}, &models.FetchFailedError{Target: spec.Target(), StatusCode: 404, Attempts: 1, Err: errors.New("no such table")}
	}

	// Echo the requested geography the way the API does.
	ids := append(append([]string(nil), raw.IDs...), "NAME", "state")
	values := append(append([]string(nil), raw.Values...), "Somewhere", spec.Location.State)
	return models.RawSeriesResponse{IDs: ids, Values: values}, nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type staticCatalog struct {
	vars models.Variables
	err  error
}

func (c staticCatalog) Load(ctx context.Context, family models.TableFamily, year int, precision models.Precision) (models.Variables, error) {
	if c.err != nil {
		return nil, &models.CatalogUnavailableError{Family: family, Year: year, Err: c.err}
	}
	return c.vars, nil
}

const (
	colUninsured  = healthConcept + " Estimate Percent Uninsured Civilian noninstitutionalized population"
	colPopulation = "SEX BY AGE Estimate Total"
	colIncome     = "MEDIAN HOUSEHOLD INCOME Estimate Median household income"
)

func pipelineVars() models.Variables {
	vars := healthVars()
	vars["B01001_001E"] = models.Variable{Concept: "SEX BY AGE", Label: "Estimate!!Total"}
	vars["B19013_001E"] = models.Variable{Concept: "MEDIAN HOUSEHOLD INCOME", Label: "Estimate!!Median household income"}
	return vars
}

func pipelineFetcher() *fakeFetcher {
	f := newFakeFetcher()
	f.byTable["S2701"] = models.RawSeriesResponse{
		IDs:    []string{"S2701_C05_001E", "S2701_C05_001M"},
		Values: []string{"7.7", "0.1"},
	}
	f.byTable["B01001"] = models.RawSeriesResponse{
		IDs:    []string{"B01001_001E"},
		Values: []string{"39283497"},
	}
	f.byTable["B19013"] = models.RawSeriesResponse{
		IDs:    []string{"B19013_001E"},
		Values: []string{"75235"},
	}
	return f
}
