package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"acs-pipeline/acs"
	"acs-pipeline/models"
)

func newTestAggregator(f Fetcher, c VariableSource) *Aggregator {
	return NewAggregator(acs.NewRequestBuilder("http://census.test/data", "k"), f, c, 4, newTestLogger())
}

func subjectQuery() Query {
	return Query{
		TableID:   "S2701",
		Family:    models.FamilySubject,
		Location:  californiaState,
		Years:     models.YearRange{Start: 2015, End: 2019},
		Precision: models.FiveYear,
	}
}

func TestAggregateOrdersYearsRegardlessOfCompletion(t *testing.T) {
	f := pipelineFetcher()
	f.delay = true
	a := newTestAggregator(f, staticCatalog{vars: pipelineVars()})

	series, err := a.Aggregate(context.Background(), subjectQuery())
	require.NoError(t, err)

	require.Equal(t, 5, series.Table.Len())
	assert.Equal(t, []int{2015, 2016, 2017, 2018, 2019}, rowYears(series.Table))
	assert.Empty(t, series.Failures)
	assert.True(t, series.Table.HasColumn(colUninsured))

	for i := range series.Table.Rows {
		v, ok := series.Table.Get(i, colUninsured)
		require.True(t, ok)
		assert.Equal(t, 7.7, v)
	}
	assert.Equal(t, 5, f.callCount())
}

func TestAggregateReportsPartialFailures(t *testing.T) {
	f := pipelineFetcher()
	f.fail("S2701", 2016, californiaState, errors.New("connection reset"))
	f.fail("S2701", 2018, californiaState, errors.New("connection reset"))
	a := newTestAggregator(f, staticCatalog{vars: pipelineVars()})

	series, err := a.Aggregate(context.Background(), subjectQuery())
	require.NoError(t, err)

	assert.Equal(t, []int{2015, 2017, 2019}, rowYears(series.Table))
	require.Len(t, series.Failures, 2)
	assert.Equal(t, 2016, series.Failures[0].Year)
	assert.Equal(t, 2018, series.Failures[1].Year)
	assert.Equal(t, "S2701", series.Failures[0].TableID)
	assert.Equal(t, "state:06", series.Failures[0].Location)

	var fe *models.FetchFailedError
	assert.ErrorAs(t, series.Failures[0].Err, &fe)
}

func TestAggregateFailsWhenEveryYearFails(t *testing.T) {
	f := pipelineFetcher()
	for y := 2015; y <= 2019; y++ {
		f.fail("S2701", y, californiaState, errors.New("timeout"))
	}
	a := newTestAggregator(f, staticCatalog{vars: pipelineVars()})

	series, err := a.Aggregate(context.Background(), subjectQuery())
	require.ErrorIs(t, err, models.ErrAllYearsFailed)

	var fe *models.FetchFailedError
	assert.ErrorAs(t, err, &fe)
	require.NotNil(t, series)
	assert.Len(t, series.Failures, 5)
	assert.Equal(t, 0, series.Table.Len())
}

func TestAggregateSurfacesCatalogFailures(t *testing.T) {
	a := newTestAggregator(pipelineFetcher(), staticCatalog{err: errors.New("offline")})

	series, err := a.Aggregate(context.Background(), subjectQuery())
	require.Error(t, err)

	var catErr *models.CatalogUnavailableError
	require.ErrorAs(t, series.Failures[0].Err, &catErr)
}

func TestAggregateRejectsInvalidFamilyBeforeFetching(t *testing.T) {
	f := pipelineFetcher()
	a := newTestAggregator(f, staticCatalog{vars: pipelineVars()})

	q := subjectQuery()
	q.Family = models.FamilyUnknown
	_, err := a.Aggregate(context.Background(), q)

	var famErr *models.InvalidTableFamilyError
	require.ErrorAs(t, err, &famErr)
	assert.Equal(t, 0, f.callCount())
}

func rowYears(t *models.ResultTable) []int {
	years := make([]int, 0, t.Len())
	for _, r := range t.Rows {
		years = append(years, r.Year)
	}
	return years
}
