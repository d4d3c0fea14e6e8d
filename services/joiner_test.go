package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"acs-pipeline/locations"
	"acs-pipeline/models"
)

var arizonaState = models.ResolvedLocation{State: "04"}

func newTestJoiner(f *fakeFetcher) *Joiner {
	lookup := locations.NewTable([]locations.Entry{
		{Kind: models.GeoState, Name: "california", Code: "06"},
		{Kind: models.GeoState, Name: "ca", Code: "06"},
		{Kind: models.GeoPlace, Name: "palm springs", State: "06", Code: "55254"},
	})
	agg := newTestAggregator(f, staticCatalog{vars: pipelineVars()})
	return NewJoiner(locations.NewResolver(lookup), agg, JoinerOptions{
		EarliestYear:   2009,
		LatestYear:     2023,
		MaxConcurrency: 4,
	}, newTestLogger())
}

func TestCollectSubjectTableScenario(t *testing.T) {
	f := pipelineFetcher()
	j := newTestJoiner(f)

	coll, err := j.Collect(context.Background(), Request{
		TableIDs:  []string{"S2701"},
		Locations: []models.Location{{State: "06"}},
		Years:     models.YearRange{Start: 2015, End: 2019},
		Join:      true,
	})
	require.NoError(t, err)

	table := coll.Joined
	require.NotNil(t, table)
	assert.Equal(t, []int{2015, 2016, 2017, 2018, 2019}, rowYears(table))
	assert.True(t, table.HasColumn(colUninsured))
	assert.Empty(t, coll.Failures)
}

func TestCollectJoinsTablesOnYearAndState(t *testing.T) {
	j := newTestJoiner(pipelineFetcher())

	coll, err := j.Collect(context.Background(), Request{
		TableIDs:  []string{"S2701", "B01001"},
		Locations: []models.Location{{State: "california"}},
		Years:     models.YearRange{Start: 2019, End: 2019},
		Join:      true,
	})
	require.NoError(t, err)

	table := coll.Joined
	require.Equal(t, 1, table.Len())
	assert.Equal(t, 2019, table.Rows[0].Year)
	assert.Equal(t, "06", table.Rows[0].Location.State)

	v, ok := table.Get(0, colUninsured)
	require.True(t, ok)
	assert.Equal(t, 7.7, v)
	v, ok = table.Get(0, colPopulation)
	require.True(t, ok)
	assert.Equal(t, int64(39283497), v)
}

func TestCollectLeftJoinKeepsRowsMissingFromLaterTables(t *testing.T) {
	f := pipelineFetcher()
	f.fail("B01001", 2019, arizonaState, errors.New("connection reset"))
	j := newTestJoiner(f)

	coll, err := j.Collect(context.Background(), Request{
		TableIDs:  []string{"S2701", "B01001"},
		Locations: []models.Location{{State: "06"}, {State: "04"}},
		Years:     models.YearRange{Start: 2019, End: 2019},
		Join:      true,
	})
	require.NoError(t, err)

	table := coll.Joined
	require.Equal(t, 2, table.Len())
	assert.Equal(t, "06", table.Rows[0].Location.State)
	assert.Equal(t, "04", table.Rows[1].Location.State)

	_, ok := table.Get(0, colPopulation)
	assert.True(t, ok)
	_, ok = table.Get(1, colPopulation)
	assert.False(t, ok, "missing B01001 row leaves its columns empty")
	_, ok = table.Get(1, colUninsured)
	assert.True(t, ok)

	require.Len(t, coll.Failures, 1)
	assert.Equal(t, models.Failure{TableID: "B01001", Year: 2019, Location: "state:04", Err: coll.Failures[0].Err}, coll.Failures[0])
}

func TestCollectFoldsEveryTable(t *testing.T) {
	j := newTestJoiner(pipelineFetcher())

	coll, err := j.Collect(context.Background(), Request{
		TableIDs:  []string{"S2701", "B01001", "B19013"},
		Locations: []models.Location{{State: "06"}},
		Years:     models.YearRange{Start: 2018, End: 2019},
		Join:      true,
	})
	require.NoError(t, err)

	table := coll.Joined
	require.Equal(t, 2, table.Len())
	for i := range table.Rows {
		for _, col := range []string{colUninsured, colPopulation, colIncome} {
			_, ok := table.Get(i, col)
			assert.True(t, ok, "row %d column %q", i, col)
		}
	}
}

func TestCollectWithoutJoinReturnsTablesInOrder(t *testing.T) {
	j := newTestJoiner(pipelineFetcher())

	coll, err := j.Collect(context.Background(), Request{
		TableIDs:  []string{"B01001", "S2701"},
		Locations: []models.Location{{State: "06"}, {Place: "palm springs, ca"}},
		Years:     models.YearRange{Start: 2017, End: 2018},
		Join:      false,
	})
	require.NoError(t, err)
	assert.Nil(t, coll.Joined)

	require.Len(t, coll.Tables, 2)
	assert.Equal(t, "B01001", coll.Tables[0].TableID)
	assert.Equal(t, "S2701", coll.Tables[1].TableID)

	first := coll.Tables[0].Table
	require.Equal(t, 4, first.Len())
	assert.Equal(t, []int{2017, 2017, 2018, 2018}, rowYears(first))
	assert.Equal(t, "california", first.Rows[0].Cells[models.ColumnLocationKey])
	assert.Equal(t, "california palm springs", first.Rows[1].Cells[models.ColumnLocationKey])
	assert.Equal(t, "palm springs", first.Rows[1].Cells["place"])
	assert.Equal(t, "55254", first.Rows[1].Location.Place)
	assert.False(t, first.HasColumn(colUninsured))

	assert.Equal(t, 8, coll.Result().Len())
}

func TestCollectUnresolvableLocationMakesNoRequests(t *testing.T) {
	f := pipelineFetcher()
	j := newTestJoiner(f)

	_, err := j.Collect(context.Background(), Request{
		TableIDs:  []string{"S2701"},
		Locations: []models.Location{{State: "06"}, {Place: "nonexistent city"}},
		Years:     models.YearRange{Start: 2015, End: 2019},
		Join:      true,
	})

	var locErr *models.UnresolvableLocationError
	require.ErrorAs(t, err, &locErr)
	assert.Equal(t, 0, f.callCount())
}

func TestCollectInputValidation(t *testing.T) {
	tests := []struct {
		name string
		req  Request
	}{
		{"unknown table prefix", Request{TableIDs: []string{"X99"}, Locations: []models.Location{{State: "06"}}, Years: models.YearRange{Start: 2019, End: 2019}}},
		{"unknown family name", Request{TableIDs: []string{"S2701"}, Families: []string{"pivot"}, Locations: []models.Location{{State: "06"}}, Years: models.YearRange{Start: 2019, End: 2019}}},
		{"family count mismatch", Request{TableIDs: []string{"S2701", "B01001", "DP05"}, Families: []string{"subject", "detail"}, Locations: []models.Location{{State: "06"}}, Years: models.YearRange{Start: 2019, End: 2019}}},
		{"reversed years", Request{TableIDs: []string{"S2701"}, Locations: []models.Location{{State: "06"}}, Years: models.YearRange{Start: 2019, End: 2015}}},
		{"unpublished year", Request{TableIDs: []string{"S2701"}, Locations: []models.Location{{State: "06"}}, Years: models.YearRange{Start: 2030, End: 2030}}},
		{"bad precision", Request{TableIDs: []string{"S2701"}, Locations: []models.Location{{State: "06"}}, Years: models.YearRange{Start: 2019, End: 2019}, Precision: 4}},
		{"no tables", Request{Locations: []models.Location{{State: "06"}}, Years: models.YearRange{Start: 2019, End: 2019}}},
		{"no locations", Request{TableIDs: []string{"S2701"}, Years: models.YearRange{Start: 2019, End: 2019}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := pipelineFetcher()
			_, err := newTestJoiner(f).Collect(context.Background(), tt.req)
			require.Error(t, err)
			assert.Equal(t, 0, f.callCount())
		})
	}
}

func TestCollectExplicitFamilyOverridesInference(t *testing.T) {
	f := pipelineFetcher()
	j := newTestJoiner(f)

	coll, err := j.Collect(context.Background(), Request{
		TableIDs:  []string{"S2701"},
		Families:  []string{"subject"},
		Locations: []models.Location{{State: "06"}},
		Years:     models.YearRange{Start: 2019, End: 2019},
		Join:      true,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, coll.Joined.Len())
}

func TestCollectReturnsManifestWhenNothingSucceeds(t *testing.T) {
	j := newTestJoiner(pipelineFetcher())

	coll, err := j.Collect(context.Background(), Request{
		TableIDs:  []string{"B99999", "S9999"},
		Locations: []models.Location{{State: "06"}},
		Years:     models.YearRange{Start: 2018, End: 2019},
		Join:      true,
	})
	require.ErrorIs(t, err, models.ErrNoData)
	require.NotNil(t, coll)

	require.Len(t, coll.Failures, 4)
	assert.Equal(t, "B99999", coll.Failures[0].TableID)
	assert.Equal(t, 2018, coll.Failures[0].Year)
	assert.Equal(t, 2019, coll.Failures[1].Year)
	assert.Equal(t, "S9999", coll.Failures[2].TableID)
}
