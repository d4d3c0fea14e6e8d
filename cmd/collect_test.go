package cmd

import (
	"context"
	"encoding/csv"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"acs-pipeline/config"
	"acs-pipeline/models"
)

func TestParseLocation(t *testing.T) {
	tests := []struct {
		in   string
		want models.Location
	}{
		{"state=06", models.Location{State: "06"}},
		{"place=palm springs, ca", models.Location{Place: "palm springs, ca"}},
		{"state=ca,place=palm springs", models.Location{State: "ca", Place: "palm springs"}},
		{"county=riverside, ca,place=indio", models.Location{County: "riverside, ca", Place: "indio"}},
		{" State = 06 , metro = 40140 ", models.Location{State: "06", Metro: "40140"}},
		{"city=rancho mirage,state=california", models.Location{State: "california", Place: "rancho mirage"}},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLocation(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseLocationErrors(t *testing.T) {
	for _, in := range []string{"", "06", "zip=92262", "state=", "state=06,state=04"} {
		t.Run(in, func(t *testing.T) {
			_, err := ParseLocation(in)
			assert.Error(t, err)
		})
	}
}

func TestBuildRequestDefaults(t *testing.T) {
	cfg := &config.Config{Estimate: 5}
	req, err := buildRequest(cfg, collectFlags{
		tables:    []string{"S2701"},
		locations: []string{"state=06"},
		from:      2019,
	})
	require.NoError(t, err)

	assert.Equal(t, models.YearRange{Start: 2019, End: 2019}, req.Years)
	assert.Equal(t, models.FiveYear, req.Precision)
	assert.True(t, req.Join)
	assert.Equal(t, []models.Location{{State: "06"}}, req.Locations)
}

func TestBuildRequestRejectsBadEstimate(t *testing.T) {
	_, err := buildRequest(&config.Config{Estimate: 5}, collectFlags{
		tables:    []string{"S2701"},
		locations: []string{"state=06"},
		from:      2019,
		estimate:  2,
	})
	assert.ErrorIs(t, err, models.ErrInvalidPrecision)
}

const uninsuredLabel = "Estimate!!Percent Uninsured!!Civilian noninstitutionalized population"

func censusServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if strings.HasSuffix(r.URL.Path, "/variables.json") {
			_, _ = w.Write([]byte(`{"variables": {"S2701_C05_001E": {"concept": "HEALTH INSURANCE", "label": "` + uninsuredLabel + `"}}}`))
			return
		}
		if r.URL.Query().Get("for") != "state:06" {
			http.Error(w, "unknown geography", http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`[["S2701_C05_001E","NAME","state"],["7.7","California","06"]]`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRunCollectWritesCSV(t *testing.T) {
	srv := censusServer(t)
	dir := t.TempDir()
	out := filepath.Join(dir, "acs.csv")

	cfg := &config.Config{
		BaseURL:           srv.URL,
		Estimate:          5,
		MaxConcurrency:    2,
		MaxRetries:        1,
		RequestTimeoutSec: 5,
		EarliestYear:      2009,
		LatestYear:        2023,
		CatalogDir:        filepath.Join(dir, "tableids"),
		LocationsFile:     filepath.Join(dir, "missing.csv"),
		CSVOutputPath:     out,
		LogLevel:          "error",
	}

	err := runCollect(context.Background(), cfg, collectFlags{
		tables:    []string{"S2701"},
		locations: []string{"state=06"},
		from:      2018,
		to:        2019,
	})
	require.NoError(t, err)

	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)

	require.Len(t, records, 3)
	assert.Equal(t, []string{"year", "HEALTH INSURANCE Estimate Percent Uninsured Civilian noninstitutionalized population", "name", "state", "location_key"}, records[0])
	assert.Equal(t, []string{"2018", "7.7", "California", "06", "state:06"}, records[1])
	assert.Equal(t, "2019", records[2][0])

	_, err = os.Stat(filepath.Join(dir, "tableids", "acs5_subject_2018.json"))
	assert.NoError(t, err, "catalog is cached on disk")
}

func TestRunCollectWritesReadableLocationNames(t *testing.T) {
	srv := censusServer(t)
	dir := t.TempDir()
	out := filepath.Join(dir, "acs.csv")
	locs := filepath.Join(dir, "locations.csv")
	require.NoError(t, os.WriteFile(locs, []byte("kind,name,state,code\nstate,California,06,06\nstate,ca,06,06\n"), 0o644))

	cfg := &config.Config{
		BaseURL:           srv.URL,
		Estimate:          5,
		MaxConcurrency:    2,
		MaxRetries:        1,
		RequestTimeoutSec: 5,
		EarliestYear:      2009,
		LatestYear:        2023,
		CatalogDir:        filepath.Join(dir, "tableids"),
		LocationsFile:     locs,
		CSVOutputPath:     out,
		LogLevel:          "error",
	}

	err := runCollect(context.Background(), cfg, collectFlags{
		tables:    []string{"S2701"},
		locations: []string{"state=ca"},
		from:      2019,
	})
	require.NoError(t, err)

	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)

	require.Len(t, records, 2)
	assert.Equal(t, []string{"2019", "7.7", "California", "california", "california"}, records[1])
}

func TestRunCollectReportsNoData(t *testing.T) {
	srv := censusServer(t)
	dir := t.TempDir()

	cfg := &config.Config{
		BaseURL:           srv.URL,
		Estimate:          5,
		MaxConcurrency:    2,
		MaxRetries:        1,
		RequestTimeoutSec: 5,
		EarliestYear:      2009,
		LatestYear:        2023,
		CatalogDir:        filepath.Join(dir, "tableids"),
		CSVOutputPath:     filepath.Join(dir, "acs.csv"),
		LogLevel:          "error",
	}

	err := runCollect(context.Background(), cfg, collectFlags{
		tables:    []string{"S2701"},
		locations: []string{"state=04"},
		from:      2019,
	})
	assert.ErrorIs(t, err, models.ErrNoData)
}
