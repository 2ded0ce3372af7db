package cmd

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/reviewsignal/collector/internal/config"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	return cfg
}

func TestBuildApplicationWithDefaults(t *testing.T) {
	cfg := testConfig(t)

	app, err := buildApplication(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer app.Close()

	assert.NotNil(t, app.orchestrator)
	assert.NotNil(t, app.store)
	assert.Nil(t, app.publisher)
	assert.Nil(t, app.headlessFetcher)
}

func TestBuildApplicationRejectsUnknownBackends(t *testing.T) {
	cfg := testConfig(t)
	cfg.DB.Driver = "sqlite"

	_, err := buildApplication(context.Background(), cfg, zap.NewNop())
	assert.Error(t, err)

	cfg = testConfig(t)
	cfg.Archive.Backend = "s3"
	_, err = buildApplication(context.Background(), cfg, zap.NewNop())
	assert.Error(t, err)
}

func TestParseDateRange(t *testing.T) {
	dates, err := parseDateRange("", "")
	require.NoError(t, err)
	assert.Nil(t, dates)

	dates, err = parseDateRange("2024-01-01", "2024-06-30")
	require.NoError(t, err)
	require.NotNil(t, dates)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), *dates.From)
	assert.True(t, dates.To.After(time.Date(2024, 6, 30, 23, 59, 59, 0, time.UTC)))

	_, err = parseDateRange("2024-06-01", "2024-01-01")
	assert.Error(t, err)

	_, err = parseDateRange("junk", "")
	assert.Error(t, err)
}
