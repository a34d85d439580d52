package postgres

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"steel-siting/pkg/api"
)

func TestRunRecordKey(t *testing.T) {
	rec := RunRecord{Year: 2030, Region: "europe", Percentile: 15}
	assert.Equal(t, api.RunKey{Year: 2030, Region: "europe", Percentile: 15}, rec.Key())
}

// TestLedgerRoundTrip runs against a live database when
// STEELSITE_TEST_POSTGRES_DSN is set.
func TestLedgerRoundTrip(t *testing.T) {
	dsn := os.Getenv("STEELSITE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("STEELSITE_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	l, err := Open(ctx, dsn)
	require.NoError(t, err)
	defer l.Close()
	require.NoError(t, l.EnsureSchema(ctx))

	key := api.RunKey{Year: 2030, Region: "ledger-test", Percentile: 15}
	id, err := l.Start(ctx, key)
	require.NoError(t, err)

	rec, err := l.Latest(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, id, rec.ID)
	assert.Equal(t, StatusRunning, rec.Status)
	assert.Nil(t, rec.FinishedAt)

	require.NoError(t, l.Finish(ctx, id, StatusSucceeded, 10, 0, errors.New("boom")))
	rec, err = l.Latest(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, rec.Status)
	assert.Equal(t, "boom", rec.Error)
	assert.NotNil(t, rec.FinishedAt)
}
