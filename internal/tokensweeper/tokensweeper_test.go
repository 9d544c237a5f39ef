package tokensweeper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/patric-chuzhbe/geoplaces/internal/db/memorystorage"
	"github.com/patric-chuzhbe/geoplaces/internal/mockstorage"
	"github.com/patric-chuzhbe/geoplaces/internal/models"
)

func TestSweepRemovesOnlyExpired(t *testing.T) {
	db, err := memorystorage.New()
	require.NoError(t, err)

	ctx := context.Background()
	now := time.Now()
	require.NoError(t, db.RevokeToken(ctx, models.RevokedToken{ID: "old", UserID: 1, ExpiresAt: now.Add(-time.Hour)}))
	require.NoError(t, db.RevokeToken(ctx, models.RevokedToken{ID: "fresh", UserID: 1, ExpiresAt: now.Add(time.Hour)}))

	sweeper := New(db, time.Hour, 1)
	purged, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)

	revoked, err := db.IsTokenRevoked(ctx, "fresh")
	require.NoError(t, err)
	assert.True(t, revoked)

	revoked, err = db.IsTokenRevoked(ctx, "old")
	require.NoError(t, err)
	assert.False(t, revoked)
}

func TestRunReportsErrorsAndStops(t *testing.T) {
	db := new(mockstorage.StorageMock)
	db.On("PurgeExpiredTokens", mock.Anything, mock.AnythingOfType("time.Time")).
		Return(int64(0), errors.New("db is down"))

	sweeper := New(db, 10*time.Millisecond, 4)

	received := make(chan error, 4)
	sweeper.ListenErrors(func(err error) {
		select {
		case received <- err:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	sweeper.Run(ctx)

	select {
	case err := <-received:
		assert.EqualError(t, err, "db is down")
	case <-time.After(2 * time.Second):
		t.Fatal("no sweep error was reported")
	}

	cancel()
	select {
	case <-sweeper.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop")
	}
}
