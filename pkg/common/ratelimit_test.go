package common

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendPacer_BurstThenWait(t *testing.T) {
	p := NewSendPacer(1000, 2)
	ctx := context.Background()

	start := time.Now()
	for range 4 {
		_, err := p.Wait(ctx, "EMAIL")
		require.NoError(t, err)
	}
	assert.Less(t, time.Since(start), time.Second)
}

func TestSendPacer_ChannelsHaveSeparateBuckets(t *testing.T) {
	p := NewSendPacer(0.001, 1)
	_, err := p.Wait(context.Background(), "EMAIL")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = p.Wait(ctx, "EMAIL")
	assert.Error(t, err, "EMAIL bucket is drained")

	waited, err := p.Wait(context.Background(), "PORTAL")
	require.NoError(t, err)
	assert.Less(t, waited, time.Second)
}

func TestSendPacer_NonPositiveRateIsUnlimited(t *testing.T) {
	p := NewSendPacer(0, 0)
	for range 100 {
		_, err := p.Wait(context.Background(), "EMAIL")
		require.NoError(t, err)
	}
}

func TestMetricsServer_ServesRegistry(t *testing.T) {
	srv := NewMetricsServer(":0")
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
