package control

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/transync/internal/core/config"
	"github.com/vietddude/transync/internal/core/domain"
)

func newTranslationServer(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var req struct {
			Fields   map[string]string `json:"fields"`
			Language string            `json:"target_language"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		out := make(map[string]string, len(req.Fields))
		for k, v := range req.Fields {
			out[k] = req.Language + ":" + v
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"fields":        out,
			"quality_score": 0.95,
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestApp(t *testing.T, executorURL string) *App {
	t.Helper()
	cfg := &config.AppConfig{
		Shops: []config.ShopConfig{
			{ID: "shop-auto", Languages: []string{"fr", "de"}, AutoTranslate: true},
			{ID: "shop-manual", Languages: []string{"fr"}},
		},
	}
	cfg.Executor.URL = executorURL
	config.ApplyDefaults(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	app, err := NewApp(ctx, cfg)
	require.NoError(t, err)
	app.Start(ctx)

	t.Cleanup(func() {
		cancel()
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		_ = app.Stop(stopCtx)
	})
	return app
}

func TestApp_ChangeFeedTranslatesAutoShops(t *testing.T) {
	var calls atomic.Int32
	srv := newTranslationServer(t, &calls)
	app := newTestApp(t, srv.URL)
	ctx := context.Background()

	_, err := app.Tracker.Observe(ctx, domain.ResourceContent{
		ID:     "p1",
		ShopID: "shop-auto",
		Type:   domain.ResourceTypeProduct,
		Fields: map[string]string{"title": "Shoe"},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		for _, lang := range []string{"fr", "de"} {
			tr, err := app.Store.Translations.Get(ctx, "p1", lang)
			if err != nil || tr.SyncStatus != domain.SyncStatusSynced {
				return false
			}
		}
		return true
	}, 5*time.Second, 20*time.Millisecond)

	tr, err := app.Store.Translations.Get(ctx, "p1", "fr")
	require.NoError(t, err)
	assert.Equal(t, "fr:Shoe", tr.Fields["title"])
}

func TestApp_ChangeFeedIgnoresManualShops(t *testing.T) {
	var calls atomic.Int32
	srv := newTranslationServer(t, &calls)
	app := newTestApp(t, srv.URL)
	ctx := context.Background()

	_, err := app.Tracker.Observe(ctx, domain.ResourceContent{
		ID:     "p2",
		ShopID: "shop-manual",
		Type:   domain.ResourceTypeProduct,
		Fields: map[string]string{"title": "Hat"},
	})
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, app.WaitIdle(ctx))
	assert.Equal(t, int32(0), calls.Load())
}

func TestApp_SessionRunsToCompletion(t *testing.T) {
	var calls atomic.Int32
	srv := newTranslationServer(t, &calls)
	app := newTestApp(t, srv.URL)
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		require.NoError(t, app.Store.Resources.Save(ctx, &domain.Resource{
			ID:          id,
			ShopID:      "shop-manual",
			Type:        domain.ResourceTypePage,
			Fields:      map[string]string{"title": "Page " + id},
			Fingerprint: "fp-" + id,
			Status:      domain.ResourceStatusPending,
		}))
	}

	id, err := app.Sessions.Start(ctx, "shop-manual", []string{"a", "b"}, []string{"fr", "es"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		s, err := app.Sessions.Get(ctx, id)
		return err == nil && s.Status == domain.SessionStatusCompleted
	}, 5*time.Second, 20*time.Millisecond)

	s, err := app.Sessions.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 4, s.Total)
	assert.Equal(t, 4, s.Completed)
	assert.Equal(t, int32(4), calls.Load())
}

func TestApp_HealthReportsQueue(t *testing.T) {
	var calls atomic.Int32
	srv := newTranslationServer(t, &calls)
	app := newTestApp(t, srv.URL)

	report := app.Health.Refresh(context.Background())
	assert.Len(t, report.Shops, 2)
	assert.NotEmpty(t, report.SystemStatus)
}
