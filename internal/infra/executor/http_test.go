package executor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/vietddude/transync/internal/core/domain"
	"github.com/vietddude/transync/internal/core/failure"
)

func TestHTTPExecutor_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req translateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Language != "fr" {
			t.Errorf("expected target language fr, got %s", req.Language)
		}
		_ = json.NewEncoder(w).Encode(translateResponse{
			Fields:        map[string]string{"title": "Chaussure"},
			SkippedFields: []string{"body_html"},
			QualityScore:  0.92,
		})
	}))
	defer server.Close()

	exec := NewHTTPExecutor(Config{URL: server.URL})
	res, err := exec.Translate(context.Background(), domain.TranslateRequest{
		ResourceID: "p1",
		Language:   "fr",
		Fields:     map[string]string{"title": "Shoe", "body_html": "<p>x</p>"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Fields["title"] != "Chaussure" {
		t.Errorf("unexpected title %q", res.Fields["title"])
	}
	if !res.Partial() {
		t.Error("expected partial result")
	}
}

func TestHTTPExecutor_StatusMapping(t *testing.T) {
	tests := []struct {
		status int
		want   failure.Kind
	}{
		{http.StatusTooManyRequests, failure.KindRateLimit},
		{http.StatusGatewayTimeout, failure.KindTimeout},
		{http.StatusNotFound, failure.KindNotFound},
		{http.StatusRequestEntityTooLarge, failure.KindContentTooLong},
		{http.StatusUnprocessableEntity, failure.KindQualityValidation},
		{http.StatusServiceUnavailable, failure.KindNetwork},
	}

	for _, tt := range tests {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		}))
		exec := NewHTTPExecutor(Config{URL: server.URL})
		_, err := exec.Translate(context.Background(), domain.TranslateRequest{ResourceID: "p1", Language: "de"})
		server.Close()

		d := failure.Classify(err)
		if d.Kind != tt.want {
			t.Errorf("status %d: expected %v, got %v", tt.status, tt.want, d.Kind)
		}
		if d.Confidence != 1.0 {
			t.Errorf("status %d: typed failures should classify with full confidence", tt.status)
		}
	}
}
