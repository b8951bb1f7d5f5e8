package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMiddleware_RecordsRequests(t *testing.T) {
	exporter := NewPrometheusExporter()

	router := mux.NewRouter()
	router.Use(Middleware(exporter))
	router.HandleFunc("/projects/{projectId}/permissions", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)
	router.HandleFunc("/boom", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}).Methods(http.MethodGet)

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/projects/p1/permissions", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}

	okCount := testutil.ToFloat64(exporter.httpRequests.WithLabelValues("/projects/{projectId}/permissions", http.MethodGet, "200"))
	if okCount != 3 {
		t.Errorf("expected 3 recorded requests for the permissions route, got %v", okCount)
	}

	errCount := testutil.ToFloat64(exporter.httpErrors.WithLabelValues("/boom", http.MethodGet))
	if errCount != 1 {
		t.Errorf("expected 1 recorded error, got %v", errCount)
	}
}

func TestMiddleware_UsesPathTemplateLabel(t *testing.T) {
	exporter := NewPrometheusExporter()

	router := mux.NewRouter()
	router.Use(Middleware(exporter))
	router.HandleFunc("/projects/{projectId}/permissions", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)

	for _, path := range []string{"/projects/a/permissions", "/projects/b/permissions"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	}

	// Both requests should land on the same templated label.
	count := testutil.ToFloat64(exporter.httpRequests.WithLabelValues("/projects/{projectId}/permissions", http.MethodGet, "200"))
	if count != 2 {
		t.Errorf("expected both requests under one templated route label, got %v", count)
	}
}

func TestExporter_RecordCheck(t *testing.T) {
	exporter := NewPrometheusExporter()

	exporter.RecordCheck(true)
	exporter.RecordCheck(true)
	exporter.RecordCheck(false)
	exporter.RecordResolution()

	if got := testutil.ToFloat64(exporter.checksAllowed); got != 2 {
		t.Errorf("expected 2 allowed checks, got %v", got)
	}
	if got := testutil.ToFloat64(exporter.checksDenied); got != 1 {
		t.Errorf("expected 1 denied check, got %v", got)
	}
	if got := testutil.ToFloat64(exporter.resolveOps); got != 1 {
		t.Errorf("expected 1 resolution, got %v", got)
	}
}

func TestExporter_Handler(t *testing.T) {
	exporter := NewPrometheusExporter()
	exporter.RecordCheck(true)

	rec := httptest.NewRecorder()
	exporter.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from metrics handler, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "kengen_permission_checks_allowed_total") {
		t.Error("expected metrics output to contain the allowed-checks counter")
	}
}
