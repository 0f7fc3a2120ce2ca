package command

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"Minerva/internal/cerrors"
	"Minerva/internal/models"
	"Minerva/pkg/logger"

	minervahttp "Minerva/pkg/http"
)

func newTestExecutor(baseURL string, whitelist map[string]string) *Executor {
	registry := NewRegistry(testTemplates(), whitelist)
	client := minervahttp.NewClient(2*time.Second, minervahttp.BreakerConfig{})
	return NewExecutor(registry, client, nil, baseURL, 2*time.Second, logger.New("executor_test", "", ""))
}

func TestExecuteSuccessReportsResourceID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/ontologies/propulsion/classes" {
			t.Errorf("unexpected dispatch: %s %s", r.Method, r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"cls-42"}`))
	}))
	defer server.Close()

	exec := newTestExecutor(server.URL, testWhitelist())
	tmpl, _ := exec.registry.Lookup("create_ontology_class")

	report, err := exec.Execute(context.Background(), "p1", "t1", tmpl, map[string]string{
		"name": "Rotor", "ontology": "propulsion",
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !report.Success {
		t.Fatalf("report = %+v, want success", report)
	}
	if report.ResourceID != "cls-42" {
		t.Errorf("ResourceID = %q, want cls-42", report.ResourceID)
	}
}

func TestExecuteNon2xxReportedVerbatimNotRetried(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "ontology is frozen", http.StatusConflict)
	}))
	defer server.Close()

	exec := newTestExecutor(server.URL, testWhitelist())
	tmpl, _ := exec.registry.Lookup("create_ontology_class")

	report, err := exec.Execute(context.Background(), "p1", "t1", tmpl, map[string]string{
		"name": "Rotor", "ontology": "propulsion",
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if report.Success {
		t.Fatal("a 409 must not be reported as success")
	}
	if report.StatusCode != http.StatusConflict {
		t.Errorf("StatusCode = %d", report.StatusCode)
	}
	if report.Body == "" {
		t.Error("the response body must be surfaced verbatim")
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("calls = %d, state-mutating commands must never be retried", got)
	}
}

func TestExecuteNonWhitelistedFailsClosedWithoutDispatch(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer server.Close()

	// Whitelist without the ontology endpoint.
	exec := newTestExecutor(server.URL, map[string]string{
		"POST:/simulations/runs": "simulation.execute",
	})
	tmpl, _ := exec.registry.Lookup("create_ontology_class")

	_, err := exec.Execute(context.Background(), "p1", "t1", tmpl, map[string]string{
		"name": "Rotor", "ontology": "propulsion",
	})
	var violation *cerrors.SecurityViolationError
	if !errors.As(err, &violation) {
		t.Fatalf("err = %v, want SecurityViolationError", err)
	}
	if got := atomic.LoadInt32(&calls); got != 0 {
		t.Errorf("calls = %d, a blocked endpoint must never be contacted", got)
	}
}

func TestExecuteTimeoutReportedAsFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer server.Close()

	registry := NewRegistry(testTemplates(), testWhitelist())
	client := minervahttp.NewClient(50*time.Millisecond, minervahttp.BreakerConfig{})
	exec := NewExecutor(registry, client, nil, server.URL, 50*time.Millisecond, logger.New("executor_test", "", ""))
	tmpl, _ := registry.Lookup("run_simulation")

	report, err := exec.Execute(context.Background(), "p1", "t1", tmpl, map[string]string{"scenario": "hover"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if report.Success {
		t.Fatal("a timed-out command must be reported as failed, never assumed successful")
	}
	if report.Error == "" {
		t.Error("the transport error must be surfaced")
	}
}

func TestBuildRequestSplitsPathAndBodyParams(t *testing.T) {
	tmpl := models.CommandTemplate{
		Method:       "POST",
		PathTemplate: "/ontologies/{ontology}/classes",
	}
	path, body := buildRequest(tmpl, map[string]string{"ontology": "propulsion", "name": "Rotor"})
	if path != "/ontologies/propulsion/classes" {
		t.Errorf("path = %q", path)
	}
	if string(body) != `{"name":"Rotor"}` {
		t.Errorf("body = %s", body)
	}
}
