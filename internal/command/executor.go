package command

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"Minerva/internal/cerrors"
	"Minerva/internal/database/kafka"
	"Minerva/internal/models"
	"Minerva/pkg/logger"

	minervahttp "Minerva/pkg/http"

	"github.com/google/uuid"
)

// Report is the structured outcome of one EXECUTE attempt. Both outcomes
// carry the endpoint so the user always sees what was (or was not) called.
type Report struct {
	Command    string `json:"command"`
	Endpoint   string `json:"endpoint"`
	Success    bool   `json:"success"`
	StatusCode int    `json:"status_code,omitempty"`
	ResourceID string `json:"resource_id,omitempty"`
	Body       string `json:"body,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Executor runs the EXECUTE and REPORT stages: whitelist gate, dispatch
// with a hard timeout, no retries for anything state-mutating.
type Executor struct {
	registry *Registry
	client   *minervahttp.Client
	audit    *kafka.AuditPublisher
	baseURL  string
	timeout  time.Duration
	log      *logger.Logger
}

// NewExecutor creates an Executor dispatching against baseURL.
func NewExecutor(registry *Registry, client *minervahttp.Client, audit *kafka.AuditPublisher, baseURL string, timeout time.Duration, log *logger.Logger) *Executor {
	return &Executor{
		registry: registry,
		client:   client,
		audit:    audit,
		baseURL:  strings.TrimRight(baseURL, "/"),
		timeout:  timeout,
		log:      log,
	}
}

// Execute dispatches a validated command. The whitelist check runs against
// the template's endpoint key before anything touches the network; failing
// it is a hard stop that is audited and never rerouted. Transport errors
// and non-2xx responses are reported verbatim, never retried.
func (e *Executor) Execute(ctx context.Context, projectID, threadID string, tmpl models.CommandTemplate, params map[string]string) (*Report, error) {
	endpointKey := tmpl.EndpointKey()

	capability, ok := e.registry.Capability(endpointKey)
	if !ok {
		violation := &cerrors.SecurityViolationError{Method: tmpl.Method, Path: tmpl.PathTemplate}
		e.publishAudit(ctx, projectID, threadID, models.AuditSecurityViolation, tmpl, "", violation.Error())
		return nil, violation
	}

	path, body := buildRequest(tmpl, params)
	endpoint := tmpl.Method + " " + path

	reqCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(reqCtx, tmpl.Method, e.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request for %s: %w", endpoint, err)
	}
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := e.client.Do(req)
	if err != nil {
		terr := &cerrors.TransportError{Endpoint: endpoint, Err: err}
		e.publishAudit(ctx, projectID, threadID, models.AuditCommandFailed, tmpl, "", terr.Error())
		return &Report{
			Command:  tmpl.Name,
			Endpoint: endpoint,
			Error:    terr.Error(),
		}, nil
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	report := &Report{
		Command:    tmpl.Name,
		Endpoint:   endpoint,
		StatusCode: resp.StatusCode,
		Body:       string(respBody),
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		terr := &cerrors.TransportError{Endpoint: endpoint, StatusCode: resp.StatusCode}
		report.Error = terr.Error()
		e.publishAudit(ctx, projectID, threadID, models.AuditCommandFailed, tmpl, "", report.Error)
		return report, nil
	}

	report.Success = true
	report.ResourceID = extractResourceID(respBody)
	e.publishAudit(ctx, projectID, threadID, models.AuditCommandExecuted, tmpl, report.ResourceID, "")
	e.log.WithProject(projectID).Info(fmt.Sprintf("command %s executed against %s (capability %s)", tmpl.Name, endpoint, capability))
	return report, nil
}

// buildRequest substitutes path parameters and places the remainder into a
// JSON body for methods that carry one.
func buildRequest(tmpl models.CommandTemplate, params map[string]string) (string, []byte) {
	path := tmpl.PathTemplate
	bodyParams := map[string]string{}
	for name, value := range params {
		placeholder := "{" + name + "}"
		if strings.Contains(path, placeholder) {
			path = strings.ReplaceAll(path, placeholder, value)
		} else {
			bodyParams[name] = value
		}
	}

	if tmpl.Method == http.MethodGet || tmpl.Method == http.MethodDelete || len(bodyParams) == 0 {
		return path, nil
	}
	body, err := json.Marshal(bodyParams)
	if err != nil {
		return path, nil
	}
	return path, body
}

// extractResourceID pulls a resource identifier out of a JSON response,
// trying the common field names.
func extractResourceID(body []byte) string {
	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	for _, key := range []string{"id", "resource_id", "resourceId"} {
		if v, ok := payload[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func (e *Executor) publishAudit(ctx context.Context, projectID, threadID string, kind models.AuditKind, tmpl models.CommandTemplate, resourceID, message string) {
	entry := &models.AuditEntry{
		AuditID:    uuid.NewString(),
		ProjectID:  projectID,
		ThreadID:   threadID,
		Kind:       kind,
		Timestamp:  time.Now(),
		Command:    tmpl.Name,
		Method:     tmpl.Method,
		Path:       tmpl.PathTemplate,
		Capability: tmpl.Capability,
		ResourceID: resourceID,
		Message:    message,
	}
	if err := e.audit.Publish(ctx, entry); err != nil {
		e.log.Warn(fmt.Sprintf("audit publish for command %s failed: %v", tmpl.Name, err))
	}
}
