package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"e2eforge/internal/config"
	"e2eforge/internal/diagnostics"
	"e2eforge/internal/reporter"
)

// Assertion operators recognized by httpAssertion.Operator. "equals" is
// the default when Operator is empty and either Equals or Expected is
// set; "exists" is the default when only Exists is set.
const (
	opEquals    = "equals"
	opNotEquals = "notEquals"
	opGT        = ">"
	opGTE       = ">="
	opLT        = "<"
	opLTE       = "<="
	opContains  = "contains"
	opMatches   = "matches"
	opExists    = "exists"
	opNotExists = "notExists"
)

// httpAssertion checks one selector against a response's status, headers
// or body. Path addresses "status", "headers.<Name>", or otherwise a
// gjson path into the body. Equals/Exists are accepted as shorthand for
// the common equals/exists operators; Operator+Expected cover the rest.
type httpAssertion struct {
	Path     string      `json:"path"`
	Operator string      `json:"operator,omitempty"`
	Expected interface{} `json:"expected,omitempty"`
	Equals   interface{} `json:"equals,omitempty"`
	Exists   *bool       `json:"exists,omitempty"`
}

func (a httpAssertion) normalize() (operator string, expected interface{}) {
	if a.Operator != "" {
		return a.Operator, a.Expected
	}
	if a.Exists != nil {
		if *a.Exists {
			return opExists, nil
		}
		return opNotExists, nil
	}
	if a.Equals != nil {
		return opEquals, a.Equals
	}
	return opEquals, a.Expected
}

// httpStep is a single request run without assertions, used for setup
// and teardown: it must succeed (2xx) or the step fails, but there is
// nothing to assert against.
type httpStep struct {
	Name      string            `json:"name,omitempty"`
	Method    string            `json:"method"`
	URL       string            `json:"url"`
	Headers   map[string]string `json:"headers,omitempty"`
	Body      interface{}       `json:"body,omitempty"`
	TimeoutMs int               `json:"timeoutMs,omitempty"`
}

// httpRequest is one declarative HTTP call, its assertions, and the
// variables it saves into runtime.* for later cases in the suite.
type httpRequest struct {
	Name       string            `json:"name"`
	Method     string            `json:"method"`
	URL        string            `json:"url"`
	Headers    map[string]string `json:"headers,omitempty"`
	Body       interface{}       `json:"body,omitempty"`
	Assertions []httpAssertion   `json:"assertions,omitempty"`
	TimeoutMs  int               `json:"timeoutMs,omitempty"`
	Save       map[string]string `json:"save,omitempty"`
}

type httpSuiteConfig struct {
	BaseURL  string        `json:"baseUrl,omitempty"`
	Setup    []httpStep    `json:"setup,omitempty"`
	Teardown []httpStep    `json:"teardown,omitempty"`
	Requests []httpRequest `json:"requests"`
}

// HTTPRunner executes a suite as a sequence of declarative HTTP requests,
// variable-resolving each one against a config.Resolver and asserting on
// the response with gjson path selectors.
type HTTPRunner struct {
	Client *http.Client

	resolver      *config.Resolver
	diagnosticsFn func(ctx context.Context) diagnostics.Report
}

// NewHTTPRunner returns an HTTPRunner using client, or a sane default
// (10s timeout) if client is nil.
func NewHTTPRunner(client *http.Client) *HTTPRunner {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPRunner{Client: client}
}

// SetResolver implements ResolverAware.
func (r *HTTPRunner) SetResolver(resolver *config.Resolver) {
	r.resolver = resolver
}

// SetDiagnosticsCollector implements DiagnosticsAware.
func (r *HTTPRunner) SetDiagnosticsCollector(collect func(ctx context.Context) diagnostics.Report) {
	r.diagnosticsFn = collect
}

// ID implements Runner.
func (r *HTTPRunner) ID() string { return "http" }

// Available implements Runner. The HTTP runner has no external
// dependency of its own, so it is always available.
func (r *HTTPRunner) Available(ctx context.Context) bool { return true }

// Run implements Runner, running any setup steps, replaying each
// declared request in order, then any teardown steps. Setup failure
// aborts the suite's requests but teardown always runs.
func (r *HTTPRunner) Run(ctx context.Context, suiteName string, rawConfig map[string]interface{}) (<-chan reporter.Event, error) {
	cfg, err := decodeHTTPConfig(rawConfig)
	if err != nil {
		return nil, fmt.Errorf("decoding http suite config: %w", err)
	}

	resolver := r.resolver
	if resolver == nil {
		resolver = config.NewResolver(nil)
	}

	events := make(chan reporter.Event, 16)
	go func() {
		defer close(events)
		events <- reporter.Event{Kind: reporter.EventSuiteStart, Suite: suiteName, Timestamp: time.Now()}

		ok := true
		for i, step := range cfg.Setup {
			if !r.runStep(ctx, suiteName, stepName("setup", step.Name, i), cfg.BaseURL, step, resolver, events) {
				ok = false
				break
			}
		}

		if ok {
			for _, req := range cfg.Requests {
				r.runOne(ctx, suiteName, cfg.BaseURL, req, resolver, events)
			}
		}

		for i, step := range cfg.Teardown {
			r.runStep(ctx, suiteName, stepName("teardown", step.Name, i), cfg.BaseURL, step, resolver, events)
		}

		events <- reporter.Event{Kind: reporter.EventSuiteEnd, Suite: suiteName, Timestamp: time.Now()}
	}()
	return events, nil
}

func stepName(kind, name string, i int) string {
	if name != "" {
		return fmt.Sprintf("%s: %s", kind, name)
	}
	return fmt.Sprintf("%s[%d]", kind, i)
}

// runStep runs a setup/teardown request with no assertions, returning
// whether it succeeded (2xx status).
func (r *HTTPRunner) runStep(ctx context.Context, suiteName, caseName, baseURL string, step httpStep, resolver *config.Resolver, events chan<- reporter.Event) bool {
	events <- reporter.Event{Kind: reporter.EventCaseStart, Suite: suiteName, Case: caseName, Timestamp: time.Now()}

	req := httpRequest{Method: step.Method, URL: step.URL, Headers: step.Headers, Body: step.Body, TimeoutMs: step.TimeoutMs}
	start := time.Now()
	resolved := resolveRequest(req, resolver)
	exchange, resp, err := r.doRequest(withTimeout(ctx, resolved.TimeoutMs), baseURL, resolved)
	duration := time.Since(start)

	if err != nil {
		events <- reporter.Event{Kind: reporter.EventCaseFail, Suite: suiteName, Case: caseName, Message: err.Error(), Duration: duration, Request: exchange, Timestamp: time.Now()}
		return false
	}
	if resp.Status < 200 || resp.Status >= 300 {
		events <- reporter.Event{Kind: reporter.EventCaseFail, Suite: suiteName, Case: caseName, Message: fmt.Sprintf("step returned status %d", resp.Status), Duration: duration, Request: exchange, Response: resp, Timestamp: time.Now()}
		return false
	}
	events <- reporter.Event{Kind: reporter.EventCasePass, Suite: suiteName, Case: caseName, Duration: duration, Request: exchange, Response: resp, Timestamp: time.Now()}
	return true
}

func (r *HTTPRunner) runOne(ctx context.Context, suiteName, baseURL string, req httpRequest, resolver *config.Resolver, events chan<- reporter.Event) {
	caseName := req.Name
	if caseName == "" {
		caseName = req.Method + " " + req.URL
	}
	events <- reporter.Event{Kind: reporter.EventCaseStart, Suite: suiteName, Case: caseName, Timestamp: time.Now()}

	start := time.Now()
	resolved := resolveRequest(req, resolver)
	exchange, resp, err := r.doRequest(withTimeout(ctx, resolved.TimeoutMs), baseURL, resolved)
	duration := time.Since(start)

	if err != nil {
		events <- reporter.Event{
			Kind: reporter.EventCaseFail, Suite: suiteName, Case: caseName,
			Message: err.Error(), Duration: duration, Timestamp: time.Now(),
			Request: exchange, Diagnostics: r.collectDiagnostics(ctx),
		}
		return
	}

	results := evaluateAssertions(resp, resolved.Assertions)
	if failed := firstFailed(results); failed != nil {
		events <- reporter.Event{
			Kind: reporter.EventCaseFail, Suite: suiteName, Case: caseName,
			Message:  fmt.Sprintf("assertion failed: %s %s %v (got %v)", failed.Path, failed.Operator, failed.Expected, failed.Actual),
			Duration: duration, Timestamp: time.Now(),
			Assertions: results, Request: exchange, Response: resp,
			Diagnostics: r.collectDiagnostics(ctx),
		}
		return
	}

	for key, path := range resolved.Save {
		resolver.SetRuntime(key, lookupValue(resp, path))
	}

	events <- reporter.Event{
		Kind: reporter.EventCasePass, Suite: suiteName, Case: caseName,
		Duration: duration, Timestamp: time.Now(),
		Assertions: results, Request: exchange, Response: resp,
	}
}

func (r *HTTPRunner) collectDiagnostics(ctx context.Context) *diagnostics.Report {
	if r.diagnosticsFn == nil {
		return nil
	}
	report := r.diagnosticsFn(ctx)
	return &report
}

func withTimeout(ctx context.Context, timeoutMs int) context.Context {
	if timeoutMs <= 0 {
		return ctx
	}
	c, _ := context.WithTimeout(ctx, time.Duration(timeoutMs)*time.Millisecond)
	return c
}

// resolveRequest expands `{{...}}` expressions in every templatable field
// of req against resolver before it is dispatched.
func resolveRequest(req httpRequest, resolver *config.Resolver) httpRequest {
	resolved := req
	resolved.URL = resolver.Resolve(req.URL)
	if req.Headers != nil {
		resolved.Headers = make(map[string]string, len(req.Headers))
		for k, v := range req.Headers {
			resolved.Headers[k] = resolver.Resolve(v)
		}
	}
	if req.Body != nil {
		resolved.Body = resolver.ResolveDeep(req.Body)
	}
	return resolved
}

func (r *HTTPRunner) doRequest(ctx context.Context, baseURL string, req httpRequest) (*reporter.HTTPExchange, *reporter.HTTPResponse, error) {
	url := req.URL
	if baseURL != "" && !isAbsoluteURL(url) {
		url = baseURL + url
	}

	exchange := &reporter.HTTPExchange{Method: req.Method, URL: url, Headers: req.Headers, Body: req.Body}

	var reader io.Reader
	if req.Body != nil {
		b, err := json.Marshal(req.Body)
		if err != nil {
			return exchange, nil, fmt.Errorf("encoding request body: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, url, reader)
	if err != nil {
		return exchange, nil, err
	}
	if reader != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := r.Client.Do(httpReq)
	if err != nil {
		return exchange, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return exchange, &reporter.HTTPResponse{Status: resp.StatusCode}, err
	}

	respHeaders := map[string]string{}
	for k := range resp.Header {
		respHeaders[k] = resp.Header.Get(k)
	}

	var bodyValue interface{} = string(data)
	if json.Valid(data) {
		var decoded interface{}
		if json.Unmarshal(data, &decoded) == nil {
			bodyValue = decoded
		}
	}

	return exchange, &reporter.HTTPResponse{Status: resp.StatusCode, Headers: respHeaders, Body: bodyValue}, nil
}

func evaluateAssertions(resp *reporter.HTTPResponse, assertions []httpAssertion) []reporter.AssertionResult {
	results := make([]reporter.AssertionResult, 0, len(assertions))
	for _, a := range assertions {
		operator, expected := a.normalize()
		actual, exists := resolvePath(resp, a.Path)
		results = append(results, reporter.AssertionResult{
			Path:     a.Path,
			Operator: operator,
			Expected: expected,
			Actual:   actual,
			Passed:   evaluateOne(operator, expected, actual, exists),
		})
	}
	return results
}

func firstFailed(results []reporter.AssertionResult) *reporter.AssertionResult {
	for i := range results {
		if !results[i].Passed {
			return &results[i]
		}
	}
	return nil
}

// resolvePath resolves one assertion path against the response, returning
// the looked-up value and whether it was present at all.
func resolvePath(resp *reporter.HTTPResponse, path string) (interface{}, bool) {
	switch {
	case path == "status":
		return resp.Status, true
	case strings.HasPrefix(path, "headers."):
		name := strings.TrimPrefix(path, "headers.")
		v, ok := resp.Headers[name]
		if !ok {
			return nil, false
		}
		return v, true
	default:
		body, err := json.Marshal(resp.Body)
		if err != nil {
			return nil, false
		}
		result := gjson.GetBytes(body, path)
		if !result.Exists() {
			return nil, false
		}
		return result.Value(), true
	}
}

// lookupValue is resolvePath without the existence flag, used by save:.
func lookupValue(resp *reporter.HTTPResponse, path string) interface{} {
	v, _ := resolvePath(resp, path)
	return v
}

func evaluateOne(operator string, expected, actual interface{}, exists bool) bool {
	switch operator {
	case opExists:
		return exists
	case opNotExists:
		return !exists
	case opEquals:
		return fmt.Sprintf("%v", actual) == fmt.Sprintf("%v", expected)
	case opNotEquals:
		return fmt.Sprintf("%v", actual) != fmt.Sprintf("%v", expected)
	case opGT, opGTE, opLT, opLTE:
		a, aok := toFloat(actual)
		e, eok := toFloat(expected)
		if !aok || !eok {
			return false
		}
		switch operator {
		case opGT:
			return a > e
		case opGTE:
			return a >= e
		case opLT:
			return a < e
		default:
			return a <= e
		}
	case opContains:
		return strings.Contains(fmt.Sprintf("%v", actual), fmt.Sprintf("%v", expected))
	case opMatches:
		re, err := regexp.Compile(fmt.Sprintf("%v", expected))
		if err != nil {
			return false
		}
		return re.MatchString(fmt.Sprintf("%v", actual))
	default:
		return false
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case string:
		var f float64
		if _, err := fmt.Sscanf(n, "%g", &f); err == nil {
			return f, true
		}
	}
	return 0, false
}

func isAbsoluteURL(u string) bool {
	return len(u) > 4 && (u[:4] == "http")
}

func decodeHTTPConfig(raw map[string]interface{}) (httpSuiteConfig, error) {
	var cfg httpSuiteConfig
	b, err := json.Marshal(raw)
	if err != nil {
		return cfg, err
	}
	if err := json.Unmarshal(b, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
