package mock

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"e2eforge/pkg/logging"
)

// Mode selects how the route handler produces a response.
type Mode string

const (
	ModeAuto   Mode = "auto"   // serve a generated response
	ModeRecord Mode = "record" // forward to a real target, store the result
	ModeReplay Mode = "replay" // serve only from the store, 404 on miss
	ModeSmart  Mode = "smart"  // replay if present, else generate
)

// Forwarder sends a request on to a real upstream target, used by record
// mode. It returns the upstream's status, body and headers.
type Forwarder func(r *http.Request) (status int, body []byte, headers map[string]string, err error)

// Handler serves mock HTTP traffic for one OpenAPI document's routes.
type Handler struct {
	Routes    []Route
	Store     *Store
	Mode      Mode
	Forward   Forwarder
	MaxDepth  int
}

// ServeHTTP implements http.Handler's route-matching, status selection and
// body-source-priority logic. Requests are not validated against the
// route's schemas here.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	route, pathParams := MatchRoute(h.Routes, r.Method, r.URL.Path)
	if route == nil {
		http.NotFound(w, r)
		return
	}

	query := flattenQuery(r.URL.Query())
	signature := Signature(r.Method, r.URL.Path, query)

	switch h.Mode {
	case ModeReplay:
		h.serveFromStore(w, signature)
		return
	case ModeRecord:
		h.serveRecorded(w, r, route, signature)
		return
	case ModeSmart:
		if rec, ok := h.Store.Lookup(signature); ok {
			writeRecording(w, rec)
			return
		}
		h.serveGenerated(w, r, route, pathParams)
		return
	default: // auto
		h.serveGenerated(w, r, route, pathParams)
	}
}

func (h *Handler) serveFromStore(w http.ResponseWriter, signature string) {
	rec, ok := h.Store.Lookup(signature)
	if !ok {
		http.NotFound(w, nil)
		return
	}
	writeRecording(w, rec)
}

func (h *Handler) serveRecorded(w http.ResponseWriter, r *http.Request, route *Route, signature string) {
	if h.Forward == nil {
		http.Error(w, "record mode requires a forwarding target", http.StatusBadGateway)
		return
	}

	status, body, headers, err := h.Forward(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	var decoded interface{}
	_ = json.Unmarshal(body, &decoded)

	rec := Recording{
		Signature:  signature,
		Method:     r.Method,
		Path:       r.URL.Path,
		Query:      flattenQuery(r.URL.Query()),
		Status:     status,
		Body:       decoded,
		Headers:    headers,
		RecordedAt: time.Now(),
	}
	h.Store.Save(rec)

	for k, v := range headers {
		w.Header().Set(k, v)
	}
	w.WriteHeader(status)
	w.Write(body)
}

func (h *Handler) serveGenerated(w http.ResponseWriter, r *http.Request, route *Route, pathParams map[string]string) {
	status := route.DefaultStatus
	if override := r.Header.Get("X-Mock-Status"); override != "" {
		if parsed, err := strconv.Atoi(override); err == nil {
			if _, declared := route.Responses[parsed]; declared {
				status = parsed
			}
		}
	}

	spec, ok := route.Responses[status]
	if !ok {
		w.WriteHeader(status)
		return
	}

	body := bodyForResponse(spec, h.MaxDepth)

	contentType := spec.ContentType
	if contentType == "" {
		contentType = "application/json"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)

	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.Warn(subsystem, "failed to encode generated response for %s %s: %v", r.Method, r.URL.Path, err)
	}
}

// bodyForResponse follows the example -> schema -> null priority.
func bodyForResponse(spec ResponseSpec, maxDepth int) interface{} {
	if spec.Example != nil {
		return spec.Example
	}
	if spec.Schema != nil {
		return GenerateResponse(spec.Schema, GenerateOptions{MaxDepth: maxDepth})
	}
	return nil
}

func writeRecording(w http.ResponseWriter, rec Recording) {
	for k, v := range rec.Headers {
		w.Header().Set(k, v)
	}
	w.WriteHeader(rec.Status)
	if rec.Body != nil {
		json.NewEncoder(w).Encode(rec.Body)
	}
}

func flattenQuery(values url.Values) map[string]string {
	out := make(map[string]string, len(values))
	for k, v := range values {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}

// ValidateCoverage compares the routes a mock serves against the set of
// paths a manifest declares as manually-handled, reporting any the manifest
// expects but the spec never defines.
func ValidateCoverage(routes []Route, manualRoutes []string) []string {
	declared := map[string]bool{}
	for _, r := range routes {
		declared[r.Method+" "+r.Path] = true
	}

	var missing []string
	for _, m := range manualRoutes {
		if !declared[m] {
			missing = append(missing, m)
		}
	}
	return missing
}
