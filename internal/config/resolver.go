package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/Masterminds/sprig/v3"
	"github.com/google/uuid"
)

// placeholderPattern matches a single `{{expr}}` template expression.
var placeholderPattern = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)

// Resolver expands `{{...}}` expressions against a fixed set of namespaces:
// env.X (process environment), config.X (service.vars), runtime.X (values
// produced during a run, e.g. saved response fields), plus the literals
// `timestamp`, `uuid` and `date`. A bare `{{X}}` with no namespace falls
// back to `runtime.X`.
type Resolver struct {
	Env     map[string]string
	Config  map[string]string
	Runtime map[string]string

	// now is overridable for deterministic tests.
	now func() time.Time
}

// NewResolver builds a Resolver seeded from the process environment and a
// service's declared vars.
func NewResolver(configVars map[string]string) *Resolver {
	env := map[string]string{}
	for _, kv := range os.Environ() {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) == 2 {
			env[parts[0]] = parts[1]
		}
	}
	return &Resolver{
		Env:     env,
		Config:  configVars,
		Runtime: map[string]string{},
		now:     time.Now,
	}
}

// Resolve expands every `{{expr}}` occurrence in s. Unknown names are left
// untouched verbatim, including their braces.
func (r *Resolver) Resolve(s string) string {
	return placeholderPattern.ReplaceAllStringFunc(s, func(m string) string {
		sub := placeholderPattern.FindStringSubmatch(m)
		expr := strings.TrimSpace(sub[1])
		val, ok := r.lookup(expr)
		if !ok {
			return m
		}
		return val
	})
}

func (r *Resolver) lookup(expr string) (string, bool) {
	switch expr {
	case "timestamp":
		return strconv.FormatInt(r.now().UnixMilli(), 10), true
	case "uuid":
		return uuid.NewString(), true
	case "date":
		return r.now().Format("2006-01-02"), true
	}

	if rest, ok := strings.CutPrefix(expr, "env."); ok {
		v, found := r.Env[rest]
		return v, found
	}
	if rest, ok := strings.CutPrefix(expr, "config."); ok {
		v, found := r.Config[rest]
		return v, found
	}
	if rest, ok := strings.CutPrefix(expr, "runtime."); ok {
		v, found := r.Runtime[rest]
		return v, found
	}

	// Bare name: fall back to runtime.X.
	if v, found := r.Runtime[expr]; found {
		return v, true
	}

	// Anything else that looks like a function call (e.g.
	// `upper .env.USER`, `date "2006-01-02" .now`, `trunc 8 .uuid`) is
	// rendered as a full Go template with sprig's function map, so
	// expressions aren't limited to the fixed literal set above.
	return r.renderExpr(expr)
}

// renderExpr renders expr as a `{{expr}}` text/template body with
// sprig's function map and the three namespaces (plus `now`/`uuid`)
// available as dotted fields. It only attempts expressions that look
// like a function call; a bare unresolved name is left for the caller
// to pass through untouched.
func (r *Resolver) renderExpr(expr string) (string, bool) {
	if !strings.ContainsAny(expr, " (") {
		return "", false
	}

	tmpl, err := template.New("expr").Funcs(sprig.TxtFuncMap()).Parse("{{" + expr + "}}")
	if err != nil {
		return "", false
	}

	data := map[string]interface{}{
		"env":     r.Env,
		"config":  r.Config,
		"runtime": r.Runtime,
		"now":     r.now(),
		"uuid":    uuid.NewString(),
	}
	var buf strings.Builder
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", false
	}
	return buf.String(), true
}

// ResolveDeep recurses into arbitrarily nested containers, resolving every
// string leaf. Map keys are left untouched; everything else passes through.
func (r *Resolver) ResolveDeep(v interface{}) interface{} {
	switch val := v.(type) {
	case string:
		return r.Resolve(val)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = r.ResolveDeep(item)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = r.ResolveDeep(item)
		}
		return out
	case map[interface{}]interface{}:
		out := make(map[interface{}]interface{}, len(val))
		for k, item := range val {
			out[k] = r.ResolveDeep(item)
		}
		return out
	default:
		return v
	}
}

// SetRuntime records a value under `runtime.<key>`, used by the declarative
// HTTP runner's `save:` step to populate variables for later cases in the
// same suite.
func (r *Resolver) SetRuntime(key string, value interface{}) {
	r.Runtime[key] = fmt.Sprintf("%v", value)
}
