// Package gateway is the HTTP front door: an ordered route table that proxies reads to
// the backend services and turns writes into broker commands or RPC calls.
package gateway

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"

	berr "github.com/next-trace/scg-device-relay/contract/errors"
)

// Route binds a method and a path template such as "/devices/{id}/telemetries" to a
// handler. Template variables match one path segment and are exposed via PathValue.
type Route struct {
	Method  string
	Pattern string
	Handler http.Handler
}

type compiledRoute struct {
	Route
	re    *regexp.Regexp
	names []string
}

// Router picks the first route whose method and pattern match.
type Router struct {
	routes []compiledRoute
}

var segmentVar = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// NewRouter compiles routes in order. A route that an earlier route with the same method
// would always capture is rejected with errors.ErrInvalidRoute.
func NewRouter(routes ...Route) (*Router, error) {
	r := &Router{routes: make([]compiledRoute, 0, len(routes))}

	for _, rt := range routes {
		if rt.Handler == nil || rt.Method == "" || !strings.HasPrefix(rt.Pattern, "/") {
			return nil, fmt.Errorf("route %s %q: %w", rt.Method, rt.Pattern, berr.ErrInvalidRoute)
		}

		cr, err := compile(rt)
		if err != nil {
			return nil, err
		}

		sample := segmentVar.ReplaceAllString(rt.Pattern, "_")
		for _, prev := range r.routes {
			if prev.Method == rt.Method && prev.re.MatchString(sample) {
				return nil, fmt.Errorf("route %s %s is shadowed by %s: %w", rt.Method, rt.Pattern, prev.Pattern, berr.ErrInvalidRoute)
			}
		}

		r.routes = append(r.routes, cr)
	}

	return r, nil
}

func compile(rt Route) (compiledRoute, error) {
	var (
		b     strings.Builder
		names []string
		last  int
	)

	b.WriteString("^")

	for _, loc := range segmentVar.FindAllStringSubmatchIndex(rt.Pattern, -1) {
		b.WriteString(regexp.QuoteMeta(rt.Pattern[last:loc[0]]))
		b.WriteString("([^/]+)")
		names = append(names, rt.Pattern[loc[2]:loc[3]])
		last = loc[1]
	}

	b.WriteString(regexp.QuoteMeta(rt.Pattern[last:]))
	b.WriteString("$")

	re, err := regexp.Compile(b.String())
	if err != nil {
		return compiledRoute{}, fmt.Errorf("route %s %q: %w", rt.Method, rt.Pattern, berr.ErrInvalidRoute)
	}

	return compiledRoute{Route: rt, re: re, names: names}, nil
}

// Match returns the handler of the first matching route with its path values set on req.
func (r *Router) Match(req *http.Request) (http.Handler, bool) {
	for _, rt := range r.routes {
		if rt.Method != req.Method {
			continue
		}

		m := rt.re.FindStringSubmatch(req.URL.Path)
		if m == nil {
			continue
		}

		for i, name := range rt.names {
			req.SetPathValue(name, m[i+1])
		}

		return rt.Handler, true
	}

	return nil, false
}

// Routes lists the method and pattern of every route in match order.
func (r *Router) Routes() []string {
	out := make([]string, len(r.routes))
	for i, rt := range r.routes {
		out[i] = rt.Method + " " + rt.Pattern
	}

	return out
}
