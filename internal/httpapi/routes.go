package httpapi

import (
	"log/slog"
	"net/http"
	"sort"
)

// routeInfo is one registered endpoint, kept for the startup route
// table log — grounded on the teacher's RouteRegistry/RouteInfo, which
// logs a pterm table of every wired endpoint at boot.
type routeInfo struct {
	handler     http.HandlerFunc
	description string
	method      string
	order       int
}

// routeRegistry collects endpoints before they are wired onto a
// net/http.ServeMux, so every registration site stays self-describing
// and the boot log prints one line per route in registration order.
type routeRegistry struct {
	log      *slog.Logger
	routes   map[string]routeInfo
	orderSeq int
}

func newRouteRegistry(log *slog.Logger) *routeRegistry {
	return &routeRegistry{log: log, routes: make(map[string]routeInfo)}
}

// register wires method and path together the way Go 1.22+'s
// ServeMux expects ("METHOD /path"), so a request with the wrong
// method falls through to its automatic 405 rather than the handler.
func (r *routeRegistry) register(method, path string, handler http.HandlerFunc, description string) {
	pattern := method + " " + path
	r.routes[pattern] = routeInfo{
		handler:     handler,
		description: description,
		method:      method,
		order:       r.orderSeq,
	}
	r.orderSeq++
}

func (r *routeRegistry) wireUp(mux *http.ServeMux) {
	for pattern, info := range r.routes {
		mux.HandleFunc(pattern, info.handler)
	}
	r.logRoutes()
}

func (r *routeRegistry) logRoutes() {
	type entry struct {
		method, path, desc string
		order              int
	}
	entries := make([]entry, 0, len(r.routes))
	for pattern, info := range r.routes {
		entries = append(entries, entry{method: info.method, path: pattern, desc: info.description, order: info.order})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].order < entries[j].order })
	for _, e := range entries {
		r.log.Info("route registered", "method", e.method, "path", e.path, "description", e.desc)
	}
}
