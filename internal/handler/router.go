package handler

import (
	"net/http"

	"github.com/gorilla/mux"
)

// RouteMatcher names the route a request resolves to, for metrics and
// span labels.
type RouteMatcher interface {
	Match(r *http.Request) string
}

// MuxRouteMatcher matches against a gorilla/mux router.
type MuxRouteMatcher struct {
	Router *mux.Router
}

// Match returns the matched route's name, or "unknown".
func (m *MuxRouteMatcher) Match(r *http.Request) string {
	var match mux.RouteMatch
	if m.Router.Match(r, &match) && match.Route != nil {
		if name := match.Route.GetName(); name != "" {
			return name
		}
	}

	return "unknown"
}
