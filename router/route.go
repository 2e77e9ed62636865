package router

import (
	"fmt"
	"strings"
)

// RouteDefinition forwards every exchange from one endpoint through an
// ordered list of producer endpoints.
type RouteDefinition struct {
	ID      string
	FromURI string
	ToURIs  []string
}

// From starts a route definition.
func From(uri string) *RouteDefinition {
	return &RouteDefinition{FromURI: uri}
}

func (d *RouteDefinition) To(uris ...string) *RouteDefinition {
	d.ToURIs = append(d.ToURIs, uris...)
	return d
}

func (d *RouteDefinition) RouteID(id string) *RouteDefinition {
	d.ID = id
	return d
}

func (d *RouteDefinition) String() string {
	return fmt.Sprintf("from(%s).to(%s)", d.FromURI, strings.Join(d.ToURIs, ", "))
}
