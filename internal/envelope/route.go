package envelope

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidRoute is returned for route strings that do not follow
// WorkerName/methodName[/param].
var ErrInvalidRoute = errors.New("invalid route")

// Route is a parsed route string.
type Route struct {
	Worker string
	Method string
	Param  string
}

// ParseRoute splits a route string into its worker, method and optional
// param. The param is opaque and may itself contain slashes.
func ParseRoute(s string) (Route, error) {
	parts := strings.SplitN(s, "/", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return Route{}, fmt.Errorf("%w: %q", ErrInvalidRoute, s)
	}
	r := Route{Worker: parts[0], Method: parts[1]}
	if len(parts) == 3 {
		r.Param = parts[2]
	}
	return r, nil
}

// WorkerOf returns the worker-name prefix of a route string without
// validating the rest.
func WorkerOf(s string) string {
	name, _, _ := strings.Cut(s, "/")
	return name
}

// String renders the route back to its wire form.
func (r Route) String() string {
	if r.Param == "" {
		return r.Worker + "/" + r.Method
	}
	return r.Worker + "/" + r.Method + "/" + r.Param
}

// RouteTo builds a route string.
func RouteTo(worker, method string, param ...string) string {
	return Route{Worker: worker, Method: method, Param: strings.Join(param, "/")}.String()
}
