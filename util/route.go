// (c) Copyright 2021 Hewlett Packard Enterprise Development LP

package util

import (
	"net/http"

	"github.com/gorilla/mux"

	log "github.com/hpe-storage/iscsid-core/logger"
)

// Route describes one control-surface endpoint: an HTTP method, a mux pattern and the handler
// that serves it.
type Route struct {
	Name        string
	Method      string
	Pattern     string
	HandlerFunc http.HandlerFunc
}

// InitializeRouter binds every route onto router, wrapping each handler with HTTPLogger so every
// control-surface call is logged the way the rest of the daemon's operations are.
func InitializeRouter(router *mux.Router, routes []Route) {
	for _, route := range routes {
		log.Debugf("util: registering route %s %s %s", route.Name, route.Method, route.Pattern)
		router.
			Methods(route.Method).
			Path(route.Pattern).
			Name(route.Name).
			Handler(log.HTTPLogger(route.HandlerFunc, route.Name))
	}
}
