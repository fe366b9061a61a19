// (c) Copyright 2024 Hewlett Packard Enterprise Development LP

// Package httpapi is the control surface spec.md section 6 calls "Control surface consumed (from
// CLI/ioctl)", implemented as a local HTTP API instead of an ioctl: a CLI or the init system talks
// to the daemon over this router. Every handler follows the teacher's Response{Data,Err} envelope
// and logging convention from chapi2/handler.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	log "github.com/hpe-storage/iscsid-core/logger"

	"github.com/hpe-storage/iscsid-core/discovery/addr"
	"github.com/hpe-storage/iscsid-core/discovery/cerrors"
	"github.com/hpe-storage/iscsid-core/discovery/dispatcher"
	"github.com/hpe-storage/iscsid-core/discovery/model"
	"github.com/hpe-storage/iscsid-core/util"
)

// Response is the JSON envelope every handler writes, matching the teacher's chapi2 handler
// convention.
type Response struct {
	Data interface{} `json:"data,omitempty"`
	Err  interface{} `json:"errors,omitempty"`
}

// Handlers binds the control surface onto a Dispatcher.
type Handlers struct {
	d *dispatcher.Dispatcher
}

// New returns a Handlers bound to d.
func New(d *dispatcher.Dispatcher) *Handlers {
	return &Handlers{d: d}
}

// NewRouter builds the mux.Router serving every control-surface route.
func NewRouter(d *dispatcher.Dispatcher) *mux.Router {
	h := New(d)
	routes := []util.Route{
		{Name: "Init", Method: "POST", Pattern: "/api/v1/init", HandlerFunc: h.Init},
		{Name: "Fini", Method: "POST", Pattern: "/api/v1/fini", HandlerFunc: h.Fini},
		{Name: "PropsGet", Method: "GET", Pattern: "/api/v1/props", HandlerFunc: h.PropsGet},
		{Name: "Enable", Method: "POST", Pattern: "/api/v1/enable", HandlerFunc: h.Enable},
		{Name: "Disable", Method: "POST", Pattern: "/api/v1/disable", HandlerFunc: h.Disable},
		{Name: "Poke", Method: "POST", Pattern: "/api/v1/poke", HandlerFunc: h.Poke},
		{Name: "ConfigOne", Method: "POST", Pattern: "/api/v1/config_one", HandlerFunc: h.ConfigOne},
		{Name: "ConfigAll", Method: "POST", Pattern: "/api/v1/config_all", HandlerFunc: h.ConfigAll},
		{Name: "DoSendTargets", Method: "POST", Pattern: "/api/v1/sendtargets", HandlerFunc: h.DoSendTargets},
		{Name: "DoISNSQuery", Method: "POST", Pattern: "/api/v1/isns_query", HandlerFunc: h.DoISNSQuery},
	}
	router := mux.NewRouter().StrictSlash(true)
	util.InitializeRouter(router, routes)
	return router
}

// NewRouterWithEvents is NewRouter plus a GET /api/v1/events route handled directly by events
// (an *eventbus.WebSocketSink in production), for the readiness daemon to subscribe to barrier
// start/end notifications over the same control socket.
func NewRouterWithEvents(d *dispatcher.Dispatcher, events http.Handler) *mux.Router {
	router := NewRouter(d)
	router.Methods("GET").Path("/api/v1/events").Name("Events").Handler(events)
	return router
}

func writeResponse(w http.ResponseWriter, resp Response) {
	json.NewEncoder(w).Encode(resp)
}

func writeError(w http.ResponseWriter, err error, status int) {
	log.Errorf("httpapi: %v", err)
	w.WriteHeader(status)
	writeResponse(w, Response{Err: err.Error()})
}

func statusFor(err error) int {
	de, ok := err.(*cerrors.DiscoveryError)
	if !ok {
		return http.StatusInternalServerError
	}
	switch de.ErrorCode() {
	case cerrors.BadAddress:
		return http.StatusBadRequest
	case cerrors.WorkerMissing:
		return http.StatusConflict
	case cerrors.SessionBusy:
		return http.StatusConflict
	case cerrors.NotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

type initRequest struct {
	Restart bool `json:"restart"`
}

// Init handles POST /api/v1/init.
func (h *Handlers) Init(w http.ResponseWriter, r *http.Request) {
	var req initRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	if err := h.d.Init(req.Restart); err != nil {
		writeError(w, err, statusFor(err))
		return
	}
	writeResponse(w, Response{})
}

// Fini handles POST /api/v1/fini.
func (h *Handlers) Fini(w http.ResponseWriter, r *http.Request) {
	h.d.Fini()
	writeResponse(w, Response{})
}

// PropsGet handles GET /api/v1/props.
func (h *Handlers) PropsGet(w http.ResponseWriter, r *http.Request) {
	writeResponse(w, Response{Data: h.d.Props()})
}

type methodMaskRequest struct {
	Methods []string `json:"methods"`
	Poke    bool     `json:"poke"`
}

func decodeMask(r *http.Request) (model.DiscoveryMethod, bool, error) {
	var req methodMaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return 0, false, cerrors.NewDiscoveryErrorf(cerrors.BadAddress, "malformed request body: %v", err)
	}
	mask, err := model.ParseMethodMask(req.Methods)
	if err != nil {
		return 0, false, cerrors.NewDiscoveryErrorf(cerrors.BadAddress, "%v", err)
	}
	return mask, req.Poke, nil
}

// Enable handles POST /api/v1/enable.
func (h *Handlers) Enable(w http.ResponseWriter, r *http.Request) {
	mask, poke, err := decodeMask(r)
	if err != nil {
		writeError(w, err, statusFor(err))
		return
	}
	if err := h.d.Enable(mask, poke); err != nil {
		writeError(w, err, statusFor(err))
		return
	}
	writeResponse(w, Response{})
}

// Disable handles POST /api/v1/disable.
func (h *Handlers) Disable(w http.ResponseWriter, r *http.Request) {
	mask, _, err := decodeMask(r)
	if err != nil {
		writeError(w, err, statusFor(err))
		return
	}
	if err := h.d.Disable(mask); err != nil {
		writeError(w, err, statusFor(err))
		return
	}
	writeResponse(w, Response{})
}

type pokeRequest struct {
	Method string `json:"method,omitempty"`
}

// Poke handles POST /api/v1/poke. An empty or missing method pokes every method.
func (h *Handlers) Poke(w http.ResponseWriter, r *http.Request) {
	var req pokeRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	method := model.MethodUnknown
	if req.Method != "" {
		mask, err := model.ParseMethodMask([]string{req.Method})
		if err != nil {
			writeError(w, cerrors.NewDiscoveryErrorf(cerrors.BadAddress, "%v", err), http.StatusBadRequest)
			return
		}
		method = mask
	}
	h.d.Poke(method)
	writeResponse(w, Response{})
}

type configOneRequest struct {
	Name    string `json:"name"`
	Protect bool   `json:"protect"`
}

// ConfigOne handles POST /api/v1/config_one.
func (h *Handlers) ConfigOne(w http.ResponseWriter, r *http.Request) {
	var req configOneRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, cerrors.NewDiscoveryErrorf(cerrors.BadAddress, "malformed request body: %v", err), http.StatusBadRequest)
		return
	}
	if err := h.d.ConfigOne(req.Name, req.Protect); err != nil {
		writeError(w, err, statusFor(err))
		return
	}
	writeResponse(w, Response{})
}

type configAllRequest struct {
	Protect bool `json:"protect"`
}

// ConfigAll handles POST /api/v1/config_all.
func (h *Handlers) ConfigAll(w http.ResponseWriter, r *http.Request) {
	var req configAllRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	if err := h.d.ConfigAll(req.Protect); err != nil {
		writeError(w, err, statusFor(err))
		return
	}
	writeResponse(w, Response{})
}

type sendTargetsRequest struct {
	Address string `json:"address"`
}

// DoSendTargets handles POST /api/v1/sendtargets.
func (h *Handlers) DoSendTargets(w http.ResponseWriter, r *http.Request) {
	var req sendTargetsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, cerrors.NewDiscoveryErrorf(cerrors.BadAddress, "malformed request body: %v", err), http.StatusBadRequest)
		return
	}
	discoveryAddr, err := addr.ParseHostPort(req.Address)
	if err != nil {
		writeError(w, err, statusFor(err))
		return
	}

	portals, err := h.d.DoSendTargets(discoveryAddr)
	if err != nil {
		writeError(w, err, statusFor(err))
		return
	}
	writeResponse(w, Response{Data: portals})
}

// DoISNSQuery handles POST /api/v1/isns_query.
func (h *Handlers) DoISNSQuery(w http.ResponseWriter, r *http.Request) {
	portals, err := h.d.DoISNSQuery()
	if err != nil {
		writeError(w, err, statusFor(err))
		return
	}
	writeResponse(w, Response{Data: portals})
}
