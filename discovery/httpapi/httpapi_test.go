// (c) Copyright 2024 Hewlett Packard Enterprise Development LP

package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"

	"github.com/hpe-storage/iscsid-core/discovery/barrier"
	"github.com/hpe-storage/iscsid-core/discovery/dispatcher"
	"github.com/hpe-storage/iscsid-core/discovery/eventbus"
	"github.com/hpe-storage/iscsid-core/discovery/isnscodec"
	"github.com/hpe-storage/iscsid-core/discovery/model"
	"github.com/hpe-storage/iscsid-core/discovery/registry"
	"github.com/hpe-storage/iscsid-core/discovery/store"
	"github.com/hpe-storage/iscsid-core/discovery/transport"
)

func newTestRouter(t *testing.T) (*mux.Router, *dispatcher.Dispatcher, *transport.FakeEngine) {
	t.Helper()
	sink := eventbus.NewFakeSink()
	st := store.NewMemStore()
	engine := transport.NewFakeEngine()
	codec := isnscodec.NewFakeCodec()
	reg := registry.New(engine, store.ConfiguredSessionsAdapter{Store: st}, st)

	b := barrier.New(sink, nil)
	d := dispatcher.New(b, st, engine, codec, reg, time.Minute)
	b.SetWake(d.Wake)

	return NewRouter(d), d, engine
}

func doJSON(router http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = strings.NewReader(string(raw))
	} else {
		reader = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestInitThenPropsGet(t *testing.T) {
	router, _, _ := newTestRouter(t)

	rec := doJSON(router, "POST", "/api/v1/init", initRequest{Restart: false})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(router, "GET", "/api/v1/props", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp Response
	assert.Nil(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Nil(t, resp.Err)
}

func TestEnableBeforeInitReturnsConflict(t *testing.T) {
	router, _, _ := newTestRouter(t)

	rec := doJSON(router, "POST", "/api/v1/enable", methodMaskRequest{Methods: []string{"static"}})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestEnableRejectsUnknownMethodName(t *testing.T) {
	router, _, _ := newTestRouter(t)
	doJSON(router, "POST", "/api/v1/init", initRequest{})

	rec := doJSON(router, "POST", "/api/v1/enable", methodMaskRequest{Methods: []string{"bogus"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDoSendTargetsRejectsMalformedAddress(t *testing.T) {
	router, _, _ := newTestRouter(t)

	rec := doJSON(router, "POST", "/api/v1/sendtargets", sendTargetsRequest{Address: "not-an-address"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDoSendTargetsReturnsDiscoveredPortals(t *testing.T) {
	router, _, engine := newTestRouter(t)
	engine.SendTargetsFn = func(addr model.Address, capacity int) ([]model.DiscoveredPortal, int, error) {
		return []model.DiscoveredPortal{{TargetName: "iqn.x", TargetAddr: addr, TPGT: 0}}, 1, nil
	}

	rec := doJSON(router, "POST", "/api/v1/sendtargets", sendTargetsRequest{Address: "10.0.0.5:3260"})
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp Response
	assert.Nil(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotNil(t, resp.Data)
}

func TestConfigOneOnEmptyRegistryStillSucceeds(t *testing.T) {
	router, _, _ := newTestRouter(t)
	doJSON(router, "POST", "/api/v1/init", initRequest{})

	rec := doJSON(router, "POST", "/api/v1/config_one", configOneRequest{Name: "iqn.x", Protect: false})
	assert.Equal(t, http.StatusOK, rec.Code)
}
