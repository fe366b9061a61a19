// (c) Copyright 2024 Hewlett Packard Enterprise Development LP

// iscsid-core is the discovery daemon process: it wires the persistent store, bootstraps
// initiator identity, brings the dispatcher's discovery methods up, and serves the control
// surface over a Unix domain socket until told to stop.
package main

import (
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/hpe-storage/iscsid-core/logger"

	"github.com/hpe-storage/iscsid-core/config"
	"github.com/hpe-storage/iscsid-core/discovery/barrier"
	"github.com/hpe-storage/iscsid-core/discovery/dispatcher"
	"github.com/hpe-storage/iscsid-core/discovery/eventbus"
	"github.com/hpe-storage/iscsid-core/discovery/httpapi"
	"github.com/hpe-storage/iscsid-core/discovery/identity"
	"github.com/hpe-storage/iscsid-core/discovery/isnscodec"
	"github.com/hpe-storage/iscsid-core/discovery/registry"
	"github.com/hpe-storage/iscsid-core/discovery/store"
	"github.com/hpe-storage/iscsid-core/discovery/store/etcdstore"
	"github.com/hpe-storage/iscsid-core/discovery/store/filestore"
	"github.com/hpe-storage/iscsid-core/discovery/transport"
)

func main() {
	cfg := config.ApplyEnv(config.Default())

	err, lg := log.InitLogging("iscsid.log", &log.LogParams{Level: cfg.LogLevel, File: cfg.LogFile}, true, false)
	if err != nil {
		panic(err)
	}
	defer lg.CloseTracer()

	log.Info("**********************************************")
	log.Info("*************** ISCSID-CORE ******************")
	log.Info("**********************************************")

	st, err := openStore(cfg)
	if err != nil {
		log.Fatal("unable to open persistent store: ", err)
	}

	ifaces := func() ([]net.Interface, error) { return net.Interfaces() }
	if err := identity.Bootstrap(st, ifaces, time.Now); err != nil {
		log.Fatal("identity bootstrap failed: ", err)
	}

	// The Non-goals spec.md §1 names leave real kernel transport and real iSNS wire encoding
	// out of scope; the fakes stand in as the boundary a future transport/iSNS implementation
	// replaces without changing anything above this line.
	engine := transport.NewFakeEngine()
	codec := isnscodec.NewFakeCodec()
	reg := registry.New(engine, store.ConfiguredSessionsAdapter{Store: st}, st)

	sink := eventbus.NewWebSocketSink()
	b := barrier.New(sink, nil)
	d := dispatcher.New(b, st, engine, codec, reg, cfg.StormDelay)
	b.SetWake(d.Wake)

	if err := d.Init(false); err != nil {
		log.Fatal("dispatcher init failed: ", err)
	}

	router := httpapi.NewRouterWithEvents(d, sink)

	listener, socketPath, err := listen(cfg.HTTPBindAddress)
	if err != nil {
		log.Fatal("unable to bind control socket: ", err)
	}
	defer cleanupSocket(socketPath)

	serveResult := make(chan error, 1)
	go func() {
		serveResult <- http.Serve(listener, router)
	}()
	log.Infof("iscsid-core: serving control surface on %s", cfg.HTTPBindAddress)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case s := <-sig:
		log.Infof("iscsid-core: received signal %v, shutting down", s)
	case err := <-serveResult:
		log.Errorf("iscsid-core: control server exited: %v", err)
	}

	d.Fini()
	listener.Close()
}

// openStore constructs the persistent store backend config.StoreBackend names.
func openStore(cfg config.Config) (store.Store, error) {
	switch cfg.StoreBackend {
	case config.StoreBackendEtcd:
		return etcdstore.NewClient(cfg.EtcdEndpoints, cfg.EtcdAPIVersion)
	case config.StoreBackendMem:
		return store.NewMemStore(), nil
	default:
		return filestore.New(cfg.FileStorePath)
	}
}

// listen binds the control surface's address. A "unix:<path>" address creates the socket's
// parent directory first and removes any stale socket file left by an earlier, uncleanly
// stopped process, mirroring chapi2/chapi_linux.go's Run().
func listen(bindAddress string) (net.Listener, string, error) {
	network, address := splitBindAddress(bindAddress)
	if network != "unix" {
		l, err := net.Listen(network, address)
		return l, "", err
	}

	dir := parentDir(address)
	if dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, "", err
		}
	}
	os.Remove(address)

	l, err := net.Listen("unix", address)
	return l, address, err
}

func cleanupSocket(path string) {
	if path == "" {
		return
	}
	os.Remove(path)
}

func splitBindAddress(bindAddress string) (network, address string) {
	for i := 0; i < len(bindAddress); i++ {
		if bindAddress[i] == ':' {
			return bindAddress[:i], bindAddress[i+1:]
		}
	}
	return "tcp", bindAddress
}

func parentDir(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return ""
}
