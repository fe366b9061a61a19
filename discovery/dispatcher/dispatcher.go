// (c) Copyright 2024 Hewlett Packard Enterprise Development LP

// Package dispatcher implements the discovery dispatcher (component F), the entry point for every
// user command: init, fini, enable, disable, config_one, config_all. It owns the four permanent
// method-worker goroutines for the life of the process; enable/disable only ever toggle which
// methods those workers act on, per spec.md 4.F's "never creates workers" rule.
package dispatcher

import (
	"sync"
	"time"

	log "github.com/hpe-storage/iscsid-core/logger"
	"github.com/hpe-storage/iscsid-core/discovery/barrier"
	"github.com/hpe-storage/iscsid-core/discovery/cerrors"
	"github.com/hpe-storage/iscsid-core/discovery/isnscodec"
	"github.com/hpe-storage/iscsid-core/discovery/model"
	"github.com/hpe-storage/iscsid-core/discovery/params"
	"github.com/hpe-storage/iscsid-core/discovery/registry"
	"github.com/hpe-storage/iscsid-core/discovery/sendtargets"
	"github.com/hpe-storage/iscsid-core/discovery/store"
	"github.com/hpe-storage/iscsid-core/discovery/transport"
	"github.com/hpe-storage/iscsid-core/discovery/worker"
)

// Dispatcher is the discovery dispatcher.
type Dispatcher struct {
	barrier  *barrier.Barrier
	store    store.Store
	engine   transport.Engine
	codec    isnscodec.Codec
	registry *registry.Registry

	stormDelay time.Duration

	enabledMu sync.Mutex
	enabled   model.DiscoveryMethod

	// configSem is the process-wide config semaphore spec.md 5 describes: config_one/config_all
	// are serialized by it for the whole process, not just per-target.
	configSem sync.Mutex

	lastConfigMu sync.Mutex
	lastConfig   time.Time

	workersMu  sync.Mutex
	workers    map[model.DiscoveryMethod]*worker.Worker
	initialized bool
}

// New returns a Dispatcher. Workers are not spawned until the first Init call.
func New(b *barrier.Barrier, st store.Store, engine transport.Engine, codec isnscodec.Codec, reg *registry.Registry, stormDelay time.Duration) *Dispatcher {
	return &Dispatcher{
		barrier:    b,
		store:      st,
		engine:     engine,
		codec:      codec,
		registry:   reg,
		stormDelay: stormDelay,
		workers:    map[model.DiscoveryMethod]*worker.Worker{},
	}
}

// Wake implements barrier.WakeFunc: it wakes the worker for method, or every worker when method
// is MethodUnknown. Callers wire this in with barrier.SetWake once the Dispatcher exists, since
// the barrier is necessarily constructed before the Dispatcher that owns the workers it wakes.
func (d *Dispatcher) Wake(method model.DiscoveryMethod) {
	d.workersMu.Lock()
	defer d.workersMu.Unlock()
	for _, m := range model.Methods {
		if method != model.MethodUnknown && !method.Has(m) {
			continue
		}
		if w, ok := d.workers[m]; ok {
			w.Wake()
		}
	}
}

// Enabled implements worker.EnabledBitmap.
func (d *Dispatcher) Enabled(m model.DiscoveryMethod) bool {
	d.enabledMu.Lock()
	defer d.enabledMu.Unlock()
	return d.enabled.Has(m)
}

// reactToSCN is the iSNS reaction path (component G), wired as the iSNS worker's registration
// callback so both the periodic sweep and upcall-driven ingestion route through the same
// registry.Add/Del paths and take the same registry lock.
func (d *Dispatcher) reactToSCN(scnType isnscodec.ScnType, sourceKey model.SessionKey) {
	switch scnType {
	case isnscodec.ObjAdded:
		portals, err := d.codec.QueryOneNode(sourceKey)
		if err != nil {
			log.Errorf("dispatcher: isns query_one_node for %v failed, err=%v", sourceKey, err)
			return
		}
		for _, p := range portals {
			if err := d.registry.Add(model.MethodISNS, sourceKey.DiscAddr, p.TargetName, p.TPGT, p.TargetAddr); err != nil {
				log.Errorf("dispatcher: isns scn add failed for %s, err=%v", p.TargetName, err)
			}
		}
		d.registry.LoginTargets(&sourceKey.TargetName, model.MethodISNS, nil)
	case isnscodec.ObjRemoved:
		if err := d.registry.Del(&sourceKey.TargetName, model.MethodISNS, nil); err != nil {
			log.Warnf("dispatcher: isns scn del for %v failed, err=%v", sourceKey, err)
		}
	case isnscodec.ObjUpdated:
		log.Infof("dispatcher: isns scn update for %v", sourceKey)
	default:
		log.Infof("dispatcher: isns scn unknown type=%d for %v", scnType, sourceKey)
	}
}

// Init initializes the dispatcher: on first call it spawns the four permanent workers; on every
// call (restart or not) it pushes persisted parameters into the transport engine and brings the
// enabled/disabled method set in line with the persisted bitmap. restart=true additionally
// re-reads the persistent store before anything else runs, per spec.md 4.F's "load persistent
// store (restart=true means re-read)". Any step failing still releases the barrier for every
// method, since an external readiness daemon is blocking on it.
func (d *Dispatcher) Init(restart bool) error {
	d.workersMu.Lock()
	if !d.initialized {
		d.spawnWorkersLocked()
		d.initialized = true
	}
	d.workersMu.Unlock()

	if restart {
		if err := d.store.Reload(); err != nil {
			d.releaseAllLocked()
			return cerrors.NewDiscoveryErrorf(cerrors.StoreUnavailable, "dispatcher: init reload failed: %v", err)
		}
	}

	if err := d.initConfig(); err != nil {
		d.releaseAllLocked()
		return err
	}
	if err := d.initTargets(); err != nil {
		d.releaseAllLocked()
		return err
	}

	methods, err := d.store.DiscMethGet()
	if err != nil {
		d.releaseAllLocked()
		return cerrors.NewDiscoveryErrorf(cerrors.StoreUnavailable, "dispatcher: disc_meth_get failed: %v", err)
	}

	if err := d.Disable(methods.Complement()); err != nil {
		d.releaseAllLocked()
		return err
	}
	if err := d.Enable(methods, false); err != nil {
		d.releaseAllLocked()
		return err
	}
	if methods != model.MethodUnknown {
		d.barrier.Poke(methods)
	}
	return nil
}

func (d *Dispatcher) spawnWorkersLocked() {
	d.workers[model.MethodStatic] = worker.NewStatic(d.barrier, d, d.store, d.registry)
	d.workers[model.MethodSendTargets] = worker.NewSendTargets(d.barrier, d, d.store, d.engine, d.registry)
	d.workers[model.MethodISNS] = worker.NewISNS(d.barrier, d, d.codec, d.reactToSCN, d.registry)
	d.workers[model.MethodSLP] = worker.NewSLP(d.barrier)
}

// releaseAllLocked synthesizes a (start, end) pair for every method so a caller blocked on the
// barrier is released even though init failed partway through.
func (d *Dispatcher) releaseAllLocked() {
	for _, m := range model.Methods {
		d.barrier.Start(m)
		d.barrier.End(m)
	}
}

// initConfig installs the per-initiator overridden params. Initiator name and alias themselves
// are seeded once, by the identity bootstrap (component H), before Init ever runs; init_config's
// remaining job on every call is pushing the per-initiator param record into the transport engine.
func (d *Dispatcher) initConfig() error {
	rec, err := d.store.ParamGet("")
	if err != nil {
		if de, ok := err.(*cerrors.DiscoveryError); ok && de.ErrorCode() == cerrors.NotFound {
			return nil
		}
		return cerrors.NewDiscoveryErrorf(cerrors.StoreUnavailable, "dispatcher: init_config param lookup failed: %v", err)
	}

	for _, req := range params.ProjectOverrides(rec.Overrides, rec.Params) {
		if err := d.engine.SetParams("", req); err != nil {
			log.Errorf("dispatcher: init_config set_params %s failed, err=%v", req.Param, err)
		}
	}
	return nil
}

// initTargets installs every per-target parameter override without logging in, per spec.md 4.F.
func (d *Dispatcher) initTargets() error {
	d.store.ParamLock()
	defer d.store.ParamUnlock()

	cursor := 0
	for {
		name, rec, next, ok, err := d.store.ParamNext(cursor)
		if err != nil {
			return cerrors.NewDiscoveryErrorf(cerrors.StoreUnavailable, "dispatcher: init_targets enumeration failed: %v", err)
		}
		if !ok {
			return nil
		}
		cursor = next

		if name == "" {
			continue // per-initiator record, already handled by init_config
		}
		for _, req := range params.ProjectOverrides(rec.Overrides, rec.Params) {
			if err := d.engine.SetParams(name, req); err != nil {
				log.Errorf("dispatcher: init_targets set_params %s/%s failed, err=%v", name, req.Param, err)
			}
		}
	}
}

// Enable starts (marks runnable) every method in mask; if poke, it also wakes each worker
// immediately. It never spawns a worker: Init must have already run.
func (d *Dispatcher) Enable(mask model.DiscoveryMethod, poke bool) error {
	d.workersMu.Lock()
	defer d.workersMu.Unlock()

	for _, m := range model.Methods {
		if !mask.Has(m) {
			continue
		}
		w, ok := d.workers[m]
		if !ok {
			return cerrors.NewDiscoveryErrorf(cerrors.WorkerMissing, "dispatcher: enable requested for %v before init spawned workers", m)
		}
		d.enabledMu.Lock()
		d.enabled |= m
		d.enabledMu.Unlock()
		if poke {
			w.Wake()
		}
	}
	return nil
}

// Disable stops every method in mask: publish start, try to tear down its sessions, clear the
// enabled bit only on success, publish end unconditionally. A del failure for one method aborts
// the rest of the batch.
func (d *Dispatcher) Disable(mask model.DiscoveryMethod) error {
	for _, m := range model.Methods {
		if !mask.Has(m) {
			continue
		}

		d.barrier.Start(m)
		err := d.registry.Del(nil, m, nil)
		if err == nil {
			d.enabledMu.Lock()
			d.enabled &^= m
			d.enabledMu.Unlock()
		}
		d.barrier.End(m)

		if err != nil {
			return cerrors.NewDiscoveryErrorf(cerrors.SessionBusy, "dispatcher: disable %v failed: %v", m, err)
		}
	}
	return nil
}

// ConfigOne implements config_one: try a login for name; if nothing matched and either protect is
// false or the debounce window has expired, poke and retry once. Serialized process-wide by the
// config semaphore.
func (d *Dispatcher) ConfigOne(name string, protect bool) error {
	d.configSem.Lock()
	defer d.configSem.Unlock()

	if d.registry.LoginTargets(&name, model.MethodUnknown, nil) {
		d.touchLastConfig()
		return nil
	}

	if protect && !d.debounceExpired() {
		d.touchLastConfig()
		return nil
	}

	d.barrier.Poke(model.MethodUnknown)
	d.registry.LoginTargets(&name, model.MethodUnknown, nil)
	d.touchLastConfig()
	return nil
}

// ConfigAll implements config_all: same debounce semantics as ConfigOne, then an unconditional
// login sweep across every session.
func (d *Dispatcher) ConfigAll(protect bool) error {
	d.configSem.Lock()
	defer d.configSem.Unlock()

	if protect && !d.debounceExpired() {
		d.registry.LoginTargets(nil, model.MethodUnknown, nil)
		d.touchLastConfig()
		return nil
	}

	d.barrier.Poke(model.MethodUnknown)
	d.registry.LoginTargets(nil, model.MethodUnknown, nil)
	d.touchLastConfig()
	return nil
}

func (d *Dispatcher) debounceExpired() bool {
	d.lastConfigMu.Lock()
	defer d.lastConfigMu.Unlock()
	return time.Now().After(d.lastConfig.Add(d.stormDelay))
}

func (d *Dispatcher) touchLastConfig() {
	d.lastConfigMu.Lock()
	d.lastConfig = time.Now()
	d.lastConfigMu.Unlock()
}

// Fini stops every worker goroutine, for process shutdown.
func (d *Dispatcher) Fini() {
	d.workersMu.Lock()
	defer d.workersMu.Unlock()
	for _, w := range d.workers {
		w.Stop()
	}
}

// Poke exposes the barrier's poke operation to the control surface (spec.md section 6's
// consumed `poke(method?)`).
func (d *Dispatcher) Poke(method model.DiscoveryMethod) {
	d.barrier.Poke(method)
}

// Props is the snapshot `props_get` returns to the control surface.
type Props struct {
	Enabled      model.DiscoveryMethod `json:"enabled"`
	InProgress   bool                  `json:"in_progress"`
	EmittedEnds  model.DiscoveryMethod `json:"emitted_ends"`
	SessionCount int                   `json:"session_count"`
}

// Props reports the dispatcher's current state for `props_get`.
func (d *Dispatcher) Props() Props {
	d.enabledMu.Lock()
	enabled := d.enabled
	d.enabledMu.Unlock()

	return Props{
		Enabled:      enabled,
		InProgress:   d.barrier.InProgress(),
		EmittedEnds:  d.barrier.EmittedEnds(),
		SessionCount: len(d.registry.Sessions()),
	}
}

// DoSendTargets runs one ad hoc SendTargets query against addr outside the worker's regular
// cycle, for the control surface's `do_sendtgts(addr)`, registering whatever portals it finds.
func (d *Dispatcher) DoSendTargets(addr model.Address) ([]model.DiscoveredPortal, error) {
	portals, err := sendtargets.Query(d.engine, addr)
	if err != nil {
		return nil, err
	}
	for _, p := range portals {
		if err := d.registry.Add(model.MethodSendTargets, addr, p.TargetName, p.TPGT, p.TargetAddr); err != nil {
			log.Errorf("dispatcher: do_sendtgts add failed for %s, err=%v", p.TargetName, err)
		}
	}
	return portals, nil
}

// DoISNSQuery runs one ad hoc full iSNS query outside the worker's regular cycle, for the control
// surface's `do_isns_query()`, registering whatever portals it finds.
func (d *Dispatcher) DoISNSQuery() ([]model.DiscoveredPortal, error) {
	portals, err := d.codec.Query()
	if err != nil {
		return nil, err
	}
	for _, p := range portals {
		if err := d.registry.Add(model.MethodISNS, p.TargetAddr, p.TargetName, p.TPGT, p.TargetAddr); err != nil {
			log.Errorf("dispatcher: do_isns_query add failed for %s, err=%v", p.TargetName, err)
		}
	}
	return portals, nil
}
