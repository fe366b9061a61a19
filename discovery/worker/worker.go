// (c) Copyright 2024 Hewlett Packard Enterprise Development LP

// Package worker implements the four method workers (component E): long-lived goroutines, one
// per discovery method, each executing "while wait(wake_or_stop) { body }" with start/end barrier
// events bracketing every iteration of the body, on every exit path including the disabled and
// failed ones.
package worker

import (
	"sync"

	log "github.com/hpe-storage/iscsid-core/logger"
	"github.com/hpe-storage/iscsid-core/discovery/barrier"
	"github.com/hpe-storage/iscsid-core/discovery/isnscodec"
	"github.com/hpe-storage/iscsid-core/discovery/model"
	"github.com/hpe-storage/iscsid-core/discovery/registry"
	"github.com/hpe-storage/iscsid-core/discovery/sendtargets"
	"github.com/hpe-storage/iscsid-core/discovery/store"
	"github.com/hpe-storage/iscsid-core/discovery/transport"
)

// EnabledBitmap is consulted by the Static, SendTargets and iSNS workers at the top of every cycle
// to decide whether to actually do work or just emit their start/end pair.
type EnabledBitmap interface {
	Enabled(method model.DiscoveryMethod) bool
}

// Worker is one method's wake-driven loop.
type Worker struct {
	method  model.DiscoveryMethod
	barrier *barrier.Barrier

	wake chan struct{}
	stop chan struct{}
	wg   sync.WaitGroup

	body   func()
	onStop func()
}

// Wake schedules one more cycle of the body. Non-blocking: if a wake is already pending, this is
// a no-op, since the pending cycle will observe current state anyway.
func (w *Worker) Wake() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Stop ends the worker's loop and waits for the current cycle, if any, to finish.
func (w *Worker) Stop() {
	close(w.stop)
	w.wg.Wait()
}

func (w *Worker) run() {
	defer w.wg.Done()
	for {
		select {
		case <-w.stop:
			if w.onStop != nil {
				w.onStop()
			}
			return
		case <-w.wake:
			w.barrier.Start(w.method)
			w.body()
			w.barrier.End(w.method)
		}
	}
}

func newWorker(method model.DiscoveryMethod, b *barrier.Barrier, body func()) *Worker {
	w := &Worker{
		method:  method,
		barrier: b,
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		body:    body,
	}
	w.wg.Add(1)
	go w.run()
	return w
}

// NewStatic returns the Static worker. It checks enabled at the top of every cycle rather than
// once at construction, since enable/disable can toggle the bitmap between cycles.
func NewStatic(b *barrier.Barrier, enabled EnabledBitmap, st store.Store, reg *registry.Registry) *Worker {
	body := func() {
		if !enabled.Enabled(model.MethodStatic) {
			log.Infof("worker: static not enabled, skipping cycle")
			return
		}

		st.StaticAddrLock()
		defer st.StaticAddrUnlock()

		cursor := 0
		for {
			entry, next, ok, err := st.StaticAddrNext(cursor)
			if err != nil {
				log.Errorf("worker: static enumeration failed, err=%v", err)
				return
			}
			if !ok {
				return
			}
			cursor = next

			if err := reg.Add(model.MethodStatic, entry.Addr, entry.TargetName, entry.TPGT, entry.Addr); err != nil {
				log.Errorf("worker: static add failed for %s, err=%v", entry.TargetName, err)
			}
		}
	}
	return newWorker(model.MethodStatic, b, body)
}

// NewSendTargets returns the SendTargets worker.
func NewSendTargets(b *barrier.Barrier, enabled EnabledBitmap, st store.Store, engine transport.Engine, reg *registry.Registry) *Worker {
	body := func() {
		if !enabled.Enabled(model.MethodSendTargets) {
			log.Infof("worker: sendtargets not enabled, skipping cycle")
			return
		}

		st.DiscAddrLock()
		defer st.DiscAddrUnlock()

		cursor := 0
		for {
			addr, next, ok, err := st.DiscAddrNext(cursor)
			if err != nil {
				log.Errorf("worker: sendtargets enumeration failed, err=%v", err)
				return
			}
			if !ok {
				return
			}
			cursor = next

			portals, err := sendtargets.Query(engine, addr)
			if err != nil {
				log.Warnf("worker: sendtargets query %v failed, err=%v, skipping", addr, err)
				continue
			}
			for _, p := range portals {
				if err := reg.Add(model.MethodSendTargets, addr, p.TargetName, p.TPGT, p.TargetAddr); err != nil {
					log.Errorf("worker: sendtargets add failed for %s, err=%v", p.TargetName, err)
				}
			}
		}
	}
	return newWorker(model.MethodSendTargets, b, body)
}

// NewISNS returns the iSNS worker. scn is the shared reaction-path handler (component G); the
// worker supplies it as the registration callback so SCN upcalls route through the same add/del
// paths the periodic sweep itself uses.
func NewISNS(b *barrier.Barrier, enabled EnabledBitmap, codec isnscodec.Codec, scn isnscodec.ScnHandler, reg *registry.Registry) *Worker {
	registered := false
	body := func() {
		if !enabled.Enabled(model.MethodISNS) {
			if registered {
				if err := codec.Dereg(); err != nil {
					log.Warnf("worker: isns dereg on disable failed, err=%v", err)
				}
				registered = false
			}
			log.Infof("worker: isns not enabled, skipping cycle")
			return
		}

		// Registration is idempotent by protocol; re-registering every cycle is harmless and
		// keeps the SCN callback current across codec restarts.
		if err := codec.Reg(scn); err != nil {
			log.Errorf("worker: isns registration failed, err=%v", err)
			return
		}
		registered = true

		portals, err := codec.Query()
		if err != nil {
			log.Errorf("worker: isns query_all failed, err=%v", err)
			return
		}
		for _, p := range portals {
			if err := reg.Add(model.MethodISNS, p.TargetAddr, p.TargetName, p.TPGT, p.TargetAddr); err != nil {
				log.Errorf("worker: isns add failed for %s, err=%v", p.TargetName, err)
			}
		}
	}

	w := newWorker(model.MethodISNS, b, body)
	w.onStop = func() {
		if registered {
			if err := codec.Dereg(); err != nil {
				log.Warnf("worker: isns dereg on stop failed, err=%v", err)
			}
		}
	}
	return w
}

// NewSLP returns the SLP worker. It is a stub: spec.md 4.E specifies it does nothing but complete
// the barrier, since this daemon's SLP support has no real probe to run yet.
func NewSLP(b *barrier.Barrier) *Worker {
	return newWorker(model.MethodSLP, b, func() {})
}
