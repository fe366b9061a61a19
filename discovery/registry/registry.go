// (c) Copyright 2024 Hewlett Packard Enterprise Development LP

// Package registry implements the session registry (component C): the single source of truth for
// which iSCSI sessions exist, keyed by SessionKey. Every write goes through a single-writer lock;
// readers walking the list restart from the head whenever their own destroy mutates it, per
// spec.md 4.C's ordering rule.
package registry

import (
	"sync"

	log "github.com/hpe-storage/iscsid-core/logger"
	"github.com/hpe-storage/iscsid-core/discovery/cerrors"
	"github.com/hpe-storage/iscsid-core/discovery/model"
)

// Transport is the outbound port to the session/connection engine. The registry never talks to
// the kernel iSCSI transport directly; it only ever drives it through this port, so tests can
// swap in a fake.
type Transport interface {
	// SessGetOrCreate returns the existing session for key or creates one, attaching opaque
	// transport-private state.
	SessGetOrCreate(key model.SessionKey, tpgt uint16, state model.SessionState) (interface{}, error)
	// ConnGetOrCreate attaches (or confirms) a connection to targetAddr under the given
	// session's opaque transport state.
	ConnGetOrCreate(sess interface{}, targetAddr model.Address) error
	// Destroy tears a session down. A busy session returns an error and must be left in place.
	Destroy(sess interface{}) error
	// Online requests login on an existing session.
	Online(sess interface{}) error
}

// ConfigStore is the subset of the persistent store the registry consults when deciding how many
// sessions to fan a single target out to.
type ConfigStore interface {
	ConfiguredSessions(targetName string) model.ConfiguredSessions
}

// ParamRemover removes an orphaned target-parameter record after the last session for a target
// name is destroyed (spec.md 4.F's remove_target_param).
type ParamRemover interface {
	RemoveTargetParam(targetName string) error
}

type entry struct {
	key  model.SessionKey
	sess model.Session
	tx   interface{}
}

// Registry is the session table.
type Registry struct {
	mu        sync.Mutex
	entries   []*entry
	transport Transport
	store     ConfigStore
	params    ParamRemover
}

// New returns an empty Registry driving sess/conn lifecycle through transport.
func New(transport Transport, store ConfigStore, params ParamRemover) *Registry {
	return &Registry{transport: transport, store: store, params: params}
}

// Add fans target_name/target_addr out across the configured session count (per-target override,
// else per-initiator default, else DefaultConfiguredSessions), creating each missing
// (session, connection) pair. A failure partway through aborts the batch, leaving earlier
// sessions in place -- this mirrors pre-existing semantics, not a design preference.
func (r *Registry) Add(method model.DiscoveryMethod, discoveredAddr model.Address, targetName string, tpgt uint16, targetAddr model.Address) error {
	cfg := r.store.ConfiguredSessions(targetName)
	if cfg.Count <= 0 {
		cfg = model.DefaultConfiguredSessions
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for isid := 0; isid < cfg.Count; isid++ {
		key := model.SessionKey{
			TargetName: targetName,
			Method:     method,
			DiscAddr:   discoveredAddr,
			ISID:       isid,
		}

		tx, err := r.transport.SessGetOrCreate(key, tpgt, model.SessionNormal)
		if err != nil {
			log.Errorf("registry: add sess_get_or_create failed, key=%v isid=%d, err=%v", key, isid, err)
			return cerrors.NewDiscoveryErrorf(cerrors.RPCFailure, "session create failed for %v: %v", key, err)
		}
		if err := r.transport.ConnGetOrCreate(tx, targetAddr); err != nil {
			log.Errorf("registry: add conn_get_or_create failed, key=%v isid=%d, err=%v", key, isid, err)
			return cerrors.NewDiscoveryErrorf(cerrors.RPCFailure, "connection create failed for %v: %v", key, err)
		}

		r.upsertLocked(&entry{
			key: key,
			sess: model.Session{
				Key:          key,
				TargetAddr:   targetAddr,
				TPGT:         tpgt,
				DiscoveredBy: method,
				State:        model.SessionNormal,
			},
			tx: tx,
		})
	}
	return nil
}

func (r *Registry) upsertLocked(e *entry) {
	for i, existing := range r.entries {
		if existing.key == e.key {
			r.entries[i] = e
			return
		}
	}
	r.entries = append(r.entries, e)
}

// matches implements the shared candidate/address matching algebra for Del and LoginTargets.
func matches(e *entry, targetName *string, method model.DiscoveryMethod, discoveredAddr *model.Address) bool {
	if targetName != nil && e.key.TargetName != *targetName {
		return false
	}
	if method != model.MethodUnknown && e.key.Method != method {
		return false
	}

	if discoveredAddr == nil {
		return true
	}
	switch e.key.Method {
	case model.MethodISNS, model.MethodSendTargets:
		return e.key.DiscAddr.Equal(*discoveredAddr)
	case model.MethodStatic:
		return e.sess.TargetAddr.Equal(*discoveredAddr)
	default:
		return true
	}
}

// Del walks the registry destroying every matching session. Destroy failures (e.g. busy) keep
// the session in place and mark the aggregate result a failure, but do not stop the walk. After a
// successful destroy the iterator restarts from the head, since the slice it's walking was just
// mutated by the destroy it issued.
func (r *Registry) Del(targetName *string, method model.DiscoveryMethod, discoveredAddr *model.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	failed := false
	removedTargets := map[string]bool{}

restart:
	for i, e := range r.entries {
		if e.key.Method != method || !matches(e, targetName, method, discoveredAddr) {
			continue
		}

		if err := r.transport.Destroy(e.tx); err != nil {
			log.Warnf("registry: del destroy failed for %v, err=%v, leaving session in place", e.key, err)
			failed = true
			continue
		}

		r.entries = append(r.entries[:i], r.entries[i+1:]...)
		removedTargets[e.key.TargetName] = true
		goto restart
	}

	for name := range removedTargets {
		if r.stillHasSessionLocked(name) {
			continue
		}
		if r.params == nil {
			continue
		}
		if err := r.params.RemoveTargetParam(name); err != nil {
			log.Warnf("registry: orphaned param cleanup failed for target=%s, err=%v", name, err)
		}
	}

	if failed {
		return cerrors.NewDiscoveryErrorf(cerrors.SessionBusy, "one or more sessions for target=%v could not be destroyed", targetName)
	}
	return nil
}

func (r *Registry) stillHasSessionLocked(targetName string) bool {
	for _, e := range r.entries {
		if e.key.TargetName == targetName {
			return true
		}
	}
	return false
}

// LoginTargets walks the registry with the same matching algebra as Del, with one difference:
// method = Unknown matches every session (config_all rides this). Each match is asked to come
// online; the return value reports whether at least one session was matched, regardless of
// whether the online request itself succeeded.
func (r *Registry) LoginTargets(targetName *string, method model.DiscoveryMethod, discoveredAddr *model.Address) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	matched := false
	for _, e := range r.entries {
		if !matches(e, targetName, method, discoveredAddr) {
			continue
		}
		matched = true
		if err := r.transport.Online(e.tx); err != nil {
			log.Warnf("registry: login_targets online failed for %v, err=%v", e.key, err)
		}
	}
	return matched
}

// Sessions returns a snapshot of every session currently registered, for props/status reporting.
func (r *Registry) Sessions() []model.Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]model.Session, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.sess)
	}
	return out
}
