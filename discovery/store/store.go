// (c) Copyright 2024 Hewlett Packard Enterprise Development LP

// Package store defines the persistent configuration store port (spec.md section 6, "Persistent
// store (consumed)") and an in-memory implementation used by tests and by discovery components
// that only need a Store to exist, not to persist across restarts. The two real backends,
// filestore and etcdstore, live in their own subpackages since each pulls in its own third-party
// client.
package store

import (
	"sync"

	"github.com/hpe-storage/iscsid-core/discovery/cerrors"
	"github.com/hpe-storage/iscsid-core/discovery/model"
)

// Store is the persistent configuration store every discovery component reads its durable input
// from. Each logical section carries its own lock, matching spec.md's "each logical section ...
// has its own lock exposed by the store; all enumeration is locked for the duration of the walk."
type Store interface {
	// Reload re-reads the backing medium, for backends where state can change underneath the
	// daemon between boots or while it is already running (an operator editing the filestore's
	// YAML document, another initiator writing to shared etcd). Backends with no cached state of
	// their own -- MemStore, etcdstore, which both read live on every call -- implement it as a
	// no-op.
	Reload() error

	DiscMethGet() (model.DiscoveryMethod, error)

	InitiatorNameGet() (string, error)
	InitiatorNameSet(name string) error
	AliasNameGet() (string, error)
	AliasNameSet(alias string) error
	ChapGet() (*model.ChapRecord, error)
	ChapSet(rec model.ChapRecord) error

	ParamLock()
	ParamUnlock()
	// ParamNext enumerates persisted parameter records starting from cursor (0 to begin); ok is
	// false once enumeration is exhausted. Callers must hold ParamLock for the duration of a walk.
	ParamNext(cursor int) (name string, rec *model.PersistentParamRecord, next int, ok bool, err error)
	ParamGet(name string) (*model.PersistentParamRecord, error)

	StaticAddrLock()
	StaticAddrUnlock()
	StaticAddrNext(cursor int) (entry *model.StaticTargetEntry, next int, ok bool, err error)

	DiscAddrLock()
	DiscAddrUnlock()
	DiscAddrNext(cursor int) (addr model.Address, next int, ok bool, err error)

	// GetConfigSession returns the configured session count stored under targetName ("" is the
	// per-initiator record); ok is false when no record exists under that exact name. The
	// per-target -> per-initiator -> default fallback is applied by ConfiguredSessionsAdapter.
	GetConfigSession(targetName string) (model.ConfiguredSessions, bool, error)
}

// ConfiguredSessionsAdapter wraps a Store as a registry.ConfigStore, applying the
// per-target/per-initiator/default fallback chain spec.md 4.C describes so the registry package
// itself stays store-agnostic.
type ConfiguredSessionsAdapter struct {
	Store Store
}

// ConfiguredSessions implements registry.ConfigStore.
func (a ConfiguredSessionsAdapter) ConfiguredSessions(targetName string) model.ConfiguredSessions {
	if cfg, ok, err := a.Store.GetConfigSession(targetName); err == nil && ok {
		return cfg
	}
	if cfg, ok, err := a.Store.GetConfigSession(""); err == nil && ok {
		return cfg
	}
	return model.DefaultConfiguredSessions
}

// MemStore is a process-memory Store, the test double and the "empty persistent store" spec.md's
// scenario 1 (barrier completeness) boots against.
type MemStore struct {
	mu sync.Mutex

	methods model.DiscoveryMethod

	initiatorName string
	aliasName     string
	chap          *model.ChapRecord

	paramMu sync.Mutex
	params  []*model.PersistentParamRecord

	staticMu sync.Mutex
	static   []*model.StaticTargetEntry

	discMu sync.Mutex
	disc   []model.Address

	sessionCfg map[string]model.ConfiguredSessions

	// ReloadCalls counts Reload invocations, for tests asserting a restart actually requests one.
	ReloadCalls int
}

// NewMemStore returns an empty MemStore with no discovery methods enabled.
func NewMemStore() *MemStore {
	return &MemStore{sessionCfg: map[string]model.ConfiguredSessions{}}
}

// Reload has nothing to re-read -- MemStore holds no backing medium -- but still counts the call
// so tests can assert a restart actually requested one.
func (m *MemStore) Reload() error {
	m.mu.Lock()
	m.ReloadCalls++
	m.mu.Unlock()
	return nil
}

func (m *MemStore) DiscMethGet() (model.DiscoveryMethod, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.methods, nil
}

// SetDiscMeth is a test/seed helper, not part of the Store port.
func (m *MemStore) SetDiscMeth(methods model.DiscoveryMethod) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.methods = methods
}

func (m *MemStore) InitiatorNameGet() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.initiatorName == "" {
		return "", cerrors.NewDiscoveryErrorf(cerrors.NotFound, "initiator name not set")
	}
	return m.initiatorName, nil
}

func (m *MemStore) InitiatorNameSet(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initiatorName = name
	return nil
}

func (m *MemStore) AliasNameGet() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.aliasName, nil
}

func (m *MemStore) AliasNameSet(alias string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.aliasName = alias
	return nil
}

func (m *MemStore) ChapGet() (*model.ChapRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.chap == nil {
		return nil, cerrors.NewDiscoveryErrorf(cerrors.NotFound, "no chap record configured")
	}
	cp := *m.chap
	return &cp, nil
}

func (m *MemStore) ChapSet(rec model.ChapRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := rec
	m.chap = &cp
	return nil
}

func (m *MemStore) ParamLock()   { m.paramMu.Lock() }
func (m *MemStore) ParamUnlock() { m.paramMu.Unlock() }

func (m *MemStore) ParamNext(cursor int) (string, *model.PersistentParamRecord, int, bool, error) {
	if cursor >= len(m.params) {
		return "", nil, cursor, false, nil
	}
	rec := m.params[cursor]
	return rec.Name, rec, cursor + 1, true, nil
}

func (m *MemStore) ParamGet(name string) (*model.PersistentParamRecord, error) {
	m.paramMu.Lock()
	defer m.paramMu.Unlock()
	for _, rec := range m.params {
		if rec.Name == name {
			return rec, nil
		}
	}
	return nil, cerrors.NewDiscoveryErrorf(cerrors.NotFound, "no param record for %s", name)
}

// PutParam is a test/seed helper.
func (m *MemStore) PutParam(rec *model.PersistentParamRecord) {
	m.paramMu.Lock()
	defer m.paramMu.Unlock()
	m.params = append(m.params, rec)
}

// RemoveTargetParam implements registry.ParamRemover: it deletes the persisted override record
// for targetName, if one exists. Called once the last session for that target is destroyed.
func (m *MemStore) RemoveTargetParam(targetName string) error {
	m.paramMu.Lock()
	defer m.paramMu.Unlock()
	for i, rec := range m.params {
		if rec.Name == targetName {
			m.params = append(m.params[:i], m.params[i+1:]...)
			return nil
		}
	}
	return nil
}

func (m *MemStore) StaticAddrLock()   { m.staticMu.Lock() }
func (m *MemStore) StaticAddrUnlock() { m.staticMu.Unlock() }

func (m *MemStore) StaticAddrNext(cursor int) (*model.StaticTargetEntry, int, bool, error) {
	if cursor >= len(m.static) {
		return nil, cursor, false, nil
	}
	return m.static[cursor], cursor + 1, true, nil
}

// PutStaticAddr is a test/seed helper.
func (m *MemStore) PutStaticAddr(entry *model.StaticTargetEntry) {
	m.staticMu.Lock()
	defer m.staticMu.Unlock()
	m.static = append(m.static, entry)
}

func (m *MemStore) DiscAddrLock()   { m.discMu.Lock() }
func (m *MemStore) DiscAddrUnlock() { m.discMu.Unlock() }

func (m *MemStore) DiscAddrNext(cursor int) (model.Address, int, bool, error) {
	if cursor >= len(m.disc) {
		return model.Address{}, cursor, false, nil
	}
	return m.disc[cursor], cursor + 1, true, nil
}

// PutDiscAddr is a test/seed helper.
func (m *MemStore) PutDiscAddr(addr model.Address) {
	m.discMu.Lock()
	defer m.discMu.Unlock()
	m.disc = append(m.disc, addr)
}

func (m *MemStore) GetConfigSession(targetName string) (model.ConfiguredSessions, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, ok := m.sessionCfg[targetName]
	return cfg, ok, nil
}

// PutConfigSession is a test/seed helper.
func (m *MemStore) PutConfigSession(targetName string, cfg model.ConfiguredSessions) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessionCfg[targetName] = cfg
}
