// (c) Copyright 2024 Hewlett Packard Enterprise Development LP

// Package filestore is a file-backed Store: one YAML document on disk holding the initiator
// identity, CHAP secret, static target list, discovery address list, and per-target parameter
// overrides. It watches the file with fsnotify (through the adapted util.FileWatch) so an
// operator editing the file in place is picked up without a daemon restart.
package filestore

import (
	"io/ioutil"
	"os"
	"sync"

	"github.com/mitchellh/mapstructure"
	yaml "gopkg.in/yaml.v2"

	log "github.com/hpe-storage/iscsid-core/logger"
	"github.com/hpe-storage/iscsid-core/discovery/cerrors"
	"github.com/hpe-storage/iscsid-core/discovery/model"
	"github.com/hpe-storage/iscsid-core/util"
)

// document is the on-disk shape. Kept loosely typed at the YAML layer (raw maps decoded through
// mapstructure) so a file written by a newer daemon with extra per-target fields still loads: the
// catalogue-unaware fields get dropped by mapstructure rather than failing the whole read.
type document struct {
	InitiatorName string                       `yaml:"initiator_name" mapstructure:"initiator_name"`
	AliasName     string                       `yaml:"alias_name" mapstructure:"alias_name"`
	Chap          *model.ChapRecord             `yaml:"chap,omitempty" mapstructure:"chap"`
	Methods       uint8                        `yaml:"enabled_methods" mapstructure:"enabled_methods"`
	Static        []model.StaticTargetEntry     `yaml:"static_targets" mapstructure:"static_targets"`
	Discovery     []rawAddr                     `yaml:"discovery_addresses" mapstructure:"discovery_addresses"`
	Params        []model.PersistentParamRecord `yaml:"params" mapstructure:"params"`
	SessionCounts map[string]model.ConfiguredSessions `yaml:"session_counts" mapstructure:"session_counts"`
}

type rawAddr struct {
	Family uint8  `yaml:"family" mapstructure:"family"`
	Bytes  []byte `yaml:"bytes" mapstructure:"bytes"`
	Port   uint16 `yaml:"port" mapstructure:"port"`
}

// Store is a filestore.Store: a cached decode of the on-disk document, refreshed on fsnotify
// wake-up or explicit Reload.
type Store struct {
	path string

	mu  sync.RWMutex
	doc document

	paramMu  sync.Mutex
	staticMu sync.Mutex
	discMu   sync.Mutex

	watch *util.FileWatch
}

// New reads path once and starts watching it for subsequent edits. The file need not exist yet;
// a missing file loads as an empty document (every enumeration empty, discovery methods
// unconfigured), matching spec.md's "empty persistent store" boot scenario.
func New(path string) (*Store, error) {
	s := &Store{path: path}
	if err := s.Reload(); err != nil {
		return nil, err
	}

	watch, err := util.InitializeWatcher(func() {
		if err := s.Reload(); err != nil {
			log.Warnf("filestore: reload after change notification failed, err=%v", err)
		}
	})
	if err != nil {
		return nil, cerrors.NewDiscoveryErrorf(cerrors.StoreUnavailable, "filestore watcher init failed: %v", err)
	}
	if err := watch.AddWatchList([]string{path}); err != nil {
		log.Warnf("filestore: could not watch %s for live reload, err=%v", path, err)
	} else {
		go watch.StartWatcher()
	}
	s.watch = watch

	return s, nil
}

// Reload re-reads and re-parses the backing file.
func (s *Store) Reload() error {
	raw, err := ioutil.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.mu.Lock()
			s.doc = document{}
			s.mu.Unlock()
			return nil
		}
		return cerrors.NewDiscoveryErrorf(cerrors.StoreUnavailable, "filestore read %s failed: %v", s.path, err)
	}

	var generic map[string]interface{}
	if err := yaml.Unmarshal(raw, &generic); err != nil {
		return cerrors.NewDiscoveryErrorf(cerrors.StoreUnavailable, "filestore parse %s failed: %v", s.path, err)
	}

	var doc document
	if err := mapstructure.Decode(generic, &doc); err != nil {
		return cerrors.NewDiscoveryErrorf(cerrors.StoreUnavailable, "filestore decode %s failed: %v", s.path, err)
	}

	s.mu.Lock()
	s.doc = doc
	s.mu.Unlock()
	return nil
}

func (s *Store) DiscMethGet() (model.DiscoveryMethod, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return model.DiscoveryMethod(s.doc.Methods), nil
}

func (s *Store) InitiatorNameGet() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.doc.InitiatorName == "" {
		return "", cerrors.NewDiscoveryErrorf(cerrors.NotFound, "initiator name not set in %s", s.path)
	}
	return s.doc.InitiatorName, nil
}

func (s *Store) InitiatorNameSet(name string) error {
	s.mu.Lock()
	s.doc.InitiatorName = name
	s.mu.Unlock()
	return s.persist()
}

func (s *Store) AliasNameGet() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.AliasName, nil
}

func (s *Store) AliasNameSet(alias string) error {
	s.mu.Lock()
	s.doc.AliasName = alias
	s.mu.Unlock()
	return s.persist()
}

func (s *Store) ChapGet() (*model.ChapRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.doc.Chap == nil {
		return nil, cerrors.NewDiscoveryErrorf(cerrors.NotFound, "no chap record configured in %s", s.path)
	}
	cp := *s.doc.Chap
	return &cp, nil
}

func (s *Store) ChapSet(rec model.ChapRecord) error {
	s.mu.Lock()
	cp := rec
	s.doc.Chap = &cp
	s.mu.Unlock()
	return s.persist()
}

func (s *Store) ParamLock()   { s.paramMu.Lock() }
func (s *Store) ParamUnlock() { s.paramMu.Unlock() }

func (s *Store) ParamNext(cursor int) (string, *model.PersistentParamRecord, int, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if cursor >= len(s.doc.Params) {
		return "", nil, cursor, false, nil
	}
	rec := s.doc.Params[cursor]
	return rec.Name, &rec, cursor + 1, true, nil
}

func (s *Store) ParamGet(name string) (*model.PersistentParamRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rec := range s.doc.Params {
		if rec.Name == name {
			cp := rec
			return &cp, nil
		}
	}
	return nil, cerrors.NewDiscoveryErrorf(cerrors.NotFound, "no param record for %s", name)
}

func (s *Store) StaticAddrLock()   { s.staticMu.Lock() }
func (s *Store) StaticAddrUnlock() { s.staticMu.Unlock() }

func (s *Store) StaticAddrNext(cursor int) (*model.StaticTargetEntry, int, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if cursor >= len(s.doc.Static) {
		return nil, cursor, false, nil
	}
	entry := s.doc.Static[cursor]
	return &entry, cursor + 1, true, nil
}

func (s *Store) DiscAddrLock()   { s.discMu.Lock() }
func (s *Store) DiscAddrUnlock() { s.discMu.Unlock() }

func (s *Store) DiscAddrNext(cursor int) (model.Address, int, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if cursor >= len(s.doc.Discovery) {
		return model.Address{}, cursor, false, nil
	}
	ra := s.doc.Discovery[cursor]
	return model.Address{Family: model.AddressFamily(ra.Family), Bytes: ra.Bytes, Port: ra.Port}, cursor + 1, true, nil
}

func (s *Store) GetConfigSession(targetName string) (model.ConfiguredSessions, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.doc.SessionCounts[targetName]
	return cfg, ok, nil
}

// RemoveTargetParam implements registry.ParamRemover.
func (s *Store) RemoveTargetParam(targetName string) error {
	s.mu.Lock()
	for i, rec := range s.doc.Params {
		if rec.Name == targetName {
			s.doc.Params = append(s.doc.Params[:i], s.doc.Params[i+1:]...)
			break
		}
	}
	s.mu.Unlock()
	return s.persist()
}

// persist writes the in-memory document back to disk. filestore trades the write-amplification
// of a full rewrite per mutation for never needing a partial-update format.
func (s *Store) persist() error {
	s.mu.RLock()
	out, err := yaml.Marshal(s.doc)
	s.mu.RUnlock()
	if err != nil {
		return cerrors.NewDiscoveryErrorf(cerrors.Internal, "filestore marshal failed: %v", err)
	}
	if err := ioutil.WriteFile(s.path, out, 0600); err != nil {
		return cerrors.NewDiscoveryErrorf(cerrors.StoreUnavailable, "filestore write %s failed: %v", s.path, err)
	}
	return nil
}
