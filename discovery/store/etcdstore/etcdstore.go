// (c) Copyright 2024 Hewlett Packard Enterprise Development LP

// Package etcdstore is the etcd-backed Store, for deployments running the discovery daemon across
// multiple initiators that must agree on one configuration (shared static target list, shared
// CHAP secret). Client plumbing (NewClient/Put/Get/Delete/lock-by-key) mirrors
// pkg/dbservice/etcd's contract; that package's non-test source was not present in the retrieved
// pack, so the client here is rebuilt fresh against its test file's call shape rather than copied.
package etcdstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	etcdclient "github.com/coreos/etcd/client"
	etcdlock "github.com/Scalingo/go-etcd-lock/lock"

	"github.com/hpe-storage/iscsid-core/discovery/cerrors"
	"github.com/hpe-storage/iscsid-core/discovery/model"
	log "github.com/hpe-storage/iscsid-core/logger"
)

const (
	// DefaultVersion is the etcd API version this client speaks, named the way
	// pkg/dbservice/etcd's test constants are.
	DefaultVersion = "v2"
	// DefaultPort is the conventional etcd client port.
	DefaultPort = "2379"

	keyPrefix       = "/iscsid/"
	initiatorKey    = keyPrefix + "initiator_name"
	aliasKey        = keyPrefix + "alias_name"
	chapKey         = keyPrefix + "chap"
	methodsKey      = keyPrefix + "enabled_methods"
	staticDir       = keyPrefix + "static/"
	discDir         = keyPrefix + "discovery/"
	paramDir        = keyPrefix + "params/"
	sessionCountDir = keyPrefix + "session_counts/"

	lockTTLSeconds = 30
)

// Store is an etcd-backed Store. The section locks (ParamLock/StaticAddrLock/DiscAddrLock) are
// process-local mutexes guarding the local enumeration cursor; cross-process mutual exclusion
// goes through etcdlock.Locker, acquired around ChapSet and RemoveTargetParam. The other
// setters write without a distributed lock.
type Store struct {
	kv     etcdclient.KeysAPI
	locker etcdlock.Locker

	paramLocal  localLock
	staticLocal localLock
	discLocal   localLock
}

type localLock struct{ ch chan struct{} }

func newLocalLock() localLock {
	l := localLock{ch: make(chan struct{}, 1)}
	l.ch <- struct{}{}
	return l
}

func (l localLock) Lock()   { <-l.ch }
func (l localLock) Unlock() { l.ch <- struct{}{} }

// NewClient dials the given etcd endpoints. Named NewClient, not New, to mirror
// pkg/dbservice/etcd's constructor name.
func NewClient(endpoints []string, version string) (*Store, error) {
	cfg := etcdclient.Config{
		Endpoints: endpoints,
		Transport: etcdclient.DefaultTransport,
	}
	c, err := etcdclient.New(cfg)
	if err != nil {
		return nil, cerrors.NewDiscoveryErrorf(cerrors.StoreUnavailable, "etcdstore dial %v failed: %v", endpoints, err)
	}

	return &Store{
		kv:          etcdclient.NewKeysAPI(c),
		locker:      etcdlock.NewEtcdLocker(c, etcdlock.SetTimeToLive(lockTTLSeconds)),
		paramLocal:  newLocalLock(),
		staticLocal: newLocalLock(),
		discLocal:   newLocalLock(),
	}, nil
}

// CloseClient is a no-op for the etcd v2 HTTP client, which holds no persistent connection; kept
// for symmetry with pkg/dbservice/etcd's contract so callers can defer it unconditionally.
func (s *Store) CloseClient() {}

// Reload is a no-op: every getter above already reads straight through to etcd, so there is no
// local cache for a restart to refresh.
func (s *Store) Reload() error { return nil }

func (s *Store) getString(key string) (string, error) {
	resp, err := s.kv.Get(context.Background(), key, nil)
	if err != nil {
		if etcdclient.IsKeyNotFound(err) {
			return "", cerrors.NewDiscoveryErrorf(cerrors.NotFound, "etcdstore: %s not set", key)
		}
		return "", cerrors.NewDiscoveryErrorf(cerrors.StoreUnavailable, "etcdstore get %s failed: %v", key, err)
	}
	return resp.Node.Value, nil
}

func (s *Store) putString(key, value string) error {
	if _, err := s.kv.Set(context.Background(), key, value, nil); err != nil {
		return cerrors.NewDiscoveryErrorf(cerrors.StoreUnavailable, "etcdstore put %s failed: %v", key, err)
	}
	return nil
}

// PutWithLeaseExpiry writes value to key with a TTL, named to mirror
// pkg/dbservice/etcd's contract exactly (ttlSeconds, not a time.Duration).
func (s *Store) PutWithLeaseExpiry(key, value string, ttlSeconds int) error {
	opts := &etcdclient.SetOptions{TTL: time.Duration(ttlSeconds) * time.Second}
	if _, err := s.kv.Set(context.Background(), key, value, opts); err != nil {
		return cerrors.NewDiscoveryErrorf(cerrors.StoreUnavailable, "etcdstore put-with-ttl %s failed: %v", key, err)
	}
	return nil
}

func (s *Store) deleteKey(key string) error {
	if _, err := s.kv.Delete(context.Background(), key, nil); err != nil {
		if etcdclient.IsKeyNotFound(err) {
			return nil
		}
		return cerrors.NewDiscoveryErrorf(cerrors.StoreUnavailable, "etcdstore delete %s failed: %v", key, err)
	}
	return nil
}

func (s *Store) listDir(dir string) ([]*etcdclient.Node, error) {
	resp, err := s.kv.Get(context.Background(), dir, &etcdclient.GetOptions{Recursive: true, Sort: true})
	if err != nil {
		if etcdclient.IsKeyNotFound(err) {
			return nil, nil
		}
		return nil, cerrors.NewDiscoveryErrorf(cerrors.StoreUnavailable, "etcdstore list %s failed: %v", dir, err)
	}
	return resp.Node.Nodes, nil
}

func (s *Store) DiscMethGet() (model.DiscoveryMethod, error) {
	v, err := s.getString(methodsKey)
	if err != nil {
		if de, ok := err.(*cerrors.DiscoveryError); ok && de.ErrorCode() == cerrors.NotFound {
			return model.MethodUnknown, nil
		}
		return model.MethodUnknown, err
	}
	var mask int
	if _, err := fmt.Sscan(v, &mask); err != nil {
		return model.MethodUnknown, cerrors.NewDiscoveryErrorf(cerrors.Internal, "etcdstore: corrupt enabled_methods value %q", v)
	}
	return model.DiscoveryMethod(mask), nil
}

func (s *Store) InitiatorNameGet() (string, error) { return s.getString(initiatorKey) }
func (s *Store) InitiatorNameSet(name string) error { return s.putString(initiatorKey, name) }
func (s *Store) AliasNameGet() (string, error)      { return s.getString(aliasKey) }
func (s *Store) AliasNameSet(alias string) error    { return s.putString(aliasKey, alias) }

func (s *Store) ChapGet() (*model.ChapRecord, error) {
	v, err := s.getString(chapKey)
	if err != nil {
		return nil, err
	}
	var rec model.ChapRecord
	if err := json.Unmarshal([]byte(v), &rec); err != nil {
		return nil, cerrors.NewDiscoveryErrorf(cerrors.Internal, "etcdstore: corrupt chap record: %v", err)
	}
	return &rec, nil
}

func (s *Store) ChapSet(rec model.ChapRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return cerrors.NewDiscoveryErrorf(cerrors.Internal, "etcdstore: marshal chap record: %v", err)
	}
	lock, err := s.locker.Lock(chapKey)
	if err != nil {
		return cerrors.NewDiscoveryErrorf(cerrors.StoreUnavailable, "etcdstore: chap lock failed: %v", err)
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			log.Warnf("etcdstore: chap unlock failed, err=%v", err)
		}
	}()
	return s.putString(chapKey, string(raw))
}

func (s *Store) ParamLock()   { s.paramLocal.Lock() }
func (s *Store) ParamUnlock() { s.paramLocal.Unlock() }

func (s *Store) ParamNext(cursor int) (string, *model.PersistentParamRecord, int, bool, error) {
	nodes, err := s.listDir(paramDir)
	if err != nil {
		return "", nil, cursor, false, err
	}
	if cursor >= len(nodes) {
		return "", nil, cursor, false, nil
	}
	var rec model.PersistentParamRecord
	if err := json.Unmarshal([]byte(nodes[cursor].Value), &rec); err != nil {
		return "", nil, cursor, false, cerrors.NewDiscoveryErrorf(cerrors.Internal, "etcdstore: corrupt param record: %v", err)
	}
	return rec.Name, &rec, cursor + 1, true, nil
}

func (s *Store) ParamGet(name string) (*model.PersistentParamRecord, error) {
	v, err := s.getString(paramDir + name)
	if err != nil {
		return nil, err
	}
	var rec model.PersistentParamRecord
	if err := json.Unmarshal([]byte(v), &rec); err != nil {
		return nil, cerrors.NewDiscoveryErrorf(cerrors.Internal, "etcdstore: corrupt param record for %s: %v", name, err)
	}
	return &rec, nil
}

// RemoveTargetParam implements registry.ParamRemover, holding a distributed lock on the record's
// key (the same locker ChapSet uses) for the duration of the delete.
func (s *Store) RemoveTargetParam(targetName string) error {
	key := paramDir + targetName
	lock, err := s.locker.Lock(key)
	if err != nil {
		return cerrors.NewDiscoveryErrorf(cerrors.StoreUnavailable, "etcdstore: param lock failed for %s: %v", targetName, err)
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			log.Warnf("etcdstore: param unlock failed for %s, err=%v", targetName, err)
		}
	}()
	return s.deleteKey(key)
}

func (s *Store) StaticAddrLock()   { s.staticLocal.Lock() }
func (s *Store) StaticAddrUnlock() { s.staticLocal.Unlock() }

func (s *Store) StaticAddrNext(cursor int) (*model.StaticTargetEntry, int, bool, error) {
	nodes, err := s.listDir(staticDir)
	if err != nil {
		return nil, cursor, false, err
	}
	if cursor >= len(nodes) {
		return nil, cursor, false, nil
	}
	var entry model.StaticTargetEntry
	if err := json.Unmarshal([]byte(nodes[cursor].Value), &entry); err != nil {
		return nil, cursor, false, cerrors.NewDiscoveryErrorf(cerrors.Internal, "etcdstore: corrupt static entry: %v", err)
	}
	return &entry, cursor + 1, true, nil
}

func (s *Store) DiscAddrLock()   { s.discLocal.Lock() }
func (s *Store) DiscAddrUnlock() { s.discLocal.Unlock() }

func (s *Store) DiscAddrNext(cursor int) (model.Address, int, bool, error) {
	nodes, err := s.listDir(discDir)
	if err != nil {
		return model.Address{}, cursor, false, err
	}
	if cursor >= len(nodes) {
		return model.Address{}, cursor, false, nil
	}
	var addr model.Address
	if err := json.Unmarshal([]byte(nodes[cursor].Value), &addr); err != nil {
		return model.Address{}, cursor, false, cerrors.NewDiscoveryErrorf(cerrors.Internal, "etcdstore: corrupt discovery address: %v", err)
	}
	return addr, cursor + 1, true, nil
}

func (s *Store) GetConfigSession(targetName string) (model.ConfiguredSessions, bool, error) {
	v, err := s.getString(sessionCountDir + targetName)
	if err != nil {
		if de, ok := err.(*cerrors.DiscoveryError); ok && de.ErrorCode() == cerrors.NotFound {
			return model.ConfiguredSessions{}, false, nil
		}
		return model.ConfiguredSessions{}, false, err
	}
	var cfg model.ConfiguredSessions
	if err := json.Unmarshal([]byte(v), &cfg); err != nil {
		return model.ConfiguredSessions{}, false, cerrors.NewDiscoveryErrorf(cerrors.Internal, "etcdstore: corrupt session count for %s: %v", targetName, err)
	}
	return cfg, true, nil
}
