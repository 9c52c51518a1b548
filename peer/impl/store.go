package impl

import (
	"encoding/json"
	"errors"

	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"
	"golang.org/x/xerrors"

	"go.dedis.ch/dolr/peer"
	"go.dedis.ch/dolr/storage"
	"go.dedis.ch/dolr/types"
)

// CreateObject implements peer.ObjectStore
func (n *node) CreateObject(obj *types.StoredObject) (types.ID, error) {
	if obj.Metadata.DeleteTokenID == "" && obj.Metadata.DeleteToken != "" {
		obj.Metadata.DeleteTokenID = types.DeleteTokenID(n.conf.IDBits, obj.Metadata.DeleteToken)
	}

	id, err := ComputeObjectID(n.conf.IDBits, obj)
	if err != nil {
		return "", err
	}
	obj.ID = id

	if obj.Metadata.CreatedAt.IsZero() {
		obj.Metadata.CreatedAt = n.clock.Now()
	}

	// somebody else is creating it, they publish it
	if !n.locks.TryLock(id) {
		return id, xerrors.Errorf("create %s: %w", id.Short(), peer.ErrObjectExists)
	}

	if n.conf.Storage.Has(string(id)) {
		err = xerrors.Errorf("create %s: %w", id.Short(), peer.ErrObjectExists)
	} else {
		err = n.saveObject(obj)
	}

	unlockErr := n.UnlockObject(id)
	if err != nil {
		return id, err
	}

	return id, unlockErr
}

// LockObject implements peer.ObjectStore
func (n *node) LockObject(id types.ID) {
	n.locks.Lock(id)
}

// TryLockObject implements peer.ObjectStore
func (n *node) TryLockObject(id types.ID) bool {
	return n.locks.TryLock(id)
}

// UpdateObject implements peer.ObjectStore
func (n *node) UpdateObject(obj *types.StoredObject) error {
	id, err := n.checkObject(obj)
	if err != nil {
		return err
	}

	if !n.conf.Storage.Has(string(id)) {
		return xerrors.Errorf("update %s: %w", id.Short(), peer.ErrObjectNotFound)
	}

	return n.saveObject(obj)
}

// StoreObject implements peer.ObjectStore
func (n *node) StoreObject(obj *types.StoredObject) error {
	_, err := n.checkObject(obj)
	if err != nil {
		return err
	}

	return n.saveObject(obj)
}

// RemoveObject implements peer.ObjectStore
func (n *node) RemoveObject(id types.ID) error {
	err := n.locks.AssertLocked(id)
	if err != nil {
		log.Error().Msgf("<[impl.node.RemoveObject] lock violation>: <%s>", err.Error())
		return err
	}

	return n.deleteObject(id)
}

// UnlockObject implements peer.ObjectStore. It publishes the object if it is
// still stored and unpublishes it otherwise, then releases the lock. A stored
// object that fails to publish is removed.
func (n *node) UnlockObject(id types.ID) error {
	err := n.locks.AssertLocked(id)
	if err != nil {
		log.Error().Msgf("<[impl.node.UnlockObject] lock violation>: <%s>", err.Error())
		return err
	}

	defer func() {
		err := n.locks.Unlock(id)
		if err != nil {
			log.Error().Msgf("<[impl.node.UnlockObject] unlock>: <%s>", err.Error())
		}
	}()

	obj, err := n.loadObject(id)
	if errors.Is(err, peer.ErrObjectNotFound) {
		return n.unpublish(types.UnpublishRequest{Publisher: n.address, Objects: []types.ID{id}})
	}
	if err != nil {
		log.Error().Msgf("<[impl.node.UnlockObject] removing unreadable %s>: <%s>", id.Short(), err.Error())
		return multierr.Append(err, n.deleteObject(id))
	}

	now := n.clock.Now()
	if obj.Expired(now) {
		err = n.deleteObject(id)
		if err != nil {
			return err
		}
		return n.unpublish(types.UnpublishRequest{Publisher: n.address, Objects: []types.ID{id}})
	}

	ttl := n.conf.PublishTTL
	left, bounded := obj.RemainingTTL(now)
	if bounded && left < ttl {
		ttl = left
	}

	err = n.publish(obj, ttl)
	if err != nil {
		log.Warn().Msgf("[impl.node.UnlockObject] publish of %s failed, removing it: %v", id.Short(), err)
		return multierr.Append(err, n.deleteObject(id))
	}

	return nil
}

// GetObject implements peer.ObjectStore. Expired objects are reported as not
// found.
func (n *node) GetObject(id types.ID) (*types.StoredObject, error) {
	obj, err := n.loadObject(id)
	if err != nil {
		return nil, err
	}

	if obj.Expired(n.clock.Now()) {
		return nil, xerrors.Errorf("%s expired: %w", id.Short(), peer.ErrObjectNotFound)
	}

	return obj, nil
}

// ObjectIDs implements peer.ObjectStore
func (n *node) ObjectIDs() ([]types.ID, error) {
	keys, err := n.conf.Storage.Keys()
	if err != nil {
		return nil, xerrors.Errorf("failed to list objects: %v", err)
	}

	ids := make([]types.ID, 0, len(keys))
	for _, key := range keys {
		id, err := types.ParseID(key)
		if err != nil {
			log.Warn().Msgf("[impl.node.ObjectIDs] skipping key %q: %v", key, err)
			continue
		}
		ids = append(ids, id)
	}

	return ids, nil
}

// checkObject validates the identifier of an object the caller holds the lock
// of.
func (n *node) checkObject(obj *types.StoredObject) (types.ID, error) {
	id, err := ComputeObjectID(n.conf.IDBits, obj)
	if err != nil {
		return "", err
	}

	if obj.ID != "" && obj.ID != id {
		return "", xerrors.Errorf("object claims %s but hashes to %s: %w", obj.ID.Short(), id.Short(),
			peer.ErrInvalidObject)
	}
	obj.ID = id

	err = n.locks.AssertLocked(id)
	if err != nil {
		log.Error().Msgf("<[impl.node.checkObject] lock violation>: <%s>", err.Error())
		return "", err
	}

	return id, nil
}

func (n *node) hasObject(id types.ID) bool {
	_, err := n.GetObject(id)
	return err == nil
}

func (n *node) loadObject(id types.ID) (*types.StoredObject, error) {
	buf, err := n.conf.Storage.Get(string(id))
	if storage.IsNotFound(err) {
		return nil, xerrors.Errorf("%s: %w", id.Short(), peer.ErrObjectNotFound)
	}
	if err != nil {
		return nil, xerrors.Errorf("failed to read %s: %v", id.Short(), err)
	}

	obj := &types.StoredObject{}
	err = json.Unmarshal(buf, obj)
	if err != nil {
		return nil, xerrors.Errorf("failed to decode %s: %v", id.Short(), err)
	}

	return obj, nil
}

func (n *node) saveObject(obj *types.StoredObject) error {
	buf, err := json.Marshal(obj)
	if err != nil {
		return xerrors.Errorf("failed to encode %s: %v", obj.ID.Short(), err)
	}

	err = n.conf.Storage.Put(string(obj.ID), buf)
	if err != nil {
		return xerrors.Errorf("failed to store %s: %w", obj.ID.Short(), err)
	}

	n.metrics.storedObjects.Set(float64(n.conf.Storage.Len()))

	return nil
}

func (n *node) deleteObject(id types.ID) error {
	err := n.conf.Storage.Delete(string(id))
	if err != nil {
		return xerrors.Errorf("failed to delete %s: %v", id.Short(), err)
	}

	n.metrics.storedObjects.Set(float64(n.conf.Storage.Len()))

	return nil
}
