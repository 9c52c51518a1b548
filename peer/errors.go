package peer

import (
	"errors"

	"golang.org/x/xerrors"

	"go.dedis.ch/dolr/storage"
	"go.dedis.ch/dolr/types"
)

var (
	// ErrInvalidObject means the identifier of an object cannot be verified.
	ErrInvalidObject = errors.New("invalid object")
	// ErrDeleteTokenMismatch means the exposed delete token does not hash to
	// the delete token id. It wraps ErrInvalidObject.
	ErrDeleteTokenMismatch = xerrors.Errorf("delete token mismatch: %w", ErrInvalidObject)
	ErrObjectExists        = errors.New("object already exists")
	ErrObjectNotFound      = errors.New("object not found")
	ErrUnacceptableObject  = errors.New("object not acceptable")
	// ErrNotLocked is a lock discipline violation: the object was mutated
	// without holding its lock.
	ErrNotLocked = errors.New("object lock not held")
	// ErrHopBudgetExhausted means a message was forwarded more times than
	// its budget allowed.
	ErrHopBudgetExhausted = errors.New("hop budget exhausted")
	// ErrNoSuchNode means an exact-routed message found no node with its
	// destination identifier.
	ErrNoSuchNode = errors.New("no such node")
	// ErrRemote is an unexpected failure reported by a remote handler.
	ErrRemote = errors.New("remote failure")
)

// ReplyErr returns the error a reply stands for, nil for a successful one.
func ReplyErr(reply types.Reply) error {
	var err error

	switch reply.Status {
	case types.StatusOK:
		return nil
	case types.StatusNotFound:
		err = ErrObjectNotFound
	case types.StatusNoSuchNode:
		err = ErrNoSuchNode
	case types.StatusExists:
		err = ErrObjectExists
	case types.StatusInvalid:
		err = ErrInvalidObject
	case types.StatusNoSpace:
		err = storage.ErrNoSpace
	case types.StatusUnacceptable:
		err = ErrUnacceptableObject
	default:
		err = ErrRemote
	}

	if reply.Error == "" {
		return err
	}
	return xerrors.Errorf("%s: %w", reply.Error, err)
}

// StatusOf returns the reply status an error is reported with.
func StatusOf(err error) types.ReplyStatus {
	switch {
	case err == nil:
		return types.StatusOK
	case errors.Is(err, ErrObjectNotFound), errors.Is(err, storage.ErrNotFound):
		return types.StatusNotFound
	case errors.Is(err, ErrNoSuchNode):
		return types.StatusNoSuchNode
	case errors.Is(err, ErrObjectExists):
		return types.StatusExists
	case errors.Is(err, ErrInvalidObject):
		return types.StatusInvalid
	case errors.Is(err, storage.ErrNoSpace):
		return types.StatusNoSpace
	case errors.Is(err, ErrUnacceptableObject):
		return types.StatusUnacceptable
	}
	return types.StatusError
}

// ErrorReply builds the reply reporting err.
func ErrorReply(err error, responder types.NodeAddress) types.Reply {
	return types.Reply{
		Status:    StatusOf(err),
		Error:     err.Error(),
		Responder: responder,
	}
}
