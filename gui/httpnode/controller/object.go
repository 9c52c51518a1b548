package controller

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"go.dedis.ch/dolr/peer"
	"go.dedis.ch/dolr/storage"
	"go.dedis.ch/dolr/types"
)

// maxObjectSize bounds the body of an upload
const maxObjectSize = 1024 * 1024 * 16

// DeleteTokenHeader carries the delete token of an uploaded or deleted
// object.
const DeleteTokenHeader = "X-Delete-Token"

// TTLHeader carries the lifetime of an uploaded object, as a duration.
const TTLHeader = "X-Object-TTL"

// ObjectResponse is the body answered to an upload.
type ObjectResponse struct {
	ID string `json:"id"`
}

type objectServer struct {
	peer peer.Peer
	log  *zerolog.Logger
}

// NewObjectServer returns the controller serving the objects of a peer over
// HTTP.
func NewObjectServer(peer peer.Peer, log *zerolog.Logger) objectServer {
	return objectServer{
		peer: peer,
		log:  log,
	}
}

// ObjectsHandler serves /objects/ : POST stores and publishes the body, GET
// /objects/<id> retrieves an object through the overlay, DELETE /objects/<id>
// removes a local object given its delete token.
func (o *objectServer) ObjectsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")

		switch r.Method {
		case http.MethodPost:
			o.upload(w, r)
		case http.MethodGet:
			o.retrieve(w, r)
		case http.MethodDelete:
			o.remove(w, r)
		case http.MethodOptions:
			w.Header().Set("Access-Control-Allow-Headers", "*")
		default:
			http.Error(w, "forbidden method", http.StatusMethodNotAllowed)
		}
	}
}

func (o *objectServer) upload(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get(DeleteTokenHeader)
	if token == "" {
		http.Error(w, "missing "+DeleteTokenHeader+" header", http.StatusBadRequest)
		return
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, maxObjectSize+1))
	if err != nil {
		http.Error(w, "failed to read body: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if len(data) > maxObjectSize {
		http.Error(w, "object too big", http.StatusRequestEntityTooLarge)
		return
	}

	obj := &types.StoredObject{
		Data:     data,
		Metadata: types.Metadata{DeleteToken: token},
	}

	ttl := r.Header.Get(TTLHeader)
	if ttl != "" {
		obj.Metadata.TimeToLive, err = time.ParseDuration(ttl)
		if err != nil {
			http.Error(w, "invalid "+TTLHeader+" header: "+err.Error(), http.StatusBadRequest)
			return
		}
	}

	id, err := o.peer.CreateObject(obj)
	if err != nil {
		http.Error(w, "failed to store object: "+err.Error(), statusOf(err))
		return
	}

	o.log.Info().Msgf("stored %s (%d bytes)", id.Short(), len(data))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)

	err = json.NewEncoder(w).Encode(ObjectResponse{ID: string(id)})
	if err != nil {
		o.log.Err(err).Msg("failed to write response")
	}
}

func (o *objectServer) retrieve(w http.ResponseWriter, r *http.Request) {
	id, ok := o.objectID(w, r)
	if !ok {
		return
	}

	obj, err := o.peer.Retrieve(id)
	if err != nil {
		http.Error(w, "failed to retrieve object: "+err.Error(), statusOf(err))
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(obj.Data)))

	_, err = w.Write(obj.Data)
	if err != nil {
		o.log.Err(err).Msg("failed to write object")
	}
}

func (o *objectServer) remove(w http.ResponseWriter, r *http.Request) {
	id, ok := o.objectID(w, r)
	if !ok {
		return
	}

	o.peer.LockObject(id)

	obj, err := o.peer.GetObject(id)
	if err != nil {
		o.unlock(id)
		http.Error(w, "failed to read object: "+err.Error(), statusOf(err))
		return
	}

	token := r.Header.Get(DeleteTokenHeader)
	if types.DeleteTokenID(id.Bits(), token) != obj.Metadata.DeleteTokenID {
		o.unlock(id)
		http.Error(w, "wrong delete token", http.StatusForbidden)
		return
	}

	err = o.peer.RemoveObject(id)
	if err != nil {
		o.unlock(id)
		http.Error(w, "failed to remove object: "+err.Error(), statusOf(err))
		return
	}

	err = o.peer.UnlockObject(id)
	if err != nil {
		http.Error(w, "failed to unpublish object: "+err.Error(), statusOf(err))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (o *objectServer) unlock(id types.ID) {
	err := o.peer.UnlockObject(id)
	if err != nil {
		o.log.Err(err).Msgf("failed to release %s", id.Short())
	}
}

func (o *objectServer) objectID(w http.ResponseWriter, r *http.Request) (types.ID, bool) {
	id, err := types.ParseID(strings.TrimPrefix(r.URL.Path, "/objects/"))
	if err != nil {
		http.Error(w, "invalid object id: "+err.Error(), http.StatusBadRequest)
		return "", false
	}

	want := o.peer.GetAddress().ID.Digits()
	if id.Digits() != want {
		http.Error(w, fmt.Sprintf("invalid object id: want %d digits, got %d", want, id.Digits()),
			http.StatusBadRequest)
		return "", false
	}

	return id, true
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, peer.ErrObjectNotFound), errors.Is(err, peer.ErrNoSuchNode):
		return http.StatusNotFound
	case errors.Is(err, peer.ErrObjectExists):
		return http.StatusConflict
	case errors.Is(err, peer.ErrInvalidObject):
		return http.StatusBadRequest
	case errors.Is(err, peer.ErrUnacceptableObject):
		return http.StatusForbidden
	case errors.Is(err, storage.ErrNoSpace):
		return http.StatusInsufficientStorage
	}
	return http.StatusInternalServerError
}
