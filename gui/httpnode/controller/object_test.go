package controller

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	z "go.dedis.ch/dolr/internal/testing"
	"go.dedis.ch/dolr/peer/impl"
	"go.dedis.ch/dolr/transport/channel"
)

func newServer(t *testing.T) (*httptest.Server, z.TestNode) {
	node := z.NewTestNode(t, impl.NewPeer, channel.NewTransport(), "127.0.0.1:0", z.WithIDBits(64))

	logger := zerolog.Nop()
	ctrl := NewObjectServer(node, &logger)

	mux := http.NewServeMux()
	mux.Handle("/objects/", ctrl.ObjectsHandler())

	return httptest.NewServer(mux), node
}

func do(t *testing.T, method, url, token string, body []byte) *http.Response {
	req, err := http.NewRequest(method, url, bytes.NewReader(body))
	require.NoError(t, err)

	if token != "" {
		req.Header.Set(DeleteTokenHeader, token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)

	return resp
}

func Test_Controller_Object_Lifecycle(t *testing.T) {
	server, node := newServer(t)
	defer server.Close()
	defer node.Stop()

	resp := do(t, http.MethodPost, server.URL+"/objects/", "secret", []byte("hello"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created ObjectResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	resp.Body.Close()

	ids, err := node.ObjectIDs()
	require.NoError(t, err)
	require.Len(t, ids, 1)
	require.Equal(t, created.ID, string(ids[0]))

	resp = do(t, http.MethodPost, server.URL+"/objects/", "secret", []byte("hello"))
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()

	resp = do(t, http.MethodGet, server.URL+"/objects/"+created.ID, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, []byte("hello"), data)

	resp = do(t, http.MethodDelete, server.URL+"/objects/"+created.ID, "wrong", nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()

	resp = do(t, http.MethodDelete, server.URL+"/objects/"+created.ID, "secret", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()

	resp = do(t, http.MethodGet, server.URL+"/objects/"+created.ID, "", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	require.Empty(t, node.GetPublishers(ids[0]))
}

func Test_Controller_Bad_Requests(t *testing.T) {
	server, node := newServer(t)
	defer server.Close()
	defer node.Stop()

	resp := do(t, http.MethodPost, server.URL+"/objects/", "", []byte("hello"))
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = do(t, http.MethodGet, server.URL+"/objects/not-hex", "", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = do(t, http.MethodPut, server.URL+"/objects/", "", nil)
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	resp.Body.Close()
}

// identifiers of another width never reach the store
func Test_Controller_Id_Width(t *testing.T) {
	server, node := newServer(t)
	defer server.Close()
	defer node.Stop()

	resp := do(t, http.MethodDelete, server.URL+"/objects/abcd", "secret", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = do(t, http.MethodGet, server.URL+"/objects/abcd", "", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = do(t, http.MethodDelete, server.URL+"/objects/0123456789abcdef01", "secret", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	families, err := node.Metrics().Gather()
	require.NoError(t, err)

	for _, family := range families {
		if family.GetName() != "dolr_unpublish_emitted_total" {
			continue
		}
		for _, m := range family.GetMetric() {
			require.Zero(t, m.GetCounter().GetValue())
		}
	}
}
