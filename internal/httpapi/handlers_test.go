package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

// newValidationOnlyServer builds a Server with no live dependencies, for
// testing request validation that short-circuits before any of queue,
// coordinator, or dispatcher are touched.
func newValidationOnlyServer() *Server {
	return NewServer(nil, nil, nil)
}

func TestHandleAddMessageRejectsMissingFields(t *testing.T) {
	srv := newValidationOnlyServer()

	body, err := json.Marshal(map[string]any{"conversation_id": nil})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/add_message", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleRetrieveMemoryRejectsMissingQuery(t *testing.T) {
	srv := newValidationOnlyServer()

	body, err := json.Marshal(map[string]any{"conversation_id": "01975e3a-0000-7000-8000-000000000001"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/retrieve_memory", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleRetrieveMemoryRejectsUnknownDetailLevel(t *testing.T) {
	srv := newValidationOnlyServer()

	body, err := json.Marshal(map[string]any{
		"conversation_id": "01975e3a-0000-7000-8000-000000000001",
		"query":           "what do I like",
		"detail":          "extremely_high",
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/retrieve_memory", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Contains(t, resp["error"], "unknown detail level")
}

func TestHandleContextPreRetrieveRejectsMissingConversationID(t *testing.T) {
	srv := newValidationOnlyServer()

	body, err := json.Marshal(map[string]any{"query": "hobbies"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/context_pre_retrieve", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleRecentMemoryRejectsMissingConversationID(t *testing.T) {
	srv := newValidationOnlyServer()

	req := httptest.NewRequest(http.MethodPost, "/recent_memory", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleRecentMemoryDefaultsLimit(t *testing.T) {
	req, err := decodeRecentMemoryRequest(httptest.NewRequest(http.MethodPost, "/recent_memory", bytes.NewReader(
		[]byte(`{"conversation_id":"01975e3a-0000-7000-8000-000000000001"}`))))
	require.NoError(t, err)
	require.Equal(t, 10, req.Limit)
}
