package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Raywonder/voicelink-control/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirect_Send(t *testing.T) {
	var gotPath, gotAuth string
	var gotReq models.CommandRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		_ = json.NewEncoder(w).Encode(models.CommandResult{Success: true, Result: "paused"})
	}))
	defer server.Close()

	direct := NewDirect(testLogger(), server.URL, "secret-token")
	result, err := direct.Send(context.Background(), models.CommandRequest{
		Command:        models.CommandPauseRooms,
		SourceDeviceID: "node-1",
	})

	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "paused", result.Result)
	assert.Equal(t, "/api/remote/command", gotPath)
	assert.Equal(t, "Bearer secret-token", gotAuth)
	assert.Equal(t, models.CommandPauseRooms, gotReq.Command)
	assert.Equal(t, "node-1", gotReq.SourceDeviceID)
}

func TestDirect_Send_NoTokenOmitsHeader(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode(models.CommandResult{Success: true})
	}))
	defer server.Close()

	direct := NewDirect(testLogger(), server.URL, "")
	_, err := direct.Send(context.Background(), models.CommandRequest{Command: models.CommandGetStatus})

	require.NoError(t, err)
	assert.Empty(t, gotAuth)
}

func TestDirect_Send_NonOKStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	direct := NewDirect(testLogger(), server.URL, "token")
	_, err := direct.Send(context.Background(), models.CommandRequest{Command: models.CommandGetStatus})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 403")
}

func TestDirect_Send_PeerUnreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // nothing listening anymore

	direct := NewDirect(testLogger(), server.URL, "token")
	_, err := direct.Send(context.Background(), models.CommandRequest{Command: models.CommandGetStatus})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "direct send failed")
}
