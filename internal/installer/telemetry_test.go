package installer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitPostsPayloadWhenConsentGiven(t *testing.T) {
	var received Payload
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	payload := NewPayload("1.0", "0.9", Hardware{Kernel: "6.1.0-18-amd64", RAMMiB: 32768}, Choices{RaidType: "mirror", EncryptionOn: true}, "completed")
	require.NoError(t, Submit(context.Background(), srv.URL, true, payload, nil))

	assert.Equal(t, 1, hits)
	assert.Equal(t, payload.InstallID, received.InstallID)
	assert.NotEmpty(t, received.InstallID)
	assert.Equal(t, 1, received.SchemaVersion)
	assert.Equal(t, "mirror", received.Choices.RaidType)
}

func TestSubmitSkipsWithoutConsent(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { hits++ }))
	defer srv.Close()

	require.NoError(t, Submit(context.Background(), srv.URL, false, NewPayload("", "", Hardware{}, Choices{}, "completed"), nil))
	assert.Equal(t, 0, hits)
}

func TestSubmitSwallowsEndpointErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	assert.NoError(t, Submit(context.Background(), srv.URL, true, NewPayload("", "", Hardware{}, Choices{}, "failed"), nil))
}

func TestSubmitSwallowsUnreachableEndpoint(t *testing.T) {
	assert.NoError(t, Submit(context.Background(), "http://127.0.0.1:1/nope", true, NewPayload("", "", Hardware{}, Choices{}, "completed"), nil))
}

func TestNewPayloadStampsUniqueInstallIDs(t *testing.T) {
	a := NewPayload("", "", Hardware{}, Choices{}, "completed")
	b := NewPayload("", "", Hardware{}, Choices{}, "completed")
	assert.NotEqual(t, a.InstallID, b.InstallID)
}
