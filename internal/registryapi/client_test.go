package registryapi_test

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/opt-outta/engine/internal/playbook"
	"github.com/opt-outta/engine/internal/registryapi"
	"github.com/stretchr/testify/require"
)

func reportFixture() playbook.PlaybookReport {
	return playbook.PlaybookReport{DeviceID: "device-1", Outcome: "success", AppVersion: "1.0.0"}
}

func TestListPlaybooksSignsEveryRequest(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	var sawSignature, sawTimestamp string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawSignature = r.Header.Get("X-Signature")
		sawTimestamp = r.Header.Get("X-Timestamp")
		_, _ = w.Write([]byte(`{"data":[{"id":"p1","broker_id":"spokeo"}]}`))
	}))
	defer srv.Close()

	client, err := registryapi.New(srv.URL, priv.Seed())
	require.NoError(t, err)

	summaries, err := client.ListPlaybooks(context.Background(), "spokeo", "best", 5)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	require.Equal(t, "p1", summaries[0].ID)

	require.NotEmpty(t, sawSignature)
	require.NotEmpty(t, sawTimestamp)

	ts, err := strconv.ParseInt(sawTimestamp, 10, 64)
	require.NoError(t, err)
	require.Greater(t, ts, int64(0))

	message := sawTimestamp + "\nGET\n/playbooks?broker_id=spokeo&sort=best&limit=5\n"
	sig, err := base64.StdEncoding.DecodeString(sawSignature)
	require.NoError(t, err)
	require.True(t, ed25519.Verify(pub, []byte(message), sig))
}

func TestSandboxModeUsesBearerAuth(t *testing.T) {
	var sawAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{"data":{"version":"5"}}`))
	}))
	defer srv.Close()

	client := registryapi.NewSandbox(srv.URL, "sandbox-token")
	version, err := client.RegistryVersion(context.Background())
	require.NoError(t, err)
	require.Equal(t, "5", version)
	require.Equal(t, "Bearer sandbox-token", sawAuth)
}

func TestNonSuccessStatusIsNetworkError(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client, err := registryapi.New(srv.URL, priv.Seed())
	require.NoError(t, err)

	_, err = client.PlaybookDetail(context.Background(), "p1")
	require.Error(t, err)
}

func TestReportBodyContainsNoPII(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&body)
		_, _ = w.Write([]byte(`{"data":null}`))
	}))
	defer srv.Close()

	client, err := registryapi.New(srv.URL, priv.Seed())
	require.NoError(t, err)

	err = client.Report(context.Background(), "p1", reportFixture())
	require.NoError(t, err)

	for key := range body {
		require.Contains(t, []string{"device_id", "outcome", "failed_position", "error_text", "app_version"}, key)
	}
}
