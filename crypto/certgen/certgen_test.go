package certgen_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolelom/stakebox/config"
	"github.com/tolelom/stakebox/crypto/certgen"
)

func TestIssueWritesPrivateFiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "tls")
	b, err := certgen.Issue(dir, []string{"10.0.0.5", "rpc.example"}, time.Now())
	require.NoError(t, err)

	for _, p := range []string{b.CACert, b.ServerCert, b.ServerKey, b.ClientCert, b.ClientKey} {
		info, err := os.Stat(p)
		require.NoError(t, err, p)
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm(), p)
	}
	_, err = os.Stat(filepath.Join(dir, "ca.key"))
	assert.True(t, os.IsNotExist(err))
}

func TestMutualTLSRoundTrip(t *testing.T) {
	b, err := certgen.Issue(t.TempDir(), nil, time.Now())
	require.NoError(t, err)

	serverTLS, err := config.LoadTLSConfig(&config.TLSConfig{
		CertFile: b.ServerCert,
		KeyFile:  b.ServerKey,
		ClientCA: b.CACert,
	})
	require.NoError(t, err)

	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "ok")
	}))
	srv.TLS = serverTLS
	srv.StartTLS()
	defer srv.Close()

	clientTLS, err := config.LoadClientTLSConfig(b.CACert, b.ClientCert, b.ClientKey)
	require.NoError(t, err)
	hc := &http.Client{Transport: &http.Transport{TLSClientConfig: clientTLS}}
	resp, err := hc.Get(srv.URL)
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "ok", string(body))

	anon, err := config.LoadClientTLSConfig(b.CACert, "", "")
	require.NoError(t, err)
	hc = &http.Client{Transport: &http.Transport{TLSClientConfig: anon}}
	_, err = hc.Get(srv.URL)
	assert.Error(t, err, "server requires a client certificate")
}
