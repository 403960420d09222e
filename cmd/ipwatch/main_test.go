package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"ipwatch/internal/config"
	"ipwatch/internal/resolver"
	"ipwatch/internal/version"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate keeps the user's config and cache out of the test
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	t.Setenv("XDG_CACHE_HOME", filepath.Join(home, ".cache"))
	return home
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func ipService(t *testing.T, addr string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, "<html><body>Your IP is %s</body></html>", addr)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func writeServerList(t *testing.T, endpoints ...string) string {
	t.Helper()
	data, err := json.Marshal(endpoints)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "servers.json")
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

func TestMainExitCode(t *testing.T) {
	isolate(t)
	defer func(old func(int)) { osExit = old }(osExit)
	defer func(old []string) { os.Args = old }(os.Args)

	code := -1
	osExit = func(c int) { code = c }
	os.Args = []string{"ipwatch", "no-such-command"}
	main()
	assert.Equal(t, 1, code)
}

func TestConfigExample(t *testing.T) {
	isolate(t)
	out, err := execute(t, "config", "example")
	require.NoError(t, err)
	assert.Equal(t, config.ExampleConfig, out)
}

func TestVersion(t *testing.T) {
	isolate(t)
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "ipwatch "+version.Version)
}

func TestRunRequiresConfig(t *testing.T) {
	isolate(t)
	_, err := execute(t, "run", "--dry-run", "--cache-dir", t.TempDir())
	require.Error(t, err)

	var ice *config.InvalidConfigError
	require.ErrorAs(t, err, &ice)
	assert.Equal(t, "machine", ice.Missing)
	assert.Contains(t, err.Error(), "Example config file content:")
}

func TestRunDryRun(t *testing.T) {
	isolate(t)
	srv := ipService(t, "203.0.113.7")
	list := writeServerList(t, srv.URL+"/ip")
	cacheDir := t.TempDir()

	args := []string{
		"--machine", "Home NAS",
		"--receiver-email", "jimmy@example.com",
		"--cache-dir", cacheDir,
		"--server-list-file", list,
		"--try-count", "1",
		"--attempts-per-try", "2",
		"--dry-run",
	}
	_, err := execute(t, args...)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(cacheDir, "saved_ip.txt"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "203.0.113.7", lines[0])

	assert.FileExists(t, filepath.Join(cacheDir, "serverCache.json"))

	// Second cycle sees no change
	_, err = execute(t, append([]string{"run"}, args...)...)
	require.NoError(t, err)
}

func TestRunBlacklistedOnly(t *testing.T) {
	isolate(t)
	srv := ipService(t, "10.1.2.3")
	list := writeServerList(t, srv.URL)
	cacheDir := t.TempDir()

	_, err := execute(t, "run",
		"--machine", "box",
		"--receiver-email", "a@example.com",
		"--cache-dir", cacheDir,
		"--server-list-file", list,
		"--try-count", "2",
		"--attempts-per-try", "1",
		"--dry-run")
	require.Error(t, err)
	assert.NoFileExists(t, filepath.Join(cacheDir, "saved_ip.txt"))
}

func TestServersRefreshAndShow(t *testing.T) {
	isolate(t)
	list := writeServerList(t, "https://one.example/ip", "https://two.example/ip")
	cacheDir := t.TempDir()

	_, err := execute(t, "servers", "show", "--cache-dir", cacheDir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "servers refresh")

	out, err := execute(t, "servers", "refresh", "--cache-dir", cacheDir, "--server-list-file", list)
	require.NoError(t, err)
	assert.Contains(t, out, "servers: 2")

	out, err = execute(t, "servers", "show", "--cache-dir", cacheDir)
	require.NoError(t, err)
	assert.Contains(t, out, "https://one.example/ip")
	assert.Contains(t, out, "https://two.example/ip")
}

func TestServersRefreshRemote(t *testing.T) {
	isolate(t)
	ua := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case ua <- r.UserAgent():
		default:
		}
		_, _ = w.Write([]byte(`["https://remote.example/ip"]`))
	}))
	defer srv.Close()

	out, err := execute(t, "servers", "refresh", "--remote",
		"--cache-dir", t.TempDir(),
		"--server-list-url", srv.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "https://remote.example/ip")
	assert.Equal(t, version.UserAgent(""), <-ua)
}

func TestVerify(t *testing.T) {
	isolate(t)
	a := ipService(t, "198.51.100.1")
	b := ipService(t, "198.51.100.1")
	list := writeServerList(t, a.URL, b.URL)

	out, err := execute(t, "verify", "--cache-dir", t.TempDir(), "--server-list-file", list, "--workers", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "2 services, 0 failed")
	assert.Contains(t, out, "198.51.100.1: 2")
	assert.NotContains(t, out, "disagree")
}

func TestVerifyDisagreement(t *testing.T) {
	isolate(t)
	a := ipService(t, "203.0.113.7")
	b := ipService(t, "198.51.100.9")
	list := writeServerList(t, a.URL, b.URL)

	out, err := execute(t, "verify", "--cache-dir", t.TempDir(), "--server-list-file", list)
	require.ErrorIs(t, err, resolver.ErrServicesDisagree)
	assert.Contains(t, out, "2 services, 0 failed")
	assert.Contains(t, out, "203.0.113.7: 1")
	assert.Contains(t, out, "198.51.100.9: 1")
}

func TestVerifyAllFailed(t *testing.T) {
	isolate(t)
	list := writeServerList(t, "ftp://a.example/ip", "ftp://b.example/ip")

	out, err := execute(t, "verify", "--cache-dir", t.TempDir(), "--server-list-file", list)
	require.ErrorIs(t, err, resolver.ErrNoAddressResolved)
	assert.Contains(t, out, "2 services, 2 failed")
}

func TestVerifyWorkersRange(t *testing.T) {
	isolate(t)
	_, err := execute(t, "verify", "--workers", "0")
	require.Error(t, err)
}

func TestConfigWrite(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "config.yaml")

	_, err := execute(t, "config", "write", path,
		"--machine", "written",
		"--receiver-email", "a@example.com,b@example.com",
		"--cache-dir", t.TempDir())
	require.NoError(t, err)

	cfg, err := config.LoadConfig(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "written", cfg.Machine)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, cfg.ReceiverEmail)
}

func TestHistoryDisabled(t *testing.T) {
	isolate(t)
	_, err := execute(t, "history", "--cache-dir", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "history is disabled")
}
