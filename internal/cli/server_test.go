package cli

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"go-file-transfer/internal/app"
	"go-file-transfer/internal/config"
	"go-file-transfer/internal/model"
	"go-file-transfer/internal/service"
)

const testSecret = "cli-test-secret"

type testEnv struct {
	url         string
	token       string
	storageRoot string
	configFile  string
	journal     string
}

// newTestEnv serves a full in-memory server and writes a transferctl config
// file pointing at it.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	base := t.TempDir()
	cfg := &config.Config{
		ServerPort:         "0",
		ServerReadTimeout:  5 * time.Second,
		ServerIdleTimeout:  30 * time.Second,
		RequestTimeout:     10 * time.Second,
		UploadTimeout:      time.Minute,
		UploadIdleTimeout:  30 * time.Second,
		ShutdownTimeout:    5 * time.Second,
		StorageRoot:        filepath.Join(base, "data"),
		ChunkTempDir:       filepath.Join(base, "chunks"),
		ChunkMaxSize:       1 << 20,
		ChunkExpiry:        time.Hour,
		JWTSecret:          testSecret,
		CORSOrigins:        []string{"*"},
		RateLimitRPM:       10000,
		UploadRateLimitRPM: 10000,
		TaskWorkers:        1,
		TaskStaleAfter:     10 * time.Minute,
		LogLevel:           "error",
		LogFormat:          "json",
	}
	require.NoError(t, cfg.Validate())

	ctx, cancel := context.WithCancel(context.Background())
	application, err := app.New(ctx, cfg)
	require.NoError(t, err)
	application.Start(ctx)

	server := httptest.NewServer(application.Handler())
	t.Cleanup(func() {
		server.Close()
		cancel()
		application.Wait()
	})

	token, err := service.NewTokenService(testSecret).Issue("user-1", "tester", model.RoleUser, time.Hour)
	require.NoError(t, err)

	env := &testEnv{
		url:         server.URL,
		token:       token,
		storageRoot: cfg.StorageRoot,
		configFile:  filepath.Join(base, "transferctl.yaml"),
		journal:     filepath.Join(base, "journal.db"),
	}
	content := "server: " + env.url + "\ntoken: " + env.token + "\njournal: " + env.journal + "\nlog-level: error\n"
	require.NoError(t, os.WriteFile(env.configFile, []byte(content), 0o600))
	return env
}

// run executes one transferctl invocation and returns its stdout.
func (e *testEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var stdout, stderr bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--config", e.configFile}, args...))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	err := cmd.ExecuteContext(ctx)
	return stdout.String(), err
}

func (e *testEnv) stored(t *testing.T, apiPath string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(e.storageRoot, filepath.FromSlash(strings.TrimPrefix(apiPath, "/"))))
	require.NoError(t, err)
	return string(data)
}

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
}

// taskIDFrom extracts the id from the first "task <id> ..." line.
func taskIDFrom(t *testing.T, out string) string {
	t.Helper()
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 2 && fields[0] == "task" {
			return strings.TrimSuffix(fields[1], ":")
		}
	}
	t.Fatalf("no task id in output:\n%s", out)
	return ""
}
