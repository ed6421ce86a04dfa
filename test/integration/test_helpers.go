//go:build integration

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"go-file-transfer/internal/app"
	"go-file-transfer/internal/client"
	"go-file-transfer/internal/config"
	"go-file-transfer/internal/model"
	"go-file-transfer/internal/service"
)

const testSecret = "test-secret"

type testServer struct {
	*httptest.Server
	token       string
	storageRoot string
}

func newAuthedServer(t *testing.T, mutate func(*config.Config)) *testServer {
	t.Helper()

	base := t.TempDir()
	cfg := &config.Config{
		ServerPort:         "8080",
		ServerReadTimeout:  15 * time.Second,
		ServerIdleTimeout:  120 * time.Second,
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
		TaskWorkers:        2,
		TaskStaleAfter:     10 * time.Minute,
		LogLevel:           "error",
		LogFormat:          "json",
	}
	if mutate != nil {
		mutate(cfg)
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

	return &testServer{Server: server, token: token, storageRoot: cfg.StorageRoot}
}

func (s *testServer) client(t *testing.T) *client.Client {
	t.Helper()

	c, err := client.New(client.Config{BaseURL: s.URL, Token: s.token})
	require.NoError(t, err)
	return c
}

func (s *testServer) readStored(t *testing.T, apiPath string) string {
	t.Helper()

	data, err := os.ReadFile(filepath.Join(s.storageRoot, filepath.FromSlash(strings.TrimPrefix(apiPath, "/"))))
	require.NoError(t, err)
	return string(data)
}

func newAuthRequest(t *testing.T, method string, url string, body []byte, accessToken string) *http.Request {
	t.Helper()

	req, err := http.NewRequest(method, url, bytes.NewReader(body))
	require.NoError(t, err)
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return req
}

func doRequest(t *testing.T, req *http.Request) *http.Response {
	t.Helper()

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeError(t *testing.T, resp *http.Response) model.APIError {
	t.Helper()

	var parsed model.APIResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&parsed))
	require.False(t, parsed.Success)
	require.NotNil(t, parsed.Error)
	return *parsed.Error
}

// waitForStatus polls a task until it reaches want or the deadline passes.
func waitForStatus(t *testing.T, c *client.Client, taskID string, want model.TaskStatus) model.Task {
	t.Helper()

	var task model.Task
	require.Eventually(t, func() bool {
		var err error
		task, err = c.GetTask(context.Background(), taskID)
		return err == nil && task.Status == want
	}, 10*time.Second, 50*time.Millisecond, "task %s never reached %s", taskID, want)
	return task
}

func intPtr(v int) *int {
	return &v
}
