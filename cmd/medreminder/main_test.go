package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medcia/medreminder/internal/services"
)

// testEnv points the process at a fresh SQLite file with the log email
// backend and no SMS, Redis or Pushgateway.
func testEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for k, v := range map[string]string{
		"DB_DRIVER":          "sqlite",
		"DB_PATH":            filepath.Join(dir, "medreminder.db"),
		"EMAIL_BACKEND":      "log",
		"LOG_LEVEL":          "error",
		"LOG_PRETTY":         "false",
		"OTEL_ENABLED":       "false",
		"TWILIO_ACCOUNT_SID": "",
		"TWILIO_AUTH_TOKEN":  "",
		"TWILIO_FROM_NUMBER": "",
		"REDIS_ADDR":         "",
		"PUSHGATEWAY_URL":    "",
		"DISPATCH_SCHEDULE":  "@every 1h",
		"RUN_TIMEOUT":        "10s",
	} {
		t.Setenv(k, v)
	}
	return dir
}

func runCLI(args ...string) (code int, stdout, stderr string) {
	var out, errOut bytes.Buffer
	code = execute(append(args, "--env-file", ""), &out, &errOut)
	return code, out.String(), errOut.String()
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, exitOK, exitCode(nil))
	assert.Equal(t, exitFatal, exitCode(errors.New("boom")))
	assert.Equal(t, exitRunHeld, exitCode(&exitError{code: exitRunHeld, err: services.ErrRunInProgress}))

	wrapped := fmt.Errorf("outer: %w", &exitError{code: exitRunHeld, err: services.ErrRunInProgress})
	assert.Equal(t, exitRunHeld, exitCode(wrapped))
	assert.ErrorIs(t, wrapped, services.ErrRunInProgress)
}

func TestLoadConfig_EnvFile(t *testing.T) {
	testEnv(t)
	prev, had := os.LookupEnv("APP_NAME")
	require.NoError(t, os.Unsetenv("APP_NAME"))
	t.Cleanup(func() {
		if had {
			os.Setenv("APP_NAME", prev)
		} else {
			os.Unsetenv("APP_NAME")
		}
	})

	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("APP_NAME=PillPal\nLOG_LEVEL=debug\n"), 0o600))

	cfg, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "PillPal", cfg.Dispatch.AppName)
	assert.Equal(t, "error", cfg.LogLevel, "environment wins over the dotenv file")

	_, err = loadConfig(filepath.Join(t.TempDir(), "missing.env"))
	assert.NoError(t, err, "a missing dotenv file is ignored")

	bad := filepath.Join(t.TempDir(), "dir.env")
	require.NoError(t, os.Mkdir(bad, 0o700))
	_, err = loadConfig(bad)
	assert.Error(t, err)
}

func TestSeedThenRun(t *testing.T) {
	testEnv(t)

	code, out, errOut := runCLI("seed", "--username", "alice", "--email", "alice@example.com",
		"--phone", "+15551234567", "--timezone", "Europe/Athens", "--in", "-1m")
	require.Equal(t, exitOK, code, errOut)
	assert.Len(t, strings.TrimSpace(out), 36, "seed prints the reminder id")

	code, out, errOut = runCLI("run")
	require.Equal(t, exitOK, code, errOut)
	assert.Contains(t, out, "Processed 1 of 1 due reminders; email: 1 sent, 0 failed, 0 skipped; sms: 0 sent, 0 failed, 1 skipped")

	code, out, _ = runCLI("run")
	require.Equal(t, exitOK, code)
	assert.Equal(t, "No due reminders.\n", out)
}

func TestRun_PushesMetrics(t *testing.T) {
	testEnv(t)
	var pushes atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "/metrics/job/"+pushJob) {
			pushes.Add(1)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	t.Setenv("PUSHGATEWAY_URL", srv.URL)

	code, _, errOut := runCLI("run")
	require.Equal(t, exitOK, code, errOut)
	assert.EqualValues(t, 1, pushes.Load())
}

func TestRun_PushFailureDoesNotFailRun(t *testing.T) {
	testEnv(t)
	t.Setenv("PUSHGATEWAY_URL", "http://127.0.0.1:1")
	code, _, errOut := runCLI("run")
	assert.Equal(t, exitOK, code, errOut)
}

func TestRun_BadConfigIsFatal(t *testing.T) {
	testEnv(t)
	t.Setenv("DB_DRIVER", "mysql")
	code, _, errOut := runCLI("run")
	assert.Equal(t, exitFatal, code)
	assert.Contains(t, errOut, "DB_DRIVER")
}

func TestRun_TimeoutFlagMustBeBounded(t *testing.T) {
	testEnv(t)
	code, _, errOut := runCLI("run", "--timeout", "0")
	assert.Equal(t, exitFatal, code)
	assert.Contains(t, errOut, "RUN_TIMEOUT must be > 0")

	t.Setenv("REDIS_ADDR", "127.0.0.1:1")
	t.Setenv("CLAIM_TTL", "1m")
	code, _, errOut = runCLI("run", "--timeout", "5m")
	assert.Equal(t, exitFatal, code)
	assert.Contains(t, errOut, "shorter than CLAIM_TTL")
}

func TestRun_MissingStoreDirIsFatal(t *testing.T) {
	testEnv(t)
	t.Setenv("DB_PATH", filepath.Join(t.TempDir(), "nope", "x.db"))
	code, _, errOut := runCLI("run")
	assert.Equal(t, exitFatal, code)
	assert.Contains(t, errOut, "reminder store unavailable")
}

func TestRunOnce_ClaimHeldExitsTwo(t *testing.T) {
	testEnv(t)
	cfg, err := loadConfig("")
	require.NoError(t, err)

	var out bytes.Buffer
	a, err := newApp(context.Background(), cfg, &out, io.Discard)
	require.NoError(t, err)
	defer a.close(context.Background())

	release, err := a.dispatcher.Locker.Acquire(context.Background())
	require.NoError(t, err)
	defer release(context.Background())

	err = runOnce(context.Background(), a)
	require.ErrorIs(t, err, services.ErrRunInProgress)
	assert.Equal(t, exitRunHeld, exitCode(err))
	assert.Empty(t, out.String(), "a skipped run prints no summary")
}

func TestServe_HealthAndGracefulStop(t *testing.T) {
	testEnv(t)
	cfg, err := loadConfig("")
	require.NoError(t, err)
	cfg.GinMode = "test"

	a, err := newApp(context.Background(), cfg, io.Discard, io.Discard)
	require.NoError(t, err)
	defer a.close(context.Background())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, a, ln) }()

	base := "http://" + ln.Addr().String()
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 3*time.Second, 20*time.Millisecond)

	resp, err := http.Post(base+cfg.APIBasePath+"/dispatch/runs", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop")
	}
}

func TestRootCmd_Help(t *testing.T) {
	var out bytes.Buffer
	code := execute([]string{"--help"}, &out, io.Discard)
	assert.Equal(t, exitOK, code)
	for _, sub := range []string{"run", "serve", "seed"} {
		assert.Contains(t, out.String(), sub)
	}

	code = execute([]string{"bogus"}, io.Discard, io.Discard)
	assert.Equal(t, exitFatal, code)
}
