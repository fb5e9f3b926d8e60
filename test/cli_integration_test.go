//go:build integration

package test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

// TestConcurrentDecideProcesses runs many short-lived decide processes
// against one session. The file locks must serialize them so no turn is
// lost.
func TestConcurrentDecideProcesses(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	binaryPath := buildGatekeeperBinary(t)
	stateDir := t.TempDir()

	const procs = 8
	var wg sync.WaitGroup
	errs := make(chan error, procs)
	for i := 0; i < procs; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := fmt.Sprintf(`{"action":"read","sessionId":"shared","turn":%d,"parameters":{"path":"file%d.go"}}`, i+1, i)
			out, err := runGatekeeper(binaryPath, req, "decide", "--state-dir", stateDir)
			if err != nil {
				errs <- fmt.Errorf("process %d: %v\n%s", i, err, out)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	out, err := runGatekeeper(binaryPath, "", "session", "show", "shared", "--state-dir", stateDir, "-o", "json")
	if err != nil {
		t.Fatalf("session show: %v\n%s", err, out)
	}
	var s struct {
		Trust int `json:"trust"`
	}
	if err := json.Unmarshal(out, &s); err != nil {
		t.Fatalf("decode session: %v\n%s", err, out)
	}
	// Each distinct inspection is worth 10 at the default table.
	if s.Trust != procs*10 {
		t.Errorf("trust = %d, want %d: a concurrent update was lost", s.Trust, procs*10)
	}
}

// TestServeDecide starts the daemon and drives the HTTP decision contract.
func TestServeDecide(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	binaryPath := buildGatekeeperBinary(t)
	tmpDir := t.TempDir()
	addr := freeAddr(t)

	configFile := filepath.Join(tmpDir, "gatekeeper.yaml")
	createTestConfig(t, configFile, fmt.Sprintf(`
state:
  dir: %q
server:
  listen_address: %q
telemetry:
  logging:
    level: debug
    format: text
`, filepath.Join(tmpDir, "state"), addr))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, binaryPath, "serve", "--config", configFile)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		t.Fatalf("failed to start daemon: %v", err)
	}
	defer func() {
		if cmd.Process != nil {
			cmd.Process.Kill()
		}
	}()

	base := "http://" + addr
	if !waitForHealthy(base+"/ready", 10*time.Second) {
		t.Fatalf("daemon did not become ready\nstderr: %s", stderr.String())
	}

	body := `{"action":"bash","sessionId":"s1","turn":1,"parameters":{"command":"git push --force"}}`
	resp, err := http.Post(base+"/v1/decide", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST /v1/decide: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var decision struct {
		Decision string `json:"decision"`
		Reason   string `json:"reason"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decision); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decision.Decision != "deny" {
		t.Errorf("decision = %q, want deny (%s)", decision.Decision, decision.Reason)
	}

	metrics, err := http.Get(base + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	data, _ := io.ReadAll(metrics.Body)
	metrics.Body.Close()
	if !strings.Contains(string(data), "gatekeeper_decisions_total") {
		t.Errorf("metrics missing decision counter:\n%s", data)
	}

	// The daemon and the CLI share state.
	out, err := runGatekeeper(binaryPath, "", "session", "show", "s1", "--config", configFile)
	if err != nil {
		t.Errorf("session show: %v\n%s", err, out)
	}

	if err := cmd.Process.Signal(os.Interrupt); err != nil {
		t.Fatalf("signal: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("daemon exited with %v\nstderr: %s", err, stderr.String())
		}
	case <-time.After(20 * time.Second):
		t.Fatal("daemon did not shut down")
	}
}

func TestEngineFailureExitCode(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	binaryPath := buildGatekeeperBinary(t)

	blocked := filepath.Join(t.TempDir(), "state")
	if err := os.WriteFile(blocked, nil, 0644); err != nil {
		t.Fatal(err)
	}
	cmd := exec.Command(binaryPath, "decide", "--state-dir", blocked)
	cmd.Stdin = strings.NewReader(`{"action":"bash","sessionId":"s1","parameters":{"command":"rm -rf /"}}`)
	out, err := cmd.Output()
	exitErr, ok := err.(*exec.ExitError)
	if !ok || exitErr.ExitCode() != 1 {
		t.Fatalf("err = %v, want exit status 1", err)
	}
	if !strings.Contains(string(out), `"decision":"deny"`) {
		t.Errorf("stdout = %s, want fail-closed deny", out)
	}
}

func TestCommandVersionOutput(t *testing.T) {
	binaryPath := buildGatekeeperBinary(t)

	out, err := exec.Command(binaryPath, "version").Output()
	if err != nil {
		t.Fatalf("version command failed: %v", err)
	}
	for _, want := range []string{"Gatekeeper", "Git Commit", "Go Version"} {
		if !strings.Contains(string(out), want) {
			t.Errorf("version output missing %q:\n%s", want, out)
		}
	}
}

// Helper functions

// buildGatekeeperBinary builds the binary once into ../bin.
func buildGatekeeperBinary(t *testing.T) string {
	t.Helper()

	binaryPath, err := filepath.Abs("../bin/gatekeeper")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(binaryPath); err == nil {
		return binaryPath
	}

	t.Log("Building gatekeeper binary...")
	cmd := exec.Command("go", "build", "-o", binaryPath, "../cmd/gatekeeper")
	output, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("failed to build gatekeeper: %v\nOutput: %s", err, output)
	}
	return binaryPath
}

func runGatekeeper(binaryPath, stdin string, args ...string) ([]byte, error) {
	cmd := exec.Command(binaryPath, args...)
	cmd.Stdin = strings.NewReader(stdin)
	return cmd.Output()
}

// freeAddr returns a loopback address with a port that was free a moment ago.
func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	return l.Addr().String()
}

// waitForHealthy waits for a health endpoint to return 200
func waitForHealthy(url string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	client := &http.Client{Timeout: 1 * time.Second}

	for time.Now().Before(deadline) {
		resp, err := client.Get(url)
		if err == nil && resp.StatusCode == http.StatusOK {
			resp.Body.Close()
			return true
		}
		if resp != nil {
			resp.Body.Close()
		}
		time.Sleep(100 * time.Millisecond)
	}
	return false
}

// createTestConfig creates a test configuration file
func createTestConfig(t *testing.T, path, content string) {
	t.Helper()

	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to create config file: %v", err)
	}
}
