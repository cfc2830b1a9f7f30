package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/me/gotp/internal/config"
	"github.com/me/gotp/internal/sched"
	"github.com/me/gotp/internal/server"
	"github.com/me/gotp/internal/store"
	"github.com/me/gotp/internal/workload"
	"github.com/me/gotp/pkg/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

// startTestServer starts a daemon with an in-memory store and a mock
// clock, and returns its URL.
func startTestServer(t *testing.T) string {
	t.Helper()
	srvLogger := testLogger()

	st, err := store.NewSQLiteStore(":memory:", srvLogger)
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate test store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	core, err := sched.New(2, srvLogger, sched.WithClock(clock.NewMock()))
	if err != nil {
		t.Fatalf("create core: %v", err)
	}
	runner := workload.NewRunner(core, srvLogger)

	srv := server.New(config.ServerConfig{}, srvLogger, core, runner, st)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts.URL
}

// runCLI executes the root command and returns captured stdout.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()

	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(args)

	old := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w

	err := root.Execute()

	w.Close()
	os.Stdout = old

	var out bytes.Buffer
	out.ReadFrom(r)
	return out.String(), err
}

func writeScheduleFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "schedule.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write schedule file: %v", err)
	}
	return path
}

const validScheduleYAML = `cpu: 0
windows:
  - { offset: 0ms, duration: 10ms, partition: 0 }
  - { offset: 10ms, duration: 5ms, partition: idle }
  - { offset: 15ms, duration: 10ms, partition: 1 }
`

// installViaAPI installs a schedule directly so commands under test
// start from a known daemon state.
func installViaAPI(t *testing.T, url string, cpu int) {
	t.Helper()
	c := NewClient(url, testLogger())
	req := model.InstallRequest{Windows: []model.Window{
		{Offset: 0, Duration: model.Duration(10 * time.Millisecond), Partition: 0},
		{Offset: model.Duration(10 * time.Millisecond), Duration: model.Duration(5 * time.Millisecond), Partition: model.PartitionIdle},
		{Offset: model.Duration(15 * time.Millisecond), Duration: model.Duration(10 * time.Millisecond), Partition: 1},
	}}
	if _, err := c.Put("/api/v1/cpus/"+strconv.Itoa(cpu)+"/schedule", req); err != nil {
		t.Fatalf("install via API: %v", err)
	}
}

// spawnViaAPI creates a thread directly and returns its id.
func spawnViaAPI(t *testing.T, url string, req model.SpawnRequest) string {
	t.Helper()
	c := NewClient(url, testLogger())
	resp, err := c.Post("/api/v1/threads", req)
	if err != nil {
		t.Fatalf("spawn via API: %v", err)
	}
	var thread model.Thread
	if err := json.Unmarshal(resp.Data, &thread); err != nil {
		t.Fatalf("parse spawn response: %v", err)
	}
	return thread.ID
}

func TestInstallCommand(t *testing.T) {
	url := startTestServer(t)
	path := writeScheduleFile(t, validScheduleYAML)

	output, err := runCLI(t, "--server", url, "install", path)
	if err != nil {
		t.Fatalf("install error: %v\noutput: %s", err, output)
	}
	if !strings.Contains(output, "Schedule installed on cpu 0: 3 windows, frame 25ms") {
		t.Errorf("unexpected install output: %s", output)
	}
}

func TestInstallCommand_CPUOverride(t *testing.T) {
	url := startTestServer(t)
	path := writeScheduleFile(t, validScheduleYAML)

	output, err := runCLI(t, "--server", url, "install", path, "--cpu", "1")
	if err != nil {
		t.Fatalf("install error: %v\noutput: %s", err, output)
	}
	if !strings.Contains(output, "Schedule installed on cpu 1") {
		t.Errorf("expected install on cpu 1, got: %s", output)
	}
}

func TestInstallCommand_InvalidFile(t *testing.T) {
	url := startTestServer(t)
	path := writeScheduleFile(t, `cpu: 0
windows:
  - { offset: 0ms, duration: 10ms, partition: 0 }
  - { offset: 15ms, duration: 10ms, partition: 1 }
`)

	output, err := runCLI(t, "--server", url, "install", path)
	if err == nil {
		t.Fatal("expected error for a schedule with a gap")
	}
	if !strings.Contains(output, "windows[1].offset") {
		t.Errorf("expected field error in output, got: %s", output)
	}
}

func TestInstallCommand_MissingFile(t *testing.T) {
	url := startTestServer(t)
	if _, err := runCLI(t, "--server", url, "install", "nonexistent.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestGetCommand(t *testing.T) {
	url := startTestServer(t)
	installViaAPI(t, url, 0)

	output, err := runCLI(t, "--server", url, "get", "0")
	if err != nil {
		t.Fatalf("get error: %v", err)
	}
	if !strings.Contains(output, "3 windows, frame 25ms, stopped") {
		t.Errorf("expected schedule summary in output, got: %s", output)
	}
	if !strings.Contains(output, "idle") {
		t.Errorf("expected idle window in output, got: %s", output)
	}
}

func TestStartStopCommands(t *testing.T) {
	url := startTestServer(t)
	installViaAPI(t, url, 0)

	output, err := runCLI(t, "--server", url, "start", "0")
	if err != nil {
		t.Fatalf("start error: %v", err)
	}
	if !strings.Contains(output, "Schedule running on cpu 0") {
		t.Errorf("unexpected start output: %s", output)
	}

	output, err = runCLI(t, "--server", url, "stop", "0")
	if err != nil {
		t.Fatalf("stop error: %v", err)
	}
	if !strings.Contains(output, "Schedule stopped on cpu 0") {
		t.Errorf("unexpected stop output: %s", output)
	}
}

func TestStartCommand_NoSchedule(t *testing.T) {
	url := startTestServer(t)

	output, err := runCLI(t, "--server", url, "start", "1")
	if err != nil {
		t.Fatalf("start error: %v", err)
	}
	if !strings.Contains(output, "no schedule installed") {
		t.Errorf("expected no-op notice, got: %s", output)
	}
}

func TestCPUsCommand(t *testing.T) {
	url := startTestServer(t)
	installViaAPI(t, url, 0)

	output, err := runCLI(t, "--server", url, "cpus")
	if err != nil {
		t.Fatalf("cpus error: %v", err)
	}
	if !strings.Contains(output, "installed") {
		t.Errorf("expected installed cpu in output, got: %s", output)
	}
	if !strings.Contains(output, "empty") {
		t.Errorf("expected empty cpu in output, got: %s", output)
	}
}

func TestSpawnAndThreadsCommands(t *testing.T) {
	url := startTestServer(t)

	output, err := runCLI(t, "--server", url, "spawn",
		"--name", "hog", "--cpu", "1", "--policy", "fifo", "--priority", "30",
		"--run-for", "3ms", "--sleep-for", "2ms")
	if err != nil {
		t.Fatalf("spawn error: %v\noutput: %s", err, output)
	}
	if !strings.Contains(output, "Thread spawned: thr_") {
		t.Errorf("unexpected spawn output: %s", output)
	}

	output, err = runCLI(t, "--server", url, "threads")
	if err != nil {
		t.Fatalf("threads error: %v", err)
	}
	if !strings.Contains(output, "hog") || !strings.Contains(output, "running") {
		t.Errorf("expected hog running in output, got: %s", output)
	}
}

func TestSpawnCommand_BadPolicy(t *testing.T) {
	url := startTestServer(t)
	if _, err := runCLI(t, "--server", url, "spawn", "--policy", "rr"); err == nil {
		t.Fatal("expected error for unknown policy")
	}
}

func TestKillCommand(t *testing.T) {
	url := startTestServer(t)
	id := spawnViaAPI(t, url, model.SpawnRequest{
		Name: "victim", CPU: 1, Policy: model.PolicyFIFO, Priority: 20,
	})

	output, err := runCLI(t, "--server", url, "kill", id)
	if err != nil {
		t.Fatalf("kill error: %v", err)
	}
	if !strings.Contains(output, "killed") {
		t.Errorf("unexpected kill output: %s", output)
	}

	if _, err := runCLI(t, "--server", url, "kill", id); err == nil {
		t.Fatal("expected error killing a dead thread")
	}
}

func TestMigrateCommand(t *testing.T) {
	url := startTestServer(t)
	installViaAPI(t, url, 0)
	id := spawnViaAPI(t, url, model.SpawnRequest{
		Name: "mover", CPU: 0, Policy: model.PolicyTP, Priority: 60, Partition: 0,
	})

	output, err := runCLI(t, "--server", url, "migrate", id, "1")
	if err != nil {
		t.Fatalf("migrate error: %v", err)
	}
	if !strings.Contains(output, "now on cpu 1 under fifo") {
		t.Errorf("expected demotion notice, got: %s", output)
	}
}

func TestEventsCommand(t *testing.T) {
	url := startTestServer(t)
	installViaAPI(t, url, 0)

	output, err := runCLI(t, "--server", url, "events")
	if err != nil {
		t.Fatalf("events error: %v", err)
	}
	if !strings.Contains(output, "install") {
		t.Errorf("expected install event in output, got: %s", output)
	}
	if !strings.Contains(output, "TYPE") {
		t.Errorf("expected table header in output, got: %s", output)
	}
}

func TestSimulateCommand(t *testing.T) {
	script := `
tp.install(0, [
    {offset: "0ms", duration: "10ms", partition: 0},
    {offset: "10ms", duration: "10ms", partition: "idle"},
]);
tp.start(0);
advance("20ms");
log("done");
`
	path := filepath.Join(t.TempDir(), "scenario.js")
	if err := os.WriteFile(path, []byte(script), 0o644); err != nil {
		t.Fatalf("write script: %v", err)
	}

	output, err := runCLI(t, "simulate", path)
	if err != nil {
		t.Fatalf("simulate error: %v\noutput: %s", err, output)
	}
	if !strings.Contains(output, "20ms of virtual time") {
		t.Errorf("expected duration summary, got: %s", output)
	}
	if !strings.Contains(output, "window 1 -> partition idle") {
		t.Errorf("expected idle window activation, got: %s", output)
	}
	if !strings.Contains(output, "log: done") {
		t.Errorf("expected script log line, got: %s", output)
	}
}

func TestSimulateCommand_ScriptError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.js")
	if err := os.WriteFile(path, []byte(`tp.install(0, [`), 0o644); err != nil {
		t.Fatalf("write script: %v", err)
	}

	if _, err := runCLI(t, "simulate", path); err == nil {
		t.Fatal("expected error for a bad script")
	}
}
