package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikesvoboda/nemotron-v3-home-security-intelligence-sub003/internal/core/stream"
	"github.com/mikesvoboda/nemotron-v3-home-security-intelligence-sub003/internal/infrastructure/mockapi"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// testEnv is a mock backend plus an isolated config file pointing at it
type testEnv struct {
	backend *mockapi.Server
	srv     *httptest.Server
	config  string
	offline string
}

func newTestEnv(t *testing.T, opts mockapi.Options) *testEnv {
	t.Helper()
	backend := mockapi.New(opts)
	srv := httptest.NewServer(backend.Handler())
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	env := &testEnv{
		backend: backend,
		srv:     srv,
		config:  filepath.Join(dir, "config.yaml"),
		offline: filepath.Join(dir, "offline.db"),
	}
	body := "offline:\n  enabled: true\n  path: " + env.offline + "\nretry:\n  max_attempts: 1\nlog:\n  level: error\n"
	require.NoError(t, os.WriteFile(env.config, []byte(body), 0o600))
	return env
}

func (e *testEnv) args(args ...string) []string {
	return append([]string{
		"--config", e.config,
		"--api-url", e.srv.URL,
		"--ws-url", "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/ws/events",
	}, args...)
}

func runCLI(ctx context.Context, args ...string) (string, error) {
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func (e *testEnv) run(t *testing.T, args ...string) string {
	t.Helper()
	out, err := runCLI(context.Background(), e.args(args...)...)
	require.NoError(t, err, out)
	return out
}

func TestVersionCommand(t *testing.T) {
	out, err := runCLI(context.Background(), "version")
	require.NoError(t, err)
	assert.Contains(t, out, "hsi version dev")
	assert.Contains(t, out, "Go version:")
	assert.Contains(t, out, "Platform:")
}

func TestConfigShow_MasksAPIKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("api:\n  api_key: supersecretkey123\n"), 0o600))

	out, err := runCLI(context.Background(), "--config", path, "--api-url", "http://flagged:9000", "config", "show", "--origins")
	require.NoError(t, err)

	assert.NotContains(t, out, "supersecretkey123")
	assert.Contains(t, out, "supe...y123")
	assert.Contains(t, out, "base_url: http://flagged:9000")
	assert.Regexp(t, `api\.base_url\s+flags`, out)
	assert.Regexp(t, `api\.api_key\s+file`, out)
	assert.Regexp(t, `log\.level\s+default`, out)
}

func TestConfigPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hsi.yaml")
	out, err := runCLI(context.Background(), "--config", path, "config", "path")
	require.NoError(t, err)
	assert.Contains(t, out, path)
}

func TestMaskAPIKey(t *testing.T) {
	assert.Equal(t, "(not set)", maskAPIKey(""))
	assert.Equal(t, "***", maskAPIKey("short"))
	assert.Equal(t, "abcd...wxyz", maskAPIKey("abcdefghwxyz"))
}

func TestEventsList(t *testing.T) {
	env := newTestEnv(t, mockapi.Options{})
	env.backend.AddEvent(stream.SecurityEvent{ID: "evt-low", CameraID: "garage", RiskScore: 10, Summary: "cat", StartedAt: t0})
	env.backend.AddEvent(stream.SecurityEvent{ID: "evt-high", CameraID: "front_door", RiskScore: 90, Summary: "person at night", StartedAt: t0.Add(time.Minute)})

	out := env.run(t, "events", "list")
	assert.Contains(t, out, "evt-low")
	assert.Contains(t, out, "evt-high")
	assert.Contains(t, out, "person at night")
	assert.Contains(t, out, "2 events")
	assert.Less(t, strings.Index(out, "evt-high"), strings.Index(out, "evt-low"), "newest first")

	out = env.run(t, "events", "list", "--min-risk", "high")
	assert.Contains(t, out, "evt-high")
	assert.NotContains(t, out, "evt-low")

	out = env.run(t, "events", "list", "--camera", "garage", "--json")
	var events []stream.SecurityEvent
	require.NoError(t, json.Unmarshal([]byte(out), &events))
	require.Len(t, events, 1)
	assert.Equal(t, "evt-low", events[0].ID)
}

func TestEventsList_InvalidMinRisk(t *testing.T) {
	env := newTestEnv(t, mockapi.Options{})
	_, err := runCLI(context.Background(), env.args("events", "list", "--min-risk", "spicy")...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid --min-risk")
}

func TestEventsList_Pages(t *testing.T) {
	env := newTestEnv(t, mockapi.Options{})
	for i := range 30 {
		env.backend.AddEvent(stream.SecurityEvent{CameraID: "driveway", RiskScore: i, StartedAt: t0.Add(time.Duration(i) * time.Second)})
	}

	out := env.run(t, "events", "list")
	assert.Contains(t, out, "25 events, more available")

	out = env.run(t, "events", "list", "--pages", "3")
	assert.Contains(t, out, "30 events\n")
}

func TestEventsMutations(t *testing.T) {
	env := newTestEnv(t, mockapi.Options{})
	env.backend.AddEvent(stream.SecurityEvent{ID: "e1", CameraID: "backyard", RiskScore: 55, StartedAt: t0})

	assert.Contains(t, env.run(t, "events", "delete", "e1"), "Deleted event e1")
	assert.Contains(t, env.run(t, "events", "list"), "No security events.")

	assert.Contains(t, env.run(t, "events", "restore", "e1"), "Restored event e1 (risk 55, medium)")
	assert.Contains(t, env.run(t, "events", "review", "e1"), "Marked event e1 as reviewed")

	out := env.run(t, "events", "list", "--json")
	var events []stream.SecurityEvent
	require.NoError(t, json.Unmarshal([]byte(out), &events))
	require.Len(t, events, 1)
	assert.True(t, events[0].Reviewed)

	_, err := runCLI(context.Background(), env.args("events", "delete", "missing")...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to delete event missing")
}

func TestEventsList_FallsBackToOffline(t *testing.T) {
	env := newTestEnv(t, mockapi.Options{})
	env.backend.AddEvent(stream.SecurityEvent{ID: "cached-1", CameraID: "garage", RiskScore: 30, StartedAt: t0})
	env.backend.AddEvent(stream.SecurityEvent{ID: "cached-2", CameraID: "garage", RiskScore: 40, StartedAt: t0.Add(time.Minute)})

	env.run(t, "events", "list")
	env.srv.Close()

	out := env.run(t, "events", "list")
	assert.Contains(t, out, "cached-1")
	assert.Contains(t, out, "cached-2")
	assert.Contains(t, out, "2 events from the offline cache")

	out = env.run(t, "offline", "list", "--kind", "event")
	assert.Contains(t, out, "cached-2")
	assert.Contains(t, out, "2 records in "+env.offline)

	assert.Contains(t, env.run(t, "offline", "clear"), "Removed 2 records")
	assert.Contains(t, env.run(t, "offline", "list"), "is empty")
}

func TestOffline_Disabled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("offline:\n  enabled: false\n"), 0o600))

	_, err := runCLI(context.Background(), "--config", path, "offline", "list")
	require.ErrorIs(t, err, errOfflineDisabled)
}

func TestAnomalies(t *testing.T) {
	env := newTestEnv(t, mockapi.Options{})
	env.backend.AddAnomaly(stream.Anomaly{ID: "a1", ZoneID: "porch", CameraID: "front_door", Severity: stream.SeverityHigh, Description: "loitering", DetectedAt: t0})

	out := env.run(t, "anomalies", "list", "porch")
	assert.Contains(t, out, "a1")
	assert.Contains(t, out, "loitering")

	assert.Contains(t, env.run(t, "anomalies", "list", "yard"), "No anomalies in zone yard.")
	assert.Contains(t, env.run(t, "anomalies", "ack", "a1"), "Acknowledged anomaly a1 in zone porch")

	_, err := runCLI(context.Background(), env.args("anomalies", "ack", "nope")...)
	require.Error(t, err)
}

// startTail runs tail in the background and returns its output once it
// exits
func startTail(t *testing.T, env *testEnv, args ...string) <-chan string {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	done := make(chan string, 1)
	go func() {
		out, err := runCLI(ctx, env.args(append([]string{"tail"}, args...)...)...)
		assert.NoError(t, err)
		done <- out
	}()
	require.Eventually(t, func() bool { return env.backend.Clients() == 1 }, 5*time.Second, 10*time.Millisecond)
	return done
}

func TestTail_JSON(t *testing.T) {
	env := newTestEnv(t, mockapi.Options{})
	done := startTail(t, env, "--json", "--count", "2")

	env.backend.AddDetection(stream.Detection{ID: "d1", CameraID: "driveway", Label: "vehicle", Confidence: 0.8, DetectedAt: t0})
	env.backend.AddEvent(stream.SecurityEvent{ID: "e1", CameraID: "driveway", RiskScore: 70, StartedAt: t0})

	var out string
	select {
	case out = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("tail did not exit")
	}

	var kinds []stream.Kind
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		var rec struct {
			Kind     stream.Kind `json:"kind"`
			ID       string      `json:"id"`
			CameraID string      `json:"camera_id"`
		}
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec))
		assert.Equal(t, "driveway", rec.CameraID)
		kinds = append(kinds, rec.Kind)
	}
	assert.Equal(t, []stream.Kind{stream.KindDetection, stream.KindEvent}, kinds)
}

func TestTail_KindFilter(t *testing.T) {
	env := newTestEnv(t, mockapi.Options{})
	done := startTail(t, env, "--kind", "event", "--count", "1")

	env.backend.AddDetection(stream.Detection{ID: "d1", CameraID: "garage", Label: "person", Confidence: 0.9})
	env.backend.AddEvent(stream.SecurityEvent{ID: "e9", CameraID: "garage", RiskScore: 12, Summary: "quiet"})

	select {
	case out := <-done:
		assert.Contains(t, out, "risk 12 (low) quiet")
		assert.NotContains(t, out, "person")
	case <-time.After(5 * time.Second):
		t.Fatal("tail did not exit")
	}
}

func TestTail_RejectsUnknownKind(t *testing.T) {
	_, err := runCLI(context.Background(), "tail", "--kind", "ufo")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown event kind "ufo"`)
}

func TestExport(t *testing.T) {
	env := newTestEnv(t, mockapi.Options{ExportStep: time.Millisecond})

	out := env.run(t, "export", "--format", "json", "--since", "1h", "--timeout", "10s")
	assert.Contains(t, out, "pending")
	assert.Contains(t, out, " 50%")
	assert.Contains(t, out, "Export complete: "+env.srv.URL+"/api/exports/")

	_, err := runCLI(context.Background(), env.args("export", "--format", "xml")...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to start export")
}

func TestDescribe(t *testing.T) {
	tests := []struct {
		name    string
		payload stream.Payload
		want    string
	}{
		{"detection", stream.Detection{Label: "person", Confidence: 0.87}, "person 87%"},
		{"open batch", stream.BatchUpdate{BatchID: "0123456789", Status: stream.BatchProcessing}, "batch 01234567 processing"},
		{"closed batch", stream.BatchUpdate{BatchID: "b1", Status: stream.BatchCompleted, DetectionCount: 3, ClosureReason: stream.ClosureIdle}, "batch b1 completed (3 detections, idle)"},
		{"crossing", stream.ZoneCrossing{EntityType: "person", Direction: stream.DirectionExit, ZoneID: "porch"}, "person exit porch"},
		{"event", stream.SecurityEvent{RiskScore: 91, RiskLevel: stream.SeverityCritical, Summary: "intruder"}, "risk 91 (critical) intruder"},
		{"notification", stream.Notification{Severity: stream.SeverityHigh, Title: "Door open"}, "[high] Door open"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, describe(stream.Event{Kind: tt.payload.Kind(), Payload: tt.payload}))
		})
	}
}

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "short", truncateString("short", 10))
	assert.Equal(t, "abcdefg...", truncateString("abcdefghijklmnop", 10))
	assert.Equal(t, "ab", truncateString("abcdef", 2))
}
