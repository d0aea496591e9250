package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timewsync/timewsync/internal/config"
	"github.com/timewsync/timewsync/internal/remote/remotetest"
	"github.com/timewsync/timewsync/internal/sync"
	"gopkg.in/yaml.v3"
)

type harness struct {
	t       *testing.T
	app     *app
	server  *remotetest.Server
	home    string
	dataDir string
	stdout  bytes.Buffer
	stderr  bytes.Buffer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	home := t.TempDir()
	h := &harness{
		t:       t,
		server:  remotetest.NewServer("alice", "secret"),
		home:    home,
		dataDir: filepath.Join(home, ".timewarrior", "data"),
	}
	h.app = &app{
		stdout:      &h.stdout,
		stderr:      &h.stderr,
		fs:          afero.NewOsFs(),
		env:         config.Env{Home: home, Vars: map[string]string{}},
		dialer:      h.server.Dialer(),
		lookPath:    func(string) (string, error) { return "/usr/bin/timew", nil },
		interactive: func() bool { return false },
		promptConfig: func(string) (*initAnswers, error) {
			return nil, errors.New("unexpected prompt")
		},
		logToFile: true,
	}
	return h
}

func (h *harness) configPath() string {
	return filepath.Join(h.home, ".timewarrior-sync", "config.toml")
}

func (h *harness) writeConfig(body string) {
	h.t.Helper()
	require.NoError(h.t, os.MkdirAll(filepath.Dir(h.configPath()), 0o700))
	require.NoError(h.t, os.WriteFile(h.configPath(), []byte(body), 0o600))
}

const validConfig = `
hostname = "ftp.test"
port = 21
username = "alice"
password = "secret"
remote_dir = "timewarrior"
retry_backoff = "0s"
timeout = "5s"
`

func (h *harness) writeLocal(id, content string) {
	h.t.Helper()
	require.NoError(h.t, os.MkdirAll(h.dataDir, 0o755))
	require.NoError(h.t, os.WriteFile(filepath.Join(h.dataDir, id), []byte(content), 0o644))
}

func (h *harness) readLocal(id string) string {
	h.t.Helper()
	data, err := os.ReadFile(filepath.Join(h.dataDir, id))
	require.NoError(h.t, err)
	return string(data)
}

func (h *harness) run(args ...string) int {
	h.stdout.Reset()
	h.stderr.Reset()
	return h.app.execute(context.Background(), args)
}

func TestSync_UploadsAndDownloads(t *testing.T) {
	h := newHarness(t)
	h.writeConfig(validConfig)
	h.writeLocal("2024-01.data", "inc 20240101T080000Z - 20240101T090000Z\n")
	h.server.WriteFile("/timewarrior/2024-02.data", []byte("inc 20240201T080000Z\n"), time.Now())

	code := h.run()
	require.Equal(t, exitOK, code, h.stderr.String())

	assert.Equal(t, "inc 20240201T080000Z\n", h.readLocal("2024-02.data"))
	data, ok := h.server.ReadFile("/timewarrior/2024-01.data")
	require.True(t, ok)
	assert.Equal(t, "inc 20240101T080000Z - 20240101T090000Z\n", string(data))

	out := h.stdout.String()
	assert.Contains(t, out, "1 uploaded")
	assert.Contains(t, out, "1 downloaded")

	// second run finds everything in place
	code = h.run("sync")
	require.Equal(t, exitOK, code, h.stderr.String())
	assert.Contains(t, h.stdout.String(), "2 up to date")

	code = h.run("history")
	require.Equal(t, exitOK, code, h.stderr.String())
	assert.Contains(t, h.stdout.String(), "sync")
	assert.Contains(t, h.stdout.String(), "ok")

	logData, err := os.ReadFile(filepath.Join(h.home, ".timewarrior-sync", "logs", "timewsync.log"))
	require.NoError(t, err)
	assert.Contains(t, string(logData), "sync finished")
	assert.Contains(t, string(logData), "client=timewsync/")
}

func TestSync_ModeCommands(t *testing.T) {
	h := newHarness(t)
	h.writeConfig(validConfig)
	h.writeLocal("2024-01.data", "local\n")
	h.server.WriteFile("/timewarrior/2024-02.data", []byte("remote\n"), time.Now())

	require.Equal(t, exitOK, h.run("upload"), h.stderr.String())
	_, ok := h.server.ReadFile("/timewarrior/2024-01.data")
	assert.True(t, ok)
	assert.NoFileExists(t, filepath.Join(h.dataDir, "2024-02.data"))

	require.Equal(t, exitOK, h.run("download"), h.stderr.String())
	assert.Equal(t, "remote\n", h.readLocal("2024-02.data"))
}

func TestSync_ConflictThenResolve(t *testing.T) {
	h := newHarness(t)
	h.writeConfig(validConfig)
	h.writeLocal("2024-01.data", "local edit\n")
	h.server.WriteFile("/timewarrior/2024-01.data", []byte("remote\n"), time.Now())

	code := h.run("sync")
	assert.Equal(t, exitConflict, code)
	assert.Contains(t, h.stdout.String(), "Conflicts")
	assert.Contains(t, h.stdout.String(), "2024-01.data")
	data, _ := h.server.ReadFile("/timewarrior/2024-01.data")
	assert.Equal(t, "remote\n", string(data), "conflicts are never overwritten")

	code = h.run("resolve", "--keep", "local", "2024-01.data")
	require.Equal(t, exitOK, code, h.stderr.String())
	data, _ = h.server.ReadFile("/timewarrior/2024-01.data")
	assert.Equal(t, "local edit\n", string(data))

	assert.Equal(t, exitOK, h.run("sync"), h.stderr.String())
}

func TestResolve_Flags(t *testing.T) {
	h := newHarness(t)
	h.writeConfig(validConfig)

	assert.Equal(t, exitFailure, h.run("resolve", "2024-01.data"))
	assert.Contains(t, h.stderr.String(), "keep")

	assert.Equal(t, exitFailure, h.run("resolve", "--keep", "newest", "2024-01.data"))
	assert.Contains(t, h.stderr.String(), "unknown side")

	assert.Equal(t, exitFailure, h.run("resolve", "--keep", "local"))
}

func TestPlan_DoesNotTransfer(t *testing.T) {
	h := newHarness(t)
	h.writeConfig(validConfig)
	h.writeLocal("2024-01.data", "local\n")
	h.server.WriteFile("/timewarrior/2024-03.data", []byte("remote\n"), time.Now())

	require.Equal(t, exitOK, h.run("plan"), h.stderr.String())
	out := h.stdout.String()
	assert.Contains(t, out, "upload")
	assert.Contains(t, out, "2024-01.data")
	assert.Contains(t, out, "download")
	assert.Contains(t, out, "2024-03.data")

	assert.Equal(t, []string{"/timewarrior/2024-03.data"}, h.server.Files())
	assert.NoFileExists(t, filepath.Join(h.dataDir, "2024-03.data"))
}

func TestPlan_NotesSizeOnlyComparisons(t *testing.T) {
	h := newHarness(t)
	h.writeConfig(validConfig)
	h.writeLocal("2024-01.data", "same\n")
	h.server.WriteFile("/timewarrior/2024-01.data", []byte("SAME\n"), time.Now())

	require.Equal(t, exitOK, h.run("plan"), h.stderr.String())
	out := h.stdout.String()
	assert.Contains(t, out, "Everything is up to date.")
	assert.Contains(t, out, "1 unchanged file compared by size only")

	require.Equal(t, exitOK, h.run("plan", "-o", "json"), h.stderr.String())
	var view struct {
		SizeOnly int `json:"size_only"`
	}
	require.NoError(t, json.Unmarshal(h.stdout.Bytes(), &view))
	assert.Equal(t, 1, view.SizeOnly)
}

func TestPlan_YAML(t *testing.T) {
	h := newHarness(t)
	h.writeConfig(validConfig)
	h.writeLocal("2024-01.data", "local\n")

	require.Equal(t, exitOK, h.run("plan", "-o", "yaml"), h.stderr.String())

	var view struct {
		RemoteAbsent bool `yaml:"remote_absent"`
		Actions      []struct {
			Op string `yaml:"op"`
			ID string `yaml:"id"`
		} `yaml:"actions"`
	}
	require.NoError(t, yaml.Unmarshal(h.stdout.Bytes(), &view))
	assert.True(t, view.RemoteAbsent)
	require.Len(t, view.Actions, 1)
	assert.Equal(t, "upload", view.Actions[0].Op)
	assert.Equal(t, "2024-01.data", view.Actions[0].ID)
}

func TestSync_JSONReport(t *testing.T) {
	h := newHarness(t)
	h.writeConfig(validConfig)
	h.writeLocal("2024-01.data", "local\n")

	require.Equal(t, exitOK, h.run("upload", "--output", "json"), h.stderr.String())

	var report struct {
		RunID   string `json:"run_id"`
		Mode    string `json:"mode"`
		Results []struct {
			ID     string `json:"id"`
			Op     string `json:"op"`
			Status string `json:"status"`
		} `json:"results"`
		Summary sync.Summary `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(h.stdout.Bytes(), &report))
	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, "upload", report.Mode)
	require.Len(t, report.Results, 1)
	assert.Equal(t, "succeeded", report.Results[0].Status)
	assert.Equal(t, 1, report.Summary.Uploaded)

	code := h.run("history", "-o", "json", report.RunID[:8])
	require.Equal(t, exitOK, code, h.stderr.String())
	assert.Contains(t, h.stdout.String(), `"id": "2024-01.data"`)
}

func TestSync_Failures(t *testing.T) {
	tests := []struct {
		name       string
		config     string
		lookPath   func(string) (string, error)
		args       []string
		wantStderr []string
	}{
		{
			name:       "missing config",
			wantStderr: []string{"No config found", `hostname = "myftp.server.com"`},
		},
		{
			name:       "missing credentials",
			config:     "hostname = \"ftp.test\"\n",
			wantStderr: []string{"username: not configured", "password: not configured", "Example config"},
		},
		{
			name:       "timew missing",
			config:     validConfig,
			lookPath:   func(string) (string, error) { return "", errors.New("not found") },
			wantStderr: []string{"https://timewarrior.net/"},
		},
		{
			name:       "wrong password",
			config:     "hostname = \"ftp.test\"\nusername = \"alice\"\npassword = \"nope\"\n",
			wantStderr: []string{"authentication rejected"},
		},
		{
			name:       "unknown output",
			config:     validConfig,
			args:       []string{"--output", "xml"},
			wantStderr: []string{"unknown output format"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			if tt.config != "" {
				h.writeConfig(tt.config)
			}
			if tt.lookPath != nil {
				h.app.lookPath = tt.lookPath
			}

			assert.Equal(t, exitFailure, h.run(append([]string{"sync"}, tt.args...)...))
			for _, want := range tt.wantStderr {
				assert.Contains(t, h.stderr.String(), want)
			}
		})
	}
}

func TestSync_SkipTimewCheck(t *testing.T) {
	h := newHarness(t)
	h.writeConfig(validConfig)
	h.app.lookPath = func(string) (string, error) { return "", errors.New("not found") }

	assert.Equal(t, exitOK, h.run("sync", "--skip-timew-check"), h.stderr.String())
}

func TestSync_FlagsOverrideConfig(t *testing.T) {
	h := newHarness(t)
	h.writeConfig(validConfig)
	other := filepath.Join(h.home, "elsewhere", "data")
	require.NoError(t, os.MkdirAll(other, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(other, "2024-05.data"), []byte("x\n"), 0o644))

	require.Equal(t, exitOK, h.run("upload", "--remote-dir", "tw-backup", "--data-dir", other), h.stderr.String())
	_, ok := h.server.ReadFile("/tw-backup/2024-05.data")
	assert.True(t, ok)
}

func TestSync_CreatesConfigInteractively(t *testing.T) {
	h := newHarness(t)
	h.app.interactive = func() bool { return true }
	h.app.promptConfig = func(path string) (*initAnswers, error) {
		return &initAnswers{
			Path:      path,
			Hostname:  "ftp.test",
			Port:      "21",
			Username:  "alice",
			Password:  "secret",
			RemoteDir: "timewarrior",
		}, nil
	}
	h.writeLocal("2024-01.data", "local\n")

	require.Equal(t, exitOK, h.run("sync"), h.stderr.String())
	assert.FileExists(t, h.configPath())
	_, ok := h.server.ReadFile("/timewarrior/2024-01.data")
	assert.True(t, ok)

	info, err := os.Stat(h.configPath())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestInit(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, exitFailure, h.run("init"))
	assert.Contains(t, h.stderr.String(), "interactive terminal")

	h.app.interactive = func() bool { return true }
	h.app.promptConfig = func(path string) (*initAnswers, error) {
		return &initAnswers{Path: path, Hostname: "ftp.test", Port: "2121", Username: "alice", Password: "secret"}, nil
	}
	require.Equal(t, exitOK, h.run("init"), h.stderr.String())
	assert.Contains(t, h.stdout.String(), "Saved")

	cfg, err := config.Load(afero.NewOsFs(), h.configPath(), h.app.env)
	require.NoError(t, err)
	assert.Equal(t, 2121, cfg.Port)
	assert.Equal(t, config.DefaultRemoteDir, cfg.RemoteDir)

	assert.Equal(t, exitFailure, h.run("init"))
	assert.Contains(t, h.stderr.String(), "already exists")
	assert.Equal(t, exitOK, h.run("init", "--force"), h.stderr.String())
}

func TestHistory_Empty(t *testing.T) {
	h := newHarness(t)
	require.Equal(t, exitOK, h.run("history"), h.stderr.String())
	assert.Contains(t, h.stdout.String(), "No runs recorded yet.")

	assert.Equal(t, exitFailure, h.run("history", "deadbeef"))
	assert.Contains(t, h.stderr.String(), "run not found")
}

func TestVersion(t *testing.T) {
	h := newHarness(t)
	require.Equal(t, exitOK, h.run("version"))
	assert.Contains(t, h.stdout.String(), "timewsync ")

	require.Equal(t, exitOK, h.run("--version"))
	assert.Contains(t, h.stdout.String(), "timewsync version ")
}

func TestExitCode(t *testing.T) {
	ok := &sync.Report{}
	conflicts := &sync.Report{Summary: sync.Summary{Conflicts: 1, Skipped: 1}}
	failed := &sync.Report{Summary: sync.Summary{Failed: 1, Conflicts: 1}}
	aborted := &sync.Report{Error: "session lost"}

	tests := []struct {
		name   string
		report *sync.Report
		err    error
		want   int
	}{
		{"success", ok, nil, exitOK},
		{"conflicts only", conflicts, nil, exitConflict},
		{"failure beats conflicts", failed, nil, exitFailure},
		{"aborted", aborted, sync.ErrSessionLost, exitFailure},
		{"no report", nil, errors.New("boom"), exitFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.report, tt.err))
		})
	}
}
