package supervisor_test

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/rendergraph/pkg/rendergraph/supervisor"
)

func TestConfig_Args(t *testing.T) {
	tests := []struct {
		name    string
		cfg     supervisor.Config
		want    []string
		wantErr bool
	}{
		{
			name: "minimal",
			cfg:  supervisor.Config{EntryPoint: "main.py", Port: 8188},
			want: []string{"main.py", "--port", "8188"},
		},
		{
			name: "all flags",
			cfg: supervisor.Config{
				EntryPoint: "/opt/ComfyUI/main.py",
				OutputDir:  "/data/out",
				Host:       "0.0.0.0",
				Port:       8190,
				LowVRAM:    true,
				CPUOnly:    true,
				ExtraArgs:  `--preview-method auto --extra-model-paths-config "/etc/comfy paths.yaml"`,
			},
			want: []string{
				"/opt/ComfyUI/main.py",
				"--output-directory", "/data/out",
				"--listen", "0.0.0.0",
				"--port", "8190",
				"--lowvram",
				"--cpu",
				"--preview-method", "auto",
				"--extra-model-paths-config", "/etc/comfy paths.yaml",
			},
		},
		{name: "no entry point", cfg: supervisor.Config{Port: 8188}, wantErr: true},
		{name: "bad port", cfg: supervisor.Config{EntryPoint: "main.py", Port: 70000}, wantErr: true},
		{name: "unbalanced quote", cfg: supervisor.Config{EntryPoint: "main.py", Port: 1, ExtraArgs: `"oops`}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.cfg.Args()
			if tt.wantErr {
				assert.ErrorIs(t, err, supervisor.ErrInvalidConfig)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConfig_Addresses(t *testing.T) {
	cfg := supervisor.Config{Host: "0.0.0.0", Port: 8188}
	assert.Equal(t, "0.0.0.0:8188", cfg.Address())
	assert.Equal(t, "127.0.0.1:8188", cfg.DialAddress())
	assert.Equal(t, "http://127.0.0.1:8188", cfg.BaseURL())

	cfg.Host = "::1"
	assert.Equal(t, "http://[::1]:8188", cfg.BaseURL())
}

func TestDialPortChecker(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()

	assert.True(t, supervisor.DialPortChecker(context.Background(), addr))

	require.NoError(t, ln.Close())
	assert.False(t, supervisor.DialPortChecker(context.Background(), addr))
}

func TestExecLauncher_StartAndStop(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("process groups are unix-only")
	}
	dir := t.TempDir()
	script := filepath.Join(dir, "worker.sh")
	require.NoError(t, os.WriteFile(script, []byte("echo worker args: \"$@\"\nexec sleep 30\n"), 0o755))
	logFile := filepath.Join(dir, "worker.log")

	s := supervisor.New(supervisor.WithPortChecker(portFree))
	cfg := supervisor.Config{
		Interpreter: "sh",
		EntryPoint:  script,
		OutputDir:   filepath.Join(dir, "out"),
		Host:        "127.0.0.1",
		Port:        18188,
		LowVRAM:     true,
		LogFile:     logFile,
	}

	h, err := s.Start(context.Background(), cfg)
	require.NoError(t, err)
	assert.Positive(t, h.Pid)

	require.Eventually(t, func() bool {
		data, _ := os.ReadFile(logFile)
		return strings.Contains(string(data), "worker args:")
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, s.Stop(context.Background(), h, 5*time.Second))
	assert.Equal(t, supervisor.StateStopped, s.State())

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	log := string(data)
	assert.Contains(t, log, "===== worker start")
	assert.Contains(t, log, "--output-directory "+cfg.OutputDir+" --listen 127.0.0.1 --port 18188 --lowvram")
	assert.Contains(t, log, "===== worker stop")
}

func TestExecLauncher_MissingInterpreter(t *testing.T) {
	s := supervisor.New(supervisor.WithPortChecker(portFree))
	cfg := testConfig()
	cfg.Interpreter = filepath.Join(t.TempDir(), "no-such-python")

	_, err := s.Start(context.Background(), cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, supervisor.ErrLaunchFailed)
	assert.Equal(t, supervisor.StateFailed, s.State())
}
