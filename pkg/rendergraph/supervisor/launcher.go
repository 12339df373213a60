package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"syscall"
	"time"
)

// Process is a launched worker.
type Process interface {
	Pid() int
	// Signal delivers sig to the worker and its children.
	Signal(sig os.Signal) error
	Kill() error
	// Done is closed once the process has exited.
	Done() <-chan struct{}
	// ExitErr is the wait error, valid after Done is closed.
	ExitErr() error
}

// Launcher starts worker processes.
type Launcher interface {
	Launch(ctx context.Context, cfg Config) (Process, error)
}

// ExecLauncher launches the worker as a child process in its own process
// group. Output is appended to Config.LogFile between start and stop markers.
type ExecLauncher struct{}

// Launch starts the worker and returns once the process is spawned.
func (ExecLauncher) Launch(ctx context.Context, cfg Config) (Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	args, err := cfg.Args()
	if err != nil {
		return nil, err
	}

	out, err := openLog(cfg.LogFile)
	if err != nil {
		return nil, err
	}

	// The worker outlives the launch call, so it is not bound to ctx.
	cmd := exec.Command(cfg.Interpreter, args...)
	cmd.Dir = cfg.WorkDir
	cmd.Env = append(os.Environ(), cfg.Env...)
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	fmt.Fprintf(out, "===== worker start %s: %s %v =====\n", time.Now().Format(time.RFC3339), cfg.Interpreter, args)
	if err := cmd.Start(); err != nil {
		fmt.Fprintf(out, "===== worker start failed: %v =====\n", err)
		_ = out.Close()
		return nil, err
	}

	p := &execProcess{cmd: cmd, done: make(chan struct{})}
	go func() {
		p.err = cmd.Wait()
		fmt.Fprintf(out, "===== worker stop %s: %v =====\n", time.Now().Format(time.RFC3339), exitStatus(p.err))
		_ = out.Close()
		close(p.done)
	}()
	return p, nil
}

func openLog(path string) (io.WriteCloser, error) {
	if path == "" {
		return nopCloser{io.Discard}, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open worker log: %w", err)
	}
	return f, nil
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

func exitStatus(err error) string {
	if err == nil {
		return "exit 0"
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ProcessState.String()
	}
	return err.Error()
}

type execProcess struct {
	cmd  *exec.Cmd
	done chan struct{}
	err  error
}

func (p *execProcess) Pid() int { return p.cmd.Process.Pid }

func (p *execProcess) Signal(sig os.Signal) error {
	s, ok := sig.(syscall.Signal)
	if !ok {
		return p.cmd.Process.Signal(sig)
	}
	// Negative pid targets the whole process group.
	return syscall.Kill(-p.cmd.Process.Pid, s)
}

func (p *execProcess) Kill() error {
	return p.Signal(syscall.SIGKILL)
}

func (p *execProcess) Done() <-chan struct{} { return p.done }

func (p *execProcess) ExitErr() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}

// PortChecker reports whether something accepts connections on addr.
type PortChecker func(ctx context.Context, addr string) bool

// DialPortChecker tries a TCP connection with a short timeout.
func DialPortChecker(ctx context.Context, addr string) bool {
	d := net.Dialer{Timeout: time.Second}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
