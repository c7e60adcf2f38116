package lifecycle

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapio"

	"github.com/pratikjadhav2726/unified-mcp-gateway/internal/config"
	"github.com/pratikjadhav2726/unified-mcp-gateway/internal/contracts"
	"github.com/pratikjadhav2726/unified-mcp-gateway/internal/logs"
)

// Process is a handle to a launched backend process.
type Process interface {
	// Alive reports whether the process is still running.
	Alive() bool
	// Stop terminates the process, politely first, then by force once the
	// context expires.
	Stop(ctx context.Context) error
}

// Launcher starts backend processes. Split out so tests can substitute a
// fake that never forks.
type Launcher interface {
	Launch(ctx context.Context, name string, transport contracts.TransportConfig) (Process, error)
}

// ExecLauncher launches backends with os/exec, one child process per backend.
// When a log config is given, each child's stdout and stderr go to its own
// rotated backend-<name>.log file.
type ExecLauncher struct {
	logger *zap.Logger
	logCfg *config.LogConfig
}

// NewExecLauncher creates the production launcher. logCfg may be nil, which
// discards child output.
func NewExecLauncher(logCfg *config.LogConfig, logger *zap.Logger) *ExecLauncher {
	return &ExecLauncher{logger: logger, logCfg: logCfg}
}

// Launch starts the backend's command in its own process group so that
// children it spawns are reaped together.
func (l *ExecLauncher) Launch(ctx context.Context, name string, transport contracts.TransportConfig) (Process, error) {
	if transport.Command == "" {
		return nil, fmt.Errorf("backend %q has no launch command", name)
	}

	cmd := exec.Command(transport.Command, transport.Args...)
	cmd.Env = mergeEnv(os.Environ(), transport.Env)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	output := l.backendOutput(name)
	if output != nil {
		cmd.Stdout = output
		cmd.Stderr = output
	}

	if err := cmd.Start(); err != nil {
		if output != nil {
			_ = output.Close()
		}
		return nil, fmt.Errorf("failed to start backend %q: %w", name, err)
	}

	l.logger.Info("launched backend process",
		zap.String("backend", name),
		zap.String("command", transport.Command),
		zap.Int("pid", cmd.Process.Pid))

	p := &execProcess{cmd: cmd, name: name, logger: l.logger, output: output, done: make(chan struct{})}
	go p.wait()
	return p, nil
}

// backendOutput builds the per-backend log writer, or nil when file logging
// is off.
func (l *ExecLauncher) backendOutput(name string) io.WriteCloser {
	if l.logCfg == nil || !l.logCfg.EnableFile {
		return nil
	}
	backendLogger, err := logs.CreateBackendLogger(l.logCfg, name)
	if err != nil {
		l.logger.Warn("backend output will be discarded",
			zap.String("backend", name), zap.Error(err))
		return nil
	}
	return &zapio.Writer{Log: backendLogger, Level: zap.InfoLevel}
}

type execProcess struct {
	cmd    *exec.Cmd
	name   string
	logger *zap.Logger
	output io.WriteCloser
	done   chan struct{}
}

func (p *execProcess) wait() {
	err := p.cmd.Wait()
	if p.output != nil {
		_ = p.output.Close()
	}
	close(p.done)
	if err != nil {
		p.logger.Debug("backend process exited",
			zap.String("backend", p.name), zap.Error(err))
	}
}

func (p *execProcess) Alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

func (p *execProcess) Stop(ctx context.Context) error {
	if !p.Alive() {
		return nil
	}

	// negative pid signals the whole process group
	pgid := -p.cmd.Process.Pid
	if err := syscall.Kill(pgid, syscall.SIGTERM); err != nil {
		p.logger.Debug("SIGTERM failed, killing process directly",
			zap.String("backend", p.name), zap.Error(err))
		_ = p.cmd.Process.Kill()
	}

	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
	}

	p.logger.Warn("backend did not exit in time, sending SIGKILL",
		zap.String("backend", p.name))
	if err := syscall.Kill(pgid, syscall.SIGKILL); err != nil {
		_ = p.cmd.Process.Kill()
	}

	select {
	case <-p.done:
		return nil
	case <-time.After(5 * time.Second):
		return fmt.Errorf("backend %q did not exit after SIGKILL", p.name)
	}
}

// mergeEnv overlays backend-specific variables on the parent environment,
// deterministically ordered for reproducible launches.
func mergeEnv(parent []string, extra map[string]string) []string {
	if len(extra) == 0 {
		return parent
	}
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := make([]string, 0, len(parent)+len(extra))
	env = append(env, parent...)
	for _, k := range keys {
		env = append(env, k+"="+extra[k])
	}
	return env
}
