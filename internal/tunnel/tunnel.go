// Package tunnel manages a kubectl port-forward as a scoped resource: started
// on demand, confirmed by a probe and always torn down by Close.
package tunnel

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/torosent/loadgate/internal/logging"
	"github.com/torosent/loadgate/internal/retry"
)

const (
	DefaultConnectTimeout = 15 * time.Second
	DefaultPollInterval   = time.Second
	DefaultGracePeriod    = 5 * time.Second
)

// ErrExited reports that the forwarding process stopped before the probe
// succeeded.
var ErrExited = errors.New("port-forward process exited")

// ProbeFunc reports whether the forwarded endpoint answers.
type ProbeFunc func(ctx context.Context) error

// Config describes one port-forward.
type Config struct {
	Command        []string // argv, Command[0] is the executable
	Env            []string // appended to the current environment
	ConnectTimeout time.Duration
	PollInterval   time.Duration
	GracePeriod    time.Duration
	Logger         *zap.Logger
}

// KubectlCommand returns the argv forwarding localPort to remotePort of
// svc/service in namespace.
func KubectlCommand(namespace, service string, localPort, remotePort int) []string {
	return []string{
		"kubectl", "port-forward",
		"svc/" + service,
		strconv.Itoa(localPort) + ":" + strconv.Itoa(remotePort),
		"-n", namespace,
	}
}

// PortForward is a running forwarding process.
type PortForward struct {
	cfg    Config
	logger *zap.Logger

	cmd    *exec.Cmd
	output *syncBuffer
	done   chan struct{}

	mu      sync.Mutex
	waitErr error
	closed  bool
}

// Start launches the command and polls probe until it succeeds, the process
// exits or ConnectTimeout elapses. On failure the process is already stopped.
func Start(ctx context.Context, cfg Config, probe ProbeFunc) (*PortForward, error) {
	if len(cfg.Command) == 0 {
		return nil, errors.New("port-forward command is empty")
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}

	p := &PortForward{
		cfg:    cfg,
		logger: logging.OrNop(cfg.Logger).Named("tunnel"),
		output: &syncBuffer{},
		done:   make(chan struct{}),
	}
	// Not CommandContext: shutdown goes through Close so the process gets
	// SIGTERM before SIGKILL.
	p.cmd = exec.Command(cfg.Command[0], cfg.Command[1:]...)
	p.cmd.Stdout = p.output
	p.cmd.Stderr = p.output
	p.cmd.WaitDelay = time.Second
	if len(cfg.Env) > 0 {
		p.cmd.Env = append(os.Environ(), cfg.Env...)
	}
	if err := p.cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", cfg.Command[0], err)
	}
	go func() {
		err := p.cmd.Wait()
		p.mu.Lock()
		p.waitErr = err
		p.mu.Unlock()
		close(p.done)
	}()
	p.logger.Info("port-forward started",
		zap.String("command", strings.Join(cfg.Command, " ")),
		zap.Int("pid", p.cmd.Process.Pid))

	if probe == nil {
		return p, nil
	}

	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	policy := retry.Policy{
		Interval:    cfg.PollInterval,
		ShouldRetry: func(err error) bool { return !errors.Is(err, ErrExited) },
	}
	attempts, err := policy.Do(connectCtx, func(ctx context.Context) error {
		if p.Exited() {
			return p.exitError()
		}
		return probe(ctx)
	})
	if err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("port-forward not usable after %d probes: %w", attempts, err)
	}
	p.logger.Info("port-forward connected", zap.Int("probes", attempts))
	return p, nil
}

// Exited reports whether the process has stopped.
func (p *PortForward) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

func (p *PortForward) exitError() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := strings.TrimSpace(p.output.String())
	if p.waitErr != nil {
		return fmt.Errorf("%w: %v: %s", ErrExited, p.waitErr, out)
	}
	return fmt.Errorf("%w: %s", ErrExited, out)
}

// Close sends SIGTERM, waits up to GracePeriod and then kills the process.
// It is safe to call more than once.
func (p *PortForward) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	if p.Exited() {
		return nil
	}

	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		p.logger.Warn("terminate port-forward", zap.Error(err))
	}

	timer := time.NewTimer(p.cfg.GracePeriod)
	defer timer.Stop()
	select {
	case <-p.done:
		p.logger.Info("port-forward stopped")
		return nil
	case <-timer.C:
	}

	p.logger.Warn("port-forward ignored SIGTERM, killing", zap.Duration("grace_period", p.cfg.GracePeriod))
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill port-forward: %w", err)
	}
	<-p.done
	return nil
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	// Only the head of the output is kept for error messages.
	if room := 4096 - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
