package supervisor

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lfcbot/lfc/internal/envelope"
	"github.com/lfcbot/lfc/internal/logging"
	"github.com/lfcbot/lfc/internal/worker"
)

// Process is a spawned worker and the supervisor's end of its channel.
type Process interface {
	PID() int
	Conn() *envelope.Conn
	// Alive reports OS-level liveness.
	Alive() bool
	// Terminate stops the process, escalating after grace.
	Terminate(grace time.Duration) error
	// Done is closed once the process has exited and been reaped.
	Done() <-chan struct{}
}

// Spawner starts worker processes.
type Spawner interface {
	Spawn(ctx context.Context, name string, config map[string]interface{}) (Process, error)
}

// ExecSpawner starts each worker as a child process of an executable,
// normally the running binary re-invoked as `lfc worker <name>`. Envelopes
// travel over the child's stdin and stdout.
type ExecSpawner struct {
	Executable string
	// Args returns the child's arguments for a worker name.
	Args func(name string) []string
	// Env is appended to the current environment.
	Env    []string
	Stderr io.Writer
}

// NewExecSpawner returns a spawner that re-executes the current binary.
func NewExecSpawner() (*ExecSpawner, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolving executable: %w", err)
	}
	return &ExecSpawner{Executable: exe}, nil
}

// Spawn implements Spawner.
func (s *ExecSpawner) Spawn(_ context.Context, name string, config map[string]interface{}) (Process, error) {
	args := []string{"worker", name}
	if s.Args != nil {
		args = s.Args(name)
	}
	encoded, err := worker.EncodeConfig(config)
	if err != nil {
		return nil, err
	}

	// The supervisor owns termination, so the command is not bound to a
	// context.
	cmd := exec.Command(s.Executable, args...)
	cmd.Env = append(append(os.Environ(), s.Env...), worker.ConfigEnvVar+"="+encoded)
	cmd.Stderr = s.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	configureProcAttr(cmd)

	childIn, parentOut, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdin pipe: %w", err)
	}
	parentIn, childOut, err := os.Pipe()
	if err != nil {
		_ = childIn.Close()
		_ = parentOut.Close()
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	cmd.Stdin = childIn
	cmd.Stdout = childOut

	if err := cmd.Start(); err != nil {
		for _, f := range []*os.File{childIn, parentOut, parentIn, childOut} {
			_ = f.Close()
		}
		return nil, fmt.Errorf("starting worker %s: %w", name, err)
	}
	_ = childIn.Close()
	_ = childOut.Close()

	p := &execProcess{
		cmd:  cmd,
		conn: envelope.NewConn(parentIn, parentOut, envelope.MultiCloser{parentOut, parentIn}),
		done: make(chan struct{}),
	}
	go func() {
		_ = cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

type execProcess struct {
	cmd  *exec.Cmd
	conn *envelope.Conn
	done chan struct{}
}

func (p *execProcess) PID() int              { return p.cmd.Process.Pid }
func (p *execProcess) Conn() *envelope.Conn  { return p.conn }
func (p *execProcess) Done() <-chan struct{} { return p.done }

func (p *execProcess) Alive() bool {
	select {
	case <-p.done:
		return false
	default:
	}
	return pidAlive(p.PID())
}

func (p *execProcess) Terminate(grace time.Duration) error {
	_ = p.conn.Close()
	return terminateProcess(p.cmd, p.done, grace)
}

// InProcessSpawner runs catalog entry points on goroutines connected by OS
// pipes. Pids are synthetic.
type InProcessSpawner struct {
	Catalog *worker.Catalog
	// Template supplies the runtime settings copied into every Env.
	Template worker.Env
	Logger   *logging.Logger

	nextPID atomic.Int64
}

// inProcessPIDBase keeps synthetic pids clear of small real ones in logs.
const inProcessPIDBase = 1 << 20

// Spawn implements Spawner.
func (s *InProcessSpawner) Spawn(_ context.Context, name string, config map[string]interface{}) (Process, error) {
	main, err := s.Catalog.Lookup(name)
	if err != nil {
		return nil, err
	}
	supEnd, workerEnd, err := envelope.Pipe()
	if err != nil {
		return nil, err
	}

	pid := inProcessPIDBase + int(s.nextPID.Add(1))
	env := s.Template
	env.Name = name
	env.PID = pid
	env.Config = config
	if env.Logger == nil {
		env.Logger = s.Logger
	}
	if env.Logger == nil {
		env.Logger = logging.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &inProcess{
		pid:    pid,
		conn:   supEnd,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go func() {
		defer close(p.done)
		defer workerEnd.Close()
		if err := main(ctx, workerEnd, env); err != nil {
			env.Logger.WithProcess(name, pid).Warn("worker exited with error", "error", err)
		}
	}()
	return p, nil
}

type inProcess struct {
	pid    int
	conn   *envelope.Conn
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (p *inProcess) PID() int              { return p.pid }
func (p *inProcess) Conn() *envelope.Conn  { return p.conn }
func (p *inProcess) Done() <-chan struct{} { return p.done }

func (p *inProcess) Alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

func (p *inProcess) Terminate(grace time.Duration) error {
	p.once.Do(func() {
		p.cancel()
		_ = p.conn.Close()
	})
	select {
	case <-p.done:
		return nil
	case <-time.After(grace):
		return fmt.Errorf("worker %d did not stop within %s", p.pid, grace)
	}
}
