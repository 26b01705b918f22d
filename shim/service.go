package shim

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	taskAPI "github.com/containerd/containerd/api/runtime/task/v2"
	tasktypes "github.com/containerd/containerd/api/types/task"
	"github.com/containerd/containerd/protobuf"
	ptypes "github.com/containerd/containerd/v2/pkg/protobuf/types"
	"github.com/containerd/containerd/v2/pkg/shim"
	"github.com/containerd/containerd/v2/pkg/shutdown"
	"github.com/containerd/containerd/v2/plugins"
	"github.com/containerd/errdefs"
	"github.com/containerd/fifo"
	"github.com/containerd/log"
	"github.com/containerd/plugin"
	"github.com/containerd/plugin/registry"
	"github.com/containerd/ttrpc"
	"google.golang.org/protobuf/types/known/anypb"
)

func init() {
	registry.Register(&plugin.Registration{
		Type: plugins.TTRPCPlugin,
		ID:   "task",
		Requires: []plugin.Type{
			plugins.InternalPlugin,
		},
		InitFn: func(ic *plugin.InitContext) (interface{}, error) {
			ss, err := ic.GetByID(plugins.InternalPlugin, "shutdown")
			if err != nil {
				return nil, err
			}
			return newTaskService(ic.Context, ss.(shutdown.Service))
		},
	})
}

// task is one interpreter process started from a bundle
type task struct {
	pid     int
	bundle  string
	started bool

	done       context.Context
	exitTime   time.Time
	exitStatus int

	stdin  string
	stdout string
	stderr string

	// closes the stdin fifo, which ends the interpreter's input
	closeStdin func() error
}

func (t *task) String() string {
	if t.done.Err() != nil {
		return fmt.Sprintf("pid:%d, exitTime:%s, exitStatus:%d", t.pid, t.exitTime.Format(time.RFC3339), t.exitStatus)
	}
	return fmt.Sprintf("pid:%d running", t.pid)
}

func (t *task) status() tasktypes.Status {
	switch {
	case t.done.Err() != nil:
		return tasktypes.Status_STOPPED
	case !t.started:
		return tasktypes.Status_CREATED
	default:
		return tasktypes.Status_RUNNING
	}
}

type buffyTaskService struct {
	mu       sync.RWMutex
	tasks    map[string]*task
	shutdown shutdown.Service
}

func newTaskService(ctx context.Context, sd shutdown.Service) (taskAPI.TaskService, error) {
	return &buffyTaskService{
		tasks:    make(map[string]*task, 1),
		shutdown: sd,
	}, nil
}

var (
	_ = shim.TTRPCService(&buffyTaskService{})
)

// RegisterTTRPC allows TTRPC services to be registered with the underlying server
func (s *buffyTaskService) RegisterTTRPC(server *ttrpc.Server) error {
	taskAPI.RegisterTaskService(server, s)
	return nil
}

// get must be called with s.mu held
func (s *buffyTaskService) get(id string) (*task, error) {
	t, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s not created: %w", id, errdefs.ErrNotFound)
	}
	return t, nil
}

func (s *buffyTaskService) doneContext(id string) (context.Context, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, err := s.get(id)
	if err != nil {
		return nil, err
	}
	return t.done, nil
}

// wait records the exit of the interpreter process of task id and shuts the
// shim down once every task has exited.
func (s *buffyTaskService) wait(ctx context.Context, id string, cmd *exec.Cmd, markDone func()) {
	pid := cmd.Process.Pid
	if err := cmd.Wait(); err != nil {
		if _, ok := err.(*exec.ExitError); !ok {
			log.G(ctx).WithError(err).Errorf("failed to wait for init process %d", pid)
		}
	}
	log.G(ctx).Debugf("init process %d exited", pid)

	exitStatus := 255
	if cmd.ProcessState != nil {
		switch unixWaitStatus := cmd.ProcessState.Sys().(syscall.WaitStatus); {
		case cmd.ProcessState.Exited():
			exitStatus = cmd.ProcessState.ExitCode()
		case unixWaitStatus.Signaled():
			exitStatus = exitCodeSignal + int(unixWaitStatus.Signal())
		}
	} else {
		log.G(ctx).Warn("init process wait returned without setting process state")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		log.G(ctx).Errorf("failed to write final status of done init process: task %s was removed", id)
		markDone()
		return
	}
	t.exitStatus = exitStatus
	t.exitTime = time.Now()
	markDone()

	for _, t := range s.tasks {
		if t.done.Err() == nil {
			return
		}
	}
	log.G(ctx).Debug("all tasks exited. shutting down the shim")
	s.shutdown.Shutdown()
}

// Suspends itself before exec-ing the interpreter so that Create can report a
// pid and Start can resume it.
const startStoppedScript = `#!/bin/sh
kill -STOP $$
exec "$@"
`

const startStoppedScriptName = "start-stopped.sh"

const commandWaitDelay = 100 * time.Millisecond

// openFifo opens the fifo at path, checking first that it is one
func openFifo(ctx context.Context, path string, flag int) (io.ReadWriteCloser, error) {
	ok, err := fifo.IsFifo(path)
	if err != nil {
		return nil, fmt.Errorf("checking whether file %s is a fifo: %w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("file %s is not a fifo: %w", path, errdefs.ErrInvalidArgument)
	}
	f, err := fifo.OpenFifo(ctx, path, flag, 0)
	if err != nil {
		return nil, fmt.Errorf("opening fifo %s: %w", path, err)
	}
	return f, nil
}

func copyPipe(ctx context.Context, dst io.Writer, src io.Reader, name string) {
	if _, err := io.Copy(dst, src); err != nil {
		log.G(ctx).WithError(err).Errorf("failed to copy %s", name)
	}
}

// Create a new container
func (s *buffyTaskService) Create(ctx context.Context, r *taskAPI.CreateTaskRequest) (_ *taskAPI.CreateTaskResponse, retErr error) {
	log.G(ctx).WithField("id", r.ID).Debug("create (service)")

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[r.ID]; ok {
		return nil, errdefs.ErrAlreadyExists
	}

	config, err := ReadConfig(r.Bundle)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	scriptPath := filepath.Join(r.Bundle, startStoppedScriptName)
	if err := os.WriteFile(scriptPath, []byte(startStoppedScript), 0755); err != nil {
		return nil, fmt.Errorf("writing %s: %w", startStoppedScriptName, err)
	}

	self, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("getting executable of current process: %w", err)
	}

	cmd := exec.Command("/bin/sh", append([]string{scriptPath, self}, config.Args()...)...)
	cmd.Dir = config.Root
	if len(config.Path) > 0 {
		cmd.Env = append(os.Environ(), "PATH="+strings.Join(config.Path, ":"))
	}
	cmd.WaitDelay = commandWaitDelay

	// the process does not outlive a failed Create, so neither do its fifos
	// or pipes
	var closers []io.Closer
	defer func() {
		if retErr != nil {
			for _, c := range closers {
				c.Close()
			}
		}
	}()

	stderrPath := r.Stderr
	if stderrPath == "" {
		stderrPath = r.Stdout
	}

	// copies start only once the process is running
	var copies []func()
	ioCtx := context.WithoutCancel(ctx)

	if r.Stdout != "" {
		fw, err := openFifo(ctx, r.Stdout, syscall.O_WRONLY)
		if err != nil {
			return nil, err
		}
		closers = append(closers, fw)
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return nil, fmt.Errorf("getting stdout pipe: %w", err)
		}
		closers = append(closers, stdout)
		copies = append(copies, func() {
			copyPipe(ioCtx, fw, stdout, "stdout pipe to fifo "+r.Stdout)
		})
	}

	if stderrPath != "" {
		fe, err := openFifo(ctx, stderrPath, syscall.O_WRONLY)
		if err != nil {
			return nil, err
		}
		closers = append(closers, fe)
		stderr, err := cmd.StderrPipe()
		if err != nil {
			return nil, fmt.Errorf("getting stderr pipe: %w", err)
		}
		closers = append(closers, stderr)
		copies = append(copies, func() {
			copyPipe(ioCtx, fe, stderr, "stderr pipe to fifo "+stderrPath)
		})
	}

	closeStdin := func() error { return nil }
	if r.Stdin != "" {
		fr, err := openFifo(ctx, r.Stdin, syscall.O_RDONLY)
		if err != nil {
			return nil, err
		}
		closers = append(closers, fr)
		stdin, err := cmd.StdinPipe()
		if err != nil {
			return nil, fmt.Errorf("getting stdin pipe: %w", err)
		}
		closers = append(closers, stdin)
		copies = append(copies, func() {
			copyPipe(ioCtx, stdin, fr, "fifo "+r.Stdin+" to stdin pipe")
			// EOF for `,`
			stdin.Close()
		})
		closeStdin = fr.Close
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("running init command: %w", err)
	}
	for _, c := range copies {
		go c()
	}
	pid := cmd.Process.Pid

	done, markDone := context.WithCancel(context.Background())
	s.tasks[r.ID] = &task{
		pid:        pid,
		bundle:     r.Bundle,
		done:       done,
		stdin:      r.Stdin,
		stdout:     r.Stdout,
		stderr:     r.Stderr,
		closeStdin: closeStdin,
	}
	go s.wait(ioCtx, r.ID, cmd, markDone)

	if err := writePidFile(r.ID, pid); err != nil {
		log.G(ctx).WithError(err).Warn("failed to write pid file")
	}

	log.G(ctx).WithFields(log.Fields{
		"id":         r.ID,
		"pid":        pid,
		"script":     config.Entrypoint,
		"tape_size":  config.TapeSize,
		"loop_limit": config.LoopLimit,
	}).Info("created brainfuck task")

	return &taskAPI.CreateTaskResponse{
		Pid: uint32(pid),
	}, nil
}

// Start the primary user process inside the container
func (s *buffyTaskService) Start(ctx context.Context, r *taskAPI.StartRequest) (*taskAPI.StartResponse, error) {
	log.G(ctx).WithField("id", r.ID).Debug("start (service)")

	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.get(r.ID)
	if err != nil {
		return nil, err
	}
	if t.started {
		return nil, errdefs.ErrFailedPrecondition.WithMessage(fmt.Sprintf("task %s already started", r.ID))
	}

	if err := syscall.Kill(t.pid, syscall.SIGCONT); err != nil {
		return nil, fmt.Errorf("resuming init process %d: %w", t.pid, err)
	}
	t.started = true

	return &taskAPI.StartResponse{
		Pid: uint32(t.pid),
	}, nil
}

// Delete a process or container
func (s *buffyTaskService) Delete(ctx context.Context, r *taskAPI.DeleteRequest) (*taskAPI.DeleteResponse, error) {
	log.G(ctx).WithField("id", r.ID).Debug("delete (service)")

	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.get(r.ID)
	if err != nil {
		return nil, err
	}
	if t.done.Err() == nil {
		return nil, errdefs.ErrFailedPrecondition.WithMessage(fmt.Sprintf("init process %d is not done yet", t.pid))
	}
	log.G(ctx).Debugf("deleting task %s (%s)", r.ID, t)
	delete(s.tasks, r.ID)

	if err := os.Remove(filepath.Join(t.bundle, startStoppedScriptName)); err != nil && !os.IsNotExist(err) {
		log.G(ctx).WithError(err).Warnf("failed to remove %s", startStoppedScriptName)
	}

	return &taskAPI.DeleteResponse{
		Pid:        uint32(t.pid),
		ExitStatus: uint32(t.exitStatus),
		ExitedAt:   protobuf.ToTimestamp(t.exitTime),
	}, nil
}

// Exec an additional process inside the container
func (s *buffyTaskService) Exec(ctx context.Context, r *taskAPI.ExecProcessRequest) (*ptypes.Empty, error) {
	log.G(ctx).Debug("exec (service)")
	return nil, errdefs.ErrNotImplemented.WithMessage("Exec (task)")
}

// ResizePty of a process
func (s *buffyTaskService) ResizePty(ctx context.Context, r *taskAPI.ResizePtyRequest) (*ptypes.Empty, error) {
	log.G(ctx).Debug("resizepty (service)")
	return &ptypes.Empty{}, nil
}

// State returns runtime state of a process
func (s *buffyTaskService) State(ctx context.Context, r *taskAPI.StateRequest) (*taskAPI.StateResponse, error) {
	log.G(ctx).WithField("id", r.ID).Debug("state (service)")

	s.mu.RLock()
	defer s.mu.RUnlock()
	t, err := s.get(r.ID)
	if err != nil {
		return nil, err
	}

	return &taskAPI.StateResponse{
		ID:         r.ID,
		Bundle:     t.bundle,
		Pid:        uint32(t.pid),
		Status:     t.status(),
		Stdin:      t.stdin,
		Stdout:     t.stdout,
		Stderr:     t.stderr,
		ExitStatus: uint32(t.exitStatus),
		ExitedAt:   protobuf.ToTimestamp(t.exitTime),
	}, nil
}

// Pause the container
func (s *buffyTaskService) Pause(ctx context.Context, r *taskAPI.PauseRequest) (*ptypes.Empty, error) {
	log.G(ctx).Debug("pause (service)")
	return nil, errdefs.ErrNotImplemented.WithMessage("Pause (task)")
}

// Resume the container
func (s *buffyTaskService) Resume(ctx context.Context, r *taskAPI.ResumeRequest) (*ptypes.Empty, error) {
	log.G(ctx).Debug("resume (service)")
	return nil, errdefs.ErrNotImplemented.WithMessage("Resume (task)")
}

// Kill signals the interpreter process. A task that was never started only
// receives SIGKILL, anything else would stay pending on the stopped process.
func (s *buffyTaskService) Kill(ctx context.Context, r *taskAPI.KillRequest) (*ptypes.Empty, error) {
	log.G(ctx).WithFields(log.Fields{"id": r.ID, "signal": r.Signal}).Debug("kill (service)")

	s.mu.RLock()
	defer s.mu.RUnlock()

	t, err := s.get(r.ID)
	if err != nil {
		return nil, err
	}
	if t.done.Err() != nil {
		log.G(ctx).Warnf("task already exited: %s", r.ID)
		return &ptypes.Empty{}, nil
	}

	sig := syscall.Signal(r.Signal)
	if sig == 0 || !t.started {
		sig = syscall.SIGKILL
	}
	if t.pid > 0 && processAlive(t.pid) {
		if err := syscall.Kill(t.pid, sig); err != nil {
			log.G(ctx).WithError(err).Errorf("failed to send kill syscall to init process %s", r.ID)
			return nil, fmt.Errorf("sending %s to init process: %w", sig, err)
		}
	}

	return &ptypes.Empty{}, nil
}

// Pids returns all pids inside the container
func (s *buffyTaskService) Pids(ctx context.Context, r *taskAPI.PidsRequest) (*taskAPI.PidsResponse, error) {
	log.G(ctx).Debug("pids (service)")

	s.mu.RLock()
	defer s.mu.RUnlock()
	t, err := s.get(r.ID)
	if err != nil {
		return nil, err
	}

	return &taskAPI.PidsResponse{
		Processes: []*tasktypes.ProcessInfo{
			{Pid: uint32(t.pid)},
		},
	}, nil
}

// CloseIO closes the stdin of the interpreter, which then reads empty lines
func (s *buffyTaskService) CloseIO(ctx context.Context, r *taskAPI.CloseIORequest) (*ptypes.Empty, error) {
	log.G(ctx).Debug("closeio (service)")

	s.mu.RLock()
	defer s.mu.RUnlock()
	t, err := s.get(r.ID)
	if err != nil {
		return nil, err
	}

	if r.Stdin {
		if err := t.closeStdin(); err != nil {
			return nil, fmt.Errorf("closing stdin of task %s: %w", r.ID, err)
		}
	}
	return &ptypes.Empty{}, nil
}

// Checkpoint the container
func (s *buffyTaskService) Checkpoint(ctx context.Context, r *taskAPI.CheckpointTaskRequest) (*ptypes.Empty, error) {
	log.G(ctx).Debug("checkpoint (service)")
	return nil, errdefs.ErrNotImplemented.WithMessage("Checkpoint (task)")
}

// Connect returns shim information of the underlying service
func (s *buffyTaskService) Connect(ctx context.Context, r *taskAPI.ConnectRequest) (*taskAPI.ConnectResponse, error) {
	log.G(ctx).Debug("connect (service)")

	s.mu.RLock()
	defer s.mu.RUnlock()
	t, err := s.get(r.ID)
	if err != nil {
		return nil, err
	}

	return &taskAPI.ConnectResponse{
		ShimPid: uint32(os.Getpid()),
		TaskPid: uint32(t.pid),
	}, nil
}

// Shutdown is called after the underlying resources of the shim are cleaned up and the service can be stopped
func (s *buffyTaskService) Shutdown(ctx context.Context, r *taskAPI.ShutdownRequest) (*ptypes.Empty, error) {
	log.G(ctx).Debug("shutdown (service)")
	s.shutdown.Shutdown()
	return &ptypes.Empty{}, nil
}

// Stats returns container level system stats for a container and its processes
func (s *buffyTaskService) Stats(ctx context.Context, r *taskAPI.StatsRequest) (*taskAPI.StatsResponse, error) {
	log.G(ctx).Debug("stats (service)")
	return &taskAPI.StatsResponse{
		Stats: &anypb.Any{},
	}, nil
}

// Update the live container
func (s *buffyTaskService) Update(ctx context.Context, r *taskAPI.UpdateTaskRequest) (*ptypes.Empty, error) {
	log.G(ctx).Debug("update (service)")
	return nil, errdefs.ErrAborted.WithMessage("Update (task)")
}

// Wait for a process to exit
func (s *buffyTaskService) Wait(ctx context.Context, r *taskAPI.WaitRequest) (*taskAPI.WaitResponse, error) {
	log.G(ctx).WithField("id", r.ID).Debug("wait (service)")

	done, err := s.doneContext(r.ID)
	if err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-done.Done():
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	t, err := s.get(r.ID)
	if err != nil {
		return nil, fmt.Errorf("task was removed: %w", err)
	}

	return &taskAPI.WaitResponse{
		ExitStatus: uint32(t.exitStatus),
		ExitedAt:   protobuf.ToTimestamp(t.exitTime),
	}, nil
}
