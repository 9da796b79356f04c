// Package supervisor implements the Run Supervisor: the component that
// claims a PENDING run, prepares its working directory, spawns and
// monitors the child process group, streams output, honours
// cancellation, captures declared output targets, and finalises the run.
// Grounded in spirit on Design Notes §9's "log pump + cancellation poll +
// wait-for-exit as three cooperating tasks joined by a single structured
// scope": the structured scope is golang.org/x/sync/errgroup, already
// present as an indirect dependency of the teacher this module was built
// from.
package supervisor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"goa.design/toolrun/internal/blobstore"
	"goa.design/toolrun/internal/catalog"
	"goa.design/toolrun/internal/eventbus"
	"goa.design/toolrun/internal/filestore"
	"goa.design/toolrun/internal/model"
	"goa.design/toolrun/internal/planner"
	"goa.design/toolrun/internal/quota"
	"goa.design/toolrun/internal/queue"
	"goa.design/toolrun/internal/runstore"
	"goa.design/toolrun/internal/sandbox"
	"goa.design/toolrun/internal/telemetry"
	"goa.design/toolrun/internal/toolerr"
)

const maxLogLineBuffer = 1 << 20 // 1MiB, generous headroom over bufio's 64KiB default

// Options wires every collaborator the Supervisor needs. Logger, Metrics
// and Tracer are optional; a nil Bus skips event publishing; a nil Quota
// defaults to quota.Permissive. Sandbox is used only for tools that
// declare a sandbox and for SANDBOX_OP jobs, and Queue only by Run.
type Options struct {
	Tools   catalog.Store
	Runs    runstore.Store
	Files   filestore.Store
	Blobs   *blobstore.Store
	Queue   queue.Queue
	Bus     eventbus.Bus
	Sandbox *sandbox.Manager
	Quota   quota.Checker

	Logger telemetry.Logger
	Metrics telemetry.Metrics
	Tracer  telemetry.Tracer

	// WorkDirRoot is the filesystem root under which per-run working
	// directories are created (spec: "<tmp>/<run_id>").
	WorkDirRoot string
	// WorkerCount is the number of concurrent run slots.
	WorkerCount int
	// CancelPollInterval is how often a running Run's status is reloaded
	// to detect cancellation. Default 1s.
	CancelPollInterval time.Duration
	// CancelGracePeriod is how long to wait after SIGTERM before
	// escalating to SIGKILL. Default 3s.
	CancelGracePeriod time.Duration
}

// Supervisor owns the worker pool that dequeues and executes RUN and
// SANDBOX_OP jobs.
type Supervisor struct {
	opts Options
}

// New constructs a Supervisor, applying spec-mandated defaults for any
// zero-valued timing fields.
func New(opts Options) *Supervisor {
	if opts.CancelPollInterval <= 0 {
		opts.CancelPollInterval = time.Second
	}
	if opts.CancelGracePeriod <= 0 {
		opts.CancelGracePeriod = 3 * time.Second
	}
	if opts.WorkerCount <= 0 {
		opts.WorkerCount = 1
	}
	if opts.Quota == nil {
		opts.Quota = quota.Permissive{}
	}
	return &Supervisor{opts: opts}
}

// Run starts WorkerCount worker goroutines, each owning one concurrent
// run slot, and blocks until ctx is cancelled and every worker has
// returned.
func (s *Supervisor) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < s.opts.WorkerCount; i++ {
		g.Go(func() error {
			s.workerLoop(gctx)
			return nil
		})
	}
	return g.Wait()
}

func (s *Supervisor) workerLoop(ctx context.Context) {
	for {
		delivery, err := s.opts.Queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, queue.ErrClosed) {
				return
			}
			if s.opts.Logger != nil {
				s.opts.Logger.Error(ctx, "dequeue failed", "error", err)
			}
			continue
		}
		s.handleDelivery(ctx, delivery)
	}
}

func (s *Supervisor) handleDelivery(ctx context.Context, d queue.Delivery) {
	var err error
	switch d.Job.Kind {
	case model.JobRun:
		err = s.runOnce(ctx, d.Job.ID)
	case model.JobSandboxOp:
		err = s.sandboxOp(ctx, d.Job.ID, d.Job.SandboxOp)
	default:
		err = fmt.Errorf("unknown job kind %q", d.Job.Kind)
	}
	if err != nil {
		if s.opts.Logger != nil {
			s.opts.Logger.Error(ctx, "job failed", "kind", d.Job.Kind, "id", d.Job.ID, "error", err)
		}
		_ = d.Nack(ctx, err)
		return
	}
	_ = d.Ack(ctx)
}

func (s *Supervisor) sandboxOp(ctx context.Context, toolID string, op model.SandboxOp) error {
	switch op {
	case model.SandboxInstall:
		return s.opts.Sandbox.Install(ctx, toolID)
	case model.SandboxUninstall:
		return s.opts.Sandbox.Uninstall(ctx, toolID)
	default:
		return fmt.Errorf("unknown sandbox op %q", op)
	}
}

// runOnce executes spec §4.D.2's full lifecycle for one run, start to
// finish. It never returns an error for run-domain failures (those are
// reflected as a terminal Run status instead); it only returns an error
// for infrastructure failures the caller should Nack.
func (s *Supervisor) runOnce(ctx context.Context, runID string) error {
	run, err := s.opts.Runs.Get(ctx, runID)
	if err != nil {
		return fmt.Errorf("load run %q: %w", runID, err)
	}
	if run.Status != model.RunPending {
		// Already claimed or terminal: acknowledge and move on.
		return nil
	}

	tool, err := s.opts.Tools.Get(ctx, run.ToolID)
	if err != nil {
		return s.failRun(ctx, &run, toolerr.Wrap(toolerr.ToolNotReady, "tool not found", err))
	}

	run.Status = model.RunRunning
	now := time.Now()
	run.StartedAt = &now
	if run.PinnedManifest == "" {
		run.PinnedManifest = tool.PinnedManifest
	}
	if err := s.opts.Runs.Update(ctx, &run); err != nil {
		return fmt.Errorf("claim run %q: %w", runID, err)
	}
	s.publishStatus(ctx, &run)

	if tool.HasSandbox() && tool.Status != model.ToolInstalled {
		return s.failRun(ctx, &run, toolerr.New(toolerr.ToolNotReady, "tool environment not available"))
	}

	workDir := filepath.Join(s.opts.WorkDirRoot, run.ID)
	if err := os.Mkdir(workDir, 0o755); err != nil {
		// A pre-existing directory means a previous attempt never cleaned
		// up: a recovery anomaly, not an ordinary staging failure.
		msg := "failed to create working directory"
		if errors.Is(err, os.ErrExist) {
			msg = "working directory already exists"
		}
		return s.failRun(ctx, &run, toolerr.Wrap(toolerr.StagingError, msg, err))
	}
	defer os.RemoveAll(workDir)

	staged, err := s.stageInputs(ctx, &run, workDir)
	if err != nil {
		return s.failRun(ctx, &run, err)
	}

	if err := s.writeSetupFiles(&run, tool, workDir, staged); err != nil {
		return s.failRun(ctx, &run, err)
	}

	composite := run.Command
	if tool.HasSandbox() {
		composite = s.opts.Sandbox.Preamble(tool.ID) + " && " + composite
	}
	finalCommand := "set -euo pipefail; " + composite

	cmd := exec.Command("/bin/bash", "-c", finalCommand)
	cmd.Dir = workDir
	cmd.Env = minimalEnv()
	startInNewGroup(cmd)

	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		return s.failRun(ctx, &run, toolerr.Wrap(toolerr.ChildFailed, "failed to start child process", err))
	}

	waitErr, cancelled := s.supervise(ctx, &run, cmd, pr, pw)
	// The log pump appended the child's output to the stored stdout; pick
	// it up so the final Update does not overwrite it with the snapshot
	// taken at claim time.
	if cur, err := s.opts.Runs.Get(ctx, run.ID); err == nil {
		run.Stdout = cur.Stdout
	}
	s.classify(ctx, &run, tool, workDir, waitErr, cancelled)
	return nil
}

// supervise runs the three cooperating tasks described in Design Notes
// §9 — log pump, cancellation poll, wait-for-exit — joined by a single
// errgroup scope, and returns the child's wait error plus whether
// cancellation was the reason it exited.
func (s *Supervisor) supervise(ctx context.Context, run *model.Run, cmd *exec.Cmd, pr *io.PipeReader, pw *io.PipeWriter) (waitErr error, cancelled bool) {
	done := make(chan struct{})
	var cancelRequested atomic.Bool
	var wErr error

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		wErr = cmd.Wait()
		pw.Close()
		close(done)
		return nil
	})

	g.Go(func() error {
		scanner := bufio.NewScanner(pr)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLogLineBuffer)
		for scanner.Scan() {
			line := scanner.Text()
			if err := s.opts.Runs.AppendStdout(gctx, run.ID, line); err != nil && s.opts.Logger != nil {
				s.opts.Logger.Error(gctx, "failed to append stdout", "run_id", run.ID, "error", err)
			}
			if s.opts.Bus != nil {
				_ = eventbus.PublishLog(gctx, s.opts.Bus, run.ID, line)
			}
		}
		pr.Close()
		return nil
	})

	g.Go(func() error {
		ticker := time.NewTicker(s.opts.CancelPollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return nil
			case <-ticker.C:
				cur, err := s.opts.Runs.Get(gctx, run.ID)
				if err != nil {
					continue
				}
				if cur.Status != model.RunCancelled {
					continue
				}
				cancelRequested.Store(true)
				_ = signalGroup(cmd.Process.Pid, syscall.SIGTERM)
				select {
				case <-done:
					return nil
				case <-time.After(s.opts.CancelGracePeriod):
					_ = signalGroup(cmd.Process.Pid, syscall.SIGKILL)
					<-done
					return nil
				}
			}
		}
	})

	_ = g.Wait()
	return wErr, cancelRequested.Load()
}

// classify implements spec §4.D.2 steps 10-12: turn the child's exit
// outcome into a terminal Run status, optionally capturing targets.
func (s *Supervisor) classify(ctx context.Context, run *model.Run, tool model.Tool, workDir string, waitErr error, cancelled bool) {
	switch {
	case cancelled:
		run.Status = model.RunCancelled
		run.AppendStdout("\nTerminated by SIGTERM due to our cancellation request.")
	case waitErr != nil:
		run.Status = model.RunFailed
		run.Error = waitErr.Error()
		run.AppendStdout(fmt.Sprintf("\nChild process failed: %v", waitErr))
	default:
		s.captureTargets(ctx, run, tool, workDir)
	}
	s.finalize(ctx, run)
}

// captureTargets implements spec §4.D.2 step 11.
func (s *Supervisor) captureTargets(ctx context.Context, run *model.Run, tool model.Tool, workDir string) {
	pathCtx, err := planner.RenderContextUnquoted(run.Params)
	if err != nil {
		run.Status = model.RunFailed
		run.Error = fmt.Sprintf("failed to render target paths: %v", err)
		run.AppendStdout(fmt.Sprintf("\nFailed to render target paths: %v", err))
		return
	}

	var missing []string
	anyRequiredMissing := false
	for _, target := range tool.Targets {
		rel := planner.Render(target.PathTemplate, pathCtx)
		abs := filepath.Join(workDir, rel)
		info, err := os.Stat(abs)
		if err != nil || info.IsDir() {
			if target.Required {
				missing = append(missing, rel)
				anyRequiredMissing = true
			}
			continue
		}
		if err := s.opts.Quota.Allow(ctx, run.OwnerID, info.Size()); err != nil {
			missing = append(missing, rel+" (quota exceeded)")
			anyRequiredMissing = anyRequiredMissing || target.Required
			continue
		}
		if err := s.attachTarget(ctx, run, target, abs, rel); err != nil {
			if s.opts.Logger != nil {
				s.opts.Logger.Error(ctx, "failed to attach target", "run_id", run.ID, "path", rel, "error", err)
			}
			if target.Required {
				missing = append(missing, rel)
				anyRequiredMissing = true
			}
		}
	}

	if anyRequiredMissing {
		run.Status = model.RunFailed
		run.Error = "required target missing"
		for _, m := range missing {
			run.AppendStdout(fmt.Sprintf("\nTarget file '%s' does not exist!", m))
		}
		return
	}
	run.Status = model.RunCompleted
}

func (s *Supervisor) attachTarget(ctx context.Context, run *model.Run, target model.TargetSpec, abs, rel string) error {
	location, checksum, size, err := s.opts.Blobs.Put(abs)
	if err != nil {
		return err
	}
	file := model.File{
		ID:        fmt.Sprintf("file-%s-%s", run.ID, checksum[:12]),
		Name:      filepath.Base(rel),
		FileType:  target.Kind,
		Size:      size,
		Location:  location,
		Checksum:  checksum,
		OwnerID:   run.OwnerID,
		RunID:     &run.ID,
		Saved:     false,
		Tags:      run.Tags,
		CreatedAt: time.Now(),
	}
	return s.opts.Files.Create(ctx, &file)
}

// finalize implements spec §4.D.2 step 12's bookkeeping common to every
// exit path.
func (s *Supervisor) finalize(ctx context.Context, run *model.Run) {
	now := time.Now()
	run.FinishedAt = &now
	if err := s.opts.Runs.Update(ctx, run); err != nil && s.opts.Logger != nil {
		s.opts.Logger.Error(ctx, "failed to persist final run state", "run_id", run.ID, "error", err)
	}
	s.publishStatus(ctx, run)
}

// failRun marks run FAILED (or TOOL_NOT_READY surfaced as FAILED) with a
// diagnostic and persists the transition. It always returns nil so
// callers can `return s.failRun(...)` directly from runOnce.
func (s *Supervisor) failRun(ctx context.Context, run *model.Run, cause error) error {
	run.Status = model.RunFailed
	run.Error = cause.Error()
	run.AppendStdout(fmt.Sprintf("\n%s", cause.Error()))
	now := time.Now()
	run.FinishedAt = &now
	if err := s.opts.Runs.Update(ctx, run); err != nil && s.opts.Logger != nil {
		s.opts.Logger.Error(ctx, "failed to persist failed run", "run_id", run.ID, "error", err)
	}
	s.publishStatus(ctx, run)
	return nil
}

func (s *Supervisor) publishStatus(ctx context.Context, run *model.Run) {
	if s.opts.Bus == nil {
		return
	}
	_ = eventbus.PublishStatus(ctx, s.opts.Bus, run.ID, string(run.Status))
}

// stageInputs implements spec §4.D.2 step 4: symlink every input file
// into the working directory under its stored basename.
func (s *Supervisor) stageInputs(ctx context.Context, run *model.Run, workDir string) (staged map[string]struct{}, err error) {
	staged = make(map[string]struct{}, len(run.InputFileIDs))
	for _, id := range run.InputFileIDs {
		f, err := s.opts.Files.Get(ctx, id)
		if err != nil {
			return nil, toolerr.Wrap(toolerr.StagingError, fmt.Sprintf("input file %q not found", id), err)
		}
		link := filepath.Join(workDir, f.Name)
		if err := os.Symlink(f.Location, link); err != nil {
			return nil, toolerr.Wrap(toolerr.StagingError, fmt.Sprintf("failed to stage input file %q", f.Name), err)
		}
		staged[f.Name] = struct{}{}
	}
	return staged, nil
}

// writeSetupFiles implements spec §4.D.2 step 5: render each setup file
// against run.Params and write it into the working directory, failing if
// its name collides with a staged input.
func (s *Supervisor) writeSetupFiles(run *model.Run, tool model.Tool, workDir string, staged map[string]struct{}) error {
	if len(tool.SetupFiles) == 0 {
		return nil
	}
	renderCtx, err := planner.RenderContextUnquoted(run.Params)
	if err != nil {
		return toolerr.Wrap(toolerr.StagingError, "failed to render setup files", err)
	}
	for _, sf := range tool.SetupFiles {
		if _, collide := staged[sf.Name]; collide {
			return toolerr.Errorf(toolerr.StagingError, "setup file %q collides with a staged input", sf.Name)
		}
		content := planner.Render(sf.ContentTemplate, renderCtx)
		path := filepath.Join(workDir, sf.Name)
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return toolerr.Wrap(toolerr.StagingError, fmt.Sprintf("failed to write setup file %q", sf.Name), err)
		}
		staged[sf.Name] = struct{}{}
	}
	return nil
}

// minimalEnv returns the minimal environment a spawned child inherits:
// enough to resolve binaries and a home directory, nothing from the
// supervisor process's own environment that could leak unrelated
// secrets into an arbitrary tool's process tree.
func minimalEnv() []string {
	env := []string{"PATH=/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"}
	if home := os.Getenv("HOME"); home != "" {
		env = append(env, "HOME="+home)
	}
	return env
}
