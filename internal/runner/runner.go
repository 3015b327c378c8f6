package runner

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mmr-tortoise/gantry/internal/docker"
	"github.com/mmr-tortoise/gantry/internal/expr"
	"github.com/mmr-tortoise/gantry/internal/model"
	"github.com/mmr-tortoise/gantry/internal/port"
	"github.com/mmr-tortoise/gantry/internal/settings"
	"github.com/mmr-tortoise/gantry/internal/workflow"
)

// Runner executes workflow runs against a repository directory.
type Runner struct {
	// RepoDir is the repository root commands run in and the directory
	// mounted into job containers.
	RepoDir string

	// Settings holds machine-local defaults (shell, env, parallelism).
	Settings settings.Settings

	// Docker may be pre-set (tests inject a client); otherwise it is
	// created lazily the first time a job needs container execution,
	// so workflows without containers never touch the daemon.
	Docker *docker.Client

	// Logf receives verbose progress lines. Nil disables them.
	Logf func(format string, args ...interface{})

	ports      *port.Allocator
	dockerOnce sync.Once
	dockerErr  error
}

// New creates a Runner for a repository directory.
func New(repoDir string, s settings.Settings) *Runner {
	return &Runner{
		RepoDir:  repoDir,
		Settings: s,
		ports:    port.NewAllocator(port.NewScanner()),
	}
}

// Options adjusts a single run.
type Options struct {
	// Job restricts the run to one job, ignoring its needs. Empty runs
	// the whole workflow.
	Job string

	// MaxParallel caps concurrent matrix cells when neither the job's
	// strategy nor the settings file sets a cap. Zero means unbounded.
	MaxParallel int
}

// logf emits a verbose progress line if a sink is configured.
func (r *Runner) logf(format string, args ...interface{}) {
	if r.Logf != nil {
		r.Logf(format, args...)
	}
}

// Run executes the workflow for the given event.
//
// An event that does not match the trigger rules is not an error: the
// result reports TriggerMatched=false with a skipped conclusion, and
// the caller decides how loudly to say so. Errors are reserved for
// problems with the run itself (bad event, unresolvable graph, Docker
// unreachable when required).
func (r *Runner) Run(ctx context.Context, wf *workflow.Workflow, event model.Event, opts Options) (*RunResult, error) {
	if err := event.Validate(); err != nil {
		return nil, model.WrapCLIError(model.ExitGeneralError, "invalid event", err)
	}

	runID, err := newRunID()
	if err != nil {
		return nil, err
	}
	signingKey, err := NewSigningKey()
	if err != nil {
		return nil, err
	}

	started := time.Now()
	res := &RunResult{
		RunID:     runID,
		Workflow:  wf.Name,
		Event:     event,
		StartedAt: started,
	}

	matched, reason := wf.On.Matches(event)
	res.TriggerMatched = matched
	res.TriggerReason = reason
	if !matched {
		r.logf("trigger mismatch: %s", reason)
		res.Conclusion = model.ConclusionSkipped
		res.Duration = time.Since(started)
		return res, nil
	}
	r.logf("run %s: %s", runID, reason)

	graph, err := workflow.BuildGraph(wf)
	if err != nil {
		return nil, model.WrapCLIError(model.ExitValidationFailed, "cannot schedule workflow", err)
	}
	if opts.Job != "" {
		if _, ok := wf.Jobs[opts.Job]; !ok {
			return nil, model.NewCLIError(model.ExitValidationFailed,
				fmt.Sprintf("no such job %q in workflow %q", opts.Job, wf.Name))
		}
	}

	// Conclusions drive needs gating. Jobs within a level run in
	// parallel; levels run strictly in order, which is what makes a
	// "needs: test" publish job wait for every test cell.
	conclusions := make(map[string]model.Conclusion, len(wf.Jobs))

	for _, level := range graph.Levels() {
		outcomes := make(map[string]*jobOutcome, len(level))
		var mu sync.Mutex

		var g errgroup.Group
		for _, id := range level {
			job := wf.Jobs[id]
			g.Go(func() error {
				outcome := r.runJob(ctx, wf, job, event, runID, signingKey, graph, conclusions, opts)
				mu.Lock()
				outcomes[job.ID] = outcome
				mu.Unlock()
				return nil
			})
		}
		// Job functions report failures as data, never as errors.
		_ = g.Wait()

		for _, id := range level {
			outcome := outcomes[id]
			conclusions[id] = outcome.conclusion
			res.Jobs = append(res.Jobs, outcome.results...)
		}
	}

	res.Conclusion = aggregateConclusions(conclusions)
	res.Duration = time.Since(started)
	return res, nil
}

// jobOutcome bundles a job's aggregate conclusion with its per-cell
// results.
type jobOutcome struct {
	conclusion model.Conclusion
	results    []JobResult
}

// skippedJob builds the outcome for a job that never starts.
func skippedJob(id, reason string) *jobOutcome {
	return &jobOutcome{
		conclusion: model.ConclusionSkipped,
		results: []JobResult{{
			Job:        id,
			Conclusion: model.ConclusionSkipped,
			Reason:     reason,
		}},
	}
}

// runJob gates a job (selection, needs, condition) and runs its matrix
// cells.
func (r *Runner) runJob(
	ctx context.Context,
	wf *workflow.Workflow,
	job *workflow.Job,
	event model.Event,
	runID string,
	signingKey []byte,
	graph *workflow.Graph,
	conclusions map[string]model.Conclusion,
	opts Options,
) *jobOutcome {
	if opts.Job != "" && job.ID != opts.Job {
		return skippedJob(job.ID, "not selected by --job")
	}

	// With --job the selected job runs unconditionally of its needs;
	// otherwise a prerequisite that did not succeed skips the job.
	if opts.Job == "" {
		for _, dep := range graph.Needs(job.ID) {
			if conclusions[dep] != model.ConclusionSuccess {
				return skippedJob(job.ID,
					fmt.Sprintf("prerequisite %q concluded %s", dep, conclusions[dep]))
			}
		}
	}

	if job.If != "" {
		ok, err := expr.Evaluate(job.If, r.exprContext(wf, job, event, runID, nil))
		if err != nil {
			return &jobOutcome{
				conclusion: model.ConclusionFailure,
				results: []JobResult{{
					Job:        job.ID,
					Conclusion: model.ConclusionFailure,
					Reason:     fmt.Sprintf("condition error: %v", err),
				}},
			}
		}
		if !ok {
			return skippedJob(job.ID, fmt.Sprintf("condition %q evaluated to false", job.If))
		}
	}

	var matrix *workflow.Matrix
	if job.Strategy != nil {
		matrix = job.Strategy.Matrix
	}
	cells := matrix.Expand()
	axisNames := matrix.AxisNames()
	failFast := job.Strategy.FailFastEnabled()
	limit := r.parallelLimit(job, opts)

	r.logf("job %s: %d cell(s), fail-fast=%v", job.ID, len(cells), failFast)

	results := make([]JobResult, len(cells))
	cellCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, cell := range cells {
		g.Go(func() error {
			jr := r.runCell(cellCtx, wf, job, cell, axisNames, event, runID, signingKey)
			if jr.Conclusion == model.ConclusionFailure && failFast {
				// Fail-fast: stop scheduling sibling cells and cancel
				// the ones in flight. Already-finished results stand.
				cancel()
			}
			results[i] = jr
			return nil
		})
	}
	_ = g.Wait()

	conclusion := model.ConclusionSuccess
	for _, jr := range results {
		switch jr.Conclusion {
		case model.ConclusionFailure:
			conclusion = model.ConclusionFailure
		case model.ConclusionCancelled:
			if conclusion != model.ConclusionFailure {
				conclusion = model.ConclusionCancelled
			}
		}
	}

	return &jobOutcome{conclusion: conclusion, results: results}
}

// parallelLimit resolves the cell concurrency cap: the job's strategy
// wins, then the CLI flag, then the settings file.
func (r *Runner) parallelLimit(job *workflow.Job, opts Options) int {
	if job.Strategy != nil && job.Strategy.MaxParallel > 0 {
		return job.Strategy.MaxParallel
	}
	if opts.MaxParallel > 0 {
		return opts.MaxParallel
	}
	return r.Settings.MaxParallel
}

// runCell executes the steps of one matrix cell.
func (r *Runner) runCell(
	ctx context.Context,
	wf *workflow.Workflow,
	job *workflow.Job,
	cell workflow.Cell,
	axisNames []string,
	event model.Event,
	runID string,
	signingKey []byte,
) (jr JobResult) {
	started := time.Now()
	// Named return: the defer must reach the value the caller sees, not
	// a copy made before the teardown defers ran.
	jr = JobResult{Job: job.ID, CellLabel: cell.Label(axisNames)}
	if len(cell) > 0 {
		jr.Cell = cell
	}
	defer func() { jr.Duration = time.Since(started) }()

	if ctx.Err() != nil {
		jr.Conclusion = model.ConclusionCancelled
		jr.Reason = "cancelled before start"
		return jr
	}

	ectx := r.exprContext(wf, job, event, runID, cell)

	env, err := r.assembleEnv(wf, job, event, runID, signingKey, ectx)
	if err != nil {
		jr.Conclusion = model.ConclusionFailure
		jr.Reason = err.Error()
		return jr
	}

	// Service sidecars come up before the job container so their host
	// ports are known; the allocations are exported to steps as
	// GANTRY_SERVICE_<NAME>_PORT_<containerPort>.
	teardown, err := r.startServices(ctx, job, wf, runID, jr.CellLabel, env)
	defer teardown()
	if err != nil {
		jr.Conclusion = model.ConclusionFailure
		jr.Reason = err.Error()
		return jr
	}

	containerName := ""
	if job.Container != nil {
		name, cleanup, err := r.startJobContainer(ctx, job, wf, runID, jr.CellLabel)
		defer cleanup()
		if err != nil {
			jr.Conclusion = model.ConclusionFailure
			jr.Reason = err.Error()
			return jr
		}
		containerName = name
	}

	failed := false
	cancelled := false
	for _, step := range job.Steps {
		sr := r.runStep(ctx, step, ectx, env, containerName, failed)
		jr.Steps = append(jr.Steps, sr)
		switch sr.Conclusion {
		case model.ConclusionFailure:
			failed = true
		case model.ConclusionCancelled:
			cancelled = true
		}
		if cancelled {
			break
		}
	}

	switch {
	case cancelled:
		jr.Conclusion = model.ConclusionCancelled
		jr.Reason = "cancelled by fail-fast"
	case failed:
		jr.Conclusion = model.ConclusionFailure
	default:
		jr.Conclusion = model.ConclusionSuccess
	}
	return jr
}

// runStep executes (or skips) a single step.
func (r *Runner) runStep(
	ctx context.Context,
	step *workflow.Step,
	ectx expr.Context,
	env map[string]string,
	containerName string,
	previousFailed bool,
) (sr StepResult) {
	started := time.Now()
	sr = StepResult{Name: step.DisplayName()}
	defer func() { sr.Duration = time.Since(started) }()

	if ctx.Err() != nil {
		sr.Conclusion = model.ConclusionCancelled
		return sr
	}
	if previousFailed {
		sr.Conclusion = model.ConclusionSkipped
		return sr
	}

	if step.If != "" {
		ok, err := expr.Evaluate(step.If, ectx)
		if err != nil {
			sr.Conclusion = model.ConclusionFailure
			sr.Output = err.Error()
			return sr
		}
		if !ok {
			sr.Conclusion = model.ConclusionSkipped
			return sr
		}
	}

	script, err := expr.Expand(step.Run, ectx)
	if err != nil {
		sr.Conclusion = model.ConclusionFailure
		sr.Output = err.Error()
		return sr
	}

	stepEnv, err := expr.ExpandMap(step.Env, ectx)
	if err != nil {
		sr.Conclusion = model.ConclusionFailure
		sr.Output = err.Error()
		return sr
	}
	merged := mergeEnv(env, stepEnv)

	shell := step.Shell
	if shell == "" {
		shell = r.Settings.Shell
	}

	var output []byte
	var exitCode int
	if containerName != "" {
		workdir := ""
		if step.WorkingDirectory != "" {
			workdir = filepath.ToSlash(filepath.Join("/workspace", step.WorkingDirectory))
		}
		output, exitCode, err = docker.ExecStep(ctx, containerName, shell, script, workdir, merged)
	} else {
		dir := r.RepoDir
		if step.WorkingDirectory != "" {
			dir = filepath.Join(r.RepoDir, step.WorkingDirectory)
		}
		output, exitCode, err = runHostStep(ctx, shell, script, dir, merged)
	}

	sr.Output = string(output)
	sr.ExitCode = exitCode
	switch {
	case err != nil && ctx.Err() != nil:
		sr.Conclusion = model.ConclusionCancelled
	case err != nil:
		sr.Conclusion = model.ConclusionFailure
		if sr.Output == "" {
			sr.Output = err.Error()
		}
	case exitCode != 0:
		sr.Conclusion = model.ConclusionFailure
	default:
		sr.Conclusion = model.ConclusionSuccess
	}
	return sr
}

// runHostStep executes a step script with the host shell, capturing
// combined output and the script's exit code. A non-zero exit is not an
// error here — the caller decides what failure means.
func runHostStep(ctx context.Context, shell, script, dir string, env map[string]string) ([]byte, int, error) {
	cmd := exec.CommandContext(ctx, shell, "-c", script)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), flattenEnv(env)...)

	output, err := cmd.CombinedOutput()
	if err == nil {
		return output, 0, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return output, exitErr.ExitCode(), nil
	}
	return output, -1, err
}

// exprContext assembles the lookup context conditions and
// interpolations evaluate against.
func (r *Runner) exprContext(
	wf *workflow.Workflow,
	job *workflow.Job,
	event model.Event,
	runID string,
	cell workflow.Cell,
) expr.Context {
	github := map[string]string{
		"event_name": event.Name,
		"ref":        event.Ref,
		"sha":        event.SHA,
		"base_ref":   event.BaseRef,
		"run_id":     runID,
		"workflow":   wf.Name,
	}
	jobCtx := map[string]string{
		"id":          job.ID,
		"environment": job.Environment.Name,
	}

	// The env root sees configured values (settings, workflow, job) as
	// written, before interpolation — env values may themselves use
	// ${{ matrix.* }}, and self-reference would be circular.
	envCtx := map[string]string{}
	for k, v := range r.Settings.Env {
		envCtx[k] = v
	}
	for k, v := range wf.Env {
		envCtx[k] = v
	}
	for k, v := range job.Env {
		envCtx[k] = v
	}

	matrixCtx := map[string]string{}
	for k, v := range cell {
		matrixCtx[k] = v
	}

	return expr.Context{
		"github": github,
		"job":    jobCtx,
		"env":    envCtx,
		"matrix": matrixCtx,
	}
}

// assembleEnv builds the cell-wide environment: ambient GANTRY_*
// variables, settings/workflow/job env (interpolated, later layers
// winning), and the identity token for jobs that asked for one.
func (r *Runner) assembleEnv(
	wf *workflow.Workflow,
	job *workflow.Job,
	event model.Event,
	runID string,
	signingKey []byte,
	ectx expr.Context,
) (map[string]string, error) {
	env := map[string]string{
		"GANTRY_RUN_ID":     runID,
		"GANTRY_WORKFLOW":   wf.Name,
		"GANTRY_JOB":        job.ID,
		"GANTRY_EVENT_NAME": event.Name,
		"GANTRY_REF":        event.Ref,
		"GANTRY_SHA":        event.SHA,
	}
	if job.Environment.Name != "" {
		env["GANTRY_ENVIRONMENT"] = job.Environment.Name
	}

	for _, layer := range []map[string]string{r.Settings.Env, wf.Env, job.Env} {
		expanded, err := expr.ExpandMap(layer, ectx)
		if err != nil {
			return nil, err
		}
		for k, v := range expanded {
			env[k] = v
		}
	}

	if job.WantsIDToken() {
		token, err := MintIDToken(signingKey, Claims{
			RunID:       runID,
			Workflow:    wf.Name,
			Job:         job.ID,
			Environment: job.Environment.Name,
			EventName:   event.Name,
			Ref:         event.Ref,
		}, time.Now())
		if err != nil {
			return nil, err
		}
		env["GANTRY_ID_TOKEN"] = token
		r.logf("job %s: minted identity token for environment %q", job.ID, job.Environment.Name)
	}

	return env, nil
}

// startJobContainer brings up the cell's step container and returns its
// name plus a cleanup function. The cleanup is safe to call even when
// startup failed.
func (r *Runner) startJobContainer(
	ctx context.Context,
	job *workflow.Job,
	wf *workflow.Workflow,
	runID, cellLabel string,
) (string, func(), error) {
	noop := func() {}

	image, err := r.jobImage(job)
	if err != nil {
		return "", noop, err
	}

	cli, err := r.ensureDocker(ctx)
	if err != nil {
		return "", noop, err
	}

	name := containerName(runID, job.ID, cellLabel, "")
	labels := docker.RunLabels{
		RunID:     runID,
		Workflow:  wf.Name,
		Job:       job.ID,
		Cell:      cellLabel,
		Kind:      docker.KindJob,
		CreatedAt: time.Now(),
	}

	r.logf("job %s: starting container %s (image %s)", job.ID, name, image)
	if _, err := docker.StartJobContainer(ctx, image, name, r.RepoDir, labels, job.Container.Env); err != nil {
		return "", noop, err
	}

	cleanup := func() {
		// Teardown must survive a cancelled run context.
		rmCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := docker.RemoveContainer(rmCtx, cli, name, true); err != nil {
			r.logf("job %s: failed to remove container %s: %v", job.ID, name, err)
		}
	}
	return name, cleanup, nil
}

// jobImage resolves the image a containerized cell runs in. The job's
// container spec wins; the settings file fills the gap. Static workflow
// validation cannot see the settings file, so a job with neither source
// surfaces here, at run time.
func (r *Runner) jobImage(job *workflow.Job) (string, error) {
	if image := job.Container.Image; image != "" {
		return image, nil
	}
	if image := r.Settings.Image; image != "" {
		return image, nil
	}
	return "", model.NewCLIError(model.ExitValidationFailed,
		fmt.Sprintf("job %q: no container image in the workflow or the settings file", job.ID))
}

// startServices brings up the job's service sidecars, allocating host
// ports and exporting them into env. The returned teardown removes
// whatever came up, in reverse order, releases the cell's port
// reservations, and is safe to call always.
func (r *Runner) startServices(
	ctx context.Context,
	job *workflow.Job,
	wf *workflow.Workflow,
	runID, cellLabel string,
	env map[string]string,
) (func(), error) {
	noop := func() {}
	if len(job.Services) == 0 {
		return noop, nil
	}

	bindings, release, err := r.allocateServicePorts(job, env)
	if err != nil {
		return noop, err
	}

	cli, err := r.ensureDocker(ctx)
	if err != nil {
		release()
		return noop, err
	}

	var started []string
	teardown := func() {
		rmCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		for i := len(started) - 1; i >= 0; i-- {
			if err := docker.RemoveContainer(rmCtx, cli, started[i], true); err != nil {
				r.logf("job %s: failed to remove service container %s: %v", job.ID, started[i], err)
			}
		}
		release()
	}

	for _, svcName := range serviceNames(job) {
		svc := job.Services[svcName]

		ctrName := containerName(runID, job.ID, cellLabel, svcName)
		labels := docker.RunLabels{
			RunID:     runID,
			Workflow:  wf.Name,
			Job:       job.ID,
			Cell:      cellLabel,
			Kind:      docker.KindService,
			Service:   svcName,
			CreatedAt: time.Now(),
		}
		if err := docker.StartServiceContainer(ctx, svc.Image, ctrName, labels, svc.Env, bindings[svcName]); err != nil {
			return teardown, err
		}
		started = append(started, ctrName)
	}

	return teardown, nil
}

// allocateServicePorts reserves a host port for every published port of
// the job's services and exports each as GANTRY_SERVICE_<NAME>_PORT_<n>.
// On error every reservation made so far is released; on success the
// returned release frees all of them, so a cell never leaks ports into
// the rest of the run.
func (r *Runner) allocateServicePorts(
	job *workflow.Job,
	env map[string]string,
) (map[string][]docker.PortBinding, func(), error) {
	bindings := make(map[string][]docker.PortBinding, len(job.Services))
	var hostPorts []int
	release := func() {
		for _, p := range hostPorts {
			r.ports.Release(p)
		}
	}

	for _, svcName := range serviceNames(job) {
		svc := job.Services[svcName]
		for _, spec := range svc.Ports {
			containerPort, requested, err := parsePortSpec(spec)
			if err != nil {
				release()
				return nil, nil, fmt.Errorf("service %q: %w", svcName, err)
			}
			alloc, err := r.ports.Allocate(svcName, containerPort, requested)
			if err != nil {
				release()
				return nil, nil, err
			}
			hostPorts = append(hostPorts, alloc.HostPort)
			bindings[svcName] = append(bindings[svcName], docker.PortBinding{
				HostPort:      alloc.HostPort,
				ContainerPort: alloc.ContainerPort,
			})
			env[serviceEnvKey(svcName, containerPort)] = strconv.Itoa(alloc.HostPort)
			r.logf("job %s: service %s port %s", job.ID, svcName, alloc)
		}
	}

	return bindings, release, nil
}

// serviceNames returns the job's service names sorted, so startup order
// and port allocation order are deterministic.
func serviceNames(job *workflow.Job) []string {
	names := make([]string, 0, len(job.Services))
	for name := range job.Services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ensureDocker creates and pings the Docker client on first use.
func (r *Runner) ensureDocker(ctx context.Context) (*docker.Client, error) {
	r.dockerOnce.Do(func() {
		if r.Docker != nil {
			return
		}
		cli, err := docker.NewClient()
		if err != nil {
			r.dockerErr = err
			return
		}
		if err := cli.Ping(ctx); err != nil {
			_ = cli.Close()
			r.dockerErr = err
			return
		}
		r.Docker = cli
	})
	return r.Docker, r.dockerErr
}

// aggregateConclusions folds per-job conclusions into the run's.
// Skipped jobs do not fail a run: a publish job correctly skipped on a
// branch push leaves the run successful.
func aggregateConclusions(conclusions map[string]model.Conclusion) model.Conclusion {
	agg := model.ConclusionSuccess
	for _, c := range conclusions {
		switch c {
		case model.ConclusionFailure:
			return model.ConclusionFailure
		case model.ConclusionCancelled:
			agg = model.ConclusionCancelled
		}
	}
	return agg
}

// parsePortSpec parses a service port entry: "5432" publishes the
// container port on an allocator-chosen host port, "15432:5432"
// requests host port 15432 explicitly.
func parsePortSpec(spec string) (containerPort, requestedHost int, err error) {
	parts := strings.SplitN(spec, ":", 2)
	if len(parts) == 2 {
		requestedHost, err = strconv.Atoi(parts[0])
		if err != nil {
			return 0, 0, fmt.Errorf("invalid host port %q", parts[0])
		}
		containerPort, err = strconv.Atoi(parts[1])
		if err != nil {
			return 0, 0, fmt.Errorf("invalid container port %q", parts[1])
		}
		return containerPort, requestedHost, nil
	}

	containerPort, err = strconv.Atoi(spec)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid port %q", spec)
	}
	return containerPort, 0, nil
}

// serviceEnvKey renders the env variable a service port is exported
// under, e.g. GANTRY_SERVICE_POSTGRES_PORT_5432.
func serviceEnvKey(service string, containerPort int) string {
	san := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 32
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, service)
	return fmt.Sprintf("GANTRY_SERVICE_%s_PORT_%d", san, containerPort)
}

// containerName builds a unique, Docker-safe container name from run
// metadata.
func containerName(runID, job, cellLabel, service string) string {
	parts := []string{"gantry", runID, job}
	if cellLabel != "" {
		parts = append(parts, slug(cellLabel))
	}
	if service != "" {
		parts = append(parts, service)
	}
	return strings.Join(parts, "-")
}

// slug reduces a cell label to lowercase alphanumerics and hyphens.
func slug(s string) string {
	var sb strings.Builder
	lastHyphen := false
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			sb.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen && sb.Len() > 0 {
				sb.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	return strings.TrimSuffix(sb.String(), "-")
}

// mergeEnv layers overlay on top of base without mutating either.
func mergeEnv(base, overlay map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		out[k] = v
	}
	return out
}

// flattenEnv renders an env map as KEY=VALUE strings in sorted order.
func flattenEnv(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}

// newRunID generates a short random run identifier.
func newRunID() (string, error) {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate run id: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
