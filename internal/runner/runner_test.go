package runner

import (
	"context"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmr-tortoise/gantry/internal/model"
	"github.com/mmr-tortoise/gantry/internal/settings"
)

// newTestRunner builds a Runner over a scratch directory with plain sh
// execution.
func newTestRunner(t *testing.T, s settings.Settings) *Runner {
	t.Helper()
	if s.Shell == "" {
		s.Shell = "sh"
	}
	r := New(t.TempDir(), s)
	r.Logf = t.Logf
	return r
}

// pushEvent builds a branch or tag push event.
func pushEvent(ref string) model.Event {
	return model.Event{Name: model.EventPush, Ref: ref, SHA: "abc123"}
}

// jobsByID indexes run results by job, preserving cell order.
func jobsByID(res *RunResult) map[string][]JobResult {
	out := make(map[string][]JobResult)
	for _, j := range res.Jobs {
		out[j.Job] = append(out[j.Job], j)
	}
	return out
}

// TestRun_TagPushRunsMatrixAndPublish is the end-to-end happy path: a
// tag push runs all four matrix cells and then the gated publish job.
func TestRun_TagPushRunsMatrixAndPublish(t *testing.T) {
	wf := parseTestWorkflow(t, `
name: ci
on:
  push:
    branches: [main]
    tags: ["v*"]
jobs:
  test:
    strategy:
      fail-fast: false
      matrix:
        python: [3.8, 3.9, "3.10", 3.11]
    steps:
      - name: report version
        run: echo cell-${{ matrix.python }}
  publish:
    needs: test
    if: github.event_name == 'push' && contains(github.ref, 'refs/tags/')
    environment: release
    steps:
      - run: echo publishing ${{ github.ref }}
`)

	r := newTestRunner(t, settings.Default())
	res, err := r.Run(context.Background(), wf, pushEvent("refs/tags/v1.2.3"), Options{})
	require.NoError(t, err)

	assert.True(t, res.TriggerMatched)
	assert.Equal(t, model.ConclusionSuccess, res.Conclusion)
	assert.False(t, res.Failed())
	require.Len(t, res.Jobs, 5, "four test cells plus publish")

	byID := jobsByID(res)
	require.Len(t, byID["test"], 4)
	wantCells := []string{"3.8", "3.9", "3.10", "3.11"}
	for i, cell := range byID["test"] {
		assert.Equal(t, wantCells[i], cell.CellLabel)
		assert.Equal(t, model.ConclusionSuccess, cell.Conclusion)
		require.Len(t, cell.Steps, 1)
		assert.Contains(t, cell.Steps[0].Output, "cell-"+wantCells[i])
	}

	publish := byID["publish"][0]
	assert.Equal(t, model.ConclusionSuccess, publish.Conclusion)
	assert.Contains(t, publish.Steps[0].Output, "publishing refs/tags/v1.2.3")

	// Publish comes after every test cell in the result ordering.
	assert.Equal(t, "publish", res.Jobs[4].Job)
}

// TestRun_BranchPushSkipsPublish verifies the gate: on a branch push the
// publish job is skipped, and the run still concludes success.
func TestRun_BranchPushSkipsPublish(t *testing.T) {
	wf := parseTestWorkflow(t, `
name: ci
on:
  push:
    branches: [main]
    tags: ["v*"]
jobs:
  test:
    steps:
      - run: echo tested
  publish:
    needs: test
    if: github.event_name == 'push' && contains(github.ref, 'refs/tags/')
    steps:
      - run: echo published
`)

	r := newTestRunner(t, settings.Default())
	res, err := r.Run(context.Background(), wf, pushEvent("refs/heads/main"), Options{})
	require.NoError(t, err)

	assert.Equal(t, model.ConclusionSuccess, res.Conclusion,
		"a correctly skipped publish job must not fail the run")

	byID := jobsByID(res)
	assert.Equal(t, model.ConclusionSuccess, byID["test"][0].Conclusion)

	publish := byID["publish"][0]
	assert.Equal(t, model.ConclusionSkipped, publish.Conclusion)
	assert.Contains(t, publish.Reason, "evaluated to false")
	assert.Empty(t, publish.Steps, "skipped jobs run no steps")
}

// TestRun_TriggerMismatch verifies a non-matching event runs nothing and
// is not an error.
func TestRun_TriggerMismatch(t *testing.T) {
	wf := parseTestWorkflow(t, `
on:
  push:
    branches: [main]
jobs:
  test:
    steps:
      - run: echo never
`)

	r := newTestRunner(t, settings.Default())
	res, err := r.Run(context.Background(), wf, pushEvent("refs/tags/v1.0.0"), Options{})
	require.NoError(t, err)

	assert.False(t, res.TriggerMatched)
	assert.Contains(t, res.TriggerReason, "branches only")
	assert.Equal(t, model.ConclusionSkipped, res.Conclusion)
	assert.Empty(t, res.Jobs)
}

// TestRun_FailurePropagation verifies a failing step fails its cell,
// skips the remaining steps, and skips dependent jobs.
func TestRun_FailurePropagation(t *testing.T) {
	wf := parseTestWorkflow(t, `
on: push
jobs:
  build:
    steps:
      - name: breaks
        run: echo broken && exit 3
      - name: never runs
        run: echo unreachable
  release:
    needs: build
    steps:
      - run: echo released
`)

	r := newTestRunner(t, settings.Default())
	res, err := r.Run(context.Background(), wf, pushEvent("refs/heads/main"), Options{})
	require.NoError(t, err, "step failures are results, not errors")

	assert.Equal(t, model.ConclusionFailure, res.Conclusion)
	assert.True(t, res.Failed())

	byID := jobsByID(res)
	build := byID["build"][0]
	assert.Equal(t, model.ConclusionFailure, build.Conclusion)
	require.Len(t, build.Steps, 2)
	assert.Equal(t, model.ConclusionFailure, build.Steps[0].Conclusion)
	assert.Equal(t, 3, build.Steps[0].ExitCode)
	assert.Contains(t, build.Steps[0].Output, "broken")
	assert.Equal(t, model.ConclusionSkipped, build.Steps[1].Conclusion,
		"steps after a failure must be skipped")

	release := byID["release"][0]
	assert.Equal(t, model.ConclusionSkipped, release.Conclusion)
	assert.Contains(t, release.Reason, `prerequisite "build"`)
}

// TestRun_FailFastDisabled verifies sibling cells all report when
// fail-fast is off, even if one fails.
func TestRun_FailFastDisabled(t *testing.T) {
	wf := parseTestWorkflow(t, `
on: push
jobs:
  test:
    strategy:
      fail-fast: false
      matrix:
        mode: [good, bad, good2]
    steps:
      - run: test ${{ matrix.mode }} != bad
`)

	r := newTestRunner(t, settings.Default())
	res, err := r.Run(context.Background(), wf, pushEvent("refs/heads/main"), Options{})
	require.NoError(t, err)

	assert.Equal(t, model.ConclusionFailure, res.Conclusion)

	conclusions := make(map[string]model.Conclusion)
	for _, cell := range res.Jobs {
		conclusions[cell.CellLabel] = cell.Conclusion
	}
	assert.Equal(t, model.ConclusionSuccess, conclusions["good"])
	assert.Equal(t, model.ConclusionFailure, conclusions["bad"])
	assert.Equal(t, model.ConclusionSuccess, conclusions["good2"],
		"without fail-fast, cells after a failure still run")
}

// TestRun_EnvironmentLayering verifies the precedence chain: settings
// env, then workflow, job, and step env, with interpolation applied.
func TestRun_EnvironmentLayering(t *testing.T) {
	wf := parseTestWorkflow(t, `
on: push
env:
  LAYER: workflow
  FROM_WF: wf
jobs:
  show:
    env:
      LAYER: job
      PY: ${{ matrix.python }}
    strategy:
      matrix:
        python: ["3.10"]
    steps:
      - run: echo "layer=$LAYER py=$PY base=$FROM_SETTINGS wf=$FROM_WF"
      - run: echo "layer=$LAYER"
        env:
          LAYER: step
`)

	s := settings.Default()
	s.Env = map[string]string{"FROM_SETTINGS": "machine", "LAYER": "settings"}

	r := newTestRunner(t, s)
	res, err := r.Run(context.Background(), wf, pushEvent("refs/heads/main"), Options{})
	require.NoError(t, err)
	require.Equal(t, model.ConclusionSuccess, res.Conclusion)

	steps := res.Jobs[0].Steps
	require.Len(t, steps, 2)
	assert.Contains(t, steps[0].Output, "layer=job", "job env overrides workflow and settings")
	assert.Contains(t, steps[0].Output, "py=3.10", "matrix values interpolate into env")
	assert.Contains(t, steps[0].Output, "base=machine")
	assert.Contains(t, steps[0].Output, "wf=wf")
	assert.Contains(t, steps[1].Output, "layer=step", "step env overrides job env")
}

// TestRun_AmbientVariables verifies the GANTRY_* variables steps receive.
func TestRun_AmbientVariables(t *testing.T) {
	wf := parseTestWorkflow(t, `
name: ambient
on: push
jobs:
  show:
    environment: staging
    steps:
      - run: echo "ev=$GANTRY_EVENT_NAME ref=$GANTRY_REF sha=$GANTRY_SHA job=$GANTRY_JOB env=$GANTRY_ENVIRONMENT wf=$GANTRY_WORKFLOW run=$GANTRY_RUN_ID"
`)

	r := newTestRunner(t, settings.Default())
	res, err := r.Run(context.Background(), wf, pushEvent("refs/heads/main"), Options{})
	require.NoError(t, err)
	require.Equal(t, model.ConclusionSuccess, res.Conclusion)

	out := res.Jobs[0].Steps[0].Output
	assert.Contains(t, out, "ev=push")
	assert.Contains(t, out, "ref=refs/heads/main")
	assert.Contains(t, out, "sha=abc123")
	assert.Contains(t, out, "job=show")
	assert.Contains(t, out, "env=staging")
	assert.Contains(t, out, "wf=ambient")
	assert.Contains(t, out, "run="+res.RunID)
}

// TestRun_IDTokenInjection verifies jobs with id-token: write receive a
// three-segment token, and jobs without the permission receive nothing.
func TestRun_IDTokenInjection(t *testing.T) {
	wf := parseTestWorkflow(t, `
on: push
jobs:
  trusted:
    environment: release
    permissions:
      id-token: write
    steps:
      - run: printf 'token=%s' "$GANTRY_ID_TOKEN"
  plain:
    steps:
      - run: printf 'token=%s' "$GANTRY_ID_TOKEN"
`)

	r := newTestRunner(t, settings.Default())
	res, err := r.Run(context.Background(), wf, pushEvent("refs/tags/v1.0.0"), Options{})
	require.NoError(t, err)
	require.Equal(t, model.ConclusionSuccess, res.Conclusion)

	byID := jobsByID(res)

	trusted := byID["trusted"][0].Steps[0].Output
	token := strings.TrimPrefix(strings.TrimSpace(trusted), "token=")
	require.NotEmpty(t, token)
	assert.Len(t, strings.Split(token, "."), 3)

	plain := byID["plain"][0].Steps[0].Output
	assert.Equal(t, "token=", strings.TrimSpace(plain),
		"jobs without the permission must not see a token")
}

// TestRun_StepConditions verifies per-step if gating with the matrix
// context available.
func TestRun_StepConditions(t *testing.T) {
	wf := parseTestWorkflow(t, `
on: push
jobs:
  test:
    strategy:
      matrix:
        python: ["3.10", 3.11]
    steps:
      - name: always
        run: echo always
      - name: only new
        if: matrix.python == '3.11'
        run: echo new-only
`)

	r := newTestRunner(t, settings.Default())
	res, err := r.Run(context.Background(), wf, pushEvent("refs/heads/main"), Options{})
	require.NoError(t, err)
	require.Equal(t, model.ConclusionSuccess, res.Conclusion)

	byLabel := make(map[string]JobResult)
	for _, cell := range res.Jobs {
		byLabel[cell.CellLabel] = cell
	}

	assert.Equal(t, model.ConclusionSkipped, byLabel["3.10"].Steps[1].Conclusion)
	assert.Equal(t, model.ConclusionSuccess, byLabel["3.11"].Steps[1].Conclusion)
}

// TestRun_JobFilter verifies --job runs only the selected job and
// ignores its needs.
func TestRun_JobFilter(t *testing.T) {
	wf := parseTestWorkflow(t, `
on: push
jobs:
  test:
    steps:
      - run: echo tested
  publish:
    needs: test
    steps:
      - run: echo published
`)

	r := newTestRunner(t, settings.Default())
	res, err := r.Run(context.Background(), wf, pushEvent("refs/heads/main"), Options{Job: "publish"})
	require.NoError(t, err)

	byID := jobsByID(res)
	assert.Equal(t, model.ConclusionSkipped, byID["test"][0].Conclusion)
	assert.Contains(t, byID["test"][0].Reason, "not selected")
	assert.Equal(t, model.ConclusionSuccess, byID["publish"][0].Conclusion,
		"the selected job runs even though its prerequisite was skipped")
}

// TestRun_UnknownJobFilter verifies selecting a job that does not exist
// is a validation error.
func TestRun_UnknownJobFilter(t *testing.T) {
	wf := parseTestWorkflow(t, `
on: push
jobs:
  test:
    steps: [{run: echo ok}]
`)

	r := newTestRunner(t, settings.Default())
	_, err := r.Run(context.Background(), wf, pushEvent("refs/heads/main"), Options{Job: "ghost"})
	require.Error(t, err)
	cliErr, ok := err.(*model.CLIError)
	require.True(t, ok)
	assert.Equal(t, model.ExitValidationFailed, cliErr.Code)
}

// TestRun_WorkingDirectory verifies steps run relative to the
// repository root.
func TestRun_WorkingDirectory(t *testing.T) {
	wf := parseTestWorkflow(t, `
on: push
jobs:
  where:
    steps:
      - run: mkdir -p sub && pwd
      - run: pwd
        working-directory: sub
`)

	r := newTestRunner(t, settings.Default())
	res, err := r.Run(context.Background(), wf, pushEvent("refs/heads/main"), Options{})
	require.NoError(t, err)
	require.Equal(t, model.ConclusionSuccess, res.Conclusion)

	steps := res.Jobs[0].Steps
	root := strings.TrimSpace(steps[0].Output)
	assert.True(t, strings.HasSuffix(strings.TrimSpace(steps[1].Output), "/sub"))
	assert.True(t, strings.HasPrefix(strings.TrimSpace(steps[1].Output), root))
}

// TestRun_RecordsDurations verifies elapsed time survives into the run,
// cell, and step results the caller (and --json) sees.
func TestRun_RecordsDurations(t *testing.T) {
	wf := parseTestWorkflow(t, `
on: push
jobs:
  timed:
    steps:
      - run: echo quick
`)

	r := newTestRunner(t, settings.Default())
	res, err := r.Run(context.Background(), wf, pushEvent("refs/heads/main"), Options{})
	require.NoError(t, err)
	require.Equal(t, model.ConclusionSuccess, res.Conclusion)

	assert.Greater(t, res.Duration, time.Duration(0))

	cell := res.Jobs[0]
	assert.Greater(t, cell.Duration, time.Duration(0), "cell duration must be recorded")
	require.Len(t, cell.Steps, 1)
	assert.Greater(t, cell.Steps[0].Duration, time.Duration(0), "step duration must be recorded")
	assert.GreaterOrEqual(t, cell.Duration, cell.Steps[0].Duration)
}

// TestJobImage covers the image resolution chain for containerized
// jobs: the container spec wins, the settings file fills the gap, and
// neither is a validation error.
func TestJobImage(t *testing.T) {
	wf := parseTestWorkflow(t, `
on: push
jobs:
  pinned:
    container: python:3.11-slim
    steps: [{run: x}]
  bare:
    container:
      env: {CI: "1"}
    steps: [{run: x}]
`)

	s := settings.Default()
	s.Image = "ubuntu:24.04"
	r := newTestRunner(t, s)

	image, err := r.jobImage(wf.Jobs["pinned"])
	require.NoError(t, err)
	assert.Equal(t, "python:3.11-slim", image, "the container spec image wins over settings")

	image, err = r.jobImage(wf.Jobs["bare"])
	require.NoError(t, err)
	assert.Equal(t, "ubuntu:24.04", image, "settings fill in a container spec without an image")

	r = newTestRunner(t, settings.Default())
	_, err = r.jobImage(wf.Jobs["bare"])
	require.Error(t, err)
	cliErr, ok := err.(*model.CLIError)
	require.True(t, ok)
	assert.Equal(t, model.ExitValidationFailed, cliErr.Code)
}

// TestAllocateServicePorts_ExportsAndReleases verifies reservations are
// exported to the step environment, held while in use, and freed by the
// returned release.
func TestAllocateServicePorts_ExportsAndReleases(t *testing.T) {
	wf := parseTestWorkflow(t, `
on: push
jobs:
  it:
    services:
      cache:
        image: redis:7
        ports: ["43117:6379"]
    steps: [{run: echo ok}]
`)

	r := newTestRunner(t, settings.Default())
	env := map[string]string{}

	_, release, err := r.allocateServicePorts(wf.Jobs["it"], env)
	require.NoError(t, err)
	require.Contains(t, env, "GANTRY_SERVICE_CACHE_PORT_6379")
	hostPort, err := strconv.Atoi(env["GANTRY_SERVICE_CACHE_PORT_6379"])
	require.NoError(t, err)

	// While held, a second taker of the same host port moves elsewhere.
	other, err := r.ports.Allocate("other", 6379, hostPort)
	require.NoError(t, err)
	assert.NotEqual(t, hostPort, other.HostPort)
	r.ports.Release(other.HostPort)

	release()
	again, err := r.ports.Allocate("cache", 6379, hostPort)
	require.NoError(t, err)
	assert.Equal(t, hostPort, again.HostPort,
		"released reservations must be grantable again")
}

// TestAllocateServicePorts_FailureFreesEarlierServices verifies a bad
// port spec on a later service does not leak the reservations earlier
// services already received.
func TestAllocateServicePorts_FailureFreesEarlierServices(t *testing.T) {
	wf := parseTestWorkflow(t, `
on: push
jobs:
  it:
    services:
      cache:
        image: redis:7
        ports: ["43118:6379"]
      db:
        image: postgres:16
        ports: ["not-a-port"]
    steps: [{run: echo ok}]
`)

	r := newTestRunner(t, settings.Default())
	_, _, err := r.allocateServicePorts(wf.Jobs["it"], map[string]string{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `service "db"`)

	// The cache reservation made before the failure must be gone.
	alloc, err := r.ports.Allocate("cache", 6379, 43118)
	require.NoError(t, err)
	assert.Equal(t, 43118, alloc.HostPort)
}

// TestRunHostStep_ExitCodes verifies non-zero exits are data, not errors.
func TestRunHostStep_ExitCodes(t *testing.T) {
	out, code, err := runHostStep(context.Background(), "sh", "echo hi && exit 7", t.TempDir(), nil)
	require.NoError(t, err)
	assert.Equal(t, 7, code)
	assert.Contains(t, string(out), "hi")

	out, code, err = runHostStep(context.Background(), "sh", "echo fine", t.TempDir(), map[string]string{"X": "1"})
	require.NoError(t, err)
	assert.Zero(t, code)
	assert.Contains(t, string(out), "fine")
}

// TestParsePortSpec covers the two service port spellings.
func TestParsePortSpec(t *testing.T) {
	containerPort, host, err := parsePortSpec("15432:5432")
	require.NoError(t, err)
	assert.Equal(t, 5432, containerPort)
	assert.Equal(t, 15432, host)

	containerPort, host, err = parsePortSpec("6379")
	require.NoError(t, err)
	assert.Equal(t, 6379, containerPort)
	assert.Zero(t, host, "a bare port requests no specific host port")

	_, _, err = parsePortSpec("db:5432")
	assert.Error(t, err)
	_, _, err = parsePortSpec("")
	assert.Error(t, err)
}

// TestServiceEnvKey verifies service names sanitize into env var keys.
func TestServiceEnvKey(t *testing.T) {
	assert.Equal(t, "GANTRY_SERVICE_POSTGRES_PORT_5432", serviceEnvKey("postgres", 5432))
	assert.Equal(t, "GANTRY_SERVICE_MY_CACHE_PORT_6379", serviceEnvKey("my-cache", 6379))
}

// TestContainerNaming verifies container names are Docker-safe and
// carry the run, job, and cell.
func TestContainerNaming(t *testing.T) {
	assert.Equal(t, "gantry-abc123-test-3-10-ubuntu", containerName("abc123", "test", "3.10, ubuntu", ""))
	assert.Equal(t, "gantry-abc123-it-postgres", containerName("abc123", "it", "", "postgres"))
	assert.Equal(t, "gantry-abc123-build", containerName("abc123", "build", "", ""))

	assert.Equal(t, "3-10-ubuntu", slug("3.10, Ubuntu"))
	assert.Equal(t, "v1-2-3", slug("v1.2.3"))
	assert.Equal(t, "", slug("..."))
}
