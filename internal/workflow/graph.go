package workflow

import (
	"fmt"
	"sort"
	"strings"
)

// Graph is the resolved job dependency graph of a workflow.
//
// Jobs are grouped into levels: level 0 holds jobs with no
// prerequisites, level N holds jobs whose deepest prerequisite sits in
// level N-1. The runner executes levels in order, so a publish job
// declaring "needs: test" is guaranteed to be scheduled strictly after
// the test job and all of its matrix cells have concluded.
type Graph struct {
	levels [][]string
	order  []string
	needs  map[string][]string
}

// Levels returns the jobs grouped by dependency depth. Within a level,
// jobs appear in declaration order.
func (g *Graph) Levels() [][]string {
	return g.levels
}

// Order returns every job ID in execution order (levels flattened).
func (g *Graph) Order() []string {
	return g.order
}

// Needs returns the direct prerequisites of a job.
func (g *Graph) Needs(job string) []string {
	return g.needs[job]
}

// BuildGraph resolves the needs declarations of a workflow into a Graph.
//
// It returns an error if a needs target does not exist, a job depends on
// itself, or the declarations form a cycle. Cycle errors name the jobs
// involved so the author can find the offending edge.
func BuildGraph(wf *Workflow) (*Graph, error) {
	needs := make(map[string][]string, len(wf.Jobs))
	indegree := make(map[string]int, len(wf.Jobs))

	for _, id := range wf.JobNames() {
		job := wf.Jobs[id]
		indegree[id] = len(job.Needs)
		for _, dep := range job.Needs {
			if dep == id {
				return nil, fmt.Errorf("job %q depends on itself", id)
			}
			if _, ok := wf.Jobs[dep]; !ok {
				return nil, fmt.Errorf("job %q needs unknown job %q", id, dep)
			}
			needs[id] = append(needs[id], dep)
		}
	}

	// Kahn's algorithm, processing ready jobs in declaration order so
	// the resulting levels are deterministic for a given file.
	var levels [][]string
	var order []string
	done := make(map[string]bool, len(wf.Jobs))

	for len(order) < len(wf.Jobs) {
		var level []string
		for _, id := range wf.JobNames() {
			if done[id] || indegree[id] != 0 {
				continue
			}
			level = append(level, id)
		}

		if len(level) == 0 {
			// Every remaining job still has unresolved prerequisites:
			// the declarations form a cycle.
			var remaining []string
			for _, id := range wf.JobNames() {
				if !done[id] {
					remaining = append(remaining, id)
				}
			}
			sort.Strings(remaining)
			return nil, fmt.Errorf("dependency cycle involving jobs: %s", strings.Join(remaining, ", "))
		}

		for _, id := range level {
			done[id] = true
			order = append(order, id)
		}
		// Decrement indegrees of jobs that depended on this level.
		for _, id := range wf.JobNames() {
			if done[id] {
				continue
			}
			for _, dep := range needs[id] {
				for _, finished := range level {
					if dep == finished {
						indegree[id]--
					}
				}
			}
		}

		levels = append(levels, level)
	}

	return &Graph{levels: levels, order: order, needs: needs}, nil
}
