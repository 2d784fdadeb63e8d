package cluster

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/sbraverman/pytomcat/cmn"
	"github.com/sbraverman/pytomcat/tomcat"
)

// Command is a unit of work dispatched to one node during a fan-out.
type Command func(ctx context.Context, n *tomcat.Node) (interface{}, error)

// Results is the outcome of running a Command across every cluster
// member: a per-node result or error, split the way the original
// ClusterCommandResults separated successes from exceptions.
type Results struct {
	values map[string]interface{}
	errs   map[string]error
}

func newResults() *Results {
	return &Results{values: map[string]interface{}{}, errs: map[string]error{}}
}

// Succeeded returns the successful per-node results.
func (r *Results) Succeeded() map[string]interface{} { return r.values }

// Failed returns the per-node errors.
func (r *Results) Failed() map[string]error { return r.errs }

// All returns every node id this run touched, successful or not.
func (r *Results) All() []string {
	ids := make([]string, 0, len(r.values)+len(r.errs))
	for id := range r.values {
		ids = append(ids, id)
	}
	for id := range r.errs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// RunOpts configures a cluster-wide command dispatch.
type RunOpts struct {
	// Threads caps concurrent in-flight commands. Zero means
	// min(memberCount, 20), matching the original ThreadPool's default
	// sizing.
	Threads int
	// AbortOnError stops dispatching new commands, and cancels the
	// context passed to in-flight ones, as soon as any command fails.
	AbortOnError bool
	// Progress receives EventCmdStart/EventCmdEnd as each node's command
	// starts and finishes.
	Progress cmn.ProgressFunc
	// CommandName labels the progress events (e.g. "deploy", "undeploy").
	CommandName string
}

// RunCommand dispatches cmd to every node in the cluster concurrently,
// bounded by opts.Threads in-flight at once, and collects a Results. It
// replaces the original's multiprocessing.ThreadPool plus a shared
// sharedctypes.Value abort flag with goroutines coordinated by a
// semaphore and an atomic.Bool.
func (c *Cluster) RunCommand(ctx context.Context, cmd Command, opts RunOpts) (*Results, error) {
	if len(c.Nodes) == 0 {
		return nil, cmn.NewEmptyCluster()
	}
	progress := opts.Progress
	if progress == nil {
		progress = cmn.NopProgress
	}
	threads := opts.Threads
	if threads <= 0 {
		threads = len(c.Nodes)
		if threads > 20 {
			threads = 20
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sem := semaphore.NewWeighted(int64(threads))
	var aborted atomic.Bool
	var mu sync.Mutex
	results := newResults()
	var wg sync.WaitGroup

	for id, node := range c.Nodes {
		id, node := id, node
		if aborted.Load() {
			mu.Lock()
			results.errs[id] = cmn.NewAborted(id)
			mu.Unlock()
			continue
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			mu.Lock()
			results.errs[id] = cmn.NewAborted(id)
			mu.Unlock()
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)

			if aborted.Load() {
				mu.Lock()
				results.errs[id] = cmn.NewAborted(id)
				mu.Unlock()
				return
			}

			progress(cmn.Event{Kind: cmn.EventCmdStart, Node: id, Command: opts.CommandName})
			val, err := cmd(ctx, node)
			progress(cmn.Event{Kind: cmn.EventCmdEnd, Node: id, Command: opts.CommandName, Err: err})

			mu.Lock()
			if err != nil {
				results.errs[id] = err
				if opts.AbortOnError {
					aborted.Store(true)
					cancel()
				}
			} else {
				results.values[id] = val
			}
			mu.Unlock()
		}()
	}

	wg.Wait()
	return results, nil
}
