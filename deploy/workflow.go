// Package deploy implements the multi-step cluster deployment workflow:
// precondition checks, old-version reconciliation, a memory preflight with
// GC/rolling-restart mitigation, the upload itself, readiness polling, and
// rollback on failure.
package deploy

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/sbraverman/pytomcat/cluster"
	"github.com/sbraverman/pytomcat/cmn"
	"github.com/sbraverman/pytomcat/tomcat"
)

// Config mirrors the original ClusterDeployer's class-attribute defaults;
// every field here can be overridden per call.
type Config struct {
	UndeployOnError  bool
	PollInterval     time.Duration
	DeployWaitTime   time.Duration
	GCWaitTime       time.Duration
	RequiredMemory   float64 // minimum free-heap percentage
	CheckMemory      bool
	AutoGC           bool
	KillSessions     bool
	AutoRestart      bool
	RestartFraction  float64
	Threads          int
	AbortOnError     bool
	Progress         cmn.ProgressFunc
}

// DefaultConfig returns the workflow defaults, matching deployer.py's
// class attributes.
func DefaultConfig() Config {
	return Config{
		UndeployOnError: true,
		PollInterval:    cmn.DefaultPollIntervalSeconds * time.Second,
		DeployWaitTime:  cmn.DefaultDeployWaitSeconds * time.Second,
		GCWaitTime:      cmn.DefaultGCWaitSeconds * time.Second,
		RequiredMemory:  cmn.DefaultRequiredMemoryPercent,
		CheckMemory:     true,
		AutoGC:          true,
		KillSessions:    false,
		AutoRestart:     false,
		RestartFraction: cmn.DefaultRestartFraction,
	}
}

// Workflow drives a Config against a Cluster.
type Workflow struct {
	Cluster *cluster.Cluster
	Config  Config
}

func New(c *cluster.Cluster, cfg Config) *Workflow {
	return &Workflow{Cluster: c, Config: cfg}
}

// Deploy runs the full deployment algorithm for one WAR file against
// vhost:
//
//  1. parse the filename and check preconditions (context not already
//     present anywhere, no newer version already deployed elsewhere);
//  2. reconcile old versions of the same path, undeploying superseded ones;
//  3. a memory preflight across every node, triggering GC and, if still
//     short, a rolling restart;
//  4. upload to every node concurrently;
//  5. poll every node until the new context reaches a started state;
//  6. on any failure, undeploy the partially-rolled-out version from every
//     node that has it, if UndeployOnError is set.
func (w *Workflow) Deploy(ctx context.Context, filename, vhost string) error {
	ref, err := cmn.ParseWarfile(filename)
	if err != nil {
		return err
	}

	if err := w.checkPreconditions(ctx, ref, vhost); err != nil {
		return err
	}

	if err := w.reconcileOldVersions(ctx, ref, vhost); err != nil {
		return err
	}

	if w.Config.CheckMemory {
		if err := w.memoryPreflight(ctx); err != nil {
			return err
		}
	}

	deployErr := w.upload(ctx, filename, ref, vhost)
	if deployErr != nil {
		if w.Config.UndeployOnError {
			w.undeployEverywhere(ctx, ref.Context, vhost)
		}
		return deployErr
	}

	if err := w.waitForApps(ctx, ref.Context, vhost); err != nil {
		if w.Config.UndeployOnError {
			w.undeployEverywhere(ctx, ref.Context, vhost)
		}
		return err
	}

	return nil
}

// checkPreconditions rejects a deploy that would collide with an existing
// context, that targets a path already served without a version, that
// targets a path whose current version isn't live on every node, or that
// targets a path where a lexicographically newer version is already live.
func (w *Workflow) checkPreconditions(ctx context.Context, ref cmn.WebArchiveRef, vhost string) error {
	statuses, err := w.Cluster.WebappStatuses(ctx, vhost)
	if err != nil {
		return err
	}

	if st, ok := statuses[ref.Context]; ok {
		present := append([]string(nil), st.PresentOn...)
		sort.Strings(present)
		return cmn.NewContextExists(ref.Context, present)
	}

	memberCount := w.Cluster.Len()
	pathNodes := map[string][]string{}
	for _, st := range statuses {
		for nodeID, p := range st.ClusterDetails["path"] {
			pathNodes[p] = append(pathNodes[p], nodeID)
		}
	}
	occupants, pathServed := pathNodes[ref.Path]
	if pathServed && ref.Version == "" {
		sort.Strings(occupants)
		return cmn.NewPathOccupied(ref.Path, occupants)
	}

	for existingCtx, st := range statuses {
		path, ver, hasVer := splitContext(existingCtx)
		if path != ref.Path || !hasVer || ref.Version == "" {
			continue
		}
		if len(st.PresentOn) != memberCount {
			return cmn.NewPartialDeployment(existingCtx, partialNodes(statuses, existingCtx))
		}
		if ver > ref.Version {
			return cmn.NewNewerVersionExists(ref.Path, existingCtx, ref.Context)
		}
	}

	return nil
}

func splitContext(context_ string) (path, version string, hasVersion bool) {
	for i := 0; i+1 < len(context_); i++ {
		if context_[i] == '#' && context_[i+1] == '#' {
			return context_[:i], context_[i+2:], true
		}
	}
	return context_, "", false
}

// reconcileOldVersions collects every sibling of ref.Path already deployed
// with a lower version, and — if there are any — optionally force-expires
// their sessions (when KillSessions is set), asks every node's own
// deployer to drop superseded versions (checkUndeploy, via
// tomcat.Node.UndeployOldVersions), and re-fetches cluster state to
// confirm the path converged to a single live version. Unlike the
// original, path is tracked as an explicit key throughout rather than
// whatever happened to survive from the last loop iteration (see
// DESIGN.md's Open Question decision on this).
func (w *Workflow) reconcileOldVersions(ctx context.Context, ref cmn.WebArchiveRef, vhost string) error {
	statuses, err := w.Cluster.WebappStatuses(ctx, vhost)
	if err != nil {
		return err
	}
	var oldapps []string
	for existingCtx := range statuses {
		path, ver, hasVer := splitContext(existingCtx)
		if path != ref.Path || !hasVer {
			continue
		}
		if ref.Version == "" || ver < ref.Version {
			oldapps = append(oldapps, existingCtx)
		}
	}
	if len(oldapps) == 0 {
		return nil
	}

	if w.Config.KillSessions {
		for _, old := range oldapps {
			w.Cluster.RunCommand(ctx, func(ctx context.Context, n *tomcat.Node) (interface{}, error) {
				ids, err := n.ListSessions(ctx, old, vhost)
				if err != nil {
					return nil, err
				}
				return nil, n.ExpireSessions(ctx, old, vhost, ids)
			}, cluster.RunOpts{CommandName: "expire_sessions"})
		}
	}

	w.Cluster.RunCommand(ctx, func(ctx context.Context, n *tomcat.Node) (interface{}, error) {
		return nil, n.UndeployOldVersions(ctx, vhost)
	}, cluster.RunOpts{CommandName: "undeploy_old_versions"})

	statuses, err = w.Cluster.WebappStatuses(ctx, vhost)
	if err != nil {
		return err
	}
	var versions []string
	for existingCtx := range statuses {
		path, _, hasVer := splitContext(existingCtx)
		if path == ref.Path && hasVer {
			versions = append(versions, existingCtx)
		}
	}
	if len(versions) > 1 {
		sort.Strings(versions)
		return cmn.NewPartialDeployment(ref.Path, versions)
	}
	return nil
}

// memoryPreflight checks every node's free-heap percentage, triggers a GC
// and re-checks on any node that's short, and if AutoRestart is set,
// rolling-restarts nodes still short after GC.
func (w *Workflow) memoryPreflight(ctx context.Context) error {
	low, err := w.findLowMemoryNodes(ctx)
	if err != nil {
		return err
	}
	if len(low) == 0 {
		return nil
	}

	if w.Config.AutoGC {
		short := &cluster.Cluster{Nodes: map[string]*tomcat.Node{}}
		for _, id := range low {
			short.Nodes[id] = w.Cluster.Nodes[id]
		}
		short.RunCommand(ctx, func(ctx context.Context, n *tomcat.Node) (interface{}, error) {
			return nil, n.RunGC(ctx)
		}, cluster.RunOpts{CommandName: "gc"})
		time.Sleep(w.Config.GCWaitTime)

		low, err = w.findLowMemoryNodes(ctx)
		if err != nil {
			return err
		}
		if len(low) == 0 {
			return nil
		}
	}

	if !w.Config.AutoRestart {
		return cmn.NewLowMemory(low)
	}

	if err := w.rollingRestart(ctx, low, ""); err != nil {
		return err
	}

	low, err = w.findLowMemoryNodes(ctx)
	if err != nil {
		return err
	}
	if len(low) > 0 {
		return cmn.NewLowMemory(low)
	}
	return nil
}

func (w *Workflow) findLowMemoryNodes(ctx context.Context) ([]string, error) {
	results, err := w.Cluster.RunCommand(ctx, func(ctx context.Context, n *tomcat.Node) (interface{}, error) {
		pools, err := n.FindPoolsOver(ctx, 100-w.Config.RequiredMemory)
		return pools, err
	}, cluster.RunOpts{CommandName: "check_memory"})
	if err != nil {
		return nil, err
	}
	var low []string
	for id, raw := range results.Succeeded() {
		over, _ := raw.([]string)
		if len(over) > 0 {
			low = append(low, id)
		}
	}
	sort.Strings(low)
	return low, nil
}

// upload deploys the WAR to every cluster node concurrently.
func (w *Workflow) upload(ctx context.Context, filename string, ref cmn.WebArchiveRef, vhost string) error {
	results, err := w.Cluster.RunCommand(ctx, func(ctx context.Context, n *tomcat.Node) (interface{}, error) {
		return nil, n.Deploy(ctx, filename, ref.Context, vhost, w.Config.Progress)
	}, cluster.RunOpts{
		Threads:      w.Config.Threads,
		AbortOnError: w.Config.AbortOnError,
		Progress:     w.Config.Progress,
		CommandName:  "deploy",
	})
	if err != nil {
		return err
	}
	if len(results.Failed()) > 0 {
		var failedNodes []string
		for id := range results.Failed() {
			failedNodes = append(failedNodes, id)
		}
		sort.Strings(failedNodes)
		return cmn.NewDeployFailed(failedNodes)
	}
	return nil
}

// waitForApps polls every node until context reaches the started state,
// bounded by DeployWaitTime.
func (w *Workflow) waitForApps(ctx context.Context, context_, vhost string) error {
	deadline := time.Now().Add(w.Config.DeployWaitTime)
	for {
		statuses, err := w.Cluster.WebappStatuses(ctx, vhost)
		if err == nil {
			if st, ok := statuses[context_]; ok && st.Coherent && st.StateName == cmn.StateStarted {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return cmn.NewPartialDeployment(context_, partialNodes(statuses, context_))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.Config.PollInterval):
		}
	}
}

func partialNodes(statuses map[string]*cluster.WebappStatus, context_ string) []string {
	st, ok := statuses[context_]
	if !ok {
		return nil
	}
	ids := append([]string(nil), st.PresentOn...)
	sort.Strings(ids)
	return ids
}

// undeployEverywhere undeploys context on every node, best-effort: it
// deliberately ignores per-node failures since this is itself the
// failure-cleanup path.
func (w *Workflow) undeployEverywhere(ctx context.Context, context_, vhost string) {
	w.Cluster.RunCommand(ctx, func(ctx context.Context, n *tomcat.Node) (interface{}, error) {
		return nil, n.Undeploy(ctx, context_, vhost)
	}, cluster.RunOpts{CommandName: "undeploy"})
}

// Undeploy removes context from every cluster node.
func (w *Workflow) Undeploy(ctx context.Context, context_, vhost string) error {
	results, err := w.Cluster.RunCommand(ctx, func(ctx context.Context, n *tomcat.Node) (interface{}, error) {
		return nil, n.Undeploy(ctx, context_, vhost)
	}, cluster.RunOpts{
		Threads:      w.Config.Threads,
		AbortOnError: w.Config.AbortOnError,
		Progress:     w.Config.Progress,
		CommandName:  "undeploy",
	})
	if err != nil {
		return err
	}
	if len(results.Failed()) > 0 {
		var failed []string
		for id := range results.Failed() {
			failed = append(failed, id)
		}
		sort.Strings(failed)
		return cmn.NewDeployFailed(failed)
	}
	return nil
}

// Rollback undeploys the latest version of path, the second-to-latest
// version becoming live again, provided at least two versions currently
// exist; otherwise it's a CannotRollback error.
func (w *Workflow) Rollback(ctx context.Context, path, vhost string) error {
	statuses, err := w.Cluster.WebappStatuses(ctx, vhost)
	if err != nil {
		return err
	}
	var versions []string
	for existingCtx := range statuses {
		p, _, hasVer := splitContext(existingCtx)
		if p == path && hasVer {
			versions = append(versions, existingCtx)
		}
	}
	if len(versions) < 2 {
		return cmn.NewCannotRollback(path, len(versions))
	}
	sort.Strings(versions)
	latest := versions[len(versions)-1]
	return w.Undeploy(ctx, latest, vhost)
}

// Restart fans restart out across the cluster's members, bounded by
// member_count * restart_fraction concurrency, aborting the rest of the
// fan-out as soon as any node's restart fails.
func (w *Workflow) Restart(ctx context.Context, vhost string) error {
	ids := w.Cluster.NodeIDs()
	sort.Strings(ids)
	return w.rollingRestart(ctx, ids, vhost)
}

func (w *Workflow) rollingRestart(ctx context.Context, ids []string, vhost string) error {
	fraction := w.Config.RestartFraction
	if fraction <= 0 {
		fraction = cmn.DefaultRestartFraction
	}
	// round(member_count * restart_fraction), half-to-even, matching
	// Python's round() used by the original restart()'s thread count.
	threads := int(math.RoundToEven(float64(len(ids)) * fraction))
	if threads < 1 {
		return cmn.NewRestartFractionTooSmall(fraction, len(ids))
	}

	target := &cluster.Cluster{Nodes: map[string]*tomcat.Node{}}
	for _, id := range ids {
		if n, ok := w.Cluster.Nodes[id]; ok {
			target.Nodes[id] = n
		}
	}

	results, err := target.RunCommand(ctx, func(ctx context.Context, n *tomcat.Node) (interface{}, error) {
		return nil, n.Restart(ctx, vhost, w.Config.DeployWaitTime, w.Config.PollInterval)
	}, cluster.RunOpts{Threads: threads, AbortOnError: true, Progress: w.Config.Progress, CommandName: "restart"})
	if err != nil {
		return err
	}
	for id, e := range results.Failed() {
		return fmt.Errorf("node %s: %w", id, e)
	}
	return nil
}
