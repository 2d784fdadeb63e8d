package cluster_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/sbraverman/pytomcat/cluster"
	"github.com/sbraverman/pytomcat/internal/pytest"
	"github.com/sbraverman/pytomcat/tomcat"
)

// fakeCluster builds a Cluster directly from in-memory nodes, bypassing
// Discover, since RunCommand only needs the Nodes map to be populated.
func fakeCluster(ids ...string) *cluster.Cluster {
	c := &cluster.Cluster{Nodes: map[string]*tomcat.Node{}}
	for _, id := range ids {
		c.Nodes[id] = tomcat.New(id, 8080, "admin", "secret")
	}
	return c
}

func TestRunCommandCollectsSuccessesAndFailures(t *testing.T) {
	c := fakeCluster("a:8080", "b:8080", "c:8080")
	results, err := c.RunCommand(context.Background(), func(ctx context.Context, n *tomcat.Node) (interface{}, error) {
		if n.ID == "b:8080" {
			return nil, errors.New("boom")
		}
		return n.ID, nil
	}, cluster.RunOpts{})
	pytest.CheckFatal(t, err)
	if len(results.Succeeded()) != 2 {
		t.Fatalf("expected 2 successes, got %d", len(results.Succeeded()))
	}
	if len(results.Failed()) != 1 {
		t.Fatalf("expected 1 failure, got %d", len(results.Failed()))
	}
	if _, ok := results.Failed()["b:8080"]; !ok {
		t.Fatalf("expected b:8080 to have failed")
	}
	if len(results.All()) != 3 {
		t.Fatalf("expected All to report every touched node, got %v", results.All())
	}
}

func TestRunCommandAbortOnErrorStopsDispatch(t *testing.T) {
	ids := make([]string, 50)
	for i := range ids {
		ids[i] = string(rune('a'+i%26)) + "-" + string(rune('0'+i/26)) + ":8080"
	}
	c := fakeCluster(ids...)

	var started atomic.Int32
	_, err := c.RunCommand(context.Background(), func(ctx context.Context, n *tomcat.Node) (interface{}, error) {
		started.Add(1)
		return nil, errors.New("always fails")
	}, cluster.RunOpts{Threads: 1, AbortOnError: true})
	if err != nil {
		t.Fatalf("RunCommand: %v", err)
	}
	if int(started.Load()) == len(ids) {
		t.Fatalf("expected abort_on_error to short-circuit dispatch, but every node ran")
	}
}

func TestRunCommandEmptyClusterErrors(t *testing.T) {
	c := &cluster.Cluster{Nodes: map[string]*tomcat.Node{}}
	_, err := c.RunCommand(context.Background(), func(ctx context.Context, n *tomcat.Node) (interface{}, error) {
		return nil, nil
	}, cluster.RunOpts{})
	if err == nil {
		t.Fatalf("expected EmptyCluster error")
	}
}
