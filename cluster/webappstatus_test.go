package cluster_test

import (
	"testing"

	"github.com/sbraverman/pytomcat/cluster"
	"github.com/sbraverman/pytomcat/internal/pytest"
)

func TestRemoveOldVersionsKeepsLexicographicallyGreatest(t *testing.T) {
	statuses := map[string]*cluster.WebappStatus{
		"/bar##0001": {Context: "/bar##0001", Path: "/bar", WebappVersion: "0001"},
		"/bar##0002": {Context: "/bar##0002", Path: "/bar", WebappVersion: "0002"},
		"/foo":       {Context: "/foo", Path: "/foo"},
	}

	kept := cluster.RemoveOldVersions(statuses)

	pytest.Errorf(t, len(kept) == 2, "expected 2 contexts, got %d: %v", len(kept), kept)
	_, keptNew := kept["/bar##0002"]
	pytest.Errorf(t, keptNew, "expected /bar##0002 to survive, kept=%v", kept)
	_, keptOld := kept["/bar##0001"]
	pytest.Errorf(t, !keptOld, "expected /bar##0001 to be dropped, kept=%v", kept)
	_, keptFoo := kept["/foo"]
	pytest.Errorf(t, keptFoo, "expected unversioned /foo to survive untouched, kept=%v", kept)
}

func TestRemoveOldVersionsEmptyInput(t *testing.T) {
	kept := cluster.RemoveOldVersions(map[string]*cluster.WebappStatus{})
	if len(kept) != 0 {
		t.Fatalf("expected empty result, got %v", kept)
	}
}
