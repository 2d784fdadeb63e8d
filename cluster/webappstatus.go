package cluster

import (
	"sort"

	"context"

	"github.com/sbraverman/pytomcat/tomcat"
)

// interestingKeys are the three WebModule attributes whose cross-node
// agreement determines a webapp's coherence.
var interestingKeys = []string{"stateName", "path", "webappVersion"}

// WebappStatus is one context's deployment state aggregated across every
// cluster member: which nodes have it (PresentOn), the per-node values of
// the three keys that matter (ClusterDetails), and — when every node agrees
// on all three and every member has the context at all — the collapsed
// top-level values and Coherent=true.
type WebappStatus struct {
	Context        string
	StateName      string
	Path           string
	WebappVersion  string
	PresentOn      []string
	Coherent       bool
	ClusterDetails map[string]map[string]string // key -> node id -> value
}

// WebappStatuses runs ListWebapps against every node and consolidates the
// results into one WebappStatus per distinct context, matching the
// original's new_stats/populate_interesting/consolidate_interesting
// closures, flattened into three passes for readability.
func (c *Cluster) WebappStatuses(ctx context.Context, vhost string) (map[string]*WebappStatus, error) {
	results, err := c.RunCommand(ctx, func(ctx context.Context, n *tomcat.Node) (interface{}, error) {
		return n.ListWebapps(ctx, vhost)
	}, RunOpts{CommandName: "list_webapps"})
	if err != nil {
		return nil, err
	}

	statuses := map[string]*WebappStatus{}
	newStatus := func(context_ string) *WebappStatus {
		details := make(map[string]map[string]string, len(interestingKeys))
		for _, k := range interestingKeys {
			details[k] = map[string]string{}
		}
		return &WebappStatus{Context: context_, ClusterDetails: details}
	}

	for nodeID, raw := range results.Succeeded() {
		infos, ok := raw.(map[string]tomcat.WebappInfo)
		if !ok {
			continue
		}
		for context_, info := range infos {
			st, ok := statuses[context_]
			if !ok {
				st = newStatus(context_)
				statuses[context_] = st
			}
			st.PresentOn = append(st.PresentOn, nodeID)
			st.ClusterDetails["stateName"][nodeID] = info.StateName
			st.ClusterDetails["path"][nodeID] = info.Path
			st.ClusterDetails["webappVersion"][nodeID] = info.WebappVersion
		}
	}

	memberCount := len(c.Nodes)
	for _, st := range statuses {
		sort.Strings(st.PresentOn)
		st.Coherent = true
		if len(st.PresentOn) != memberCount {
			st.Coherent = false
		}
		if v, ok := collapse(st.ClusterDetails["stateName"]); ok {
			st.StateName = v
		} else {
			st.Coherent = false
		}
		if v, ok := collapse(st.ClusterDetails["path"]); ok {
			st.Path = v
		} else {
			st.Coherent = false
		}
		if v, ok := collapse(st.ClusterDetails["webappVersion"]); ok {
			st.WebappVersion = v
		} else {
			st.Coherent = false
		}
	}
	return statuses, nil
}

// collapse reduces a node id -> value map to a single value when every
// node reported the same one.
func collapse(values map[string]string) (string, bool) {
	var first string
	seenFirst := false
	for _, v := range values {
		if !seenFirst {
			first = v
			seenFirst = true
			continue
		}
		if v != first {
			return "", false
		}
	}
	return first, seenFirst
}

// RemoveOldVersions drops every version of each path from a status map
// except the lexicographically greatest, the same ordering
// UndeployOldVersions applies per node.
func RemoveOldVersions(statuses map[string]*WebappStatus) map[string]*WebappStatus {
	byPath := map[string][]string{}
	for ctxPath := range statuses {
		path, _, _ := splitVersion(ctxPath)
		byPath[path] = append(byPath[path], ctxPath)
	}
	kept := map[string]*WebappStatus{}
	for _, versions := range byPath {
		sort.Strings(versions)
		latest := versions[len(versions)-1]
		kept[latest] = statuses[latest]
	}
	return kept
}

func splitVersion(context_ string) (path, version string, hasVersion bool) {
	for i := 0; i+1 < len(context_); i++ {
		if context_[i] == '#' && context_[i+1] == '#' {
			return context_[:i], context_[i+2:], true
		}
	}
	return context_, "", false
}
