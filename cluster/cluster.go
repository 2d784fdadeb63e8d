// Package cluster discovers and fans commands out across a set of Tomcat
// nodes reachable through each other's in-JVM cluster membership.
package cluster

import (
	"context"

	"github.com/sbraverman/pytomcat/cmn"
	"github.com/sbraverman/pytomcat/tomcat"
)

// Cluster is the full set of nodes reachable, transitively, from one or
// more seed nodes via their reported cluster membership.
type Cluster struct {
	Nodes map[string]*tomcat.Node

	user, password string
}

// Discover starts from seedHost:seedPort and walks every node's membership
// list with an explicit work queue (rather than recursion) so that a large
// or cyclic membership graph can't grow the call stack unboundedly.
// Already-visited nodes are never re-queried. When activeOnly is true,
// discovery walks each node's ActiveMembers instead of ClusterMembers,
// matching the original's active_only discovery mode.
func Discover(ctx context.Context, seedHost string, seedPort int, user, password string, activeOnly bool) (*Cluster, error) {
	c := &Cluster{Nodes: map[string]*tomcat.Node{}, user: user, password: password}

	seed := tomcat.New(seedHost, seedPort, user, password)
	queue := []*tomcat.Node{seed}
	c.Nodes[seed.ID] = seed

	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]

		var members []string
		var err error
		if activeOnly {
			members, err = n.ActiveMembers(ctx)
		} else {
			members, err = n.ClusterMembers(ctx)
		}
		if err != nil {
			// A node that can't report membership (not clustered, or
			// transiently unreachable) just contributes itself.
			continue
		}
		for _, addr := range members {
			host, port, ok := splitHostPort(addr)
			if !ok {
				continue
			}
			next := tomcat.New(host, port, user, password)
			if _, seen := c.Nodes[next.ID]; seen {
				continue
			}
			c.Nodes[next.ID] = next
			queue = append(queue, next)
		}
	}

	if len(c.Nodes) == 0 {
		return nil, cmn.NewEmptyCluster()
	}
	return c, nil
}

func splitHostPort(addr string) (string, int, bool) {
	host, portStr, found := cutLast(addr, ':')
	if !found {
		return "", 0, false
	}
	port, err := atoi(portStr)
	if err != nil {
		return "", 0, false
	}
	return host, port, true
}

func cutLast(s string, sep byte) (string, string, bool) {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == sep {
			return s[:i], s[i+1:], true
		}
	}
	return s, "", false
}

func atoi(s string) (int, error) {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, cmn.NewParseError("not a port number: %q", s)
		}
		n = n*10 + int(r-'0')
	}
	return n, nil
}

// Len returns the number of members in the cluster.
func (c *Cluster) Len() int { return len(c.Nodes) }

// NodeIDs returns every member's id, in map iteration order (callers that
// need a stable order should sort it themselves).
func (c *Cluster) NodeIDs() []string {
	ids := make([]string, 0, len(c.Nodes))
	for id := range c.Nodes {
		ids = append(ids, id)
	}
	return ids
}
