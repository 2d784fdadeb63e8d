// Package tomcat implements the per-node facade: a single Tomcat
// instance's memory, webapp and cluster-membership introspection, deploy
// and undeploy, composed from the lower-level jmxproxy and manager
// clients.
package tomcat

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/sbraverman/pytomcat/cmn"
	"github.com/sbraverman/pytomcat/jmxproxy"
	"github.com/sbraverman/pytomcat/manager"
)

// Node is a single Tomcat instance reached over its JMX proxy and
// management-text endpoints. It has no mutable membership state of its
// own; all cluster awareness lives in the cluster package, which treats a
// Node as the unit of fan-out.
type Node struct {
	ID   string // host:port, used as the map key everywhere results are indexed
	Host string
	Port int

	jmx *jmxproxy.Client
	mgr *manager.Client
}

// New builds a Node talking to host:port with the given manager
// credentials.
func New(host string, port int, user, password string) *Node {
	return &Node{
		ID:   fmt.Sprintf("%s:%d", host, port),
		Host: host,
		Port: port,
		jmx:  jmxproxy.NewClient(host, port, user, password),
		mgr:  manager.NewClient(host, port, user, password),
	}
}

// MemoryPool is one JVM memory pool's usage snapshot.
type MemoryPool struct {
	Name string
	Used int64
	Max  int64
}

// UsedPercent returns the pool's utilization, or 0 if Max is unbounded
// (-1, as the JVM reports for some pools).
func (p MemoryPool) UsedPercent() float64 {
	if p.Max <= 0 {
		return 0
	}
	return float64(p.Used) / float64(p.Max) * 100
}

// MemoryInfo queries every java.lang:type=MemoryPool,* bean and returns
// its usage. Pools named in cmn.ExcludedMemoryPools are still returned
// here; callers that need the health-check view should use
// FindPoolsOver, which applies the exclusion.
func (n *Node) MemoryInfo(ctx context.Context) ([]MemoryPool, error) {
	beans, err := n.jmx.Query(ctx, "java.lang:type=MemoryPool,*")
	if err != nil {
		return nil, err
	}
	pools := make([]MemoryPool, 0, len(beans))
	for _, b := range beans {
		name := beanAttr(b.ID, "name")
		usage, err := n.jmx.Get(ctx, b.ID, "Usage", "")
		if err != nil {
			return nil, err
		}
		m, err := usage.AsMap()
		if err != nil {
			continue // some pools (e.g. transient Eden spaces) can race a collection; skip rather than fail the whole query
		}
		used, _ := m["used"].AsInt()
		max, _ := m["max"].AsInt()
		pools = append(pools, MemoryPool{Name: name, Used: used, Max: max})
	}
	sort.Slice(pools, func(i, j int) bool { return pools[i].Name < pools[j].Name })
	return pools, nil
}

// FindPoolsOver returns the names of non-excluded pools whose utilization
// exceeds thresholdPercent.
func (n *Node) FindPoolsOver(ctx context.Context, thresholdPercent float64) ([]string, error) {
	pools, err := n.MemoryInfo(ctx)
	if err != nil {
		return nil, err
	}
	var over []string
	for _, p := range pools {
		if cmn.ExcludedMemoryPools[p.Name] {
			continue
		}
		if p.UsedPercent() > thresholdPercent {
			over = append(over, p.Name)
		}
	}
	return over, nil
}

// RunGC invokes System.gc() via the platform memory MBean.
func (n *Node) RunGC(ctx context.Context) error {
	_, err := n.jmx.Invoke(ctx, "java.lang:type=Memory", "gc")
	return err
}

// MaxHeap returns the maximum size of the heap memory pool.
func (n *Node) MaxHeap(ctx context.Context) (int64, error) {
	usage, err := n.jmx.Get(ctx, "java.lang:type=Memory", "HeapMemoryUsage", "")
	if err != nil {
		return 0, err
	}
	m, err := usage.AsMap()
	if err != nil {
		return 0, err
	}
	return m["max"].AsInt()
}

// MaxNonHeap returns the maximum size of the non-heap memory pool.
func (n *Node) MaxNonHeap(ctx context.Context) (int64, error) {
	usage, err := n.jmx.Get(ctx, "java.lang:type=Memory", "NonHeapMemoryUsage", "")
	if err != nil {
		return 0, err
	}
	m, err := usage.AsMap()
	if err != nil {
		return 0, err
	}
	return m["max"].AsInt()
}

// DumpAllThreads invokes the threading MBean's full thread dump,
// returning the raw per-thread composite records.
func (n *Node) DumpAllThreads(ctx context.Context) (cmn.Value, error) {
	return n.jmx.Invoke(ctx, "java.lang:type=Threading", "dumpAllThreads", "true", "true")
}

// FindConnectors lists the ports of the node's configured connectors, taken
// from the port key of each Catalina:type=Connector bean name.
func (n *Node) FindConnectors(ctx context.Context) ([]string, error) {
	beans, err := n.jmx.Query(ctx, "Catalina:type=Connector,*")
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(beans))
	for _, b := range beans {
		names = append(names, beanAttr(b.ID, "port"))
	}
	sort.Strings(names)
	return names, nil
}

// ServerStatus returns the server's lifecycle state name
// (Catalina:type=Server's stateName attribute, e.g. "STARTED").
func (n *Node) ServerStatus(ctx context.Context) (string, error) {
	v, err := n.jmx.Get(ctx, "Catalina:type=Server", "stateName", "")
	if err != nil {
		return "", err
	}
	return v.AsString()
}

// HasCluster reports whether this node is a member of an in-JVM Tomcat
// cluster (a Catalina:type=Cluster bean is registered at all).
func (n *Node) HasCluster(ctx context.Context) (bool, error) {
	beans, err := n.jmx.Query(ctx, "Catalina:type=Cluster")
	if err != nil {
		if cmn.KindOf(err) == cmn.KindRemoteError {
			return false, nil
		}
		return false, err
	}
	return len(beans) > 0, nil
}

// ClusterName returns the cluster's configured name.
func (n *Node) ClusterName(ctx context.Context) (string, error) {
	v, err := n.jmx.Get(ctx, "Catalina:type=Cluster", "clusterName", "")
	if err != nil {
		return "", err
	}
	return v.AsString()
}

var ignoredMemberAddrs = map[string]bool{
	"0.0.0.0":         true,
	"255.255.255.255": true,
}

// ClusterMembers returns the host:port of every member the in-JVM cluster
// currently lists, excluding the broadcast/unset placeholder addresses the
// underlying membership provider can report transiently.
func (n *Node) ClusterMembers(ctx context.Context) ([]string, error) {
	return n.clusterMembers(ctx, false)
}

// ActiveMembers is the subset of ClusterMembers with ready=true and
// failing=false and suspect=false, the same three booleans the original
// implementation filters each member bean on.
func (n *Node) ActiveMembers(ctx context.Context) ([]string, error) {
	return n.clusterMembers(ctx, true)
}

// clusterMembers queries every Member bean directly (rather than a single
// Membership bean's aggregate "members" array) since ready/failing/suspect
// are per-member properties that only the individual bean exposes.
func (n *Node) clusterMembers(ctx context.Context, activeOnly bool) ([]string, error) {
	beans, err := n.jmx.Query(ctx, "Catalina:type=Cluster,component=Member,*")
	if err != nil {
		return nil, err
	}
	var members []string
	for _, b := range beans {
		hostname, err := b.Props["hostname"].AsString()
		if err != nil || ignoredMemberAddrs[hostname] {
			continue
		}
		if activeOnly {
			ready, _ := b.Props["ready"].AsBool()
			failing, _ := b.Props["failing"].AsBool()
			suspect, _ := b.Props["suspect"].AsBool()
			if !ready || failing || suspect {
				continue
			}
		}
		addr := hostname
		if port, ok := b.Props["port"]; ok {
			addr = hostname + ":" + port.String()
		}
		members = append(members, addr)
	}
	sort.Strings(members)
	return members, nil
}

// VHosts lists the configured virtual hosts.
func (n *Node) VHosts(ctx context.Context) ([]string, error) {
	beans, err := n.jmx.Query(ctx, "Catalina:type=Host,*")
	if err != nil {
		return nil, err
	}
	hosts := make([]string, 0, len(beans))
	for _, b := range beans {
		hosts = append(hosts, beanAttr(b.ID, "host"))
	}
	sort.Strings(hosts)
	return hosts, nil
}

// Deployers lists the deployer beans for vhost (or every vhost, if vhost
// is empty).
func (n *Node) Deployers(ctx context.Context, vhost string) ([]string, error) {
	pattern := "Catalina:type=Deployer,*"
	if vhost != "" {
		pattern = fmt.Sprintf("Catalina:type=Deployer,host=%s,*", vhost)
	}
	beans, err := n.jmx.Query(ctx, pattern)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(beans))
	for _, b := range beans {
		ids = append(ids, b.ID)
	}
	return ids, nil
}

// FindManagers returns the webapp context path for every Manager bean
// registered on vhost (or every vhost, when vhost is empty), by extracting
// the context query component out of each bean's object name.
func (n *Node) FindManagers(ctx context.Context, vhost string) ([]string, error) {
	pattern := "Catalina:type=Manager,*"
	beans, err := n.jmx.Query(ctx, pattern)
	if err != nil {
		return nil, err
	}
	var contexts []string
	for _, b := range beans {
		if vhost != "" && beanAttr(b.ID, "host") != vhost {
			continue
		}
		if ctxPath := beanAttr(b.ID, "context"); ctxPath != "" {
			contexts = append(contexts, ctxPath)
		}
	}
	sort.Strings(contexts)
	return contexts, nil
}

// WebappInfo is one context's WebModule deploy state, before any
// cross-node aggregation.
type WebappInfo struct {
	Context       string // the bean's rekeyed name ("/" when it reports none)
	StateName     string
	Path          string
	WebappVersion string
}

// ListWebapps returns every deployed webapp's state on vhost (or every
// vhost, when empty), queried off the Catalina:j2eeType=WebModule beans
// and rekeyed by each bean's own name property — substituting "/" for a
// bean that reports none, matching ROOT's convention.
func (n *Node) ListWebapps(ctx context.Context, vhost string) (map[string]WebappInfo, error) {
	host := vhost
	if host == "" {
		host = "*"
	}
	pattern := fmt.Sprintf("Catalina:j2eeType=WebModule,name=//%s/*,*", host)
	beans, err := n.jmx.Query(ctx, pattern)
	if err != nil {
		return nil, err
	}
	infos := make(map[string]WebappInfo, len(beans))
	for _, b := range beans {
		name := "/"
		if v, ok := b.Props["name"]; ok {
			if s, err := v.AsString(); err == nil && s != "" {
				name = s
			}
		}
		info := WebappInfo{Context: name}
		if v, ok := b.Props["stateName"]; ok {
			info.StateName, _ = v.AsString()
		}
		if v, ok := b.Props["path"]; ok {
			info.Path, _ = v.AsString()
		}
		if v, ok := b.Props["webappVersion"]; ok {
			info.WebappVersion, _ = v.AsString()
		}
		infos[name] = info
	}
	return infos, nil
}

// ListSessionIds invokes the manager's listSessionIds operation for a
// context and returns the raw space-separated id string (trailing
// whitespace preserved, as Tomcat emits it).
func (n *Node) ListSessionIds(ctx context.Context, context_, vhost string) (string, error) {
	bean := managerBeanID(context_, vhost)
	v, err := n.jmx.Invoke(ctx, bean, "listSessionIds")
	if err != nil {
		return "", err
	}
	return v.AsString()
}

// ListSessions splits ListSessionIds' raw result on whitespace into
// individual ids (an empty result yields an empty, not nil-vs-populated,
// slice difference — callers should only rely on length).
func (n *Node) ListSessions(ctx context.Context, context_, vhost string) ([]string, error) {
	raw, err := n.ListSessionIds(ctx, context_, vhost)
	if err != nil {
		return nil, err
	}
	return strings.Fields(raw), nil
}

// ExpireSessions forcibly expires the given session ids on context.
func (n *Node) ExpireSessions(ctx context.Context, context_, vhost string, ids []string) error {
	bean := managerBeanID(context_, vhost)
	for _, id := range ids {
		if _, err := n.jmx.Invoke(ctx, bean, "expireSession", id); err != nil {
			return err
		}
	}
	return nil
}

func managerBeanID(context_, vhost string) string {
	if vhost == "" {
		vhost = "localhost"
	}
	return fmt.Sprintf("Catalina:type=Manager,context=%s,host=%s", context_, vhost)
}

// Deploy uploads the WAR at filename to context on vhost, reporting
// upload progress through progress.
func (n *Node) Deploy(ctx context.Context, filename, context_, vhost string, progress cmn.ProgressFunc) error {
	return n.mgr.Deploy(ctx, filename, context_, vhost, progress)
}

// Undeploy removes the webapp at context on vhost.
func (n *Node) Undeploy(ctx context.Context, context_, vhost string) error {
	return n.mgr.Undeploy(ctx, context_, vhost)
}

// UndeployOldVersions invokes checkUndeploy on vhost's deployer bean (or
// every configured vhost's deployer, when vhost is empty), which is the
// server's own parallel-deployment rule for dropping superseded versions
// of a path once they have no active sessions. Unlike the original
// implementation this always threads vhost through Deployers rather than
// an undefined "host" name, per spec.md's note on that ambiguity.
func (n *Node) UndeployOldVersions(ctx context.Context, vhost string) error {
	deployers, err := n.Deployers(ctx, vhost)
	if err != nil {
		return err
	}
	for _, d := range deployers {
		if _, err := n.jmx.Invoke(ctx, d, "checkUndeploy"); err != nil {
			return err
		}
	}
	return nil
}

// beanAttr extracts the value of key from a JMX object name's
// comma-separated key=value component list, e.g. beanAttr("Catalina:type=
// Manager,context=/app1,host=localhost", "context") == "/app1".
func beanAttr(id, key string) string {
	_, props, ok := strings.Cut(id, ":")
	if !ok {
		return ""
	}
	for _, part := range strings.Split(props, ",") {
		k, v, ok := strings.Cut(part, "=")
		if ok && k == key {
			return v
		}
	}
	return ""
}
