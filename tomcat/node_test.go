package tomcat_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"

	"github.com/sbraverman/pytomcat/tomcat"
)

// fakeJMXServer answers a small fixed set of jmxproxy queries used by the
// Node methods under test; it does not model the full servlet.
func fakeJMXServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		qry := q.Get("qry")
		get := q.Get("get")
		att := q.Get("att")
		invoke := q.Get("invoke")
		op := q.Get("op")
		switch {
		case qry == "java.lang:type=MemoryPool,*":
			w.Write([]byte("OK - Find 1 object:\n\nName: MemoryPool\n\n"))
		case get == "MemoryPool" && att == "Usage":
			w.Write([]byte("OK - Attribute get 'MemoryPool' - Usage = " +
				"javax.management.openmbean.CompositeDataSupport(compositeType=MemoryUsage,contents={used=10, max=100})"))
		case qry == "Catalina:j2eeType=WebModule,name=//*/*,*":
			w.Write([]byte("OK - Find 1 object:\n\n" +
				"Name: Catalina:j2eeType=WebModule,name=//localhost/app1,j2eeType=WebModule\n" +
				"name: /app1\n" +
				"stateName: STARTED\n" +
				"path: /app1\n\n"))
		case get == "java.lang:type=Memory" && att == "HeapMemoryUsage":
			w.Write([]byte("OK - Attribute get 'java.lang:type=Memory' - HeapMemoryUsage = " +
				"javax.management.openmbean.CompositeDataSupport(compositeType=MemoryUsage,contents={used=1000, max=129957888})"))
		case get == "java.lang:type=Memory" && att == "NonHeapMemoryUsage":
			w.Write([]byte("OK - Attribute get 'java.lang:type=Memory' - NonHeapMemoryUsage = " +
				"javax.management.openmbean.CompositeDataSupport(compositeType=MemoryUsage,contents={used=500, max=67108864})"))
		case invoke == "java.lang:type=Threading" && op == "dumpAllThreads":
			w.Write([]byte("OK - Operation dumpAllThreads returned:\n" +
				"  javax.management.openmbean.CompositeDataSupport(compositeType=ThreadInfo,contents={threadName=main, threadState=RUNNABLE})\n" +
				"  javax.management.openmbean.CompositeDataSupport(compositeType=ThreadInfo,contents={threadName=GC, threadState=WAITING})\n"))
		case qry == "Catalina:type=Connector,*":
			w.Write([]byte("OK - Find 2 objects:\n\n" +
				"Name: Catalina:type=Connector,port=8080\n\n" +
				"Name: Catalina:type=Connector,port=8009\n\n"))
		case qry == "Catalina:type=Cluster":
			w.Write([]byte("OK - Find 1 object:\n\nName: Catalina:type=Cluster\n\n"))
		case get == "Catalina:type=Cluster" && att == "clusterName":
			w.Write([]byte("OK - Attribute get 'Catalina:type=Cluster' - clusterName = mycluster"))
		case qry == "Catalina:type=Cluster,component=Member,*":
			w.Write([]byte("OK - Find 3 objects:\n\n" +
				"Name: Catalina:type=Cluster,component=Member,name=m1\n" +
				"hostname: 10.0.0.1\n" +
				"port: 4000\n" +
				"ready: true\n" +
				"failing: false\n" +
				"suspect: false\n\n" +
				"Name: Catalina:type=Cluster,component=Member,name=m2\n" +
				"hostname: 0.0.0.0\n" +
				"port: 4000\n" +
				"ready: true\n" +
				"failing: false\n" +
				"suspect: false\n\n" +
				"Name: Catalina:type=Cluster,component=Member,name=m3\n" +
				"hostname: 10.0.0.2\n" +
				"port: 4001\n" +
				"ready: false\n" +
				"failing: true\n" +
				"suspect: false\n\n"))
		case qry == "Catalina:type=Host,*":
			w.Write([]byte("OK - Find 2 objects:\n\n" +
				"Name: Catalina:type=Host,host=localhost\n\n" +
				"Name: Catalina:type=Host,host=other\n\n"))
		case qry == "Catalina:type=Manager,*":
			w.Write([]byte("OK - Find 2 objects:\n\n" +
				"Name: Catalina:type=Manager,context=/app1,host=localhost\n\n" +
				"Name: Catalina:type=Manager,context=/app2,host=other\n\n"))
		default:
			w.Write([]byte("OK - Find 0 objects:\n\n"))
		}
	}))
}

// fakeNoClusterJMXServer answers every Cluster bean query with a remote
// "not found" error, modeling a node that isn't running the Tomcat cluster
// valve at all.
func fakeNoClusterJMXServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("FAIL - No such bean found\n"))
	}))
}

func newTestNode(t *testing.T, srv *httptest.Server) *tomcat.Node {
	t.Helper()
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parsing URL: %v", err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatalf("parsing port: %v", err)
	}
	return tomcat.New(u.Hostname(), port, "admin", "secret")
}

func TestMemoryInfo(t *testing.T) {
	srv := fakeJMXServer(t)
	defer srv.Close()
	n := newTestNode(t, srv)

	pools, err := n.MemoryInfo(context.Background())
	if err != nil {
		t.Fatalf("MemoryInfo: %v", err)
	}
	if len(pools) != 1 {
		t.Fatalf("expected 1 pool, got %d", len(pools))
	}
	if pools[0].UsedPercent() != 10 {
		t.Fatalf("expected 10%% used, got %v", pools[0].UsedPercent())
	}
}

func TestListWebapps(t *testing.T) {
	srv := fakeJMXServer(t)
	defer srv.Close()
	n := newTestNode(t, srv)

	infos, err := n.ListWebapps(context.Background(), "")
	if err != nil {
		t.Fatalf("ListWebapps: %v", err)
	}
	info, ok := infos["/app1"]
	if !ok || len(infos) != 1 {
		t.Fatalf("unexpected webapps: %+v", infos)
	}
	if !strings.EqualFold(info.StateName, "STARTED") {
		t.Fatalf("expected started state, got %q", info.StateName)
	}
	if info.Path != "/app1" {
		t.Fatalf("expected path /app1, got %q", info.Path)
	}
}

func TestMaxHeapAndMaxNonHeap(t *testing.T) {
	srv := fakeJMXServer(t)
	defer srv.Close()
	n := newTestNode(t, srv)

	heap, err := n.MaxHeap(context.Background())
	if err != nil {
		t.Fatalf("MaxHeap: %v", err)
	}
	if heap != 129957888 {
		t.Fatalf("expected 129957888, got %d", heap)
	}

	nonHeap, err := n.MaxNonHeap(context.Background())
	if err != nil {
		t.Fatalf("MaxNonHeap: %v", err)
	}
	if nonHeap != 67108864 {
		t.Fatalf("expected 67108864, got %d", nonHeap)
	}
}

func TestDumpAllThreads(t *testing.T) {
	srv := fakeJMXServer(t)
	defer srv.Close()
	n := newTestNode(t, srv)

	v, err := n.DumpAllThreads(context.Background())
	if err != nil {
		t.Fatalf("DumpAllThreads: %v", err)
	}
	threads, err := v.AsList()
	if err != nil {
		t.Fatalf("AsList: %v", err)
	}
	if len(threads) != 2 {
		t.Fatalf("expected 2 threads, got %d", len(threads))
	}
	first, err := threads[0].AsMap()
	if err != nil {
		t.Fatalf("AsMap: %v", err)
	}
	name, err := first["threadName"].AsString()
	if err != nil {
		t.Fatalf("AsString: %v", err)
	}
	if name != "main" {
		t.Fatalf("expected thread name main, got %q", name)
	}
}

func TestFindConnectors(t *testing.T) {
	srv := fakeJMXServer(t)
	defer srv.Close()
	n := newTestNode(t, srv)

	ports, err := n.FindConnectors(context.Background())
	if err != nil {
		t.Fatalf("FindConnectors: %v", err)
	}
	if len(ports) != 2 || ports[0] != "8009" || ports[1] != "8080" {
		t.Fatalf("expected sorted [8009 8080], got %v", ports)
	}
}

func TestHasClusterAndClusterName(t *testing.T) {
	srv := fakeJMXServer(t)
	defer srv.Close()
	n := newTestNode(t, srv)

	has, err := n.HasCluster(context.Background())
	if err != nil {
		t.Fatalf("HasCluster: %v", err)
	}
	if !has {
		t.Fatalf("expected HasCluster true")
	}

	name, err := n.ClusterName(context.Background())
	if err != nil {
		t.Fatalf("ClusterName: %v", err)
	}
	if name != "mycluster" {
		t.Fatalf("expected mycluster, got %q", name)
	}
}

func TestHasClusterFalseWhenNoClusterBean(t *testing.T) {
	srv := fakeNoClusterJMXServer(t)
	defer srv.Close()
	n := newTestNode(t, srv)

	has, err := n.HasCluster(context.Background())
	if err != nil {
		t.Fatalf("HasCluster: %v", err)
	}
	if has {
		t.Fatalf("expected HasCluster false")
	}
}

func TestClusterMembersFiltersBroadcastAddr(t *testing.T) {
	srv := fakeJMXServer(t)
	defer srv.Close()
	n := newTestNode(t, srv)

	members, err := n.ClusterMembers(context.Background())
	if err != nil {
		t.Fatalf("ClusterMembers: %v", err)
	}
	if len(members) != 2 || members[0] != "10.0.0.1:4000" || members[1] != "10.0.0.2:4001" {
		t.Fatalf("expected [10.0.0.1:4000 10.0.0.2:4001] with 0.0.0.0 filtered, got %v", members)
	}
}

func TestActiveMembersFiltersNotReadyOrFailing(t *testing.T) {
	srv := fakeJMXServer(t)
	defer srv.Close()
	n := newTestNode(t, srv)

	active, err := n.ActiveMembers(context.Background())
	if err != nil {
		t.Fatalf("ActiveMembers: %v", err)
	}
	if len(active) != 1 || active[0] != "10.0.0.1:4000" {
		t.Fatalf("expected only the ready, non-failing member, got %v", active)
	}
}

func TestVHosts(t *testing.T) {
	srv := fakeJMXServer(t)
	defer srv.Close()
	n := newTestNode(t, srv)

	hosts, err := n.VHosts(context.Background())
	if err != nil {
		t.Fatalf("VHosts: %v", err)
	}
	if len(hosts) != 2 || hosts[0] != "localhost" || hosts[1] != "other" {
		t.Fatalf("expected sorted [localhost other], got %v", hosts)
	}
}

func TestFindManagers(t *testing.T) {
	srv := fakeJMXServer(t)
	defer srv.Close()
	n := newTestNode(t, srv)

	all, err := n.FindManagers(context.Background(), "")
	if err != nil {
		t.Fatalf("FindManagers: %v", err)
	}
	if len(all) != 2 || all[0] != "/app1" || all[1] != "/app2" {
		t.Fatalf("expected sorted [/app1 /app2], got %v", all)
	}

	scoped, err := n.FindManagers(context.Background(), "localhost")
	if err != nil {
		t.Fatalf("FindManagers scoped: %v", err)
	}
	if len(scoped) != 1 || scoped[0] != "/app1" {
		t.Fatalf("expected [/app1] scoped to localhost, got %v", scoped)
	}
}
