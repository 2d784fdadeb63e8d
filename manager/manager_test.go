package manager_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strconv"
	"testing"

	"github.com/sbraverman/pytomcat/cmn"
	"github.com/sbraverman/pytomcat/manager"
)

func newTestClient(t *testing.T, srv *httptest.Server) *manager.Client {
	t.Helper()
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parsing test server URL: %v", err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatalf("parsing test server port: %v", err)
	}
	return manager.NewClient(u.Hostname(), port, "admin", "secret")
}

func TestDeployEmitsUploadEvents(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte("OK - Deployed application at context path [/app1]\n"))
	}))
	defer srv.Close()

	f, err := os.CreateTemp(t.TempDir(), "app1-*.war")
	if err != nil {
		t.Fatalf("creating temp war: %v", err)
	}
	if _, err := f.Write(make([]byte, 1<<16)); err != nil {
		t.Fatalf("writing temp war: %v", err)
	}
	f.Close()

	c := newTestClient(t, srv)
	var events []cmn.Event
	err = c.Deploy(context.Background(), f.Name(), "/app1", "", func(e cmn.Event) {
		events = append(events, e)
	})
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	if gotPath != "/manager/text/deploy" {
		t.Fatalf("expected deploy path, got %q", gotPath)
	}
	if len(events) == 0 {
		t.Fatalf("expected at least one upload progress event")
	}
	last := events[len(events)-1]
	if last.Position != 1<<16 {
		t.Fatalf("expected final position %d, got %d", 1<<16, last.Position)
	}
}

func TestUndeployNonOKIsRemoteError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("FAIL - No context exists named [/missing]\n"))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	err := c.Undeploy(context.Background(), "/missing", "")
	if err == nil {
		t.Fatalf("expected an error")
	}
	if cmn.KindOf(err) != cmn.KindRemoteError {
		t.Fatalf("expected RemoteError, got %v", cmn.KindOf(err))
	}
}
