package tomcat

import (
	"context"
	"time"

	"github.com/sbraverman/pytomcat/cmn"
)

// restarter knows how to trigger an external process supervisor to bounce
// the JVM. Tomcat itself has no "restart" operation; the supervisor
// wrapping it does, and the two implementations below are the two wrapper
// products this facade has historically been driven against.
type restarter interface {
	// name identifies the restarter for logging.
	name() string
	// detect reports whether this restarter's control bean is present on
	// the node.
	detect(ctx context.Context, n *Node) (bool, error)
	// trigger asks the supervisor to restart the JVM.
	trigger(ctx context.Context, n *Node) error
}

// jswRestarter drives Java Service Wrapper's JMX control bean.
type jswRestarter struct{}

func (jswRestarter) name() string { return "JSW" }

func (jswRestarter) detect(ctx context.Context, n *Node) (bool, error) {
	beans, err := n.jmx.Query(ctx, "org.tanukisoftware.wrapper:type=WrapperManager")
	if err != nil {
		if cmn.KindOf(err) == cmn.KindRemoteError {
			return false, nil
		}
		return false, err
	}
	return len(beans) > 0, nil
}

func (jswRestarter) trigger(ctx context.Context, n *Node) error {
	_, err := n.jmx.Invoke(ctx, "org.tanukisoftware.wrapper:type=WrapperManager", "restart")
	return err
}

// yajswRestarter drives Yet Another Java Service Wrapper's control bean.
type yajswRestarter struct{}

func (yajswRestarter) name() string { return "YAJSW" }

func (yajswRestarter) detect(ctx context.Context, n *Node) (bool, error) {
	beans, err := n.jmx.Query(ctx, "org.rzo.yajsw:type=WrapperManager")
	if err != nil {
		if cmn.KindOf(err) == cmn.KindRemoteError {
			return false, nil
		}
		return false, err
	}
	return len(beans) > 0, nil
}

func (yajswRestarter) trigger(ctx context.Context, n *Node) error {
	_, err := n.jmx.Invoke(ctx, "org.rzo.yajsw:type=WrapperManager", "restart")
	return err
}

var knownRestarters = []restarter{jswRestarter{}, yajswRestarter{}}

// findRestarter probes the known restarter control beans in order and
// returns the first one present, or nil if the node isn't running under
// either supervisor.
func findRestarter(ctx context.Context, n *Node) (restarter, error) {
	for _, r := range knownRestarters {
		ok, err := r.detect(ctx, n)
		if err != nil {
			return nil, err
		}
		if ok {
			return r, nil
		}
	}
	return nil, nil
}

// CanRestart reports whether this node is running under a recognized
// process supervisor and can therefore be restarted remotely.
func (n *Node) CanRestart(ctx context.Context) (bool, error) {
	r, err := findRestarter(ctx, n)
	if err != nil {
		return false, err
	}
	return r != nil, nil
}

// RestartPhase names one step of the down -> up -> apps-up sequence a
// restart is polled through.
type RestartPhase string

const (
	PhaseDown    RestartPhase = "down"
	PhaseUp      RestartPhase = "up"
	PhaseAppsUp  RestartPhase = "apps-up"
)

// Restart triggers the node's process supervisor to bounce the JVM, then
// polls server_status until it has gone down, come back up, and every
// previously deployed webapp reports STARTED again, each
// phase bounded by its own timeout. vhost scopes the apps-up check; pass
// "" to check every vhost.
func (n *Node) Restart(ctx context.Context, vhost string, phaseTimeout, pollInterval time.Duration) error {
	r, err := findRestarter(ctx, n)
	if err != nil {
		return err
	}
	if r == nil {
		return cmn.NewNotFound("node %s has no recognized restart supervisor", n.ID)
	}

	before, err := n.ListWebapps(ctx, vhost)
	if err != nil {
		return err
	}

	if err := r.trigger(ctx, n); err != nil {
		return err
	}

	if err := n.waitPhase(ctx, PhaseDown, phaseTimeout, pollInterval, func() (bool, error) {
		state, err := n.ServerStatus(ctx)
		if err != nil {
			return true, nil
		}
		return state != cmn.StateStarted, nil
	}); err != nil {
		return err
	}

	if err := n.waitPhase(ctx, PhaseUp, phaseTimeout, pollInterval, func() (bool, error) {
		state, err := n.ServerStatus(ctx)
		if err != nil {
			return false, nil
		}
		return state == cmn.StateStarted, nil
	}); err != nil {
		return err
	}

	if err := n.waitPhase(ctx, PhaseAppsUp, phaseTimeout, pollInterval, func() (bool, error) {
		after, err := n.ListWebapps(ctx, vhost)
		if err != nil {
			return false, nil
		}
		return webappsStarted(before, after), nil
	}); err != nil {
		return err
	}

	return nil
}

func webappsStarted(before, after map[string]WebappInfo) bool {
	if len(after) < len(before) {
		return false
	}
	for name := range before {
		info, ok := after[name]
		if !ok || info.StateName != cmn.StateStarted {
			return false
		}
	}
	return true
}

// waitPhase polls predicate every pollInterval until it returns true or
// timeout elapses, in which case it returns a RestartTimeout error tagged
// with phase.
func (n *Node) waitPhase(ctx context.Context, phase RestartPhase, timeout, pollInterval time.Duration, predicate func() (bool, error)) error {
	deadline := time.Now().Add(timeout)
	for {
		ok, err := predicate()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if time.Now().After(deadline) {
			return cmn.NewRestartTimeout(string(phase), n.ID)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}
