// Package cmn provides the shared types used across pytomcat: the tagged
// error family, progress events, the dynamic JMX value representation and
// web-archive filename parsing.
package cmn

import "fmt"

// ErrorKind tags a pytomcat Error with one of the kinds enumerated in the
// design's error table. Callers switch on Kind rather than string-matching
// error text.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindTransportError
	KindRemoteError
	KindParseError
	KindInvalidArchive
	KindContextExists
	KindPathOccupied
	KindPartialDeployment
	KindNewerVersionExists
	KindLowMemory
	KindDeployFailed
	KindCannotRollback
	KindRestartTimeout
	KindAborted
	KindEmptyCluster
	KindRestartFractionTooSmall
	KindNotFound
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransportError:
		return "TransportError"
	case KindRemoteError:
		return "RemoteError"
	case KindParseError:
		return "ParseError"
	case KindInvalidArchive:
		return "InvalidArchive"
	case KindContextExists:
		return "ContextExists"
	case KindPathOccupied:
		return "PathOccupied"
	case KindPartialDeployment:
		return "PartialDeployment"
	case KindNewerVersionExists:
		return "NewerVersionExists"
	case KindLowMemory:
		return "LowMemory"
	case KindDeployFailed:
		return "DeployFailed"
	case KindCannotRollback:
		return "CannotRollback"
	case KindRestartTimeout:
		return "RestartTimeout"
	case KindAborted:
		return "Aborted"
	case KindEmptyCluster:
		return "EmptyCluster"
	case KindRestartFractionTooSmall:
		return "RestartFractionTooSmall"
	case KindNotFound:
		return "NotFound"
	default:
		return "Error"
	}
}

// Error is the single tagged error type used throughout pytomcat. It
// carries enough context (the offending node, URL, underlying cause) for
// the CLI and the orchestrator to report partial cluster failures usefully.
type Error struct {
	Kind    ErrorKind
	Message string
	Node    string // node_id, when the error is scoped to one node
	cause   error
}

func (e *Error) Error() string {
	if e.Node != "" {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Node, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Is reports whether target is a *Error with the same Kind, so callers can
// use errors.Is(err, &cmn.Error{Kind: cmn.KindAborted}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func newErr(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// NewTransportError wraps a network/protocol failure while reaching url.
func NewTransportError(url string, cause error) *Error {
	return &Error{Kind: KindTransportError, Message: fmt.Sprintf("error communicating with %s: %v", url, cause), cause: cause}
}

// NewRemoteError wraps a non-OK response body verbatim.
func NewRemoteError(body string) *Error {
	return newErr(KindRemoteError, "%s", body)
}

// NewParseError reports a response body that starts with OK but does not
// match the response grammar.
func NewParseError(format string, args ...interface{}) *Error {
	return newErr(KindParseError, format, args...)
}

// NewInvalidArchive reports a filename that does not match the archive
// suffix grammar.
func NewInvalidArchive(filename string) *Error {
	return newErr(KindInvalidArchive, "invalid WAR file name: %q", filename)
}

func NewContextExists(context string, presentOn []string) *Error {
	return newErr(KindContextExists, "there is already a context %s on %v", context, presentOn)
}

func NewPathOccupied(path string, occupants []string) *Error {
	return newErr(KindPathOccupied, "there is already a webapp deployed to %s (%v)", path, occupants)
}

func NewPartialDeployment(path string, occupants []string) *Error {
	return newErr(KindPartialDeployment, "webapp %s is deployed only to a subset of nodes (%v)", path, occupants)
}

func NewNewerVersionExists(path, latest, candidate string) *Error {
	return newErr(KindNewerVersionExists, "there is a webapp %s deployed to %s that is newer than %s", latest, path, candidate)
}

func NewLowMemory(hosts []string) *Error {
	return newErr(KindLowMemory, "the following nodes do not have enough memory: %v", hosts)
}

func NewDeployFailed(contexts []string) *Error {
	return newErr(KindDeployFailed, "deployment of %v failed", contexts)
}

func NewCannotRollback(path string, versionCount int) *Error {
	return newErr(KindCannotRollback, "failed to roll back %q: path is served by only %d version(s)", path, versionCount)
}

func NewRestartTimeout(phase, node string) *Error {
	e := newErr(KindRestartTimeout, "timed out waiting for %s during restart phase %q", node, phase)
	e.Node = node
	return e
}

func NewAborted(node string) *Error {
	e := newErr(KindAborted, "aborted")
	e.Node = node
	return e
}

func NewEmptyCluster() *Error {
	return newErr(KindEmptyCluster, "cluster has no members")
}

func NewRestartFractionTooSmall(fraction float64, memberCount int) *Error {
	return newErr(KindRestartFractionTooSmall, "unable to restart %.0f%% of the nodes in a %d node cluster", fraction*100, memberCount)
}

func NewNotFound(format string, args ...interface{}) *Error {
	return newErr(KindNotFound, format, args...)
}

// KindOf returns the Kind of err if it is (or wraps) a *Error, else
// KindUnknown.
func KindOf(err error) ErrorKind {
	var e *Error
	if asError(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// asError is a tiny errors.As shim kept local to avoid importing errors in
// every call site that only needs KindOf.
func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
