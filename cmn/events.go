package cmn

// EventKind distinguishes the progress events emitted during long-running
// cluster operations: a chunked upload tick, or the start/end of a
// per-node command dispatched by the cluster orchestrator.
type EventKind int

const (
	EventUpload EventKind = iota
	EventCmdStart
	EventCmdEnd
)

// Event is the single progress-notification struct passed to a
// ProgressFunc. Not every field is populated for every Kind: Position,
// Total, Blocksize and Filename only apply to EventUpload; Command and Err
// only apply to EventCmdStart/EventCmdEnd.
type Event struct {
	Kind     EventKind
	Node     string
	URL      string
	Filename string
	Position int64
	Total    int64
	Blocksize int64
	Command  string
	Err      error
}

// ProgressFunc receives Events as an operation progresses. It must not
// block significantly: callers fan events out from many goroutines and a
// slow callback serializes the whole cluster operation.
type ProgressFunc func(Event)

// NopProgress discards every event; it is the default when a caller
// doesn't care about progress.
func NopProgress(Event) {}
