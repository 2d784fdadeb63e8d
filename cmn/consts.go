package cmn

// ExcludedMemoryPools lists the JVM memory pool names excluded from the
// "find pools over a threshold" memory check: the young-generation and
// code-cache pools churn constantly and routinely cross any fixed
// percentage threshold without indicating real memory pressure.
var ExcludedMemoryPools = map[string]bool{
	"Par Eden Space":      true,
	"Par Survivor Space":  true,
	"Code Cache":          true,
}

// DefaultPort is the Tomcat HTTP connector port assumed when a seed host
// string doesn't specify one.
const DefaultPort = 8080

// DefaultUploadTimeoutSeconds bounds a deploy PUT; it is far larger than
// DefaultTimeoutSeconds because large WAR uploads over slow links can take
// minutes.
const DefaultUploadTimeoutSeconds = 900

// DefaultTimeoutSeconds bounds ordinary JMX/management GET requests.
const DefaultTimeoutSeconds = 10

// DefaultRestartFraction is the portion of cluster members restarted
// concurrently during a rolling restart absent an explicit override.
const DefaultRestartFraction = 0.33

// DefaultRequiredMemoryPercent is the minimum percentage of free heap a
// node must have (after GC, if enabled) before a deploy is allowed.
const DefaultRequiredMemoryPercent = 50

// DefaultPollIntervalSeconds governs readiness and restart-phase polling.
const DefaultPollIntervalSeconds = 5

// DefaultDeployWaitSeconds bounds how long to wait for a freshly deployed
// webapp to report STARTED, coherently, on every node.
const DefaultDeployWaitSeconds = 30

// DefaultGCWaitSeconds bounds how long to wait for a triggered GC to
// actually free memory before re-checking.
const DefaultGCWaitSeconds = 10

// StateStarted is the Lifecycle state name a webapp or server reports once
// fully running.
const StateStarted = "STARTED"
