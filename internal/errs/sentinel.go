package errs

// Sentinel errors for common, frequently-checked failure cases.
var (
	// ErrConfigUnreadable indicates a named config file does not exist
	// or could not be parsed.
	ErrConfigUnreadable = &DaemonError{Kind: KindConfig, Detail: "config file unreadable"}

	// ErrConfigInvalid indicates a config value failed validation.
	ErrConfigInvalid = &DaemonError{Kind: KindConfig, Detail: "invalid configuration"}

	// ErrStateMissing indicates no snapshot exists at the configured
	// state path; callers may choose to start with an empty model.
	ErrStateMissing = &DaemonError{Kind: KindPersistence, Detail: "state database missing"}

	// ErrSchemaIncompatible indicates the persisted schema version does
	// not match what this build understands.
	ErrSchemaIncompatible = &DaemonError{Kind: KindPersistence, Detail: "incompatible schema version"}

	// ErrRepositoryClosed indicates an operation was attempted after
	// the repository was closed.
	ErrRepositoryClosed = &DaemonError{Kind: KindFatal, Detail: "repository is closed"}

	// ErrNoPrefetchBackend indicates none of the candidate prefetch
	// backends are usable on this host.
	ErrNoPrefetchBackend = &DaemonError{Kind: KindFatal, Detail: "no usable prefetch backend"}

	// ErrEdgeExeDeallocated indicates a Markov edge references an exe
	// that has since been evicted from the store — this should never
	// happen given the active-window pruning invariant, and indicates
	// an update-ordering bug if it does.
	ErrEdgeExeDeallocated = &DaemonError{Kind: KindFatal, Detail: "edge references evicted exe"}
)
