package duraref

// Hooks lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking.
// Handles call them on hot paths.
type Hooks interface {
	// A conditional update lost a version race and the operation will
	// re-read and retry. attempt counts from 1 within one operation.
	ConflictRetried(key string, attempt int)

	// The store reported write-lock contention beyond its busy timeout.
	// The operation fails with ErrBusy; it is not retried here.
	BusyFailure(key string, err error)

	// The handle validator rejected a candidate value.
	// op ∈ {"swap", "compare_and_set", "reset"}
	ValidatorRejected(key, op string)

	// A store access found the key absent; the handle entered its failed
	// state and will resume when the key resolves again.
	NotFoundObserved(key, op string)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) ConflictRetried(string, int)      {}
func (NopHooks) BusyFailure(string, error)        {}
func (NopHooks) ValidatorRejected(string, string) {}
func (NopHooks) NotFoundObserved(string, string)  {}
