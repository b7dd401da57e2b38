package duraref

import (
	"context"

	c "github.com/unkn0wn-root/duraref/codec"
	st "github.com/unkn0wn-root/duraref/store"
)

// Meta is value-level metadata. It is serialized together with the value and
// persists across writes, restarts and readers of the same store. It is
// unrelated to the handle-local metadata exposed by Ref.Meta/AlterMeta.
type Meta map[string]string

// WatchFunc receives the watch id, the handle the watch is registered on, and
// the observed value transition. It runs synchronously in the thread that
// triggered the transition, after the write is durably committed and the
// handle cache advanced, before the triggering operation returns.
type WatchFunc[V any] func(id string, r Ref[V], oldVal, newVal V)

// Ref is one open handle on a durable, versioned reference. Safe for
// concurrent use; many handles (same or different processes) may point at the
// same record.
//
// Failure modes are structured: a missing record surfaces as ErrNotFound, a
// validator rejection as ErrInvalidValue, and store write-lock contention
// beyond the busy timeout as ErrBusy. Only version conflicts are retried
// internally; a busy failure is returned to the caller, who may retry the
// whole operation.
type Ref[V any] interface {
	// Key returns the record key this handle is bound to.
	Key() string

	// Deref returns the current value. If the cached version still matches
	// the persisted version only the version is fetched, not the value.
	Deref(ctx context.Context) (V, error)

	// DerefMeta returns the value-level metadata persisted with the current
	// value. Never nil on success.
	DerefMeta(ctx context.Context) (Meta, error)

	// Swap applies fn to the current value and atomically replaces it,
	// retrying on version conflicts until this handle wins. fn must be free
	// of side effects: it may be invoked multiple times, but only the
	// winning invocation is externally observed. Returns the new value.
	Swap(ctx context.Context, fn func(V) V) (V, error)

	// SwapVals is Swap returning both the replaced and the new value.
	SwapVals(ctx context.Context, fn func(V) V) (oldVal, newVal V, err error)

	// CompareAndSet replaces the value with next iff the current value
	// equals expected (deep equality). Returns false without writing when
	// equality fails; a lost conditional write re-reads and re-compares.
	CompareAndSet(ctx context.Context, expected, next V) (bool, error)

	// Reset unconditionally replaces the value, returning the new value.
	Reset(ctx context.Context, next V) (V, error)

	// ResetVals is Reset returning both the replaced and the new value.
	ResetVals(ctx context.Context, next V) (oldVal, newVal V, err error)

	// ResetWithMeta is Reset that also replaces the value-level metadata.
	// Plain Swap/Reset/CompareAndSet carry the stored metadata through
	// unchanged.
	ResetWithMeta(ctx context.Context, next V, meta Meta) (V, error)

	// SetValidator installs pred as this handle's validator, used by
	// subsequent Swap/CompareAndSet/Reset on this handle only. A non-nil
	// pred must accept the currently persisted value or SetValidator fails
	// with ErrInvalidState and the previous validator stays installed.
	// A nil pred clears the validator.
	SetValidator(ctx context.Context, pred func(V) bool) error

	// AddWatch registers fn under id, replacing any watch with the same id.
	// The watch fires once per locally observed cache advancement: own
	// writes, and writes by others observed during a read. A read spanning
	// several foreign writes fires once for the whole jump.
	AddWatch(id string, fn WatchFunc[V])

	// RemoveWatch deregisters the watch with the given id, if any.
	RemoveWatch(id string)

	// Meta returns a copy of the handle-local metadata map. Handle metadata
	// is process-local and ephemeral; it never touches the store.
	Meta() map[string]any

	// AlterMeta applies fn to a copy of the handle metadata and installs the
	// result, returning a copy of it. Calls on the same handle serialize.
	AlterMeta(fn func(map[string]any) map[string]any) map[string]any

	// ResetMeta replaces the handle metadata, returning a copy of it.
	ResetMeta(m map[string]any) map[string]any
}

// Options configure an open handle. Only Store and Key are required.
type Options[V any] struct {
	// Required
	Store st.Store
	Key   string

	Codec c.Codec[V] // nil => codec.JSON[V]
	Log   Logger     // nil => NopLogger
	Hooks Hooks      // nil => NopHooks

	// Default is persisted at version 1 if the key has no record yet.
	// Ignored when the record already exists.
	Default V

	// DefaultMeta is the value-level metadata written with Default.
	DefaultMeta Meta

	// Validator, when set, is installed on the new handle. It must accept
	// Default (so a rejected default is never persisted) and the value the
	// handle observes at open, or Open fails with ErrInvalidState.
	Validator func(V) bool

	// HandleMeta seeds the handle-local metadata map.
	HandleMeta map[string]any
}

// Open binds a handle to the record at opts.Key, creating the record with
// opts.Default (at version 1) if no record exists.
func Open[V any](ctx context.Context, opts Options[V]) (Ref[V], error) {
	return openRef[V](ctx, opts)
}
