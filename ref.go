package duraref

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/google/uuid"

	c "github.com/unkn0wn-root/duraref/codec"
	"github.com/unkn0wn-root/duraref/internal/util"
	"github.com/unkn0wn-root/duraref/internal/wire"
	st "github.com/unkn0wn-root/duraref/store"
)

// snapshot is the handle cache. Value, value-meta and version move as one
// unit under ref.mu, never as independent fields.
type snapshot[V any] struct {
	val  V
	meta Meta
	ver  int64
	ok   bool // false after an observed NotFound; val is kept as the next watch "old"
}

type ref[V any] struct {
	key   string
	store st.Store
	codec c.Codec[V]
	log   Logger
	hooks Hooks
	hid   string // short handle id for log correlation

	mu       sync.Mutex // cache + validator slot
	cache    snapshot[V]
	validate func(V) bool

	watchMu sync.RWMutex
	watches map[string]WatchFunc[V]

	metaMu sync.Mutex // handle metadata only; never held with mu
	hmeta  map[string]any
}

var _ Ref[int] = (*ref[int])(nil)

func openRef[V any](ctx context.Context, opts Options[V]) (*ref[V], error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("duraref: store is required")
	}
	if !util.ValidKey(opts.Key) {
		return nil, fmt.Errorf("duraref: invalid key %q", opts.Key)
	}

	r := &ref[V]{
		key:     opts.Key,
		store:   opts.Store,
		hid:     uuid.NewString()[:8],
		watches: make(map[string]WatchFunc[V]),
		hmeta:   copyHandleMeta(opts.HandleMeta),
	}
	if opts.Codec != nil {
		r.codec = opts.Codec
	} else {
		r.codec = c.JSON[V]{}
	}
	r.log = coalesce[Logger](opts.Log, NopLogger{})
	r.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})

	// Refuse to ever persist a default the validator rejects.
	if opts.Validator != nil && !opts.Validator(opts.Default) {
		return nil, &InvalidStateError{Key: opts.Key, Value: opts.Default}
	}

	enc, err := r.encode(opts.Default, opts.DefaultMeta)
	if err != nil {
		return nil, fmt.Errorf("duraref: encode default for key %q: %w", opts.Key, err)
	}
	if err := r.store.InsertIfAbsent(ctx, r.key, enc); err != nil {
		return nil, r.storeErr(err)
	}

	val, meta, ver, err := r.load(ctx)
	if err != nil {
		return nil, err
	}
	if opts.Validator != nil && !opts.Validator(val) {
		return nil, &InvalidStateError{Key: opts.Key, Value: val}
	}
	r.validate = opts.Validator
	r.cache = snapshot[V]{val: val, meta: meta, ver: ver, ok: true}

	r.log.Debug("opened reference", Fields{"key": r.key, "version": ver, "handle": r.hid})
	return r, nil
}

func (r *ref[V]) Key() string { return r.key }

func (r *ref[V]) Deref(ctx context.Context) (V, error) {
	v, _, err := r.deref(ctx)
	return v, err
}

func (r *ref[V]) DerefMeta(ctx context.Context) (Meta, error) {
	_, m, err := r.deref(ctx)
	if err != nil {
		return nil, err
	}
	return copyValueMeta(m), nil
}

// deref is the read path: a version-only round trip first, the full value
// fetched only when the cached version no longer matches.
func (r *ref[V]) deref(ctx context.Context) (V, Meta, error) {
	var zero V
	ver, ok, err := r.store.Version(ctx, r.key)
	if err != nil {
		return zero, nil, r.storeErr(err)
	}
	if !ok {
		return zero, nil, r.notFound("deref")
	}

	r.mu.Lock()
	cached := r.cache
	r.mu.Unlock()
	if cached.ok && cached.ver == ver {
		return cached.val, cached.meta, nil
	}

	val, meta, fver, err := r.load(ctx)
	if err != nil {
		return zero, nil, err
	}
	// A read spanning several foreign writes advances once and fires the
	// watchers once, with the last locally cached value as "old".
	if old, moved := r.advance(val, meta, fver); moved {
		r.notify(old, val)
	}
	return val, meta, nil
}

func (r *ref[V]) Swap(ctx context.Context, fn func(V) V) (V, error) {
	_, newVal, err := r.swapLoop(ctx, "swap", fn, nil)
	return newVal, err
}

func (r *ref[V]) SwapVals(ctx context.Context, fn func(V) V) (V, V, error) {
	return r.swapLoop(ctx, "swap", fn, nil)
}

func (r *ref[V]) Reset(ctx context.Context, next V) (V, error) {
	_, newVal, err := r.swapLoop(ctx, "reset", func(V) V { return next }, nil)
	return newVal, err
}

func (r *ref[V]) ResetVals(ctx context.Context, next V) (V, V, error) {
	return r.swapLoop(ctx, "reset", func(V) V { return next }, nil)
}

func (r *ref[V]) ResetWithMeta(ctx context.Context, next V, meta Meta) (V, error) {
	_, newVal, err := r.swapLoop(ctx, "reset",
		func(V) V { return next },
		func(Meta) Meta { return copyValueMeta(meta) })
	return newVal, err
}

// swapLoop is the optimistic-concurrency retry loop: read, transform,
// validate, conditionally write. Unbounded on version conflicts; it
// terminates once this handle wins one version increment. Busy failures and
// NotFound are returned, never retried here. metaFn, when non-nil, maps the
// stored value-meta to the meta written with the candidate; nil carries the
// stored meta through unchanged.
func (r *ref[V]) swapLoop(ctx context.Context, op string, fn func(V) V, metaFn func(Meta) Meta) (V, V, error) {
	var zero V
	for attempt := 1; ; attempt++ {
		cur, meta, ver, err := r.load(ctx)
		if err != nil {
			return zero, zero, err
		}

		next := fn(cur)
		if err := r.checkCandidate(next, op); err != nil {
			return zero, zero, err
		}

		nextMeta := meta
		if metaFn != nil {
			nextMeta = metaFn(meta)
		}
		enc, err := r.encode(next, nextMeta)
		if err != nil {
			return zero, zero, fmt.Errorf("duraref: encode key %q: %w", r.key, err)
		}

		won, err := r.store.UpdateIf(ctx, r.key, enc, ver)
		if err != nil {
			return zero, zero, r.storeErr(err)
		}
		if !won {
			r.hooks.ConflictRetried(r.key, attempt)
			r.log.Debug("lost version race; retrying", Fields{
				"key": r.key, "handle": r.hid, "op": op, "attempt": attempt,
			})
			continue
		}

		if _, moved := r.advance(next, nextMeta, ver+1); moved {
			r.notify(cur, next)
		}
		return cur, next, nil
	}
}

func (r *ref[V]) CompareAndSet(ctx context.Context, expected, next V) (bool, error) {
	for attempt := 1; ; attempt++ {
		cur, meta, ver, err := r.load(ctx)
		if err != nil {
			return false, err
		}

		if !reflect.DeepEqual(cur, expected) {
			// Equality failed: refresh the cache to what we saw, no write.
			if old, moved := r.advance(cur, meta, ver); moved {
				r.notify(old, cur)
			}
			return false, nil
		}

		if err := r.checkCandidate(next, "compare_and_set"); err != nil {
			return false, err
		}
		enc, err := r.encode(next, meta)
		if err != nil {
			return false, fmt.Errorf("duraref: encode key %q: %w", r.key, err)
		}

		won, err := r.store.UpdateIf(ctx, r.key, enc, ver)
		if err != nil {
			return false, r.storeErr(err)
		}
		if !won {
			// Lost the conditional write, not the comparison: re-read and
			// re-compare against whatever won.
			r.hooks.ConflictRetried(r.key, attempt)
			continue
		}

		if _, moved := r.advance(next, meta, ver+1); moved {
			r.notify(cur, next)
		}
		return true, nil
	}
}

func (r *ref[V]) SetValidator(ctx context.Context, pred func(V) bool) error {
	if pred == nil {
		r.mu.Lock()
		r.validate = nil
		r.mu.Unlock()
		return nil
	}

	cur, _, _, err := r.load(ctx)
	if err != nil {
		return err
	}
	if !pred(cur) {
		// Previous validator stays installed.
		return &InvalidStateError{Key: r.key, Value: cur}
	}

	r.mu.Lock()
	r.validate = pred
	r.mu.Unlock()
	return nil
}

func (r *ref[V]) AddWatch(id string, fn WatchFunc[V]) {
	if fn == nil {
		return
	}
	r.watchMu.Lock()
	r.watches[id] = fn
	r.watchMu.Unlock()
}

func (r *ref[V]) RemoveWatch(id string) {
	r.watchMu.Lock()
	delete(r.watches, id)
	r.watchMu.Unlock()
}

func (r *ref[V]) Meta() map[string]any {
	r.metaMu.Lock()
	defer r.metaMu.Unlock()
	return copyHandleMeta(r.hmeta)
}

func (r *ref[V]) AlterMeta(fn func(map[string]any) map[string]any) map[string]any {
	r.metaMu.Lock()
	defer r.metaMu.Unlock()
	m := fn(copyHandleMeta(r.hmeta))
	if m == nil {
		m = map[string]any{}
	}
	r.hmeta = m
	return copyHandleMeta(m)
}

func (r *ref[V]) ResetMeta(m map[string]any) map[string]any {
	r.metaMu.Lock()
	defer r.metaMu.Unlock()
	r.hmeta = copyHandleMeta(m)
	return copyHandleMeta(r.hmeta)
}

// load fetches the raw record without touching the cache. Swap loops make a
// point of not advancing the cache per retry; only a winning write (or a
// completed read) moves it.
func (r *ref[V]) load(ctx context.Context) (V, Meta, int64, error) {
	var zero V
	raw, ver, ok, err := r.store.Load(ctx, r.key)
	if err != nil {
		return zero, nil, 0, r.storeErr(err)
	}
	if !ok {
		return zero, nil, 0, r.notFound("load")
	}
	val, meta, err := r.decode(raw)
	if err != nil {
		return zero, nil, 0, err
	}
	return val, meta, ver, nil
}

// advance installs (val, meta, ver) iff it is strictly newer than what the
// handle has observed, or the cache was invalidated by an observed removal.
// Returns the previously cached value and whether the cache moved.
func (r *ref[V]) advance(val V, meta Meta, ver int64) (V, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cache.ok && ver <= r.cache.ver {
		var zero V
		return zero, false
	}
	old := r.cache.val
	r.cache = snapshot[V]{val: val, meta: meta, ver: ver, ok: true}
	return old, true
}

// notFound flips the handle into its failed state. The cached value is kept
// so a later recreation can report it as the watch "old"; the version is
// forgotten so any recreated record (even back at version 1) is accepted.
func (r *ref[V]) notFound(op string) error {
	r.mu.Lock()
	was := r.cache.ok
	r.cache.ok = false
	r.mu.Unlock()

	r.hooks.NotFoundObserved(r.key, op)
	if was {
		r.log.Debug("record gone; handle failed until key resolves", Fields{
			"key": r.key, "handle": r.hid, "op": op,
		})
	}
	return &NotFoundError{Key: r.key}
}

func (r *ref[V]) checkCandidate(next V, op string) error {
	r.mu.Lock()
	validate := r.validate
	r.mu.Unlock()
	if validate != nil && !validate(next) {
		r.hooks.ValidatorRejected(r.key, op)
		return &InvalidValueError{Key: r.key, Value: next}
	}
	return nil
}

// notify fires every registered watch synchronously in the calling thread.
// The registry is snapshotted first so callbacks may add or remove watches.
func (r *ref[V]) notify(old, cur V) {
	r.watchMu.RLock()
	if len(r.watches) == 0 {
		r.watchMu.RUnlock()
		return
	}
	ids := make([]string, 0, len(r.watches))
	fns := make([]WatchFunc[V], 0, len(r.watches))
	for id, fn := range r.watches {
		ids = append(ids, id)
		fns = append(fns, fn)
	}
	r.watchMu.RUnlock()

	for i, fn := range fns {
		fn(ids[i], r, old, cur)
	}
}

func (r *ref[V]) encode(v V, meta Meta) (string, error) {
	payload, err := r.codec.Encode(v)
	if err != nil {
		return "", err
	}
	return wire.Encode(payload, meta)
}

func (r *ref[V]) decode(raw string) (V, Meta, error) {
	var zero V
	payload, m, err := wire.Decode(raw)
	if err != nil {
		return zero, nil, fmt.Errorf("key %q: %w", r.key, err)
	}
	v, err := r.codec.Decode(payload)
	if err != nil {
		return zero, nil, fmt.Errorf("duraref: decode key %q: %w", r.key, err)
	}
	if m == nil {
		m = Meta{}
	}
	return v, m, nil
}

func (r *ref[V]) storeErr(err error) error {
	if errors.Is(err, st.ErrBusy) {
		r.hooks.BusyFailure(r.key, err)
		r.log.Warn("store busy beyond timeout", Fields{"key": r.key, "handle": r.hid})
		return &BusyError{Key: r.key, Err: err}
	}
	return err
}

func copyHandleMeta(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyValueMeta(m Meta) Meta {
	out := make(Meta, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
