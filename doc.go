// Package duraref implements a durable, versioned atomic reference: a mutable
// cell whose current value lives in a shared SQLite store so that threads and
// independent processes can read and update it with the guarantees of an
// in-process atomic variable. Every mutation goes through an optimistic
// conditional write keyed on a per-record version; the library retries lost
// races, never busy-timeouts.
//
// Components:
//   - store.Store: four-primitive durable backend (point read, version read,
//     insert-if-absent, conditional update) plus key listing/removal.
//     store/sqlite is the SQLite implementation (WAL, busy timeout).
//   - Codec[V]: (de)serializes V <-> []byte. JSON by default; Msgpack, CBOR,
//     Protobuf and raw codecs available.
//   - Ref[V]: one open handle on a keyed record. Per-handle value cache,
//     validator slot, watch registry and handle-local metadata.
//
// Update pattern (what Swap does internally):
//
//	v, ver := load(key)                // current value and version
//	next   := fn(v)                    // pure transform; may run more than once
//	ok     := updateIf(key, next, ver) // version-gated, one SQL statement
//	// ok=false means another writer won; re-read and retry
//
// Many handles, in one process or several, may reference the same record.
// The only cross-process safety mechanism is the store's conditional update.
package duraref
