package sloghooks

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"

	"github.com/unkn0wn-root/duraref"
)

type Options struct {
	// Sampling to avoid floods under heavy contention; 0/1 = log all.
	ConflictEvery uint64
	NotFoundEvery uint64
	// Optional key redactor. Defaults to SHA-256 prefix.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	conflictCtr atomic.Uint64
	notFoundCtr atomic.Uint64
}

var _ duraref.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) ConflictRetried(key string, attempt int) {
	if h.l == nil || !sample(h.opts.ConflictEvery, &h.conflictCtr) {
		return
	}
	h.l.Debug("duraref.conflict_retried",
		"key", h.redact(key),
		"attempt", attempt)
}

func (h *Hooks) BusyFailure(key string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("duraref.busy_failure",
		"key", h.redact(key),
		"err", err)
}

func (h *Hooks) ValidatorRejected(key, op string) {
	if h.l == nil {
		return
	}
	h.l.Info("duraref.validator_rejected",
		"key", h.redact(key),
		"op", op)
}

func (h *Hooks) NotFoundObserved(key, op string) {
	if h.l == nil || !sample(h.opts.NotFoundEvery, &h.notFoundCtr) {
		return
	}
	h.l.Info("duraref.not_found_observed",
		"key", h.redact(key),
		"op", op)
}
