// Package search binds an editable search box to a canonical value owned
// elsewhere and reports the debounced text.
package search

import (
	"time"

	"go.uber.org/zap"

	"github.com/trade-engine/log-dashboard/internal/debounce"
)

// DefaultDelay is the settle delay used by the dashboard search box.
const DefaultDelay = 300 * time.Millisecond

// Binder has two inputs, Set (user edit) and Sync (canonical value observed),
// and one delayed output, the onChange callback.
type Binder struct {
	logger *zap.Logger

	// guarded by value's lock, see Sync
	lastCanonical string
	value         *debounce.Value[string]
}

// NewBinder starts with the live value equal to canonical. onChange receives
// every settled value, including repeats of the previous one.
func NewBinder(logger *zap.Logger, canonical string, delay time.Duration, onChange func(string), opts ...debounce.Option) *Binder {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Binder{
		logger:        logger,
		lastCanonical: canonical,
	}
	b.value = debounce.New(canonical, delay, func(settled string) {
		b.logger.Debug("Search settled", zap.String("value", settled))
		if onChange != nil {
			onChange(settled)
		}
	}, opts...)
	return b
}

// Value is the live, un-debounced text for the input box.
func (b *Binder) Value() string {
	return b.value.Live()
}

// Settled is the last value that made it through the debounce.
func (b *Binder) Settled() string {
	return b.value.Settled()
}

// Set records a user edit.
func (b *Binder) Set(v string) {
	b.value.Set(v)
}

// Sync is called with the canonical value whenever the owner may have changed
// it. Only a value different from the last one observed overwrites the live
// text, so calling Sync on every refresh does not clobber user edits. A
// canonical value that already matches the live text is only recorded, which
// keeps the owner echoing a settled value back from rescheduling it.
func (b *Binder) Sync(canonical string) {
	reset := b.value.Update(func(live string) (string, bool) {
		if canonical == b.lastCanonical {
			return live, false
		}
		b.lastCanonical = canonical
		return canonical, canonical != live
	})
	if reset {
		b.logger.Debug("Search reset from canonical value", zap.String("value", canonical))
	}
}

// Close cancels any pending settle; onChange is not called afterwards.
func (b *Binder) Close() {
	b.value.Close()
}
