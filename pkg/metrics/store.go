package metrics

import "time"

// StoreMetrics provides observability for the shared append-only store.
type StoreMetrics interface {
	// RecordAppend records one append attempt by source ("client", "timestamp").
	// err is nil on success.
	RecordAppend(source string, bytes int, err error)

	// RecordEcho records a full-store echo sent to one client.
	RecordEcho(bytes int64, duration time.Duration)

	// RecordLockWait records how long a caller waited for the store mutex.
	RecordLockWait(wait time.Duration)

	// SetSize updates the current store size in bytes.
	SetSize(bytes int64)
}

// NewNoopStoreMetrics returns a StoreMetrics that discards everything.
func NewNoopStoreMetrics() StoreMetrics {
	return noopStoreMetrics{}
}

type noopStoreMetrics struct{}

func (noopStoreMetrics) RecordAppend(string, int, error) {}
func (noopStoreMetrics) RecordEcho(int64, time.Duration) {}
func (noopStoreMetrics) RecordLockWait(time.Duration)    {}
func (noopStoreMetrics) SetSize(int64)                   {}
