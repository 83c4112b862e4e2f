package telemetry

// Histogram bucket definitions
var (
	// WaitBuckets for MASTER_GTID_WAIT-style position waits, which range
	// from microsecond fast paths to multi-second replication lag.
	WaitBuckets = []float64{0.0001, 0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

	// StoreBuckets for durable row writes (local disk, synced)
	StoreBuckets = []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}
)

// Replication state metrics
var (
	// BinlogGtidsTotal counts GTIDs registered in the binlog state
	BinlogGtidsTotal Counter = NoopStat{}

	// AppliedGtidsTotal counts GTIDs recorded in the slave state
	AppliedGtidsTotal Counter = NoopStat{}

	// DuplicateSkipsTotal counts GTIDs skipped as redundant by the
	// duplicate-suppression check
	DuplicateSkipsTotal Counter = NoopStat{}

	// PendingDeleteRows tracks applied-GTID rows awaiting durable purge
	PendingDeleteRows Gauge = NoopStat{}
)

// Position-wait metrics
var (
	// WaitsTotal counts position waits by result (immediate, satisfied,
	// timeout, cancelled)
	WaitsTotal CounterVec = noopCounterVec{}

	// WaitDurationSeconds measures wall time of non-immediate waits
	WaitDurationSeconds Histogram = NoopStat{}

	// ActiveWaiters tracks registered waiters across all domains
	ActiveWaiters Gauge = NoopStat{}

	// SmallWaitersBlocked tracks waiters suspended in a small wait; at most
	// one per domain by construction
	SmallWaitersBlocked Gauge = NoopStat{}
)

// Durable store metrics
var (
	// StoreWritesTotal counts row writes by result (success, failed)
	StoreWritesTotal CounterVec = noopCounterVec{}

	// StoreWriteSeconds measures row write latency
	StoreWriteSeconds Histogram = NoopStat{}

	// StoreDeletesTotal counts purged rows
	StoreDeletesTotal Counter = NoopStat{}
)

// Filter metrics
var (
	// FilterWarningsTotal counts non-fatal anomalies recorded while
	// filtering GTID streams
	FilterWarningsTotal Counter = NoopStat{}
)

// registerMetrics replaces the noop variables with real Prometheus
// collectors. Called once from InitializeTelemetry.
func registerMetrics() {
	BinlogGtidsTotal = NewCounter("binlog_gtids_total", "GTIDs registered in the binlog state")
	AppliedGtidsTotal = NewCounter("applied_gtids_total", "GTIDs recorded in the slave state")
	DuplicateSkipsTotal = NewCounter("duplicate_skips_total", "GTIDs skipped as already applied")
	PendingDeleteRows = NewGauge("pending_delete_rows", "Applied-GTID rows awaiting durable purge")

	WaitsTotal = NewCounterVec("waits_total", "Position waits by result", []string{"result"})
	WaitDurationSeconds = NewHistogramWithBuckets("wait_duration_seconds", "Position wait latency", WaitBuckets)
	ActiveWaiters = NewGauge("active_waiters", "Registered position waiters")
	SmallWaitersBlocked = NewGauge("small_waiters_blocked", "Waiters suspended in a small wait")

	StoreWritesTotal = NewCounterVec("store_writes_total", "Durable row writes by result", []string{"result"})
	StoreWriteSeconds = NewHistogramWithBuckets("store_write_seconds", "Durable row write latency", StoreBuckets)
	StoreDeletesTotal = NewCounter("store_deletes_total", "Durable rows purged")

	FilterWarningsTotal = NewCounter("filter_warnings_total", "Non-fatal GTID filtering anomalies")
}
