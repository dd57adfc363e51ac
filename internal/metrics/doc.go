// Package metrics collects task execution statistics for a worker pool.
//
// Metrics tracks submitted, rejected, completed and panicked tasks, the
// number of live and busy workers, task latency (average and P99) and
// throughput. Every value is mirrored into Prometheus instruments so the
// same numbers are available from an in-process Snapshot and from a
// /metrics scrape.
//
// # Basic Usage
//
//	m := metrics.New()
//	if err := m.Register(prometheus.DefaultRegisterer); err != nil {
//	    return err
//	}
//
//	m.RecordSubmitted()
//	m.TaskStarted()
//	start := time.Now()
//	// ... run the task ...
//	m.RecordCompleted(time.Since(start))
//
//	snap := m.Snapshot()
//	fmt.Printf("Completed: %d, TPS: %.2f, P99: %v\n",
//	    snap.CompletedTasks, snap.TPS, snap.P99Latency)
//
// # Configuration
//
// Use NewWithConfig for custom settings:
//
//	config := metrics.Config{
//	    Namespace:         "hello",
//	    Subsystem:         "pool",
//	    MaxLatencySamples: 5000,
//	}
//	m := metrics.NewWithConfig(config)
//
// # Thread Safety
//
// Counters are atomic and latency samples are guarded by a mutex. All
// operations are safe for concurrent use.
package metrics
