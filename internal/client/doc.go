// Package client provides a load generator that submits synthetic tasks to a
// worker pool.
//
// The Client stands in for a request-accepting loop: it submits one task per
// simulated request at a configurable rate, optionally leading with slow
// tasks and mixing in tasks that panic. It counts what was submitted,
// refused and actually executed.
//
// # Basic Usage
//
//	pool, _ := worker.NewPool(4)
//
//	config := client.DefaultConfig()
//	config.Tasks = 1000
//	config.PanicRatio = 0.01 // 1% of tasks panic
//	cl := client.New(pool, config)
//
//	stats, err := cl.Run(ctx)
//	_ = pool.Close()
//	fmt.Printf("Submitted: %d, Executed: %d\n", stats.Submitted, cl.Executed())
//
// # Configuration
//
// The Config struct allows tuning:
//   - Tasks: number of tasks to submit (0 = until ctx is done)
//   - Rate: submissions per second (0 = as fast as the pool accepts)
//   - TaskDuration: simulated work per task
//   - SlowTasks / SlowTaskDuration: long tasks submitted first
//   - PanicRatio: fraction of tasks that panic (0.0 to 1.0)
package client
