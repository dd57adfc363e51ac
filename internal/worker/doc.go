// Package worker provides a fixed-size goroutine pool for one-shot tasks.
//
// A Pool owns a set of workers that compete for items on a shared work
// channel. Every submitted Task is executed by exactly one worker, exactly
// once. Shutdown is explicit: Close enqueues one terminate signal per
// worker and only then joins the workers in order, so a worker still busy
// with a long task can never have its signal taken by an idle peer and
// leave Close waiting forever.
//
// # Basic Usage
//
//	pool, err := worker.NewPool(4) // 4 workers
//	if err != nil {
//	    return err
//	}
//	defer pool.Close()
//
//	for i := 0; i < 100; i++ {
//	    if err := pool.Submit(func() {
//	        // do work
//	    }); err != nil {
//	        return err
//	    }
//	}
//
// # Configuration
//
// Use NewPoolWithConfig for custom settings:
//
//	config := worker.DefaultPoolConfig()
//	config.NumWorkers = 8
//	config.QueueSize = 1024 // Submit blocks once 1024 tasks are waiting
//	config.PanicPolicy = worker.PanicStop
//	config.Metrics = metrics.New()
//	pool, err := worker.NewPoolWithConfig(config)
//
// The work channel is unbounded when QueueSize is zero.
//
// # Failures
//
// A pool size below one is rejected with ErrInvalidPoolSize. Submit reports
// ErrChannelClosed once the pool is closed or every worker has exited. A
// panicking task is recovered and reported; under PanicStop the worker that
// ran it also exits and the failure is returned from Close. Close always
// joins every worker before returning.
package worker
