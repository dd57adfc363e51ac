// Package logger configures grip-based structured logging for the pool.
//
// Every component logs message.Fields maps through a grip.Journaler. The
// process-wide sender is installed once at startup with Setup; components
// that need their own name or threshold create one with New.
//
// # Basic Usage
//
//	threshold, err := logger.ParseLevel("debug")
//	if err != nil {
//	    return err
//	}
//	if err := logger.Setup("hello-pool", threshold); err != nil {
//	    return err
//	}
//
//	grip.Info(message.Fields{
//	    "message": "pool started",
//	    "workers": 4,
//	})
//
// Creating a dedicated journaler:
//
//	j, err := logger.New("scenario", level.Info)
//	j.Warning(message.Fields{"message": "queue is growing", "depth": 512})
//
// # Log Levels
//
// Levels follow grip's syslog-style priorities. ParseLevel accepts the
// names trace, debug, info, notice, warning, error, critical, alert and
// emergency, case-insensitively.
package logger
