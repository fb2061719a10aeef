// Package logger wraps zerolog behind a small field-oriented interface.
//
// Passes and engines take a Logger explicitly; the package-level functions
// write through a global instance set up by Initialize:
//
//	if err := logger.Initialize(&cfg.Logging); err != nil {
//	    return err
//	}
//	logger.WithField("namespace", ns).Info("Scoring pass started")
//
// Tests use NewTestLogger to capture and assert on log calls, or
// NewNopLogger to discard them.
package logger
