// Package logger provides the structured logger used across igfeed.
//
// It wraps zerolog behind a small Logger interface so that components receive
// a logger explicitly and tests can swap in NewNopLogger or NewTestLogger.
//
//	log := logger.GetLogger().WithFields(map[string]interface{}{
//	    "identity": "acc1",
//	    "target":   "alice",
//	})
//	log.Info("run started")
//
// Console output is human readable unless logging.format is "json". When
// logging.file is set, JSON lines are also appended to that file.
package logger
