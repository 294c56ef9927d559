/*
Package log provides structured logging for agenthub using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging
with component-specific loggers and configurable levels. Until Init is called
the global Logger discards everything, so packages can be used from tests
without producing output.

# Fields

Loggers carry a component field. Connection-scoped loggers add conn_id and
role, and events about a producer or session carry instance_id and
session_id, so one agent's activity can be filtered across components.

# Usage

Initializing the Logger:

	log.Init(log.Config{
		Level:      log.ParseLevel(cfg.Log.Level),
		JSONOutput: cfg.Log.JSON,
		Output:     os.Stderr,
	})

Component Loggers:

	hubLog := log.WithComponent("hub")
	hubLog.Info().Str("instance_id", id).Msg("Producer registered")

Component loggers capture the global logger at the moment they are created.
Call Init before constructing the registry, hub or API server.

# Log Output Examples

JSON Format (Production):

	{"level":"info","component":"hub","instance_id":"inst-1","time":"2026-10-15T10:30:00Z","message":"Producer registered"}

Console Format (Development):

	2026-10-15T10:30:00Z INF Producer registered component=hub instance_id=inst-1
*/
package log
