/*
Package log provides structured logging for gridbalance using zerolog.

The package wraps a single global zerolog.Logger. Until Init is called the
logger discards everything, which keeps the balancing packages silent when
they are embedded as a library. The gridnode binary calls Init once at
startup.

# Levels

  - debug: per-pick and per-pass decisions, dropped steal requests
  - info: lifecycle (node joined, transport connected)
  - warn: conditions worth attention (steal request publish failed)
  - error: configuration and storage failures

# Usage

	log.Init(log.Config{
		Level:      log.ParseLevel("debug"),
		JSONOutput: true,
		Output:     os.Stderr,
	})

	logger := log.WithComponent("adaptive")
	logger.Debug().
		Str("session_id", session.ID()).
		Str("node_id", node.ID).
		Msg("picked node")

Component loggers capture the global logger at the time they are created,
so components must be constructed after Init.
*/
package log
