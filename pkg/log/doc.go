/*
Package log provides structured logging for Conary using zerolog.

It wraps zerolog to give every subsystem (cas, vfs, txn, resolver, delta,
storage, jobqueue) a component-scoped child logger, a configurable level,
and JSON or console output.

# Usage

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})

	casLog := log.WithComponent("cas")
	casLog.Info().Str("hash", digest).Msg("stored blob")

	txnLog := log.WithComponent("txn").With().Str("txn_id", id).Logger()
	txnLog.Error().Err(err).Msg("recovery failed")

Context loggers (WithTxnID, WithChangesetID, WithJobID) attach the
identifier callers most often need to correlate across a transaction's
lifetime, mirroring WithComponent.

# Conventions

  - Info level in production; Debug is verbose and meant for development.
  - Always attach errors with .Err(err), never string-concatenate them.
  - Never log secrets (scriptlet environment, capability payloads).
*/
package log
