// Package logging builds the zap logger shared by the codeqa CLI and server.
//
// Log lines go to stderr so command output on stdout stays machine readable.
// An optional OpenTelemetry core mirrors entries to the configured log
// provider, and a redacting encoder masks credential fields before they
// reach any writer.
//
// Request-scoped correlation (request id, repository ids, trace and span
// ids) travels in the context:
//
//	ctx = logging.WithRequestID(ctx, id)
//	ctx = logging.WithRepoIDs(ctx, ids)
//	logger.Info(ctx, "query answered", zap.Int("citations", n))
//
// Packages that only need a plain *zap.Logger take Logger.Underlying().
package logging
