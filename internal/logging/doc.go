// Package logging provides structured logging for coursechat.
//
// Logger wraps zap with:
//   - a Trace level below Debug
//   - stdout output with an optional OpenTelemetry bridge
//   - correlation fields pulled from context (trace_id, request.id, reference)
//   - key and pattern based secret redaction
//   - sampling below error level
//
// Usage:
//
//	cfg := logging.NewDefaultConfig()
//	logger, err := logging.NewLogger(cfg, nil)
//	if err != nil {
//	    return err
//	}
//	defer logger.Sync()
//
//	ctx = logging.WithReference(ctx, courseID)
//	logger.Info(ctx, "reindexed", zap.Int("content_len", len(content)))
//
// Tests use NewTestLogger and its Assert helpers.
package logging
