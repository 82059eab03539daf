// Package trace is the span tracer of the specialization engine and the
// vlbdb command.
//
// Spans and points are tagged with a Scope. The tracer's Level decides which
// scopes are recorded:
//
//	phase   driver, unit and specialize scopes
//	detail  adds optimizer runs and finishing passes
//	debug   adds per-instruction folds, call rewrites and inlines
//
// Events go to a writer as they happen (stream mode), into a fixed-size
// in-memory ring for post-mortem inspection (ring mode), or both. A tracer
// travels through a context:
//
//	ctx = trace.WithTracer(ctx, t)
//	span := trace.Begin(trace.FromContext(ctx), trace.ScopeUnit, "register", 0)
//	defer span.End("add")
package trace
