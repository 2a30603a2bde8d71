// Package observability wires OpenTelemetry tracing and an operation duration
// histogram, tagged by outcome, for appdev.
//
// Telemetry is opt-in. With it disabled every helper still works against the
// global no-op providers:
//
//	p := observability.Disabled()
//	ctx, done := p.TrackOperation(ctx, "devsession.build", observability.Extension(ext.Handle, ext.Type())...)
//	err := build(ctx)
//	done(err)
//
// With an OTLP collector available:
//
//	p, err := observability.New(ctx, &observability.Config{Enabled: true, OTLPEndpoint: "localhost:4317", Insecure: true})
//	defer p.Shutdown(ctx)
package observability
