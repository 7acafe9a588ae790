// Package telemetry provides OpenTelemetry instrumentation for reviewd.
//
// It manages the tracer and meter providers, OTLP export over gRPC or
// HTTP, and graceful shutdown. Export failures never crash a review run;
// the instance degrades to no-op providers instead.
//
// # Usage
//
//	tel, err := telemetry.New(ctx, &cfg.Telemetry)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	tracer := tel.Tracer("reviewd.review")
//	ctx, span := tracer.Start(ctx, "run")
//	defer span.End()
//
// # Testing
//
// NewTestTelemetry returns an instance backed by in-memory span and
// metric recorders for assertions.
package telemetry
