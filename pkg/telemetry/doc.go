// Package telemetry provides logging, the user console, tracing, metrics and
// events for framegraph.
//
// Structured logs go through zerolog. Output produced by expressions and
// scripts (console.log and friends) lands in a LogService, a bounded buffer
// that collapses immediate repeats from the same source and can mirror every
// entry to the structured log. Frame evaluation, history commits and script
// runs open OpenTelemetry spans and update Prometheus metrics on a private
// registry. History transitions and script outcomes are published as Events.
//
// Typical wiring:
//
//	tel, err := telemetry.NewTelemetry(telemetry.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//	ctx = tel.WithContext(ctx)
//
// Tests and embedders that want none of it use NewNop.
package telemetry
