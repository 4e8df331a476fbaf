// Package telemetry sets up OpenTelemetry tracing and metrics for codeqa.
//
// New installs global tracer and meter providers backed by OTLP exporters
// (gRPC or HTTP/protobuf). Packages create their tracers and meters from
// the globals, so nothing else needs a handle on Telemetry:
//
//	tel, err := telemetry.New(ctx, cfg, logger)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
// Exporter failures degrade telemetry instead of failing the command.
//
// Tests use NewTestTelemetry, which records spans in memory and collects
// metrics through a manual reader.
package telemetry
