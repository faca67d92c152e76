// Package telemetry provides observability instrumentation for kiln:
// structured logging (zerolog), distributed tracing (OpenTelemetry),
// Prometheus metrics, and an async event stream.
//
// Initialize at startup and attach to the context:
//
//	cfg := telemetry.DefaultConfig()
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
//	ctx = tel.WithContext(ctx)
//
// Component loggers carry structured fields through the execution path:
//
//	logger := tel.Logger.NewComponentLogger("executor")
//	logger.WithRunID(runID).WithArtifactID(id).Info("artifact started")
//
// Subscribers observe the event stream with optional filters:
//
//	tel.Events.Subscribe(func(event telemetry.Event) {
//	    fmt.Printf("%s: %s\n", event.Type, event.Message)
//	}, telemetry.FilterByLevel("warning"))
package telemetry
