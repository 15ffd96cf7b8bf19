// Package temporal implements engine.Engine on top of Temporal
// (https://temporal.io).
//
// The adapter registers the invoke activity and turn workflows on per-queue
// workers, installs the OpenTelemetry tracing interceptor and metrics handler
// on the client and workers, and propagates task correlation (task ID, trace
// ID, parent span ID) from callers to workflows and from workflows to
// activities through Temporal headers.
//
//	eng, err := temporal.New(temporal.Options{
//	    ClientOptions: &client.Options{
//	        HostPort:  "temporal:7233",
//	        Namespace: "default",
//	    },
//	    WorkerOptions: temporal.WorkerOptions{TaskQueue: "agentex"},
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer eng.Close()
//
// Activity contexts carry an engine.Heartbeater backed by
// activity.RecordHeartbeat, so engine.Heartbeat reaches the Temporal server
// when called from the invoke activity and is a no-op elsewhere.
package temporal
