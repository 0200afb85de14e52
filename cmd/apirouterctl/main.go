// Command apirouterctl is a small demonstration harness for the two
// substrates this module implements: the composed HTTP request pipeline
// (internal/httpconfig + internal/httpcontext) and the MFP/MDP multiplex
// dispatcher (internal/dispatch + internal/endpoint) run over a loopback
// transport pair.
package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/AlexLonberg/js-api-router/internal/dispatch"
	"github.com/AlexLonberg/js-api-router/internal/endpoint"
	"github.com/AlexLonberg/js-api-router/internal/httpconfig"
	"github.com/AlexLonberg/js-api-router/internal/httpcontext"
	"github.com/AlexLonberg/js-api-router/internal/mdp"
	"github.com/AlexLonberg/js-api-router/internal/queue"
	"github.com/AlexLonberg/js-api-router/internal/telemetry"
	"github.com/AlexLonberg/js-api-router/internal/transport"
)

var version = "0.1.0-dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	logger := setupLogger()

	switch os.Args[1] {
	case "http":
		runHTTPDemo(logger)
	case "mdp":
		runMDPDemo(logger)
	case "metrics":
		runMetricsServer(logger)
	case "version":
		fmt.Printf("apirouterctl v%s\n", version)
	case "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func setupLogger() *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	return slog.New(handler)
}

// echoExecutor stands in for a real network-performing Executor
// middleware: a live deployment registers one that actually makes the
// call. It satisfies httpconfig.Middleware the same way every other
// pipeline stage does (a Kind plus a Process).
type echoExecutor struct{}

func (echoExecutor) Kind() string { return "echo" }
func (echoExecutor) Process(ctx httpconfig.Ctx, value interface{}) (interface{}, error) {
	return map[string]interface{}{"echo": value, "attempt": ctx.Attempt()}, nil
}

// runHTTPDemo composes an endpoint config from a registered executor and
// drives one request through httpcontext's preprocessor/executor/
// postprocessor pipeline.
func runHTTPDemo(logger *slog.Logger) {
	regs := httpconfig.NewRegistries()
	if err := regs.Middleware.Register("echo", echoExecutor{}); err != nil {
		logger.Error("register middleware", "error", err)
		os.Exit(1)
	}
	regs.Freeze()

	metrics := telemetry.New()
	nq := queue.NewNamedAsyncQueue(logger)
	nq.SetMetrics(metrics)

	resolved, err := httpconfig.Compose(regs, httpconfig.EndpointOptions{
		Kind:           httpconfig.Set("fetch"),
		ContextFactory: httpconfig.Set("default"),
		Executor:       httpconfig.Set(httpconfig.ByName("echo")),
		Preprocessor:   httpconfig.Set(httpconfig.NewChain()),
		Postprocessor:  httpconfig.Set(httpconfig.NewChain()),
		Errorprocessor: httpconfig.Set(httpconfig.NewChain()),
		Retries:        httpconfig.Set(2),
	})
	if err != nil {
		logger.Error("compose endpoint config", "error", err)
		os.Exit(1)
	}

	rc := httpcontext.New(resolved, httpcontext.Options{
		Value:      map[string]string{"ping": "pong"},
		Queue:      nq,
		Middleware: regs.Middleware,
		Metrics:    metrics,
	})
	if err := rc.Run(); err != nil {
		logger.Error("run request", "error", err)
		os.Exit(1)
	}
	res := rc.Wait()
	logger.Info("http demo finished", "requestID", rc.RequestID(), "ok", res.OK, "value", res.Value, "err", res.Err)
}

// runMDPDemo wires two dispatchers over an in-process loopback transport
// pair, registers a "calculator" endpoint on the server side, and sends
// one request from the client side.
func runMDPDemo(logger *slog.Logger) {
	metrics := telemetry.New()
	clientTransport, serverTransport := transport.NewLoopbackPair()

	server := dispatch.New(dispatch.Options{
		Transport: serverTransport,
		Logger:    logger.With("side", "server"),
		Metrics:   metrics,
	})
	client := dispatch.New(dispatch.Options{
		Transport: clientTransport,
		Logger:    logger.With("side", "client"),
		Metrics:   metrics,
	})

	var calcHandle *endpoint.Handle
	calcHandle = endpoint.New(server, "calculator", endpoint.Options{
		OnRequest: func(reqCtx *dispatch.Context, rec *mdp.Record) {
			in, _ := rec.Data.(map[string]interface{})
			sum := asInt(in["a"]) + asInt(in["b"])
			calcHandle.Respond(reqCtx, mdp.Record{Data: map[string]interface{}{"sum": sum}})
		},
	})

	clientTransport.Enable(true)
	serverTransport.Enable(true)

	clientHandle := endpoint.New(client, "calculator", endpoint.Options{})
	reqCtx := clientHandle.Request(mdp.Record{Endpoint: "calculator", Data: map[string]interface{}{"a": 2, "b": 3}}, dispatch.SendOptions{NeedAck: true})
	value, err := reqCtx.Result()
	logger.Info("mdp demo finished", "value", value, "err", err)
}

func runMetricsServer(logger *slog.Logger) {
	metrics := telemetry.New()
	addr := ":9090"
	if len(os.Args) > 2 {
		addr = os.Args[2]
	}
	logger.Info("serving prometheus metrics", "address", addr)
	srv := &http.Server{Addr: addr, Handler: metrics.Handler()}
	if err := srv.ListenAndServe(); err != nil {
		logger.Error("metrics server stopped", "error", err)
	}
}

// asInt accepts the numeric shapes a msgpack-decoded interface{} value can
// take (the sized integer types msgpack decodes into after a round trip over
// the wire, plain int for values never serialized, float64) and returns 0
// for anything else.
func asInt(v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case int8:
		return int(n)
	case int16:
		return int(n)
	case int32:
		return int(n)
	case int64:
		return int(n)
	case uint8:
		return int(n)
	case uint16:
		return int(n)
	case uint32:
		return int(n)
	case uint64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

func printUsage() {
	fmt.Println(`apirouterctl - demo harness for the HTTP pipeline and MFP/MDP dispatcher

Usage:
  apirouterctl <command> [options]

Commands:
  http      Run one request through the composed HTTP pipeline
  mdp       Run a request/response exchange over a loopback MDP dispatcher pair
  metrics   Serve the Prometheus /metrics endpoint [addr]
  version   Show version
  help      Show this help`)
}
