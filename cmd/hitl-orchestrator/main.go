// Command hitl-orchestrator runs the HITL support orchestrator's inbound
// API and control surface, or acts as a thin CLI client against an
// already-running instance's control surface (spec §6.6: status, drain,
// reload-config, with CLI exit codes 0/1/2). Grounded on the teacher's
// examples/*/main.go convention of a single flag-parsed entrypoint that
// wires concrete backends behind the package interfaces and starts an
// http.Server, generalized here with a leading subcommand the way a
// small ops CLI would be structured.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/itsneelabh/hitl-orchestrator/api"
	"github.com/itsneelabh/hitl-orchestrator/contextstore"
	"github.com/itsneelabh/hitl-orchestrator/core"
	"github.com/itsneelabh/hitl-orchestrator/directory"
	"github.com/itsneelabh/hitl-orchestrator/llm"
	"github.com/itsneelabh/hitl-orchestrator/pipeline"
	"github.com/itsneelabh/hitl-orchestrator/queue"
	"github.com/itsneelabh/hitl-orchestrator/resilience"
	"github.com/itsneelabh/hitl-orchestrator/routing"
	"github.com/itsneelabh/hitl-orchestrator/telemetry"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "status", "drain", "reload-config":
			os.Exit(runControlCommand(os.Args[1], os.Args[2:]))
		}
	}
	os.Exit(runServe(os.Args[1:]))
}

// runServe builds every backend from config and starts the inbound API
// and control surface (the default mode, equivalent to the teacher's
// examples/*/main.go "Initialize and Start" bodies).
func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config file (spec §6.7 knobs)")
	addr := fs.String("addr", "", "listen address override, e.g. :8080")
	mockLLM := fs.Bool("mock-llm", true, "use an in-process mock LLM collaborator instead of Bedrock")
	fs.Parse(args)

	configStore, err := core.NewConfigStore(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config validation failed: %v\n", err)
		return 2
	}
	cfg := configStore.Current()

	logger := core.NewProductionLogger(cfg.Logging, cfg.Development, "hitl-orchestrator")
	cal, _ := logger.(core.ComponentAwareLogger)

	if err := configStore.Watch(); err != nil {
		logComponent(cal, logger).Warn("config file watch unavailable, reload-config will still work on demand", map[string]interface{}{"error": err.Error()})
	}
	defer configStore.Close()

	telemetryProfile := telemetry.ProfileProduction
	if cfg.Development.DebugLogging {
		telemetryProfile = telemetry.ProfileDevelopment
	}
	telemetryCfg := telemetry.UseProfile(telemetryProfile)
	telemetryCfg.ServiceName = cfg.Name
	if err := telemetry.Initialize(telemetryCfg); err != nil {
		logComponent(cal, logger).Warn("telemetry initialization failed, spans/metrics will be discarded", map[string]interface{}{"error": err.Error()})
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = telemetry.Shutdown(shutdownCtx)
	}()

	dir, err := buildDirectory(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "directory backend unavailable: %v\n", err)
		return 1
	}
	q, err := buildQueue(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "queue backend unavailable: %v\n", err)
		return 1
	}
	store, err := buildContextStore(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "context store backend unavailable: %v\n", err)
		return 1
	}

	generator, err := buildGenerator(cfg, logger, *mockLLM)
	if err != nil {
		fmt.Fprintf(os.Stderr, "llm collaborator unavailable: %v\n", err)
		return 1
	}

	p := buildPipeline(cfg, dir, q, store, generator, logger)

	ctx, cancelStress := context.WithCancel(context.Background())
	defer cancelStress()
	directory.StartStressTicker(ctx, dir, directory.StressConfig{
		Window:               cfg.Thresholds.WWindow,
		StressBreakThreshold: cfg.Thresholds.TStressBreak,
		BreakMinDuration:     cfg.Thresholds.TBreakMin,
	}, cfg.Thresholds.PStress, logger)

	reqStore := api.NewRequestStore(logger)
	server := api.NewServer(p, reqStore, dir, q, configStore, logger)

	mux := http.NewServeMux()
	server.RegisterRoutes(mux)

	var handler http.Handler = mux
	handler = core.LoggingMiddleware(logger, cfg.Development.DebugLogging)(handler)
	handler = telemetry.TracingMiddleware(cfg.Name)(handler)

	listenAddr := cfg.Address
	if cfg.Port != 0 {
		listenAddr = fmt.Sprintf("%s:%d", cfg.Address, cfg.Port)
	}
	if *addr != "" {
		listenAddr = *addr
	}

	httpServer := &http.Server{Addr: listenAddr, Handler: handler}

	logComponent(cal, logger).Info("hitl-orchestrator starting", map[string]interface{}{
		"addr":      listenAddr,
		"directory": cfg.Directory.Backend,
		"queue":     cfg.Queue.Backend,
		"context":   cfg.ContextStore.Backend,
	})

	serveErr := make(chan error, 1)
	go func() { serveErr <- httpServer.ListenAndServe() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logComponent(cal, logger).Error("server exited", map[string]interface{}{"error": err.Error()})
			return 1
		}
	case <-sigCh:
		logComponent(cal, logger).Info("shutdown signal received, draining", nil)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logComponent(cal, logger).Error("graceful shutdown failed", map[string]interface{}{"error": err.Error()})
			return 1
		}
	}
	return 0
}

func logComponent(cal core.ComponentAwareLogger, fallback core.Logger) core.Logger {
	if cal != nil {
		return cal.WithComponent("cmd")
	}
	return fallback
}

func buildDirectory(cfg *core.Config, logger core.Logger) (directory.Directory, error) {
	if cfg.Directory.Backend == "redis" {
		client, err := core.NewRedisClient(core.RedisClientOptions{
			RedisURL: cfg.Directory.RedisURL, DB: core.RedisDBDirectory,
			Namespace: "directory", Logger: logger,
		})
		if err != nil {
			return nil, err
		}
		return directory.NewRedisDirectory(client, logger), nil
	}
	return directory.NewMemoryDirectory(logger), nil
}

func buildQueue(cfg *core.Config, logger core.Logger) (queue.Queue, error) {
	if cfg.Queue.Backend == "redis" {
		client, err := core.NewRedisClient(core.RedisClientOptions{
			RedisURL: cfg.Queue.RedisURL, DB: core.RedisDBQueue,
			Namespace: "queue", Logger: logger,
		})
		if err != nil {
			return nil, err
		}
		cb := resilience.NewCircuitBreaker(core.CircuitBreakerParams{
			Name: "queue-redis", Config: cfg.Resilience, Logger: logger,
		})
		return queue.NewRedisQueue(client, queue.RedisQueueConfig{Overflow: cfg.Thresholds.QOverflow, CircuitBreaker: cb}, logger), nil
	}
	return queue.NewMemoryQueue(cfg.Thresholds.QOverflow, logger), nil
}

// buildContextStore wires the context-store collaborator (spec §6.3).
// The Redis-backed variant is wrapped in a circuit breaker (spec §5) so a
// struggling Redis instance fails fast into ContextManager's "Timeout in
// Context ⇒ empty context_bundle, pipeline continues" degrade path instead
// of stalling every in-flight Request.
func buildContextStore(cfg *core.Config, logger core.Logger) (contextstore.Store, error) {
	mem, err := contextstore.NewMemoryStore(logger)
	if err != nil {
		return nil, err
	}
	if cfg.ContextStore.Backend == "redis" {
		client, err := core.NewRedisClient(core.RedisClientOptions{
			RedisURL: cfg.ContextStore.RedisURL, DB: core.RedisDBContextStore,
			Namespace: "context", Logger: logger,
		})
		if err != nil {
			return nil, err
		}
		redisStore := contextstore.NewRedisStore(client, mem, logger)
		cb := resilience.NewCircuitBreaker(core.CircuitBreakerParams{
			Name: "context-store-redis", Config: cfg.Resilience, Logger: logger,
		})
		return contextstore.NewCircuitBreakingStore(redisStore, cb), nil
	}
	return mem, nil
}

// buildGenerator wires the LLM collaborator (spec §6.2): a circuit breaker
// guards the collaborator from cascading failure (spec §5), and the
// retrying decorator sits on top of it so each retry attempt goes through
// the breaker and a trip short-circuits the remaining retry budget (spec
// §4.2's N_gen=3 exponential backoff).
func buildGenerator(cfg *core.Config, logger core.Logger, useMock bool) (llm.Generator, error) {
	var base llm.Generator
	if useMock {
		base = llm.NewMockGenerator(llm.GenerateResult{
			Text:       "Thanks for reaching out — here's how we can help.",
			TokensUsed: 42,
		})
	} else {
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(cfg.Collaborator.Region))
		if err != nil {
			return nil, fmt.Errorf("loading AWS config for bedrock: %w", err)
		}
		client := bedrockruntime.NewFromConfig(awsCfg)
		base = llm.NewBedrockGenerator(client, cfg.Collaborator.Model, cfg.Collaborator.MaxTokens, logger)
	}

	cb := resilience.NewCircuitBreaker(core.CircuitBreakerParams{
		Name: "llm-collaborator", Config: cfg.Resilience, Logger: logger,
	})
	guarded := llm.NewCircuitBreakingGenerator(base, cb)

	retryCfg := &resilience.RetryConfig{
		MaxAttempts:   cfg.Collaborator.MaxRetries,
		InitialDelay:  cfg.Collaborator.RetryBaseDelay,
		MaxDelay:      cfg.Collaborator.RetryMaxDelay,
		BackoffFactor: 2.0,
		JitterEnabled: true,
	}
	return llm.NewRetryingGenerator(guarded, retryCfg, logger), nil
}

func buildPipeline(cfg *core.Config, dir directory.Directory, q queue.Queue, store contextstore.Store, generator llm.Generator, logger core.Logger) *pipeline.Pipeline {
	catalog := pipeline.NewCatalog(cfg.Catalog)
	lexicon := pipeline.NewLexicon(cfg.Lexicon)

	automation := pipeline.NewAutomation(catalog, logger)
	chatbot := pipeline.NewChatbot(generator, lexicon, cfg.Collaborator, logger)
	quality := pipeline.NewQualityGate(generator, cfg.Quality, cfg.Thresholds, logger)
	frustration := pipeline.NewFrustrationAnalyzer(lexicon, generator, store, pipeline.DefaultFrustrationWeights(), logger)
	contextMgr := pipeline.NewContextManager(store, generator, cfg.Thresholds.LS, cfg.Thresholds.LTotal, cfg.Thresholds.TRel, logger)

	resolver := routing.NewWeightTableResolver(cfg.Weights)
	scorer := routing.NewScorer(dir, q, resolver, cfg.Thresholds, 3, logger)
	routingStage := pipeline.NewRoutingStage(scorer, logger)

	return pipeline.New(automation, chatbot, quality, frustration, contextMgr, routingStage, logger)
}

// runControlCommand implements the CLI side of spec §6.6's status/drain/
// reload-config operations against a running instance's control surface,
// translating HTTP outcomes into the exit codes spec §6.6 specifies: 0
// on clean drain, 1 on abort/connection failure, 2 on config-validation
// failure.
func runControlCommand(cmd string, args []string) int {
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	target := fs.String("target", "http://localhost:8080", "base URL of the running hitl-orchestrator instance")
	timeout := fs.Duration("timeout", 30*time.Second, "max time to wait for drain to finish")
	fs.Parse(args)

	client := &http.Client{Timeout: 10 * time.Second}

	switch cmd {
	case "status":
		resp, err := client.Get(*target + "/v1/control/status")
		if err != nil {
			fmt.Fprintf(os.Stderr, "status: %v\n", err)
			return 1
		}
		defer resp.Body.Close()
		var out api.ControlStatusResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			fmt.Fprintf(os.Stderr, "status: decoding response: %v\n", err)
			return 1
		}
		encoded, _ := json.MarshalIndent(out, "", "  ")
		fmt.Println(string(encoded))
		return 0

	case "drain":
		req, _ := http.NewRequest(http.MethodPost, *target+"/v1/control/drain", nil)
		resp, err := client.Do(req)
		if err != nil {
			fmt.Fprintf(os.Stderr, "drain: %v\n", err)
			return 1
		}
		resp.Body.Close()

		deadline := time.Now().Add(*timeout)
		for time.Now().Before(deadline) {
			statusResp, err := client.Get(*target + "/v1/control/status")
			if err != nil {
				fmt.Fprintf(os.Stderr, "drain: polling status: %v\n", err)
				return 1
			}
			var out api.ControlStatusResponse
			decodeErr := json.NewDecoder(statusResp.Body).Decode(&out)
			statusResp.Body.Close()
			if decodeErr != nil {
				fmt.Fprintf(os.Stderr, "drain: decoding status: %v\n", decodeErr)
				return 1
			}
			if out.InFlightRequests == 0 {
				fmt.Println("drain complete, no in-flight requests remain")
				return 0
			}
			time.Sleep(time.Second)
		}
		fmt.Fprintf(os.Stderr, "drain: timed out after %s with in-flight requests remaining\n", *timeout)
		return 1

	case "reload-config":
		req, _ := http.NewRequest(http.MethodPost, *target+"/v1/control/reload-config", nil)
		resp, err := client.Do(req)
		if err != nil {
			fmt.Fprintf(os.Stderr, "reload-config: %v\n", err)
			return 1
		}
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusUnprocessableEntity {
			var out api.ErrorResponse
			json.NewDecoder(resp.Body).Decode(&out)
			fmt.Fprintf(os.Stderr, "reload-config: validation failed: %s\n", out.Error)
			return 2
		}
		if resp.StatusCode != http.StatusOK {
			fmt.Fprintf(os.Stderr, "reload-config: unexpected status %d\n", resp.StatusCode)
			return 1
		}
		fmt.Println("reload-config: ok")
		return 0
	}
	return 1
}
