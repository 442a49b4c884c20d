// Command ash-server runs a demo HTTP server exercising the ASH protocol
// engine: issuing contexts, protecting an example endpoint with them, and
// exposing liveness/metrics for operators.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/3meam/ash/pkg/api"
	"github.com/3meam/ash/pkg/ash"
	"github.com/3meam/ash/pkg/ashstore"
	"github.com/3meam/ash/pkg/auth"
	"github.com/3meam/ash/pkg/config"
	"github.com/3meam/ash/pkg/identity"
	"github.com/3meam/ash/pkg/kernel"
	"github.com/3meam/ash/pkg/observability"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// startServer is a variable to allow mocking in tests.
var startServer = runServer

// Run is the entrypoint for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		startServer()
		return 0
	}

	switch args[1] {
	case "server", "serve":
		startServer()
		return 0
	case "health":
		return runHealthCmd(stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "ash-server")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "USAGE:")
	fmt.Fprintln(w, "  ash-server <command>")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "COMMANDS:")
	fmt.Fprintln(w, "  server   Run the ash-server (default)")
	fmt.Fprintln(w, "  health   Check server health over HTTP")
	fmt.Fprintln(w, "  help     Show this message")
}

func runHealthCmd(stdout, stderr io.Writer) int {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	resp, err := http.Get(fmt.Sprintf("http://localhost:%s/healthz", port))
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "health check failed: %v\n", err)
		return 1
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = fmt.Fprintf(stderr, "health check returned status %d\n", resp.StatusCode)
		return 1
	}
	_, _ = fmt.Fprintln(stdout, "ok")
	return 0
}

func runServer() {
	ctx := context.Background()
	logger := slog.Default()
	cfg := config.Load()

	obs, err := observability.New(ctx, &observability.Config{
		ServiceName:    cfg.ServiceName,
		ServiceVersion: cfg.ServiceVersion,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		Enabled:        cfg.ObservabilityOn,
		Insecure:       true,
	})
	if err != nil {
		log.Fatalf("failed to init observability: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = obs.Shutdown(shutdownCtx)
	}()

	var store ash.ContextStore
	switch cfg.StoreBackend {
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		store = ashstore.NewRedisStore(client)
		logger.Info("ash: using redis context store", "addr", cfg.RedisAddr)
	default:
		store = ashstore.NewMemoryStore()
		logger.Info("ash: using in-memory context store")
	}

	var limiterStore kernel.LimiterStore
	if cfg.StoreBackend == "redis" {
		limiterStore = kernel.NewRedisLimiterStore(cfg.RedisAddr, "", 0)
	} else {
		limiterStore = kernel.NewInMemoryLimiterStore()
	}
	rateLimitPolicy := kernel.BackpressurePolicy{RPM: 600, Burst: 20}

	engine := ash.New(store, &ash.Config{
		DefaultTTL:      cfg.DefaultTTL,
		DefaultMode:     ash.Mode(cfg.DefaultMode),
		DefaultProtocol: ash.Protocol(cfg.DefaultProtocol),
		RateLimiter:     limiterStore,
		RateLimitPolicy: rateLimitPolicy,
		Observability:   obs,
	})

	keySet, err := identity.NewInMemoryKeySet()
	if err != nil {
		log.Fatalf("failed to init identity keyset: %v", err)
	}
	jwtValidator := auth.NewJWTValidator(keySet)
	authMiddleware := auth.NewMiddleware(jwtValidator)
	idempotencyStore := api.NewIdempotencyStore(10 * time.Minute)

	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	issueHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleIssueContext(w, r, engine)
	})
	idempotencyScope := func(r *http.Request) string {
		return auth.ActorID(r.Context(), r.RemoteAddr)
	}
	// issue_context's own per-actor rate limiting runs inside engine.IssueContext
	// (Config.RateLimiter), so this route does not also wrap auth.RateLimitMiddleware
	// around it — doing both would spend two tokens from the same bucket per request.
	mux.Handle("/ash/context", authMiddleware(api.IdempotencyMiddleware(idempotencyStore, idempotencyScope)(issueHandler)))

	echoHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	})
	mux.Handle("/ash/demo/echo", engine.Protect(echoHandler, writeAshError))

	globalLimiter := api.NewGlobalRateLimiter(50, 100)
	var handler http.Handler = auth.RequestIDMiddleware(auth.CORSMiddleware(nil)(globalLimiter.Middleware(mux)))

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: handler,
	}

	go func() {
		logger.Info("ash-server: listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("ash-server: listen failed", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("ash-server: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func handleIssueContext(w http.ResponseWriter, r *http.Request, engine *ash.Ash) {
	if r.Method != http.MethodPost {
		api.WriteMethodNotAllowed(w)
		return
	}

	var req struct {
		Binding  string            `json:"binding"`
		Mode     string            `json:"mode"`
		Protocol string            `json:"protocol"`
		TTLMs    int64             `json:"ttlMs"`
		Metadata map[string]string `json:"metadata"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteBadRequest(w, "invalid JSON body")
		return
	}

	opts := ash.IssueContextOptions{
		Binding:  req.Binding,
		Mode:     ash.Mode(req.Mode),
		Protocol: ash.Protocol(req.Protocol),
		Metadata: req.Metadata,
		ActorID:  auth.ActorID(r.Context(), r.RemoteAddr),
	}
	if req.TTLMs > 0 {
		opts.TTL = time.Duration(req.TTLMs) * time.Millisecond
	}

	info, err := engine.IssueContext(r.Context(), opts)
	if err != nil {
		api.WriteBadRequest(w, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(info)
}

// writeAshError adapts ash.ErrorResponder to api.WriteErrorCode's RFC 7807
// format, so a rejected verify surfaces a Type URI keyed by its specific
// ash.ErrorCode (e.g. .../errors/ASH_REPLAY_DETECTED) rather than just its
// shared HTTP status.
func writeAshError(w http.ResponseWriter, status int, code ash.ErrorCode, message string) {
	api.WriteErrorCode(w, status, string(code), message)
}
