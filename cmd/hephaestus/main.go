package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hephaestus-forge/hephaestus/pkg/api"
	"github.com/hephaestus-forge/hephaestus/pkg/audit"
	"github.com/hephaestus-forge/hephaestus/pkg/auth"
	"github.com/hephaestus-forge/hephaestus/pkg/config"
	"github.com/hephaestus-forge/hephaestus/pkg/drift"
	"github.com/hephaestus-forge/hephaestus/pkg/keystore"
	"github.com/hephaestus-forge/hephaestus/pkg/plugins"
	"github.com/hephaestus-forge/hephaestus/pkg/rpc"
	"github.com/hephaestus-forge/hephaestus/pkg/service"
	"github.com/hephaestus-forge/hephaestus/pkg/tasks"
	"github.com/hephaestus-forge/hephaestus/pkg/telemetry"
)

const version = "0.1.0"

// Dispatcher
func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		return runServe(stderr)
	}

	switch args[1] {
	case "serve", "server":
		return runServe(stderr)
	case "keygen":
		return runKeygen(args[2:], stdout, stderr)
	case "token":
		return runToken(args[2:], stdout, stderr)
	case "health":
		return runHealth(stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		if args[1][0] == '-' {
			return runServe(stderr)
		}
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "Hephaestus %s\n", version)
	fmt.Fprintln(w, "Quality-gate automation service")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "USAGE:")
	fmt.Fprintln(w, "  hephaestus <command> [flags]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "COMMANDS:")
	fmt.Fprintln(w, "  serve     Run the REST and gRPC servers (default)")
	fmt.Fprintln(w, "  keygen    Generate a service-account keystore entry")
	fmt.Fprintln(w, "  token     Mint a bootstrap bearer token from the keystore")
	fmt.Fprintln(w, "  health    Check server health over HTTP")
	fmt.Fprintln(w, "  help      Show this help")
	fmt.Fprintln(w, "")
}

func runServe(stderr io.Writer) int {
	cfg := config.Load()
	logger, runID := telemetry.NewLogger(cfg.LogFormat, os.Stdout)
	logger.Info("starting hephaestus", "version", version, "run_id", runID)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ks, err := keystore.Load(cfg.KeystorePath)
	if err != nil {
		logger.Error("failed to load keystore", "path", cfg.KeystorePath, "error", err)
		return 1
	}
	verifier := keystore.NewVerifier(ks)
	emitter := telemetry.NewEmitter(logger)
	metrics := telemetry.NewMetrics(cfg.TelemetryEnabled)

	tracing, err := telemetry.NewTracing(ctx, telemetry.TracingConfig{
		ServiceName:  cfg.ServiceName,
		OTLPEndpoint: cfg.OTLPEndpoint,
	}, logger)
	if err != nil {
		logger.Error("failed to initialise tracing", "error", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tracing.Shutdown(shutdownCtx)
	}()

	index, err := audit.OpenIndex(cfg.AuditLogDir+"/audit-index.db", logger)
	if err != nil {
		logger.Error("failed to open audit index", "error", err)
		return 1
	}
	defer index.Close()

	sink, err := audit.NewSink(cfg.AuditLogDir, emitter, index)
	if err != nil {
		logger.Error("failed to open audit sink", "dir", cfg.AuditLogDir, "error", err)
		return 1
	}

	engine, err := plugins.NewEngine(plugins.EngineOptions{
		ConfigPath:      cfg.PluginConfigPath,
		MarketplaceRoot: cfg.MarketplaceRoot,
		HostVersion:     version,
		Emitter:         emitter,
		Metrics:         metrics,
	})
	if err != nil {
		logger.Error("failed to build plugin engine", "error", err)
		return 1
	}

	manager := tasks.NewManager(tasks.Options{
		Capacity:       cfg.TaskCapacity,
		Retention:      cfg.TaskRetention,
		DefaultTimeout: cfg.TaskTimeout,
	}, emitter)

	svc := service.New(service.Options{
		Config:   cfg,
		Keystore: ks,
		Tasks:    manager,
		Plugins:  engine,
		Drift:    drift.NewDetector(cfg.ToolchainManifest, emitter),
		Audit:    sink,
		Emitter:  emitter,
		Metrics:  metrics,
		Logger:   logger,
	})

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.NewServer(svc, verifier, logger, version).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	grpcServer := rpc.NewGRPCServer(rpc.NewServer(svc, logger), verifier)

	errCh := make(chan error, 3)

	go func() {
		logger.Info("http server listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	go func() {
		addr := fmt.Sprintf(":%d", cfg.GRPCPort)
		lis, err := net.Listen("tcp", addr)
		if err != nil {
			errCh <- fmt.Errorf("grpc listen: %w", err)
			return
		}
		logger.Info("grpc server listening", "addr", addr)
		if err := grpcServer.Serve(lis); err != nil {
			errCh <- fmt.Errorf("grpc server: %w", err)
		}
	}()

	if metrics.Enabled() {
		go func() {
			if err := metrics.Serve(ctx, cfg.PrometheusHost, cfg.PrometheusPort, logger); err != nil {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		logger.Error("server failed", "error", err)
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
	grpcServer.GracefulStop()
	logger.Info("shutdown complete")
	return 0
}

// runKeygen emits a keystore entry with a fresh random secret. The
// output is a full keystore file ready to write to disk.
func runKeygen(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("keygen", flag.ContinueOnError)
	fs.SetOutput(stderr)
	keyID := fs.String("key-id", "", "key identifier (required)")
	principal := fs.String("principal", "", "principal name (required)")
	roles := fs.String("roles", "", "comma-separated roles (required)")
	ttl := fs.Duration("ttl", 0, "key lifetime; zero means no expiry")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *keyID == "" || *principal == "" || *roles == "" {
		_, _ = fmt.Fprintln(stderr, "keygen requires --key-id, --principal and --roles")
		return 2
	}
	for _, role := range strings.Split(*roles, ",") {
		if _, ok := auth.KnownRoles[auth.Role(strings.TrimSpace(role))]; !ok {
			_, _ = fmt.Fprintf(stderr, "unknown role %q\n", role)
			return 2
		}
	}

	secret := make([]byte, 48)
	if _, err := rand.Read(secret); err != nil {
		_, _ = fmt.Fprintf(stderr, "failed to generate secret: %v\n", err)
		return 1
	}

	record := map[string]any{
		"key_id":    *keyID,
		"principal": *principal,
		"roles":     strings.Split(*roles, ","),
		"secret":    base64.RawURLEncoding.EncodeToString(secret),
	}
	if *ttl > 0 {
		record["expires_at"] = time.Now().UTC().Add(*ttl).Format(time.RFC3339)
	}

	out, _ := json.MarshalIndent(map[string]any{"keys": []any{record}}, "", "  ")
	_, _ = fmt.Fprintln(stdout, string(out))
	return 0
}

// runToken mints a bearer token from an existing keystore.
func runToken(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(stderr)
	keyID := fs.String("key-id", "", "key identifier (required)")
	roles := fs.String("roles", "", "comma-separated roles to grant (required)")
	ttl := fs.Duration("ttl", time.Hour, "token lifetime")
	keystorePath := fs.String("keystore", "", "keystore path (defaults to configuration)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *keyID == "" || *roles == "" {
		_, _ = fmt.Fprintln(stderr, "token requires --key-id and --roles")
		return 2
	}

	path := *keystorePath
	if path == "" {
		path = config.Load().KeystorePath
	}
	ks, err := keystore.Load(path)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "failed to load keystore: %v\n", err)
		return 1
	}

	token, err := ks.MintToken(*keyID, auth.RolesFromStrings(strings.Split(*roles, ",")), *ttl)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "failed to mint token: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintln(stdout, token)
	return 0
}

func runHealth(stdout, stderr io.Writer) int {
	cfg := config.Load()
	addr := cfg.HTTPAddr
	if strings.HasPrefix(addr, ":") {
		addr = "127.0.0.1" + addr
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get("http://" + addr + "/health")
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "health check failed: %v\n", err)
		return 1
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = fmt.Fprintf(stderr, "health check returned %d\n", resp.StatusCode)
		return 1
	}
	_, _ = fmt.Fprintln(stdout, "ok")
	return 0
}
