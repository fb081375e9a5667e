// Command dbgate runs the database security gateway as a stdio JSON-RPC
// server: one trusted launcher process dials it, the launcher's identity
// and tenant bind the single SessionContext served for the connection's
// lifetime, and every tool call after that is mediated by the execution
// boundary before it ever reaches a backend.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/odvcencio/dbgate/pkg/adapter"
	"github.com/odvcencio/dbgate/pkg/allowlist"
	"github.com/odvcencio/dbgate/pkg/audit"
	"github.com/odvcencio/dbgate/pkg/capability"
	"github.com/odvcencio/dbgate/pkg/config"
	"github.com/odvcencio/dbgate/pkg/gateway"
	"github.com/odvcencio/dbgate/pkg/logging"
	"github.com/odvcencio/dbgate/pkg/mcp"
	"github.com/odvcencio/dbgate/pkg/policy"
	"github.com/odvcencio/dbgate/pkg/quota"
	"github.com/odvcencio/dbgate/pkg/session"
	"github.com/odvcencio/dbgate/pkg/telemetry"
	"github.com/odvcencio/dbgate/pkg/tool"
)

var (
	version = "1.0.0-dev"
	commit  = "unknown"
)

func main() {
	var (
		configPath  string
		metricsAddr string
		logDir      string
		showVersion bool
	)
	flag.StringVar(&configPath, "config", os.Getenv("DBGATE_CONFIG"), "path to the gateway's YAML config file")
	flag.StringVar(&metricsAddr, "metrics-addr", "127.0.0.1:9090", "loopback address to serve Prometheus metrics on")
	flag.StringVar(&logDir, "log-dir", "/var/log/dbgate", "directory for structured diagnostics logs")
	flag.BoolVar(&showVersion, "version", false, "print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("dbgate %s (%s)\n", version, commit)
		return
	}

	if err := run(configPath, metricsAddr, logDir); err != nil {
		fmt.Fprintf(os.Stderr, "dbgate: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, metricsAddr, logDir string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	binding, err := config.LoadLauncherBinding()
	if err != nil {
		return fmt.Errorf("launcher binding: %w", err)
	}

	secret, err := config.LoadAuditSecret(cfg.Audit.SecretFile)
	if err != nil {
		return fmt.Errorf("audit secret: %w", err)
	}

	log, err := logging.NewLogger(logDir, "")
	if err != nil {
		return fmt.Errorf("diagnostics logger: %w", err)
	}
	defer log.Close()

	auditSink, err := os.OpenFile(cfg.Audit.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("opening audit log: %w", err)
	}
	defer auditSink.Close()

	auditLogger, err := audit.NewLogger(secret, auditSink)
	if err != nil {
		return fmt.Errorf("audit logger: %w", err)
	}

	orderByAllow := make(map[string]struct{}, len(cfg.Allow.OrderByColumns))
	for _, col := range cfg.Allow.OrderByColumns {
		orderByAllow[col] = struct{}{}
	}
	list := allowlist.New(cfg.Allow.Schemas, cfg.Allow.Tables)

	db, err := newAdapter(cfg, list, orderByAllow, auditLogger)
	if err != nil {
		return fmt.Errorf("adapter: %w", err)
	}
	defer db.Disconnect(context.Background())

	if err := db.Connect(context.Background()); err != nil {
		return fmt.Errorf("adapter connect: %w", err)
	}

	policies, err := config.LoadQuotaPolicies(cfg.Quota.PoliciesFile)
	if err != nil {
		return fmt.Errorf("quota policies: %w", err)
	}
	quotaEngine := quota.New("gateway", policies)

	registry := tool.NewRegistry()
	if err := tool.RegisterBuiltins(registry); err != nil {
		return fmt.Errorf("registering builtin tools: %w", err)
	}

	policyEngine := policy.NewEngine(nil)
	boundary := gateway.New(registry, quotaEngine, policyEngine, db)

	sess, err := session.Bind(binding.Identity, binding.Tenant, "")
	if err != nil {
		return fmt.Errorf("binding session: %w", err)
	}

	// The launcher binding carries exactly the grants the launcher itself
	// trusts this connection with; a gateway deployment that needs finer
	// per-connection grants would source these from a launcher-supplied
	// capability document instead of the blanket set below.
	caps, err := capability.New(session.NewSessionID(), "launcher", true,
		time.Now(), time.Now().Add(24*time.Hour),
		[]capability.Grant{
			{Action: capability.ActionToolInvoke, Target: "*"},
			{Action: capability.ActionToolList, Target: "*"},
		})
	if err != nil {
		return fmt.Errorf("minting capabilities: %w", err)
	}
	if err := sess.AttachCapabilities(caps); err != nil {
		return fmt.Errorf("attaching capabilities: %w", err)
	}
	if err := sess.AttachQuotaEngine(quotaEngine); err != nil {
		return fmt.Errorf("attaching quota engine: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	stopMetrics := serveMetrics(metricsAddr, log)
	defer stopMetrics()

	_ = log.Info(logging.CategoryGateway, "startup", "dbgate ready", map[string]any{
		"tenant":   binding.Tenant,
		"readOnly": cfg.ReadOnly,
	})

	srv := mcp.NewServer(boundary, registry, sess, cfg.ReadOnly)
	if err := srv.Serve(ctx, os.Stdin, os.Stdout); err != nil && ctx.Err() == nil {
		return fmt.Errorf("serving stdio: %w", err)
	}
	return nil
}

// newAdapter selects the configured backend driver. Only sqlite ships as a
// reference implementation; additional drivers register here the same way
// buckley's storage layer switches on a single configured driver name.
func newAdapter(cfg *config.Config, list *allowlist.Allowlist, orderByAllow map[string]struct{}, auditLogger *audit.Logger) (adapter.Adapter, error) {
	switch cfg.Adapter.Driver {
	case "", "sqlite":
		return adapter.NewSQLite(adapter.Config{
			DSN:          cfg.Adapter.DSN,
			Allowlist:    list,
			OrderByAllow: orderByAllow,
			AuditLogger:  auditLogger,
		})
	default:
		return nil, fmt.Errorf("unsupported adapter driver %q", cfg.Adapter.Driver)
	}
}

// serveMetrics starts a loopback-only HTTP listener dedicated to Prometheus
// scraping — it must never share a listener with the stdio transport, since
// the stdio pipe carries no network exposure of its own and metrics must
// not either, beyond localhost.
func serveMetrics(addr string, log *logging.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", telemetry.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		_ = log.Warn(logging.CategoryGateway, "metrics_listen_failed", "metrics endpoint disabled", map[string]any{"error": err.Error()})
		return func() {}
	}

	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			_ = log.Warn(logging.CategoryGateway, "metrics_serve_failed", "metrics server stopped", map[string]any{"error": err.Error()})
		}
	}()

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}
}
