package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"ownersale/backend/evm"
	"ownersale/catalog"
	"ownersale/cmd/internal/passphrase"
	"ownersale/config"
	"ownersale/crypto"
	"ownersale/gateway"
	"ownersale/gateway/middleware"
	"ownersale/observability/logging"
	telemetry "ownersale/observability/otel"
	"ownersale/registry"
	"ownersale/storage"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "ownersaled: %v\n", err)
		os.Exit(1)
	}
}

// rateLimitsFrom maps the configured per-minute request budgets onto the
// gateway's named limit buckets.
func rateLimitsFrom(cfg *config.Config) map[string]middleware.RateLimit {
	return map[string]middleware.RateLimit{
		"read":   {RequestsPerMinute: float64(cfg.ReadRequestsPerMinute), Burst: cfg.ReadRequestsPerMinute},
		"mutate": {RequestsPerMinute: float64(cfg.WriteRequestsPerMinute), Burst: cfg.WriteRequestsPerMinute},
	}
}

func run() error {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./config.toml", "path to ownersaled config")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("OWNERSALE_ENV"))
	logger := logging.Setup("ownersaled", env)

	otlpEndpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	otlpHeaders := telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"))
	insecure := true
	if value := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			insecure = parsed
		}
	}
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "ownersaled",
		Environment: env,
		Endpoint:    otlpEndpoint,
		Insecure:    insecure,
		Headers:     otlpHeaders,
		Metrics:     true,
		Traces:      true,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// The bootstrap keystore is created with an empty passphrase; a
	// passphrase source is consulted only when one is configured.
	pass := ""
	if cfg.CustodyPassphraseEnv != "" {
		pass, err = passphrase.NewSource(cfg.CustodyPassphraseEnv).Get()
		if err != nil {
			return fmt.Errorf("resolve custody passphrase: %w", err)
		}
	}
	custodyKey, err := crypto.LoadFromKeystore(cfg.CustodyKeystorePath, pass)
	if err != nil {
		return fmt.Errorf("load custody key: %w", err)
	}
	logger.Info("custody identity loaded", "address", custodyKey.Address().Hex())

	evmClient, err := evm.Dial(cfg.EVMRPCURL)
	if err != nil {
		return fmt.Errorf("dial evm: %w", err)
	}
	defer evmClient.Close()

	chain := evm.NewBackend(evmClient, custodyKey, big.NewInt(cfg.EVMChainID), cfg.Confirmations)
	tokens := make(map[string]common.Address, len(cfg.Tokens))
	for symbol, addr := range cfg.Tokens {
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("token %s: invalid address %q", symbol, addr)
		}
		tokens[symbol] = common.HexToAddress(addr)
	}
	funds := evm.NewERC20Funds(chain, tokens)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "sales"))
	if err != nil {
		return fmt.Errorf("open sale store: %w", err)
	}
	defer db.Close()

	store, err := gateway.NewSQLiteStore(filepath.Join(cfg.DataDir, "gateway.db"))
	if err != nil {
		return fmt.Errorf("open gateway store: %w", err)
	}
	defer func() { _ = store.Close() }()

	hub := gateway.NewHub(store, logger)

	reg, err := registry.Open(db, chain, funds, custodyKey.Address(), hub)
	if err != nil {
		return fmt.Errorf("open registry: %w", err)
	}
	logger.Info("registry restored", "sales", len(reg.List()))

	cat := catalog.Builtin()
	if path := strings.TrimSpace(cfg.CatalogPath); path != "" {
		cat, err = catalog.Load(path)
		if err != nil {
			return fmt.Errorf("load template catalog: %w", err)
		}
	}

	server := gateway.NewServer(gateway.ServerConfig{
		Auth: middleware.AuthConfig{
			Enabled:    cfg.AuthEnabled,
			HMACSecret: cfg.AuthHMACSecret,
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
		},
		RateLimits: rateLimitsFrom(cfg),
		CORS: middleware.CORSConfig{AllowedOrigins: cfg.AllowedOrigins},
	}, reg, cat, store, hub, logger)

	httpServer := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      otelhttp.NewHandler(server.Router(), "ownersaled"),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	stopCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errs := make(chan error, 1)
	go func() {
		log.Printf("ownersaled listening on %s", cfg.ListenAddress)
		errs <- httpServer.ListenAndServe()
	}()

	select {
	case <-stopCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			_ = httpServer.Close()
			return err
		}
		return nil
	case err := <-errs:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
