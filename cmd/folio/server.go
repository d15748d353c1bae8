package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/folio/internal/api"
	"github.com/kalambet/folio/internal/config"
	"github.com/kalambet/folio/internal/editor"
	"github.com/kalambet/folio/internal/metrics"
	"github.com/kalambet/folio/internal/ollama"
	"github.com/kalambet/folio/internal/proxy"
	"github.com/kalambet/folio/internal/publish"
	"github.com/kalambet/folio/internal/redisstore"
	"github.com/kalambet/folio/internal/resolver"
	"github.com/kalambet/folio/internal/storage"
	"github.com/kalambet/folio/internal/syncer"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the folio server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		noMCP, _ := cmd.Flags().GetBool("no-mcp")
		return runServer(!noMCP)
	},
}

func init() {
	startCmd.Flags().Bool("no-mcp", false, "do not serve MCP tools on stdio")
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running folio server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show folio system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "folio.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// repository is what the server needs from a storage backend.
type repository interface {
	editor.Repository
	io.Closer
}

func openRepository(cfg config.Config) (repository, error) {
	if cfg.Storage.Backend == config.BackendRedis {
		return redisstore.NewStore(cfg.Storage.RedisURL)
	}
	return storage.Open(cfg.Storage.DataDir)
}

// buildResolver wires the configured backend behind a circuit breaker and
// metrics instrumentation.
func buildResolver(ctx context.Context, cfg config.Config, m *metrics.Collector) (resolver.Resolver, error) {
	var inner resolver.Resolver
	switch cfg.Resolver.Backend {
	case config.BackendOllama:
		client := ollama.New(cfg.Resolver.OllamaBaseURL)
		if err := ollama.EnsureReady(ctx, client, cfg.Resolver.Model, stderr); err != nil {
			return nil, err
		}
		inner = resolver.NewOllama(client, cfg.Resolver.Model)
	default:
		inner = resolver.NewOpenRouter(proxy.NewClient(cfg.Proxy.OpenRouterAPIKey), cfg.Resolver.Model)
	}
	backend := cfg.Resolver.Backend
	breaker := resolver.WithBreaker(inner, resolver.DefaultBreakerSettings(backend), m.BreakerChanged(backend))
	return resolver.Instrument(breaker, backend, m), nil
}

func buildPublisher(ctx context.Context, cfg config.Config) (*publish.Publisher, error) {
	if cfg.Publish.Endpoint == "" {
		dir := filepath.Join(cfg.Storage.DataDir, "sites")
		slog.Info("publishing to local directory", "dir", dir)
		return publish.New(publish.NewDirUploader(dir), "file://"+dir), nil
	}
	up, err := publish.NewMinioUploader(ctx, publish.MinioConfig{
		Endpoint:  cfg.Publish.Endpoint,
		AccessKey: cfg.Publish.AccessKey,
		SecretKey: cfg.Publish.SecretKey,
		Bucket:    cfg.Publish.Bucket,
		UseSSL:    cfg.Publish.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting publish bucket: %w", err)
	}
	slog.Info("publishing to bucket", "endpoint", cfg.Publish.Endpoint, "bucket", cfg.Publish.Bucket)
	return publish.New(up, cfg.Publish.BaseURL), nil
}

func runServer(withMCP bool) error {
	fmt.Fprintf(stderr, "folio version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	resolveTimeout, _ := cfg.ResolveTimeout()
	syncTimeout, _ := cfg.SyncTimeout()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLogLevel(cfg.Log.Level)})))

	apiToken, err := config.GetAPIToken(config.NewKeychain())
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}
	slog.Info("API bearer token available")

	// Refuse to start twice.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("folio is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("folio is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, err := openRepository(cfg)
	if err != nil {
		return fmt.Errorf("opening %s storage: %w", cfg.Storage.Backend, err)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			slog.Warn("closing storage", "error", err)
		}
	}()

	m := metrics.New()
	res, err := buildResolver(ctx, cfg, m)
	if err != nil {
		return err
	}
	pub, err := buildPublisher(ctx, cfg)
	if err != nil {
		return err
	}

	registry := editor.NewRegistry(repo, res, pub,
		editor.WithResolveTimeout(resolveTimeout),
		editor.WithSyncOptions(syncer.WithTimeout(syncTimeout), syncer.WithRecorder(m)),
	)

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	ln = netutil.LimitListener(ln, cfg.Server.MaxConnections)

	srv := &http.Server{
		Handler: api.NewAppHandler(api.AppDeps{
			Registry: registry,
			Token:    apiToken,
			Metrics:  m,
		}),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("folio listening", "addr", addr, "storage", cfg.Storage.Backend, "resolver", cfg.Resolver.Backend)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		fmt.Fprintln(stderr, "shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if withMCP {
		stdioSrv := server.NewStdioServer(api.NewMCPServer(api.MCPDeps{Registry: registry, Version: version}))
		g.Go(func() error {
			if err := stdioSrv.Listen(gctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
			return nil
		})
		slog.Info("MCP server started (stdio transport)")
	}

	return g.Wait()
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("folio is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop folio (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to folio (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port))
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	printStatus("Resolver", "%s (%s)", cfg.Resolver.Backend, cfg.Resolver.Model)
	if cfg.Resolver.Backend == config.BackendOllama {
		if ollama.New(cfg.Resolver.OllamaBaseURL).IsRunning(context.Background()) {
			printStatus("Ollama", "running at %s", cfg.Resolver.OllamaBaseURL)
		} else {
			printStatus("Ollama", "not running")
		}
	}

	printStatus("Storage", "%s", cfg.Storage.Backend)
	if cfg.Storage.Backend == config.BackendRedis {
		printStatus("Redis", "%s", cfg.Storage.RedisURL)
	}
	if cfg.Publish.Endpoint != "" {
		printStatus("Publish", "%s/%s", cfg.Publish.Endpoint, cfg.Publish.Bucket)
	} else {
		printStatus("Publish", "local directory")
	}
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
