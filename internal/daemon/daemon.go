package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/allaspectsdev/sigproxy/internal/config"
	"github.com/allaspectsdev/sigproxy/internal/credential"
	"github.com/allaspectsdev/sigproxy/internal/dispatch"
	"github.com/allaspectsdev/sigproxy/internal/httpapi"
	"github.com/allaspectsdev/sigproxy/internal/message"
	"github.com/allaspectsdev/sigproxy/internal/secret"
	"github.com/allaspectsdev/sigproxy/internal/signature"
	"github.com/allaspectsdev/sigproxy/internal/store"
	"github.com/allaspectsdev/sigproxy/internal/tracing"
	"github.com/allaspectsdev/sigproxy/internal/upstream"
)

// version is stamped into the startup log line; sigproxy does not ship a
// dedicated version package, so this is set via -ldflags at build time.
var version = "dev"

// Run is the main daemon orchestrator. It initialises every subsystem —
// logging, the durable store, the signature store, the credential pool,
// the dispatcher and its HTTP surface — and blocks until a shutdown signal
// is received.
func Run(cfg *config.Config, foreground bool) error {
	// 1. Set up zerolog logger.
	dataDir := expandHome(cfg.Server.DataDir)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("creating data directory %s: %w", dataDir, err)
	}

	logLevel := parseLogLevel(cfg.Server.LogLevel)
	zerolog.SetGlobalLevel(logLevel)

	var writers []io.Writer

	// Always log to file.
	logPath := filepath.Join(dataDir, "sigproxy.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening log file %s: %w", logPath, err)
	}
	defer logFile.Close()
	writers = append(writers, logFile)

	// If foreground, also write to stdout with console formatting.
	if foreground {
		consoleWriter := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05",
		}
		writers = append(writers, consoleWriter)
	}

	multi := zerolog.MultiLevelWriter(writers...)
	log.Logger = zerolog.New(multi).With().Timestamp().Str("service", "sigproxy").Logger()

	log.Info().
		Str("version", version).
		Str("data_dir", dataDir).
		Bool("foreground", foreground).
		Msg("sigproxy starting")

	// 2. Check if already running.
	if IsRunning(dataDir) {
		return fmt.Errorf("sigproxy is already running (PID file exists at %s)", filepath.Join(dataDir, pidFilename))
	}

	// 3. Open the durable store backing both the signature store and the
	// credential pool.
	durable, err := store.Open(cfg.Signature.DBPath)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer durable.Close()

	log.Info().Str("db_path", cfg.Signature.DBPath).Msg("store opened")

	// 4. Write PID file.
	if err := WritePID(dataDir); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer func() {
		if err := RemovePID(dataDir); err != nil {
			log.Error().Err(err).Msg("failed to remove PID file")
		}
	}()

	log.Info().Int("pid", os.Getpid()).Msg("PID file written")

	// 5. Start config watcher.
	configFile := config.ConfigFilePath()
	if configFile == "" {
		configFile = filepath.Join(dataDir, config.DefaultConfigFilename)
	}

	var watcher *config.Watcher
	if _, statErr := os.Stat(configFile); statErr == nil {
		w, watchErr := config.Watch(configFile)
		if watchErr != nil {
			log.Warn().Err(watchErr).Msg("failed to start config watcher; continuing without hot-reload")
		} else {
			watcher = w
			defer watcher.Close()
			watcher.OnChange(func(old, newCfg *config.Config) {
				log.Info().Msg("configuration reloaded")
				newLevel := parseLogLevel(newCfg.Server.LogLevel)
				zerolog.SetGlobalLevel(newLevel)
			})
			log.Info().Str("file", configFile).Msg("config watcher started")
		}
	}

	// 6. Start periodic signature pruning.
	pruneCtx, pruneCancel := context.WithCancel(context.Background())
	defer pruneCancel()
	prunerDone := make(chan struct{})
	go func() {
		defer close(prunerDone)
		runPruner(pruneCtx, durable, cfg.Signature.TTLDefaultSeconds)
	}()

	// ---------------------------------------------------------------
	// 7. Wire up the signature store, credential pool and dispatcher.
	// ---------------------------------------------------------------

	// The TTL policy reads config.Get() on every lookup rather than
	// capturing cfg.Signature by value, so a hot-reloaded TTL default or
	// per-client override takes effect without restarting the store.
	sigStore := signature.NewStore(cfg.Signature.MaxEntries, durable, config.LiveSignatureTTLPolicy{})
	defer sigStore.Close()

	creds, err := loadCredentials(cfg.Credential.CredentialsPath, durable)
	if err != nil {
		return fmt.Errorf("loading credentials: %w", err)
	}
	log.Info().Int("credentials", len(creds)).Msg("credentials loaded")

	pool := credential.NewPool(creds, cfg.Credential.MaxBackoffLevel, durable)
	defer pool.Close()

	if watcher != nil {
		watcher.OnChange(func(old, newCfg *config.Config) {
			if newCfg.Credential.MaxBackoffLevel != old.Credential.MaxBackoffLevel {
				pool.SetMaxBackoffLevel(newCfg.Credential.MaxBackoffLevel)
				log.Info().Int("max_backoff_level", newCfg.Credential.MaxBackoffLevel).Msg("credential pool backoff cap updated")
			}
		})
	}

	normalizer := message.NewNormalizer(signature.NewRecovery(sigStore))
	upstreamClient := upstream.NewClient()
	d := dispatch.New(normalizer, pool, upstreamClient, sigStore)

	// 8. Resolve the admin password through the secret store so it can be
	// a keyring/env/file reference rather than a plaintext config value.
	adminPassword := cfg.Admin.Password
	if cfg.Admin.Enabled && adminPassword != "" {
		resolved, resolveErr := secret.New().Resolve(adminPassword)
		if resolveErr != nil {
			return fmt.Errorf("resolving admin password: %w", resolveErr)
		}
		adminPassword = resolved
	}

	handler := httpapi.NewHandler(d, pool, log.Logger, cfg.Server.RequestTimeout(), cfg.Server.MaxBodySize)
	handler.AdminEnabled = cfg.Admin.Enabled
	handler.AdminPassword = adminPassword

	// 9. Start distributed tracing, if enabled.
	if cfg.Tracing.Enabled {
		shutdownTracing, tracingErr := tracing.Init(context.Background(), cfg.Tracing.ServiceName, version, cfg.Tracing.Exporter, cfg.Tracing.Endpoint, cfg.Tracing.SampleRate, cfg.Tracing.Insecure)
		if tracingErr != nil {
			log.Warn().Err(tracingErr).Msg("failed to start tracing; continuing without it")
		} else {
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdownTracing(ctx); err != nil {
					log.Error().Err(err).Msg("tracing shutdown error")
				}
			}()
		}
	}

	// 10. Start the HTTP server.
	addr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.Port)
	readTimeout := time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second
	idleTimeout := time.Duration(cfg.Server.IdleTimeoutSeconds) * time.Second
	srv := httpapi.NewServer(handler, addr, readTimeout, idleTimeout, cfg.Tracing.Enabled)

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("gateway server starting")
		if err := srv.Start(); err != nil {
			errCh <- fmt.Errorf("gateway server: %w", err)
		}
	}()

	log.Info().Str("addr", addr).Bool("admin_enabled", cfg.Admin.Enabled).Msg("sigproxy is ready")

	if foreground {
		fmt.Printf("\n  sigproxy is running!\n")
		fmt.Printf("  Gateway: http://%s\n\n", addr)
	}

	// 11. Wait for shutdown signal or fatal error.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("fatal server error")
		return err
	}

	// 12. Graceful shutdown with 30-second timeout.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	log.Info().Msg("shutting down servers...")

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("gateway server shutdown error")
	}

	// 13. Clean up — wait for background goroutines before closing stores.
	pruneCancel()
	<-prunerDone
	if err := RemovePID(dataDir); err != nil {
		log.Error().Err(err).Msg("failed to remove PID file during shutdown")
	}

	log.Info().Msg("sigproxy stopped")
	return nil
}

// loadCredentials reads every *.json credential file from dir and restores
// persisted cooldown state from the durable tier (invariant 7: cooldowns
// survive a restart).
func loadCredentials(dir string, durable *store.Store) ([]*credential.Credential, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		log.Warn().Str("dir", dir).Msg("credentials directory does not exist; starting with no credentials")
		return nil, nil
	}

	creds, err := credential.LoadFromDir(dir)
	if err != nil {
		return nil, err
	}

	persisted, err := durable.LoadCredentials()
	if err != nil {
		return nil, fmt.Errorf("loading persisted cooldown state: %w", err)
	}
	byID := make(map[string]store.CredentialRow, len(persisted))
	for _, row := range persisted {
		byID[row.ID] = row
	}

	for _, c := range creds {
		if row, ok := byID[c.ID]; ok {
			c.Disabled = row.Disabled
			for model, cd := range row.ModelCooldowns {
				c.ModelCooldowns[model] = credential.CooldownEntry{
					CooldownUntil: time.Unix(cd.CooldownUntil, 0),
					BackoffLevel:  int(cd.BackoffLevel),
					LastUpdated:   time.Unix(cd.LastUpdated, 0),
				}
			}
		}
	}
	return creds, nil
}

// Stop reads the PID file and sends SIGTERM to the running daemon.
func Stop() error {
	dataDir := expandHome(config.Get().Server.DataDir)

	pid, err := ReadPID(dataDir)
	if err != nil {
		return fmt.Errorf("sigproxy does not appear to be running: %w", err)
	}

	if !isProcessAlive(pid) {
		// Stale PID file; clean it up.
		if rmErr := RemovePID(dataDir); rmErr != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to remove stale PID file: %v\n", rmErr)
		}
		return fmt.Errorf("sigproxy is not running (stale PID file removed)")
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("finding process %d: %w", pid, err)
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("sending SIGTERM to process %d: %w", pid, err)
	}

	fmt.Printf("Sent SIGTERM to sigproxy (PID %d)\n", pid)

	// Wait briefly for the process to exit.
	for i := 0; i < 30; i++ {
		time.Sleep(100 * time.Millisecond)
		if !isProcessAlive(pid) {
			return nil
		}
	}

	return nil
}

// Status checks if the daemon is running and prints a summary fetched from
// the admin snapshot endpoint.
func Status() error {
	cfg := config.Get()
	dataDir := expandHome(cfg.Server.DataDir)

	if !IsRunning(dataDir) {
		fmt.Println("sigproxy is not running")
		return nil
	}

	pid, _ := ReadPID(dataDir)
	fmt.Printf("sigproxy is running (PID %d)\n", pid)

	if !cfg.Admin.Enabled {
		fmt.Println("  (admin endpoint disabled; no further status available)")
		return nil
	}

	url := fmt.Sprintf("http://%s:%d/api/credentials/backoff-status?password=%s", cfg.Server.BindAddress, cfg.Server.Port, cfg.Admin.Password)
	client := &http.Client{Timeout: 3 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		fmt.Println("  (gateway unreachable)")
		return nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil
	}

	var snapshot []credential.Status
	if err := json.Unmarshal(body, &snapshot); err != nil {
		return nil
	}

	fmt.Printf("\n  Credentials: %d\n", len(snapshot))
	for _, s := range snapshot {
		state := "active"
		if s.Disabled {
			state = "disabled"
		}
		fmt.Printf("  - %-20s %-12s %s (%d cooldown(s))\n", s.ID, s.Kind, state, len(s.ModelCooldowns))
	}

	return nil
}

// runPruner periodically prunes signatures older than their default TTL
// from the durable tier.
func runPruner(ctx context.Context, durable *store.Store, ttlSeconds int) {
	if ttlSeconds <= 0 {
		return
	}
	maxAge := time.Duration(ttlSeconds) * time.Second

	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			func() {
				defer func() {
					if r := recover(); r != nil {
						log.Error().Interface("panic", r).Msg("signature pruner: recovered from panic")
					}
				}()
				n, err := durable.Prune(maxAge)
				if err != nil {
					log.Error().Err(err).Msg("signature pruning failed")
				} else if n > 0 {
					log.Info().Int64("rows", n).Dur("max_age", maxAge).Msg("pruned old signatures")
				}
			}()
		}
	}
}

// parseLogLevel converts a string log level to a zerolog.Level.
func parseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
