package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"quarantine-drop/internal/adjudicate"
	"quarantine-drop/internal/archive"
	"quarantine-drop/internal/auth"
	"quarantine-drop/internal/config"
	"quarantine-drop/internal/logging"
	"quarantine-drop/internal/metrics"
	"quarantine-drop/internal/scanner"
	"quarantine-drop/internal/server"
	"quarantine-drop/internal/upload"
	"quarantine-drop/internal/userstore"
)

const shutdownGrace = 10 * time.Second

func main() {
	if err := newRootCommand(afero.NewOsFs()).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand(fs afero.Fs) *cobra.Command {
	var envFile string

	root := &cobra.Command{
		Use:          "quarantine-drop",
		Short:        "Authenticated uploads quarantined behind a malware scanner.",
		Long:         "Authenticated uploads quarantined behind a malware scanner.\nWithout a subcommand the HTTP server is started, as with serve.",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE:         runServe(fs, &envFile),
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "optional dotenv file read before the environment")

	root.AddCommand(newServeCommand(fs, &envFile))
	root.AddCommand(newHashPasswordCommand())
	root.AddCommand(newVersionCommand(&envFile))
	return root
}

func newServeCommand(fs afero.Fs, envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		Args:  cobra.NoArgs,
		RunE:  runServe(fs, envFile),
	}
}

func runServe(fs afero.Fs, envFile *string) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(*envFile)
		if err != nil {
			return err
		}
		logger, err := logging.New(logging.Format(cfg.LogFormat), cfg.LogLevel)
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := serve(ctx, fs, cfg, logger); err != nil {
			logger.Error("server stopped", zap.Error(err))
			return err
		}
		return nil
	}
}

// serve wires every component from cfg and blocks until ctx is cancelled or
// the listener fails.
func serve(ctx context.Context, fs afero.Fs, cfg *config.Config, logger *zap.Logger) error {
	users, err := openUserStore(ctx, fs, cfg)
	if err != nil {
		return fmt.Errorf("open user store: %w", err)
	}
	defer func() { _ = users.Close() }()

	sessions := auth.NewMemoryStore()
	lockout := auth.NewLockout(cfg.LockoutAttempts, cfg.LockoutDuration, cfg.LockoutWindow)
	go sessions.Run(ctx, time.Minute)
	go lockout.Run(ctx, 5*time.Minute)

	guard := auth.NewGuard(users, sessions, auth.Options{
		Secret:     []byte(cfg.SessionSecret),
		TTL:        cfg.SessionTTL,
		BcryptCost: cfg.BcryptCost,
		Lockout:    lockout,
	})

	ingestor := upload.NewIngestor(fs, cfg.UploadDir, cfg.MaxUploadBytes)
	if err := ingestor.EnsureDir(); err != nil {
		return err
	}

	invoker := scanner.NewInvoker(scanner.Options{
		Command:     cfg.ScannerCommand,
		Args:        cfg.ScannerArgs,
		Timeout:     cfg.ScanTimeout,
		Concurrency: int64(cfg.ScanConcurrency),
		Logger:      logger,
	})

	checks := []server.HealthCheck{
		{Name: "users", Critical: true, Check: func(ctx context.Context) error {
			_, err := users.Count(ctx)
			return err
		}},
		{Name: "staging", Critical: true, Check: func(context.Context) error {
			return ingestor.EnsureDir()
		}},
		{Name: "scanner", Critical: true, Check: func(context.Context) error {
			_, err := exec.LookPath(cfg.ScannerCommand)
			return err
		}},
	}

	var archiver adjudicate.Archiver
	if cfg.ArchiveEnabled() {
		mirror, err := archive.NewMirror(ctx, archive.Config{
			Endpoint:  cfg.ArchiveEndpoint,
			AccessKey: cfg.ArchiveAccessKey,
			SecretKey: cfg.ArchiveSecretKey,
			Bucket:    cfg.ArchiveBucket,
			Timeout:   cfg.ArchiveTimeout,
		}, fs, logger)
		if err != nil {
			return fmt.Errorf("archive: %w", err)
		}
		archiver = mirror
		checks = append(checks, server.HealthCheck{Name: "archive", Check: mirror.Health})
	}

	srv := server.New(server.Config{
		Addr:                 cfg.Addr,
		CookieName:           cfg.CookieName,
		TrustProxy:           cfg.TrustProxy,
		AllowInsecureCookies: cfg.AllowInsecureCookies,
		MaxUploadBytes:       cfg.MaxUploadBytes,
		RateLimitPerMin:      cfg.RateLimitPerMin,
		Version:              cfg.Version,
		HSTS:                 cfg.Production(),
		Endpoints: server.EndpointLimits{
			AuthPerMinute:  cfg.AuthRateLimit,
			UploadsPerHour: cfg.UploadRateLimit,
		},
	}, server.Deps{
		Guard:       guard,
		Ingestor:    ingestor,
		Scanner:     invoker,
		Adjudicator: adjudicate.New(fs, archiver, logger),
		Metrics:     metrics.New(cfg.Version, guard.ActiveSessions),
		Logger:      logger,
		Public:      afero.NewReadOnlyFs(afero.NewBasePathFs(fs, cfg.PublicDir)),
		Checks:      checks,
	})
	srv.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting",
			zap.String("addr", cfg.Addr),
			zap.String("version", cfg.Version),
			zap.String("commit", cfg.Commit),
			zap.String("user_store", cfg.UserStore),
			zap.String("upload_dir", cfg.UploadDir),
			zap.Bool("archive", cfg.ArchiveEnabled()),
		)
		errCh <- srv.Start()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		logger.Info("shutdown complete")
		return nil
	case err := <-errCh:
		return err
	}
}

func openUserStore(ctx context.Context, fs afero.Fs, cfg *config.Config) (userstore.Store, error) {
	switch cfg.UserStore {
	case config.StoreSQLite:
		return userstore.OpenSQL(ctx, userstore.DialectSQLite, cfg.DatabaseURL)
	case config.StorePostgres:
		return userstore.OpenSQL(ctx, userstore.DialectPostgres, cfg.DatabaseURL)
	case config.StoreFile:
		return userstore.OpenFileStore(fs, cfg.UsersFile)
	default:
		return nil, fmt.Errorf("unknown user store %q", cfg.UserStore)
	}
}

// newHashPasswordCommand prints a bcrypt hash for seeding user stores by hand.
// The password is read from stdin so it does not end up in shell history.
func newHashPasswordCommand() *cobra.Command {
	var cost int
	cmd := &cobra.Command{
		Use:   "hash-password",
		Short: "Read a password from stdin and print its bcrypt hash",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pw, err := readPassword(cmd.InOrStdin())
			if err != nil {
				return err
			}
			hash, err := auth.HashPassword(pw, cost)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), hash)
			return err
		},
	}
	cmd.Flags().IntVar(&cost, "cost", 12, "bcrypt cost")
	return cmd
}

func readPassword(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	pw := strings.TrimRight(line, "\r\n")
	if pw == "" {
		return "", errors.New("empty password")
	}
	return pw, nil
}

func newVersionCommand(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			version, commit := "dev", "unknown"
			if cfg, err := config.Load(*envFile); err == nil {
				version, commit = cfg.Version, cfg.Commit
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "quarantine-drop %s (%s)\n", version, commit)
			return err
		},
	}
}
