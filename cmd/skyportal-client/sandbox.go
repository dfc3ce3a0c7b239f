package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/skyportal/client/internal/auth"
	"github.com/MarcoPoloResearchLab/skyportal/client/internal/config"
	"github.com/MarcoPoloResearchLab/skyportal/client/internal/database"
	"github.com/MarcoPoloResearchLab/skyportal/client/internal/logging"
	"github.com/MarcoPoloResearchLab/skyportal/client/internal/model"
	"github.com/MarcoPoloResearchLab/skyportal/client/internal/records"
	"github.com/MarcoPoloResearchLab/skyportal/client/internal/server"
	"github.com/MarcoPoloResearchLab/skyportal/client/internal/users"
	"github.com/hokaccha/go-prettyjson"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newSandboxCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sandbox",
		Short: "Run the development sandbox REST and push server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSandbox(cmd.Context())
		},
	}

	defaults := config.NewViper()
	flags := cmd.PersistentFlags()
	flags.String("http-address", defaults.GetString("sandbox.http_address"), "HTTP listen address")
	flags.String("database-path", defaults.GetString("sandbox.database_path"), "SQLite database path")
	flags.String("signing-secret", "", "Socket token signing secret (overrides env)")
	flags.Int("token-ttl-minutes", defaults.GetInt("sandbox.token_ttl_minutes"), "Socket token TTL in minutes")
	flags.StringSlice("allowed-origins", nil, "CORS origins allowed to call the REST surface (all when empty)")

	bindFlag(flags, "sandbox.http_address", "http-address")
	bindFlag(flags, "sandbox.database_path", "database-path")
	bindFlag(flags, "sandbox.signing_secret", "signing-secret")
	bindFlag(flags, "sandbox.token_ttl_minutes", "token-ttl-minutes")
	bindFlag(flags, "sandbox.allowed_origins", "allowed-origins")

	cmd.AddCommand(newAccountCommand())
	return cmd
}

func newAccountCommand() *cobra.Command {
	var input users.AccountInput
	var admin bool
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Create a sandbox account and print its API token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if admin {
				input.Permissions = append(input.Permissions, model.PermissionSystemAdmin)
			}
			return runCreateAccount(cmd.Context(), cmd.OutOrStdout(), input)
		},
	}
	cmd.Flags().StringVar(&input.Username, "username", "", "Account username")
	cmd.Flags().StringVar(&input.DisplayName, "display-name", "", "Display name shown on comments")
	cmd.Flags().BoolVar(&input.IsBot, "bot", false, "Mark the account as an automated bot")
	cmd.Flags().BoolVar(&input.HideBotComments, "hide-bot-comments", false, "Hide bot comments by default")
	cmd.Flags().BoolVar(&admin, "admin", false, "Grant the System admin permission")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}

func openSandboxDatabase(path string, logger *zap.Logger) (*gorm.DB, func(), error) {
	db, err := database.OpenSQLite(path, logger)
	if err != nil {
		return nil, nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, err
	}
	return db, func() { _ = sqlDB.Close() }, nil
}

func runCreateAccount(ctx context.Context, out io.Writer, input users.AccountInput) error {
	// Accounts need only the database, not the signing secret.
	logger, err := logging.NewLogger(viper.GetString("log.level"))
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, closeDB, err := openSandboxDatabase(viper.GetString("sandbox.database_path"), logger)
	if err != nil {
		return err
	}
	defer closeDB()

	accounts, err := users.NewService(users.ServiceConfig{Database: db})
	if err != nil {
		return err
	}
	account, err := accounts.CreateAccount(ctx, input)
	if err != nil {
		return err
	}
	formatted, err := prettyjson.Marshal(map[string]any{
		"id":          account.ID,
		"username":    account.Username,
		"permissions": account.PermissionList(),
		"is_bot":      account.IsBot,
		"api_token":   account.APIToken,
	})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, string(formatted))
	return err
}

func runSandbox(ctx context.Context) error {
	sandboxConfig, err := config.LoadSandbox(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(sandboxConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, closeDB, err := openSandboxDatabase(sandboxConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	defer closeDB()

	accounts, err := users.NewService(users.ServiceConfig{Database: db, Clock: time.Now})
	if err != nil {
		return err
	}
	store, err := records.NewService(records.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: records.NewUUIDProvider(),
		Logger:     logger.Named("records"),
	})
	if err != nil {
		return err
	}
	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(sandboxConfig.SigningSecret),
		Issuer:        sandboxConfig.TokenIssuer,
		Audience:      sandboxConfig.TokenAudience,
		TokenTTL:      sandboxConfig.TokenTTL,
	})
	if err != nil {
		return err
	}
	validator, err := auth.NewTokenValidator(auth.TokenValidatorConfig{
		SigningSecret: []byte(sandboxConfig.SigningSecret),
		Issuer:        sandboxConfig.TokenIssuer,
		Audience:      sandboxConfig.TokenAudience,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Accounts:       accounts,
		Records:        store,
		SocketTokens:   issuer,
		SocketVerifier: validator,
		Realtime:       server.NewRealtimeDispatcher(),
		Logger:         logger,
		AllowedOrigins: sandboxConfig.AllowedOrigins,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    sandboxConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("sandbox starting", zap.String("address", sandboxConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
