package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alexjbarnes/webskype/internal/auth"
	"github.com/alexjbarnes/webskype/internal/config"
	"github.com/alexjbarnes/webskype/internal/logging"
	"github.com/alexjbarnes/webskype/internal/mcpserver"
	"github.com/alexjbarnes/webskype/internal/models"
	"github.com/alexjbarnes/webskype/internal/server"
	"github.com/alexjbarnes/webskype/internal/state"
	"github.com/alexjbarnes/webskype/skype"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"
)

var Version = "dev"

func main() {
	// Handle generate-api-key subcommand before config loading.
	if len(os.Args) > 1 && os.Args[1] == "generate-api-key" {
		if err := generateAPIKey(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}

		return
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// generateAPIKey prints a new MCP API key and stores its digest in state.
func generateAPIKey(args []string) error {
	userID := "default"
	if len(args) > 0 && args[0] != "" {
		userID = args[0]
	}

	path, err := config.LoadStatePath()
	if err != nil {
		return err
	}

	appState, err := state.LoadAt(path)
	if err != nil {
		return fmt.Errorf("loading state: %w", err)
	}
	defer appState.Close()

	key := auth.GenerateAPIKey()
	if err := appState.SaveAPIKey(auth.HashKey(key), models.APIKey{UserID: userID, CreatedAt: time.Now()}); err != nil {
		return fmt.Errorf("saving API key: %w", err)
	}

	fmt.Fprintf(os.Stderr, "API key for %s (shown once):\n", userID)
	fmt.Println(key)

	return nil
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.NewLogger(cfg.Environment, cfg.LogLevel)
	logger.Info("webskype starting",
		slog.String("version", Version),
		slog.String("user", cfg.Username),
		slog.Int("workers", cfg.DispatchWorkers),
		slog.Bool("mcp", cfg.EnableMCP),
	)

	appState, err := state.LoadAt(cfg.StatePath)
	if err != nil {
		return fmt.Errorf("loading state: %w", err)
	}
	defer appState.Close()

	events := skype.NewListeners()
	events.Listen(recordEvents(appState, cfg.Username, logger))

	sess := skype.New(skype.Config{
		Username:          cfg.Username,
		Password:          cfg.Password,
		DispatchWorkers:   cfg.DispatchWorkers,
		KeepaliveInterval: cfg.KeepaliveInterval,
		PollTimeout:       cfg.PollTimeout,
		ShutdownTimeout:   cfg.ShutdownTimeout,
		EndpointName:      cfg.EndpointName,
		Dispatcher:        events,
	}, logger)

	if err := preloadChats(sess, appState, cfg.Username, logger); err != nil {
		return err
	}

	var keys *auth.Keyring
	if cfg.EnableMCP {
		keys, err = buildKeyring(cfg, appState)
		if err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return runSession(gctx, cfg, sess, appState, logger)
	})

	if cfg.EnableMCP {
		g.Go(func() error {
			return runMCP(gctx, cfg, sess, appState, keys, logger)
		})
	}

	return g.Wait()
}

// recordEvents persists chats the session discovers and logs disconnects.
func recordEvents(appState *state.State, username string, logger *slog.Logger) func(skype.Event) {
	return func(ev skype.Event) {
		switch e := ev.(type) {
		case skype.ChatJoinedEvent:
			logger.Info("joined chat",
				slog.String("chat", e.Chat.ID),
				slog.String("kind", e.Chat.Kind.String()),
			)

			err := appState.SaveChat(username, models.ChatRecord{
				ID:        e.Chat.ID,
				Kind:      e.Chat.Kind.String(),
				Source:    models.ChatSourceThreadUpdate,
				FirstSeen: time.Now(),
			})
			if err != nil {
				logger.Warn("failed to save chat", slog.String("chat", e.Chat.ID), slog.String("error", err.Error()))
			}
		case skype.DisconnectedEvent:
			logger.Warn("disconnected", slog.String("error", e.Cause.Error()))
		}
	}
}

// preloadChats registers every chat recorded in state with the session,
// so a restart does not report known chats as joined again.
func preloadChats(sess *skype.Session, appState *state.State, username string, logger *slog.Logger) error {
	records, err := appState.AllChats(username)
	if err != nil {
		return fmt.Errorf("reading known chats: %w", err)
	}

	for _, rec := range records {
		if _, err := sess.LoadChat(rec.ID); err != nil && !errors.Is(err, skype.ErrChatExists) {
			logger.Warn("skipping stored chat", slog.String("chat", rec.ID), slog.String("error", err.Error()))
		}
	}

	logger.Debug("known chats loaded", slog.Int("count", len(records)))

	return nil
}

// buildKeyring collects API keys from MCP_API_KEYS and from state.
func buildKeyring(cfg *config.Config, appState *state.State) (*auth.Keyring, error) {
	entries, err := cfg.ParseMCPAPIKeys()
	if err != nil {
		return nil, fmt.Errorf("parsing MCP_API_KEYS: %w", err)
	}

	keys := auth.NewKeyring()
	for _, e := range entries {
		keys.Add(e.UserID, e.Key)
	}

	stored, err := appState.AllAPIKeys()
	if err != nil {
		return nil, fmt.Errorf("reading stored API keys: %w", err)
	}

	for digest, ak := range stored {
		keys.AddDigest(digest, ak)
	}

	if keys.Len() == 0 {
		return nil, fmt.Errorf("MCP is enabled but no API keys are configured; set MCP_API_KEYS or run generate-api-key")
	}

	return keys, nil
}

// runSession logs in and holds the session until a signal or a terminal
// poll failure.
func runSession(ctx context.Context, cfg *config.Config, sess *skype.Session, appState *state.State, logger *slog.Logger) error {
	if err := sess.Login(ctx); err != nil {
		return err
	}

	st := sess.Status()
	logger.Info("logged in",
		slog.String("endpoint", st.EndpointID),
		slog.String("cloud", string(st.Cloud)),
		slog.Int("chats", st.Chats),
	)

	if err := appState.StartSession(models.SessionRecord{
		Username:   cfg.Username,
		EndpointID: st.EndpointID,
		Cloud:      string(st.Cloud),
		LoggedInAt: st.LoggedInAt,
	}); err != nil {
		logger.Warn("failed to record session", slog.String("error", err.Error()))
	}

	var (
		reason string
		result error
	)

	select {
	case <-ctx.Done():
		reason = "logout"

		logoutCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		if err := sess.Logout(logoutCtx); err != nil {
			logger.Warn("logout failed, closing locally", slog.String("error", err.Error()))
			reason = "closed"
		}

		if err := sess.Close(logoutCtx); err != nil {
			logger.Warn("session close incomplete", slog.String("error", err.Error()))
		}

		logger.Info("logged out")
	case <-sess.Done():
		reason = "session_lost"
		result = skype.ErrSessionLost

		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		if err := sess.Close(closeCtx); err != nil {
			logger.Warn("session close incomplete", slog.String("error", err.Error()))
		}
	}

	if err := appState.EndSession(cfg.Username, st.LoggedInAt, time.Now(), reason); err != nil {
		logger.Warn("failed to record session end", slog.String("error", err.Error()))
	}

	return result
}

// runMCP starts the MCP HTTP server.
func runMCP(ctx context.Context, cfg *config.Config, sess *skype.Session, appState *state.State, keys *auth.Keyring, logger *slog.Logger) error {
	mcpLogger := logger.With(slog.String("service", "mcp"))

	mcpServer := mcp.NewServer(
		&mcp.Implementation{Name: "webskype", Version: Version},
		nil,
	)
	mcpserver.RegisterTools(mcpServer, sess, appState, mcpLogger)

	mcpHandler := mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
		return mcpServer
	}, nil)

	httpServer := &http.Server{
		Addr: cfg.MCPListenAddr,
		Handler: server.NewMux(server.MuxConfig{
			Keys:       keys,
			MCPHandler: mcpHandler,
			Logger:     mcpLogger,
		}),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	mcpLogger.Info("starting MCP server",
		slog.String("listen", cfg.MCPListenAddr),
		slog.Int("keys", keys.Len()),
	)

	// Shutdown when context is cancelled.
	go func() {
		<-ctx.Done()
		mcpLogger.Info("shutting down MCP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("MCP server error: %w", err)
	}

	return nil
}
