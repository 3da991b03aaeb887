package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"pkt.systems/pslog"

	"github.com/FL-Penly/mobile-terminal/api/handlers"
	"github.com/FL-Penly/mobile-terminal/internal/collab"
	"github.com/FL-Penly/mobile-terminal/internal/config"
	"github.com/FL-Penly/mobile-terminal/internal/db"
	"github.com/FL-Penly/mobile-terminal/internal/dispatch"
	"github.com/FL-Penly/mobile-terminal/internal/prefs"
	"github.com/FL-Penly/mobile-terminal/internal/repository"
	"github.com/FL-Penly/mobile-terminal/internal/terminal"
	"github.com/FL-Penly/mobile-terminal/internal/ws"
)

const apiShutdownTimeout = 5 * time.Second

// connectionFlags are shared by attach and serve.
type connectionFlags struct {
	configPath string
	endpoint   string
	token      string
	apiAddr    string
}

func (f *connectionFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.configPath, "config", "c", "", "path to config file")
	cmd.Flags().StringVar(&f.endpoint, "endpoint", "", "ttyd URL (overrides config)")
	cmd.Flags().StringVar(&f.token, "token", "", "ttyd auth token (overrides config)")
	cmd.Flags().StringVar(&f.apiAddr, "api-addr", "", "control API listen address (overrides config)")
}

// load reads the config file and applies any flags the user set.
func (f *connectionFlags) load(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return config.Config{}, err
	}
	if cmd.Flags().Changed("endpoint") {
		cfg.Endpoint = f.endpoint
	}
	if cmd.Flags().Changed("token") {
		cfg.AuthToken = f.token
	}
	if cmd.Flags().Changed("api-addr") {
		cfg.API.Addr = f.apiAddr
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// clientConfig maps file configuration onto the terminal client.
func clientConfig(cfg config.Config, cols, rows int, predictiveEcho bool) terminal.Config {
	return terminal.Config{
		Endpoint:       cfg.Endpoint,
		AuthToken:      cfg.AuthToken,
		Columns:        cols,
		Rows:           rows,
		MaxAttempts:    cfg.Reconnect.MaxAttempts,
		StaleAfter:     seconds(cfg.Reconnect.StaleAfterSeconds),
		PingInterval:   seconds(cfg.Reconnect.PingIntervalSeconds),
		PongWait:       seconds(cfg.Reconnect.PongWaitSeconds),
		PredictiveEcho: predictiveEcho,
		PollInterval:   seconds(cfg.Status.PollIntervalSeconds),
		HistorySize:    cfg.Activity.HistoryBytes,
		DisabledRules:  cfg.Activity.DisabledRules,
	}
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// stack is everything a running client owns.
type stack struct {
	db     *sql.DB
	loop   *dispatch.Loop
	prefs  *prefs.Store
	client *terminal.Client
	api    *http.Server
	hub    *ws.Service
}

// openStack opens the state database, starts the dispatch loop and builds the
// client. Nothing is dialed yet.
func openStack(ctx context.Context, cfg config.Config, cols, rows int, rendererAcks bool) (*stack, error) {
	logger := pslog.Ctx(ctx)

	database, err := db.Open(ctx, cfg.DBPath())
	if err != nil {
		return nil, err
	}
	store, err := prefs.Open(ctx, repository.NewPreferenceRepository(database))
	if err != nil {
		database.Close()
		return nil, err
	}

	base := cfg.CollaboratorURL
	if base == "" {
		base, err = collab.BaseURL(cfg.Endpoint)
		if err != nil {
			store.Close()
			database.Close()
			return nil, err
		}
	}
	logger.Debug("collaborator configured", "url", base)

	loop := dispatch.NewLoop(dispatch.Options{})
	go func() {
		if err := loop.Run(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, dispatch.ErrStopped) {
			logger.Warn("dispatch loop exited", "err", err)
		}
	}()

	tcfg := clientConfig(cfg, cols, rows, store.Get().PredictiveEcho)
	tcfg.RendererAcks = rendererAcks
	client, err := terminal.New(ctx, tcfg, terminal.Deps{
		Scheduler:    loop,
		Collaborator: collab.New(base, nil),
		Preferences:  store,
	})
	if err != nil {
		loop.Stop()
		store.Close()
		database.Close()
		return nil, err
	}
	return &stack{db: database, loop: loop, prefs: store, client: client}, nil
}

// serveAPI starts the control API and the presentation stream on addr.
func (s *stack) serveAPI(ctx context.Context, addr string) error {
	logger := pslog.Ctx(ctx)
	s.hub = ws.NewService(ctx, s.client, nil)
	s.hub.Start()

	router := handlers.NewRouter(
		handlers.NewTerminalHandler(s.client),
		handlers.NewWebSocketHandler(s.hub.Handler()),
	)
	s.api = &http.Server{Addr: addr, Handler: router}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.api.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("control api on %s: %w", addr, err)
		}
	case <-time.After(50 * time.Millisecond):
	}
	go func() {
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("control api stopped", "err", err)
		}
	}()
	logger.Info("control api listening", "addr", addr)
	return nil
}

// close tears the stack down in dependency order.
func (s *stack) close(ctx context.Context) {
	logger := pslog.Ctx(ctx)
	if s.api != nil {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), apiShutdownTimeout)
		if err := s.api.Shutdown(stopCtx); err != nil {
			logger.Warn("control api shutdown failed", "err", err)
		}
		cancel()
	}
	if s.hub != nil {
		s.hub.Close()
	}
	<-s.client.Close()
	s.loop.Stop()
	s.prefs.Close()
	if err := s.db.Close(); err != nil {
		logger.Warn("state database close failed", "err", err)
	}
}
