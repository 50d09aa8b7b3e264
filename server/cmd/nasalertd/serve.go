package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nasalert/nasalert/server/internal/alerts"
	"github.com/nasalert/nasalert/server/internal/api"
	"github.com/nasalert/nasalert/server/internal/auth"
	"github.com/nasalert/nasalert/server/internal/config"
	"github.com/nasalert/nasalert/server/internal/identity"
	"github.com/nasalert/nasalert/server/internal/source"
	"github.com/nasalert/nasalert/server/internal/store"
	"github.com/nasalert/nasalert/server/internal/ws"
)

const (
	broadcastInterval = 5 * time.Second
	shutdownTimeout   = 10 * time.Second
)

func newServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the alert daemon",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return serve(ctx, configPath, zap.L())
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to config file (built-in defaults when empty)")
	return cmd
}

func serve(ctx context.Context, configPath string, logger *zap.Logger) error {
	cfg := config.Default()
	if configPath != "" {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			return err
		}
	}
	logger.Info("nasalertd starting",
		zap.String("config", configPath),
		zap.Int("http_port", cfg.Server.HTTPPort),
		zap.String("auth_mode", cfg.Server.Auth.Mode),
		zap.String("store", cfg.Store.Driver),
	)

	authn, err := authMiddleware(cfg.Server.Auth)
	if err != nil {
		return err
	}

	st, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		return err
	}
	defer st.Close()

	overrides, err := cfg.Alerts.Overrides()
	if err != nil {
		return err
	}
	dispatcher := alerts.NewDispatcher(logger, buildNotifiers(cfg.Alerts, logger)...)
	mgr := alerts.NewManager(st, dispatcher, logger)
	mgr.SetOverrides(overrides)
	if err := mgr.Load(ctx); err != nil {
		return err
	}

	chain := identity.NewChain(logger, buildProviders(cfg.Identity)...)

	var dirSource *source.DirectoryServices
	sources := buildSources(cfg.Sources, logger)
	if cfg.Sources.DirectoryServices != nil {
		dirSource = source.NewDirectoryServices(chain, cfg.Sources.DirectoryServices.Interval)
		sources = append(sources, dirSource)
	}
	runner := source.NewRunner(mgr, logger, sources...)
	if dirSource != nil {
		// Re-probe directories as soon as a lookup finds one down.
		chain.OnUnavailable(func(string, error) { runner.Trigger(dirSource.Name()) })
	}

	hub := ws.New(mgr, broadcastInterval)
	mgr.OnChange(hub.Kick)

	mux := http.NewServeMux()
	mux.Handle("/api/", authn(api.New(mgr, chain)))
	mux.Handle("/ws/alerts", authn(hub))
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("HTTP server listening", zap.Int("port", cfg.Server.HTTPPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "http server")
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("nasalertd shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	g.Go(func() error { return dispatcher.Run(ctx) })
	g.Go(func() error { return runner.Run(ctx) })
	g.Go(func() error { return hub.Run(ctx) })
	if configPath != "" {
		g.Go(func() error {
			return config.Watch(ctx, configPath, func(next *config.Config) {
				reload(next, mgr, dispatcher, chain, logger)
			})
		})
	}
	return g.Wait()
}

// authMiddleware refuses to start in apikey mode when the key variable is
// unset rather than serving the API unauthenticated.
func authMiddleware(a config.AuthConfig) (func(http.Handler) http.Handler, error) {
	if a.Mode == "apikey" && a.Key() == "" {
		return nil, errors.Newf("server.auth: mode apikey but $%s is empty", a.KeyEnv)
	}
	return auth.APIKey(a.Mode, a.EffectiveHeader(), a.Key()), nil
}

// reload applies the parts of a new config that can change without a
// restart: class overrides, notifiers and identity providers.
func reload(cfg *config.Config, mgr *alerts.Manager, d *alerts.Dispatcher, chain *identity.Chain, logger *zap.Logger) {
	overrides, err := cfg.Alerts.Overrides()
	if err != nil {
		logger.Error("config reload: keeping previous class overrides", zap.Error(err))
	} else {
		mgr.SetOverrides(overrides)
	}
	d.SetNotifiers(buildNotifiers(cfg.Alerts, logger))
	chain.SetProviders(buildProviders(cfg.Identity))
	logger.Info("config reloaded")
}

func buildNotifiers(cfg config.AlertsConfig, logger *zap.Logger) []alerts.Notifier {
	var out []alerts.Notifier
	for _, wh := range cfg.Webhooks {
		n, err := alerts.NewWebhook(wh.Type, wh.URL())
		if err != nil {
			logger.Warn("skipping webhook", zap.String("type", wh.Type), zap.Error(err))
			continue
		}
		out = append(out, n)
	}
	if m := cfg.Mail; m != nil {
		n, err := alerts.NewMail(m.Addr, m.From, m.To, m.Username, m.Password())
		if err != nil {
			logger.Warn("skipping mail notifier", zap.Error(err))
		} else {
			out = append(out, n)
		}
	}
	return out
}

func buildProviders(cfg config.IdentityConfig) []identity.Provider {
	out := make([]identity.Provider, 0, len(cfg.Providers))
	for _, p := range cfg.Providers {
		dc := identity.DirectoryConfig{
			URL:                p.URL,
			BaseDN:             p.BaseDN,
			BindDN:             p.BindDN,
			BindPassword:       p.BindPassword(),
			Timeout:            p.Timeout,
			InsecureSkipVerify: p.InsecureSkipVerify,
		}
		switch p.Type {
		case "activedirectory":
			out = append(out, identity.WithBreaker(identity.NewActiveDirectory(dc), cfg.Breaker.Failures, cfg.Breaker.Timeout))
		case "ldap":
			out = append(out, identity.WithBreaker(identity.NewLDAP(dc), cfg.Breaker.Failures, cfg.Breaker.Timeout))
		case "nis":
			out = append(out, identity.WithBreaker(identity.NewNIS(p.Domain), cfg.Breaker.Failures, cfg.Breaker.Timeout))
		case "local":
			out = append(out, identity.NewLocal(p.PasswdFile, p.GroupFile))
		}
	}
	return out
}

func buildSources(cfg config.SourcesConfig, logger *zap.Logger) []source.Source {
	var out []source.Source
	if v := cfg.VolumeStatus; v != nil {
		var reader source.PoolReader
		if v.Command {
			reader = source.NewCommandPools()
		} else {
			reader = source.NewMetricsPools(v.MetricsURL, nil)
		}
		out = append(out, source.NewVolumeStatus(reader, v.Interval))
	}
	if c := cfg.Certificates; c != nil {
		out = append(out, source.NewCertificateExpiry(c.Endpoints, c.WarnDays, c.Interval, logger))
	}
	return out
}
