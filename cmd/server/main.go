package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"accessportal/internal/access"
	"accessportal/internal/api"
	"accessportal/internal/audit"
	"accessportal/internal/auth"
	"accessportal/internal/config"
	"accessportal/internal/db"
	"accessportal/internal/invite"
	"accessportal/internal/logging"
	"accessportal/internal/maintenance"
	"accessportal/internal/metrics"
	"accessportal/internal/notify"
	"accessportal/internal/rate"
	"accessportal/internal/service"
	"accessportal/internal/sso"
	"accessportal/internal/store"
	"accessportal/internal/util"
	"accessportal/internal/version"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("load config: %v", err)
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat)
	info := version.Current()
	log.WithFields(logrus.Fields{"version": info.Version, "commit": info.Commit, "env": cfg.AppEnv}).Info("starting access portal")

	x, err := db.Open(db.Options{
		Driver:      cfg.DBDriver,
		DSN:         cfg.DBDSN,
		Path:        cfg.DBPath,
		MaxOpen:     cfg.DBMaxOpenConns,
		MaxIdle:     cfg.DBMaxIdleConns,
		MaxLifetime: cfg.DBConnMaxLifetime,
	})
	if err != nil {
		log.WithError(err).Fatal("open db")
	}
	defer x.Close()
	if err := db.Migrate(x); err != nil {
		log.WithError(err).Fatal("migration")
	}
	st := store.New(x)

	tokens, err := auth.NewTokenService(cfg.JWTSecret, cfg.SessionTTL())
	if err != nil {
		log.WithError(err).Fatal("session tokens")
	}
	box, err := util.NewSecretBox(cfg.JWTSecret)
	if err != nil {
		log.WithError(err).Fatal("settings encryption")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	recorder := audit.NewRecorder(log, m, audit.NewDBSink(st), audit.NewFileSink(cfg.AuditLogPath, cfg.Production()))

	ctx := context.Background()
	sender, err := notify.NewSender(ctx, cfg, st, log)
	if err != nil {
		log.WithError(err).Fatal("invite sender")
	}

	pruner := maintenance.NewPruner(st, cfg.AuditRetentionDays, log, m)
	svc := service.New(service.Deps{
		Config:  cfg,
		Store:   st,
		Tokens:  tokens,
		Access:  access.NewResolver(st),
		Invites: invite.NewManager(st, sender, cfg.BaseURL, log),
		Audit:   recorder,
		Pruner:  pruner,
		Secrets: box,
		Log:     log,
		Metrics: m,
	})
	if err := svc.Bootstrap(ctx); err != nil {
		log.WithError(err).Fatal("bootstrap")
	}

	google := sso.NewGoogle(sso.Config{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		Domain:       cfg.GoogleWorkspaceDomain,
		RedirectURL:  cfg.SSORedirectURL(),
	}, st, tokens, recorder, log, m)
	if !cfg.SSOConfigured() {
		log.Info("google sso disabled: GOOGLE_CLIENT_ID, GOOGLE_CLIENT_SECRET and GOOGLE_WORKSPACE_DOMAIN are required")
	}

	scheduler, err := maintenance.NewScheduler(cfg.AuditPruneSchedule, pruner, log)
	if err != nil {
		log.WithError(err).Fatal("audit prune schedule")
	}
	scheduler.Start()

	var probes []api.Probe
	if smtpSender, ok := sender.(*notify.SMTPSender); ok {
		probes = append(probes, api.Probe{Name: "smtp", Check: smtpSender.Probe})
	}

	handler := api.NewRouter(cfg, svc, api.Options{
		SSO:     google,
		Limiter: rate.NewSlidingWindow(cfg.LoginRateWindow(), cfg.LoginRateMaxKeys),
		Metrics: m,
		Log:     log,
		Probes:  probes,
		WebDir:  cfg.WebDir,
	})

	hsrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadTimeout:       time.Duration(cfg.HTTPReadTimeoutSec) * time.Second,
		ReadHeaderTimeout: time.Duration(cfg.HTTPReadHeaderTimeoutSec) * time.Second,
		WriteTimeout:      time.Duration(cfg.HTTPWriteTimeoutSec) * time.Second,
		IdleTimeout:       time.Duration(cfg.HTTPIdleTimeoutSec) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.ListenAddr).Info("listening")
		if err := hsrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-stop:
		log.WithField("signal", sig.String()).Info("shutting down")
	case err := <-errCh:
		if err != nil {
			log.WithError(err).Error("server")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	scheduler.Stop(shutdownCtx)
	if err := hsrv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("graceful shutdown")
	}
}
