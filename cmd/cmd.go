package cmd

import (
	"context"
	"errors"
	"net/http"
	"time"

	paho_mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/jackc/pgx/v5"
	"github.com/robfig/cron/v3"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/anicoll/homehub-integration/internal/pkg/config"
	"github.com/anicoll/homehub-integration/internal/pkg/database"
	"github.com/anicoll/homehub-integration/internal/pkg/database/migration"
	"github.com/anicoll/homehub-integration/internal/pkg/devices"
	"github.com/anicoll/homehub-integration/internal/pkg/mqtt"
	"github.com/anicoll/homehub-integration/internal/pkg/notifications"
	"github.com/anicoll/homehub-integration/internal/pkg/publisher"
	"github.com/anicoll/homehub-integration/internal/pkg/rest"
	"github.com/anicoll/homehub-integration/internal/pkg/server"
	"github.com/anicoll/homehub-integration/internal/pkg/session"
	"github.com/anicoll/homehub-integration/internal/pkg/stream"
	"github.com/anicoll/homehub-integration/internal/pkg/token"
)

func HubCommand(ctx *cli.Context) error {
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}
	if v := ctx.String("hub-url"); v != "" {
		cfg.HubCfg.URL = v
	}
	if v := ctx.String("hub-email"); v != "" {
		cfg.HubCfg.Email = v
	}
	if v := ctx.String("hub-password"); v != "" {
		cfg.HubCfg.Password = v
	}
	if v := ctx.String("token-file"); v != "" {
		cfg.HubCfg.TokenFile = v
	}
	if v := ctx.String("mqtt-host"); v != "" {
		cfg.MqttCfg.Host = v
	}
	if v := ctx.String("mqtt-user"); v != "" {
		cfg.MqttCfg.Username = v
	}
	if v := ctx.String("mqtt-pass"); v != "" {
		cfg.MqttCfg.Password = v
	}
	if v := ctx.String("database-url"); v != "" {
		cfg.DatabaseCfg.URL = v
	}
	if v := ctx.String("migrations-folder"); v != "" {
		cfg.DatabaseCfg.MigrationsFolder = v
	}
	if v := ctx.Duration("refresh-interval"); v > 0 {
		cfg.HubCfg.RefreshInterval = v
	}
	cfg.HubCfg.Ssl = ctx.Bool("hub-ssl")
	cfg.LogLevel = ctx.String("log-level")

	logger, err := buildLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync() // flushes buffer, if any.
	}()
	zap.ReplaceGlobals(logger)

	errorChan := make(chan error, 1000)
	registry := publisher.NewRegistry()

	if cfg.DatabaseCfg.URL != "" {
		if err := migration.Migrate(cfg.DatabaseCfg.URL, cfg.DatabaseCfg.MigrationsFolder); err != nil {
			return err
		}
		conn, err := pgx.Connect(ctx.Context, cfg.DatabaseCfg.URL)
		if err != nil {
			return err
		}
		db := database.NewDatabase(conn)
		defer db.Close()
		if err := registry.Register("postgres", db); err != nil {
			return err
		}
		return runWithDatabase(ctx.Context, cfg, registry, db, errorChan)
	}

	return run(ctx.Context, cfg, registry, nil, errorChan)
}

func buildLogger(level string) (*zap.Logger, error) {
	logCfg := zap.NewProductionConfig()
	parsed, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	logCfg.Level = parsed
	logCfg.OutputPaths = []string{"stdout"}
	logCfg.ErrorOutputPaths = []string{"stdout"}
	logCfg.Sampling = nil
	return logCfg.Build(zap.AddCaller(), zap.AddStacktrace(zap.ErrorLevel))
}

func runWithDatabase(ctx context.Context, cfg *config.Config, registry *publisher.Registry, db *database.Database, errorChan chan error) error {
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return cronDbCleanup(db, errorChan)
	})
	eg.Go(func() error {
		return run(ctx, cfg, registry, db, errorChan)
	})
	return eg.Wait()
}

func run(ctx context.Context, cfg *config.Config, registry *publisher.Registry, db *database.Database, errorChan chan error) error {
	logger := zap.L()
	eg, ctx := errgroup.WithContext(ctx)

	if cfg.MqttCfg.Host != "" {
		opts := paho_mqtt.NewClientOptions().
			AddBroker(cfg.MqttCfg.Host).
			SetUsername(cfg.MqttCfg.Username).
			SetPassword(cfg.MqttCfg.Password)
		mqttSvc := mqtt.New(paho_mqtt.NewClient(opts))
		if err := mqttSvc.Connect(); err != nil {
			return err
		}
		if err := registry.Register("mqtt", mqttSvc); err != nil {
			return err
		}
	}

	tokens := token.NewStore(cfg.HubCfg.TokenFile)
	if err := tokens.Load(); err != nil {
		return err
	}

	restClient, err := rest.NewClient(cfg.HubCfg.URL, tokens)
	if err != nil {
		return err
	}

	channel := stream.New(cfg.HubCfg, errorChan)
	deviceStore := devices.New(restClient, registry)
	notificationStore := notifications.New(restClient)
	sess := session.NewManager(deviceStore, notificationStore, channel, tokens, errorChan)

	if !tokens.Present() && cfg.HubCfg.Email != "" {
		tok, err := restClient.Login(ctx, cfg.HubCfg.Email, cfg.HubCfg.Password)
		if err != nil {
			return err
		}
		if err := tokens.Set(tok); err != nil {
			return err
		}
		logger.Info("logged in to hub")
	}

	if tokens.Present() {
		if err := sess.Start(ctx); err != nil {
			return err
		}
	} else {
		logger.Warn("no credential present, starting logged out")
	}

	eg.Go(func() error {
		return cronRefresh(ctx, sess, cfg.HubCfg.RefreshInterval)
	})

	var handler http.Handler
	if db != nil {
		handler = server.New(deviceStore, notificationStore, sess, db)
	} else {
		handler = server.New(deviceStore, notificationStore, sess, nil)
	}
	eg.Go(func() error {
		srv := &http.Server{
			Handler:      handler,
			Addr:         "0.0.0.0:8000",
			WriteTimeout: 15 * time.Second,
			ReadTimeout:  15 * time.Second,
		}
		go func() {
			<-ctx.Done()
			_ = srv.Close()
		}()
		return srv.ListenAndServe()
	})

	eg.Go(func() error {
		return drainErrors(ctx, sess, channel, errorChan)
	})

	return eg.Wait()
}

var errCron = errors.New("cron error")

func cronRefresh(ctx context.Context, sess SessionService, interval time.Duration) error {
	c := cron.New()
	if _, err := c.AddFunc("@every "+interval.String(), func() {
		sess.Refresh(ctx)
	}); err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		c.Stop()
	}()
	c.Run()
	return ctx.Err()
}

func cronDbCleanup(db *database.Database, errChan chan error) error {
	if err := db.Cleanup(context.Background()); err != nil {
		return err
	}

	// CRON automation
	c := cron.New()
	if _, err := c.AddFunc("0 3 * * *", func() {
		if err := db.Cleanup(context.Background()); err != nil {
			zap.L().Error("error cleaning up database", zap.Error(err))
			errChan <- errCron
			return
		}
		zap.L().Info("cleaned up state history")
	}); err != nil {
		return err
	}

	c.Run()
	return nil
}

// drainErrors handles async errors from the stream and sinks. Stream drops
// degrade the session to REST-only; a reattach is attempted on each error
// while a session is active.
func drainErrors(ctx context.Context, sess SessionService, channel StreamService, errorChan chan error) error {
	logger := zap.L()
	for {
		select {
		case err := <-errorChan:
			if errors.Is(err, errCron) {
				logger.Error("cron error", zap.Error(err))
				return err
			}
			if errors.Is(err, token.ErrExpired) {
				logger.Warn("credential expired, stopping session")
				sess.Stop()
				continue
			}
			logger.Error("async error", zap.Error(err))
			if !channel.IsConnected() {
				if startErr := sess.Start(ctx); startErr != nil {
					logger.Error("session reattach failed", zap.Error(startErr))
				}
			}
		case <-ctx.Done():
			logger.Info("context done")
			return ctx.Err()
		}
	}
}
