package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"storefront/api"
	"storefront/channel"
	"storefront/config"
	"storefront/consumers"
	"storefront/controllers"
	"storefront/database"
	"storefront/logging"
	"storefront/middlewares"
	"storefront/rabbitmq"
	"storefront/reconcile"
	"storefront/storage"
	"storefront/store"
	"storefront/utils"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log := logging.Init(logging.Options{Component: cfg.App.Name, Level: cfg.App.LogLevel, FilePath: cfg.App.LogFile})

	if err := run(cfg, log); err != nil {
		log.Error("storefront stopped", slog.Any("err", err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := utils.WithSignals(context.Background())
	defer stop()

	ls, closeStorage, err := openStorage(ctx, cfg)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer closeStorage()

	cart := store.NewCartStore(ls, logging.New("cart"))
	cart.Load(ctx)
	sessions := store.NewSessionStore(ls, logging.New("session"))
	sessions.Load(ctx)
	orders := store.NewOrderStore()
	notes := store.NewNotificationStore()

	client := api.NewClient(cfg.API.BaseURL, cfg.API.Timeout)

	var push *channel.Channel
	if cfg.RabbitMQ.URL != "" {
		push = channel.New(rabbitmq.NewTransport(cfg, logging.New("rabbitmq")), channel.Options{
			ReconnectAttempts: cfg.RabbitMQ.ReconnectAttempts,
			ReconnectDelay:    cfg.RabbitMQ.ReconnectDelay,
		}, logging.New("channel"))
		consumers.RegisterNotificationConsumer(push, notes, logging.New("consumer"))
		consumers.RegisterOrderConsumer(push, orders, logging.New("consumer"))
		defer push.Disconnect()

		if userID := sessions.UserID(ctx); userID != "" {
			if err := push.Connect(ctx, userID); err != nil {
				log.Warn("push channel unavailable, falling back to polling", slog.Any("err", err))
			}
		}
	} else {
		log.Info("rabbitmq.url not set, push channel disabled")
	}

	deps := reconcile.Deps{Source: client, Backend: client, Orders: orders, Cart: cart, Notes: notes}
	ctl := &controllers.Controller{
		Cart:      cart,
		Orders:    orders,
		Notes:     notes,
		Sessions:  sessions,
		Backend:   client,
		JWTSecret: cfg.JWTSecret,
		ViewWait:  cfg.Reconcile.ViewWait,
	}
	if push != nil {
		deps.Push = push
		ctl.Push = push
	}
	ctl.Reconciler = reconcile.New(deps, reconcile.Options{
		Interval:    cfg.Reconcile.Interval,
		MaxInterval: cfg.Reconcile.MaxInterval,
		Timeout:     cfg.Reconcile.Timeout,
		CallTimeout: cfg.API.Timeout,
	}, logging.New("reconcile"))

	router := controllers.NewRouter(ctl, middlewares.Authenticate(sessions, cfg.JWTSecret, logging.New("auth")), logging.New("http"))
	srv := &http.Server{
		Addr:              cfg.App.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("storefront listening", slog.String("addr", cfg.App.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		log.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// openStorage returns the local store selected by storage.driver and a
// closer for whatever connection backs it.
func openStorage(ctx context.Context, cfg *config.Config) (storage.Storage, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Storage.Driver {
	case "memory":
		return storage.NewMemoryStorage(), noop, nil
	case "file":
		fs, err := storage.NewFileStorage(cfg.Storage.Path)
		if err != nil {
			return nil, nil, err
		}
		return fs, noop, nil
	case "mysql":
		db, err := database.Open(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		if err := database.EnsureSchema(ctx, db); err != nil {
			db.Close()
			return nil, nil, err
		}
		return storage.NewSQLStorage(db), db.Close, nil
	case "redis":
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password})
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, nil, err
		}
		return storage.NewRedisStorage(rdb, cfg.Redis.Prefix), rdb.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
}
