package main

import (
	"context"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"PPRelay/global"
	"PPRelay/logger"
	mid "PPRelay/middleware"
	midsec "PPRelay/middleware/security"
	"PPRelay/module/user"
	"PPRelay/service/broker"
	"PPRelay/service/health"
	"PPRelay/service/metrics"
	"PPRelay/service/relay"
	"PPRelay/service/relay/handlers"
	"PPRelay/service/storage"
	redisx "PPRelay/service/storage/redis"
	"PPRelay/tools/ids"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	path := flag.String("config", os.Getenv("PPRELAY_CONFIG"), "path to the yaml config")
	flag.Parse()

	cfg, err := global.Load(*path)
	if err != nil {
		logger.New("info", false).Fatal("load config", zap.Error(err))
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Color)
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("relay stopped", zap.Error(err))
	}
	log.Info("relay stopped")
}

func run(ctx context.Context, cfg global.AppConfig, log *zap.Logger) error {
	rdb, err := redisx.NewClient(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer func() { _ = rdb.Close() }()

	b, err := broker.Open(cfg.Broker, rdb, log)
	if err != nil {
		return err
	}
	defer func() { _ = b.Close() }()

	m, err := metrics.New(nil)
	if err != nil {
		return err
	}

	presence := storage.NewPresenceStore(rdb, cfg.Presence.KeyPrefix, cfg.Presence.TTL)
	router := relay.NewRouter(b, ids.NewGenerator(cfg.NodeID), log, m)
	for _, nc := range cfg.Namespaces {
		var h relay.ResourceHandler
		if nc.Presence {
			h = handlers.NewPresence(presence, broker.NewPublisher(b), log)
		}
		if err := router.Register(relay.NewNamespace(nc, h)); err != nil {
			return err
		}
		log.Info("namespace registered", zap.String("namespace", nc.Name), zap.String("channel", nc.Channel))
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), mid.AccessLog(log))
	engine.Use(mid.NewChain(mid.RequestID(), mid.Origin(cfg.WS.AllowedOrigins)).Use())

	opt := mid.RouteOpt{}
	if cfg.Auth.Enabled {
		opt = mid.RouteOpt{IsAuth: true, Auth: midsec.Middleware(midsec.DefaultOptions(cfg.Auth))}
	}
	user.NewHandler(presence, log).Routes(engine, mid.RouteOpt{})
	mid.GET(engine, "/ws/:namespace", relay.NewWSServer(router, cfg.WS, log).HandleWS, opt)

	hs := health.NewService(health.Config{}, log)
	hs.Add("broker", b.Ping)
	hs.Add("redis", func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
	hs.Start()
	defer hs.Stop()

	var lis net.Listener
	if cfg.HTTP.GrpcAddr != "" {
		if lis, err = net.Listen("tcp", cfg.HTTP.GrpcAddr); err != nil {
			return err
		}
	}
	srv := &http.Server{Addr: cfg.HTTP.Addr, Handler: engine, ReadHeaderTimeout: 10 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("http listening", zap.String("addr", cfg.HTTP.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if lis != nil {
		g.Go(func() error {
			log.Info("grpc health listening", zap.String("addr", cfg.HTTP.GrpcAddr))
			return hs.Serve(gctx, lis)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		// sessions first so their unsubscribes still reach the broker
		if err := router.Shutdown(sctx); err != nil {
			log.Warn("router shutdown", zap.Error(err))
		}
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}
