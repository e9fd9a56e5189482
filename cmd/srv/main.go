package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/yitech/perpchart/adapter"
	"github.com/yitech/perpchart/adapter/cache"
	"github.com/yitech/perpchart/adapter/pushfeed"
	"github.com/yitech/perpchart/adapter/rest"
	"github.com/yitech/perpchart/config"
	"github.com/yitech/perpchart/hub"
	"github.com/yitech/perpchart/logging"
	"github.com/yitech/perpchart/rpc"
)

func main() {
	cfg := config.MustLoad()

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
	logger.Info("server stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	var history adapter.HistorySource = rest.New(cfg.Source.RestURL, cfg.Source.Timeout)
	if cfg.Redis.Enabled {
		rdb, err := cache.Dial(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return err
		}
		defer rdb.Close()
		history = cache.New(history, rdb, cfg.Redis.TTL, logger)
		logger.Info("history cache enabled", zap.String("addr", cfg.Redis.Addr))
	}

	var feed adapter.Feed
	if cfg.Source.FeedURL != "" {
		pf := pushfeed.New(cfg.Source.FeedURL, logger, pushfeed.WithPingInterval(cfg.Source.PingInterval))
		defer pf.Close()
		feed = pf
	} else {
		logger.Warn("no feed_url configured, serving polled history only")
	}

	h := hub.New(history, feed, hub.Options{
		HistoryLimit: cfg.Source.HistoryLimit,
		PollInterval: cfg.Chart.PollInterval,
		LargeGap:     int64(cfg.Chart.LargeGap.Seconds()),
		QuietPeriod:  cfg.Chart.QuietPeriod,
		MaxCandles:   cfg.Chart.MaxCandles,
	}, logger)
	defer h.Close()

	lis, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		return err
	}

	s := grpc.NewServer()
	rpc.RegisterChartServer(s, rpc.NewServer(h, logger, 0))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("gRPC server listening", zap.String("addr", lis.Addr().String()))
		return s.Serve(lis)
	})
	g.Go(func() error {
		<-gctx.Done()
		// Subscribe streams never end on their own, so GracefulStop would hang.
		s.Stop()
		return nil
	})
	return g.Wait()
}
