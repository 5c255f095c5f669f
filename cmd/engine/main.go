// Command engine runs the exchange matching engine: it loads
// configuration, wires the coordinator and its Redis bus adapter, and
// blocks until SIGINT/SIGTERM (spec.md §6).
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"

	"exchange/internal/bus"
	"exchange/internal/config"
	"exchange/internal/engine"
	"exchange/internal/money"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed loading configuration")
	}

	maintenanceMargin, err := money.Parse(cfg.MaintenanceMargin)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid maintenance_margin")
	}
	shortSafety, err := money.Parse(cfg.ShortSafetyMultiplier)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid short_safety_multiplier")
	}

	eng, err := engine.New(cfg.Markets, maintenanceMargin, shortSafety, money.Zero, cfg.MaxLeverage)
	if err != nil {
		log.Fatal().Err(err).Msg("failed constructing engine")
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer func() {
		if err := client.Close(); err != nil {
			log.Error().Err(err).Msg("error closing redis client")
		}
	}()

	adapter := bus.New(client, eng, time.Duration(cfg.IntakeTimeoutMS)*time.Millisecond)

	t, ctx := tomb.WithContext(ctx)
	adapter.Run(t, ctx)
	t.Go(func() error {
		return adapter.PriceSweepLoop(t, time.Duration(cfg.PriceUpdateIntervalMS)*time.Millisecond)
	})
	t.Go(func() error {
		return adapter.LiquidationSweepLoop(t, time.Duration(cfg.PnLIntervalMS)*time.Millisecond)
	})

	log.Info().Strs("markets", cfg.Markets).Msg("engine running")

	<-ctx.Done()
	t.Kill(nil)
	if err := t.Wait(); err != nil {
		log.Error().Err(err).Msg("engine shut down with error")
		os.Exit(1)
	}
}
