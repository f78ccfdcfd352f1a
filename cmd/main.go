package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"dmxsync/internal/api"
	"dmxsync/internal/artnet"
	"dmxsync/internal/board"
	"dmxsync/internal/clientmqtt"
	"dmxsync/internal/coalescer"
	"dmxsync/internal/config"
	"dmxsync/internal/console"
	"dmxsync/internal/device"
	"dmxsync/internal/logger"
	"dmxsync/internal/poller"
)

var configFile string

func init() {
	flag.StringVar(&configFile, "config", "configs/conf.toml", "Path to configuration file")
}

func main() {
	flag.Parse()
	cfg, err := config.NewConfig(configFile)
	if err != nil {
		fmt.Printf("configuration file read error: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(cfg.Logger)
	if err != nil {
		fmt.Printf("failed to create a logger: %v\n", err)
		os.Exit(1)
	}
	log.With(logger.Fields{"module": "logger"}).Debug("newLogger created ok")

	if err := run(cfg, log); err != nil {
		log.Errorf("%v", err)
		os.Exit(1)
	}
	log.Info("shutdown complete")
}

func run(cfg *config.Config, log *logger.Log) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer cancel()

	client := device.NewClient(log, device.Config{BaseURL: cfg.Device.BaseURL, Timeout: cfg.Device.Timeout()})

	sched, err := poller.New(log, poller.Config{Interval: cfg.Poll.Interval()})
	if err != nil {
		return err
	}

	writes, err := coalescer.New(log, coalescer.Config{Window: cfg.Coalesce.Window()}, coalescer.ToDevice(client))
	if err != nil {
		return err
	}
	// a failed channel write leaves the optimistic value on screen, re-read the buffer
	writes.OnError(func(key coalescer.Key, _ error) {
		if key.Kind == coalescer.DMXChannel {
			sched.Refresh(ctx, console.BufferKey(key.Buffer))
		}
	})

	cons, err := console.NewStore(log, console.Config{MaxBuffer: cfg.Console.MaxBuffer}, client, sched, writes)
	if err != nil {
		return err
	}
	brd, err := board.NewStore(log, board.Config{ImmediateRetries: cfg.Poll.ImmediateRetries}, client, sched, writes)
	if err != nil {
		return err
	}

	if cfg.MQTT.Enabled {
		mq := clientmqtt.NewClient(log, cfg.MQTT, cons, brd)
		cons.OnChange(mq.PublishConsole)
		brd.OnChange(mq.PublishBoard)
		if err := mq.Start(ctx); err != nil {
			return fmt.Errorf("failed to start MQTT service: %w", err)
		}
		defer func() {
			if err := mq.Stop(); err != nil {
				log.Error("failed to stop MQTT service:", err.Error())
			}
		}()
		log.With(logger.Fields{"module": "mqtt"}).Debugf("client %s started", mq.ClientID())
	}

	if cfg.ArtNet.Enabled {
		a, err := artnet.NewController(log, cfg.ArtNet)
		if err != nil {
			return fmt.Errorf("error while creating a new controller art-net: %w", err)
		}
		if err := a.Start(ctx); err != nil {
			return fmt.Errorf("failed to start art-net service: %w", err)
		}
		defer a.Stop()
		cons.OnChange(a.Mirror)
	}

	apiErr := make(chan error, 1)
	if cfg.API.Enabled {
		srv := api.NewServer(log, cfg.API.Listen, api.NewRouter(cons, brd, sched))
		go func() { apiErr <- srv.Run(ctx) }()
	}

	writes.Start(ctx)
	cons.Start(ctx)
	brd.Start(ctx)
	runDone := make(chan struct{})
	go func() {
		sched.Run(ctx)
		close(runDone)
	}()

	select {
	case <-ctx.Done():
	case err := <-apiErr:
		if err != nil {
			log.With(logger.Fields{"module": "api"}).Errorf("server stopped: %v", err)
		}
		cancel()
	}

	<-runDone
	writes.Stop()
	cons.Stop()
	sched.Wait()
	return nil
}
