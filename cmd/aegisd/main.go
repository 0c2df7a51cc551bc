// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Command aegisd runs the full detection-to-enforcement pipeline:
// ingest framing parsers, the feature engine, the detector ensemble,
// the policy agent chain, the orchestrator, and the gRPC/HTTP query
// surfaces, all wired by internal/pipeline.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"aegis.dev/aegis/internal/config"
	"aegis.dev/aegis/internal/ingest"
	"aegis.dev/aegis/internal/logging"
	"aegis.dev/aegis/internal/pipeline"
	"aegis.dev/aegis/internal/pipeline/httpapi"
	"aegis.dev/aegis/internal/pipeline/rpc"
)

func main() {
	configPath := flag.String("config", "", "Path to HCL config file")
	flag.Parse()

	var cfg *config.Config
	if *configPath != "" {
		var err error
		cfg, err = config.LoadFile(*configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
	} else {
		cfg = config.Default()
	}

	logger := logging.New(logging.DefaultConfig()).WithComponent("aegisd")

	p, err := pipeline.New(cfg, logger)
	if err != nil {
		log.Fatalf("failed to build pipeline: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := p.Start(ctx); err != nil {
		log.Fatalf("failed to start pipeline: %v", err)
	}

	startIngestListeners(ctx, cfg.Ingest, p.Normalizer(), logger)

	if cfg.Pipeline.GRPCListenAddr != "" {
		go func() {
			if err := rpc.Listen(ctx, cfg.Pipeline.GRPCListenAddr, p, logger.WithComponent("pipeline.rpc")); err != nil && ctx.Err() == nil {
				logger.Error("grpc server stopped", "error", err.Error())
			}
		}()
	}

	if cfg.Pipeline.HTTPListenAddr != "" {
		httpSrv := httpapi.New(cfg.Pipeline.HTTPListenAddr, p, logger.WithComponent("pipeline.httpapi"))
		go func() {
			if err := httpSrv.ListenAndServe(ctx); err != nil {
				logger.Error("http server stopped", "error", err.Error())
			}
		}()
	}

	logger.Info("aegisd started", "grpc_addr", cfg.Pipeline.GRPCListenAddr, "http_addr", cfg.Pipeline.HTTPListenAddr)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	cancel()
	p.Stop()
}

// startIngestListeners launches one goroutine per framing parser the
// config actually enables, mirroring the optional-block shape of
// config.IngestConfig: an unset listen addr or interface means that
// parser stays off.
func startIngestListeners(ctx context.Context, cfg *config.IngestConfig, norm *ingest.Normalizer, logger *logging.Logger) {
	if cfg == nil {
		return
	}
	sensorID := cfg.SensorID

	if cfg.PcapInterface != "" {
		cap := ingest.NewPCAPCapture(norm, sensorID, 0)
		go func() {
			if err := cap.RunInterface(ctx, cfg.PcapInterface, 0); err != nil && ctx.Err() == nil {
				logger.Error("pcap capture stopped", "error", err.Error(), "interface", cfg.PcapInterface)
			}
		}()
	}

	if cfg.NetflowListenAddr != "" {
		l := ingest.NewNetflowListener(norm, sensorID)
		go func() {
			if err := l.Run(ctx, cfg.NetflowListenAddr); err != nil && ctx.Err() == nil {
				logger.Error("netflow listener stopped", "error", err.Error(), "addr", cfg.NetflowListenAddr)
			}
		}()
	}

	if cfg.IPFIXListenAddr != "" {
		l := ingest.NewIPFIXListener(norm, sensorID)
		go func() {
			if err := l.Run(ctx, cfg.IPFIXListenAddr); err != nil && ctx.Err() == nil {
				logger.Error("ipfix listener stopped", "error", err.Error(), "addr", cfg.IPFIXListenAddr)
			}
		}()
	}

	if cfg.DNSLogListenAddr != "" {
		l := ingest.NewDNSLogListener(norm, sensorID)
		go func() {
			if err := l.Run(ctx, cfg.DNSLogListenAddr); err != nil && ctx.Err() == nil {
				logger.Error("dnslog listener stopped", "error", err.Error(), "addr", cfg.DNSLogListenAddr)
			}
		}()
	}
}
