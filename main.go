package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/prl900/dem_prep/logger"
	"github.com/prl900/dem_prep/pipeline"
)

func main() {
	configFile := flag.String("config", "config.json", "pipeline configuration file")
	envFile := flag.String("env", ".env", "file with secrets and endpoints")
	satelliteOnly := flag.Bool("satellite-only", false, "redo only the satellite download and drape over the aoi and clipped dem of an earlier run")
	serve := flag.String("serve", "", "after the run, serve the output directory on this address, e.g. :8080")
	flag.Parse()

	envErr := godotenv.Load(*envFile)
	log := logger.Setup()
	if envErr != nil && !errors.Is(envErr, fs.ErrNotExist) {
		log.Warn("env_load_failed", "file", *envFile, "error", envErr)
	}

	cfg, err := pipeline.ReadConfig(*configFile)
	if err != nil {
		log.Error("config_invalid", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := pipeline.New(ctx, cfg)
	if err != nil {
		log.Error("pipeline_setup_failed", "error", err)
		os.Exit(1)
	}
	run := p.Run
	if *satelliteOnly {
		run = p.RunSatellite
	}
	res, err := run(ctx)
	p.Close()
	if err != nil {
		log.Error("pipeline_failed", "error", err)
		os.Exit(1)
	}
	log.Info("pipeline_done", "output_dir", cfg.OutputDir, "artifacts", len(res.Artifacts))
	if err := pipeline.Report(os.Stdout, res); err != nil {
		log.Error("report_failed", "error", err)
	}

	if *serve == "" {
		return
	}
	log.Info("serving_output", "addr", *serve, "dir", cfg.OutputDir)
	srv := &http.Server{Addr: *serve, Handler: newServer(cfg.OutputDir)}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("server_failed", "error", err)
		os.Exit(1)
	}
}
