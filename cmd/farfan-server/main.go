// Copyright (C) 2025 The FARFAN Project
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// farfan-server runs the policy-plan scoring engine behind an HTTP
// surface. It loads the canonical questionnaire, the per-slot executor
// contracts and the calibration configuration, wires the built-in
// analyzers, and serves until interrupted.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/THEBLESSMAN867/farfan/engine"
	"github.com/THEBLESSMAN867/farfan/engine/analyzers"
	"github.com/THEBLESSMAN867/farfan/engine/calibration"
	"github.com/THEBLESSMAN867/farfan/engine/contracts"
	"github.com/THEBLESSMAN867/farfan/engine/registry"
	"github.com/THEBLESSMAN867/farfan/pkg/logging"
	"github.com/THEBLESSMAN867/farfan/server"
)

func main() {
	var (
		settingsPath      = flag.String("settings", "", "engine settings YAML, empty for built-in defaults")
		contractsDir      = flag.String("contracts", "configs/contracts", "directory of executor contract JSON files")
		calibrationPath   = flag.String("calibration", "configs/calibration.json", "calibration configuration file")
		questionnairePath = flag.String("questionnaire", "configs/questionnaire.json", "canonical questionnaire file")
		logDir            = flag.String("log-dir", "", "directory for JSON log files, empty to log to stderr only")
		jsonLogs          = flag.Bool("json-logs", false, "emit JSON on stderr")
	)
	flag.Parse()

	logger, err := logging.New(logging.Config{
		LogDir:  *logDir,
		Service: "farfan-server",
		JSON:    *jsonLogs,
	})
	if err != nil {
		slog.Error("Logger initialization failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer func() { _ = logger.Close() }()
	log := logger.Slog()

	settings, err := engine.LoadSettings(*settingsPath)
	if err != nil {
		log.Error("Settings load failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	calCfg, err := calibration.Load(*calibrationPath)
	if err != nil {
		log.Error("Calibration load failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	contractSet, err := contracts.LoadDir(*contractsDir)
	if err != nil {
		log.Error("Contract load failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	questionnaire, err := contracts.LoadQuestionnaire(*questionnairePath)
	if err != nil {
		log.Error("Questionnaire load failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	reg := registry.New()
	analyzers.Register(reg)

	container, err := engine.New(engine.Options{
		Settings:      settings,
		Logger:        log,
		Registry:      reg,
		Calibration:   calCfg,
		Contracts:     contractSet,
		Questionnaire: questionnaire,
	})
	if err != nil {
		log.Error("Engine wiring failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer func() { _ = container.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.New(container, settings.Server.Addr, log)
	log.Info("Scoring engine ready",
		slog.Int("questions", len(container.Questions())),
		slog.String("addr", settings.Server.Addr))
	if err := srv.Run(ctx); err != nil {
		log.Error("Server exited with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
