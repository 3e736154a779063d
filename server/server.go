// Copyright (C) 2025 The FARFAN Project
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package server exposes the scoring engine over HTTP: submit a document
// for a run, poll the run manifest, fetch the per-question answers.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/THEBLESSMAN867/farfan/engine"
	"github.com/THEBLESSMAN867/farfan/engine/runstore"
)

// Server is the HTTP surface over one engine container.
type Server struct {
	container *engine.Container
	logger    *slog.Logger
	http      *http.Server
}

// New builds the server. Call Run to serve.
func New(c *engine.Container, addr string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		container: c,
		logger:    logger.With(slog.String("component", "server")),
	}
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Routes assembles the gin engine. Exposed for httptest.
func (s *Server) Routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", s.handleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")
	v1.POST("/runs", s.handleSubmitRun)
	v1.GET("/runs/:id", s.handleGetRun)
	v1.GET("/runs/:id/answers", s.handleGetAnswers)
	return r
}

// Run serves until the context is cancelled, then drains.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", slog.String("addr", s.http.Addr))
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleGetRun(c *gin.Context) {
	m, err := s.container.Store().GetManifest(c.Param("id"))
	if errors.Is(err, runstore.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown run"})
		return
	}
	if err != nil {
		s.logger.Error("Manifest lookup failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, m)
}

func (s *Server) handleGetAnswers(c *gin.Context) {
	id := c.Param("id")
	if _, err := s.container.Store().GetManifest(id); errors.Is(err, runstore.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown run"})
		return
	}
	recs, err := s.container.Store().ListRecords(id)
	if err != nil {
		s.logger.Error("Record listing failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"run_id": id, "answers": recs})
}
