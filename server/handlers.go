// Copyright (C) 2025 The FARFAN Project
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var runsTracer = otel.Tracer("farfan/server")

// handleSubmitRun accepts a document, starts a run, and answers 202 with
// the run id. The run executes in the background; poll GET /v1/runs/:id.
func (s *Server) handleSubmitRun(c *gin.Context) {
	_, span := runsTracer.Start(c.Request.Context(), "handleSubmitRun")
	defer span.End()

	var req SubmitRunRequest
	if err := c.BindJSON(&req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if len(req.Chunks) == 0 && req.FullText == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "either chunks or full_text is required"})
		return
	}

	doc, err := req.ToDocument()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	run := s.container.StartRun(doc)
	go func() {
		// The run outlives the request; it must not inherit its
		// cancellation.
		if _, err := s.container.ExecuteRun(context.Background(), run); err != nil {
			s.logger.Error("Run faulted",
				slog.String("run_id", run.ID()),
				slog.String("error", err.Error()))
		}
	}()

	c.JSON(http.StatusAccepted, SubmitRunResponse{RunID: run.ID(), State: "accepted"})
}
