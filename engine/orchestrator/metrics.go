// Copyright (C) 2025 The FARFAN Project
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	phasesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "farfan_orchestrator_phases_total",
		Help: "Completed phases by name and outcome.",
	}, []string{"phase", "outcome"})

	breakerTripsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "farfan_orchestrator_breaker_trips_total",
		Help: "Circuit breaker trips across all runs.",
	})
)
