// Copyright (C) 2025 The FARFAN Project
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routing

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	routingDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "farfan_routing_decisions_total",
		Help: "Total chunk routing decisions by executor class and scope",
	}, []string{"executor_class", "scope"})

	routingSkipsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "farfan_routing_skips_total",
		Help: "Total chunks skipped because no executor class handles their type",
	}, []string{"chunk_type"})
)
