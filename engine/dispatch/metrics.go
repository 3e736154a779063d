// Copyright (C) 2025 The FARFAN Project
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	invocationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "farfan_dispatch_invocations_total",
		Help: "Method invocations by executor class.",
	}, []string{"class"})

	failuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "farfan_dispatch_failures_total",
		Help: "Failed method invocations by executor class.",
	}, []string{"class"})
)
