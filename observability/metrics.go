/*
   Copyright 2025 The DIRPX Authors.

   Licensed under the Apache License, Version 2.0 (the "License");
   you may not use this file except in compliance with the License.
   You may obtain a copy of the License at

       http://www.apache.org/licenses/LICENSE-2.0

   Unless required by applicable law or agreed to in writing, software
   distributed under the License is distributed on an "AS IS" BASIS,
   WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
   See the License for the specific language governing permissions and
   limitations under the License.
*/

package observability

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels for commands_total.
const (
	OutcomeOK        = "ok"
	OutcomeError     = "error"
	OutcomeCancelled = "cancelled"
)

// Metrics groups the collectors exported by a coordinator.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	commands         *prometheus.CounterVec
	duration         *prometheus.HistogramVec
	outstanding      *prometheus.GaugeVec
	contexts         prometheus.Gauge
	detachedFailures *prometheus.CounterVec
}

// NewMetrics creates the collectors under namespace and registers them with
// reg. Collectors already registered by an earlier coordinator are reused, so
// several coordinators may share one registerer. A nil reg skips registration.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	m := &Metrics{
		commands: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "context",
				Name:      "commands_total",
				Help:      "Lifecycle commands executed per module.",
			},
			[]string{"module", "command", "outcome"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "context",
				Name:      "command_duration_seconds",
				Help:      "Time from command admission to settle, including queueing.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"module", "command"},
		),
		outstanding: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "context",
				Name:      "outstanding_commands",
				Help:      "Admitted commands that have not settled yet.",
			},
			[]string{"module"},
		),
		contexts: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "contexts",
				Help:      "Module contexts created so far.",
			},
		),
		detachedFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "pool",
				Name:      "detached_failures_total",
				Help:      "Detached tasks that returned an error or panicked.",
			},
			[]string{"task"},
		),
	}
	if reg == nil {
		return m
	}
	m.commands = register(reg, m.commands)
	m.duration = register(reg, m.duration)
	m.outstanding = register(reg, m.outstanding)
	m.contexts = register(reg, m.contexts)
	m.detachedFailures = register(reg, m.detachedFailures)
	return m
}

// register registers c, or returns the collector that already occupies its slot.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

// CommandAdmitted bumps the outstanding gauge for module.
func (m *Metrics) CommandAdmitted(module string) {
	if m == nil {
		return
	}
	m.outstanding.WithLabelValues(module).Inc()
}

// CommandSettled records the outcome of one command.
func (m *Metrics) CommandSettled(module, command, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.outstanding.WithLabelValues(module).Dec()
	m.commands.WithLabelValues(module, command, outcome).Inc()
	m.duration.WithLabelValues(module, command).Observe(d.Seconds())
}

// ContextCreated bumps the cache gauge.
func (m *Metrics) ContextCreated() {
	if m == nil {
		return
	}
	m.contexts.Inc()
}

// DetachedFailed counts a failed detached task.
func (m *Metrics) DetachedFailed(task string) {
	if m == nil {
		return
	}
	m.detachedFailures.WithLabelValues(task).Inc()
}
