// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// InputPacketsTotal counts packets accepted into an input buffer
	InputPacketsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tsswitch_input_packets_total",
			Help: "Total number of packets received per input",
		},
		[]string{"input"},
	)

	// InputInvalidPacketsTotal counts packets rejected for a bad sync byte
	InputInvalidPacketsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tsswitch_input_invalid_packets_total",
			Help: "Total number of packets without a valid sync byte per input",
		},
		[]string{"input"},
	)

	// InputDroppedPacketsTotal counts packets discarded by the drop_oldest policy
	InputDroppedPacketsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tsswitch_input_dropped_packets_total",
			Help: "Total number of buffered packets discarded while the input was not current",
		},
		[]string{"input"},
	)

	// InputBufferPackets tracks buffer occupancy
	InputBufferPackets = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tsswitch_input_buffer_packets",
			Help: "Number of packets currently held in the input buffer",
		},
		[]string{"input"},
	)

	// OutputPacketsTotal counts packets accepted by the output sink
	OutputPacketsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tsswitch_output_packets_total",
			Help: "Total number of packets delivered to the output",
		},
	)

	// OutputErrorsTotal counts failed sink calls, retries included
	OutputErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tsswitch_output_errors_total",
			Help: "Total number of output send errors",
		},
	)

	// SwitchesTotal counts input switches by cause
	SwitchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tsswitch_switches_total",
			Help: "Total number of input switches",
		},
		[]string{"reason"},
	)

	// CurrentInput is the index of the current input
	CurrentInput = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tsswitch_current_input",
			Help: "Index of the input currently forwarded to the output",
		},
	)
)

// Switch reasons used as the SwitchesTotal label.
const (
	ReasonCommand = "command"
	ReasonTimeout = "receive_timeout"
	ReasonEnded   = "input_ended"
	ReasonPrimary = "primary"
)
