package runner

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	transfersToDevice = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shuttle_transfers_to_device_total",
		Help: "Total number of host to device buffer transfers",
	})

	transfersToHost = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shuttle_transfers_to_host_total",
		Help: "Total number of device to host buffer transfers",
	})

	transferBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shuttle_transfer_bytes_total",
		Help: "Total bytes moved between host and device in either direction",
	})

	kernelLaunches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shuttle_kernel_launches_total",
		Help: "Total number of kernel execution calls",
	})

	fusedPasses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shuttle_fused_passes_total",
		Help: "Total number of device-resident passes run inside fused executions",
	})
)
