// Package metrics exposes Prometheus collectors for the engine's
// routing table, RPC traffic, lookup convergence, and transfer
// throughput.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector groups every metric the engine reports. A nil *Collector is
// valid: every method on it is a no-op, so wiring metrics is optional
// throughout the rest of the codebase.
type Collector struct {
	registry *prometheus.Registry

	routingTablePeers  prometheus.Gauge
	recentCacheSize    prometheus.Gauge
	rpcsTotal          *prometheus.CounterVec
	rpcErrorsTotal     *prometheus.CounterVec
	lookupHops         prometheus.Histogram
	lookupDuration     prometheus.Histogram
	chunksTransferred  *prometheus.CounterVec
	downloadBytesTotal prometheus.Counter
}

// New builds a Collector with its own registry (not the global default,
// so multiple peers in the same test binary don't collide).
func New() *Collector {
	reg := prometheus.NewRegistry()
	c := &Collector{
		registry: reg,
		routingTablePeers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pire_routing_table_peers", Help: "Peers currently known in the bucket tree.",
		}),
		recentCacheSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pire_recent_peers_cache_size", Help: "Peers currently held in the recent-peers cache.",
		}),
		rpcsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pire_rpcs_total", Help: "RPCs processed, by opcode and direction.",
		}, []string{"opcode", "direction"}),
		rpcErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pire_rpc_errors_total", Help: "RPC error responses, by error kind.",
		}, []string{"kind"}),
		lookupHops: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "pire_lookup_hops", Help: "Rounds a find_closest_node lookup took to converge.",
			Buckets: prometheus.LinearBuckets(1, 1, 10),
		}),
		lookupDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "pire_lookup_duration_seconds", Help: "Wall time a lookup took to converge.",
			Buckets: prometheus.DefBuckets,
		}),
		chunksTransferred: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pire_chunks_transferred_total", Help: "Chunks transferred, by direction.",
		}, []string{"direction"}),
		downloadBytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pire_download_bytes_total", Help: "Bytes written to disk by completed downloads.",
		}),
	}

	reg.MustRegister(
		c.routingTablePeers, c.recentCacheSize, c.rpcsTotal, c.rpcErrorsTotal,
		c.lookupHops, c.lookupDuration, c.chunksTransferred, c.downloadBytesTotal,
	)
	return c
}

// Handler returns the HTTP handler serving this Collector's registry in
// the Prometheus exposition format; the cmd/pire binary serves it when
// run with -metrics.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) SetRoutingTablePeers(n int) {
	if c == nil {
		return
	}
	c.routingTablePeers.Set(float64(n))
}

func (c *Collector) SetRecentCacheSize(n int) {
	if c == nil {
		return
	}
	c.recentCacheSize.Set(float64(n))
}

func (c *Collector) ObserveRPC(opcode, direction string) {
	if c == nil {
		return
	}
	c.rpcsTotal.WithLabelValues(opcode, direction).Inc()
}

func (c *Collector) ObserveRPCError(kind string) {
	if c == nil {
		return
	}
	c.rpcErrorsTotal.WithLabelValues(kind).Inc()
}

func (c *Collector) ObserveLookupHops(hops int) {
	if c == nil {
		return
	}
	c.lookupHops.Observe(float64(hops))
}

func (c *Collector) ObserveLookupDuration(seconds float64) {
	if c == nil {
		return
	}
	c.lookupDuration.Observe(seconds)
}

func (c *Collector) ObserveChunkTransferred(direction string) {
	if c == nil {
		return
	}
	c.chunksTransferred.WithLabelValues(direction).Inc()
}

func (c *Collector) AddDownloadBytes(n int) {
	if c == nil {
		return
	}
	c.downloadBytesTotal.Add(float64(n))
}
