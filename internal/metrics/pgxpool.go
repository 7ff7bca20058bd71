package metrics

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// RegisterPgxPoolMetrics exposes catalog pool statistics as gauges.
func RegisterPgxPoolMetrics(reg prometheus.Registerer, pool *pgxpool.Pool) {
	gauge := func(name, help string, fn func(*pgxpool.Stat) float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "dbbackup",
			Subsystem: "catalog_pool",
			Name:      name,
			Help:      help,
		}, func() float64 { return fn(pool.Stat()) })
	}
	reg.MustRegister(
		gauge("acquired_conns", "Connections currently acquired from the pool.", func(s *pgxpool.Stat) float64 {
			return float64(s.AcquiredConns())
		}),
		gauge("idle_conns", "Idle connections in the pool.", func(s *pgxpool.Stat) float64 {
			return float64(s.IdleConns())
		}),
		gauge("total_conns", "Total connections in the pool.", func(s *pgxpool.Stat) float64 {
			return float64(s.TotalConns())
		}),
		gauge("max_conns", "Maximum pool size.", func(s *pgxpool.Stat) float64 {
			return float64(s.MaxConns())
		}),
	)
}
