package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BackupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dbbackup_backups_total",
		Help: "Database backups attempted, by engine and result.",
	}, []string{"engine", "result"})

	BackupDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dbbackup_backup_duration_seconds",
		Help:    "Time spent producing one database artifact.",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 900, 1800, 3600},
	}, []string{"engine"})

	BackupBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dbbackup_backup_bytes_total",
		Help: "Bytes written to the storage tier by new artifacts.",
	}, []string{"engine"})

	RetentionDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dbbackup_retention_deleted_total",
		Help: "Artifacts removed by the retention sweep.",
	})

	Compressed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dbbackup_compressed_total",
		Help: "Artifacts processed by the compression job, by result.",
	}, []string{"result"})

	AgentPings = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dbbackup_agent_pings_total",
		Help: "Agent presence notifications, by result.",
	}, []string{"result"})

	AgentResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dbbackup_agent_results_total",
		Help: "Results submitted by agents, by kind (artifact or failure).",
	}, []string{"kind"})

	AgentFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dbbackup_agent_failures_total",
		Help: "Backup failures reported by agents.",
	})

	WatcherEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dbbackup_watcher_events_total",
		Help: "Out-of-band filesystem changes reconciled into the catalog.",
	}, []string{"op"})
)
