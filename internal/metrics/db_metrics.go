package metrics

import (
	"database/sql"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

func registerDBMetrics(db *sql.DB, logger logrus.FieldLogger) {
	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "catalog_materials",
			Help: "Materials in the catalog",
		},
		func() float64 {
			return queryCount(db, logger, "SELECT COUNT(*) FROM materials")
		},
	))

	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "activities_without_composition",
			Help: "Activities that have no composition rows",
		},
		func() float64 {
			return queryCount(db, logger, `
				SELECT COUNT(*) FROM activities a
				WHERE NOT EXISTS (SELECT 1 FROM activity_compositions c WHERE c.activity_id = a.id)
			`)
		},
	))
}

func queryCount(db *sql.DB, logger logrus.FieldLogger, query string) float64 {
	if db == nil {
		return 0
	}
	var count int64
	if err := db.QueryRow(query).Scan(&count); err != nil {
		if logger != nil {
			logger.WithError(err).Warn("metrics query failed")
		}
		return 0
	}
	if count < 0 {
		return 0
	}
	return float64(count)
}
