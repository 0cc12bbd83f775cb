// Package telemetry provides setup for reporting trace spans and stats.
package telemetry

import (
	"time"

	"go.viam.com/utils/perf"
)

// Setup starts an exporter that reports the spans recorded around the service
// operations at the given interval.
func Setup(reportingInterval time.Duration) (perf.Exporter, error) {
	exporter := perf.NewDevelopmentExporterWithOptions(perf.DevelopmentExporterOptions{
		ReportingInterval: reportingInterval,
	})
	if err := exporter.Start(); err != nil {
		return nil, err
	}

	return exporter, nil
}
