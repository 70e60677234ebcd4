package writer

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer trace.Tracer
	meter  metric.Meter
)

var archivesCounter metric.Int64Counter

func init() {
	const pkgname = "github.com/SplinterGU/PSARc/writer"
	tracer = otel.Tracer(pkgname)
	meter = otel.Meter(pkgname)

	var err error
	archivesCounter, err = meter.Int64Counter("writer.archives.count",
		metric.WithDescription("total number of archives created"),
		metric.WithUnit("{archive}"),
	)
	if err != nil {
		panic(err)
	}
}
