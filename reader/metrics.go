package reader

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer trace.Tracer
	meter  metric.Meter
)

var opensCounter metric.Int64Counter

func init() {
	const pkgname = "github.com/SplinterGU/PSARc/reader"
	tracer = otel.Tracer(pkgname)
	meter = otel.Meter(pkgname)

	var err error
	opensCounter, err = meter.Int64Counter("reader.archives.opened.count",
		metric.WithDescription("total number of archives opened for reading"),
		metric.WithUnit("{archive}"),
	)
	if err != nil {
		panic(err)
	}
}
