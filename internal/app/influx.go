package app

import (
	"context"
	"fmt"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/relabs-tech/sensor_node/internal/config"
	"github.com/relabs-tech/sensor_node/internal/env"
)

const influxMeasurement = "sensor_node"

// InfluxSink copies every sample into an InfluxDB v2 bucket.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
}

func NewInfluxSink(cfg *config.Config) *InfluxSink {
	client := influxdb2.NewClient(cfg.InfluxURL, cfg.InfluxToken)
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.InfluxOrg, cfg.InfluxBucket),
	}
}

func samplePoint(s env.Sample) *write.Point {
	return influxdb2.NewPointWithMeasurement(influxMeasurement).
		AddTag("device", s.Source).
		AddField("temperature_c", s.Temperature).
		AddField("pressure_hpa", s.Pressure).
		SetTime(s.Time)
}

func (i *InfluxSink) WriteSample(ctx context.Context, s env.Sample) error {
	if err := i.writeAPI.WritePoint(ctx, samplePoint(s)); err != nil {
		return fmt.Errorf("influx write: %w", err)
	}
	return nil
}

func (i *InfluxSink) Close() {
	i.client.Close()
}
