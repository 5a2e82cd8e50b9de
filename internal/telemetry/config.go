package telemetry

import (
	"errors"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Config configures span export.
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string

	// Endpoint is the OTLP gRPC collector (host:port)
	Endpoint string

	// Insecure disables TLS towards the collector
	Insecure bool

	// SampleRate is the fraction of root spans kept, 0.0 to 1.0. Child
	// spans follow their parent's decision.
	SampleRate float64
}

// DefaultConfig returns tracing disabled, pointed at a local collector.
func DefaultConfig() Config {
	return Config{
		ServiceName:    "stategc",
		ServiceVersion: "dev",
		Endpoint:       "localhost:4317",
		Insecure:       true,
		SampleRate:     1.0,
	}
}

// Validate checks an enabled configuration.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Endpoint == "" {
		return errors.New("telemetry: endpoint is required")
	}
	if c.SampleRate < 0 || c.SampleRate > 1 {
		return errors.New("telemetry: sample_rate must be within [0, 1]")
	}
	return nil
}

func (c Config) sampler() sdktrace.Sampler {
	switch {
	case c.SampleRate >= 1:
		return sdktrace.AlwaysSample()
	case c.SampleRate <= 0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(c.SampleRate))
	}
}
