package otel

import (
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
)

// endpointExcluder drops spans for noisy routes such as health probes and
// samples everything else by probability.
type endpointExcluder struct {
	endpoints   map[string]struct{}
	probability sdktrace.Sampler
}

func newEndpointExcluder(endpoints map[string]struct{}, probability float64) endpointExcluder {
	return endpointExcluder{
		endpoints:   endpoints,
		probability: sdktrace.ParentBased(sdktrace.TraceIDRatioBased(probability)),
	}
}

func (ee endpointExcluder) ShouldSample(p sdktrace.SamplingParameters) sdktrace.SamplingResult {
	if _, ok := ee.endpoints[routeOf(p.Attributes)]; ok {
		return sdktrace.SamplingResult{Decision: sdktrace.Drop}
	}
	return ee.probability.ShouldSample(p)
}

func (ee endpointExcluder) Description() string { return "customSampler" }

func routeOf(attrs []attribute.KeyValue) string {
	for _, a := range attrs {
		switch a.Key {
		case semconv.HTTPTargetKey, semconv.HTTPRouteKey, "url.path":
			return a.Value.AsString()
		}
	}
	return ""
}
