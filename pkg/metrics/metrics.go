package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

const latencyWindow = 100

// Metrics holds application metrics
type Metrics struct {
	mu sync.RWMutex

	// Request metrics
	TotalRequests      int64
	SuccessfulRequests int64
	FailedRequests     int64

	// Endpoint metrics
	EndpointRequests map[string]int64
	EndpointErrors   map[string]int64
	EndpointLatency  map[string][]time.Duration

	// Upstream metrics (ARI commands, speech providers)
	ServiceCalls   map[string]int64
	ServiceErrors  map[string]int64
	ServiceLatency map[string][]time.Duration

	// Call control metrics
	EventsByKind      map[string]int64
	HandlerOutcomes   map[string]int64
	ActiveHandlers    int64
	StreamReconnects  int64
	StreamConnected   bool
	DuplicateChannels int64

	// Circuit breaker metrics
	CircuitBreakerState    map[string]string
	CircuitBreakerFailures map[string]int64

	StartTime time.Time
}

var globalMetrics = newMetrics()

func newMetrics() *Metrics {
	return &Metrics{
		EndpointRequests:       make(map[string]int64),
		EndpointErrors:         make(map[string]int64),
		EndpointLatency:        make(map[string][]time.Duration),
		ServiceCalls:           make(map[string]int64),
		ServiceErrors:          make(map[string]int64),
		ServiceLatency:         make(map[string][]time.Duration),
		EventsByKind:           make(map[string]int64),
		HandlerOutcomes:        make(map[string]int64),
		CircuitBreakerState:    make(map[string]string),
		CircuitBreakerFailures: make(map[string]int64),
		StartTime:              time.Now(),
	}
}

// Reset clears all metrics. Tests use it to start from zero.
func Reset() {
	fresh := newMetrics()
	globalMetrics.mu.Lock()
	defer globalMetrics.mu.Unlock()

	globalMetrics.TotalRequests = 0
	globalMetrics.SuccessfulRequests = 0
	globalMetrics.FailedRequests = 0
	globalMetrics.EndpointRequests = fresh.EndpointRequests
	globalMetrics.EndpointErrors = fresh.EndpointErrors
	globalMetrics.EndpointLatency = fresh.EndpointLatency
	globalMetrics.ServiceCalls = fresh.ServiceCalls
	globalMetrics.ServiceErrors = fresh.ServiceErrors
	globalMetrics.ServiceLatency = fresh.ServiceLatency
	globalMetrics.EventsByKind = fresh.EventsByKind
	globalMetrics.HandlerOutcomes = fresh.HandlerOutcomes
	globalMetrics.ActiveHandlers = 0
	globalMetrics.StreamReconnects = 0
	globalMetrics.StreamConnected = false
	globalMetrics.DuplicateChannels = 0
	globalMetrics.CircuitBreakerState = fresh.CircuitBreakerState
	globalMetrics.CircuitBreakerFailures = fresh.CircuitBreakerFailures
	globalMetrics.StartTime = fresh.StartTime
}

func appendLatency(window []time.Duration, latency time.Duration) []time.Duration {
	if len(window) >= latencyWindow {
		window = window[1:]
	}
	return append(window, latency)
}

// RecordRequest records a request
func RecordRequest(endpoint string, success bool, latency time.Duration) {
	globalMetrics.mu.Lock()
	defer globalMetrics.mu.Unlock()

	globalMetrics.TotalRequests++
	if success {
		globalMetrics.SuccessfulRequests++
	} else {
		globalMetrics.FailedRequests++
		globalMetrics.EndpointErrors[endpoint]++
	}

	globalMetrics.EndpointRequests[endpoint]++
	globalMetrics.EndpointLatency[endpoint] = appendLatency(globalMetrics.EndpointLatency[endpoint], latency)
}

// RecordServiceCall records an upstream call such as "ari.answer" or "tts.openai"
func RecordServiceCall(service string, success bool, latency time.Duration) {
	globalMetrics.mu.Lock()
	defer globalMetrics.mu.Unlock()

	globalMetrics.ServiceCalls[service]++
	if !success {
		globalMetrics.ServiceErrors[service]++
	}
	globalMetrics.ServiceLatency[service] = appendLatency(globalMetrics.ServiceLatency[service], latency)
}

// RecordEvent counts a received stream event by its type.
func RecordEvent(kind string) {
	globalMetrics.mu.Lock()
	defer globalMetrics.mu.Unlock()
	globalMetrics.EventsByKind[kind]++
}

// HandlerStarted and HandlerFinished keep the in-flight handler gauge.
func HandlerStarted() {
	globalMetrics.mu.Lock()
	defer globalMetrics.mu.Unlock()
	globalMetrics.ActiveHandlers++
}

func HandlerFinished(outcome string) {
	globalMetrics.mu.Lock()
	defer globalMetrics.mu.Unlock()
	globalMetrics.ActiveHandlers--
	globalMetrics.HandlerOutcomes[outcome]++
}

// RecordDuplicateChannel counts a start event dropped because the channel was already owned.
func RecordDuplicateChannel() {
	globalMetrics.mu.Lock()
	defer globalMetrics.mu.Unlock()
	globalMetrics.DuplicateChannels++
}

// SetStreamConnected tracks the event subscription. Each transition to
// disconnected counts as a reconnect.
func SetStreamConnected(connected bool) {
	globalMetrics.mu.Lock()
	defer globalMetrics.mu.Unlock()
	if globalMetrics.StreamConnected && !connected {
		globalMetrics.StreamReconnects++
	}
	globalMetrics.StreamConnected = connected
}

// StreamConnected reports whether the event subscription is currently up.
func StreamConnected() bool {
	globalMetrics.mu.RLock()
	defer globalMetrics.mu.RUnlock()
	return globalMetrics.StreamConnected
}

// UpdateCircuitBreaker updates circuit breaker metrics
func UpdateCircuitBreaker(service, state string, failures int64) {
	globalMetrics.mu.Lock()
	defer globalMetrics.mu.Unlock()

	globalMetrics.CircuitBreakerState[service] = state
	globalMetrics.CircuitBreakerFailures[service] = failures
}

func averageSeconds(latencies map[string][]time.Duration) map[string]float64 {
	avg := make(map[string]float64, len(latencies))
	for name, window := range latencies {
		if len(window) == 0 {
			continue
		}
		var sum time.Duration
		for _, l := range window {
			sum += l
		}
		avg[name] = sum.Seconds() / float64(len(window))
	}
	return avg
}

func copyCounts(in map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// GetMetrics returns current metrics
func GetMetrics() map[string]interface{} {
	globalMetrics.mu.RLock()
	defer globalMetrics.mu.RUnlock()

	breakerState := make(map[string]string, len(globalMetrics.CircuitBreakerState))
	for k, v := range globalMetrics.CircuitBreakerState {
		breakerState[k] = v
	}

	return map[string]interface{}{
		"uptime_seconds": time.Since(globalMetrics.StartTime).Seconds(),
		"requests": map[string]interface{}{
			"total":      globalMetrics.TotalRequests,
			"successful": globalMetrics.SuccessfulRequests,
			"failed":     globalMetrics.FailedRequests,
		},
		"endpoints": map[string]interface{}{
			"requests":            copyCounts(globalMetrics.EndpointRequests),
			"errors":              copyCounts(globalMetrics.EndpointErrors),
			"latency_avg_seconds": averageSeconds(globalMetrics.EndpointLatency),
		},
		"services": map[string]interface{}{
			"calls":               copyCounts(globalMetrics.ServiceCalls),
			"errors":              copyCounts(globalMetrics.ServiceErrors),
			"latency_avg_seconds": averageSeconds(globalMetrics.ServiceLatency),
		},
		"calls": map[string]interface{}{
			"events":             copyCounts(globalMetrics.EventsByKind),
			"outcomes":           copyCounts(globalMetrics.HandlerOutcomes),
			"active_handlers":    globalMetrics.ActiveHandlers,
			"duplicate_channels": globalMetrics.DuplicateChannels,
			"stream_connected":   globalMetrics.StreamConnected,
			"stream_reconnects":  globalMetrics.StreamReconnects,
		},
		"circuit_breakers": map[string]interface{}{
			"state":    breakerState,
			"failures": copyCounts(globalMetrics.CircuitBreakerFailures),
		},
	}
}

func writeCounter(b *strings.Builder, name, help, label string, values map[string]int64) {
	fmt.Fprintf(b, "# HELP %s %s\n# TYPE %s counter\n", name, help, name)
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(b, "%s{%s=%q} %d\n", name, label, k, values[k])
	}
}

// GetPrometheusMetrics returns metrics in Prometheus format
func GetPrometheusMetrics() string {
	globalMetrics.mu.RLock()
	defer globalMetrics.mu.RUnlock()

	var b strings.Builder

	b.WriteString("# HELP bridge_uptime_seconds Process uptime in seconds\n# TYPE bridge_uptime_seconds gauge\n")
	fmt.Fprintf(&b, "bridge_uptime_seconds %.2f\n", time.Since(globalMetrics.StartTime).Seconds())

	writeCounter(&b, "bridge_requests_total", "Total number of HTTP requests", "status", map[string]int64{
		"successful": globalMetrics.SuccessfulRequests,
		"failed":     globalMetrics.FailedRequests,
	})
	writeCounter(&b, "bridge_endpoint_requests_total", "Total requests per endpoint", "endpoint", globalMetrics.EndpointRequests)
	writeCounter(&b, "bridge_endpoint_errors_total", "Total errors per endpoint", "endpoint", globalMetrics.EndpointErrors)
	writeCounter(&b, "bridge_service_calls_total", "Total upstream calls per service", "service", globalMetrics.ServiceCalls)
	writeCounter(&b, "bridge_service_errors_total", "Total failed upstream calls per service", "service", globalMetrics.ServiceErrors)
	writeCounter(&b, "bridge_events_total", "Stream events received per type", "kind", globalMetrics.EventsByKind)
	writeCounter(&b, "bridge_handler_outcomes_total", "Finished channel handlers per outcome", "outcome", globalMetrics.HandlerOutcomes)

	b.WriteString("# HELP bridge_active_handlers Channel handlers in flight\n# TYPE bridge_active_handlers gauge\n")
	fmt.Fprintf(&b, "bridge_active_handlers %d\n", globalMetrics.ActiveHandlers)

	connected := 0
	if globalMetrics.StreamConnected {
		connected = 1
	}
	b.WriteString("# HELP bridge_stream_connected Whether the event subscription is up\n# TYPE bridge_stream_connected gauge\n")
	fmt.Fprintf(&b, "bridge_stream_connected %d\n", connected)

	b.WriteString("# HELP bridge_stream_reconnects_total Event subscription drops\n# TYPE bridge_stream_reconnects_total counter\n")
	fmt.Fprintf(&b, "bridge_stream_reconnects_total %d\n", globalMetrics.StreamReconnects)

	return b.String()
}
