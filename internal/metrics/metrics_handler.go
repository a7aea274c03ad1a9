package metrics

import (
	"sync"
	"time"

	"fundingarb/logger"
)

// Metric is a structured metric event.
type Metric struct {
	Timestamp time.Time     `json:"timestamp"`
	Component string        `json:"component"`
	Name      string        `json:"name"`
	Value     interface{}   `json:"value"`
	Type      string        `json:"type"`
	Fields    logger.Fields `json:"fields,omitempty"`
}

// MetricHandler receives every emitted metric.
type MetricHandler func(Metric)

// MetricHandlerID identifies a registered handler; zero is never issued.
type MetricHandlerID uint64

var (
	metricHandlersMu    sync.RWMutex
	metricHandlers      = make(map[MetricHandlerID]MetricHandler)
	nextMetricHandlerID MetricHandlerID
)

// RegisterMetricHandler subscribes handler to all metrics. A nil handler is
// ignored and yields id 0.
func RegisterMetricHandler(handler MetricHandler) MetricHandlerID {
	if handler == nil {
		return 0
	}

	metricHandlersMu.Lock()
	defer metricHandlersMu.Unlock()

	nextMetricHandlerID++
	metricHandlers[nextMetricHandlerID] = handler
	return nextMetricHandlerID
}

// UnregisterMetricHandler drops the handler registered under id.
func UnregisterMetricHandler(id MetricHandlerID) {
	if id == 0 {
		return
	}
	metricHandlersMu.Lock()
	delete(metricHandlers, id)
	metricHandlersMu.Unlock()
}

// EmitMetric logs the metric, hands it to registered handlers and publishes
// numeric values to CloudWatch when configured. The caller's fields are
// never mutated.
func EmitMetric(log *logger.Log, component string, name string, value interface{}, metricType string, fields logger.Fields) {
	if name == "" {
		return
	}
	if metricType == "" {
		metricType = "counter"
	}
	if log == nil {
		log = logger.GetLogger()
	}

	userFields := cloneFields(fields)
	logFields := cloneFields(fields)
	logFields["metric"] = name
	logFields["metric_type"] = metricType
	logFields["value"] = value
	log.WithComponent(component).WithFields(logFields).Debug("metric")

	m := Metric{
		Timestamp: timeNow(),
		Component: component,
		Name:      name,
		Value:     value,
		Type:      metricType,
		Fields:    userFields,
	}
	dispatchMetric(m)

	if v, ok := toFloat64(value); ok {
		publishMetricDatum(m, v)
	}
}

func dispatchMetric(m Metric) {
	metricHandlersMu.RLock()
	handlers := make([]MetricHandler, 0, len(metricHandlers))
	for _, h := range metricHandlers {
		handlers = append(handlers, h)
	}
	metricHandlersMu.RUnlock()

	for _, h := range handlers {
		h(m)
	}
}

func cloneFields(fields logger.Fields) logger.Fields {
	copied := make(logger.Fields, len(fields)+3)
	for k, v := range fields {
		copied[k] = v
	}
	return copied
}

func toFloat64(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	default:
		return 0, false
	}
}
