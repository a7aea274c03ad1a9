// Package rate recognises venue throttling responses and reports them.
package rate

import (
	"strings"

	"fundingarb/internal/metrics"
	"fundingarb/logger"
)

// Limit classifies a venue error message.
type Limit int

const (
	LimitNone Limit = iota
	LimitRateExceeded
	LimitIPBan
)

func (l Limit) String() string {
	switch l {
	case LimitRateExceeded:
		return "rate_limit_exceeded"
	case LimitIPBan:
		return "ip_ban"
	default:
		return "none"
	}
}

// detectLimit applies each venue's own wording for throttling and bans.
func detectLimit(venue, msg string) Limit {
	m := strings.ToLower(msg)
	var rateLimit, ipBan bool
	switch strings.ToLower(venue) {
	case "binance":
		rateLimit = strings.Contains(m, "too many requests") || strings.Contains(m, "rate limit") || strings.Contains(m, "-1003")
		ipBan = strings.Contains(m, "ip") && strings.Contains(m, "ban")
	case "bybit":
		ipBan = strings.Contains(m, "ip rate limit") || (strings.Contains(m, "ip") && strings.Contains(m, "ban"))
		rateLimit = !ipBan && (strings.Contains(m, "rate limit") || strings.Contains(m, "too many visits") || strings.Contains(m, "10006"))
	case "bitget":
		rateLimit = strings.Contains(m, "too many requests") || strings.Contains(m, "429") || strings.Contains(m, "frequency")
		ipBan = strings.Contains(m, "ip") && (strings.Contains(m, "ban") || strings.Contains(m, "blocked"))
	default:
		rateLimit = strings.Contains(m, "rate limit") || strings.Contains(m, "too many requests")
		ipBan = strings.Contains(m, "ip") && strings.Contains(m, "ban")
	}
	switch {
	case ipBan:
		return LimitIPBan
	case rateLimit:
		return LimitRateExceeded
	default:
		return LimitNone
	}
}

// ReportLimitFromMessage emits a rate_limit_exceeded or ip_ban metric when
// msg matches the venue's throttling wording and returns the classification.
func ReportLimitFromMessage(log *logger.Log, venue, symbol, operation, msg string) Limit {
	limit := detectLimit(venue, msg)
	if limit == LimitNone {
		return limit
	}
	if log == nil {
		log = logger.GetLogger()
	}

	component := strings.ToLower(venue) + "_venue"
	fields := logger.Fields{
		"venue":     strings.ToLower(venue),
		"symbol":    symbol,
		"operation": operation,
	}
	metrics.EmitMetric(log, component, limit.String(), int64(1), "counter", fields)

	entry := log.WithComponent(component).WithFields(fields)
	if limit == LimitIPBan {
		entry.Error("ip banned")
	} else {
		entry.Warn("rate limit exceeded")
	}
	return limit
}
