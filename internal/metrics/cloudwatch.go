package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	appconfig "fundingarb/config"
	"fundingarb/logger"
)

type cloudWatchState struct {
	client        *cloudwatch.Client
	namespace     string
	dashboardName string
	region        string
}

var (
	cwState atomic.Pointer[cloudWatchState]

	// at most one datum per series per interval
	cloudWatchPublishInterval = time.Minute
	timeNow                   = time.Now
	publishMetricsFunc        = publishMetrics

	publishTimesMu sync.Mutex
	publishTimes   = make(map[string]time.Time)
)

// dashboardMetrics are charted on the generated CloudWatch dashboard.
var dashboardMetrics = []string{
	"cycle_duration_ms",
	"candidates_ranked",
	"quotes_collected",
	"venue_failures",
	"symbols_excluded",
	"orders_placed",
	"orders_failed",
	"rate_limit_exceeded",
}

func init() {
	cwState.Store(&cloudWatchState{namespace: "FundingArb", dashboardName: "FundingArb"})
}

// InitCloudWatch creates the CloudWatch client and dashboard. Failures only
// disable publishing.
func InitCloudWatch(ctx context.Context, cfg appconfig.CloudWatchConfig) {
	log := logger.GetLogger().WithComponent("cloudwatch")
	if !cfg.Enabled {
		log.Debug("CloudWatch publishing disabled")
		return
	}

	region := cfg.Region
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		log.WithError(err).Warn("failed to load AWS configuration; CloudWatch metrics disabled")
		return
	}

	state := *cwState.Load()
	state.client = cloudwatch.NewFromConfig(awsCfg)
	if cfg.Namespace != "" {
		state.namespace = cfg.Namespace
	}
	if cfg.Dashboard != "" {
		state.dashboardName = cfg.Dashboard
	}
	state.region = awsCfg.Region
	cwState.Store(&state)

	log.WithFields(logger.Fields{"region": state.region, "namespace": state.namespace}).Info("initialized CloudWatch client")

	if err := putDashboard(ctx, &state); err != nil {
		log.WithError(err).Warn("failed to create CloudWatch dashboard")
	}
}

func dashboardBody(namespace, region string) (string, error) {
	metrics := make([][]string, 0, len(dashboardMetrics))
	for _, name := range dashboardMetrics {
		metrics = append(metrics, []string{namespace, name})
	}
	body := map[string]interface{}{
		"widgets": []map[string]interface{}{{
			"type":   "metric",
			"width":  24,
			"height": 6,
			"properties": map[string]interface{}{
				"metrics": metrics,
				"period":  60,
				"stat":    "Sum",
				"region":  region,
				"title":   "Funding arbitrage",
			},
		}},
	}
	data, err := json.Marshal(body)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func putDashboard(ctx context.Context, state *cloudWatchState) error {
	body, err := dashboardBody(state.namespace, state.region)
	if err != nil {
		return fmt.Errorf("build dashboard: %w", err)
	}
	_, err = state.client.PutDashboard(ctx, &cloudwatch.PutDashboardInput{
		DashboardName: aws.String(state.dashboardName),
		DashboardBody: aws.String(body),
	})
	return err
}

func publishKey(m Metric) string {
	keys := make([]string, 0, len(m.Fields))
	for k, v := range m.Fields {
		if s, ok := v.(string); ok {
			keys = append(keys, k+"="+s)
		}
	}
	sort.Strings(keys)
	return m.Component + "|" + m.Name + "|" + strings.Join(keys, ",")
}

// publishMetricDatum sends one datum unless the same series was published
// less than cloudWatchPublishInterval ago.
func publishMetricDatum(m Metric, value float64) {
	state := cwState.Load()
	if state == nil || state.client == nil {
		return
	}

	key := publishKey(m)
	now := timeNow()
	publishTimesMu.Lock()
	if last, ok := publishTimes[key]; ok && now.Sub(last) < cloudWatchPublishInterval {
		publishTimesMu.Unlock()
		return
	}
	publishTimes[key] = now
	publishTimesMu.Unlock()

	unit := cwtypes.StandardUnitCount
	if raw, ok := m.Fields["unit"].(string); ok {
		if parsed, found := metricUnitFromString(raw); found {
			unit = parsed
		}
	}

	dims := []cwtypes.Dimension{{Name: aws.String("component"), Value: aws.String(m.Component)}}
	for k, v := range m.Fields {
		if k == "unit" {
			continue
		}
		if s, ok := v.(string); ok && s != "" {
			dims = append(dims, cwtypes.Dimension{Name: aws.String(k), Value: aws.String(s)})
		}
	}

	publishMetricsFunc(context.Background(), state, []cwtypes.MetricDatum{{
		MetricName: aws.String(m.Name),
		Dimensions: dims,
		Unit:       unit,
		Value:      aws.Float64(value),
		Timestamp:  aws.Time(m.Timestamp),
	}})
}

func publishMetrics(ctx context.Context, state *cloudWatchState, data []cwtypes.MetricDatum) {
	if state == nil || state.client == nil || len(data) == 0 {
		return
	}
	if _, err := state.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(state.namespace),
		MetricData: data,
	}); err != nil {
		logger.GetLogger().WithComponent("cloudwatch").WithError(err).Warn("failed to publish CloudWatch metrics")
	}
}

func resetMetricPublishTimes() {
	publishTimesMu.Lock()
	publishTimes = make(map[string]time.Time)
	publishTimesMu.Unlock()
}

func metricUnitFromString(unit string) (cwtypes.StandardUnit, bool) {
	switch strings.ToLower(unit) {
	case "count":
		return cwtypes.StandardUnitCount, true
	case "percent":
		return cwtypes.StandardUnitPercent, true
	case "milliseconds", "ms":
		return cwtypes.StandardUnitMilliseconds, true
	case "seconds":
		return cwtypes.StandardUnitSeconds, true
	default:
		return cwtypes.StandardUnitCount, false
	}
}
