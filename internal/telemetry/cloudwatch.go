// Package telemetry publishes orchestration metrics to CloudWatch.
package telemetry

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"carepath/internal/orchestrator"
	"carepath/internal/types"
)

// Metric and dimension names.
const (
	MetricTaskSucceeded = "TaskSucceeded"
	MetricTaskSkipped   = "TaskSkipped"
	MetricTaskFailed    = "TaskFailed"
	MetricTaskTerminal  = "TaskTerminal"
	MetricTaskConflict  = "TaskConflict"
	MetricTaskCancelled = "TaskCancelled"
	MetricRunDuration   = "RunDuration"
	MetricRunProcessed  = "RunProcessedTasks"
	MetricRunFailed     = "RunFailedTasks"
	MetricConvergence   = "SubjectConverged"

	DimTaskType = "TaskType"
	DimSource   = "Source"
)

// putTimeout bounds a PutMetricData call made after the caller's context
// may already be done.
const putTimeout = 2 * time.Second

var outcomeMetric = map[orchestrator.OutcomeKind]string{
	orchestrator.OutcomeSucceeded: MetricTaskSucceeded,
	orchestrator.OutcomeSkipped:   MetricTaskSkipped,
	orchestrator.OutcomeRetrying:  MetricTaskFailed,
	orchestrator.OutcomeTerminal:  MetricTaskTerminal,
	orchestrator.OutcomeConflict:  MetricTaskConflict,
	orchestrator.OutcomeCancelled: MetricTaskCancelled,
}

// CloudWatchClient is the subset of the CloudWatch client used here.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatchMetrics implements orchestrator.Metrics. Publish failures are
// logged and otherwise ignored.
type CloudWatchMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    types.Logger
}

var _ orchestrator.Metrics = (*CloudWatchMetrics)(nil)

// NewCloudWatchMetrics creates a CloudWatchMetrics publishing under namespace.
func NewCloudWatchMetrics(client CloudWatchClient, namespace string, logger types.Logger) *CloudWatchMetrics {
	return &CloudWatchMetrics{client: client, namespace: namespace, logger: logger}
}

func (m *CloudWatchMetrics) RecordTaskOutcome(ctx context.Context, taskType types.TaskType, kind orchestrator.OutcomeKind) {
	name, ok := outcomeMetric[kind]
	if !ok {
		return
	}
	m.put(ctx, count(name, dim(DimTaskType, string(taskType))))
}

func (m *CloudWatchMetrics) RecordRun(ctx context.Context, source types.TriggerSource, processed, failed int, elapsed time.Duration) {
	src := dim(DimSource, string(source))
	m.put(ctx,
		cwtypes.MetricDatum{
			MetricName: aws.String(MetricRunDuration),
			Value:      aws.Float64(float64(elapsed.Milliseconds())),
			Unit:       cwtypes.StandardUnitMilliseconds,
			Dimensions: []cwtypes.Dimension{src},
		},
		cwtypes.MetricDatum{
			MetricName: aws.String(MetricRunProcessed),
			Value:      aws.Float64(float64(processed)),
			Unit:       cwtypes.StandardUnitCount,
			Dimensions: []cwtypes.Dimension{src},
		},
		cwtypes.MetricDatum{
			MetricName: aws.String(MetricRunFailed),
			Value:      aws.Float64(float64(failed)),
			Unit:       cwtypes.StandardUnitCount,
			Dimensions: []cwtypes.Dimension{src},
		},
	)
}

func (m *CloudWatchMetrics) RecordConvergence(ctx context.Context) {
	m.put(ctx, count(MetricConvergence))
}

func (m *CloudWatchMetrics) put(ctx context.Context, data ...cwtypes.MetricDatum) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), putTimeout)
	defer cancel()

	_, err := m.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(m.namespace),
		MetricData: data,
	})
	if err != nil {
		m.logger.Warn("failed to publish metric",
			"error", err.Error(),
			"metric", aws.ToString(data[0].MetricName),
		)
	}
}

func count(name string, dims ...cwtypes.Dimension) cwtypes.MetricDatum {
	return cwtypes.MetricDatum{
		MetricName: aws.String(name),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: dims,
	}
}

func dim(name, value string) cwtypes.Dimension {
	return cwtypes.Dimension{Name: aws.String(name), Value: aws.String(value)}
}
