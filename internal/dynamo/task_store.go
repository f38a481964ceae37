// Package dynamo is a DynamoDB implementation of the orchestrator's task
// store. Tasks live in one table keyed by (subject_id, task_type), which
// enforces one row per subject and task type. Mutations are conditional
// updates on status and retry_count.
package dynamo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"carepath/internal/types"
)

// API is the subset of the DynamoDB client the store uses.
type API interface {
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// taskItem is the stored shape. Timestamps are epoch milliseconds; payloads
// are JSON strings.
type taskItem struct {
	SubjectID    string `dynamodbav:"subject_id"`
	TaskType     string `dynamodbav:"task_type"`
	RowID        string `dynamodbav:"row_id"`
	Status       string `dynamodbav:"status"`
	Priority     int    `dynamodbav:"priority"`
	RetryCount   int    `dynamodbav:"retry_count"`
	NextRetryAt  int64  `dynamodbav:"next_retry_at,omitempty"`
	ErrorDetails string `dynamodbav:"error_details,omitempty"`
	Result       string `dynamodbav:"result_payload,omitempty"`
	CreatedAt    int64  `dynamodbav:"created_at"`
	UpdatedAt    int64  `dynamodbav:"updated_at"`
}

// TaskStore implements orchestrator.TaskStore on DynamoDB.
type TaskStore struct {
	db     API
	table  string
	policy types.RetryPolicy
	now    func() time.Time
}

// NewTaskStore creates a TaskStore over table, applying policy on failures.
func NewTaskStore(db API, table string, policy types.RetryPolicy) *TaskStore {
	return &TaskStore{db: db, table: table, policy: policy, now: time.Now}
}

// TaskID returns the identifier the store hands out for a task. It encodes
// the table key so updates need no secondary index.
func TaskID(subjectID string, tt types.TaskType) string {
	return subjectID + ":" + string(tt)
}

func splitTaskID(id string) (map[string]ddbtypes.AttributeValue, error) {
	subject, tt, ok := strings.Cut(id, ":")
	if !ok || subject == "" || tt == "" {
		return nil, types.NewAppError(types.ErrCodeNotFoundTask, fmt.Sprintf("malformed task id %q", id), nil)
	}
	return map[string]ddbtypes.AttributeValue{
		"subject_id": &ddbtypes.AttributeValueMemberS{Value: subject},
		"task_type":  &ddbtypes.AttributeValueMemberS{Value: tt},
	}, nil
}

// ListPendingTasks returns pending tasks by priority desc, then creation
// time asc.
func (s *TaskStore) ListPendingTasks(ctx context.Context, subjectID string) ([]types.RegistrationTask, error) {
	return s.listTasks(ctx, subjectID, types.TaskStatusPending)
}

// ListTasks returns every task of the subject in the same order.
func (s *TaskStore) ListTasks(ctx context.Context, subjectID string) ([]types.RegistrationTask, error) {
	return s.listTasks(ctx, subjectID, "")
}

// GetTask reads one task with a consistent read. A missing item is
// not_found_task.
func (s *TaskStore) GetTask(ctx context.Context, taskID string) (*types.RegistrationTask, error) {
	key, err := splitTaskID(taskID)
	if err != nil {
		return nil, err
	}
	out, err := s.db.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            key,
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "get task", err)
	}
	if len(out.Item) == 0 {
		return nil, types.NewAppError(types.ErrCodeNotFoundTask, "task not found", nil)
	}
	var it taskItem
	if err := attributevalue.UnmarshalMap(out.Item, &it); err != nil {
		return nil, fmt.Errorf("unmarshal task item: %w", err)
	}
	t, err := it.toTask()
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// MarkCompleted stores result and moves the task to completed, provided it is
// still pending at expectedRetryCount.
func (s *TaskStore) MarkCompleted(ctx context.Context, taskID string, expectedRetryCount int, result *types.TaskResult) error {
	if err := result.Validate(); err != nil {
		return types.NewAppError(types.ErrCodeValidationInvalidPayload, "invalid task result", err)
	}
	key, err := splitTaskID(taskID)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal task result: %w", err)
	}

	_, err = s.db.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.table),
		Key:                 key,
		ConditionExpression: aws.String("#st = :pending AND retry_count = :rc"),
		UpdateExpression: aws.String("SET #st = :completed, result_payload = :res, updated_at = :u " +
			"REMOVE error_details, next_retry_at"),
		ExpressionAttributeNames: map[string]string{"#st": "status"},
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":pending":   &ddbtypes.AttributeValueMemberS{Value: string(types.TaskStatusPending)},
			":completed": &ddbtypes.AttributeValueMemberS{Value: string(types.TaskStatusCompleted)},
			":rc":        number(int64(expectedRetryCount)),
			":res":       &ddbtypes.AttributeValueMemberS{Value: string(payload)},
			":u":         number(s.now().UnixMilli()),
		},
	})
	return s.mapUpdateError(err, taskID, expectedRetryCount)
}

// MarkFailed records taskErr and applies the retry policy, provided the task
// is still pending at currentRetryCount. It returns the resulting status.
func (s *TaskStore) MarkFailed(ctx context.Context, taskID string, taskErr types.TaskError, currentRetryCount int) (types.TaskStatus, error) {
	key, err := splitTaskID(taskID)
	if err != nil {
		return "", err
	}
	now := s.now()
	next := s.policy.OnFailure(currentRetryCount, now)
	taskErr.Attempt = next.RetryCount
	if taskErr.OccurredAt.IsZero() {
		taskErr.OccurredAt = now.UTC()
	}
	details, err := json.Marshal(taskErr)
	if err != nil {
		return "", fmt.Errorf("marshal task error: %w", err)
	}

	_, err = s.db.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.table),
		Key:                 key,
		ConditionExpression: aws.String("#st = :pending AND retry_count = :rc"),
		UpdateExpression: aws.String("SET #st = :next, retry_count = :nrc, next_retry_at = :nra, " +
			"error_details = :err, updated_at = :u"),
		ExpressionAttributeNames: map[string]string{"#st": "status"},
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":pending": &ddbtypes.AttributeValueMemberS{Value: string(types.TaskStatusPending)},
			":next":    &ddbtypes.AttributeValueMemberS{Value: string(next.Status)},
			":rc":      number(int64(currentRetryCount)),
			":nrc":     number(int64(next.RetryCount)),
			":nra":     number(next.NextRetryAt.UnixMilli()),
			":err":     &ddbtypes.AttributeValueMemberS{Value: string(details)},
			":u":       number(now.UnixMilli()),
		},
	})
	if err := s.mapUpdateError(err, taskID, currentRetryCount); err != nil {
		return "", err
	}
	return next.Status, nil
}

// CountPending returns how many of the subject's tasks are pending.
func (s *TaskStore) CountPending(ctx context.Context, subjectID string) (int, error) {
	return s.count(ctx, subjectID, types.TaskStatusPending)
}

// CountFailed returns how many of the subject's tasks failed permanently.
func (s *TaskStore) CountFailed(ctx context.Context, subjectID string) (int, error) {
	return s.count(ctx, subjectID, types.TaskStatusFailed)
}

// EnsureTasks creates any missing tasks for the subject in pending state and
// returns how many were created. Existing rows are left untouched.
func (s *TaskStore) EnsureTasks(ctx context.Context, subjectID string, taskTypes []types.TaskType) (int, error) {
	now := s.now().UnixMilli()
	created := 0
	for _, tt := range taskTypes {
		item, err := attributevalue.MarshalMap(taskItem{
			SubjectID: subjectID,
			TaskType:  string(tt),
			RowID:     uuid.NewString(),
			Status:    string(types.TaskStatusPending),
			Priority:  tt.DefaultPriority(),
			CreatedAt: now,
			UpdatedAt: now,
		})
		if err != nil {
			return created, fmt.Errorf("marshal task item: %w", err)
		}
		_, err = s.db.PutItem(ctx, &dynamodb.PutItemInput{
			TableName:           aws.String(s.table),
			Item:                item,
			ConditionExpression: aws.String("attribute_not_exists(task_type)"),
		})
		if err != nil {
			var cfe *ddbtypes.ConditionalCheckFailedException
			if errors.As(err, &cfe) {
				continue
			}
			return created, types.NewAppError(types.ErrCodeInternalDB, "put task", err)
		}
		created++
	}
	return created, nil
}

// Requeue returns a terminally failed task to pending with a fresh retry
// budget.
func (s *TaskStore) Requeue(ctx context.Context, taskID string) error {
	key, err := splitTaskID(taskID)
	if err != nil {
		return err
	}
	_, err = s.db.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                aws.String(s.table),
		Key:                      key,
		ConditionExpression:      aws.String("#st = :failed"),
		UpdateExpression:         aws.String("SET #st = :pending, retry_count = :zero, updated_at = :u REMOVE next_retry_at"),
		ExpressionAttributeNames: map[string]string{"#st": "status"},
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":failed":  &ddbtypes.AttributeValueMemberS{Value: string(types.TaskStatusFailed)},
			":pending": &ddbtypes.AttributeValueMemberS{Value: string(types.TaskStatusPending)},
			":zero":    number(0),
			":u":       number(s.now().UnixMilli()),
		},
	})
	if err != nil {
		var cfe *ddbtypes.ConditionalCheckFailedException
		if errors.As(err, &cfe) {
			return types.NewAppErrorWithDetails(types.ErrCodeConflictTaskState,
				"only failed tasks can be requeued", nil, map[string]any{"task_id": taskID})
		}
		return types.NewAppError(types.ErrCodeInternalDB, "requeue task", err)
	}
	return nil
}

// ListSubjectsDue scans for subjects with a pending task whose retry time
// has passed, earliest first. The table has no index on next_retry_at, so
// this is a full scan and meant for the periodic sweeper only.
func (s *TaskStore) ListSubjectsDue(ctx context.Context, now time.Time, limit int) ([]string, error) {
	earliest := map[string]int64{}
	var start map[string]ddbtypes.AttributeValue
	for {
		out, err := s.db.Scan(ctx, &dynamodb.ScanInput{
			TableName:                aws.String(s.table),
			FilterExpression:         aws.String("#st = :pending AND next_retry_at <= :now"),
			ProjectionExpression:     aws.String("subject_id, next_retry_at"),
			ExpressionAttributeNames: map[string]string{"#st": "status"},
			ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
				":pending": &ddbtypes.AttributeValueMemberS{Value: string(types.TaskStatusPending)},
				":now":     number(now.UnixMilli()),
			},
			ExclusiveStartKey: start,
		})
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "scan due tasks", err)
		}
		var page []taskItem
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &page); err != nil {
			return nil, fmt.Errorf("unmarshal task items: %w", err)
		}
		for _, it := range page {
			if cur, ok := earliest[it.SubjectID]; !ok || it.NextRetryAt < cur {
				earliest[it.SubjectID] = it.NextRetryAt
			}
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		start = out.LastEvaluatedKey
	}

	subjects := make([]string, 0, len(earliest))
	for id := range earliest {
		subjects = append(subjects, id)
	}
	sort.Slice(subjects, func(i, j int) bool {
		a, b := earliest[subjects[i]], earliest[subjects[j]]
		if a != b {
			return a < b
		}
		return subjects[i] < subjects[j]
	})
	if limit > 0 && len(subjects) > limit {
		subjects = subjects[:limit]
	}
	return subjects, nil
}

func (s *TaskStore) count(ctx context.Context, subjectID string, status types.TaskStatus) (int, error) {
	var (
		total int
		start map[string]ddbtypes.AttributeValue
	)
	for {
		out, err := s.db.Query(ctx, &dynamodb.QueryInput{
			TableName:                aws.String(s.table),
			KeyConditionExpression:   aws.String("subject_id = :sid"),
			FilterExpression:         aws.String("#st = :st"),
			ExpressionAttributeNames: map[string]string{"#st": "status"},
			ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
				":sid": &ddbtypes.AttributeValueMemberS{Value: subjectID},
				":st":  &ddbtypes.AttributeValueMemberS{Value: string(status)},
			},
			Select:            ddbtypes.SelectCount,
			ConsistentRead:    aws.Bool(true),
			ExclusiveStartKey: start,
		})
		if err != nil {
			return 0, types.NewAppError(types.ErrCodeInternalDB, "count tasks", err)
		}
		total += int(out.Count)
		if len(out.LastEvaluatedKey) == 0 {
			return total, nil
		}
		start = out.LastEvaluatedKey
	}
}

func (s *TaskStore) listTasks(ctx context.Context, subjectID string, status types.TaskStatus) ([]types.RegistrationTask, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		KeyConditionExpression: aws.String("subject_id = :sid"),
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":sid": &ddbtypes.AttributeValueMemberS{Value: subjectID},
		},
		ConsistentRead: aws.Bool(true),
	}
	if status != "" {
		input.FilterExpression = aws.String("#st = :st")
		input.ExpressionAttributeNames = map[string]string{"#st": "status"}
		input.ExpressionAttributeValues[":st"] = &ddbtypes.AttributeValueMemberS{Value: string(status)}
	}

	var tasks []types.RegistrationTask
	for {
		out, err := s.db.Query(ctx, input)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "query tasks", err)
		}
		var page []taskItem
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &page); err != nil {
			return nil, fmt.Errorf("unmarshal task items: %w", err)
		}
		for _, it := range page {
			t, err := it.toTask()
			if err != nil {
				return nil, err
			}
			tasks = append(tasks, t)
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}

	if tasks == nil {
		tasks = []types.RegistrationTask{}
	}
	sort.SliceStable(tasks, func(i, j int) bool {
		if tasks[i].Priority != tasks[j].Priority {
			return tasks[i].Priority > tasks[j].Priority
		}
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})
	return tasks, nil
}

func (s *TaskStore) mapUpdateError(err error, taskID string, retryCount int) error {
	if err == nil {
		return nil
	}
	var cfe *ddbtypes.ConditionalCheckFailedException
	if errors.As(err, &cfe) {
		return types.NewAppError(types.ErrCodeConflictConcurrent,
			fmt.Sprintf("task %s is no longer pending at retry %d", taskID, retryCount), err)
	}
	return types.NewAppError(types.ErrCodeInternalDB, "update task", err)
}

func (it taskItem) toTask() (types.RegistrationTask, error) {
	t := types.RegistrationTask{
		ID:         TaskID(it.SubjectID, types.TaskType(it.TaskType)),
		SubjectID:  it.SubjectID,
		TaskType:   types.TaskType(it.TaskType),
		Status:     types.TaskStatus(it.Status),
		Priority:   it.Priority,
		RetryCount: it.RetryCount,
		CreatedAt:  time.UnixMilli(it.CreatedAt).UTC(),
		UpdatedAt:  time.UnixMilli(it.UpdatedAt).UTC(),
	}
	if it.NextRetryAt > 0 {
		next := time.UnixMilli(it.NextRetryAt).UTC()
		t.NextRetryAt = &next
	}
	var err error
	if t.ErrorDetails, err = types.DecodeTaskError([]byte(it.ErrorDetails)); err != nil {
		return t, fmt.Errorf("task %s: %w", t.ID, err)
	}
	if t.Result, err = types.DecodeTaskResult([]byte(it.Result)); err != nil {
		return t, fmt.Errorf("task %s: %w", t.ID, err)
	}
	return t, nil
}

func number(n int64) *ddbtypes.AttributeValueMemberN {
	return &ddbtypes.AttributeValueMemberN{Value: strconv.FormatInt(n, 10)}
}
