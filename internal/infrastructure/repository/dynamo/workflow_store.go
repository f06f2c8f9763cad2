package dynamo

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/kirillkom/notation-ocr/internal/core/domain"
	"github.com/kirillkom/notation-ocr/internal/infrastructure/resilience"
)

const defaultWorkflowTTL = 30 * 24 * time.Hour

// API is the subset of the DynamoDB client the store uses.
type API interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

// workflowItem is the table layout. expiresAt is epoch seconds so the
// table's TTL setting can reap records on its own.
type workflowItem struct {
	ID            string   `dynamodbav:"id"`
	Status        string   `dynamodbav:"status"`
	FileName      string   `dynamodbav:"fileName,omitempty"`
	FileType      string   `dynamodbav:"fileType,omitempty"`
	Bucket        string   `dynamodbav:"bucket,omitempty"`
	Key           string   `dynamodbav:"key,omitempty"`
	JobID         string   `dynamodbav:"jobId,omitempty"`
	ExtractedText string   `dynamodbav:"extractedText,omitempty"`
	Confidence    *float64 `dynamodbav:"confidence,omitempty"`
	ErrorMessage  string   `dynamodbav:"errorMessage,omitempty"`
	FailedFrom    string   `dynamodbav:"failedFrom,omitempty"`
	CreatedAt     string   `dynamodbav:"createdAt"`
	UpdatedAt     string   `dynamodbav:"updatedAt"`
	ExpiresAt     int64    `dynamodbav:"expiresAt"`
}

type WorkflowStore struct {
	client API
	table  string
	ttl    time.Duration
	now    func() time.Time
}

func NewWorkflowStore(client API, table string, ttl time.Duration) *WorkflowStore {
	if ttl <= 0 {
		ttl = defaultWorkflowTTL
	}
	return &WorkflowStore{
		client: client,
		table:  table,
		ttl:    ttl,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *WorkflowStore) Create(ctx context.Context, wf *domain.Workflow) error {
	now := s.now()
	createdAt := wf.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	expiresAt := wf.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = createdAt.Add(s.ttl)
	}

	item, err := attributevalue.MarshalMap(workflowItem{
		ID:        wf.ID,
		Status:    string(domain.StatusInitiated),
		FileName:  wf.FileName,
		FileType:  wf.FileType,
		CreatedAt: createdAt.Format(time.RFC3339Nano),
		UpdatedAt: createdAt.Format(time.RFC3339Nano),
		ExpiresAt: expiresAt.Unix(),
	})
	if err != nil {
		return fmt.Errorf("marshal workflow item: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.table),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(id)"),
	})
	var condErr *types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		return domain.WrapError(domain.ErrConflict, "create workflow", fmt.Errorf("id already exists: %s", wf.ID))
	}
	if err != nil {
		return fmt.Errorf("put workflow item: %w", resilience.FromAWSError(domain.ServiceStore, err))
	}
	return nil
}

// Transition is a conditional update on the live record whose status is a
// legal predecessor of status. On a failed check the old item tells a missing
// record apart from an illegal transition.
func (s *WorkflowStore) Transition(ctx context.Context, id string, status domain.WorkflowStatus, fields domain.WorkflowFields) error {
	from := status.Predecessors()
	if len(from) == 0 {
		return domain.WrapError(domain.ErrValidation, "transition workflow", fmt.Errorf("no transition leads to %q", status))
	}
	now := s.now()

	names := map[string]string{
		"#status":    "status",
		"#updatedAt": "updatedAt",
		"#expiresAt": "expiresAt",
	}
	values := map[string]types.AttributeValue{
		":status":    &types.AttributeValueMemberS{Value: string(status)},
		":updatedAt": &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
		":now":       &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Unix(), 10)},
	}
	sets := []string{"#status = :status", "#updatedAt = :updatedAt"}
	var removes []string
	set := func(attr string, value types.AttributeValue) {
		names["#"+attr] = attr
		values[":"+attr] = value
		sets = append(sets, "#"+attr+" = :"+attr)
	}

	if fields.StorageLocation != nil {
		set("bucket", &types.AttributeValueMemberS{Value: fields.StorageLocation.Bucket})
		set("key", &types.AttributeValueMemberS{Value: fields.StorageLocation.Key})
	}
	if fields.ClearJobID {
		names["#jobId"] = "jobId"
		removes = append(removes, "#jobId")
	} else if fields.JobID != nil {
		set("jobId", &types.AttributeValueMemberS{Value: *fields.JobID})
	}
	if fields.ExtractedText != nil {
		set("extractedText", &types.AttributeValueMemberS{Value: *fields.ExtractedText})
	}
	if fields.Confidence != nil {
		set("confidence", &types.AttributeValueMemberN{Value: strconv.FormatFloat(*fields.Confidence, 'f', -1, 64)})
	}
	if fields.ClearFailure {
		names["#errorMessage"] = "errorMessage"
		names["#failedFrom"] = "failedFrom"
		removes = append(removes, "#errorMessage", "#failedFrom")
	} else if fields.ErrorMessage != nil {
		set("errorMessage", &types.AttributeValueMemberS{Value: *fields.ErrorMessage})
	}
	if status == domain.StatusFailed {
		// Update operands read the item as it was before the update.
		names["#failedFrom"] = "failedFrom"
		sets = append(sets, "#failedFrom = #status")
	}

	placeholders := func(prefix string, statuses []domain.WorkflowStatus) string {
		out := make([]string, 0, len(statuses))
		for i, st := range statuses {
			ph := ":" + prefix + strconv.Itoa(i)
			values[ph] = &types.AttributeValueMemberS{Value: string(st)}
			out = append(out, ph)
		}
		return strings.Join(out, ", ")
	}

	update := "SET " + strings.Join(sets, ", ")
	if len(removes) > 0 {
		update += " REMOVE " + strings.Join(removes, ", ")
	}
	guard := "#status IN (" + placeholders("from", from) + ")"
	if restart := status.RestartableFrom(); len(restart) > 0 {
		names["#failedFrom"] = "failedFrom"
		values[":failed"] = &types.AttributeValueMemberS{Value: string(domain.StatusFailed)}
		guard = "(" + guard + " OR (#status = :failed AND #failedFrom IN (" + placeholders("restart", restart) + ")))"
	}
	condition := "attribute_exists(id) AND #expiresAt > :now AND " + guard

	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                           aws.String(s.table),
		Key:                                 itemKey(id),
		UpdateExpression:                    aws.String(update),
		ConditionExpression:                 aws.String(condition),
		ExpressionAttributeNames:            names,
		ExpressionAttributeValues:           values,
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	var condErr *types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		return s.checkFailure(id, status, condErr.Item, now)
	}
	if err != nil {
		return fmt.Errorf("update workflow item: %w", resilience.FromAWSError(domain.ServiceStore, err))
	}
	return nil
}

func (s *WorkflowStore) checkFailure(id string, status domain.WorkflowStatus, old map[string]types.AttributeValue, now time.Time) error {
	if len(old) == 0 {
		return domain.WrapError(domain.ErrNotFound, "transition workflow", fmt.Errorf("workflow %s", id))
	}
	var item workflowItem
	if err := attributevalue.UnmarshalMap(old, &item); err != nil {
		return fmt.Errorf("unmarshal workflow item: %w", err)
	}
	if item.ExpiresAt <= now.Unix() {
		return domain.WrapError(domain.ErrNotFound, "transition workflow", fmt.Errorf("workflow %s expired", id))
	}
	return domain.WrapError(domain.ErrInvalidTransition, "transition workflow", fmt.Errorf("%s: %s -> %s", id, item.Status, status))
}

// Get reads with strong consistency. Items past expiresAt are absent even
// before the table's TTL sweep removes them.
func (s *WorkflowStore) Get(ctx context.Context, id string) (*domain.Workflow, bool, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            itemKey(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, false, fmt.Errorf("get workflow item: %w", resilience.FromAWSError(domain.ServiceStore, err))
	}
	if len(out.Item) == 0 {
		return nil, false, nil
	}

	var item workflowItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, false, fmt.Errorf("unmarshal workflow item: %w", err)
	}
	wf := item.toDomain()
	if wf.Expired(s.now()) {
		return nil, false, nil
	}
	return wf, true, nil
}

func (s *WorkflowStore) StoreResult(ctx context.Context, id string, text string, confidence float64) error {
	return s.Transition(ctx, id, domain.StatusCompleted, domain.WorkflowFields{
		ExtractedText: &text,
		Confidence:    &confidence,
		ClearJobID:    true,
	})
}

func (i workflowItem) toDomain() *domain.Workflow {
	wf := &domain.Workflow{
		ID:            i.ID,
		Status:        domain.WorkflowStatus(i.Status),
		FileName:      i.FileName,
		FileType:      i.FileType,
		JobID:         i.JobID,
		ExtractedText: i.ExtractedText,
		ErrorMessage:  i.ErrorMessage,
		FailedFrom:    domain.WorkflowStatus(i.FailedFrom),
		ExpiresAt:     time.Unix(i.ExpiresAt, 0).UTC(),
	}
	if i.Key != "" {
		wf.StorageLocation = &domain.StorageLocation{Bucket: i.Bucket, Key: i.Key}
	}
	if i.Confidence != nil {
		wf.Confidence = *i.Confidence
	}
	wf.CreatedAt, _ = time.Parse(time.RFC3339Nano, i.CreatedAt)
	wf.UpdatedAt, _ = time.Parse(time.RFC3339Nano, i.UpdatedAt)
	return wf
}

func itemKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"id": &types.AttributeValueMemberS{Value: id},
	}
}
