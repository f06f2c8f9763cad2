package dynamo

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/kirillkom/notation-ocr/internal/core/domain"
)

var fixedNow = time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)

type apiFake struct {
	items map[string]map[string]types.AttributeValue

	putInput    *dynamodb.PutItemInput
	updateInput *dynamodb.UpdateItemInput
	putErr      error
	updateErr   error
	getErr      error
}

func newAPIFake() *apiFake {
	return &apiFake{items: make(map[string]map[string]types.AttributeValue)}
}

func (f *apiFake) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.putInput = in
	if f.putErr != nil {
		return nil, f.putErr
	}
	id := in.Item["id"].(*types.AttributeValueMemberS).Value
	f.items[id] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *apiFake) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.updateInput = in
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	return &dynamodb.UpdateItemOutput{}, nil
}

func (f *apiFake) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	id := in.Key["id"].(*types.AttributeValueMemberS).Value
	return &dynamodb.GetItemOutput{Item: f.items[id]}, nil
}

func newTestStore(api API) *WorkflowStore {
	store := NewWorkflowStore(api, "workflows", 0)
	store.now = func() time.Time { return fixedNow }
	return store
}

func TestCreateUsesExistencePrecondition(t *testing.T) {
	api := newAPIFake()
	store := newTestStore(api)

	err := store.Create(context.Background(), &domain.Workflow{ID: "wf-1", FileName: "a.jpg", FileType: "image/jpeg", CreatedAt: fixedNow})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if got := aws.ToString(api.putInput.ConditionExpression); got != "attribute_not_exists(id)" {
		t.Fatalf("unexpected condition: %q", got)
	}
	expires := api.putInput.Item["expiresAt"].(*types.AttributeValueMemberN).Value
	if want := "1794830400"; expires != want {
		t.Fatalf("expected ttl epoch %s, got %s", want, expires)
	}

	wf, found, err := store.Get(context.Background(), "wf-1")
	if err != nil || !found {
		t.Fatalf("Get() = %v, %v", found, err)
	}
	if wf.Status != domain.StatusInitiated || wf.FileType != "image/jpeg" || !wf.CreatedAt.Equal(fixedNow) {
		t.Fatalf("unexpected workflow: %+v", wf)
	}
}

func TestCreateConflict(t *testing.T) {
	api := newAPIFake()
	api.putErr = &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
	store := newTestStore(api)

	err := store.Create(context.Background(), &domain.Workflow{ID: "wf-1"})
	if !domain.IsKind(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestTransitionBuildsGuardedUpdate(t *testing.T) {
	api := newAPIFake()
	store := newTestStore(api)

	err := store.StoreResult(context.Background(), "wf-1", "1. e4 e5", 93.9)
	if err != nil {
		t.Fatalf("StoreResult() error = %v", err)
	}
	in := api.updateInput
	update := aws.ToString(in.UpdateExpression)
	if !strings.HasPrefix(update, "SET #status = :status") || !strings.HasSuffix(update, "REMOVE #jobId") {
		t.Fatalf("unexpected update expression: %q", update)
	}
	if got := aws.ToString(in.ConditionExpression); got != "attribute_exists(id) AND #expiresAt > :now AND #status IN (:from0)" {
		t.Fatalf("unexpected condition: %q", got)
	}
	if v := in.ExpressionAttributeValues[":from0"].(*types.AttributeValueMemberS).Value; v != "processing" {
		t.Fatalf("completed must require processing, got %q", v)
	}
	if v := in.ExpressionAttributeValues[":confidence"].(*types.AttributeValueMemberN).Value; v != "93.9" {
		t.Fatalf("unexpected confidence value %q", v)
	}
	if in.ReturnValuesOnConditionCheckFailure != types.ReturnValuesOnConditionCheckFailureAllOld {
		t.Fatalf("expected old item on condition failure")
	}
}

func TestTransitionToFailedRecordsOrigin(t *testing.T) {
	api := newAPIFake()
	store := newTestStore(api)

	msg := "unsupported image"
	err := store.Transition(context.Background(), "wf-1", domain.StatusFailed, domain.WorkflowFields{ErrorMessage: &msg, ClearJobID: true})
	if err != nil {
		t.Fatalf("Transition() error = %v", err)
	}
	update := aws.ToString(api.updateInput.UpdateExpression)
	if !strings.Contains(update, "#failedFrom = #status") || !strings.HasSuffix(update, "REMOVE #jobId") {
		t.Fatalf("unexpected update expression: %q", update)
	}
}

func TestTransitionToStoredRestartsEarlyFailure(t *testing.T) {
	api := newAPIFake()
	store := newTestStore(api)

	loc := domain.StorageLocation{Bucket: "b", Key: "k"}
	err := store.Transition(context.Background(), "wf-1", domain.StatusStored, domain.WorkflowFields{StorageLocation: &loc, ClearFailure: true})
	if err != nil {
		t.Fatalf("Transition() error = %v", err)
	}
	in := api.updateInput
	want := "attribute_exists(id) AND #expiresAt > :now AND (#status IN (:from0, :from1) OR (#status = :failed AND #failedFrom IN (:restart0, :restart1)))"
	if got := aws.ToString(in.ConditionExpression); got != want {
		t.Fatalf("unexpected condition: %q", got)
	}
	if !strings.HasSuffix(aws.ToString(in.UpdateExpression), "REMOVE #errorMessage, #failedFrom") {
		t.Fatalf("restart must clear the earlier failure: %q", aws.ToString(in.UpdateExpression))
	}
	if v := in.ExpressionAttributeValues[":restart1"].(*types.AttributeValueMemberS).Value; v != "stored" {
		t.Fatalf("unexpected restart origin %q", v)
	}
}

func TestTransitionConditionFailureClassification(t *testing.T) {
	api := newAPIFake()
	store := newTestStore(api)

	api.updateErr = &types.ConditionalCheckFailedException{Message: aws.String("failed")}
	err := store.Transition(context.Background(), "missing", domain.StatusStored, domain.WorkflowFields{})
	if !domain.IsKind(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	api.updateErr = &types.ConditionalCheckFailedException{
		Message: aws.String("failed"),
		Item: map[string]types.AttributeValue{
			"id":        &types.AttributeValueMemberS{Value: "wf-1"},
			"status":    &types.AttributeValueMemberS{Value: "completed"},
			"expiresAt": &types.AttributeValueMemberN{Value: "1900000000"},
		},
	}
	err = store.Transition(context.Background(), "wf-1", domain.StatusStored, domain.WorkflowFields{})
	if !domain.IsKind(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if domain.IsRetryable(err) {
		t.Fatalf("invalid transitions must not be retried")
	}
}

func TestThrottlingIsRetryable(t *testing.T) {
	api := newAPIFake()
	api.getErr = &types.ProvisionedThroughputExceededException{Message: aws.String("slow down")}
	store := newTestStore(api)

	_, _, err := store.Get(context.Background(), "wf-1")
	if !domain.IsRetryable(err) {
		t.Fatalf("expected retryable error, got %v", err)
	}
}

func TestGetHidesExpiredItems(t *testing.T) {
	api := newAPIFake()
	api.items["wf-1"] = map[string]types.AttributeValue{
		"id":        &types.AttributeValueMemberS{Value: "wf-1"},
		"status":    &types.AttributeValueMemberS{Value: "initiated"},
		"expiresAt": &types.AttributeValueMemberN{Value: "1000"},
	}
	store := newTestStore(api)

	_, found, err := store.Get(context.Background(), "wf-1")
	if err != nil || found {
		t.Fatalf("expected expired item to be absent, got found=%v err=%v", found, err)
	}
}
