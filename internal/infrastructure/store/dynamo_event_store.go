package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/example/ec-event-sourcing/internal/apperr"
)

// maxDynamoTransactItems is the DynamoDB limit on items per transaction.
const maxDynamoTransactItems = 100

const dynamoGSI1PK = "EVENTS"

// DynamoAPI is the subset of the DynamoDB client used by DynamoEventStore.
type DynamoAPI interface {
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// DynamoEventStore stores events in DynamoDB.
// Events are automatically streamed to Kinesis Data Streams via DynamoDB Kinesis integration.
//
// The events table uses aggregate_id (partition) and version (sort). GSI1
// (gsi1pk, created_at) gives an approximate global order; Sequence holds the
// event's UnixNano timestamp for this backend.
type DynamoEventStore struct {
	client            DynamoAPI
	tableName         string
	snapshotTableName string
}

// dynamoEvent represents the DynamoDB item structure
type dynamoEvent struct {
	AggregateID   string `dynamodbav:"aggregate_id"`
	Version       int    `dynamodbav:"version"`
	ID            string `dynamodbav:"id"`
	AggregateType string `dynamodbav:"aggregate_type"`
	EventType     string `dynamodbav:"event_type"`
	SchemaVersion int    `dynamodbav:"schema_version"`
	Data          string `dynamodbav:"data"`
	Metadata      string `dynamodbav:"metadata"`
	CreatedAt     string `dynamodbav:"created_at"`
	GSI1PK        string `dynamodbav:"gsi1pk"`
}

func NewDynamoEventStore(client DynamoAPI, tableName, snapshotTableName string) *DynamoEventStore {
	return &DynamoEventStore{
		client:            client,
		tableName:         tableName,
		snapshotTableName: snapshotTableName,
	}
}

// Append writes the batch in one TransactWriteItems call. Every put is
// conditioned on the (aggregate_id, version) key being absent, so a racing
// writer cancels the whole transaction.
func (es *DynamoEventStore) Append(ctx context.Context, aggregateID, aggregateType string, expectedVersion int, pending []PendingEvent, meta Metadata) ([]Event, error) {
	if err := validateAppend(aggregateID, pending); err != nil {
		return nil, err
	}
	if len(pending) > maxDynamoTransactItems {
		return nil, fmt.Errorf("%w: at most %d events per append", apperr.ErrValidation, maxDynamoTransactItems)
	}

	current, err := es.currentVersion(ctx, aggregateID)
	if err != nil {
		return nil, apperr.Infrastructure("read current version", err)
	}
	if err := checkExpectedVersion(aggregateID, expectedVersion, current); err != nil {
		return nil, err
	}
	if len(pending) == 0 {
		return nil, nil
	}

	events, err := buildEvents(aggregateID, aggregateType, current, pending, meta, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}

	items := make([]types.TransactWriteItem, 0, len(events))
	for i := range events {
		e := &events[i]
		e.Sequence = e.Timestamp.UnixNano()
		av, err := attributevalue.MarshalMap(dynamoEvent{
			AggregateID:   e.AggregateID,
			Version:       e.Version,
			ID:            e.ID,
			AggregateType: e.AggregateType,
			EventType:     e.EventType,
			SchemaVersion: e.SchemaVersion,
			Data:          string(e.Data),
			Metadata:      string(metaJSON),
			CreatedAt:     e.Timestamp.Format(time.RFC3339Nano),
			GSI1PK:        dynamoGSI1PK,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to marshal event: %w", err)
		}
		items = append(items, types.TransactWriteItem{
			Put: &types.Put{
				TableName:           aws.String(es.tableName),
				Item:                av,
				ConditionExpression: aws.String("attribute_not_exists(aggregate_id) AND attribute_not_exists(version)"),
			},
		})
	}

	_, err = es.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
	if err != nil {
		if isDynamoConditionFailure(err) {
			return nil, &ConcurrencyError{AggregateID: aggregateID, ExpectedVersion: expectedVersion, ActualVersion: current + 1}
		}
		return nil, apperr.Infrastructure("transact write events", err)
	}
	return events, nil
}

// currentVersion queries for the current max version of the aggregate
func (es *DynamoEventStore) currentVersion(ctx context.Context, aggregateID string) (int, error) {
	result, err := es.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(es.tableName),
		KeyConditionExpression: aws.String("aggregate_id = :aid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":aid": &types.AttributeValueMemberS{Value: aggregateID},
		},
		ScanIndexForward:     aws.Bool(false), // Descending order
		Limit:                aws.Int32(1),
		ProjectionExpression: aws.String("version"),
		ConsistentRead:       aws.Bool(true),
	})
	if err != nil {
		return 0, err
	}
	if len(result.Items) == 0 {
		return 0, nil
	}

	var item struct {
		Version int `dynamodbav:"version"`
	}
	if err := attributevalue.UnmarshalMap(result.Items[0], &item); err != nil {
		return 0, err
	}
	return item.Version, nil
}

// GetEvents returns the events of an aggregate after the given version
func (es *DynamoEventStore) GetEvents(ctx context.Context, aggregateID string, afterVersion int) ([]Event, error) {
	items, err := es.queryAll(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(es.tableName),
		KeyConditionExpression: aws.String("aggregate_id = :aid AND version > :ver"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":aid": &types.AttributeValueMemberS{Value: aggregateID},
			":ver": &types.AttributeValueMemberN{Value: strconv.Itoa(afterVersion)},
		},
		ScanIndexForward: aws.Bool(true), // Ascending order by version
		ConsistentRead:   aws.Bool(true),
	})
	if err != nil {
		return nil, apperr.Infrastructure("query aggregate events", err)
	}
	return unmarshalDynamoEvents(items)
}

// GetAllEvents returns events using GSI1, ordered by created_at
func (es *DynamoEventStore) GetAllEvents(ctx context.Context, afterSequence int64, limit int) ([]Event, error) {
	after := time.Unix(0, afterSequence).UTC().Format(time.RFC3339Nano)
	input := &dynamodb.QueryInput{
		TableName:              aws.String(es.tableName),
		IndexName:              aws.String("GSI1"),
		KeyConditionExpression: aws.String("gsi1pk = :pk AND created_at > :after"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":    &types.AttributeValueMemberS{Value: dynamoGSI1PK},
			":after": &types.AttributeValueMemberS{Value: after},
		},
		ScanIndexForward: aws.Bool(true), // Ascending order by created_at
	}
	items, err := es.queryAll(ctx, input)
	if err != nil {
		return nil, apperr.Infrastructure("query all events", err)
	}
	events, err := unmarshalDynamoEvents(items)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

func (es *DynamoEventStore) queryAll(ctx context.Context, input *dynamodb.QueryInput) ([]map[string]types.AttributeValue, error) {
	var items []map[string]types.AttributeValue
	paginator := dynamodb.NewQueryPaginator(es.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		items = append(items, page.Items...)
	}
	return items, nil
}

// unmarshalDynamoEvents converts DynamoDB items to Event slice
func unmarshalDynamoEvents(items []map[string]types.AttributeValue) ([]Event, error) {
	events := make([]Event, 0, len(items))

	for _, item := range items {
		var de dynamoEvent
		if err := attributevalue.UnmarshalMap(item, &de); err != nil {
			return nil, apperr.Infrastructure("unmarshal event item", err)
		}

		timestamp, err := time.Parse(time.RFC3339Nano, de.CreatedAt)
		if err != nil {
			return nil, apperr.Infrastructure("parse event created_at", err)
		}

		e := Event{
			ID:            de.ID,
			Sequence:      timestamp.UnixNano(),
			AggregateID:   de.AggregateID,
			AggregateType: de.AggregateType,
			EventType:     de.EventType,
			SchemaVersion: de.SchemaVersion,
			Data:          json.RawMessage(de.Data),
			Timestamp:     timestamp,
			Version:       de.Version,
		}
		if de.Metadata != "" {
			if err := json.Unmarshal([]byte(de.Metadata), &e.Metadata); err != nil {
				return nil, apperr.Infrastructure("decode event metadata", err)
			}
		}
		events = append(events, e)
	}

	return events, nil
}

// dynamoSnapshot represents the DynamoDB item structure for snapshots.
// The snapshots table uses aggregate_id (partition) and version (sort).
type dynamoSnapshot struct {
	AggregateID   string `dynamodbav:"aggregate_id"`
	AggregateType string `dynamodbav:"aggregate_type"`
	Version       int    `dynamodbav:"version"` // Event version at snapshot time
	State         string `dynamodbav:"state"`   // Serialized aggregate state
	CreatedAt     string `dynamodbav:"created_at"`
}

// SaveSnapshot stores a snapshot in the dedicated snapshots table
func (es *DynamoEventStore) SaveSnapshot(ctx context.Context, snapshot *Snapshot) error {
	if snapshot == nil || snapshot.AggregateID == "" {
		return ErrEmptyAggregateID
	}
	av, err := attributevalue.MarshalMap(dynamoSnapshot{
		AggregateID:   snapshot.AggregateID,
		AggregateType: snapshot.AggregateType,
		Version:       snapshot.Version,
		State:         string(snapshot.State),
		CreatedAt:     snapshot.CreatedAt.Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	_, err = es.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(es.snapshotTableName),
		Item:      av,
	})
	if err != nil {
		return apperr.Infrastructure("put snapshot", err)
	}
	return nil
}

// GetSnapshot retrieves the highest-version snapshot for an aggregate
func (es *DynamoEventStore) GetSnapshot(ctx context.Context, aggregateID string) (*Snapshot, error) {
	result, err := es.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(es.snapshotTableName),
		KeyConditionExpression: aws.String("aggregate_id = :aid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":aid": &types.AttributeValueMemberS{Value: aggregateID},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(1),
	})
	if err != nil {
		return nil, apperr.Infrastructure("query snapshot", err)
	}
	if len(result.Items) == 0 {
		return nil, nil // No snapshot exists
	}

	var ds dynamoSnapshot
	if err := attributevalue.UnmarshalMap(result.Items[0], &ds); err != nil {
		return nil, apperr.Infrastructure("unmarshal snapshot", err)
	}
	createdAt, _ := time.Parse(time.RFC3339Nano, ds.CreatedAt)

	return &Snapshot{
		AggregateID:   ds.AggregateID,
		AggregateType: ds.AggregateType,
		Version:       ds.Version,
		State:         json.RawMessage(ds.State),
		CreatedAt:     createdAt,
	}, nil
}

func isDynamoConditionFailure(err error) bool {
	var canceled *types.TransactionCanceledException
	if errors.As(err, &canceled) {
		for _, reason := range canceled.CancellationReasons {
			if aws.ToString(reason.Code) == "ConditionalCheckFailed" {
				return true
			}
		}
		return false
	}
	var condFailed *types.ConditionalCheckFailedException
	return errors.As(err, &condFailed)
}
