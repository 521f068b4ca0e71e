package kinesis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/example/ec-event-sourcing/internal/infrastructure/store"
	"go.uber.org/zap"
)

// ConvertFromKinesisRecord converts a Kinesis record (DynamoDB Streams format) to store.Event.
// DynamoDB Kinesis integration sends records in DynamoDB Streams format.
// Records other than INSERT return nil without error.
func ConvertFromKinesisRecord(record events.KinesisEventRecord) (*store.Event, error) {
	var dynamoDBRecord events.DynamoDBEventRecord
	if err := json.Unmarshal(record.Kinesis.Data, &dynamoDBRecord); err != nil {
		return nil, fmt.Errorf("failed to unmarshal DynamoDB record: %w", err)
	}
	return ConvertFromDynamoDBStreamRecord(dynamoDBRecord)
}

// ConvertFromDynamoDBStreamRecord converts a DynamoDB Stream record to store.Event.
func ConvertFromDynamoDBStreamRecord(record events.DynamoDBEventRecord) (*store.Event, error) {
	// events are immutable, so only inserts carry anything new
	if record.EventName != "INSERT" {
		return nil, nil
	}
	return convertDynamoDBImage(record.Change.NewImage)
}

// convertDynamoDBImage reads an events table item written by store.DynamoEventStore.
func convertDynamoDBImage(image map[string]events.DynamoDBAttributeValue) (*store.Event, error) {
	if image == nil {
		return nil, fmt.Errorf("DynamoDB image is nil")
	}

	event := &store.Event{SchemaVersion: 1}

	if v, ok := image["id"]; ok {
		event.ID = v.String()
	}
	if v, ok := image["aggregate_id"]; ok {
		event.AggregateID = v.String()
	}
	if v, ok := image["aggregate_type"]; ok {
		event.AggregateType = v.String()
	}
	if v, ok := image["event_type"]; ok {
		event.EventType = v.String()
	}
	if v, ok := image["data"]; ok {
		event.Data = json.RawMessage(v.String())
	}
	if v, ok := image["metadata"]; ok && v.String() != "" {
		if err := json.Unmarshal([]byte(v.String()), &event.Metadata); err != nil {
			return nil, fmt.Errorf("failed to parse metadata: %w", err)
		}
	}
	if v, ok := image["created_at"]; ok {
		t, err := time.Parse(time.RFC3339Nano, v.String())
		if err != nil {
			return nil, fmt.Errorf("failed to parse created_at: %w", err)
		}
		event.Timestamp = t
		event.Sequence = t.UnixNano()
	}
	if v, ok := image["version"]; ok {
		version, err := v.Integer()
		if err != nil {
			return nil, fmt.Errorf("failed to parse version: %w", err)
		}
		event.Version = int(version)
	}
	if v, ok := image["schema_version"]; ok {
		schemaVersion, err := v.Integer()
		if err != nil {
			return nil, fmt.Errorf("failed to parse schema_version: %w", err)
		}
		event.SchemaVersion = int(schemaVersion)
	}

	if event.ID == "" || event.AggregateID == "" || event.EventType == "" {
		return nil, fmt.Errorf("missing required fields: id=%s, aggregate_id=%s, event_type=%s",
			event.ID, event.AggregateID, event.EventType)
	}

	return event, nil
}

// BatchConvertFromKinesisEvent converts all records from a Kinesis event to store.Events.
// Returns successfully converted events and any errors encountered.
func BatchConvertFromKinesisEvent(kinesisEvent events.KinesisEvent) ([]*store.Event, []error) {
	var eventList []*store.Event
	var errs []error

	for _, record := range kinesisEvent.Records {
		event, err := ConvertFromKinesisRecord(record)
		if err != nil {
			errs = append(errs, fmt.Errorf("record %s: %w", record.EventID, err))
			continue
		}
		if event != nil {
			eventList = append(eventList, event)
		}
	}

	return eventList, errs
}

// EventHandler consumes one decoded event.
type EventHandler func(ctx context.Context, event store.Event) error

// ProcessBatch hands each record of a Kinesis batch to handle in order.
// Records that cannot be decoded are logged and skipped. A handler error
// reports that record and every later one as a batch item failure, so
// Lambda retries from the first failed sequence number and per-shard
// order is kept.
func ProcessBatch(ctx context.Context, kinesisEvent events.KinesisEvent, handle EventHandler, logger *zap.Logger) events.KinesisEventResponse {
	if logger == nil {
		logger = zap.NewNop()
	}

	var resp events.KinesisEventResponse
	for i, record := range kinesisEvent.Records {
		event, err := ConvertFromKinesisRecord(record)
		if err != nil {
			logger.Warn("skipping undecodable record",
				zap.String("record_id", record.EventID),
				zap.Error(err),
			)
			continue
		}
		if event == nil {
			continue
		}

		if err := handle(ctx, *event); err != nil {
			logger.Error("failed to handle event",
				zap.String("event_id", event.ID),
				zap.String("event_type", event.EventType),
				zap.String("aggregate_id", event.AggregateID),
				zap.Error(err),
			)
			for _, rest := range kinesisEvent.Records[i:] {
				resp.BatchItemFailures = append(resp.BatchItemFailures, events.KinesisBatchItemFailure{
					ItemIdentifier: rest.Kinesis.SequenceNumber,
				})
			}
			return resp
		}
	}
	return resp
}
