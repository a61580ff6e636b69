// Package dynamo stores quotations and their audit trail in DynamoDB.
//
// Table requirements:
//   - quotations: PK id (string)
//   - events: PK quotation_id (string), SK sk (string)
package dynamo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"quoteflow/internal/domain"
	"quoteflow/internal/events"
	"quoteflow/internal/repo"
)

// API is the subset of the DynamoDB client the store uses.
type API interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

type Store struct {
	ddb         API
	table       string
	eventsTable string
}

func New(ddb API, table, eventsTable string) *Store {
	return &Store{ddb: ddb, table: table, eventsTable: eventsTable}
}

type quotationItem struct {
	ID          string `dynamodbav:"id"`
	Number      string `dynamodbav:"number"`
	Status      string `dynamodbav:"status"`
	CreatedBy   string `dynamodbav:"created_by"`
	LockVersion int64  `dynamodbav:"lock_version"`
	CreatedAt   string `dynamodbav:"created_at"`
	UpdatedAt   string `dynamodbav:"updated_at"`
	Doc         string `dynamodbav:"doc"`
}

type eventItem struct {
	QuotationID string `dynamodbav:"quotation_id"`
	SK          string `dynamodbav:"sk"`
	TS          string `dynamodbav:"ts"`
	Type        string `dynamodbav:"type"`
	ActorID     string `dynamodbav:"actor_id"`
	Before      string `dynamodbav:"before,omitempty"`
	After       string `dynamodbav:"after,omitempty"`
	Details     string `dynamodbav:"details,omitempty"`
}

func (s *Store) Create(ctx context.Context, q domain.Quotation, recs []events.Record) error {
	put, err := s.putQuotation(q)
	if err != nil {
		return err
	}
	put.ConditionExpression = aws.String("attribute_not_exists(#id)")
	put.ExpressionAttributeNames = map[string]string{"#id": "id"}
	items := []types.TransactWriteItem{{Put: put}}
	evts, err := s.putEvents(q.LockVersion, recs)
	if err != nil {
		return err
	}
	_, err = s.ddb.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: append(items, evts...)})
	if err != nil {
		if conditionFailed(err) {
			return fmt.Errorf("quotation %s already exists", q.ID)
		}
		return err
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (domain.Quotation, error) {
	out, err := s.ddb.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: id},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.Quotation{}, err
	}
	if len(out.Item) == 0 {
		return domain.Quotation{}, repo.ErrNotFound
	}
	return fromItem(out.Item)
}

// Save writes q and its audit records in one transaction guarded by the
// expected lock version.
func (s *Store) Save(ctx context.Context, q domain.Quotation, expected int64, recs []events.Record) error {
	if q.LockVersion <= expected {
		return fmt.Errorf("lock version %d must exceed %d", q.LockVersion, expected)
	}
	put, err := s.putQuotation(q)
	if err != nil {
		return err
	}
	put.ConditionExpression = aws.String("attribute_exists(#id) AND #lock = :expected")
	put.ExpressionAttributeNames = map[string]string{"#id": "id", "#lock": "lock_version"}
	put.ExpressionAttributeValues = map[string]types.AttributeValue{
		":expected": &types.AttributeValueMemberN{Value: strconv.FormatInt(expected, 10)},
	}
	items := []types.TransactWriteItem{{Put: put}}
	evts, err := s.putEvents(q.LockVersion, recs)
	if err != nil {
		return err
	}
	_, err = s.ddb.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: append(items, evts...)})
	if err == nil {
		return nil
	}
	if !conditionFailed(err) {
		return err
	}
	if _, getErr := s.Get(ctx, q.ID); errors.Is(getErr, repo.ErrNotFound) {
		return repo.ErrNotFound
	}
	return repo.ErrConflict
}

// List scans the table and filters in memory. Quotations are returned newest
// first like the SQLite store.
func (s *Store) List(ctx context.Context, f repo.Filter) ([]domain.Quotation, error) {
	var out []domain.Quotation
	p := dynamodb.NewScanPaginator(s.ddb, &dynamodb.ScanInput{TableName: aws.String(s.table), ConsistentRead: aws.Bool(true)})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, item := range page.Items {
			q, err := fromItem(item)
			if err != nil {
				return nil, err
			}
			if f.Match(q) {
				out = append(out, q)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *Store) Events(ctx context.Context, id string, limit int) ([]events.Record, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(s.eventsTable),
		KeyConditionExpression: aws.String("#qid = :qid"),
		ExpressionAttributeNames: map[string]string{
			"#qid": "quotation_id",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":qid": &types.AttributeValueMemberS{Value: id},
		},
		ScanIndexForward: aws.Bool(false),
	}
	var out []events.Record
	p := dynamodb.NewQueryPaginator(s.ddb, in)
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, item := range page.Items {
			var it eventItem
			if err := attributevalue.UnmarshalMap(item, &it); err != nil {
				return nil, err
			}
			rec, err := fromEventItem(it)
			if err != nil {
				return nil, err
			}
			out = append(out, rec)
			if limit > 0 && len(out) >= limit {
				return out, nil
			}
		}
	}
	return out, nil
}

func (s *Store) putQuotation(q domain.Quotation) (*types.Put, error) {
	av, err := toItem(q)
	if err != nil {
		return nil, err
	}
	return &types.Put{TableName: aws.String(s.table), Item: av}, nil
}

// putEvents never overwrites an existing record.
func (s *Store) putEvents(lock int64, recs []events.Record) ([]types.TransactWriteItem, error) {
	out := make([]types.TransactWriteItem, 0, len(recs))
	for i, rec := range recs {
		av, err := attributevalue.MarshalMap(toEventItem(rec, lock, i))
		if err != nil {
			return nil, fmt.Errorf("marshal event %s: %w", rec.Type, err)
		}
		out = append(out, types.TransactWriteItem{Put: &types.Put{
			TableName:                aws.String(s.eventsTable),
			Item:                     av,
			ConditionExpression:      aws.String("attribute_not_exists(#sk)"),
			ExpressionAttributeNames: map[string]string{"#sk": "sk"},
		}})
	}
	return out, nil
}

func toItem(q domain.Quotation) (map[string]types.AttributeValue, error) {
	doc, err := json.Marshal(q)
	if err != nil {
		return nil, fmt.Errorf("marshal quotation: %w", err)
	}
	return attributevalue.MarshalMap(quotationItem{
		ID:          q.ID,
		Number:      q.Number,
		Status:      string(q.Status),
		CreatedBy:   q.CreatedBy,
		LockVersion: q.LockVersion,
		CreatedAt:   q.CreatedAt.UTC().Format(repo.TimeLayout),
		UpdatedAt:   q.UpdatedAt.UTC().Format(repo.TimeLayout),
		Doc:         string(doc),
	})
}

func fromItem(av map[string]types.AttributeValue) (domain.Quotation, error) {
	var it quotationItem
	if err := attributevalue.UnmarshalMap(av, &it); err != nil {
		return domain.Quotation{}, err
	}
	var q domain.Quotation
	if err := json.Unmarshal([]byte(it.Doc), &q); err != nil {
		return domain.Quotation{}, fmt.Errorf("decode quotation %s: %w", it.ID, err)
	}
	q.LockVersion = it.LockVersion
	return q, nil
}

// toEventItem keys records by timestamp, the lock version written with them
// and the batch position. Saves sharing a timestamp get distinct keys and
// keep their order.
func toEventItem(rec events.Record, lock int64, seq int) eventItem {
	ts := rec.TS.UTC().Format(repo.TimeLayout)
	return eventItem{
		QuotationID: rec.QuotationID,
		SK:          fmt.Sprintf("%s#%010d#%03d", ts, lock, seq),
		TS:          ts,
		Type:        rec.Type,
		ActorID:     rec.ActorID,
		Before:      string(rec.Before),
		After:       string(rec.After),
		Details:     string(rec.Details),
	}
}

func fromEventItem(it eventItem) (events.Record, error) {
	ts, err := time.Parse(repo.TimeLayout, it.TS)
	if err != nil {
		return events.Record{}, err
	}
	return events.Record{
		TS:          ts,
		Type:        it.Type,
		QuotationID: it.QuotationID,
		ActorID:     it.ActorID,
		Before:      rawOrNil(it.Before),
		After:       rawOrNil(it.After),
		Details:     rawOrNil(it.Details),
	}, nil
}

func rawOrNil(s string) json.RawMessage {
	if s == "" {
		return nil
	}
	return json.RawMessage(s)
}

func conditionFailed(err error) bool {
	var tce *types.TransactionCanceledException
	if errors.As(err, &tce) {
		for _, r := range tce.CancellationReasons {
			if aws.ToString(r.Code) == "ConditionalCheckFailed" {
				return true
			}
		}
		return false
	}
	var cfe *types.ConditionalCheckFailedException
	return errors.As(err, &cfe)
}
