package dynamo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quoteflow/internal/domain"
	"quoteflow/internal/events"
	"quoteflow/internal/repo"
)

// fakeDDB understands just the expressions the store issues.
type fakeDDB struct {
	mu     sync.Mutex
	tables map[string]map[string]map[string]types.AttributeValue
}

func newFake() *fakeDDB {
	return &fakeDDB{tables: map[string]map[string]map[string]types.AttributeValue{}}
}

func str(av types.AttributeValue) string {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return v.Value
	case *types.AttributeValueMemberN:
		return v.Value
	}
	return ""
}

func itemKey(item map[string]types.AttributeValue) string {
	if id, ok := item["id"]; ok {
		return str(id)
	}
	return str(item["quotation_id"]) + "|" + str(item["sk"])
}

func (f *fakeDDB) table(name string) map[string]map[string]types.AttributeValue {
	t, ok := f.tables[name]
	if !ok {
		t = map[string]map[string]types.AttributeValue{}
		f.tables[name] = t
	}
	return t
}

func (f *fakeDDB) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &dynamodb.GetItemOutput{Item: f.table(aws.ToString(in.TableName))[itemKey(in.Key)]}, nil
}

func (f *fakeDDB) Scan(_ context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var items []map[string]types.AttributeValue
	for _, it := range f.table(aws.ToString(in.TableName)) {
		items = append(items, it)
	}
	return &dynamodb.ScanOutput{Items: items}, nil
}

func (f *fakeDDB) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	qid := str(in.ExpressionAttributeValues[":qid"])
	var items []map[string]types.AttributeValue
	for _, it := range f.table(aws.ToString(in.TableName)) {
		if str(it["quotation_id"]) == qid {
			items = append(items, it)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if aws.ToBool(in.ScanIndexForward) {
			return str(items[i]["sk"]) < str(items[j]["sk"])
		}
		return str(items[i]["sk"]) > str(items[j]["sk"])
	})
	return &dynamodb.QueryOutput{Items: items}, nil
}

func (f *fakeDDB) TransactWriteItems(_ context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	reasons := make([]types.CancellationReason, len(in.TransactItems))
	failed := false
	for i, ti := range in.TransactItems {
		reasons[i].Code = aws.String("None")
		put := ti.Put
		existing, exists := f.table(aws.ToString(put.TableName))[itemKey(put.Item)]
		ok := true
		switch aws.ToString(put.ConditionExpression) {
		case "":
		case "attribute_not_exists(#id)", "attribute_not_exists(#sk)":
			ok = !exists
		case "attribute_exists(#id) AND #lock = :expected":
			ok = exists && str(existing["lock_version"]) == str(put.ExpressionAttributeValues[":expected"])
		default:
			return nil, fmt.Errorf("unsupported condition %q", aws.ToString(put.ConditionExpression))
		}
		if !ok {
			failed = true
			reasons[i].Code = aws.String("ConditionalCheckFailed")
		}
	}
	if failed {
		return nil, &types.TransactionCanceledException{Message: aws.String("cancelled"), CancellationReasons: reasons}
	}
	for _, ti := range in.TransactItems {
		f.table(aws.ToString(ti.Put.TableName))[itemKey(ti.Put.Item)] = ti.Put.Item
	}
	return &dynamodb.TransactWriteItemsOutput{}, nil
}

var fixedNow = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func seed(t *testing.T, s *Store, id string, created time.Time) domain.Quotation {
	t.Helper()
	until := created.Add(30 * 24 * time.Hour)
	q := domain.Quotation{
		ID:          id,
		Number:      "Q-" + id,
		CreatedBy:   "rep-1",
		CreatedAt:   created,
		UpdatedAt:   created,
		Status:      domain.StatusDraft,
		Version:     "1.0",
		LockVersion: 1,
		ValidUntil:  &until,
		Items:       []domain.LineItem{{ID: "i", Quantity: 2, UnitPrice: 10}},
	}
	rec, err := events.New(created, "quotation.created", id, "rep-1", nil, q.Snapshot(), nil)
	require.NoError(t, err)
	require.NoError(t, s.Create(context.Background(), q, []events.Record{rec}))
	return q
}

func TestCreateGetRoundTrip(t *testing.T) {
	s := New(newFake(), "quotations", "quotation_events")
	q := seed(t, s, "q-1", fixedNow)

	got, err := s.Get(context.Background(), "q-1")
	require.NoError(t, err)
	assert.Equal(t, q.Number, got.Number)
	assert.Equal(t, int64(1), got.LockVersion)
	require.NotNil(t, got.ValidUntil)
	assert.True(t, q.ValidUntil.Equal(*got.ValidUntil))
	assert.Equal(t, q.Items, got.Items)

	err = s.Create(context.Background(), q, nil)
	assert.Error(t, err)

	_, err = s.Get(context.Background(), "nope")
	assert.True(t, errors.Is(err, repo.ErrNotFound))
}

func TestSaveConditionalOnLockVersion(t *testing.T) {
	ctx := context.Background()
	s := New(newFake(), "quotations", "quotation_events")
	q := seed(t, s, "q-1", fixedNow)

	q.Title = "first"
	q.LockVersion = 2
	require.NoError(t, s.Save(ctx, q, 1, nil))

	stale := q
	stale.Title = "stale"
	stale.LockVersion = 2
	assert.True(t, errors.Is(s.Save(ctx, stale, 1, nil), repo.ErrConflict))

	missing := domain.Quotation{ID: "ghost", LockVersion: 2}
	assert.True(t, errors.Is(s.Save(ctx, missing, 1, nil), repo.ErrNotFound))

	got, err := s.Get(ctx, "q-1")
	require.NoError(t, err)
	assert.Equal(t, "first", got.Title)
}

func TestEventsAndList(t *testing.T) {
	ctx := context.Background()
	s := New(newFake(), "quotations", "quotation_events")
	q := seed(t, s, "q-1", fixedNow)
	seed(t, s, "q-2", fixedNow.Add(time.Hour))

	before := q.Snapshot()
	q.Status = domain.StatusPendingReview
	q.LockVersion = 2
	rec, err := events.New(fixedNow.Add(time.Minute), "quotation.transitioned", q.ID, "rep-1", before, q.Snapshot(), nil)
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, q, 1, []events.Record{rec}))

	evts, err := s.Events(ctx, "q-1", 0)
	require.NoError(t, err)
	require.Len(t, evts, 2)
	assert.Equal(t, "quotation.transitioned", evts[0].Type)
	assert.Equal(t, "quotation.created", evts[1].Type)
	assert.Nil(t, evts[1].Before)

	evts, err = s.Events(ctx, "q-1", 1)
	require.NoError(t, err)
	assert.Len(t, evts, 1)

	all, err := s.List(ctx, repo.Filter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "q-2", all[0].ID)

	review, err := s.List(ctx, repo.Filter{Statuses: []domain.Status{domain.StatusPendingReview}})
	require.NoError(t, err)
	require.Len(t, review, 1)
	assert.Equal(t, "q-1", review[0].ID)
}

func TestSavesAtSameInstantKeepEveryEvent(t *testing.T) {
	ctx := context.Background()
	s := New(newFake(), "quotations", "quotation_events")
	q := seed(t, s, "q-1", fixedNow)

	for i, to := range []domain.Status{domain.StatusPendingReview, domain.StatusPendingApproval} {
		before := q.Snapshot()
		q.Status = to
		q.LockVersion = int64(i + 2)
		rec, err := events.New(fixedNow, "quotation.transitioned", q.ID, "rep-1", before, q.Snapshot(), nil)
		require.NoError(t, err)
		require.NoError(t, s.Save(ctx, q, q.LockVersion-1, []events.Record{rec}))
	}

	evts, err := s.Events(ctx, "q-1", 0)
	require.NoError(t, err)
	require.Len(t, evts, 3)
	assert.Contains(t, string(evts[0].After), string(domain.StatusPendingApproval))
	assert.Contains(t, string(evts[1].After), string(domain.StatusPendingReview))
	assert.Equal(t, "quotation.created", evts[2].Type)
}

func TestEventPutsRefuseExistingKeys(t *testing.T) {
	s := New(newFake(), "quotations", "quotation_events")
	rec, err := events.New(fixedNow, "quotation.created", "q-1", "rep-1", nil, nil, nil)
	require.NoError(t, err)
	puts, err := s.putEvents(1, []events.Record{rec, rec})
	require.NoError(t, err)
	require.Len(t, puts, 2)
	for _, p := range puts {
		assert.Equal(t, "attribute_not_exists(#sk)", aws.ToString(p.Put.ConditionExpression))
	}
	assert.NotEqual(t, str(puts[0].Put.Item["sk"]), str(puts[1].Put.Item["sk"]))
}
