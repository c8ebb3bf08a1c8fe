package dynamo_test

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/eringen/starch/dynamo"
	"github.com/eringen/starch/entity"
)

// fakeClient keeps items per table and evaluates only the key conditions the
// store issues. Queries come back in pages of two to exercise pagination.
type fakeClient struct {
	tables  map[string][]map[string]types.AttributeValue
	queries []*dynamodb.QueryInput
}

func newFake() *fakeClient {
	return &fakeClient{tables: make(map[string][]map[string]types.AttributeValue)}
}

func attrString(v types.AttributeValue) string {
	switch a := v.(type) {
	case *types.AttributeValueMemberS:
		return a.Value
	case *types.AttributeValueMemberN:
		return a.Value
	}
	return ""
}

func keyMatches(item, key map[string]types.AttributeValue) bool {
	for k, v := range key {
		if attrString(item[k]) != attrString(v) {
			return false
		}
	}
	return true
}

func (f *fakeClient) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	for _, item := range f.tables[aws.ToString(in.TableName)] {
		if keyMatches(item, in.Key) {
			return &dynamodb.GetItemOutput{Item: item}, nil
		}
	}
	return &dynamodb.GetItemOutput{}, nil
}

func (f *fakeClient) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	table := aws.ToString(in.TableName)
	key := map[string]types.AttributeValue{}
	for _, k := range []string{"id", "key"} {
		if v, ok := in.Item[k]; ok {
			key[k] = v
		}
	}
	for i, item := range f.tables[table] {
		if keyMatches(item, key) {
			f.tables[table][i] = in.Item
			return &dynamodb.PutItemOutput{}, nil
		}
	}
	f.tables[table] = append(f.tables[table], in.Item)
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeClient) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	if len(in.ExclusiveStartKey) == 0 {
		f.queries = append(f.queries, in)
	}
	typ := attrString(in.ExpressionAttributeValues[":type"])
	id := attrString(in.ExpressionAttributeValues[":id"])
	bound := attrString(in.ExpressionAttributeValues[":sk"])
	cond := aws.ToString(in.KeyConditionExpression)

	var items []map[string]types.AttributeValue
	for _, item := range f.tables[aws.ToString(in.TableName)] {
		if attrString(item["type"]) != typ {
			continue
		}
		if id != "" && attrString(item["id"]) != id {
			continue
		}
		sk := attrString(item["sort_key"])
		if strings.Contains(cond, ">") && sk <= bound {
			continue
		}
		if strings.Contains(cond, "<") && sk >= bound {
			continue
		}
		items = append(items, item)
	}
	forward := aws.ToBool(in.ScanIndexForward)
	sort.Slice(items, func(i, j int) bool {
		a, b := attrString(items[i]["sort_key"]), attrString(items[j]["sort_key"])
		if forward {
			return a < b
		}
		return a > b
	})

	start := 0
	if in.ExclusiveStartKey != nil {
		for i, item := range items {
			if keyMatches(item, in.ExclusiveStartKey) {
				start = i + 1
			}
		}
	}
	end := start + 2
	if end > len(items) {
		end = len(items)
	}
	out := &dynamodb.QueryOutput{Items: items[start:end]}
	if end < len(items) {
		last := items[end-1]
		out.LastEvaluatedKey = map[string]types.AttributeValue{"id": last["id"]}
		if k, ok := last["key"]; ok {
			out.LastEvaluatedKey["key"] = k
		}
	}
	return out, nil
}

// UpdateItem supports only the ADD counter expression used for id
// allocation.
func (f *fakeClient) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	table := aws.ToString(in.TableName)
	attr := in.ExpressionAttributeNames["#n"]
	for _, item := range f.tables[table] {
		if keyMatches(item, in.Key) {
			n, _ := strconv.Atoi(attrString(item[attr]))
			item[attr] = &types.AttributeValueMemberN{Value: strconv.Itoa(n + 1)}
			return &dynamodb.UpdateItemOutput{Attributes: map[string]types.AttributeValue{attr: item[attr]}}, nil
		}
	}
	item := map[string]types.AttributeValue{attr: &types.AttributeValueMemberN{Value: "1"}}
	for k, v := range in.Key {
		item[k] = v
	}
	f.tables[table] = append(f.tables[table], item)
	return &dynamodb.UpdateItemOutput{Attributes: map[string]types.AttributeValue{attr: item[attr]}}, nil
}

func (f *fakeClient) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	table := aws.ToString(in.TableName)
	kept := f.tables[table][:0]
	for _, item := range f.tables[table] {
		if !keyMatches(item, in.Key) {
			kept = append(kept, item)
		}
	}
	f.tables[table] = kept
	return &dynamodb.DeleteItemOutput{}, nil
}

func day(n int) time.Time { return time.Date(2024, 3, n, 12, 0, 0, 0, time.UTC) }

func seed(t *testing.T) (*dynamo.Store, *fakeClient) {
	t.Helper()
	fake := newFake()
	s := dynamo.New(fake, dynamo.Config{})
	ctx := context.Background()
	recs := []entity.Record{
		{ID: 1, Type: entity.TypePost, Status: entity.StatusPublish, Slug: "one", Title: "One", Date: day(1)},
		{ID: 2, Type: entity.TypePost, Status: "draft", Slug: "two", Title: "Two", Date: day(2)},
		{ID: 3, Type: entity.TypePost, Status: entity.StatusPublish, Slug: "three", Title: "Three", Date: day(3)},
		{ID: 4, Type: entity.TypePost, Status: entity.StatusPublish, Slug: "four", Title: "Four", Date: day(4)},
		{ID: 5, Type: entity.TypePage, Status: entity.StatusPublish, Slug: "about", Title: "About", Date: day(2)},
	}
	for _, rec := range recs {
		if _, err := s.Put(ctx, rec); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}
	return s, fake
}

func TestPutAndGet(t *testing.T) {
	s, _ := seed(t)
	got, err := s.Get(context.Background(), 3)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Slug != "three" || !got.Date.Equal(day(3)) {
		t.Errorf("Get = %+v", got)
	}
	if len(got.GUID) != 36 {
		t.Errorf("GUID = %q, want a uuid", got.GUID)
	}
	if _, err := s.Get(context.Background(), 42); !errors.Is(err, entity.ErrNotFound) {
		t.Errorf("Get(42) error = %v, want ErrNotFound", err)
	}
}

func TestQueryOrderAndFilters(t *testing.T) {
	s, fake := seed(t)
	ctx := context.Background()

	recs, err := s.Query(ctx, entity.Query{Type: entity.TypePost, Status: entity.StatusPublish})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	var ids []int64
	for _, r := range recs {
		ids = append(ids, r.ID)
	}
	if len(ids) != 3 || ids[0] != 4 || ids[1] != 3 || ids[2] != 1 {
		t.Errorf("ids = %v, want [4 3 1]", ids)
	}
	q := fake.queries[len(fake.queries)-1]
	if aws.ToString(q.IndexName) != "type-date-index" || aws.ToBool(q.ScanIndexForward) {
		t.Errorf("query input index=%q forward=%v", aws.ToString(q.IndexName), aws.ToBool(q.ScanIndexForward))
	}

	recs, err = s.Query(ctx, entity.Query{Types: []string{entity.TypePost, entity.TypePage}, Status: entity.StatusPublish, Order: entity.Asc, Limit: 2})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(recs) != 2 || recs[0].ID != 1 || recs[1].ID != 5 {
		t.Errorf("mixed query = %+v, want records 1 and 5", recs)
	}

	if _, err := s.Query(ctx, entity.Query{}); !errors.Is(err, dynamo.ErrUnsupportedQuery) {
		t.Errorf("untyped Query error = %v, want ErrUnsupportedQuery", err)
	}
}

func TestAdjacent(t *testing.T) {
	s, _ := seed(t)
	ctx := context.Background()
	one, _ := s.Get(ctx, 1)

	next, err := s.Adjacent(ctx, one, entity.Next)
	if err != nil {
		t.Fatalf("Adjacent failed: %v", err)
	}
	if next.ID != 3 {
		t.Errorf("next of 1 = %d, want 3 (draft 2 skipped)", next.ID)
	}
	if _, err := s.Adjacent(ctx, one, entity.Previous); !errors.Is(err, entity.ErrNotFound) {
		t.Errorf("previous of 1 error = %v, want ErrNotFound", err)
	}
	four, _ := s.Get(ctx, 4)
	prev, err := s.Adjacent(ctx, four, entity.Previous)
	if err != nil || prev.ID != 3 {
		t.Errorf("previous of 4 = %d, %v; want 3", prev.ID, err)
	}
}

func TestMetaAndOptions(t *testing.T) {
	s, _ := seed(t)
	ctx := context.Background()
	if err := s.SetMeta(ctx, 1, "subtitle", "first"); err != nil {
		t.Fatalf("SetMeta failed: %v", err)
	}
	v, err := s.Meta(ctx, 1, "subtitle")
	if err != nil || v != "first" {
		t.Errorf("Meta = %q, %v; want first", v, err)
	}
	if _, err := s.Meta(ctx, 1, "missing"); !errors.Is(err, entity.ErrNotFound) {
		t.Errorf("Meta(missing) error = %v, want ErrNotFound", err)
	}

	if v, err := s.Option(ctx, "routes_hash"); err != nil || v != "" {
		t.Errorf("Option(unset) = %q, %v; want empty", v, err)
	}
	if err := s.SetOption(ctx, "routes_hash", "abc"); err != nil {
		t.Fatalf("SetOption failed: %v", err)
	}
	if err := s.SetOption(ctx, "routes_hash", "def"); err != nil {
		t.Fatalf("SetOption failed: %v", err)
	}
	if v, _ := s.Option(ctx, "routes_hash"); v != "def" {
		t.Errorf("Option = %q, want def", v)
	}
}

func TestSaveAllocatesIDsAndDelete(t *testing.T) {
	fake := newFake()
	s := dynamo.New(fake, dynamo.Config{})
	ctx := context.Background()

	a, err := s.Save(ctx, entity.Record{Type: entity.TypePost, Slug: "a", Date: day(1)})
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	b, err := s.Save(ctx, entity.Record{Type: entity.TypePost, Slug: "b", Date: day(2)})
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if a.ID != 1 || b.ID != 2 {
		t.Errorf("ids = %d, %d; want 1, 2", a.ID, b.ID)
	}
	if a.Status != entity.StatusPublish {
		t.Errorf("Status = %q, want publish default", a.Status)
	}

	a.Title = "renamed"
	updated, err := s.Save(ctx, a)
	if err != nil {
		t.Fatalf("Save(update) failed: %v", err)
	}
	if updated.GUID != a.GUID || updated.ID != a.ID {
		t.Errorf("update changed identity: %+v", updated)
	}
	if _, err := s.Save(ctx, entity.Record{ID: 99, Type: entity.TypePost}); !errors.Is(err, entity.ErrNotFound) {
		t.Errorf("Save(missing id) error = %v, want ErrNotFound", err)
	}

	for _, key := range []string{"k1", "k2", "k3"} {
		if err := s.SetMeta(ctx, a.ID, key, "v"); err != nil {
			t.Fatalf("SetMeta failed: %v", err)
		}
	}
	if err := s.SetMeta(ctx, b.ID, "k1", "kept"); err != nil {
		t.Fatalf("SetMeta failed: %v", err)
	}
	if err := s.Delete(ctx, a.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := s.Get(ctx, a.ID); !errors.Is(err, entity.ErrNotFound) {
		t.Errorf("Get after delete error = %v, want ErrNotFound", err)
	}
	for _, key := range []string{"k1", "k2", "k3"} {
		if _, err := s.Meta(ctx, a.ID, key); !errors.Is(err, entity.ErrNotFound) {
			t.Errorf("Meta(%s) after delete error = %v, want ErrNotFound", key, err)
		}
	}
	if v, err := s.Meta(ctx, b.ID, "k1"); err != nil || v != "kept" {
		t.Errorf("other record meta = %q, %v; want kept", v, err)
	}
}

func TestEntitiesOverDynamo(t *testing.T) {
	s, _ := seed(t)
	m := entity.NewMaterializer(s, entity.NewRegistry())
	ctx := context.Background()
	four, err := m.Get(ctx, 4)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	next, err := four.Base().Next(ctx)
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if next == nil || next.Base().ID() != 1 {
		t.Errorf("Next of last post = %v, want wrap to 1", next)
	}
	if last, _ := four.Base().IsLast(ctx); !last {
		t.Errorf("IsLast = false, want true")
	}
}
