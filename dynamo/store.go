// Package dynamo stores content records, metadata and options in DynamoDB.
//
// Records live in one table keyed by numeric id with a global secondary
// index on (type, sort_key). The sort key orders records by date and then id,
// which is the order queries and adjacency lookups use. Metadata is keyed by
// (id, key) and options by key.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/eringen/starch/entity"
)

// ErrUnsupportedQuery is returned for queries the table layout cannot serve.
var ErrUnsupportedQuery = errors.New("starch: query needs a content type")

// Client is the subset of *dynamodb.Client the store uses.
type Client interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// counterKey is the options table item holding the last assigned record id.
const counterKey = "_next_id"

// Config holds table names.
type Config struct {
	// RecordsTable holds content records. Default: "starch_records"
	RecordsTable string

	// MetaTable holds record metadata. Default: "starch_meta"
	MetaTable string

	// OptionsTable holds site options. Default: "starch_options"
	OptionsTable string

	// TypeIndex is the (type, sort_key) index on RecordsTable.
	// Default: "type-date-index"
	TypeIndex string
}

// DefaultConfig returns the default table names.
func DefaultConfig() Config {
	return Config{
		RecordsTable: "starch_records",
		MetaTable:    "starch_meta",
		OptionsTable: "starch_options",
		TypeIndex:    "type-date-index",
	}
}

func (c *Config) validate() {
	d := DefaultConfig()
	if c.RecordsTable == "" {
		c.RecordsTable = d.RecordsTable
	}
	if c.MetaTable == "" {
		c.MetaTable = d.MetaTable
	}
	if c.OptionsTable == "" {
		c.OptionsTable = d.OptionsTable
	}
	if c.TypeIndex == "" {
		c.TypeIndex = d.TypeIndex
	}
}

// Store implements entity.Store and entity.Options over DynamoDB.
type Store struct {
	client Client
	config Config
}

// New creates a store.
func New(client Client, config Config) *Store {
	config.validate()
	return &Store{client: client, config: config}
}

type recordItem struct {
	ID       int64     `dynamodbav:"id"`
	GUID     string    `dynamodbav:"guid"`
	Type     string    `dynamodbav:"type"`
	SortKey  string    `dynamodbav:"sort_key"`
	Status   string    `dynamodbav:"status"`
	Title    string    `dynamodbav:"title"`
	Slug     string    `dynamodbav:"slug"`
	Excerpt  string    `dynamodbav:"excerpt,omitempty"`
	Body     string    `dynamodbav:"body,omitempty"`
	ParentID int64     `dynamodbav:"parent_id,omitempty"`
	MimeType string    `dynamodbav:"mime_type,omitempty"`
	File     string    `dynamodbav:"file,omitempty"`
	Date     time.Time `dynamodbav:"date"`
	Modified time.Time `dynamodbav:"modified"`
}

type metaItem struct {
	ID    int64  `dynamodbav:"id"`
	Key   string `dynamodbav:"key"`
	Value string `dynamodbav:"value"`
}

type optionItem struct {
	Key   string `dynamodbav:"key"`
	Value string `dynamodbav:"value"`
}

// SortKey is the index sort key of rec: its UTC date at fixed width and its
// zero-padded id, so string order equals (Date, ID) order.
func SortKey(rec entity.Record) string {
	return rec.Date.UTC().Format("2006-01-02T15:04:05.000000000Z") + "#" + fmt.Sprintf("%020d", rec.ID)
}

func toItem(rec entity.Record) recordItem {
	return recordItem{
		ID: rec.ID, GUID: rec.GUID, Type: rec.Type, SortKey: SortKey(rec), Status: rec.Status,
		Title: rec.Title, Slug: rec.Slug, Excerpt: rec.Excerpt, Body: rec.Body, ParentID: rec.ParentID,
		MimeType: rec.MimeType, File: rec.File, Date: rec.Date, Modified: rec.Modified,
	}
}

func (it recordItem) record() entity.Record {
	return entity.Record{
		ID: it.ID, GUID: it.GUID, Type: it.Type, Status: it.Status, Title: it.Title, Slug: it.Slug,
		Excerpt: it.Excerpt, Body: it.Body, ParentID: it.ParentID, MimeType: it.MimeType, File: it.File,
		Date: it.Date, Modified: it.Modified,
	}
}

func numKey(id int64) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"id": &types.AttributeValueMemberN{Value: strconv.FormatInt(id, 10)},
	}
}

// Put writes rec, assigning a GUID when it has none.
func (s *Store) Put(ctx context.Context, rec entity.Record) (entity.Record, error) {
	if rec.GUID == "" {
		rec.GUID = uuid.NewString()
	}
	item, err := attributevalue.MarshalMap(toItem(rec))
	if err != nil {
		return rec, fmt.Errorf("marshal record %d: %w", rec.ID, err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.config.RecordsTable),
		Item:      item,
	})
	if err != nil {
		return rec, fmt.Errorf("put record %d: %w", rec.ID, err)
	}
	return rec, nil
}

// Save inserts rec when its ID is zero, taking the next id from the
// options table counter, and replaces the stored record otherwise.
func (s *Store) Save(ctx context.Context, rec entity.Record) (entity.Record, error) {
	now := time.Now().UTC()
	if rec.Date.IsZero() {
		rec.Date = now
	}
	rec.Modified = now
	if rec.Status == "" {
		rec.Status = entity.StatusPublish
	}
	if rec.ID == 0 {
		id, err := s.nextID(ctx)
		if err != nil {
			return entity.Record{}, err
		}
		rec.ID = id
		return s.Put(ctx, rec)
	}
	old, err := s.Get(ctx, rec.ID)
	if err != nil {
		return entity.Record{}, err
	}
	rec.GUID = old.GUID
	return s.Put(ctx, rec)
}

func (s *Store) nextID(ctx context.Context) (int64, error) {
	out, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.config.OptionsTable),
		Key: map[string]types.AttributeValue{
			"key": &types.AttributeValueMemberS{Value: counterKey},
		},
		UpdateExpression:         aws.String("ADD #n :one"),
		ExpressionAttributeNames: map[string]string{"#n": "counter"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one": &types.AttributeValueMemberN{Value: "1"},
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	})
	if err != nil {
		return 0, fmt.Errorf("allocate record id: %w", err)
	}
	n, ok := out.Attributes["counter"].(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("allocate record id: counter missing from response")
	}
	return strconv.ParseInt(n.Value, 10, 64)
}

// Delete removes the record with id and all of its metadata.
func (s *Store) Delete(ctx context.Context, id int64) error {
	if _, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.config.RecordsTable),
		Key:       numKey(id),
	}); err != nil {
		return fmt.Errorf("delete record %d: %w", id, err)
	}

	paginator := dynamodb.NewQueryPaginator(s.client, &dynamodb.QueryInput{
		TableName:                aws.String(s.config.MetaTable),
		KeyConditionExpression:   aws.String("#id = :id"),
		ExpressionAttributeNames: map[string]string{"#id": "id"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":id": &types.AttributeValueMemberN{Value: strconv.FormatInt(id, 10)},
		},
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("list meta of %d: %w", id, err)
		}
		for _, item := range page.Items {
			key := numKey(id)
			key["key"] = item["key"]
			if _, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
				TableName: aws.String(s.config.MetaTable),
				Key:       key,
			}); err != nil {
				return fmt.Errorf("delete meta of %d: %w", id, err)
			}
		}
	}
	return nil
}

// Close is a no-op; the SDK client holds no resources that need release.
func (s *Store) Close() error { return nil }

// SetMeta writes one metadata value.
func (s *Store) SetMeta(ctx context.Context, id int64, key, value string) error {
	item, err := attributevalue.MarshalMap(metaItem{ID: id, Key: key, Value: value})
	if err != nil {
		return fmt.Errorf("marshal meta %d/%s: %w", id, key, err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.config.MetaTable),
		Item:      item,
	})
	return err
}

// Get returns the record with id, or entity.ErrNotFound.
func (s *Store) Get(ctx context.Context, id int64) (entity.Record, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.config.RecordsTable),
		Key:       numKey(id),
	})
	if err != nil {
		return entity.Record{}, err
	}
	if out.Item == nil {
		return entity.Record{}, entity.ErrNotFound
	}
	var it recordItem
	if err := attributevalue.UnmarshalMap(out.Item, &it); err != nil {
		return entity.Record{}, fmt.Errorf("unmarshal record %d: %w", id, err)
	}
	return it.record(), nil
}

// Query reads each requested type from the type index and filters the rest
// of q client side. A query without a type is not supported.
func (s *Store) Query(ctx context.Context, q entity.Query) ([]entity.Record, error) {
	typesList := q.Types
	if q.Type != "" {
		typesList = []string{q.Type}
	}
	if len(typesList) == 0 {
		return nil, ErrUnsupportedQuery
	}
	asc := q.Order == entity.Asc

	var out []entity.Record
	for _, typ := range typesList {
		recs, err := s.queryType(ctx, typ, "", asc, func(r entity.Record) bool { return matches(r, q) }, q.Limit)
		if err != nil {
			return nil, err
		}
		out = append(out, recs...)
	}
	if len(typesList) > 1 {
		sort.SliceStable(out, func(i, j int) bool {
			if asc {
				return SortKey(out[i]) < SortKey(out[j])
			}
			return SortKey(out[i]) > SortKey(out[j])
		})
		if q.Limit > 0 && len(out) > q.Limit {
			out = out[:q.Limit]
		}
	}
	return out, nil
}

// Adjacent returns the neighbour of current with the same type and status.
func (s *Store) Adjacent(ctx context.Context, current entity.Record, dir entity.Direction) (entity.Record, error) {
	op, asc := ">", true
	if dir == entity.Previous {
		op, asc = "<", false
	}
	sameStatus := func(r entity.Record) bool { return r.Status == current.Status }
	recs, err := s.queryType(ctx, current.Type, op+SortKey(current), asc, sameStatus, 1)
	if err != nil {
		return entity.Record{}, err
	}
	if len(recs) == 0 {
		return entity.Record{}, entity.ErrNotFound
	}
	return recs[0], nil
}

// queryType pages through one type's index partition. bound, when set, is
// a comparison operator followed by a sort key ("<2024..." or ">2024...").
func (s *Store) queryType(ctx context.Context, typ, bound string, asc bool, keep func(entity.Record) bool, limit int) ([]entity.Record, error) {
	cond := "#type = :type"
	values := map[string]types.AttributeValue{
		":type": &types.AttributeValueMemberS{Value: typ},
	}
	names := map[string]string{"#type": "type"}
	if bound != "" {
		cond += " AND #sk " + bound[:1] + " :sk"
		values[":sk"] = &types.AttributeValueMemberS{Value: bound[1:]}
		names["#sk"] = "sort_key"
	}

	paginator := dynamodb.NewQueryPaginator(s.client, &dynamodb.QueryInput{
		TableName:                 aws.String(s.config.RecordsTable),
		IndexName:                 aws.String(s.config.TypeIndex),
		KeyConditionExpression:    aws.String(cond),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
		ScanIndexForward:          aws.Bool(asc),
	})

	var out []entity.Record
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("query %s: %w", typ, err)
		}
		for _, raw := range page.Items {
			var it recordItem
			if err := attributevalue.UnmarshalMap(raw, &it); err != nil {
				return nil, fmt.Errorf("unmarshal %s record: %w", typ, err)
			}
			rec := it.record()
			if !keep(rec) {
				continue
			}
			out = append(out, rec)
			if limit > 0 && len(out) == limit {
				return out, nil
			}
		}
	}
	return out, nil
}

// Meta returns one metadata value of a record, or entity.ErrNotFound.
func (s *Store) Meta(ctx context.Context, id int64, key string) (string, error) {
	k := numKey(id)
	k["key"] = &types.AttributeValueMemberS{Value: key}
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.config.MetaTable),
		Key:       k,
	})
	if err != nil {
		return "", err
	}
	if out.Item == nil {
		return "", entity.ErrNotFound
	}
	var it metaItem
	if err := attributevalue.UnmarshalMap(out.Item, &it); err != nil {
		return "", fmt.Errorf("unmarshal meta %d/%s: %w", id, key, err)
	}
	return it.Value, nil
}

// Option returns a site option, or "" when it is unset.
func (s *Store) Option(ctx context.Context, key string) (string, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.config.OptionsTable),
		Key: map[string]types.AttributeValue{
			"key": &types.AttributeValueMemberS{Value: key},
		},
	})
	if err != nil {
		return "", err
	}
	if out.Item == nil {
		return "", nil
	}
	var it optionItem
	if err := attributevalue.UnmarshalMap(out.Item, &it); err != nil {
		return "", fmt.Errorf("unmarshal option %s: %w", key, err)
	}
	return it.Value, nil
}

// SetOption stores a site option, replacing any previous value.
func (s *Store) SetOption(ctx context.Context, key, value string) error {
	item, err := attributevalue.MarshalMap(optionItem{Key: key, Value: value})
	if err != nil {
		return fmt.Errorf("marshal option %s: %w", key, err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.config.OptionsTable),
		Item:      item,
	})
	return err
}

func matches(r entity.Record, q entity.Query) bool {
	if q.Slug != "" && r.Slug != q.Slug {
		return false
	}
	if q.ParentID != 0 && r.ParentID != q.ParentID {
		return false
	}
	if q.Status != "" && r.Status != q.Status {
		return false
	}
	if q.Search != "" {
		needle := strings.ToLower(q.Search)
		return strings.Contains(strings.ToLower(r.Title), needle) ||
			strings.Contains(strings.ToLower(r.Body), needle)
	}
	return true
}
