package mongo

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/hallcall/hallcall-api/pkg/otel"
)

type (
	bsonD = bson.D
	bsonE = bson.E
)

// ErrNotFound is returned by single document writes that matched nothing.
var ErrNotFound = errors.New("document not found")

// QueryBuilder provides a fluent interface for MongoDB queries
type QueryBuilder struct {
	collection *mongo.Collection
	name       string
	filter     bson.M
	sort       bson.D
	limit      *int64
	skip       *int64
	projection bson.M
}

// NewQuery creates a new query builder for a collection
func (c *Client) NewQuery(collectionName string) *QueryBuilder {
	return &QueryBuilder{
		collection: c.Collection(collectionName),
		name:       collectionName,
		filter:     bson.M{},
		projection: bson.M{},
	}
}

// Eq adds an equality filter
func (q *QueryBuilder) Eq(field string, value interface{}) *QueryBuilder {
	q.filter[field] = value
	return q
}

// In adds an "in" filter
func (q *QueryBuilder) In(field string, values interface{}) *QueryBuilder {
	return q.op(field, "$in", values)
}

// IsNull matches missing or null fields
func (q *QueryBuilder) IsNull(field string) *QueryBuilder {
	q.filter[field] = nil
	return q
}

// Gte adds a greater than or equal filter
func (q *QueryBuilder) Gte(field string, value interface{}) *QueryBuilder {
	return q.op(field, "$gte", value)
}

// Gt adds a greater than filter
func (q *QueryBuilder) Gt(field string, value interface{}) *QueryBuilder {
	return q.op(field, "$gt", value)
}

// Lte adds a less than or equal filter
func (q *QueryBuilder) Lte(field string, value interface{}) *QueryBuilder {
	return q.op(field, "$lte", value)
}

// Lt adds a less than filter
func (q *QueryBuilder) Lt(field string, value interface{}) *QueryBuilder {
	return q.op(field, "$lt", value)
}

// Or adds an $or clause made of the given sub-filters.
func (q *QueryBuilder) Or(clauses ...bson.M) *QueryBuilder {
	arr := bson.A{}
	for _, cl := range clauses {
		arr = append(arr, cl)
	}
	q.filter["$or"] = arr
	return q
}

func (q *QueryBuilder) op(field, operator string, value interface{}) *QueryBuilder {
	if existing, ok := q.filter[field].(bson.M); ok {
		existing[operator] = value
		return q
	}
	q.filter[field] = bson.M{operator: value}
	return q
}

// Select sets the projection (fields to return)
func (q *QueryBuilder) Select(fields ...string) *QueryBuilder {
	projection := bson.M{}
	for _, field := range fields {
		if field == "*" {
			projection = bson.M{}
			break
		}
		projection[field] = 1
	}
	q.projection = projection
	return q
}

// Limit sets the limit
func (q *QueryBuilder) Limit(limit int64) *QueryBuilder {
	q.limit = &limit
	return q
}

// Skip sets the skip value
func (q *QueryBuilder) Skip(skip int64) *QueryBuilder {
	q.skip = &skip
	return q
}

// Sort sets the sort order
func (q *QueryBuilder) Sort(field string, ascending bool) *QueryBuilder {
	direction := 1
	if !ascending {
		direction = -1
	}
	q.sort = append(q.sort, bson.E{Key: field, Value: direction})
	return q
}

// Conditions returns a copy of the filter built so far.
func (q *QueryBuilder) Conditions() bson.M {
	out := make(bson.M, len(q.filter))
	for k, v := range q.filter {
		out[k] = v
	}
	return out
}

// All decodes every matching document into results (a pointer to a slice).
func (q *QueryBuilder) All(ctx context.Context, results interface{}) error {
	opts := options.Find()
	if q.limit != nil {
		opts.SetLimit(*q.limit)
	}
	if q.skip != nil {
		opts.SetSkip(*q.skip)
	}
	if len(q.sort) > 0 {
		opts.SetSort(q.sort)
	}
	if len(q.projection) > 0 {
		opts.SetProjection(q.projection)
	}

	return otel.DBSpan(ctx, q.name, "find", func(ctx context.Context) (int64, error) {
		cursor, err := q.collection.Find(ctx, q.filter, opts)
		if err != nil {
			return 0, err
		}
		defer cursor.Close(ctx)
		return int64(cursor.RemainingBatchLength()), cursor.All(ctx, results)
	})
}

// One decodes the first matching document into result. found is false when
// nothing matched.
func (q *QueryBuilder) One(ctx context.Context, result interface{}) (found bool, err error) {
	opts := options.FindOne()
	if len(q.projection) > 0 {
		opts.SetProjection(q.projection)
	}
	if len(q.sort) > 0 {
		opts.SetSort(q.sort)
	}
	if q.skip != nil {
		opts.SetSkip(*q.skip)
	}

	err = otel.DBSpan(ctx, q.name, "findOne", func(ctx context.Context) (int64, error) {
		err := q.collection.FindOne(ctx, q.filter, opts).Decode(result)
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, nil
		}
		if err != nil {
			return 0, err
		}
		found = true
		return 1, nil
	})
	return found, err
}

// Count returns the count of matching documents
func (q *QueryBuilder) Count(ctx context.Context) (int64, error) {
	var n int64
	err := otel.DBSpan(ctx, q.name, "count", func(ctx context.Context) (int64, error) {
		var err error
		n, err = q.collection.CountDocuments(ctx, q.filter)
		return n, err
	})
	return n, err
}

// Insert inserts a document
func (q *QueryBuilder) Insert(ctx context.Context, document interface{}) error {
	return otel.DBSpan(ctx, q.name, "insert", func(ctx context.Context) (int64, error) {
		_, err := q.collection.InsertOne(ctx, document)
		return 1, err
	})
}

// InsertMany inserts multiple documents. Duplicate key errors on individual
// documents do not stop the remaining inserts; the number inserted is returned.
func (q *QueryBuilder) InsertMany(ctx context.Context, documents []interface{}) (int, error) {
	if len(documents) == 0 {
		return 0, nil
	}
	var inserted int
	err := otel.DBSpan(ctx, q.name, "insertMany", func(ctx context.Context) (int64, error) {
		res, err := q.collection.InsertMany(ctx, documents, options.InsertMany().SetOrdered(false))
		if res != nil {
			inserted = len(res.InsertedIDs)
		}
		var bwe mongo.BulkWriteException
		if errors.As(err, &bwe) && onlyDuplicates(bwe) {
			inserted = len(documents) - len(bwe.WriteErrors)
			err = nil
		}
		return int64(inserted), err
	})
	return inserted, err
}

func onlyDuplicates(bwe mongo.BulkWriteException) bool {
	if bwe.WriteConcernError != nil {
		return false
	}
	for _, we := range bwe.WriteErrors {
		if we.Code != 11000 {
			return false
		}
	}
	return true
}

// Upsert applies $set (and $setOnInsert when given) to the single matching
// document, inserting it when missing.
func (q *QueryBuilder) Upsert(ctx context.Context, set interface{}, setOnInsert interface{}) error {
	update := bson.M{"$set": set}
	if setOnInsert != nil {
		update["$setOnInsert"] = setOnInsert
	}
	return otel.DBSpan(ctx, q.name, "upsert", func(ctx context.Context) (int64, error) {
		res, err := q.collection.UpdateOne(ctx, q.filter, update, options.Update().SetUpsert(true))
		if err != nil {
			return 0, err
		}
		return res.ModifiedCount + res.UpsertedCount, nil
	})
}

// Update applies $set to every matching document.
func (q *QueryBuilder) Update(ctx context.Context, set interface{}) (int64, error) {
	var n int64
	err := otel.DBSpan(ctx, q.name, "updateMany", func(ctx context.Context) (int64, error) {
		res, err := q.collection.UpdateMany(ctx, q.filter, bson.M{"$set": set})
		if err != nil {
			return 0, err
		}
		n = res.MatchedCount
		return n, nil
	})
	return n, err
}

// UpdateOne applies $set to a single matching document. It returns
// ErrNotFound when nothing matched.
func (q *QueryBuilder) UpdateOne(ctx context.Context, set interface{}) error {
	return q.Apply(ctx, bson.M{"$set": set})
}

// Apply runs a raw update document ($inc, $push, ...) against one document.
func (q *QueryBuilder) Apply(ctx context.Context, update bson.M) error {
	return otel.DBSpan(ctx, q.name, "updateOne", func(ctx context.Context) (int64, error) {
		res, err := q.collection.UpdateOne(ctx, q.filter, update)
		if err != nil {
			return 0, err
		}
		if res.MatchedCount == 0 {
			return 0, ErrNotFound
		}
		return res.ModifiedCount, nil
	})
}

// FindOneAndUpdate atomically applies update to the first match and decodes
// the updated document into result. found is false when nothing matched.
func (q *QueryBuilder) FindOneAndUpdate(ctx context.Context, update bson.M, result interface{}) (found bool, err error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	if len(q.sort) > 0 {
		opts.SetSort(q.sort)
	}
	err = otel.DBSpan(ctx, q.name, "findOneAndUpdate", func(ctx context.Context) (int64, error) {
		err := q.collection.FindOneAndUpdate(ctx, q.filter, update, opts).Decode(result)
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, nil
		}
		if err != nil {
			return 0, err
		}
		found = true
		return 1, nil
	})
	return found, err
}

// Delete deletes matching documents
func (q *QueryBuilder) Delete(ctx context.Context) (int64, error) {
	var n int64
	err := otel.DBSpan(ctx, q.name, "deleteMany", func(ctx context.Context) (int64, error) {
		res, err := q.collection.DeleteMany(ctx, q.filter)
		if err != nil {
			return 0, err
		}
		n = res.DeletedCount
		return n, nil
	})
	return n, err
}

// DeleteOne deletes a single matching document. It returns ErrNotFound when
// nothing matched.
func (q *QueryBuilder) DeleteOne(ctx context.Context) error {
	return otel.DBSpan(ctx, q.name, "deleteOne", func(ctx context.Context) (int64, error) {
		res, err := q.collection.DeleteOne(ctx, q.filter)
		if err != nil {
			return 0, err
		}
		if res.DeletedCount == 0 {
			return 0, ErrNotFound
		}
		return 1, nil
	})
}

// IsDuplicateKey reports whether err is a unique index violation.
func IsDuplicateKey(err error) bool {
	return mongo.IsDuplicateKeyError(err)
}
