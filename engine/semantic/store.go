// Package semantic is the sole owner of all Qdrant operations: upsert,
// delete, and similarity queries over the product embedding index.
package semantic

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"

	"github.com/CartwheelHQ/cartwheel-search/engine/domain"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const entityIDKey = "entity_id"

// pointsAPI is the minimal interface needed from the Qdrant points client.
type pointsAPI interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeletePoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
	Count(ctx context.Context, in *pb.CountPoints, opts ...grpc.CallOption) (*pb.CountResponse, error)
	Get(ctx context.Context, in *pb.GetPoints, opts ...grpc.CallOption) (*pb.GetResponse, error)
	Scroll(ctx context.Context, in *pb.ScrollPoints, opts ...grpc.CallOption) (*pb.ScrollResponse, error)
	CreateFieldIndex(ctx context.Context, in *pb.CreateFieldIndexCollection, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
}

// collectionsAPI is the minimal interface needed from the collections client.
type collectionsAPI interface {
	List(ctx context.Context, in *pb.ListCollectionsRequest, opts ...grpc.CallOption) (*pb.ListCollectionsResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

// Store is a Qdrant-backed vector store keyed by entity id.
type Store struct {
	conn        *grpc.ClientConn
	points      pointsAPI
	collections collectionsAPI
	collection  string
}

// New creates a Store connected to Qdrant at the given gRPC address.
func New(addr string, collection string) (*Store, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("semantic: dial qdrant %s: %w", addr, err)
	}
	return &Store{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  collection,
	}, nil
}

// NewWithClients creates a Store from pre-built clients. Intended for tests.
func NewWithClients(points pointsAPI, collections collectionsAPI, collection string) *Store {
	return &Store{points: points, collections: collections, collection: collection}
}

// Close closes the underlying gRPC connection.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

// PointID derives the deterministic point id for an entity. One point per
// entity id: repeated upserts replace the same point.
func PointID(entityID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("entity:"+entityID)).String()
}

// EnsureCollection creates the collection with cosine distance if it doesn't
// exist.
func (s *Store) EnsureCollection(ctx context.Context, dims int) error {
	list, err := s.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("semantic: list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == s.collection {
			return nil
		}
	}

	_, err = s.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(dims),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("semantic: create collection %s: %w", s.collection, err)
	}

	// generated_at backs the ordered listing; it needs a datetime index.
	ft := pb.FieldType_FieldTypeDatetime
	_, err = s.points.CreateFieldIndex(ctx, &pb.CreateFieldIndexCollection{
		CollectionName: s.collection,
		FieldName:      "generated_at",
		FieldType:      &ft,
	})
	if err != nil {
		return fmt.Errorf("semantic: index generated_at: %w", err)
	}
	return nil
}

// Upsert writes one embedding record, replacing any existing record for the
// same entity id. Safe under concurrent writes to different keys;
// last-write-wins for the same key.
func (s *Store) Upsert(ctx context.Context, rec Record) error {
	payload := map[string]*pb.Value{
		entityIDKey:    {Kind: &pb.Value_StringValue{StringValue: rec.EntityID}},
		"source_text":  {Kind: &pb.Value_StringValue{StringValue: rec.SourceText}},
		"generated_at": {Kind: &pb.Value_StringValue{StringValue: rec.GeneratedAt.UTC().Format(time.RFC3339)}},
	}
	if len(rec.Metadata) > 0 {
		payload["metadata"] = &pb.Value{Kind: &pb.Value_StructValue{StructValue: toStruct(rec.Metadata)}}
	}

	wait := true
	_, err := s.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points: []*pb.PointStruct{{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{Uuid: PointID(rec.EntityID)},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: rec.Vector},
				},
			},
			Payload: payload,
		}},
	})
	if err != nil {
		return fmt.Errorf("semantic: upsert %s: %w", rec.EntityID, err)
	}
	return nil
}

// Delete removes the embedding record for an entity id. Deleting an absent
// record is a no-op.
func (s *Store) Delete(ctx context.Context, entityID string) error {
	wait := true
	_, err := s.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Points{
				Points: &pb.PointsIdsList{
					Ids: []*pb.PointId{{PointIdOptions: &pb.PointId_Uuid{Uuid: PointID(entityID)}}},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("semantic: delete %s: %w", entityID, err)
	}
	return nil
}

// Get fetches the embedding record for one entity id. Returns a not-found
// error when no record exists.
func (s *Store) Get(ctx context.Context, entityID string) (Record, error) {
	resp, err := s.points.Get(ctx, &pb.GetPoints{
		CollectionName: s.collection,
		Ids:            []*pb.PointId{{PointIdOptions: &pb.PointId_Uuid{Uuid: PointID(entityID)}}},
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
		WithVectors:    &pb.WithVectorsSelector{SelectorOptions: &pb.WithVectorsSelector_Enable{Enable: true}},
	})
	if err != nil {
		return Record{}, fmt.Errorf("semantic: get %s: %w", entityID, err)
	}
	if len(resp.GetResult()) == 0 {
		return Record{}, domain.NewNotFound("embedding record", entityID)
	}
	return retrievedToRecord(resp.GetResult()[0]), nil
}

// List pages through all records ordered by generation time, newest first,
// and returns the page plus the total record count. The ordered scroll has
// no positional cursor, so the offset is absorbed by over-fetching one page
// from the start and slicing.
func (s *Store) List(ctx context.Context, offset, limit int) ([]Record, uint64, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	fetch := uint32(offset + limit)
	dir := pb.Direction_Desc
	resp, err := s.points.Scroll(ctx, &pb.ScrollPoints{
		CollectionName: s.collection,
		Limit:          &fetch,
		OrderBy:        &pb.OrderBy{Key: "generated_at", Direction: &dir},
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, 0, fmt.Errorf("semantic: scroll: %w", err)
	}

	points := resp.GetResult()
	if offset >= len(points) {
		points = nil
	} else {
		points = points[offset:]
	}
	records := make([]Record, len(points))
	for i, p := range points {
		records[i] = retrievedToRecord(p)
	}

	exact := true
	count, err := s.points.Count(ctx, &pb.CountPoints{
		CollectionName: s.collection,
		Exact:          &exact,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("semantic: count: %w", err)
	}
	return records, count.GetResult().GetCount(), nil
}

func retrievedToRecord(p *pb.RetrievedPoint) Record {
	var rec Record
	for k, val := range p.GetPayload() {
		switch k {
		case entityIDKey:
			rec.EntityID = val.GetStringValue()
		case "source_text":
			rec.SourceText = val.GetStringValue()
		case "generated_at":
			if t, err := time.Parse(time.RFC3339, val.GetStringValue()); err == nil {
				rec.GeneratedAt = t
			}
		case "metadata":
			rec.Metadata = fromStruct(val.GetStructValue())
		}
	}
	if p.GetVectors() != nil {
		rec.Vector = p.GetVectors().GetVector().GetData()
	}
	return rec
}

// Query runs a similarity search and returns hits ranked by shifted cosine
// score descending, plus the total match count.
func (s *Store) Query(ctx context.Context, vector []float32, opts QueryOpts) (QueryResult, error) {
	k := opts.K
	if k <= 0 {
		k = 10
	}

	filter := entityFilter(opts.EntityIDs)
	req := &pb.SearchPoints{
		CollectionName: s.collection,
		Vector:         vector,
		Limit:          uint64(k),
		Filter:         filter,
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	}
	if opts.WithVector {
		req.WithVectors = &pb.WithVectorsSelector{SelectorOptions: &pb.WithVectorsSelector_Enable{Enable: true}}
	}

	resp, err := s.points.Search(ctx, req)
	if err != nil {
		return QueryResult{}, fmt.Errorf("semantic: search: %w", err)
	}

	hits := make([]Hit, len(resp.GetResult()))
	for i, r := range resp.GetResult() {
		hits[i] = scoredPointToHit(r)
	}

	exact := true
	count, err := s.points.Count(ctx, &pb.CountPoints{
		CollectionName: s.collection,
		Filter:         filter,
		Exact:          &exact,
	})
	if err != nil {
		return QueryResult{}, fmt.Errorf("semantic: count: %w", err)
	}

	return QueryResult{Hits: hits, Total: count.GetResult().GetCount()}, nil
}

// ShiftScore maps raw cosine similarity into the non-negative comparable
// range used by all callers.
func ShiftScore(cosine float32) float32 {
	return cosine + 1.0
}

func entityFilter(ids []string) *pb.Filter {
	if len(ids) == 0 {
		return nil
	}
	return &pb.Filter{
		Must: []*pb.Condition{{
			ConditionOneOf: &pb.Condition_Field{
				Field: &pb.FieldCondition{
					Key: entityIDKey,
					Match: &pb.Match{
						MatchValue: &pb.Match_Keywords{
							Keywords: &pb.RepeatedStrings{Strings: ids},
						},
					},
				},
			},
		}},
	}
}

func scoredPointToHit(r *pb.ScoredPoint) Hit {
	h := Hit{
		ID:    r.GetId().GetUuid(),
		Score: ShiftScore(r.GetScore()),
	}
	for k, val := range r.GetPayload() {
		switch k {
		case entityIDKey:
			h.EntityID = val.GetStringValue()
		case "source_text":
			h.SourceText = val.GetStringValue()
		case "generated_at":
			if t, err := time.Parse(time.RFC3339, val.GetStringValue()); err == nil {
				h.GeneratedAt = t
			}
		case "metadata":
			h.Metadata = fromStruct(val.GetStructValue())
		}
	}
	if r.GetVectors() != nil {
		h.Vector = r.GetVectors().GetVector().GetData()
	}
	return h
}

// toStruct converts a metadata map to a Qdrant struct payload. Strings,
// numbers, bools, string slices, and nested maps are preserved; anything
// else is stringified.
func toStruct(m map[string]any) *pb.Struct {
	fields := make(map[string]*pb.Value, len(m))
	for k, v := range m {
		fields[k] = toValue(v)
	}
	return &pb.Struct{Fields: fields}
}

func toValue(v any) *pb.Value {
	switch tv := v.(type) {
	case string:
		return &pb.Value{Kind: &pb.Value_StringValue{StringValue: tv}}
	case int:
		return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(tv)}}
	case int64:
		return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: tv}}
	case float64:
		return &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: tv}}
	case bool:
		return &pb.Value{Kind: &pb.Value_BoolValue{BoolValue: tv}}
	case []string:
		vals := make([]*pb.Value, len(tv))
		for i, s := range tv {
			vals[i] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}}
		}
		return &pb.Value{Kind: &pb.Value_ListValue{ListValue: &pb.ListValue{Values: vals}}}
	case []any:
		vals := make([]*pb.Value, len(tv))
		for i, e := range tv {
			vals[i] = toValue(e)
		}
		return &pb.Value{Kind: &pb.Value_ListValue{ListValue: &pb.ListValue{Values: vals}}}
	case map[string]any:
		return &pb.Value{Kind: &pb.Value_StructValue{StructValue: toStruct(tv)}}
	default:
		return &pb.Value{Kind: &pb.Value_StringValue{StringValue: fmt.Sprint(tv)}}
	}
}

func fromStruct(s *pb.Struct) map[string]any {
	if s == nil {
		return nil
	}
	out := make(map[string]any, len(s.GetFields()))
	for k, v := range s.GetFields() {
		out[k] = fromValue(v)
	}
	return out
}

func fromValue(v *pb.Value) any {
	switch kind := v.GetKind().(type) {
	case *pb.Value_StringValue:
		return kind.StringValue
	case *pb.Value_IntegerValue:
		return kind.IntegerValue
	case *pb.Value_DoubleValue:
		return kind.DoubleValue
	case *pb.Value_BoolValue:
		return kind.BoolValue
	case *pb.Value_ListValue:
		vals := kind.ListValue.GetValues()
		out := make([]any, len(vals))
		for i, e := range vals {
			out[i] = fromValue(e)
		}
		return out
	case *pb.Value_StructValue:
		return fromStruct(kind.StructValue)
	default:
		return nil
	}
}
