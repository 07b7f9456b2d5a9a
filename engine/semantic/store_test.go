package semantic

import (
	"context"
	"errors"
	"testing"
	"time"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"

	"github.com/CartwheelHQ/cartwheel-search/engine/domain"
)

// --- Mocks ---

type mockPoints struct {
	upsertReq  *pb.UpsertPoints
	upsertErr  error
	deleteReq  *pb.DeletePoints
	deleteErr  error
	searchReq  *pb.SearchPoints
	searchResp *pb.SearchResponse
	searchErr  error
	countReq   *pb.CountPoints
	countResp  *pb.CountResponse
	countErr   error
	getReq     *pb.GetPoints
	getResp    *pb.GetResponse
	getErr     error
	scrollReq  *pb.ScrollPoints
	scrollResp *pb.ScrollResponse
	scrollErr  error
	indexReq   *pb.CreateFieldIndexCollection
	indexErr   error
}

func (m *mockPoints) Upsert(_ context.Context, in *pb.UpsertPoints, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	m.upsertReq = in
	return &pb.PointsOperationResponse{}, m.upsertErr
}

func (m *mockPoints) Delete(_ context.Context, in *pb.DeletePoints, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	m.deleteReq = in
	return &pb.PointsOperationResponse{}, m.deleteErr
}

func (m *mockPoints) Search(_ context.Context, in *pb.SearchPoints, _ ...grpc.CallOption) (*pb.SearchResponse, error) {
	m.searchReq = in
	return m.searchResp, m.searchErr
}

func (m *mockPoints) Count(_ context.Context, in *pb.CountPoints, _ ...grpc.CallOption) (*pb.CountResponse, error) {
	m.countReq = in
	return m.countResp, m.countErr
}

func (m *mockPoints) Get(_ context.Context, in *pb.GetPoints, _ ...grpc.CallOption) (*pb.GetResponse, error) {
	m.getReq = in
	return m.getResp, m.getErr
}

func (m *mockPoints) Scroll(_ context.Context, in *pb.ScrollPoints, _ ...grpc.CallOption) (*pb.ScrollResponse, error) {
	m.scrollReq = in
	return m.scrollResp, m.scrollErr
}

func (m *mockPoints) CreateFieldIndex(_ context.Context, in *pb.CreateFieldIndexCollection, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	m.indexReq = in
	return &pb.PointsOperationResponse{}, m.indexErr
}

type mockCollections struct {
	listResp  *pb.ListCollectionsResponse
	listErr   error
	createReq *pb.CreateCollection
	createErr error
}

func (m *mockCollections) List(_ context.Context, _ *pb.ListCollectionsRequest, _ ...grpc.CallOption) (*pb.ListCollectionsResponse, error) {
	return m.listResp, m.listErr
}

func (m *mockCollections) Create(_ context.Context, in *pb.CreateCollection, _ ...grpc.CallOption) (*pb.CollectionOperationResponse, error) {
	m.createReq = in
	return &pb.CollectionOperationResponse{}, m.createErr
}

// --- Tests ---

func TestPointID_Deterministic(t *testing.T) {
	a := PointID("p1")
	b := PointID("p1")
	if a != b {
		t.Fatalf("PointID must be deterministic: %s != %s", a, b)
	}
	if a == PointID("p2") {
		t.Fatal("distinct entities must map to distinct point ids")
	}
}

func TestEnsureCollection_CreatesWhenMissing(t *testing.T) {
	cols := &mockCollections{listResp: &pb.ListCollectionsResponse{}}
	points := &mockPoints{}
	s := NewWithClients(points, cols, "products")

	if err := s.EnsureCollection(context.Background(), 384); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cols.createReq == nil {
		t.Fatal("expected a create call")
	}
	params := cols.createReq.GetVectorsConfig().GetParams()
	if params.GetSize() != 384 || params.GetDistance() != pb.Distance_Cosine {
		t.Fatalf("unexpected vector config: %v", params)
	}
	if points.indexReq == nil || points.indexReq.GetFieldName() != "generated_at" {
		t.Fatalf("expected a generated_at field index, got %v", points.indexReq)
	}
	if points.indexReq.GetFieldType() != pb.FieldType_FieldTypeDatetime {
		t.Fatalf("field index type = %v", points.indexReq.GetFieldType())
	}
}

func TestEnsureCollection_SkipsWhenPresent(t *testing.T) {
	cols := &mockCollections{listResp: &pb.ListCollectionsResponse{
		Collections: []*pb.CollectionDescription{{Name: "products"}},
	}}
	s := NewWithClients(&mockPoints{}, cols, "products")

	if err := s.EnsureCollection(context.Background(), 384); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cols.createReq != nil {
		t.Fatal("must not create an existing collection")
	}
}

func TestUpsert_KeyedByEntityID(t *testing.T) {
	points := &mockPoints{}
	s := NewWithClients(points, &mockCollections{}, "products")

	rec := Record{
		EntityID:    "p1",
		Vector:      []float32{0.1, 0.2},
		SourceText:  "Gaming Mouse",
		Metadata:    map[string]any{"title": "Gaming Mouse", "categories": []string{"Peripherals"}},
		GeneratedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	if err := s.Upsert(context.Background(), rec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	pts := points.upsertReq.GetPoints()
	if len(pts) != 1 {
		t.Fatalf("expected 1 point, got %d", len(pts))
	}
	if got := pts[0].GetId().GetUuid(); got != PointID("p1") {
		t.Fatalf("point id must derive from entity id, got %s", got)
	}
	payload := pts[0].GetPayload()
	if payload["entity_id"].GetStringValue() != "p1" {
		t.Fatal("payload entity_id missing")
	}
	if payload["generated_at"].GetStringValue() != "2026-01-02T03:04:05Z" {
		t.Fatalf("generated_at = %q", payload["generated_at"].GetStringValue())
	}
	meta := payload["metadata"].GetStructValue().GetFields()
	cats := meta["categories"].GetListValue().GetValues()
	if len(cats) != 1 || cats[0].GetStringValue() != "Peripherals" {
		t.Fatalf("categories round-trip failed: %v", meta)
	}
}

func TestUpsert_Error(t *testing.T) {
	points := &mockPoints{upsertErr: errors.New("down")}
	s := NewWithClients(points, &mockCollections{}, "products")
	if err := s.Upsert(context.Background(), Record{EntityID: "p1", Vector: []float32{1}}); err == nil {
		t.Fatal("expected error")
	}
}

func TestDelete_UsesDerivedPointID(t *testing.T) {
	points := &mockPoints{}
	s := NewWithClients(points, &mockCollections{}, "products")
	if err := s.Delete(context.Background(), "p1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ids := points.deleteReq.GetPoints().GetPoints().GetIds()
	if len(ids) != 1 || ids[0].GetUuid() != PointID("p1") {
		t.Fatalf("unexpected delete selector: %v", points.deleteReq)
	}
}

func retrievedPoint(entityID, sourceText, generatedAt string) *pb.RetrievedPoint {
	return &pb.RetrievedPoint{
		Id: &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: PointID(entityID)}},
		Payload: map[string]*pb.Value{
			"entity_id":    {Kind: &pb.Value_StringValue{StringValue: entityID}},
			"source_text":  {Kind: &pb.Value_StringValue{StringValue: sourceText}},
			"generated_at": {Kind: &pb.Value_StringValue{StringValue: generatedAt}},
		},
	}
}

func TestGet_ReturnsRecord(t *testing.T) {
	points := &mockPoints{
		getResp: &pb.GetResponse{Result: []*pb.RetrievedPoint{
			retrievedPoint("p1", "Gaming Mouse", "2026-01-02T03:04:05Z"),
		}},
	}
	s := NewWithClients(points, &mockCollections{}, "products")

	rec, err := s.Get(context.Background(), "p1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.EntityID != "p1" || rec.SourceText != "Gaming Mouse" {
		t.Fatalf("payload not mapped: %+v", rec)
	}
	if !rec.GeneratedAt.Equal(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)) {
		t.Fatalf("generated_at = %v", rec.GeneratedAt)
	}
	ids := points.getReq.GetIds()
	if len(ids) != 1 || ids[0].GetUuid() != PointID("p1") {
		t.Fatalf("get must use the derived point id: %v", points.getReq)
	}
}

func TestGet_Missing(t *testing.T) {
	points := &mockPoints{getResp: &pb.GetResponse{}}
	s := NewWithClients(points, &mockCollections{}, "products")

	_, err := s.Get(context.Background(), "ghost")
	if !domain.IsNotFound(err) {
		t.Fatalf("expected not-found, got %v", err)
	}
}

func TestList_OrdersNewestFirstAndPaginates(t *testing.T) {
	points := &mockPoints{
		scrollResp: &pb.ScrollResponse{Result: []*pb.RetrievedPoint{
			retrievedPoint("p3", "Keyboard", "2026-01-03T00:00:00Z"),
			retrievedPoint("p2", "Mouse", "2026-01-02T00:00:00Z"),
			retrievedPoint("p1", "Headset", "2026-01-01T00:00:00Z"),
		}},
		countResp: &pb.CountResponse{Result: &pb.CountResult{Count: 7}},
	}
	s := NewWithClients(points, &mockCollections{}, "products")

	recs, total, err := s.List(context.Background(), 1, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 7 {
		t.Fatalf("expected total 7, got %d", total)
	}
	if len(recs) != 2 || recs[0].EntityID != "p2" || recs[1].EntityID != "p1" {
		t.Fatalf("offset slice wrong: %+v", recs)
	}

	order := points.scrollReq.GetOrderBy()
	if order.GetKey() != "generated_at" || order.GetDirection() != pb.Direction_Desc {
		t.Fatalf("scroll must order by generated_at desc: %v", order)
	}
	if got := points.scrollReq.GetLimit(); got != 3 {
		t.Fatalf("scroll limit must cover offset+limit, got %d", got)
	}
}

func TestList_OffsetPastEnd(t *testing.T) {
	points := &mockPoints{
		scrollResp: &pb.ScrollResponse{},
		countResp:  &pb.CountResponse{Result: &pb.CountResult{Count: 0}},
	}
	s := NewWithClients(points, &mockCollections{}, "products")

	recs, total, err := s.List(context.Background(), 50, 20)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(recs) != 0 || total != 0 {
		t.Fatalf("expected empty page, got %d recs total %d", len(recs), total)
	}
}

func TestQuery_ShiftsScoresAndCounts(t *testing.T) {
	points := &mockPoints{
		searchResp: &pb.SearchResponse{Result: []*pb.ScoredPoint{
			{
				Id:    &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: PointID("p1")}},
				Score: 0.9,
				Payload: map[string]*pb.Value{
					"entity_id":   {Kind: &pb.Value_StringValue{StringValue: "p1"}},
					"source_text": {Kind: &pb.Value_StringValue{StringValue: "Gaming Mouse"}},
				},
			},
			{
				Id:    &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: PointID("p2")}},
				Score: -0.1,
				Payload: map[string]*pb.Value{
					"entity_id": {Kind: &pb.Value_StringValue{StringValue: "p2"}},
				},
			},
		}},
		countResp: &pb.CountResponse{Result: &pb.CountResult{Count: 42}},
	}
	s := NewWithClients(points, &mockCollections{}, "products")

	res, err := s.Query(context.Background(), []float32{0.1}, QueryOpts{K: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Total != 42 {
		t.Fatalf("expected total 42, got %d", res.Total)
	}
	if len(res.Hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(res.Hits))
	}
	if res.Hits[0].Score < 1.89 || res.Hits[0].Score > 1.91 {
		t.Fatalf("expected shifted score ~1.9, got %f", res.Hits[0].Score)
	}
	if res.Hits[1].Score < 0.89 || res.Hits[1].Score > 0.91 {
		t.Fatalf("expected shifted score ~0.9, got %f", res.Hits[1].Score)
	}
	if res.Hits[0].EntityID != "p1" || res.Hits[0].SourceText != "Gaming Mouse" {
		t.Fatalf("payload not mapped: %+v", res.Hits[0])
	}
}

func TestQuery_EntityFilter(t *testing.T) {
	points := &mockPoints{
		searchResp: &pb.SearchResponse{},
		countResp:  &pb.CountResponse{Result: &pb.CountResult{Count: 0}},
	}
	s := NewWithClients(points, &mockCollections{}, "products")

	_, err := s.Query(context.Background(), []float32{0.1}, QueryOpts{K: 5, EntityIDs: []string{"p1", "p2"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	must := points.searchReq.GetFilter().GetMust()
	if len(must) != 1 {
		t.Fatalf("expected one filter condition, got %d", len(must))
	}
	field := must[0].GetField()
	if field.GetKey() != "entity_id" {
		t.Fatalf("filter key = %q", field.GetKey())
	}
	kws := field.GetMatch().GetKeywords().GetStrings()
	if len(kws) != 2 || kws[0] != "p1" || kws[1] != "p2" {
		t.Fatalf("filter keywords = %v", kws)
	}
	// Count must use the same restriction.
	if points.countReq.GetFilter() == nil {
		t.Fatal("count must carry the filter")
	}
}

func TestQuery_Unfiltered_NoFilter(t *testing.T) {
	points := &mockPoints{
		searchResp: &pb.SearchResponse{},
		countResp:  &pb.CountResponse{Result: &pb.CountResult{Count: 3}},
	}
	s := NewWithClients(points, &mockCollections{}, "products")
	if _, err := s.Query(context.Background(), []float32{0.1}, QueryOpts{K: 5}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if points.searchReq.GetFilter() != nil {
		t.Fatal("no filter expected for unrestricted query")
	}
}

func TestMetadataRoundTrip(t *testing.T) {
	in := map[string]any{
		"title":      "Gaming Mouse",
		"handle":     "gaming-mouse",
		"categories": []string{"Peripherals", "Mice"},
		"rank":       int64(3),
		"score":      0.5,
		"active":     true,
	}
	out := fromStruct(toStruct(in))
	if out["title"] != "Gaming Mouse" || out["handle"] != "gaming-mouse" {
		t.Fatalf("strings lost: %v", out)
	}
	cats, ok := out["categories"].([]any)
	if !ok || len(cats) != 2 || cats[0] != "Peripherals" {
		t.Fatalf("categories lost: %v", out["categories"])
	}
	if out["rank"] != int64(3) || out["score"] != 0.5 || out["active"] != true {
		t.Fatalf("scalars lost: %v", out)
	}
}
