// Package qdrant stores memory vectors in a Qdrant collection over gRPC.
//
// Namespaces are a "namespace" payload keyword on each point, so one
// collection serves every namespace. Point IDs must be UUIDs.
package qdrant

import (
	"context"
	"fmt"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/wilhg/claw/pkg/adapters/embedding"
	"github.com/wilhg/claw/pkg/adapters/llm"
	"github.com/wilhg/claw/pkg/adapters/vectorstore"
)

const (
	defaultAddr       = "localhost:6334"
	defaultCollection = "claw_memories"
	namespaceKey      = "namespace"
)

// Store implements vectorstore.VectorStore.
type Store struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	collection  string
}

var _ vectorstore.VectorStore = (*Store)(nil)

// New connects to addr and makes sure collection exists with cosine distance.
func New(ctx context.Context, addr, collection string, dim int) (*Store, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("qdrant: connect %s: %w", addr, err)
	}
	s := &Store{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  collection,
	}
	if err := s.ensureCollection(ctx, uint64(dim)); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the gRPC connection.
func (s *Store) Close() error { return s.conn.Close() }

func (s *Store) ensureCollection(ctx context.Context, size uint64) error {
	resp, err := s.collections.CollectionExists(ctx, &pb.CollectionExistsRequest{CollectionName: s.collection})
	if err != nil {
		return fmt.Errorf("qdrant: check collection: %w", err)
	}
	if resp.GetResult().GetExists() {
		return nil
	}
	_, err = s.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{Size: size, Distance: pb.Distance_Cosine},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("qdrant: create collection: %w", err)
	}
	return nil
}

func pointID(id string) *pb.PointId {
	return &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: id}}
}

func toValue(v any) (*pb.Value, bool) {
	switch val := v.(type) {
	case string:
		return &pb.Value{Kind: &pb.Value_StringValue{StringValue: val}}, true
	case bool:
		return &pb.Value{Kind: &pb.Value_BoolValue{BoolValue: val}}, true
	case int:
		return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(val)}}, true
	case int64:
		return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: val}}, true
	case float64:
		return &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: val}}, true
	}
	return nil, false
}

func fromValue(v *pb.Value) any {
	switch k := v.GetKind().(type) {
	case *pb.Value_StringValue:
		return k.StringValue
	case *pb.Value_BoolValue:
		return k.BoolValue
	case *pb.Value_IntegerValue:
		return k.IntegerValue
	case *pb.Value_DoubleValue:
		return k.DoubleValue
	}
	return nil
}

// Upsert writes items as points. Metadata values other than strings, bools
// and numbers are dropped.
func (s *Store) Upsert(ctx context.Context, items []vectorstore.Item) error {
	if len(items) == 0 {
		return nil
	}
	pts := make([]*pb.PointStruct, len(items))
	for i, it := range items {
		payload := map[string]*pb.Value{}
		for k, v := range it.Metadata {
			if pv, ok := toValue(v); ok {
				payload[k] = pv
			}
		}
		payload[namespaceKey], _ = toValue(vectorstore.NamespaceOf(it.Namespace))
		pts[i] = &pb.PointStruct{
			Id: pointID(it.ID),
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: it.Vector}},
			},
			Payload: payload,
		}
	}
	wait := true
	if _, err := s.points.Upsert(ctx, &pb.UpsertPoints{CollectionName: s.collection, Wait: &wait, Points: pts}); err != nil {
		return fmt.Errorf("qdrant: upsert: %w", err)
	}
	return nil
}

// Delete removes points by ID. The namespace is implied by the IDs.
func (s *Store) Delete(ctx context.Context, namespace string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	pids := make([]*pb.PointId, len(ids))
	for i, id := range ids {
		pids[i] = pointID(id)
	}
	wait := true
	_, err := s.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Points{Points: &pb.PointsIdsList{Ids: pids}},
		},
	})
	if err != nil {
		return fmt.Errorf("qdrant: delete: %w", err)
	}
	return nil
}

func keywordMatch(key, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key:   key,
				Match: &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: value}},
			},
		},
	}
}

// Query searches the namespace. Only string-valued Equals filters are pushed
// down to Qdrant.
func (s *Store) Query(ctx context.Context, query vectorstore.Vector, k int, filter vectorstore.Filter) ([]vectorstore.Match, error) {
	if k <= 0 {
		k = 10
	}
	must := []*pb.Condition{keywordMatch(namespaceKey, vectorstore.NamespaceOf(filter.Namespace))}
	for key, v := range filter.Equals {
		if sv, ok := v.(string); ok {
			must = append(must, keywordMatch(key, sv))
		}
	}
	resp, err := s.points.Search(ctx, &pb.SearchPoints{
		CollectionName: s.collection,
		Vector:         query,
		Limit:          uint64(k),
		Filter:         &pb.Filter{Must: must},
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: search: %w", err)
	}
	out := make([]vectorstore.Match, 0, len(resp.GetResult()))
	for _, r := range resp.GetResult() {
		meta := make(map[string]any, len(r.GetPayload()))
		for key, v := range r.GetPayload() {
			if key == namespaceKey {
				continue
			}
			meta[key] = fromValue(v)
		}
		id := r.GetId().GetUuid()
		if id == "" {
			id = fmt.Sprintf("%d", r.GetId().GetNum())
		}
		out = append(out, vectorstore.Match{
			Item:  vectorstore.Item{ID: id, Namespace: vectorstore.NamespaceOf(filter.Namespace), Metadata: meta},
			Score: r.GetScore(),
		})
	}
	return out, nil
}

// Factory builds the store. cfg keys: addr, collection, dimensions.
func Factory(ctx context.Context, cfg map[string]any) (vectorstore.VectorStore, error) {
	return New(ctx,
		llm.StringOpt(cfg, "addr", defaultAddr),
		llm.StringOpt(cfg, "collection", defaultCollection),
		embedding.Dimensions(cfg),
	)
}

func init() {
	_ = vectorstore.Register("qdrant", Factory)
}
