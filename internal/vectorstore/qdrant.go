package vectorstore

import (
	"context"
	"fmt"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

// QdrantConfig holds connection settings for a Qdrant instance.
type QdrantConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// Client wraps gRPC connections to Qdrant's collections and points services.
type Client struct {
	conn        *grpc.ClientConn
	collections pb.CollectionsClient
	points      pb.PointsClient
}

// NewClient dials the Qdrant gRPC endpoint and returns a ready Client.
func NewClient(cfg QdrantConfig) (*Client, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("qdrant connect %s: %w", addr, err)
	}
	return &Client{
		conn:        conn,
		collections: pb.NewCollectionsClient(conn),
		points:      pb.NewPointsClient(conn),
	}, nil
}

// EnsureCollection creates the named collection if it does not already exist.
func (c *Client) EnsureCollection(ctx context.Context, name string, dimension uint64) error {
	_, err := c.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: name})
	if err == nil {
		return nil
	}
	_, err = c.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: name,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     dimension,
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("create collection %s: %w", name, err)
	}
	return nil
}

// Collection ensures the collection exists and returns an Index over it.
func (c *Client) Collection(ctx context.Context, name string, dimension int) (*QdrantIndex, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("qdrant collection %s: dimension must be known up front", name)
	}
	if err := c.EnsureCollection(ctx, name, uint64(dimension)); err != nil {
		return nil, err
	}
	return &QdrantIndex{client: c, name: name}, nil
}

// Close tears down the underlying gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// QdrantIndex implements Index on a Qdrant collection. Point ids must be UUIDs.
type QdrantIndex struct {
	client *Client
	name   string
}

const scrollPage = 256

func pointID(id string) *pb.PointId {
	return &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: id}}
}

func withPayload() *pb.WithPayloadSelector {
	return &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}}
}

// toFilter turns exact-match pairs into keyword conditions that must all hold.
func toFilter(f Filter) *pb.Filter {
	if len(f) == 0 {
		return nil
	}
	must := make([]*pb.Condition, 0, len(f))
	for k, v := range f {
		must = append(must, &pb.Condition{
			ConditionOneOf: &pb.Condition_Field{
				Field: &pb.FieldCondition{
					Key:   k,
					Match: &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: v}},
				},
			},
		})
	}
	return &pb.Filter{Must: must}
}

func fromPayload(p map[string]*pb.Value) map[string]string {
	out := make(map[string]string, len(p))
	for k, v := range p {
		if sv, ok := v.Kind.(*pb.Value_StringValue); ok {
			out[k] = sv.StringValue
		}
	}
	return out
}

func vectorOf(v *pb.VectorsOutput) []float32 {
	out := v.GetVector()
	if d := out.GetDense(); d != nil {
		return d.GetData()
	}
	return out.GetData()
}

func (q *QdrantIndex) Upsert(ctx context.Context, id string, vector []float32, payload map[string]string) error {
	payloadMap := make(map[string]*pb.Value, len(payload))
	for k, v := range payload {
		payloadMap[k] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: v}}
	}
	wait := true
	_, err := q.client.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: q.name,
		Wait:           &wait,
		Points: []*pb.PointStruct{
			{
				Id:      pointID(id),
				Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: vector}}},
				Payload: payloadMap,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("qdrant upsert %s/%s: %w", q.name, id, err)
	}
	return nil
}

func (q *QdrantIndex) Delete(ctx context.Context, id string) error {
	wait := true
	_, err := q.client.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: q.name,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Points{
				Points: &pb.PointsIdsList{Ids: []*pb.PointId{pointID(id)}},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("qdrant delete %s/%s: %w", q.name, id, err)
	}
	return nil
}

func (q *QdrantIndex) Query(ctx context.Context, vector []float32, k int, filter Filter) ([]Hit, error) {
	if k <= 0 {
		return nil, nil
	}
	resp, err := q.client.points.Search(ctx, &pb.SearchPoints{
		CollectionName: q.name,
		Vector:         vector,
		Filter:         toFilter(filter),
		Limit:          uint64(k),
		WithPayload:    withPayload(),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant search %s: %w", q.name, err)
	}
	hits := make([]Hit, 0, len(resp.Result))
	for _, r := range resp.Result {
		hits = append(hits, Hit{
			ID:       r.Id.GetUuid(),
			Distance: 1 - r.Score,
			Payload:  fromPayload(r.Payload),
		})
	}
	sortHits(hits)
	return hits, nil
}

func (q *QdrantIndex) Get(ctx context.Context, id string) (*Hit, error) {
	resp, err := q.client.points.Get(ctx, &pb.GetPoints{
		CollectionName: q.name,
		Ids:            []*pb.PointId{pointID(id)},
		WithPayload:    withPayload(),
		WithVectors:    &pb.WithVectorsSelector{SelectorOptions: &pb.WithVectorsSelector_Enable{Enable: true}},
	})
	if err != nil {
		// Malformed ids are rejected by the server; to the caller they simply do not exist.
		if status.Code(err) == codes.InvalidArgument {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("qdrant get %s/%s: %w", q.name, id, err)
	}
	if len(resp.Result) == 0 {
		return nil, ErrNotFound
	}
	p := resp.Result[0]
	return &Hit{
		ID:      p.Id.GetUuid(),
		Payload: fromPayload(p.Payload),
		Vector:  vectorOf(p.Vectors),
	}, nil
}

// Scan pages through the collection with the scroll API.
func (q *QdrantIndex) Scan(ctx context.Context, filter Filter) ([]Hit, error) {
	var (
		hits   []Hit
		offset *pb.PointId
		limit  = uint32(scrollPage)
	)
	for {
		resp, err := q.client.points.Scroll(ctx, &pb.ScrollPoints{
			CollectionName: q.name,
			Filter:         toFilter(filter),
			Offset:         offset,
			Limit:          &limit,
			WithPayload:    withPayload(),
		})
		if err != nil {
			return nil, fmt.Errorf("qdrant scroll %s: %w", q.name, err)
		}
		for _, p := range resp.Result {
			hits = append(hits, Hit{ID: p.Id.GetUuid(), Payload: fromPayload(p.Payload)})
		}
		offset = resp.NextPageOffset
		if offset == nil {
			return hits, nil
		}
	}
}

func (q *QdrantIndex) Count(ctx context.Context) (int, error) {
	exact := true
	resp, err := q.client.points.Count(ctx, &pb.CountPoints{CollectionName: q.name, Exact: &exact})
	if err != nil {
		return 0, fmt.Errorf("qdrant count %s: %w", q.name, err)
	}
	return int(resp.GetResult().GetCount()), nil
}

// Close is a no-op; the shared Client owns the connection.
func (q *QdrantIndex) Close() error { return nil }
