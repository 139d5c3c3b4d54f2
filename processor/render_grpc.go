package processor

import (
	"context"
	"encoding/base64"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/nci/eows/metrics"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	RendererService = "eows.Renderer"
	renderMethod    = "/" + RendererService + "/Render"
)

// RenderResult is the answer of the rendering engine. Status 0 means
// success; any other status comes with Message.
type RenderResult struct {
	Status    int
	Message   string
	MediaType string
	Data      []byte
}

// Renderer turns layers into encoded images.
type Renderer interface {
	Render(ctx context.Context, l *Layer) (*RenderResult, error)
}

// RenderServer is implemented by rendering engines.
type RenderServer interface {
	Render(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

func renderHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RenderServer).Render(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: renderMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(RenderServer).Render(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

var rendererServiceDesc = grpc.ServiceDesc{
	ServiceName: RendererService,
	HandlerType: (*RenderServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Render", Handler: renderHandler},
	},
	Streams: []grpc.StreamDesc{},
}

func RegisterRenderServer(s *grpc.Server, srv RenderServer) {
	s.RegisterService(&rendererServiceDesc, srv)
}

func floats(v []float64) []interface{} {
	out := make([]interface{}, len(v))
	for i, f := range v {
		out[i] = f
	}
	return out
}

func stringsList(v []string) []interface{} {
	out := make([]interface{}, len(v))
	for i, s := range v {
		out[i] = s
	}
	return out
}

// EncodeLayer builds the request message of l.
func EncodeLayer(l *Layer) (*structpb.Struct, error) {
	bands := make([]string, len(l.Bands))
	for i, b := range l.Bands {
		bands[i] = b.Name
	}
	return structpb.NewStruct(map[string]interface{}{
		"coverage":      l.Coverage,
		"description":   l.Description,
		"srid":          l.SRID,
		"output_srid":   l.OutputSRID,
		"width":         l.OutWidth,
		"height":        l.OutHeight,
		"bbox":          floats(l.BBox[:]),
		"output_bbox":   floats(l.OutputBBox[:]),
		"bands":         stringsList(bands),
		"expressions":   stringsList(l.Expressions),
		"names":         stringsList(l.ExprNames),
		"interpolation": l.Interpolation,
		"format":        l.Format,
	})
}

// EncodeResult builds the response message of r.
func EncodeResult(r *RenderResult) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]interface{}{
		"status":     r.Status,
		"message":    r.Message,
		"media_type": r.MediaType,
		"data":       base64.StdEncoding.EncodeToString(r.Data),
	})
}

func DecodeResult(s *structpb.Struct) (*RenderResult, error) {
	f := s.GetFields()
	r := &RenderResult{
		Status:    int(f["status"].GetNumberValue()),
		Message:   f["message"].GetStringValue(),
		MediaType: f["media_type"].GetStringValue(),
	}
	data, err := base64.StdEncoding.DecodeString(f["data"].GetStringValue())
	if err != nil {
		return nil, fmt.Errorf("render result: %v", err)
	}
	r.Data = data
	return r, nil
}

// RenderClient calls a pool of rendering engines round robin.
type RenderClient struct {
	addrs   []string
	conns   []*grpc.ClientConn
	next    uint32
	limiter *ConcLimiter
}

// NewRenderClient creates lazy connections to addrs. concLimit bounds the
// calls in flight over all connections.
func NewRenderClient(addrs []string, maxGrpcRecvMsgSize, concLimit int, extra ...grpc.DialOption) (*RenderClient, error) {
	if len(addrs) == 0 {
		return nil, fmt.Errorf("no renderers configured")
	}
	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}
	if maxGrpcRecvMsgSize > 0 {
		opts = append(opts, grpc.WithDefaultCallOptions(grpc.MaxCallRecvMsgSize(maxGrpcRecvMsgSize)))
	}
	opts = append(opts, extra...)

	c := &RenderClient{addrs: addrs, limiter: NewConcLimiter(concLimit)}
	for _, addr := range addrs {
		conn, err := grpc.NewClient(addr, opts...)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("renderer %s: %v", addr, err)
		}
		c.conns = append(c.conns, conn)
	}
	c.next = uint32(rand.Intn(len(c.conns)))
	return c, nil
}

func (c *RenderClient) Render(ctx context.Context, l *Layer) (*RenderResult, error) {
	req, err := EncodeLayer(l)
	if err != nil {
		return nil, err
	}

	if err := c.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	defer c.limiter.Decrease()

	idx := int(atomic.AddUint32(&c.next, 1) % uint32(len(c.conns)))
	start := time.Now()
	resp := new(structpb.Struct)
	err = c.conns[idx].Invoke(ctx, renderMethod, req, resp)
	metrics.ObserveRender(c.addrs[idx], err, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("renderer %s: %v", c.addrs[idx], err)
	}

	res, err := DecodeResult(resp)
	if err != nil {
		return nil, err
	}
	if res.Status != 0 {
		return nil, fmt.Errorf("renderer %s: status %d: %s", c.addrs[idx], res.Status, res.Message)
	}
	return res, nil
}

func (c *RenderClient) Close() error {
	var first error
	for _, conn := range c.conns {
		if err := conn.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
