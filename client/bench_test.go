package client

import (
	"context"
	"testing"

	"opaper/codec"
	"opaper/loadbalance"
	"opaper/registry"
)

func benchClient(b *testing.B, ct codec.CodecType) *Client {
	_, addr := startHost(b)
	reg := registry.NewStaticRegistry(DefaultService, registry.Endpoint{Addr: addr})
	c, err := Dial(context.Background(), reg, &loadbalance.RoundRobinBalancer{}, DefaultService,
		WithLogger(quiet), WithCodec(ct))
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { c.Close() })
	return c
}

func BenchmarkSerialCall(b *testing.B) {
	for _, ct := range []codec.CodecType{codec.CodecTypeJSON, codec.CodecTypeMsgpack, codec.CodecTypeCBOR} {
		b.Run(ct.String(), func(b *testing.B) {
			c := benchClient(b, ct)
			ctx := context.Background()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := c.Call(ctx, "get_system_stats", nil); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkConcurrentCall(b *testing.B) {
	c := benchClient(b, codec.CodecTypeJSON)
	ctx := context.Background()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, err := c.Call(ctx, "get_system_stats", nil); err != nil {
				b.Error(err)
				return
			}
		}
	})
}
