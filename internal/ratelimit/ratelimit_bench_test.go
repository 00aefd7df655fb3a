package ratelimit

import (
	"context"
	"strconv"
	"testing"
)

func BenchmarkInMemoryRateLimiter_Allow(b *testing.B) {
	rl := NewInMemoryRateLimiter()
	ctx := context.Background()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			rl.Allow(ctx, "user-1", 1<<30)
		}
	})
}

func BenchmarkInMemoryRateLimiter_ManyUsers(b *testing.B) {
	rl := NewInMemoryRateLimiter()
	ctx := context.Background()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			rl.Allow(ctx, "user-"+strconv.Itoa(i%500), 1000)
			i++
		}
	})
}
