package vector

import (
	"context"
	"testing"
)

func BenchmarkIndexQuery(b *testing.B) {
	items := randomItems(1000, 384, 7)
	idx := NewIndex("", testConfig(), 384)
	if _, err := idx.Build(context.Background(), items); err != nil {
		b.Fatal(err)
	}
	query := items[500].Vector
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = idx.Query(query, 10)
	}
}

func BenchmarkIndexQueryWithStaged(b *testing.B) {
	items := randomItems(1200, 384, 7)
	idx := NewIndex("", testConfig(), 384)
	if _, err := idx.Build(context.Background(), items[:1000]); err != nil {
		b.Fatal(err)
	}
	for _, it := range items[1000:] {
		if _, err := idx.Insert(it.ID, it.Vector); err != nil {
			b.Fatal(err)
		}
	}
	query := items[1100].Vector
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = idx.Query(query, 10)
	}
}

func BenchmarkBuildForest(b *testing.B) {
	items := randomItems(1000, 384, 7)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		idx := NewIndex("", testConfig(), 384)
		_, _ = idx.Build(context.Background(), items)
	}
}
