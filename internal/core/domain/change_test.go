package domain

import (
	"reflect"
	"testing"
	"time"
)

func chunkOf(n int) ChangeChunk {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := make(ChangeChunk, n)
	for i := range c {
		c[i] = ChangedRow{ID: string(rune('a' + i)), UpdatedAt: base.Add(time.Duration(i) * time.Second)}
	}
	return c
}

func TestChangeChunk_Keys(t *testing.T) {
	got := chunkOf(3).Keys()
	if !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Errorf("unexpected keys %v", got)
	}
}

func TestChangeChunk_MaxUpdatedAt(t *testing.T) {
	c := chunkOf(4)
	if !c.MaxUpdatedAt().Equal(c[3].UpdatedAt) {
		t.Errorf("expected last row timestamp, got %v", c.MaxUpdatedAt())
	}
	if !(ChangeChunk{}).MaxUpdatedAt().IsZero() {
		t.Error("expected zero time for empty chunk")
	}
}

func TestChangeChunk_Split(t *testing.T) {
	tests := []struct {
		name  string
		rows  int
		size  int
		sizes []int
	}{
		{"empty", 0, 10, nil},
		{"smaller than size", 3, 10, []int{3}},
		{"exact multiple", 4, 2, []int{2, 2}},
		{"remainder", 5, 2, []int{2, 2, 1}},
		{"non-positive size", 5, 0, []int{5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			batches := chunkOf(tt.rows).Split(tt.size)
			var sizes []int
			for _, b := range batches {
				sizes = append(sizes, len(b))
			}
			if !reflect.DeepEqual(sizes, tt.sizes) {
				t.Errorf("expected sizes %v, got %v", tt.sizes, sizes)
			}
		})
	}
}

func TestChangeChunk_SplitKeepsOrder(t *testing.T) {
	c := chunkOf(5)
	var keys []string
	for _, b := range c.Split(2) {
		keys = append(keys, b.Keys()...)
	}
	if !reflect.DeepEqual(keys, c.Keys()) {
		t.Errorf("split reordered rows: %v", keys)
	}
}

func TestChangeChunk_SplitKeepsEqualTimestampsTogether(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := ChangeChunk{
		{ID: "a", UpdatedAt: base},
		{ID: "b", UpdatedAt: base},
		{ID: "c", UpdatedAt: base},
		{ID: "d", UpdatedAt: base.Add(time.Second)},
		{ID: "e", UpdatedAt: base.Add(2 * time.Second)},
	}

	var got [][]string
	for _, b := range c.Split(2) {
		got = append(got, b.Keys())
	}
	want := [][]string{{"a", "b", "c"}, {"d", "e"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}

	for i := 1; i < len(c.Split(1)); i++ {
		prev, next := c.Split(1)[i-1], c.Split(1)[i]
		if prev.MaxUpdatedAt().Equal(next[0].UpdatedAt) {
			t.Errorf("batches %d and %d share timestamp %v", i-1, i, next[0].UpdatedAt)
		}
	}
}

func TestChangeChunk_IsOrdered(t *testing.T) {
	c := chunkOf(3)
	if !c.IsOrdered() {
		t.Error("expected ordered chunk")
	}
	c[0], c[2] = c[2], c[0]
	if c.IsOrdered() {
		t.Error("expected unordered chunk")
	}
}

func TestBatchKeys(t *testing.T) {
	if BatchKeys(nil, 3) != nil {
		t.Error("expected nil for no keys")
	}

	got := BatchKeys([]string{"a", "b", "c", "d", "e"}, 2)
	want := [][]string{{"a", "b"}, {"c", "d"}, {"e"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}
