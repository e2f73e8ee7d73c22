package domain

import "time"

// ChangedRow is one row returned by a change poll
type ChangedRow struct {
	ID        string    `json:"id"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ChangeChunk is an ordered (by UpdatedAt ascending) page of changed rows
type ChangeChunk []ChangedRow

// Keys strips the timestamps, keeping order.
func (c ChangeChunk) Keys() []string {
	keys := make([]string, len(c))
	for i, row := range c {
		keys[i] = row.ID
	}
	return keys
}

// MaxUpdatedAt returns the timestamp of the last row.
// The zero time is returned for an empty chunk.
func (c ChangeChunk) MaxUpdatedAt() time.Time {
	if len(c) == 0 {
		return time.Time{}
	}
	return c[len(c)-1].UpdatedAt
}

// Split cuts the chunk into consecutive sub-batches of about size rows.
// A cut never falls between rows sharing an UpdatedAt, so a batch may run
// past size: the checkpoint written after a batch must cover every row at
// its maximum timestamp.
func (c ChangeChunk) Split(size int) []ChangeChunk {
	if len(c) == 0 {
		return nil
	}
	if size <= 0 || len(c) <= size {
		return []ChangeChunk{c}
	}
	var batches []ChangeChunk
	for start := 0; start < len(c); {
		end := min(start+size, len(c))
		for end < len(c) && c[end].UpdatedAt.Equal(c[end-1].UpdatedAt) {
			end++
		}
		batches = append(batches, c[start:end])
		start = end
	}
	return batches
}

// IsOrdered reports whether UpdatedAt values are non-decreasing.
func (c ChangeChunk) IsOrdered() bool {
	for i := 1; i < len(c); i++ {
		if c[i].UpdatedAt.Before(c[i-1].UpdatedAt) {
			return false
		}
	}
	return true
}

// BatchKeys cuts keys into consecutive groups of at most size.
func BatchKeys(keys []string, size int) [][]string {
	if len(keys) == 0 {
		return nil
	}
	if size <= 0 || len(keys) <= size {
		return [][]string{keys}
	}
	var out [][]string
	for start := 0; start < len(keys); start += size {
		end := start + size
		if end > len(keys) {
			end = len(keys)
		}
		out = append(out, keys[start:end])
	}
	return out
}
