package cache

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"

	"ctxpack/internal/errors"
	"ctxpack/internal/knowledge"
)

var (
	encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	decoder, _ = zstd.NewReader(nil)
)

// wireEntry is the persisted form of a cached response. Envelope timestamps
// are carried as RFC3339 strings and parsed explicitly on read.
type wireEntry struct {
	Response  knowledge.Response      `json:"response"`
	Evidence  []knowledge.EvidenceRef `json:"evidence"`
	IndexedAt string                  `json:"indexedAt"`
	CachedAt  string                  `json:"cachedAt"`
}

// Encode serializes and compresses a cached response.
func Encode(entry knowledge.CachedResponse) ([]byte, error) {
	w := wireEntry{
		Response:  entry.Response,
		Evidence:  entry.Evidence,
		IndexedAt: formatTime(entry.IndexedAt),
		CachedAt:  formatTime(entry.CachedAt),
	}
	data, err := json.Marshal(w)
	if err != nil {
		return nil, err
	}
	return encoder.EncodeAll(data, nil), nil
}

// Decode decompresses and rehydrates a cached response.
func Decode(payload []byte) (*knowledge.CachedResponse, error) {
	data, err := decoder.DecodeAll(payload, nil)
	if err != nil {
		return nil, errors.New(errors.CacheCorrupt, "cache payload is not valid zstd", err)
	}

	var w wireEntry
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, errors.New(errors.CacheCorrupt, "cache payload is not valid JSON", err)
	}

	indexedAt, err := parseTime(w.IndexedAt)
	if err != nil {
		return nil, errors.New(errors.CacheCorrupt, fmt.Sprintf("invalid indexedAt %q", w.IndexedAt), err)
	}
	cachedAt, err := parseTime(w.CachedAt)
	if err != nil {
		return nil, errors.New(errors.CacheCorrupt, fmt.Sprintf("invalid cachedAt %q", w.CachedAt), err)
	}

	entry := &knowledge.CachedResponse{
		Response:  w.Response,
		Evidence:  w.Evidence,
		IndexedAt: indexedAt,
		CachedAt:  cachedAt,
	}
	for i := range entry.Response.Packs {
		entry.Response.Packs[i].CreatedAt = entry.Response.Packs[i].CreatedAt.UTC()
	}
	return entry, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}
