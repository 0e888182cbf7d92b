package embedding

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/mataresit/embedpipe/internal/domain"
)

var keyPrefix = domain.KeyPrefix + "embedding:"

// store is the consumer interface for embedding persistence (ISP).
type store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Scan(ctx context.Context, pattern string) ([]string, error)
}

// Repo persists embedding records, one row per content unit. Records are
// keyed by (receipt, content type) so re-embedding a receipt overwrites
// rather than duplicates.
type Repo struct {
	store store
}

// New creates an embedding record repository.
func New(s store) *Repo {
	return &Repo{store: s}
}

// dto is the stored representation. The vector is little-endian float32
// bytes; json encodes []byte as base64, which is half the size of a float
// array in text form.
type dto struct {
	ReceiptID   string `json:"receipt_id"`
	ContentType string `json:"content_type"`
	Vector      []byte `json:"vector"`
	Tokens      int    `json:"tokens"`
	CreatedAt   int64  `json:"created_at"` // unix millis
}

// Save writes one embedding record.
func (r *Repo) Save(ctx context.Context, rec domain.EmbeddingRecord) error {
	d := dto{
		ReceiptID:   rec.ReceiptID,
		ContentType: string(rec.ContentType),
		Vector:      vectorToBytes(rec.Vector),
		Tokens:      rec.Tokens,
		CreatedAt:   rec.CreatedAt.UnixMilli(),
	}

	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal embedding record: %w", err)
	}

	key := recordKey(rec.ReceiptID, rec.ContentType)
	if err := r.store.Set(ctx, key, data); err != nil {
		return fmt.Errorf("save embedding %s: %w", key, err)
	}
	return nil
}

// ListByReceipt returns all embedding records for a receipt.
// Returns domain.ErrEmbeddingNotFound if none exist.
func (r *Repo) ListByReceipt(ctx context.Context, receiptID string) ([]domain.EmbeddingRecord, error) {
	keys, err := r.store.Scan(ctx, keyPrefix+receiptID+":*")
	if err != nil {
		return nil, fmt.Errorf("scan embeddings for %s: %w", receiptID, err)
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("receipt %s: %w", receiptID, domain.ErrEmbeddingNotFound)
	}

	records := make([]domain.EmbeddingRecord, 0, len(keys))
	for _, key := range keys {
		data, err := r.store.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("get embedding %s: %w", key, err)
		}

		var d dto
		if err := json.Unmarshal(data, &d); err != nil {
			return nil, fmt.Errorf("unmarshal embedding %s: %w", key, err)
		}

		vec, err := bytesToVector(d.Vector)
		if err != nil {
			return nil, fmt.Errorf("decode embedding %s: %w", key, err)
		}

		records = append(records, domain.EmbeddingRecord{
			ReceiptID:   d.ReceiptID,
			ContentType: domain.ContentType(d.ContentType),
			Vector:      vec,
			Tokens:      d.Tokens,
			CreatedAt:   time.UnixMilli(d.CreatedAt).UTC(),
		})
	}

	return records, nil
}

func recordKey(receiptID string, ct domain.ContentType) string {
	return keyPrefix + receiptID + ":" + string(ct)
}

func vectorToBytes(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func bytesToVector(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("invalid vector data: len=%d (not multiple of 4)", len(data))
	}
	vec := make([]float32, len(data)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vec, nil
}
