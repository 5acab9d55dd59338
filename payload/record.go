// Package payload defines the wire shape carried in Block.Payload: a
// per-epoch price-consensus record. It does not generate, validate or
// aggregate prices — that is the demo feed simulator and matching engine's
// job, built on top of this engine, not inside it.
package payload

import (
	"encoding/json"
	"fmt"
)

// PriceConsensusRecord is the agreed price snapshot for one symbol at the
// epoch it was proposed in. Decimal fields are carried as strings rather
// than float64 to avoid silently losing precision across JSON round trips,
// matching how the original Python service serializes its Decimal fields.
type PriceConsensusRecord struct {
	Symbol         string `json:"symbol"`
	ConsensusPrice string `json:"consensus_price"`
	VolumeWeighted string `json:"volume_weighted_price"`
	TotalVolume    string `json:"total_volume"`
	PriceCount     int    `json:"price_count"`
	ObservedAtUnix int64  `json:"observed_at_unix"`
}

// Encode serialises r to canonical JSON suitable for Block.Payload. Go's
// encoding/json already emits struct fields in declaration order with no
// whitespace variance between calls, giving the same determinism the
// original's sort_keys=True JSON dump provides.
func Encode(r *PriceConsensusRecord) ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("payload: encode record: %w", err)
	}
	return data, nil
}

// Decode parses a Block.Payload back into a PriceConsensusRecord.
func Decode(data []byte) (*PriceConsensusRecord, error) {
	var r PriceConsensusRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("payload: decode record: %w", err)
	}
	return &r, nil
}
