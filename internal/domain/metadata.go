package domain

import (
	"encoding/json"
	"fmt"
)

// snapshotMetadataVersion is the current SnapshotMetadata schema version.
// Bump when adding fields the orchestrator reads, so migrations can
// validate old rows instead of treating the column as opaque.
const snapshotMetadataVersion = 1

// SnapshotMetadata is the narrow, versioned schema for the venue
// resolution data a snapshot must carry to close its leg: which asset and
// market the venue resolved the symbol to, and how the order was tagged.
// Anything else lives in Extra.
type SnapshotMetadata struct {
	Version       int               `json:"version"`
	AssetIndex    int               `json:"asset_index"`
	MarketIndex   int               `json:"market_index"`
	IsSpot        bool              `json:"is_spot"`
	ClientOrderID string            `json:"client_order_id,omitempty"`
	MasterAddress string            `json:"master_address,omitempty"`
	Extra         map[string]string `json:"extra,omitempty"`
}

// NewSnapshotMetadata builds metadata at the current schema version from a
// resolved market.
func NewSnapshotMetadata(m MarketID, clientOrderID, masterAddress string) SnapshotMetadata {
	return SnapshotMetadata{
		Version:       snapshotMetadataVersion,
		AssetIndex:    m.AssetIndex,
		MarketIndex:   m.Index,
		IsSpot:        m.IsSpot,
		ClientOrderID: clientOrderID,
		MasterAddress: masterAddress,
	}
}

// Validate checks that the metadata is usable for closing a leg.
func (m SnapshotMetadata) Validate() error {
	if m.Version <= 0 || m.Version > snapshotMetadataVersion {
		return fmt.Errorf("snapshot metadata: unsupported version %d", m.Version)
	}
	if m.MarketIndex < 0 {
		return fmt.Errorf("snapshot metadata: negative market index %d", m.MarketIndex)
	}
	return nil
}

// MarketID reconstructs the resolved market recorded at open time.
func (m SnapshotMetadata) MarketID(symbol string) MarketID {
	return MarketID{
		Symbol:     symbol,
		Index:      m.MarketIndex,
		AssetIndex: m.AssetIndex,
		IsSpot:     m.IsSpot,
	}
}

// DecodeSnapshotMetadata parses a stored metadata blob. Empty input yields
// a zero-version value that fails Validate, which callers treat as "needs
// override".
func DecodeSnapshotMetadata(raw []byte) (SnapshotMetadata, error) {
	var m SnapshotMetadata
	if len(raw) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return m, fmt.Errorf("snapshot metadata: decode: %w", err)
	}
	return m, nil
}
