package config

import "github.com/streamletproto/pricechain/core"

// GenesisHash is the sentinel previous-hash for the implicit root of the
// block DAG. It is never a materialized block: core.GENESIS is the only
// value the consensus core ever compares against it.
const GenesisHash = core.GENESIS

// IsGenesisHash reports whether h is the genesis sentinel.
func IsGenesisHash(h core.BlockHash) bool {
	return h == core.GENESIS
}
