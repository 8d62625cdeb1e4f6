package core

import (
	"errors"
	"fmt"

	"github.com/tolelom/stakebox/crypto"
)

// Program-controlled addresses. None of them has a private key; only the
// owning module moves funds or assets held by them.
var (
	StakeVault          = crypto.ProgramAddress("staking", "authority")
	RewardMintAuthority = crypto.ProgramAddress("staking", "mint")
	ItemMintAuthority   = crypto.ProgramAddress("lootbox", "mint")
	LootPool            = crypto.ProgramAddress("lootbox", "pool")
	OracleEscrow        = crypto.ProgramAddress("oracle", "escrow")
)

// RewardRate is the accrual rate in reward base units per staked second,
// expressed as a fraction so sub-unit rates are representable.
type RewardRate struct {
	Numerator   uint64 `json:"numerator" toml:"numerator" yaml:"numerator"`
	Denominator uint64 `json:"denominator" toml:"denominator" yaml:"denominator"`
}

// LootEntry is one row of the loot table. Weight is relative.
type LootEntry struct {
	Mint   string `json:"mint" toml:"mint" yaml:"mint"`
	Name   string `json:"name,omitempty" toml:"name" yaml:"name"`
	Weight uint64 `json:"weight" toml:"weight" yaml:"weight"`
}

// Params holds the staking and loot-box program configuration.
type Params struct {
	RewardMint      string      `json:"reward_mint" toml:"reward_mint"`
	RewardRate      RewardRate  `json:"reward_rate" toml:"reward_rate"`
	LootboxBaseCost uint64      `json:"lootbox_base_cost" toml:"lootbox_base_cost"` // 0 accepts any positive cost
	LootTable       []LootEntry `json:"loot_table" toml:"loot_table"`
	Oracle          string      `json:"oracle" toml:"oracle"`                 // ed25519 account that fulfils requests
	OracleVRFKey    string      `json:"oracle_vrf_key" toml:"oracle_vrf_key"` // compressed secp256k1 hex
	OracleFee       uint64      `json:"oracle_fee" toml:"oracle_fee"`
}

// TotalWeight sums the loot table weights.
func (p *Params) TotalWeight() uint64 {
	var total uint64
	for _, e := range p.LootTable {
		total += e.Weight
	}
	return total
}

// Validate checks that the parameters describe a usable program.
func (p *Params) Validate() error {
	if p.RewardMint == "" {
		return errors.New("params: reward_mint required")
	}
	if p.RewardRate.Denominator == 0 {
		return errors.New("params: reward_rate denominator must be > 0")
	}
	seen := make(map[string]bool, len(p.LootTable))
	var total uint64
	for i, e := range p.LootTable {
		if e.Mint == "" {
			return fmt.Errorf("params: loot_table[%d] mint required", i)
		}
		if e.Mint == p.RewardMint {
			return fmt.Errorf("params: loot_table[%d] reuses the reward mint", i)
		}
		if seen[e.Mint] {
			return fmt.Errorf("params: loot_table[%d] duplicate mint %q", i, e.Mint)
		}
		seen[e.Mint] = true
		if e.Weight > ^uint64(0)-total {
			return errors.New("params: loot_table total weight overflows")
		}
		total += e.Weight
	}
	if len(p.LootTable) > 0 && total == 0 {
		return errors.New("params: loot_table total weight must be > 0")
	}
	if p.OracleVRFKey != "" && p.Oracle == "" {
		return errors.New("params: oracle account required with oracle_vrf_key")
	}
	return nil
}
