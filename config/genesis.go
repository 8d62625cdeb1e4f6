package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tolelom/stakebox/core"
	"github.com/tolelom/stakebox/crypto"
	"github.com/tolelom/stakebox/ledger"
)

// GenesisHash is a canonical all-zeros previous hash for the genesis block.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// MintConfig names a fungible token created at genesis.
type MintConfig struct {
	ID       string `json:"id" toml:"id"`
	Name     string `json:"name" toml:"name"`
	Decimals uint8  `json:"decimals" toml:"decimals"`
}

// TemplateConfig is an NFT collection created at genesis.
type TemplateConfig struct {
	ID        string         `json:"id" toml:"id"`
	Name      string         `json:"name" toml:"name"`
	Creator   string         `json:"creator" toml:"creator"`
	Tradeable bool           `json:"tradeable" toml:"tradeable"`
	Schema    map[string]any `json:"schema,omitempty" toml:"schema"`
}

// AssetConfig is an NFT granted at genesis.
type AssetConfig struct {
	ID         string         `json:"id" toml:"id"`
	TemplateID string         `json:"template_id" toml:"template_id"`
	Owner      string         `json:"owner" toml:"owner"`
	Properties map[string]any `json:"properties,omitempty" toml:"properties"`
}

// ProgramConfig holds the staking and loot box parameters. The loot table
// is given inline or, when LootTableFile is set, read from a YAML file.
type ProgramConfig struct {
	RewardRate      core.RewardRate  `json:"reward_rate" toml:"reward_rate"`
	LootboxBaseCost uint64           `json:"lootbox_base_cost" toml:"lootbox_base_cost"`
	LootTable       []core.LootEntry `json:"loot_table,omitempty" toml:"loot_table"`
	LootTableFile   string           `json:"loot_table_file,omitempty" toml:"loot_table_file"`
	Oracle          string           `json:"oracle" toml:"oracle"`
	OracleVRFKey    string           `json:"oracle_vrf_key" toml:"oracle_vrf_key"`
	OracleFee       uint64           `json:"oracle_fee" toml:"oracle_fee"`
}

// GenesisConfig describes the chain's initial state.
type GenesisConfig struct {
	ChainID     string            `json:"chain_id" toml:"chain_id"`
	Timestamp   int64             `json:"timestamp,omitempty" toml:"timestamp"` // unix seconds; 0 uses the creation time
	Alloc       map[string]uint64 `json:"alloc" toml:"alloc"`                   // pubkey hex → native balance
	Templates   []TemplateConfig  `json:"templates,omitempty" toml:"templates"`
	Assets      []AssetConfig     `json:"assets,omitempty" toml:"assets"`
	RewardMint  MintConfig        `json:"reward_mint" toml:"reward_mint"`
	RewardAlloc map[string]uint64 `json:"reward_alloc,omitempty" toml:"reward_alloc"`
	PoolStock   map[string]uint64 `json:"pool_stock,omitempty" toml:"pool_stock"` // item mint → units held by the loot pool
	Program     ProgramConfig     `json:"program" toml:"program"`
}

type lootTableFile struct {
	Items []core.LootEntry `yaml:"items"`
}

// LoadLootTable reads a YAML loot table of the form
//
//	items:
//	  - mint: sword
//	    weight: 10
func LoadLootTable(path string) ([]core.LootEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var parsed lootTableFile
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode loot table %s: %w", path, err)
	}
	return parsed.Items, nil
}

func (g *GenesisConfig) resolve(baseDir string) error {
	file := g.Program.LootTableFile
	if file == "" || len(g.Program.LootTable) > 0 {
		return nil
	}
	if !filepath.IsAbs(file) {
		file = filepath.Join(baseDir, file)
	}
	table, err := LoadLootTable(file)
	if err != nil {
		return err
	}
	g.Program.LootTable = table
	return nil
}

// Params returns the on-chain program parameters described by g.
func (g *GenesisConfig) Params() *core.Params {
	return &core.Params{
		RewardMint:      g.RewardMint.ID,
		RewardRate:      g.Program.RewardRate,
		LootboxBaseCost: g.Program.LootboxBaseCost,
		LootTable:       append([]core.LootEntry(nil), g.Program.LootTable...),
		Oracle:          g.Program.Oracle,
		OracleVRFKey:    g.Program.OracleVRFKey,
		OracleFee:       g.Program.OracleFee,
	}
}

// Validate checks that the genesis is self-consistent.
func (g *GenesisConfig) Validate() error {
	if strings.TrimSpace(g.ChainID) == "" {
		return errors.New("genesis: chain_id required")
	}
	if err := g.Params().Validate(); err != nil {
		return fmt.Errorf("genesis: %w", err)
	}
	items := make(map[string]bool, len(g.Program.LootTable))
	for _, e := range g.Program.LootTable {
		items[e.Mint] = true
	}
	for mint := range g.PoolStock {
		if !items[mint] {
			return fmt.Errorf("genesis: pool_stock for %q which is not in the loot table", mint)
		}
	}
	templates := make(map[string]bool, len(g.Templates))
	for _, t := range g.Templates {
		if t.ID == "" || t.Creator == "" {
			return errors.New("genesis: template id and creator required")
		}
		templates[t.ID] = true
	}
	for _, a := range g.Assets {
		if a.ID == "" || a.Owner == "" {
			return errors.New("genesis: asset id and owner required")
		}
		if !templates[a.TemplateID] {
			return fmt.Errorf("genesis: asset %q uses unknown template %q", a.ID, a.TemplateID)
		}
	}
	return nil
}

func sortedKeys(m map[string]uint64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ApplyGenesis writes the initial accounts, NFT collections, token mints
// and program parameters into state. It does not commit.
func ApplyGenesis(g *GenesisConfig, state core.State) error {
	if err := g.Validate(); err != nil {
		return err
	}
	for _, addr := range sortedKeys(g.Alloc) {
		if err := state.SetAccount(&core.Account{Address: addr, Balance: g.Alloc[addr]}); err != nil {
			return err
		}
	}
	for _, t := range g.Templates {
		if err := state.SetTemplate(&core.AssetTemplate{
			ID:        t.ID,
			Name:      t.Name,
			Schema:    t.Schema,
			Tradeable: t.Tradeable,
			Creator:   t.Creator,
		}); err != nil {
			return err
		}
	}
	for _, a := range g.Assets {
		tmpl, err := state.GetTemplate(a.TemplateID)
		if err != nil {
			return fmt.Errorf("genesis asset %s: %w", a.ID, err)
		}
		if err := state.SetAsset(&core.Asset{
			ID:         a.ID,
			TemplateID: a.TemplateID,
			Owner:      a.Owner,
			Properties: a.Properties,
			Tradeable:  tmpl.Tradeable,
			MintedAt:   g.Timestamp,
		}); err != nil {
			return err
		}
	}

	led := ledger.New(state)
	if err := led.CreateMint(&core.TokenMint{
		ID:        g.RewardMint.ID,
		Name:      g.RewardMint.Name,
		Decimals:  g.RewardMint.Decimals,
		Authority: core.RewardMintAuthority,
	}); err != nil {
		return fmt.Errorf("genesis reward mint: %w", err)
	}
	for _, owner := range sortedKeys(g.RewardAlloc) {
		if amt := g.RewardAlloc[owner]; amt > 0 {
			if err := led.Mint(g.RewardMint.ID, owner, amt, core.RewardMintAuthority); err != nil {
				return fmt.Errorf("genesis reward alloc: %w", err)
			}
		}
	}
	for _, e := range g.Program.LootTable {
		name := e.Name
		if name == "" {
			name = e.Mint
		}
		if err := led.CreateMint(&core.TokenMint{ID: e.Mint, Name: name, Authority: core.ItemMintAuthority}); err != nil {
			return fmt.Errorf("genesis item mint: %w", err)
		}
	}
	for _, mint := range sortedKeys(g.PoolStock) {
		if amt := g.PoolStock[mint]; amt > 0 {
			if err := led.Mint(mint, core.LootPool, amt, core.ItemMintAuthority); err != nil {
				return fmt.Errorf("genesis pool stock: %w", err)
			}
		}
	}
	return state.SetParams(g.Params())
}

// CreateGenesisBlock applies the genesis state, commits it and returns the
// signed block #0.
func CreateGenesisBlock(cfg *Config, state core.State, proposerPriv crypto.PrivateKey) (*core.Block, error) {
	g := &cfg.Genesis
	if g.Timestamp == 0 {
		g.Timestamp = time.Now().Unix()
	}
	if err := ApplyGenesis(g, state); err != nil {
		return nil, err
	}

	stateRoot := state.ComputeRoot()
	if err := state.Commit(); err != nil {
		return nil, err
	}

	block := core.NewBlockAt(0, GenesisHash, proposerPriv.Public().Hex(), nil, time.Unix(g.Timestamp, 0))
	block.Header.StateRoot = stateRoot
	block.Header.TxRoot = GenesisTxRoot(g.ChainID)
	block.Sign(proposerPriv)
	return block, nil
}

// GenesisTxRoot is the tx root of block #0, which commits to the chain ID
// instead of a transaction list.
func GenesisTxRoot(chainID string) string {
	return crypto.Hash([]byte(chainID))
}

// IsGenesisHash returns true if the hash is the canonical genesis prev-hash.
func IsGenesisHash(h string) bool {
	return strings.Count(h, "0") == len(h) && len(h) == 64
}
