package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolelom/stakebox/config"
	"github.com/tolelom/stakebox/core"
	"github.com/tolelom/stakebox/internal/testutil"
)

const tomlConfig = `
node_id = "n1"
data_dir = "./chain"
rpc_addr = "127.0.0.1:9000"
block_time_ms = 500

[log]
level = "debug"
format = "text"

[genesis]
chain_id = "toml-chain"

[genesis.reward_mint]
id = "gold"
name = "Gold"

[genesis.program]
loot_table_file = "loot.yaml"
lootbox_base_cost = 10

[genesis.program.reward_rate]
numerator = 3
denominator = 2
`

const lootYAML = `
items:
  - mint: sword
    name: Sword
    weight: 10
  - mint: shield
    weight: 30
`

func write(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestLoadTOMLWithLootTableFile(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "loot.yaml", lootYAML)
	cfg, err := config.Load(write(t, dir, "node.toml", tomlConfig))
	require.NoError(t, err)

	assert.Equal(t, "n1", cfg.NodeID)
	assert.Equal(t, 500, cfg.BlockTimeMs)
	assert.Equal(t, 10_000, cfg.MempoolSize, "unset fields keep defaults")
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "toml-chain", cfg.Genesis.ChainID)

	p := cfg.Genesis.Params()
	assert.Equal(t, "gold", p.RewardMint)
	assert.Equal(t, core.RewardRate{Numerator: 3, Denominator: 2}, p.RewardRate)
	require.Len(t, p.LootTable, 2)
	assert.Equal(t, core.LootEntry{Mint: "sword", Name: "Sword", Weight: 10}, p.LootTable[0])
	assert.Equal(t, uint64(40), p.TotalWeight())
	assert.NoError(t, cfg.Validate())
}

func TestLoadLootTableRejectsUnknownFields(t *testing.T) {
	p := write(t, t.TempDir(), "loot.yaml", "items:\n  - mint: a\n    wieght: 1\n")
	_, err := config.LoadLootTable(p)
	assert.Error(t, err)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	for _, name := range []string{"node.json", "node.toml"} {
		t.Run(name, func(t *testing.T) {
			cfg := config.DefaultConfig()
			cfg.Validators = []string{"aa"}
			cfg.Genesis.Program.LootTable = []core.LootEntry{{Mint: "gem", Weight: 1}}
			path := filepath.Join(t.TempDir(), name)
			require.NoError(t, config.Save(cfg, path))

			back, err := config.Load(path)
			require.NoError(t, err)
			assert.Equal(t, cfg.Validators, back.Validators)
			assert.Equal(t, cfg.Genesis.Program.LootTable, back.Genesis.Program.LootTable)
			assert.Equal(t, cfg.RPCAddr, back.RPCAddr)
		})
	}
}

func TestValidate(t *testing.T) {
	cfg := config.DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.Oracle.Enabled = true
	assert.Error(t, cfg.Validate(), "oracle without key files")
	cfg.Oracle.Enabled = false

	cfg.RPCTLS.CertFile = "cert.pem"
	assert.Error(t, cfg.Validate(), "tls cert without key")
	cfg.RPCTLS = config.TLSConfig{}

	cfg.Genesis.Assets = []config.AssetConfig{{ID: "x", TemplateID: "missing", Owner: "o"}}
	assert.Error(t, cfg.Validate())
}

func TestApplyGenesis(t *testing.T) {
	g := testutil.TestGenesis("creator")
	g.Alloc["alice"] = 10
	g.RewardAlloc = map[string]uint64{"alice": 7}
	g.Assets = []config.AssetConfig{{ID: "nft", TemplateID: "pass", Owner: "alice"}}
	state := testutil.NewStateDB()
	require.NoError(t, config.ApplyGenesis(g, state))

	acc, _ := state.GetAccount("alice")
	assert.Equal(t, uint64(10), acc.Balance)
	a, err := state.GetAsset("nft")
	require.NoError(t, err)
	assert.Equal(t, "alice", a.Owner)
	bal, _ := state.GetTokenBalance("reward", "alice")
	assert.Equal(t, uint64(7), bal.Amount)

	m, err := state.GetMint("reward")
	require.NoError(t, err)
	assert.Equal(t, core.RewardMintAuthority, m.Authority)
	for _, e := range g.Program.LootTable {
		item, err := state.GetMint(e.Mint)
		require.NoError(t, err, e.Mint)
		assert.Equal(t, core.ItemMintAuthority, item.Authority)
	}
	params, err := state.GetParams()
	require.NoError(t, err)
	assert.Equal(t, g.Params(), params)
}

func TestLoadTLSConfig(t *testing.T) {
	tlsCfg, err := config.LoadTLSConfig(nil)
	require.NoError(t, err)
	assert.Nil(t, tlsCfg)

	tlsCfg, err = config.LoadTLSConfig(&config.TLSConfig{})
	require.NoError(t, err)
	assert.Nil(t, tlsCfg)

	_, err = config.LoadTLSConfig(&config.TLSConfig{CertFile: "missing.pem", KeyFile: "missing.key"})
	assert.Error(t, err)
}
