package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/tolelom/stakebox/config"
	"github.com/tolelom/stakebox/consensus"
	"github.com/tolelom/stakebox/core"
	"github.com/tolelom/stakebox/crypto"
	"github.com/tolelom/stakebox/events"
	"github.com/tolelom/stakebox/indexer"
	"github.com/tolelom/stakebox/logging"
	"github.com/tolelom/stakebox/metrics"
	"github.com/tolelom/stakebox/network"
	"github.com/tolelom/stakebox/oracle"
	"github.com/tolelom/stakebox/rpc"
	"github.com/tolelom/stakebox/storage"
	"github.com/tolelom/stakebox/vm"
	"github.com/tolelom/stakebox/wallet"
)

var commandRun = &cli.Command{
	Name:   "run",
	Usage:  "start the node",
	Flags:  []cli.Flag{configFlag},
	Action: runNode,
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		slog.Warn("config file not found, using defaults", "path", path)
		return config.DefaultConfig(), nil
	}
	return cfg, err
}

func runNode(cliCtx *cli.Context) error {
	cfg, err := loadConfig(cliCtx.String(configFlag.Name))
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	logger, err := logging.Setup("stakebox", cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Close()
	if cfg.MetricsEnabled {
		metrics.InitializePrometheusMetrics()
	}

	// ---- load validator key ----
	privKey, err := wallet.LoadKey(cfg.KeyFile, password(cfg.PasswordEnv))
	if err != nil {
		return fmt.Errorf("load key: %w", err)
	}
	if len(cfg.Validators) == 0 {
		cfg.Validators = []string{privKey.Public().Hex()}
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	// ---- open DB ----
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("mkdir data dir: %w", err)
	}
	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "chain"))
	if err != nil {
		return err
	}
	defer db.Close()

	// State, blocks and indexes share one DB under different key prefixes.
	state := storage.NewStateDB(db)
	bc := core.NewBlockchain(storage.NewBlockStore(db))
	if err := bc.Init(); err != nil {
		return fmt.Errorf("blockchain init: %w", err)
	}

	emitter := events.NewEmitter()
	idx := indexer.New(db, emitter)

	mempool := core.NewMempool(cfg.MempoolSize)
	exec := vm.NewExecutor(cfg.Genesis.ChainID, state, emitter)
	poa := consensus.New(cfg, bc, state, mempool, exec, emitter, privKey)

	// ---- genesis (if fresh chain) ----
	if bc.Tip() == nil {
		if err := initGenesis(cfg, poa, bc, state, idx, privKey); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(cliCtx.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	// ---- replication ----
	var node rpc.Node = poa
	if cfg.P2P.Enabled() {
		p2p := network.NewNode(cfg.NodeID, cfg.P2P.ListenAddr, poa)
		syncer := network.NewSyncer(p2p, bc, poa, cfg.Genesis.ChainID)
		if poa.IsValidator() {
			syncer.AnnounceBlocks(emitter)
		}
		if cfg.P2P.ListenAddr != "" {
			if err := p2p.Start(); err != nil {
				return fmt.Errorf("p2p start: %w", err)
			}
		}
		node = relayNode{PoA: poa, p2p: p2p}
		g.Go(func() error {
			dialPeers(ctx, p2p, syncer, cfg.P2P.Peers)
			p2p.Stop()
			return nil
		})
	}

	// ---- RPC ----
	rpcServer := rpc.NewServer(cfg.RPCAddr, rpc.NewHandler(bc, mempool, node, idx, cfg.Genesis.ChainID), cfg.RPCAuthToken)
	rpcServer.AttachLogLevel(logger.Level)
	tlsCfg, err := config.LoadTLSConfig(&cfg.RPCTLS)
	if err != nil {
		return err
	}
	rpcServer.UseTLS(tlsCfg)
	if err := rpcServer.Start(); err != nil {
		return fmt.Errorf("rpc start: %w", err)
	}

	// ---- oracle ----
	if cfg.Oracle.Enabled {
		svc, err := newOracleService(cfg, node)
		if err != nil {
			_ = rpcServer.Stop()
			return err
		}
		svc.Subscribe(emitter)
		g.Go(func() error { return svc.Run(ctx) })
	}

	// ---- consensus loop ----
	if poa.IsValidator() {
		interval := time.Duration(cfg.BlockTimeMs) * time.Millisecond
		if interval <= 0 {
			interval = 2 * time.Second
		}
		g.Go(func() error { return poa.Run(ctx, interval) })
	} else {
		slog.Info("running as read replica", "validators", cfg.Validators)
	}

	g.Go(func() error {
		<-ctx.Done()
		slog.Info("shutting down")
		return rpcServer.Stop()
	})

	err = g.Wait()
	slog.Info("shutdown complete")
	return err
}

// initGenesis commits block #0 on a validator. A replica applies the same
// genesis state and waits for the producer's block #0, which commits it.
func initGenesis(cfg *config.Config, poa *consensus.PoA, bc *core.Blockchain, state core.State, idx *indexer.Indexer, privKey crypto.PrivateKey) error {
	if poa.IsValidator() {
		genesisBlock, err := config.CreateGenesisBlock(cfg, state, privKey)
		if err != nil {
			return fmt.Errorf("genesis: %w", err)
		}
		if err := bc.AddBlock(genesisBlock); err != nil {
			return fmt.Errorf("add genesis: %w", err)
		}
		slog.Info("genesis block committed", "hash", genesisBlock.Hash, "chain_id", cfg.Genesis.ChainID)
	} else {
		if cfg.Genesis.Timestamp == 0 {
			return errors.New("genesis: replicas need a fixed genesis.timestamp")
		}
		if err := config.ApplyGenesis(&cfg.Genesis, state); err != nil {
			return fmt.Errorf("genesis: %w", err)
		}
		slog.Info("genesis state applied, waiting for block #0", "chain_id", cfg.Genesis.ChainID)
	}
	if err := idx.Seed(&cfg.Genesis); err != nil {
		return fmt.Errorf("index genesis: %w", err)
	}
	return nil
}

// relayNode serves RPC from local state and forwards submitted
// transactions to peers.
type relayNode struct {
	*consensus.PoA
	p2p *network.Node
}

func (r relayNode) SubmitTx(tx *core.Transaction) error { return r.p2p.SubmitTx(tx) }

// dialPeers keeps a connection open to every configured peer until ctx ends.
func dialPeers(ctx context.Context, p2p *network.Node, syncer *network.Syncer, peers []string) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		for _, addr := range peers {
			if p2p.Peer(addr) != nil {
				continue
			}
			if _, err := syncer.Connect(addr); err != nil {
				slog.Warn("peer unreachable", "component", "p2p", "peer", addr, "err", err)
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func newOracleService(cfg *config.Config, chain oracle.Chain) (*oracle.Service, error) {
	pw := password(cfg.Oracle.PasswordEnv)
	acct, err := wallet.LoadKey(cfg.Oracle.KeyFile, pw)
	if err != nil {
		return nil, fmt.Errorf("oracle key: %w", err)
	}
	vrfKey, err := wallet.LoadVRFKey(cfg.Oracle.VRFKeyFile, pw)
	if err != nil {
		return nil, fmt.Errorf("oracle vrf key: %w", err)
	}
	signer := wallet.New(cfg.Genesis.ChainID, acct)
	prover := oracle.NewProver(vrfKey)

	params := cfg.Genesis.Params()
	if params.Oracle != signer.PubKey() || params.OracleVRFKey != prover.PublicKeyHex() {
		slog.Warn("oracle keys do not match the program params; requests will not be answered",
			"params_oracle", params.Oracle, "oracle", signer.PubKey())
	}
	return oracle.NewService(chain, prover, signer, oracle.ServiceConfig{
		Interval:      time.Duration(cfg.Oracle.IntervalMs) * time.Millisecond,
		ResubmitAfter: time.Duration(cfg.Oracle.ResubmitAfterMs) * time.Millisecond,
		Fee:           cfg.Oracle.Fee,
	}), nil
}
