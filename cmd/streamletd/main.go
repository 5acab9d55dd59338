// Command streamletd runs a Streamlet consensus replica.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	cli "gopkg.in/urfave/cli.v1"

	"github.com/streamletproto/pricechain/config"
	"github.com/streamletproto/pricechain/consensus"
	"github.com/streamletproto/pricechain/crypto"
	"github.com/streamletproto/pricechain/crypto/certgen"
	"github.com/streamletproto/pricechain/durability"
	"github.com/streamletproto/pricechain/events"
	"github.com/streamletproto/pricechain/keystore"
	"github.com/streamletproto/pricechain/network"
	"github.com/streamletproto/pricechain/payload"
	"github.com/streamletproto/pricechain/rpc"
)

func main() {
	app := cli.NewApp()
	app.Name = "streamletd"
	app.Usage = "Streamlet-style BFT consensus daemon"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "config", Value: "config.json", Usage: "path to config file"},
		cli.StringFlag{Name: "key", Value: "validator.key", Usage: "path to keystore file"},
	}
	app.Commands = []cli.Command{
		{
			Name:  "genkey",
			Usage: "generate a new replica identity and write it to the keystore path",
			Action: func(c *cli.Context) error {
				return runGenKey(c.GlobalString("key"), passwordFromEnv())
			},
		},
		{
			Name:  "gencerts",
			Usage: "generate a CA and node mTLS certificates into a directory",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "dir", Usage: "output directory for generated certificates"},
			},
			Action: func(c *cli.Context) error {
				cfg, err := loadConfig(c.GlobalString("config"))
				if err != nil {
					return fmt.Errorf("config: %w", err)
				}
				dir := c.String("dir")
				if dir == "" {
					return fmt.Errorf("--dir is required")
				}
				if err := certgen.GenerateAll(dir, cfg.NodeID, nil); err != nil {
					return fmt.Errorf("gencerts: %w", err)
				}
				fmt.Printf("Certificates generated in %s for node %q\n", dir, cfg.NodeID)
				return nil
			},
		},
		{
			Name:  "run",
			Usage: "run the replica, joining its configured network",
			Action: func(c *cli.Context) error {
				return runDaemon(c.GlobalString("config"), c.GlobalString("key"))
			},
		},
		{
			Name:  "demo",
			Usage: "run a local multi-replica network in a single process and print finalized blocks",
			Flags: []cli.Flag{
				cli.IntFlag{Name: "replicas", Value: 4, Usage: "number of simulated replicas"},
				cli.IntFlag{Name: "epochs", Value: 6, Usage: "number of epochs to step through"},
				cli.IntFlag{Name: "f", Value: 1, Usage: "number of Byzantine replicas tolerated"},
			},
			Action: func(c *cli.Context) error {
				return runDemo(c.Int("replicas"), c.Int("epochs"), c.Int("f"))
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		logrus.WithError(err).Fatal("streamletd exited with error")
	}
}

func passwordFromEnv() string {
	password := os.Getenv("STREAMLETD_PASSWORD")
	if password == "" {
		logrus.Warn("STREAMLETD_PASSWORD not set, keystore will use an empty password")
	}
	return password
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		if os.IsNotExist(err) {
			logrus.WithField("path", path).Warn("config file not found, using defaults")
			return config.DefaultConfig(), nil
		}
		return nil, err
	}
	return cfg, nil
}

func runGenKey(keyPath, password string) error {
	priv, pub, err := crypto.GenerateKeyPair()
	if err != nil {
		return fmt.Errorf("generate key pair: %w", err)
	}
	if err := keystore.SaveKey(keyPath, password, priv); err != nil {
		return fmt.Errorf("save keystore: %w", err)
	}
	fmt.Printf("Generated identity. Public key (roster entry): %s\n", pub.Hex())
	fmt.Printf("Saved to: %s\n", keyPath)
	return nil
}

// runDaemon wires a single replica's full production stack: durable WAL,
// replica state machine, P2P gossip, catch-up syncer, and the read-only RPC
// endpoint, then drives one epoch per cfg.EpochInterval until signalled.
func runDaemon(cfgPath, keyPath string) error {
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	password := passwordFromEnv()
	privKey, err := keystore.LoadKey(keyPath, password)
	if err != nil {
		return fmt.Errorf("load key: %w", err)
	}

	publicKeys := make(map[string]crypto.PublicKey, len(cfg.Validators))
	for _, hexKey := range cfg.Validators {
		pub, err := crypto.PubKeyFromHex(hexKey)
		if err != nil {
			return fmt.Errorf("validators: %w", err)
		}
		publicKeys[hexKey] = pub
	}

	// The replica's identity in the protocol is its own public key hex, the
	// same string that appears in cfg.Validators — not the config's
	// human-readable node_id label.
	selfID := privKey.Public().Hex()
	replica, err := consensus.NewReplica(selfID, privKey, publicKeys, cfg.F)
	if err != nil {
		return fmt.Errorf("new replica: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("mkdir data dir: %w", err)
	}
	db, err := durability.NewLevelDB(cfg.DataDir + "/wal")
	if err != nil {
		return fmt.Errorf("open wal: %w", err)
	}
	defer db.Close()

	walLog := durability.NewLog(db)
	if err := walLog.Replay(replica); err != nil {
		return fmt.Errorf("replay wal: %w", err)
	}

	tlsCfg, err := config.LoadTLSConfig(cfg.TLS)
	if err != nil {
		return fmt.Errorf("tls: %w", err)
	}
	if tlsCfg != nil {
		logrus.Info("mTLS enabled for P2P")
	}

	emitter := events.NewEmitter()
	emitter.Subscribe(events.EventNotarized, func(ev events.Event) {
		logrus.WithFields(logrus.Fields{"epoch": ev.Epoch, "block": ev.BlockHash}).Debug("block notarized")
	})
	emitter.Subscribe(events.EventFinalized, func(ev events.Event) {
		logrus.WithFields(logrus.Fields{"epoch": ev.Epoch, "block": ev.BlockHash}).Info("block finalized")
	})

	p2pAddr := fmt.Sprintf(":%d", cfg.P2PPort)
	node := network.NewNode(cfg.NodeID, p2pAddr, replica, cfg.Validators, tlsCfg)
	node.SetWAL(walLog)
	node.SetEmitter(emitter)
	syncer := network.NewSyncer(node, replica, cfg.Validators, walLog)
	syncer.SetEmitter(emitter)
	if err := node.Start(); err != nil {
		return fmt.Errorf("p2p start: %w", err)
	}
	defer node.Stop()
	logrus.WithField("addr", p2pAddr).Info("p2p listening")

	for _, sp := range cfg.SeedPeers {
		if err := node.AddPeer(sp.ID, sp.Addr); err != nil {
			logrus.WithError(err).WithField("peer", sp.ID).Warn("connect to seed peer")
			continue
		}
		if peer := node.Peer(sp.ID); peer != nil {
			if err := syncer.RequestProposals(peer, 0); err != nil {
				logrus.WithError(err).WithField("peer", sp.ID).Warn("request catch-up proposals")
			}
		}
		logrus.WithFields(logrus.Fields{"peer": sp.ID, "addr": sp.Addr}).Info("connected to seed peer")
	}

	rpcAddr := fmt.Sprintf(":%d", cfg.RPCPort)
	rpcHandler := rpc.NewHandler(replica, cfg.Validators)
	rpcServer := rpc.NewServer(rpcAddr, rpcHandler, cfg.RPCAuthToken)
	if err := rpcServer.Start(); err != nil {
		return fmt.Errorf("rpc start: %w", err)
	}
	defer rpcServer.Stop()
	logrus.WithField("addr", rpcAddr).Info("rpc listening")

	done := make(chan struct{})
	go runEpochLoop(cfg, replica, node, walLog, emitter, done)
	logrus.WithField("node_id", cfg.NodeID).Info("replica running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logrus.Info("shutting down")
	close(done)
	return nil
}

// runEpochLoop proposes on this replica's turn, durably logging proposals
// and votes before they are gossiped, per the crash-safety guidance. The
// leader observes its own proposal through the same ObserveProposal path
// every other replica uses, so it casts its own vote instead of relying
// solely on votes cast by peers.
func runEpochLoop(cfg *config.Config, replica *consensus.Replica, node *network.Node, walLog *durability.Log, emitter *events.Emitter, done <-chan struct{}) {
	ticker := time.NewTicker(cfg.EpochInterval)
	defer ticker.Stop()

	emit := func(typ events.EventType, epoch int64, blockHash string) {
		if emitter == nil {
			return
		}
		emitter.Emit(events.Event{Type: typ, Epoch: epoch, BlockHash: blockHash})
	}

	var epoch int64
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			record := &payload.PriceConsensusRecord{
				Symbol:         "AAPL",
				ConsensusPrice: "0",
				VolumeWeighted: "0",
				TotalVolume:    "0",
				PriceCount:     0,
				ObservedAtUnix: time.Now().Unix(),
			}
			data, err := payload.Encode(record)
			if err != nil {
				logrus.WithError(err).Error("encode payload")
				epoch++
				continue
			}

			blk, proposed := replica.Propose(epoch, cfg.Validators, data)
			if proposed {
				if err := walLog.AppendProposal(blk); err != nil {
					logrus.WithError(err).Error("append proposal to wal")
				}
				node.BroadcastProposal(blk)
				emit(events.EventProposed, epoch, string(blk.Hash()))

				if vote, voted := replica.ObserveProposal(blk); voted {
					if err := walLog.AppendVote(vote); err != nil {
						logrus.WithError(err).Error("append vote to wal")
					}
					emit(events.EventVoted, epoch, string(vote.BlockHash))
					node.ObserveLocalVote(vote)
					node.BroadcastVote(vote)
				}
			}
			epoch++
		}
	}
}

// runDemo builds an in-process Harness and steps it through epochs
// synchronously, printing which blocks become finalized.
func runDemo(numReplicas, epochs, f int) error {
	ids := make([]string, numReplicas)
	for i := range ids {
		ids[i] = fmt.Sprintf("node%d", i+1)
	}

	h, err := network.NewHarness(ids, f)
	if err != nil {
		return fmt.Errorf("new harness: %w", err)
	}

	emitter := events.NewEmitter()
	emitter.Subscribe(events.EventNotarized, func(ev events.Event) {
		fmt.Printf("  epoch %d: block %s notarized (%v)\n", ev.Epoch, ev.BlockHash, ev.Data["votes"])
	})
	emitter.Subscribe(events.EventFinalized, func(ev events.Event) {
		fmt.Printf("  epoch %d: block %s finalized\n", ev.Epoch, ev.BlockHash)
	})
	h.SetEmitter(emitter)

	for epoch := int64(0); epoch < int64(epochs); epoch++ {
		record := &payload.PriceConsensusRecord{
			Symbol:         "AAPL",
			ConsensusPrice: "189.42",
			VolumeWeighted: "189.37",
			TotalVolume:    "1204500",
			PriceCount:     7,
			ObservedAtUnix: time.Now().Unix(),
		}
		data, err := payload.Encode(record)
		if err != nil {
			return fmt.Errorf("encode demo payload: %w", err)
		}
		h.StepEpoch(epoch, data)
		finalized := h.FinalizedByAll()
		fmt.Printf("epoch %d: finalized by all replicas = %d block(s)\n", epoch, len(finalized))
	}
	return nil
}
