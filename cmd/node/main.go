// Command node starts a loopcore block-management node: one BlockManager
// per configured channel, sharing a single P2P Node and JSON-RPC server.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/tolelom/loopcore/authority"
	"github.com/tolelom/loopcore/chain"
	"github.com/tolelom/loopcore/config"
	"github.com/tolelom/loopcore/consensus"
	"github.com/tolelom/loopcore/core"
	"github.com/tolelom/loopcore/crypto/certgen"
	"github.com/tolelom/loopcore/executor"
	"github.com/tolelom/loopcore/executor/coupon"
	"github.com/tolelom/loopcore/manager"
	"github.com/tolelom/loopcore/network"
	"github.com/tolelom/loopcore/rpc"
	"github.com/tolelom/loopcore/store"
)

func main() {
	cfgPath := flag.String("config", "config.json", "path to config file")
	keyPath := flag.String("key", "node.key", "path to keystore file")
	genKey := flag.Bool("genkey", false, "generate a new node key and exit")
	genCerts := flag.String("gencerts", "", "generate CA + node TLS certs into the given directory and exit")
	flag.Parse()

	password := os.Getenv("LOOPCORE_PASSWORD")
	if password == "" {
		log.Println("WARNING: LOOPCORE_PASSWORD not set — keystore will use an empty password")
	}

	if *genKey {
		a, err := authority.Generate()
		if err != nil {
			log.Fatal(err)
		}
		if err := authority.SaveKey(*keyPath, password, a.PrivateKey()); err != nil {
			log.Fatal(err)
		}
		fmt.Printf("Generated key. Public key: %s\n", a.PublicKey().Hex())
		fmt.Printf("Saved to: %s\n", *keyPath)
		return
	}

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	if *genCerts != "" {
		if err := certgen.GenerateAll(*genCerts, cfg.NodeID, nil); err != nil {
			log.Fatalf("gencerts: %v", err)
		}
		fmt.Printf("Certificates generated in %s for node %q\n", *genCerts, cfg.NodeID)
		return
	}

	priv, err := authority.LoadKey(*keyPath, password)
	if err != nil {
		log.Fatalf("load key: %v", err)
	}
	auth := authority.New(priv)

	tlsCfg, err := config.LoadTLSConfig(cfg.TLS)
	if err != nil {
		log.Fatalf("tls: %v", err)
	}
	if tlsCfg != nil {
		log.Println("mTLS enabled for P2P")
	}

	p2pAddr := fmt.Sprintf(":%d", cfg.P2PPort)
	node := network.NewNode(cfg.NodeID, p2pAddr, tlsCfg)
	if err := node.Start(); err != nil {
		log.Fatalf("p2p start: %v", err)
	}
	defer node.Stop()
	log.Printf("P2P listening on %s", p2pAddr)

	for _, sp := range cfg.SeedPeers {
		if err := node.AddPeer(sp.ID, sp.Addr); err != nil {
			log.Printf("seed peer %s (%s): %v", sp.ID, sp.Addr, err)
			continue
		}
		log.Printf("Connected to seed peer %s (%s)", sp.ID, sp.Addr)
	}

	// ---- coupon score, shared across channels ----
	registry := executor.NewRegistry()
	coupon.NewStore().Register(registry)
	exec := executor.New(registry)

	var peerID string
	managers := make(map[string]rpc.Manager)
	blockManagers := make(map[string]*manager.BlockManager)

	for _, channelName := range cfg.Channels {
		bm, id, err := startChannel(cfg, channelName, auth, exec, node)
		if err != nil {
			log.Fatalf("channel %s: %v", channelName, err)
		}
		if channelName == cfg.LoopchainDefaultChannel {
			peerID = id
		}
		managers[channelName] = bm
		blockManagers[channelName] = bm
	}

	rpcAddr := fmt.Sprintf(":%d", cfg.RPCPort)
	rpcHandler := rpc.NewHandler(managers, peerID)
	rpcServer := rpc.NewServer(rpcAddr, rpcHandler, cfg.RPCAuthToken)
	if err := rpcServer.Start(); err != nil {
		log.Fatalf("rpc start: %v", err)
	}
	defer rpcServer.Stop()
	log.Printf("RPC listening on %s", rpcAddr)

	statusStopCh := make(chan struct{})
	var wg sync.WaitGroup
	for name, bm := range blockManagers {
		bm.SetPeerType(initialRole(cfg))
		wg.Add(1)
		go func(name string, bm *manager.BlockManager) {
			defer wg.Done()
			if err := bm.Run(); err != nil {
				log.Printf("[node] channel %s driver loop exited: %v", name, err)
			}
		}(name, bm)

		wg.Add(1)
		go func(bm *manager.BlockManager) {
			defer wg.Done()
			statusTicker(bm, statusStopCh)
		}(bm)
	}
	log.Printf("Node running (peer_id: %s)", peerID)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Println("Shutting down...")

	close(statusStopCh)
	for _, bm := range blockManagers {
		bm.Stop()
	}
	wg.Wait()
	log.Println("Shutdown complete.")
}

// statusTicker calls bm.BroadcastStatus on a slow interval until stopCh is
// closed, giving peers a liveness signal independent of block traffic.
const statusBroadcastInterval = 30 * time.Second

func statusTicker(bm *manager.BlockManager, stopCh <-chan struct{}) {
	ticker := time.NewTicker(statusBroadcastInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			bm.BroadcastStatus()
		}
	}
}

// initialRole decides the node's starting role. Role assignment beyond
// the bootstrap case (consensus-driven rotation, multi-leader elections)
// is out of this node's scope; a freshly started node with no seed peers
// configured assumes it is the channel's leader.
func initialRole(cfg *config.Config) core.Role {
	if len(cfg.SeedPeers) == 0 {
		return core.RoleLeader
	}
	return core.RolePeer
}

func startChannel(cfg *config.Config, channelName string, auth *authority.Authority, exec *executor.Executor, node *network.Node) (*manager.BlockManager, string, error) {
	dataDir := filepath.Join(cfg.DefaultStoragePath, channelName)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, "", fmt.Errorf("mkdir %s: %w", dataDir, err)
	}

	cs, err := store.OpenChainStore(dataDir, cfg.MaxRetryCreateDB)
	if err != nil {
		return nil, "", fmt.Errorf("open chain store: %w", err)
	}

	peerID, err := cs.MakePeerID(channelName, cfg.LoopchainDefaultChannel)
	if err != nil {
		return nil, "", fmt.Errorf("make peer id: %w", err)
	}

	bc := chain.New(cs)
	if _, err := bc.Rebuild(); err != nil {
		return nil, "", fmt.Errorf("rebuild chain: %w", err)
	}

	if bc.Tip() == nil && channelName == cfg.LoopchainDefaultChannel {
		genesisBlock := config.CreateGenesisBlock(auth.Sign)
		if err := bc.AddBlock(genesisBlock, nil); err != nil {
			return nil, "", fmt.Errorf("add genesis: %w", err)
		}
		log.Printf("[node] %s: genesis block committed: %s", channelName, genesisBlock.BlockHash)
	}

	strategy, err := consensus.New(cfg.ConsensusAlgorithm)
	if err != nil {
		return nil, "", err
	}

	broadcaster := network.NewChannelBroadcaster(node, channelName)
	syncer := network.NewSyncer(node, channelName, bc, exec)

	mgrCfg := manager.Config{
		ChannelName:               channelName,
		SleepSecondsInServiceLoop: cfg.SleepSecondsInServiceLoop,
		TimeoutForPeerVote:        secondsToDuration(cfg.TimeoutForPeerVoteSeconds),
		MaxTxPerBlock:             cfg.MaxBlockTxs,
	}
	bm := manager.New(mgrCfg, bc, strategy, broadcaster, node, auth, exec, syncer)
	network.Wire(node, channelName, bm)

	return bm, peerID, nil
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Printf("Config file not found at %s, using defaults.", path)
			return config.DefaultConfig(), nil
		}
		return nil, err
	}
	return cfg, nil
}
