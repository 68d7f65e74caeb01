// Meridian chain-core daemon.
//
// Usage:
//
//	meridiand --genesis=genesis.json [--config=node.json] [--network=testnet]
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/meridian-network/meridian-chain/config"
	"github.com/meridian-network/meridian-chain/internal/node"
)

func main() {
	var (
		configPath  = flag.String("config", "", "node config file (JSON, optional)")
		genesisPath = flag.String("genesis", "", "genesis file (JSON, required)")
		networkName = flag.String("network", string(config.Testnet), "network: mainnet or testnet")
		dataDir     = flag.String("datadir", "", "data directory (overrides config)")
	)
	flag.Parse()

	if *genesisPath == "" {
		fmt.Fprintln(os.Stderr, "Error: --genesis is required")
		os.Exit(1)
	}

	gen, err := config.LoadGenesis(*genesisPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath, config.NetworkType(*networkName))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}

	n, err := node.New(cfg, gen, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := n.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		n.Stop()
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	n.Stop()
}
