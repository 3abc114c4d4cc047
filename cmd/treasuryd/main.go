package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/KEI-finance/treasury-contracts/internal/composition/daemonserver"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	rpcAddr := flag.String("rpc-addr", "", "JSON-RPC listen address (default 127.0.0.1:8720)")
	configPath := flag.String("config", "", "Path to treasuryd.yaml (optional)")
	dataDir := flag.String("data-dir", "", "Directory for daemon local data (optional)")
	rpcToken := flag.String("rpc-token", "", "RPC token for Authorization/X-KEI-RPC-Token (optional)")
	chainBackend := flag.String("chain-backend", "", "Chain backend override: eth | memory")
	flag.Parse()
	if *showVersion {
		fmt.Printf("treasuryd version=%s commit=%s build_date=%s\n", version, commit, buildDate)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if *rpcToken != "" {
		_ = os.Setenv("KEI_RPC_TOKEN", *rpcToken)
	}
	if *chainBackend != "" {
		_ = os.Setenv("KEI_CHAIN_BACKEND", *chainBackend)
	}

	log.Println("treasuryd starting")
	if err := daemonserver.Run(ctx, *rpcAddr, *configPath, *dataDir, version); err != nil {
		log.Fatalf("treasuryd failed: %v", err)
	}
	log.Println("treasuryd stopped")
}
