package main

import (
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prxssh/dhtnode/internal/config"
	"github.com/prxssh/dhtnode/internal/dht"
	"github.com/prxssh/dhtnode/pkg/utils/logging"
)

func main() {
	setupLogger()

	listenAddr := flag.String("listen", ":6881", "UDP address to listen on")
	bootstrap := flag.String("bootstrap", strings.Join(config.DefaultBootstrapNodes, ","), "comma-separated bootstrap node addresses")
	spoof := flag.Bool("spoof-neighbor-id", false, "claim an id biased toward the querier's own id in responses")
	flag.Parse()

	cfg := config.New(
		config.WithListenAddr(*listenAddr),
		config.WithBootstrapNodes(strings.Split(*bootstrap, ",")),
		config.WithNeighborSpoofing(*spoof),
		config.WithLogger(slog.Default()),
	)

	node, err := dht.NewDHT(cfg)
	if err != nil {
		slog.Error("failed to create dht node", "error", err.Error())
		os.Exit(1)
	}

	if err := node.Start(); err != nil {
		slog.Error("failed to start dht node", "error", err.Error())
		os.Exit(1)
	}
	defer node.Stop()

	slog.Info("dht node listening", "addr", node.LocalAddr().String())

	go logPeerEvents(node)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	slog.Info("shutting down")
}

func logPeerEvents(node *dht.DHT) {
	for event := range node.PeerDiscovered() {
		slog.Debug("peer discovered", "info_hash", event.InfoHash, "peer", event.Peer.String())
	}
}

func setupLogger() {
	opts := logging.DefaultOptions()
	opts.SlogOpts.Level = slog.LevelInfo
	opts.SlogOpts.AddSource = false

	h := logging.NewPrettyHandler(os.Stdout, &opts)
	l := slog.New(h)
	slog.SetDefault(l)
}
