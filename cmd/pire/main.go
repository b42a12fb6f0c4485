package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"

	"github.com/axelb/pire/logging"
	"github.com/axelb/pire/manager"
	"github.com/axelb/pire/metrics"
)

func main() {
	var (
		id         = flag.Uint64("id", 0, "this peer's identifier")
		addr       = flag.String("addr", "127.0.0.1:0", "address to listen on")
		bootstrap  = flag.String("bootstrap", "", "address of a peer to bootstrap from")
		workingDir = flag.String("dir", ".", "directory for torrent metadata and downloaded files")
		quiet      = flag.Bool("quiet", false, "disable the download progress bar")
		withMetrics = flag.Bool("metrics", false, "expose Prometheus metrics on -metrics-addr")
		metricsAddr = flag.String("metrics-addr", "127.0.0.1:9090", "address to expose /metrics on")
	)
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s -id <n> -addr <host:port> [command] [args...]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Commands: seed <file> | download <crc> | find-value <key> | announce <crc> | get-peers <crc> | message <addr> <text>\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(1)
	}

	cfg := manager.DefaultConfig()
	cfg.WorkingDir = *workingDir
	cfg.Quiet = *quiet

	var collector *metrics.Collector
	if *withMetrics {
		collector = metrics.New()
	}

	m := manager.New(uint32(*id), *addr, cfg, logging.Default(), collector)

	if *withMetrics {
		go func() {
			log.Printf("metrics listening on %s", *metricsAddr)
			log.Print(http.ListenAndServe(*metricsAddr, collector.Handler()))
		}()
	}

	if err := m.Seed(); err != nil {
		log.Fatalf("seed: %v", err)
	}
	log.Printf("listening on %s as peer %d", m.Addr(), m.OwnID())

	if *bootstrap != "" {
		if err := m.Bootstrap(*bootstrap); err != nil {
			log.Fatalf("bootstrap: %v", err)
		}
	}

	ctx := context.Background()
	switch args[0] {
	case "seed":
		runSeedCommand(m, args[1:])
	case "download":
		runDownloadCommand(ctx, m, args[1:])
	case "find-value":
		runFindValueCommand(ctx, m, args[1:])
	case "announce":
		runAnnounceCommand(ctx, m, args[1:])
	case "get-peers":
		runGetPeersCommand(ctx, m, args[1:])
	case "message":
		runMessageCommand(m, args[1:])
	default:
		flag.Usage()
		os.Exit(1)
	}

	if err := m.Close(); err != nil {
		log.Printf("close: %v", err)
	}
}

func runSeedCommand(m *manager.Manager, args []string) {
	if len(args) != 1 {
		log.Fatal("usage: seed <file>")
	}
	tf, err := m.ShareFile(args[0])
	if err != nil {
		log.Fatalf("share: %v", err)
	}
	if err := m.Announce(context.Background(), tf.Metadata.FileCRC); err != nil {
		log.Printf("announce: %v", err)
	}
	fmt.Printf("sharing %s as crc=%d, waiting for requests (ctrl-c to stop)\n", args[0], tf.Metadata.FileCRC)
	select {}
}

func runDownloadCommand(ctx context.Context, m *manager.Manager, args []string) {
	if len(args) != 1 {
		log.Fatal("usage: download <crc>")
	}
	crc := parseCRC(args[0])
	tf, err := m.DownloadFile(ctx, crc)
	if err != nil {
		log.Fatalf("download: %v", err)
	}
	fmt.Printf("downloaded %s\n", tf.Metadata.LocalPath)
}

func runFindValueCommand(ctx context.Context, m *manager.Manager, args []string) {
	if len(args) != 1 {
		log.Fatal("usage: find-value <key>")
	}
	key := parseCRC(args[0])
	value, ok, err := m.FindValue(ctx, key)
	if err != nil {
		log.Fatalf("find-value: %v", err)
	}
	if !ok {
		fmt.Println("not found")
		return
	}
	fmt.Println(value)
}

func runAnnounceCommand(ctx context.Context, m *manager.Manager, args []string) {
	if len(args) != 1 {
		log.Fatal("usage: announce <crc>")
	}
	if err := m.Announce(ctx, parseCRC(args[0])); err != nil {
		log.Fatalf("announce: %v", err)
	}
}

func runGetPeersCommand(ctx context.Context, m *manager.Manager, args []string) {
	if len(args) != 1 {
		log.Fatal("usage: get-peers <crc>")
	}
	peers, err := m.GetPeers(ctx, parseCRC(args[0]))
	if err != nil {
		log.Fatalf("get-peers: %v", err)
	}
	for _, p := range peers {
		fmt.Printf("%d\t%s\n", p.ID, p.Addr)
	}
}

func runMessageCommand(m *manager.Manager, args []string) {
	if len(args) != 2 {
		log.Fatal("usage: message <addr> <text>")
	}
	if err := m.Message(args[0], args[1]); err != nil {
		log.Fatalf("message: %v", err)
	}
}

func parseCRC(s string) uint32 {
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		log.Fatalf("invalid crc %q: %v", s, err)
	}
	return uint32(n)
}

