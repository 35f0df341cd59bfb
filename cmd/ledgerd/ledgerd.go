package main

import (
	"context"
	"flag"
	"log"
	"net"
	"net/http"

	"github.com/bitmark-inc/logger"

	ledger "github.com/PhoenixWild29/secureai-ledger"
	"github.com/PhoenixWild29/secureai-ledger/store"
)

func main() {
	ctx := context.Background()

	var (
		configFile = flag.String("config", "", "path to YAML config file")
		addr       = flag.String("addr", "", "server listen address")
		backend    = flag.String("backend", "", "storage backend: sqlite3, leveldb, or mem")
		dbPath     = flag.String("db", "", "path to db")
		interval   = flag.Duration("interval", 0, "interval between slots")
		depth      = flag.Uint64("depth", 0, "slots before a transaction is finalized")
		polSpec    = flag.String("policy", "", "overwrite policy: open, creator, or expr:<program>")
		identity   = flag.String("identity", "", "path to validator identity keypair")
		console    = flag.Bool("console", false, "log to stderr as well as the log file")
	)
	flag.Parse()

	cfg := ledger.DefaultConfig()
	if *configFile != "" {
		var err error
		cfg, err = ledger.LoadConfig(*configFile)
		if err != nil {
			log.Fatal(err)
		}
	}

	// Flags win over the config file.
	if *addr != "" {
		cfg.Listen = *addr
	}
	if *backend != "" {
		cfg.DBBackend = *backend
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	if *interval != 0 {
		cfg.SlotInterval = ledger.Duration(*interval)
	}
	if *depth != 0 {
		cfg.FinalityDepth = *depth
	}
	if *polSpec != "" {
		cfg.Policy = *polSpec
	}
	if *identity != "" {
		cfg.IdentityPath = *identity
	}
	if *console {
		cfg.Logging.Console = true
	}

	err := cfg.InitLogging()
	if err != nil {
		log.Fatalf("error initialising logging: %s", err)
	}
	defer logger.Finalise()

	s, err := store.Open(ctx, cfg.DBBackend, cfg.DBPath)
	if err != nil {
		log.Fatalf("error opening %s db at %s: %s", cfg.DBBackend, cfg.DBPath, err)
	}
	defer s.Close()

	v, err := ledger.GetValidator(ctx, s, cfg)
	if err != nil {
		log.Fatal(err)
	}

	go v.RunFinality(ctx)
	if *configFile != "" {
		go ledger.WatchConfig(ctx, *configFile, v)
	}

	listener, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		log.Fatal(err)
	}

	log.Printf("listening on %s, validator %s, program %s", listener.Addr(), v.Identity.Address(), v.ProgramID())

	err = http.Serve(listener, v.Mux())
	if err != nil {
		log.Fatal(err)
	}
}
