package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"arxcore.io/internal/audit"
	"arxcore.io/internal/crypto"
	"arxcore.io/internal/store/pg"
)

func main() {
	log.SetFlags(0)
	dsn := flag.String("dsn", os.Getenv("ARXCORE_PG_DSN"), "PostgreSQL DSN")
	flag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or ARXCORE_PG_DSN")
	}
	if len(flag.Args()) == 0 {
		log.Fatal("usage: keyctl [bootstrap|rotate <master|data>|status]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := pg.Open(*dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer store.Close()

	trail := audit.NewTrail(store)
	keys, err := crypto.NewKeyService(store, trail)
	if err != nil {
		log.Fatalf("key service: %v", err)
	}

	switch flag.Arg(0) {
	case "bootstrap":
		if err := keys.Bootstrap(ctx); err != nil {
			log.Fatalf("bootstrap: %v", err)
		}
		fmt.Println("active keys present for all purposes")
	case "rotate":
		purpose := crypto.Purpose(flag.Arg(1))
		if purpose != crypto.PurposeMaster && purpose != crypto.PurposeData {
			log.Fatalf("unknown purpose %q", flag.Arg(1))
		}
		key, err := keys.Rotate(ctx, purpose)
		if err != nil {
			log.Fatalf("rotate %s: %v", purpose, err)
		}
		fmt.Printf("rotated %s: new active key %s (expires %s)\n", purpose, key.ID, key.ExpiresAt.Format(time.RFC3339))
	case "status":
		for _, purpose := range []crypto.Purpose{crypto.PurposeMaster, crypto.PurposeData} {
			key, err := keys.Active(ctx, purpose)
			if err != nil {
				fmt.Printf("%-7s no active key (%v)\n", purpose, err)
				continue
			}
			fmt.Printf("%-7s %s  alg=%s  created=%s  expires=%s\n",
				purpose, key.ID, key.Algorithm,
				key.CreatedAt.Format(time.RFC3339), key.ExpiresAt.Format(time.RFC3339))
		}
	default:
		log.Fatalf("unknown command %q", flag.Arg(0))
	}
}
