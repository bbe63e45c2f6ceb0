package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ohboy/herosync/internal/config"
	"github.com/ohboy/herosync/internal/document"
	"github.com/ohboy/herosync/internal/localstore"
	"github.com/ohboy/herosync/internal/replication"
	"github.com/ohboy/herosync/internal/view"
	"github.com/ohboy/herosync/pkg/logger"
)

// Demo replicating client: keeps a local Badger store in sync with the
// server, prints the visible projection on every change, and optionally
// applies a local edit before watching.
func main() {
	logger.Init(os.Getenv("LOG_LEVEL"))

	add := flag.String("add", "", "insert a document before watching, format name:color")
	remove := flag.String("remove", "", "tombstone a document by id before watching")
	once := flag.Bool("once", false, "wait for the initial catch-up, print the projection, exit")
	memory := flag.Bool("memory", false, "use an in-memory local store instead of Badger")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}

	var local localstore.Store
	if *memory {
		local = localstore.NewMemory()
	} else {
		b, err := localstore.OpenBadger(cfg.Replication.DataDir)
		if err != nil {
			logger.Fatalf("failed to open local store at %s: %v", cfg.Replication.DataDir, err)
		}
		local = b
	}
	defer local.Close()

	eng := replication.New(replication.Config{
		Endpoint:          cfg.Replication.Endpoint,
		ChangedURL:        cfg.Replication.ChangedURL,
		Token:             os.Getenv("SYNC_TOKEN"),
		BatchSize:         cfg.Replication.BatchSize,
		LiveInterval:      cfg.Replication.LiveInterval,
		Initial:           true,
		ReconnectAttempts: cfg.Replication.ReconnectAttempts,
		InactivityTimeout: cfg.Replication.InactivityTimeout,
		ConnectTimeout:    cfg.Replication.ConnectTimeout,
	}, local)

	ctx := context.Background()
	if err := eng.Start(ctx); err != nil {
		logger.Fatalf("failed to start replication: %v", err)
	}
	defer eng.Stop()

	go func() {
		for err := range eng.Errors() {
			logger.Warnf("replication: %v", err)
		}
	}()

	v := view.New(local)

	if *add != "" {
		name, color := splitSpec(*add)
		doc := document.Document{ID: uuid.NewString(), Name: name, Color: color}
		if err := eng.Upsert(doc); err != nil {
			logger.Fatalf("failed to insert: %v", err)
		}
		logger.Infof("inserted %s (%s)", doc.Name, doc.ID)
	}
	if *remove != "" {
		if err := eng.Remove(*remove); err != nil {
			logger.Fatalf("failed to remove %s: %v", *remove, err)
		}
		logger.Infof("tombstoned %s", *remove)
	}

	waitCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	if err := eng.AwaitInitialReplication(waitCtx); err != nil {
		logger.Warnf("initial catch-up incomplete: %v", err)
	}

	printProjection(v)
	if *once {
		return
	}

	for range v.Watch() {
		printProjection(v)
	}
}

func splitSpec(s string) (name, color string) {
	parts := strings.SplitN(s, ":", 2)
	name = parts[0]
	if len(parts) == 2 {
		color = parts[1]
	}
	return name, color
}

func printProjection(v *view.View) {
	docs := v.Docs()
	fmt.Printf("--- %d documents ---\n", len(docs))
	for _, d := range docs {
		fmt.Printf("%-36s  %-20s %-10s  updated=%d\n", d.ID, d.Name, d.Color, d.UpdatedAt)
	}
}
