package main

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"log"
	"os"
	"sort"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"github.com/ignite/sequence-engine/migrations"
)

func main() {
	_ = godotenv.Load()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL is required")
	}

	listOnly := false
	var dir string
	for _, a := range os.Args[1:] {
		if a == "--list" {
			listOnly = true
		} else {
			dir = a
		}
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("ping: %v", err)
	}
	log.Println("Connected to database")

	if listOnly {
		applied, err := migrations.Applied(ctx, db)
		if err != nil {
			log.Fatal(err)
		}
		names := make([]string, 0, len(applied))
		for name := range applied {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Println(" ", name)
		}
		fmt.Printf("Total: %d applied\n", len(names))
		return
	}

	var source fs.FS = migrations.FS
	if dir != "" {
		source = os.DirFS(dir)
	}
	done, err := migrations.Apply(ctx, db, source)
	for _, name := range done {
		fmt.Printf("  %s ... OK\n", name)
	}
	if err != nil {
		log.Fatalf("migrate: %v", err)
	}
	log.Printf("Done: %d applied", len(done))
}
