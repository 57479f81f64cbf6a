// cmd/seeder/main.go
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/unclebandit/contactsync-backend/internal/config"
	"github.com/unclebandit/contactsync-backend/internal/db"
)

// Applies the schema, then any SQL files given as arguments (e.g. seed data).
func main() {
	config.LoadEnvFile()
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	conn, err := db.Open(ctx, cfg.DSN())
	if err != nil {
		log.Fatal(err)
	}
	defer conn.Close()

	if err := db.Migrate(ctx, conn); err != nil {
		log.Fatal(err)
	}
	fmt.Println("Schema applied")

	for _, file := range os.Args[1:] {
		content, err := os.ReadFile(file)
		if err != nil {
			log.Fatalf("failed to read %s: %v", file, err)
		}

		if _, err := conn.ExecContext(ctx, string(content)); err != nil {
			log.Fatalf("failed to execute %s: %v", file, err)
		}
		fmt.Printf("Seeded: %s\n", file)
	}

	fmt.Println("Database seeding completed successfully!")
}
