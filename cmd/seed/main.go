// Command seed applies the schema and creates demo wallets for local
// development: each demo user starts with 0 BTC, 0 ETH and 1000 USDT.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

var demoUsers = map[string]string{
	"demo@fynor.local":   "00000000-0000-0000-0000-000000000001",
	"trader@fynor.local": "00000000-0000-0000-0000-000000000002",
}

var startingBalances = map[string]string{
	"BTC":  "0",
	"ETH":  "0",
	"USDT": "1000",
}

func main() {
	env := getEnv("FYN_ENV", "dev")
	if env != "dev" && env != "test" {
		log.Fatalf("refusing to seed: FYN_ENV must be 'dev' or 'test' (got %q)", env)
	}

	host := getEnv("POSTGRES_HOST", "localhost")
	port := getEnv("POSTGRES_PORT", "5432")
	db := getEnv("POSTGRES_DB", "fynor_exchange")
	user := getEnv("POSTGRES_USER", "fynor")
	password := getEnv("POSTGRES_PASSWORD", "fynor")
	sslmode := getEnv("POSTGRES_SSLMODE", "disable")

	connStr := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		user, password, host, port, db, sslmode)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		log.Fatalf("connect db: %v", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("ping db: %v", err)
	}

	fmt.Println("Seeding database...")

	if schemaPath := getEnv("FYN_SCHEMA_FILE", ""); schemaPath != "" {
		schema, err := os.ReadFile(schemaPath)
		if err != nil {
			log.Fatalf("read schema: %v", err)
		}
		if _, err := pool.Exec(ctx, string(schema)); err != nil {
			log.Fatalf("apply schema: %v", err)
		}
		fmt.Println("✓ Schema applied")
	}

	if err := seedWallets(ctx, pool); err != nil {
		log.Fatalf("seed wallets: %v", err)
	}
	fmt.Println("✓ Demo wallets seeded")
}

func seedWallets(ctx context.Context, pool *pgxpool.Pool) error {
	for email, rawID := range demoUsers {
		userID, err := uuid.Parse(rawID)
		if err != nil {
			return fmt.Errorf("parse user id for %s: %w", email, err)
		}
		for asset, amount := range startingBalances {
			_, err := pool.Exec(ctx, `
				INSERT INTO wallets (user_id, asset, available, locked)
				VALUES ($1, $2, $3, 0)
				ON CONFLICT (user_id, asset) DO NOTHING
			`, userID, asset, amount)
			if err != nil {
				return fmt.Errorf("seed wallet %s/%s: %w", email, asset, err)
			}
		}
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
