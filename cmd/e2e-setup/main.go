package main

import (
	"context"
	"flag"
	"log"

	"github.com/Xybronix/ecomobile/internal/config"
	"github.com/Xybronix/ecomobile/internal/infra/db/postgres"
	"github.com/Xybronix/ecomobile/internal/infra/redis"
)

// This script sets up a clean, predictable database state for manual
// end-to-end testing: schema, wiped tables, wiped cache.
func main() {
	ctx := context.Background()

	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, true)
	if err != nil {
		log.Fatalf("config load: %v", err)
	}

	pool, err := postgres.NewPgxPool(ctx, cfg.Database.URL, 5)
	if err != nil {
		log.Fatalf("postgres connection failed: %v", err)
	}
	defer pool.Close()

	redisClient, err := redis.NewClient(ctx, &cfg.Redis)
	if err != nil {
		log.Fatalf("redis connection failed: %v", err)
	}
	defer redisClient.Close()

	log.Println("--- Starting E2E Environment Setup ---")

	log.Println("[1/3] Ensuring schema...")
	if _, err := pool.Exec(ctx, schema); err != nil {
		log.Fatalf("failed to apply schema: %v", err)
	}

	log.Println("[2/3] Wiping existing data...")
	if _, err := pool.Exec(ctx, `
		TRUNCATE entitlement_rules, rule_beneficiaries, riders, activity_log
		RESTART IDENTITY CASCADE;
	`); err != nil {
		log.Fatalf("failed to truncate tables: %v", err)
	}

	log.Println("[3/3] Wiping Redis cache...")
	if err := redisClient.FlushDB(ctx); err != nil {
		log.Fatalf("failed to flush redis: %v", err)
	}

	log.Println("--- E2E Environment Setup Complete ---")
}

const schema = `
CREATE TABLE IF NOT EXISTS entitlement_rules (
	id                             UUID PRIMARY KEY,
	name                           TEXT NOT NULL,
	description                    TEXT NOT NULL DEFAULT '',
	number_of_days                 INT  NOT NULL CHECK (number_of_days >= 1),
	target                         TEXT NOT NULL,
	target_days_since_registration INT  NOT NULL DEFAULT 0,
	target_min_spend_irr           BIGINT NOT NULL DEFAULT 0,
	start_hour                     INT,
	end_hour                       INT,
	valid_from                     TIMESTAMPTZ,
	valid_until                    TIMESTAMPTZ,
	max_beneficiaries              INT,
	current_beneficiaries          INT NOT NULL DEFAULT 0,
	is_active                      BOOLEAN NOT NULL DEFAULT TRUE,
	created_at                     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at                     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS riders (
	id              UUID PRIMARY KEY,
	full_name       TEXT NOT NULL,
	phone           TEXT NOT NULL UNIQUE,
	registered_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	total_spend_irr BIGINT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS rule_beneficiaries (
	id             UUID PRIMARY KEY,
	rule_id        UUID NOT NULL REFERENCES entitlement_rules(id) ON DELETE CASCADE,
	user_id        UUID NOT NULL,
	days_granted   INT NOT NULL,
	days_remaining INT NOT NULL CHECK (days_remaining >= 0),
	start_at       TIMESTAMPTZ,
	expires_at     TIMESTAMPTZ,
	status         TEXT NOT NULL DEFAULT 'pending',
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (rule_id, user_id)
);
CREATE INDEX IF NOT EXISTS idx_rule_beneficiaries_user
	ON rule_beneficiaries (user_id, status);

CREATE TABLE IF NOT EXISTS activity_log (
	id         UUID PRIMARY KEY,
	actor      TEXT NOT NULL,
	action     TEXT NOT NULL,
	subject    TEXT NOT NULL,
	detail     TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`
