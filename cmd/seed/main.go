package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/Xybronix/ecomobile/internal/config"
	"github.com/Xybronix/ecomobile/internal/domain/model"
	pg "github.com/Xybronix/ecomobile/internal/infra/db/postgres"
	"github.com/Xybronix/ecomobile/internal/infra/logging"
	"github.com/Xybronix/ecomobile/internal/usecase"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, true)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := logging.New(cfg.Log, true)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, 4)
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}
	defer pool.Close()

	ruleRepo := pg.NewRuleRepo(pool)
	benRepo := pg.NewBeneficiaryRepo(pool)
	txm := pg.NewTxManager(pool)
	ruleUC := usecase.NewRuleUseCase(ruleRepo, benRepo, txm, nil, logger)

	// If rules already exist, do nothing
	rules, err := ruleUC.List(ctx, true)
	if err != nil {
		log.Fatalf("list rules: %v", err)
	}
	if len(rules) > 0 {
		fmt.Printf("%d rules already present. No changes.\n", len(rules))
		for _, r := range rules {
			fmt.Printf("  - %s (days=%d, target=%s)\n", r.Name, r.NumberOfDays, r.Target)
		}
		return
	}

	eight, twenty := 8, 20
	hundred := 100
	seed := []usecase.CreateRuleInput{
		{
			Name:         "Welcome Week",
			Description:  "Three free riding days for every fresh signup",
			NumberOfDays: 3,
			Target:       model.TargetNewUsers,
		},
		{
			Name:                        "Loyal Rider",
			Description:                 "Two daytime free days after ninety days on the platform",
			NumberOfDays:                2,
			Target:                      model.TargetExistingByDays,
			TargetDaysSinceRegistration: 90,
			StartHour:                   &eight,
			EndHour:                     &twenty,
		},
		{
			Name:              "Big Spender",
			Description:       "One free day for riders past five million IRR, first hundred only",
			NumberOfDays:      1,
			Target:            model.TargetExistingBySpend,
			TargetMinSpendIRR: 5_000_000,
			MaxBeneficiaries:  &hundred,
		},
	}

	for _, in := range seed {
		r, err := ruleUC.Create(ctx, "seed", in)
		if err != nil {
			log.Fatalf("create rule %q: %v", in.Name, err)
		}
		fmt.Printf("created rule %s (%s)\n", r.Name, r.ID)
	}

	// A couple of riders so the sweeps have someone to find.
	riders := []struct {
		name  string
		phone string
		age   int
		spend int64
	}{
		{"Sara Tehrani", "+989121000001", 120, 6_500_000},
		{"Omid Karimi", "+989121000002", 40, 900_000},
		{"Niloofar Arab", "+989121000003", 200, 4_000_000},
	}
	for _, r := range riders {
		_, err := pool.Exec(ctx, `
INSERT INTO riders (id, full_name, phone, registered_at, total_spend_irr)
VALUES ($1,$2,$3,$4,$5) ON CONFLICT (phone) DO NOTHING;`,
			uuid.NewString(), r.name, r.phone, time.Now().AddDate(0, 0, -r.age), r.spend)
		if err != nil {
			log.Fatalf("seed rider %s: %v", r.name, err)
		}
		fmt.Printf("seeded rider %s\n", r.name)
	}
}
