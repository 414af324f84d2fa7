// Seed loads a demo rule catalog into a Tally database: a Texas truck
// regime with a conditional sales tax and a fixed doc fee.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dealstack/tally/internal/cache"
	"github.com/dealstack/tally/internal/catalog"
	"github.com/dealstack/tally/internal/domain"
	"github.com/dealstack/tally/internal/repository"
)

func main() {
	dbPath := flag.String("db", "./tally.db", "path to the SQLite database")
	tenantID := flag.String("tenant", "dealer-001", "tenant to seed")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: *dbPath,
	})
	if err != nil {
		slog.Error("failed to open repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()

	c := cache.NewLRUCache(10)
	defer c.Close()

	svc := catalog.New(repo, c)
	ctx := context.Background()

	regime, err := svc.CreateRegime(ctx, *tenantID, "TX-Trucks", "TX")
	if err != nil {
		slog.Error("failed to create regime", "error", err)
		os.Exit(1)
	}

	snap, err := svc.CreateRuleVersion(ctx, *tenantID, regime.ID, catalog.RuleVersionInput{
		EffectiveFrom: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Active:        true,
		Lines: []catalog.LineInput{
			{
				Name:         "Sales Tax",
				CalcType:     domain.CalcPercent,
				Base:         domain.BaseVehicleSubtotal,
				RateOrAmount: decimal.RequireFromString("6.25"),
				Conditions:   domain.ConditionSet{"out_of_state": domain.BoolValue(false)},
			},
			{
				Name:         "Doc Fee",
				CalcType:     domain.CalcFixed,
				RateOrAmount: decimal.RequireFromString("150"),
			},
		},
	})
	if err != nil {
		slog.Error("failed to create rule version", "error", err)
		os.Exit(1)
	}

	slog.Info("catalog seeded",
		"tenant_id", *tenantID,
		"regime_id", regime.ID,
		"rule_id", snap.Rule.ID,
		"version", snap.Rule.Version,
		"lines", len(snap.Lines),
	)
}
