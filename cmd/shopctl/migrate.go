package main

import (
	"fmt"
	"strconv"
	"strings"

	"shop-service/config"
	"shop-service/internal/store"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

func migrateCmd() *cobra.Command {
	var seeds []string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create the database schema",
		Long: `Create products, orders, payments and edit_log if they do not exist.

Examples:
  shopctl migrate
  shopctl migrate --seed "Ceramic mug:125.00:20" --seed "Notebook:80:50"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			products, err := parseSeeds(seeds)
			if err != nil {
				return err
			}

			cfg := config.Load()
			db, err := store.NewStore(cfg.Database.URL)
			if err != nil {
				return err
			}
			defer db.Close()

			ctx := cmd.Context()
			if err := db.Migrate(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Schema is up to date")

			for _, p := range products {
				id, err := db.SeedProduct(ctx, p.name, p.price.StringFixed(2), p.stock)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Seeded product %d: %s (%s, stock %d)\n",
					id, p.name, p.price.StringFixed(2), p.stock)
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&seeds, "seed", nil, "product to insert as name:price:stock (repeatable)")

	return cmd
}

type seedProduct struct {
	name  string
	price decimal.Decimal
	stock int
}

// parseSeeds reads name:price:stock triples; the name may itself contain colons
func parseSeeds(raw []string) ([]seedProduct, error) {
	out := make([]seedProduct, 0, len(raw))
	for _, s := range raw {
		parts := strings.Split(s, ":")
		if len(parts) < 3 {
			return nil, fmt.Errorf("seed %q: want name:price:stock", s)
		}
		n := len(parts)
		name := strings.TrimSpace(strings.Join(parts[:n-2], ":"))

		price, err := decimal.NewFromString(parts[n-2])
		if err != nil || price.IsNegative() {
			return nil, fmt.Errorf("seed %q: bad price", s)
		}
		stock, err := strconv.Atoi(parts[n-1])
		if err != nil || stock < 0 {
			return nil, fmt.Errorf("seed %q: bad stock", s)
		}
		if name == "" {
			return nil, fmt.Errorf("seed %q: empty name", s)
		}
		out = append(out, seedProduct{name: name, price: price, stock: stock})
	}
	return out, nil
}
