package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	gcs "cloud.google.com/go/storage"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/storefront/checkout/internal/domain"
	"github.com/storefront/checkout/internal/platform/storage"
	"github.com/storefront/checkout/internal/repositories"
)

type seedFile struct {
	Products []seedProduct `yaml:"products"`
}

type seedProduct struct {
	ID           string `yaml:"id"`
	Name         string `yaml:"name"`
	Image        string `yaml:"image"`
	PriceCents   int64  `yaml:"price_cents"`
	CountInStock int    `yaml:"count_in_stock"`
}

func newSeedProductsCmd(flags *rootFlags) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "seed-products <path|gs://bucket/object>",
		Short: "Upsert catalog products from a YAML file",
		Long: `Reads a YAML document of the form

  products:
    - id: prod-1
      name: Mechanical keyboard
      price_cents: 4000
      count_in_stock: 12

and upserts every product into the configured order store.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			data, err := readSeed(ctx, args[0])
			if err != nil {
				return err
			}
			products, err := parseSeed(data)
			if err != nil {
				return err
			}
			if dryRun {
				fmt.Fprintf(cmd.OutOrStdout(), "%d products valid; nothing written\n", len(products))
				return nil
			}

			rt, err := openRuntime(ctx, flags, false)
			if err != nil {
				return err
			}
			defer rt.Close()

			written, err := upsertProducts(ctx, rt.registry.Products(), products)
			if err != nil {
				rt.logger.Error("seed aborted", zap.Int("written", written), zap.Error(err))
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "upserted %d products\n", written)
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "validate the file without writing")
	return cmd
}

func readSeed(ctx context.Context, location string) ([]byte, error) {
	var client *gcs.Client
	if _, remote, err := storage.ParseLocation(location); err != nil {
		return nil, err
	} else if remote {
		client, err = gcs.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("storage.NewClient: %w", err)
		}
		defer client.Close()
	}
	return storage.NewReader(client).ReadAll(ctx, location)
}

// parseSeed decodes and validates a seed document. Unknown keys are rejected so typos surface early.
func parseSeed(data []byte) ([]domain.Product, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var file seedFile
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("decode seed: %w", err)
	}
	if len(file.Products) == 0 {
		return nil, errors.New("seed contains no products")
	}

	seen := make(map[string]struct{}, len(file.Products))
	products := make([]domain.Product, 0, len(file.Products))
	for i, p := range file.Products {
		id := strings.TrimSpace(p.ID)
		switch {
		case id == "":
			return nil, fmt.Errorf("product %d: id is required", i)
		case strings.TrimSpace(p.Name) == "":
			return nil, fmt.Errorf("product %s: name is required", id)
		case p.PriceCents < 0 || p.PriceCents > domain.MaxAmountCents:
			return nil, fmt.Errorf("product %s: price_cents %d out of range", id, p.PriceCents)
		case p.CountInStock < 0:
			return nil, fmt.Errorf("product %s: count_in_stock must not be negative", id)
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("product %s: duplicate id", id)
		}
		seen[id] = struct{}{}
		products = append(products, domain.Product{
			ID:           id,
			Name:         strings.TrimSpace(p.Name),
			Image:        strings.TrimSpace(p.Image),
			PriceCents:   p.PriceCents,
			CountInStock: p.CountInStock,
		})
	}
	return products, nil
}

func upsertProducts(ctx context.Context, repo repositories.ProductRepository, products []domain.Product) (int, error) {
	for i, p := range products {
		if err := repo.Upsert(ctx, p); err != nil {
			return i, fmt.Errorf("upsert %s: %w", p.ID, err)
		}
	}
	return len(products), nil
}
