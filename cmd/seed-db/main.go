// Command seed-db loads the catalog and a few starter coupons into the
// database. It is idempotent: everything is upserted by natural key.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/soukly/souk-commerce/internal/storage/postgres"
)

const (
	upsertProductSQL = `INSERT INTO products (id, name, slug, description, image, categories, active)
		VALUES ($1, $2, $3, $4, $5, $6, TRUE)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name, slug = EXCLUDED.slug, description = EXCLUDED.description,
			image = EXCLUDED.image, categories = EXCLUDED.categories,
			active = TRUE, updated_at = now()`

	upsertVariantSQL = `INSERT INTO product_variants (product_id, variant_key, price, compare_price, stock_count)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (product_id, variant_key) DO UPDATE
		SET price = EXCLUDED.price, compare_price = EXCLUDED.compare_price,
			stock_count = EXCLUDED.stock_count`

	upsertCouponSQL = `INSERT INTO coupons
		(id, code, kind, value, min_order_amount, max_discount, usage_limit_per_user,
		valid_from, valid_until, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now() + interval '1 year', TRUE)
		ON CONFLICT (code) DO UPDATE
		SET kind = EXCLUDED.kind, value = EXCLUDED.value,
			min_order_amount = EXCLUDED.min_order_amount,
			max_discount = EXCLUDED.max_discount,
			usage_limit_per_user = EXCLUDED.usage_limit_per_user, active = TRUE`
)

type productJSON struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Slug        string   `json:"slug"`
	Description string   `json:"description"`
	Image       string   `json:"image"`
	Categories  []string `json:"categories"`
	Variants    []struct {
		Key          string           `json:"key"`
		Price        decimal.Decimal  `json:"price"`
		ComparePrice *decimal.Decimal `json:"comparePrice"`
		StockCount   int              `json:"stockCount"`
	} `json:"variants"`
}

func main() {
	var (
		databaseURL  string
		productsFile string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&productsFile, "products-file", "db/seed/products.json", "path to products JSON file")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, productsFile); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, productsFile string) error {
	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedProducts(ctx, pool, productsFile); err != nil {
		return errors.Wrap(err, "seed products")
	}

	if err := seedCoupons(ctx, pool); err != nil {
		return errors.Wrap(err, "seed coupons")
	}

	return nil
}

func seedProducts(ctx context.Context, pool *pgxpool.Pool, productsFile string) error {
	slog.Info("reading products file", slog.String("path", productsFile))

	data, err := os.ReadFile(productsFile)
	if err != nil {
		return errors.Wrap(err, "read products file")
	}

	var products []productJSON
	if err := json.Unmarshal(data, &products); err != nil {
		return errors.Wrap(err, "parse products JSON")
	}

	slog.Info("upserting products", slog.Int("count", len(products)))

	for _, p := range products {
		_, err := pool.Exec(ctx, upsertProductSQL,
			p.ID, p.Name, p.Slug, p.Description, p.Image, p.Categories,
		)
		if err != nil {
			return errors.Wrapf(err, "upsert product %s", p.ID)
		}

		for _, v := range p.Variants {
			_, err := pool.Exec(ctx, upsertVariantSQL,
				p.ID, v.Key, v.Price, v.ComparePrice, v.StockCount,
			)
			if err != nil {
				return errors.Wrapf(err, "upsert variant %s/%s", p.ID, v.Key)
			}
		}

		slog.Info("upserted product",
			slog.String("id", p.ID),
			slog.String("name", p.Name),
			slog.Int("variants", len(p.Variants)),
		)
	}

	return nil
}

type seedCoupon struct {
	code              string
	kind              string
	value             string
	minOrderAmount    string
	maxDiscount       string
	usageLimitPerUser int
}

func seedCoupons(ctx context.Context, pool *pgxpool.Pool) error {
	slog.Info("seeding starter coupons")

	coupons := []seedCoupon{
		{code: "SAVE20", kind: "percentage", value: "20", maxDiscount: "50"},
		{code: "WELCOME50", kind: "fixed", value: "50", minOrderAmount: "200", usageLimitPerUser: 1},
		{code: "SHIPFREE", kind: "free_shipping", value: "0", minOrderAmount: "300"},
	}

	for _, c := range coupons {
		value, err := decimal.NewFromString(c.value)
		if err != nil {
			return errors.Wrapf(err, "parse value for coupon %s", c.code)
		}

		var perUser *int
		if c.usageLimitPerUser > 0 {
			perUser = &c.usageLimitPerUser
		}

		_, err = pool.Exec(ctx, upsertCouponSQL,
			uuid.New().String(), c.code, c.kind, value,
			optionalDecimal(c.minOrderAmount), optionalDecimal(c.maxDiscount), perUser,
		)
		if err != nil {
			return errors.Wrapf(err, "upsert coupon %s", c.code)
		}

		slog.Info("upserted coupon", slog.String("code", c.code), slog.String("kind", c.kind))
	}

	return nil
}

func optionalDecimal(s string) *decimal.Decimal {
	if s == "" {
		return nil
	}
	d := decimal.RequireFromString(s)
	return &d
}
