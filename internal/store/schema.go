package store

import (
	"context"
	"fmt"
)

const schema = `
CREATE TABLE IF NOT EXISTS products (
	id         BIGSERIAL PRIMARY KEY,
	name       TEXT NOT NULL,
	price      NUMERIC(10, 2) NOT NULL CHECK (price >= 0),
	stock      INTEGER NOT NULL DEFAULT 0 CHECK (stock >= 0),
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS orders (
	id             BIGSERIAL PRIMARY KEY,
	user_id        BIGINT NOT NULL,
	product_id     BIGINT NOT NULL REFERENCES products (id),
	quantity       INTEGER NOT NULL CHECK (quantity > 0),
	total_price    NUMERIC(10, 2) NOT NULL,
	phone          TEXT,
	email          TEXT,
	status         TEXT NOT NULL DEFAULT 'pending'
	               CHECK (status IN ('pending', 'confirmed', 'shipped', 'delivered', 'cancelled')),
	payment_status TEXT NOT NULL DEFAULT 'unpaid'
	               CHECK (payment_status IN ('unpaid', 'paid', 'failed')),
	payment_method TEXT,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_orders_user_id ON orders (user_id);

CREATE TABLE IF NOT EXISTS payments (
	id                  BIGSERIAL PRIMARY KEY,
	order_id            BIGINT NOT NULL UNIQUE REFERENCES orders (id),
	user_id             BIGINT,
	amount              NUMERIC(10, 2) NOT NULL,
	currency            TEXT NOT NULL,
	payment_method      TEXT NOT NULL,
	status              TEXT NOT NULL
	                    CHECK (status IN ('pending', 'processing', 'completed', 'failed', 'cancelled')),
	external_payment_id TEXT,
	error_message       TEXT,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS edit_log (
	id           BIGSERIAL PRIMARY KEY,
	subject_id   BIGINT NOT NULL,
	subject_kind TEXT NOT NULL CHECK (subject_kind IN ('order', 'product')),
	operator_id  TEXT NOT NULL,
	field_name   TEXT NOT NULL,
	old_value    TEXT NOT NULL,
	new_value    TEXT NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_edit_log_subject ON edit_log (subject_kind, subject_id);
`

// Migrate creates the tables the service needs if they do not exist
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// SeedProduct inserts a product and returns its ID
func (s *Store) SeedProduct(ctx context.Context, name, price string, stock int) (int64, error) {
	var id int64
	err := s.db.GetContext(ctx, &id,
		"INSERT INTO products (name, price, stock) VALUES ($1, $2, $3) RETURNING id",
		name, price, stock)
	if err != nil {
		return 0, fmt.Errorf("failed to seed product: %w", err)
	}
	return id, nil
}
