package postgres

import "context"

// Schema for the order engine. Catalog rows (products) are owned by the
// surrounding shop; they are created here only so a fresh database is
// usable, never written by the engine outside of seeding.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS products (
		id    TEXT PRIMARY KEY,
		name  TEXT NOT NULL DEFAULT '',
		price NUMERIC(20,2) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS stock (
		product_id         TEXT PRIMARY KEY REFERENCES products(id),
		available_quantity BIGINT NOT NULL CHECK (available_quantity >= 0)
	)`,
	`CREATE TABLE IF NOT EXISTS deliveries (
		id            UUID PRIMARY KEY,
		address       TEXT NOT NULL,
		phone         TEXT NOT NULL,
		delivery_type TEXT NOT NULL DEFAULT '',
		created_at    TIMESTAMPTZ NOT NULL,
		updated_at    TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id          UUID PRIMARY KEY,
		user_id     TEXT,
		delivery_id UUID NOT NULL REFERENCES deliveries(id),
		status      TEXT NOT NULL,
		paid        BOOLEAN NOT NULL DEFAULT FALSE,
		total_cost  NUMERIC(40,2) NOT NULL DEFAULT 0,
		created_at  TIMESTAMPTZ NOT NULL,
		updated_at  TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS order_line_items (
		order_id   UUID NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
		product_id TEXT NOT NULL REFERENCES products(id),
		quantity   BIGINT NOT NULL CHECK (quantity > 0),
		unit_price NUMERIC(20,2) NOT NULL,
		cost       NUMERIC(40,2) NOT NULL,
		UNIQUE (order_id, product_id)
	)`,
	`CREATE TABLE IF NOT EXISTS outbox (
		id          BIGSERIAL PRIMARY KEY,
		aggregate_type TEXT NOT NULL,
		aggregate_id   TEXT NOT NULL,
		type        TEXT NOT NULL,
		payload     JSONB NOT NULL,
		traceparent TEXT NOT NULL DEFAULT '',
		status      TEXT NOT NULL DEFAULT 'pending',
		relay_id    TEXT,
		lease_until TIMESTAMPTZ,
		retry_count INT NOT NULL DEFAULT 0,
		last_error  TEXT,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS outbox_pending_idx ON outbox (id) WHERE status = 'pending'`,
}

// Migrate creates the engine's tables when they do not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// SeedProduct upserts one catalog product with its stock row. Meant for
// local runs and tests; the real catalog is an external collaborator.
func (s *Store) SeedProduct(ctx context.Context, id, name, price string, stock int64) error {
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO products (id, name, price) VALUES ($1,$2,$3)
		 ON CONFLICT (id) DO UPDATE SET name=$2, price=$3`,
		id, name, price); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO stock (product_id, available_quantity) VALUES ($1,$2)
		 ON CONFLICT (product_id) DO UPDATE SET available_quantity=$2`,
		id, stock)
	return err
}
