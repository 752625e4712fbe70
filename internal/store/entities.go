package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/thaian1234/sync-service/internal/domain"
)

// Replica entity mutations. All of them run inside the caller's apply
// transaction and key on the upstream natural id (core_*_id), never the
// local surrogate id. UPDATE and DELETE of an absent row are successful
// no-ops: the pipeline does not guarantee CREATE arrives before UPDATE.

func (s *PostgresStore) UpsertCustomer(ctx context.Context, tx pgx.Tx, p domain.CustomerPayload) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO cms_customers (core_customer_id, name, email, phone, synced_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (core_customer_id) DO UPDATE
		SET name = EXCLUDED.name, email = EXCLUDED.email, phone = EXCLUDED.phone, synced_at = NOW()
	`, p.ID, p.Name, p.Email, nullIfEmpty(p.Phone))
	if err != nil {
		return fmt.Errorf("upserting customer %d: %w", p.ID, err)
	}
	return nil
}

func (s *PostgresStore) UpdateCustomer(ctx context.Context, tx pgx.Tx, p domain.CustomerPayload) error {
	_, err := tx.Exec(ctx, `
		UPDATE cms_customers
		SET name = $2, email = $3, phone = $4, synced_at = NOW()
		WHERE core_customer_id = $1
	`, p.ID, p.Name, p.Email, nullIfEmpty(p.Phone))
	if err != nil {
		return fmt.Errorf("updating customer %d: %w", p.ID, err)
	}
	return nil
}

func (s *PostgresStore) DeleteCustomer(ctx context.Context, tx pgx.Tx, coreID int64) error {
	_, err := tx.Exec(ctx, `DELETE FROM cms_customers WHERE core_customer_id = $1`, coreID)
	if err != nil {
		return fmt.Errorf("deleting customer %d: %w", coreID, err)
	}
	return nil
}

func (s *PostgresStore) UpsertProduct(ctx context.Context, tx pgx.Tx, p domain.ProductPayload) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO cms_products (core_product_id, name, description, price, stock, category, status, synced_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (core_product_id) DO UPDATE
		SET name = EXCLUDED.name, description = EXCLUDED.description, price = EXCLUDED.price,
		    stock = EXCLUDED.stock, category = EXCLUDED.category, status = EXCLUDED.status, synced_at = NOW()
	`, p.ID, p.Name, nullIfEmpty(p.Description), p.Price, p.Stock, nullIfEmpty(p.Category), p.Status)
	if err != nil {
		return fmt.Errorf("upserting product %d: %w", p.ID, err)
	}
	return nil
}

func (s *PostgresStore) UpdateProduct(ctx context.Context, tx pgx.Tx, p domain.ProductPayload) error {
	_, err := tx.Exec(ctx, `
		UPDATE cms_products
		SET name = $2, description = $3, price = $4, stock = $5, category = $6, status = $7, synced_at = NOW()
		WHERE core_product_id = $1
	`, p.ID, p.Name, nullIfEmpty(p.Description), p.Price, p.Stock, nullIfEmpty(p.Category), p.Status)
	if err != nil {
		return fmt.Errorf("updating product %d: %w", p.ID, err)
	}
	return nil
}

func (s *PostgresStore) DeleteProduct(ctx context.Context, tx pgx.Tx, coreID int64) error {
	_, err := tx.Exec(ctx, `DELETE FROM cms_products WHERE core_product_id = $1`, coreID)
	if err != nil {
		return fmt.Errorf("deleting product %d: %w", coreID, err)
	}
	return nil
}

func (s *PostgresStore) UpsertOrder(ctx context.Context, tx pgx.Tx, p domain.OrderPayload) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO cms_orders (core_order_id, customer_id, total, status, synced_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (core_order_id) DO UPDATE
		SET customer_id = EXCLUDED.customer_id, total = EXCLUDED.total, status = EXCLUDED.status, synced_at = NOW()
	`, p.ID, p.CustomerID, p.Total, p.Status)
	if err != nil {
		return fmt.Errorf("upserting order %d: %w", p.ID, err)
	}
	return nil
}

func (s *PostgresStore) UpdateOrder(ctx context.Context, tx pgx.Tx, p domain.OrderPayload) error {
	_, err := tx.Exec(ctx, `
		UPDATE cms_orders
		SET customer_id = $2, total = $3, status = $4, synced_at = NOW()
		WHERE core_order_id = $1
	`, p.ID, p.CustomerID, p.Total, p.Status)
	if err != nil {
		return fmt.Errorf("updating order %d: %w", p.ID, err)
	}
	return nil
}

func (s *PostgresStore) DeleteOrder(ctx context.Context, tx pgx.Tx, coreID int64) error {
	_, err := tx.Exec(ctx, `DELETE FROM cms_orders WHERE core_order_id = $1`, coreID)
	if err != nil {
		return fmt.Errorf("deleting order %d: %w", coreID, err)
	}
	return nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
