package order

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/techTenzen/Cricket/internal/domain"
	"github.com/techTenzen/Cricket/internal/outbox"
)

const (
	uniqueViolation          = "23505"
	idempotencyKeyConstraint = "orders_user_idempotency_key"
	ordersMigrationsTable    = "orders_schema_migrations"
	orderColumns             = `id, user_id, idempotency_key, items, shipping_address, payment_method, total_amount::text, status, created_at, updated_at, delivered_at`
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// RunMigrations applies the order schema. golang-migrate needs a
// database/sql handle, so it runs over lib/pq rather than the pgx pool.
func RunMigrations(dsn string) error {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("could not open migrations: %w", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{
		MigrationsTable: ordersMigrationsTable,
	})
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", err)
	}
	return nil
}

type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(ctx context.Context, dsn string) (*PostgresRepository, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &PostgresRepository{pool: pool}, nil
}

func (r *PostgresRepository) Close() {
	r.pool.Close()
}

func (r *PostgresRepository) CreateOrder(ctx context.Context, o *domain.Order) error {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("marshal order items: %w", err)
	}
	address, err := json.Marshal(o.ShippingAddress)
	if err != nil {
		return fmt.Errorf("marshal shipping address: %w", err)
	}
	event, err := newEvent(EventOrderCreated, o, "")
	if err != nil {
		return err
	}

	return r.inTx(ctx, "create order", func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO orders (id, user_id, idempotency_key, items, shipping_address, payment_method,
			                    total_amount, status, created_at, updated_at, delivered_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7::text::numeric, $8, $9, $10, $11)`,
			o.ID, o.UserID, o.IdempotencyKey, items, address, string(o.PaymentMethod),
			o.TotalAmount.String(), string(o.Status), o.CreatedAt, o.UpdatedAt, o.DeliveredAt)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == idempotencyKeyConstraint {
				return ErrDuplicateCheckout
			}
			return domain.Unavailable("insert order", err)
		}
		return insertEvent(ctx, tx, event)
	})
}

func (r *PostgresRepository) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	o, err := scanOrder(r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrOrderNotFound, id)
	}
	if err != nil {
		return nil, domain.Unavailable("get order", err)
	}
	return o, nil
}

func (r *PostgresRepository) FindByIdempotencyKey(ctx context.Context, userID, key string) (*domain.Order, error) {
	o, err := scanOrder(r.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE user_id = $1 AND idempotency_key = $2`, userID, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: key %s", domain.ErrOrderNotFound, key)
	}
	if err != nil {
		return nil, domain.Unavailable("find order by idempotency key", err)
	}
	return o, nil
}

func (r *PostgresRepository) ListOrdersByUserID(ctx context.Context, userID string) ([]*domain.Order, error) {
	return r.queryOrders(ctx, "list orders by user",
		`SELECT `+orderColumns+` FROM orders WHERE user_id = $1 ORDER BY created_at DESC, id DESC`, userID)
}

func (r *PostgresRepository) ListOrders(ctx context.Context, filter ListFilter) ([]*domain.Order, error) {
	var (
		query strings.Builder
		args  []any
	)
	query.WriteString(`SELECT ` + orderColumns + ` FROM orders`)
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		fmt.Fprintf(&query, ` WHERE status = $%d`, len(args))
	}
	query.WriteString(` ORDER BY created_at DESC, id DESC`)
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		fmt.Fprintf(&query, ` LIMIT $%d`, len(args))
	}
	return r.queryOrders(ctx, "list orders", query.String(), args...)
}

func (r *PostgresRepository) UpdateStatus(ctx context.Context, id string, from, to domain.OrderStatus, at time.Time) (*domain.Order, error) {
	var deliveredAt *time.Time
	if to == domain.OrderStatusDelivered {
		deliveredAt = &at
	}

	var updated *domain.Order
	err := r.inTx(ctx, "update order status", func(tx pgx.Tx) error {
		o, err := scanOrder(tx.QueryRow(ctx, `
			UPDATE orders
			SET status = $1, updated_at = $2, delivered_at = COALESCE($3, delivered_at)
			WHERE id = $4 AND status = $5
			RETURNING `+orderColumns,
			string(to), at, deliveredAt, id, string(from)))
		if errors.Is(err, pgx.ErrNoRows) {
			return r.explainMissedUpdate(ctx, tx, id, from)
		}
		if err != nil {
			return domain.Unavailable("update order status", err)
		}

		event, err := newEvent(EventOrderStatusChanged, o, from)
		if err != nil {
			return err
		}
		if err := insertEvent(ctx, tx, event); err != nil {
			return err
		}
		updated = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (r *PostgresRepository) explainMissedUpdate(ctx context.Context, tx pgx.Tx, id string, from domain.OrderStatus) error {
	var current string
	err := tx.QueryRow(ctx, `SELECT status FROM orders WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", domain.ErrOrderNotFound, id)
	}
	if err != nil {
		return domain.Unavailable("read order status", err)
	}
	return fmt.Errorf("%w: order %s is %s, not %s", domain.ErrConflict, id, current, from)
}

func (r *PostgresRepository) StatusSummary(ctx context.Context) ([]domain.StatusSummary, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT status, COUNT(*), COALESCE(SUM(total_amount), 0)::text
		FROM orders GROUP BY status ORDER BY status`)
	if err != nil {
		return nil, domain.Unavailable("order status summary", err)
	}
	defer rows.Close()

	var result []domain.StatusSummary
	for rows.Next() {
		var (
			status string
			count  int64
			amount string
		)
		if err := rows.Scan(&status, &count, &amount); err != nil {
			return nil, domain.Unavailable("scan status summary", err)
		}
		total, err := decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("decode amount of %s orders: %w", status, err)
		}
		result = append(result, domain.StatusSummary{
			Status: domain.OrderStatus(status),
			Count:  int(count),
			Amount: total,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Unavailable("order status summary", err)
	}
	return result, nil
}

func (r *PostgresRepository) PendingEvents(ctx context.Context, limit int) ([]outbox.Event, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, event_id, aggregate_id, event_type, payload, created_at
		FROM order_outbox WHERE sent_at IS NULL ORDER BY id LIMIT $1`, limit)
	if err != nil {
		return nil, domain.Unavailable("fetch pending events", err)
	}
	defer rows.Close()

	var out []outbox.Event
	for rows.Next() {
		var (
			e       outbox.Event
			payload []byte
		)
		if err := rows.Scan(&e.ID, &e.EventID, &e.AggregateID, &e.EventType, &payload, &e.CreatedAt); err != nil {
			return nil, domain.Unavailable("scan outbox event", err)
		}
		e.Payload = payload
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Unavailable("fetch pending events", err)
	}
	return out, nil
}

func (r *PostgresRepository) MarkEventSent(ctx context.Context, id int64) error {
	if _, err := r.pool.Exec(ctx, `UPDATE order_outbox SET sent_at = NOW() WHERE id = $1`, id); err != nil {
		return domain.Unavailable("mark event sent", err)
	}
	return nil
}

func (r *PostgresRepository) queryOrders(ctx context.Context, op, query string, args ...any) ([]*domain.Order, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, domain.Unavailable(op, err)
	}
	defer rows.Close()

	var orders []*domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, domain.Unavailable(op, err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Unavailable(op, err)
	}
	return orders, nil
}

func (r *PostgresRepository) inTx(ctx context.Context, op string, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.Unavailable(op, err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Unavailable(op, err)
	}
	return nil
}

func insertEvent(ctx context.Context, tx pgx.Tx, e outbox.Event) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO order_outbox (event_id, aggregate_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		e.EventID, e.AggregateID, e.EventType, []byte(e.Payload), e.CreatedAt)
	if err != nil {
		return domain.Unavailable("insert outbox event", err)
	}
	return nil
}

func scanOrder(row pgx.Row) (*domain.Order, error) {
	var (
		o             domain.Order
		items         []byte
		address       []byte
		paymentMethod string
		total         string
		status        string
	)
	err := row.Scan(
		&o.ID,
		&o.UserID,
		&o.IdempotencyKey,
		&items,
		&address,
		&paymentMethod,
		&total,
		&status,
		&o.CreatedAt,
		&o.UpdatedAt,
		&o.DeliveredAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(items, &o.Items); err != nil {
		return nil, fmt.Errorf("unmarshal order items: %w", err)
	}
	if err := json.Unmarshal(address, &o.ShippingAddress); err != nil {
		return nil, fmt.Errorf("unmarshal shipping address: %w", err)
	}
	if o.TotalAmount, err = decimal.NewFromString(total); err != nil {
		return nil, fmt.Errorf("decode order total: %w", err)
	}
	o.PaymentMethod = domain.PaymentMethod(paymentMethod)
	o.Status = domain.OrderStatus(status)
	return &o, nil
}
