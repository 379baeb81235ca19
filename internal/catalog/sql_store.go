package catalog

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/techTenzen/Cricket/internal/domain"
)

// Supported SQL dialects. The value doubles as the database/sql driver name.
const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)

const migrationsTable = "catalog_schema_migrations"

//go:embed migrations
var migrationsFS embed.FS

// SQLStore implements Store on top of database/sql. Stock changes are
// conditional UPDATEs, never a read followed by a write.
type SQLStore struct {
	db      *sql.DB
	dialect string
}

// NewSQLStore opens the catalog database for the given dialect.
func NewSQLStore(dialect, dsn string) (*SQLStore, error) {
	if dialect != DialectPostgres && dialect != DialectSQLite {
		return nil, fmt.Errorf("unsupported catalog dialect %q", dialect)
	}

	db, err := sql.Open(dialect, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// every connection to :memory: is its own database
	if dialect == DialectSQLite && strings.Contains(dsn, ":memory:") {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &SQLStore{db: db, dialect: dialect}, nil
}

// NewSQLStoreFromDB wraps an already opened database.
func NewSQLStoreFromDB(db *sql.DB, dialect string) *SQLStore {
	return &SQLStore{db: db, dialect: dialect}
}

// Migrate applies the embedded schema migrations of the store's dialect.
func (s *SQLStore) Migrate() error {
	src, err := iofs.New(migrationsFS, "migrations/"+s.dialect)
	if err != nil {
		return fmt.Errorf("could not open migrations: %w", err)
	}

	var driver database.Driver
	switch s.dialect {
	case DialectPostgres:
		driver, err = postgres.WithInstance(s.db, &postgres.Config{MigrationsTable: migrationsTable})
	default:
		driver, err = sqlite.WithInstance(s.db, &sqlite.Config{MigrationsTable: migrationsTable})
	}
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, s.dialect, driver)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", err)
	}
	return nil
}

const productColumns = `id, name, description, category, brand, image_url, price, old_price, stock`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (*domain.Product, error) {
	p := &domain.Product{}
	var oldPrice decimal.NullDecimal
	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.Description,
		&p.Category,
		&p.Brand,
		&p.ImageURL,
		&p.Price,
		&oldPrice,
		&p.Stock,
	)
	if err != nil {
		return nil, err
	}
	if oldPrice.Valid {
		p.OldPrice = &oldPrice.Decimal
	}
	return p, nil
}

func (s *SQLStore) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id)
	p, err := scanProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrProductNotFound, id)
	}
	if err != nil {
		return nil, domain.Unavailable("get product", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT size, stock FROM product_variants WHERE product_id = $1 ORDER BY position`, id)
	if err != nil {
		return nil, domain.Unavailable("get product variants", err)
	}
	defer rows.Close()

	for rows.Next() {
		var v domain.SizeVariant
		if err := rows.Scan(&v.Size, &v.Stock); err != nil {
			return nil, domain.Unavailable("scan product variant", err)
		}
		p.SizeVariants = append(p.SizeVariants, v)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Unavailable("get product variants", err)
	}
	return p, nil
}

func (s *SQLStore) ListProducts(ctx context.Context) ([]*domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+productColumns+` FROM products ORDER BY id`)
	if err != nil {
		return nil, domain.Unavailable("list products", err)
	}
	defer rows.Close()

	var products []*domain.Product
	byID := make(map[string]*domain.Product)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, domain.Unavailable("scan product", err)
		}
		products = append(products, p)
		byID[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Unavailable("list products", err)
	}

	vrows, err := s.db.QueryContext(ctx,
		`SELECT product_id, size, stock FROM product_variants ORDER BY product_id, position`)
	if err != nil {
		return nil, domain.Unavailable("list product variants", err)
	}
	defer vrows.Close()

	for vrows.Next() {
		var (
			productID string
			v         domain.SizeVariant
		)
		if err := vrows.Scan(&productID, &v.Size, &v.Stock); err != nil {
			return nil, domain.Unavailable("scan product variant", err)
		}
		if p, ok := byID[productID]; ok {
			p.SizeVariants = append(p.SizeVariants, v)
		}
	}
	if err := vrows.Err(); err != nil {
		return nil, domain.Unavailable("list product variants", err)
	}
	return products, nil
}

func (s *SQLStore) GetAvailableStock(ctx context.Context, productID, size string) (int, error) {
	if size == "" {
		var stock int
		err := s.db.QueryRowContext(ctx, `SELECT stock FROM products WHERE id = $1`, productID).Scan(&stock)
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("%w: %s", domain.ErrProductNotFound, productID)
		}
		if err != nil {
			return 0, domain.Unavailable("get stock", err)
		}
		return stock, nil
	}

	var stock int
	err := s.db.QueryRowContext(ctx,
		`SELECT stock FROM product_variants WHERE product_id = $1 AND size = $2`, productID, size).Scan(&stock)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, s.missing(ctx, s.db, productID, size)
	}
	if err != nil {
		return 0, domain.Unavailable("get variant stock", err)
	}
	return stock, nil
}

// ReserveStock runs the guarded decrement and the aggregate update in one
// transaction.
func (s *SQLStore) ReserveStock(ctx context.Context, productID, size string, qty int) error {
	if err := checkQuantity(qty); err != nil {
		return err
	}
	return s.inTx(ctx, "reserve stock", func(tx *sql.Tx) error {
		if size == "" {
			res, err := tx.ExecContext(ctx, `
				UPDATE products SET stock = stock - $1
				WHERE id = $2 AND stock >= $3
				  AND NOT EXISTS (SELECT 1 FROM product_variants WHERE product_id = $4)`,
				qty, productID, qty, productID)
			if err != nil {
				return domain.Unavailable("reserve stock", err)
			}
			if affected(res) == 0 {
				return s.refused(ctx, tx, productID, size, qty)
			}
			return nil
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE product_variants SET stock = stock - $1
			WHERE product_id = $2 AND size = $3 AND stock >= $4`,
			qty, productID, size, qty)
		if err != nil {
			return domain.Unavailable("reserve stock", err)
		}
		if affected(res) == 0 {
			return s.refused(ctx, tx, productID, size, qty)
		}
		return adjustAggregate(ctx, tx, productID, -qty)
	})
}

func (s *SQLStore) ReleaseStock(ctx context.Context, productID, size string, qty int) error {
	if err := checkQuantity(qty); err != nil {
		return err
	}
	return s.inTx(ctx, "release stock", func(tx *sql.Tx) error {
		return s.addStock(ctx, tx, productID, size, qty)
	})
}

func (s *SQLStore) addStock(ctx context.Context, tx *sql.Tx, productID, size string, qty int) error {
	if size == "" {
		res, err := tx.ExecContext(ctx, `
			UPDATE products SET stock = stock + $1
			WHERE id = $2 AND NOT EXISTS (SELECT 1 FROM product_variants WHERE product_id = $3)`,
			qty, productID, productID)
		if err != nil {
			return domain.Unavailable("release stock", err)
		}
		if affected(res) == 0 {
			return s.missing(ctx, tx, productID, size)
		}
		return nil
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE product_variants SET stock = stock + $1 WHERE product_id = $2 AND size = $3`,
		qty, productID, size)
	if err != nil {
		return domain.Unavailable("release stock", err)
	}
	if affected(res) == 0 {
		return s.missing(ctx, tx, productID, size)
	}
	return adjustAggregate(ctx, tx, productID, qty)
}

func (s *SQLStore) PutProduct(ctx context.Context, p *domain.Product) error {
	if err := p.Validate(); err != nil {
		return err
	}
	stored := p.Clone()
	stored.RecomputeStock()

	var oldPrice decimal.NullDecimal
	if stored.OldPrice != nil {
		oldPrice = decimal.NewNullDecimal(*stored.OldPrice)
	}

	return s.inTx(ctx, "put product", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO products (id, name, description, category, brand, image_url, price, old_price, stock)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (id) DO UPDATE SET
				name = excluded.name,
				description = excluded.description,
				category = excluded.category,
				brand = excluded.brand,
				image_url = excluded.image_url,
				price = excluded.price,
				old_price = excluded.old_price,
				stock = excluded.stock`,
			stored.ID, stored.Name, stored.Description, string(stored.Category), stored.Brand,
			stored.ImageURL, stored.Price, oldPrice, stored.Stock)
		if err != nil {
			return domain.Unavailable("upsert product", err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM product_variants WHERE product_id = $1`, stored.ID); err != nil {
			return domain.Unavailable("delete product variants", err)
		}
		for i, v := range stored.SizeVariants {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO product_variants (product_id, size, position, stock) VALUES ($1, $2, $3, $4)`,
				stored.ID, v.Size, i, v.Stock)
			if err != nil {
				return domain.Unavailable("insert product variant", err)
			}
		}
		return nil
	})
}

func (s *SQLStore) SetStock(ctx context.Context, productID, size string, stock int) error {
	if stock < 0 {
		return fmt.Errorf("%w: stock must be >= 0", domain.ErrInvalidArgument)
	}
	return s.inTx(ctx, "set stock", func(tx *sql.Tx) error {
		if size == "" {
			res, err := tx.ExecContext(ctx, `
				UPDATE products SET stock = $1
				WHERE id = $2 AND NOT EXISTS (SELECT 1 FROM product_variants WHERE product_id = $3)`,
				stock, productID, productID)
			if err != nil {
				return domain.Unavailable("set stock", err)
			}
			if affected(res) == 0 {
				return s.missing(ctx, tx, productID, size)
			}
			return nil
		}

		res, err := tx.ExecContext(ctx,
			`UPDATE product_variants SET stock = $1 WHERE product_id = $2 AND size = $3`,
			stock, productID, size)
		if err != nil {
			return domain.Unavailable("set stock", err)
		}
		if affected(res) == 0 {
			return s.missing(ctx, tx, productID, size)
		}
		if err := s.lockProduct(ctx, tx, productID); err != nil {
			return err
		}
		return refreshAggregate(ctx, tx, productID)
	})
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// refused explains why a guarded decrement touched no row. Available is
// read inside the same transaction, right after the refused update.
func (s *SQLStore) refused(ctx context.Context, q querier, productID, size string, qty int) error {
	var (
		stock int
		err   error
	)
	if size == "" {
		err = q.QueryRowContext(ctx, `SELECT stock FROM products WHERE id = $1`, productID).Scan(&stock)
	} else {
		err = q.QueryRowContext(ctx,
			`SELECT stock FROM product_variants WHERE product_id = $1 AND size = $2`, productID, size).Scan(&stock)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return s.missing(ctx, q, productID, size)
	}
	if err != nil {
		return domain.Unavailable("read stock", err)
	}

	if size == "" {
		if err := s.missing(ctx, q, productID, size); err != nil {
			return err
		}
	}
	return &domain.StockError{ProductID: productID, Size: size, Requested: qty, Available: stock}
}

// missing tells apart an unknown product, an unknown size and a variant
// product addressed without a size. It returns nil when the line exists.
func (s *SQLStore) missing(ctx context.Context, q querier, productID, size string) error {
	var variants int
	err := q.QueryRowContext(ctx, `
		SELECT COUNT(v.size) FROM products p
		LEFT JOIN product_variants v ON v.product_id = p.id
		WHERE p.id = $1
		GROUP BY p.id`, productID).Scan(&variants)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", domain.ErrProductNotFound, productID)
	}
	if err != nil {
		return domain.Unavailable("read product", err)
	}

	switch {
	case size == "" && variants > 0:
		return fmt.Errorf("%w: %s", domain.ErrVariantRequired, productID)
	case size != "":
		var one int
		err := q.QueryRowContext(ctx,
			`SELECT 1 FROM product_variants WHERE product_id = $1 AND size = $2`, productID, size).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s/%s", domain.ErrVariantNotFound, productID, size)
		}
		if err != nil {
			return domain.Unavailable("read variant", err)
		}
	}
	return nil
}

// adjustAggregate moves the product's aggregate stock by delta. Under
// concurrent writers to different sizes the row update re-reads the latest
// aggregate, which a recount from product_variants would not.
func adjustAggregate(ctx context.Context, tx *sql.Tx, productID string, delta int) error {
	_, err := tx.ExecContext(ctx, `UPDATE products SET stock = stock + $1 WHERE id = $2`, delta, productID)
	if err != nil {
		return domain.Unavailable("adjust aggregate stock", err)
	}
	return nil
}

// lockProduct takes the product row lock before a recount so the recount
// statement starts after every other stock writer of the product committed.
// SQLite serializes writers and has no row locks.
func (s *SQLStore) lockProduct(ctx context.Context, tx *sql.Tx, productID string) error {
	if s.dialect != DialectPostgres {
		return nil
	}
	var id string
	err := tx.QueryRowContext(ctx, `SELECT id FROM products WHERE id = $1 FOR UPDATE`, productID).Scan(&id)
	if err != nil {
		return domain.Unavailable("lock product", err)
	}
	return nil
}

// refreshAggregate recounts the aggregate from the variants. Callers hold
// the product lock.
func refreshAggregate(ctx context.Context, tx *sql.Tx, productID string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE products
		SET stock = (SELECT COALESCE(SUM(stock), 0) FROM product_variants WHERE product_id = $1)
		WHERE id = $2`, productID, productID)
	if err != nil {
		return domain.Unavailable("refresh aggregate stock", err)
	}
	return nil
}

func affected(res sql.Result) int64 {
	n, err := res.RowsAffected()
	if err != nil {
		return 0
	}
	return n
}

// inTx runs fn in a transaction and commits when fn succeeds.
func (s *SQLStore) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Unavailable(op, err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return domain.Unavailable(op, err)
	}
	return nil
}
