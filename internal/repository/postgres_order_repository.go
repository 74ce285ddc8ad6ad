package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/afif1710/NexusMarket/internal/domain"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/lib/pq"
)

type Credentials struct {
	Host              string
	Port              int
	User              string
	Password          string
	DBName            string
	MigrationsDirPath string
}

// PostgresOrderRepository keeps orders in a relational table and writes the
// outbox row in the same transaction as the order change.
type PostgresOrderRepository struct {
	db *sql.DB
}

func NewPostgresOrderRepository(cred *Credentials) (*PostgresOrderRepository, error) {
	psqlconn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cred.Host,
		cred.Port,
		cred.User,
		cred.Password,
		cred.DBName)

	db, err := sql.Open("postgres", psqlconn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if e2 := db.Ping(); e2 != nil {
		return nil, fmt.Errorf("failed to ping database: %w", e2)
	}

	db.SetMaxOpenConns(100)
	db.SetMaxIdleConns(10)
	return &PostgresOrderRepository{db: db}, nil
}

func (r *PostgresOrderRepository) RunMigrations(cred *Credentials) error {
	driver, err := postgres.WithInstance(r.db, &postgres.Config{
		MigrationsTable: "orders_schema_migrations",
	})
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s", cred.MigrationsDirPath),
		"postgres",
		driver,
	)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if e2 := m.Up(); e2 != nil && !errors.Is(e2, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", e2)
	}

	return nil
}

func (r *PostgresOrderRepository) PingContext(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *PostgresOrderRepository) Close() error {
	return r.db.Close()
}

func (r *PostgresOrderRepository) CreateOrder(ctx context.Context, order *domain.Order, event domain.OrderEvent) error {
	itemsJSON, err := json.Marshal(order.Items)
	if err != nil {
		return fmt.Errorf("failed to marshal order items: %w", err)
	}
	addressJSON, err := json.Marshal(order.ShippingAddress)
	if err != nil {
		return fmt.Errorf("failed to marshal shipping address: %w", err)
	}

	return r.inTx(ctx, func(tx *sql.Tx) error {
		query := `INSERT INTO orders (id, user_id, items, shipping_address, subtotal, shipping_cost, tax, total,
		              payment_method, status, payment_status, cart_cleared, created_at, updated_at)
		          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, FALSE, $12, $13)`

		_, insertErr := tx.ExecContext(ctx, query,
			order.OrderID,
			order.UserID,
			itemsJSON,
			addressJSON,
			int64(order.Subtotal),
			int64(order.ShippingCost),
			int64(order.Tax),
			int64(order.Total),
			order.PaymentMethod,
			string(order.Status),
			string(order.PaymentStatus),
			order.CreatedAt,
			order.UpdatedAt)
		if insertErr != nil {
			var pqErr *pq.Error
			if errors.As(insertErr, &pqErr) && pqErr.Code == "23505" {
				return ErrDuplicateOrder
			}
			return fmt.Errorf("insert order: %w", insertErr)
		}

		return insertOutbox(ctx, tx, event)
	})
}

const orderColumns = `id, user_id, items, shipping_address, subtotal, shipping_cost, tax, total, payment_method,
	status, payment_status, tracking_number, cart_cleared, cart_clear_requested_at, paid_at, created_at, updated_at`

func (r *PostgresOrderRepository) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, orderID)
	order, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query order by id: %w", err)
	}
	return order, nil
}

func (r *PostgresOrderRepository) ListOrdersByUser(ctx context.Context, userID string, limit int) ([]*domain.Order, error) {
	return r.query(ctx, `SELECT `+orderColumns+` FROM orders WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`,
		userID, limitOrAll(limit))
}

func (r *PostgresOrderRepository) ListOrders(ctx context.Context, limit int) ([]*domain.Order, error) {
	return r.query(ctx, `SELECT `+orderColumns+` FROM orders ORDER BY created_at DESC LIMIT $1`, limitOrAll(limit))
}

func (r *PostgresOrderRepository) ApplyTransition(ctx context.Context, orderID string, t Transition) (bool, error) {
	applied := false
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		query := `UPDATE orders
		          SET status = $4, payment_status = $5, updated_at = $6,
		              tracking_number = COALESCE(NULLIF($7, ''), tracking_number),
		              paid_at = COALESCE($8, paid_at)
		          WHERE id = $1 AND status = $2 AND payment_status = $3`

		var paidAt sql.NullTime
		if t.PaidAt != nil {
			paidAt = sql.NullTime{Time: *t.PaidAt, Valid: true}
		}

		res, err := tx.ExecContext(ctx, query,
			orderID,
			string(t.FromStatus),
			string(t.FromPaymentStatus),
			string(t.Status),
			string(t.PaymentStatus),
			t.At,
			t.TrackingNumber,
			paidAt)
		if err != nil {
			return fmt.Errorf("update order status: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if n == 0 {
			return nil
		}
		applied = true
		return insertOutbox(ctx, tx, t.Event)
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

func (r *PostgresOrderRepository) MarkCartCleared(ctx context.Context, orderID string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE orders SET cart_cleared = TRUE, updated_at = NOW() WHERE id = $1`, orderID)
	if err != nil {
		return fmt.Errorf("mark cart cleared: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}

func (r *PostgresOrderRepository) FindCartClearPending(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Order, error) {
	return r.query(ctx, `SELECT `+orderColumns+` FROM orders
		WHERE payment_status = 'paid' AND cart_cleared = FALSE AND paid_at < $1
		  AND (cart_clear_requested_at IS NULL OR cart_clear_requested_at < $1)
		ORDER BY paid_at LIMIT $2`, cutoff, limitOrAll(limit))
}

func (r *PostgresOrderRepository) RequestCartClear(ctx context.Context, orderID string, at time.Time, event domain.OrderEvent) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE orders SET cart_clear_requested_at = $2 WHERE id = $1 AND cart_cleared = FALSE`, orderID, at)
		if err != nil {
			return fmt.Errorf("request cart clear: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return domain.ErrOrderNotFound
		}
		return insertOutbox(ctx, tx, event)
	})
}

func (r *PostgresOrderRepository) GetUnpublishedEvents(ctx context.Context, limit int) ([]domain.OrderEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT payload FROM order_outbox WHERE published_at IS NULL ORDER BY created_at LIMIT $1`, limitOrAll(limit))
	if err != nil {
		return nil, fmt.Errorf("query outbox: %w", err)
	}
	defer rows.Close()

	var events []domain.OrderEvent
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan outbox row: %w", err)
		}
		var e domain.OrderEvent
		if err := json.Unmarshal(payload, &e); err != nil {
			return nil, fmt.Errorf("unmarshal outbox payload: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return events, nil
}

func (r *PostgresOrderRepository) MarkEventPublished(ctx context.Context, event domain.OrderEvent) error {
	_, err := r.db.ExecContext(ctx, `UPDATE order_outbox SET published_at = NOW() WHERE id = $1`, event.EventID)
	if err != nil {
		return fmt.Errorf("mark event published: %w", err)
	}
	return nil
}

func (r *PostgresOrderRepository) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (r *PostgresOrderRepository) query(ctx context.Context, query string, args ...any) ([]*domain.Order, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var orders []*domain.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return orders, nil
}

func insertOutbox(ctx context.Context, tx *sql.Tx, event domain.OrderEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal outbox event: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO order_outbox (id, order_id, event_type, payload, created_at) VALUES ($1, $2, $3, $4, $5)`,
		event.EventID, event.OrderID, event.EventType, payload, event.OccurredAt)
	if err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var (
		o                            domain.Order
		itemsJSON, addressJSON       []byte
		subtotal, shipping, tax, tot int64
		status, paymentStatus        string
		tracking                     sql.NullString
		clearRequestedAt, paidAt     sql.NullTime
	)
	err := row.Scan(
		&o.OrderID,
		&o.UserID,
		&itemsJSON,
		&addressJSON,
		&subtotal,
		&shipping,
		&tax,
		&tot,
		&o.PaymentMethod,
		&status,
		&paymentStatus,
		&tracking,
		&o.CartCleared,
		&clearRequestedAt,
		&paidAt,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(itemsJSON, &o.Items); err != nil {
		return nil, fmt.Errorf("unmarshal order items: %w", err)
	}
	if err := json.Unmarshal(addressJSON, &o.ShippingAddress); err != nil {
		return nil, fmt.Errorf("unmarshal shipping address: %w", err)
	}

	o.Subtotal = domain.Money(subtotal)
	o.ShippingCost = domain.Money(shipping)
	o.Tax = domain.Money(tax)
	o.Total = domain.Money(tot)
	o.Status = domain.OrderStatus(status)
	o.PaymentStatus = domain.PaymentStatus(paymentStatus)
	o.TrackingNumber = tracking.String
	if clearRequestedAt.Valid {
		t := clearRequestedAt.Time
		o.CartClearRequestedAt = &t
	}
	if paidAt.Valid {
		t := paidAt.Time
		o.PaidAt = &t
	}
	return &o, nil
}

// limitOrAll turns a non-positive limit into NULL, which Postgres reads as no limit.
func limitOrAll(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}
