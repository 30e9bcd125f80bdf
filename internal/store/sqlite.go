package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"mailtrader/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface check.
var _ Store = (*SQLiteStore)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id         INTEGER PRIMARY KEY,
	username   TEXT NOT NULL DEFAULT '',
	first_name TEXT NOT NULL DEFAULT '',
	is_blocked INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS orders (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id      INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	variant      TEXT NOT NULL,
	target_price REAL NOT NULL,
	quantity     INTEGER NOT NULL,
	status       TEXT NOT NULL DEFAULT 'active',
	created_at   TIMESTAMP NOT NULL,
	completed_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_orders_status_price ON orders(status, target_price);

CREATE TABLE IF NOT EXISTS purchases (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	order_id       INTEGER NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
	pack_id        TEXT NOT NULL UNIQUE,
	accounts_count INTEGER NOT NULL,
	price_paid     REAL NOT NULL,
	total_price    REAL NOT NULL,
	variant        TEXT NOT NULL,
	purchased_at   TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS accounts (
	id                    INTEGER PRIMARY KEY AUTOINCREMENT,
	purchase_id           INTEGER NOT NULL REFERENCES purchases(id) ON DELETE CASCADE,
	email                 TEXT NOT NULL,
	password              TEXT NOT NULL,
	recovery_email        TEXT NOT NULL DEFAULT '',
	recovery_messages_url TEXT NOT NULL DEFAULT '',
	authenticator_token   TEXT NOT NULL DEFAULT '',
	app_password          TEXT NOT NULL DEFAULT '',
	messages_url          TEXT NOT NULL DEFAULT '',
	status                TEXT NOT NULL DEFAULT 'available'
);

CREATE TABLE IF NOT EXISTS price_history (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp    TIMESTAMP NOT NULL,
	price_no_2fa REAL NOT NULL,
	price_2fa    REAL NOT NULL
);
`

// querier is satisfied by both *sql.DB and *sql.Tx, so the same statement
// helpers serve plain calls and cycle transactions.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLiteStore implements Store backed by a SQLite database. Writes go
// through a single-connection pool; reads use a separate pool so the bot
// and HTTP handlers are not queued behind an open cycle transaction (WAL
// lets readers run alongside the writer).
type SQLiteStore struct {
	db  *sql.DB // writer, one connection
	rdb *sql.DB // readers
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, applies the
// schema, and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// modernc.org/sqlite serializes writers; a single connection avoids
	// SQLITE_BUSY under concurrent jobs.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	rdb, err := sql.Open("sqlite", dbPath)
	if err != nil {
		db.Close()
		return nil, err
	}
	rdb.SetMaxOpenConns(4)
	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := rdb.Exec(pragma); err != nil {
			rdb.Close()
			db.Close()
			return nil, fmt.Errorf("applying %s: %w", pragma, err)
		}
	}

	return &SQLiteStore{db: db, rdb: rdb}, nil
}

// Close closes both database connection pools.
func (s *SQLiteStore) Close() error {
	rErr := s.rdb.Close()
	if err := s.db.Close(); err != nil {
		return err
	}
	return rErr
}

// ---------------------------------------------------------------------------
// UserStore implementation
// ---------------------------------------------------------------------------

// EnsureUser inserts the user if absent, otherwise refreshes the username
// and first name.
func (s *SQLiteStore) EnsureUser(ctx context.Context, user *domain.User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, first_name, is_blocked, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET username = excluded.username, first_name = excluded.first_name`,
		user.ID, user.Username, user.FirstName, user.Blocked, user.CreatedAt)
	return err
}

// GetUser retrieves a single user by Telegram ID.
func (s *SQLiteStore) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	row := s.rdb.QueryRowContext(ctx, `
		SELECT id, username, first_name, is_blocked, created_at
		FROM users WHERE id = ?`, id)

	u := &domain.User{}
	err := row.Scan(&u.ID, &u.Username, &u.FirstName, &u.Blocked, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

// ListUsers returns all users, newest first.
func (s *SQLiteStore) ListUsers(ctx context.Context) ([]domain.User, error) {
	return s.scanUsers(ctx, `
		SELECT id, username, first_name, is_blocked, created_at
		FROM users ORDER BY created_at DESC`)
}

// ListRecipients returns all non-blocked users.
func (s *SQLiteStore) ListRecipients(ctx context.Context) ([]domain.User, error) {
	return s.scanUsers(ctx, `
		SELECT id, username, first_name, is_blocked, created_at
		FROM users WHERE is_blocked = 0 ORDER BY created_at DESC`)
}

func (s *SQLiteStore) scanUsers(ctx context.Context, query string, args ...any) ([]domain.User, error) {
	rows, err := s.rdb.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(&u.ID, &u.Username, &u.FirstName, &u.Blocked, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// SetBlocked updates the blocked flag for a user.
func (s *SQLiteStore) SetBlocked(ctx context.Context, id int64, blocked bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET is_blocked = ? WHERE id = ?`, blocked, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// DeleteUser removes a user and, via cascade, their orders.
func (s *SQLiteStore) DeleteUser(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// ---------------------------------------------------------------------------
// OrderStore implementation
// ---------------------------------------------------------------------------

// CreateOrder inserts a new order with status active.
func (s *SQLiteStore) CreateOrder(ctx context.Context, order *domain.Order) error {
	if order.Status == "" {
		order.Status = domain.OrderStatusActive
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO orders (user_id, variant, target_price, quantity, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		order.UserID, string(order.Variant), order.TargetPrice, order.Quantity,
		string(order.Status), order.CreatedAt)
	if err != nil {
		return err
	}
	order.ID, err = res.LastInsertId()
	return err
}

// GetOrder retrieves a single order by ID.
func (s *SQLiteStore) GetOrder(ctx context.Context, id int64) (*domain.Order, error) {
	orders, err := scanOrders(ctx, s.rdb, `
		SELECT id, user_id, variant, target_price, quantity, status, created_at, completed_at
		FROM orders WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return nil, ErrNotFound
	}
	return &orders[0], nil
}

// ListOrdersByOwner returns the owner's orders matching status, newest first.
func (s *SQLiteStore) ListOrdersByOwner(ctx context.Context, ownerID int64, status domain.OrderStatus) ([]domain.Order, error) {
	if status == "" {
		return scanOrders(ctx, s.rdb, `
			SELECT id, user_id, variant, target_price, quantity, status, created_at, completed_at
			FROM orders WHERE user_id = ? ORDER BY created_at DESC`, ownerID)
	}
	return scanOrders(ctx, s.rdb, `
		SELECT id, user_id, variant, target_price, quantity, status, created_at, completed_at
		FROM orders WHERE user_id = ? AND status = ? ORDER BY created_at DESC`,
		ownerID, string(status))
}

// CancelOrder transitions the owner's order to cancelled. The update is
// conditioned on the order still being active, so a cancel racing an
// in-flight fill loses cleanly.
func (s *SQLiteStore) CancelOrder(ctx context.Context, ownerID, orderID int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders SET status = ? WHERE id = ? AND user_id = ? AND status = ?`,
		string(domain.OrderStatusCancelled), orderID, ownerID, string(domain.OrderStatusActive))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	// Distinguish a missing order from a settled one.
	var status string
	err = s.db.QueryRowContext(ctx,
		`SELECT status FROM orders WHERE id = ? AND user_id = ?`, orderID, ownerID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return ErrAlreadyTerminal
}

func scanOrders(ctx context.Context, q querier, query string, args ...any) ([]domain.Order, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		var (
			o           domain.Order
			variant     string
			status      string
			completedAt sql.NullTime
		)
		if err := rows.Scan(&o.ID, &o.UserID, &variant, &o.TargetPrice, &o.Quantity,
			&status, &o.CreatedAt, &completedAt); err != nil {
			return nil, err
		}
		o.Variant = domain.Variant(variant)
		o.Status = domain.OrderStatus(status)
		if completedAt.Valid {
			t := completedAt.Time
			o.CompletedAt = &t
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// ---------------------------------------------------------------------------
// LedgerStore implementation
// ---------------------------------------------------------------------------

// ListPurchases returns all purchases recorded against an order.
func (s *SQLiteStore) ListPurchases(ctx context.Context, orderID int64) ([]domain.Purchase, error) {
	rows, err := s.rdb.QueryContext(ctx, `
		SELECT id, order_id, pack_id, accounts_count, price_paid, total_price, variant, purchased_at
		FROM purchases WHERE order_id = ? ORDER BY purchased_at`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var purchases []domain.Purchase
	for rows.Next() {
		var (
			p       domain.Purchase
			variant string
		)
		if err := rows.Scan(&p.ID, &p.OrderID, &p.PackID, &p.AccountsCount,
			&p.PricePaid, &p.TotalPrice, &variant, &p.PurchasedAt); err != nil {
			return nil, err
		}
		p.Variant = domain.Variant(variant)
		purchases = append(purchases, p)
	}
	return purchases, rows.Err()
}

// ListPurchaseAccounts returns all accounts procured for an order.
func (s *SQLiteStore) ListPurchaseAccounts(ctx context.Context, orderID int64) ([]domain.Account, error) {
	rows, err := s.rdb.QueryContext(ctx, `
		SELECT a.id, a.purchase_id, a.email, a.password, a.recovery_email,
		       a.recovery_messages_url, a.authenticator_token, a.app_password,
		       a.messages_url, a.status
		FROM accounts a
		JOIN purchases p ON p.id = a.purchase_id
		WHERE p.order_id = ?
		ORDER BY a.id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []domain.Account
	for rows.Next() {
		var (
			a      domain.Account
			status string
		)
		if err := rows.Scan(&a.ID, &a.PurchaseID, &a.Email, &a.Password, &a.RecoveryEmail,
			&a.RecoveryMessagesURL, &a.AuthenticatorToken, &a.AppPassword,
			&a.MessagesURL, &status); err != nil {
			return nil, err
		}
		a.Status = domain.AccountStatus(status)
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// SetAccountStatus updates the status of a single procured account.
func (s *SQLiteStore) SetAccountStatus(ctx context.Context, accountID int64, status domain.AccountStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET status = ? WHERE id = ?`, string(status), accountID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// ---------------------------------------------------------------------------
// PriceStore implementation
// ---------------------------------------------------------------------------

// ListPriceSamples returns samples taken at or after since, oldest first.
func (s *SQLiteStore) ListPriceSamples(ctx context.Context, since time.Time, limit int) ([]domain.PriceSample, error) {
	query := `
		SELECT id, timestamp, price_no_2fa, price_2fa
		FROM price_history WHERE timestamp >= ? ORDER BY timestamp`
	args := []any{since}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.rdb.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var samples []domain.PriceSample
	for rows.Next() {
		var p domain.PriceSample
		if err := rows.Scan(&p.ID, &p.Timestamp, &p.PricePlain, &p.PriceTwoFA); err != nil {
			return nil, err
		}
		samples = append(samples, p)
	}
	return samples, rows.Err()
}

// LatestPriceSample returns the most recent sample.
func (s *SQLiteStore) LatestPriceSample(ctx context.Context) (*domain.PriceSample, error) {
	row := s.rdb.QueryRowContext(ctx, `
		SELECT id, timestamp, price_no_2fa, price_2fa
		FROM price_history ORDER BY timestamp DESC, id DESC LIMIT 1`)

	p := &domain.PriceSample{}
	err := row.Scan(&p.ID, &p.Timestamp, &p.PricePlain, &p.PriceTwoFA)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ---------------------------------------------------------------------------
// Cycle implementation
// ---------------------------------------------------------------------------

// sqliteCycle scopes the engine's per-cycle writes to one transaction.
type sqliteCycle struct {
	tx *sql.Tx
}

var _ Cycle = (*sqliteCycle)(nil)

// InCycle runs fn inside a single transaction, committing on nil and rolling
// back on error.
func (s *SQLiteStore) InCycle(ctx context.Context, fn func(Cycle) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	if err := fn(&sqliteCycle{tx: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}
	return tx.Commit()
}

// SavePriceSample appends a price history row.
func (c *sqliteCycle) SavePriceSample(ctx context.Context, sample *domain.PriceSample) error {
	if sample.Timestamp.IsZero() {
		sample.Timestamp = time.Now().UTC()
	}
	res, err := c.tx.ExecContext(ctx, `
		INSERT INTO price_history (timestamp, price_no_2fa, price_2fa)
		VALUES (?, ?, ?)`,
		sample.Timestamp, sample.PricePlain, sample.PriceTwoFA)
	if err != nil {
		return err
	}
	sample.ID, err = res.LastInsertId()
	return err
}

// ListActiveOrders returns all active orders sorted by ascending target
// price, so the cheapest orders are serviced first under a constrained
// balance.
func (c *sqliteCycle) ListActiveOrders(ctx context.Context) ([]domain.Order, error) {
	return scanOrders(ctx, c.tx, `
		SELECT id, user_id, variant, target_price, quantity, status, created_at, completed_at
		FROM orders WHERE status = ? ORDER BY target_price ASC, id ASC`,
		string(domain.OrderStatusActive))
}

// RecordFill records a purchase with its accounts and transitions the parent
// order to completed, all within the cycle transaction.
func (c *sqliteCycle) RecordFill(ctx context.Context, purchase *domain.Purchase, accounts []domain.Account) error {
	if purchase.PurchasedAt.IsZero() {
		purchase.PurchasedAt = time.Now().UTC()
	}
	completedAt := purchase.PurchasedAt

	res, err := c.tx.ExecContext(ctx, `
		UPDATE orders SET status = ?, completed_at = ? WHERE id = ? AND status = ?`,
		string(domain.OrderStatusCompleted), completedAt, purchase.OrderID,
		string(domain.OrderStatusActive))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrAlreadyTerminal
	}

	res, err = c.tx.ExecContext(ctx, `
		INSERT INTO purchases (order_id, pack_id, accounts_count, price_paid, total_price, variant, purchased_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		purchase.OrderID, purchase.PackID, purchase.AccountsCount,
		purchase.PricePaid, purchase.TotalPrice, string(purchase.Variant), purchase.PurchasedAt)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return fmt.Errorf("%w: %s", ErrDuplicatePack, purchase.PackID)
		}
		return err
	}
	purchase.ID, err = res.LastInsertId()
	if err != nil {
		return err
	}

	for i := range accounts {
		accounts[i].PurchaseID = purchase.ID
		if accounts[i].Status == "" {
			accounts[i].Status = domain.AccountStatusAvailable
		}
		res, err := c.tx.ExecContext(ctx, `
			INSERT INTO accounts (purchase_id, email, password, recovery_email,
				recovery_messages_url, authenticator_token, app_password, messages_url, status)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			accounts[i].PurchaseID, accounts[i].Email, accounts[i].Password,
			accounts[i].RecoveryEmail, accounts[i].RecoveryMessagesURL,
			accounts[i].AuthenticatorToken, accounts[i].AppPassword,
			accounts[i].MessagesURL, string(accounts[i].Status))
		if err != nil {
			return err
		}
		if accounts[i].ID, err = res.LastInsertId(); err != nil {
			return err
		}
	}
	return nil
}

// requireRow converts a zero-row update into ErrNotFound.
func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
