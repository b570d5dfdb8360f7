package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"agendapos/backend/internal/domain"
	"agendapos/backend/internal/store"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// migrate creates the schema. The two unique indexes carry invariants the
// store relies on: cash_sessions_open_branch_key keeps at most one open
// session per branch, sales_booking_key keeps one sale per booking. The
// statements run one at a time; pgx's extended protocol rejects
// multi-statement batches.
func (s *Store) migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS bookings (
			id TEXT PRIMARY KEY,
			branch_id TEXT NOT NULL,
			customer_id TEXT NOT NULL,
			service_id TEXT NOT NULL,
			staff_id TEXT,
			resource_id TEXT,
			starts_at TIMESTAMPTZ NOT NULL,
			ends_at TIMESTAMPTZ NOT NULL,
			status TEXT NOT NULL,
			sale_id TEXT,
			payment_method TEXT,
			note TEXT,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS bookings_branch_status_idx
			ON bookings (branch_id, status)`,

		`CREATE TABLE IF NOT EXISTS sales (
			id TEXT PRIMARY KEY,
			branch_id TEXT NOT NULL,
			customer_id TEXT,
			booking_id TEXT,
			total NUMERIC(12,2) NOT NULL,
			payment_method TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS sales_booking_key
			ON sales (booking_id) WHERE booking_id IS NOT NULL`,

		`CREATE TABLE IF NOT EXISTS sale_lines (
			sale_id TEXT NOT NULL REFERENCES sales(id),
			position INT NOT NULL,
			product_id TEXT,
			description TEXT NOT NULL,
			quantity INT NOT NULL,
			unit_price NUMERIC(12,2) NOT NULL,
			total NUMERIC(12,2) NOT NULL,
			PRIMARY KEY (sale_id, position)
		)`,

		`CREATE TABLE IF NOT EXISTS products (
			id TEXT PRIMARY KEY,
			branch_id TEXT NOT NULL,
			sku TEXT NOT NULL,
			name TEXT NOT NULL,
			price NUMERIC(12,2) NOT NULL,
			active BOOLEAN NOT NULL DEFAULT TRUE
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS products_branch_sku_key
			ON products (branch_id, sku)`,

		`CREATE TABLE IF NOT EXISTS stocks (
			product_id TEXT PRIMARY KEY REFERENCES products(id),
			min_stock INT NOT NULL DEFAULT 0,
			current_stock INT NOT NULL DEFAULT 0 CHECK (current_stock >= 0)
		)`,

		`CREATE TABLE IF NOT EXISTS stock_movements (
			id TEXT PRIMARY KEY,
			branch_id TEXT NOT NULL,
			product_id TEXT NOT NULL REFERENCES products(id),
			quantity INT NOT NULL,
			type TEXT NOT NULL,
			total_price NUMERIC(12,2),
			reference_type TEXT,
			reference_id TEXT,
			note TEXT,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS stock_movements_product_idx
			ON stock_movements (product_id, created_at)`,

		`CREATE TABLE IF NOT EXISTS cash_sessions (
			id TEXT PRIMARY KEY,
			branch_id TEXT NOT NULL,
			opened_by TEXT,
			expected_open NUMERIC(12,2) NOT NULL,
			expected_close NUMERIC(12,2),
			open_note TEXT,
			close_note TEXT,
			opened_at TIMESTAMPTZ NOT NULL,
			closed_at TIMESTAMPTZ
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS cash_sessions_open_branch_key
			ON cash_sessions (branch_id) WHERE closed_at IS NULL`,

		`CREATE TABLE IF NOT EXISTS cash_movements (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES cash_sessions(id),
			type TEXT NOT NULL,
			amount NUMERIC(12,2) NOT NULL CHECK (amount > 0),
			reason TEXT,
			sale_id TEXT,
			expense_id TEXT,
			note TEXT,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS cash_movements_session_idx
			ON cash_movements (session_id, created_at)`,

		`CREATE TABLE IF NOT EXISTS expenses (
			id TEXT PRIMARY KEY,
			branch_id TEXT NOT NULL,
			concept TEXT NOT NULL,
			amount NUMERIC(12,2) NOT NULL CHECK (amount > 0),
			paid_from TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS audit_logs (
			id TEXT PRIMARY KEY,
			branch_id TEXT NOT NULL,
			actor_username TEXT NOT NULL,
			actor_role TEXT NOT NULL,
			action TEXT NOT NULL,
			entity_type TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			detail TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS audit_logs_branch_idx
			ON audit_logs (branch_id, created_at DESC)`,

		`CREATE TABLE IF NOT EXISTS users (
			username TEXT PRIMARY KEY,
			password TEXT NOT NULL,
			role TEXT NOT NULL,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// --- bookings ---

func (s *Store) CreateBooking(ctx context.Context, b domain.Booking) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bookings (id, branch_id, customer_id, service_id, staff_id, resource_id, starts_at, ends_at, status, note, created_at, updated_at)
		VALUES ($1,$2,$3,$4,NULLIF($5,''),NULLIF($6,''),$7,$8,$9,$10,$11,$12)
	`, b.ID, b.BranchID, b.CustomerID, b.ServiceID, b.StaffID, b.ResourceID, b.StartsAt, b.EndsAt, string(b.Status), b.Note, b.CreatedAt, b.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return err
	}
	return nil
}

const bookingColumns = `
	id, branch_id, customer_id, service_id, COALESCE(staff_id,''), COALESCE(resource_id,''),
	starts_at, ends_at, status, COALESCE(sale_id,''), COALESCE(payment_method,''), COALESCE(note,''),
	created_at, updated_at
`

func scanBooking(row interface{ Scan(...any) error }) (domain.Booking, error) {
	var b domain.Booking
	var status, method string
	err := row.Scan(&b.ID, &b.BranchID, &b.CustomerID, &b.ServiceID, &b.StaffID, &b.ResourceID,
		&b.StartsAt, &b.EndsAt, &status, &b.SaleID, &method, &b.Note, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return domain.Booking{}, err
	}
	b.Status = domain.BookingStatus(status)
	b.PaymentMethod = domain.PaymentMethod(method)
	return b, nil
}

func (s *Store) GetBooking(ctx context.Context, id string) (domain.Booking, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id)
	b, err := scanBooking(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Booking{}, store.ErrNotFound
		}
		return domain.Booking{}, err
	}
	return b, nil
}

func (s *Store) ListBookings(ctx context.Context, branchID string, status domain.BookingStatus) ([]domain.Booking, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE branch_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY starts_at, id
	`, branchID, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	bookings := make([]domain.Booking, 0, 32)
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

func (s *Store) UpdateBookingStatus(ctx context.Context, id string, from, to domain.BookingStatus, at time.Time) (domain.Booking, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE bookings
		SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4
		RETURNING `+bookingColumns+`
	`, string(to), at, id, string(from))
	b, err := scanBooking(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Either the booking is missing or its status moved on.
			if _, getErr := s.GetBooking(ctx, id); errors.Is(getErr, store.ErrNotFound) {
				return domain.Booking{}, store.ErrNotFound
			}
			return domain.Booking{}, fmt.Errorf("%w: booking %s changed state", store.ErrConflict, id)
		}
		return domain.Booking{}, err
	}
	return b, nil
}

// --- settlement ---

// SettleBooking runs the full settlement write set in one serializable
// transaction. The booking, stock and session rows are locked and
// re-validated before any write.
func (s *Store) SettleBooking(ctx context.Context, st store.Settlement) (domain.Sale, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return domain.Sale{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var status string
	err = tx.QueryRowContext(ctx, `SELECT status FROM bookings WHERE id = $1 FOR UPDATE`, st.Booking.ID).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Sale{}, store.ErrNotFound
		}
		return domain.Sale{}, err
	}
	if domain.BookingStatus(status).Terminal() {
		return domain.Sale{}, fmt.Errorf("%w: booking %s is %s", store.ErrConflict, st.Booking.ID, status)
	}

	if st.CashSessionID != "" {
		var closedAt sql.NullTime
		err = tx.QueryRowContext(ctx, `SELECT closed_at FROM cash_sessions WHERE id = $1 FOR UPDATE`, st.CashSessionID).Scan(&closedAt)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return domain.Sale{}, fmt.Errorf("%w: no open session", store.ErrConflict)
			}
			return domain.Sale{}, err
		}
		if closedAt.Valid {
			return domain.Sale{}, fmt.Errorf("%w: no open session", store.ErrConflict)
		}
	}

	for productID, delta := range st.StockDeltas {
		var current int
		err = tx.QueryRowContext(ctx, `SELECT current_stock FROM stocks WHERE product_id = $1 FOR UPDATE`, productID).Scan(&current)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return domain.Sale{}, fmt.Errorf("%w: unknown product %s", store.ErrInvalidArgument, productID)
			}
			return domain.Sale{}, err
		}
		if current+delta < 0 {
			return domain.Sale{}, fmt.Errorf("%w: insufficient stock for product %s", store.ErrConflict, productID)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE stocks SET current_stock = current_stock + $1 WHERE product_id = $2
		`, delta, productID); err != nil {
			return domain.Sale{}, err
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sales (id, branch_id, customer_id, booking_id, total, payment_method, created_at)
		VALUES ($1,$2,NULLIF($3,''),NULLIF($4,''),$5,$6,$7)
	`, st.Sale.ID, st.Sale.BranchID, st.Sale.CustomerID, st.Sale.BookingID, st.Sale.Total, string(st.Sale.PaymentMethod), st.Sale.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Sale{}, fmt.Errorf("%w: booking %s already has a sale", store.ErrConflict, st.Sale.BookingID)
		}
		return domain.Sale{}, err
	}
	for i, line := range st.Sale.Lines {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO sale_lines (sale_id, position, product_id, description, quantity, unit_price, total)
			VALUES ($1,$2,NULLIF($3,''),$4,$5,$6,$7)
		`, st.Sale.ID, i, line.ProductID, line.Description, line.Quantity, line.UnitPrice, line.Total); err != nil {
			return domain.Sale{}, err
		}
	}

	for _, m := range st.StockMoves {
		if err := insertStockMovement(ctx, tx, m); err != nil {
			return domain.Sale{}, err
		}
	}
	for _, m := range st.CashMoves {
		if err := insertCashMovement(ctx, tx, m); err != nil {
			return domain.Sale{}, err
		}
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE bookings SET status = $1, sale_id = $2, payment_method = $3, updated_at = $4 WHERE id = $5
	`, string(domain.BookingCompleted), st.Sale.ID, string(st.Sale.PaymentMethod), st.SettledAt, st.Booking.ID); err != nil {
		return domain.Sale{}, err
	}

	if err := tx.Commit(); err != nil {
		return domain.Sale{}, err
	}
	return st.Sale, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertStockMovement(ctx context.Context, ex execer, m domain.StockMovement) error {
	var total decimal.NullDecimal
	if m.TotalPrice != nil {
		total = decimal.NullDecimal{Decimal: *m.TotalPrice, Valid: true}
	}
	_, err := ex.ExecContext(ctx, `
		INSERT INTO stock_movements (id, branch_id, product_id, quantity, type, total_price, reference_type, reference_id, note, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,NULLIF($7,''),NULLIF($8,''),$9,$10)
	`, m.ID, m.BranchID, m.ProductID, m.Quantity, string(m.Type), total, m.ReferenceType, m.ReferenceID, m.Note, m.CreatedAt)
	return err
}

func insertCashMovement(ctx context.Context, ex execer, m domain.CashMovement) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO cash_movements (id, session_id, type, amount, reason, sale_id, expense_id, note, created_at)
		VALUES ($1,$2,$3,$4,$5,NULLIF($6,''),NULLIF($7,''),$8,$9)
	`, m.ID, m.SessionID, string(m.Type), m.Amount, m.Reason, m.SaleID, m.ExpenseID, m.Note, m.CreatedAt)
	return err
}

// --- products and stock ---

func (s *Store) CreateProduct(ctx context.Context, p domain.Product, stock domain.Stock, initial *domain.StockMovement) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO products (id, branch_id, sku, name, price, active)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, p.ID, p.BranchID, p.SKU, p.Name, p.Price, p.Active)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: sku %s already exists", store.ErrConflict, p.SKU)
		}
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO stocks (product_id, min_stock, current_stock)
		VALUES ($1,$2,$3)
	`, stock.ProductID, stock.MinStock, stock.CurrentStock); err != nil {
		return err
	}
	if initial != nil {
		if err := insertStockMovement(ctx, tx, *initial); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	var p domain.Product
	err := s.db.QueryRowContext(ctx, `
		SELECT id, branch_id, sku, name, price, active FROM products WHERE id = $1
	`, id).Scan(&p.ID, &p.BranchID, &p.SKU, &p.Name, &p.Price, &p.Active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, store.ErrNotFound
		}
		return domain.Product{}, err
	}
	return p, nil
}

func (s *Store) GetStock(ctx context.Context, productID string) (domain.Stock, error) {
	var st domain.Stock
	err := s.db.QueryRowContext(ctx, `
		SELECT product_id, min_stock, current_stock FROM stocks WHERE product_id = $1
	`, productID).Scan(&st.ProductID, &st.MinStock, &st.CurrentStock)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Stock{}, store.ErrNotFound
		}
		return domain.Stock{}, err
	}
	return st, nil
}

func (s *Store) ListProducts(ctx context.Context, branchID string) ([]domain.ProductWithStock, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.branch_id, p.sku, p.name, p.price, p.active, st.min_stock, st.current_stock
		FROM products p
		JOIN stocks st ON st.product_id = p.id
		WHERE p.branch_id = $1
		ORDER BY p.name
	`, branchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.ProductWithStock, 0, 64)
	for rows.Next() {
		var pws domain.ProductWithStock
		if err := rows.Scan(&pws.Product.ID, &pws.Product.BranchID, &pws.Product.SKU, &pws.Product.Name,
			&pws.Product.Price, &pws.Product.Active, &pws.Stock.MinStock, &pws.Stock.CurrentStock); err != nil {
			return nil, err
		}
		pws.Stock.ProductID = pws.Product.ID
		products = append(products, pws)
	}
	return products, rows.Err()
}

func (s *Store) ApplyStockMovement(ctx context.Context, m domain.StockMovement) (domain.Stock, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return domain.Stock{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var st domain.Stock
	err = tx.QueryRowContext(ctx, `
		SELECT product_id, min_stock, current_stock FROM stocks WHERE product_id = $1 FOR UPDATE
	`, m.ProductID).Scan(&st.ProductID, &st.MinStock, &st.CurrentStock)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Stock{}, store.ErrNotFound
		}
		return domain.Stock{}, err
	}
	if st.CurrentStock+m.Quantity < 0 {
		return domain.Stock{}, fmt.Errorf("%w: insufficient stock for product %s", store.ErrConflict, m.ProductID)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE stocks SET current_stock = current_stock + $1 WHERE product_id = $2
	`, m.Quantity, m.ProductID); err != nil {
		return domain.Stock{}, err
	}
	if err := insertStockMovement(ctx, tx, m); err != nil {
		return domain.Stock{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Stock{}, err
	}
	st.CurrentStock += m.Quantity
	return st, nil
}

const stockMovementColumns = `
	id, branch_id, product_id, quantity, type, total_price,
	COALESCE(reference_type,''), COALESCE(reference_id,''), COALESCE(note,''), created_at
`

func scanStockMovement(row interface{ Scan(...any) error }) (domain.StockMovement, error) {
	var m domain.StockMovement
	var typ string
	var total decimal.NullDecimal
	err := row.Scan(&m.ID, &m.BranchID, &m.ProductID, &m.Quantity, &typ, &total,
		&m.ReferenceType, &m.ReferenceID, &m.Note, &m.CreatedAt)
	if err != nil {
		return domain.StockMovement{}, err
	}
	m.Type = domain.StockMovementType(typ)
	if total.Valid {
		m.TotalPrice = &total.Decimal
	}
	return m, nil
}

func (s *Store) GetStockMovement(ctx context.Context, id string) (domain.StockMovement, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+stockMovementColumns+` FROM stock_movements WHERE id = $1`, id)
	m, err := scanStockMovement(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.StockMovement{}, store.ErrNotFound
		}
		return domain.StockMovement{}, err
	}
	return m, nil
}

func (s *Store) RemoveStockMovement(ctx context.Context, id string) (domain.Stock, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return domain.Stock{}, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `SELECT `+stockMovementColumns+` FROM stock_movements WHERE id = $1 FOR UPDATE`, id)
	m, err := scanStockMovement(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Stock{}, store.ErrNotFound
		}
		return domain.Stock{}, err
	}
	if m.Referenced() {
		return domain.Stock{}, fmt.Errorf("%w: movement %s is referenced by a %s", store.ErrInvalidArgument, id, m.ReferenceType)
	}

	var st domain.Stock
	err = tx.QueryRowContext(ctx, `
		SELECT product_id, min_stock, current_stock FROM stocks WHERE product_id = $1 FOR UPDATE
	`, m.ProductID).Scan(&st.ProductID, &st.MinStock, &st.CurrentStock)
	if err != nil {
		return domain.Stock{}, err
	}
	if st.CurrentStock-m.Quantity < 0 {
		return domain.Stock{}, fmt.Errorf("%w: reversing movement %s would make stock negative", store.ErrConflict, id)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE stocks SET current_stock = current_stock - $1 WHERE product_id = $2
	`, m.Quantity, m.ProductID); err != nil {
		return domain.Stock{}, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM stock_movements WHERE id = $1`, id); err != nil {
		return domain.Stock{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Stock{}, err
	}
	st.CurrentStock -= m.Quantity
	return st, nil
}

func (s *Store) ListStockMovements(ctx context.Context, f store.StockFilter) ([]domain.StockMovement, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+stockMovementColumns+`
		FROM stock_movements
		WHERE ($1 = '' OR branch_id = $1) AND ($2 = '' OR product_id = $2)
		ORDER BY created_at DESC, id DESC
	`, f.BranchID, f.ProductID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	movements := make([]domain.StockMovement, 0, 32)
	for rows.Next() {
		m, err := scanStockMovement(rows)
		if err != nil {
			return nil, err
		}
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

// --- cash sessions ---

func (s *Store) OpenCashSession(ctx context.Context, session domain.CashSession) error {
	// cash_sessions_open_branch_key (see migrate) turns a second open
	// session for the branch into a unique violation.
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cash_sessions (id, branch_id, opened_by, expected_open, open_note, opened_at)
		VALUES ($1,$2,NULLIF($3,''),$4,$5,$6)
	`, session.ID, session.BranchID, session.OpenedBy, session.ExpectedOpen, session.OpenNote, session.OpenedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: a session is already open for branch %s", store.ErrConflict, session.BranchID)
		}
		return err
	}
	return nil
}

const sessionColumns = `
	id, branch_id, COALESCE(opened_by,''), expected_open, expected_close,
	COALESCE(open_note,''), COALESCE(close_note,''), opened_at, closed_at
`

func scanSession(row interface{ Scan(...any) error }) (domain.CashSession, error) {
	var cs domain.CashSession
	var expectedClose decimal.NullDecimal
	var closedAt sql.NullTime
	err := row.Scan(&cs.ID, &cs.BranchID, &cs.OpenedBy, &cs.ExpectedOpen, &expectedClose,
		&cs.OpenNote, &cs.CloseNote, &cs.OpenedAt, &closedAt)
	if err != nil {
		return domain.CashSession{}, err
	}
	if expectedClose.Valid {
		cs.ExpectedClose = &expectedClose.Decimal
	}
	if closedAt.Valid {
		t := closedAt.Time
		cs.ClosedAt = &t
	}
	return cs, nil
}

func (s *Store) GetCashSession(ctx context.Context, id string) (domain.CashSession, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM cash_sessions WHERE id = $1`, id)
	cs, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.CashSession{}, store.ErrNotFound
		}
		return domain.CashSession{}, err
	}
	return cs, nil
}

func (s *Store) ActiveCashSession(ctx context.Context, branchID string) (domain.CashSession, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+` FROM cash_sessions WHERE branch_id = $1 AND closed_at IS NULL
	`, branchID)
	cs, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.CashSession{}, store.ErrNotFound
		}
		return domain.CashSession{}, err
	}
	return cs, nil
}

func (s *Store) CloseCashSession(ctx context.Context, id string, expectedClose *decimal.Decimal, note string, at time.Time) (domain.CashSession, error) {
	var expected decimal.NullDecimal
	if expectedClose != nil {
		expected = decimal.NullDecimal{Decimal: *expectedClose, Valid: true}
	}
	row := s.db.QueryRowContext(ctx, `
		UPDATE cash_sessions
		SET expected_close = $1, close_note = $2, closed_at = $3
		WHERE id = $4 AND closed_at IS NULL
		RETURNING `+sessionColumns+`
	`, expected, note, at, id)
	cs, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			if _, getErr := s.GetCashSession(ctx, id); errors.Is(getErr, store.ErrNotFound) {
				return domain.CashSession{}, store.ErrNotFound
			}
			return domain.CashSession{}, fmt.Errorf("%w: session %s is already closed", store.ErrConflict, id)
		}
		return domain.CashSession{}, err
	}
	return cs, nil
}

func (s *Store) AddCashMovement(ctx context.Context, m domain.CashMovement) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var closedAt sql.NullTime
	err = tx.QueryRowContext(ctx, `SELECT closed_at FROM cash_sessions WHERE id = $1 FOR UPDATE`, m.SessionID).Scan(&closedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		return err
	}
	if closedAt.Valid {
		return fmt.Errorf("%w: session %s is closed", store.ErrConflict, m.SessionID)
	}

	if err := insertCashMovement(ctx, tx, m); err != nil {
		return err
	}
	return tx.Commit()
}

const cashMovementColumns = `
	id, session_id, type, amount, COALESCE(reason,''), COALESCE(sale_id,''),
	COALESCE(expense_id,''), COALESCE(note,''), created_at
`

func scanCashMovement(row interface{ Scan(...any) error }) (domain.CashMovement, error) {
	var m domain.CashMovement
	var typ string
	err := row.Scan(&m.ID, &m.SessionID, &typ, &m.Amount, &m.Reason, &m.SaleID, &m.ExpenseID, &m.Note, &m.CreatedAt)
	if err != nil {
		return domain.CashMovement{}, err
	}
	m.Type = domain.CashMovementType(typ)
	return m, nil
}

func (s *Store) GetCashMovement(ctx context.Context, id string) (domain.CashMovement, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+cashMovementColumns+` FROM cash_movements WHERE id = $1`, id)
	m, err := scanCashMovement(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.CashMovement{}, store.ErrNotFound
		}
		return domain.CashMovement{}, err
	}
	return m, nil
}

func (s *Store) RemoveCashMovement(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `SELECT `+cashMovementColumns+` FROM cash_movements WHERE id = $1 FOR UPDATE`, id)
	m, err := scanCashMovement(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		return err
	}
	if m.Referenced() {
		return fmt.Errorf("%w: movement %s is tied to a sale or expense", store.ErrInvalidArgument, id)
	}

	var closedAt sql.NullTime
	if err := tx.QueryRowContext(ctx, `SELECT closed_at FROM cash_sessions WHERE id = $1`, m.SessionID).Scan(&closedAt); err != nil {
		return err
	}
	if closedAt.Valid {
		return fmt.Errorf("%w: session %s is closed", store.ErrInvalidArgument, m.SessionID)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM cash_movements WHERE id = $1`, id); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) ListCashMovements(ctx context.Context, sessionID string) ([]domain.CashMovement, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+cashMovementColumns+` FROM cash_movements WHERE session_id = $1 ORDER BY created_at, id
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	movements := make([]domain.CashMovement, 0, 32)
	for rows.Next() {
		m, err := scanCashMovement(rows)
		if err != nil {
			return nil, err
		}
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

// --- sales ---

func (s *Store) GetSale(ctx context.Context, id string) (domain.Sale, error) {
	var sale domain.Sale
	var method string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, branch_id, COALESCE(customer_id,''), COALESCE(booking_id,''), total, payment_method, created_at
		FROM sales WHERE id = $1
	`, id).Scan(&sale.ID, &sale.BranchID, &sale.CustomerID, &sale.BookingID, &sale.Total, &method, &sale.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Sale{}, store.ErrNotFound
		}
		return domain.Sale{}, err
	}
	sale.PaymentMethod = domain.PaymentMethod(method)

	rows, err := s.db.QueryContext(ctx, `
		SELECT COALESCE(product_id,''), description, quantity, unit_price, total
		FROM sale_lines WHERE sale_id = $1 ORDER BY position
	`, id)
	if err != nil {
		return domain.Sale{}, err
	}
	defer rows.Close()

	for rows.Next() {
		var line domain.SaleLine
		if err := rows.Scan(&line.ProductID, &line.Description, &line.Quantity, &line.UnitPrice, &line.Total); err != nil {
			return domain.Sale{}, err
		}
		sale.Lines = append(sale.Lines, line)
	}
	return sale, rows.Err()
}

// --- expenses ---

func (s *Store) CreateExpense(ctx context.Context, e domain.Expense, cm *domain.CashMovement) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if cm != nil {
		var closedAt sql.NullTime
		err = tx.QueryRowContext(ctx, `SELECT closed_at FROM cash_sessions WHERE id = $1 FOR UPDATE`, cm.SessionID).Scan(&closedAt)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return store.ErrNotFound
			}
			return err
		}
		if closedAt.Valid {
			return fmt.Errorf("%w: session %s is closed", store.ErrConflict, cm.SessionID)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO expenses (id, branch_id, concept, amount, paid_from, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, e.ID, e.BranchID, e.Concept, e.Amount, e.PaidFrom, e.CreatedAt); err != nil {
		return err
	}
	if cm != nil {
		if err := insertCashMovement(ctx, tx, *cm); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// --- audit ---

func (s *Store) AppendAuditLog(ctx context.Context, l domain.AuditLog) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, branch_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, l.ID, l.BranchID, l.ActorUsername, l.ActorRole, l.Action, l.EntityType, l.EntityID, l.Detail, l.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, branchID string, limit int) ([]domain.AuditLog, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, branch_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE ($1 = '' OR branch_id = $1)
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, branchID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var l domain.AuditLog
		if err := rows.Scan(&l.ID, &l.BranchID, &l.ActorUsername, &l.ActorRole, &l.Action, &l.EntityType, &l.EntityID, &l.Detail, &l.CreatedAt); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// --- users ---

func (s *Store) GetUser(ctx context.Context, username string) (domain.UserAccount, error) {
	var u domain.UserAccount
	err := s.db.QueryRowContext(ctx, `
		SELECT username, password, role, active, created_at FROM users WHERE username = $1
	`, username).Scan(&u.Username, &u.Password, &u.Role, &u.Active, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.UserAccount{}, store.ErrNotFound
		}
		return domain.UserAccount{}, err
	}
	return u, nil
}

func (s *Store) CreateUser(ctx context.Context, u domain.UserAccount) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password, role, active, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, u.Username, u.Password, u.Role, u.Active, u.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET password = $1 WHERE username = $2`, password, username)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at FROM users ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var u domain.UserAccount
		if err := rows.Scan(&u.Username, &u.Password, &u.Role, &u.Active, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
