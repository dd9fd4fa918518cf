package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"apotekpos/backend/internal/domain"
	"apotekpos/backend/internal/store"
	"apotekpos/backend/internal/xid"
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

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates the schema. Statements are idempotent so the server
// can run this on every start.
func (s *Store) Migrate(ctx context.Context) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS medicines (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			category TEXT NOT NULL,
			price BIGINT NOT NULL,
			stock INT NOT NULL CHECK (stock >= 0),
			description TEXT NOT NULL DEFAULT '',
			expiry_date DATE,
			image_path TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE TABLE IF NOT EXISTS transactions (
			id TEXT PRIMARY KEY,
			number TEXT NOT NULL UNIQUE,
			cashier_username TEXT NOT NULL,
			total_amount BIGINT NOT NULL,
			payment_amount BIGINT NOT NULL,
			change_amount BIGINT NOT NULL,
			status TEXT NOT NULL,
			cancelled_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS transaction_items (
			transaction_id TEXT NOT NULL REFERENCES transactions(id) ON DELETE CASCADE,
			medicine_id TEXT NOT NULL,
			medicine_name TEXT NOT NULL,
			qty INT NOT NULL,
			unit_price BIGINT NOT NULL,
			subtotal BIGINT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS transaction_counters (
			day TEXT PRIMARY KEY,
			seq INT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS daily_sales (
			id TEXT PRIMARY KEY,
			sale_date TEXT NOT NULL,
			cashier_username TEXT NOT NULL,
			total_amount BIGINT NOT NULL DEFAULT 0,
			transaction_count INT NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (sale_date, cashier_username)
		);`,
		`CREATE TABLE IF NOT EXISTS daily_sale_items (
			daily_sale_id TEXT NOT NULL REFERENCES daily_sales(id) ON DELETE CASCADE,
			medicine_id TEXT NOT NULL,
			medicine_name TEXT NOT NULL,
			qty INT NOT NULL,
			revenue BIGINT NOT NULL,
			UNIQUE (daily_sale_id, medicine_id)
		);`,
		`CREATE TABLE IF NOT EXISTS reports (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			title TEXT NOT NULL,
			start_date TIMESTAMPTZ NOT NULL,
			end_date TIMESTAMPTZ NOT NULL,
			generated_by TEXT NOT NULL,
			summary JSONB NOT NULL,
			pdf_path TEXT,
			created_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS audit_logs (
			id TEXT PRIMARY KEY,
			actor_username TEXT NOT NULL,
			actor_role TEXT NOT NULL,
			action TEXT NOT NULL,
			entity_type TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			detail TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS users (
			username TEXT PRIMARY KEY,
			password TEXT NOT NULL,
			role TEXT NOT NULL,
			active BOOLEAN NOT NULL DEFAULT true,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_created_at ON transactions (created_at);`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_status ON transactions (status);`,
		`CREATE INDEX IF NOT EXISTS idx_reports_type_created ON reports (type, created_at DESC);`,
	}

	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *Store) ListMedicines(ctx context.Context) ([]domain.Medicine, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, category, price, stock, description, expiry_date, COALESCE(image_path,''), created_at, updated_at
		FROM medicines
		ORDER BY category, name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	medicines := make([]domain.Medicine, 0, 128)
	for rows.Next() {
		m, err := scanMedicine(rows)
		if err != nil {
			return nil, err
		}
		medicines = append(medicines, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return medicines, nil
}

func (s *Store) GetMedicineByID(ctx context.Context, id string) (*domain.Medicine, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, category, price, stock, description, expiry_date, COALESCE(image_path,''), created_at, updated_at
		FROM medicines
		WHERE id = $1
	`, id)
	m, err := scanMedicine(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

func (s *Store) GetMedicinesByIDs(ctx context.Context, ids []string) (map[string]domain.Medicine, error) {
	result := make(map[string]domain.Medicine, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, category, price, stock, description, expiry_date, COALESCE(image_path,''), created_at, updated_at
		FROM medicines
		WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		m, err := scanMedicine(rows)
		if err != nil {
			return nil, err
		}
		result[m.ID] = m
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (s *Store) CreateMedicine(ctx context.Context, medicine domain.Medicine) (*domain.Medicine, error) {
	if medicine.Name == "" || medicine.Category == "" || medicine.Price < 1 || medicine.Stock < 0 {
		return nil, store.ErrInvalidInput
	}
	if medicine.ID == "" {
		medicine.ID = xid.New("med")
	}
	now := time.Now().UTC()
	if medicine.CreatedAt.IsZero() {
		medicine.CreatedAt = now
	}
	medicine.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO medicines (id, name, category, price, stock, description, expiry_date, image_path, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, medicine.ID, medicine.Name, medicine.Category, medicine.Price, medicine.Stock, medicine.Description,
		nullDate(medicine.ExpiryDate), nullIfEmpty(medicine.ImagePath), medicine.CreatedAt, medicine.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidInput
		}
		return nil, err
	}

	created := medicine
	return &created, nil
}

func (s *Store) UpdateMedicine(ctx context.Context, medicine domain.Medicine) (*domain.Medicine, error) {
	if medicine.Name == "" || medicine.Category == "" || medicine.Price < 1 || medicine.Stock < 0 {
		return nil, store.ErrInvalidInput
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE medicines
		SET name = $2, category = $3, price = $4, stock = $5, description = $6,
			expiry_date = $7, image_path = $8, updated_at = now()
		WHERE id = $1
	`, medicine.ID, medicine.Name, medicine.Category, medicine.Price, medicine.Stock, medicine.Description,
		nullDate(medicine.ExpiryDate), nullIfEmpty(medicine.ImagePath))
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}

	return s.GetMedicineByID(ctx, medicine.ID)
}

func (s *Store) DeleteMedicine(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM medicines WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) CountMedicines(ctx context.Context) (domain.MedicineStats, error) {
	var stats domain.MedicineStats
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE stock < $1)
		FROM medicines
	`, domain.LowStockThreshold).Scan(&stats.Total, &stats.LowStock)
	if err != nil {
		return domain.MedicineStats{}, err
	}
	return stats, nil
}

// CreateTransaction runs the whole sale in one serializable database
// transaction: stock rows are locked and re-checked, the per-day
// sequence is taken from transaction_counters, and the daily_sales
// rollup is upserted before commit. A rollback undoes all of it.
// Same-day sales all touch the same counter row, so a serialization
// failure is retried once before surfacing.
func (s *Store) CreateTransaction(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error) {
	created, err := s.createTransaction(ctx, tx)
	if isSerializationFailure(err) {
		created, err = s.createTransaction(ctx, tx)
	}
	return created, err
}

func (s *Store) createTransaction(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error) {
	if len(tx.Items) == 0 || tx.CashierUsername == "" {
		return nil, store.ErrInvalidInput
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	ids := uniqueMedicineIDs(tx.Items)
	if len(ids) == 0 {
		return nil, store.ErrInvalidInput
	}

	medicineRows, err := pgTx.QueryContext(ctx, `
		SELECT id, name, price, stock
		FROM medicines
		WHERE id = ANY($1)
		FOR UPDATE
	`, ids)
	if err != nil {
		return nil, err
	}
	type medicineState struct {
		name  string
		price int64
		stock int
	}
	medicineMap := make(map[string]medicineState, len(ids))
	for medicineRows.Next() {
		var id string
		var m medicineState
		if err := medicineRows.Scan(&id, &m.name, &m.price, &m.stock); err != nil {
			_ = medicineRows.Close()
			return nil, err
		}
		medicineMap[id] = m
	}
	if err := medicineRows.Err(); err != nil {
		_ = medicineRows.Close()
		return nil, err
	}
	_ = medicineRows.Close()

	total := int64(0)
	recomputedItems := make([]domain.TransactionItem, 0, len(tx.Items))
	for _, item := range tx.Items {
		if item.Qty < 1 {
			return nil, store.ErrInvalidInput
		}
		medicine, exists := medicineMap[item.MedicineID]
		if !exists {
			return nil, fmt.Errorf("medicine %s: %w", item.MedicineID, store.ErrNotFound)
		}
		if medicine.stock < item.Qty {
			return nil, store.ErrInsufficientStock
		}
		medicine.stock -= item.Qty
		medicineMap[item.MedicineID] = medicine

		_, err = pgTx.ExecContext(ctx, `
			UPDATE medicines
			SET stock = stock - $1, updated_at = now()
			WHERE id = $2
		`, item.Qty, item.MedicineID)
		if err != nil {
			return nil, err
		}

		subtotal := medicine.price * int64(item.Qty)
		recomputedItems = append(recomputedItems, domain.TransactionItem{
			MedicineID:   item.MedicineID,
			MedicineName: medicine.name,
			Qty:          item.Qty,
			UnitPrice:    medicine.price,
			Subtotal:     subtotal,
		})
		total += subtotal
	}

	if tx.PaymentAmount < total {
		return nil, store.ErrPaymentTooLow
	}

	dayKey := tx.CreatedAt.Format("060102")
	var seq int
	err = pgTx.QueryRowContext(ctx, `
		INSERT INTO transaction_counters (day, seq)
		VALUES ($1, 1)
		ON CONFLICT (day) DO UPDATE SET seq = transaction_counters.seq + 1
		RETURNING seq
	`, dayKey).Scan(&seq)
	if err != nil {
		return nil, err
	}
	tx.Number = fmt.Sprintf("TRX-%s-%04d", dayKey, seq)

	if tx.ID == "" {
		tx.ID = xid.New("trx")
	}
	tx.Items = recomputedItems
	tx.TotalAmount = total
	tx.ChangeAmount = tx.PaymentAmount - total
	tx.Status = domain.TxStatusCompleted
	tx.CancelledAt = nil

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO transactions (id, number, cashier_username, total_amount, payment_amount, change_amount, status, cancelled_at, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,NULL,$8)
	`, tx.ID, tx.Number, tx.CashierUsername, tx.TotalAmount, tx.PaymentAmount, tx.ChangeAmount, tx.Status, tx.CreatedAt)
	if err != nil {
		return nil, err
	}

	for _, item := range tx.Items {
		_, err := pgTx.ExecContext(ctx, `
			INSERT INTO transaction_items (transaction_id, medicine_id, medicine_name, qty, unit_price, subtotal)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, tx.ID, item.MedicineID, item.MedicineName, item.Qty, item.UnitPrice, item.Subtotal)
		if err != nil {
			return nil, err
		}
	}

	if err := applyDailySale(ctx, pgTx, &tx); err != nil {
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}

	return &tx, nil
}

func (s *Store) GetTransactionByID(ctx context.Context, id string) (*domain.Transaction, error) {
	var tx domain.Transaction
	var cancelledAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, number, cashier_username, total_amount, payment_amount, change_amount, status, cancelled_at, created_at
		FROM transactions
		WHERE id = $1
	`, id).Scan(&tx.ID, &tx.Number, &tx.CashierUsername, &tx.TotalAmount, &tx.PaymentAmount, &tx.ChangeAmount, &tx.Status, &cancelledAt, &tx.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	tx.CreatedAt = tx.CreatedAt.UTC()
	if cancelledAt.Valid {
		at := cancelledAt.Time.UTC()
		tx.CancelledAt = &at
	}

	items, err := s.loadItems(ctx, []string{tx.ID})
	if err != nil {
		return nil, err
	}
	tx.Items = items[tx.ID]
	return &tx, nil
}

func (s *Store) ListTransactions(ctx context.Context, limit int) ([]domain.Transaction, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, number, cashier_username, total_amount, payment_amount, change_amount, status, cancelled_at, created_at
		FROM transactions
		ORDER BY created_at DESC, number DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	return s.collectTransactions(ctx, rows)
}

func (s *Store) ListCompletedTransactions(ctx context.Context, from time.Time, to time.Time) ([]domain.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, number, cashier_username, total_amount, payment_amount, change_amount, status, cancelled_at, created_at
		FROM transactions
		WHERE status = $1 AND created_at >= $2 AND created_at < $3
		ORDER BY created_at ASC, number ASC
	`, domain.TxStatusCompleted, from, to)
	if err != nil {
		return nil, err
	}
	return s.collectTransactions(ctx, rows)
}

// CancelTransaction restores stock and reverses the daily rollup in
// the same serializable transaction that flips the status. The rollup
// is keyed on the sale's original date, not the cancel date. Like
// CreateTransaction, a serialization failure is retried once.
func (s *Store) CancelTransaction(ctx context.Context, id string, at time.Time) (*domain.Transaction, error) {
	cancelled, err := s.cancelTransaction(ctx, id, at)
	if isSerializationFailure(err) {
		cancelled, err = s.cancelTransaction(ctx, id, at)
	}
	return cancelled, err
}

func (s *Store) cancelTransaction(ctx context.Context, id string, at time.Time) (*domain.Transaction, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var tx domain.Transaction
	err = pgTx.QueryRowContext(ctx, `
		SELECT id, number, cashier_username, total_amount, payment_amount, change_amount, status, created_at
		FROM transactions
		WHERE id = $1
		FOR UPDATE
	`, id).Scan(&tx.ID, &tx.Number, &tx.CashierUsername, &tx.TotalAmount, &tx.PaymentAmount, &tx.ChangeAmount, &tx.Status, &tx.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if tx.Status == domain.TxStatusCancelled {
		return nil, store.ErrAlreadyCancelled
	}
	tx.CreatedAt = tx.CreatedAt.UTC()

	itemRows, err := pgTx.QueryContext(ctx, `
		SELECT medicine_id, medicine_name, qty, unit_price, subtotal
		FROM transaction_items
		WHERE transaction_id = $1
	`, id)
	if err != nil {
		return nil, err
	}
	items := make([]domain.TransactionItem, 0, 8)
	for itemRows.Next() {
		var item domain.TransactionItem
		if err := itemRows.Scan(&item.MedicineID, &item.MedicineName, &item.Qty, &item.UnitPrice, &item.Subtotal); err != nil {
			_ = itemRows.Close()
			return nil, err
		}
		items = append(items, item)
	}
	if err := itemRows.Err(); err != nil {
		_ = itemRows.Close()
		return nil, err
	}
	_ = itemRows.Close()
	tx.Items = items

	for _, item := range items {
		res, err := pgTx.ExecContext(ctx, `
			UPDATE medicines
			SET stock = stock + $1, updated_at = now()
			WHERE id = $2
		`, item.Qty, item.MedicineID)
		if err != nil {
			return nil, err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if affected == 0 {
			log.Printf("[postgres-store] WARN: medicine %s missing during cancel of %s, stock not restored", item.MedicineID, tx.Number)
		}
	}

	if err := reverseDailySale(ctx, pgTx, &tx, at); err != nil {
		return nil, err
	}

	_, err = pgTx.ExecContext(ctx, `
		UPDATE transactions
		SET status = $2, cancelled_at = $3
		WHERE id = $1
	`, id, domain.TxStatusCancelled, at)
	if err != nil {
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}

	tx.Status = domain.TxStatusCancelled
	tx.CancelledAt = &at
	return &tx, nil
}

func (s *Store) DeleteTransaction(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM transactions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) GetDailySale(ctx context.Context, date string, cashier string) (*domain.DailySale, error) {
	var sale domain.DailySale
	err := s.db.QueryRowContext(ctx, `
		SELECT id, sale_date, cashier_username, total_amount, transaction_count, updated_at
		FROM daily_sales
		WHERE sale_date = $1 AND cashier_username = $2
	`, date, cashier).Scan(&sale.ID, &sale.Date, &sale.CashierUsername, &sale.TotalAmount, &sale.TransactionCount, &sale.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	sale.UpdatedAt = sale.UpdatedAt.UTC()

	items, err := s.loadDailySaleItems(ctx, sale.ID)
	if err != nil {
		return nil, err
	}
	sale.Items = items
	return &sale, nil
}

func (s *Store) ListDailySales(ctx context.Context, from string, to string, cashier string) ([]domain.DailySale, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sale_date, cashier_username, total_amount, transaction_count, updated_at
		FROM daily_sales
		WHERE ($1 = '' OR sale_date >= $1)
			AND ($2 = '' OR sale_date <= $2)
			AND ($3 = '' OR cashier_username = $3)
		ORDER BY sale_date ASC, cashier_username ASC
	`, from, to, cashier)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.DailySale, 0, 32)
	for rows.Next() {
		var sale domain.DailySale
		if err := rows.Scan(&sale.ID, &sale.Date, &sale.CashierUsername, &sale.TotalAmount, &sale.TransactionCount, &sale.UpdatedAt); err != nil {
			return nil, err
		}
		sale.UpdatedAt = sale.UpdatedAt.UTC()
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range sales {
		items, err := s.loadDailySaleItems(ctx, sales[i].ID)
		if err != nil {
			return nil, err
		}
		sales[i].Items = items
	}
	return sales, nil
}

func (s *Store) GetPeriodStats(ctx context.Context, from time.Time, to time.Time) (domain.PeriodStats, error) {
	var stats domain.PeriodStats
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(total_amount), 0), COUNT(*)
		FROM transactions
		WHERE status = $1 AND created_at >= $2 AND created_at < $3
	`, domain.TxStatusCompleted, from, to).Scan(&stats.TotalSales, &stats.TotalTransactions)
	if err != nil {
		return domain.PeriodStats{}, err
	}
	return stats, nil
}

func (s *Store) CreateReport(ctx context.Context, report domain.Report) (*domain.Report, error) {
	if report.ID == "" {
		report.ID = xid.New("report")
	}
	if report.CreatedAt.IsZero() {
		report.CreatedAt = time.Now().UTC()
	}
	summary, err := json.Marshal(report.Summary)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO reports (id, type, title, start_date, end_date, generated_by, summary, pdf_path, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, report.ID, report.Type, report.Title, report.StartDate, report.EndDate, report.GeneratedBy, summary, nullIfEmpty(report.PDFPath), report.CreatedAt)
	if err != nil {
		return nil, err
	}

	created := report
	return &created, nil
}

func (s *Store) GetReportByID(ctx context.Context, id string) (*domain.Report, error) {
	var report domain.Report
	var summary []byte
	var pdfPath sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, type, title, start_date, end_date, generated_by, summary, pdf_path, created_at
		FROM reports
		WHERE id = $1
	`, id).Scan(&report.ID, &report.Type, &report.Title, &report.StartDate, &report.EndDate, &report.GeneratedBy, &summary, &pdfPath, &report.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(summary, &report.Summary); err != nil {
		return nil, err
	}
	report.PDFPath = pdfPath.String
	report.StartDate = report.StartDate.UTC()
	report.EndDate = report.EndDate.UTC()
	report.CreatedAt = report.CreatedAt.UTC()
	return &report, nil
}

func (s *Store) ListReports(ctx context.Context, reportType string, limit int) ([]domain.Report, error) {
	if limit < 1 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, title, start_date, end_date, generated_by, summary, pdf_path, created_at
		FROM reports
		WHERE ($1 = '' OR type = $1)
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, reportType, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	reports := make([]domain.Report, 0, limit)
	for rows.Next() {
		var report domain.Report
		var summary []byte
		var pdfPath sql.NullString
		if err := rows.Scan(&report.ID, &report.Type, &report.Title, &report.StartDate, &report.EndDate, &report.GeneratedBy, &summary, &pdfPath, &report.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(summary, &report.Summary); err != nil {
			return nil, err
		}
		report.PDFPath = pdfPath.String
		report.StartDate = report.StartDate.UTC()
		report.EndDate = report.EndDate.UTC()
		report.CreatedAt = report.CreatedAt.UTC()
		reports = append(reports, report)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return reports, nil
}

func (s *Store) DeleteReport(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM reports WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}
	var fromArg, toArg any
	if !from.IsZero() {
		fromArg = from
	}
	if !to.IsZero() {
		toArg = to
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE ($1::timestamptz IS NULL OR created_at >= $1::timestamptz)
			AND ($2::timestamptz IS NULL OR created_at < $2::timestamptz)
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, fromArg, toArg, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		result = append(result, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.Username == "" || user.Password == "" {
		return store.ErrInvalidInput
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password, role, active, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil && isUniqueViolation(err) {
		return store.ErrInvalidInput
	}
	return err
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM users
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	if username == "" || password == "" {
		return store.ErrInvalidInput
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET password = $2 WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// applyDailySale upserts the (date, cashier) rollup inside the caller's
// transaction.
func applyDailySale(ctx context.Context, pgTx *sql.Tx, tx *domain.Transaction) error {
	date := tx.CreatedAt.Format("2006-01-02")
	var saleID string
	err := pgTx.QueryRowContext(ctx, `
		INSERT INTO daily_sales (id, sale_date, cashier_username, total_amount, transaction_count, updated_at)
		VALUES ($1,$2,$3,$4,1,$5)
		ON CONFLICT (sale_date, cashier_username)
		DO UPDATE SET total_amount = daily_sales.total_amount + EXCLUDED.total_amount,
			transaction_count = daily_sales.transaction_count + 1,
			updated_at = EXCLUDED.updated_at
		RETURNING id
	`, xid.New("sale"), date, tx.CashierUsername, tx.TotalAmount, tx.CreatedAt).Scan(&saleID)
	if err != nil {
		return err
	}

	for _, item := range tx.Items {
		_, err := pgTx.ExecContext(ctx, `
			INSERT INTO daily_sale_items (daily_sale_id, medicine_id, medicine_name, qty, revenue)
			VALUES ($1,$2,$3,$4,$5)
			ON CONFLICT (daily_sale_id, medicine_id)
			DO UPDATE SET qty = daily_sale_items.qty + EXCLUDED.qty,
				revenue = daily_sale_items.revenue + EXCLUDED.revenue
		`, saleID, item.MedicineID, item.MedicineName, item.Qty, item.Subtotal)
		if err != nil {
			return err
		}
	}
	return nil
}

// reverseDailySale subtracts a cancelled transaction from its rollup.
// A missing rollup row is logged and skipped so the cancel still
// completes.
func reverseDailySale(ctx context.Context, pgTx *sql.Tx, tx *domain.Transaction, at time.Time) error {
	date := tx.CreatedAt.Format("2006-01-02")
	var saleID string
	err := pgTx.QueryRowContext(ctx, `
		SELECT id FROM daily_sales
		WHERE sale_date = $1 AND cashier_username = $2
		FOR UPDATE
	`, date, tx.CashierUsername).Scan(&saleID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Printf("[postgres-store] WARN: no daily sale rollup for %s/%s while cancelling %s", date, tx.CashierUsername, tx.Number)
			return nil
		}
		return err
	}

	_, err = pgTx.ExecContext(ctx, `
		UPDATE daily_sales
		SET total_amount = total_amount - $2,
			transaction_count = GREATEST(transaction_count - 1, 0),
			updated_at = $3
		WHERE id = $1
	`, saleID, tx.TotalAmount, at)
	if err != nil {
		return err
	}

	for _, item := range tx.Items {
		_, err := pgTx.ExecContext(ctx, `
			UPDATE daily_sale_items
			SET qty = qty - $3, revenue = revenue - $4
			WHERE daily_sale_id = $1 AND medicine_id = $2
		`, saleID, item.MedicineID, item.Qty, item.Subtotal)
		if err != nil {
			return err
		}
	}

	_, err = pgTx.ExecContext(ctx, `
		DELETE FROM daily_sale_items
		WHERE daily_sale_id = $1 AND qty <= 0
	`, saleID)
	return err
}

func (s *Store) collectTransactions(ctx context.Context, rows *sql.Rows) ([]domain.Transaction, error) {
	defer rows.Close()

	transactions := make([]domain.Transaction, 0, 64)
	ids := make([]string, 0, 64)
	for rows.Next() {
		var tx domain.Transaction
		var cancelledAt sql.NullTime
		if err := rows.Scan(&tx.ID, &tx.Number, &tx.CashierUsername, &tx.TotalAmount, &tx.PaymentAmount, &tx.ChangeAmount, &tx.Status, &cancelledAt, &tx.CreatedAt); err != nil {
			return nil, err
		}
		tx.CreatedAt = tx.CreatedAt.UTC()
		if cancelledAt.Valid {
			at := cancelledAt.Time.UTC()
			tx.CancelledAt = &at
		}
		transactions = append(transactions, tx)
		ids = append(ids, tx.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	items, err := s.loadItems(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range transactions {
		transactions[i].Items = items[transactions[i].ID]
	}
	return transactions, nil
}

func (s *Store) loadItems(ctx context.Context, transactionIDs []string) (map[string][]domain.TransactionItem, error) {
	result := make(map[string][]domain.TransactionItem, len(transactionIDs))
	if len(transactionIDs) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT transaction_id, medicine_id, medicine_name, qty, unit_price, subtotal
		FROM transaction_items
		WHERE transaction_id = ANY($1)
	`, transactionIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var txID string
		var item domain.TransactionItem
		if err := rows.Scan(&txID, &item.MedicineID, &item.MedicineName, &item.Qty, &item.UnitPrice, &item.Subtotal); err != nil {
			return nil, err
		}
		result[txID] = append(result[txID], item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) loadDailySaleItems(ctx context.Context, saleID string) ([]domain.DailySaleItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT medicine_id, medicine_name, qty, revenue
		FROM daily_sale_items
		WHERE daily_sale_id = $1
		ORDER BY medicine_name
	`, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.DailySaleItem, 0, 8)
	for rows.Next() {
		var item domain.DailySaleItem
		if err := rows.Scan(&item.MedicineID, &item.MedicineName, &item.Qty, &item.Revenue); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMedicine(row rowScanner) (domain.Medicine, error) {
	var m domain.Medicine
	var expiry sql.NullTime
	err := row.Scan(&m.ID, &m.Name, &m.Category, &m.Price, &m.Stock, &m.Description, &expiry, &m.ImagePath, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return domain.Medicine{}, err
	}
	if expiry.Valid {
		e := expiry.Time.UTC()
		m.ExpiryDate = &e
	}
	m.CreatedAt = m.CreatedAt.UTC()
	m.UpdatedAt = m.UpdatedAt.UTC()
	return m, nil
}

func uniqueMedicineIDs(items []domain.TransactionItem) []string {
	seen := make(map[string]struct{}, len(items))
	ids := make([]string, 0, len(items))
	for _, item := range items {
		if item.MedicineID == "" {
			continue
		}
		if _, ok := seen[item.MedicineID]; ok {
			continue
		}
		seen[item.MedicineID] = struct{}{}
		ids = append(ids, item.MedicineID)
	}
	return ids
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullDate(val *time.Time) any {
	if val == nil {
		return nil
	}
	t := val.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
