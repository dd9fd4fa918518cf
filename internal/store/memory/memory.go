package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"apotekpos/backend/internal/domain"
	"apotekpos/backend/internal/store"
	"apotekpos/backend/internal/xid"
)

type Store struct {
	mu               sync.RWMutex
	medicines        map[string]domain.Medicine
	transactionsByID map[string]*domain.Transaction
	dayCounters      map[string]int
	dailySales       map[string]*domain.DailySale
	reportsByID      map[string]domain.Report
	auditLogs        []domain.AuditLog
	usersByUsername  map[string]domain.UserAccount
}

func New() *Store {
	return &Store{
		medicines:        make(map[string]domain.Medicine),
		transactionsByID: make(map[string]*domain.Transaction),
		dayCounters:      make(map[string]int),
		dailySales:       make(map[string]*domain.DailySale),
		reportsByID:      make(map[string]domain.Report),
		auditLogs:        make([]domain.AuditLog, 0, 128),
		usersByUsername:  make(map[string]domain.UserAccount),
	}
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_KASIR_PASSWORD
// environment variables. If unset, hardcoded dev defaults are used with a
// warning printed to stdout. These credentials are never used in production
// (the backend uses PostgreSQL when DATABASE_URL is set).
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	kasirPwd := envOr("SEED_KASIR_PASSWORD", "kasir123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_KASIR_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_KASIR_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"kasir", kasirPwd, domain.RoleKasir},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func NewSeeded() *Store {
	now := time.Now().UTC()
	expiry := func(months int) *time.Time {
		t := now.AddDate(0, months, 0)
		return &t
	}
	medicines := []domain.Medicine{
		{ID: "med-paracetamol", Name: "Paracetamol 500mg", Category: "Obat Bebas", Price: 8000, Stock: 150, ExpiryDate: expiry(18)},
		{ID: "med-amoxicillin", Name: "Amoxicillin 500mg", Category: "Obat Keras", Price: 15000, Stock: 80, ExpiryDate: expiry(12)},
		{ID: "med-obh", Name: "OBH Combi Batuk Flu", Category: "Obat Bebas", Price: 18500, Stock: 60, ExpiryDate: expiry(14)},
		{ID: "med-antangin", Name: "Antangin JRG", Category: "Herbal", Price: 4500, Stock: 200, ExpiryDate: expiry(24)},
		{ID: "med-tolakangin", Name: "Tolak Angin Cair", Category: "Herbal", Price: 5000, Stock: 180, ExpiryDate: expiry(20)},
		{ID: "med-vitc", Name: "Vitamin C 500mg", Category: "Vitamin", Price: 25000, Stock: 90, ExpiryDate: expiry(30)},
		{ID: "med-imboost", Name: "Imboost Force", Category: "Vitamin", Price: 98000, Stock: 35, ExpiryDate: expiry(22)},
		{ID: "med-betadine", Name: "Betadine 15ml", Category: "Obat Bebas", Price: 21000, Stock: 45, ExpiryDate: expiry(36)},
		{ID: "med-termometer", Name: "Termometer Digital", Category: "Alat Kesehatan", Price: 45000, Stock: 25},
		{ID: "med-masker", Name: "Masker Medis 50pcs", Category: "Alat Kesehatan", Price: 35000, Stock: 8},
	}

	medicineMap := make(map[string]domain.Medicine, len(medicines))
	for _, m := range medicines {
		m.CreatedAt = now
		m.UpdatedAt = now
		medicineMap[m.ID] = m
	}

	s := New()
	s.medicines = medicineMap
	s.usersByUsername = seedUsers()
	return s
}

func (s *Store) ListMedicines(_ context.Context) ([]domain.Medicine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	medicines := make([]domain.Medicine, 0, len(s.medicines))
	for _, m := range s.medicines {
		medicines = append(medicines, cloneMedicine(m))
	}

	slices.SortFunc(medicines, func(a, b domain.Medicine) int {
		if a.Category == b.Category {
			return cmpString(a.Name, b.Name)
		}
		return cmpString(a.Category, b.Category)
	})

	return medicines, nil
}

func (s *Store) GetMedicineByID(_ context.Context, id string) (*domain.Medicine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	medicine, exists := s.medicines[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyMedicine := cloneMedicine(medicine)
	return &copyMedicine, nil
}

func (s *Store) GetMedicinesByIDs(_ context.Context, ids []string) (map[string]domain.Medicine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]domain.Medicine, len(ids))
	for _, id := range ids {
		if m, ok := s.medicines[id]; ok {
			result[id] = cloneMedicine(m)
		}
	}
	return result, nil
}

func (s *Store) CreateMedicine(_ context.Context, medicine domain.Medicine) (*domain.Medicine, error) {
	if medicine.Name == "" || medicine.Category == "" || medicine.Price < 1 || medicine.Stock < 0 {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if medicine.ID == "" {
		medicine.ID = xid.New("med")
	}
	if _, exists := s.medicines[medicine.ID]; exists {
		return nil, store.ErrInvalidInput
	}
	now := time.Now().UTC()
	if medicine.CreatedAt.IsZero() {
		medicine.CreatedAt = now
	}
	medicine.UpdatedAt = now

	s.medicines[medicine.ID] = medicine
	created := cloneMedicine(medicine)
	return &created, nil
}

func (s *Store) UpdateMedicine(_ context.Context, medicine domain.Medicine) (*domain.Medicine, error) {
	if medicine.Name == "" || medicine.Category == "" || medicine.Price < 1 || medicine.Stock < 0 {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.medicines[medicine.ID]
	if !exists {
		return nil, store.ErrNotFound
	}
	medicine.CreatedAt = existing.CreatedAt
	medicine.UpdatedAt = time.Now().UTC()
	s.medicines[medicine.ID] = medicine
	updated := cloneMedicine(medicine)
	return &updated, nil
}

func (s *Store) DeleteMedicine(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.medicines[id]; !exists {
		return store.ErrNotFound
	}
	delete(s.medicines, id)
	return nil
}

func (s *Store) CountMedicines(_ context.Context) (domain.MedicineStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := domain.MedicineStats{}
	for _, m := range s.medicines {
		stats.Total++
		if m.Stock < domain.LowStockThreshold {
			stats.LowStock++
		}
	}
	return stats, nil
}

// CreateTransaction holds the write lock for the whole sale: stock
// re-check and decrement, sequence allocation, the transaction record,
// and the daily rollup either all happen or none do.
func (s *Store) CreateTransaction(_ context.Context, tx domain.Transaction) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(tx.Items) == 0 || tx.CashierUsername == "" {
		return nil, store.ErrInvalidInput
	}

	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}

	total := int64(0)
	stockLeft := make(map[string]int, len(tx.Items))
	recomputedItems := make([]domain.TransactionItem, 0, len(tx.Items))
	for _, item := range tx.Items {
		if item.Qty < 1 {
			return nil, store.ErrInvalidInput
		}
		medicine, exists := s.medicines[item.MedicineID]
		if !exists {
			return nil, fmt.Errorf("medicine %s: %w", item.MedicineID, store.ErrNotFound)
		}
		if _, ok := stockLeft[item.MedicineID]; !ok {
			stockLeft[item.MedicineID] = medicine.Stock
		}
		if stockLeft[item.MedicineID] < item.Qty {
			return nil, store.ErrInsufficientStock
		}
		stockLeft[item.MedicineID] -= item.Qty
		subtotal := int64(item.Qty) * medicine.Price
		recomputedItems = append(recomputedItems, domain.TransactionItem{
			MedicineID:   medicine.ID,
			MedicineName: medicine.Name,
			Qty:          item.Qty,
			UnitPrice:    medicine.Price,
			Subtotal:     subtotal,
		})
		total += subtotal
	}

	if tx.PaymentAmount < total {
		return nil, store.ErrPaymentTooLow
	}

	for _, item := range recomputedItems {
		medicine := s.medicines[item.MedicineID]
		medicine.Stock -= item.Qty
		medicine.UpdatedAt = tx.CreatedAt
		s.medicines[item.MedicineID] = medicine
	}

	dayKey := tx.CreatedAt.Format("060102")
	s.dayCounters[dayKey]++
	tx.Number = fmt.Sprintf("TRX-%s-%04d", dayKey, s.dayCounters[dayKey])

	if tx.ID == "" {
		tx.ID = xid.New("trx")
	}
	tx.Items = recomputedItems
	tx.TotalAmount = total
	tx.ChangeAmount = tx.PaymentAmount - total
	tx.Status = domain.TxStatusCompleted
	tx.CancelledAt = nil

	s.applyDailySale(&tx)

	txCopy := cloneTransaction(&tx)
	s.transactionsByID[tx.ID] = txCopy
	return cloneTransaction(txCopy), nil
}

func (s *Store) GetTransactionByID(_ context.Context, id string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.transactionsByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneTransaction(tx), nil
}

func (s *Store) ListTransactions(_ context.Context, limit int) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Transaction, 0, len(s.transactionsByID))
	for _, tx := range s.transactionsByID {
		result = append(result, *cloneTransaction(tx))
	}
	slices.SortFunc(result, func(a, b domain.Transaction) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.Number, a.Number)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) ListCompletedTransactions(_ context.Context, from time.Time, to time.Time) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Transaction, 0, 64)
	for _, tx := range s.transactionsByID {
		if tx.Status != domain.TxStatusCompleted {
			continue
		}
		if tx.CreatedAt.Before(from) || !tx.CreatedAt.Before(to) {
			continue
		}
		result = append(result, *cloneTransaction(tx))
	}
	slices.SortFunc(result, func(a, b domain.Transaction) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(a.Number, b.Number)
		}
		if a.CreatedAt.Before(b.CreatedAt) {
			return -1
		}
		return 1
	})
	return result, nil
}

// CancelTransaction restores stock and reverses the daily rollup under
// the same lock that flips the status.
func (s *Store) CancelTransaction(_ context.Context, id string, at time.Time) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.transactionsByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if tx.Status == domain.TxStatusCancelled {
		return nil, store.ErrAlreadyCancelled
	}

	for _, item := range tx.Items {
		medicine, exists := s.medicines[item.MedicineID]
		if !exists {
			log.Printf("[memory-store] WARN: medicine %s missing during cancel of %s, stock not restored", item.MedicineID, tx.Number)
			continue
		}
		medicine.Stock += item.Qty
		medicine.UpdatedAt = at
		s.medicines[item.MedicineID] = medicine
	}

	s.reverseDailySale(tx, at)

	tx.Status = domain.TxStatusCancelled
	tx.CancelledAt = &at

	return cloneTransaction(tx), nil
}

func (s *Store) DeleteTransaction(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.transactionsByID[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.transactionsByID, id)
	return nil
}

func (s *Store) GetDailySale(_ context.Context, date string, cashier string) (*domain.DailySale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.dailySales[dailySaleKey(date, cashier)]
	if !ok {
		return nil, store.ErrNotFound
	}
	copySale := cloneDailySale(sale)
	return &copySale, nil
}

func (s *Store) ListDailySales(_ context.Context, from string, to string, cashier string) ([]domain.DailySale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.DailySale, 0, 32)
	for _, sale := range s.dailySales {
		if from != "" && sale.Date < from {
			continue
		}
		if to != "" && sale.Date > to {
			continue
		}
		if cashier != "" && sale.CashierUsername != cashier {
			continue
		}
		result = append(result, cloneDailySale(sale))
	}
	slices.SortFunc(result, func(a, b domain.DailySale) int {
		if a.Date == b.Date {
			return cmpString(a.CashierUsername, b.CashierUsername)
		}
		return cmpString(a.Date, b.Date)
	})
	return result, nil
}

func (s *Store) GetPeriodStats(_ context.Context, from time.Time, to time.Time) (domain.PeriodStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := domain.PeriodStats{}
	for _, tx := range s.transactionsByID {
		if tx.Status != domain.TxStatusCompleted {
			continue
		}
		if tx.CreatedAt.Before(from) || !tx.CreatedAt.Before(to) {
			continue
		}
		stats.TotalSales += tx.TotalAmount
		stats.TotalTransactions++
	}
	return stats, nil
}

func (s *Store) CreateReport(_ context.Context, report domain.Report) (*domain.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if report.ID == "" {
		report.ID = xid.New("report")
	}
	if report.CreatedAt.IsZero() {
		report.CreatedAt = time.Now().UTC()
	}
	s.reportsByID[report.ID] = cloneReport(report)
	created := cloneReport(report)
	return &created, nil
}

func (s *Store) GetReportByID(_ context.Context, id string) (*domain.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	report, ok := s.reportsByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copyReport := cloneReport(report)
	return &copyReport, nil
}

func (s *Store) ListReports(_ context.Context, reportType string, limit int) ([]domain.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Report, 0, len(s.reportsByID))
	for _, report := range s.reportsByID {
		if reportType != "" && report.Type != reportType {
			continue
		}
		result = append(result, cloneReport(report))
	}
	slices.SortFunc(result, func(a, b domain.Report) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) DeleteReport(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.reportsByID[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.reportsByID, id)
	return nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.auditLogs {
		if !from.IsZero() && entry.CreatedAt.Before(from) {
			continue
		}
		if !to.IsZero() && !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}

	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidInput
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrInvalidInput
	}
	user.Username = username
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.usersByUsername[username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmpString(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidInput
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

// applyDailySale folds a completed transaction into its cashier's
// rollup. Caller holds the write lock.
func (s *Store) applyDailySale(tx *domain.Transaction) {
	date := tx.CreatedAt.Format("2006-01-02")
	key := dailySaleKey(date, tx.CashierUsername)
	sale, ok := s.dailySales[key]
	if !ok {
		sale = &domain.DailySale{
			ID:              xid.New("sale"),
			Date:            date,
			CashierUsername: tx.CashierUsername,
		}
		s.dailySales[key] = sale
	}
	sale.TotalAmount += tx.TotalAmount
	sale.TransactionCount++
	sale.UpdatedAt = tx.CreatedAt
	for _, item := range tx.Items {
		idx := -1
		for i := range sale.Items {
			if sale.Items[i].MedicineID == item.MedicineID {
				idx = i
				break
			}
		}
		if idx < 0 {
			sale.Items = append(sale.Items, domain.DailySaleItem{
				MedicineID:   item.MedicineID,
				MedicineName: item.MedicineName,
			})
			idx = len(sale.Items) - 1
		}
		sale.Items[idx].Qty += item.Qty
		sale.Items[idx].Revenue += item.Subtotal
	}
}

// reverseDailySale subtracts a transaction from the rollup it was
// recorded under (the original creation date, not the cancel date).
// A missing rollup is logged and skipped. Caller holds the write lock.
func (s *Store) reverseDailySale(tx *domain.Transaction, at time.Time) {
	date := tx.CreatedAt.Format("2006-01-02")
	key := dailySaleKey(date, tx.CashierUsername)
	sale, ok := s.dailySales[key]
	if !ok {
		log.Printf("[memory-store] WARN: no daily sale rollup for %s/%s while cancelling %s", date, tx.CashierUsername, tx.Number)
		return
	}
	sale.TotalAmount -= tx.TotalAmount
	if sale.TransactionCount > 0 {
		sale.TransactionCount--
	}
	sale.UpdatedAt = at
	for _, item := range tx.Items {
		for i := range sale.Items {
			if sale.Items[i].MedicineID != item.MedicineID {
				continue
			}
			sale.Items[i].Qty -= item.Qty
			sale.Items[i].Revenue -= item.Subtotal
			break
		}
	}
	kept := sale.Items[:0]
	for _, item := range sale.Items {
		if item.Qty > 0 {
			kept = append(kept, item)
		}
	}
	sale.Items = kept
}

func dailySaleKey(date string, cashier string) string {
	return date + "::" + cashier
}

func cmpString(a string, b string) int {
	if a == b {
		return 0
	}
	if a < b {
		return -1
	}
	return 1
}

func cloneMedicine(src domain.Medicine) domain.Medicine {
	dup := src
	if src.ExpiryDate != nil {
		expiry := *src.ExpiryDate
		dup.ExpiryDate = &expiry
	}
	return dup
}

func cloneTransaction(src *domain.Transaction) *domain.Transaction {
	if src == nil {
		return nil
	}
	dup := *src
	dupItems := make([]domain.TransactionItem, len(src.Items))
	copy(dupItems, src.Items)
	dup.Items = dupItems
	if src.CancelledAt != nil {
		at := *src.CancelledAt
		dup.CancelledAt = &at
	}
	return &dup
}

func cloneDailySale(src *domain.DailySale) domain.DailySale {
	dup := *src
	items := make([]domain.DailySaleItem, len(src.Items))
	copy(items, src.Items)
	dup.Items = items
	return dup
}

func cloneReport(src domain.Report) domain.Report {
	dup := src
	top := make([]domain.TopProduct, len(src.Summary.TopProducts))
	copy(top, src.Summary.TopProducts)
	dup.Summary.TopProducts = top
	breakdown := make([]domain.DailyBreakdownEntry, len(src.Summary.DailyBreakdown))
	copy(breakdown, src.Summary.DailyBreakdown)
	dup.Summary.DailyBreakdown = breakdown
	return dup
}
