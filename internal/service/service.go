package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"apotekpos/backend/internal/cache"
	"apotekpos/backend/internal/domain"
	"apotekpos/backend/internal/report"
	"apotekpos/backend/internal/store"
	"apotekpos/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// ReportRenderer turns a finished report into a file on disk and
// returns its path.
type ReportRenderer interface {
	Render(report domain.Report) (string, error)
}

type Service struct {
	repo       store.Repository
	renderer   ReportRenderer
	statsCache cache.StatsCache
	statsTTL   time.Duration
}

func New(repo store.Repository, renderer ReportRenderer, statsCache cache.StatsCache, statsTTL time.Duration) *Service {
	if statsCache == nil {
		statsCache = cache.NoopStatsCache{}
	}
	if statsTTL <= 0 {
		statsTTL = 20 * time.Second
	}

	return &Service{
		repo:       repo,
		renderer:   renderer,
		statsCache: statsCache,
		statsTTL:   statsTTL,
	}
}

func (s *Service) ListMedicines(ctx context.Context) ([]domain.Medicine, error) {
	return s.repo.ListMedicines(ctx)
}

func (s *Service) GetMedicine(ctx context.Context, id string) (domain.Medicine, error) {
	if strings.TrimSpace(id) == "" {
		return domain.Medicine{}, store.ErrInvalidInput
	}
	medicine, err := s.repo.GetMedicineByID(ctx, id)
	if err != nil {
		return domain.Medicine{}, err
	}
	return *medicine, nil
}

func (s *Service) CreateMedicine(ctx context.Context, req domain.MedicineCreateRequest) (domain.Medicine, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.Medicine{}, fmt.Errorf("admin role required")
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Category = strings.TrimSpace(req.Category)
	if req.Name == "" || !domain.ValidMedicineCategory(req.Category) {
		return domain.Medicine{}, store.ErrInvalidInput
	}
	if req.Price < 1 || req.Stock < 0 {
		return domain.Medicine{}, store.ErrInvalidInput
	}

	expiry, err := parseOptionalDate(req.ExpiryDate)
	if err != nil {
		return domain.Medicine{}, store.ErrInvalidInput
	}

	medicine := domain.Medicine{
		Name:        req.Name,
		Category:    req.Category,
		Price:       req.Price,
		Stock:       req.Stock,
		Description: strings.TrimSpace(req.Description),
		ExpiryDate:  expiry,
		ImagePath:   strings.TrimSpace(req.ImagePath),
	}

	created, err := s.repo.CreateMedicine(ctx, medicine)
	if err != nil {
		return domain.Medicine{}, err
	}

	s.logAudit(ctx, "medicine_create", "medicine", created.ID, fmt.Sprintf("name=%s,price=%d,stock=%d", created.Name, created.Price, created.Stock))
	return *created, nil
}

// UpdateMedicine lets admins change everything. A kasir may only
// adjust the stock field; any other field in the request is rejected.
func (s *Service) UpdateMedicine(ctx context.Context, id string, req domain.MedicineUpdateRequest) (domain.Medicine, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Medicine{}, fmt.Errorf("authentication required")
	}
	if actor.Role != domain.RoleAdmin {
		if req.Name != nil || req.Category != nil || req.Price != nil || req.Description != nil || req.ExpiryDate != nil || req.ImagePath != nil {
			return domain.Medicine{}, fmt.Errorf("kasir may only adjust stock")
		}
	}

	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Medicine{}, store.ErrInvalidInput
	}

	existing, err := s.repo.GetMedicineByID(ctx, id)
	if err != nil {
		return domain.Medicine{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Medicine{}, store.ErrInvalidInput
		}
		updated.Name = name
	}
	if req.Category != nil {
		if !domain.ValidMedicineCategory(*req.Category) {
			return domain.Medicine{}, store.ErrInvalidInput
		}
		updated.Category = *req.Category
	}
	if req.Price != nil {
		if *req.Price < 1 {
			return domain.Medicine{}, store.ErrInvalidInput
		}
		updated.Price = *req.Price
	}
	if req.Stock != nil {
		if *req.Stock < 0 {
			return domain.Medicine{}, store.ErrInvalidInput
		}
		updated.Stock = *req.Stock
	}
	if req.Description != nil {
		updated.Description = strings.TrimSpace(*req.Description)
	}
	if req.ExpiryDate != nil {
		expiry, err := parseOptionalDate(*req.ExpiryDate)
		if err != nil {
			return domain.Medicine{}, store.ErrInvalidInput
		}
		updated.ExpiryDate = expiry
	}
	if req.ImagePath != nil {
		updated.ImagePath = strings.TrimSpace(*req.ImagePath)
	}

	saved, err := s.repo.UpdateMedicine(ctx, updated)
	if err != nil {
		return domain.Medicine{}, err
	}

	s.logAudit(ctx, "medicine_update", "medicine", saved.ID, fmt.Sprintf("price=%d,stock=%d", saved.Price, saved.Stock))
	return *saved, nil
}

func (s *Service) DeleteMedicine(ctx context.Context, id string) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return fmt.Errorf("admin role required")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return store.ErrInvalidInput
	}
	if err := s.repo.DeleteMedicine(ctx, id); err != nil {
		return err
	}
	s.logAudit(ctx, "medicine_delete", "medicine", id, "")
	return nil
}

// CreateTransaction validates the request, resolves each distinct
// medicine once, and hands the store an order with quantities only.
// The store re-reads prices and stock inside its atomic scope, so the
// fast-fail here is a courtesy check, not the source of truth.
func (s *Service) CreateTransaction(ctx context.Context, req domain.TransactionCreateRequest) (domain.Transaction, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Transaction{}, fmt.Errorf("authentication required")
	}

	if len(req.Items) == 0 {
		return domain.Transaction{}, store.ErrInvalidInput
	}
	if req.PaymentAmount < 1 {
		return domain.Transaction{}, store.ErrInvalidInput
	}

	merged := make(map[string]int, len(req.Items))
	order := make([]string, 0, len(req.Items))
	for _, item := range req.Items {
		id := strings.TrimSpace(item.MedicineID)
		if id == "" || item.Qty < 1 {
			return domain.Transaction{}, store.ErrInvalidInput
		}
		if _, seen := merged[id]; !seen {
			order = append(order, id)
		}
		merged[id] += item.Qty
	}

	medicines, err := s.repo.GetMedicinesByIDs(ctx, order)
	if err != nil {
		return domain.Transaction{}, err
	}

	total := int64(0)
	items := make([]domain.TransactionItem, 0, len(order))
	for _, id := range order {
		medicine, exists := medicines[id]
		if !exists {
			return domain.Transaction{}, fmt.Errorf("medicine %s: %w", id, store.ErrNotFound)
		}
		qty := merged[id]
		if medicine.Stock < qty {
			return domain.Transaction{}, store.ErrInsufficientStock
		}
		items = append(items, domain.TransactionItem{MedicineID: id, Qty: qty})
		total += int64(qty) * medicine.Price
	}

	if req.PaymentAmount < total {
		return domain.Transaction{}, store.ErrPaymentTooLow
	}

	tx := domain.Transaction{
		CashierUsername: actor.Username,
		PaymentAmount:   req.PaymentAmount,
		CreatedAt:       time.Now().UTC(),
		Items:           items,
	}

	created, err := s.repo.CreateTransaction(ctx, tx)
	if err != nil {
		return domain.Transaction{}, err
	}

	s.logAudit(ctx, "transaction_create", "transaction", created.ID, fmt.Sprintf("number=%s,total=%d,items=%d", created.Number, created.TotalAmount, len(created.Items)))
	return *created, nil
}

func (s *Service) GetTransaction(ctx context.Context, id string) (domain.Transaction, error) {
	if strings.TrimSpace(id) == "" {
		return domain.Transaction{}, store.ErrInvalidInput
	}
	tx, err := s.repo.GetTransactionByID(ctx, id)
	if err != nil {
		return domain.Transaction{}, err
	}
	return *tx, nil
}

func (s *Service) ListTransactions(ctx context.Context, limit int) ([]domain.Transaction, error) {
	if limit < 1 {
		limit = 100
	}
	return s.repo.ListTransactions(ctx, limit)
}

// TransactionsByRange returns the completed sales between two dates
// (inclusive, day granularity) with their total.
func (s *Service) TransactionsByRange(ctx context.Context, startDate string, endDate string) (domain.TransactionRangeResponse, error) {
	start, end, err := parseDayRange(startDate, endDate)
	if err != nil {
		return domain.TransactionRangeResponse{}, err
	}

	transactions, err := s.repo.ListCompletedTransactions(ctx, start, end)
	if err != nil {
		return domain.TransactionRangeResponse{}, err
	}

	resp := domain.TransactionRangeResponse{Transactions: transactions, Count: len(transactions)}
	for _, tx := range transactions {
		resp.TotalAmount += tx.TotalAmount
	}
	return resp, nil
}

func (s *Service) CancelTransaction(ctx context.Context, id string) (domain.Transaction, error) {
	if _, ok := ActorFromContext(ctx); !ok {
		return domain.Transaction{}, fmt.Errorf("authentication required")
	}
	if strings.TrimSpace(id) == "" {
		return domain.Transaction{}, store.ErrInvalidInput
	}

	cancelled, err := s.repo.CancelTransaction(ctx, id, time.Now().UTC())
	if err != nil {
		return domain.Transaction{}, err
	}

	s.logAudit(ctx, "transaction_cancel", "transaction", cancelled.ID, fmt.Sprintf("number=%s,total=%d", cancelled.Number, cancelled.TotalAmount))
	return *cancelled, nil
}

// DeleteTransaction purges the record. Stock and daily rollups are
// left alone; use cancel first if the sale has to be reversed.
func (s *Service) DeleteTransaction(ctx context.Context, id string) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return fmt.Errorf("admin role required")
	}
	if strings.TrimSpace(id) == "" {
		return store.ErrInvalidInput
	}
	if err := s.repo.DeleteTransaction(ctx, id); err != nil {
		return err
	}
	s.logAudit(ctx, "transaction_delete", "transaction", id, "administrative purge")
	return nil
}

// DailySale returns one cashier's rollup for a date. A kasir can only
// read their own; admins can name any cashier.
func (s *Service) DailySale(ctx context.Context, date string, cashier string) (domain.DailySale, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.DailySale{}, fmt.Errorf("authentication required")
	}
	if actor.Role != domain.RoleAdmin {
		cashier = actor.Username
	}
	if cashier == "" {
		cashier = actor.Username
	}
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return domain.DailySale{}, store.ErrInvalidInput
	}

	sale, err := s.repo.GetDailySale(ctx, date, cashier)
	if err != nil {
		return domain.DailySale{}, err
	}
	return *sale, nil
}

func (s *Service) ListDailySales(ctx context.Context, from string, to string, cashier string) ([]domain.DailySale, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return nil, fmt.Errorf("authentication required")
	}
	if actor.Role != domain.RoleAdmin {
		cashier = actor.Username
	}
	for _, d := range []string{from, to} {
		if d == "" {
			continue
		}
		if _, err := time.Parse("2006-01-02", d); err != nil {
			return nil, store.ErrInvalidInput
		}
	}
	return s.repo.ListDailySales(ctx, from, to, cashier)
}

// GenerateReport builds a point-in-time summary over completed sales,
// renders the PDF artifact, and persists both. The stored summary is a
// snapshot: later cancellations do not rewrite it.
func (s *Service) GenerateReport(ctx context.Context, req domain.ReportGenerateRequest) (domain.Report, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.Report{}, fmt.Errorf("admin role required")
	}

	if !report.ValidType(req.Type) {
		return domain.Report{}, store.ErrInvalidInput
	}
	start, end, err := parseDayRange(req.StartDate, req.EndDate)
	if err != nil {
		return domain.Report{}, err
	}

	transactions, err := s.repo.ListCompletedTransactions(ctx, start, end)
	if err != nil {
		return domain.Report{}, fmt.Errorf("report aggregation: %w", err)
	}
	summary := report.Summarize(transactions)

	endInclusive := end.AddDate(0, 0, -1)
	prevStart, prevEnd := report.PreviousPeriod(start, endInclusive)
	prevStats, err := s.repo.GetPeriodStats(ctx, prevStart, prevEnd.AddDate(0, 0, 1))
	if err != nil {
		return domain.Report{}, fmt.Errorf("report aggregation: %w", err)
	}
	summary.GrowthRatePercent = report.GrowthRate(prevStats.TotalSales, summary.TotalSales)

	rep := domain.Report{
		Type:        req.Type,
		Title:       report.Title(req.Type, start, endInclusive),
		StartDate:   start,
		EndDate:     endInclusive,
		GeneratedBy: actor.Username,
		Summary:     summary,
		CreatedAt:   time.Now().UTC(),
	}

	if s.renderer != nil {
		pdfPath, err := s.renderer.Render(rep)
		if err != nil {
			return domain.Report{}, fmt.Errorf("render report pdf: %w", err)
		}
		rep.PDFPath = pdfPath
	} else {
		log.Printf("[service] WARN: no report renderer configured, skipping pdf for %s", rep.Title)
	}

	saved, err := s.repo.CreateReport(ctx, rep)
	if err != nil {
		return domain.Report{}, err
	}

	s.logAudit(ctx, "report_generate", "report", saved.ID, fmt.Sprintf("type=%s,total=%d,transactions=%d", saved.Type, saved.Summary.TotalSales, saved.Summary.TotalTransactions))
	return *saved, nil
}

func (s *Service) GetReport(ctx context.Context, id string) (domain.Report, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.Report{}, fmt.Errorf("admin role required")
	}
	if strings.TrimSpace(id) == "" {
		return domain.Report{}, store.ErrInvalidInput
	}
	rep, err := s.repo.GetReportByID(ctx, id)
	if err != nil {
		return domain.Report{}, err
	}
	return *rep, nil
}

func (s *Service) ListReports(ctx context.Context, reportType string, limit int) ([]domain.Report, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return nil, fmt.Errorf("admin role required")
	}
	if reportType != "" && !report.ValidType(reportType) {
		return nil, store.ErrInvalidInput
	}
	if limit < 1 {
		limit = 50
	}
	return s.repo.ListReports(ctx, reportType, limit)
}

// DeleteReport removes the record and its PDF artifact. A missing file
// is logged, not fatal.
func (s *Service) DeleteReport(ctx context.Context, id string) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return fmt.Errorf("admin role required")
	}
	if strings.TrimSpace(id) == "" {
		return store.ErrInvalidInput
	}

	rep, err := s.repo.GetReportByID(ctx, id)
	if err != nil {
		return err
	}
	if rep.PDFPath != "" {
		if err := os.Remove(rep.PDFPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Printf("[service] WARN: failed to remove report pdf %s: %v", rep.PDFPath, err)
		}
	}

	if err := s.repo.DeleteReport(ctx, id); err != nil {
		return err
	}
	s.logAudit(ctx, "report_delete", "report", id, rep.Title)
	return nil
}

func (s *Service) DashboardStats(ctx context.Context) (domain.DashboardStats, error) {
	if _, ok := ActorFromContext(ctx); !ok {
		return domain.DashboardStats{}, fmt.Errorf("authentication required")
	}

	const cacheKey = "dashboard:stats"
	if cached, hit, err := s.statsCache.Get(ctx, cacheKey); err != nil {
		log.Printf("[service] WARN: stats cache read failed: %v", err)
	} else if hit {
		return *cached, nil
	}

	now := time.Now().UTC()
	startOfToday := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	startOfMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	endOfMonth := startOfMonth.AddDate(0, 1, 0)

	today, err := s.repo.GetPeriodStats(ctx, startOfToday, startOfToday.AddDate(0, 0, 1))
	if err != nil {
		return domain.DashboardStats{}, err
	}
	month, err := s.repo.GetPeriodStats(ctx, startOfMonth, endOfMonth)
	if err != nil {
		return domain.DashboardStats{}, err
	}
	medicines, err := s.repo.CountMedicines(ctx)
	if err != nil {
		return domain.DashboardStats{}, err
	}

	stats := domain.DashboardStats{
		Today:       today,
		ThisMonth:   month,
		Medicines:   medicines,
		GeneratedAt: now.Format(time.RFC3339),
	}

	if err := s.statsCache.Set(ctx, cacheKey, &stats, s.statsTTL); err != nil {
		log.Printf("[service] WARN: stats cache write failed: %v", err)
	}
	return stats, nil
}

func (s *Service) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return nil, fmt.Errorf("admin role required")
	}
	if limit < 1 {
		limit = 100
	}
	return s.repo.ListAuditLogs(ctx, from, to, limit)
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		log.Printf("[audit] WARN: failed to write audit log action=%s entity=%s/%s: %v", action, entityType, entityID, err)
	}
}

// parseDayRange turns two "2006-01-02" strings into [start, end) UTC
// bounds: start of the first day, start of the day after the last.
func parseDayRange(startDate string, endDate string) (time.Time, time.Time, error) {
	start, err := time.Parse("2006-01-02", startDate)
	if err != nil {
		return time.Time{}, time.Time{}, store.ErrInvalidInput
	}
	end, err := time.Parse("2006-01-02", endDate)
	if err != nil {
		return time.Time{}, time.Time{}, store.ErrInvalidInput
	}
	if start.After(end) {
		return time.Time{}, time.Time{}, store.ErrInvalidInput
	}
	return start, end.AddDate(0, 0, 1), nil
}

func parseOptionalDate(value string) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
