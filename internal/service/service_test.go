package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"apotekpos/backend/internal/domain"
	"apotekpos/backend/internal/report"
	"apotekpos/backend/internal/store"
	"apotekpos/backend/internal/store/memory"
)

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "admin", Role: domain.RoleAdmin})
}

func kasirCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "kasir", Role: domain.RoleKasir})
}

func newTestService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	repo := memory.New()
	svc := New(repo, nil, nil, time.Second)
	return svc, repo
}

func seedMedicine(t *testing.T, svc *Service, id string, price int64, stock int) domain.Medicine {
	t.Helper()
	medicine, err := svc.repo.CreateMedicine(context.Background(), domain.Medicine{
		ID:       id,
		Name:     "Test " + id,
		Category: "Obat Bebas",
		Price:    price,
		Stock:    stock,
	})
	if err != nil {
		t.Fatalf("seed medicine: %v", err)
	}
	return *medicine
}

func TestCreateMedicineRequiresAdmin(t *testing.T) {
	svc, _ := newTestService(t)

	req := domain.MedicineCreateRequest{Name: "Paracetamol", Category: "Obat Bebas", Price: 8000, Stock: 10}
	if _, err := svc.CreateMedicine(kasirCtx(), req); err == nil || !strings.Contains(err.Error(), "admin role required") {
		t.Fatalf("kasir create err = %v, want admin role required", err)
	}

	created, err := svc.CreateMedicine(adminCtx(), req)
	if err != nil {
		t.Fatalf("admin create: %v", err)
	}
	if created.ID == "" || created.Price != 8000 {
		t.Fatalf("created = %+v", created)
	}
}

func TestCreateMedicineRejectsUnknownCategory(t *testing.T) {
	svc, _ := newTestService(t)

	req := domain.MedicineCreateRequest{Name: "Misc", Category: "Makanan", Price: 100, Stock: 1}
	if _, err := svc.CreateMedicine(adminCtx(), req); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}

func TestUpdateMedicineKasirStockOnly(t *testing.T) {
	svc, _ := newTestService(t)
	seedMedicine(t, svc, "med-a", 1000, 5)

	newStock := 20
	updated, err := svc.UpdateMedicine(kasirCtx(), "med-a", domain.MedicineUpdateRequest{Stock: &newStock})
	if err != nil {
		t.Fatalf("kasir stock update: %v", err)
	}
	if updated.Stock != 20 {
		t.Fatalf("stock = %d, want 20", updated.Stock)
	}

	newPrice := int64(2000)
	if _, err := svc.UpdateMedicine(kasirCtx(), "med-a", domain.MedicineUpdateRequest{Price: &newPrice}); err == nil {
		t.Fatal("kasir price update should be rejected")
	}

	updated, err = svc.UpdateMedicine(adminCtx(), "med-a", domain.MedicineUpdateRequest{Price: &newPrice})
	if err != nil {
		t.Fatalf("admin price update: %v", err)
	}
	if updated.Price != 2000 {
		t.Fatalf("price = %d, want 2000", updated.Price)
	}
}

func TestCreateTransactionMergesDuplicateLines(t *testing.T) {
	svc, _ := newTestService(t)
	seedMedicine(t, svc, "med-a", 1000, 10)

	tx, err := svc.CreateTransaction(kasirCtx(), domain.TransactionCreateRequest{
		Items: []domain.TransactionItemRequest{
			{MedicineID: "med-a", Qty: 2},
			{MedicineID: "med-a", Qty: 3},
		},
		PaymentAmount: 5000,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(tx.Items) != 1 {
		t.Fatalf("lines = %d, want duplicate ids merged into 1", len(tx.Items))
	}
	if tx.Items[0].Qty != 5 || tx.TotalAmount != 5000 {
		t.Fatalf("merged qty/total = %d/%d, want 5/5000", tx.Items[0].Qty, tx.TotalAmount)
	}
	if tx.CashierUsername != "kasir" {
		t.Fatalf("cashier = %s, want actor username", tx.CashierUsername)
	}
}

func TestCreateTransactionValidation(t *testing.T) {
	svc, _ := newTestService(t)
	seedMedicine(t, svc, "med-a", 1000, 10)

	cases := []domain.TransactionCreateRequest{
		{Items: nil, PaymentAmount: 1000},
		{Items: []domain.TransactionItemRequest{{MedicineID: "med-a", Qty: 0}}, PaymentAmount: 1000},
		{Items: []domain.TransactionItemRequest{{MedicineID: "", Qty: 1}}, PaymentAmount: 1000},
		{Items: []domain.TransactionItemRequest{{MedicineID: "med-a", Qty: 1}}, PaymentAmount: 0},
	}
	for i, req := range cases {
		if _, err := svc.CreateTransaction(kasirCtx(), req); !errors.Is(err, store.ErrInvalidInput) {
			t.Errorf("case %d: err = %v, want ErrInvalidInput", i, err)
		}
	}

	req := domain.TransactionCreateRequest{
		Items:         []domain.TransactionItemRequest{{MedicineID: "med-a", Qty: 2}},
		PaymentAmount: 1500,
	}
	if _, err := svc.CreateTransaction(kasirCtx(), req); !errors.Is(err, store.ErrPaymentTooLow) {
		t.Fatalf("underpayment err = %v, want ErrPaymentTooLow", err)
	}

	req.Items[0].MedicineID = "missing"
	req.PaymentAmount = 5000
	if _, err := svc.CreateTransaction(kasirCtx(), req); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("missing medicine err = %v, want ErrNotFound", err)
	}
}

func TestCreateTransactionRequiresActor(t *testing.T) {
	svc, _ := newTestService(t)
	seedMedicine(t, svc, "med-a", 1000, 10)

	req := domain.TransactionCreateRequest{
		Items:         []domain.TransactionItemRequest{{MedicineID: "med-a", Qty: 1}},
		PaymentAmount: 1000,
	}
	if _, err := svc.CreateTransaction(context.Background(), req); err == nil {
		t.Fatal("unauthenticated create should fail")
	}
}

func TestDeleteTransactionAdminOnly(t *testing.T) {
	svc, _ := newTestService(t)
	seedMedicine(t, svc, "med-a", 1000, 10)

	tx, err := svc.CreateTransaction(kasirCtx(), domain.TransactionCreateRequest{
		Items:         []domain.TransactionItemRequest{{MedicineID: "med-a", Qty: 1}},
		PaymentAmount: 1000,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := svc.DeleteTransaction(kasirCtx(), tx.ID); err == nil {
		t.Fatal("kasir delete should be rejected")
	}
	if err := svc.DeleteTransaction(adminCtx(), tx.ID); err != nil {
		t.Fatalf("admin delete: %v", err)
	}
}

func TestTransactionsByRange(t *testing.T) {
	svc, repo := newTestService(t)
	seedMedicine(t, svc, "med-a", 1000, 100)

	created := time.Date(2025, 2, 10, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 2; i++ {
		_, err := repo.CreateTransaction(context.Background(), domain.Transaction{
			CashierUsername: "kasir",
			PaymentAmount:   2000,
			CreatedAt:       created,
			Items:           []domain.TransactionItem{{MedicineID: "med-a", Qty: 2}},
		})
		if err != nil {
			t.Fatalf("seed tx: %v", err)
		}
	}

	resp, err := svc.TransactionsByRange(kasirCtx(), "2025-02-10", "2025-02-10")
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	if resp.Count != 2 || resp.TotalAmount != 4000 {
		t.Fatalf("range = %d/%d, want 2/4000", resp.Count, resp.TotalAmount)
	}

	if _, err := svc.TransactionsByRange(kasirCtx(), "2025-02-11", "2025-02-10"); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("inverted range err = %v, want ErrInvalidInput", err)
	}
}

func TestDailySaleKasirScopedToOwnData(t *testing.T) {
	svc, repo := newTestService(t)
	seedMedicine(t, svc, "med-a", 1000, 100)

	created := time.Date(2025, 2, 10, 9, 0, 0, 0, time.UTC)
	for _, cashier := range []string{"kasir", "lain"} {
		_, err := repo.CreateTransaction(context.Background(), domain.Transaction{
			CashierUsername: cashier,
			PaymentAmount:   1000,
			CreatedAt:       created,
			Items:           []domain.TransactionItem{{MedicineID: "med-a", Qty: 1}},
		})
		if err != nil {
			t.Fatalf("seed tx: %v", err)
		}
	}

	// A kasir asking for another cashier's rollup gets their own instead.
	sale, err := svc.DailySale(kasirCtx(), "2025-02-10", "lain")
	if err != nil {
		t.Fatalf("daily sale: %v", err)
	}
	if sale.CashierUsername != "kasir" {
		t.Fatalf("rollup cashier = %s, want kasir", sale.CashierUsername)
	}

	sale, err = svc.DailySale(adminCtx(), "2025-02-10", "lain")
	if err != nil {
		t.Fatalf("admin daily sale: %v", err)
	}
	if sale.CashierUsername != "lain" {
		t.Fatalf("admin rollup cashier = %s, want lain", sale.CashierUsername)
	}

	sales, err := svc.ListDailySales(kasirCtx(), "", "", "lain")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, s := range sales {
		if s.CashierUsername != "kasir" {
			t.Fatalf("kasir list leaked rollup for %s", s.CashierUsername)
		}
	}
}

func TestGenerateReportSummaryAndGrowth(t *testing.T) {
	repo := memory.New()
	renderer := report.NewPDFRenderer(t.TempDir())
	svc := New(repo, renderer, nil, time.Second)
	seedMedicine(t, svc, "med-a", 1000, 100)

	seedTx := func(created time.Time, qty int) {
		t.Helper()
		_, err := repo.CreateTransaction(context.Background(), domain.Transaction{
			CashierUsername: "kasir",
			PaymentAmount:   int64(qty) * 1000,
			CreatedAt:       created,
			Items:           []domain.TransactionItem{{MedicineID: "med-a", Qty: qty}},
		})
		if err != nil {
			t.Fatalf("seed tx: %v", err)
		}
	}

	// Previous day: 1000. Report day: two completed sales of 1000 each
	// plus one cancelled sale that must not count.
	seedTx(time.Date(2025, 1, 4, 10, 0, 0, 0, time.UTC), 1)
	seedTx(time.Date(2025, 1, 5, 10, 0, 0, 0, time.UTC), 1)
	cancelMe, err := repo.CreateTransaction(context.Background(), domain.Transaction{
		CashierUsername: "kasir",
		PaymentAmount:   5000,
		CreatedAt:       time.Date(2025, 1, 5, 11, 0, 0, 0, time.UTC),
		Items:           []domain.TransactionItem{{MedicineID: "med-a", Qty: 5}},
	})
	if err != nil {
		t.Fatalf("seed tx: %v", err)
	}
	if _, err := repo.CancelTransaction(context.Background(), cancelMe.ID, time.Now().UTC()); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	seedTx(time.Date(2025, 1, 5, 12, 0, 0, 0, time.UTC), 1)

	rep, err := svc.GenerateReport(adminCtx(), domain.ReportGenerateRequest{
		Type:      domain.ReportTypeDaily,
		StartDate: "2025-01-05",
		EndDate:   "2025-01-05",
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	if rep.Summary.TotalSales != 2000 || rep.Summary.TotalTransactions != 2 {
		t.Fatalf("summary = %d/%d, want 2000/2 (cancelled excluded)", rep.Summary.TotalSales, rep.Summary.TotalTransactions)
	}
	if rep.Summary.AverageTransactionValue != 1000 {
		t.Fatalf("average = %f, want 1000", rep.Summary.AverageTransactionValue)
	}
	if rep.Summary.GrowthRatePercent != 100 {
		t.Fatalf("growth = %f, want 100 (1000 -> 2000)", rep.Summary.GrowthRatePercent)
	}
	if rep.Title != "Laporan Harian - 5 Januari 2025" {
		t.Fatalf("title = %q", rep.Title)
	}
	if rep.PDFPath == "" {
		t.Fatal("pdf path not set")
	}
	if _, err := os.Stat(rep.PDFPath); err != nil {
		t.Fatalf("pdf artifact missing: %v", err)
	}

	if _, err := svc.GenerateReport(kasirCtx(), domain.ReportGenerateRequest{Type: domain.ReportTypeDaily, StartDate: "2025-01-05", EndDate: "2025-01-05"}); err == nil {
		t.Fatal("kasir generate should be rejected")
	}
}

func TestGenerateReportInvalidType(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.GenerateReport(adminCtx(), domain.ReportGenerateRequest{Type: "weekly", StartDate: "2025-01-01", EndDate: "2025-01-07"})
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}

func TestDeleteReportRemovesPDF(t *testing.T) {
	repo := memory.New()
	dir := t.TempDir()
	svc := New(repo, report.NewPDFRenderer(dir), nil, time.Second)

	rep, err := svc.GenerateReport(adminCtx(), domain.ReportGenerateRequest{
		Type:      domain.ReportTypeDaily,
		StartDate: "2025-01-05",
		EndDate:   "2025-01-05",
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	if err := svc.DeleteReport(adminCtx(), rep.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := os.Stat(rep.PDFPath); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("pdf still present after delete: %v", err)
	}
	if _, err := svc.GetReport(adminCtx(), rep.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("report still present after delete: %v", err)
	}

	entries, err := os.ReadDir(filepath.Dir(rep.PDFPath))
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("report dir not empty after delete: %d entries", len(entries))
	}
}

func TestDashboardStats(t *testing.T) {
	svc, repo := newTestService(t)
	seedMedicine(t, svc, "med-low", 1000, 2)
	seedMedicine(t, svc, "med-ok", 1000, 50)

	now := time.Now().UTC()
	_, err := repo.CreateTransaction(context.Background(), domain.Transaction{
		CashierUsername: "kasir",
		PaymentAmount:   3000,
		CreatedAt:       now,
		Items:           []domain.TransactionItem{{MedicineID: "med-ok", Qty: 3}},
	})
	if err != nil {
		t.Fatalf("seed tx: %v", err)
	}

	stats, err := svc.DashboardStats(kasirCtx())
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Today.TotalSales != 3000 || stats.Today.TotalTransactions != 1 {
		t.Fatalf("today = %+v", stats.Today)
	}
	if stats.ThisMonth.TotalSales != 3000 {
		t.Fatalf("month = %+v", stats.ThisMonth)
	}
	if stats.Medicines.Total != 2 || stats.Medicines.LowStock != 1 {
		t.Fatalf("medicines = %+v", stats.Medicines)
	}
}

func TestAuditTrailRecordsSale(t *testing.T) {
	svc, repo := newTestService(t)
	seedMedicine(t, svc, "med-a", 1000, 10)

	tx, err := svc.CreateTransaction(kasirCtx(), domain.TransactionCreateRequest{
		Items:         []domain.TransactionItemRequest{{MedicineID: "med-a", Qty: 1}},
		PaymentAmount: 1000,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.CancelTransaction(kasirCtx(), tx.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	logs, err := repo.ListAuditLogs(context.Background(), time.Time{}, time.Time{}, 10)
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	actions := make(map[string]bool)
	for _, entry := range logs {
		actions[entry.Action] = true
		if entry.ActorUsername != "kasir" {
			t.Fatalf("audit actor = %s, want kasir", entry.ActorUsername)
		}
	}
	if !actions["transaction_create"] || !actions["transaction_cancel"] {
		t.Fatalf("audit actions = %v, want create and cancel recorded", actions)
	}
}
