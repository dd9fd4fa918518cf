package report

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"apotekpos/backend/internal/domain"
)

func TestFormatRupiah(t *testing.T) {
	cases := []struct {
		amount int64
		want   string
	}{
		{0, "Rp 0"},
		{500, "Rp 500"},
		{8000, "Rp 8.000"},
		{1234567, "Rp 1.234.567"},
		{-25000, "Rp -25.000"},
	}
	for _, tc := range cases {
		if got := formatRupiah(tc.amount); got != tc.want {
			t.Errorf("formatRupiah(%d) = %q, want %q", tc.amount, got, tc.want)
		}
	}
}

func TestEscapePDFText(t *testing.T) {
	got := escapePDFText(`OBH (Combi) \ Batuk`)
	want := `OBH \(Combi\) \\ Batuk`
	if got != want {
		t.Fatalf("escaped = %q, want %q", got, want)
	}
}

func TestRenderWritesPDF(t *testing.T) {
	dir := t.TempDir()
	renderer := NewPDFRenderer(dir)

	rep := domain.Report{
		Type:      domain.ReportTypeDaily,
		Title:     "Laporan Harian - 5 Januari 2025",
		StartDate: day("2025-01-05"),
		EndDate:   day("2025-01-05"),
		CreatedAt: time.Now().UTC(),
		Summary: domain.ReportSummary{
			TotalSales:              2500,
			TotalTransactions:       2,
			AverageTransactionValue: 1250,
			TotalUnitsSold:          3,
			TopProducts: []domain.TopProduct{
				{MedicineID: "med-a", Name: "Paracetamol 500mg", QtySold: 2, Revenue: 1600},
			},
			DailyBreakdown: []domain.DailyBreakdownEntry{
				{Date: "2025-01-05", TotalSales: 2500, TransactionCount: 2},
			},
		},
	}

	path, err := renderer.Render(rep)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if filepath.Dir(path) != dir {
		t.Fatalf("pdf written to %s, want directory %s", path, dir)
	}
	if !strings.HasPrefix(filepath.Base(path), "laporan-daily-") {
		t.Fatalf("unexpected filename %s", filepath.Base(path))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read pdf: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("%PDF-1.4")) {
		t.Fatal("output does not start with a PDF header")
	}
	if !bytes.Contains(data, []byte("%%EOF")) {
		t.Fatal("output is missing the PDF trailer")
	}
	if !bytes.Contains(data, []byte("Total Penjualan")) {
		t.Fatal("content stream is missing the summary section")
	}
}
