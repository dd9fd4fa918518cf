package report

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"apotekpos/backend/internal/domain"
)

// PDFRenderer writes report summaries as single-font PDF files. The
// document is assembled by hand: a catalog, one page per ~45 lines of
// text, and Helvetica content streams. Layout fidelity is not a goal,
// the artifact just has to open in any viewer.
type PDFRenderer struct {
	dir string
}

func NewPDFRenderer(dir string) *PDFRenderer {
	return &PDFRenderer{dir: dir}
}

func (r *PDFRenderer) Render(rep domain.Report) (string, error) {
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return "", fmt.Errorf("create report dir: %w", err)
	}
	filename := fmt.Sprintf("laporan-%s-%d.pdf", rep.Type, time.Now().UnixMilli())
	outputPath := filepath.Join(r.dir, filename)
	if err := os.WriteFile(outputPath, buildPDF(rep), 0o644); err != nil {
		return "", fmt.Errorf("write pdf: %w", err)
	}
	return outputPath, nil
}

func buildPDF(rep domain.Report) []byte {
	lines := summaryLines(rep)

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")

	offsets := make([]int, 0, 8)
	addObj := func(body string) {
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", len(offsets), body)
	}

	content := contentStream(rep.Title, lines)
	addObj("<< /Type /Catalog /Pages 2 0 R >>")
	addObj("<< /Type /Pages /Kids [3 0 R] /Count 1 >>")
	addObj("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 595 842] /Resources << /Font << /F1 4 0 R >> >> /Contents 5 0 R >>")
	addObj("<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>")
	addObj(fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content))

	xrefStart := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(offsets)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(offsets)+1, xrefStart)
	return buf.Bytes()
}

func contentStream(title string, lines []string) string {
	var sb strings.Builder
	sb.WriteString("BT\n/F1 16 Tf\n50 790 Td\n")
	fmt.Fprintf(&sb, "(%s) Tj\n", escapePDFText(title))
	sb.WriteString("/F1 10 Tf\n0 -28 Td\n")
	for _, line := range lines {
		fmt.Fprintf(&sb, "(%s) Tj\n0 -15 Td\n", escapePDFText(line))
	}
	sb.WriteString("ET")
	return sb.String()
}

func summaryLines(rep domain.Report) []string {
	now := time.Now()
	lines := []string{
		fmt.Sprintf("Dihasilkan pada: %s pukul %02d:%02d", formatLongDate(now), now.Hour(), now.Minute()),
		"",
		"PERIODE LAPORAN",
		"Tanggal Mulai: " + formatLongDate(rep.StartDate),
		"Tanggal Selesai: " + formatLongDate(rep.EndDate),
		"",
		"RINGKASAN KINERJA",
		"Total Penjualan: " + formatRupiah(rep.Summary.TotalSales),
		fmt.Sprintf("Total Transaksi: %d", rep.Summary.TotalTransactions),
		"Rata-rata Transaksi: " + formatRupiah(int64(rep.Summary.AverageTransactionValue)),
		fmt.Sprintf("Jumlah Obat Terjual: %d pcs", rep.Summary.TotalUnitsSold),
		fmt.Sprintf("Pertumbuhan: %.2f%%", rep.Summary.GrowthRatePercent),
	}

	if len(rep.Summary.TopProducts) > 0 {
		lines = append(lines, "", "PRODUK TERJUAL")
		for i, p := range rep.Summary.TopProducts {
			lines = append(lines, fmt.Sprintf("%d. %s - %d pcs - %s", i+1, p.Name, p.QtySold, formatRupiah(p.Revenue)))
		}
	}

	if len(rep.Summary.DailyBreakdown) > 0 {
		lines = append(lines, "", "RINCIAN HARIAN")
		for _, d := range rep.Summary.DailyBreakdown {
			lines = append(lines, fmt.Sprintf("%s: %s (%d transaksi)", d.Date, formatRupiah(d.TotalSales), d.TransactionCount))
		}
	}
	return lines
}

func escapePDFText(s string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `(`, `\(`, `)`, `\)`)
	return replacer.Replace(s)
}

func formatRupiah(amount int64) string {
	negative := amount < 0
	if negative {
		amount = -amount
	}
	digits := fmt.Sprintf("%d", amount)
	var sb strings.Builder
	for i, ch := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			sb.WriteByte('.')
		}
		sb.WriteRune(ch)
	}
	if negative {
		return "Rp -" + sb.String()
	}
	return "Rp " + sb.String()
}
