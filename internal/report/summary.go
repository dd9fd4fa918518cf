package report

import (
	"fmt"
	"math"
	"sort"
	"time"

	"apotekpos/backend/internal/domain"
)

var longMonths = []string{
	"Januari", "Februari", "Maret", "April", "Mei", "Juni",
	"Juli", "Agustus", "September", "Oktober", "November", "Desember",
}

var typeLabels = map[string]string{
	domain.ReportTypeDaily:   "Laporan Harian",
	domain.ReportTypeMonthly: "Laporan Bulanan",
	domain.ReportTypeYearly:  "Laporan Tahunan",
}

// Summarize folds completed transactions into the report summary.
// Growth rate is filled in separately because it needs the previous
// period's total.
func Summarize(transactions []domain.Transaction) domain.ReportSummary {
	summary := domain.ReportSummary{
		TopProducts:    []domain.TopProduct{},
		DailyBreakdown: []domain.DailyBreakdownEntry{},
	}

	type productAgg struct {
		name    string
		qty     int
		revenue int64
	}
	products := make(map[string]*productAgg)
	daily := make(map[string]*domain.DailyBreakdownEntry)

	for _, tx := range transactions {
		summary.TotalSales += tx.TotalAmount
		summary.TotalTransactions++

		dateKey := tx.CreatedAt.Format("2006-01-02")
		entry, ok := daily[dateKey]
		if !ok {
			entry = &domain.DailyBreakdownEntry{Date: dateKey}
			daily[dateKey] = entry
		}
		entry.TotalSales += tx.TotalAmount
		entry.TransactionCount++

		for _, item := range tx.Items {
			summary.TotalUnitsSold += item.Qty
			agg, ok := products[item.MedicineID]
			if !ok {
				agg = &productAgg{name: item.MedicineName}
				products[item.MedicineID] = agg
			}
			agg.qty += item.Qty
			agg.revenue += item.Subtotal
		}
	}

	if summary.TotalTransactions > 0 {
		summary.AverageTransactionValue = float64(summary.TotalSales) / float64(summary.TotalTransactions)
	}

	for id, agg := range products {
		summary.TopProducts = append(summary.TopProducts, domain.TopProduct{
			MedicineID: id,
			Name:       agg.name,
			QtySold:    agg.qty,
			Revenue:    agg.revenue,
		})
	}
	sort.Slice(summary.TopProducts, func(i, j int) bool {
		a, b := summary.TopProducts[i], summary.TopProducts[j]
		if a.Revenue != b.Revenue {
			return a.Revenue > b.Revenue
		}
		return a.Name < b.Name
	})
	if len(summary.TopProducts) > 5 {
		summary.TopProducts = summary.TopProducts[:5]
	}

	for _, entry := range daily {
		summary.DailyBreakdown = append(summary.DailyBreakdown, *entry)
	}
	sort.Slice(summary.DailyBreakdown, func(i, j int) bool {
		return summary.DailyBreakdown[i].Date < summary.DailyBreakdown[j].Date
	})

	return summary
}

// GrowthRate compares a period's sales total against the preceding
// period's. Both zero means no movement (0). A previous total of zero
// with any current sales reports 100. Otherwise the relative change
// as a percentage, rounded to two decimals.
func GrowthRate(previous int64, current int64) float64 {
	if previous == 0 {
		if current == 0 {
			return 0
		}
		return 100
	}
	rate := (float64(current) - float64(previous)) / float64(previous) * 100
	return math.Round(rate*100) / 100
}

// Title renders the Indonesian report title, e.g.
// "Laporan Harian - 5 Januari 2025" or the range form with "s/d".
func Title(reportType string, start time.Time, end time.Time) string {
	label, ok := typeLabels[reportType]
	if !ok {
		label = "Laporan"
	}
	startStr := formatLongDate(start)
	if sameDay(start, end) {
		return fmt.Sprintf("%s - %s", label, startStr)
	}
	return fmt.Sprintf("%s - %s s/d %s", label, startStr, formatLongDate(end))
}

// PreviousPeriod returns the window of equal length immediately before
// [start, end]. Day-granular: a 1 Jan..7 Jan window maps to 25 Dec..31 Dec.
func PreviousPeriod(start time.Time, end time.Time) (time.Time, time.Time) {
	days := int(end.Sub(start).Hours()/24) + 1
	if days < 1 {
		days = 1
	}
	prevEnd := start.AddDate(0, 0, -1)
	prevStart := prevEnd.AddDate(0, 0, -(days - 1))
	return prevStart, prevEnd
}

func ValidType(reportType string) bool {
	_, ok := typeLabels[reportType]
	return ok
}

func formatLongDate(t time.Time) string {
	return fmt.Sprintf("%d %s %d", t.Day(), longMonths[int(t.Month())-1], t.Year())
}

func sameDay(a time.Time, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month() && a.Day() == b.Day()
}
