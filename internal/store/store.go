package store

import (
	"context"
	"errors"
	"time"

	"apotekpos/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidInput      = errors.New("invalid input")
	ErrPaymentTooLow     = errors.New("payment amount below total")
	ErrAlreadyCancelled  = errors.New("transaction already cancelled")
)

// Repository is the persistence boundary. CreateTransaction and
// CancelTransaction are atomic: stock movement, the per-day sequence
// number, and the daily sales rollup commit or roll back together.
type Repository interface {
	ListMedicines(ctx context.Context) ([]domain.Medicine, error)
	GetMedicineByID(ctx context.Context, id string) (*domain.Medicine, error)
	GetMedicinesByIDs(ctx context.Context, ids []string) (map[string]domain.Medicine, error)
	CreateMedicine(ctx context.Context, medicine domain.Medicine) (*domain.Medicine, error)
	UpdateMedicine(ctx context.Context, medicine domain.Medicine) (*domain.Medicine, error)
	DeleteMedicine(ctx context.Context, id string) error
	CountMedicines(ctx context.Context) (domain.MedicineStats, error)

	CreateTransaction(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error)
	GetTransactionByID(ctx context.Context, id string) (*domain.Transaction, error)
	ListTransactions(ctx context.Context, limit int) ([]domain.Transaction, error)
	ListCompletedTransactions(ctx context.Context, from time.Time, to time.Time) ([]domain.Transaction, error)
	CancelTransaction(ctx context.Context, id string, at time.Time) (*domain.Transaction, error)
	DeleteTransaction(ctx context.Context, id string) error

	GetDailySale(ctx context.Context, date string, cashier string) (*domain.DailySale, error)
	ListDailySales(ctx context.Context, from string, to string, cashier string) ([]domain.DailySale, error)

	GetPeriodStats(ctx context.Context, from time.Time, to time.Time) (domain.PeriodStats, error)

	CreateReport(ctx context.Context, report domain.Report) (*domain.Report, error)
	GetReportByID(ctx context.Context, id string) (*domain.Report, error)
	ListReports(ctx context.Context, reportType string, limit int) ([]domain.Report, error)
	DeleteReport(ctx context.Context, id string) error

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
