package domain

import "time"

type Medicine struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Category    string     `json:"category"`
	Price       int64      `json:"price"`
	Stock       int        `json:"stock"`
	Description string     `json:"description,omitempty"`
	ExpiryDate  *time.Time `json:"expiry_date,omitempty"`
	ImagePath   string     `json:"image_path,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

type MedicineCreateRequest struct {
	Name        string `json:"name"`
	Category    string `json:"category"`
	Price       int64  `json:"price"`
	Stock       int    `json:"stock"`
	Description string `json:"description"`
	ExpiryDate  string `json:"expiry_date,omitempty"`
	ImagePath   string `json:"image_path,omitempty"`
}

type MedicineUpdateRequest struct {
	Name        *string `json:"name,omitempty"`
	Category    *string `json:"category,omitempty"`
	Price       *int64  `json:"price,omitempty"`
	Stock       *int    `json:"stock,omitempty"`
	Description *string `json:"description,omitempty"`
	ExpiryDate  *string `json:"expiry_date,omitempty"`
	ImagePath   *string `json:"image_path,omitempty"`
}

// TransactionItem carries a price snapshot taken at sale time. Later
// price edits on the medicine never change historical lines.
type TransactionItem struct {
	MedicineID   string `json:"medicine_id"`
	MedicineName string `json:"medicine_name"`
	Qty          int    `json:"qty"`
	UnitPrice    int64  `json:"unit_price"`
	Subtotal     int64  `json:"subtotal"`
}

type Transaction struct {
	ID              string            `json:"id"`
	Number          string            `json:"number"`
	CashierUsername string            `json:"cashier_username"`
	Items           []TransactionItem `json:"items"`
	TotalAmount     int64             `json:"total_amount"`
	PaymentAmount   int64             `json:"payment_amount"`
	ChangeAmount    int64             `json:"change_amount"`
	Status          string            `json:"status"`
	CancelledAt     *time.Time        `json:"cancelled_at,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
}

type TransactionItemRequest struct {
	MedicineID string `json:"medicine_id"`
	Qty        int    `json:"qty"`
}

type TransactionCreateRequest struct {
	Items         []TransactionItemRequest `json:"items"`
	PaymentAmount int64                    `json:"payment_amount"`
}

type TransactionRangeResponse struct {
	Transactions []Transaction `json:"transactions"`
	TotalAmount  int64         `json:"total_amount"`
	Count        int           `json:"count"`
}

type DailySaleItem struct {
	MedicineID   string `json:"medicine_id"`
	MedicineName string `json:"medicine_name"`
	Qty          int    `json:"qty"`
	Revenue      int64  `json:"revenue"`
}

// DailySale is the per-cashier per-calendar-day rollup. Date is the
// local calendar day in "2006-01-02" form.
type DailySale struct {
	ID               string          `json:"id"`
	Date             string          `json:"date"`
	CashierUsername  string          `json:"cashier_username"`
	TotalAmount      int64           `json:"total_amount"`
	TransactionCount int             `json:"transaction_count"`
	Items            []DailySaleItem `json:"items"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

type TopProduct struct {
	MedicineID string `json:"medicine_id"`
	Name       string `json:"name"`
	QtySold    int    `json:"qty_sold"`
	Revenue    int64  `json:"revenue"`
}

type DailyBreakdownEntry struct {
	Date             string `json:"date"`
	TotalSales       int64  `json:"total_sales"`
	TransactionCount int    `json:"transaction_count"`
}

type ReportSummary struct {
	TotalSales              int64                 `json:"total_sales"`
	TotalTransactions       int                   `json:"total_transactions"`
	AverageTransactionValue float64               `json:"average_transaction_value"`
	TotalUnitsSold          int                   `json:"total_units_sold"`
	TopProducts             []TopProduct          `json:"top_products"`
	DailyBreakdown          []DailyBreakdownEntry `json:"daily_breakdown"`
	GrowthRatePercent       float64               `json:"growth_rate_percent"`
}

type Report struct {
	ID          string        `json:"id"`
	Type        string        `json:"type"`
	Title       string        `json:"title"`
	StartDate   time.Time     `json:"start_date"`
	EndDate     time.Time     `json:"end_date"`
	GeneratedBy string        `json:"generated_by"`
	Summary     ReportSummary `json:"summary"`
	PDFPath     string        `json:"pdf_path,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
}

type ReportGenerateRequest struct {
	Type      string `json:"type"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

type PeriodStats struct {
	TotalSales        int64 `json:"total_sales"`
	TotalTransactions int   `json:"total_transactions"`
}

type MedicineStats struct {
	Total    int `json:"total"`
	LowStock int `json:"low_stock"`
}

type DashboardStats struct {
	Today       PeriodStats   `json:"today"`
	ThisMonth   PeriodStats   `json:"this_month"`
	Medicines   MedicineStats `json:"medicines"`
	GeneratedAt string        `json:"generated_at"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

type CashierCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type CashierUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

const (
	TxStatusCompleted = "completed"
	TxStatusCancelled = "cancelled"
)

const (
	ReportTypeDaily   = "daily"
	ReportTypeMonthly = "monthly"
	ReportTypeYearly  = "yearly"
)

const (
	RoleAdmin = "admin"
	RoleKasir = "kasir"
)

// LowStockThreshold marks medicines that need restocking on the dashboard.
const LowStockThreshold = 10

var MedicineCategories = []string{
	"Obat Bebas",
	"Obat Keras",
	"Herbal",
	"Alat Kesehatan",
	"Vitamin",
}

func ValidMedicineCategory(category string) bool {
	for _, c := range MedicineCategories {
		if c == category {
			return true
		}
	}
	return false
}
