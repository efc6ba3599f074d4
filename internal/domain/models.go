package domain

import "time"

const (
	ScheduleOTC          = "otc"
	SchedulePrescription = "prescription"
	ScheduleControlled   = "controlled"
)

const (
	RoleAdmin   = "admin"
	RoleManager = "manager"
	RoleCashier = "cashier"
)

const (
	PaymentCash      = "cash"
	PaymentCard      = "card"
	PaymentMobile    = "mobile"
	PaymentInsurance = "insurance"
)

const (
	SaleStatusCompleted = "completed"
	SaleStatusVoided    = "voided"
)

const (
	MovementIn         = "in"
	MovementOut        = "out"
	MovementAdjustment = "adjustment"
	MovementWriteOff   = "write_off"
)

type Medicine struct {
	ID             string    `json:"id"`
	SKU            string    `json:"sku"`
	Barcode        string    `json:"barcode,omitempty"`
	Name           string    `json:"name"`
	GenericName    string    `json:"generic_name,omitempty"`
	Category       string    `json:"category"`
	Schedule       string    `json:"schedule"`
	UnitPriceCents int64     `json:"unit_price_cents"`
	TaxRatePercent float64   `json:"tax_rate_percent"`
	ReorderLevel   int       `json:"reorder_level"`
	Active         bool      `json:"active"`
	CreatedAt      time.Time `json:"created_at"`
}

// RequiresPrescription covers both prescription-only and controlled schedules.
func (m Medicine) RequiresPrescription() bool {
	return m.Schedule == SchedulePrescription || m.Schedule == ScheduleControlled
}

func (m Medicine) IsControlled() bool {
	return m.Schedule == ScheduleControlled
}

type MedicineCreateRequest struct {
	SKU            string  `json:"sku"`
	Barcode        string  `json:"barcode,omitempty"`
	Name           string  `json:"name"`
	GenericName    string  `json:"generic_name,omitempty"`
	Category       string  `json:"category"`
	Schedule       string  `json:"schedule"`
	UnitPriceCents int64   `json:"unit_price_cents"`
	TaxRatePercent float64 `json:"tax_rate_percent"`
	ReorderLevel   int     `json:"reorder_level"`
}

type MedicineUpdateRequest struct {
	Name           *string  `json:"name,omitempty"`
	GenericName    *string  `json:"generic_name,omitempty"`
	Category       *string  `json:"category,omitempty"`
	Schedule       *string  `json:"schedule,omitempty"`
	UnitPriceCents *int64   `json:"unit_price_cents,omitempty"`
	TaxRatePercent *float64 `json:"tax_rate_percent,omitempty"`
	ReorderLevel   *int     `json:"reorder_level,omitempty"`
	Active         *bool    `json:"active,omitempty"`
}

// CatalogItem is the sellable snapshot returned by catalog search. Stock is
// the sum of unblocked, unexpired batch quantities at lookup time and may be
// stale by the time the sale is submitted.
type CatalogItem struct {
	ID                   string  `json:"id"`
	SKU                  string  `json:"sku"`
	Name                 string  `json:"name"`
	UnitPriceCents       int64   `json:"unit_price_cents"`
	AvailableStock       int     `json:"available_stock"`
	RequiresPrescription bool    `json:"requires_prescription"`
	IsControlled         bool    `json:"is_controlled"`
	TaxRatePercent       float64 `json:"tax_rate_percent"`
}

type Batch struct {
	ID          string     `json:"id"`
	MedicineID  string     `json:"medicine_id"`
	BatchNumber string     `json:"batch_number"`
	ExpiryDate  *time.Time `json:"expiry_date,omitempty"`
	ReceivedAt  time.Time  `json:"received_at"`
	Quantity    int        `json:"quantity"`
	CostCents   int64      `json:"cost_cents"`
	PriceCents  int64      `json:"price_cents"`
	Blocked     bool       `json:"blocked"`
}

func (b Batch) IsExpired(now time.Time) bool {
	if b.ExpiryDate == nil {
		return false
	}
	return !b.ExpiryDate.After(now)
}

// DaysToExpiry returns the whole days remaining, negative when already
// expired. Batches without an expiry date report a large positive value.
func (b Batch) DaysToExpiry(now time.Time) int {
	if b.ExpiryDate == nil {
		return 1 << 20
	}
	return int(b.ExpiryDate.Sub(now).Hours() / 24)
}

func (b Batch) Available(now time.Time) bool {
	return !b.Blocked && !b.IsExpired(now) && b.Quantity > 0
}

type BatchAdjustRequest struct {
	DeltaQty int    `json:"delta_qty"`
	Reason   string `json:"reason"`
}

type BatchBlockRequest struct {
	Blocked bool   `json:"blocked"`
	Reason  string `json:"reason"`
}

type Supplier struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	ContactPerson string    `json:"contact_person,omitempty"`
	Phone         string    `json:"phone,omitempty"`
	Email         string    `json:"email,omitempty"`
	Address       string    `json:"address,omitempty"`
	Active        bool      `json:"active"`
	CreatedAt     time.Time `json:"created_at"`
}

type SupplierCreateRequest struct {
	Name          string `json:"name"`
	ContactPerson string `json:"contact_person,omitempty"`
	Phone         string `json:"phone,omitempty"`
	Email         string `json:"email,omitempty"`
	Address       string `json:"address,omitempty"`
}

type StockReceivingItem struct {
	MedicineID  string `json:"medicine_id"`
	BatchNumber string `json:"batch_number"`
	ExpiryDate  string `json:"expiry_date,omitempty"`
	Quantity    int    `json:"quantity"`
	CostCents   int64  `json:"cost_cents"`
	PriceCents  int64  `json:"price_cents"`
}

type StockReceivingRequest struct {
	SupplierID   string               `json:"supplier_id,omitempty"`
	SupplierName string               `json:"supplier_name,omitempty"`
	Notes        string               `json:"notes,omitempty"`
	Items        []StockReceivingItem `json:"items"`
}

type StockReceiving struct {
	ID           string               `json:"id"`
	Number       string               `json:"number"`
	SupplierID   string               `json:"supplier_id,omitempty"`
	SupplierName string               `json:"supplier_name"`
	Notes        string               `json:"notes,omitempty"`
	ReceivedBy   string               `json:"received_by"`
	CreatedAt    time.Time            `json:"created_at"`
	Items        []StockReceivingItem `json:"items"`
}

type StockMovement struct {
	ID         string    `json:"id"`
	MedicineID string    `json:"medicine_id"`
	BatchID    string    `json:"batch_id,omitempty"`
	Type       string    `json:"type"`
	Quantity   int       `json:"quantity"`
	Reference  string    `json:"reference,omitempty"`
	Notes      string    `json:"notes,omitempty"`
	CreatedBy  string    `json:"created_by"`
	CreatedAt  time.Time `json:"created_at"`
}

type ControlledDrugEntry struct {
	ID                 string    `json:"id"`
	MedicineID         string    `json:"medicine_id"`
	MedicineName       string    `json:"medicine_name"`
	BatchNumber        string    `json:"batch_number"`
	Quantity           int       `json:"quantity"`
	SaleID             string    `json:"sale_id"`
	PrescriptionNumber string    `json:"prescription_number,omitempty"`
	Prescriber         string    `json:"prescriber,omitempty"`
	DispensedBy        string    `json:"dispensed_by"`
	CreatedAt          time.Time `json:"created_at"`
}

type SaleItemRequest struct {
	MedicineID      string  `json:"medicine_id"`
	BatchID         string  `json:"batch_id,omitempty"`
	Quantity        int     `json:"quantity"`
	DiscountPercent float64 `json:"discount_percent"`
}

type SaleSubmitRequest struct {
	CustomerName         string            `json:"customer_name,omitempty"`
	CustomerPhone        string            `json:"customer_phone,omitempty"`
	PaymentMethod        string            `json:"payment_method"`
	AmountPaidCents      int64             `json:"amount_paid_cents"`
	PrescriptionVerified bool              `json:"prescription_verified"`
	PrescriptionNumber   string            `json:"prescription_number,omitempty"`
	Prescriber           string            `json:"prescriber,omitempty"`
	ApplyTax             bool              `json:"apply_tax"`
	Items                []SaleItemRequest `json:"items"`
}

type SaleItem struct {
	MedicineID      string     `json:"medicine_id"`
	MedicineName    string     `json:"medicine_name"`
	BatchID         string     `json:"batch_id,omitempty"`
	BatchNumber     string     `json:"batch_number,omitempty"`
	ExpiryDate      *time.Time `json:"expiry_date,omitempty"`
	Quantity        int        `json:"quantity"`
	UnitPriceCents  int64      `json:"unit_price_cents"`
	DiscountPercent float64    `json:"discount_percent"`
	LineTotalCents  int64      `json:"line_total_cents"`
}

type PharmacySale struct {
	ID                 string     `json:"id"`
	InvoiceNumber      string     `json:"invoice_number"`
	CustomerName       string     `json:"customer_name,omitempty"`
	CustomerPhone      string     `json:"customer_phone,omitempty"`
	PrescriptionNumber string     `json:"prescription_number,omitempty"`
	Prescriber         string     `json:"prescriber,omitempty"`
	PaymentMethod      string     `json:"payment_method"`
	SubtotalCents      int64      `json:"subtotal_cents"`
	DiscountCents      int64      `json:"discount_cents"`
	TaxCents           int64      `json:"tax_cents"`
	TotalCents         int64      `json:"total_cents"`
	AmountPaidCents    int64      `json:"amount_paid_cents"`
	ChangeCents        int64      `json:"change_cents"`
	Status             string     `json:"status"`
	VoidReason         string     `json:"void_reason,omitempty"`
	VoidedAt           *time.Time `json:"voided_at,omitempty"`
	SoldBy             string     `json:"sold_by"`
	CreatedAt          time.Time  `json:"created_at"`
	Items              []SaleItem `json:"items"`
	Warnings           []string   `json:"warnings,omitempty"`
}

type SaleResponse struct {
	Sale PharmacySale `json:"sale"`
}

type SaleListResponse struct {
	Sales []PharmacySale `json:"sales"`
}

type VoidSaleRequest struct {
	Reason     string `json:"reason"`
	ManagerPIN string `json:"manager_pin"`
}

type ExpiryAdvisory struct {
	BatchID      string `json:"batch_id"`
	MedicineID   string `json:"medicine_id"`
	MedicineName string `json:"medicine_name"`
	BatchNumber  string `json:"batch_number"`
	ExpiryDate   string `json:"expiry_date"`
	DaysLeft     int    `json:"days_left"`
	Quantity     int    `json:"quantity"`
	Severity     string `json:"severity"`
	Message      string `json:"message"`
}

type ExpiryAdvisoryResponse struct {
	GeneratedAt string           `json:"generated_at"`
	Advisories  []ExpiryAdvisory `json:"advisories"`
	LatencyMS   int64            `json:"latency_ms"`
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
