package store

import (
	"context"
	"errors"
	"time"

	"farmapos/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrDuplicate         = errors.New("already exists")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrBatchUnavailable  = errors.New("batch unavailable")
	ErrInvalidSale       = errors.New("invalid sale")
	ErrSaleNotVoidable   = errors.New("sale cannot be voided")
	ErrInvalidReceiving  = errors.New("invalid stock receiving")
)

type Repository interface {
	ListMedicines(ctx context.Context) ([]domain.Medicine, error)
	CreateMedicine(ctx context.Context, med domain.Medicine) (*domain.Medicine, error)
	GetMedicineByID(ctx context.Context, id string) (*domain.Medicine, error)
	GetMedicineBySKU(ctx context.Context, sku string) (*domain.Medicine, error)
	UpdateMedicine(ctx context.Context, id string, req domain.MedicineUpdateRequest) (*domain.Medicine, error)
	SearchMedicines(ctx context.Context, query string) ([]domain.Medicine, error)
	CreateBatch(ctx context.Context, batch domain.Batch) (*domain.Batch, error)
	GetBatchByID(ctx context.Context, id string) (*domain.Batch, error)
	ListBatches(ctx context.Context, medicineID string, includeUnavailable bool, now time.Time) ([]domain.Batch, error)
	AvailableStock(ctx context.Context, medicineID string, now time.Time) (int, error)
	AdjustBatchQuantity(ctx context.Context, batchID string, delta int) (*domain.Batch, error)
	SetBatchBlocked(ctx context.Context, batchID string, blocked bool) (*domain.Batch, error)
	CreateSale(ctx context.Context, sale domain.PharmacySale) (*domain.PharmacySale, error)
	GetSaleByID(ctx context.Context, id string) (*domain.PharmacySale, error)
	GetSaleByInvoice(ctx context.Context, invoiceNumber string) (*domain.PharmacySale, error)
	ListSales(ctx context.Context, limit int) ([]domain.PharmacySale, error)
	VoidSale(ctx context.Context, id string, reason string, at time.Time) (*domain.PharmacySale, error)
	CreateSupplier(ctx context.Context, supplier domain.Supplier) (*domain.Supplier, error)
	GetSupplierByID(ctx context.Context, id string) (*domain.Supplier, error)
	ListSuppliers(ctx context.Context) ([]domain.Supplier, error)
	CreateStockReceiving(ctx context.Context, receiving domain.StockReceiving, batches []domain.Batch) (*domain.StockReceiving, error)
	ListStockReceivings(ctx context.Context, limit int) ([]domain.StockReceiving, error)
	CreateStockMovement(ctx context.Context, movement domain.StockMovement) error
	ListStockMovements(ctx context.Context, medicineID string, limit int) ([]domain.StockMovement, error)
	CreateControlledDrugEntry(ctx context.Context, entry domain.ControlledDrugEntry) error
	ListControlledDrugEntries(ctx context.Context, limit int) ([]domain.ControlledDrugEntry, error)
	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error)
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
