package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"farmapos/backend/internal/cart"
	"farmapos/backend/internal/domain"
	"farmapos/backend/internal/expiry"
	"farmapos/backend/internal/store"
	"farmapos/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

var (
	ErrCartNotFound = errors.New("cart not found")
	ErrCartNotOwned = errors.New("cart owned by another user")
)

const nearExpirySaleWarnDays = 30

type cartSession struct {
	mu       sync.Mutex
	id       string
	pharmacy bool
	engine   *cart.Engine
}

type Service struct {
	repo     store.Repository
	advisor  *expiry.Engine
	pharmacy string

	cartsMu sync.Mutex
	carts   map[string]*cartSession
}

func New(repo store.Repository, advisor *expiry.Engine, pharmacy string) *Service {
	return &Service{
		repo:     repo,
		advisor:  advisor,
		pharmacy: pharmacy,
		carts:    make(map[string]*cartSession),
	}
}

// PharmacyName reports which pharmacy this instance serves.
func (s *Service) PharmacyName() string {
	return s.pharmacy
}

// catalogAdapter exposes the repository as the cart engine's catalog:
// medicine snapshots annotated with available batch stock.
type catalogAdapter struct {
	repo store.Repository
}

func (a catalogAdapter) Search(ctx context.Context, query string) ([]domain.CatalogItem, error) {
	medicines, err := a.repo.SearchMedicines(ctx, query)
	if err != nil {
		return nil, err
	}
	items := make([]domain.CatalogItem, 0, len(medicines))
	now := time.Now().UTC()
	for _, med := range medicines {
		stock, err := a.repo.AvailableStock(ctx, med.ID, now)
		if err != nil {
			return nil, err
		}
		items = append(items, toCatalogItem(med, stock))
	}
	return items, nil
}

func (a catalogAdapter) Get(ctx context.Context, itemID string) (domain.CatalogItem, error) {
	med, err := a.repo.GetMedicineByID(ctx, itemID)
	if err != nil {
		return domain.CatalogItem{}, err
	}
	stock, err := a.repo.AvailableStock(ctx, med.ID, time.Now().UTC())
	if err != nil {
		return domain.CatalogItem{}, err
	}
	return toCatalogItem(*med, stock), nil
}

type batchAdapter struct {
	repo store.Repository
}

func (a batchAdapter) ListAvailableBatches(ctx context.Context, itemID string) ([]domain.Batch, error) {
	return a.repo.ListBatches(ctx, itemID, false, time.Now().UTC())
}

func toCatalogItem(med domain.Medicine, stock int) domain.CatalogItem {
	return domain.CatalogItem{
		ID:                   med.ID,
		SKU:                  med.SKU,
		Name:                 med.Name,
		UnitPriceCents:       med.UnitPriceCents,
		AvailableStock:       stock,
		RequiresPrescription: med.RequiresPrescription(),
		IsControlled:         med.IsControlled(),
		TaxRatePercent:       med.TaxRatePercent,
	}
}

type CartView struct {
	ID       string `json:"id"`
	Pharmacy bool   `json:"pharmacy"`
	cart.View
}

// CreateCart opens a fresh cart for the acting user. Pharmacy carts select
// batches and skip tax; retail carts apply per-item tax.
func (s *Service) CreateCart(ctx context.Context, pharmacy bool) (CartView, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return CartView{}, fmt.Errorf("authentication required")
	}

	opts := cart.Options{RequireBatchSelection: pharmacy, ApplyTax: !pharmacy}
	engine := cart.New(opts, catalogAdapter{repo: s.repo}, batchAdapter{repo: s.repo}, s, actor)
	session := &cartSession{
		id:       xid.New("cart"),
		pharmacy: pharmacy,
		engine:   engine,
	}

	s.cartsMu.Lock()
	s.carts[session.id] = session
	s.cartsMu.Unlock()

	return CartView{ID: session.id, Pharmacy: pharmacy, View: engine.View()}, nil
}

func (s *Service) withCart(ctx context.Context, cartID string, fn func(engine *cart.Engine) error) (CartView, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return CartView{}, fmt.Errorf("authentication required")
	}

	s.cartsMu.Lock()
	session, exists := s.carts[cartID]
	s.cartsMu.Unlock()
	if !exists {
		return CartView{}, ErrCartNotFound
	}

	session.mu.Lock()
	defer session.mu.Unlock()

	if session.engine.Owner().Username != actor.Username {
		return CartView{}, ErrCartNotOwned
	}

	err := fn(session.engine)
	return CartView{ID: session.id, Pharmacy: session.pharmacy, View: session.engine.View()}, err
}

func (s *Service) GetCart(ctx context.Context, cartID string) (CartView, error) {
	return s.withCart(ctx, cartID, func(_ *cart.Engine) error { return nil })
}

func (s *Service) CartSearch(ctx context.Context, cartID string, query string) (CartView, error) {
	return s.withCart(ctx, cartID, func(engine *cart.Engine) error {
		_, err := engine.Search(ctx, query)
		return err
	})
}

func (s *Service) CartAddItem(ctx context.Context, cartID string, itemID string, confirmPrescription bool) (CartView, error) {
	return s.withCart(ctx, cartID, func(engine *cart.Engine) error {
		return engine.AddItem(ctx, itemID, confirmPrescription)
	})
}

func (s *Service) CartSetQuantity(ctx context.Context, cartID string, itemID string, qty int) (CartView, error) {
	return s.withCart(ctx, cartID, func(engine *cart.Engine) error {
		return engine.SetQuantity(itemID, qty)
	})
}

func (s *Service) CartSetDiscount(ctx context.Context, cartID string, itemID string, raw string) (CartView, error) {
	return s.withCart(ctx, cartID, func(engine *cart.Engine) error {
		return engine.SetDiscount(itemID, raw)
	})
}

func (s *Service) CartSelectBatch(ctx context.Context, cartID string, itemID string, batchID string) (CartView, error) {
	return s.withCart(ctx, cartID, func(engine *cart.Engine) error {
		return engine.SelectBatch(ctx, itemID, batchID)
	})
}

type CartDetailsRequest struct {
	CustomerName       *string `json:"customer_name,omitempty"`
	CustomerPhone      *string `json:"customer_phone,omitempty"`
	PaymentMethod      *string `json:"payment_method,omitempty"`
	AmountPaidCents    *int64  `json:"amount_paid_cents,omitempty"`
	PrescriptionNumber *string `json:"prescription_number,omitempty"`
	Prescriber         *string `json:"prescriber,omitempty"`
}

func (s *Service) CartSetDetails(ctx context.Context, cartID string, req CartDetailsRequest) (CartView, error) {
	return s.withCart(ctx, cartID, func(engine *cart.Engine) error {
		view := engine.View()
		if req.CustomerName != nil || req.CustomerPhone != nil {
			name, phone := view.CustomerName, view.CustomerPhone
			if req.CustomerName != nil {
				name = *req.CustomerName
			}
			if req.CustomerPhone != nil {
				phone = *req.CustomerPhone
			}
			engine.SetCustomer(name, phone)
		}
		if req.PaymentMethod != nil {
			if !isSupportedPaymentMethod(*req.PaymentMethod) {
				return fmt.Errorf("unsupported payment method %s: %w", *req.PaymentMethod, store.ErrInvalidSale)
			}
			engine.SetPaymentMethod(*req.PaymentMethod)
		}
		if req.AmountPaidCents != nil {
			engine.SetAmountPaid(*req.AmountPaidCents)
		}
		if req.PrescriptionNumber != nil || req.Prescriber != nil {
			number, prescriber := view.PrescriptionNumber, view.Prescriber
			if req.PrescriptionNumber != nil {
				number = *req.PrescriptionNumber
			}
			if req.Prescriber != nil {
				prescriber = *req.Prescriber
			}
			engine.SetPrescription(number, prescriber)
		}
		return nil
	})
}

func (s *Service) CartBeginPayment(ctx context.Context, cartID string) (CartView, error) {
	return s.withCart(ctx, cartID, func(engine *cart.Engine) error {
		return engine.BeginPayment(ctx)
	})
}

func (s *Service) CartBackToEditing(ctx context.Context, cartID string) (CartView, error) {
	return s.withCart(ctx, cartID, func(engine *cart.Engine) error {
		engine.BackToEditing()
		return nil
	})
}

func (s *Service) CartClear(ctx context.Context, cartID string) (CartView, error) {
	return s.withCart(ctx, cartID, func(engine *cart.Engine) error {
		engine.Clear()
		return nil
	})
}

// CartSubmit finalizes the cart through the engine; the engine calls back
// into SubmitSale for the authoritative server-side checks.
func (s *Service) CartSubmit(ctx context.Context, cartID string, continueWithoutRx bool) (domain.PharmacySale, CartView, error) {
	var sale domain.PharmacySale
	view, err := s.withCart(ctx, cartID, func(engine *cart.Engine) error {
		var submitErr error
		sale, submitErr = engine.Submit(ctx, continueWithoutRx)
		return submitErr
	})
	return sale, view, err
}

// SubmitSale is the authoritative sale path. Cart-side checks are advisory;
// everything is re-validated here against current stock before batches are
// decremented.
func (s *Service) SubmitSale(ctx context.Context, actor domain.Actor, req domain.SaleSubmitRequest) (domain.PharmacySale, error) {
	if actor.Username == "" {
		return domain.PharmacySale{}, fmt.Errorf("authentication required")
	}
	if len(req.Items) == 0 {
		return domain.PharmacySale{}, fmt.Errorf("sale has no items: %w", store.ErrInvalidSale)
	}
	if !isSupportedPaymentMethod(req.PaymentMethod) {
		return domain.PharmacySale{}, fmt.Errorf("unsupported payment method %q: %w", req.PaymentMethod, store.ErrInvalidSale)
	}
	if req.PaymentMethod == domain.PaymentMobile && strings.TrimSpace(req.CustomerName) == "" {
		return domain.PharmacySale{}, fmt.Errorf("customer name required for mobile payment: %w", store.ErrInvalidSale)
	}

	now := time.Now().UTC()
	lines := make([]cart.Line, 0, len(req.Items))
	saleItems := make([]domain.SaleItem, 0, len(req.Items))
	warnings := make([]string, 0)

	for _, item := range req.Items {
		if item.Quantity < 1 {
			return domain.PharmacySale{}, fmt.Errorf("quantity must be at least 1: %w", store.ErrInvalidSale)
		}
		if item.DiscountPercent < 0 || item.DiscountPercent > 100 {
			return domain.PharmacySale{}, fmt.Errorf("discount out of range: %w", store.ErrInvalidSale)
		}

		med, err := s.repo.GetMedicineByID(ctx, item.MedicineID)
		if err != nil {
			return domain.PharmacySale{}, err
		}
		if !med.Active {
			return domain.PharmacySale{}, fmt.Errorf("medicine %s is inactive: %w", med.Name, store.ErrInvalidSale)
		}
		if med.RequiresPrescription() && !req.PrescriptionVerified {
			return domain.PharmacySale{}, fmt.Errorf("%s requires prescription verification: %w", med.Name, store.ErrInvalidSale)
		}
		if med.IsControlled() && actor.Role == domain.RoleCashier {
			return domain.PharmacySale{}, fmt.Errorf("%s is a controlled medicine and needs manager authorization: %w", med.Name, store.ErrInvalidSale)
		}

		batch, err := s.resolveBatch(ctx, *med, item, now)
		if err != nil {
			return domain.PharmacySale{}, err
		}

		unitPrice := med.UnitPriceCents
		if batch.PriceCents > 0 {
			unitPrice = batch.PriceCents
		}
		if days := batch.DaysToExpiry(now); days <= nearExpirySaleWarnDays {
			warnings = append(warnings, fmt.Sprintf("Batch %s expires in %d days", batch.BatchNumber, days))
		}

		snapshot := toCatalogItem(*med, batch.Quantity)
		snapshot.UnitPriceCents = unitPrice
		b := batch
		line := cart.Line{
			Item:            snapshot,
			Batch:           &b,
			Quantity:        item.Quantity,
			DiscountPercent: item.DiscountPercent,
		}
		lines = append(lines, line)

		lineOnly := cart.ComputeTotals([]cart.Line{line}, false, 0)
		saleItems = append(saleItems, domain.SaleItem{
			MedicineID:      med.ID,
			MedicineName:    med.Name,
			BatchID:         batch.ID,
			BatchNumber:     batch.BatchNumber,
			ExpiryDate:      batch.ExpiryDate,
			Quantity:        item.Quantity,
			UnitPriceCents:  unitPrice,
			DiscountPercent: item.DiscountPercent,
			LineTotalCents:  lineOnly.SubtotalCents - lineOnly.DiscountCents,
		})
	}

	totals := cart.ComputeTotals(lines, req.ApplyTax, req.AmountPaidCents)
	if req.AmountPaidCents < totals.TotalCents {
		return domain.PharmacySale{}, fmt.Errorf("amount paid %d is below total %d: %w", req.AmountPaidCents, totals.TotalCents, store.ErrInvalidSale)
	}

	sale := domain.PharmacySale{
		ID:                 xid.New("sale"),
		InvoiceNumber:      invoiceNumber(now),
		CustomerName:       strings.TrimSpace(req.CustomerName),
		CustomerPhone:      strings.TrimSpace(req.CustomerPhone),
		PrescriptionNumber: strings.TrimSpace(req.PrescriptionNumber),
		Prescriber:         strings.TrimSpace(req.Prescriber),
		PaymentMethod:      req.PaymentMethod,
		SubtotalCents:      totals.SubtotalCents,
		DiscountCents:      totals.DiscountCents,
		TaxCents:           totals.TaxCents,
		TotalCents:         totals.TotalCents,
		AmountPaidCents:    req.AmountPaidCents,
		ChangeCents:        totals.ChangeCents,
		Status:             domain.SaleStatusCompleted,
		SoldBy:             actor.Username,
		CreatedAt:          now,
		Items:              saleItems,
		Warnings:           warnings,
	}

	created, err := s.repo.CreateSale(ctx, sale)
	if err != nil {
		return domain.PharmacySale{}, err
	}

	for _, item := range created.Items {
		if err := s.repo.CreateStockMovement(ctx, domain.StockMovement{
			ID:         xid.New("mov"),
			MedicineID: item.MedicineID,
			BatchID:    item.BatchID,
			Type:       domain.MovementOut,
			Quantity:   item.Quantity,
			Reference:  created.InvoiceNumber,
			CreatedBy:  actor.Username,
			CreatedAt:  now,
		}); err != nil {
			log.Printf("[service] WARN: failed to record stock movement invoice=%s: %v", created.InvoiceNumber, err)
		}

		med, err := s.repo.GetMedicineByID(ctx, item.MedicineID)
		if err != nil || !med.IsControlled() {
			continue
		}
		if err := s.repo.CreateControlledDrugEntry(ctx, domain.ControlledDrugEntry{
			ID:                 xid.New("cdr"),
			MedicineID:         item.MedicineID,
			MedicineName:       item.MedicineName,
			BatchNumber:        item.BatchNumber,
			Quantity:           item.Quantity,
			SaleID:             created.ID,
			PrescriptionNumber: created.PrescriptionNumber,
			Prescriber:         created.Prescriber,
			DispensedBy:        actor.Username,
			CreatedAt:          now,
		}); err != nil {
			log.Printf("[service] WARN: failed to record controlled drug entry invoice=%s: %v", created.InvoiceNumber, err)
		}
	}

	s.logAudit(WithActor(ctx, actor), "sale_create", "sale", created.ID,
		fmt.Sprintf("invoice=%s,total=%d,items=%d", created.InvoiceNumber, created.TotalCents, len(created.Items)))
	return *created, nil
}

// resolveBatch validates an explicit batch choice or auto-selects the first
// FEFO batch able to cover the whole quantity.
func (s *Service) resolveBatch(ctx context.Context, med domain.Medicine, item domain.SaleItemRequest, now time.Time) (domain.Batch, error) {
	if item.BatchID != "" {
		batch, err := s.repo.GetBatchByID(ctx, item.BatchID)
		if err != nil {
			return domain.Batch{}, err
		}
		if batch.MedicineID != med.ID || !batch.Available(now) {
			return domain.Batch{}, fmt.Errorf("batch %s for %s: %w", batch.BatchNumber, med.Name, store.ErrBatchUnavailable)
		}
		if batch.Quantity < item.Quantity {
			return domain.Batch{}, fmt.Errorf("batch %s of %s has %d left: %w", batch.BatchNumber, med.Name, batch.Quantity, store.ErrInsufficientStock)
		}
		return *batch, nil
	}

	available, err := s.repo.ListBatches(ctx, med.ID, false, now)
	if err != nil {
		return domain.Batch{}, err
	}
	for _, batch := range available {
		if batch.Quantity >= item.Quantity {
			return batch, nil
		}
	}
	return domain.Batch{}, fmt.Errorf("no batch of %s can cover quantity %d: %w", med.Name, item.Quantity, store.ErrInsufficientStock)
}

func (s *Service) GetSale(ctx context.Context, id string) (domain.PharmacySale, error) {
	sale, err := s.repo.GetSaleByID(ctx, id)
	if err != nil {
		return domain.PharmacySale{}, err
	}
	return *sale, nil
}

func (s *Service) ListSales(ctx context.Context, limit int) ([]domain.PharmacySale, error) {
	if limit < 1 || limit > 200 {
		limit = 50
	}
	return s.repo.ListSales(ctx, limit)
}

// VoidSale restores the voided sale's batch stock and records compensating
// stock movements. The manager PIN is checked at the HTTP layer.
func (s *Service) VoidSale(ctx context.Context, saleID string, reason string) (domain.PharmacySale, error) {
	actor, err := requireRole(ctx, domain.RoleManager, domain.RoleAdmin)
	if err != nil {
		return domain.PharmacySale{}, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return domain.PharmacySale{}, fmt.Errorf("void reason required: %w", store.ErrInvalidSale)
	}

	now := time.Now().UTC()
	voided, err := s.repo.VoidSale(ctx, saleID, reason, now)
	if err != nil {
		return domain.PharmacySale{}, err
	}

	for _, item := range voided.Items {
		if err := s.repo.CreateStockMovement(ctx, domain.StockMovement{
			ID:         xid.New("mov"),
			MedicineID: item.MedicineID,
			BatchID:    item.BatchID,
			Type:       domain.MovementIn,
			Quantity:   item.Quantity,
			Reference:  voided.InvoiceNumber,
			Notes:      "void: " + reason,
			CreatedBy:  actor.Username,
			CreatedAt:  now,
		}); err != nil {
			log.Printf("[service] WARN: failed to record void movement invoice=%s: %v", voided.InvoiceNumber, err)
		}
	}

	s.logAudit(ctx, "sale_void", "sale", voided.ID, fmt.Sprintf("invoice=%s,reason=%s", voided.InvoiceNumber, reason))
	return *voided, nil
}

// ReceiveStock books a supplier delivery: new batches are created, existing
// ones topped up, and every line leaves a stock movement.
func (s *Service) ReceiveStock(ctx context.Context, req domain.StockReceivingRequest) (domain.StockReceiving, error) {
	actor, err := requireRole(ctx, domain.RoleManager, domain.RoleAdmin)
	if err != nil {
		return domain.StockReceiving{}, err
	}
	if len(req.Items) == 0 {
		return domain.StockReceiving{}, fmt.Errorf("receiving has no items: %w", store.ErrInvalidReceiving)
	}

	now := time.Now().UTC()
	batches := make([]domain.Batch, 0, len(req.Items))
	for _, item := range req.Items {
		if item.Quantity < 1 || strings.TrimSpace(item.BatchNumber) == "" {
			return domain.StockReceiving{}, fmt.Errorf("each line needs a batch number and positive quantity: %w", store.ErrInvalidReceiving)
		}
		batch := domain.Batch{
			ID:          xid.New("bat"),
			MedicineID:  item.MedicineID,
			BatchNumber: strings.TrimSpace(item.BatchNumber),
			ReceivedAt:  now,
			Quantity:    item.Quantity,
			CostCents:   item.CostCents,
			PriceCents:  item.PriceCents,
		}
		if item.ExpiryDate != "" {
			expiry, err := time.Parse("2006-01-02", item.ExpiryDate)
			if err != nil {
				return domain.StockReceiving{}, fmt.Errorf("bad expiry date %q: %w", item.ExpiryDate, store.ErrInvalidReceiving)
			}
			if !expiry.After(now) {
				return domain.StockReceiving{}, fmt.Errorf("expiry date %q is in the past: %w", item.ExpiryDate, store.ErrInvalidReceiving)
			}
			batch.ExpiryDate = &expiry
		}
		batches = append(batches, batch)
	}

	supplierName := strings.TrimSpace(req.SupplierName)
	if req.SupplierID != "" {
		supplier, err := s.repo.GetSupplierByID(ctx, req.SupplierID)
		if err != nil {
			return domain.StockReceiving{}, fmt.Errorf("resolve supplier %s: %w", req.SupplierID, err)
		}
		if !supplier.Active {
			return domain.StockReceiving{}, fmt.Errorf("supplier %s is inactive: %w", supplier.Name, store.ErrInvalidReceiving)
		}
		supplierName = supplier.Name
	}

	receiving := domain.StockReceiving{
		ID:           xid.New("rcv"),
		Number:       receivingNumber(now),
		SupplierID:   req.SupplierID,
		SupplierName: supplierName,
		Notes:        strings.TrimSpace(req.Notes),
		ReceivedBy:   actor.Username,
		CreatedAt:    now,
		Items:        req.Items,
	}

	created, err := s.repo.CreateStockReceiving(ctx, receiving, batches)
	if err != nil {
		return domain.StockReceiving{}, err
	}

	for i, item := range created.Items {
		if err := s.repo.CreateStockMovement(ctx, domain.StockMovement{
			ID:         xid.New("mov"),
			MedicineID: item.MedicineID,
			BatchID:    batches[i].ID,
			Type:       domain.MovementIn,
			Quantity:   item.Quantity,
			Reference:  created.Number,
			CreatedBy:  actor.Username,
			CreatedAt:  now,
		}); err != nil {
			log.Printf("[service] WARN: failed to record receiving movement number=%s: %v", created.Number, err)
		}
	}

	s.logAudit(ctx, "stock_receive", "receiving", created.ID, fmt.Sprintf("number=%s,lines=%d", created.Number, len(created.Items)))
	return *created, nil
}

func (s *Service) CreateSupplier(ctx context.Context, req domain.SupplierCreateRequest) (domain.Supplier, error) {
	if _, err := requireRole(ctx, domain.RoleManager, domain.RoleAdmin); err != nil {
		return domain.Supplier{}, err
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Supplier{}, fmt.Errorf("supplier name is required: %w", store.ErrInvalidReceiving)
	}

	created, err := s.repo.CreateSupplier(ctx, domain.Supplier{
		ID:            xid.New("sup"),
		Name:          name,
		ContactPerson: strings.TrimSpace(req.ContactPerson),
		Phone:         strings.TrimSpace(req.Phone),
		Email:         strings.TrimSpace(req.Email),
		Address:       strings.TrimSpace(req.Address),
		Active:        true,
		CreatedAt:     time.Now().UTC(),
	})
	if err != nil {
		return domain.Supplier{}, err
	}

	s.logAudit(ctx, "supplier_create", "supplier", created.ID, fmt.Sprintf("name=%s", created.Name))
	return *created, nil
}

func (s *Service) ListSuppliers(ctx context.Context) ([]domain.Supplier, error) {
	return s.repo.ListSuppliers(ctx)
}

func (s *Service) ListStockReceivings(ctx context.Context, limit int) ([]domain.StockReceiving, error) {
	if limit < 1 || limit > 200 {
		limit = 50
	}
	return s.repo.ListStockReceivings(ctx, limit)
}

func (s *Service) ListMedicines(ctx context.Context) ([]domain.Medicine, error) {
	return s.repo.ListMedicines(ctx)
}

func (s *Service) CreateMedicine(ctx context.Context, req domain.MedicineCreateRequest) (domain.Medicine, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin); err != nil {
		return domain.Medicine{}, err
	}

	req.SKU = strings.ToUpper(strings.TrimSpace(req.SKU))
	req.Name = strings.TrimSpace(req.Name)
	if req.SKU == "" || req.Name == "" || req.UnitPriceCents < 1 {
		return domain.Medicine{}, fmt.Errorf("sku, name and price are required: %w", store.ErrInvalidSale)
	}
	if req.TaxRatePercent < 0 || req.TaxRatePercent > 100 {
		return domain.Medicine{}, fmt.Errorf("tax rate out of range: %w", store.ErrInvalidSale)
	}

	created, err := s.repo.CreateMedicine(ctx, domain.Medicine{
		ID:             xid.New("med"),
		SKU:            req.SKU,
		Barcode:        strings.TrimSpace(req.Barcode),
		Name:           req.Name,
		GenericName:    strings.TrimSpace(req.GenericName),
		Category:       strings.TrimSpace(req.Category),
		Schedule:       req.Schedule,
		UnitPriceCents: req.UnitPriceCents,
		TaxRatePercent: req.TaxRatePercent,
		ReorderLevel:   req.ReorderLevel,
		Active:         true,
		CreatedAt:      time.Now().UTC(),
	})
	if err != nil {
		return domain.Medicine{}, err
	}

	s.logAudit(ctx, "medicine_create", "medicine", created.ID, fmt.Sprintf("sku=%s,schedule=%s", created.SKU, created.Schedule))
	return *created, nil
}

func (s *Service) UpdateMedicine(ctx context.Context, id string, req domain.MedicineUpdateRequest) (domain.Medicine, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin, domain.RoleManager); err != nil {
		return domain.Medicine{}, err
	}

	updated, err := s.repo.UpdateMedicine(ctx, id, req)
	if err != nil {
		return domain.Medicine{}, err
	}
	s.logAudit(ctx, "medicine_update", "medicine", updated.ID, fmt.Sprintf("sku=%s", updated.SKU))
	return *updated, nil
}

// SearchCatalog powers the standalone catalog search endpoint. Queries under
// two characters return nothing, matching the cart behavior.
func (s *Service) SearchCatalog(ctx context.Context, query string) ([]domain.CatalogItem, error) {
	if len(strings.TrimSpace(query)) < 2 {
		return []domain.CatalogItem{}, nil
	}
	return catalogAdapter{repo: s.repo}.Search(ctx, query)
}

func (s *Service) ListBatches(ctx context.Context, medicineID string, includeUnavailable bool) ([]domain.Batch, error) {
	return s.repo.ListBatches(ctx, medicineID, includeUnavailable, time.Now().UTC())
}

func (s *Service) AdjustBatch(ctx context.Context, batchID string, req domain.BatchAdjustRequest) (domain.Batch, error) {
	actor, err := requireRole(ctx, domain.RoleManager, domain.RoleAdmin)
	if err != nil {
		return domain.Batch{}, err
	}
	if req.DeltaQty == 0 {
		return domain.Batch{}, fmt.Errorf("delta must be non-zero: %w", store.ErrInvalidSale)
	}

	adjusted, err := s.repo.AdjustBatchQuantity(ctx, batchID, req.DeltaQty)
	if err != nil {
		return domain.Batch{}, err
	}

	movementType := domain.MovementAdjustment
	qty := req.DeltaQty
	if qty < 0 {
		qty = -qty
		if strings.Contains(strings.ToLower(req.Reason), "write") {
			movementType = domain.MovementWriteOff
		}
	}
	if err := s.repo.CreateStockMovement(ctx, domain.StockMovement{
		ID:         xid.New("mov"),
		MedicineID: adjusted.MedicineID,
		BatchID:    adjusted.ID,
		Type:       movementType,
		Quantity:   qty,
		Notes:      strings.TrimSpace(req.Reason),
		CreatedBy:  actor.Username,
		CreatedAt:  time.Now().UTC(),
	}); err != nil {
		log.Printf("[service] WARN: failed to record adjustment movement batch=%s: %v", adjusted.ID, err)
	}

	s.logAudit(ctx, "batch_adjust", "batch", adjusted.ID, fmt.Sprintf("delta=%d,reason=%s", req.DeltaQty, req.Reason))
	return *adjusted, nil
}

func (s *Service) SetBatchBlocked(ctx context.Context, batchID string, req domain.BatchBlockRequest) (domain.Batch, error) {
	if _, err := requireRole(ctx, domain.RoleManager, domain.RoleAdmin); err != nil {
		return domain.Batch{}, err
	}

	batch, err := s.repo.SetBatchBlocked(ctx, batchID, req.Blocked)
	if err != nil {
		return domain.Batch{}, err
	}
	s.logAudit(ctx, "batch_block", "batch", batch.ID, fmt.Sprintf("blocked=%t,reason=%s", req.Blocked, req.Reason))
	return *batch, nil
}

// ExpiryAdvisories delegates to the advisory engine over a fresh batch
// snapshot, including blocked batches so they stay visible to managers.
func (s *Service) ExpiryAdvisories(ctx context.Context) (domain.ExpiryAdvisoryResponse, error) {
	now := time.Now().UTC()
	batches, err := s.repo.ListBatches(ctx, "", true, now)
	if err != nil {
		return domain.ExpiryAdvisoryResponse{}, err
	}
	medicines, err := s.repo.ListMedicines(ctx)
	if err != nil {
		return domain.ExpiryAdvisoryResponse{}, err
	}
	medMap := make(map[string]domain.Medicine, len(medicines))
	for _, med := range medicines {
		medMap[med.ID] = med
	}
	return s.advisor.Advise(ctx, medMap, batches, now), nil
}

func (s *Service) ListStockMovements(ctx context.Context, medicineID string, limit int) ([]domain.StockMovement, error) {
	if limit < 1 || limit > 500 {
		limit = 100
	}
	return s.repo.ListStockMovements(ctx, medicineID, limit)
}

func (s *Service) ListControlledDrugEntries(ctx context.Context, limit int) ([]domain.ControlledDrugEntry, error) {
	if _, err := requireRole(ctx, domain.RoleManager, domain.RoleAdmin); err != nil {
		return nil, err
	}
	if limit < 1 || limit > 500 {
		limit = 100
	}
	return s.repo.ListControlledDrugEntries(ctx, limit)
}

func (s *Service) ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin); err != nil {
		return nil, err
	}
	if limit < 1 || limit > 500 {
		limit = 100
	}
	return s.repo.ListAuditLogs(ctx, limit)
}

func requireRole(ctx context.Context, roles ...string) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Actor{}, fmt.Errorf("authentication required")
	}
	for _, role := range roles {
		if actor.Role == role {
			return actor, nil
		}
	}
	return domain.Actor{}, fmt.Errorf("%s role required", strings.Join(roles, " or "))
}

func isSupportedPaymentMethod(method string) bool {
	switch method {
	case domain.PaymentCash, domain.PaymentCard, domain.PaymentMobile, domain.PaymentInsurance:
		return true
	}
	return false
}

func invoiceNumber(now time.Time) string {
	return fmt.Sprintf("INV-%s-%s", now.Format("20060102"), xid.Code(8))
}

func receivingNumber(now time.Time) string {
	return fmt.Sprintf("RCV-%s-%s", now.Format("20060102"), xid.Code(6))
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
		log.Printf("[service] WARN: failed to write audit log action=%s: %v", action, err)
	}
}
