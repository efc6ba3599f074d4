package memory

import (
	"context"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"farmapos/backend/internal/domain"
	"farmapos/backend/internal/store"
	"farmapos/backend/internal/xid"
)

type Store struct {
	mu              sync.RWMutex
	medicines       map[string]domain.Medicine
	batchesByID     map[string]domain.Batch
	salesByID       map[string]*domain.PharmacySale
	salesByInvoice  map[string]string
	receivingsByID  map[string]domain.StockReceiving
	suppliersByID   map[string]domain.Supplier
	stockMovements  []domain.StockMovement
	controlledLog   []domain.ControlledDrugEntry
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials come from SEED_ADMIN_PASSWORD, SEED_MANAGER_PASSWORD and
// SEED_CASHIER_PASSWORD. If unset, hardcoded dev defaults are used with a
// warning printed to stdout. These credentials are never used in production
// (the backend uses PostgreSQL when DATABASE_URL is set).
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	managerPwd := envOr("SEED_MANAGER_PASSWORD", "manager123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD, SEED_MANAGER_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"manager", managerPwd, domain.RoleManager},
		{"cashier", cashierPwd, domain.RoleCashier},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func New() *Store {
	return &Store{
		medicines:       make(map[string]domain.Medicine),
		batchesByID:     make(map[string]domain.Batch),
		salesByID:       make(map[string]*domain.PharmacySale),
		salesByInvoice:  make(map[string]string),
		receivingsByID:  make(map[string]domain.StockReceiving),
		suppliersByID:   make(map[string]domain.Supplier),
		stockMovements:  make([]domain.StockMovement, 0, 128),
		controlledLog:   make([]domain.ControlledDrugEntry, 0, 32),
		auditLogs:       make([]domain.AuditLog, 0, 128),
		usersByUsername: seedUsers(),
	}
}

func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()

	medicines := []domain.Medicine{
		{ID: "med-para-500", SKU: "PARA500", Barcode: "6001000000017", Name: "Paracetamol 500mg", GenericName: "Paracetamol", Category: "analgesic", Schedule: domain.ScheduleOTC, UnitPriceCents: 1500, TaxRatePercent: 16, ReorderLevel: 50},
		{ID: "med-ibu-400", SKU: "IBU400", Barcode: "6001000000024", Name: "Ibuprofen 400mg", GenericName: "Ibuprofen", Category: "analgesic", Schedule: domain.ScheduleOTC, UnitPriceCents: 2200, TaxRatePercent: 16, ReorderLevel: 40},
		{ID: "med-amox-250", SKU: "AMOX250", Barcode: "6001000000031", Name: "Amoxicillin 250mg", GenericName: "Amoxicillin", Category: "antibiotic", Schedule: domain.SchedulePrescription, UnitPriceCents: 4500, TaxRatePercent: 16, ReorderLevel: 30},
		{ID: "med-cipro-500", SKU: "CIPRO500", Barcode: "6001000000048", Name: "Ciprofloxacin 500mg", GenericName: "Ciprofloxacin", Category: "antibiotic", Schedule: domain.SchedulePrescription, UnitPriceCents: 6800, TaxRatePercent: 16, ReorderLevel: 20},
		{ID: "med-diaz-5", SKU: "DIAZ5", Barcode: "6001000000055", Name: "Diazepam 5mg", GenericName: "Diazepam", Category: "sedative", Schedule: domain.ScheduleControlled, UnitPriceCents: 9500, TaxRatePercent: 0, ReorderLevel: 10},
		{ID: "med-morph-10", SKU: "MORPH10", Barcode: "6001000000062", Name: "Morphine 10mg", GenericName: "Morphine", Category: "opioid", Schedule: domain.ScheduleControlled, UnitPriceCents: 18000, TaxRatePercent: 0, ReorderLevel: 5},
		{ID: "med-ors-sachet", SKU: "ORS01", Barcode: "6001000000079", Name: "ORS Sachet", GenericName: "Oral Rehydration Salts", Category: "rehydration", Schedule: domain.ScheduleOTC, UnitPriceCents: 800, TaxRatePercent: 16, ReorderLevel: 60},
		{ID: "med-cetri-10", SKU: "CETRI10", Barcode: "6001000000086", Name: "Cetirizine 10mg", GenericName: "Cetirizine", Category: "antihistamine", Schedule: domain.ScheduleOTC, UnitPriceCents: 1800, TaxRatePercent: 16, ReorderLevel: 40},
	}
	for _, m := range medicines {
		m.Active = true
		m.CreatedAt = now
		s.medicines[m.ID] = m
	}

	type seedBatch struct {
		id         string
		medicineID string
		number     string
		daysOut    int
		qty        int
		costCents  int64
		priceCents int64
	}
	batches := []seedBatch{
		{"bat-para-a", "med-para-500", "PB2401", 240, 180, 900, 1500},
		{"bat-para-b", "med-para-500", "PB2402", 25, 60, 850, 1400},
		{"bat-ibu-a", "med-ibu-400", "IB2401", 300, 90, 1400, 2200},
		{"bat-amox-a", "med-amox-250", "AX2401", 150, 75, 2800, 4500},
		{"bat-amox-b", "med-amox-250", "AX2402", 400, 120, 2900, 4600},
		{"bat-cipro-a", "med-cipro-500", "CP2401", 200, 45, 4200, 6800},
		{"bat-diaz-a", "med-diaz-5", "DZ2401", 180, 30, 6000, 9500},
		{"bat-morph-a", "med-morph-10", "MR2401", 120, 12, 12000, 18000},
		{"bat-ors-a", "med-ors-sachet", "OR2401", 500, 300, 500, 800},
		{"bat-cetri-a", "med-cetri-10", "CT2401", 20, 50, 1100, 1800},
	}
	for _, b := range batches {
		expiry := now.AddDate(0, 0, b.daysOut)
		s.batchesByID[b.id] = domain.Batch{
			ID:          b.id,
			MedicineID:  b.medicineID,
			BatchNumber: b.number,
			ExpiryDate:  &expiry,
			ReceivedAt:  now.AddDate(0, 0, -30),
			Quantity:    b.qty,
			CostCents:   b.costCents,
			PriceCents:  b.priceCents,
		}
	}

	suppliers := []domain.Supplier{
		{ID: "sup-pharmadirect", Name: "PharmaDirect Ltd", ContactPerson: "Grace Mwangi", Phone: "+254700111222", Email: "orders@pharmadirect.example", Active: true, CreatedAt: now},
		{ID: "sup-medsupply", Name: "MedSupply East Africa", ContactPerson: "Daniel Otieno", Phone: "+254700333444", Email: "sales@medsupply.example", Active: true, CreatedAt: now},
	}
	for _, sup := range suppliers {
		s.suppliersByID[sup.ID] = sup
	}

	return s
}

func (s *Store) ListMedicines(_ context.Context) ([]domain.Medicine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	medicines := make([]domain.Medicine, 0, len(s.medicines))
	for _, m := range s.medicines {
		if !m.Active {
			continue
		}
		medicines = append(medicines, m)
	}

	slices.SortFunc(medicines, func(a, b domain.Medicine) int {
		return cmpString(a.Name, b.Name)
	})
	return medicines, nil
}

func (s *Store) CreateMedicine(_ context.Context, med domain.Medicine) (*domain.Medicine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if med.SKU == "" || med.Name == "" || med.UnitPriceCents < 1 {
		return nil, store.ErrInvalidSale
	}
	switch med.Schedule {
	case domain.ScheduleOTC, domain.SchedulePrescription, domain.ScheduleControlled:
	default:
		return nil, store.ErrInvalidSale
	}
	for _, existing := range s.medicines {
		if existing.SKU == med.SKU {
			return nil, store.ErrDuplicate
		}
	}

	if med.ID == "" {
		med.ID = xid.New("med")
	}
	med.Active = true
	if med.CreatedAt.IsZero() {
		med.CreatedAt = time.Now().UTC()
	}
	s.medicines[med.ID] = med
	created := med
	return &created, nil
}

func (s *Store) GetMedicineByID(_ context.Context, id string) (*domain.Medicine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	med, exists := s.medicines[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyMed := med
	return &copyMed, nil
}

func (s *Store) GetMedicineBySKU(_ context.Context, sku string) (*domain.Medicine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, med := range s.medicines {
		if med.SKU == sku {
			copyMed := med
			return &copyMed, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) UpdateMedicine(_ context.Context, id string, req domain.MedicineUpdateRequest) (*domain.Medicine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	med, exists := s.medicines[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	if req.Name != nil {
		med.Name = *req.Name
	}
	if req.GenericName != nil {
		med.GenericName = *req.GenericName
	}
	if req.Category != nil {
		med.Category = *req.Category
	}
	if req.Schedule != nil {
		switch *req.Schedule {
		case domain.ScheduleOTC, domain.SchedulePrescription, domain.ScheduleControlled:
			med.Schedule = *req.Schedule
		default:
			return nil, store.ErrInvalidSale
		}
	}
	if req.UnitPriceCents != nil {
		if *req.UnitPriceCents < 1 {
			return nil, store.ErrInvalidSale
		}
		med.UnitPriceCents = *req.UnitPriceCents
	}
	if req.TaxRatePercent != nil {
		med.TaxRatePercent = *req.TaxRatePercent
	}
	if req.ReorderLevel != nil {
		med.ReorderLevel = *req.ReorderLevel
	}
	if req.Active != nil {
		med.Active = *req.Active
	}

	s.medicines[id] = med
	updated := med
	return &updated, nil
}

func (s *Store) SearchMedicines(_ context.Context, query string) ([]domain.Medicine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	needle := strings.ToLower(strings.TrimSpace(query))
	matches := make([]domain.Medicine, 0)
	for _, med := range s.medicines {
		if !med.Active {
			continue
		}
		if strings.Contains(strings.ToLower(med.Name), needle) ||
			strings.Contains(strings.ToLower(med.GenericName), needle) ||
			strings.Contains(strings.ToLower(med.SKU), needle) ||
			med.Barcode == needle {
			matches = append(matches, med)
		}
	}

	slices.SortFunc(matches, func(a, b domain.Medicine) int {
		return cmpString(a.Name, b.Name)
	})
	return matches, nil
}

func (s *Store) CreateBatch(_ context.Context, batch domain.Batch) (*domain.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createBatchLocked(batch)
}

func (s *Store) createBatchLocked(batch domain.Batch) (*domain.Batch, error) {
	if batch.MedicineID == "" || batch.BatchNumber == "" || batch.Quantity < 0 {
		return nil, store.ErrInvalidReceiving
	}
	if _, exists := s.medicines[batch.MedicineID]; !exists {
		return nil, store.ErrNotFound
	}
	if batch.ID == "" {
		batch.ID = xid.New("bat")
	}
	if batch.ReceivedAt.IsZero() {
		batch.ReceivedAt = time.Now().UTC()
	}
	s.batchesByID[batch.ID] = batch
	created := batch
	return &created, nil
}

func (s *Store) GetBatchByID(_ context.Context, id string) (*domain.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	batch, exists := s.batchesByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	return cloneBatch(batch), nil
}

func (s *Store) ListBatches(_ context.Context, medicineID string, includeUnavailable bool, now time.Time) ([]domain.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	batches := make([]domain.Batch, 0)
	for _, batch := range s.batchesByID {
		if medicineID != "" && batch.MedicineID != medicineID {
			continue
		}
		if !includeUnavailable && !batch.Available(now) {
			continue
		}
		batches = append(batches, *cloneBatch(batch))
	}

	slices.SortFunc(batches, compareBatchFEFO)
	return batches, nil
}

func (s *Store) AvailableStock(_ context.Context, medicineID string, now time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, exists := s.medicines[medicineID]; !exists {
		return 0, store.ErrNotFound
	}
	total := 0
	for _, batch := range s.batchesByID {
		if batch.MedicineID != medicineID || !batch.Available(now) {
			continue
		}
		total += batch.Quantity
	}
	return total, nil
}

func (s *Store) AdjustBatchQuantity(_ context.Context, batchID string, delta int) (*domain.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch, exists := s.batchesByID[batchID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if batch.Quantity+delta < 0 {
		return nil, store.ErrInsufficientStock
	}
	batch.Quantity += delta
	s.batchesByID[batchID] = batch
	return cloneBatch(batch), nil
}

func (s *Store) SetBatchBlocked(_ context.Context, batchID string, blocked bool) (*domain.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch, exists := s.batchesByID[batchID]
	if !exists {
		return nil, store.ErrNotFound
	}
	batch.Blocked = blocked
	s.batchesByID[batchID] = batch
	return cloneBatch(batch), nil
}

// CreateSale decrements every referenced batch or fails the whole sale.
// Each item must carry a resolved batch id; the caller picks batches (FEFO
// by default) before submitting.
func (s *Store) CreateSale(_ context.Context, sale domain.PharmacySale) (*domain.PharmacySale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(sale.Items) == 0 || sale.InvoiceNumber == "" {
		return nil, store.ErrInvalidSale
	}
	if _, taken := s.salesByInvoice[sale.InvoiceNumber]; taken {
		return nil, store.ErrDuplicate
	}

	now := sale.CreatedAt
	if now.IsZero() {
		now = time.Now().UTC()
		sale.CreatedAt = now
	}

	// Validate every line before mutating anything.
	needed := make(map[string]int, len(sale.Items))
	for _, item := range sale.Items {
		med, exists := s.medicines[item.MedicineID]
		if !exists || !med.Active {
			return nil, store.ErrNotFound
		}
		if item.Quantity < 1 || item.BatchID == "" {
			return nil, store.ErrInvalidSale
		}
		batch, exists := s.batchesByID[item.BatchID]
		if !exists || batch.MedicineID != item.MedicineID {
			return nil, store.ErrBatchUnavailable
		}
		if !batch.Available(now) {
			return nil, store.ErrBatchUnavailable
		}
		needed[item.BatchID] += item.Quantity
		if needed[item.BatchID] > batch.Quantity {
			return nil, store.ErrInsufficientStock
		}
	}

	for batchID, qty := range needed {
		batch := s.batchesByID[batchID]
		batch.Quantity -= qty
		s.batchesByID[batchID] = batch
	}

	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.Status == "" {
		sale.Status = domain.SaleStatusCompleted
	}
	stored := cloneSale(&sale)
	s.salesByID[sale.ID] = stored
	s.salesByInvoice[sale.InvoiceNumber] = sale.ID
	return cloneSale(stored), nil
}

func (s *Store) GetSaleByID(_ context.Context, id string) (*domain.PharmacySale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, exists := s.salesByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	return cloneSale(sale), nil
}

func (s *Store) GetSaleByInvoice(_ context.Context, invoiceNumber string) (*domain.PharmacySale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, exists := s.salesByInvoice[invoiceNumber]
	if !exists {
		return nil, store.ErrNotFound
	}
	return cloneSale(s.salesByID[id]), nil
}

func (s *Store) ListSales(_ context.Context, limit int) ([]domain.PharmacySale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sales := make([]domain.PharmacySale, 0, len(s.salesByID))
	for _, sale := range s.salesByID {
		sales = append(sales, *cloneSale(sale))
	}
	slices.SortFunc(sales, func(a, b domain.PharmacySale) int {
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		if a.CreatedAt.Before(b.CreatedAt) {
			return 1
		}
		return cmpString(a.ID, b.ID)
	})
	if limit > 0 && len(sales) > limit {
		sales = sales[:limit]
	}
	return sales, nil
}

// VoidSale marks a completed sale voided and restores the batch quantities
// it consumed.
func (s *Store) VoidSale(_ context.Context, id string, reason string, at time.Time) (*domain.PharmacySale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, exists := s.salesByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	if sale.Status != domain.SaleStatusCompleted {
		return nil, store.ErrSaleNotVoidable
	}

	for _, item := range sale.Items {
		if item.BatchID == "" {
			continue
		}
		if batch, ok := s.batchesByID[item.BatchID]; ok {
			batch.Quantity += item.Quantity
			s.batchesByID[item.BatchID] = batch
		}
	}

	sale.Status = domain.SaleStatusVoided
	sale.VoidReason = reason
	voidedAt := at
	sale.VoidedAt = &voidedAt
	return cloneSale(sale), nil
}

// CreateStockReceiving records the receipt and applies its batches: an
// existing batch with the same medicine and batch number is topped up,
// anything else is created fresh.
func (s *Store) CreateSupplier(_ context.Context, supplier domain.Supplier) (*domain.Supplier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(supplier.Name) == "" {
		return nil, store.ErrInvalidReceiving
	}
	for _, existing := range s.suppliersByID {
		if strings.EqualFold(existing.Name, supplier.Name) {
			return nil, store.ErrDuplicate
		}
	}
	if supplier.ID == "" {
		supplier.ID = xid.New("sup")
	}
	if supplier.CreatedAt.IsZero() {
		supplier.CreatedAt = time.Now().UTC()
	}
	s.suppliersByID[supplier.ID] = supplier
	created := supplier
	return &created, nil
}

func (s *Store) GetSupplierByID(_ context.Context, id string) (*domain.Supplier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	supplier, ok := s.suppliersByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := supplier
	return &found, nil
}

func (s *Store) ListSuppliers(_ context.Context) ([]domain.Supplier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	suppliers := make([]domain.Supplier, 0, len(s.suppliersByID))
	for _, sup := range s.suppliersByID {
		suppliers = append(suppliers, sup)
	}
	slices.SortFunc(suppliers, func(a, b domain.Supplier) int {
		return cmpString(a.Name, b.Name)
	})
	return suppliers, nil
}

func (s *Store) CreateStockReceiving(_ context.Context, receiving domain.StockReceiving, batches []domain.Batch) (*domain.StockReceiving, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(receiving.Items) == 0 || receiving.Number == "" {
		return nil, store.ErrInvalidReceiving
	}
	for _, item := range receiving.Items {
		if item.Quantity < 1 || item.BatchNumber == "" {
			return nil, store.ErrInvalidReceiving
		}
		if _, exists := s.medicines[item.MedicineID]; !exists {
			return nil, store.ErrNotFound
		}
	}

	for i := range batches {
		batch := batches[i]
		merged := false
		for id, existing := range s.batchesByID {
			if existing.MedicineID == batch.MedicineID && existing.BatchNumber == batch.BatchNumber {
				existing.Quantity += batch.Quantity
				if batch.PriceCents > 0 {
					existing.PriceCents = batch.PriceCents
				}
				if batch.CostCents > 0 {
					existing.CostCents = batch.CostCents
				}
				s.batchesByID[id] = existing
				// Callers record movements against the batch that absorbed
				// the delivery, so hand the merged id back.
				batches[i].ID = id
				merged = true
				break
			}
		}
		if !merged {
			created, err := s.createBatchLocked(batch)
			if err != nil {
				return nil, err
			}
			batches[i].ID = created.ID
		}
	}

	if receiving.ID == "" {
		receiving.ID = xid.New("rcv")
	}
	if receiving.CreatedAt.IsZero() {
		receiving.CreatedAt = time.Now().UTC()
	}
	s.receivingsByID[receiving.ID] = receiving
	created := receiving
	return &created, nil
}

func (s *Store) ListStockReceivings(_ context.Context, limit int) ([]domain.StockReceiving, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	receivings := make([]domain.StockReceiving, 0, len(s.receivingsByID))
	for _, r := range s.receivingsByID {
		receivings = append(receivings, r)
	}
	slices.SortFunc(receivings, func(a, b domain.StockReceiving) int {
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		if a.CreatedAt.Before(b.CreatedAt) {
			return 1
		}
		return cmpString(a.ID, b.ID)
	})
	if limit > 0 && len(receivings) > limit {
		receivings = receivings[:limit]
	}
	return receivings, nil
}

func (s *Store) CreateStockMovement(_ context.Context, movement domain.StockMovement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if movement.ID == "" {
		movement.ID = xid.New("mov")
	}
	if movement.CreatedAt.IsZero() {
		movement.CreatedAt = time.Now().UTC()
	}
	s.stockMovements = append(s.stockMovements, movement)
	return nil
}

func (s *Store) ListStockMovements(_ context.Context, medicineID string, limit int) ([]domain.StockMovement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	movements := make([]domain.StockMovement, 0)
	for i := len(s.stockMovements) - 1; i >= 0; i-- {
		movement := s.stockMovements[i]
		if medicineID != "" && movement.MedicineID != medicineID {
			continue
		}
		movements = append(movements, movement)
		if limit > 0 && len(movements) >= limit {
			break
		}
	}
	return movements, nil
}

func (s *Store) CreateControlledDrugEntry(_ context.Context, entry domain.ControlledDrugEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("cdr")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.controlledLog = append(s.controlledLog, entry)
	return nil
}

func (s *Store) ListControlledDrugEntries(_ context.Context, limit int) ([]domain.ControlledDrugEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]domain.ControlledDrugEntry, 0)
	for i := len(s.controlledLog) - 1; i >= 0; i-- {
		entries = append(entries, s.controlledLog[i])
		if limit > 0 && len(entries) >= limit {
			break
		}
	}
	return entries, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	logs := make([]domain.AuditLog, 0)
	for i := len(s.auditLogs) - 1; i >= 0; i-- {
		logs = append(logs, s.auditLogs[i])
		if limit > 0 && len(logs) >= limit {
			break
		}
	}
	return logs, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user.Username == "" || user.Password == "" {
		return store.ErrInvalidSale
	}
	if _, exists := s.usersByUsername[user.Username]; exists {
		return store.ErrDuplicate
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmpString(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

// compareBatchFEFO orders batches earliest expiry first. Batches without an
// expiry sort last; ties break on batch number then received time.
func compareBatchFEFO(a domain.Batch, b domain.Batch) int {
	if a.ExpiryDate == nil && b.ExpiryDate != nil {
		return 1
	}
	if a.ExpiryDate != nil && b.ExpiryDate == nil {
		return -1
	}
	if a.ExpiryDate != nil && b.ExpiryDate != nil {
		if a.ExpiryDate.Before(*b.ExpiryDate) {
			return -1
		}
		if a.ExpiryDate.After(*b.ExpiryDate) {
			return 1
		}
	}
	if c := cmpString(a.BatchNumber, b.BatchNumber); c != 0 {
		return c
	}
	if a.ReceivedAt.Before(b.ReceivedAt) {
		return -1
	}
	if a.ReceivedAt.After(b.ReceivedAt) {
		return 1
	}
	return cmpString(a.ID, b.ID)
}

func cmpString(a string, b string) int {
	if a == b {
		return 0
	}
	if a < b {
		return -1
	}
	return 1
}

func cloneBatch(src domain.Batch) *domain.Batch {
	copyBatch := src
	if src.ExpiryDate != nil {
		expiry := *src.ExpiryDate
		copyBatch.ExpiryDate = &expiry
	}
	return &copyBatch
}

func cloneSale(src *domain.PharmacySale) *domain.PharmacySale {
	copySale := *src
	if src.VoidedAt != nil {
		voidedAt := *src.VoidedAt
		copySale.VoidedAt = &voidedAt
	}
	copySale.Items = make([]domain.SaleItem, len(src.Items))
	copy(copySale.Items, src.Items)
	for i := range copySale.Items {
		if copySale.Items[i].ExpiryDate != nil {
			expiry := *copySale.Items[i].ExpiryDate
			copySale.Items[i].ExpiryDate = &expiry
		}
	}
	copySale.Warnings = append([]string(nil), src.Warnings...)
	return &copySale
}
