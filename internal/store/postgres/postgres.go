package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"farmapos/backend/internal/domain"
	"farmapos/backend/internal/store"
	"farmapos/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ListMedicines(ctx context.Context) ([]domain.Medicine, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sku, barcode, name, generic_name, category, schedule,
		       unit_price_cents, tax_rate_percent, reorder_level, active, created_at
		FROM medicines
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	medicines := make([]domain.Medicine, 0, 128)
	for rows.Next() {
		med, err := scanMedicine(rows)
		if err != nil {
			return nil, err
		}
		medicines = append(medicines, med)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return medicines, nil
}

func (s *Store) CreateMedicine(ctx context.Context, med domain.Medicine) (*domain.Medicine, error) {
	if med.ID == "" {
		med.ID = xid.New("med")
	}
	if med.CreatedAt.IsZero() {
		med.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO medicines (
			id, sku, barcode, name, generic_name, category, schedule,
			unit_price_cents, tax_rate_percent, reorder_level, active, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, med.ID, med.SKU, nullIfEmpty(med.Barcode), med.Name, nullIfEmpty(med.GenericName),
		med.Category, med.Schedule, med.UnitPriceCents, med.TaxRatePercent,
		med.ReorderLevel, med.Active, med.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		return nil, err
	}

	created := med
	return &created, nil
}

func (s *Store) GetMedicineByID(ctx context.Context, id string) (*domain.Medicine, error) {
	return s.getMedicine(ctx, "id", id)
}

func (s *Store) GetMedicineBySKU(ctx context.Context, sku string) (*domain.Medicine, error) {
	return s.getMedicine(ctx, "sku", sku)
}

func (s *Store) getMedicine(ctx context.Context, column string, value string) (*domain.Medicine, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, sku, barcode, name, generic_name, category, schedule,
		       unit_price_cents, tax_rate_percent, reorder_level, active, created_at
		FROM medicines
		WHERE `+column+` = $1
	`, value)
	med, err := scanMedicine(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &med, nil
}

func (s *Store) UpdateMedicine(ctx context.Context, id string, req domain.MedicineUpdateRequest) (*domain.Medicine, error) {
	current, err := s.GetMedicineByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		current.Name = *req.Name
	}
	if req.GenericName != nil {
		current.GenericName = *req.GenericName
	}
	if req.Category != nil {
		current.Category = *req.Category
	}
	if req.Schedule != nil {
		current.Schedule = *req.Schedule
	}
	if req.UnitPriceCents != nil {
		current.UnitPriceCents = *req.UnitPriceCents
	}
	if req.TaxRatePercent != nil {
		current.TaxRatePercent = *req.TaxRatePercent
	}
	if req.ReorderLevel != nil {
		current.ReorderLevel = *req.ReorderLevel
	}
	if req.Active != nil {
		current.Active = *req.Active
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE medicines
		SET name = $2, generic_name = $3, category = $4, schedule = $5,
		    unit_price_cents = $6, tax_rate_percent = $7, reorder_level = $8, active = $9
		WHERE id = $1
	`, id, current.Name, nullIfEmpty(current.GenericName), current.Category, current.Schedule,
		current.UnitPriceCents, current.TaxRatePercent, current.ReorderLevel, current.Active)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}

	return current, nil
}

func (s *Store) SearchMedicines(ctx context.Context, query string) ([]domain.Medicine, error) {
	pattern := "%" + strings.ToLower(strings.TrimSpace(query)) + "%"
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sku, barcode, name, generic_name, category, schedule,
		       unit_price_cents, tax_rate_percent, reorder_level, active, created_at
		FROM medicines
		WHERE active = true AND (
			lower(name) LIKE $1 OR lower(generic_name) LIKE $1 OR
			lower(sku) LIKE $1 OR barcode = $2
		)
		ORDER BY name
		LIMIT 50
	`, pattern, strings.TrimSpace(query))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	medicines := make([]domain.Medicine, 0, 16)
	for rows.Next() {
		med, err := scanMedicine(rows)
		if err != nil {
			return nil, err
		}
		medicines = append(medicines, med)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return medicines, nil
}

func (s *Store) CreateBatch(ctx context.Context, batch domain.Batch) (*domain.Batch, error) {
	if batch.ID == "" {
		batch.ID = xid.New("bat")
	}
	if batch.ReceivedAt.IsZero() {
		batch.ReceivedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO batches (
			id, medicine_id, batch_number, expiry_date, received_at,
			quantity, cost_cents, price_cents, blocked
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, batch.ID, batch.MedicineID, batch.BatchNumber, nullDate(batch.ExpiryDate),
		batch.ReceivedAt, batch.Quantity, batch.CostCents, batch.PriceCents, batch.Blocked)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		return nil, err
	}

	created := batch
	return &created, nil
}

func (s *Store) GetBatchByID(ctx context.Context, id string) (*domain.Batch, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, medicine_id, batch_number, expiry_date, received_at,
		       quantity, cost_cents, price_cents, blocked
		FROM batches
		WHERE id = $1
	`, id)
	batch, err := scanBatch(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &batch, nil
}

// ListBatches returns batches ordered first-expiry-first-out: earliest expiry
// first, undated batches last.
func (s *Store) ListBatches(ctx context.Context, medicineID string, includeUnavailable bool, now time.Time) ([]domain.Batch, error) {
	conditions := make([]string, 0, 2)
	args := make([]any, 0, 2)
	if medicineID != "" {
		args = append(args, medicineID)
		conditions = append(conditions, "medicine_id = $1")
	}
	if !includeUnavailable {
		args = append(args, now.UTC())
		marker := "$1"
		if len(args) == 2 {
			marker = "$2"
		}
		conditions = append(conditions, "blocked = false AND quantity > 0 AND (expiry_date IS NULL OR expiry_date > "+marker+")")
	}
	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, medicine_id, batch_number, expiry_date, received_at,
		       quantity, cost_cents, price_cents, blocked
		FROM batches
		`+where+`
		ORDER BY expiry_date ASC NULLS LAST, batch_number ASC, received_at ASC
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	batches := make([]domain.Batch, 0, 16)
	for rows.Next() {
		batch, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, batch)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return batches, nil
}

func (s *Store) AvailableStock(ctx context.Context, medicineID string, now time.Time) (int, error) {
	var total sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT SUM(quantity)
		FROM batches
		WHERE medicine_id = $1 AND blocked = false AND quantity > 0
		  AND (expiry_date IS NULL OR expiry_date > $2)
	`, medicineID, now.UTC()).Scan(&total)
	if err != nil {
		return 0, err
	}
	return int(total.Int64), nil
}

func (s *Store) AdjustBatchQuantity(ctx context.Context, batchID string, delta int) (*domain.Batch, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		SELECT id, medicine_id, batch_number, expiry_date, received_at,
		       quantity, cost_cents, price_cents, blocked
		FROM batches
		WHERE id = $1
		FOR UPDATE
	`, batchID)
	batch, err := scanBatch(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	if batch.Quantity+delta < 0 {
		return nil, store.ErrInsufficientStock
	}
	batch.Quantity += delta

	_, err = tx.ExecContext(ctx, `
		UPDATE batches SET quantity = $2 WHERE id = $1
	`, batchID, batch.Quantity)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &batch, nil
}

func (s *Store) SetBatchBlocked(ctx context.Context, batchID string, blocked bool) (*domain.Batch, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE batches SET blocked = $2 WHERE id = $1
	`, batchID, blocked)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}
	return s.GetBatchByID(ctx, batchID)
}

// CreateSale validates and decrements every referenced batch inside one
// serializable transaction. Every sale item must already carry a resolved
// batch id.
func (s *Store) CreateSale(ctx context.Context, sale domain.PharmacySale) (*domain.PharmacySale, error) {
	if len(sale.Items) == 0 || sale.InvoiceNumber == "" {
		return nil, store.ErrInvalidSale
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	needed := make(map[string]int, len(sale.Items))
	for _, item := range sale.Items {
		if item.BatchID == "" || item.Quantity < 1 {
			return nil, store.ErrInvalidSale
		}
		needed[item.BatchID] += item.Quantity
	}

	for batchID, qty := range needed {
		row := tx.QueryRowContext(ctx, `
			SELECT id, medicine_id, batch_number, expiry_date, received_at,
			       quantity, cost_cents, price_cents, blocked
			FROM batches
			WHERE id = $1
			FOR UPDATE
		`, batchID)
		batch, err := scanBatch(row)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, store.ErrBatchUnavailable
			}
			return nil, err
		}
		if !batch.Available(now) {
			return nil, store.ErrBatchUnavailable
		}
		if batch.Quantity < qty {
			return nil, store.ErrInsufficientStock
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE batches SET quantity = quantity - $1 WHERE id = $2
		`, qty, batchID)
		if err != nil {
			return nil, err
		}
	}

	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = now
	}
	if sale.Status == "" {
		sale.Status = domain.SaleStatusCompleted
	}

	warnings, err := json.Marshal(sale.Warnings)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sales (
			id, invoice_number, customer_name, customer_phone, prescription_number,
			prescriber, payment_method, subtotal_cents, discount_cents, tax_cents,
			total_cents, amount_paid_cents, change_cents, status, void_reason,
			voided_at, sold_by, created_at, warnings
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
	`, sale.ID, sale.InvoiceNumber, nullIfEmpty(sale.CustomerName), nullIfEmpty(sale.CustomerPhone),
		nullIfEmpty(sale.PrescriptionNumber), nullIfEmpty(sale.Prescriber), sale.PaymentMethod,
		sale.SubtotalCents, sale.DiscountCents, sale.TaxCents, sale.TotalCents,
		sale.AmountPaidCents, sale.ChangeCents, sale.Status, nullIfEmpty(sale.VoidReason),
		nullTime(sale.VoidedAt), sale.SoldBy, sale.CreatedAt, warnings)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		return nil, err
	}

	for _, item := range sale.Items {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sale_items (
				sale_id, medicine_id, medicine_name, batch_id, batch_number,
				expiry_date, quantity, unit_price_cents, discount_percent, line_total_cents
			)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		`, sale.ID, item.MedicineID, item.MedicineName, item.BatchID, item.BatchNumber,
			nullDate(item.ExpiryDate), item.Quantity, item.UnitPriceCents,
			item.DiscountPercent, item.LineTotalCents)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return &sale, nil
}

func (s *Store) GetSaleByID(ctx context.Context, id string) (*domain.PharmacySale, error) {
	return s.findSale(ctx, "id", id)
}

func (s *Store) GetSaleByInvoice(ctx context.Context, invoiceNumber string) (*domain.PharmacySale, error) {
	return s.findSale(ctx, "invoice_number", invoiceNumber)
}

func (s *Store) findSale(ctx context.Context, column string, value string) (*domain.PharmacySale, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, invoice_number, customer_name, customer_phone, prescription_number,
		       prescriber, payment_method, subtotal_cents, discount_cents, tax_cents,
		       total_cents, amount_paid_cents, change_cents, status, void_reason,
		       voided_at, sold_by, created_at, warnings
		FROM sales
		WHERE `+column+` = $1
	`, value)
	sale, err := scanSale(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	items, err := s.listSaleItems(ctx, sale.ID)
	if err != nil {
		return nil, err
	}
	sale.Items = items
	return &sale, nil
}

func (s *Store) listSaleItems(ctx context.Context, saleID string) ([]domain.SaleItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT medicine_id, medicine_name, batch_id, batch_number, expiry_date,
		       quantity, unit_price_cents, discount_percent, line_total_cents
		FROM sale_items
		WHERE sale_id = $1
		ORDER BY medicine_name
	`, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.SaleItem, 0, 8)
	for rows.Next() {
		var item domain.SaleItem
		var expiry sql.NullTime
		if err := rows.Scan(&item.MedicineID, &item.MedicineName, &item.BatchID, &item.BatchNumber,
			&expiry, &item.Quantity, &item.UnitPriceCents, &item.DiscountPercent, &item.LineTotalCents); err != nil {
			return nil, err
		}
		if expiry.Valid {
			e := expiry.Time.UTC()
			item.ExpiryDate = &e
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListSales(ctx context.Context, limit int) ([]domain.PharmacySale, error) {
	if limit < 1 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, invoice_number, customer_name, customer_phone, prescription_number,
		       prescriber, payment_method, subtotal_cents, discount_cents, tax_cents,
		       total_cents, amount_paid_cents, change_cents, status, void_reason,
		       voided_at, sold_by, created_at, warnings
		FROM sales
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.PharmacySale, 0, limit)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range sales {
		items, err := s.listSaleItems(ctx, sales[i].ID)
		if err != nil {
			return nil, err
		}
		sales[i].Items = items
	}
	return sales, nil
}

// VoidSale marks a completed sale voided and restores the sold quantities to
// their original batches.
func (s *Store) VoidSale(ctx context.Context, id string, reason string, at time.Time) (*domain.PharmacySale, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var status string
	err = tx.QueryRowContext(ctx, `
		SELECT status FROM sales WHERE id = $1 FOR UPDATE
	`, id).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if status != domain.SaleStatusCompleted {
		return nil, store.ErrSaleNotVoidable
	}

	itemRows, err := tx.QueryContext(ctx, `
		SELECT batch_id, quantity FROM sale_items WHERE sale_id = $1
	`, id)
	if err != nil {
		return nil, err
	}
	type restore struct {
		batchID string
		qty     int
	}
	restores := make([]restore, 0, 8)
	for itemRows.Next() {
		var r restore
		if err := itemRows.Scan(&r.batchID, &r.qty); err != nil {
			_ = itemRows.Close()
			return nil, err
		}
		restores = append(restores, r)
	}
	if err := itemRows.Err(); err != nil {
		_ = itemRows.Close()
		return nil, err
	}
	_ = itemRows.Close()

	for _, r := range restores {
		if r.batchID == "" {
			continue
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE batches SET quantity = quantity + $1 WHERE id = $2
		`, r.qty, r.batchID)
		if err != nil {
			return nil, err
		}
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE sales
		SET status = $2, void_reason = $3, voided_at = $4
		WHERE id = $1 AND status = $5
	`, id, domain.SaleStatusVoided, reason, at, domain.SaleStatusCompleted)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return s.GetSaleByID(ctx, id)
}

func (s *Store) CreateSupplier(ctx context.Context, supplier domain.Supplier) (*domain.Supplier, error) {
	if strings.TrimSpace(supplier.Name) == "" {
		return nil, store.ErrInvalidReceiving
	}
	if supplier.ID == "" {
		supplier.ID = xid.New("sup")
	}
	if supplier.CreatedAt.IsZero() {
		supplier.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO suppliers (id, name, contact_person, phone, email, address, active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, supplier.ID, supplier.Name, nullIfEmpty(supplier.ContactPerson), nullIfEmpty(supplier.Phone),
		nullIfEmpty(supplier.Email), nullIfEmpty(supplier.Address), supplier.Active, supplier.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		return nil, err
	}
	created := supplier
	return &created, nil
}

func (s *Store) GetSupplierByID(ctx context.Context, id string) (*domain.Supplier, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, contact_person, phone, email, address, active, created_at
		FROM suppliers
		WHERE id = $1
	`, id)
	supplier, err := scanSupplier(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return supplier, nil
}

func (s *Store) ListSuppliers(ctx context.Context) ([]domain.Supplier, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, contact_person, phone, email, address, active, created_at
		FROM suppliers
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	suppliers := make([]domain.Supplier, 0, 16)
	for rows.Next() {
		supplier, err := scanSupplier(rows)
		if err != nil {
			return nil, err
		}
		suppliers = append(suppliers, *supplier)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return suppliers, nil
}

func scanSupplier(row rowScanner) (*domain.Supplier, error) {
	var supplier domain.Supplier
	var contact, phone, email, address sql.NullString
	if err := row.Scan(&supplier.ID, &supplier.Name, &contact, &phone, &email, &address,
		&supplier.Active, &supplier.CreatedAt); err != nil {
		return nil, err
	}
	supplier.ContactPerson = contact.String
	supplier.Phone = phone.String
	supplier.Email = email.String
	supplier.Address = address.String
	supplier.CreatedAt = supplier.CreatedAt.UTC()
	return &supplier, nil
}

// CreateStockReceiving records the receiving document and upserts its batches
// in one transaction. A batch matching an existing medicine and batch number
// is topped up instead of duplicated.
func (s *Store) CreateStockReceiving(ctx context.Context, receiving domain.StockReceiving, batches []domain.Batch) (*domain.StockReceiving, error) {
	if receiving.Number == "" || len(receiving.Items) == 0 {
		return nil, store.ErrInvalidReceiving
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if receiving.ID == "" {
		receiving.ID = xid.New("rcv")
	}
	if receiving.CreatedAt.IsZero() {
		receiving.CreatedAt = time.Now().UTC()
	}

	for i := range batches {
		batch := &batches[i]
		var existingID string
		err := tx.QueryRowContext(ctx, `
			SELECT id FROM batches
			WHERE medicine_id = $1 AND batch_number = $2
			FOR UPDATE
		`, batch.MedicineID, batch.BatchNumber).Scan(&existingID)
		switch {
		case err == nil:
			_, err = tx.ExecContext(ctx, `
				UPDATE batches
				SET quantity = quantity + $2, cost_cents = $3, price_cents = $4
				WHERE id = $1
			`, existingID, batch.Quantity, batch.CostCents, batch.PriceCents)
			if err != nil {
				return nil, err
			}
			batch.ID = existingID
		case errors.Is(err, sql.ErrNoRows):
			if batch.ID == "" {
				batch.ID = xid.New("bat")
			}
			if batch.ReceivedAt.IsZero() {
				batch.ReceivedAt = receiving.CreatedAt
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO batches (
					id, medicine_id, batch_number, expiry_date, received_at,
					quantity, cost_cents, price_cents, blocked
				)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
			`, batch.ID, batch.MedicineID, batch.BatchNumber, nullDate(batch.ExpiryDate),
				batch.ReceivedAt, batch.Quantity, batch.CostCents, batch.PriceCents, batch.Blocked)
			if err != nil {
				return nil, err
			}
		default:
			return nil, err
		}
	}

	items, err := json.Marshal(receiving.Items)
	if err != nil {
		return nil, err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO stock_receivings (id, number, supplier_id, supplier_name, notes, received_by, created_at, items)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, receiving.ID, receiving.Number, nullIfEmpty(receiving.SupplierID), receiving.SupplierName,
		nullIfEmpty(receiving.Notes), receiving.ReceivedBy, receiving.CreatedAt, items)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	created := receiving
	return &created, nil
}

func (s *Store) ListStockReceivings(ctx context.Context, limit int) ([]domain.StockReceiving, error) {
	if limit < 1 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, number, supplier_id, supplier_name, notes, received_by, created_at, items
		FROM stock_receivings
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	receivings := make([]domain.StockReceiving, 0, limit)
	for rows.Next() {
		var receiving domain.StockReceiving
		var supplierID, notes sql.NullString
		var items []byte
		if err := rows.Scan(&receiving.ID, &receiving.Number, &supplierID, &receiving.SupplierName,
			&notes, &receiving.ReceivedBy, &receiving.CreatedAt, &items); err != nil {
			return nil, err
		}
		receiving.SupplierID = supplierID.String
		receiving.Notes = notes.String
		receiving.CreatedAt = receiving.CreatedAt.UTC()
		if len(items) > 0 {
			if err := json.Unmarshal(items, &receiving.Items); err != nil {
				return nil, err
			}
		}
		receivings = append(receivings, receiving)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return receivings, nil
}

func (s *Store) CreateStockMovement(ctx context.Context, movement domain.StockMovement) error {
	if movement.ID == "" {
		movement.ID = xid.New("mov")
	}
	if movement.CreatedAt.IsZero() {
		movement.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stock_movements (id, medicine_id, batch_id, type, quantity, reference, notes, created_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, movement.ID, movement.MedicineID, nullIfEmpty(movement.BatchID), movement.Type,
		movement.Quantity, nullIfEmpty(movement.Reference), nullIfEmpty(movement.Notes),
		movement.CreatedBy, movement.CreatedAt)
	return err
}

func (s *Store) ListStockMovements(ctx context.Context, medicineID string, limit int) ([]domain.StockMovement, error) {
	if limit < 1 {
		limit = 100
	}

	where := ""
	args := []any{limit}
	if medicineID != "" {
		where = "WHERE medicine_id = $2"
		args = append(args, medicineID)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, medicine_id, batch_id, type, quantity, reference, notes, created_by, created_at
		FROM stock_movements
		`+where+`
		ORDER BY created_at DESC
		LIMIT $1
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	movements := make([]domain.StockMovement, 0, limit)
	for rows.Next() {
		var movement domain.StockMovement
		var batchID, reference, notes sql.NullString
		if err := rows.Scan(&movement.ID, &movement.MedicineID, &batchID, &movement.Type,
			&movement.Quantity, &reference, &notes, &movement.CreatedBy, &movement.CreatedAt); err != nil {
			return nil, err
		}
		movement.BatchID = batchID.String
		movement.Reference = reference.String
		movement.Notes = notes.String
		movement.CreatedAt = movement.CreatedAt.UTC()
		movements = append(movements, movement)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return movements, nil
}

func (s *Store) CreateControlledDrugEntry(ctx context.Context, entry domain.ControlledDrugEntry) error {
	if entry.ID == "" {
		entry.ID = xid.New("cdr")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO controlled_drug_register (
			id, medicine_id, medicine_name, batch_number, quantity, sale_id,
			prescription_number, prescriber, dispensed_by, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, entry.ID, entry.MedicineID, entry.MedicineName, entry.BatchNumber, entry.Quantity,
		entry.SaleID, nullIfEmpty(entry.PrescriptionNumber), nullIfEmpty(entry.Prescriber),
		entry.DispensedBy, entry.CreatedAt)
	return err
}

func (s *Store) ListControlledDrugEntries(ctx context.Context, limit int) ([]domain.ControlledDrugEntry, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, medicine_id, medicine_name, batch_number, quantity, sale_id,
		       prescription_number, prescriber, dispensed_by, created_at
		FROM controlled_drug_register
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.ControlledDrugEntry, 0, limit)
	for rows.Next() {
		var entry domain.ControlledDrugEntry
		var rxNumber, prescriber sql.NullString
		if err := rows.Scan(&entry.ID, &entry.MedicineID, &entry.MedicineName, &entry.BatchNumber,
			&entry.Quantity, &entry.SaleID, &rxNumber, &prescriber, &entry.DispensedBy, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.PrescriptionNumber = rxNumber.String
		entry.Prescriber = prescriber.String
		entry.CreatedAt = entry.CreatedAt.UTC()
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType,
		entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorUsername, &entry.ActorRole, &entry.Action,
			&entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password, role, active, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicate
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM users
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 8)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET password = $2 WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMedicine(row rowScanner) (domain.Medicine, error) {
	var med domain.Medicine
	var barcode, genericName sql.NullString
	err := row.Scan(&med.ID, &med.SKU, &barcode, &med.Name, &genericName, &med.Category,
		&med.Schedule, &med.UnitPriceCents, &med.TaxRatePercent, &med.ReorderLevel,
		&med.Active, &med.CreatedAt)
	if err != nil {
		return domain.Medicine{}, err
	}
	med.Barcode = barcode.String
	med.GenericName = genericName.String
	med.CreatedAt = med.CreatedAt.UTC()
	return med, nil
}

func scanBatch(row rowScanner) (domain.Batch, error) {
	var batch domain.Batch
	var expiry sql.NullTime
	err := row.Scan(&batch.ID, &batch.MedicineID, &batch.BatchNumber, &expiry,
		&batch.ReceivedAt, &batch.Quantity, &batch.CostCents, &batch.PriceCents, &batch.Blocked)
	if err != nil {
		return domain.Batch{}, err
	}
	if expiry.Valid {
		e := expiry.Time.UTC()
		batch.ExpiryDate = &e
	}
	batch.ReceivedAt = batch.ReceivedAt.UTC()
	return batch, nil
}

func scanSale(row rowScanner) (domain.PharmacySale, error) {
	var sale domain.PharmacySale
	var customerName, customerPhone, rxNumber, prescriber, voidReason sql.NullString
	var voidedAt sql.NullTime
	var warnings []byte
	err := row.Scan(&sale.ID, &sale.InvoiceNumber, &customerName, &customerPhone, &rxNumber,
		&prescriber, &sale.PaymentMethod, &sale.SubtotalCents, &sale.DiscountCents, &sale.TaxCents,
		&sale.TotalCents, &sale.AmountPaidCents, &sale.ChangeCents, &sale.Status, &voidReason,
		&voidedAt, &sale.SoldBy, &sale.CreatedAt, &warnings)
	if err != nil {
		return domain.PharmacySale{}, err
	}
	sale.CustomerName = customerName.String
	sale.CustomerPhone = customerPhone.String
	sale.PrescriptionNumber = rxNumber.String
	sale.Prescriber = prescriber.String
	sale.VoidReason = voidReason.String
	if voidedAt.Valid {
		at := voidedAt.Time.UTC()
		sale.VoidedAt = &at
	}
	sale.CreatedAt = sale.CreatedAt.UTC()
	if len(warnings) > 0 {
		if err := json.Unmarshal(warnings, &sale.Warnings); err != nil {
			return domain.PharmacySale{}, err
		}
	}
	return sale, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullIfEmpty(val string) any {
	if strings.TrimSpace(val) == "" {
		return nil
	}
	return val
}

func nullDate(val *time.Time) any {
	if val == nil {
		return nil
	}
	return val.UTC()
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return val.UTC()
}
