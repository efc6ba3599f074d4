package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"farmapos/backend/internal/domain"
)

func TestVoidSaleRestoresBatchStock(t *testing.T) {
	databaseURL := os.Getenv("FARMAPOS_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set FARMAPOS_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})

	stamp := time.Now().UnixNano()
	medID := fmt.Sprintf("med-void-it-%d", stamp)
	batchID := fmt.Sprintf("bat-void-it-%d", stamp)
	saleID := fmt.Sprintf("sale-void-it-%d", stamp)
	invoice := fmt.Sprintf("INV-IT-%d", stamp)

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sale_items WHERE sale_id = $1`, saleID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sales WHERE id = $1`, saleID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM batches WHERE id = $1`, batchID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM medicines WHERE id = $1`, medID)
	})

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO medicines (
			id, sku, barcode, name, generic_name, category, schedule,
			unit_price_cents, tax_rate_percent, reorder_level, active, created_at
		)
		VALUES ($1, $2, null, 'Void IT Medicine', null, 'analgesic', 'otc', 10000, 0, 5, true, now())
	`, medID, fmt.Sprintf("SKU-VOID-IT-%d", stamp)); err != nil {
		t.Fatalf("insert medicine: %v", err)
	}

	expiry := time.Now().UTC().AddDate(1, 0, 0)
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO batches (
			id, medicine_id, batch_number, expiry_date, received_at,
			quantity, cost_cents, price_cents, blocked
		)
		VALUES ($1, $2, 'B-VOID-IT', $3, now(), 10, 6000, 10000, false)
	`, batchID, medID, expiry); err != nil {
		t.Fatalf("seed batch: %v", err)
	}

	sale := domain.PharmacySale{
		ID:              saleID,
		InvoiceNumber:   invoice,
		PaymentMethod:   domain.PaymentCash,
		SubtotalCents:   30000,
		TotalCents:      30000,
		AmountPaidCents: 30000,
		SoldBy:          "cashier",
		Items: []domain.SaleItem{
			{
				MedicineID:     medID,
				MedicineName:   "Void IT Medicine",
				BatchID:        batchID,
				BatchNumber:    "B-VOID-IT",
				Quantity:       3,
				UnitPriceCents: 10000,
				LineTotalCents: 30000,
			},
		},
	}
	if _, err := s.CreateSale(ctx, sale); err != nil {
		t.Fatalf("create sale: %v", err)
	}

	var qty int
	if err := s.db.QueryRowContext(ctx, `SELECT quantity FROM batches WHERE id = $1`, batchID).Scan(&qty); err != nil {
		t.Fatalf("query batch: %v", err)
	}
	if qty != 7 {
		t.Fatalf("expected batch quantity 7 after sale, got %d", qty)
	}

	at := time.Now().UTC()
	voided, err := s.VoidSale(ctx, saleID, "integration test void", at)
	if err != nil {
		t.Fatalf("void sale: %v", err)
	}
	if voided.Status != domain.SaleStatusVoided {
		t.Fatalf("expected status voided, got %s", voided.Status)
	}

	if err := s.db.QueryRowContext(ctx, `SELECT quantity FROM batches WHERE id = $1`, batchID).Scan(&qty); err != nil {
		t.Fatalf("query batch: %v", err)
	}
	if qty != 10 {
		t.Fatalf("expected batch quantity 10 after void, got %d", qty)
	}
}
