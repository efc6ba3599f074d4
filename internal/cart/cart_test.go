package cart

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"farmapos/backend/internal/domain"
)

type catalogStub struct {
	items       map[string]domain.CatalogItem
	searchCalls int
}

func (c *catalogStub) Search(_ context.Context, query string) ([]domain.CatalogItem, error) {
	c.searchCalls++
	out := make([]domain.CatalogItem, 0)
	for _, item := range c.items {
		if strings.Contains(strings.ToLower(item.Name), strings.ToLower(query)) {
			out = append(out, item)
		}
	}
	return out, nil
}

func (c *catalogStub) Get(_ context.Context, itemID string) (domain.CatalogItem, error) {
	item, ok := c.items[itemID]
	if !ok {
		return domain.CatalogItem{}, fmt.Errorf("item %s not found", itemID)
	}
	return item, nil
}

type batchStub struct {
	byItem map[string][]domain.Batch
}

func (b *batchStub) ListAvailableBatches(_ context.Context, itemID string) ([]domain.Batch, error) {
	return b.byItem[itemID], nil
}

type submitStub struct {
	err    error
	sale   domain.PharmacySale
	last   domain.SaleSubmitRequest
	called int
}

func (s *submitStub) SubmitSale(_ context.Context, _ domain.Actor, req domain.SaleSubmitRequest) (domain.PharmacySale, error) {
	s.called++
	s.last = req
	if s.err != nil {
		return domain.PharmacySale{}, s.err
	}
	return s.sale, nil
}

func testItems() map[string]domain.CatalogItem {
	return map[string]domain.CatalogItem{
		"med-1": {ID: "med-1", SKU: "PARA500", Name: "Paracetamol 500mg", UnitPriceCents: 10000, AvailableStock: 40, TaxRatePercent: 16},
		"med-2": {ID: "med-2", SKU: "AMOX250", Name: "Amoxicillin 250mg", UnitPriceCents: 25000, AvailableStock: 12, RequiresPrescription: true, TaxRatePercent: 16},
		"med-3": {ID: "med-3", SKU: "MORPH10", Name: "Morphine 10mg", UnitPriceCents: 90000, AvailableStock: 5, RequiresPrescription: true, IsControlled: true, TaxRatePercent: 0},
		"med-4": {ID: "med-4", SKU: "IBU400", Name: "Ibuprofen 400mg", UnitPriceCents: 8000, AvailableStock: 0},
	}
}

func newTestEngine(opts Options, role string) (*Engine, *catalogStub, *batchStub, *submitStub) {
	catalog := &catalogStub{items: testItems()}
	expiry := time.Now().Add(200 * 24 * time.Hour)
	soon := time.Now().Add(10 * 24 * time.Hour)
	batches := &batchStub{byItem: map[string][]domain.Batch{
		"med-1": {
			{ID: "b-1", MedicineID: "med-1", BatchNumber: "B100", ExpiryDate: &soon, Quantity: 15, PriceCents: 10000},
			{ID: "b-2", MedicineID: "med-1", BatchNumber: "B200", ExpiryDate: &expiry, Quantity: 25, PriceCents: 11000},
		},
		"med-2": {
			{ID: "b-3", MedicineID: "med-2", BatchNumber: "B300", ExpiryDate: &expiry, Quantity: 12, PriceCents: 25000},
		},
	}}
	submitter := &submitStub{sale: domain.PharmacySale{InvoiceNumber: "INV-20260831-ABCDEF01"}}
	engine := New(opts, catalog, batches, submitter, domain.Actor{Username: "amina", Role: role})
	return engine, catalog, batches, submitter
}

func TestAddDistinctItemsKeepsOneLinePerItem(t *testing.T) {
	engine, _, _, _ := newTestEngine(Options{}, domain.RoleCashier)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := engine.AddItem(ctx, "med-1", false); err != nil {
			t.Fatalf("add med-1: %v", err)
		}
	}
	if err := engine.AddItem(ctx, "med-2", true); err != nil {
		t.Fatalf("add med-2: %v", err)
	}

	lines := engine.Lines()
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if lines[0].Item.ID != "med-1" || lines[0].Quantity != 3 {
		t.Fatalf("expected med-1 qty 3, got %s qty %d", lines[0].Item.ID, lines[0].Quantity)
	}
	if lines[1].Item.ID != "med-2" || lines[1].Quantity != 1 {
		t.Fatalf("expected med-2 qty 1, got %s qty %d", lines[1].Item.ID, lines[1].Quantity)
	}
}

func TestAddClearsSearchState(t *testing.T) {
	engine, _, _, _ := newTestEngine(Options{}, domain.RoleCashier)
	ctx := context.Background()

	if _, err := engine.Search(ctx, "para"); err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(engine.SearchResults()) != 1 {
		t.Fatalf("expected 1 search result, got %d", len(engine.SearchResults()))
	}
	if err := engine.AddItem(ctx, "med-1", false); err != nil {
		t.Fatalf("add: %v", err)
	}
	if engine.SearchQuery() != "" || len(engine.SearchResults()) != 0 {
		t.Fatalf("expected search cleared after add")
	}
}

func TestShortQueryClearsResultsWithoutLookup(t *testing.T) {
	engine, catalog, _, _ := newTestEngine(Options{}, domain.RoleCashier)
	ctx := context.Background()

	if _, err := engine.Search(ctx, "para"); err != nil {
		t.Fatalf("search: %v", err)
	}
	calls := catalog.searchCalls
	if _, err := engine.Search(ctx, "p"); err != nil {
		t.Fatalf("short search: %v", err)
	}
	if catalog.searchCalls != calls {
		t.Fatalf("expected no lookup for short query")
	}
	if len(engine.SearchResults()) != 0 {
		t.Fatalf("expected results cleared by short query")
	}
}

func TestStaleSearchResponseDoesNotOverwriteNewer(t *testing.T) {
	engine, _, _, _ := newTestEngine(Options{}, domain.RoleCashier)

	slow, run := engine.BeginSearch("ibu")
	if !run {
		t.Fatalf("expected lookup for query")
	}
	fast, run := engine.BeginSearch("para")
	if !run {
		t.Fatalf("expected lookup for query")
	}

	if !engine.ApplySearchResults(fast, []domain.CatalogItem{{ID: "med-1", Name: "Paracetamol 500mg"}}) {
		t.Fatalf("expected newer results to apply")
	}
	if engine.ApplySearchResults(slow, []domain.CatalogItem{{ID: "med-4", Name: "Ibuprofen 400mg"}}) {
		t.Fatalf("expected stale results to be dropped")
	}
	results := engine.SearchResults()
	if len(results) != 1 || results[0].ID != "med-1" {
		t.Fatalf("expected newer results retained, got %+v", results)
	}
}

func TestQuantityZeroRemovesLine(t *testing.T) {
	engine, _, _, _ := newTestEngine(Options{}, domain.RoleCashier)
	ctx := context.Background()

	if err := engine.AddItem(ctx, "med-1", false); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := engine.SetQuantity("med-1", 0); err != nil {
		t.Fatalf("set quantity 0: %v", err)
	}
	if len(engine.Lines()) != 0 {
		t.Fatalf("expected line removed")
	}
}

func TestQuantityAboveCeilingRejectedNotClamped(t *testing.T) {
	engine, _, _, _ := newTestEngine(Options{}, domain.RoleCashier)
	ctx := context.Background()

	if err := engine.AddItem(ctx, "med-1", false); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := engine.SetQuantity("med-1", 3); err != nil {
		t.Fatalf("set quantity 3: %v", err)
	}
	err := engine.SetQuantity("med-1", 41)
	if !errors.Is(err, ErrQuantityExceedsStock) {
		t.Fatalf("expected stock ceiling rejection, got %v", err)
	}
	if engine.Lines()[0].Quantity != 3 {
		t.Fatalf("expected quantity unchanged at 3, got %d", engine.Lines()[0].Quantity)
	}
	if engine.TransientError() == "" {
		t.Fatalf("expected transient error message")
	}
}

func TestTransientErrorAutoClears(t *testing.T) {
	engine, _, _, _ := newTestEngine(Options{}, domain.RoleCashier)
	ctx := context.Background()

	base := time.Now()
	current := base
	engine.SetClock(func() time.Time { return current })

	if err := engine.AddItem(ctx, "med-1", false); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := engine.SetQuantity("med-1", 500); !errors.Is(err, ErrQuantityExceedsStock) {
		t.Fatalf("expected rejection, got %v", err)
	}
	if engine.TransientError() == "" {
		t.Fatalf("expected transient error present")
	}
	current = base.Add(6 * time.Second)
	if engine.TransientError() != "" {
		t.Fatalf("expected transient error cleared after dismissal window")
	}
}

func TestDiscountCoercion(t *testing.T) {
	cases := map[string]float64{
		"150":  0,
		"-5":   0,
		"abc":  0,
		"":     0,
		"37.5": 37.5,
		"100":  100,
		"0":    0,
	}
	for raw, want := range cases {
		if got := ParseDiscountPercent(raw); got != want {
			t.Fatalf("discount %q: expected %v, got %v", raw, want, got)
		}
	}
}

func TestSetDiscountAppliesCoercedValue(t *testing.T) {
	engine, _, _, _ := newTestEngine(Options{}, domain.RoleCashier)
	ctx := context.Background()

	if err := engine.AddItem(ctx, "med-1", false); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := engine.SetDiscount("med-1", "37.5"); err != nil {
		t.Fatalf("set discount: %v", err)
	}
	if engine.Lines()[0].DiscountPercent != 37.5 {
		t.Fatalf("expected discount 37.5, got %v", engine.Lines()[0].DiscountPercent)
	}
	if err := engine.SetDiscount("med-1", "abc"); err != nil {
		t.Fatalf("set discount: %v", err)
	}
	if engine.Lines()[0].DiscountPercent != 0 {
		t.Fatalf("expected bad input coerced to 0, got %v", engine.Lines()[0].DiscountPercent)
	}
}

func TestTotalsWithTax(t *testing.T) {
	engine, _, _, _ := newTestEngine(Options{ApplyTax: true}, domain.RoleCashier)
	ctx := context.Background()

	if err := engine.AddItem(ctx, "med-1", false); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := engine.SetQuantity("med-1", 3); err != nil {
		t.Fatalf("set quantity: %v", err)
	}
	if err := engine.SetDiscount("med-1", "10"); err != nil {
		t.Fatalf("set discount: %v", err)
	}

	totals := engine.Totals()
	if totals.SubtotalCents != 30000 {
		t.Fatalf("expected subtotal 30000, got %d", totals.SubtotalCents)
	}
	if totals.DiscountCents != 3000 {
		t.Fatalf("expected discount 3000, got %d", totals.DiscountCents)
	}
	if totals.TaxCents != 4320 {
		t.Fatalf("expected tax 4320, got %d", totals.TaxCents)
	}
	if totals.TotalCents != 31320 {
		t.Fatalf("expected total 31320, got %d", totals.TotalCents)
	}
}

func TestTotalsIdempotent(t *testing.T) {
	engine, _, _, _ := newTestEngine(Options{ApplyTax: true}, domain.RoleCashier)
	ctx := context.Background()

	if err := engine.AddItem(ctx, "med-1", false); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := engine.SetDiscount("med-1", "12.5"); err != nil {
		t.Fatalf("set discount: %v", err)
	}
	first := engine.Totals()
	second := engine.Totals()
	if first != second {
		t.Fatalf("expected identical totals, got %+v then %+v", first, second)
	}
}

func TestChangeComputation(t *testing.T) {
	engine, _, _, _ := newTestEngine(Options{ApplyTax: true}, domain.RoleCashier)
	ctx := context.Background()

	if err := engine.AddItem(ctx, "med-1", false); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := engine.SetQuantity("med-1", 3); err != nil {
		t.Fatalf("set quantity: %v", err)
	}
	if err := engine.SetDiscount("med-1", "10"); err != nil {
		t.Fatalf("set discount: %v", err)
	}
	engine.SetAmountPaid(31320)
	if change := engine.Totals().ChangeCents; change != 0 {
		t.Fatalf("expected change 0, got %d", change)
	}
}

func TestSubmitBlocksWhenPaidBelowTotal(t *testing.T) {
	engine, _, _, submitter := newTestEngine(Options{ApplyTax: true}, domain.RoleCashier)
	ctx := context.Background()

	if err := engine.AddItem(ctx, "med-1", false); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := engine.SetQuantity("med-1", 3); err != nil {
		t.Fatalf("set quantity: %v", err)
	}
	if err := engine.SetDiscount("med-1", "10"); err != nil {
		t.Fatalf("set discount: %v", err)
	}
	if err := engine.BeginPayment(ctx); err != nil {
		t.Fatalf("begin payment: %v", err)
	}
	engine.SetPaymentMethod(domain.PaymentCash)
	engine.SetAmountPaid(30000)

	_, err := engine.Submit(ctx, false)
	if !errors.Is(err, ErrInsufficientPayment) {
		t.Fatalf("expected insufficient payment, got %v", err)
	}
	if submitter.called != 0 {
		t.Fatalf("expected no submission attempt")
	}
	if len(engine.Lines()) != 1 {
		t.Fatalf("expected cart preserved on failure")
	}
}

func TestBeginPaymentPrepopulatesAmountPaid(t *testing.T) {
	engine, _, _, _ := newTestEngine(Options{ApplyTax: true}, domain.RoleCashier)
	ctx := context.Background()

	if err := engine.AddItem(ctx, "med-1", false); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := engine.SetQuantity("med-1", 3); err != nil {
		t.Fatalf("set quantity: %v", err)
	}
	if err := engine.SetDiscount("med-1", "10"); err != nil {
		t.Fatalf("set discount: %v", err)
	}
	if err := engine.BeginPayment(ctx); err != nil {
		t.Fatalf("begin payment: %v", err)
	}
	if engine.State() != StatePayment {
		t.Fatalf("expected payment state, got %s", engine.State())
	}
	if got := engine.Totals().ChangeCents; got != 0 {
		t.Fatalf("expected amount paid pre-populated with total, change %d", got)
	}
}

func TestGateRejectsEmptyCart(t *testing.T) {
	engine, _, _, _ := newTestEngine(Options{}, domain.RoleCashier)
	if err := engine.BeginPayment(context.Background()); !errors.Is(err, ErrCartEmpty) {
		t.Fatalf("expected empty cart rejection, got %v", err)
	}
}

func TestGateRejectsStaleOverStockLine(t *testing.T) {
	engine, catalog, _, _ := newTestEngine(Options{}, domain.RoleCashier)
	ctx := context.Background()

	if err := engine.AddItem(ctx, "med-1", false); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := engine.SetQuantity("med-1", 10); err != nil {
		t.Fatalf("set quantity: %v", err)
	}

	item := catalog.items["med-1"]
	item.AvailableStock = 4
	catalog.items["med-1"] = item

	err := engine.BeginPayment(ctx)
	if !errors.Is(err, ErrQuantityExceedsStock) {
		t.Fatalf("expected stale stock rejection, got %v", err)
	}
	if engine.State() != StateEditing {
		t.Fatalf("expected cart to stay in editing")
	}
}

func TestGateRejectsWhenStockDropsToZero(t *testing.T) {
	engine, catalog, _, _ := newTestEngine(Options{}, domain.RoleCashier)
	ctx := context.Background()

	if err := engine.AddItem(ctx, "med-1", false); err != nil {
		t.Fatalf("add: %v", err)
	}
	item := catalog.items["med-1"]
	item.AvailableStock = 0
	catalog.items["med-1"] = item

	if err := engine.BeginPayment(ctx); !errors.Is(err, ErrOutOfStock) {
		t.Fatalf("expected out-of-stock rejection, got %v", err)
	}
}

func TestOutOfStockAddRejected(t *testing.T) {
	engine, _, _, _ := newTestEngine(Options{}, domain.RoleCashier)
	if err := engine.AddItem(context.Background(), "med-4", false); !errors.Is(err, ErrOutOfStock) {
		t.Fatalf("expected out-of-stock rejection, got %v", err)
	}
}

func TestPrescriptionPromptDeclineLeavesCartUnchanged(t *testing.T) {
	engine, _, _, _ := newTestEngine(Options{}, domain.RoleCashier)
	ctx := context.Background()

	err := engine.AddItem(ctx, "med-2", false)
	if !errors.Is(err, ErrPrescriptionRequired) {
		t.Fatalf("expected prescription prompt, got %v", err)
	}
	if len(engine.Lines()) != 0 {
		t.Fatalf("expected cart unchanged after declined prompt")
	}

	if err := engine.AddItem(ctx, "med-2", true); err != nil {
		t.Fatalf("confirmed add failed: %v", err)
	}
	if len(engine.Lines()) != 1 {
		t.Fatalf("expected line added after confirmation")
	}

	engine2, _, _, _ := newTestEngine(Options{}, domain.RoleCashier)
	if err := engine2.AddItem(ctx, "med-2", true); err != nil {
		t.Fatalf("add: %v", err)
	}
	// Session flag persists: a second prescription item adds without a prompt.
	if err := engine2.AddItem(ctx, "med-2", false); err != nil {
		t.Fatalf("expected no second prompt, got %v", err)
	}
}

func TestControlledItemBlockedForCashier(t *testing.T) {
	engine, _, _, _ := newTestEngine(Options{}, domain.RoleCashier)
	err := engine.AddItem(context.Background(), "med-3", true)
	if !errors.Is(err, ErrControlledNotAllowed) {
		t.Fatalf("expected controlled rejection for cashier, got %v", err)
	}

	manager, _, _, _ := newTestEngine(Options{}, domain.RoleManager)
	if err := manager.AddItem(context.Background(), "med-3", true); err != nil {
		t.Fatalf("expected manager to add controlled item, got %v", err)
	}
}

func TestPharmacyAddAutoSelectsFirstBatchWithWarning(t *testing.T) {
	engine, _, _, _ := newTestEngine(Options{RequireBatchSelection: true}, domain.RoleCashier)
	ctx := context.Background()

	if err := engine.AddItem(ctx, "med-1", false); err != nil {
		t.Fatalf("add: %v", err)
	}
	line := engine.Lines()[0]
	if line.Batch == nil || line.Batch.ID != "b-1" {
		t.Fatalf("expected first FEFO batch selected, got %+v", line.Batch)
	}
	if line.ExpiryWarning == "" {
		t.Fatalf("expected near-expiry warning on soon-expiring batch")
	}
	if len(engine.Warnings()) != 1 {
		t.Fatalf("expected cart-level warning, got %d", len(engine.Warnings()))
	}
	if line.Ceiling() != 15 {
		t.Fatalf("expected batch quantity as ceiling, got %d", line.Ceiling())
	}
}

func TestBatchReassignmentUpdatesPriceCeilingAndWarning(t *testing.T) {
	engine, _, _, _ := newTestEngine(Options{RequireBatchSelection: true}, domain.RoleCashier)
	ctx := context.Background()

	if err := engine.AddItem(ctx, "med-1", false); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := engine.SelectBatch(ctx, "med-1", "b-2"); err != nil {
		t.Fatalf("select batch: %v", err)
	}
	line := engine.Lines()[0]
	if line.Batch.ID != "b-2" {
		t.Fatalf("expected batch b-2, got %s", line.Batch.ID)
	}
	if line.Item.UnitPriceCents != 11000 {
		t.Fatalf("expected price updated to 11000, got %d", line.Item.UnitPriceCents)
	}
	if line.Ceiling() != 25 {
		t.Fatalf("expected ceiling 25, got %d", line.Ceiling())
	}
	if line.ExpiryWarning != "" {
		t.Fatalf("expected warning dropped on far-expiry batch")
	}
	if len(engine.Warnings()) != 0 {
		t.Fatalf("expected cart warnings cleared, got %v", engine.Warnings())
	}
}

func TestPharmacyGateRejectsVanishedBatch(t *testing.T) {
	engine, _, batches, _ := newTestEngine(Options{RequireBatchSelection: true}, domain.RoleCashier)
	ctx := context.Background()

	if err := engine.AddItem(ctx, "med-1", false); err != nil {
		t.Fatalf("add: %v", err)
	}
	batches.byItem["med-1"] = batches.byItem["med-1"][1:]

	err := engine.BeginPayment(ctx)
	if !errors.Is(err, ErrNoBatchesAvailable) {
		t.Fatalf("expected vanished batch rejection, got %v", err)
	}
}

func TestPharmacyAddWithoutBatchesRejected(t *testing.T) {
	engine, _, batches, _ := newTestEngine(Options{RequireBatchSelection: true}, domain.RoleCashier)
	delete(batches.byItem, "med-1")
	if err := engine.AddItem(context.Background(), "med-1", false); !errors.Is(err, ErrNoBatchesAvailable) {
		t.Fatalf("expected no-batches rejection, got %v", err)
	}
}

func TestMobilePaymentRequiresCustomerName(t *testing.T) {
	engine, _, _, _ := newTestEngine(Options{}, domain.RoleCashier)
	ctx := context.Background()

	if err := engine.AddItem(ctx, "med-1", false); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := engine.BeginPayment(ctx); err != nil {
		t.Fatalf("begin payment: %v", err)
	}
	engine.SetPaymentMethod(domain.PaymentMobile)

	_, err := engine.Submit(ctx, false)
	if !errors.Is(err, ErrCustomerNameRequired) {
		t.Fatalf("expected customer name requirement, got %v", err)
	}

	engine.SetCustomer("Wanjiku", "0712000000")
	if _, err := engine.Submit(ctx, false); err != nil {
		t.Fatalf("submit with customer name failed: %v", err)
	}
}

func TestMissingPrescriptionNumberNeedsExplicitContinue(t *testing.T) {
	engine, _, _, _ := newTestEngine(Options{}, domain.RoleCashier)
	ctx := context.Background()

	if err := engine.AddItem(ctx, "med-2", true); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := engine.BeginPayment(ctx); err != nil {
		t.Fatalf("begin payment: %v", err)
	}
	engine.SetPaymentMethod(domain.PaymentCash)

	_, err := engine.Submit(ctx, false)
	if !errors.Is(err, ErrPrescriptionNumber) {
		t.Fatalf("expected prescription number prompt, got %v", err)
	}
	if _, err := engine.Submit(ctx, true); err != nil {
		t.Fatalf("continue-anyway submit failed: %v", err)
	}
}

func TestSubmitSuccessClearsCartAndReturnsInvoice(t *testing.T) {
	engine, _, _, submitter := newTestEngine(Options{}, domain.RoleCashier)
	ctx := context.Background()

	if err := engine.AddItem(ctx, "med-1", false); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := engine.BeginPayment(ctx); err != nil {
		t.Fatalf("begin payment: %v", err)
	}
	engine.SetPaymentMethod(domain.PaymentCash)

	sale, err := engine.Submit(ctx, false)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if sale.InvoiceNumber != "INV-20260831-ABCDEF01" {
		t.Fatalf("unexpected invoice %s", sale.InvoiceNumber)
	}
	if submitter.called != 1 {
		t.Fatalf("expected one submission, got %d", submitter.called)
	}
	if len(submitter.last.Items) != 1 || submitter.last.Items[0].MedicineID != "med-1" {
		t.Fatalf("unexpected payload items %+v", submitter.last.Items)
	}
	if len(engine.Lines()) != 0 || engine.State() != StateEditing {
		t.Fatalf("expected cart cleared after successful submission")
	}
}

func TestSubmitterRejectionPreservesCart(t *testing.T) {
	engine, _, _, submitter := newTestEngine(Options{}, domain.RoleCashier)
	submitter.err = errors.New("insufficient stock for Paracetamol 500mg")
	ctx := context.Background()

	if err := engine.AddItem(ctx, "med-1", false); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := engine.BeginPayment(ctx); err != nil {
		t.Fatalf("begin payment: %v", err)
	}
	engine.SetPaymentMethod(domain.PaymentCash)

	_, err := engine.Submit(ctx, false)
	if err == nil || err.Error() != "insufficient stock for Paracetamol 500mg" {
		t.Fatalf("expected submitter message surfaced verbatim, got %v", err)
	}
	if len(engine.Lines()) != 1 || engine.State() != StatePayment {
		t.Fatalf("expected cart preserved for retry")
	}
}

func TestBackToEditingKeepsLines(t *testing.T) {
	engine, _, _, _ := newTestEngine(Options{}, domain.RoleCashier)
	ctx := context.Background()

	if err := engine.AddItem(ctx, "med-1", false); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := engine.BeginPayment(ctx); err != nil {
		t.Fatalf("begin payment: %v", err)
	}
	engine.BackToEditing()
	if engine.State() != StateEditing {
		t.Fatalf("expected editing state")
	}
	if len(engine.Lines()) != 1 {
		t.Fatalf("expected lines preserved")
	}
	if err := engine.SetQuantity("med-1", 2); err != nil {
		t.Fatalf("edit after back failed: %v", err)
	}
}

func TestClearResetsEverything(t *testing.T) {
	engine, _, _, _ := newTestEngine(Options{RequireBatchSelection: true}, domain.RoleCashier)
	ctx := context.Background()

	if err := engine.AddItem(ctx, "med-2", true); err != nil {
		t.Fatalf("add: %v", err)
	}
	engine.SetCustomer("Wanjiku", "0712000000")
	engine.SetPaymentMethod(domain.PaymentCard)
	engine.SetPrescription("RX-1009", "Dr. Otieno")
	engine.SetAmountPaid(50000)

	engine.Clear()

	if len(engine.Lines()) != 0 {
		t.Fatalf("expected no lines after clear")
	}
	if len(engine.Warnings()) != 0 {
		t.Fatalf("expected warnings cleared")
	}
	if engine.PaymentMethod() != domain.PaymentCash {
		t.Fatalf("expected payment method reset to cash")
	}
	if engine.Totals().ChangeCents != 0 {
		t.Fatalf("expected amount paid reset")
	}
	if engine.State() != StateEditing {
		t.Fatalf("expected editing state after clear")
	}

	// Prescription verification resets too; the next prescription add prompts.
	if err := engine.AddItem(ctx, "med-2", false); !errors.Is(err, ErrPrescriptionRequired) {
		t.Fatalf("expected fresh prescription prompt after clear, got %v", err)
	}
}
