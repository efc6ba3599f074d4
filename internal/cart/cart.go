// Package cart implements the checkout cart state machine used by the sales
// surfaces. One engine covers both the retail variant and the pharmacy
// variant; the differences (batch selection, tax) are capability flags.
package cart

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"farmapos/backend/internal/domain"
)

var (
	ErrPrescriptionRequired   = errors.New("prescription confirmation required")
	ErrControlledNotAllowed   = errors.New("controlled item requires elevated role")
	ErrOutOfStock             = errors.New("item out of stock")
	ErrNoBatchesAvailable     = errors.New("no available batches")
	ErrQuantityExceedsStock   = errors.New("quantity exceeds available stock")
	ErrLineNotFound           = errors.New("cart line not found")
	ErrCartEmpty              = errors.New("cart is empty")
	ErrNotInPayment           = errors.New("cart is not in payment entry")
	ErrAlreadyInPayment       = errors.New("cart is already in payment entry")
	ErrPrescriptionUnverified = errors.New("prescription verification required")
	ErrPrescriptionNumber     = errors.New("prescription number missing")
	ErrCustomerNameRequired   = errors.New("customer name required for mobile payment")
	ErrInsufficientPayment    = errors.New("amount paid is below total")
)

const (
	StateEditing = "editing"
	StatePayment = "payment"
)

// nearExpiryWarnDays is the threshold below which an auto-selected batch
// attaches a non-blocking warning to the line and the cart.
const nearExpiryWarnDays = 30

// transientErrorTTL bounds how long a rejected quantity edit stays visible.
const transientErrorTTL = 5 * time.Second

type Options struct {
	RequireBatchSelection bool
	ApplyTax              bool
}

// Catalog supplies sellable item snapshots. Lookups are point-in-time and
// may be stale by the time the sale is submitted.
type Catalog interface {
	Search(ctx context.Context, query string) ([]domain.CatalogItem, error)
	Get(ctx context.Context, itemID string) (domain.CatalogItem, error)
}

// BatchLister returns available batches for an item ordered earliest expiry
// first. The engine trusts the order and defaults to the first entry.
type BatchLister interface {
	ListAvailableBatches(ctx context.Context, itemID string) ([]domain.Batch, error)
}

// Submitter accepts a finalized sale and returns the authoritative invoice
// record, or rejects it with a validation error.
type Submitter interface {
	SubmitSale(ctx context.Context, actor domain.Actor, req domain.SaleSubmitRequest) (domain.PharmacySale, error)
}

type Line struct {
	Item            domain.CatalogItem
	Batch           *domain.Batch
	Quantity        int
	DiscountPercent float64
	ExpiryWarning   string
}

// Ceiling is the maximum quantity this line may hold: the selected batch
// quantity in pharmacy mode, otherwise the item stock snapshot.
func (l Line) Ceiling() int {
	if l.Batch != nil {
		return l.Batch.Quantity
	}
	return l.Item.AvailableStock
}

func (l Line) subtotalCents() int64 {
	return l.Item.UnitPriceCents * int64(l.Quantity)
}

func (l Line) discountCents() int64 {
	return int64(math.Round(float64(l.subtotalCents()) * l.DiscountPercent / 100))
}

type Totals struct {
	SubtotalCents int64 `json:"subtotal_cents"`
	DiscountCents int64 `json:"discount_cents"`
	TaxCents      int64 `json:"tax_cents"`
	TotalCents    int64 `json:"total_cents"`
	ChangeCents   int64 `json:"change_cents"`
}

// Engine is a single-owner checkout cart. It is not safe for concurrent use;
// the owning session serializes calls.
type Engine struct {
	opts      Options
	catalog   Catalog
	batches   BatchLister
	submitter Submitter
	now       func() time.Time

	owner domain.Actor
	state string

	lines []Line

	customerName         string
	customerPhone        string
	paymentMethod        string
	amountPaidCents      int64
	prescriptionVerified bool
	prescriptionNumber   string
	prescriber           string
	warnings             []string

	searchSeq     uint64
	searchApplied uint64
	searchQuery   string
	searchResults []domain.CatalogItem

	transientErr   string
	transientSetAt time.Time
}

func New(opts Options, catalog Catalog, batches BatchLister, submitter Submitter, owner domain.Actor) *Engine {
	return &Engine{
		opts:          opts,
		catalog:       catalog,
		batches:       batches,
		submitter:     submitter,
		now:           time.Now,
		owner:         owner,
		state:         StateEditing,
		paymentMethod: domain.PaymentCash,
	}
}

// SetClock overrides the engine clock. Tests use it to pin expiry math.
func (e *Engine) SetClock(now func() time.Time) {
	if now != nil {
		e.now = now
	}
}

func (e *Engine) State() string         { return e.state }
func (e *Engine) Owner() domain.Actor   { return e.owner }
func (e *Engine) Lines() []Line         { return e.lines }
func (e *Engine) Warnings() []string    { return e.warnings }
func (e *Engine) SearchQuery() string   { return e.searchQuery }
func (e *Engine) PaymentMethod() string { return e.paymentMethod }

func (e *Engine) SearchResults() []domain.CatalogItem { return e.searchResults }

// TransientError returns the current auto-clearing error message, empty once
// the dismissal window has passed.
func (e *Engine) TransientError() string {
	if e.transientErr == "" {
		return ""
	}
	if e.now().Sub(e.transientSetAt) > transientErrorTTL {
		e.transientErr = ""
		return ""
	}
	return e.transientErr
}

func (e *Engine) setTransient(msg string) {
	e.transientErr = msg
	e.transientSetAt = e.now()
}

// BeginSearch registers a search attempt and returns its sequence token.
// Queries shorter than two characters clear prior results and report that no
// lookup should run.
func (e *Engine) BeginSearch(query string) (token uint64, run bool) {
	e.searchSeq++
	e.searchQuery = query
	if len(strings.TrimSpace(query)) < 2 {
		e.searchResults = nil
		e.searchApplied = e.searchSeq
		return e.searchSeq, false
	}
	return e.searchSeq, true
}

// ApplySearchResults installs results for the given token. Results from a
// token older than the last applied one are dropped so a slow response never
// overwrites a newer query (last-query-wins).
func (e *Engine) ApplySearchResults(token uint64, items []domain.CatalogItem) bool {
	if token < e.searchApplied || token > e.searchSeq {
		return false
	}
	e.searchApplied = token
	e.searchResults = items
	return true
}

// Search runs the catalog lookup synchronously under the token guard.
func (e *Engine) Search(ctx context.Context, query string) ([]domain.CatalogItem, error) {
	token, run := e.BeginSearch(query)
	if !run {
		return nil, nil
	}
	items, err := e.catalog.Search(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("catalog search: %w", err)
	}
	if !e.ApplySearchResults(token, items) {
		return e.searchResults, nil
	}
	return items, nil
}

func (e *Engine) clearSearch() {
	e.searchQuery = ""
	e.searchResults = nil
	e.searchApplied = e.searchSeq
}

func (e *Engine) findLine(itemID string) int {
	for i := range e.lines {
		if e.lines[i].Item.ID == itemID {
			return i
		}
	}
	return -1
}

// AddItem applies the add-to-cart contract in order: prescription prompt,
// controlled role gate, stock check, batch auto-selection in pharmacy mode,
// then increment-or-append. A successful add clears the search state.
func (e *Engine) AddItem(ctx context.Context, itemID string, confirmPrescription bool) error {
	if e.state != StateEditing {
		return ErrAlreadyInPayment
	}

	item, err := e.lookupItem(ctx, itemID)
	if err != nil {
		return err
	}

	if item.RequiresPrescription && !e.prescriptionVerified {
		if !confirmPrescription {
			return ErrPrescriptionRequired
		}
		e.prescriptionVerified = true
	}

	if item.IsControlled && e.owner.Role == domain.RoleCashier {
		return ErrControlledNotAllowed
	}

	if item.AvailableStock <= 0 {
		return ErrOutOfStock
	}

	var selected *domain.Batch
	var warning string
	if e.opts.RequireBatchSelection {
		available, err := e.batches.ListAvailableBatches(ctx, itemID)
		if err != nil {
			return fmt.Errorf("list batches: %w", err)
		}
		if len(available) == 0 {
			return ErrNoBatchesAvailable
		}
		batch := available[0]
		selected = &batch
		warning = e.expiryWarning(batch)
	}

	if idx := e.findLine(itemID); idx >= 0 {
		line := &e.lines[idx]
		if line.Quantity+1 > line.Ceiling() {
			e.setTransient(fmt.Sprintf("only %d in stock for %s", line.Ceiling(), line.Item.Name))
			return ErrQuantityExceedsStock
		}
		line.Quantity++
	} else {
		line := Line{Item: item, Batch: selected, Quantity: 1, ExpiryWarning: warning}
		if selected != nil {
			line.Item.UnitPriceCents = selected.PriceCents
		}
		e.lines = append(e.lines, line)
		if warning != "" {
			e.warnings = append(e.warnings, warning)
		}
	}

	e.clearSearch()
	return nil
}

func (e *Engine) lookupItem(ctx context.Context, itemID string) (domain.CatalogItem, error) {
	for _, item := range e.searchResults {
		if item.ID == itemID {
			return item, nil
		}
	}
	item, err := e.catalog.Get(ctx, itemID)
	if err != nil {
		return domain.CatalogItem{}, fmt.Errorf("catalog lookup: %w", err)
	}
	return item, nil
}

func (e *Engine) expiryWarning(batch domain.Batch) string {
	days := batch.DaysToExpiry(e.now())
	if days <= nearExpiryWarnDays {
		return fmt.Sprintf("Batch %s expires in %d days", batch.BatchNumber, days)
	}
	return ""
}

// SetQuantity replaces a line quantity. Zero or negative removes the line.
// A quantity above the stock ceiling is rejected and the line keeps its
// prior value; it is never clamped.
func (e *Engine) SetQuantity(itemID string, qty int) error {
	if e.state != StateEditing {
		return ErrAlreadyInPayment
	}
	idx := e.findLine(itemID)
	if idx < 0 {
		return ErrLineNotFound
	}
	if qty <= 0 {
		e.removeLine(idx)
		return nil
	}
	line := &e.lines[idx]
	if qty > line.Ceiling() {
		e.setTransient(fmt.Sprintf("only %d in stock for %s", line.Ceiling(), line.Item.Name))
		return ErrQuantityExceedsStock
	}
	line.Quantity = qty
	return nil
}

func (e *Engine) removeLine(idx int) {
	if e.lines[idx].ExpiryWarning != "" {
		e.dropWarning(e.lines[idx].ExpiryWarning)
	}
	e.lines = append(e.lines[:idx], e.lines[idx+1:]...)
}

func (e *Engine) dropWarning(msg string) {
	for i, w := range e.warnings {
		if w == msg {
			e.warnings = append(e.warnings[:i], e.warnings[i+1:]...)
			return
		}
	}
}

// ParseDiscountPercent normalizes raw discount input. Non-numeric or
// out-of-range values coerce to 0; this is deliberately looser than the
// quantity policy, which rejects instead.
func ParseDiscountPercent(raw string) float64 {
	val, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(val) || math.IsInf(val, 0) {
		return 0
	}
	if val < 0 || val > 100 {
		return 0
	}
	return val
}

// SetDiscount applies a raw discount input to a line, coercing bad input to
// zero rather than rejecting it.
func (e *Engine) SetDiscount(itemID string, raw string) error {
	if e.state != StateEditing {
		return ErrAlreadyInPayment
	}
	idx := e.findLine(itemID)
	if idx < 0 {
		return ErrLineNotFound
	}
	e.lines[idx].DiscountPercent = ParseDiscountPercent(raw)
	return nil
}

// SelectBatch reassigns a line to a different available batch, updating its
// price, quantity ceiling and expiry warning.
func (e *Engine) SelectBatch(ctx context.Context, itemID string, batchID string) error {
	if !e.opts.RequireBatchSelection {
		return errors.New("batch selection not enabled")
	}
	if e.state != StateEditing {
		return ErrAlreadyInPayment
	}
	idx := e.findLine(itemID)
	if idx < 0 {
		return ErrLineNotFound
	}
	available, err := e.batches.ListAvailableBatches(ctx, itemID)
	if err != nil {
		return fmt.Errorf("list batches: %w", err)
	}
	for _, batch := range available {
		if batch.ID != batchID {
			continue
		}
		line := &e.lines[idx]
		if line.ExpiryWarning != "" {
			e.dropWarning(line.ExpiryWarning)
		}
		b := batch
		line.Batch = &b
		line.Item.UnitPriceCents = b.PriceCents
		line.ExpiryWarning = e.expiryWarning(b)
		if line.ExpiryWarning != "" {
			e.warnings = append(e.warnings, line.ExpiryWarning)
		}
		if line.Quantity > line.Ceiling() {
			e.setTransient(fmt.Sprintf("only %d in stock for %s", line.Ceiling(), line.Item.Name))
		}
		return nil
	}
	return ErrNoBatchesAvailable
}

func (e *Engine) SetCustomer(name string, phone string) {
	e.customerName = strings.TrimSpace(name)
	e.customerPhone = strings.TrimSpace(phone)
}

func (e *Engine) SetPaymentMethod(method string) {
	e.paymentMethod = method
}

func (e *Engine) SetAmountPaid(cents int64) {
	e.amountPaidCents = cents
}

func (e *Engine) SetPrescription(number string, prescriber string) {
	e.prescriptionNumber = strings.TrimSpace(number)
	e.prescriber = strings.TrimSpace(prescriber)
}

// ComputeTotals derives totals from lines alone. It is a pure function: the
// same lines always produce the same totals.
func ComputeTotals(lines []Line, applyTax bool, amountPaidCents int64) Totals {
	var totals Totals
	for _, line := range lines {
		sub := line.subtotalCents()
		disc := line.discountCents()
		totals.SubtotalCents += sub
		totals.DiscountCents += disc
		if applyTax {
			totals.TaxCents += int64(math.Round(float64(sub-disc) * line.Item.TaxRatePercent / 100))
		}
	}
	totals.TotalCents = totals.SubtotalCents - totals.DiscountCents + totals.TaxCents
	totals.ChangeCents = amountPaidCents - totals.TotalCents
	return totals
}

func (e *Engine) Totals() Totals {
	return ComputeTotals(e.lines, e.opts.ApplyTax, e.amountPaidCents)
}

// BeginPayment runs the checkout gate: non-empty cart, fresh stock
// re-validation, prescription verification. On success the amount paid is
// pre-populated with the total and the cart enters payment entry.
func (e *Engine) BeginPayment(ctx context.Context) error {
	if e.state != StateEditing {
		return ErrAlreadyInPayment
	}
	if len(e.lines) == 0 {
		return ErrCartEmpty
	}
	if err := e.revalidateStock(ctx); err != nil {
		return err
	}
	if e.requiresPrescription() && !e.prescriptionVerified {
		return ErrPrescriptionUnverified
	}
	e.amountPaidCents = e.Totals().TotalCents
	e.state = StatePayment
	return nil
}

// BackToEditing returns from payment entry without losing cart state.
func (e *Engine) BackToEditing() {
	if e.state == StatePayment {
		e.state = StateEditing
	}
}

func (e *Engine) requiresPrescription() bool {
	for _, line := range e.lines {
		if line.Item.RequiresPrescription {
			return true
		}
	}
	return false
}

// revalidateStock re-checks every line against fresh catalog and batch data.
// Stock moves between add time and checkout time, and an auto-selected batch
// can expire while the cart sits open.
func (e *Engine) revalidateStock(ctx context.Context) error {
	for i := range e.lines {
		line := &e.lines[i]
		fresh, err := e.catalog.Get(ctx, line.Item.ID)
		if err != nil {
			return fmt.Errorf("refresh item %s: %w", line.Item.ID, err)
		}
		line.Item.AvailableStock = fresh.AvailableStock

		if line.Batch != nil {
			available, err := e.batches.ListAvailableBatches(ctx, line.Item.ID)
			if err != nil {
				return fmt.Errorf("refresh batches for %s: %w", line.Item.ID, err)
			}
			var current *domain.Batch
			for _, batch := range available {
				if batch.ID == line.Batch.ID {
					b := batch
					current = &b
					break
				}
			}
			if current == nil {
				return fmt.Errorf("batch %s for %s is no longer available: %w",
					line.Batch.BatchNumber, line.Item.Name, ErrNoBatchesAvailable)
			}
			line.Batch = current
		}

		if line.Ceiling() <= 0 {
			return fmt.Errorf("%s: %w", line.Item.Name, ErrOutOfStock)
		}
		if line.Quantity > line.Ceiling() {
			return fmt.Errorf("%s exceeds available stock %d: %w",
				line.Item.Name, line.Ceiling(), ErrQuantityExceedsStock)
		}
	}
	return nil
}

// Submit finalizes the sale. Validation failures abort with no state change;
// a submitter rejection preserves the cart so the user can correct and
// retry. A successful submission clears the cart.
func (e *Engine) Submit(ctx context.Context, continueWithoutRx bool) (domain.PharmacySale, error) {
	if e.state != StatePayment {
		return domain.PharmacySale{}, ErrNotInPayment
	}
	if e.paymentMethod == domain.PaymentMobile && e.customerName == "" {
		return domain.PharmacySale{}, ErrCustomerNameRequired
	}
	totals := e.Totals()
	if e.amountPaidCents < totals.TotalCents {
		return domain.PharmacySale{}, ErrInsufficientPayment
	}
	if err := e.revalidateStock(ctx); err != nil {
		return domain.PharmacySale{}, err
	}
	if e.requiresPrescription() {
		if !e.prescriptionVerified {
			return domain.PharmacySale{}, ErrPrescriptionUnverified
		}
		if e.prescriptionNumber == "" && !continueWithoutRx {
			return domain.PharmacySale{}, ErrPrescriptionNumber
		}
	}

	req := domain.SaleSubmitRequest{
		CustomerName:         e.customerName,
		CustomerPhone:        e.customerPhone,
		PaymentMethod:        e.paymentMethod,
		AmountPaidCents:      e.amountPaidCents,
		PrescriptionVerified: e.prescriptionVerified,
		PrescriptionNumber:   e.prescriptionNumber,
		Prescriber:           e.prescriber,
		ApplyTax:             e.opts.ApplyTax,
		Items:                make([]domain.SaleItemRequest, 0, len(e.lines)),
	}
	for _, line := range e.lines {
		item := domain.SaleItemRequest{
			MedicineID:      line.Item.ID,
			Quantity:        line.Quantity,
			DiscountPercent: line.DiscountPercent,
		}
		if line.Batch != nil {
			item.BatchID = line.Batch.ID
		}
		req.Items = append(req.Items, item)
	}

	sale, err := e.submitter.SubmitSale(ctx, e.owner, req)
	if err != nil {
		return domain.PharmacySale{}, err
	}
	e.Clear()
	return sale, nil
}

type LineView struct {
	ItemID          string  `json:"item_id"`
	Name            string  `json:"name"`
	UnitPriceCents  int64   `json:"unit_price_cents"`
	Quantity        int     `json:"quantity"`
	DiscountPercent float64 `json:"discount_percent"`
	BatchID         string  `json:"batch_id,omitempty"`
	BatchNumber     string  `json:"batch_number,omitempty"`
	StockCeiling    int     `json:"stock_ceiling"`
	ExpiryWarning   string  `json:"expiry_warning,omitempty"`
}

type View struct {
	State                string               `json:"state"`
	Lines                []LineView           `json:"lines"`
	Totals               Totals               `json:"totals"`
	Warnings             []string             `json:"warnings,omitempty"`
	TransientError       string               `json:"transient_error,omitempty"`
	CustomerName         string               `json:"customer_name,omitempty"`
	CustomerPhone        string               `json:"customer_phone,omitempty"`
	PaymentMethod        string               `json:"payment_method,omitempty"`
	AmountPaidCents      int64                `json:"amount_paid_cents"`
	PrescriptionVerified bool                 `json:"prescription_verified"`
	PrescriptionNumber   string               `json:"prescription_number,omitempty"`
	Prescriber           string               `json:"prescriber,omitempty"`
	SearchQuery          string               `json:"search_query,omitempty"`
	SearchResults        []domain.CatalogItem `json:"search_results,omitempty"`
}

// View renders the cart for transport. Totals are derived on every call.
func (e *Engine) View() View {
	view := View{
		State:                e.state,
		Lines:                make([]LineView, 0, len(e.lines)),
		Totals:               e.Totals(),
		Warnings:             append([]string(nil), e.warnings...),
		TransientError:       e.TransientError(),
		CustomerName:         e.customerName,
		CustomerPhone:        e.customerPhone,
		PaymentMethod:        e.paymentMethod,
		AmountPaidCents:      e.amountPaidCents,
		PrescriptionVerified: e.prescriptionVerified,
		PrescriptionNumber:   e.prescriptionNumber,
		Prescriber:           e.prescriber,
		SearchQuery:          e.searchQuery,
		SearchResults:        append([]domain.CatalogItem(nil), e.searchResults...),
	}
	for _, line := range e.lines {
		lv := LineView{
			ItemID:          line.Item.ID,
			Name:            line.Item.Name,
			UnitPriceCents:  line.Item.UnitPriceCents,
			Quantity:        line.Quantity,
			DiscountPercent: line.DiscountPercent,
			StockCeiling:    line.Ceiling(),
			ExpiryWarning:   line.ExpiryWarning,
		}
		if line.Batch != nil {
			lv.BatchID = line.Batch.ID
			lv.BatchNumber = line.Batch.BatchNumber
		}
		view.Lines = append(view.Lines, lv)
	}
	return view
}

// Clear resets lines, customer, payment and prescription state. Search state
// is left alone; it is cleared by a successful add.
func (e *Engine) Clear() {
	e.lines = nil
	e.customerName = ""
	e.customerPhone = ""
	e.paymentMethod = domain.PaymentCash
	e.amountPaidCents = 0
	e.prescriptionVerified = false
	e.prescriptionNumber = ""
	e.prescriber = ""
	e.warnings = nil
	e.transientErr = ""
	e.state = StateEditing
}
