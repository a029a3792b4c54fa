// Package memory implements the accounting collaborator in process.
// It backs the test suite and standalone runs of the service.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/marcoshache/grain-canje-triangular/internal/accounting"
)

type journal struct {
	account  string
	outbound bool
}

type partnerAccounts struct {
	receivable string
	payable    string
}

// settlementTake is the amount one line contributed to a reconcile
// call. Kept so cancelling a document can return what its lines settled
// to the counterparty side.
type settlementTake struct {
	lineID uuid.UUID
	amount decimal.Decimal
}

type settlementEvent struct {
	debits  []settlementTake
	credits []settlementTake
}

// Ledger keeps documents, accounts, journals, fx rates and taxes in
// memory. All operations are serialized behind one mutex: the
// collaborator contract promises per-document serialization and this is
// the simplest faithful rendition.
type Ledger struct {
	mu sync.Mutex

	base       string
	taxAccount string

	accounts map[string]accounting.AccountKind
	journals map[string]journal
	partners map[uuid.UUID]partnerAccounts
	taxes    map[string]decimal.Decimal
	rates    map[string]decimal.Decimal

	docs map[uuid.UUID]*accounting.Document
	// lineDoc maps line ids back to their owning document.
	lineDoc map[uuid.UUID]uuid.UUID

	settlements []*settlementEvent
}

var _ accounting.Ledger = (*Ledger)(nil)

func New(baseCurrency string) *Ledger {
	l := &Ledger{
		base:       baseCurrency,
		taxAccount: "TAX",
		accounts:   map[string]accounting.AccountKind{"TAX": accounting.AccountOther},
		journals:   map[string]journal{},
		partners:   map[uuid.UUID]partnerAccounts{},
		taxes:      map[string]decimal.Decimal{},
		rates:      map[string]decimal.Decimal{},
		docs:       map[uuid.UUID]*accounting.Document{},
		lineDoc:    map[uuid.UUID]uuid.UUID{},
	}
	l.rates[baseCurrency] = decimal.NewFromInt(1)
	return l
}

func (l *Ledger) BaseCurrency() string { return l.base }

// RegisterAccount declares a ledger account and its reconciliation kind.
func (l *Ledger) RegisterAccount(code string, kind accounting.AccountKind) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.accounts[code] = kind
}

// RegisterJournal declares a journal; account is the journal's own
// account (bank/cash for payment journals).
func (l *Ledger) RegisterJournal(code, account string, outbound bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.journals[code] = journal{account: account, outbound: outbound}
	if _, ok := l.accounts[account]; !ok && account != "" {
		l.accounts[account] = accounting.AccountOther
	}
}

// RegisterPartner declares a partner with its receivable and payable
// accounts.
func (l *Ledger) RegisterPartner(id uuid.UUID, receivable, payable string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.partners[id] = partnerAccounts{receivable: receivable, payable: payable}
	l.accounts[receivable] = accounting.AccountReceivable
	l.accounts[payable] = accounting.AccountPayable
}

// RegisterTax declares a percent tax rule.
func (l *Ledger) RegisterTax(id string, percent decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.taxes[id] = percent
}

// SetRate sets how many base currency units one unit of currency buys.
func (l *Ledger) SetRate(currency string, rate decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rates[currency] = rate
}

func (l *Ledger) convert(amount decimal.Decimal, from, to string) (decimal.Decimal, error) {
	if from == to {
		return amount, nil
	}
	rf, ok := l.rates[from]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", accounting.ErrUnknownCurrency, from)
	}
	rt, ok := l.rates[to]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", accounting.ErrUnknownCurrency, to)
	}
	return amount.Mul(rf).DivRound(rt, 6), nil
}

func (l *Ledger) Convert(_ context.Context, amount decimal.Decimal, from, to string, _ time.Time) (decimal.Decimal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.convert(amount, from, to)
}

func (l *Ledger) ComputeTax(_ context.Context, base decimal.Decimal, taxID, _ string, _ uuid.UUID) (accounting.TaxResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	percent, ok := l.taxes[taxID]
	if !ok {
		return accounting.TaxResult{}, fmt.Errorf("%w: %s", accounting.ErrUnknownTax, taxID)
	}
	tax := base.Mul(percent).DivRound(decimal.NewFromInt(100), 2)
	return accounting.TaxResult{
		TotalExcluded: base.Round(2),
		TotalIncluded: base.Add(tax).Round(2),
	}, nil
}

func (l *Ledger) PartnerAccounts(_ context.Context, partnerID uuid.UUID) (string, string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.partners[partnerID]
	if !ok {
		return "", "", fmt.Errorf("%w: %s", accounting.ErrUnknownPartner, partnerID)
	}
	return p.receivable, p.payable, nil
}

func (l *Ledger) lineKind(account string) (accounting.AccountKind, error) {
	kind, ok := l.accounts[account]
	if !ok {
		return "", fmt.Errorf("%w: %s", accounting.ErrUnknownAccount, account)
	}
	return kind, nil
}

func (l *Ledger) newLine(account string, partnerID uuid.UUID, label string, debit, credit decimal.Decimal, currency string, amountCurrency decimal.Decimal) (accounting.Line, error) {
	kind, err := l.lineKind(account)
	if err != nil {
		return accounting.Line{}, err
	}
	if currency == l.base {
		currency = ""
		amountCurrency = decimal.Zero
	}
	return accounting.Line{
		ID:             uuid.New(),
		Account:        account,
		Kind:           kind,
		PartnerID:      partnerID,
		Label:          label,
		Debit:          debit.Round(2),
		Credit:         credit.Round(2),
		Currency:       currency,
		AmountCurrency: amountCurrency.Round(2),
	}, nil
}

func (l *Ledger) storeDoc(doc *accounting.Document) {
	l.docs[doc.ID] = doc
	for _, line := range doc.Lines {
		l.lineDoc[line.ID] = doc.ID
	}
}

// invoiceLines builds the document lines shared by bills and customer
// invoices; sign controls which side the counterpart lands on.
func (l *Ledger) invoiceDoc(in accounting.InvoiceInput, docType accounting.DocumentType) (*accounting.Document, error) {
	if _, ok := l.journals[in.Journal]; !ok {
		return nil, fmt.Errorf("%w: %s", accounting.ErrUnknownJournal, in.Journal)
	}
	p, ok := l.partners[in.PartnerID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", accounting.ErrUnknownPartner, in.PartnerID)
	}
	currency := in.Currency
	if currency == "" {
		currency = l.base
	}

	isBill := docType == accounting.DocVendorBill
	counterAccount := p.receivable
	if isBill {
		counterAccount = p.payable
	}

	doc := &accounting.Document{
		ID:        uuid.New(),
		Type:      docType,
		State:     accounting.DocStateDraft,
		PartnerID: in.PartnerID,
		Currency:  currency,
		Date:      in.Date,
		Journal:   in.Journal,
		Ref:       in.Ref,
	}

	totalCur := decimal.Zero
	taxCur := decimal.Zero
	for _, il := range in.Lines {
		baseCur := il.Quantity.Mul(il.PriceUnit)
		lineTax := decimal.Zero
		if il.TaxID != "" {
			percent, ok := l.taxes[il.TaxID]
			if !ok {
				return nil, fmt.Errorf("%w: %s", accounting.ErrUnknownTax, il.TaxID)
			}
			lineTax = baseCur.Mul(percent).DivRound(decimal.NewFromInt(100), 2)
		}
		totalCur = totalCur.Add(baseCur).Add(lineTax)
		taxCur = taxCur.Add(lineTax)

		baseAmt, err := l.convert(baseCur, currency, l.base)
		if err != nil {
			return nil, err
		}
		debit, credit := baseAmt, decimal.Zero
		amtCur := baseCur
		if !isBill {
			debit, credit = decimal.Zero, baseAmt
			amtCur = baseCur.Neg()
		}
		line, err := l.newLine(il.Account, in.PartnerID, il.Label, debit, credit, currency, amtCur)
		if err != nil {
			return nil, err
		}
		doc.Lines = append(doc.Lines, line)
	}

	if taxCur.IsPositive() {
		taxBase, err := l.convert(taxCur, currency, l.base)
		if err != nil {
			return nil, err
		}
		debit, credit := taxBase, decimal.Zero
		amtCur := taxCur
		if !isBill {
			debit, credit = decimal.Zero, taxBase
			amtCur = taxCur.Neg()
		}
		line, err := l.newLine(l.taxAccount, in.PartnerID, "tax", debit, credit, currency, amtCur)
		if err != nil {
			return nil, err
		}
		doc.Lines = append(doc.Lines, line)
	}

	totalBase, err := l.convert(totalCur, currency, l.base)
	if err != nil {
		return nil, err
	}
	debit, credit := decimal.Zero, totalBase
	amtCur := totalCur.Neg()
	if !isBill {
		debit, credit = totalBase, decimal.Zero
		amtCur = totalCur
	}
	counter, err := l.newLine(counterAccount, in.PartnerID, in.Ref, debit, credit, currency, amtCur)
	if err != nil {
		return nil, err
	}
	doc.Lines = append(doc.Lines, counter)

	l.storeDoc(doc)
	return l.copyDoc(doc), nil
}

func (l *Ledger) CreateBill(_ context.Context, in accounting.InvoiceInput) (*accounting.Document, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.invoiceDoc(in, accounting.DocVendorBill)
}

func (l *Ledger) CreateInvoice(_ context.Context, in accounting.InvoiceInput) (*accounting.Document, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.invoiceDoc(in, accounting.DocCustomerInvoice)
}

func (l *Ledger) createPayment(in accounting.PaymentInput) (*accounting.Document, error) {
	j, ok := l.journals[in.Journal]
	if !ok {
		return nil, fmt.Errorf("%w: %s", accounting.ErrUnknownJournal, in.Journal)
	}
	if !j.outbound {
		return nil, fmt.Errorf("%w: %s", accounting.ErrNoOutboundMethod, in.Journal)
	}
	p, ok := l.partners[in.PartnerID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", accounting.ErrUnknownPartner, in.PartnerID)
	}
	currency := in.Currency
	if currency == "" {
		currency = l.base
	}
	amountBase, err := l.convert(in.Amount, currency, l.base)
	if err != nil {
		return nil, err
	}

	doc := &accounting.Document{
		ID:        uuid.New(),
		Type:      accounting.DocPayment,
		State:     accounting.DocStateDraft,
		PartnerID: in.PartnerID,
		Currency:  currency,
		Date:      in.Date,
		Journal:   in.Journal,
		Ref:       in.Ref,
	}
	payable, err := l.newLine(p.payable, in.PartnerID, in.Ref, amountBase, decimal.Zero, currency, in.Amount)
	if err != nil {
		return nil, err
	}
	bank, err := l.newLine(j.account, in.PartnerID, in.Ref, decimal.Zero, amountBase, currency, in.Amount.Neg())
	if err != nil {
		return nil, err
	}
	doc.Lines = append(doc.Lines, payable, bank)
	l.storeDoc(doc)
	return l.copyDoc(doc), nil
}

func (l *Ledger) CreatePayment(_ context.Context, in accounting.PaymentInput) (*accounting.Document, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.createPayment(in)
}

func (l *Ledger) RegisterPayment(_ context.Context, billID uuid.UUID, in accounting.PaymentInput) (*accounting.Document, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	bill, ok := l.docs[billID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", accounting.ErrNotFound, billID)
	}
	if bill.Type != accounting.DocVendorBill || bill.State != accounting.DocStatePosted {
		return nil, fmt.Errorf("%w: bill %s", accounting.ErrNotPosted, billID)
	}

	// Refuse before creating anything: a settled bill must not leave an
	// orphan posted payment behind.
	open := false
	for _, line := range bill.Lines {
		if line.Kind == accounting.AccountPayable && !line.Reconciled && line.Residual.IsPositive() {
			open = true
			break
		}
	}
	if !open {
		return nil, fmt.Errorf("%w: bill %s", accounting.ErrNothingToSettle, bill.Ref)
	}

	payment, err := l.createPayment(in)
	if err != nil {
		return nil, err
	}
	if err := l.post(payment.ID); err != nil {
		return nil, err
	}

	var lineIDs []uuid.UUID
	stored := l.docs[payment.ID]
	for _, line := range stored.Lines {
		if line.Kind == accounting.AccountPayable {
			lineIDs = append(lineIDs, line.ID)
		}
	}
	for _, line := range bill.Lines {
		if line.Kind == accounting.AccountPayable && !line.Reconciled {
			lineIDs = append(lineIDs, line.ID)
		}
	}
	if err := l.reconcile(lineIDs); err != nil {
		if cancelErr := l.cancel(payment.ID); cancelErr != nil {
			return nil, fmt.Errorf("%v: %w", cancelErr, err)
		}
		return nil, err
	}
	return l.copyDoc(stored), nil
}

func (l *Ledger) CreateEntry(_ context.Context, in accounting.EntryInput) (*accounting.Document, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.journals[in.Journal]; !ok {
		return nil, fmt.Errorf("%w: %s", accounting.ErrUnknownJournal, in.Journal)
	}
	doc := &accounting.Document{
		ID:      uuid.New(),
		Type:    accounting.DocJournalEntry,
		State:   accounting.DocStateDraft,
		Date:    in.Date,
		Journal: in.Journal,
		Ref:     in.Ref,
	}
	for _, el := range in.Lines {
		line, err := l.newLine(el.Account, el.PartnerID, el.Label, el.Debit, el.Credit, el.Currency, el.AmountCurrency)
		if err != nil {
			return nil, err
		}
		doc.Lines = append(doc.Lines, line)
	}
	l.storeDoc(doc)
	return l.copyDoc(doc), nil
}

func (l *Ledger) post(docID uuid.UUID) error {
	doc, ok := l.docs[docID]
	if !ok {
		return fmt.Errorf("%w: %s", accounting.ErrNotFound, docID)
	}
	if doc.State == accounting.DocStatePosted {
		return accounting.ErrAlreadyPosted
	}

	debits, credits := decimal.Zero, decimal.Zero
	for _, line := range doc.Lines {
		debits = debits.Add(line.Debit)
		credits = credits.Add(line.Credit)
	}
	if !debits.Sub(credits).Abs().LessThanOrEqual(decimal.New(1, -2)) {
		return fmt.Errorf("%w: debit %s vs credit %s", accounting.ErrUnbalanced, debits, credits)
	}

	doc.State = accounting.DocStatePosted
	for i := range doc.Lines {
		line := &doc.Lines[i]
		if line.Kind == accounting.AccountReceivable || line.Kind == accounting.AccountPayable {
			line.Residual = line.Debit.Add(line.Credit)
			if line.Currency != "" {
				line.ResidualCurrency = line.AmountCurrency.Abs()
			}
		}
	}
	return nil
}

func (l *Ledger) Post(_ context.Context, docID uuid.UUID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.post(docID)
}

// cancel voids the document and returns whatever its lines had settled
// back to the counterparty lines, so cancelling a reconciled entry
// restores the residuals it consumed.
func (l *Ledger) cancel(docID uuid.UUID) error {
	doc, ok := l.docs[docID]
	if !ok {
		return fmt.Errorf("%w: %s", accounting.ErrNotFound, docID)
	}

	owned := map[uuid.UUID]bool{}
	for _, line := range doc.Lines {
		owned[line.ID] = true
	}
	for _, ev := range l.settlements {
		l.unwind(owned, ev.debits, ev.credits)
		l.unwind(owned, ev.credits, ev.debits)
	}

	doc.State = accounting.DocStateCancelled
	for i := range doc.Lines {
		doc.Lines[i].Residual = decimal.Zero
		doc.Lines[i].ResidualCurrency = decimal.Zero
		doc.Lines[i].Reconciled = false
	}
	return nil
}

// unwind releases the settled amounts the cancelled document's lines
// contributed on one side of an event and gives them back to the other
// side.
func (l *Ledger) unwind(owned map[uuid.UUID]bool, side, counter []settlementTake) {
	released := decimal.Zero
	for i := range side {
		if owned[side[i].lineID] && side[i].amount.IsPositive() {
			released = released.Add(side[i].amount)
			side[i].amount = decimal.Zero
		}
	}
	for i := range counter {
		if !released.IsPositive() {
			return
		}
		if !counter[i].amount.IsPositive() {
			continue
		}
		back := decimal.Min(released, counter[i].amount)
		counter[i].amount = counter[i].amount.Sub(back)
		released = released.Sub(back)
		l.restoreLine(counter[i].lineID, back)
	}
}

// restoreLine adds amount back to a line's residual, unless its own
// document has been cancelled in the meantime.
func (l *Ledger) restoreLine(lineID uuid.UUID, amount decimal.Decimal) {
	docID, ok := l.lineDoc[lineID]
	if !ok {
		return
	}
	doc := l.docs[docID]
	if doc.State != accounting.DocStatePosted {
		return
	}
	for i := range doc.Lines {
		line := &doc.Lines[i]
		if line.ID != lineID {
			continue
		}
		line.Residual = line.Residual.Add(amount)
		line.Reconciled = false
		if line.Currency != "" {
			full := line.Debit.Add(line.Credit)
			if full.IsPositive() {
				line.ResidualCurrency = line.AmountCurrency.Abs().
					Mul(line.Residual).DivRound(full, 2)
			}
		}
		return
	}
}

func (l *Ledger) Cancel(_ context.Context, docID uuid.UUID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cancel(docID)
}

func (l *Ledger) Document(_ context.Context, docID uuid.UUID) (*accounting.Document, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	doc, ok := l.docs[docID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", accounting.ErrNotFound, docID)
	}
	return l.copyDoc(doc), nil
}

func (l *Ledger) AppendNote(_ context.Context, docID uuid.UUID, note string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	doc, ok := l.docs[docID]
	if !ok {
		return fmt.Errorf("%w: %s", accounting.ErrNotFound, docID)
	}
	doc.Notes = append(doc.Notes, note)
	return nil
}

func (l *Ledger) reconcile(lineIDs []uuid.UUID) error {
	type ref struct {
		doc  *accounting.Document
		line *accounting.Line
	}
	var debitRefs, creditRefs []ref
	account, partner := "", uuid.Nil

	for _, id := range lineIDs {
		docID, ok := l.lineDoc[id]
		if !ok {
			return fmt.Errorf("%w: line %s", accounting.ErrNotFound, id)
		}
		doc := l.docs[docID]
		if doc.State != accounting.DocStatePosted {
			return fmt.Errorf("%w: %s", accounting.ErrNotPosted, docID)
		}
		var line *accounting.Line
		for i := range doc.Lines {
			if doc.Lines[i].ID == id {
				line = &doc.Lines[i]
				break
			}
		}
		if account == "" {
			account, partner = line.Account, line.PartnerID
		} else if line.Account != account || line.PartnerID != partner {
			return accounting.ErrMixedLines
		}
		if line.Debit.IsPositive() {
			debitRefs = append(debitRefs, ref{doc, line})
		} else {
			creditRefs = append(creditRefs, ref{doc, line})
		}
	}

	sum := func(refs []ref) decimal.Decimal {
		total := decimal.Zero
		for _, r := range refs {
			total = total.Add(r.line.Residual)
		}
		return total
	}
	settle := decimal.Min(sum(debitRefs), sum(creditRefs))
	if !settle.IsPositive() {
		return accounting.ErrNothingToSettle
	}

	apply := func(refs []ref, amount decimal.Decimal) []settlementTake {
		var takes []settlementTake
		for _, r := range refs {
			if !amount.IsPositive() {
				break
			}
			take := decimal.Min(amount, r.line.Residual)
			if !take.IsPositive() {
				continue
			}
			r.line.Residual = r.line.Residual.Sub(take)
			if r.line.Currency != "" {
				full := r.line.Debit.Add(r.line.Credit)
				if full.IsPositive() {
					r.line.ResidualCurrency = r.line.AmountCurrency.Abs().
						Mul(r.line.Residual).DivRound(full, 2)
				}
			}
			if r.line.Residual.IsZero() {
				r.line.Reconciled = true
				r.line.ResidualCurrency = decimal.Zero
			}
			takes = append(takes, settlementTake{lineID: r.line.ID, amount: take})
			amount = amount.Sub(take)
		}
		return takes
	}
	l.settlements = append(l.settlements, &settlementEvent{
		debits:  apply(debitRefs, settle),
		credits: apply(creditRefs, settle),
	})
	return nil
}

func (l *Ledger) Reconcile(_ context.Context, lineIDs []uuid.UUID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reconcile(lineIDs)
}

func (l *Ledger) copyDoc(doc *accounting.Document) *accounting.Document {
	out := *doc
	out.Lines = make([]accounting.Line, len(doc.Lines))
	copy(out.Lines, doc.Lines)
	out.Notes = make([]string, len(doc.Notes))
	copy(out.Notes, doc.Notes)
	return &out
}
