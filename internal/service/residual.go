package service

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/marcoshache/grain-canje-triangular/internal/accounting"
)

// documentResidual returns a document's outstanding balance expressed
// in the requested currency, always positive. An empty currency means
// the base currency.
//
// When the document's receivable/payable lines already carry a residual
// in a requested foreign currency it is used directly; otherwise the
// base-currency residual is converted at the document's date. Lines in
// the base currency carry no auxiliary residual, so a base-currency
// request always takes the base branch.
func documentResidual(ctx context.Context, ledger accounting.Ledger, doc *accounting.Document, currency string) (decimal.Decimal, error) {
	base := ledger.BaseCurrency()
	if currency == "" {
		currency = base
	}

	residualBase := decimal.Zero
	inCurrency := decimal.Zero
	linesInCurrency := false

	for _, line := range doc.Lines {
		if line.Kind != accounting.AccountReceivable && line.Kind != accounting.AccountPayable {
			continue
		}
		residualBase = residualBase.Add(line.Residual)
		if currency != base && line.Currency == currency {
			linesInCurrency = true
			inCurrency = inCurrency.Add(line.ResidualCurrency)
		}
	}

	if linesInCurrency {
		return inCurrency.Abs(), nil
	}
	if currency == base {
		return residualBase.Abs(), nil
	}
	converted, err := ledger.Convert(ctx, residualBase.Abs(), base, currency, doc.Date)
	if err != nil {
		return decimal.Zero, err
	}
	return converted, nil
}
