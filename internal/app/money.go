package app

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var moneyPrinter = message.NewPrinter(language.AmericanEnglish)

// formatUSD renders a cost-ledger total as a locale-formatted currency
// string (thousands separators, fixed four-decimal USD precision — task
// costs are frequently sub-cent) for the thin task API's response body.
func formatUSD(usd float64) string {
	return moneyPrinter.Sprintf("$%.4f", usd)
}
