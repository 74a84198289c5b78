package money

import (
	"fmt"
	"strings"
)

// ChargeDescription formats the two human-readable strings recorded for a
// charge: one for the payer's receipt and payment history, one for internal
// accounting. Pure formatting; its fields are assembled by the commands from
// the charge and the buyable's current contents.
type ChargeDescription struct {
	AmountCents AmountCents
	Currency    CurrencyCode
	Instalment  bool
	Target      string
}

// ForUsers is displayed on the payer's payment history and receipt email,
// like "$50.00 USD Instalment for Adult member 42".
func (description ChargeDescription) ForUsers() string {
	return truncateComment(strings.Join([]string{
		formatAmountCents(description.AmountCents, description.Currency),
		description.action(),
		"for",
		description.Target,
	}, " "))
}

// ForAccounts is the description submitted with the provider charge for
// internal bookkeeping.
func (description ChargeDescription) ForAccounts() string {
	return truncateComment(fmt.Sprintf("%s charge of %s for %s",
		description.action(),
		formatAmountCents(description.AmountCents, description.Currency),
		description.Target,
	))
}

func (description ChargeDescription) action() string {
	if description.Instalment {
		return "Instalment"
	}
	return "Paid"
}

func formatAmountCents(amount AmountCents, currency CurrencyCode) string {
	cents := amount.Int64()
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s$%d.%02d %s", sign, cents/100, cents%100, currency.Display())
}

func truncateComment(comment string) string {
	if len(comment) <= maxCommentLength {
		return comment
	}
	return comment[:maxCommentLength]
}
