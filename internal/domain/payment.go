package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentMethod identifies how a declaration is settled.
type PaymentMethod string

const (
	MethodCash        PaymentMethod = "cash"
	MethodMobileMoney PaymentMethod = "mobile_money"
	MethodBankDeposit PaymentMethod = "bank_deposit"
	MethodCheque      PaymentMethod = "cheque"
	MethodCard        PaymentMethod = "card"
)

// PaymentMethodSpec lists the auxiliary fields a method requires.
type PaymentMethodSpec struct {
	Method         PaymentMethod `json:"method"`
	Label          string        `json:"label"`
	RequiredFields []string      `json:"requiredFields"`
}

var paymentMethods = []PaymentMethodSpec{
	{Method: MethodCash, Label: "Espèces"},
	{Method: MethodMobileMoney, Label: "Mobile money", RequiredFields: []string{"operator", "transaction_number"}},
	{Method: MethodBankDeposit, Label: "Dépôt bancaire", RequiredFields: []string{"bank_name", "deposit_slip_number"}},
	{Method: MethodCheque, Label: "Chèque", RequiredFields: []string{"bank_name", "cheque_number", "drawer_name"}},
	{Method: MethodCard, Label: "Carte bancaire", RequiredFields: []string{"card_token"}},
}

// PaymentMethods returns the supported methods in display order.
func PaymentMethods() []PaymentMethodSpec {
	out := make([]PaymentMethodSpec, len(paymentMethods))
	copy(out, paymentMethods)
	return out
}

// LookupPaymentMethod returns the definition of m.
func LookupPaymentMethod(m PaymentMethod) (PaymentMethodSpec, bool) {
	for _, s := range paymentMethods {
		if s.Method == m {
			return s, true
		}
	}
	return PaymentMethodSpec{}, false
}

// MissingFields returns the required auxiliary fields absent or blank in fields.
func (s PaymentMethodSpec) MissingFields(fields map[string]string) []string {
	var missing []string
	for _, name := range s.RequiredFields {
		if strings.TrimSpace(fields[name]) == "" {
			missing = append(missing, name)
		}
	}
	return missing
}

// PaymentRequest is sent to a payment processor.
type PaymentRequest struct {
	DeclarationID        string            `json:"declarationId"`
	DeclarationReference string            `json:"declarationReference"`
	TaxpayerID           string            `json:"taxpayerId"`
	Method               PaymentMethod     `json:"method"`
	Amount               decimal.Decimal   `json:"amount"`
	Penalties            decimal.Decimal   `json:"penalties"`
	Fields               map[string]string `json:"fields,omitempty"`
}

// Total is the amount due plus penalties.
func (r *PaymentRequest) Total() decimal.Decimal {
	return r.Amount.Add(r.Penalties)
}

// Payment is a recorded settlement of a declaration.
type Payment struct {
	ID            string            `json:"id"`
	Reference     string            `json:"reference"`
	DeclarationID string            `json:"declarationId"`
	Method        PaymentMethod     `json:"method"`
	Amount        decimal.Decimal   `json:"amount"`
	Penalties     decimal.Decimal   `json:"penalties"`
	Total         decimal.Decimal   `json:"total"`
	Fields        map[string]string `json:"fields,omitempty"`
	Provider      string            `json:"provider,omitempty"`
	ProviderRef   string            `json:"providerRef,omitempty"`
	PaidAt        time.Time         `json:"paidAt"`
}
