package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Receipt is the printable union of a declaration and its optional payment.
// Preview is true when no payment has been recorded yet.
type Receipt struct {
	Number               string          `json:"number"`
	DeclarationID        string          `json:"declarationId"`
	DeclarationReference string          `json:"declarationReference"`
	Issuer               string          `json:"issuer"`
	IssuedAt             time.Time       `json:"issuedAt"`
	Taxpayer             Taxpayer        `json:"taxpayer"`
	TaxTypeName          string          `json:"taxTypeName"`
	Amount               decimal.Decimal `json:"amount"`
	Penalties            decimal.Decimal `json:"penalties"`
	Total                decimal.Decimal `json:"total"`
	Payment              *Payment        `json:"payment,omitempty"`
	Cards                []Card          `json:"cards"`
	Preview              bool            `json:"preview"`
}

// Card is one ID-card sized document, one per declaration form.
type Card struct {
	Index int       `json:"index"`
	Recto CardRecto `json:"recto"`
	Verso CardVerso `json:"verso"`
}

// CardRecto is the identity face.
type CardRecto struct {
	HolderName string `json:"holderName"`
	Address    string `json:"address,omitempty"`
	Plate      string `json:"plate"`
	QRPayload  string `json:"qrPayload"`
	IssueDate  string `json:"issueDate"`
	Amount     string `json:"amount"`
}

// CardVerso carries the vehicle attributes and signature block.
type CardVerso struct {
	Attributes []Attribute `json:"attributes"`
	Signatory  string      `json:"signatory"`
	Reference  string      `json:"reference"`
}

// Attribute is a label/value line on the verso.
type Attribute struct {
	Label string `json:"label"`
	Value string `json:"value"`
}
