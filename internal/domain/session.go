package domain

import (
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
)

// Step is the wizard position.
type Step int

const (
	StepIdentification Step = 1
	StepTaxSelection   Step = 2
	StepDeclaration    Step = 3
	StepSummary        Step = 4
)

func (s Step) String() string {
	switch s {
	case StepIdentification:
		return "identification"
	case StepTaxSelection:
		return "tax_selection"
	case StepDeclaration:
		return "declaration"
	case StepSummary:
		return "summary"
	default:
		return "unknown"
	}
}

// Operator is an authenticated portal agent.
type Operator struct {
	ID           string `json:"id" yaml:"id"`
	Name         string `json:"name" yaml:"name"`
	SiteCode     string `json:"siteCode,omitempty" yaml:"site_code,omitempty"`
	Formula      string `json:"formula,omitempty" yaml:"formula,omitempty"`
	PasswordHash string `json:"-" yaml:"password_hash"`
}

// Amount sources, in priority order.
const (
	AmountFromOperatorFormula = "operator_formula"
	AmountFromTaxTypeFormula  = "tax_type_formula"
	AmountFromDefault         = "default"
)

// Session is the in-memory state of one wizard run. It is owned by a single
// request at a time; callers serialize through TryAcquire/Release.
type Session struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	Step     Step      `json:"step"`
	Operator *Operator `json:"operator,omitempty"`

	Taxpayer *Taxpayer     `json:"taxpayer,omitempty"`
	TaxTypes []TaxType     `json:"-"`
	History  []Declaration `json:"-"`

	TaxType            *TaxType            `json:"taxType,omitempty"`
	DeclarationCount   int                 `json:"declarationCount"`
	PlateLookupPending bool                `json:"plateLookupPending,omitempty"`
	Forms              []DeclarationForm   `json:"forms"`
	Errors             []map[string]string `json:"errors,omitempty"`

	Amount       decimal.Decimal `json:"amount"`
	AmountSource string          `json:"amountSource,omitempty"`

	Declaration *Declaration `json:"declaration,omitempty"`
	Payment     *Payment     `json:"payment,omitempty"`
	Completed   bool         `json:"completed,omitempty"`
	LastError   string       `json:"lastError,omitempty"`

	mu        sync.Mutex
	committed atomic.Pointer[Session]
}

// NewSession returns a session at step 1.
func NewSession(id string, op *Operator, now time.Time) *Session {
	return &Session{
		ID:        id,
		CreatedAt: now,
		UpdatedAt: now,
		Step:      StepIdentification,
		Operator:  op,
	}
}

// TryAcquire claims the session for one request.
func (s *Session) TryAcquire() bool {
	return s.mu.TryLock()
}

// Release frees the session claimed by TryAcquire.
func (s *Session) Release() {
	s.mu.Unlock()
}

// Commit records the current state as the one readers see. Call it while
// holding the claim.
func (s *Session) Commit() {
	s.committed.Store(s.clone())
}

// Committed returns the state recorded by the last Commit, or nil.
// It never blocks on the claim and must not be mutated.
func (s *Session) Committed() *Session {
	return s.committed.Load()
}

func (s *Session) clone() *Session {
	c := &Session{
		ID:                 s.ID,
		CreatedAt:          s.CreatedAt,
		UpdatedAt:          s.UpdatedAt,
		Step:               s.Step,
		Operator:           s.Operator,
		TaxTypes:           slices.Clone(s.TaxTypes),
		History:            slices.Clone(s.History),
		DeclarationCount:   s.DeclarationCount,
		PlateLookupPending: s.PlateLookupPending,
		Amount:             s.Amount,
		AmountSource:       s.AmountSource,
		Completed:          s.Completed,
		LastError:          s.LastError,
	}
	if s.Taxpayer != nil {
		tp := *s.Taxpayer
		c.Taxpayer = &tp
	}
	if s.TaxType != nil {
		tt := *s.TaxType
		c.TaxType = &tt
	}
	if s.Declaration != nil {
		d := *s.Declaration
		c.Declaration = &d
	}
	if s.Payment != nil {
		p := *s.Payment
		p.Fields = maps.Clone(p.Fields)
		c.Payment = &p
	}
	if s.Forms != nil {
		c.Forms = make([]DeclarationForm, len(s.Forms))
		for i, f := range s.Forms {
			c.Forms[i] = f.Clone()
		}
	}
	if s.Errors != nil {
		c.Errors = make([]map[string]string, len(s.Errors))
		for i, m := range s.Errors {
			c.Errors[i] = maps.Clone(m)
		}
	}
	return c
}

// Reset discards everything collected so far and returns to step 1.
// The session id and operator survive.
func (s *Session) Reset() {
	s.Step = StepIdentification
	s.Taxpayer = nil
	s.TaxTypes = nil
	s.History = nil
	s.TaxType = nil
	s.DeclarationCount = 0
	s.PlateLookupPending = false
	s.Forms = nil
	s.Errors = nil
	s.Amount = decimal.Zero
	s.AmountSource = ""
	s.Declaration = nil
	s.Payment = nil
	s.Completed = false
	s.LastError = ""
}

// FieldErrors flattens the per-form error maps.
func (s *Session) FieldErrors() []FieldError {
	var out []FieldError
	for i, m := range s.Errors {
		for path, msg := range m {
			out = append(out, FieldError{Form: i, Path: path, Message: msg})
		}
	}
	return out
}

// SetFieldErrors replaces the session's per-form errors.
func (s *Session) SetFieldErrors(errs []FieldError) {
	s.Errors = make([]map[string]string, len(s.Forms))
	for i := range s.Errors {
		s.Errors[i] = map[string]string{}
	}
	for _, e := range errs {
		if e.Form < 0 || e.Form >= len(s.Errors) {
			continue
		}
		s.Errors[e.Form][e.Path] = e.Message
	}
}

// ClearFieldError drops the error recorded for one field of one form.
func (s *Session) ClearFieldError(form int, path string) {
	if form < 0 || form >= len(s.Errors) {
		return
	}
	delete(s.Errors[form], path)
}
