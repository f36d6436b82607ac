package domain

import (
	"github.com/google/uuid"
)

// Integration is a provider channel configured for one institution.
// It is the only source of an event's institution.
type Integration struct {
	Name              string    `json:"name"`
	Provider          Provider  `json:"provider"`
	Currency          string    `json:"currency"`
	ID                uuid.UUID `json:"id"`
	InstitutionID     uuid.UUID `json:"institution_id"`
	BankAccountID     uuid.UUID `json:"bank_account_id"`
	IsActive          bool      `json:"is_active"`
	BankAccountActive bool      `json:"bank_account_active"`
}

// Student is a read-only directory entry
type Student struct {
	AdmissionNumber string    `json:"admission_number"`
	FullName        string    `json:"full_name"`
	ID              uuid.UUID `json:"id"`
	InstitutionID   uuid.UUID `json:"institution_id"`
}

// Guardian is a registered contact for a student
type Guardian struct {
	FullName  string    `json:"full_name"`
	PhoneE164 string    `json:"phone_e164"`
	ID        uuid.UUID `json:"id"`
	StudentID uuid.UUID `json:"student_id"`
}

// StudentRecord is everything the matcher needs about one candidate student
type StudentRecord struct {
	Guardians    []Guardian `json:"guardians"`
	OpenInvoices []Invoice  `json:"open_invoices"`
	Student      Student    `json:"student"`
	FeeAccount   FeeAccount `json:"fee_account"`
}

// MaxCandidateStudents bounds one candidate lookup. Students sharing a
// reference come first, then a guardian phone, then only a name token.
const MaxCandidateStudents = 100

// CandidateHit is the strongest identity signal a student shares with a
// query. Lower values rank first.
type CandidateHit int

const (
	CandidateHitReference CandidateHit = iota
	CandidateHitPhone
	CandidateHitName
	CandidateHitNone
)

// CandidateQuery selects students that share an identity signal with an event
type CandidateQuery struct {
	References    []string // ReferenceKey-folded
	Phone         string   // E.164
	NameTokens    []string // lower-case
	InstitutionID uuid.UUID
}

// IsEmpty returns true when no identity signal is available
func (q CandidateQuery) IsEmpty() bool {
	return len(q.References) == 0 && q.Phone == "" && len(q.NameTokens) == 0
}
