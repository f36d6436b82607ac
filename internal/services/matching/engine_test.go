package matching_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kevin07696/fee-reconciliation/internal/domain"
	"github.com/kevin07696/fee-reconciliation/internal/services/matching"
)

var institutionID = uuid.MustParse("11111111-1111-1111-1111-111111111111")

func activeIntegration() *domain.Integration {
	return &domain.Integration{
		ID:                uuid.MustParse("22222222-2222-2222-2222-222222222222"),
		InstitutionID:     institutionID,
		Provider:          domain.ProviderGeneric,
		Currency:          "KES",
		IsActive:          true,
		BankAccountActive: true,
	}
}

type recordOpts struct {
	name         string
	admission    string
	guardian     string
	phone        string
	billingRef   string
	balance      int64
	currency     string
	installments []domain.Installment
	institution  uuid.UUID
}

func studentRecord(o recordOpts) domain.StudentRecord {
	if o.currency == "" {
		o.currency = "KES"
	}
	if o.institution == uuid.Nil {
		o.institution = institutionID
	}
	studentID := uuid.New()
	acct := domain.FeeAccount{
		ID:               uuid.New(),
		InstitutionID:    o.institution,
		StudentID:        studentID,
		AccountNumber:    "FA-" + o.admission,
		Currency:         o.currency,
		TotalBilledMinor: o.balance,
		BalanceMinor:     o.balance,
	}
	due := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)
	rec := domain.StudentRecord{
		Student: domain.Student{
			ID:              studentID,
			InstitutionID:   o.institution,
			AdmissionNumber: o.admission,
			FullName:        o.name,
		},
		FeeAccount: acct,
	}
	if o.guardian != "" || o.phone != "" {
		rec.Guardians = []domain.Guardian{{ID: uuid.New(), StudentID: studentID, FullName: o.guardian, PhoneE164: o.phone}}
	}
	if o.billingRef != "" {
		rec.OpenInvoices = []domain.Invoice{{
			ID:               uuid.New(),
			InstitutionID:    o.institution,
			StudentID:        studentID,
			FeeAccountID:     acct.ID,
			BillingReference: o.billingRef,
			AmountMinor:      o.balance,
			BalanceMinor:     o.balance,
			Status:           domain.InvoiceStatusOpen,
			DueDate:          &due,
			Installments:     o.installments,
		}}
	}
	return rec
}

func paymentEvent(ref string, amount int64, phone, name string) *domain.PaymentEvent {
	ev := &domain.PaymentEvent{
		ID:            uuid.New(),
		IntegrationID: activeIntegration().ID,
		InstitutionID: institutionID,
		Provider:      domain.ProviderGeneric,
		Status:        domain.EventStatusQueued,
	}
	ev.ApplyNormalized(&domain.NormalizedPayment{
		ExternalReference: ref,
		Kind:              domain.EventKindPayment,
		AmountMinor:       amount,
		Currency:          "KES",
		SenderPhone:       phone,
		SenderName:        name,
	})
	return ev
}

func newEngine(cfg matching.Config) *matching.Engine {
	return matching.NewEngine(cfg, zap.NewNop())
}

func TestScore_ExactReferenceMatch(t *testing.T) {
	engine := newEngine(matching.DefaultConfig())
	rec := studentRecord(recordOpts{name: "Amani Otieno", admission: "4471", billingRef: "INV-2026-0042", balance: 4500000})
	ev := paymentEvent("INV-2026-0042", 4500000, "", "")

	res := engine.Score(ev, activeIntegration(), []domain.StudentRecord{rec})

	require.NotNil(t, res.Best)
	assert.Equal(t, domain.MatchStatusMatched, res.Status)
	assert.GreaterOrEqual(t, res.Confidence(), matching.DefaultConfig().Thresholds.High)
	assert.Equal(t, rec.OpenInvoices[0].ID, *res.Best.InvoiceID)
	assert.True(t, res.Best.Fired(domain.SignalReference))
	assert.True(t, res.Best.Fired(domain.SignalExactAmount))
	assert.False(t, res.Best.Fired(domain.SignalPartialAmount))
	assert.NoError(t, res.Err())
}

func TestScore_PhoneOnlyWithWrongAmount(t *testing.T) {
	engine := newEngine(matching.DefaultConfig())
	rec := studentRecord(recordOpts{
		name: "Amani Otieno", admission: "4471", guardian: "Grace Otieno",
		phone: "+254712345678", billingRef: "INV-2026-0042", balance: 4500000,
	})
	ev := paymentEvent("QKL3ABC123", 77700, "+254712345678", "")

	res := engine.Score(ev, activeIntegration(), []domain.StudentRecord{rec})

	require.NotNil(t, res.Best)
	assert.Equal(t, domain.MatchStatusPartialMatch, res.Status)
	assert.Less(t, res.Confidence(), matching.DefaultConfig().Thresholds.High)
	assert.True(t, res.Best.Fired(domain.SignalPhone))
	assert.False(t, res.Best.Fired(domain.SignalExactAmount))
	assert.True(t, domain.IsDomainError(res.Err(), domain.ErrorCodeAmbiguousCandidate))
}

func TestScore_UnknownSenderNoCandidates(t *testing.T) {
	engine := newEngine(matching.DefaultConfig())
	ev := paymentEvent("QKL3ABC123", 100000, "", "")

	res := engine.Score(ev, activeIntegration(), nil)

	assert.Equal(t, domain.MatchStatusUnmatched, res.Status)
	assert.Equal(t, 0.0, res.Confidence())
	assert.Empty(t, res.Detail.Candidates)
	assert.True(t, domain.IsDomainError(res.Err(), domain.ErrorCodeNoCandidateFound))
}

func TestScore_Deterministic(t *testing.T) {
	engine := newEngine(matching.DefaultConfig())
	pool := []domain.StudentRecord{
		studentRecord(recordOpts{name: "Amani Otieno", admission: "4471", guardian: "Grace Otieno", phone: "+254712345678", billingRef: "INV-1", balance: 50000}),
		studentRecord(recordOpts{name: "Baraka Otieno", admission: "4472", guardian: "Grace Otieno", phone: "+254712345678", billingRef: "INV-2", balance: 50000}),
		studentRecord(recordOpts{name: "Chebet Kirui", admission: "4473", guardian: "Paul Kirui", phone: "+254722000111", billingRef: "INV-3", balance: 20000}),
	}
	ev := paymentEvent("QKL3ABC123", 50000, "+254712345678", "Grace Otieno")

	first := engine.Score(ev, activeIntegration(), pool)
	for i := 0; i < 20; i++ {
		again := engine.Score(ev, activeIntegration(), pool)
		assert.Equal(t, first.Status, again.Status)
		assert.Equal(t, first.Detail.Candidates, again.Detail.Candidates)
	}
}

func TestScore_AmbiguousTopCandidatesAreHeld(t *testing.T) {
	cfg := matching.DefaultConfig()
	cfg.Thresholds = domain.MatchThresholds{High: 35, Low: 20, AmbiguityMargin: 5}
	engine := newEngine(cfg)

	pool := []domain.StudentRecord{
		studentRecord(recordOpts{name: "Amani Otieno", admission: "4471", guardian: "Grace Otieno", phone: "+254712345678", billingRef: "INV-1", balance: 50000}),
		studentRecord(recordOpts{name: "Baraka Otieno", admission: "4472", guardian: "Grace Otieno", phone: "+254712345678", billingRef: "INV-2", balance: 50000}),
	}
	ev := paymentEvent("QKL3ABC123", 50000, "+254712345678", "")

	res := engine.Score(ev, activeIntegration(), pool)

	require.Len(t, res.Detail.Candidates, 2)
	assert.Equal(t, res.Detail.Candidates[0].Score, res.Detail.Candidates[1].Score)
	assert.Equal(t, domain.MatchStatusPartialMatch, res.Status)
	assert.Contains(t, res.Reason, "ambiguous")
}

func TestScore_StructuralExceptions(t *testing.T) {
	engine := newEngine(matching.DefaultConfig())

	t.Run("inactive_integration", func(t *testing.T) {
		integ := activeIntegration()
		integ.IsActive = false
		rec := studentRecord(recordOpts{name: "Amani Otieno", admission: "4471", billingRef: "INV-2026-0042", balance: 4500000})

		res := engine.Score(paymentEvent("INV-2026-0042", 4500000, "", ""), integ, []domain.StudentRecord{rec})
		assert.Equal(t, domain.MatchStatusException, res.Status)
		assert.NotEmpty(t, res.Detail.Candidates)
		assert.True(t, domain.IsDomainError(res.Err(), domain.ErrorCodeStructuralException))
	})

	t.Run("inactive_bank_account", func(t *testing.T) {
		integ := activeIntegration()
		integ.BankAccountActive = false

		res := engine.Score(paymentEvent("INV-1", 100, "", ""), integ, nil)
		assert.Equal(t, domain.MatchStatusException, res.Status)
	})

	t.Run("currency_mismatch", func(t *testing.T) {
		rec := studentRecord(recordOpts{name: "Amani Otieno", admission: "4471", billingRef: "INV-2026-0042", balance: 4500000, currency: "USD"})

		res := engine.Score(paymentEvent("INV-2026-0042", 4500000, "", ""), activeIntegration(), []domain.StudentRecord{rec})
		assert.Equal(t, domain.MatchStatusException, res.Status)
		assert.Contains(t, res.Reason, "currency")
	})

	t.Run("implausible_amount", func(t *testing.T) {
		rec := studentRecord(recordOpts{name: "Amani Otieno", admission: "4471", billingRef: "INV-2026-0042", balance: 10000})

		res := engine.Score(paymentEvent("INV-2026-0042", 1000000, "", ""), activeIntegration(), []domain.StudentRecord{rec})
		assert.Equal(t, domain.MatchStatusException, res.Status)
		assert.Contains(t, res.Reason, "exceeds")
	})
}

func TestScore_IgnoresOtherInstitutions(t *testing.T) {
	engine := newEngine(matching.DefaultConfig())
	foreign := studentRecord(recordOpts{
		name: "Amani Otieno", admission: "4471", billingRef: "INV-2026-0042", balance: 4500000, institution: uuid.New(),
	})

	res := engine.Score(paymentEvent("INV-2026-0042", 4500000, "", ""), activeIntegration(), []domain.StudentRecord{foreign})
	assert.Equal(t, domain.MatchStatusUnmatched, res.Status)
	assert.Empty(t, res.Detail.Candidates)
}

func TestScore_ReferenceTypoEarnsPartialWeight(t *testing.T) {
	engine := newEngine(matching.DefaultConfig())
	rec := studentRecord(recordOpts{name: "Amani Otieno", admission: "4471", billingRef: "INV-2026-0042", balance: 4500000})

	res := engine.Score(paymentEvent("INV-2026-0043", 4500000, "", ""), activeIntegration(), []domain.StudentRecord{rec})

	require.NotNil(t, res.Best)
	var ref domain.SignalHit
	for _, s := range res.Best.Signals {
		if s.Name == domain.SignalReference {
			ref = s
		}
	}
	assert.Equal(t, 0.5, ref.Fraction)
	assert.Equal(t, 22.5, ref.Points)
	assert.Equal(t, 37.5, res.Confidence())
	assert.Equal(t, domain.MatchStatusPartialMatch, res.Status)
}

func TestScore_InstallmentAmount(t *testing.T) {
	engine := newEngine(matching.DefaultConfig())
	rec := studentRecord(recordOpts{
		name: "Amani Otieno", admission: "4471", billingRef: "INV-2026-0042", balance: 3000000,
		installments: []domain.Installment{
			{Sequence: 1, AmountMinor: 1000000, PaidMinor: 1000000, Status: domain.InvoiceStatusPaid},
			{Sequence: 2, AmountMinor: 1000000, Status: domain.InvoiceStatusOpen},
		},
	})

	res := engine.Score(paymentEvent("INV-2026-0042", 1000000, "", ""), activeIntegration(), []domain.StudentRecord{rec})

	require.NotNil(t, res.Best)
	assert.True(t, res.Best.Fired(domain.SignalPartialAmount))
	assert.Equal(t, 50.0, res.Confidence())
}

func TestScore_AccountLevelCandidateWithoutInvoices(t *testing.T) {
	engine := newEngine(matching.DefaultConfig())
	rec := studentRecord(recordOpts{name: "Amani Otieno", admission: "4471", balance: 20000})

	res := engine.Score(paymentEvent("4471", 20000, "", ""), activeIntegration(), []domain.StudentRecord{rec})

	require.NotNil(t, res.Best)
	assert.Nil(t, res.Best.InvoiceID)
	assert.Equal(t, rec.FeeAccount.ID, res.Best.FeeAccountID)
	assert.Equal(t, 60.0, res.Confidence())
	assert.Equal(t, domain.MatchStatusMatched, res.Status)
}

func TestScore_StudentWithoutFeeAccountIsException(t *testing.T) {
	engine := newEngine(matching.DefaultConfig())
	rec := studentRecord(recordOpts{name: "Baraka Kamau", admission: "5520", guardian: "Ruth Kamau", phone: "+254733000111"})
	rec.FeeAccount = domain.FeeAccount{}

	res := engine.Score(paymentEvent("5520", 100000, "+254733000111", ""), activeIntegration(), []domain.StudentRecord{rec})

	require.NotNil(t, res.Best)
	assert.GreaterOrEqual(t, res.Confidence(), matching.DefaultConfig().Thresholds.High)
	assert.Equal(t, uuid.Nil, res.Best.FeeAccountID)
	assert.Equal(t, domain.MatchStatusException, res.Status)
	assert.Contains(t, res.Reason, matching.ReasonNoFeeAccount)
	assert.True(t, domain.IsDomainError(res.Err(), domain.ErrorCodeStructuralException))
}

type fakeDirectory struct {
	pool    []domain.StudentRecord
	queries []domain.CandidateQuery
}

func (f *fakeDirectory) GetIntegration(ctx context.Context, id uuid.UUID) (*domain.Integration, error) {
	return activeIntegration(), nil
}

func (f *fakeDirectory) FindCandidates(ctx context.Context, q domain.CandidateQuery) ([]domain.StudentRecord, error) {
	f.queries = append(f.queries, q)
	return f.pool, nil
}

func (f *fakeDirectory) GetFeeAccount(ctx context.Context, id uuid.UUID) (*domain.FeeAccount, error) {
	return nil, domain.ErrFeeAccountNotFound
}

func (f *fakeDirectory) GetInvoice(ctx context.Context, id uuid.UUID) (*domain.Invoice, error) {
	return nil, domain.ErrInvoiceNotFound
}

func TestMatch_ScopesQueryToIntegrationInstitution(t *testing.T) {
	engine := newEngine(matching.DefaultConfig())
	dir := &fakeDirectory{}
	ev := paymentEvent("INV-2026-0042", 4500000, "+254712345678", "Grace Otieno")
	ev.InstitutionID = uuid.New()

	_, err := engine.Match(context.Background(), dir, activeIntegration(), ev)
	require.NoError(t, err)

	require.Len(t, dir.queries, 1)
	q := dir.queries[0]
	assert.Equal(t, institutionID, q.InstitutionID)
	assert.Equal(t, []string{"INV20260042"}, q.References)
	assert.Equal(t, "+254712345678", q.Phone)
	assert.Equal(t, []string{"grace", "otieno"}, q.NameTokens)
}

func TestMatch_RequiresNormalizedEvent(t *testing.T) {
	engine := newEngine(matching.DefaultConfig())
	ev := &domain.PaymentEvent{ID: uuid.New()}

	_, err := engine.Match(context.Background(), &fakeDirectory{}, activeIntegration(), ev)
	assert.True(t, domain.IsValidationError(err))
}
