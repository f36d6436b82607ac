package matching

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kevin07696/fee-reconciliation/internal/domain"
	"github.com/kevin07696/fee-reconciliation/internal/domain/ports"
	"github.com/kevin07696/fee-reconciliation/internal/services/normalize"
)

// candidateNameTokenMinLen keeps candidate search from matching initials
const candidateNameTokenMinLen = 3

// ReasonNoFeeAccount prefixes the exception raised when the best candidate
// student has nothing to credit
const ReasonNoFeeAccount = "no_fee_account"

// Result is the outcome of one matching attempt
type Result struct {
	Best   *domain.MatchCandidate
	Detail *domain.MatchDetail
	Status domain.MatchStatus
	Reason string
}

// Confidence returns the best candidate's score, or zero
func (r *Result) Confidence() float64 {
	if r.Best == nil {
		return 0
	}
	return r.Best.Score
}

// Err maps a non-matched outcome to its retryable domain error
func (r *Result) Err() error {
	switch r.Status {
	case domain.MatchStatusUnmatched:
		return domain.NewDomainError(domain.ErrorCodeNoCandidateFound, r.Reason)
	case domain.MatchStatusPartialMatch:
		return domain.NewDomainError(domain.ErrorCodeAmbiguousCandidate, r.Reason)
	case domain.MatchStatusException:
		return domain.NewDomainError(domain.ErrorCodeStructuralException, r.Reason)
	}
	return nil
}

// Engine scores events against the candidate pool of the owning institution
type Engine struct {
	cfg    Config
	logger *zap.Logger
	now    func() time.Time
}

// NewEngine creates a matching engine
func NewEngine(cfg Config, logger *zap.Logger) *Engine {
	return &Engine{cfg: cfg, logger: logger, now: time.Now}
}

// Config returns the weights and bands the engine scores with
func (e *Engine) Config() Config {
	return e.cfg
}

// Query builds the candidate search for ev. The institution always comes
// from the integration, never from the payload.
func Query(integration *domain.Integration, ev *domain.PaymentEvent) domain.CandidateQuery {
	q := domain.CandidateQuery{InstitutionID: integration.InstitutionID}
	if n := ev.NormalizedPayload; n != nil {
		q.References = n.References()
		q.Phone = n.SenderPhone
		q.NameTokens = normalize.NameTokens(n.SenderName, candidateNameTokenMinLen)
	}
	return q
}

// Match loads the candidate pool and scores it. Nothing is cached between attempts.
func (e *Engine) Match(ctx context.Context, dir ports.DirectoryRepository, integration *domain.Integration, ev *domain.PaymentEvent) (*Result, error) {
	if ev.NormalizedPayload == nil {
		return nil, domain.NewDomainError(domain.ErrorCodeValidationFailed, "event has not been normalized")
	}

	var pool []domain.StudentRecord
	q := Query(integration, ev)
	if !q.IsEmpty() {
		var err error
		pool, err = dir.FindCandidates(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("find candidates: %w", err)
		}
	}

	res := e.Score(ev, integration, pool)

	e.logger.Debug("Scored payment event",
		zap.String("event_id", ev.ID.String()),
		zap.Int("pool_size", len(pool)),
		zap.Int("candidates", len(res.Detail.Candidates)),
		zap.String("outcome", string(res.Status)),
		zap.Float64("confidence", res.Confidence()),
	)
	return res, nil
}

// Score is the deterministic core: identical event and pool give identical
// scores and ranking
func (e *Engine) Score(ev *domain.PaymentEvent, integration *domain.Integration, pool []domain.StudentRecord) *Result {
	n := ev.NormalizedPayload
	detail := &domain.MatchDetail{
		EvaluatedAt: e.now().UTC(),
		Weights:     e.cfg.Weights,
		Thresholds:  e.cfg.Thresholds,
	}

	var candidates []domain.MatchCandidate
	if n != nil {
		eventRefs := n.References()
		for i := range pool {
			rec := &pool[i]
			if rec.Student.InstitutionID != integration.InstitutionID {
				continue
			}
			for _, c := range e.scoreRecord(n, eventRefs, rec) {
				if c.Score > 0 {
					candidates = append(candidates, c)
				}
			}
		}
	}
	rank(candidates)
	if e.cfg.MaxCandidates > 0 && len(candidates) > e.cfg.MaxCandidates {
		candidates = candidates[:e.cfg.MaxCandidates]
	}
	detail.Candidates = candidates

	res := &Result{Detail: detail}
	if len(candidates) > 0 {
		res.Best = &detail.Candidates[0]
	}
	res.Status, res.Reason = e.decide(ev, integration, candidates)
	detail.Outcome = res.Status
	detail.Reason = res.Reason
	return res
}

func (e *Engine) decide(ev *domain.PaymentEvent, integration *domain.Integration, candidates []domain.MatchCandidate) (domain.MatchStatus, string) {
	th := e.cfg.Thresholds

	if !integration.IsActive {
		return domain.MatchStatusException, "integration is inactive"
	}
	if !integration.BankAccountActive {
		return domain.MatchStatusException, "collection bank account is inactive"
	}
	if len(candidates) == 0 {
		return domain.MatchStatusUnmatched, "no candidate shares a reference, phone or name with the payer"
	}

	best := candidates[0]
	if best.Score < th.Low {
		return domain.MatchStatusUnmatched, fmt.Sprintf("best confidence %.2f below low threshold %.2f", best.Score, th.Low)
	}
	if best.FeeAccountID == uuid.Nil {
		return domain.MatchStatusException, fmt.Sprintf("%s: student %s has no fee account", ReasonNoFeeAccount, best.StudentName)
	}
	if best.Currency != "" && ev.Currency != "" && best.Currency != ev.Currency {
		return domain.MatchStatusException, fmt.Sprintf("payment currency %s does not match account currency %s", ev.Currency, best.Currency)
	}
	if limit := float64(best.BalanceMinor) * e.cfg.ImplausibleFactor; best.BalanceMinor > 0 && float64(ev.Amount()) > limit {
		return domain.MatchStatusException, fmt.Sprintf("amount %d exceeds %.1fx outstanding balance %d", ev.Amount(), e.cfg.ImplausibleFactor, best.BalanceMinor)
	}
	if best.Score < th.High {
		return domain.MatchStatusPartialMatch, fmt.Sprintf("best confidence %.2f below high threshold %.2f", best.Score, th.High)
	}
	for _, other := range candidates[1:] {
		if other.StudentID == best.StudentID {
			continue
		}
		if best.Score-other.Score < th.AmbiguityMargin {
			return domain.MatchStatusPartialMatch, fmt.Sprintf("ambiguous: %s and %s within %.2f", best.StudentName, other.StudentName, th.AmbiguityMargin)
		}
		break
	}
	return domain.MatchStatusMatched, fmt.Sprintf("confidence %.2f at or above high threshold %.2f", best.Score, th.High)
}

// scoreRecord yields one candidate per open invoice, or one account-level
// candidate when the student has nothing open
func (e *Engine) scoreRecord(n *domain.NormalizedPayment, eventRefs []string, rec *domain.StudentRecord) []domain.MatchCandidate {
	w := e.cfg.Weights

	names := make([]string, 0, len(rec.Guardians)+1)
	names = append(names, rec.Student.FullName)
	for _, g := range rec.Guardians {
		names = append(names, g.FullName)
	}
	phoneFrac, phoneEvidence := phoneSignal(n.SenderPhone, rec.Guardians)
	nameFrac, nameEvidence := nameSignal(n.SenderName, names)

	accountRefs := []labelledRef{
		{label: "account_number", key: domain.ReferenceKey(rec.FeeAccount.AccountNumber)},
		{label: "admission_number", key: domain.ReferenceKey(rec.Student.AdmissionNumber)},
	}

	build := func(inv *domain.Invoice) domain.MatchCandidate {
		c := domain.MatchCandidate{
			StudentID:     rec.Student.ID,
			FeeAccountID:  rec.FeeAccount.ID,
			StudentName:   rec.Student.FullName,
			AccountNumber: rec.FeeAccount.AccountNumber,
			Currency:      rec.FeeAccount.Currency,
			BalanceMinor:  rec.FeeAccount.BalanceMinor,
		}
		refs := accountRefs
		if inv != nil {
			id := inv.ID
			c.InvoiceID = &id
			c.DueDate = inv.DueDate
			c.BillingReference = inv.BillingReference
			refs = append([]labelledRef{{label: "billing_reference", key: domain.ReferenceKey(inv.BillingReference)}}, accountRefs...)
		}

		add := func(name string, weight, fraction float64, evidence string) {
			if fraction <= 0 || weight <= 0 {
				return
			}
			points := round2(weight * fraction)
			c.Signals = append(c.Signals, domain.SignalHit{
				Name: name, Weight: weight, Fraction: fraction, Points: points, Evidence: evidence,
			})
			c.Score += points
		}

		refFrac, refEvidence := referenceSignal(eventRefs, refs)
		add(domain.SignalReference, w.Reference, refFrac, refEvidence)
		add(domain.SignalPhone, w.Phone, phoneFrac, phoneEvidence)
		add(domain.SignalName, w.Name, nameFrac, nameEvidence)
		exact, partial, amountEvidence := amountSignals(n.AmountMinor, inv, &rec.FeeAccount)
		add(domain.SignalExactAmount, w.ExactAmount, exact, amountEvidence)
		add(domain.SignalPartialAmount, w.PartialAmount, partial, amountEvidence)

		c.Score = math.Min(100, math.Max(0, round2(c.Score)))
		return c
	}

	var out []domain.MatchCandidate
	for i := range rec.OpenInvoices {
		inv := &rec.OpenInvoices[i]
		if !inv.Status.IsOpen() || inv.BalanceMinor <= 0 {
			continue
		}
		out = append(out, build(inv))
	}
	if len(out) == 0 {
		out = append(out, build(nil))
	}
	return out
}

// rank orders by score, then oldest due date, then ids
func rank(cs []domain.MatchCandidate) {
	sort.SliceStable(cs, func(i, j int) bool {
		a, b := cs[i], cs[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if (a.DueDate == nil) != (b.DueDate == nil) {
			return a.DueDate != nil
		}
		if a.DueDate != nil && !a.DueDate.Equal(*b.DueDate) {
			return a.DueDate.Before(*b.DueDate)
		}
		if ai, bi := invoiceKey(a), invoiceKey(b); ai != bi {
			return ai < bi
		}
		return a.FeeAccountID.String() < b.FeeAccountID.String()
	})
}

func invoiceKey(c domain.MatchCandidate) string {
	if c.InvoiceID == nil {
		return ""
	}
	return c.InvoiceID.String()
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
