package matching

import (
	"fmt"
	"strings"

	"github.com/texttheater/golang-levenshtein/levenshtein"

	"github.com/kevin07696/fee-reconciliation/internal/domain"
	"github.com/kevin07696/fee-reconciliation/internal/services/normalize"
)

// unit-cost edit distance; the library default charges 2 per substitution
var editOptions = levenshtein.Options{
	InsCost: 1,
	DelCost: 1,
	SubCost: 1,
	Matches: levenshtein.IdenticalRunes,
}

const (
	referenceTypoMinLen   = 6
	referenceTypoFraction = 0.5
	phoneSuffixDigits     = 9
	phoneSuffixFraction   = 0.8
	nameMinFraction       = 0.5
	nameTokenMinLen       = 2
	partialAmountFraction = 0.5
)

func editDistance(a, b string) int {
	return levenshtein.DistanceForStrings([]rune(a), []rune(b), editOptions)
}

// labelledRef is a reference a candidate can be paid against
type labelledRef struct {
	label string
	key   string
}

// referenceSignal compares the event's folded references with the candidate's.
// Exact equality scores 1; a single edit on references of six or more
// characters scores half.
func referenceSignal(eventRefs []string, candidateRefs []labelledRef) (float64, string) {
	for _, c := range candidateRefs {
		for _, r := range eventRefs {
			if c.key != "" && r == c.key {
				return 1, fmt.Sprintf("%s %s", c.label, c.key)
			}
		}
	}
	for _, c := range candidateRefs {
		if len(c.key) < referenceTypoMinLen {
			continue
		}
		for _, r := range eventRefs {
			if len(r) < referenceTypoMinLen {
				continue
			}
			if editDistance(r, c.key) == 1 {
				return referenceTypoFraction, fmt.Sprintf("%s %s ~ %s", c.label, c.key, r)
			}
		}
	}
	return 0, ""
}

// phoneSignal compares the E.164 sender phone with registered guardian phones
func phoneSignal(phone string, guardians []domain.Guardian) (float64, string) {
	if phone == "" {
		return 0, ""
	}
	var best float64
	var evidence string
	for _, g := range guardians {
		if g.PhoneE164 == "" {
			continue
		}
		if g.PhoneE164 == phone {
			return 1, "guardian " + g.FullName
		}
		if best < phoneSuffixFraction && sameSuffix(g.PhoneE164, phone, phoneSuffixDigits) {
			best, evidence = phoneSuffixFraction, "guardian "+g.FullName+" (national number)"
		}
	}
	return best, evidence
}

func sameSuffix(a, b string, n int) bool {
	da, db := digitsOnly(a), digitsOnly(b)
	if len(da) < n || len(db) < n {
		return false
	}
	return da[len(da)-n:] == db[len(db)-n:]
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// nameSignal scores token overlap between the sender name and the best of
// the candidate names. Tokens within 20% edit distance count as equal.
// Overlaps under half the longer name do not fire.
func nameSignal(sender string, names []string) (float64, string) {
	senderTokens := normalize.NameTokens(sender, nameTokenMinLen)
	if len(senderTokens) == 0 {
		return 0, ""
	}
	var best float64
	var evidence string
	for _, name := range names {
		f := tokenOverlap(senderTokens, normalize.NameTokens(name, nameTokenMinLen))
		if f > best {
			best, evidence = f, name
		}
	}
	if best < nameMinFraction {
		return 0, ""
	}
	return best, evidence
}

func tokenOverlap(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	used := make([]bool, len(b))
	matched := 0
	for _, ta := range a {
		for j, tb := range b {
			if used[j] || !tokensEqual(ta, tb) {
				continue
			}
			used[j] = true
			matched++
			break
		}
	}
	longest := len(a)
	if len(b) > longest {
		longest = len(b)
	}
	return float64(matched) / float64(longest)
}

func tokensEqual(a, b string) bool {
	if a == b {
		return true
	}
	longest := len([]rune(a))
	if l := len([]rune(b)); l > longest {
		longest = l
	}
	if longest < 5 {
		return false
	}
	return editDistance(a, b)*5 <= longest
}

// amountSignals returns the exact-amount and partial-amount fractions.
// They are exclusive: a partial hit is only considered when the exact one misses.
func amountSignals(amount int64, inv *domain.Invoice, acct *domain.FeeAccount) (exact float64, partial float64, evidence string) {
	if amount <= 0 {
		return 0, 0, ""
	}
	target := acct.BalanceMinor
	if inv != nil {
		target = inv.BalanceMinor
	}
	if target > 0 && amount == target {
		return 1, 0, fmt.Sprintf("amount equals balance %d", target)
	}
	if inv != nil {
		for _, inst := range inv.Installments {
			if rem := inst.Remaining(); rem > 0 && rem == amount {
				return 0, 1, fmt.Sprintf("amount equals installment %d", inst.Sequence)
			}
		}
	}
	if target > 0 && amount < target {
		return 0, partialAmountFraction, fmt.Sprintf("amount below balance %d", target)
	}
	return 0, 0, ""
}
