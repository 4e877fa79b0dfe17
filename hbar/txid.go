package hbar

import (
	"fmt"
	"regexp"
)

// Two wire formats exist for the same logical transaction id:
//
//	0.0.5363033@1769582713.055549545   (at form, wallet/SDK output)
//	0.0.5363033-1769582713-055549545   (dash form, mirror node REST)
//
// The dash form with nanoseconds padded to 9 digits is the storage format.
var (
	atFormPattern   = regexp.MustCompile(`^(\d+\.\d+\.\d+)@(\d+)\.(\d+)$`)
	dashFormPattern = regexp.MustCompile(`^(\d+\.\d+\.\d+)-(\d+)-(\d+)$`)
	accountPattern  = regexp.MustCompile(`^\d+\.\d+\.\d+$`)
)

// NormalizeTransactionID canonicalizes a transaction id into the dash form.
// The second return is false when the input matched neither wire format, in
// which case the id is returned unchanged — malformed ids must not take
// down the pipeline, so callers log a warning instead of failing.
func NormalizeTransactionID(id string) (string, bool) {
	if m := atFormPattern.FindStringSubmatch(id); m != nil {
		return fmt.Sprintf("%s-%s-%09s", m[1], m[2], m[3]), true
	}
	if m := dashFormPattern.FindStringSubmatch(id); m != nil {
		return fmt.Sprintf("%s-%s-%09s", m[1], m[2], m[3]), true
	}
	return id, false
}

// TransactionIDVariants returns every wire form a transaction id may have
// been stored under, for duplicate lookups against rows written before
// normalization was introduced. The normalized dash form is always first.
func TransactionIDVariants(id string) []string {
	normalized, ok := NormalizeTransactionID(id)
	if !ok {
		return []string{id}
	}
	m := dashFormPattern.FindStringSubmatch(normalized)
	atForm := fmt.Sprintf("%s@%s.%s", m[1], m[2], m[3])
	variants := []string{normalized, atForm}
	if id != normalized && id != atForm {
		variants = append(variants, id)
	}
	return variants
}

// ValidAccountID reports whether s is a shard.realm.num account id.
func ValidAccountID(s string) bool {
	return accountPattern.MatchString(s)
}
