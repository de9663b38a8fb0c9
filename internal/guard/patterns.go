package guard

import "regexp"

// Vector is the category of a detected injection.
type Vector string

const (
	VectorSQL   Vector = "SQL"
	VectorXSS   Vector = "XSS"
	VectorDepth Vector = "DEPTH"
)

type signature struct {
	re     *regexp.Regexp
	vector Vector
}

func sig(vector Vector, expr string) signature {
	return signature{re: regexp.MustCompile(expr), vector: vector}
}

// signatures are tested in order; the first match wins.
var signatures = []signature{
	// SQL
	sig(VectorSQL, `(?i)\b(select|union|insert|update|delete|drop|alter|create|truncate|exec|execute)\b`),
	sig(VectorSQL, `(?i)\b(or|and)\b\s+\d+=\d+`),
	sig(VectorSQL, `('--|;--|;#|/\*)`),
	sig(VectorSQL, `(?i)\b1=1\b`),
	sig(VectorSQL, `(?i)\bwaitfor\b|\bsleep\s*\(`),

	// XSS
	sig(VectorXSS, `(?i)<script\b`),
	sig(VectorXSS, `(?i)on[a-z]+\s*=`),
	sig(VectorXSS, `(?i)javascript:`),
	sig(VectorXSS, `(?i)<img\b[^>]*src`),

	// Suspicious quote sequences. RE2 has no backreferences, so the
	// "same quote on both sides" tautology is spelled out per quote.
	sig(VectorSQL, "(?i)('\\s*(or|and)\\s*'|\"\\s*(or|and)\\s*\"|`\\s*(or|and)\\s*`)"),
	sig(VectorSQL, "['\"`]\\s*;"),
}

// match returns the first signature that matches s.
func match(s string) (signature, bool) {
	if s == "" {
		return signature{}, false
	}
	for _, sg := range signatures {
		if sg.re.MatchString(s) {
			return sg, true
		}
	}
	return signature{}, false
}
