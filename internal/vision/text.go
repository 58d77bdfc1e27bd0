package vision

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultHighTextWords is the word count above which an image is considered
// mostly text.
const DefaultHighTextWords = 30

const maxCardLineLength = 120

var emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)

// AnalyzeText derives the OCR flags used by the content safety checks.
func AnalyzeText(text string, labels []Label, highTextWords int) TextFlags {
	if highTextWords <= 0 {
		highTextWords = DefaultHighTextWords
	}
	words := len(strings.Fields(text))
	flags := TextFlags{
		HasPhone:   HasPhoneNumber(text),
		HasEmail:   HasEmail(text),
		WordCount:  words,
		IsHighText: words > highTextWords,
	}
	flags.IsVisitingCard = IsVisitingCard(text, labels, flags.HasPhone, flags.HasEmail)
	return flags
}

// HasEmail reports whether text contains something shaped like local@domain.tld.
func HasEmail(text string) bool {
	return emailPattern.MatchString(text)
}

// IsVisitingCard reports whether the image looks like a business card or a
// document: either the labels say so, or the text is short contact-bearing
// lines.
func IsVisitingCard(text string, labels []Label, hasPhone, hasEmail bool) bool {
	for _, label := range labels {
		desc := strings.ToLower(label.Description)
		if strings.Contains(desc, "business card") || strings.Contains(desc, "document") {
			return true
		}
	}
	if strings.TrimSpace(text) == "" || !(hasPhone || hasEmail) {
		return false
	}
	var lines, chars int
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		lines++
		chars += utf8.RuneCountInString(line)
	}
	if lines < 2 {
		return false
	}
	return chars <= maxCardLineLength*lines
}

// HasPhoneNumber reports whether text contains an Indian mobile number: +91
// followed by ten digits, or a standalone run of exactly ten or twelve digits.
// Digits may be split by whitespace (OCR often breaks numbers across lines),
// but a match never starts or ends inside a longer digit run.
func HasPhoneNumber(text string) bool {
	if hasCountryCodeNumber(text) {
		return true
	}
	for _, chain := range digitChains(text) {
		if chainHasSpan(chain, 10) || chainHasSpan(chain, 12) {
			return true
		}
	}
	return false
}

func hasCountryCodeNumber(text string) bool {
	rest := text
	for {
		idx := strings.Index(rest, "+91")
		if idx < 0 {
			return false
		}
		rest = rest[idx+3:]
		digits := 0
		for _, r := range rest {
			if isDigit(r) {
				digits++
				if digits == 10 {
					return true
				}
				continue
			}
			if unicode.IsSpace(r) {
				continue
			}
			break
		}
	}
}

// digitChains splits text into chains of digit-run lengths, where runs inside
// one chain are separated only by whitespace.
func digitChains(text string) [][]int {
	var (
		chains [][]int
		chain  []int
		run    int
	)
	closeRun := func() {
		if run > 0 {
			chain = append(chain, run)
			run = 0
		}
	}
	closeChain := func() {
		closeRun()
		if len(chain) > 0 {
			chains = append(chains, chain)
			chain = nil
		}
	}
	for _, r := range text {
		switch {
		case isDigit(r):
			run++
		case unicode.IsSpace(r):
			closeRun()
		default:
			closeChain()
		}
	}
	closeChain()
	return chains
}

func chainHasSpan(chain []int, want int) bool {
	for i := range chain {
		sum := 0
		for j := i; j < len(chain); j++ {
			sum += chain[j]
			if sum == want {
				return true
			}
			if sum > want {
				break
			}
		}
	}
	return false
}

func isDigit(r rune) bool {
	return r >= '0' && r <= '9'
}
