// Package query compiles topic query strings into reusable text matchers.
//
// The supported grammar covers exact phrases ("quoted text"), boolean
// AND/OR combinations, proximity expressions (termA NEAR/n termB), and bare
// terms which are required as whole words. AND binds tighter than OR, so
// `a AND b OR c` reads as `(a AND b) OR c`.
package query

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Matcher is a compiled query predicate. It is pure, stateless, and safe to
// reuse across many texts and goroutines.
type Matcher func(text string) bool

var (
	phraseRe = regexp.MustCompile(`"([^"]+)"`)
	nearRe   = regexp.MustCompile(`(?i)(\w+)\s+NEAR/(\d+)\s+(\w+)`)
	tokenRe  = regexp.MustCompile(`[a-z0-9]+`)
	spaceRe  = regexp.MustCompile(`\s+`)
)

// predicate is one evaluatable unit of a compiled query.
type predicate interface {
	match(text string, tokens []string) bool
}

type phrasePred struct {
	phrase string // lowercased, whitespace-normalized
}

func (p phrasePred) match(text string, _ []string) bool {
	return strings.Contains(normalize(text), p.phrase)
}

type nearPred struct {
	left     string
	right    string
	distance int
}

func (p nearPred) match(_ string, tokens []string) bool {
	var leftPos, rightPos []int
	for i, tok := range tokens {
		if wordMatches(p.left, tok) {
			leftPos = append(leftPos, i)
		}
		if wordMatches(p.right, tok) {
			rightPos = append(rightPos, i)
		}
	}
	// Distance is the number of tokens strictly between the two terms, so
	// NEAR/0 requires immediate adjacency. Either order satisfies proximity.
	for _, i := range leftPos {
		for _, j := range rightPos {
			if i == j {
				continue
			}
			gap := i - j
			if gap < 0 {
				gap = -gap
			}
			if gap-1 <= p.distance {
				return true
			}
		}
	}
	return false
}

type termPred struct {
	re *regexp.Regexp
}

func (p termPred) match(text string, _ []string) bool {
	return p.re.MatchString(strings.ToLower(text))
}

// Compile parses a query string into a Matcher. An empty or blank query
// yields a matcher that matches nothing.
func Compile(q string) Matcher {
	groups := compileGroups(q)
	if len(groups) == 0 {
		return func(string) bool { return false }
	}

	return func(text string) bool {
		tokens := Tokenize(text)
		for _, group := range groups {
			all := true
			for _, pred := range group {
				if !pred.match(text, tokens) {
					all = false
					break
				}
			}
			if all {
				return true
			}
		}
		return false
	}
}

// compileGroups builds the OR-of-AND-groups structure: phrases are
// extracted first and replaced with placeholders, then NEAR expressions,
// then the remaining boolean skeleton is split on OR into conjunctions.
func compileGroups(q string) [][]predicate {
	working := strings.TrimSpace(q)
	if working == "" {
		return nil
	}

	preds := make(map[string]predicate)

	phrases := phraseRe.FindAllStringSubmatch(working, -1)
	for i, m := range phrases {
		key := fmt.Sprintf("__PHRASE_%d__", i)
		preds[key] = phrasePred{phrase: normalize(m[1])}
		working = strings.Replace(working, m[0], " "+key+" ", 1)
	}

	nears := nearRe.FindAllStringSubmatch(working, -1)
	for i, m := range nears {
		key := fmt.Sprintf("__NEAR_%d__", i)
		n, err := strconv.Atoi(m[2])
		if err != nil {
			continue
		}
		preds[key] = nearPred{left: strings.ToLower(m[1]), right: strings.ToLower(m[3]), distance: n}
		working = strings.Replace(working, m[0], " "+key+" ", 1)
	}

	var groups [][]predicate
	var current []predicate
	for _, tok := range strings.Fields(working) {
		switch strings.ToUpper(tok) {
		case "OR":
			if len(current) > 0 {
				groups = append(groups, current)
				current = nil
			}
		case "AND":
			// Adjacent terms are already implicitly conjoined.
		default:
			if pred, ok := preds[tok]; ok {
				current = append(current, pred)
				continue
			}
			term := strings.ToLower(tok)
			if term == "" {
				continue
			}
			current = append(current, termPred{
				re: regexp.MustCompile(`\b` + regexp.QuoteMeta(term) + `\b`),
			})
		}
	}
	if len(current) > 0 {
		groups = append(groups, current)
	}
	return groups
}

// Tokenize lowercases text and splits it into alphanumeric tokens.
func Tokenize(text string) []string {
	return tokenRe.FindAllString(strings.ToLower(text), -1)
}

// wordMatches reports whether a query word matches a text token, allowing
// trivial singular/plural variation.
func wordMatches(word, token string) bool {
	if word == token {
		return true
	}
	if strings.HasSuffix(word, "s") && token == word[:len(word)-1] {
		return true
	}
	if strings.HasSuffix(token, "s") && word == token[:len(token)-1] {
		return true
	}
	return false
}

// normalize lowercases and collapses whitespace for phrase comparison.
func normalize(text string) string {
	return strings.TrimSpace(spaceRe.ReplaceAllString(strings.ToLower(text), " "))
}
