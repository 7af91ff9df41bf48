/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: policy.go
Description: Per-call policy rules. A policy file maps an API signature plus
optional URI patterns to Allow, Deny or Mock. Lines are tab separated:
signature, zero or more URI patterns, policy name. Blank lines, comments and
lines without a tab are ignored.
*/

package monitor

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode"
)

// Policy is the decision applied to an intercepted call.
type Policy int

const (
	Allow Policy = iota
	Deny
	Mock
)

func (p Policy) String() string {
	switch p {
	case Allow:
		return "Allow"
	case Deny:
		return "Deny"
	case Mock:
		return "Mock"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

// ParsePolicy parses a policy name. Names are case sensitive.
func ParsePolicy(name string) (Policy, error) {
	for _, p := range []Policy{Allow, Deny, Mock} {
		if name == p.String() {
			return p, nil
		}
	}
	return Allow, fmt.Errorf("unknown policy %q", name)
}

// PolicyID identifies the calls a rule applies to.
type PolicyID struct {
	Signature   string
	URIPatterns []string
}

// Equal reports whether both identifiers have the same signature and patterns.
func (id PolicyID) Equal(other PolicyID) bool {
	if id.Signature != other.Signature || len(id.URIPatterns) != len(other.URIPatterns) {
		return false
	}
	for i := range id.URIPatterns {
		if id.URIPatterns[i] != other.URIPatterns[i] {
			return false
		}
	}
	return true
}

// Affects reports whether a call with signature and URI arguments is covered.
// Signatures are compared without whitespace; every pattern must occur in the
// concatenation of the call's URIs. No patterns means the signature alone decides.
func (id PolicyID) Affects(signature string, uris []string) bool {
	if normalizeSignature(id.Signature) != normalizeSignature(signature) {
		return false
	}
	joined := strings.Join(uris, "")
	for _, pattern := range id.URIPatterns {
		if !strings.Contains(joined, pattern) {
			return false
		}
	}
	return true
}

// Rule binds a PolicyID to a Policy.
type Rule struct {
	ID     PolicyID
	Policy Policy
}

// PolicySet is an ordered set of rules with unique identifiers.
type PolicySet struct {
	rules []Rule
}

// Rules returns the rules in file order.
func (s *PolicySet) Rules() []Rule {
	return append([]Rule(nil), s.rules...)
}

// Lookup returns the policy of the first rule affecting the call.
func (s *PolicySet) Lookup(signature string, uris []string) (Policy, bool) {
	if s == nil {
		return Allow, false
	}
	for _, r := range s.rules {
		if r.ID.Affects(signature, uris) {
			return r.Policy, true
		}
	}
	return Allow, false
}

func (s *PolicySet) put(rule Rule) {
	for i := range s.rules {
		if s.rules[i].ID.Equal(rule.ID) {
			s.rules[i].Policy = rule.Policy
			return
		}
	}
	s.rules = append(s.rules, rule)
}

// ParsePolicies reads policy lines from r. A malformed policy name fails the
// whole parse.
func ParsePolicies(r io.Reader) (*PolicySet, error) {
	set := &PolicySet{}
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if skipPolicyLine(line) {
			continue
		}
		rule, err := parsePolicyLine(line)
		if err != nil {
			return nil, fmt.Errorf("policy line %d: %w", lineNo, err)
		}
		set.put(rule)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read policies: %w", err)
	}
	return set, nil
}

// LoadPolicies reads the policy file at path.
func LoadPolicies(path string) (*PolicySet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open policy file: %w", err)
	}
	defer f.Close()
	return ParsePolicies(f)
}

func skipPolicyLine(line string) bool {
	return strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#") || !strings.Contains(line, "\t")
}

// parsePolicyLine splits a rule into signature, URI patterns and policy name.
// Patterns are kept as written; trailing empty fields are dropped.
func parsePolicyLine(line string) (Rule, error) {
	fields := strings.Split(line, "\t")
	for len(fields) > 0 && fields[len(fields)-1] == "" {
		fields = fields[:len(fields)-1]
	}
	if len(fields) < 2 {
		return Rule{}, fmt.Errorf("rule %q has no policy", line)
	}

	policy, err := ParsePolicy(strings.TrimSpace(fields[len(fields)-1]))
	if err != nil {
		return Rule{}, err
	}

	var patterns []string
	if len(fields) > 2 {
		patterns = append(patterns, fields[1:len(fields)-1]...)
	}

	return Rule{
		ID: PolicyID{
			Signature:   normalizeSignature(fields[0]),
			URIPatterns: patterns,
		},
		Policy: policy,
	}, nil
}

func normalizeSignature(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}
