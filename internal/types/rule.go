package types

import (
	"fmt"
	"regexp"
	"strings"
)

type PredicateKind int

const (
	RefEquals PredicateKind = iota
	IsTagPush
	IsBranchPush
	RefMatches
)

const (
	keywordTags     = "tags"
	keywordBranches = "branches"
)

// Predicate is a single entry of an only/except list.
type Predicate struct {
	Kind    PredicateKind
	Ref     string
	Pattern *regexp.Regexp
}

// ParsePredicate turns an only/except entry into a predicate. "tags" and
// "branches" are keywords, /.../ is a regular expression matched against the
// ref name, anything else is a literal ref.
func ParsePredicate(s string) (Predicate, error) {
	switch {
	case s == keywordTags:
		return Predicate{Kind: IsTagPush}, nil
	case s == keywordBranches:
		return Predicate{Kind: IsBranchPush}, nil
	case len(s) > 2 && strings.HasPrefix(s, "/") && strings.HasSuffix(s, "/"):
		re, err := regexp.Compile(s[1 : len(s)-1])
		if err != nil {
			return Predicate{}, fmt.Errorf("invalid ref pattern %s: %w", s, err)
		}
		return Predicate{Kind: RefMatches, Pattern: re}, nil
	case s == "":
		return Predicate{}, fmt.Errorf("empty ref predicate")
	default:
		return Predicate{Kind: RefEquals, Ref: s}, nil
	}
}

func MustParsePredicates(values ...string) []Predicate {
	predicates := make([]Predicate, len(values))
	for i, v := range values {
		p, err := ParsePredicate(v)
		if err != nil {
			panic(err)
		}
		predicates[i] = p
	}
	return predicates
}

func (p Predicate) Matches(ctx TriggerContext) bool {
	switch p.Kind {
	case RefEquals:
		return p.Ref == ctx.RefName
	case IsTagPush:
		return ctx.IsTagPush
	case IsBranchPush:
		return !ctx.IsTagPush
	case RefMatches:
		return p.Pattern != nil && p.Pattern.MatchString(ctx.RefName)
	}
	return false
}

func (p Predicate) String() string {
	switch p.Kind {
	case IsTagPush:
		return keywordTags
	case IsBranchPush:
		return keywordBranches
	case RefMatches:
		if p.Pattern == nil {
			return "//"
		}
		return "/" + p.Pattern.String() + "/"
	default:
		return p.Ref
	}
}

type Rule struct {
	Only   []Predicate
	Except []Predicate
}

func (r Rule) IsEmpty() bool {
	return len(r.Only) == 0 && len(r.Except) == 0
}
