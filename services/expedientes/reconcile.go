package expedientes

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"expedientes-backend/lib/scrapers/scw"

	"github.com/antzucaro/matchr"
)

var (
	ErrBadCaseNumber = errors.New("case number is not of the form number/year or number/year/incident")
	ErrUnmatched     = errors.New("case number not present in the fetched list")
)

// CaseKey is the structural identity of a case number. Two renderings of
// the same case ("123/2024", "00123/2024", "CIV 123/2024") normalize to
// the same key; a principal and its incidents never do.
type CaseKey struct {
	Base     string
	Year     string
	Incident string
}

func (k CaseKey) IsPrincipal() bool { return k.Incident == "" }

func (k CaseKey) String() string {
	if k.Incident == "" {
		return k.Base + "/" + k.Year
	}
	return k.Base + "/" + k.Year + "/" + k.Incident
}

var caseNumberRegex = regexp.MustCompile(`(\d+)/(\d{4})(?:/(\d+))?`)

// ParseCaseNumber normalizes a raw case number: jurisdiction prefixes and
// zero-padding are dropped, the incident segment is kept when present.
func ParseCaseNumber(raw string) (CaseKey, error) {
	match := caseNumberRegex.FindStringSubmatch(raw)
	if match == nil {
		return CaseKey{}, fmt.Errorf("%w: %q", ErrBadCaseNumber, raw)
	}

	base := strings.TrimLeft(match[1], "0")
	if base == "" {
		base = "0"
	}
	return CaseKey{
		Base:     base,
		Year:     match[2],
		Incident: strings.TrimLeft(match[3], "0"),
	}, nil
}

// Index resolves requested case numbers against the rows fetched from
// the portal. Matching is strictly structural: a request without an
// incident segment only ever matches the principal case, and a miss is a
// miss even when a near-identical number exists. Near matches are
// surfaced as suggestions so an operator can fix the request list.
type Index struct {
	byKey map[CaseKey]int
	rows  []scw.CaseRow
}

func NewIndex(rows []scw.CaseRow) *Index {
	index := &Index{
		byKey: make(map[CaseKey]int, len(rows)),
		rows:  rows,
	}
	for i, row := range rows {
		key, err := ParseCaseNumber(row.Number)
		if err != nil {
			continue
		}
		if _, taken := index.byKey[key]; !taken {
			index.byKey[key] = i
		}
	}
	return index
}

func (x *Index) Len() int { return len(x.byKey) }

// Resolve returns the row matching the requested number. A miss returns
// ErrUnmatched wrapped with the closest indexed number, when one is
// similar enough to look like a typo.
func (x *Index) Resolve(raw string) (*scw.CaseRow, error) {
	key, err := ParseCaseNumber(raw)
	if err != nil {
		return nil, err
	}

	i, ok := x.byKey[key]
	if !ok {
		if suggestion := x.suggest(key); suggestion != "" {
			return nil, fmt.Errorf("%w: %s (closest: %s)", ErrUnmatched, key, suggestion)
		}
		return nil, fmt.Errorf("%w: %s", ErrUnmatched, key)
	}
	return &x.rows[i], nil
}

// similarity below which a near match is not worth suggesting
const suggestionThreshold = 0.9

func (x *Index) suggest(key CaseKey) string {
	want := key.String()
	best := ""
	bestScore := suggestionThreshold

	for candidate := range x.byKey {
		score := matchr.JaroWinkler(want, candidate.String(), true)
		if score > bestScore {
			best = candidate.String()
			bestScore = score
		}
	}
	return best
}
