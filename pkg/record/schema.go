package record

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Identity is the (organization, year, sequence) triple that keys a listing.
type Identity struct {
	OrgKey   string
	Period   string
	Sequence string
}

// Key returns the stable "org_period_sequence" identity key.
func (id Identity) Key() string {
	return id.OrgKey + "_" + id.Period + "_" + id.Sequence
}

// ParentFields names the attributes stamped onto child items so they can be
// traced back to their listing.
type ParentFields struct {
	OrgKey   string
	Period   string
	Sequence string
}

// Schema declares, per logical attribute, the field paths tried in order.
type Schema struct {
	OrgKey   Fields
	Period   Fields
	Sequence Fields

	// UpdatedAt candidates drive merge decisions.
	UpdatedAt Fields

	// PublishedAt candidates drive the publication window filter.
	PublishedAt Fields

	// MonthFields hold an explicit month number (1-12).
	MonthFields Fields

	// MonthDateFields hold dates the month can be extracted from.
	MonthDateFields Fields

	// ItemOrdinal identifies an item within its parent.
	ItemOrdinal Fields

	// Parent is where child items carry their parent's identity.
	Parent ParentFields
}

// DefaultSchema returns the field layout used by the PNCP procurement
// listing (contratacoes) endpoints.
func DefaultSchema() Schema {
	return Schema{
		OrgKey:   Fields{"orgaoEntidade.cnpj", "cnpjOrgao", "cnpj"},
		Period:   Fields{"anoCompra", "ano"},
		Sequence: Fields{"numeroCompra", "numero"},
		UpdatedAt: Fields{
			"dataPublicacaoPncp",
			"dataAtualizacao",
			"dataPublicacao",
			"dataInclusao",
		},
		PublishedAt: Fields{"dataPublicacaoPncp", "dataPublicacao", "dataInclusao"},
		MonthFields: Fields{"mesCompra", "mes"},
		MonthDateFields: Fields{
			"dataPublicacao",
			"dataInclusao",
			"dataAtualizacao",
			"dataInicio",
			"data",
			"dataPublicacaoPncp",
		},
		ItemOrdinal: Fields{"numeroItem"},
		Parent: ParentFields{
			OrgKey:   "edital_cnpj",
			Period:   "edital_ano",
			Sequence: "edital_numero",
		},
	}
}

// Identity resolves the identity triple. ok is false when any part is missing.
func (s Schema) Identity(r Record) (Identity, bool) {
	org, ok1 := s.OrgKey.FirstString(r)
	period, ok2 := s.Period.FirstString(r)
	seq, ok3 := s.Sequence.FirstString(r)
	if !ok1 || !ok2 || !ok3 {
		return Identity{}, false
	}
	return Identity{OrgKey: org, Period: period, Sequence: seq}, true
}

// Key returns the record identity key.
func (s Schema) Key(r Record) (string, bool) {
	id, ok := s.Identity(r)
	if !ok {
		return "", false
	}
	return id.Key(), true
}

// Timestamp returns the first candidate update timestamp that parses.
func (s Schema) Timestamp(r Record) (time.Time, bool) {
	return firstTime(s.UpdatedAt, r)
}

// Published returns the first candidate publication date that parses.
func (s Schema) Published(r Record) (time.Time, bool) {
	return firstTime(s.PublishedAt, r)
}

func firstTime(fields Fields, r Record) (time.Time, bool) {
	for _, p := range fields {
		v, ok := p.Lookup(r)
		if !ok {
			continue
		}
		if t, ok := ParseTimestamp(v); ok {
			return t, true
		}
	}
	return time.Time{}, false
}

var (
	isoMonth = regexp.MustCompile(`^\d{4}-(\d{2})`)
	brMonth  = regexp.MustCompile(`^\d{2}/(\d{2})/\d{4}`)
)

// MonthHint finds the month a listing belongs to, first from explicit month
// fields, then from the leading YYYY-MM (or DD/MM/YYYY) of a date field.
func (s Schema) MonthHint(r Record) (int, bool) {
	for _, p := range s.MonthFields {
		v, ok := p.Lookup(r)
		if !ok {
			continue
		}
		str, ok := Stringify(v)
		if !ok {
			continue
		}
		if m, err := strconv.Atoi(strings.TrimSpace(str)); err == nil && validMonth(m) {
			return m, true
		}
	}
	for _, p := range s.MonthDateFields {
		v, ok := p.Lookup(r)
		if !ok {
			continue
		}
		str, ok := v.(string)
		if !ok {
			continue
		}
		str = strings.TrimSpace(str)
		for _, re := range []*regexp.Regexp{isoMonth, brMonth} {
			if m := re.FindStringSubmatch(str); m != nil {
				if month, err := strconv.Atoi(m[1]); err == nil && validMonth(month) {
					return month, true
				}
			}
		}
	}
	return 0, false
}

func validMonth(m int) bool { return m >= 1 && m <= 12 }

// Annotate stamps the parent identity onto a child item.
func (s Schema) Annotate(item Record, parent Identity) {
	item[s.Parent.OrgKey] = parent.OrgKey
	item[s.Parent.Period] = parent.Period
	item[s.Parent.Sequence] = parent.Sequence
}

// ParentKey returns the identity key an annotated item points at.
func (s Schema) ParentKey(item Record) (string, bool) {
	org, ok1 := Fields{FieldPath(s.Parent.OrgKey)}.FirstString(item)
	period, ok2 := Fields{FieldPath(s.Parent.Period)}.FirstString(item)
	seq, ok3 := Fields{FieldPath(s.Parent.Sequence)}.FirstString(item)
	if !ok1 || !ok2 || !ok3 {
		return "", false
	}
	return Identity{OrgKey: org, Period: period, Sequence: seq}.Key(), true
}

// ItemKey returns parentKey + "_" + item ordinal for an annotated item.
func (s Schema) ItemKey(item Record) (string, bool) {
	parent, ok := s.ParentKey(item)
	if !ok {
		return "", false
	}
	ordinal, ok := s.ItemOrdinal.FirstString(item)
	if !ok {
		return "", false
	}
	return parent + "_" + ordinal, true
}
