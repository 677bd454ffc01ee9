package pagination

import (
	"net/url"
	"strconv"
	"time"
)

// DateLayout is the date format of the dataInicial/dataFinal parameters.
const DateLayout = "20060102"

// Filter narrows a listing stream.
type Filter struct {
	// Since and Until bound the listing dates. Zero values are omitted.
	Since time.Time
	Until time.Time

	// Modality is the codigoModalidadeContratacao (6 = pregão eletrônico).
	// Zero omits it.
	Modality int

	// Extra holds additional query parameters passed through unchanged.
	Extra url.Values
}

// Window returns a filter covering the days before now.
func Window(now time.Time, days, modality int) Filter {
	return Filter{
		Since:    now.AddDate(0, 0, -days),
		Until:    now,
		Modality: modality,
	}
}

// Query renders the filter parameters without paging.
func (f Filter) Query() url.Values {
	q := url.Values{}
	for k, vs := range f.Extra {
		q[k] = append([]string(nil), vs...)
	}
	if !f.Since.IsZero() {
		q.Set("dataInicial", f.Since.Format(DateLayout))
	}
	if !f.Until.IsZero() {
		q.Set("dataFinal", f.Until.Format(DateLayout))
	}
	if f.Modality > 0 {
		q.Set("codigoModalidadeContratacao", strconv.Itoa(f.Modality))
	}
	return q
}

// PageQuery renders the filter plus pagina/tamanhoPagina.
func (f Filter) PageQuery(page, size int) url.Values {
	q := f.Query()
	q.Set("pagina", strconv.Itoa(page))
	q.Set("tamanhoPagina", strconv.Itoa(size))
	return q
}
