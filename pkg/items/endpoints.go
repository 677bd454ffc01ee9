package items

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/Sternrassler/pncp-sync/pkg/record"
)

// Endpoints are the API bases the item routes hang off.
type Endpoints struct {
	// ItemsBaseURL serves /orgaos/{org}/compras/{period}/{month}/itens[/quantidade].
	ItemsBaseURL string

	// RecordBaseURL serves /orgaos/{org}/compras/{period}/{sequence}.
	RecordBaseURL string
}

func (e Endpoints) countURL(id record.Identity, month int) string {
	return monthPath(e.ItemsBaseURL, id, month) + "/itens/quantidade"
}

func (e Endpoints) listURL(id record.Identity, month int) string {
	return monthPath(e.ItemsBaseURL, id, month) + "/itens"
}

func (e Endpoints) recordURL(id record.Identity) string {
	return fmt.Sprintf("%s/orgaos/%s/compras/%s/%s",
		strings.TrimRight(e.RecordBaseURL, "/"),
		url.PathEscape(id.OrgKey), url.PathEscape(id.Period), url.PathEscape(id.Sequence))
}

func monthPath(base string, id record.Identity, month int) string {
	return fmt.Sprintf("%s/orgaos/%s/compras/%s/%d",
		strings.TrimRight(base, "/"),
		url.PathEscape(id.OrgKey), url.PathEscape(id.Period), month)
}

// Metric labels for the item routes.
const (
	labelCount  = "/orgaos/{org}/compras/{period}/{month}/itens/quantidade"
	labelList   = "/orgaos/{org}/compras/{period}/{month}/itens"
	labelRecord = "/orgaos/{org}/compras/{period}/{sequence}"
)
