package items

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/Sternrassler/pncp-sync/pkg/client"
	"github.com/Sternrassler/pncp-sync/pkg/pagination"
	"github.com/Sternrassler/pncp-sync/pkg/ratelimit"
	"github.com/Sternrassler/pncp-sync/pkg/record"
)

// Strategy names how a parent's items were fetched.
type Strategy string

const (
	StrategyPaged  Strategy = "paged"
	StrategyRecord Strategy = "record"
)

// parentFetch is the outcome of fetching one parent's items.
type parentFetch struct {
	items    []record.Record
	strategy Strategy
	requests int

	// complete is false when the fetch stopped before the last page.
	complete bool
}

// FetchParent fetches and annotates the items of a single listing. A 404 on
// the item routes means no items: the result is empty, not an error.
func (c *Collector) FetchParent(ctx context.Context, parent record.Record) ([]record.Record, error) {
	id, ok := c.schema.Identity(parent)
	if !ok {
		return nil, fmt.Errorf("listing has no identity")
	}
	pf, err := c.fetchParent(ctx, ctx, nil, parent, id)
	if err != nil {
		return nil, err
	}
	return pf.items, nil
}

// fetchParent runs the fetch strategy for one parent. ctx gates each
// request; reqCtx carries it. On error the items fetched before the failure
// are returned with complete=false.
func (c *Collector) fetchParent(ctx, reqCtx context.Context, pacer *ratelimit.Limiter, parent record.Record, id record.Identity) (*parentFetch, error) {
	month, ok := c.schema.MonthHint(parent)
	if !ok {
		return c.fetchRecord(ctx, reqCtx, pacer, id)
	}
	return c.fetchPaged(ctx, reqCtx, pacer, id, month)
}

func (c *Collector) get(ctx, reqCtx context.Context, pacer *ratelimit.Limiter, req client.Request) (*client.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", client.ErrContextCancelled, err)
	}
	if err := pacer.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", client.ErrContextCancelled, err)
	}
	req.EmptyOnNotFound = true
	return c.fetcher.Fetch(reqCtx, req)
}

// fetchPaged asks for the item count and pages through the item list until
// an empty page. A zero count issues no list request.
func (c *Collector) fetchPaged(ctx, reqCtx context.Context, pacer *ratelimit.Limiter, id record.Identity, month int) (*parentFetch, error) {
	pf := &parentFetch{strategy: StrategyPaged}

	resp, err := c.get(ctx, reqCtx, pacer, client.Request{URL: c.endpoints.countURL(id, month), Label: labelCount})
	pf.requests++
	if err != nil {
		return pf, err
	}
	count := 0
	if !resp.Empty {
		if count, err = pagination.DecodeCount(resp.Body); err != nil {
			c.logger.Warn().
				Err(client.Malformed(c.endpoints.countURL(id, month), err)).
				Str("parent_key", id.Key()).
				Msg("Unreadable item count, paging anyway")
			count = -1
		}
	}
	if count == 0 {
		pf.complete = true
		return pf, nil
	}

	for page := 1; page <= c.config.MaxPages; page++ {
		resp, err := c.get(ctx, reqCtx, pacer, client.Request{
			URL: c.endpoints.listURL(id, month),
			Query: url.Values{
				"pagina":        {strconv.Itoa(page)},
				"tamanhoPagina": {strconv.Itoa(c.config.PageSize)},
			},
			Label: labelList,
		})
		pf.requests++
		if err != nil {
			return pf, err
		}
		if resp.Empty {
			break
		}

		p := pagination.Decode(resp.Body)
		if p.Shape == pagination.ShapeMalformed {
			c.logger.Warn().
				Err(client.Malformed(c.endpoints.listURL(id, month), errors.New(p.Reason))).
				Str("parent_key", id.Key()).
				Int("page", page).
				Msg("Unexpected item page shape, treating as empty")
		}
		if len(p.Records) == 0 {
			break
		}
		pf.items = append(pf.items, c.annotate(p.Records, id)...)

		if page == c.config.MaxPages {
			c.logger.Warn().
				Str("parent_key", id.Key()).
				Int("pages", page).
				Msg("Item page limit reached")
		}
	}

	pf.complete = true
	return pf, nil
}

// fetchRecord reads the items embedded in the whole listing document.
func (c *Collector) fetchRecord(ctx, reqCtx context.Context, pacer *ratelimit.Limiter, id record.Identity) (*parentFetch, error) {
	pf := &parentFetch{strategy: StrategyRecord}

	resp, err := c.get(ctx, reqCtx, pacer, client.Request{URL: c.endpoints.recordURL(id), Label: labelRecord})
	pf.requests++
	if err != nil {
		return pf, err
	}
	pf.complete = true
	if resp.Empty {
		return pf, nil
	}

	v, err := record.Decode(resp.Body)
	if err != nil {
		c.logger.Warn().
			Err(client.Malformed(c.endpoints.recordURL(id), err)).
			Str("parent_key", id.Key()).
			Msg("Unreadable listing document, no items")
		return pf, nil
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return pf, nil
	}
	for _, key := range []string{"itens", "items"} {
		if list, ok := obj[key].([]any); ok {
			records, _ := record.FromList(list)
			pf.items = c.annotate(records, id)
			break
		}
	}
	return pf, nil
}

// annotate stamps the parent identity onto each item.
func (c *Collector) annotate(items []record.Record, id record.Identity) []record.Record {
	for _, item := range items {
		c.schema.Annotate(item, id)
	}
	return items
}
