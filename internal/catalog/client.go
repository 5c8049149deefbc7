package catalog

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/ariefcatur/pcbuild-orders/internal/apperr"
	"github.com/go-resty/resty/v2"
)

// Client talks to the recommendation, parts and customer services.
type Client struct {
	recommendations *resty.Client
	parts           *resty.Client
	customers       *resty.Client
}

func New(recommendationURL, partURL, customerURL string, timeout time.Duration) *Client {
	mk := func(base string) *resty.Client {
		return resty.New().
			SetBaseURL(base).
			SetTimeout(timeout).
			SetRetryCount(2).
			SetRetryWaitTime(100*time.Millisecond).
			SetHeader("Accept", "application/json")
	}
	return &Client{recommendations: mk(recommendationURL), parts: mk(partURL), customers: mk(customerURL)}
}

type envelope[T any] struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

type Part struct {
	PartID     int64  `json:"part_id"`
	Name       string `json:"name"`
	PriceCents int64  `json:"price_cents"`
	Stock      int    `json:"stock"`
}

type Build struct {
	RecommendationID string `json:"recommendation_id"`
	Parts            []Part `json:"parts"`
}

func (b Build) TotalCents() int64 {
	var total int64
	for _, p := range b.Parts {
		total += p.PriceCents
	}
	return total
}

func (b Build) PartIDs() []int64 {
	ids := make([]int64, 0, len(b.Parts))
	for _, p := range b.Parts {
		ids = append(ids, p.PartID)
	}
	return ids
}

type Customer struct {
	CustomerID string `json:"customer_id"`
	Name       string `json:"name"`
	Address    string `json:"address"`
	Email      string `json:"email"`
}

func get[T any](ctx context.Context, c *resty.Client, what string, prep func(*resty.Request) *resty.Request, path string) (T, error) {
	var out envelope[T]
	resp, err := prep(c.R().SetContext(ctx).ForceContentType("application/json").SetResult(&out)).Get(path)
	if err != nil {
		if ctx.Err() != nil {
			return out.Data, apperr.Wrap(apperr.ErrGateway, ctx.Err(), "fetch %s", what)
		}
		return out.Data, apperr.Wrap(apperr.ErrGateway, err, "fetch %s", what)
	}
	switch {
	case resp.StatusCode() == http.StatusNotFound:
		return out.Data, apperr.NotFound("%s", what)
	case resp.IsError():
		return out.Data, apperr.New(apperr.ErrGateway, "fetch %s: status %d", what, resp.StatusCode())
	case out.Code != 0 && out.Code != http.StatusOK:
		if out.Code == http.StatusNotFound {
			return out.Data, apperr.NotFound("%s", what)
		}
		return out.Data, apperr.New(apperr.ErrGateway, "fetch %s: code %d %s", what, out.Code, out.Message)
	}
	return out.Data, nil
}

// GetBuild resolves a recommendation to its in-stock parts with prices in cents.
func (c *Client) GetBuild(ctx context.Context, recommendationID string) (Build, error) {
	if recommendationID == "" {
		return Build{}, apperr.Validation("recommendation_id is required")
	}
	type rec struct {
		PartsList []struct {
			PartID int64 `json:"part_id"`
		} `json:"parts_list"`
	}
	r, err := get[rec](ctx, c.recommendations, "recommendation "+recommendationID, func(req *resty.Request) *resty.Request {
		return req.SetPathParam("id", recommendationID)
	}, "/{id}")
	if err != nil {
		return Build{}, err
	}

	type partData struct {
		Name  string  `json:"Name"`
		Price float64 `json:"Price"`
		Stock int     `json:"Stock"`
	}
	b := Build{RecommendationID: recommendationID}
	for _, ref := range r.PartsList {
		id := strconv.FormatInt(ref.PartID, 10)
		p, err := get[partData](ctx, c.parts, "part "+id, func(req *resty.Request) *resty.Request {
			return req.SetQueryParam("ComponentId", id)
		}, "")
		if err != nil {
			return Build{}, err
		}
		if p.Stock <= 0 {
			continue
		}
		b.Parts = append(b.Parts, Part{PartID: ref.PartID, Name: p.Name, PriceCents: ToCents(p.Price), Stock: p.Stock})
	}
	if len(b.Parts) == 0 {
		return Build{}, apperr.Validation("recommendation %s has no parts in stock", recommendationID)
	}
	return b, nil
}

func (c *Client) GetCustomer(ctx context.Context, customerID string) (Customer, error) {
	if customerID == "" {
		return Customer{}, apperr.Validation("customer_id is required")
	}
	return get[Customer](ctx, c.customers, "customer "+customerID, func(req *resty.Request) *resty.Request {
		return req.SetPathParam("id", customerID)
	}, "/{id}")
}

// ToCents converts a major-unit price to minor units.
func ToCents(major float64) int64 { return int64(math.Round(major * 100)) }
