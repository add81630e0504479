// Package upstream fetches catalog pages from the vendor inventory API.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/catalogo-pos/catalogo/internal/catalog"
)

// HardMaxPageSize is the per-request ceiling enforced by the vendor API.
const HardMaxPageSize = 30

const (
	defaultItemsPath = "/items"
	defaultTimeout   = 30 * time.Second
	maxErrorBody     = 512
	maxPageBody      = 16 << 20
)

// Config collects the settings of a Client.
type Config struct {
	BaseURL     string
	ItemsPath   string
	Auth        string
	Timeout     time.Duration
	MaxPageSize int
	// RPS limits outgoing requests per second; zero disables limiting.
	RPS   float64
	Burst int

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Page is one decoded page of upstream records.
type Page struct {
	Offset    int
	Requested int
	// Received counts the items the server returned, valid or not.
	Received int
	// Invalid counts items dropped because they could not be decoded.
	Invalid int
	Records []Record
	// HasMore is the server supplied continuation flag, when present.
	HasMore *bool
}

// More reports whether data may follow this page. An explicit server flag
// wins over the size heuristic; an empty page always ends the stream.
func (p Page) More() bool {
	if p.Received == 0 {
		return false
	}
	if p.HasMore != nil {
		return *p.HasMore
	}
	return p.Received >= p.Requested
}

// Products returns every decoded product of the page.
func (p Page) Products() []catalog.Product {
	products := make([]catalog.Product, 0, len(p.Records))
	for _, r := range p.Records {
		products = append(products, r.Product)
	}
	return products
}

// Active returns the page products whose status is active.
func (p Page) Active() []catalog.Product {
	return catalog.FilterActive(p.Products())
}

// Client is a paginated reader for the vendor items endpoint. It performs no
// retries.
type Client struct {
	base       *url.URL
	itemsPath  string
	auth       string
	maxPage    int
	httpClient *http.Client
	limiter    *rate.Limiter
	decoder    *recordDecoder
	logger     *slog.Logger
}

// NewClient validates the configuration and constructs a Client.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("upstream: base url required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("upstream: parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("upstream: unsupported scheme %q", base.Scheme)
	}
	maxPage := cfg.MaxPageSize
	if maxPage <= 0 || maxPage > HardMaxPageSize {
		maxPage = HardMaxPageSize
	}
	itemsPath := cfg.ItemsPath
	if itemsPath == "" {
		itemsPath = defaultItemsPath
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	var limiter *rate.Limiter
	if cfg.RPS > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RPS), burst)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		base:       base,
		itemsPath:  "/" + strings.TrimLeft(itemsPath, "/"),
		auth:       cfg.Auth,
		maxPage:    maxPage,
		httpClient: httpClient,
		limiter:    limiter,
		decoder:    newRecordDecoder(),
		logger:     logger.With(slog.String("component", "upstream")),
	}, nil
}

// PageSize clamps a requested page size to the upstream ceiling.
func (c *Client) PageSize(requested int) int {
	if requested <= 0 || requested > c.maxPage {
		return c.maxPage
	}
	return requested
}

// FetchPage requests one page starting at offset.
func (c *Client) FetchPage(ctx context.Context, offset, pageSize int) (Page, error) {
	if offset < 0 {
		offset = 0
	}
	size := c.PageSize(pageSize)
	page := Page{Offset: offset, Requested: size}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return page, &FetchError{Offset: offset, Message: "rate limiter: " + err.Error(), Err: err}
		}
	}

	req, err := c.newRequest(ctx, c.itemsURL(offset, size))
	if err != nil {
		return page, &FetchError{Offset: offset, Message: err.Error(), Err: err}
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return page, &FetchError{Offset: offset, Message: err.Error(), Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		msg := strings.TrimSpace(string(snippet))
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return page, &FetchError{Offset: offset, Status: resp.StatusCode, Message: msg}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBody))
	if err != nil {
		return page, &FetchError{Offset: offset, Status: resp.StatusCode, Message: "read body: " + err.Error(), Err: err}
	}
	items, hasMore, err := decodePage(body)
	if err != nil {
		return page, &FetchError{Offset: offset, Status: resp.StatusCode, Message: "malformed page", Err: err}
	}

	page.Received = len(items)
	page.HasMore = hasMore
	page.Records = make([]Record, 0, len(items))
	for _, raw := range items {
		product, coerced, err := c.decoder.decode(raw)
		if err != nil {
			page.Invalid++
			c.logger.Debug("skip upstream record", slog.Int("offset", offset), slog.Any("error", err))
			continue
		}
		if coerced > 0 {
			c.logger.Debug("unparseable numeric fields read as zero",
				slog.Int("offset", offset), slog.String("id", product.ID), slog.Int("fields", coerced))
		}
		page.Records = append(page.Records, Record{Product: product, Raw: raw})
	}
	return page, nil
}

// Ping checks that the upstream answers at all. Any HTTP response below 500
// counts as reachable.
func (c *Client) Ping(ctx context.Context) error {
	req, err := c.newRequest(ctx, c.itemsURL(0, 1))
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	if resp.StatusCode >= 500 {
		return fmt.Errorf("upstream: ping returned status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) itemsURL(offset, limit int) string {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + c.itemsPath
	q := u.Query()
	q.Set("start", strconv.Itoa(offset))
	q.Set("limit", strconv.Itoa(limit))
	u.RawQuery = q.Encode()
	return u.String()
}

func (c *Client) newRequest(ctx context.Context, target string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.auth != "" {
		req.Header.Set("Authorization", c.auth)
	}
	return req, nil
}
