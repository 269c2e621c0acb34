// Package retrieval is the HTTP client for the vector-search service that
// backs the knowledge-query stage.
package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/careforge/trialscreen/internal/screening"
)

const (
	defaultCacheSize   = 256
	defaultRateLimit   = 10 // requests per second
	defaultHTTPTimeout = 15 * time.Second
	searchPath         = "/v1/search"
)

type Config struct {
	BaseURL    string
	APIKey     string
	RatePerSec float64
	CacheSize  int
	HTTPClient *http.Client
	Logger     logrus.FieldLogger
}

// Client implements screening.Retriever against the vector-search HTTP
// service, with a rate limiter ahead of the network and an LRU cache behind
// it. Identical (query, topK) pairs within a process hit the cache.
type Client struct {
	cfg     Config
	limiter *rate.Limiter
	cache   *lru.Cache[string, []screening.RetrievedDocument]
	log     logrus.FieldLogger
}

func NewClient(cfg Config) (*Client, error) {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		return nil, errors.New("retrieval base URL not configured")
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = defaultRateLimit
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = defaultCacheSize
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	cache, err := lru.New[string, []screening.RetrievedDocument](cfg.CacheSize)
	if err != nil {
		return nil, err
	}
	return &Client{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), int(cfg.RatePerSec)),
		cache:   cache,
		log:     cfg.Logger.WithField("component", "retrieval"),
	}, nil
}

type searchRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

type searchResponse struct {
	Results []struct {
		Document string         `json:"document"`
		Metadata map[string]any `json:"metadata"`
		Score    float64        `json:"score"`
	} `json:"results"`
}

func (c *Client) Search(ctx context.Context, query string, topK int) ([]screening.RetrievedDocument, error) {
	if topK <= 0 {
		topK = screening.DefaultContextTopK
	}
	key := fmt.Sprintf("%d|%s", topK, query)
	if docs, ok := c.cache.Get(key); ok {
		return docs, nil
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	payload, _ := json.Marshal(searchRequest{Query: query, TopK: topK})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+searchPath, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("X-Api-Key", c.cfg.APIKey)
	}

	res, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(res.Body, 2<<20))

	if res.StatusCode >= 400 {
		c.log.WithFields(logrus.Fields{"status": res.StatusCode, "query": query}).Warn("search request failed")
		return nil, fmt.Errorf("status code: %d", res.StatusCode)
	}

	var parsed searchResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decoding search response: %w", err)
	}

	docs := make([]screening.RetrievedDocument, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		docs = append(docs, screening.RetrievedDocument{
			Document: r.Document,
			Metadata: r.Metadata,
			Score:    r.Score,
		})
	}
	c.cache.Add(key, docs)
	return docs, nil
}
