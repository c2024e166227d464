package vectorsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Result is one similarity match returned by the vector search service.
type Result struct {
	ProductID string  `json:"product_id"`
	ImageURL  string  `json:"image_url"`
	Score     float64 `json:"score"`
	Caption   string  `json:"caption"`
}

// Client queries the vector similarity search service.
type Client struct {
	baseURL string
	limit   int
	http    *http.Client
}

func NewClient(baseURL string, limit int, timeout time.Duration) *Client {
	if limit <= 0 {
		limit = 1
	}
	return &Client{
		baseURL: baseURL,
		limit:   limit,
		http:    &http.Client{Timeout: timeout},
	}
}

type searchRequest struct {
	Messages string `json:"messages"`
	Limit    int    `json:"limit"`
}

type searchResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    struct {
		Data []searchItem `json:"data"`
	} `json:"data"`
}

type searchItem struct {
	ID       string  `json:"_id"`
	ImageURL string  `json:"image_url"`
	Score    float64 `json:"score"`
	Products struct {
		Captions struct {
			ComprehensiveDescription string `json:"comprehensive_description"`
		} `json:"captions"`
	} `json:"products"`
}

// Search posts the query and returns the matches in rank order.
func (c *Client) Search(ctx context.Context, query string) ([]Result, error) {
	body, err := json.Marshal(searchRequest{Messages: query, Limit: c.limit})
	if err != nil {
		return nil, errors.Wrap(err, "marshal search request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search/", bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "build search request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "call vector search service")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("vector search returned status %d", resp.StatusCode)
	}

	var decoded searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, errors.Wrap(err, "decode search response")
	}
	if !decoded.Success {
		return nil, errors.Errorf("vector search failed: %s", decoded.Message)
	}

	results := make([]Result, 0, len(decoded.Data.Data))
	for _, item := range decoded.Data.Data {
		results = append(results, Result{
			ProductID: item.ID,
			ImageURL:  item.ImageURL,
			Score:     item.Score,
			Caption:   item.Products.Captions.ComprehensiveDescription,
		})
	}
	log.Debug().Int("results", len(results)).Msg("vector search completed")
	return results, nil
}

// ImageSearcher adapts the client to the expert loop, which only needs the
// matched image URLs.
type ImageSearcher struct {
	client *Client
}

func NewImageSearcher(client *Client) *ImageSearcher {
	return &ImageSearcher{client: client}
}

func (s *ImageSearcher) Search(ctx context.Context, query string) ([]string, error) {
	results, err := s.client.Search(ctx, query)
	if err != nil {
		return nil, err
	}
	urls := make([]string, 0, len(results))
	for _, r := range results {
		if r.ImageURL != "" {
			urls = append(urls, r.ImageURL)
		}
	}
	return urls, nil
}
