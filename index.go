package topicfeed

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// ErrIndexUnavailable signals an absent or degraded vector index. Callers
// fall back to the brute-force similarity path; the clustering contract is
// unchanged.
var ErrIndexUnavailable = errors.New("vector index unavailable")

// Neighbor is one approximate-nearest-neighbor result.
type Neighbor struct {
	ItemID     string
	Similarity float64
}

// SimilaritySource answers "which candidate items sit at or above a cosine
// similarity floor relative to item X". Both the index-backed and the
// brute-force implementation compute the identical metric, so cluster
// membership does not depend on which one served a run.
type SimilaritySource interface {
	// Neighbors returns up to k other items with similarity >= minSimilarity,
	// most similar first, ties broken by ascending item ID.
	Neighbors(itemID string, k int, minSimilarity float64) ([]Neighbor, error)
}

// --- index-backed path ---

const indexCollection = "news_items"

// indexClient is a minimal REST client for a Qdrant-style vector index.
type indexClient struct {
	baseURL string
	client  *http.Client
}

func newIndexClient(baseURL string) *indexClient {
	return &indexClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

// EnsureCollection creates the collection if missing. The index answers 200
// for an existing collection with the same schema.
func (c *indexClient) EnsureCollection(dim int) error {
	body := map[string]any{
		"vectors": map[string]any{
			"size":     dim,
			"distance": "Cosine",
		},
	}
	_, err := c.doJSON(http.MethodPut,
		fmt.Sprintf("%s/collections/%s", c.baseURL, indexCollection), body)
	return err
}

// UpsertItems pushes item embeddings into the index, tagged with the run ID
// so searches can be scoped to one run's points. Items without a usable
// vector are skipped; a cosine collection rejects zero vectors, and one bad
// point must not fail the whole batch.
func (c *indexClient) UpsertItems(items []NewsItem, runID string) error {
	points := make([]map[string]any, 0, len(items))
	for _, item := range items {
		if len(item.Embedding) == 0 || floats.Norm(item.Embedding, 2) == 0 {
			continue
		}
		points = append(points, map[string]any{
			"id":     item.ID,
			"vector": item.Embedding,
			"payload": map[string]any{
				"source": item.Source,
				"run_id": runID,
			},
		})
	}
	if len(points) == 0 {
		return nil
	}
	_, err := c.doJSON(http.MethodPut,
		fmt.Sprintf("%s/collections/%s/points?wait=true", c.baseURL, indexCollection),
		map[string]any{"points": points})
	return err
}

// Search runs an ANN query and returns scored item IDs. A non-empty runID
// restricts the search to points upserted under that run, so results never
// compete with stale corpus points from earlier runs.
func (c *indexClient) Search(vector []float64, limit int, minSimilarity float64, runID string) ([]Neighbor, error) {
	query := map[string]any{
		"vector":          vector,
		"limit":           limit,
		"score_threshold": minSimilarity,
	}
	if runID != "" {
		query["filter"] = map[string]any{
			"must": []map[string]any{
				{"key": "run_id", "match": map[string]any{"value": runID}},
			},
		}
	}
	body, err := c.doJSON(http.MethodPost,
		fmt.Sprintf("%s/collections/%s/points/search", c.baseURL, indexCollection), query)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Result []struct {
			ID    string  `json:"id"`
			Score float64 `json:"score"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("%w: failed to parse search response: %v", ErrIndexUnavailable, err)
	}

	neighbors := make([]Neighbor, 0, len(parsed.Result))
	for _, hit := range parsed.Result {
		neighbors = append(neighbors, Neighbor{ItemID: hit.ID, Similarity: hit.Score})
	}
	return neighbors, nil
}

// doJSON performs a request with retry on rate limiting, honoring
// Retry-After and falling back to exponential backoff.
func (c *indexClient) doJSON(method, url string, payload any) ([]byte, error) {
	requestBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	maxRetries := 3
	baseDelay := 500 * time.Millisecond

	for attempt := 0; attempt <= maxRetries; attempt++ {
		req, err := http.NewRequest(method, url, bytes.NewBuffer(requestBody))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrIndexUnavailable, err)
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("%w: failed to read response: %v", ErrIndexUnavailable, err)
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			if attempt == maxRetries {
				return nil, fmt.Errorf("%w: rate limited after %d retries", ErrIndexUnavailable, maxRetries)
			}
			retryDelay := parseRetryAfter(resp.Header.Get("Retry-After"))
			if retryDelay <= 0 {
				retryDelay = baseDelay * time.Duration(1<<attempt)
			}
			log.Printf("Index rate limit hit (attempt %d/%d), retrying in %v...", attempt+1, maxRetries+1, retryDelay)
			time.Sleep(retryDelay)
			continue
		}

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("%w: status %d: %s", ErrIndexUnavailable, resp.StatusCode, string(body))
		}
		return body, nil
	}

	return nil, fmt.Errorf("%w: unexpected error in retry loop", ErrIndexUnavailable)
}

// parseRetryAfter parses the Retry-After header value and returns a duration
func parseRetryAfter(retryAfter string) time.Duration {
	if retryAfter == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(retryAfter); err == nil {
		return time.Duration(seconds) * time.Second
	}
	if retryTime, err := time.Parse(time.RFC1123, retryAfter); err == nil {
		return time.Until(retryTime)
	}
	return 0
}

// indexSource adapts the index client to SimilaritySource for one clustering
// run. The index accumulates the whole corpus across runs; every search is
// scoped to this run's points so stale corpus points can never crowd in-run
// neighbors out of a truncated result.
type indexSource struct {
	client  *indexClient
	runID   string
	vectors map[string][]float64
}

// newIndexSource ensures the collection exists, upserts the run's items under
// a fresh run ID, and returns a source scoped to them.
func newIndexSource(client *indexClient, items []NewsItem, dim int) (*indexSource, error) {
	if err := client.EnsureCollection(dim); err != nil {
		return nil, err
	}
	runID := uuid.NewString()
	if err := client.UpsertItems(items, runID); err != nil {
		return nil, err
	}
	vectors := make(map[string][]float64, len(items))
	for _, item := range items {
		vectors[item.ID] = item.Embedding
	}
	return &indexSource{client: client, runID: runID, vectors: vectors}, nil
}

func (s *indexSource) Neighbors(itemID string, k int, minSimilarity float64) ([]Neighbor, error) {
	vector, ok := s.vectors[itemID]
	if !ok {
		return nil, fmt.Errorf("item %s not in candidate set", itemID)
	}

	// The run filter leaves only this run's points, so k+1 covers the top k
	// neighbors plus the query item itself.
	hits, err := s.client.Search(vector, k+1, minSimilarity, s.runID)
	if err != nil {
		return nil, err
	}

	neighbors := make([]Neighbor, 0, len(hits))
	for _, hit := range hits {
		if hit.ItemID == itemID {
			continue
		}
		if _, inRun := s.vectors[hit.ItemID]; !inRun {
			continue
		}
		neighbors = append(neighbors, hit)
	}
	sortNeighbors(neighbors)
	if len(neighbors) > k {
		neighbors = neighbors[:k]
	}
	return neighbors, nil
}

// --- brute-force fallback ---

// bruteSource computes the full pairwise cosine similarity matrix for the
// candidate set up front. O(n^2), acceptable because candidate sets are
// bounded by the request timeframe.
type bruteSource struct {
	ids    []string
	lookup map[string]int
	sims   *mat.Dense
}

func newBruteSource(items []NewsItem) *bruteSource {
	n := len(items)
	src := &bruteSource{
		ids:    make([]string, n),
		lookup: make(map[string]int, n),
	}
	if n == 0 {
		return src
	}

	dim := len(items[0].Embedding)
	normalized := mat.NewDense(n, dim, nil)
	for i, item := range items {
		src.ids[i] = item.ID
		src.lookup[item.ID] = i
		row := make([]float64, dim)
		copy(row, item.Embedding)
		if norm := floats.Norm(row, 2); norm > 0 {
			floats.Scale(1/norm, row)
		}
		normalized.SetRow(i, row)
	}

	// With unit rows, the Gram matrix is exactly pairwise cosine similarity.
	src.sims = mat.NewDense(n, n, nil)
	src.sims.Mul(normalized, normalized.T())
	return src
}

func (s *bruteSource) Neighbors(itemID string, k int, minSimilarity float64) ([]Neighbor, error) {
	i, ok := s.lookup[itemID]
	if !ok {
		return nil, fmt.Errorf("item %s not in candidate set", itemID)
	}

	var neighbors []Neighbor
	for j, id := range s.ids {
		if j == i {
			continue
		}
		sim := s.sims.At(i, j)
		if sim >= minSimilarity {
			neighbors = append(neighbors, Neighbor{ItemID: id, Similarity: sim})
		}
	}
	sortNeighbors(neighbors)
	if len(neighbors) > k {
		neighbors = neighbors[:k]
	}
	return neighbors, nil
}

func sortNeighbors(neighbors []Neighbor) {
	sort.Slice(neighbors, func(a, b int) bool {
		if neighbors[a].Similarity != neighbors[b].Similarity {
			return neighbors[a].Similarity > neighbors[b].Similarity
		}
		return neighbors[a].ItemID < neighbors[b].ItemID
	})
}
