package topicfeed

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log"
	"strings"
	"sync"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/floats"
)

// ErrEmbeddingUnavailable signals a provider outage. The affected item is
// skipped from clustering and not retried within the same run.
var ErrEmbeddingUnavailable = errors.New("embedding provider unavailable")

// Embedder turns raw text into a fixed-length vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

var EmbedItemsCmd = &cobra.Command{
	Use:   "embed",
	Short: "Generate embeddings for items that lack one",
	Run: func(cmd *cobra.Command, args []string) {
		store, err := OpenStore(Config.DatabasePath)
		if err != nil {
			log.Printf("Failed to open store: %v", err)
			return
		}
		defer store.Close()

		if err := embedMissingItems(context.Background(), store, newEmbedder(DefaultTunables()), DefaultTunables()); err != nil {
			log.Printf("Failed to embed items: %v", err)
			return
		}
		log.Println("Item embedding complete.")
	},
}

// newEmbedder selects the configured provider: the deterministic local
// embedder in mock mode, OpenAI otherwise.
func newEmbedder(cfg Tunables) Embedder {
	if Config.MockAI {
		return &hashEmbedder{dim: cfg.EmbeddingDim}
	}
	return &openAIEmbedder{apiKey: Config.OpenAIAPIKey, dim: cfg.EmbeddingDim}
}

// embedMissingItems embeds every stored item without a vector, fanning work
// out across a bounded worker pool. Individual provider failures are logged
// and skipped; they never abort the batch.
func embedMissingItems(ctx context.Context, store *Store, embedder Embedder, cfg Tunables) error {
	items, err := store.ItemsMissingEmbedding()
	if err != nil {
		return fmt.Errorf("failed to load items: %w", err)
	}
	if len(items) == 0 {
		log.Println("No items waiting for embeddings")
		return nil
	}

	// At least one worker, or the sends below would block forever.
	workers := max(cfg.EmbedWorkers, 1)
	log.Printf("Embedding %d items with %d workers", len(items), workers)

	jobs := make(chan NewsItem)
	var wg sync.WaitGroup
	var mu sync.Mutex
	embedded, skipped := 0, 0

	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range jobs {
				// Title plus body gives the richest semantic signal.
				vec, err := embedder.Embed(ctx, item.Title+" "+item.Body)
				if err != nil {
					log.Printf("Failed to embed item %s: %v (skipping)", item.ID, err)
					mu.Lock()
					skipped++
					mu.Unlock()
					continue
				}
				if err := store.SaveEmbedding(item.ID, vec); err != nil {
					log.Printf("Failed to save embedding for %s: %v", item.ID, err)
					continue
				}
				mu.Lock()
				embedded++
				mu.Unlock()
			}
		}()
	}

	for _, item := range items {
		jobs <- item
	}
	close(jobs)
	wg.Wait()

	log.Printf("Embedded %d items (%d skipped)", embedded, skipped)
	return nil
}

// openAIEmbedder calls the OpenAI embeddings API.
type openAIEmbedder struct {
	apiKey string
	dim    int
}

func (e *openAIEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	client := openai.NewClient(option.WithAPIKey(e.apiKey))

	embedding, err := client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{
			OfString: openai.String(text),
		},
		Model:          openai.EmbeddingModelTextEmbedding3Small,
		Dimensions:     openai.Int(int64(e.dim)),
		EncodingFormat: openai.EmbeddingNewParamsEncodingFormatFloat,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingUnavailable, err)
	}
	if len(embedding.Data) == 0 {
		return nil, fmt.Errorf("%w: no embedding data in response", ErrEmbeddingUnavailable)
	}
	return embedding.Data[0].Embedding, nil
}

// hashEmbedder is the deterministic mock provider: a hashed bag-of-words
// projection, L2-normalized. Texts sharing vocabulary land close together in
// cosine space, which is enough for offline runs and tests.
type hashEmbedder struct {
	dim int
}

func (e *hashEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	vec := make([]float64, e.dim)
	for _, token := range strings.Fields(strings.ToLower(text)) {
		token = strings.Trim(token, ".,;:!?\"'()[]")
		if token == "" {
			continue
		}
		h := fnv.New64a()
		h.Write([]byte(token))
		sum := h.Sum64()
		idx := int(sum % uint64(e.dim))
		sign := 1.0
		if sum&(1<<63) != 0 {
			sign = -1.0
		}
		vec[idx] += sign
	}

	norm := floats.Norm(vec, 2)
	if norm == 0 {
		return nil, fmt.Errorf("%w: text produced a zero vector", ErrEmbeddingUnavailable)
	}
	floats.Scale(1/norm, vec)
	return vec, nil
}
