package topicfeed

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/floats"
)

// ClusterResult is the output of one clustering pass over a candidate set.
type ClusterResult struct {
	// Clusters holds topic-sized groups of items, members ordered by
	// publication recency. Every cluster size is within the configured
	// [MinClusterSize, MaxClusterSize] bounds.
	Clusters [][]NewsItem
	// Skipped lists item IDs excluded from clustering: missing, malformed,
	// or zero-norm embeddings, plus leftovers that could not reach
	// MinClusterSize.
	Skipped []string
}

// ClusterEngine partitions embedded news items into topic-sized groups by
// cosine similarity. It is written once against SimilaritySource, so the
// index-assisted path and the brute-force fallback share all membership
// logic.
type ClusterEngine struct {
	cfg Tunables
}

func NewClusterEngine(cfg Tunables) *ClusterEngine {
	return &ClusterEngine{cfg: cfg}
}

// Cluster runs greedy seed-and-grow clustering. Seeds are processed in
// descending publication order (ties by ascending ID) so fresher items
// anchor clusters and output is deterministic for a fixed input set. An
// empty candidate set yields an empty result, not an error.
func (e *ClusterEngine) Cluster(items []NewsItem, src SimilaritySource) (ClusterResult, error) {
	valid, skipped := partitionEmbeddable(items)
	if len(skipped) > 0 {
		log.Printf("Skipping %d items without a usable embedding", len(skipped))
	}
	if len(valid) == 0 {
		return ClusterResult{Skipped: skipped}, nil
	}

	sortSeeds(valid)

	byID := make(map[string]NewsItem, len(valid))
	for _, item := range valid {
		byID[item.ID] = item
	}

	assigned := make(map[string]bool, len(valid))
	var clusters [][]NewsItem
	for _, seed := range valid {
		if assigned[seed.ID] {
			continue
		}
		cluster, err := e.grow(seed, byID, assigned, src)
		if err != nil {
			return ClusterResult{}, err
		}
		clusters = append(clusters, cluster)
	}

	// Dissolve undersized clusters and retry their items as seeds among
	// themselves before declaring them unplaceable.
	var kept [][]NewsItem
	var leftovers []NewsItem
	for _, cluster := range clusters {
		if len(cluster) >= e.cfg.MinClusterSize {
			kept = append(kept, cluster)
			continue
		}
		for _, item := range cluster {
			delete(assigned, item.ID)
			leftovers = append(leftovers, item)
		}
	}

	if len(leftovers) > 0 {
		sortSeeds(leftovers)
		for _, seed := range leftovers {
			if assigned[seed.ID] {
				continue
			}
			cluster, err := e.grow(seed, byID, assigned, src)
			if err != nil {
				return ClusterResult{}, err
			}
			if len(cluster) >= e.cfg.MinClusterSize {
				kept = append(kept, cluster)
				continue
			}
			for _, item := range cluster {
				skipped = append(skipped, item.ID)
			}
		}
	}

	for _, cluster := range kept {
		sortSeeds(cluster)
	}

	return ClusterResult{Clusters: kept, Skipped: skipped}, nil
}

// grow seeds a cluster and expands it breadth-first: neighbors of the seed,
// then neighbors of newly added members, are pulled in while they stay at or
// above the threshold relative to the cluster centroid, until MaxClusterSize
// is reached.
func (e *ClusterEngine) grow(seed NewsItem, byID map[string]NewsItem, assigned map[string]bool, src SimilaritySource) ([]NewsItem, error) {
	cluster := []NewsItem{seed}
	assigned[seed.ID] = true

	// Cosine similarity is scale-invariant, so the running sum stands in for
	// the centroid mean.
	centroid := make([]float64, len(seed.Embedding))
	copy(centroid, seed.Embedding)

	queue := []string{seed.ID}
	for len(queue) > 0 && len(cluster) < e.cfg.MaxClusterSize {
		current := queue[0]
		queue = queue[1:]

		neighbors, err := src.Neighbors(current, e.cfg.MaxClusterSize, e.cfg.SimilarityThreshold)
		if err != nil {
			return nil, fmt.Errorf("failed to query neighbors for %s: %w", current, err)
		}

		for _, neighbor := range neighbors {
			if len(cluster) >= e.cfg.MaxClusterSize {
				break
			}
			if assigned[neighbor.ItemID] {
				continue
			}
			item, ok := byID[neighbor.ItemID]
			if !ok {
				continue
			}
			if cosineSimilarity(item.Embedding, centroid) < e.cfg.SimilarityThreshold {
				continue
			}
			cluster = append(cluster, item)
			assigned[item.ID] = true
			floats.Add(centroid, item.Embedding)
			queue = append(queue, item.ID)
		}
	}
	return cluster, nil
}

// partitionEmbeddable splits items into those clustering can use and those
// it must report skipped. A malformed embedding is one that is missing, has
// zero norm, or disagrees with the candidate set's dimension.
func partitionEmbeddable(items []NewsItem) (valid []NewsItem, skipped []string) {
	dim := 0
	for _, item := range items {
		if len(item.Embedding) == 0 || floats.Norm(item.Embedding, 2) == 0 {
			skipped = append(skipped, item.ID)
			continue
		}
		if dim == 0 {
			dim = len(item.Embedding)
		}
		if len(item.Embedding) != dim {
			skipped = append(skipped, item.ID)
			continue
		}
		valid = append(valid, item)
	}
	return valid, skipped
}

// sortSeeds orders items by publication timestamp descending, ID ascending.
func sortSeeds(items []NewsItem) {
	sort.Slice(items, func(i, j int) bool {
		if !items[i].PublishedAt.Equal(items[j].PublishedAt) {
			return items[i].PublishedAt.After(items[j].PublishedAt)
		}
		return items[i].ID < items[j].ID
	})
}

// cosineSimilarity calculates cosine similarity between two vectors
func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0
	}
	normA := floats.Norm(a, 2)
	normB := floats.Norm(b, 2)
	if normA == 0 || normB == 0 {
		return 0
	}
	return floats.Dot(a, b) / (normA * normB)
}

var ProcessCmd = &cobra.Command{
	Use:   "process [timeframe]",
	Short: "Cluster embedded items in a timeframe and materialize topics",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := DefaultTunables()
		timeframe := cfg.DefaultTimeframe
		if len(args) > 0 {
			timeframe = args[0]
		}
		window, err := ParseTimeframe(timeframe)
		if err != nil {
			log.Printf("Invalid timeframe: %v", err)
			return
		}

		store, err := OpenStore(Config.DatabasePath)
		if err != nil {
			log.Printf("Failed to open store: %v", err)
			return
		}
		defer store.Close()

		if err := processTimeframe(context.Background(), store, cfg, window, nil); err != nil {
			log.Printf("Failed to process timeframe: %v", err)
			return
		}
		log.Println("Processing complete.")
	},
}

// processTimeframe is one full pipeline run for a timeframe+source scope:
// load embedded items, cluster, categorize, persist. Only persistence
// failures abort the run.
func processTimeframe(ctx context.Context, store *Store, cfg Tunables, window time.Duration, sources []string) error {
	items, err := store.ItemsInWindow(time.Now().Add(-window), sources)
	if err != nil {
		return fmt.Errorf("failed to load items: %w", err)
	}
	log.Printf("Loaded %d items in window %s", len(items), window)

	engine := NewClusterEngine(cfg)
	result, err := clusterWithFallback(engine, items, cfg)
	if err != nil {
		return fmt.Errorf("failed to cluster items: %w", err)
	}
	log.Printf("Built %d clusters (%d items skipped)", len(result.Clusters), len(result.Skipped))

	if len(result.Clusters) == 0 {
		return nil
	}

	materializer := NewTopicMaterializer(cfg, newCategorizer(cfg))
	topics := materializer.MaterializeAll(ctx, result.Clusters)

	if err := store.SaveTopics(topics); err != nil {
		return fmt.Errorf("failed to save topics: %w", err)
	}
	log.Printf("Saved %d topics", len(topics))
	return nil
}

// clusterWithFallback prefers the index-assisted path and transparently
// degrades to full pairwise similarity when the index is absent or fails
// mid-run. A degraded run restarts from scratch so both code paths always
// cluster over one consistent similarity source.
func clusterWithFallback(engine *ClusterEngine, items []NewsItem, cfg Tunables) (ClusterResult, error) {
	embedded := make([]NewsItem, 0, len(items))
	for _, item := range items {
		if len(item.Embedding) > 0 {
			embedded = append(embedded, item)
		}
	}

	if Config.VectorIndexURL != "" {
		src, err := newIndexSource(newIndexClient(Config.VectorIndexURL), embedded, cfg.EmbeddingDim)
		if err != nil {
			log.Printf("Vector index unavailable: %v (falling back to pairwise similarity)", err)
		} else {
			result, err := engine.Cluster(items, src)
			if err == nil {
				return result, nil
			}
			log.Printf("Index-assisted clustering failed: %v (falling back to pairwise similarity)", err)
		}
	}

	return engine.Cluster(items, newBruteSource(embedded))
}
