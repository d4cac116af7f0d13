package topicfeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/invopop/jsonschema"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// ErrGeneratorUnavailable signals a category/summary generator failure.
// Categorization degrades per topic; it never aborts the pipeline run.
var ErrGeneratorUnavailable = errors.New("generator unavailable")

// TopicDraft is the structured response from the category/summary generator
type TopicDraft struct {
	Title    string   `json:"title" jsonschema:"description=Short headline covering the whole group of articles"`
	Summary  string   `json:"summary" jsonschema:"description=Concise summary merging the information from all articles"`
	Tags     []string `json:"tags" jsonschema:"description=Three to five short topical tags"`
	Category string   `json:"category" jsonschema:"description=Single category label for the group"`
}

// Categorizer produces a topic's descriptive fields from its members' text.
type Categorizer interface {
	Categorize(ctx context.Context, text string) (TopicDraft, error)
}

// newCategorizer selects the configured generator: the keyword heuristic in
// mock mode, OpenAI otherwise.
func newCategorizer(cfg Tunables) Categorizer {
	if Config.MockAI {
		return &keywordCategorizer{categories: cfg.Categories}
	}
	return &openAICategorizer{apiKey: Config.OpenAIAPIKey, categories: cfg.Categories}
}

// TopicMaterializer turns clusters into persisted-ready Topics, one
// generator call per cluster.
type TopicMaterializer struct {
	cfg Tunables
	cat Categorizer
}

func NewTopicMaterializer(cfg Tunables, cat Categorizer) *TopicMaterializer {
	return &TopicMaterializer{cfg: cfg, cat: cat}
}

// MaterializeAll categorizes clusters concurrently across a bounded worker
// pool. Failure domains are isolated: one cluster's generator failure
// degrades that topic only, the siblings proceed.
func (m *TopicMaterializer) MaterializeAll(ctx context.Context, clusters [][]NewsItem) []Topic {
	topics := make([]Topic, len(clusters))
	jobs := make(chan int)
	var wg sync.WaitGroup

	// At least one worker, or the sends below would block forever.
	workers := max(m.cfg.CategorizeWorkers, 1)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				topics[i] = m.Materialize(ctx, clusters[i])
			}
		}()
	}
	for i := range clusters {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	return topics
}

// Materialize builds one Topic from a cluster. If the generator fails, times
// out, or returns a category outside the configured set, the topic is still
// created: heuristic title from the most recent member, empty summary, and
// the default category.
func (m *TopicMaterializer) Materialize(ctx context.Context, members []NewsItem) Topic {
	callCtx, cancel := context.WithTimeout(ctx, m.cfg.GeneratorTimeout)
	defer cancel()

	draft, err := m.cat.Categorize(callCtx, clusterText(members))
	if err != nil {
		log.Printf("Categorization degraded for cluster of %d items: %v", len(members), err)
		draft = TopicDraft{}
	}

	if draft.Title == "" {
		// Members arrive ordered by recency; the freshest headline stands in.
		draft.Title = members[0].Title
	}
	if !m.cfg.ValidCategory(draft.Category) {
		if draft.Category != "" {
			log.Printf("Generator returned unknown category %q, coercing to %q", draft.Category, m.cfg.DefaultCategory)
		}
		draft.Category = m.cfg.DefaultCategory
	}
	if draft.Tags == nil {
		draft.Tags = []string{}
	}

	now := time.Now().UTC()
	topic := Topic{
		ID:        uuid.NewString(),
		Title:     draft.Title,
		Summary:   draft.Summary,
		Category:  draft.Category,
		Tags:      draft.Tags,
		CreatedAt: now,
		UpdatedAt: now,
		MemberIDs: make([]string, 0, len(members)),
	}
	for _, member := range members {
		topic.MemberIDs = append(topic.MemberIDs, member.ID)
	}
	return topic
}

// clusterText concatenates member titles and bodies for the generator,
// sampling bodies down so large clusters stay inside a sane prompt budget.
func clusterText(members []NewsItem) string {
	const perItemBudget = 1500

	var b strings.Builder
	for _, member := range members {
		b.WriteString(member.Title)
		b.WriteString("\n")
		body := member.Body
		if len(body) > perItemBudget {
			body = body[:perItemBudget]
		}
		b.WriteString(body)
		b.WriteString("\n---\n")
	}
	return b.String()
}

// openAICategorizer calls the chat completions API with a strict JSON-schema
// response format.
type openAICategorizer struct {
	apiKey     string
	categories []string
}

func (c *openAICategorizer) Categorize(ctx context.Context, text string) (TopicDraft, error) {
	// Generate JSON schema for structured output
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	schemaObj := reflector.Reflect(&TopicDraft{})
	if schemaObj.Type == "" {
		schemaObj.Type = "object"
	}

	schemaBytes, err := json.Marshal(schemaObj)
	if err != nil {
		return TopicDraft{}, fmt.Errorf("failed to marshal schema: %w", err)
	}
	var schema any
	if err := json.Unmarshal(schemaBytes, &schema); err != nil {
		return TopicDraft{}, fmt.Errorf("failed to unmarshal schema: %w", err)
	}

	systemContent := fmt.Sprintf(`You are an expert news editor. You are given several related news articles separated by "---".

Your tasks:
1. Write one common headline covering the whole group
2. Write a concise merged summary in simple sentences
3. Pick three to five short topical tags
4. Choose exactly one category from this list: %s`, strings.Join(c.categories, ", "))

	client := openai.NewClient(option.WithAPIKey(c.apiKey))
	chatCompletion, err := client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemContent),
			openai.UserMessage(text),
		},
		Model:       openai.ChatModelGPT4_1,
		MaxTokens:   openai.Int(1000),
		Temperature: openai.Float(0.1),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:        "topic_draft",
					Description: openai.String("Title, summary, tags, and category for a group of related news articles"),
					Schema:      schema,
					Strict:      openai.Bool(true),
				},
			},
		},
	})
	if err != nil {
		return TopicDraft{}, fmt.Errorf("%w: %v", ErrGeneratorUnavailable, err)
	}
	if len(chatCompletion.Choices) == 0 || chatCompletion.Choices[0].Message.Content == "" {
		return TopicDraft{}, fmt.Errorf("%w: empty response", ErrGeneratorUnavailable)
	}

	var draft TopicDraft
	if err := json.Unmarshal([]byte(chatCompletion.Choices[0].Message.Content), &draft); err != nil {
		return TopicDraft{}, fmt.Errorf("%w: failed to parse response: %v", ErrGeneratorUnavailable, err)
	}
	return draft, nil
}

// keywordCategorizer is the deterministic mock generator used in offline
// runs and tests: category by keyword vote, tags from the most frequent
// terms, title from the first headline in the prompt.
type keywordCategorizer struct {
	categories []string
}

var categoryKeywords = map[string][]string{
	"politics":      {"election", "government", "minister", "parliament", "senate", "president", "policy", "vote"},
	"business":      {"market", "stocks", "economy", "earnings", "inflation", "bank", "trade", "startup"},
	"technology":    {"software", "ai", "chip", "internet", "app", "cyber", "robot", "computer"},
	"science":       {"research", "study", "space", "physics", "climate", "biology", "telescope", "genome"},
	"health":        {"health", "hospital", "vaccine", "disease", "virus", "drug", "cancer", "doctors"},
	"sports":        {"match", "league", "tournament", "goal", "championship", "olympic", "coach", "season"},
	"entertainment": {"film", "music", "festival", "celebrity", "album", "theater", "award", "series"},
	"world":         {"war", "border", "treaty", "refugee", "diplomacy", "sanctions", "summit", "nation"},
}

func (c *keywordCategorizer) Categorize(_ context.Context, text string) (TopicDraft, error) {
	lower := strings.ToLower(text)

	bestCategory := ""
	bestScore := 0
	var tags []string
	for _, category := range c.categories {
		score := 0
		for _, keyword := range categoryKeywords[category] {
			count := strings.Count(lower, keyword)
			score += count
			if count > 0 {
				tags = append(tags, keyword)
			}
		}
		if score > bestScore {
			bestScore = score
			bestCategory = category
		}
	}

	sort.Strings(tags)
	if len(tags) > 5 {
		tags = tags[:5]
	}

	title, _, _ := strings.Cut(text, "\n")
	return TopicDraft{
		Title:    strings.TrimSpace(title),
		Summary:  "",
		Tags:     tags,
		Category: bestCategory,
	}, nil
}
