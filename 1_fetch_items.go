package topicfeed

import (
	"encoding/xml"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/spf13/cobra"
)

var FetchItemsCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch recent items from configured news sources",
	Run: func(cmd *cobra.Command, args []string) {
		store, err := OpenStore(Config.DatabasePath)
		if err != nil {
			log.Printf("Failed to open store: %v", err)
			return
		}
		defer store.Close()

		var wg sync.WaitGroup
		var mu sync.Mutex
		inserted := 0
		log.Printf("Processing %d sources...", len(SourceConfigs))
		for i, src := range SourceConfigs {
			wg.Add(1)
			go func(idx int, srcInfo SourceConfig) {
				defer wg.Done()
				log.Printf("Source %d/%d: %s", idx+1, len(SourceConfigs), srcInfo.Name)
				items, err := fetchFeedItems(srcInfo)
				if err != nil {
					log.Printf("Failed to fetch %s: %v (skipping source)", srcInfo.Name, err)
					return
				}
				if srcInfo.Handler != nil {
					items = srcInfo.Handler(items)
				}
				count := storeNewItems(store, &mu, items)
				log.Printf("Source %s: stored %d new items", srcInfo.Name, count)
				mu.Lock()
				inserted += count
				mu.Unlock()
			}(i, src)
		}
		wg.Wait()
		log.Printf("Fetch complete: %d new items.", inserted)
	},
}

// rssFeed covers the subset of RSS 2.0 the configured sources emit.
type rssFeed struct {
	Channel struct {
		Items []struct {
			Title       string `xml:"title"`
			Link        string `xml:"link"`
			Description string `xml:"description"`
			PubDate     string `xml:"pubDate"`
		} `xml:"item"`
	} `xml:"channel"`
}

// fetchFeedItems downloads and parses one source's RSS feed.
func fetchFeedItems(src SourceConfig) ([]NewsItem, error) {
	resp, err := http.Get(src.FeedURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("feed returned status %d: %s", resp.StatusCode, string(body))
	}

	var feed rssFeed
	if err := xml.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return nil, fmt.Errorf("failed to decode feed: %w", err)
	}

	items := make([]NewsItem, 0, len(feed.Channel.Items))
	for _, entry := range feed.Channel.Items {
		if entry.Link == "" || entry.Title == "" {
			continue
		}
		item := NewsItem{
			URL:         strings.TrimSpace(entry.Link),
			Title:       strings.TrimSpace(entry.Title),
			Body:        stripHTML(entry.Description),
			Source:      src.Name,
			PublishedAt: parsePubDate(entry.PubDate),
		}
		if src.FetchBody {
			if body, err := fetchArticleText(item.URL); err != nil {
				log.Printf("Failed to fetch body for %s: %v (keeping description)", item.URL, err)
			} else if len(body) > len(item.Body) {
				item.Body = body
			}
		}
		items = append(items, item)
	}
	return items, nil
}

// parsePubDate tries the date formats seen in the wild for RSS pubDate.
func parsePubDate(value string) time.Time {
	value = strings.TrimSpace(value)
	for _, layout := range []string{time.RFC1123Z, time.RFC1123, time.RFC822Z, time.RFC822, time.RFC3339} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC()
		}
	}
	return time.Now().UTC()
}

// stripHTML flattens a feed description to plain text.
func stripHTML(fragment string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return strings.TrimSpace(fragment)
	}
	return strings.TrimSpace(doc.Text())
}

// fetchArticleText downloads an article page and extracts paragraph text.
func fetchArticleText(url string) (string, error) {
	client := &http.Client{Timeout: 20 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return "", fmt.Errorf("failed to fetch article: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("article returned status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to parse article HTML: %w", err)
	}

	var paragraphs []string
	selection := doc.Find("article p")
	if selection.Length() == 0 {
		selection = doc.Find("main p")
	}
	if selection.Length() == 0 {
		selection = doc.Find("p")
	}
	selection.Each(func(_ int, s *goquery.Selection) {
		text := strings.TrimSpace(s.Text())
		if text != "" {
			paragraphs = append(paragraphs, text)
		}
	})
	return strings.Join(paragraphs, "\n\n"), nil
}

// storeNewItems inserts items whose URL has not been seen before. The mutex
// serializes dedup-check-then-insert across source goroutines.
func storeNewItems(store *Store, mu *sync.Mutex, items []NewsItem) int {
	mu.Lock()
	defer mu.Unlock()

	count := 0
	for _, item := range items {
		exists, err := store.ItemExists(item.URL)
		if err != nil {
			log.Printf("Failed to check existing item %s: %v", item.URL, err)
			continue
		}
		if exists {
			continue
		}
		if err := store.InsertItem(item); err != nil {
			log.Printf("Failed to insert item: %v", err)
			continue
		}
		count++
	}
	return count
}
