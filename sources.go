package topicfeed

import (
	"time"
)

// SourceConfig represents a configured news feed
type SourceConfig struct {
	Name    string
	FeedURL string
	// FetchBody pulls full article text for items whose feed entry carries
	// only a short description.
	FetchBody bool
	// Handler post-filters fetched items before they are stored.
	Handler func([]NewsItem) []NewsItem
}

// withinLast keeps items published inside the given window.
func withinLast(window time.Duration) func([]NewsItem) []NewsItem {
	return func(items []NewsItem) []NewsItem {
		var selected []NewsItem
		for _, item := range items {
			if time.Since(item.PublishedAt) > window {
				continue
			}
			selected = append(selected, item)
		}
		return selected
	}
}

// SourceConfigs contains all configured feed sources
var SourceConfigs = []SourceConfig{
	{
		Name:    "BBC World",
		FeedURL: "https://feeds.bbci.co.uk/news/world/rss.xml",
		Handler: withinLast(48 * time.Hour),
	},
	{
		Name:    "BBC Technology",
		FeedURL: "https://feeds.bbci.co.uk/news/technology/rss.xml",
		Handler: withinLast(48 * time.Hour),
	},
	{
		Name:      "Guardian World",
		FeedURL:   "https://www.theguardian.com/world/rss",
		FetchBody: true,
		Handler:   withinLast(24 * time.Hour),
	},
	{
		Name:    "Ars Technica",
		FeedURL: "https://feeds.arstechnica.com/arstechnica/index",
		Handler: withinLast(48 * time.Hour),
	},
	{
		Name:      "Hacker News Frontpage",
		FeedURL:   "https://hnrss.org/frontpage",
		FetchBody: true,
		Handler: func(items []NewsItem) []NewsItem {
			// HN links often point at papers or repos with no body text;
			// keep only items that fetched something substantial.
			var selected []NewsItem
			for _, item := range items {
				if time.Since(item.PublishedAt) > 24*time.Hour {
					continue
				}
				if len(item.Body) < 200 {
					continue
				}
				selected = append(selected, item)
			}
			return selected
		},
	},
	{
		Name:    "Reuters Top News",
		FeedURL: "https://www.reutersagency.com/feed/?best-topics=top-news",
		Handler: withinLast(24 * time.Hour),
	},
}
