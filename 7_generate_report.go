package topicfeed

import (
	"bytes"
	_ "embed"
	"fmt"
	"html/template"
	"log"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer/html"
)

//go:embed templates/report.html
var htmlTemplate string

//go:embed templates/styles.css
var cssStyles string

var GenerateReportCmd = &cobra.Command{
	Use:   "report [user]",
	Short: "Generate a viewer's news briefing in markdown and HTML",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := DefaultTunables()

		store, err := OpenStore(Config.DatabasePath)
		if err != nil {
			log.Printf("Failed to open store: %v", err)
			return
		}
		defer store.Close()

		user, err := store.UserByName(args[0])
		if err != nil {
			log.Printf("Failed to load user: %v", err)
			return
		}
		topics, err := store.ActiveTopics()
		if err != nil {
			log.Printf("Failed to load topics: %v", err)
			return
		}

		ranked := NewRankEngine(cfg).Rank(selectedTopics(topics, user), user, "", 30, time.Now())
		report := buildReportMarkdown(store, user, ranked)

		if err := os.WriteFile("report.md", []byte(report), 0644); err != nil {
			log.Printf("Failed to write report file: %v", err)
			return
		}
		log.Println("Report generated: report.md")

		htmlContent := generateCompleteHTML(report)
		if err := os.WriteFile("report.html", []byte(htmlContent), 0644); err != nil {
			log.Printf("Failed to write HTML file: %v", err)
			return
		}
		log.Println("HTML report generated: report.html")
	},
}

// selectedTopics keeps the topics inside the viewer's category selection.
func selectedTopics(topics []Topic, viewer UserPrefs) []Topic {
	var kept []Topic
	for _, topic := range topics {
		if viewer.SelectsCategory(topic.Category) {
			kept = append(kept, topic)
		}
	}
	return kept
}

// buildReportMarkdown renders a viewer's ranked topics as markdown.
func buildReportMarkdown(store *Store, user UserPrefs, topics []Topic) string {
	var b strings.Builder
	b.WriteString("# Your News Briefing\n\n")
	fmt.Fprintf(&b, "%s | %d topics for %s\n\n", time.Now().Format("2 January 2006"), len(topics), user.Name)

	if len(topics) == 0 {
		b.WriteString("No topics in the current window.\n")
		return b.String()
	}

	for _, topic := range topics {
		fmt.Fprintf(&b, "## %s\n\n", topic.Title)
		fmt.Fprintf(&b, "*%s*", topic.Category)
		if len(topic.Tags) > 0 {
			fmt.Fprintf(&b, " — %s", strings.Join(topic.Tags, ", "))
		}
		b.WriteString("\n\n")
		if topic.Summary != "" {
			b.WriteString(topic.Summary)
			b.WriteString("\n\n")
		}

		members, err := store.ItemsByIDs(topic.MemberIDs)
		if err != nil {
			log.Printf("Failed to load members for topic %s: %v", topic.ID, err)
			continue
		}
		if len(members) > 0 {
			b.WriteString("**Coverage:**\n")
			for _, member := range members {
				fmt.Fprintf(&b, "- [%s](%s) (%s)\n", member.Title, member.URL, member.Source)
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}

// generateCompleteHTML generates a complete HTML document with embedded CSS
func generateCompleteHTML(markdownContent string) string {
	md := goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,
			extension.Table,
			extension.Linkify,
			extension.Strikethrough,
		),
		goldmark.WithParserOptions(
			parser.WithAutoHeadingID(),
		),
		goldmark.WithRendererOptions(
			html.WithHardWraps(),
			html.WithXHTML(),
		),
	)

	var buf bytes.Buffer
	if err := md.Convert([]byte(markdownContent), &buf); err != nil {
		log.Printf("Failed to convert markdown to HTML: %v", err)
		return ""
	}

	tmpl, err := template.New("report").Parse(htmlTemplate)
	if err != nil {
		log.Printf("Failed to parse HTML template: %v", err)
		return ""
	}

	data := struct {
		Title string
		Date  string
		Body  template.HTML
		CSS   template.CSS
	}{
		Title: "Your News Briefing",
		Date:  time.Now().Format("2 January 2006"),
		Body:  template.HTML(buf.String()),
		CSS:   template.CSS(cssStyles),
	}

	var result bytes.Buffer
	if err := tmpl.Execute(&result, data); err != nil {
		log.Printf("Failed to execute template: %v", err)
		return ""
	}
	return result.String()
}
