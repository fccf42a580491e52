package feeds

import "strings"

// CatalogFeed is a well-known IT news feed offered as a suggestion.
type CatalogFeed struct {
	Name        string `json:"name"`
	URL         string `json:"url"`
	Description string `json:"description"`
}

// Category groups catalog feeds by topic.
type Category struct {
	Name  string
	Feeds []CatalogFeed
}

// Catalog lists feeds an admin can pick from when building the registry.
var Catalog = []Category{
	{
		Name: "Korean IT News",
		Feeds: []CatalogFeed{
			{Name: "GeekNews", URL: "https://feeds.feedburner.com/geeknews", Description: "Korean developer community news digest"},
			{Name: "Naver IT News", URL: "https://news.naver.com/main/rss/section.naver?sid=105", Description: "Naver news IT and science section"},
			{Name: "TechCrunch Korea", URL: "https://kr.techcrunch.com/feed/", Description: "Startup and technology news in Korean"},
			{Name: "ZDNet Korea", URL: "https://feeds.feedburner.com/zdkorea", Description: "Enterprise IT and industry news in Korean"},
			{Name: "Bloter", URL: "https://www.bloter.net/rss/allArticle.xml", Description: "Korean technology and platform business news"},
		},
	},
	{
		Name: "Global Tech News",
		Feeds: []CatalogFeed{
			{Name: "Hacker News", URL: "https://hnrss.org/frontpage", Description: "Front page stories from Hacker News"},
			{Name: "The Verge", URL: "https://www.theverge.com/rss/index.xml", Description: "Technology, science and culture news"},
			{Name: "Ars Technica", URL: "https://feeds.arstechnica.com/arstechnica/index", Description: "Technology news and analysis"},
			{Name: "TechCrunch", URL: "https://techcrunch.com/feed/", Description: "Startup and technology news"},
		},
	},
	{
		Name: "AI and Cloud",
		Feeds: []CatalogFeed{
			{Name: "Google AI Blog", URL: "https://blog.google/technology/ai/rss/", Description: "Research and product news about AI from Google"},
			{Name: "AWS News Blog", URL: "https://aws.amazon.com/blogs/aws/feed/", Description: "Announcements of new AWS cloud services"},
			{Name: "The Go Blog", URL: "https://go.dev/blog/feed.atom", Description: "Releases and articles about the Go programming language"},
		},
	},
}

const maxSuggestions = 20

// Suggest returns catalog feeds matching the words of query. A word that
// matches a category name pulls in the whole category.
func Suggest(query string) []CatalogFeed {
	var keywords []string
	for _, w := range strings.Fields(strings.ToLower(query)) {
		if len([]rune(w)) >= 2 {
			keywords = append(keywords, w)
		}
	}
	if len(keywords) == 0 {
		return nil
	}

	matches := func(text string) bool {
		text = strings.ToLower(text)
		for _, kw := range keywords {
			if strings.Contains(text, kw) {
				return true
			}
		}
		return false
	}

	seen := make(map[string]bool)
	var out []CatalogFeed
	add := func(f CatalogFeed) {
		if !seen[f.URL] {
			seen[f.URL] = true
			out = append(out, f)
		}
	}
	for _, cat := range Catalog {
		whole := matches(cat.Name)
		for _, f := range cat.Feeds {
			if whole || matches(f.Name+" "+f.Description) {
				add(f)
			}
		}
	}

	if len(out) > maxSuggestions {
		out = out[:maxSuggestions]
	}
	return out
}
