package fetch

import (
	"fmt"
	"regexp"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"
)

// ExtractedPage holds the artifacts pulled out of one HTML document
type ExtractedPage struct {
	Title       string
	Markdown    string // Structure-preserving representation
	CleanedText string // Plain text for chunking and embedding
}

var blankLines = regexp.MustCompile(`\n{3,}`)

// ExtractPage parses HTML and extracts title, markdown and plain text
func ExtractPage(html string) (*ExtractedPage, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	title := extractTitle(doc)

	// Strip chrome before conversion
	doc.Find("script, style, nav, footer, aside, noscript, iframe").Remove()

	body, err := doc.Find("body").Html()
	if err != nil || strings.TrimSpace(body) == "" {
		body = html
	}

	converter := md.NewConverter("", true, nil)
	markdown, err := converter.ConvertString(body)
	if err != nil {
		return nil, fmt.Errorf("failed to convert HTML to markdown: %w", err)
	}
	markdown = strings.TrimSpace(blankLines.ReplaceAllString(markdown, "\n\n"))

	return &ExtractedPage{
		Title:       title,
		Markdown:    markdown,
		CleanedText: MarkdownToPlainText(markdown),
	}, nil
}

// extractTitle extracts the page title from various sources
func extractTitle(doc *goquery.Document) string {
	// Try <title> tag first
	if title := doc.Find("title").First().Text(); title != "" {
		return strings.TrimSpace(title)
	}

	// Try Open Graph title
	if ogTitle, exists := doc.Find("meta[property='og:title']").Attr("content"); exists && ogTitle != "" {
		return strings.TrimSpace(ogTitle)
	}

	// Try h1 tag
	if h1 := doc.Find("h1").First().Text(); h1 != "" {
		return strings.TrimSpace(h1)
	}

	// Try Twitter title
	if twitterTitle, exists := doc.Find("meta[name='twitter:title']").Attr("content"); exists && twitterTitle != "" {
		return strings.TrimSpace(twitterTitle)
	}

	return "Untitled"
}

// MarkdownToPlainText renders markdown down to plain text by walking the
// parsed AST and keeping only text content, with blank lines between blocks
func MarkdownToPlainText(markdown string) string {
	source := []byte(markdown)
	parser := goldmark.New(goldmark.WithExtensions(extension.GFM)).Parser()
	root := parser.Parse(text.NewReader(source))

	var buf strings.Builder
	_ = ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			if n.Type() == ast.TypeBlock {
				buf.WriteString("\n\n")
			}
			return ast.WalkContinue, nil
		}

		switch node := n.(type) {
		case *ast.Text:
			buf.Write(node.Segment.Value(source))
			if node.SoftLineBreak() || node.HardLineBreak() {
				buf.WriteByte('\n')
			}
		case *ast.AutoLink:
			buf.Write(node.URL(source))
		}
		return ast.WalkContinue, nil
	})

	cleaned := blankLines.ReplaceAllString(buf.String(), "\n\n")
	return strings.TrimSpace(cleaned)
}
