// Package ingest turns files and URLs selected during a workflow into
// plain text for the working context: PDF extraction, readable-article
// extraction for web pages, markdown flattening, raw text fallback.
package ingest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-shiori/go-readability"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// ContentType identifies an extractor slot (file extension or MIME type).
type ContentType string

// TypeMarkdown is the content type for markdown documents.
const TypeMarkdown ContentType = "text/markdown"

// Extractor converts one document format to plain text.
type Extractor interface {
	Extract(content []byte) (string, error)
}

// Ingestor routes a selected path or URL to the right extractor. It
// implements the workflow engine's FileIngestor contract.
type Ingestor struct {
	extractors map[ContentType]Extractor
	client     *http.Client
	maxBytes   int64
}

// Option configures an Ingestor.
type Option func(*Ingestor)

// WithExtractor registers an extractor for a content type. The PDF
// extractor lives in the ingest/pdf subpackage so its dependency is only
// pulled in by users who need it.
func WithExtractor(ct ContentType, e Extractor) Option {
	return func(i *Ingestor) { i.extractors[ct] = e }
}

// WithHTTPClient overrides the client used for URL ingestion.
func WithHTTPClient(c *http.Client) Option {
	return func(i *Ingestor) { i.client = c }
}

// WithMaxBytes caps how much of a file or response body is read.
// Default: 8 MB.
func WithMaxBytes(n int64) Option {
	return func(i *Ingestor) { i.maxBytes = n }
}

// New creates an Ingestor with the markdown extractor built in.
func New(opts ...Option) *Ingestor {
	i := &Ingestor{
		extractors: map[ContentType]Extractor{TypeMarkdown: markdownExtractor{}},
		client:     &http.Client{},
		maxBytes:   8 * 1024 * 1024,
	}
	for _, o := range opts {
		o(i)
	}
	return i
}

// Ingest extracts plain text from a local file or an http(s) URL.
func (i *Ingestor) Ingest(ctx context.Context, pathOrURL string) (string, error) {
	if strings.HasPrefix(pathOrURL, "http://") || strings.HasPrefix(pathOrURL, "https://") {
		return i.ingestURL(ctx, pathOrURL)
	}
	return i.ingestFile(pathOrURL)
}

func (i *Ingestor) ingestFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("ingest: %w", err)
	}
	defer f.Close()
	content, err := io.ReadAll(io.LimitReader(f, i.maxBytes))
	if err != nil {
		return "", fmt.Errorf("ingest %s: %w", path, err)
	}

	switch ct := typeForPath(path); ct {
	case "":
		return string(content), nil
	default:
		extractor, ok := i.extractors[ct]
		if !ok {
			return string(content), nil
		}
		out, err := extractor.Extract(content)
		if err != nil {
			return "", fmt.Errorf("ingest %s: %w", path, err)
		}
		return out, nil
	}
}

func (i *Ingestor) ingestURL(ctx context.Context, rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("ingest: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("ingest: %w", err)
	}
	resp, err := i.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("ingest %s: %w", rawURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ingest %s: status %d", rawURL, resp.StatusCode)
	}

	article, err := readability.FromReader(io.LimitReader(resp.Body, i.maxBytes), parsed)
	if err != nil {
		return "", fmt.Errorf("ingest %s: %w", rawURL, err)
	}
	return strings.TrimSpace(article.TextContent), nil
}

// typeForPath maps a file extension to a registered content type. Unknown
// extensions ingest as raw text.
func typeForPath(path string) ContentType {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return "application/pdf"
	case ".md", ".markdown":
		return TypeMarkdown
	default:
		return ""
	}
}

// markdownExtractor flattens a markdown document to its text content by
// walking the parsed AST.
type markdownExtractor struct{}

func (markdownExtractor) Extract(content []byte) (string, error) {
	doc := goldmark.New().Parser().Parse(text.NewReader(content))
	var b bytes.Buffer
	err := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Text:
			b.Write(node.Segment.Value(content))
			if node.SoftLineBreak() || node.HardLineBreak() {
				b.WriteByte('\n')
			}
		case *ast.Paragraph, *ast.Heading, *ast.ListItem:
			if b.Len() > 0 {
				b.WriteByte('\n')
			}
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return "", fmt.Errorf("markdown: %w", err)
	}
	return strings.TrimSpace(b.String()), nil
}
