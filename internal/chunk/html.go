package chunk

import (
	"bytes"
	"context"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// HTMLChunker extracts visible text from HTML documents, splitting on
// block-level section boundaries (headings, articles, sections) so each
// chunk corresponds to one readable section rather than raw markup.
type HTMLChunker struct {
	maxChunkTokens int
}

// NewHTMLChunker creates an HTML chunker with default sizing.
func NewHTMLChunker() *HTMLChunker {
	return &HTMLChunker{maxChunkTokens: DefaultMaxChunkTokens}
}

// SupportedExtensions returns the file extensions this chunker handles.
func (c *HTMLChunker) SupportedExtensions() []string {
	return []string{".html", ".htm"}
}

var sectionBreakTags = map[atom.Atom]bool{
	atom.H1: true, atom.H2: true, atom.H3: true,
	atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Section: true, atom.Article: true, atom.Div: true,
}

var skipTags = map[atom.Atom]bool{
	atom.Script: true, atom.Style: true, atom.Noscript: true, atom.Head: true,
}

// Chunk walks the HTML document, collecting visible text into one chunk per
// section boundary. Sections without a heading fall under whatever heading
// path they're nested beneath.
func (c *HTMLChunker) Chunk(_ context.Context, file *FileInput) ([]*Chunk, error) {
	if strings.TrimSpace(string(file.Content)) == "" {
		return nil, nil
	}

	doc, err := html.Parse(bytes.NewReader(file.Content))
	if err != nil {
		return nil, nil
	}

	w := &htmlWalker{file: file, now: time.Now()}
	w.walk(doc, "")
	w.flush()

	return reindex(w.chunks), nil
}

type htmlWalker struct {
	file    *FileInput
	now     time.Time
	chunks  []*Chunk
	buf     strings.Builder
	heading string
}

func (w *htmlWalker) walk(n *html.Node, heading string) {
	if n.Type == html.ElementNode && skipTags[n.DataAtom] {
		return
	}

	if n.Type == html.ElementNode && sectionBreakTags[n.DataAtom] && w.buf.Len() > 0 {
		w.flush()
	}

	nextHeading := heading
	if n.Type == html.ElementNode {
		switch n.DataAtom {
		case atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6:
			nextHeading = strings.TrimSpace(textContent(n))
		}
	}

	if n.Type == html.TextNode {
		text := strings.TrimSpace(n.Data)
		if text != "" {
			if w.buf.Len() > 0 {
				w.buf.WriteString(" ")
			}
			w.buf.WriteString(text)
		}
	}

	w.heading = nextHeading
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		w.walk(child, nextHeading)
	}
}

func (w *htmlWalker) flush() {
	text := strings.TrimSpace(w.buf.String())
	w.buf.Reset()
	if text == "" {
		return
	}
	w.chunks = append(w.chunks, &Chunk{
		DocID:       w.file.DocID,
		FilePath:    w.file.Path,
		Content:     text,
		RawContent:  text,
		ContentType: ContentTypeHTML,
		Language:    "html",
		HeadingPath: w.heading,
		TokenRange:  TokenRange{Start: 0, End: estimateTokens(text)},
		Metadata:    map[string]string{"heading": w.heading},
		CreatedAt:   w.now,
		UpdatedAt:   w.now,
	})
}

func textContent(n *html.Node) string {
	var buf strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			buf.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return buf.String()
}
