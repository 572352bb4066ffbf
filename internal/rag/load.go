package rag

import (
	"bytes"
	"context"
	"path"
	"strings"

	"github.com/pkg/errors"
	"github.com/tmc/langchaingo/documentloaders"
	"github.com/tmc/langchaingo/schema"
)

// Kind is the detected document format.
type Kind string

const (
	KindPDF  Kind = "pdf"
	KindHTML Kind = "html"
	KindText Kind = "text"
)

// Detect picks a loader from the content type, falling back to the file
// extension when the server reports a generic type.
func Detect(name, contentType string) Kind {
	switch {
	case contentType == "application/pdf":
		return KindPDF
	case contentType == "text/html", contentType == "application/xhtml+xml":
		return KindHTML
	}
	switch strings.ToLower(path.Ext(name)) {
	case ".pdf":
		return KindPDF
	case ".html", ".htm", ".xhtml":
		return KindHTML
	}
	return KindText
}

// Load extracts plain text from doc.
func Load(ctx context.Context, doc *Document) (string, error) {
	r := bytes.NewReader(doc.Data)

	var loader documentloaders.Loader
	kind := Detect(doc.Name, doc.ContentType)
	switch kind {
	case KindPDF:
		loader = documentloaders.NewPDF(r, int64(len(doc.Data)))
	case KindHTML:
		loader = documentloaders.NewHTML(r)
	default:
		loader = documentloaders.NewText(r)
	}

	pages, err := loader.Load(ctx)
	if err != nil {
		return "", errors.Wrapf(err, "rag: load %s", kind)
	}
	return joinPages(pages), nil
}

func joinPages(pages []schema.Document) string {
	var b strings.Builder
	for i, p := range pages {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(p.PageContent)
	}
	return b.String()
}
