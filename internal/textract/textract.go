// Package textract pulls plain text out of uploaded documents.
package textract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html"
	"mime"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"golang.org/x/sync/errgroup"
)

// Supported MIME types.
const (
	MimePDF  = "application/pdf"
	MimeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	MimeText = "text/plain"
)

var extTypes = map[string]string{
	".pdf":  MimePDF,
	".docx": MimeDOCX,
	".txt":  MimeText,
	".md":   MimeText,
}

// TypeByExtension returns the MIME type for a file name, or "" when the
// extension is not one Extract understands.
func TypeByExtension(name string) string {
	return extTypes[strings.ToLower(filepath.Ext(name))]
}

// ErrUnsupportedType is returned for MIME types that cannot be extracted.
var ErrUnsupportedType = errors.New("textract: unsupported MIME type")

// maxParallel bounds concurrent extractions in ExtractAll.
const maxParallel = 4

var (
	paragraphRe = regexp.MustCompile(`<w:p(?:\s[^>]*)?/?>`)
	tagRe       = regexp.MustCompile(`<[^>]*>`)
)

// Extract returns the plain text of data. MIME parameters such as charset are ignored.
func Extract(data []byte, mimeType string) (string, error) {
	mt, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedType, mimeType)
	}
	switch mt {
	case MimePDF:
		return extractPDF(data)
	case MimeDOCX:
		return extractDOCX(data)
	case MimeText:
		return extractText(data), nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedType, mt)
	}
}

func extractPDF(data []byte) (text string, err error) {
	// The pdf reader panics on some malformed files.
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("read pdf: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}

	var pages []string
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		page, err := p.GetPlainText(nil)
		if err != nil {
			continue
		}
		if page = strings.TrimSpace(page); page != "" {
			pages = append(pages, page)
		}
	}
	if len(pages) == 0 && r.NumPage() > 0 {
		return "", errors.New("no text extracted from pdf (scanned document?)")
	}
	return strings.Join(pages, "\n\n"), nil
}

func extractDOCX(data []byte) (string, error) {
	r, err := docx.ReadDocxFromMemory(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("read docx: %w", err)
	}
	defer r.Close()

	var paragraphs []string
	for _, part := range paragraphRe.Split(r.Editable().GetContent(), -1) {
		text := strings.TrimSpace(html.UnescapeString(tagRe.ReplaceAllString(part, "")))
		if text != "" {
			paragraphs = append(paragraphs, text)
		}
	}
	return strings.Join(paragraphs, "\n"), nil
}

func extractText(data []byte) string {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if utf8.Valid(data) {
		return string(data)
	}
	return strings.ToValidUTF8(string(data), "�")
}

// File is one upload to extract.
type File struct {
	Name     string
	MimeType string
	Data     []byte
}

// Result is the extracted text of one File.
type Result struct {
	Name     string
	MimeType string
	Size     int64
	Text     string
}

// ExtractAll extracts files concurrently. Results keep the order of files; the
// first failure cancels the rest.
func ExtractAll(ctx context.Context, files []File) ([]Result, error) {
	results := make([]Result, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallel)

	for i, f := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			text, err := Extract(f.Data, f.MimeType)
			if err != nil {
				return fmt.Errorf("extract %s: %w", f.Name, err)
			}
			results[i] = Result{Name: f.Name, MimeType: f.MimeType, Size: int64(len(f.Data)), Text: text}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Chunk splits text into blocks of about size characters on line boundaries.
// A single line longer than size becomes its own block.
func Chunk(text string, size int) []string {
	var chunks []string
	var buf strings.Builder
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, " \t\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		if buf.Len() > 0 && buf.Len()+len(line)+1 > size {
			chunks = append(chunks, buf.String())
			buf.Reset()
		}
		if buf.Len() > 0 {
			buf.WriteByte('\n')
		}
		buf.WriteString(line)
	}
	if buf.Len() > 0 {
		chunks = append(chunks, buf.String())
	}
	return chunks
}
