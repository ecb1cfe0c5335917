package textract

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
)

const documentXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>
<w:p><w:pPr><w:pStyle w:val="Heading1"/></w:pPr><w:r><w:t>Chapter 1: Mechanics</w:t></w:r></w:p>
<w:p><w:r><w:t xml:space="preserve">Newton&apos;s laws &amp; </w:t></w:r><w:proofErr w:type="spellStart"/><w:r><w:t>momentum</w:t></w:r></w:p>
<w:p/>
<w:p><w:r><w:t>Exercise 1.2</w:t></w:r></w:p>
</w:body></w:document>`

const relsXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships"></Relationships>`

const contentTypesXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">
<Override PartName="/word/document.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"/>
</Types>`

func buildDOCX(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range map[string]string{
		"[Content_Types].xml":          contentTypesXML,
		"word/document.xml":            documentXML,
		"word/_rels/document.xml.rels": relsXML,
	} {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("zip create %s: %v", name, err)
		}
		if _, err := w.Write([]byte(body)); err != nil {
			t.Fatalf("zip write %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}

func TestExtractText(t *testing.T) {
	tests := []struct {
		name string
		data string
		mime string
		want string
	}{
		{"plain", "Chapter 1: Mechanics", "text/plain", "Chapter 1: Mechanics"},
		{"charset parameter", "Unit 1: Waves", "text/plain; charset=utf-8", "Unit 1: Waves"},
		{"byte order mark", "\xef\xbb\xbfUnit 2: Optics", "text/plain", "Unit 2: Optics"},
		{"invalid utf-8", "Heat\xff", "TEXT/PLAIN", "Heat�"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Extract([]byte(tt.data), tt.mime)
			if err != nil {
				t.Fatalf("Extract: %v", err)
			}
			if got != tt.want {
				t.Errorf("Extract() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtractDOCX(t *testing.T) {
	got, err := Extract(buildDOCX(t), MimeDOCX)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	want := "Chapter 1: Mechanics\nNewton's laws & momentum\nExercise 1.2"
	if got != want {
		t.Errorf("Extract() = %q, want %q", got, want)
	}
}

func TestExtractRejects(t *testing.T) {
	tests := []struct {
		name        string
		data        []byte
		mime        string
		unsupported bool
	}{
		{"image", []byte{0x89, 'P', 'N', 'G'}, "image/png", true},
		{"legacy word", []byte("doc"), "application/msword", true},
		{"empty type", []byte("x"), "", true},
		{"broken pdf", []byte("%PDF-1.4 garbage"), MimePDF, false},
		{"broken docx", []byte("not a zip"), MimeDOCX, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Extract(tt.data, tt.mime)
			if err == nil {
				t.Fatal("expected error")
			}
			if errors.Is(err, ErrUnsupportedType) != tt.unsupported {
				t.Errorf("errors.Is(ErrUnsupportedType) = %v, want %v (err: %v)", !tt.unsupported, tt.unsupported, err)
			}
		})
	}
}

func TestExtractAll(t *testing.T) {
	files := []File{
		{Name: "a.txt", MimeType: MimeText, Data: []byte("first")},
		{Name: "b.docx", MimeType: MimeDOCX, Data: buildDOCX(t)},
		{Name: "c.txt", MimeType: MimeText, Data: []byte("third")},
	}
	results, err := ExtractAll(context.Background(), files)
	if err != nil {
		t.Fatalf("ExtractAll: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	if results[0].Text != "first" || results[2].Text != "third" {
		t.Errorf("results out of order: %+v", results)
	}
	if !strings.HasPrefix(results[1].Text, "Chapter 1") || results[1].Size != int64(len(files[1].Data)) {
		t.Errorf("docx result = %+v", results[1])
	}

	files = append(files, File{Name: "d.png", MimeType: "image/png", Data: []byte{1}})
	if _, err := ExtractAll(context.Background(), files); !errors.Is(err, ErrUnsupportedType) {
		t.Errorf("expected ErrUnsupportedType, got %v", err)
	}
}

func TestChunk(t *testing.T) {
	text := strings.Repeat("abcdefghij\n", 10)
	chunks := Chunk(text, 35)
	if len(chunks) != 4 {
		t.Fatalf("got %d chunks, want 4: %q", len(chunks), chunks)
	}
	for _, c := range chunks {
		if len(c) > 35 {
			t.Errorf("chunk longer than limit: %q", c)
		}
	}
	if joined := strings.Join(chunks, "\n"); joined != strings.TrimSuffix(text, "\n") {
		t.Errorf("chunks lost text: %q", joined)
	}

	if got := Chunk("  \n\n", 10); len(got) != 0 {
		t.Errorf("blank text gave %q", got)
	}
	if got := Chunk(strings.Repeat("x", 50), 10); len(got) != 1 {
		t.Errorf("long line split into %d chunks, want 1", len(got))
	}
}

func TestTypeByExtension(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"notes.PDF", MimePDF},
		{"syllabus.docx", MimeDOCX},
		{"outline.txt", MimeText},
		{"README.md", MimeText},
		{"diagram.png", ""},
		{"noext", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TypeByExtension(tt.name); got != tt.want {
				t.Errorf("TypeByExtension(%q) = %q, want %q", tt.name, got, tt.want)
			}
		})
	}
}
