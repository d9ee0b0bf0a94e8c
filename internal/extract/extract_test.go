package extract

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"
)

// fakeOCR returns a fixed result for every image.
type fakeOCR struct {
	text  string
	err   error
	calls int
}

func (f *fakeOCR) Recognize(_ context.Context, _ string) (string, error) {
	f.calls++
	return f.text, f.err
}

// collect drains an extraction, failing the test on error.
func collect(t *testing.T, e *Extractor, path string) []Page {
	t.Helper()
	var pages []Page
	for p, err := range e.Extract(context.Background(), path) {
		if err != nil {
			t.Fatalf("Extract(%s): %v", path, err)
		}
		pages = append(pages, p)
	}
	return pages
}

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestKindOf(t *testing.T) {
	t.Parallel()

	tests := map[string]Kind{
		"a.txt":          KindText,
		"notes.MD":       KindText,
		"run.log":        KindText,
		"procedure.docx": KindDocx,
		"manual.PDF":     KindPDF,
		"data.csv":       KindTable,
		"data.tsv":       KindTable,
		"book.xlsx":      KindTable,
		"scan.png":       KindImage,
		"scan.jpeg":      KindImage,
		"scan.TIF":       KindImage,
		"archive.zip":    KindUnknown,
		"no-extension":   KindUnknown,
		"legacy.doc":     KindUnknown,
		"dir.txt/inner":  KindUnknown,
		"/abs/path.tiff": KindImage,
	}
	for path, want := range tests {
		if got := KindOf(path); got != want {
			t.Errorf("KindOf(%q) = %v, want %v", path, got, want)
		}
	}
}

func TestExtract_Text(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "a.txt", []byte("Hello world"))
	pages := collect(t, New(&fakeOCR{}), path)
	if len(pages) != 1 {
		t.Fatalf("got %d pages, want 1", len(pages))
	}
	if pages[0].Number != 1 || pages[0].Text != "Hello world" {
		t.Errorf("got %+v", pages[0])
	}
}

func TestExtract_TextDropsInvalidUTF8(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "broken.md", []byte("ok\xff\xfe then more"))
	pages := collect(t, New(&fakeOCR{}), path)
	if got := pages[0].Text; got != "ok then more" {
		t.Errorf("got %q, want %q", got, "ok then more")
	}
}

func TestExtract_UnsupportedYieldsEmptyPage(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "blob.bin", []byte{0x00, 0x01, 0x02})
	pages := collect(t, New(&fakeOCR{}), path)
	if len(pages) != 1 {
		t.Fatalf("got %d pages, want 1", len(pages))
	}
	if pages[0].Number != 1 || pages[0].Text != "" {
		t.Errorf("got %+v, want empty page 1", pages[0])
	}
}

func TestExtract_ImageUsesOCR(t *testing.T) {
	t.Parallel()

	ocr := &fakeOCR{text: "PUMP P-101"}
	path := writeFile(t, "scan.png", []byte("not really a png"))
	pages := collect(t, New(ocr), path)
	if ocr.calls != 1 {
		t.Errorf("ocr calls: got %d, want 1", ocr.calls)
	}
	if pages[0].Text != "PUMP P-101" {
		t.Errorf("got %q", pages[0].Text)
	}
}

func TestExtract_OCRFailureYieldsEmptyPage(t *testing.T) {
	t.Parallel()

	ocr := &fakeOCR{err: errors.New("tesseract not installed")}
	path := writeFile(t, "scan.jpg", []byte("x"))
	pages := collect(t, New(ocr), path)
	if len(pages) != 1 || pages[0].Text != "" || pages[0].Number != 1 {
		t.Errorf("got %+v, want one empty page", pages)
	}
}

func TestExtract_CSVAndTSV(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		data string
	}{
		{"plant.csv", "tag,value\nP-101,42\nP-102,7\n"},
		{"plant.tsv", "tag\tvalue\nP-101\t42\nP-102\t7\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			path := writeFile(t, tc.name, []byte(tc.data))
			pages := collect(t, New(&fakeOCR{}), path)
			if len(pages) != 1 || pages[0].Number != 1 {
				t.Fatalf("got %+v", pages)
			}
			lines := strings.Split(pages[0].Text, "\n")
			if len(lines) != 3 {
				t.Fatalf("got %d lines: %q", len(lines), pages[0].Text)
			}
			if !strings.HasPrefix(lines[1], "P-101") || !strings.HasSuffix(lines[1], "42") {
				t.Errorf("row 1 = %q", lines[1])
			}
			// Columns are aligned: the value column starts at the same offset.
			if strings.Index(lines[0], "value") != strings.Index(lines[1], "42") {
				t.Errorf("columns not aligned:\n%s", pages[0].Text)
			}
		})
	}
}

func TestExtract_CSVMalformed(t *testing.T) {
	t.Parallel()

	// A bare quote inside an unquoted field is tolerated with LazyQuotes;
	// ragged rows are tolerated too.
	path := writeFile(t, "ragged.csv", []byte("a,b,c\n1,\"2\n"))
	pages := collect(t, New(&fakeOCR{}), path)
	if !strings.Contains(pages[0].Text, "a") {
		t.Errorf("got %q", pages[0].Text)
	}
}

func TestExtract_Workbook(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "book.xlsx")
	f := excelize.NewFile()
	if err := f.SetCellValue("Sheet1", "A1", "tag"); err != nil {
		t.Fatal(err)
	}
	if err := f.SetCellValue("Sheet1", "B1", "pressure"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.NewSheet("Valves"); err != nil {
		t.Fatal(err)
	}
	if err := f.SetCellValue("Valves", "A1", "V-7"); err != nil {
		t.Fatal(err)
	}
	if err := f.SaveAs(path); err != nil {
		t.Fatal(err)
	}
	f.Close()

	pages := collect(t, New(&fakeOCR{}), path)
	if len(pages) != 1 {
		t.Fatalf("got %d pages, want 1", len(pages))
	}
	text := pages[0].Text
	first := strings.Index(text, "pressure")
	second := strings.Index(text, "V-7")
	if first < 0 || second < 0 || first > second {
		t.Fatalf("sheets missing or out of order: %q", text)
	}
	if !strings.Contains(text[first:second], "\n\n") {
		t.Errorf("sheets not separated by a blank line: %q", text)
	}
}

func TestExtract_InvalidPDF(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "bad.pdf", []byte("this is not a pdf"))
	var gotErr error
	n := 0
	for _, err := range New(&fakeOCR{}).Extract(context.Background(), path) {
		n++
		gotErr = err
	}
	if n != 1 || gotErr == nil {
		t.Fatalf("expected exactly one error, got n=%d err=%v", n, gotErr)
	}
}

func TestExtract_MissingFile(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"gone.txt", "gone.csv", "gone.pdf", "gone.docx"} {
		path := filepath.Join(t.TempDir(), name)
		var gotErr error
		for _, err := range New(&fakeOCR{}).Extract(context.Background(), path) {
			gotErr = err
		}
		if gotErr == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestExtract_IsLazy(t *testing.T) {
	t.Parallel()

	ocr := &fakeOCR{text: "x"}
	path := writeFile(t, "scan.png", []byte("x"))
	seq := New(ocr).Extract(context.Background(), path)
	if ocr.calls != 0 {
		t.Fatalf("extraction ran before iteration")
	}
	for range seq {
	}
	for range seq {
	}
	if ocr.calls != 2 {
		t.Errorf("ocr calls: got %d, want 2 (one per range)", ocr.calls)
	}
}

func TestDocxText(t *testing.T) {
	t.Parallel()

	const doc = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
<w:body>
<w:p><w:r><w:t>Safety</w:t></w:r><w:r><w:t xml:space="preserve"> manual</w:t></w:r></w:p>
<w:p><w:r><w:t>Step</w:t><w:tab/><w:t>1 &amp; 2</w:t></w:r></w:p>
<w:p><w:r><w:t>line</w:t><w:br/><w:t>break</w:t></w:r></w:p>
</w:body>
</w:document>`

	got, err := docxText(doc)
	if err != nil {
		t.Fatal(err)
	}
	want := "Safety manual\nStep\t1 & 2\nline\nbreak"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestDocxText_Malformed(t *testing.T) {
	t.Parallel()

	if _, err := docxText("<w:p><w:t>unterminated"); err == nil {
		t.Error("expected error for malformed xml")
	}
}
