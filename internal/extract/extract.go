// Package extract turns files on disk into a lazy sequence of page-numbered
// text units. The format is chosen by file extension; PDFs yield one unit per
// page, every other format yields a single unit numbered 1.
package extract

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/54b3r/plantai-go/internal/logging"
)

// Page is one extracted text unit.
type Page struct {
	// Number is the 1-indexed page. Formats without pages always report 1.
	Number int
	// Text is the extracted content. It may be empty.
	Text string
}

// Kind classifies a file by extension.
type Kind int

const (
	// KindUnknown covers every unsupported extension.
	KindUnknown Kind = iota
	// KindText is plain text: .txt, .md, .log.
	KindText
	// KindDocx is an Office Open XML word document.
	KindDocx
	// KindPDF is a PDF document.
	KindPDF
	// KindTable is tabular data: .csv, .tsv, .xlsx.
	KindTable
	// KindImage is a raster image routed through OCR.
	KindImage
)

var kindByExt = map[string]Kind{
	".txt":  KindText,
	".md":   KindText,
	".log":  KindText,
	".docx": KindDocx,
	".pdf":  KindPDF,
	".csv":  KindTable,
	".tsv":  KindTable,
	".xlsx": KindTable,
	".png":  KindImage,
	".jpg":  KindImage,
	".jpeg": KindImage,
	".tif":  KindImage,
	".tiff": KindImage,
}

// KindOf returns the Kind for path based on its lowercased extension.
func KindOf(path string) Kind {
	return kindByExt[strings.ToLower(filepath.Ext(path))]
}

// String returns a short label used in logs and metrics.
func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindDocx:
		return "docx"
	case KindPDF:
		return "pdf"
	case KindTable:
		return "table"
	case KindImage:
		return "image"
	default:
		return "unknown"
	}
}

// OCR recognises text in an image file.
type OCR interface {
	Recognize(ctx context.Context, path string) (string, error)
}

// Extractor reads supported document formats. The zero value is not usable;
// construct with [New].
type Extractor struct {
	ocr OCR
}

// New returns an Extractor that sends images to ocr. A nil ocr falls back to
// the tesseract CLI on PATH.
func New(ocr OCR) *Extractor {
	if ocr == nil {
		ocr = &Tesseract{}
	}
	return &Extractor{ocr: ocr}
}

// Extract returns the text units of the file at path. Nothing is read until
// the sequence is ranged over, and every range re-opens the file. Iteration
// stops after the first error.
//
// Unsupported extensions yield a single empty unit. OCR failures are logged
// and yield an empty unit; read or parse failures of every other format are
// returned as errors.
func (e *Extractor) Extract(ctx context.Context, path string) iter.Seq2[Page, error] {
	if KindOf(path) == KindPDF {
		return pdfPages(path)
	}
	return func(yield func(Page, error) bool) {
		text, err := e.whole(ctx, path)
		if err != nil {
			yield(Page{}, err)
			return
		}
		yield(Page{Number: 1, Text: text}, nil)
	}
}

// whole extracts formats that produce exactly one unit.
func (e *Extractor) whole(ctx context.Context, path string) (string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch KindOf(path) {
	case KindText:
		return readText(path)
	case KindDocx:
		return readDocx(path)
	case KindTable:
		switch ext {
		case ".csv":
			return readDelimited(path, ',')
		case ".tsv":
			return readDelimited(path, '\t')
		default:
			return readWorkbook(path)
		}
	case KindImage:
		text, err := e.ocr.Recognize(ctx, path)
		if err != nil {
			logging.FromContext(ctx).Warn("extract: ocr failed, using empty text",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			return "", nil
		}
		return text, nil
	default:
		logging.FromContext(ctx).Debug("extract: unsupported extension, emitting empty page",
			slog.String("path", path),
			slog.String("ext", ext),
		)
		return "", nil
	}
}

// readText reads a UTF-8 text file, dropping invalid byte sequences.
func readText(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("extract: read %s: %w", path, err)
	}
	return strings.ToValidUTF8(string(data), ""), nil
}
