package extract

import (
	"fmt"
	"iter"
	"os"

	"github.com/ledongthuc/pdf"
)

// pdfPages yields one unit per PDF page. Pages without a content stream or
// extractable text yield an empty unit so numbering stays aligned with the
// source document.
func pdfPages(path string) iter.Seq2[Page, error] {
	return func(yield func(Page, error) bool) {
		f, err := os.Open(path)
		if err != nil {
			yield(Page{}, fmt.Errorf("extract: open %s: %w", path, err))
			return
		}
		defer f.Close()

		r, err := openPDF(f)
		if err != nil {
			yield(Page{}, fmt.Errorf("extract: parse %s: %w", path, err))
			return
		}

		for n := 1; n <= r.NumPage(); n++ {
			text, err := pageText(r, n)
			if err != nil {
				yield(Page{}, fmt.Errorf("extract: %s page %d: %w", path, n, err))
				return
			}
			if !yield(Page{Number: n, Text: text}, nil) {
				return
			}
		}
	}
}

// openPDF wraps pdf.NewReader, converting parser panics on malformed input
// into errors.
func openPDF(f *os.File) (r *pdf.Reader, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("malformed pdf: %v", rec)
		}
	}()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}
	return pdf.NewReader(f, stat.Size())
}

func pageText(r *pdf.Reader, n int) (text string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("malformed page: %v", rec)
		}
	}()

	p := r.Page(n)
	if p.V.IsNull() || p.V.Key("Contents").IsNull() {
		return "", nil
	}
	return p.GetPlainText(nil)
}
