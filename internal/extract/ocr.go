package extract

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Tesseract runs the tesseract command-line OCR engine.
type Tesseract struct {
	// Binary is the executable to run. Defaults to "tesseract" on PATH.
	Binary string
	// Lang is passed as -l when set, e.g. "eng" or "eng+deu".
	Lang string
}

// TesseractFromEnv reads OCR_TESSERACT_PATH and OCR_LANG.
func TesseractFromEnv() *Tesseract {
	return &Tesseract{
		Binary: os.Getenv("OCR_TESSERACT_PATH"),
		Lang:   os.Getenv("OCR_LANG"),
	}
}

// Recognize returns the text tesseract finds in the image at path.
func (t *Tesseract) Recognize(ctx context.Context, path string) (string, error) {
	bin := t.Binary
	if bin == "" {
		bin = "tesseract"
	}
	args := []string{path, "stdout"}
	if t.Lang != "" {
		args = append(args, "-l", t.Lang)
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("extract: tesseract %s: %w: %s", path, err, strings.TrimSpace(stderr.String()))
	}
	return strings.ToValidUTF8(stdout.String(), ""), nil
}
