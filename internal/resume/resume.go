// Package resume turns a PDF resume into an AI-channel instruction.
package resume

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ledongthuc/pdf"
)

// MaxTextLen caps the extracted text handed to the model.
const MaxTextLen = 12000

// ErrNoText is returned for a PDF with no extractable text, such as a scan.
var ErrNoText = errors.New("no text found in PDF")

// ExtractFile reads the PDF at path and returns its plain text.
func ExtractFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	return Extract(bytes.NewReader(data), int64(len(data)))
}

// Extract returns the plain text of the PDF in r, pages in order.
func Extract(r io.ReaderAt, size int64) (text string, err error) {
	// The parser panics on some malformed files.
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("parsing PDF: %v", p)
		}
	}()

	reader, err := pdf.NewReader(r, size)
	if err != nil {
		return "", fmt.Errorf("parsing PDF: %w", err)
	}

	var sb strings.Builder
	fonts := make(map[string]*pdf.Font)
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		for _, name := range page.Fonts() {
			if _, ok := fonts[name]; !ok {
				f := page.Font(name)
				fonts[name] = &f
			}
		}
		t, err := page.GetPlainText(fonts)
		if err != nil {
			return "", fmt.Errorf("reading page %d: %w", i, err)
		}
		sb.WriteString(t)
		sb.WriteString("\n")
	}

	out := normalize(sb.String())
	if out == "" {
		return "", ErrNoText
	}
	return out, nil
}

// normalize collapses runs of blank lines and trailing spaces.
func normalize(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, l := range lines {
		l = strings.TrimRight(l, " \t\r")
		if l == "" {
			if blank {
				continue
			}
			blank = true
		} else {
			blank = false
		}
		out = append(out, l)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

// Instruction asks the model to fill the portfolio from resume text.
func Instruction(text string) string {
	if len(text) > MaxTextLen {
		text = text[:MaxTextLen]
	}
	return "Update my portfolio using the resume below. Fill in my name, title and contact details, " +
		"and add or update sections for experience, education, projects and skills. " +
		"Keep the current theme and font.\n\nResume:\n" + text
}
