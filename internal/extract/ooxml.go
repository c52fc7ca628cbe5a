package extract

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strings"
)

// Office Open XML extraction (.docx, .pptx). Both formats are ZIP archives of
// XML parts; we pull the visible text nodes with regexes rather than a full
// XML parse so malformed attributes do not make content unsearchable.
var (
	// <w:t>...</w:t> text runs in the DOCX main document.
	wordTextRun = regexp.MustCompile(`<w:t[^>]*>([^<]*)</w:t>`)
	// <a:t>...</a:t> text runs in PPTX slides.
	slideTextRun = regexp.MustCompile(`<a:t[^>]*>([^<]*)</a:t>`)
)

const docxMainPart = "word/document.xml"

func readZipPart(zr *zip.Reader, name string) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", name, err)
		}
		data, err := io.ReadAll(rc)
		_ = rc.Close()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		return data, nil
	}
	return nil, nil
}

func joinMatches(b *strings.Builder, parts [][]string) {
	for _, p := range parts {
		text := strings.TrimSpace(p[1])
		if text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(text)
	}
}

func extractDOCX(content []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("extract DOCX: not a zip: %w", err)
	}
	doc, err := readZipPart(zr, docxMainPart)
	if err != nil {
		return "", fmt.Errorf("extract DOCX: %w", err)
	}
	if doc == nil {
		return "", fmt.Errorf("extract DOCX: %s not found", docxMainPart)
	}
	var b strings.Builder
	joinMatches(&b, wordTextRun.FindAllStringSubmatch(string(doc), -1))
	return strings.TrimSpace(b.String()), nil
}

func extractPPTX(content []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("extract PPTX: not a zip: %w", err)
	}
	var b strings.Builder
	for _, f := range zr.File {
		if !strings.HasPrefix(f.Name, "ppt/slides/slide") || !strings.HasSuffix(f.Name, ".xml") {
			continue
		}
		slide, err := readZipPart(zr, f.Name)
		if err != nil {
			return "", fmt.Errorf("extract PPTX: %w", err)
		}
		joinMatches(&b, slideTextRun.FindAllStringSubmatch(string(slide), -1))
	}
	return strings.TrimSpace(b.String()), nil
}
