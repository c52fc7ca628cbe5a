package extract

import (
	"archive/zip"
	"bytes"
	"fmt"
	"regexp"
	"strings"
)

// OpenDocument extraction (.odp, .ods). Both are ZIPs with the document body
// in content.xml; text lives in text:p, text:span, and text:h elements.
var (
	odfTextP    = regexp.MustCompile(`<text:p[^>]*>([^<]*)</text:p>`)
	odfTextSpan = regexp.MustCompile(`<text:span[^>]*>([^<]*)</text:span>`)
	odfTextH    = regexp.MustCompile(`<text:h[^>]*>([^<]*)</text:h>`)
)

func extractOpenDocument(content []byte, label string, patterns []*regexp.Regexp) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("extract %s: not a zip: %w", label, err)
	}
	body, err := readZipPart(zr, "content.xml")
	if err != nil {
		return "", fmt.Errorf("extract %s: %w", label, err)
	}
	if body == nil {
		return "", fmt.Errorf("extract %s: content.xml not found", label)
	}
	s := string(body)
	var b strings.Builder
	for _, p := range patterns {
		joinMatches(&b, p.FindAllStringSubmatch(s, -1))
	}
	return strings.TrimSpace(b.String()), nil
}

func extractODP(content []byte) (string, error) {
	return extractOpenDocument(content, "ODP", []*regexp.Regexp{odfTextP, odfTextSpan, odfTextH})
}

func extractODS(content []byte) (string, error) {
	return extractOpenDocument(content, "ODS", []*regexp.Regexp{odfTextP, odfTextSpan})
}
