// Package report renders an intake record as a paginated PDF. The layout is
// fixed: monospaced lines placed by a vertical cursor, a new page whenever
// the cursor passes the threshold. It is not a layout engine.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"

	"grantdesk/internal/domain"
)

const (
	pageLeft   = 20.0
	pageTop    = 20.0
	lineHeight = 6.0
	// A4 is 297mm tall; past this the cursor wraps to a fresh page.
	pageBreakY = 270.0

	wrapWidth = 80
)

// Compose produces the fixed-format report lines from the intake fields.
func Compose(req domain.Request) []string {
	lines := []string{
		"GRANT APPLICATION REPORT",
		"",
		fmt.Sprintf("Prepared for: %s <%s>", req.ClientName, req.ClientEmail),
		fmt.Sprintf("Request ID:   %s", req.ID),
		fmt.Sprintf("Generated:    %s", req.CreatedAt),
		"",
	}
	sections := []struct {
		label string
		value string
	}{
		{"Grant", req.GrantName},
		{"Applicant", req.Applicant},
		{"Purpose", req.Purpose},
		{"Use of funds", req.UseOfFunds},
		{"Deadline", req.Deadline},
		{"Jurisdiction", req.Jurisdiction},
	}
	for _, s := range sections {
		if s.value == "" {
			continue
		}
		lines = append(lines, s.label+":")
		lines = append(lines, wrap(s.value, wrapWidth)...)
		lines = append(lines, "")
	}
	return lines
}

// wrap splits text into lines of at most width characters on word
// boundaries. Words longer than width get a line of their own.
func wrap(text string, width int) []string {
	var lines []string
	var cur strings.Builder
	for _, word := range strings.Fields(text) {
		if cur.Len() > 0 && cur.Len()+1+len(word) > width {
			lines = append(lines, cur.String())
			cur.Reset()
		}
		if cur.Len() > 0 {
			cur.WriteByte(' ')
		}
		cur.WriteString(word)
	}
	if cur.Len() > 0 {
		lines = append(lines, cur.String())
	}
	if len(lines) == 0 {
		lines = []string{""}
	}
	return lines
}

// Render lays the lines out on A4 pages and writes the PDF to path.
func Render(lines []string, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Courier", "", 10)
	pdf.AddPage()
	y := pageTop
	for _, line := range lines {
		if y > pageBreakY {
			pdf.AddPage()
			y = pageTop
		}
		pdf.Text(pageLeft, y, line)
		y += lineHeight
	}
	return pdf.OutputFileAndClose(path)
}

// PageCount reports how many pages the lines would occupy, for callers that
// want the count without rendering.
func PageCount(lines []string) int {
	pages := 1
	y := pageTop
	for range lines {
		if y > pageBreakY {
			pages++
			y = pageTop
		}
		y += lineHeight
	}
	return pages
}

// Filename builds the artifact name from a date stamp and the sanitized
// client and grant names.
func Filename(now time.Time, clientName, grantName string) string {
	return fmt.Sprintf("%s_%s_%s_report.pdf", now.Format("20060102"), Sanitize(clientName), Sanitize(grantName))
}

// Sanitize reduces a free-text name to [a-zA-Z0-9_-], mapping runs of other
// characters to single underscores.
func Sanitize(name string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore && b.Len() > 0 {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}
