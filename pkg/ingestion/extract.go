package ingestion

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
)

// VisionDescriber calls an image-capable LLM endpoint with a base64 data
// URL payload. Kept as an interface so pkg/ingestion never imports
// pkg/agent.
type VisionDescriber interface {
	DescribeImage(ctx context.Context, imageBytes []byte, prompt string) (string, error)
}

// extractText dispatches on file extension.
// vision may be nil, in which case image/scanned-PDF extraction fails
// (surfaced to the caller, which moves the file to review/).
func extractText(ctx context.Context, path, ext string, vision VisionDescriber) (string, error) {
	switch strings.ToLower(ext) {
	case ".txt", ".md":
		return extractPlainText(path)
	case ".csv":
		return extractCSV(path)
	case ".png", ".jpg", ".jpeg":
		return extractImage(ctx, path, vision)
	case ".pdf":
		return extractPDF(ctx, path, vision)
	default:
		return "", fmt.Errorf("ingestion: no local extractor for %s", ext)
	}
}

// extractPlainText reads a UTF-8 file, substituting the Unicode replacement
// character for invalid byte sequences instead of failing.
func extractPlainText(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("ingestion: read text file: %w", err)
	}
	if utf8.Valid(raw) {
		return string(raw), nil
	}
	return strings.ToValidUTF8(string(raw), "�"), nil
}

// extractCSV parses and renders a CSV as a Markdown table, falling back to
// the raw text if the file doesn't parse as CSV.
func extractCSV(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("ingestion: open csv: %w", err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil || len(rows) == 0 {
		return extractPlainText(path)
	}

	var b strings.Builder
	header := rows[0]
	b.WriteString("| " + strings.Join(header, " | ") + " |\n")
	b.WriteString("| " + strings.Join(repeat("---", len(header)), " | ") + " |\n")
	for _, row := range rows[1:] {
		b.WriteString("| " + strings.Join(row, " | ") + " |\n")
	}
	return b.String(), nil
}

func repeat(s string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = s
	}
	return out
}

const imageDescribePrompt = "Describe this image in detail for a knowledge base. Include all visible text and objects."

func extractImage(ctx context.Context, path string, vision VisionDescriber) (string, error) {
	if vision == nil {
		return "", fmt.Errorf("ingestion: no vision backend configured")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("ingestion: read image: %w", err)
	}
	return vision.DescribeImage(ctx, data, imageDescribePrompt)
}

// extractPDF extracts per-page text via ledongthuc/pdf, falling back to a
// whole-document vision OCR pass when the extracted text is too short to be
// a real digital PDF. ledongthuc/pdf doesn't expose embedded page images,
// so the scanned path sends the whole PDF's raw bytes to the vision
// endpoint in one call covering the first few pages rather than one call
// per page image.
func extractPDF(ctx context.Context, path string, vision VisionDescriber) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("ingestion: open pdf: %w", err)
	}
	defer f.Close()

	var pages []string
	totalPages := r.NumPage()
	for i := 1; i <= totalPages; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		if len(strings.TrimSpace(text)) > 50 {
			pages = append(pages, fmt.Sprintf("[Page %d]\n%s", i, text))
		}
	}
	fullText := strings.Join(pages, "\n\n")

	if len(fullText) >= ScannedPDFTextMinimum || totalPages == 0 {
		return fullText, nil
	}

	if vision == nil {
		return fullText, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return fullText, nil
	}
	ocrPages := totalPages
	if ocrPages > MaxOCRPages {
		ocrPages = MaxOCRPages
	}
	prompt := fmt.Sprintf("This PDF appears to be scanned; transcribe the first %d page(s).", ocrPages)
	ocrText, err := vision.DescribeImage(ctx, raw, prompt)
	if err != nil {
		return fullText, nil
	}
	if fullText == "" {
		return ocrText, nil
	}
	return fullText + "\n\n" + ocrText, nil
}
