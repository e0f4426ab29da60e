package email

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"strings"
)

//go:embed templates/*.html
var templateFS embed.FS

var layout = template.Must(template.New("base.html").ParseFS(templateFS, "templates/base.html"))

type layoutData struct {
	Title      string
	Paragraphs [][]string
}

// renderHTML wraps a plain-text body in the HTML layout. Blank lines separate
// paragraphs; single newlines become line breaks.
func renderHTML(title, body string) (string, error) {
	var buf bytes.Buffer
	if err := layout.ExecuteTemplate(&buf, "email", layoutData{Title: title, Paragraphs: paragraphs(body)}); err != nil {
		return "", fmt.Errorf("execute email layout: %w", err)
	}
	return buf.String(), nil
}

func paragraphs(body string) [][]string {
	body = strings.ReplaceAll(body, "\r\n", "\n")
	var out [][]string
	for _, block := range strings.Split(body, "\n\n") {
		block = strings.Trim(block, "\n")
		if strings.TrimSpace(block) == "" {
			continue
		}
		out = append(out, strings.Split(block, "\n"))
	}
	return out
}
