package export

import (
	"bytes"
	"embed"
	"html/template"
	"time"

	"govreview/api/internal/i18n"
)

const dateLayout = "January 2, 2006"

//go:embed templates/*.html
var templateFS embed.FS

var letterTemplate = template.Must(
	template.New("decision_letter.html").Funcs(template.FuncMap{
		"t":          i18n.Lookup,
		"formatDate": formatDate,
	}).ParseFS(templateFS, "templates/decision_letter.html"),
)

func formatDate(value any) string {
	switch v := value.(type) {
	case time.Time:
		return v.UTC().Format(dateLayout)
	case *time.Time:
		if v == nil {
			return ""
		}
		return v.UTC().Format(dateLayout)
	default:
		return ""
	}
}

// RenderLetterHTML renders the decision letter template.
func RenderLetterHTML(letter Letter) (string, error) {
	var buf bytes.Buffer
	if err := letterTemplate.Execute(&buf, letter); err != nil {
		return "", err
	}
	return buf.String(), nil
}
