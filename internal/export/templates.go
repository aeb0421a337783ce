package export

import (
	"bytes"
	"embed"
	"html/template"
	"time"

	"pmslens/api/internal/entity"
	"pmslens/api/internal/lens"
)

//go:embed templates/*.html
var templateFS embed.FS

var lensTemplate = template.Must(template.New("lens.html").Funcs(template.FuncMap{
	"formatDate": func(t any) string {
		switch v := t.(type) {
		case time.Time:
			return v.Format("02 Jan 2006 15:04")
		case *time.Time:
			if v == nil {
				return ""
			}
			return v.Format("02 Jan 2006 15:04")
		}
		return ""
	},
}).ParseFS(templateFS, "templates/lens.html"))

// TemplateData holds data for lens template rendering
type TemplateData struct {
	KindLabel   string
	Title       string
	Subtitle    string
	Status      string
	Labels      []entity.Label
	Vitals      []entity.Vital
	Description string
	Sections    []lens.Section
	GeneratedAt time.Time
}

func templateData(l lens.Lens, now time.Time) TemplateData {
	data := TemplateData{
		Title:       l.Title,
		Vitals:      l.Vitals,
		Description: l.Description,
		Sections:    l.Sections,
		GeneratedAt: now,
	}
	if l.Header != nil {
		data.KindLabel = l.Header.KindLabel
		data.Subtitle = l.Header.Title
		data.Status = l.Header.StatusText
		data.Labels = l.Header.Labels
	}
	return data
}

// RenderLensHTML renders the lens template with provided data
func RenderLensHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := lensTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
