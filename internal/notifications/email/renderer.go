package email

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"strings"
	texttemplate "text/template"

	"carepath/internal/types"
)

//go:embed templates/*.html templates/*.txt
var templateFS embed.FS

// RenderedEmail is ready-to-send content.
type RenderedEmail struct {
	Subject  string
	BodyHTML string
	BodyText string
}

type templateData struct {
	FirstName        string
	FullName         string
	DoctorName       string
	NutritionistName string
	DashboardURL     string
	Role             string
}

var subjects = map[types.WelcomeTemplate]string{
	types.WelcomeTemplatePatient:      "Welcome to CarePath, your care team is ready",
	types.WelcomeTemplateProfessional: "Welcome to CarePath",
}

// Renderer renders the welcome templates embedded in the binary.
type Renderer struct {
	html         map[types.WelcomeTemplate]*template.Template
	text         map[types.WelcomeTemplate]*texttemplate.Template
	dashboardURL string
}

// NewRenderer parses every embedded template. A parse failure is a startup
// error.
func NewRenderer(dashboardURL string) (*Renderer, error) {
	r := &Renderer{
		html:         make(map[types.WelcomeTemplate]*template.Template),
		text:         make(map[types.WelcomeTemplate]*texttemplate.Template),
		dashboardURL: dashboardURL,
	}

	for name := range subjects {
		h, err := template.ParseFS(templateFS, "templates/base.html", fmt.Sprintf("templates/%s.html", name))
		if err != nil {
			return nil, fmt.Errorf("renderer: parse %s.html: %w", name, err)
		}
		r.html[name] = h

		tx, err := texttemplate.ParseFS(templateFS, fmt.Sprintf("templates/%s.txt", name))
		if err != nil {
			return nil, fmt.Errorf("renderer: parse %s.txt: %w", name, err)
		}
		r.text[name] = tx
	}
	return r, nil
}

// Render produces the email for n.
func (r *Renderer) Render(n types.WelcomeNotification) (*RenderedEmail, error) {
	h, ok := r.html[n.Template]
	if !ok {
		return nil, fmt.Errorf("renderer: unknown template %q", n.Template)
	}
	tx := r.text[n.Template]

	data := templateData{
		FirstName:        firstName(n.RecipientName),
		FullName:         n.RecipientName,
		DoctorName:       n.DoctorName,
		NutritionistName: n.NutritionistName,
		DashboardURL:     r.dashboardURL,
		Role:             string(n.Role),
	}

	var htmlBuf, txtBuf bytes.Buffer
	if err := h.ExecuteTemplate(&htmlBuf, "base", data); err != nil {
		return nil, fmt.Errorf("renderer: render %s html: %w", n.Template, err)
	}
	if err := tx.Execute(&txtBuf, data); err != nil {
		return nil, fmt.Errorf("renderer: render %s text: %w", n.Template, err)
	}
	return &RenderedEmail{
		Subject:  subjects[n.Template],
		BodyHTML: htmlBuf.String(),
		BodyText: txtBuf.String(),
	}, nil
}

func firstName(full string) string {
	fields := strings.Fields(full)
	if len(fields) == 0 {
		return "there"
	}
	return fields[0]
}
