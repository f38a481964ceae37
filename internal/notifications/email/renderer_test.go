package email

import (
	"strings"
	"testing"

	"carepath/internal/types"
)

func newTestRenderer(t *testing.T) *Renderer {
	t.Helper()
	r, err := NewRenderer("https://app.carepath.example")
	if err != nil {
		t.Fatalf("NewRenderer() error: %v", err)
	}
	return r
}

func TestRender_PatientTemplate(t *testing.T) {
	r := newTestRenderer(t)

	out, err := r.Render(types.WelcomeNotification{
		Template:         types.WelcomeTemplatePatient,
		RecipientName:    "Ana Souza",
		Role:             types.RolePatient,
		DoctorName:       "Dr. Paulo Lima",
		NutritionistName: "Carla <Reis>",
	})
	if err != nil {
		t.Fatalf("Render() error: %v", err)
	}

	if out.Subject != subjects[types.WelcomeTemplatePatient] {
		t.Errorf("subject = %q", out.Subject)
	}
	for _, want := range []string{"Welcome, Ana!", "Dr. Paulo Lima", "Carla &lt;Reis&gt;", "https://app.carepath.example"} {
		if !strings.Contains(out.BodyHTML, want) {
			t.Errorf("html body missing %q", want)
		}
	}
	for _, want := range []string{"Welcome, Ana!", "Doctor: Dr. Paulo Lima", "Nutritionist: Carla <Reis>"} {
		if !strings.Contains(out.BodyText, want) {
			t.Errorf("text body missing %q", want)
		}
	}
}

func TestRender_PatientWithoutNutritionist(t *testing.T) {
	r := newTestRenderer(t)

	out, err := r.Render(types.WelcomeNotification{
		Template:      types.WelcomeTemplatePatient,
		RecipientName: "Ana",
		DoctorName:    "Dr. Lima",
	})
	if err != nil {
		t.Fatalf("Render() error: %v", err)
	}
	if strings.Contains(out.BodyText, "Nutritionist") || strings.Contains(out.BodyHTML, "Nutritionist") {
		t.Error("nutritionist line should be omitted")
	}
}

func TestRender_ProfessionalTemplate(t *testing.T) {
	r := newTestRenderer(t)

	out, err := r.Render(types.WelcomeNotification{
		Template:      types.WelcomeTemplateProfessional,
		RecipientName: "",
		Role:          types.RoleDoctor,
	})
	if err != nil {
		t.Fatalf("Render() error: %v", err)
	}
	if !strings.Contains(out.BodyText, "Welcome, there!") {
		t.Errorf("expected fallback greeting, got %q", out.BodyText)
	}
	if strings.Contains(out.BodyHTML, "Doctor:") {
		t.Error("professional email should not list a care team")
	}
}

func TestRender_UnknownTemplate(t *testing.T) {
	r := newTestRenderer(t)
	if _, err := r.Render(types.WelcomeNotification{Template: "welcome_admin"}); err == nil {
		t.Fatal("expected error for unknown template")
	}
}
