package render

import (
	"testing"

	"github.com/amityvox/notifyd/internal/models"
)

func TestRender_BothMarkerStyles(t *testing.T) {
	r := New()
	tmpl := &models.Template{
		Channel:      models.ChannelSMS,
		Body:         "Hi {name}, welcome {{name}}!",
		Placeholders: []string{"name"},
	}
	ctx := map[string]interface{}{"name": "Jo"}

	out, err := r.Render(tmpl, ctx, models.TenantBranding{})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	want := "Hi Jo, welcome Jo!"
	if out.Body != want {
		t.Errorf("body = %q, want %q", out.Body, want)
	}
}

func TestRender_MissingPlaceholderLeftVerbatim(t *testing.T) {
	r := New()
	tmpl := &models.Template{Channel: models.ChannelSMS, Body: "Code: {code}"}
	out, err := r.Render(tmpl, map[string]interface{}{}, models.TenantBranding{})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if out.Body != "Code: {code}" {
		t.Errorf("body = %q, want marker preserved", out.Body)
	}
}

func TestRender_Idempotent(t *testing.T) {
	r := New()
	tmpl := &models.Template{Channel: models.ChannelSMS, Body: "Hi {name}"}
	ctx := map[string]interface{}{"name": "Jo"}

	first, err := r.Render(tmpl, ctx, models.TenantBranding{})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	second, err := r.Render(tmpl, ctx, models.TenantBranding{})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if first.Body != second.Body {
		t.Errorf("rendering twice produced different output: %q vs %q", first.Body, second.Body)
	}
}

func TestRender_SubstitutionCommutative(t *testing.T) {
	r := New()
	tmpl := &models.Template{Channel: models.ChannelSMS, Body: "{a} and {b}"}

	ctx1 := map[string]interface{}{"a": "1"}
	ctx2 := map[string]interface{}{"b": "2"}

	merged1 := map[string]interface{}{}
	for k, v := range ctx1 {
		merged1[k] = v
	}
	for k, v := range ctx2 {
		merged1[k] = v
	}

	merged2 := map[string]interface{}{}
	for k, v := range ctx2 {
		merged2[k] = v
	}
	for k, v := range ctx1 {
		merged2[k] = v
	}

	out1, _ := r.Render(tmpl, merged1, models.TenantBranding{})
	out2, _ := r.Render(tmpl, merged2, models.TenantBranding{})
	if out1.Body != out2.Body {
		t.Errorf("commutativity violated: %q vs %q", out1.Body, out2.Body)
	}
}

func TestRender_EmailWrapsInBrandedShell(t *testing.T) {
	r := New()
	tmpl := &models.Template{Channel: models.ChannelEmail, Body: "Plain body"}
	branding := models.TenantBranding{Name: "Acme", PrimaryColor: "#111111"}

	out, err := r.Render(tmpl, map[string]interface{}{}, branding)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !contains(out.Body, "Acme") || !contains(out.Body, "Plain body") {
		t.Errorf("expected branded shell containing tenant name and body, got %q", out.Body)
	}
}

func TestRender_DataMapSubstitution(t *testing.T) {
	r := New()
	tmpl := &models.Template{
		Channel: models.ChannelPush,
		Body:    "body",
		Data: map[string]interface{}{
			"deep_link": "app://task/{task_id}",
			"nested":    map[string]interface{}{"label": "Hi {name}"},
		},
	}
	ctx := map[string]interface{}{"task_id": "42", "name": "Jo"}

	out, err := r.Render(tmpl, ctx, models.TenantBranding{})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if out.Data["deep_link"] != "app://task/42" {
		t.Errorf("deep_link = %v", out.Data["deep_link"])
	}
	nested, ok := out.Data["nested"].(map[string]interface{})
	if !ok || nested["label"] != "Hi Jo" {
		t.Errorf("nested = %v", out.Data["nested"])
	}
}

func contains(haystack, needle string) bool {
	return len(haystack) >= len(needle) && (func() bool {
		for i := 0; i+len(needle) <= len(haystack); i++ {
			if haystack[i:i+len(needle)] == needle {
				return true
			}
		}
		return false
	})()
}
