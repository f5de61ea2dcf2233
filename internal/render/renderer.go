// Package render implements the Renderer (§4.3): substituting a context map
// into a template's subject/body/data, then wrapping the email channel's
// body in a branded HTML shell.
package render

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/amityvox/notifyd/internal/models"
)

// doubleBracePattern and singleBracePattern match {{name}} and {name}
// markers; the double-brace form is tried first by substitute so it isn't
// partially consumed by the single-brace pattern.
var (
	doubleBracePattern = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_]+)\s*\}\}`)
	singleBracePattern = regexp.MustCompile(`\{\s*([a-zA-Z0-9_]+)\s*\}`)
	isoTimestampLayout  = "2006-01-02T15:04:05Z07:00"
)

// Renderer substitutes context values into templates. It holds no state and
// is safe for concurrent use.
type Renderer struct{}

// New constructs a Renderer.
func New() *Renderer {
	return &Renderer{}
}

// Render produces the concrete {subject, body, data} triple for a template
// and context, wrapping the body in a branding shell for the email channel.
func (r *Renderer) Render(tmpl *models.Template, context map[string]interface{}, branding models.TenantBranding) (models.RenderedContent, error) {
	if tmpl == nil {
		return models.RenderedContent{}, fmt.Errorf("render: nil template")
	}

	ctx := coerceTimestamps(context, tmpl.Placeholders)

	subject := substitute(tmpl.Subject, ctx)
	body := substitute(tmpl.Body, ctx)
	data := substituteMap(tmpl.Data, ctx)

	if tmpl.Channel == models.ChannelEmail {
		body = wrapBranded(body, branding)
	}

	return models.RenderedContent{Subject: subject, Body: body, Data: data}, nil
}

// substitute replaces every {name} and {{name}} marker with ctx[name],
// stringified. Markers whose name is absent from ctx are left verbatim.
func substitute(s string, ctx map[string]interface{}) string {
	s = doubleBracePattern.ReplaceAllStringFunc(s, func(match string) string {
		return resolveMarker(match, doubleBracePattern, ctx)
	})
	s = singleBracePattern.ReplaceAllStringFunc(s, func(match string) string {
		return resolveMarker(match, singleBracePattern, ctx)
	})
	return s
}

func resolveMarker(match string, pattern *regexp.Regexp, ctx map[string]interface{}) string {
	groups := pattern.FindStringSubmatch(match)
	if len(groups) < 2 {
		return match
	}
	name := groups[1]
	v, ok := ctx[name]
	if !ok {
		return match
	}
	return stringify(v)
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprintf("%v", t)
	}
}

// substituteMap applies substitute to every string leaf of a nested map,
// used for the channel-specific structured data payload.
func substituteMap(data map[string]interface{}, ctx map[string]interface{}) map[string]interface{} {
	if data == nil {
		return nil
	}
	out := make(map[string]interface{}, len(data))
	for k, v := range data {
		out[k] = substituteValue(v, ctx)
	}
	return out
}

func substituteValue(v interface{}, ctx map[string]interface{}) interface{} {
	switch t := v.(type) {
	case string:
		return substitute(t, ctx)
	case map[string]interface{}:
		return substituteMap(t, ctx)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, item := range t {
			out[i] = substituteValue(item, ctx)
		}
		return out
	default:
		return v
	}
}

// coerceTimestamps reformats ISO-8601 string values into a human-readable
// local form wherever the template declares a placeholder whose name looks
// like a timestamp field. The source map is not mutated.
func coerceTimestamps(context map[string]interface{}, placeholders []string) map[string]interface{} {
	out := make(map[string]interface{}, len(context))
	for k, v := range context {
		out[k] = v
	}
	for _, name := range placeholders {
		if !looksLikeTimestampField(name) {
			continue
		}
		s, ok := out[name].(string)
		if !ok {
			continue
		}
		if t, err := time.Parse(isoTimestampLayout, s); err == nil {
			out[name] = t.Format("Jan 2, 2006 3:04 PM MST")
		}
	}
	return out
}

func looksLikeTimestampField(name string) bool {
	lower := strings.ToLower(name)
	return strings.Contains(lower, "timestamp") || strings.Contains(lower, "_at") || strings.HasSuffix(lower, "time")
}

const brandedEmailShell = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"></head>
<body style="margin:0;padding:0;background-color:%s;font-family:sans-serif;">
  <table width="100%%" cellpadding="0" cellspacing="0">
    <tr><td align="center" style="padding:24px;">
      <table width="600" cellpadding="0" cellspacing="0" style="background:#ffffff;border-radius:8px;overflow:hidden;">
        <tr><td style="background-color:%s;padding:16px;text-align:center;">
          %s
          <span style="color:#ffffff;font-size:18px;font-weight:bold;">%s</span>
        </td></tr>
        <tr><td style="padding:24px;color:#1e293b;">
          %s
        </td></tr>
      </table>
    </td></tr>
  </table>
</body>
</html>`

// wrapBranded embeds body in an HTML shell using the tenant's logo, name,
// and colors, falling back to tenant-id-prefixed defaults when branding is
// unavailable.
func wrapBranded(body string, branding models.TenantBranding) string {
	name := branding.Name
	primary := branding.PrimaryColor
	secondary := branding.SecondaryColor
	if name == "" {
		name = "Tenant"
	}
	if primary == "" {
		primary = "#2563eb"
	}
	if secondary == "" {
		secondary = "#1e293b"
	}

	logoTag := ""
	if branding.LogoURL != "" {
		logoTag = fmt.Sprintf(`<img src="%s" alt="%s" style="height:32px;vertical-align:middle;margin-right:8px;">`, branding.LogoURL, name)
	}

	return fmt.Sprintf(brandedEmailShell, secondary, primary, logoTag, name, body)
}
