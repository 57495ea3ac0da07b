package webhook

import (
	"html/template"
	"strings"
)

const pageLayout = `<!DOCTYPE html>
<html>
<head>
<title>{{.Title}}</title>
<meta name="viewport" content="width=device-width, initial-scale=1">
<style>
body { font-family: 'Segoe UI', Arial, sans-serif; background: {{.Background}}; min-height: 100vh; display: flex; justify-content: center; align-items: center; margin: 0; padding: 20px; box-sizing: border-box; }
.container { background: white; border-radius: 16px; padding: 40px; max-width: 420px; text-align: center; box-shadow: 0 10px 40px rgba(0,0,0,0.2); }
.icon { font-size: 56px; }
h1 { color: #333; font-size: 22px; margin: 16px 0 8px; }
p { color: #666; font-size: 15px; line-height: 1.5; }
.detail { color: #333; font-size: 14px; margin-top: 15px; }
.close { color: #999; font-size: 12px; margin-top: 25px; }
</style>
</head>
<body>
<div class="container">
<div class="icon">{{.Icon}}</div>
<h1>{{.Title}}</h1>
<p>{{.Message}}</p>
{{- if .Detail}}
<p class="detail"><strong>{{.DetailLabel}}:</strong> {{.Detail}}</p>
{{- end}}
<p class="close">You can close this tab.</p>
</div>
</body>
</html>
`

var pageTmpl = template.Must(template.New("page").Parse(pageLayout))

type pageData struct {
	Title       string
	Icon        string
	Background  template.CSS
	Message     string
	DetailLabel string
	Detail      string
}

func renderPage(d pageData) string {
	var b strings.Builder
	if err := pageTmpl.Execute(&b, d); err != nil {
		return d.Title
	}
	return b.String()
}

func successPage(owner, subject string) string {
	return renderPage(pageData{
		Title:       "Marked as Dealt With",
		Icon:        "✅",
		Background:  "linear-gradient(135deg, #667eea 0%, #764ba2 100%)",
		Message:     "This conversation will no longer appear in " + owner + "'s digest until a new message arrives.",
		DetailLabel: "Subject",
		Detail:      clip(subject, 80),
	})
}

func errorPage(msg string) string {
	return renderPage(pageData{
		Title:       "Something Went Wrong",
		Icon:        "⚠️",
		Background:  "linear-gradient(135deg, #f093fb 0%, #f5576c 100%)",
		Message:     "The conversation could not be marked as dealt with.",
		DetailLabel: "Error",
		Detail:      msg,
	})
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
