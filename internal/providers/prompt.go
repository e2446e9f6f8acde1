package providers

import (
	"strings"
	"text/template"
	"unicode/utf8"

	"github.com/repo-analyzer/analyzer/pkg/types"
)

const maxReadmeRunes = 3000

var promptTemplate = template.Must(template.New("analysis").Funcs(template.FuncMap{
	"join": strings.Join,
}).Parse(`Analyze the following software repository and write a concise technical summary.

Project: {{.Name}}
{{- if .Language}}
Primary language: {{.Language}}
{{- end}}
{{- if .Languages}}
Languages: {{join .Languages ", "}}
{{- end}}
{{- if .FileCount}}
Files: {{.FileCount}}
{{- end}}
{{- if .TotalLines}}
Lines of code: {{.TotalLines}}
{{- end}}
{{- if .Description}}

Description:
{{.Description}}
{{- end}}
{{- if .Dependencies}}

Dependencies:
{{- range .Dependencies}}
- {{.}}
{{- end}}
{{- end}}
{{- if .DevDependencies}}

Development dependencies:
{{- range .DevDependencies}}
- {{.}}
{{- end}}
{{- end}}
{{- if .KeyFiles}}

Key files:
{{- range .KeyFiles}}
- {{.}}
{{- end}}
{{- end}}
{{- if .Readme}}

README excerpt:
{{.Readme}}
{{- end}}

Respond with:
1. What the project does
2. Its main technologies and architecture
3. Notable strengths
4. Suggested improvements
`))

// FormatProjectPrompt renders project metadata into an analysis prompt.
// Sections for missing optional fields are left out.
func FormatProjectPrompt(info types.ProjectInfo) string {
	info.Readme = truncateRunes(strings.TrimSpace(info.Readme), maxReadmeRunes)
	info.Description = strings.TrimSpace(info.Description)
	if info.Name == "" {
		info.Name = "unnamed project"
	}

	var sb strings.Builder
	if err := promptTemplate.Execute(&sb, info); err != nil {
		return "Analyze the software repository " + info.Name + " and write a concise technical summary."
	}
	return sb.String()
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n]) + "\n..."
}
