package templates

import (
	"bytes"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/adrg/xdg"
)

// Template names
const (
	SystemdService = "systemd-service"
)

//go:embed files/*.template
var builtin embed.FS

// SystemdUnit holds the values rendered into the systemd service template
type SystemdUnit struct {
	Description string
	User        string
	Group       string
	WorkingDir  string
	ExecStart   string
	Environment []string
}

// GetTemplatePaths returns the override search paths for a template
func GetTemplatePaths(templateName string) []string {
	filename := templateName + ".template"
	return []string{
		filepath.Join(".", "templates", filename),
		filepath.Join(".", "config", "templates", filename),
		filepath.Join(xdg.ConfigHome, "caravan", "templates", filename),
		filepath.Join("/etc", "caravan", "templates", filename),
	}
}

// GetTemplate returns the raw template content by name.
// Overrides are looked up in the following order before the built-in copy:
// 1. ./templates/<name>.template
// 2. ./config/templates/<name>.template
// 3. $XDG_CONFIG_HOME/caravan/templates/<name>.template
// 4. /etc/caravan/templates/<name>.template
func GetTemplate(name string) (string, error) {
	if !ValidateTemplate(name) {
		return "", fmt.Errorf("unknown template: %s", name)
	}

	for _, path := range GetTemplatePaths(name) {
		if content, err := os.ReadFile(path); err == nil {
			return string(content), nil
		}
	}

	content, err := builtin.ReadFile("files/" + name + ".template")
	if err != nil {
		return "", fmt.Errorf("template file not found: %s: %w", name, err)
	}
	return string(content), nil
}

// RenderWithGoTemplate renders a named template using Go's text/template package.
func RenderWithGoTemplate(templateName string, data interface{}) (string, error) {
	tmplContent, err := GetTemplate(templateName)
	if err != nil {
		return "", err
	}

	return renderText(templateName, tmplContent, data)
}

// Expand renders an inline template string such as a task command.
// Strings without template actions are returned unchanged.
func Expand(text string, data interface{}) (string, error) {
	if !strings.Contains(text, "{{") {
		return text, nil
	}
	return renderText("inline", text, data)
}

// RenderSystemdService renders the systemd service template.
func RenderSystemdService(unit SystemdUnit) (string, error) {
	if unit.Group == "" {
		unit.Group = unit.User
	}
	return RenderWithGoTemplate(SystemdService, unit)
}

// ListTemplates returns a list of all available template names.
func ListTemplates() []string {
	return []string{
		SystemdService,
	}
}

// ValidateTemplate checks if a template name is valid.
func ValidateTemplate(name string) bool {
	for _, known := range ListTemplates() {
		if name == known {
			return true
		}
	}
	return false
}

func renderText(name, content string, data interface{}) (string, error) {
	tmpl, err := template.New(name).Option("missingkey=error").Parse(content)
	if err != nil {
		return "", fmt.Errorf("failed to parse template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}

	return buf.String(), nil
}
