package executor

import (
	"embed"
	"fmt"
	"io/fs"
	"slices"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

//go:embed templates
var builtin embed.FS

const catalogFile = "catalog.yaml"

// Script names in the built-in catalog.
const (
	ScriptSendMessage    = "send_message"
	ScriptSendAttachment = "send_attachment"
)

type manifest struct {
	Scripts []struct {
		Name   string   `yaml:"name"`
		File   string   `yaml:"file"`
		Params []string `yaml:"params"`
	} `yaml:"scripts"`
}

type entry struct {
	tmpl   *template.Template
	params []string
}

// Catalog renders named AppleScript templates.
type Catalog struct {
	entries map[string]entry
}

// BuiltinCatalog loads the catalog compiled into the binary.
func BuiltinCatalog() (*Catalog, error) {
	sub, err := fs.Sub(builtin, "templates")
	if err != nil {
		return nil, err
	}
	return LoadCatalog(sub)
}

// LoadCatalog reads catalog.yaml and every template it lists from fsys.
func LoadCatalog(fsys fs.FS) (*Catalog, error) {
	raw, err := fs.ReadFile(fsys, catalogFile)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", catalogFile, err)
	}

	var m manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("parse %s: %w", catalogFile, err)
	}

	c := &Catalog{entries: make(map[string]entry, len(m.Scripts))}
	for _, s := range m.Scripts {
		if s.Name == "" || s.File == "" {
			return nil, fmt.Errorf("%s: script entries need a name and a file", catalogFile)
		}
		if _, dup := c.entries[s.Name]; dup {
			return nil, fmt.Errorf("%s: duplicate script %q", catalogFile, s.Name)
		}

		body, err := fs.ReadFile(fsys, s.File)
		if err != nil {
			return nil, fmt.Errorf("script %q: %w", s.Name, err)
		}
		tmpl, err := template.New(s.Name).
			Option("missingkey=error").
			Funcs(funcs).
			Parse(string(body))
		if err != nil {
			return nil, fmt.Errorf("script %q: %w", s.Name, err)
		}
		c.entries[s.Name] = entry{tmpl: tmpl, params: s.Params}
	}

	return c, nil
}

// Names returns the script names in sorted order.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.entries))
	for name := range c.entries {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Render produces the script source for name.
func (c *Catalog) Render(name string, params map[string]string) (string, error) {
	e, ok := c.entries[name]
	if !ok {
		return "", fmt.Errorf("unknown script %q", name)
	}
	for _, p := range e.params {
		if _, ok := params[p]; !ok {
			return "", fmt.Errorf("script %q: missing param %q", name, p)
		}
	}

	var b strings.Builder
	if err := e.tmpl.Execute(&b, params); err != nil {
		return "", fmt.Errorf("render script %q: %w", name, err)
	}
	return b.String(), nil
}

var funcs = template.FuncMap{
	"applescript": Quote,
	"serviceType": serviceType,
}

// Quote returns s as an AppleScript string literal. Line breaks are spliced
// in with the linefeed and return constants.
func Quote(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '"':
			b.WriteString(`\"`)
		case '\t':
			b.WriteString(`\t`)
		case '\n':
			b.WriteString(`" & linefeed & "`)
		case '\r':
			b.WriteString(`" & return & "`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}

// serviceType maps a service name to the AppleScript enumeration. Anything
// but SMS is sent over iMessage.
func serviceType(service string) string {
	if strings.EqualFold(service, "SMS") {
		return "SMS"
	}
	return "iMessage"
}
