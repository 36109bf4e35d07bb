// Package template generates starter [[apps]] blocks for a webvisor
// configuration file.
package template

import (
	"fmt"

	"github.com/pelletier/go-toml/v2"
)

// TemplateType represents the type of template to generate
type TemplateType string

const (
	TypeProxy    TemplateType = "proxy"
	TypeWeb      TemplateType = "web"
	TypePool     TemplateType = "pool"
	TypeTLS      TemplateType = "tls"
	TypeStatic   TemplateType = "static"
	TypeSite     TemplateType = "site"
	TypeRedirect TemplateType = "redirect"
)

// AppTemplate is one application entry as it appears in the TOML file.
type AppTemplate struct {
	Name            string       `toml:"name"`
	ProcessCount    int          `toml:"process_count,omitempty"`
	AutoRestart     bool         `toml:"auto_restart"`
	ListenHost      string       `toml:"listen_host,omitempty"`
	Port            int          `toml:"port"`
	Handler         string       `toml:"handler,omitempty"`
	StaticDir       string       `toml:"static_dir,omitempty"`
	RedirectTo      string       `toml:"redirect_to,omitempty"`
	ShutdownTimeout string       `toml:"shutdown_timeout,omitempty"`
	Env             []string     `toml:"env,omitempty"`
	SSL             *SSLTemplate `toml:"ssl,omitempty"`
	RunAs           *RunAsConfig `toml:"run_as,omitempty"`
	Log             *LogConfig   `toml:"log,omitempty"`
}

type SSLTemplate struct {
	Enable   bool   `toml:"enable"`
	Force    bool   `toml:"force"`
	Port     int    `toml:"port"`
	CertPath string `toml:"cert_path"`
	KeyPath  string `toml:"key_path"`
}

type RunAsConfig struct {
	Enable bool   `toml:"enable"`
	UID    string `toml:"uid"`
}

// LogConfig represents worker output rotation
type LogConfig struct {
	Dir string `toml:"dir"`
}

// Generator provides template generation functionality
type Generator struct{}

// NewGenerator creates a new template generator
func NewGenerator() *Generator {
	return &Generator{}
}

// Generate creates an application template based on the specified type and name
func (g *Generator) Generate(templateType TemplateType, name string) (*AppTemplate, error) {
	if name == "" {
		return nil, fmt.Errorf("template name is required")
	}
	switch templateType {
	case TypeProxy, TypeWeb:
		return g.generateProxyTemplate(name), nil
	case TypePool:
		return g.generatePoolTemplate(name), nil
	case TypeTLS:
		return g.generateTLSTemplate(name), nil
	case TypeStatic, TypeSite:
		return g.generateStaticTemplate(name), nil
	case TypeRedirect:
		return g.generateRedirectTemplate(name), nil
	default:
		return nil, fmt.Errorf("unknown template type: %s (supported: proxy, pool, tls, static, redirect)", templateType)
	}
}

// GenerateTOML renders the template as an [[apps]] block.
func (g *Generator) GenerateTOML(templateType TemplateType, name string) ([]byte, error) {
	app, err := g.Generate(templateType, name)
	if err != nil {
		return nil, err
	}
	doc := struct {
		Apps []AppTemplate `toml:"apps"`
	}{Apps: []AppTemplate{*app}}
	b, err := toml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal template: %w", err)
	}
	return b, nil
}

// GetSupportedTypes returns a list of all supported template types
func (g *Generator) GetSupportedTypes() []string {
	return []string{
		string(TypeProxy),
		string(TypePool),
		string(TypeTLS),
		string(TypeStatic),
		string(TypeRedirect),
	}
}

func (g *Generator) generateProxyTemplate(name string) *AppTemplate {
	return &AppTemplate{
		Name:        name,
		AutoRestart: true,
		ListenHost:  "127.0.0.1",
		Port:        8080,
	}
}

func (g *Generator) generatePoolTemplate(name string) *AppTemplate {
	return &AppTemplate{
		Name:            name,
		ProcessCount:    4,
		AutoRestart:     true,
		ListenHost:      "0.0.0.0",
		Port:            80,
		ShutdownTimeout: "30s",
		Env:             []string{"GOMAXPROCS=1"},
		RunAs:           &RunAsConfig{Enable: true, UID: "www-data"},
		Log:             &LogConfig{Dir: "/var/log/webvisor"},
	}
}

func (g *Generator) generateTLSTemplate(name string) *AppTemplate {
	return &AppTemplate{
		Name:         name,
		ProcessCount: 2,
		AutoRestart:  true,
		ListenHost:   "0.0.0.0",
		Port:         80,
		SSL: &SSLTemplate{
			Enable:   true,
			Force:    true,
			Port:     443,
			CertPath: "/etc/webvisor/" + name + ".crt",
			KeyPath:  "/etc/webvisor/" + name + ".key",
		},
	}
}

func (g *Generator) generateStaticTemplate(name string) *AppTemplate {
	return &AppTemplate{
		Name:        name,
		AutoRestart: true,
		ListenHost:  "127.0.0.1",
		Port:        8081,
		Handler:     "static",
		StaticDir:   "/srv/" + name,
	}
}

func (g *Generator) generateRedirectTemplate(name string) *AppTemplate {
	return &AppTemplate{
		Name:        name,
		AutoRestart: true,
		Port:        8082,
		Handler:     "redirect",
		RedirectTo:  "https://" + name + ".example.com",
	}
}
