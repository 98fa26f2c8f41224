// Package render renders Jinja templates locally before they are shipped to hosts.
package render

import (
	"fmt"
	"os"

	"github.com/nikolalohinski/gonja"
)

// Render renders the Jinja template src with vars. name only labels errors.
func Render(name string, src []byte, vars map[string]any) ([]byte, error) {
	tpl, err := gonja.FromString(string(src))
	if err != nil {
		return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
	}

	ctx := gonja.Context{}
	for k, v := range vars {
		ctx[k] = v
	}

	out, err := tpl.Execute(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to render template %s: %w", name, err)
	}

	return []byte(out), nil
}

// RenderFile reads the template at path and renders it with vars.
func RenderFile(path string, vars map[string]any) ([]byte, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Render(path, src, vars)
}
