package namespace

import (
	"fmt"

	"github.com/meridian-config/meridian/internal/shared"
)

// Format is the configuration file format of a namespace. Namespaces in a
// non-default format carry the format as a dotted suffix on their stored
// name.
type Format string

const (
	FormatProperties Format = "properties"
	FormatXML        Format = "xml"
	FormatJSON       Format = "json"
	FormatYML        Format = "yml"
	FormatYAML       Format = "yaml"
	FormatTXT        Format = "txt"
)

// ParseFormat validates a format token.
func ParseFormat(value string) (Format, error) {
	switch Format(value) {
	case FormatProperties, FormatXML, FormatJSON, FormatYML, FormatYAML, FormatTXT:
		return Format(value), nil
	}
	return "", fmt.Errorf("namespace format must be one of properties, xml, json, yml, yaml, txt: %w", shared.ErrValidation)
}

// AppNamespace is a namespace registered under an application. Public
// namespaces are shareable across applications and globally unique by name;
// private namespaces are unique only within their application.
type AppNamespace struct {
	ID       int64
	AppID    string `validate:"required"`
	Name     string `validate:"required,max=160"`
	Comment  string
	Format   Format `validate:"required"`
	IsPublic bool
	shared.Audit
}
