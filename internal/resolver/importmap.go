package resolver

import (
	"bytes"
	"encoding/json"
	"strings"
)

// ImportMapDocument is the JSON body of a <script type="importmap"> element
type ImportMapDocument struct {
	Imports ImportMap                    `json:"imports"`
	Scopes  map[string]map[string]string `json:"scopes,omitempty"`
}

// Marshal renders the document as indented JSON safe to inline in a script
// element. Output is deterministic.
func (d ImportMapDocument) Marshal() string {
	if d.Imports == nil {
		d.Imports = ImportMap{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	_ = enc.Encode(d)
	return strings.ReplaceAll(strings.TrimRight(buf.String(), "\n"), "</", `<\/`)
}

// ParseImportMap decodes an import map script body
func ParseImportMap(s string) (ImportMapDocument, error) {
	var d ImportMapDocument
	if err := json.Unmarshal([]byte(strings.TrimSpace(s)), &d); err != nil {
		return d, err
	}
	if d.Imports == nil {
		d.Imports = ImportMap{}
	}
	return d, nil
}
