package output

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	"gopkg.in/yaml.v3"
)

type Format string

const (
	FormatTable    Format = "table"
	FormatJSON     Format = "json"
	FormatYAML     Format = "yaml"
	FormatTemplate Format = "template"
)

// Spec is a parsed --output value. Template holds the text after
// "template=" for FormatTemplate.
type Spec struct {
	Format   Format
	Template string
}

func ParseFormat(value string) (Spec, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return Spec{Format: FormatTable}, nil
	}
	if name, tmpl, ok := strings.Cut(value, "="); ok {
		if Format(name) != FormatTemplate && name != "go-template" {
			return Spec{}, fmt.Errorf("unknown output format: %s", name)
		}
		if strings.TrimSpace(tmpl) == "" {
			return Spec{}, fmt.Errorf("template output requires a template")
		}
		return Spec{Format: FormatTemplate, Template: tmpl}, nil
	}
	switch Format(strings.ToLower(value)) {
	case FormatTable:
		return Spec{Format: FormatTable}, nil
	case FormatJSON:
		return Spec{Format: FormatJSON}, nil
	case FormatYAML:
		return Spec{Format: FormatYAML}, nil
	case FormatTemplate:
		return Spec{}, fmt.Errorf("template output requires a template: -o template='{{ .field }}'")
	default:
		return Spec{}, fmt.Errorf("unknown output format: %s", value)
	}
}

func WriteObject(w io.Writer, format Format, obj any) error {
	switch format {
	case FormatJSON:
		data, err := json.MarshalIndent(obj, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	case FormatYAML:
		data, err := yaml.Marshal(obj)
		if err != nil {
			return err
		}
		_, err = fmt.Fprint(w, string(data))
		return err
	case FormatTable:
		return fmt.Errorf("table format requires a specific formatter")
	default:
		return fmt.Errorf("unknown output format: %s", format)
	}
}

// WriteTemplate renders obj through a Go template with the sprig function
// set. The object is passed through JSON first so templates address fields by
// their JSON names, as with kubectl's go-template output.
func WriteTemplate(w io.Writer, tmpl string, obj any) error {
	parsed, err := template.New("output").Funcs(sprig.TxtFuncMap()).Parse(tmpl)
	if err != nil {
		return fmt.Errorf("invalid template: %w", err)
	}
	raw, err := json.Marshal(obj)
	if err != nil {
		return err
	}
	var data any
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	if err := decoder.Decode(&data); err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := parsed.Execute(&buf, data); err != nil {
		return fmt.Errorf("failed to render template: %w", err)
	}
	if buf.Len() > 0 && !bytes.HasSuffix(buf.Bytes(), []byte("\n")) {
		buf.WriteByte('\n')
	}
	_, err = w.Write(buf.Bytes())
	return err
}

// Write dispatches on spec; table reports that the caller must render it.
func Write(w io.Writer, spec Spec, obj any) error {
	if spec.Format == FormatTemplate {
		return WriteTemplate(w, spec.Template, obj)
	}
	return WriteObject(w, spec.Format, obj)
}

// Row is one KEY/VALUE line of a detail table.
type Row struct {
	Key   string
	Value string
}

func WriteDetailTable(w io.Writer, rows []Row) {
	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	for _, r := range rows {
		value := r.Value
		if value == "" {
			value = "-"
		}
		_, _ = fmt.Fprintf(tw, "%s:\t%s\n", r.Key, value)
	}
	_ = tw.Flush()
}
