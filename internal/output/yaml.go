package output

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/jbweber/hearth/api/v1alpha1"
	"github.com/jbweber/hearth/internal/vm"
)

// YAMLFormatter formats resources as YAML.
type YAMLFormatter struct{}

// FormatVM formats a single description as YAML.
func (f *YAMLFormatter) FormatVM(d *vm.Description) (string, error) {
	data, err := yaml.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("failed to marshal VM to YAML: %w", err)
	}
	return string(data), nil
}

// FormatVMList formats descriptions as a YAML stream (documents separated
// by ---).
func (f *YAMLFormatter) FormatVMList(ds []*vm.Description) (string, error) {
	docs := make([]any, len(ds))
	for i, d := range ds {
		docs[i] = d
	}
	return yamlStream(docs)
}

// FormatImageList formats images as a YAML stream.
func (f *YAMLFormatter) FormatImageList(imgs []*v1alpha1.Image) (string, error) {
	docs := make([]any, len(imgs))
	for i, img := range imgs {
		docs[i] = img
	}
	return yamlStream(docs)
}

func yamlStream(docs []any) (string, error) {
	var buf bytes.Buffer
	for i, doc := range docs {
		data, err := yaml.Marshal(doc)
		if err != nil {
			return "", fmt.Errorf("failed to marshal document %d to YAML: %w", i, err)
		}
		// Separator between documents, not before the first one.
		if i > 0 {
			buf.WriteString("---\n")
		}
		buf.Write(data)
	}
	return buf.String(), nil
}
