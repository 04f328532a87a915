package output

import (
	"encoding/json"
	"fmt"

	"github.com/jbweber/hearth/api/v1alpha1"
	"github.com/jbweber/hearth/internal/vm"
)

// JSONFormatter formats resources as indented JSON.
type JSONFormatter struct{}

// FormatVM formats a single description as a JSON object.
func (f *JSONFormatter) FormatVM(d *vm.Description) (string, error) {
	return marshalJSON(d, "VM")
}

// FormatVMList formats descriptions as a JSON array. An empty list is "[]".
func (f *JSONFormatter) FormatVMList(ds []*vm.Description) (string, error) {
	if ds == nil {
		ds = []*vm.Description{}
	}
	return marshalJSON(ds, "VMs")
}

// FormatImageList formats images as a JSON array.
func (f *JSONFormatter) FormatImageList(imgs []*v1alpha1.Image) (string, error) {
	if imgs == nil {
		imgs = []*v1alpha1.Image{}
	}
	return marshalJSON(imgs, "images")
}

func marshalJSON(v any, what string) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal %s to JSON: %w", what, err)
	}
	return string(data) + "\n", nil
}
