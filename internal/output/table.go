package output

import (
	"bytes"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/jbweber/hearth/api/v1alpha1"
	"github.com/jbweber/hearth/internal/vm"
)

// TableFormatter formats resources as human-readable tables.
type TableFormatter struct {
	// NoHeaders omits the header row.
	NoHeaders bool
}

// FormatVM formats a single description as a one-row table.
func (f *TableFormatter) FormatVM(d *vm.Description) (string, error) {
	return f.FormatVMList([]*vm.Description{d})
}

// FormatVMList formats descriptions as a table. Console passwords are never
// shown here; use yaml or json output to read them.
func (f *TableFormatter) FormatVMList(ds []*vm.Description) (string, error) {
	if len(ds) == 0 {
		return "No VMs found\n", nil
	}

	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	if !f.NoHeaders {
		_, _ = fmt.Fprintln(w, "ID\tSTATE\tRUN-STATE\tTYPE\tADDRESS\tIMAGE\tCONSOLE\tAGE")
	}

	for _, d := range ds {
		rec := d.Record
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			rec.ID,
			rec.State,
			d.RunState,
			rec.InstanceType(),
			address(rec.Network),
			orDash(rec.Image.Name),
			console(rec.Console),
			age(rec.CreatedAt),
		)
	}

	_ = w.Flush()
	return buf.String(), nil
}

// FormatImageList formats images as a table.
func (f *TableFormatter) FormatImageList(imgs []*v1alpha1.Image) (string, error) {
	if len(imgs) == 0 {
		return "No images found\n", nil
	}

	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	if !f.NoHeaders {
		_, _ = fmt.Fprintln(w, "ID\tNAME\tVISIBILITY\tSTATE\tFORMAT\tSOURCE\tAGE")
	}
	for _, img := range imgs {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			img.ID, img.Name, img.Visibility, img.State, img.Format,
			orDash(img.SourceVMID), age(img.CreatedAt))
	}

	_ = w.Flush()
	return buf.String(), nil
}

func address(n v1alpha1.NetworkAttachment) string {
	switch {
	case n.Address != "":
		return n.Address
	case n.Type == v1alpha1.NetworkNAT:
		return "nat"
	case n.Type == v1alpha1.NetworkBridgeToLan:
		return "dhcp"
	}
	return "-"
}

func console(c *v1alpha1.ConsoleConfig) string {
	switch {
	case c == nil:
		return "-"
	case c.Port < 0:
		return "auto"
	}
	return fmt.Sprintf("%s:%d", c.Listen, c.Port)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func age(t v1alpha1.Time) string {
	if t.IsZero() {
		return "-"
	}
	return formatAge(time.Since(t.Time))
}

// formatAge formats a duration as a human-readable age string.
// Examples: "5s", "2m", "3h", "4d", "2w", "1y"
func formatAge(d time.Duration) string {
	if d < 0 {
		return "unknown"
	}

	seconds := int(d.Seconds())
	if seconds < 60 {
		return fmt.Sprintf("%ds", seconds)
	}

	minutes := seconds / 60
	if minutes < 60 {
		return fmt.Sprintf("%dm", minutes)
	}

	hours := minutes / 60
	if hours < 24 {
		return fmt.Sprintf("%dh", hours)
	}

	days := hours / 24
	if days < 7 {
		return fmt.Sprintf("%dd", days)
	}

	// Weeks up to eight, then days until a full year.
	weeks := days / 7
	if weeks < 8 {
		return fmt.Sprintf("%dw", weeks)
	}
	if years := days / 365; years > 0 {
		return fmt.Sprintf("%dy", years)
	}
	return fmt.Sprintf("%dd", days)
}
