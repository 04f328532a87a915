package cloudinit

import (
	"bytes"
	"fmt"
	"mime/multipart"
	"net/textproto"

	"github.com/sirupsen/logrus"
)

// Content types understood by cloud-init for user-data parts.
const (
	ContentTypeCloudConfig        = "text/cloud-config"
	ContentTypeShellScript        = "text/x-shellscript"
	ContentTypeBoothook           = "text/cloud-boothook"
	ContentTypeIncludeURL         = "text/x-include-url"
	ContentTypePartHandler        = "text/part-handler"
	ContentTypeJinja2             = "text/jinja2"
	ContentTypeCloudConfigArchive = "text/cloud-config-archive"
)

var knownContentTypes = map[string]bool{
	ContentTypeCloudConfig:        true,
	ContentTypeShellScript:        true,
	ContentTypeBoothook:           true,
	ContentTypeIncludeURL:         true,
	ContentTypePartHandler:        true,
	ContentTypeJinja2:             true,
	ContentTypeCloudConfigArchive: true,
}

// IsKnownContentType reports whether cloud-init handles ct.
func IsKnownContentType(ct string) bool {
	return knownContentTypes[ct]
}

// multipartBoundary is fixed so generated payloads are reproducible.
const multipartBoundary = "==HEARTH-BOUNDARY=="

// Part is one section of a multi-part user-data payload.
type Part struct {
	ContentType string
	Filename    string
	Body        string
}

// BuildMultipart renders parts as a multipart/mixed MIME document. A part
// with an unrecognized content type is included and logged as a warning.
func BuildMultipart(parts []Part, log logrus.FieldLogger) (string, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("multipart user-data needs at least one part")
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.SetBoundary(multipartBoundary); err != nil {
		return "", fmt.Errorf("failed to set boundary: %w", err)
	}

	for _, p := range parts {
		if !IsKnownContentType(p.ContentType) {
			log.WithField("content_type", p.ContentType).Warn("user-data part has an unrecognized content type")
		}

		h := textproto.MIMEHeader{}
		h.Set("Content-Type", fmt.Sprintf("%s; charset=\"utf-8\"", p.ContentType))
		h.Set("MIME-Version", "1.0")
		h.Set("Content-Transfer-Encoding", "7bit")
		if p.Filename != "" {
			h.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", p.Filename))
		}

		w, err := mw.CreatePart(h)
		if err != nil {
			return "", fmt.Errorf("failed to create %s part: %w", p.ContentType, err)
		}
		if _, err := w.Write([]byte(p.Body)); err != nil {
			return "", fmt.Errorf("failed to write %s part: %w", p.ContentType, err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	log.WithField("parts", len(parts)).Debug("assembled multipart user-data")

	var doc bytes.Buffer
	fmt.Fprintf(&doc, "Content-Type: multipart/mixed; boundary=%q\r\n", mw.Boundary())
	doc.WriteString("MIME-Version: 1.0\r\n\r\n")
	doc.Write(body.Bytes())
	return doc.String(), nil
}
