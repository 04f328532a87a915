package cloudinit

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/mail"
	"strings"

	"golang.org/x/crypto/ssh"
	"gopkg.in/yaml.v3"
)

// ErrInvalidUserData is returned when user-data fails validation.
var ErrInvalidUserData = errors.New("invalid user-data")

// ParseParts splits user-data into its parts. A single cloud-config
// document is returned as one text/cloud-config part.
func ParseParts(doc string) ([]Part, error) {
	if !strings.HasPrefix(doc, "Content-Type:") {
		return []Part{{ContentType: ContentTypeCloudConfig, Body: doc}}, nil
	}

	msg, err := mail.ReadMessage(strings.NewReader(doc))
	if err != nil {
		return nil, fmt.Errorf("%w: malformed MIME header: %v", ErrInvalidUserData, err)
	}
	mediaType, params, err := mime.ParseMediaType(msg.Header.Get("Content-Type"))
	if err != nil {
		return nil, fmt.Errorf("%w: content type: %v", ErrInvalidUserData, err)
	}
	if mediaType != "multipart/mixed" {
		return nil, fmt.Errorf("%w: unexpected top-level content type %q", ErrInvalidUserData, mediaType)
	}

	var parts []Part
	mr := multipart.NewReader(msg.Body, params["boundary"])
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: reading part: %v", ErrInvalidUserData, err)
		}

		ct, _, err := mime.ParseMediaType(p.Header.Get("Content-Type"))
		if err != nil {
			return nil, fmt.Errorf("%w: part content type: %v", ErrInvalidUserData, err)
		}
		body, err := io.ReadAll(p)
		if err != nil {
			return nil, fmt.Errorf("%w: reading %s part: %v", ErrInvalidUserData, ct, err)
		}
		parts = append(parts, Part{ContentType: ct, Filename: p.FileName(), Body: string(body)})
	}

	if len(parts) == 0 {
		return nil, fmt.Errorf("%w: multipart payload has no parts", ErrInvalidUserData)
	}
	return parts, nil
}

// ValidateUserData checks that every cloud-config part is a YAML mapping
// behind the #cloud-config header, that authorized keys parse as SSH public
// keys, and that shell scripts carry an interpreter line.
func ValidateUserData(doc string) error {
	parts, err := ParseParts(doc)
	if err != nil {
		return err
	}

	for i, p := range parts {
		switch p.ContentType {
		case ContentTypeCloudConfig:
			if err := validateCloudConfig(p.Body); err != nil {
				return fmt.Errorf("part %d: %w", i, err)
			}
		case ContentTypeShellScript:
			if !strings.HasPrefix(p.Body, "#!") {
				return fmt.Errorf("%w: part %d: shell script has no interpreter line", ErrInvalidUserData, i)
			}
		}
	}
	return nil
}

func validateCloudConfig(body string) error {
	if !strings.HasPrefix(body, strings.TrimSuffix(CloudConfigHeader, "\n")) {
		return fmt.Errorf("%w: missing #cloud-config header", ErrInvalidUserData)
	}

	var doc map[string]any
	if err := yaml.Unmarshal([]byte(body), &doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidUserData, err)
	}

	raw, ok := doc["ssh_authorized_keys"]
	if !ok {
		return nil
	}
	keys, ok := raw.([]any)
	if !ok {
		return fmt.Errorf("%w: ssh_authorized_keys must be a list", ErrInvalidUserData)
	}
	for _, k := range keys {
		s, ok := k.(string)
		if !ok {
			return fmt.Errorf("%w: ssh_authorized_keys entries must be strings", ErrInvalidUserData)
		}
		if _, _, _, _, err := ssh.ParseAuthorizedKey([]byte(s)); err != nil {
			return fmt.Errorf("%w: authorized key: %v", ErrInvalidUserData, err)
		}
	}
	return nil
}
