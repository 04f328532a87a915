package cloudinit

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kdomanski/iso9660"

	"github.com/jbweber/hearth/internal/naming"
)

var (
	// ErrMediaValidation is returned when user-data fails validation before
	// the media is built.
	ErrMediaValidation = errors.New("boot media validation failed")

	// ErrMediaCreation is returned when writing documents or the ISO fails.
	ErrMediaCreation = errors.New("boot media creation failed")
)

// VolumeLabel is the ISO volume identifier required by the NoCloud datasource.
const VolumeLabel = "CIDATA"

// mediaFile is one file placed in the root of the media image.
type mediaFile struct {
	name    string
	content string
}

// CreateMedia validates user-data, writes the intermediate documents into
// dir and packages them as a NoCloud ISO. It returns the ISO path.
//
// network-config is only included when the bundle carries one.
func (b *Bundle) CreateMedia(dir string) (string, error) {
	if err := ValidateUserData(b.UserData); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMediaValidation, err)
	}

	files := []mediaFile{
		{naming.UserDataFileName, b.UserData},
		{naming.MetaDataFileName, b.MetaData},
	}
	if b.NetworkConfig != "" {
		files = append(files, mediaFile{naming.NetworkConfigFileName, b.NetworkConfig})
	}

	for _, f := range files {
		if err := os.WriteFile(filepath.Join(dir, f.name), []byte(f.content), 0o644); err != nil {
			return "", fmt.Errorf("%w: writing %s: %v", ErrMediaCreation, f.name, err)
		}
	}

	isoData, err := generateISO(files)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMediaCreation, err)
	}

	isoPath := filepath.Join(dir, naming.BootMediaFileName)
	if err := os.WriteFile(isoPath, isoData, 0o644); err != nil {
		return "", fmt.Errorf("%w: writing %s: %v", ErrMediaCreation, isoPath, err)
	}
	return isoPath, nil
}

// generateISO creates an ISO9660 image labelled CIDATA with each file in
// its root directory.
func generateISO(files []mediaFile) ([]byte, error) {
	writer, err := iso9660.NewWriter()
	if err != nil {
		return nil, fmt.Errorf("failed to create ISO writer: %w", err)
	}
	defer func() {
		_ = writer.Cleanup()
	}()

	for _, f := range files {
		if err := writer.AddFile(bytes.NewReader([]byte(f.content)), f.name); err != nil {
			return nil, fmt.Errorf("failed to add %s: %w", f.name, err)
		}
	}

	var buf bytes.Buffer
	if err := writer.WriteTo(&buf, VolumeLabel); err != nil {
		return nil, fmt.Errorf("failed to write ISO image: %w", err)
	}
	return buf.Bytes(), nil
}
