package disk

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/jbweber/hearth/api/v1alpha1"
	"github.com/jbweber/hearth/internal/repository"
)

// fakeRunner records invocations and answers them with RunFunc.
type fakeRunner struct {
	mu      sync.Mutex
	calls   []string
	RunFunc func(name string, args ...string) ([]byte, error)
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, strings.Join(append([]string{name}, args...), " "))
	f.mu.Unlock()
	if f.RunFunc != nil {
		return f.RunFunc(name, args...)
	}
	return nil, nil
}

func (f *fakeRunner) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// qemuInfo returns a RunFunc that reports virtualSize for qemu-img info.
func qemuInfo(virtualSize int64) func(string, ...string) ([]byte, error) {
	return func(_ string, args ...string) ([]byte, error) {
		if len(args) > 0 && args[0] == "info" {
			return []byte(fmt.Sprintf(`{"virtual-size": %d, "format": "qcow2"}`, virtualSize)), nil
		}
		return nil, nil
	}
}

type fakeCatalog struct {
	images map[string]v1alpha1.Image
}

func (f *fakeCatalog) FindVisible(_ context.Context, imageID, accountID string) (v1alpha1.Image, error) {
	img, ok := f.images[imageID]
	if !ok || !img.VisibleTo(accountID) {
		return v1alpha1.Image{}, fmt.Errorf("image %s: %w", imageID, repository.ErrNotFound)
	}
	return img, nil
}

type fakeVolumes struct {
	mu      sync.Mutex
	volumes []*v1alpha1.Volume
	err     error
}

func (f *fakeVolumes) Insert(_ context.Context, vol *v1alpha1.Volume) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.volumes = append(f.volumes, vol)
	return nil
}
