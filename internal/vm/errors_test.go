package vm

import (
	"errors"
	"fmt"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "with vm",
			err:  newError("start", KindNotFound, "vm-1a2b3c4d", "no such vm"),
			want: "start vm-1a2b3c4d: NotFound: no such vm",
		},
		{
			name: "without vm",
			err:  newError("create", KindUnknownInstanceType, "", "standard.gigantic"),
			want: "create: UnknownInstanceType: standard.gigantic",
		},
		{
			name: "with cause",
			err:  withCause(newError("create", KindLaunchError, "vm-1a2b3c4d", "copy failed"), CauseImageCopy),
			want: "create vm-1a2b3c4d: LaunchError (ImageCopyError): copy failed",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIsKind(t *testing.T) {
	launch := withCause(newError("create", KindLaunchError, "vm-1", "x"), CauseDefine)
	keyMissing := newError("create", KindKeyNotFound, "vm-1", "x")
	wrapped := fmt.Errorf("job failed: %w", keyMissing)

	tests := []struct {
		name string
		err  error
		kind Kind
		want bool
	}{
		{"exact kind", launch, KindLaunchError, true},
		{"cause", launch, CauseDefine, true},
		{"other kind", launch, KindNotFound, false},
		{"configuration kind groups", keyMissing, KindInvalidLaunchConfiguration, true},
		{"launch is not configuration", launch, KindInvalidLaunchConfiguration, false},
		{"wrapped", wrapped, KindKeyNotFound, true},
		{"foreign error", errors.New("x"), KindInternal, false},
		{"nil", nil, KindInternal, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsKind(tt.err, tt.kind); got != tt.want {
				t.Errorf("IsKind(%v, %s) = %v, want %v", tt.err, tt.kind, got, tt.want)
			}
		})
	}
}

func TestError_Sentinels(t *testing.T) {
	keyMissing := newError("create", KindKeyNotFound, "vm-1", "x")
	if !errors.Is(keyMissing, ErrKeyNotFound) {
		t.Error("KeyNotFound should match ErrKeyNotFound")
	}
	if !errors.Is(keyMissing, ErrInvalidLaunchConfiguration) {
		t.Error("KeyNotFound should match ErrInvalidLaunchConfiguration")
	}
	if errors.Is(keyMissing, ErrLaunch) {
		t.Error("KeyNotFound should not match ErrLaunch")
	}

	for kind, sentinel := range sentinels {
		if err := newError("op", kind, "", "x"); !errors.Is(err, sentinel) {
			t.Errorf("%s does not unwrap to its sentinel", kind)
		}
	}
}

func TestKindOf(t *testing.T) {
	if got := KindOf(newError("stop", KindConflictingOperation, "vm-1", "busy")); got != KindConflictingOperation {
		t.Errorf("KindOf() = %s", got)
	}
	if got := KindOf(errors.New("plain")); got != KindInternal {
		t.Errorf("KindOf(plain) = %s, want Internal", got)
	}
}
