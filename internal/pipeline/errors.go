package pipeline

import (
	"errors"
	"fmt"

	"github.com/dudu/facesampler/internal/face"
)

var (
	// ErrConfig marks a malformed request
	ErrConfig = errors.New("invalid slot configuration")
	// ErrFaceTypeMismatch marks a framing the sample cannot provide
	ErrFaceTypeMismatch = errors.New("face type mismatch")
)

// FaceTypeMismatchError reports a framing wider than the sample was extracted at
type FaceTypeMismatchError struct {
	Filename  string
	Stored    face.Type
	Requested face.Type
}

func (e *FaceTypeMismatchError) Error() string {
	return fmt.Sprintf("sample %s type %s does not match model requirement %s; extract faces at the required type",
		e.Filename, e.Stored, e.Requested)
}

func (e *FaceTypeMismatchError) Unwrap() error {
	return ErrFaceTypeMismatch
}
