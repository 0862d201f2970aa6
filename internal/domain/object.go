package domain

import (
	"fmt"
	"strings"
)

// MaxObjectSize bounds a single upload at 100 MiB; larger payloads belong to
// a multipart flow outside this service.
const MaxObjectSize = 100 * 1024 * 1024

// MaxObjectKeyLength matches the common object-store key limit.
const MaxObjectKeyLength = 1024

// Object is a blob destined for an object-storage backend.
type Object struct {
	Key         string
	Data        []byte
	ContentType string
	Metadata    map[string]string
}

func (o *Object) Validate() error {
	key := o.Key
	if key == "" {
		return NewValidationError("key", "object key is required")
	}
	if strings.HasPrefix(key, "/") {
		return NewValidationError("key", "object key must not start with /")
	}
	if len(key) > MaxObjectKeyLength {
		return NewValidationError("key", fmt.Sprintf("object key exceeds %d characters", MaxObjectKeyLength))
	}
	if len(o.Data) == 0 {
		return NewValidationError("data", "object data is required")
	}
	if len(o.Data) > MaxObjectSize {
		return NewValidationError("data", fmt.Sprintf("object exceeds %d bytes (got %d)", MaxObjectSize, len(o.Data)))
	}
	return nil
}
