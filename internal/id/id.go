package id

import (
	"strings"

	"github.com/google/uuid"
)

// New returns a random identifier safe for object keys and file names.
func New() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
