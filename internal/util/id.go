package util

import (
	"strings"

	"github.com/google/uuid"
)

// NewID returns a prefixed, time-ordered identifier such as
// "int_01890a5d-ac96-774b-bcce-b302099a8057". Ids from the same prefix sort
// by creation time.
func NewID(prefix string) string {
	id := uuid.Must(uuid.NewV7()).String()
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}

// IDPrefix returns the prefix of an id made by NewID, or "" if it has none.
func IDPrefix(id string) string {
	prefix, _, ok := strings.Cut(id, "_")
	if !ok {
		return ""
	}
	return prefix
}
