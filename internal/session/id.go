package session

import (
	"fmt"
	"strconv"
)

// ID names one connected client. Only the low IDBits bits are used, the
// width being a deployment decision.
type ID uint64

func (id ID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// ParseID parses a decimal session id that must fit in bits.
func ParseID(s string, bits int) (ID, error) {
	v, err := strconv.ParseUint(s, 10, bits)
	if err != nil {
		return 0, fmt.Errorf("invalid session id %q: %w", s, err)
	}
	return ID(v), nil
}
