// Package link implements the request/response command protocol spoken with
// the actuator microcontroller over a line-oriented serial connection.
package link

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// ErrMalformed is returned by Decode for lines that do not start with a
// numeric message ID.
var ErrMalformed = errors.New("malformed message")

// Message is one application-level line on the wire: "<id> <payload>".
type Message struct {
	ID      uint64
	Payload string
}

// Encode renders m as a newline-terminated wire line.
func (m Message) Encode() string {
	return fmt.Sprintf("%d %s\n", m.ID, m.Payload)
}

func (m Message) String() string {
	return fmt.Sprintf("%d %s", m.ID, m.Payload)
}

// Decode parses a wire line. The ID is separated from the payload by the
// first run of whitespace; whitespace inside the payload is kept as is.
func Decode(line string) (Message, error) {
	line = strings.TrimRight(line, "\r\n")
	line = strings.TrimLeftFunc(line, unicode.IsSpace)

	idText, rest := line, ""
	if i := strings.IndexFunc(line, unicode.IsSpace); i >= 0 {
		idText = line[:i]
		rest = strings.TrimLeftFunc(line[i:], unicode.IsSpace)
	}

	id, err := strconv.ParseUint(idText, 10, 64)
	if err != nil {
		return Message{}, fmt.Errorf("%w: %q", ErrMalformed, line)
	}
	return Message{ID: id, Payload: rest}, nil
}
