package registry

import (
	"bytes"
	"runtime"
	"strconv"
)

// goroutinePrefix is the fixed prefix of the first stack trace line,
// "goroutine 123 [running]:".
var goroutinePrefix = []byte("goroutine ")

// GID returns the id of the calling goroutine. Goroutine ids are never
// reused within a process, which makes them a stable confinement key.
//
// The id is parsed from the first line of the goroutine's stack trace. This
// costs roughly a microsecond, which is acceptable on handle operations (it
// guards API misuse, not the per-row read path).
func GID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	line := buf[:n]

	if !bytes.HasPrefix(line, goroutinePrefix) {
		return 0
	}
	line = line[len(goroutinePrefix):]
	end := bytes.IndexByte(line, ' ')
	if end < 0 {
		return 0
	}
	id, err := strconv.ParseUint(string(line[:end]), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
