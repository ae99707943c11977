package ioutil

import (
	"fmt"
	"io"
)

// ReadLimited reads up to limit bytes from r and returns the content as a
// string. A read failure is reported in the returned string rather than
// silenced, since this is meant for error messages and logs.
func ReadLimited(r io.Reader, limit int64) string {
	body, err := io.ReadAll(io.LimitReader(r, limit))
	if err != nil {
		return fmt.Sprintf("<unreadable: %v>", err)
	}
	return string(body)
}
