package display

import (
	"encoding/base64"
	"fmt"
	"io"
)

const (
	escapeStart = "\x1b_G"
	escapeEnd   = "\x1b\\"
	chunkSize   = 4096
)

// KittyEncoder writes PNG data as Kitty graphics escape sequences.
type KittyEncoder struct {
	out     io.Writer
	columns int
}

// NewKittyEncoder returns an encoder that scales images to columns cells.
// columns <= 0 leaves the image at its native size.
func NewKittyEncoder(out io.Writer, columns int) *KittyEncoder {
	return &KittyEncoder{out: out, columns: columns}
}

func (e *KittyEncoder) Encode(data []byte) error {
	if len(data) == 0 {
		return nil
	}

	encoded := base64.StdEncoding.EncodeToString(data)
	chunks := splitIntoChunks(encoded, chunkSize)

	for i, chunk := range chunks {
		more := 0
		if i < len(chunks)-1 {
			more = 1
		}

		var params string
		if i == 0 {
			params = e.firstParams(len(chunks) > 1)
		} else {
			params = fmt.Sprintf("m=%d", more)
		}

		if _, err := fmt.Fprintf(e.out, "%s%s;%s%s", escapeStart, params, chunk, escapeEnd); err != nil {
			return err
		}
	}
	return nil
}

// firstParams carries the transmit action, format and placement; later
// chunks only say whether more follow.
func (e *KittyEncoder) firstParams(chunked bool) string {
	params := "a=T,f=100,q=2"
	if e.columns > 0 {
		params += fmt.Sprintf(",c=%d", e.columns)
	}
	if chunked {
		params += ",m=1"
	}
	return params
}

func splitIntoChunks(s string, size int) []string {
	var chunks []string
	for len(s) > 0 {
		if len(s) < size {
			size = len(s)
		}
		chunks = append(chunks, s[:size])
		s = s[size:]
	}
	return chunks
}
