package ext

import "io"

// JSONReader skips any leading non-JSON output, such as progress banners
// printed by external scanner binaries, and exposes the stream starting at
// the first "{" or "[" character.
type JSONReader struct {
	reader  io.ReadCloser
	started bool
}

// NewJSONReader constructs a new JSONReader wrapping the given stream.
func NewJSONReader(reader io.ReadCloser) io.ReadCloser {
	return &JSONReader{reader: reader}
}

func (j *JSONReader) Read(p []byte) (n int, err error) {
	if j.started {
		return j.reader.Read(p)
	}
	var c = make([]byte, len(p))
	for ; err == nil; n, err = j.reader.Read(c) {
		i := 0
		for ; i < n; i++ {
			if c[i] == '{' || c[i] == '[' {
				j.started = true
				copy(p, c[i:])
				return n - i, err
			}
		}
	}

	return n, err
}

func (j *JSONReader) Close() error {
	return j.reader.Close()
}
