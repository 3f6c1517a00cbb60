package peimage

import "bytes"

func newReaderAt(data []byte) *bytes.Reader {
	return bytes.NewReader(data)
}
