package extract

import "fmt"

// PlainText covers txt and markdown uploads: the whole document is one
// text unit, byte-for-byte.
type PlainText struct{}

func (PlainText) Extract(data []byte) ([]string, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("document is empty")
	}
	return []string{string(data)}, nil
}
