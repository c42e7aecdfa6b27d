// Package jsonc reads JSON documents that carry comments and trailing commas.
package jsonc

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/goccy/go-json"
)

// Strip blanks out `//` and `/* */` comments and trailing commas so the
// result is plain JSON. The output has the same length as the input and keeps
// every line break at its offset, so parser errors point at the right place.
func Strip(src []byte) []byte {
	dst := make([]byte, len(src))
	copy(dst, src)
	// offset of the last comma outside strings and comments, or -1
	comma := -1
	for i := 0; i < len(dst); i++ {
		switch c := dst[i]; c {
		case '"':
			comma = -1
			for i++; i < len(dst); i++ {
				if dst[i] == '\\' {
					i++
				} else if dst[i] == '"' {
					break
				}
			}
		case '/':
			if i+1 >= len(dst) {
				continue
			}
			switch dst[i+1] {
			case '/':
				for ; i < len(dst) && dst[i] != '\n'; i++ {
					blank(dst, i)
				}
			case '*':
				dst[i], dst[i+1] = ' ', ' '
				for i += 2; i < len(dst); i++ {
					if dst[i] == '*' && i+1 < len(dst) && dst[i+1] == '/' {
						dst[i], dst[i+1] = ' ', ' '
						i++
						break
					}
					blank(dst, i)
				}
			default:
				comma = -1
			}
		case ',':
			comma = i
		case '}', ']':
			if comma >= 0 {
				dst[comma] = ' '
			}
			comma = -1
		case ' ', '\t', '\r', '\n':
		default:
			comma = -1
		}
	}
	return dst
}

func blank(b []byte, i int) {
	switch b[i] {
	case '\n', '\r', '\t':
	default:
		b[i] = ' '
	}
}

// Unmarshal strips the document and decodes it into v. Syntax errors are
// reported with their line and column.
func Unmarshal(data []byte, v any) error {
	stripped := Strip(data)
	err := json.Unmarshal(stripped, v)
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		line, col := position(stripped, syntaxErr.Offset)
		return fmt.Errorf("%d:%d: %w", line, col, err)
	}
	return err
}

// ReadFile reads and decodes a JSONC file.
func ReadFile(filename string, v any) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	if err := Unmarshal(data, v); err != nil {
		return fmt.Errorf("%s: %w", filename, err)
	}
	return nil
}

func position(data []byte, offset int64) (line int, col int) {
	if offset > int64(len(data)) {
		offset = int64(len(data))
	}
	head := data[:offset]
	line = bytes.Count(head, []byte{'\n'}) + 1
	col = len(head) - bytes.LastIndexByte(head, '\n')
	return
}
