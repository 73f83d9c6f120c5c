package domain

import "strings"

// ExtractCell returns the text between the first '>' in line and the next
// '<' after it.
func ExtractCell(line string) (string, error) {
	start := strings.IndexByte(line, '>')
	if start < 0 {
		return "", &FormatError{Reason: "no '>' in line", Text: line}
	}
	rest := line[start+1:]
	end := strings.IndexByte(rest, '<')
	if end < 0 {
		return "", &FormatError{Reason: "no '<' after '>'", Text: line}
	}
	return rest[:end], nil
}
