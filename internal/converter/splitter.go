package converter

import "strings"

// MaxSelectorsPerRule bounds the size of a single generated CSS rule
const MaxSelectorsPerRule = 1000

// hideDeclaration is the body of every element hiding rule
const hideDeclaration = "{ display: none !important; } "

// Splitter groups CSS selectors into hiding rules of bounded size
type Splitter struct {
	maxSelectors int
}

// NewSplitter creates a splitter with the given max selectors per rule
func NewSplitter(maxSelectors int) *Splitter {
	if maxSelectors <= 0 {
		maxSelectors = MaxSelectorsPerRule
	}
	return &Splitter{maxSelectors: maxSelectors}
}

// Split divides selectors into consecutive chunks of at most maxSelectors
func (s *Splitter) Split(selectors []string) [][]string {
	if len(selectors) == 0 {
		return nil
	}

	numParts := (len(selectors) + s.maxSelectors - 1) / s.maxSelectors
	result := make([][]string, 0, numParts)

	for i := 0; i < numParts; i++ {
		start := i * s.maxSelectors
		end := start + s.maxSelectors
		if end > len(selectors) {
			end = len(selectors)
		}

		result = append(result, selectors[start:end])
	}

	return result
}

// Stylesheet renders selectors as "a,b{ display: none !important; } " rules
func (s *Splitter) Stylesheet(selectors []string) string {
	var b strings.Builder
	for _, chunk := range s.Split(selectors) {
		b.WriteString(strings.Join(chunk, ","))
		b.WriteString(hideDeclaration)
	}

	return b.String()
}
