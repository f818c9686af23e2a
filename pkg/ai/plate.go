package ai

import "strings"

// UnknownPlate is persisted when no readable plate text was obtained.
const UnknownPlate = "00-0000"

// plateSwap is the aggressive alpha-to-digit substitution for OCR noise.
// Fleet plates are digits only, pattern xx-xxxx.
var plateSwap = map[rune]rune{
	'O': '0', 'D': '0', 'Q': '0', 'U': '0', 'C': '0',
	'I': '1', 'L': '1', 'T': '1', 'J': '1',
	'Z': '2',
	'A': '4',
	'S': '5',
	'G': '6', 'E': '6',
	'Y': '7', 'V': '7',
	'B': '8',
	'P': '9',
}

// NormalizePlate cleans raw OCR text into the xx-xxxx digit pattern.
// Anything that does not yield exactly six digits collapses to
// UnknownPlate rather than guessing.
func NormalizePlate(text string) string {
	t := strings.ToUpper(strings.TrimSpace(text))
	t = strings.ReplaceAll(t, " ", "")

	var digits []rune
	for _, ch := range t {
		if swapped, ok := plateSwap[ch]; ok {
			digits = append(digits, swapped)
		} else if ch >= '0' && ch <= '9' {
			digits = append(digits, ch)
		}
		// hyphens and unmapped characters are dropped
	}

	if len(digits) != 6 {
		return UnknownPlate
	}
	return string(digits[:2]) + "-" + string(digits[2:])
}
