package text

import "unicode"

// Block is a contiguous range of code points.
type Block struct {
	Name  string
	Table *unicode.RangeTable
}

func block(name string, lo, hi rune) Block {
	return Block{
		Name:  name,
		Table: &unicode.RangeTable{R16: []unicode.Range16{{Lo: uint16(lo), Hi: uint16(hi), Stride: 1}}},
	}
}

// AnomalousBlocks are the script blocks that rarely appear in honest chat
// text but are common in obfuscated spam.
var AnomalousBlocks = []Block{
	block("Combining Diacritical Marks", 0x0300, 0x036F),
	block("Cyrillic Supplement", 0x0500, 0x052F),
	block("Latin Extended-B", 0x0180, 0x024F),
	block("Phonetic Extensions", 0x1D00, 0x1D7F),
	block("Latin Extended Additional", 0x1E00, 0x1EFF),
	block("Hangul Jamo", 0x1100, 0x11FF),
	block("Halfwidth and Fullwidth Forms", 0xFF00, 0xFFEF),
}

// BlocksPresent returns the blocks that have at least one rune in content,
// each reported once.
func BlocksPresent(content string, blocks []Block) []Block {
	var found []Block
	seen := make([]bool, len(blocks))
	for _, r := range content {
		for i, b := range blocks {
			if !seen[i] && unicode.Is(b.Table, r) {
				seen[i] = true
				found = append(found, b)
			}
		}
		if len(found) == len(blocks) {
			break
		}
	}
	return found
}
