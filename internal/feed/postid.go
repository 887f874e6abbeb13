package feed

import (
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/sha3"
)

const hexDigits = "0123456789abcdef"

// PostID derives the content address of a post: lower-case hex keccak-256 over
// CanonicalPost(update). Two posts with identical content share an id.
func PostID(update PostUpdate) string {
	hasher := sha3.NewLegacyKeccak256()
	hasher.Write(CanonicalPost(update))
	return hex.EncodeToString(hasher.Sum(nil))
}

// CanonicalPost serializes the post fields as a JSON object with the fixed key
// order type, title, text, link, parent. Empty optional fields are omitted and
// only quotes, backslashes and control characters are escaped.
func CanonicalPost(update PostUpdate) []byte {
	var builder strings.Builder
	builder.WriteString(`{"type":"post","title":`)
	writeCanonicalString(&builder, update.Title)
	builder.WriteString(`,"text":`)
	writeCanonicalString(&builder, update.Text)
	if update.Link != "" {
		builder.WriteString(`,"link":`)
		writeCanonicalString(&builder, update.Link)
	}
	if update.Parent != "" {
		builder.WriteString(`,"parent":`)
		writeCanonicalString(&builder, update.Parent)
	}
	builder.WriteByte('}')
	return []byte(builder.String())
}

func writeCanonicalString(builder *strings.Builder, value string) {
	builder.WriteByte('"')
	for index := 0; index < len(value); index++ {
		char := value[index]
		switch char {
		case '"':
			builder.WriteString(`\"`)
		case '\\':
			builder.WriteString(`\\`)
		case '\b':
			builder.WriteString(`\b`)
		case '\f':
			builder.WriteString(`\f`)
		case '\n':
			builder.WriteString(`\n`)
		case '\r':
			builder.WriteString(`\r`)
		case '\t':
			builder.WriteString(`\t`)
		default:
			if char < 0x20 {
				builder.WriteString(`\u00`)
				builder.WriteByte(hexDigits[char>>4])
				builder.WriteByte(hexDigits[char&0x0f])
				continue
			}
			builder.WriteByte(char)
		}
	}
	builder.WriteByte('"')
}
