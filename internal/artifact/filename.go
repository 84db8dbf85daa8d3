package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
	"unicode"
)

const maxBaseName = 60

var cyrillic = map[rune]string{
	'а': "a", 'б': "b", 'в': "v", 'г': "g", 'д': "d", 'е': "e", 'ё': "yo",
	'ж': "zh", 'з': "z", 'и': "i", 'й': "y", 'к': "k", 'л': "l", 'м': "m",
	'н': "n", 'о': "o", 'п': "p", 'р': "r", 'с': "s", 'т': "t", 'у': "u",
	'ф': "f", 'х': "h", 'ц': "ts", 'ч': "ch", 'ш': "sh", 'щ': "sch",
	'ъ': "", 'ы': "y", 'ь': "", 'э': "e", 'ю': "yu", 'я': "ya",
	'А': "A", 'Б': "B", 'В': "V", 'Г': "G", 'Д': "D", 'Е': "E", 'Ё': "Yo",
	'Ж': "Zh", 'З': "Z", 'И': "I", 'Й': "Y", 'К': "K", 'Л': "L", 'М': "M",
	'Н': "N", 'О': "O", 'П': "P", 'Р': "R", 'С': "S", 'Т': "T", 'У': "U",
	'Ф': "F", 'Х': "H", 'Ц': "Ts", 'Ч': "Ch", 'Ш': "Sh", 'Щ': "Sch",
	'Ъ': "", 'Ы': "Y", 'Ь': "", 'Э': "E", 'Ю': "Yu", 'Я': "Ya",
}

// Transliterate maps Cyrillic letters to Latin. Spaces and other letters or
// digits outside [A-Za-z0-9_-] become underscores, punctuation is dropped and
// runs of underscores are squeezed.
func Transliterate(s string) string {
	var b strings.Builder
	for _, r := range s {
		if latin, ok := cyrillic[r]; ok {
			b.WriteString(latin)
			continue
		}
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ', unicode.IsLetter(r), unicode.IsDigit(r):
			b.WriteByte('_')
		}
	}
	out := b.String()
	for strings.Contains(out, "__") {
		out = strings.ReplaceAll(out, "__", "_")
	}
	return strings.Trim(out, "_")
}

// urlPrefix returns the slug of a /missile/<slug> URL, or "missile".
func urlPrefix(detailURL string) string {
	u, err := url.Parse(detailURL)
	if err != nil {
		return "missile"
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) >= 2 && parts[0] == "missile" && parts[1] != "" {
		return Transliterate(parts[1])
	}
	return "missile"
}

// BaseFilename builds the payload file name for an item without the
// collision suffix.
func BaseFilename(detailURL, name string) string {
	base := urlPrefix(detailURL) + "_" + Transliterate(name)
	if len(base) > maxBaseName {
		base = base[:maxBaseName]
	}
	return base + ".json"
}

// disambiguate derives a name unique to detailURL when base is taken.
func disambiguate(base, detailURL string) string {
	sum := sha256.Sum256([]byte(detailURL))
	suffix := "_" + hex.EncodeToString(sum[:4])
	stem := strings.TrimSuffix(base, ".json")
	if len(stem)+len(suffix) > maxBaseName {
		stem = stem[:maxBaseName-len(suffix)]
	}
	return stem + suffix + ".json"
}
