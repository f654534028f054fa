package i18n

import "strings"

var languageNames = map[string]string{
	"en": "English",
	"ru": "Russian",
	"uk": "Ukrainian",
}

func GetLanguageName(code string) string {
	if name, ok := languageNames[strings.ToLower(code)]; ok {
		return name
	}
	return code
}

func IsSupported(code string) bool {
	_, ok := languageNames[strings.ToLower(code)]
	return ok
}
