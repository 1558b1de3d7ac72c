package derivatives

import (
	"path"
	"strings"

	"github.com/angelmondragon/contentcms/pkg/enums"
)

const derivedExt = ".jpg"

// DerivedKey is the object key of a derivative of originalKey.
func DerivedKey(originalKey, label string, watermarked bool) string {
	return withSuffix(originalKey, label, watermarked)
}

// DerivedFileName is the display name of a derivative of originalName.
func DerivedFileName(originalName, label string, watermarked bool) string {
	return withSuffix(originalName, label, watermarked)
}

// AllDerivedKeys lists every key the writer can produce for originalKey, watermarked or not.
func AllDerivedKeys(originalKey string) []string {
	keys := make([]string, 0, len(enums.DerivativeSizes)*2)
	for _, size := range enums.DerivativeSizes {
		label := strings.ToLower(size.String())
		keys = append(keys, DerivedKey(originalKey, label, false), DerivedKey(originalKey, label, true))
	}
	return keys
}

func withSuffix(name, label string, watermarked bool) string {
	base := strings.TrimSuffix(name, path.Ext(name))
	if watermarked {
		return base + "_watermarked_" + label + derivedExt
	}
	return base + "_" + label + derivedExt
}
