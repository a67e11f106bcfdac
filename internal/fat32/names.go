package fat32

import "strings"

// encode83 renders a path segment into the fixed 11-byte 8.3 form
// (8-byte base, 3-byte extension, space padded, upper-cased). This is
// SPEC_FULL.md's supplemented feature #1, grounded on original_source/'s
// name-packing helper.
func encode83(name string) ([11]byte, error) {
	var raw [11]byte
	for i := range raw {
		raw[i] = ' '
	}

	base, ext, _ := strings.Cut(name, ".")
	base = strings.ToUpper(base)
	ext = strings.ToUpper(ext)
	if len(base) == 0 || len(base) > 8 || len(ext) > 3 {
		return raw, ErrInvalidPath
	}
	copy(raw[0:8], base)
	copy(raw[8:11], ext)
	return raw, nil
}

// decode83 is encode83's inverse: it trims the space padding and
// reinserts the '.' separator when an extension is present.
func decode83(raw [11]byte) string {
	base := strings.TrimRight(string(raw[0:8]), " ")
	ext := strings.TrimRight(string(raw[8:11]), " ")
	if ext == "" {
		return base
	}
	return base + "." + ext
}
