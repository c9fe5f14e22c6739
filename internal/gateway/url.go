package gateway

import "strings"

// JoinURL склеивает базовый URL и относительный путь так, чтобы между ними
// был ровно один разделитель, сколько бы слэшей ни было на краях.
func JoinURL(base, path string) string {
	base = strings.TrimRight(base, "/")
	path = strings.TrimLeft(path, "/")
	if path == "" {
		return base
	}
	return base + "/" + path
}
