package gateway

import "testing"

func TestJoinURL(t *testing.T) {
	cases := []struct {
		base, path, want string
	}{
		{"http://gw:8085", "instance/create", "http://gw:8085/instance/create"},
		{"http://gw:8085/", "instance/create", "http://gw:8085/instance/create"},
		{"http://gw:8085", "/instance/create", "http://gw:8085/instance/create"},
		{"http://gw:8085///", "//instance/create", "http://gw:8085/instance/create"},
		{"http://gw:8085/", "", "http://gw:8085"},
		{"http://gw:8085", "", "http://gw:8085"},
	}

	for _, c := range cases {
		if got := JoinURL(c.base, c.path); got != c.want {
			t.Fatalf("JoinURL(%q, %q) = %q, want %q", c.base, c.path, got, c.want)
		}
	}
}

func TestNormalizeQR(t *testing.T) {
	if got := NormalizeQR("data:image/png;base64,iVBORw0K"); got != "iVBORw0K" {
		t.Fatalf("expected stripped payload, got %q", got)
	}
	// Голый base64 проходит без изменений
	if got := NormalizeQR("iVBORw0K"); got != "iVBORw0K" {
		t.Fatalf("expected passthrough, got %q", got)
	}
	// Строка с data:, но без маркера base64 — не трогаем
	if got := NormalizeQR("data:text/plain,hello"); got != "data:text/plain,hello" {
		t.Fatalf("expected passthrough for non-base64 data URL, got %q", got)
	}
}

func TestAddDataURLPrefix(t *testing.T) {
	if got := AddDataURLPrefix("iVBORw0K"); got != "data:image/png;base64,iVBORw0K" {
		t.Fatalf("unexpected prefix result: %q", got)
	}
	// Уже с префиксом — второй раз не добавляем
	withPrefix := "data:image/png;base64,iVBORw0K"
	if got := AddDataURLPrefix(withPrefix); got != withPrefix {
		t.Fatalf("expected idempotent prefix, got %q", got)
	}
	// Round-trip: normalize после prefix возвращает исходник
	if got := NormalizeQR(AddDataURLPrefix("abc123")); got != "abc123" {
		t.Fatalf("round-trip mismatch: %q", got)
	}
}
