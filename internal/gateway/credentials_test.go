package gateway

import "testing"

func TestCredentialStorePriority(t *testing.T) {
	store := NewCredentialStore(Credentials{APIURL: "http://default", APIKey: "def-key"})

	// Без переопределений действуют деплойные дефолты
	if got := store.Get(); got.APIURL != "http://default" || got.APIKey != "def-key" {
		t.Fatalf("expected defaults, got %+v", got)
	}

	// Рантайм-переопределение перекрывает дефолты
	if err := store.Set("http://runtime", "run-key"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got := store.Get(); got.APIURL != "http://runtime" {
		t.Fatalf("expected runtime override, got %+v", got)
	}

	// Пер-вызовные креды — высший приоритет
	got := store.Resolve(&Credentials{APIURL: "http://percall", APIKey: "pc-key"})
	if got.APIURL != "http://percall" || got.APIKey != "pc-key" {
		t.Fatalf("expected per-call credentials, got %+v", got)
	}

	// Пер-вызовные не сохраняются
	if got := store.Get(); got.APIURL != "http://runtime" {
		t.Fatalf("per-call credentials must not persist, got %+v", got)
	}
}

func TestCredentialStoreRejectsEmpty(t *testing.T) {
	store := NewCredentialStore(Credentials{APIURL: "http://default", APIKey: "def-key"})
	if err := store.Set("http://runtime", "run-key"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	for _, c := range [][2]string{{"", "key"}, {"http://x", ""}, {"", ""}} {
		if err := store.Set(c[0], c[1]); err != ErrEmptyCredentials {
			t.Fatalf("Set(%q, %q): expected ErrEmptyCredentials, got %v", c[0], c[1], err)
		}
	}

	// Предыдущее значение сохранилось
	if got := store.Get(); got.APIURL != "http://runtime" || got.APIKey != "run-key" {
		t.Fatalf("previous override must survive rejected Set, got %+v", got)
	}
}
