package provider

import (
	"errors"
	"testing"
)

func TestRegistry(t *testing.T) {
	heygen := NewHeyGenClient("http://unused", "k", "")
	did := NewDIDClient("http://unused", "k")
	reg := NewRegistry(heygen, did)

	got, err := reg.Get(NameHeyGen)
	if err != nil {
		t.Fatalf("Get heygen: %v", err)
	}
	if got.Name() != NameHeyGen {
		t.Errorf("client name: got %s", got.Name())
	}

	if _, err := reg.Get("unknown"); !errors.Is(err, ErrProviderUnavailable) {
		t.Errorf("unknown provider: expected ErrProviderUnavailable, got %v", err)
	}

	names := reg.Names()
	if len(names) != 2 {
		t.Errorf("names: got %v", names)
	}
}
