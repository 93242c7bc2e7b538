package symbols

import (
	"errors"
	"testing"
)

func TestResolveAcceptedForms(t *testing.T) {
	reg := Default()

	forms := []string{"BTC-USDT", "BTC/USDT", "BTC_USDT", "BTCUSDT", "btc-usdt", " btc/usdt "}
	for _, form := range forms {
		p, err := reg.Resolve(form)
		if err != nil {
			t.Fatalf("Resolve(%q): %v", form, err)
		}
		if p.Symbol != "BTC-USDT" || p.Base != "BTC" || p.Quote != "USDT" {
			t.Fatalf("Resolve(%q) = %+v", form, p)
		}
	}
}

func TestResolveUnknownSymbol(t *testing.T) {
	reg := Default()

	for _, raw := range []string{"", "BTC", "FOO-USDT", "FOOUSDT", "BTC-"} {
		if _, err := reg.Resolve(raw); !errors.Is(err, ErrUnknownSymbol) {
			t.Fatalf("Resolve(%q) err = %v, want ErrUnknownSymbol", raw, err)
		}
	}
}

func TestRegisterRejectsInvalidPairs(t *testing.T) {
	reg, err := NewRegistry(nil)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	if err := reg.Register(Pair{Base: "BTC", Quote: "BTC"}); err == nil {
		t.Fatal("expected error for base == quote")
	}
	if err := reg.Register(Pair{Base: "", Quote: "USDT"}); err == nil {
		t.Fatal("expected error for empty base")
	}
	if err := reg.Register(Pair{Base: "BTC", Quote: "USDT"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := reg.Register(Pair{Base: "btc", Quote: "usdt"}); err == nil {
		t.Fatal("expected error for duplicate pair")
	}
}

func TestDefaultPairsSortedAndComplete(t *testing.T) {
	pairs := Default().Pairs()
	if len(pairs) != 15 {
		t.Fatalf("pair count = %d, want 15", len(pairs))
	}
	for i := 1; i < len(pairs); i++ {
		if pairs[i-1].Symbol >= pairs[i].Symbol {
			t.Fatalf("pairs not sorted: %s before %s", pairs[i-1].Symbol, pairs[i].Symbol)
		}
	}
	for _, p := range pairs {
		if p.Quote != "USDT" {
			t.Fatalf("unexpected quote %q for %s", p.Quote, p.Symbol)
		}
	}
}
