package crypto

import (
	"net/url"
	"strings"
	"testing"
)

func TestSignQueryKnownVector(t *testing.T) {
	// Vector from the exchange API documentation.
	auth := &HMACAuth{
		Key:    "vmPUZE6mv9SD5VNHk4HlWFsOr6aKE2zvsw0MuIgwCIPy6utIco14y7Ju91duEh8A",
		Secret: "NhqPtmdSJYdKjVHjA7PZj4Mge3R5YNiP1e3UZjInClVN65XAbvqqM6A7H5fATj0j",
	}
	query := "symbol=LTCBTC&side=BUY&type=LIMIT&timeInForce=GTC&quantity=1&price=0.1&recvWindow=5000&timestamp=1499827319559"
	want := "c8db56825ae71d6d79447849e617115f4a920fa2acdcab2b053c4b2838bd6b71"

	if got := auth.SignQuery(query); got != want {
		t.Errorf("SignQuery = %s, want %s", got, want)
	}
}

func TestSignedQueryAtAppendsSignature(t *testing.T) {
	auth := &HMACAuth{Key: "key", Secret: "secret"}
	values := url.Values{}
	values.Set("symbol", "BTCUSDT")

	query := auth.SignedQueryAt(values, 1700000000000)

	if !strings.Contains(query, "timestamp=1700000000000") {
		t.Errorf("query missing timestamp: %s", query)
	}
	idx := strings.Index(query, "&signature=")
	if idx < 0 {
		t.Fatalf("query missing signature suffix: %s", query)
	}
	base, sig := query[:idx], query[idx+len("&signature="):]
	if want := auth.SignQuery(base); sig != want {
		t.Errorf("signature = %s, want %s (over %q)", sig, want, base)
	}
}

func TestStringRedacts(t *testing.T) {
	auth := &HMACAuth{Key: "abcdef", Secret: "123456"}
	s := auth.String()
	if strings.Contains(s, "abcdef") || strings.Contains(s, "123456") {
		t.Errorf("String() leaked credentials: %s", s)
	}
}
