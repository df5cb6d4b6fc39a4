package payments

import (
	"net/url"
	"testing"
)

func TestSignDeterministicAcrossInsertionOrder(t *testing.T) {
	first := url.Values{}
	first.Set("merchantID", "100001")
	first.Set("action", "SALE")
	first.Set("amount", "1248")

	second := url.Values{}
	second.Set("amount", "1248")
	second.Set("action", "SALE")
	second.Set("merchantID", "100001")

	if Sign(first, "key") != Sign(second, "key") {
		t.Fatalf("signature must not depend on field insertion order")
	}
}

func TestSignDependsOnKeyAndFields(t *testing.T) {
	fields := url.Values{}
	fields.Set("merchantID", "100001")
	fields.Set("action", "SALE")

	base := Sign(fields, "key")
	if Sign(fields, "other") == base {
		t.Fatalf("different keys must produce different signatures")
	}

	fields.Set("amount", "1")
	if Sign(fields, "key") == base {
		t.Fatalf("different fields must produce different signatures")
	}
}

func TestSignNormalizesLineEndings(t *testing.T) {
	crlf := url.Values{}
	crlf.Set("customerAddress", "1 High Street\r\nSpringfield")

	lf := url.Values{}
	lf.Set("customerAddress", "1 High Street\nSpringfield")

	cr := url.Values{}
	cr.Set("customerAddress", "1 High Street\rSpringfield")

	want := Sign(lf, "key")
	if Sign(crlf, "key") != want {
		t.Fatalf("CRLF line endings must hash identically to LF")
	}
	if Sign(cr, "key") != want {
		t.Fatalf("CR line endings must hash identically to LF")
	}
}
