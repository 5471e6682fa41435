package types

import "testing"

func TestAddressNormalize(t *testing.T) {
	blank := "   "
	addr := Address{
		Name:       " Ada ",
		Line1:      " 1 Main St ",
		Line2:      &blank,
		City:       " Austin",
		PostalCode: "78701 ",
		Country:    " us",
	}.Normalize()

	if addr.Name != "Ada" || addr.Line1 != "1 Main St" || addr.City != "Austin" || addr.PostalCode != "78701" {
		t.Fatalf("unexpected trimmed address %+v", addr)
	}
	if addr.Line2 != nil {
		t.Fatalf("blank line2 should normalize to nil")
	}
	if addr.Country != "US" {
		t.Fatalf("expected upper-cased country, got %q", addr.Country)
	}
}
