package validator

import (
	"errors"
	"testing"
)

type checkoutBody struct {
	AmountCents int64  `json:"amountCents" validate:"gte=100"`
	ReturnTo    string `json:"returnTo" validate:"omitempty,url"`
}

func TestFieldsUsesJSONNames(t *testing.T) {
	err := New().Struct(checkoutBody{AmountCents: 5, ReturnTo: "not a url"})
	fields := Fields(err)
	if fields["amountCents"] != "gte=100" || fields["returnTo"] != "url" {
		t.Fatalf("unexpected fields %v", fields)
	}
}

func TestFieldsOtherErrors(t *testing.T) {
	if Fields(nil) != nil {
		t.Fatalf("nil error must give nil details")
	}
	if got := Fields(errors.New("boom")); got["body"] != "boom" {
		t.Fatalf("unexpected details %v", got)
	}
	if err := New().Var("ann@example.com", "required,email"); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
}
