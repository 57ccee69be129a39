package idempotency

import (
	"errors"
	"testing"
)

func TestFingerprint_InsertionOrderIndependent(t *testing.T) {
	a := map[string]any{}
	a["amount"] = 100
	a["currency"] = "EUR"
	a["meta"] = map[string]any{"x": 1, "y": []int{1, 2}}

	b := map[string]any{}
	b["meta"] = map[string]any{"y": []int{1, 2}, "x": 1}
	b["currency"] = "EUR"
	b["amount"] = 100

	fa, err := Fingerprint(Call{OperationID: "charge", CallerID: "u1", Params: a})
	if err != nil {
		t.Fatal(err)
	}
	fb, err := Fingerprint(Call{OperationID: "charge", CallerID: "u1", Params: b})
	if err != nil {
		t.Fatal(err)
	}
	if fa != fb {
		t.Fatalf("fingerprints differ: %s vs %s", fa, fb)
	}
	if len(fa) != 64 {
		t.Fatalf("expected hex sha256, got %q", fa)
	}
}

func TestFingerprint_StructMatchesMap(t *testing.T) {
	type req struct {
		Currency string `json:"currency"`
		Amount   int    `json:"amount"`
	}
	fs, _ := Fingerprint(Call{OperationID: "charge", Params: req{Currency: "EUR", Amount: 5}})
	fm, _ := Fingerprint(Call{OperationID: "charge", Params: map[string]any{"amount": 5, "currency": "EUR"}})
	if fs != fm {
		t.Fatal("struct and equivalent map should share a fingerprint")
	}
}

func TestFingerprint_Sensitivity(t *testing.T) {
	base := Call{OperationID: "charge", CallerID: "u1", Params: map[string]any{"amount": 100}}
	fp, _ := Fingerprint(base)

	variants := map[string]Call{
		"value":     {OperationID: "charge", CallerID: "u1", Params: map[string]any{"amount": 101}},
		"caller":    {OperationID: "charge", CallerID: "u2", Params: map[string]any{"amount": 100}},
		"operation": {OperationID: "refund", CallerID: "u1", Params: map[string]any{"amount": 100}},
		"key":       {OperationID: "charge", CallerID: "u1", Params: map[string]any{"amt": 100}},
		"type":      {OperationID: "charge", CallerID: "u1", Params: map[string]any{"amount": "100"}},
		"boundary":  {OperationID: "char", CallerID: "geu1", Params: map[string]any{"amount": 100}},
	}
	for name, c := range variants {
		t.Run(name, func(t *testing.T) {
			other, err := Fingerprint(c)
			if err != nil {
				t.Fatal(err)
			}
			if other == fp {
				t.Fatal("fingerprint should change")
			}
		})
	}
}

func TestFingerprint_LargeIntegersKeepPrecision(t *testing.T) {
	a, _ := Fingerprint(Call{OperationID: "op", Params: map[string]any{"id": int64(9007199254740993)}})
	b, _ := Fingerprint(Call{OperationID: "op", Params: map[string]any{"id": int64(9007199254740992)}})
	if a == b {
		t.Fatal("integers beyond float64 precision must not collide")
	}
}

func TestFingerprint_Errors(t *testing.T) {
	if _, err := Fingerprint(Call{}); !errors.Is(err, ErrEmptyOperation) {
		t.Fatalf("err = %v, want ErrEmptyOperation", err)
	}
	if _, err := Fingerprint(Call{OperationID: "op", Params: make(chan int)}); err == nil {
		t.Fatal("expected encode error for unsupported params")
	}
}

func TestCanonicalize(t *testing.T) {
	got, err := Canonicalize(map[string]any{"b": 1, "a": map[string]any{"d": true, "c": nil}})
	if err != nil {
		t.Fatal(err)
	}
	if want := `{"a":{"c":null,"d":true},"b":1}`; string(got) != want {
		t.Fatalf("Canonicalize = %s, want %s", got, want)
	}
}

func TestFingerprint_RejectsInvalidUTF8(t *testing.T) {
	cases := map[string]any{
		"map value": map[string]string{"v": "\xff"},
		"map key":   map[string]int{"\xfe": 1},
		"slice":     []string{"ok", "\xff"},
		"struct":    struct{ Name string }{Name: "a\xffb"},
		"nested":    map[string]any{"outer": []any{map[string]any{"inner": "\xfe"}}},
	}
	for name, params := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Fingerprint(Call{OperationID: "op", Params: params})
			if !errors.Is(err, ErrInvalidParams) {
				t.Fatalf("err = %v, want ErrInvalidParams", err)
			}
		})
	}
}

func TestFingerprint_BinaryBytesStayDistinct(t *testing.T) {
	a, err := Fingerprint(Call{OperationID: "op", Params: map[string][]byte{"v": {0xff}}})
	if err != nil {
		t.Fatal(err)
	}
	b, err := Fingerprint(Call{OperationID: "op", Params: map[string][]byte{"v": {0xfe}}})
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Fatal("distinct byte values share a fingerprint")
	}
}
