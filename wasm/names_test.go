package wasm

import "testing"

func TestNamesRoundTrip(t *testing.T) {
	mod := "app"
	in := &Names{
		Module: &mod,
		Functions: []NameAssoc{
			{Index: 0, Name: "env.log"},
			{Index: 3, Name: "main"},
		},
		Locals: []IndirectNameAssoc{
			{Index: 3, Names: []NameAssoc{{Index: 0, Name: "argc"}}},
		},
	}

	out, err := ParseNames(in.Encode())
	if err != nil {
		t.Fatalf("ParseNames: %v", err)
	}
	if out.Module == nil || *out.Module != "app" {
		t.Errorf("module = %v", out.Module)
	}
	if name, ok := out.FunctionName(3); !ok || name != "main" {
		t.Errorf("FunctionName(3) = %q, %v", name, ok)
	}
	if _, ok := out.FunctionName(1); ok {
		t.Error("FunctionName(1) should be absent")
	}
	if len(out.Locals) != 1 || out.Locals[0].Names[0].Name != "argc" {
		t.Errorf("locals = %+v", out.Locals)
	}
}

func TestParseNamesSortsAndSkipsUnknown(t *testing.T) {
	data := []byte{
		nameSubFunction, 0x07, 0x02,
		0x05, 0x01, 'b',
		0x01, 0x01, 'a',
		0x07, 0x02, 0x00, 0x00, // global names, dropped
	}
	n, err := ParseNames(data)
	if err != nil {
		t.Fatalf("ParseNames: %v", err)
	}
	if len(n.Functions) != 2 || n.Functions[0].Index != 1 || n.Functions[1].Index != 5 {
		t.Fatalf("functions = %+v", n.Functions)
	}
	if len(n.Encode()) != 9 {
		t.Errorf("encoded %d bytes, want 9", len(n.Encode()))
	}
}

func TestNilNamesLookup(t *testing.T) {
	var n *Names
	if _, ok := n.FunctionName(0); ok {
		t.Fatal("nil names returned a name")
	}
}
