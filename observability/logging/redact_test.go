package logging

import "testing"

func TestMaskFieldHidesSensitiveKeys(t *testing.T) {
	attr := MaskField("token", "super-secret-token")
	if attr.Value.String() != RedactedValue {
		t.Fatalf("token not masked: %q", attr.Value.String())
	}

	attr = MaskField("Signature", "0xdeadbeef")
	if attr.Value.String() != RedactedValue {
		t.Fatalf("signature not masked: %q", attr.Value.String())
	}
}

func TestMaskFieldPassesThroughPublicKeys(t *testing.T) {
	attr := MaskField("player", "0xabc")
	if attr.Value.String() != "0xabc" {
		t.Fatalf("public field masked: %q", attr.Value.String())
	}
}

func TestMaskValueKeepsEmpty(t *testing.T) {
	if got := MaskValue("   "); got != "   " {
		t.Fatalf("empty value altered: %q", got)
	}
	if got := MaskValue("value"); got != RedactedValue {
		t.Fatalf("value not masked: %q", got)
	}
}
