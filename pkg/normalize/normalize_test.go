package normalize

import "testing"

func TestTextFoldsPersianArabicDigits(t *testing.T) {
	got := Text("۰۱۲۳۴۵۶۷۸۹ و ٠١٢٣٤٥٦٧٨٩")
	want := "0123456789 و 0123456789"
	if got != want {
		t.Fatalf("Text() = %q, want %q", got, want)
	}
}

func TestTextUnifiesArabicLetters(t *testing.T) {
	got := Text("كتاب ياسين")
	want := "کتاب یاسین"
	if got != want {
		t.Fatalf("Text() = %q, want %q", got, want)
	}
}

func TestTextStripsZeroWidthAndControls(t *testing.T) {
	got := Text("ab​c\uFEFFd\r\n\te")
	want := "abcd   e"
	if got != want {
		t.Fatalf("Text() = %q, want %q", got, want)
	}
}

func TestTextTrimsOuterWhitespace(t *testing.T) {
	if got := Text("  hello  "); got != "hello" {
		t.Fatalf("Text() = %q, want %q", got, "hello")
	}
}

func TestTextEmptyInput(t *testing.T) {
	if got := Text(""); got != "" {
		t.Fatalf("Text() = %q, want empty", got)
	}
}

func TestPhoneStripsNonDigitsAfterFolding(t *testing.T) {
	got := Phone("۰۹۱۲ ۳۴۵-۶۷۸۹")
	if got != "09123456789" {
		t.Fatalf("Phone() = %q, want %q", got, "09123456789")
	}
}

func TestNeedsFormulaGuard(t *testing.T) {
	cases := map[string]bool{
		"=SUM(A1:A2)": true,
		"+1234":       true,
		"-1234":       true,
		"@cmd":        true,
		"\ttabbed":    true,
		"plain text":  false,
		"":            false,
	}
	for in, want := range cases {
		if got := NeedsFormulaGuard(in); got != want {
			t.Errorf("NeedsFormulaGuard(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestFormulaGuardPrependsApostrophe(t *testing.T) {
	if got := FormulaGuard("=SUM(A1:A2)"); got != "'=SUM(A1:A2)" {
		t.Fatalf("FormulaGuard() = %q", got)
	}
	if got := FormulaGuard("plain"); got != "plain" {
		t.Fatalf("FormulaGuard() = %q, want unchanged", got)
	}
}

// TestCellAppliesGuardOnlyWhenExcelModeOrRisky checks that the guard
// applies to every cell in Excel mode, and always to cells flagged
// excel-risky regardless of mode — but a non-risky cell with formula-like
// content is left untouched when Excel mode is off.
func TestCellAppliesGuardOnlyWhenExcelModeOrRisky(t *testing.T) {
	if got := Cell("=SUM(A1:A2)", false, false); got != "=SUM(A1:A2)" {
		t.Fatalf("Cell() = %q, want unguarded (excel mode off, not risky)", got)
	}
	if got := Cell("=SUM(A1:A2)", false, true); got != "'=SUM(A1:A2)" {
		t.Fatalf("Cell() = %q, want guarded (risky column)", got)
	}
	if got := Cell("=SUM(A1:A2)", true, false); got != "'=SUM(A1:A2)" {
		t.Fatalf("Cell() = %q, want guarded (excel mode on)", got)
	}
	if got := Cell("plain", true, false); got != "plain" {
		t.Fatalf("Cell() = %q, want unchanged (no formula prefix)", got)
	}
}
