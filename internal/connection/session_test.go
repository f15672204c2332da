package connection

import "testing"

func TestQuoteString(t *testing.T) {
	s := &Session{majorVersion: 9, minorVersion: 2}

	cases := map[string]string{
		"hello":      "'hello'",
		"it's":       "'it''s'",
		`C:\temp`:    `E'C:\\temp'`,
		"":           "''",
		`mix'\quote`: `E'mix''\\quote'`,
	}
	for in, want := range cases {
		if got := s.QuoteString(in); got != want {
			t.Errorf("QuoteString(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestQuoteStringPre81NoEscapePrefix(t *testing.T) {
	s := &Session{majorVersion: 8, minorVersion: 0}
	if got := s.QuoteString(`a\b`); got != `'a\\b'` {
		t.Fatalf("pre-8.1 quoting: got %s", got)
	}
}

func TestLastErrorTrimsTrailingLineEnd(t *testing.T) {
	cases := map[string]string{
		"ERROR: division by zero\n":   "ERROR: division by zero",
		"ERROR: division by zero\r\n": "ERROR: division by zero",
		"ERROR: division by zero\r":   "ERROR: division by zero",
		"ERROR: one\ntwo\n":           "ERROR: one\ntwo",
		"no newline":                  "no newline",
	}
	for in, want := range cases {
		s := &Session{lastError: in}
		if got := s.LastError(); got != want {
			t.Errorf("LastError(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseServerVersion(t *testing.T) {
	var major, minor int

	parseServerVersion("9.6.24", &major, &minor)
	if major != 9 || minor != 6 {
		t.Fatalf("9.6.24 parsed as %d.%d", major, minor)
	}

	major, minor = 0, 0
	parseServerVersion("14.5 (Debian 14.5-1.pgdg110+1)", &major, &minor)
	if major != 14 || minor != 5 {
		t.Fatalf("14.5 parsed as %d.%d", major, minor)
	}

	major, minor = 0, 0
	parseServerVersion("16beta1", &major, &minor)
	if major != 0 {
		t.Fatalf("unparsable major should stay 0, got %d", major)
	}
}

func TestBackendMinimumVersion(t *testing.T) {
	s := &Session{majorVersion: 9, minorVersion: 1}
	if s.BackendMinimumVersion(9, 2) {
		t.Fatal("9.1 should not satisfy 9.2")
	}
	if !s.BackendMinimumVersion(9, 1) {
		t.Fatal("9.1 should satisfy 9.1")
	}
	if !s.BackendMinimumVersion(8, 4) {
		t.Fatal("9.1 should satisfy 8.4")
	}
}
