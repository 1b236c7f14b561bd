package sanitize

import "testing"

func TestSanitizeTextEscapesAndCollapses(t *testing.T) {
	got := SanitizeText("  <script>alert(1)</script>   has    spaces  ")
	if got != "&lt;script&gt;alert(1)&lt;/script&gt; has spaces" {
		t.Errorf("SanitizeText() = %q", got)
	}
}

func TestSanitizeTextTruncates(t *testing.T) {
	long := make([]byte, maxTextLen+500)
	for i := range long {
		long[i] = 'a'
	}
	got := SanitizeText(string(long))
	if len(got) != maxTextLen {
		t.Errorf("len(got) = %d, want %d", len(got), maxTextLen)
	}
	if got[len(got)-len(truncationMarker):] != truncationMarker {
		t.Errorf("expected truncation marker suffix")
	}
}

func TestSanitizeJSONBoundsLists(t *testing.T) {
	list := make([]any, 30)
	for i := range list {
		list[i] = i
	}
	got := SanitizeJSON(list).([]any)
	if len(got) != maxJSONListLen {
		t.Errorf("len(got) = %d, want %d", len(got), maxJSONListLen)
	}
}

func TestSanitizeJSONDropsNestedStructures(t *testing.T) {
	in := map[string]any{"a": 1, "nested": map[string]any{"x": 1}, "list": []any{1, 2}}
	got := SanitizeJSON(in).(map[string]any)
	if _, ok := got["nested"]; ok {
		t.Errorf("expected nested map to be dropped")
	}
	if _, ok := got["list"]; ok {
		t.Errorf("expected nested list to be dropped")
	}
	if got["a"] != 1 {
		t.Errorf("expected scalar to survive")
	}
}

func TestValidateSessionID(t *testing.T) {
	if !ValidateSessionID("session_0123456789abcdef") {
		t.Error("expected valid session id to pass")
	}
	if ValidateSessionID("session_badid") {
		t.Error("expected malformed session id to fail")
	}
}

func TestValidateMemoryKey(t *testing.T) {
	if !ValidateMemoryKey("my-key.v1") {
		t.Error("expected plain key to pass")
	}
	if ValidateMemoryKey("bad/key") {
		t.Error("expected key with excluded character to fail")
	}
	if ValidateMemoryKey("") {
		t.Error("expected empty key to fail")
	}
}
