package telegram

import (
	"strings"
	"testing"
)

func TestSplitMessageKeepsLinesTogether(t *testing.T) {
	var builder strings.Builder
	builder.WriteString(strings.Repeat("a", 3000))
	builder.WriteString("\n\n")
	builder.WriteString(strings.Repeat("b", 2000))
	builder.WriteString("\n")
	builder.WriteString(strings.Repeat("c", 500))

	parts := SplitMessage(builder.String())
	if len(parts) != 2 {
		t.Fatalf("ожидали 2 части, получили %d", len(parts))
	}
	for i, part := range parts {
		if length := len([]rune(part)); length > MessageLimit {
			t.Fatalf("часть %d длиннее лимита: %d", i, length)
		}
	}
	if parts[0] != strings.Repeat("a", 3000) {
		t.Fatalf("неожиданное содержимое первой части")
	}
	if parts[1] != strings.Repeat("b", 2000)+"\n"+strings.Repeat("c", 500) {
		t.Fatalf("вторая часть должна содержать строки b и c")
	}
}

func TestSplitAtCutsLongLines(t *testing.T) {
	parts := SplitAt("ёёёёёёё\nk", 3)
	want := []string{"ёёё", "ёёё", "ё\nk"}
	if len(parts) != len(want) {
		t.Fatalf("ожидали %v, получили %v", want, parts)
	}
	for i := range want {
		if parts[i] != want[i] {
			t.Fatalf("часть %d: ожидали %q, получили %q", i, want[i], parts[i])
		}
	}
}

func TestSplitMessageShortAndEmpty(t *testing.T) {
	if parts := SplitMessage("hello world"); len(parts) != 1 || parts[0] != "hello world" {
		t.Fatalf("короткий текст не делится: %v", parts)
	}
	if parts := SplitMessage("   \n  "); len(parts) != 0 {
		t.Fatalf("пустой текст не даёт сообщений, получили %d", len(parts))
	}
}
