package anonymizer

import (
	"fmt"
	"strings"
	"testing"
)

func TestAnonymizeAssignsInOrder(t *testing.T) {
	lines := []Line{
		{Time: "10:00", User: "김", Content: "hi"},
		{Time: "10:01", User: "이", Content: "ok"},
		{Time: "10:02", User: "김", Content: "again"},
	}
	text, forward, reverse := Anonymize(lines)

	want := "[{Speaker A} | 10:00] hi\n[{Speaker B} | 10:01] ok\n[{Speaker A} | 10:02] again\n"
	if text != want {
		t.Fatalf("unexpected transcript:\n%q\nwant:\n%q", text, want)
	}
	if forward["김"] != "{Speaker A}" || forward["이"] != "{Speaker B}" {
		t.Fatalf("unexpected forward map: %v", forward)
	}
	if reverse["{Speaker A}"] != "김" {
		t.Fatalf("unexpected reverse map: %v", reverse)
	}
}

func TestRoundTrip(t *testing.T) {
	lines := []Line{
		{Time: "09:00", User: "민수", Content: "로그인 API 구현하자"},
		{Time: "09:01", User: "지은", Content: "내일까지 할게요"},
		{Time: "09:02", User: "민수", Content: "지은님 고마워요"},
	}
	text, _, reverse := Anonymize(lines)

	restored := Restore(text, reverse)
	var want strings.Builder
	for _, l := range lines {
		fmt.Fprintf(&want, "[%s | %s] %s\n", l.User, l.Time, l.Content)
	}
	if restored != want.String() {
		t.Fatalf("round trip failed:\n%q\nwant:\n%q", restored, want.String())
	}
}

func TestRestoreLongestMatchFirst(t *testing.T) {
	reverse := map[string]string{
		"{Speaker A}":  "김",
		"{Speaker AA}": "박",
	}
	got := Restore("{Speaker AA} then {Speaker A}", reverse)
	if got != "박 then 김" {
		t.Fatalf("longest-match restore failed: %q", got)
	}
}

func TestRestorePassThrough(t *testing.T) {
	reverse := map[string]string{"{Speaker A}": "김"}
	got := Restore("{Speaker A}가 말했다, {Speaker Z}는 없다", reverse)
	if got != "김가 말했다, {Speaker Z}는 없다" {
		t.Fatalf("unexpected restore: %q", got)
	}
}

func TestTwentySeventhSpeakerIsNumbered(t *testing.T) {
	var lines []Line
	for i := 0; i < 27; i++ {
		lines = append(lines, Line{Time: "t", User: fmt.Sprintf("u%d", i), Content: "x"})
	}
	_, forward, _ := Anonymize(lines)
	if forward["u25"] != "{Speaker Z}" {
		t.Fatalf("expected 26th speaker to be Z, got %s", forward["u25"])
	}
	if forward["u26"] != "{Speaker 27}" {
		t.Fatalf("expected 27th speaker to be numbered, got %s", forward["u26"])
	}
}

func TestRestoreJSON(t *testing.T) {
	reverse := map[string]string{
		"{Speaker A}": "김",
		"{Speaker B}": "이",
	}
	doc := `{"title":"{Speaker A}의 보고","agenda":[{"topic":"일정","content":"{Speaker B}가 정리"}],"decisions":["{Speaker A} 승인"],"count":3}`
	got := RestoreJSON(doc, reverse)

	want := `{"title":"김의 보고","agenda":[{"topic":"일정","content":"이가 정리"}],"decisions":["김 승인"],"count":3}`
	if got != want {
		t.Fatalf("json restore failed:\n%s\nwant:\n%s", got, want)
	}
}
