package discord

import (
	"errors"
	"strings"
	"testing"

	"github.com/goccy/go-json"
)

func TestParseColor(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{in: "#1A2B3C", want: 0x1A2B3C},
		{in: "#ffffff", want: 0xFFFFFF},
		{in: "#000000", want: 0},
		{in: "1A2B3C", wantErr: true},
		{in: "#1A2B3", wantErr: true},
		{in: "#1A2B3C4", wantErr: true},
		{in: "#GGGGGG", wantErr: true},
		{in: "#+12345", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseColor(tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidColor) {
				t.Errorf("ParseColor(%q) err = %v, want ErrInvalidColor", tt.in, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseColor(%q) unexpected err: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseColor(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
	if v, _ := ParseColor("#1A2B3C"); v != 1715004 {
		t.Fatalf("decimal value = %d, want 1715004", v)
	}
}

func TestMention(t *testing.T) {
	tests := []struct {
		in      string
		content string
	}{
		{"", ""},
		{"none", ""},
		{"Everyone", "@everyone"},
		{"HERE", "@here"},
	}
	for _, tt := range tests {
		m, err := ParseMention(tt.in)
		if err != nil {
			t.Fatalf("ParseMention(%q): %v", tt.in, err)
		}
		if got := m.Content(); got != tt.content {
			t.Errorf("ParseMention(%q).Content() = %q, want %q", tt.in, got, tt.content)
		}
	}
	if _, err := ParseMention("channel"); !errors.Is(err, ErrInvalidMention) {
		t.Fatalf("expected ErrInvalidMention, got %v", err)
	}
}

func TestMessageOmitsEmptyOptionalFields(t *testing.T) {
	msg := Message{Embeds: []Embed{{
		Title:  "t",
		Fields: []Field{{Name: "External Details", Value: "v"}},
	}}}
	b, err := json.Marshal(msg)
	if err != nil {
		t.Fatal(err)
	}
	s := string(b)
	for _, absent := range []string{"content", "avatar_url", "username", "color", "thumbnail", "footer"} {
		if strings.Contains(s, `"`+absent+`"`) {
			t.Errorf("payload %s should omit %q", s, absent)
		}
	}
	if !strings.Contains(s, `"inline":false`) {
		t.Errorf("payload %s should always carry inline", s)
	}
}

func TestMessageColorZeroIsKept(t *testing.T) {
	b, err := json.Marshal(Embed{Color: Color(0)})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), `"color":0`) {
		t.Fatalf("explicit black color dropped: %s", b)
	}
}
