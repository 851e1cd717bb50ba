package security

import "testing"

// TestNewTextSanitizer はTextSanitizerの生成をテストする。
func TestNewTextSanitizer(t *testing.T) {
	s := NewTextSanitizer()
	if s == nil {
		t.Fatal("NewTextSanitizer() returned nil")
	}
}

// TestSanitize_RemovesMarkup は全てのHTMLタグが除去されることをテストする。
func TestSanitize_RemovesMarkup(t *testing.T) {
	s := NewTextSanitizer()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"プレーンテキストはそのまま", "たろう", "たろう"},
		{"scriptタグの除去", `<script>alert("x")</script>たろう`, "たろう"},
		{"imgのonerror除去", `<img src=x onerror=alert(1)>名前`, "名前"},
		{"太字タグの除去", "<b>運転免許証</b>", "運転免許証"},
		{"リンクの除去", `<a href="https://evil.example.com">ここ</a>`, "ここ"},
		{"前後の空白除去", "  たろう  ", "たろう"},
		{"空文字列", "", ""},
		{"タグのみ", "<div></div>", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.Sanitize(tt.input); got != tt.want {
				t.Errorf("Sanitize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

// TestSanitize_Idempotent は同一入力に対して常に同一出力を返すことをテストする。
func TestSanitize_Idempotent(t *testing.T) {
	s := NewTextSanitizer()

	input := `<p>写真が<em>不鮮明</em>です</p>`
	first := s.Sanitize(input)
	second := s.Sanitize(first)
	if first != second {
		t.Errorf("sanitization not idempotent: first %q, second %q", first, second)
	}
}
