package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchPattern(t *testing.T) {
	tests := []struct {
		pattern string
		path    string
		want    bool
	}{
		// Literal
		{"upsync.yaml", "upsync.yaml", true},
		{"upsync.yaml", "other.yaml", false},
		{"a/b/c.txt", "a/b/c.txt", true},
		{"a/b/c.txt", "a/b", false},

		// Single-segment wildcard
		{"docs/*.md", "docs/readme.md", true},
		{"docs/*.md", "docs/sub/readme.md", false},
		{"*.lock", "poetry.lock", true},
		{"src/*_test.go", "src/match_test.go", true},

		// Double-star
		{"orizon/**", "orizon/auth/routes.py", true},
		{"orizon/**", "orizon", true},
		{"orizon/**", "orizonish/file.py", false},
		{"**/dist/**", "ui/dist/index.html", true},
		{"**/dist/**", "dist/index.html", true},
		{"**/dist/**", "ui/build/index.html", false},
		{"**", "anything/at/all", true},

		// Mixed
		{"ui/**/*.map", "ui/dist/assets/app.js.map", true},
		{"ui/**/*.map", "ui/dist/assets/app.js", false},
	}
	for _, tt := range tests {
		t.Run(tt.pattern+" vs "+tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, MatchPattern(tt.pattern, tt.path))
		})
	}
}
