package util

import "testing"

func TestSlugify(t *testing.T) {
	tests := []struct {
		name  string
		title string
		want  string
	}{
		{
			name:  "simple title",
			title: "Hello World",
			want:  "hello-world",
		},
		{
			name:  "punctuation collapses",
			title: "Go 1.24: What's New?",
			want:  "go-1-24-what-s-new",
		},
		{
			name:  "leading and trailing symbols trimmed",
			title: "  --Fancy Title!-- ",
			want:  "fancy-title",
		},
		{
			name:  "uppercase lowered",
			title: "SHOUTING TITLE",
			want:  "shouting-title",
		},
		{
			name:  "only symbols",
			title: "!!!",
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Slugify(tt.title)
			if got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}
}
