package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderTemplate(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		values map[string]any
		want   string
	}{
		{
			name: "no markers passes through",
			text: "Write a launch post.",
			want: "Write a launch post.",
		},
		{
			name:   "substitutes values",
			text:   "Write in a {{.mode}} register.",
			values: map[string]any{"mode": "playful"},
			want:   "Write in a playful register.",
		},
		{
			name:   "default helper fills missing",
			text:   "Tone: {{default \"neutral\" .tone}}",
			values: map[string]any{},
			want:   "Tone: neutral",
		},
		{
			name:   "upper helper",
			text:   "{{upper .brand}}",
			values: map[string]any{"brand": "acme"},
			want:   "ACME",
		},
		{
			name:   "join helper",
			text:   "{{join \", \" .channels}}",
			values: map[string]any{"channels": []any{"email", "social"}},
			want:   "email, social",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := RenderTemplate(tt.text, tt.values)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRenderTemplate_BadSyntax(t *testing.T) {
	_, err := RenderTemplate("{{.mode", nil)
	assert.Error(t, err)
}
