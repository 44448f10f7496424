package dbx

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRebind(t *testing.T) {
	tests := []struct {
		name  string
		p     Placeholder
		query string
		want  string
	}{
		{
			name:  "question is untouched",
			p:     Question,
			query: "UPDATE attempts SET status = ? WHERE id = ?",
			want:  "UPDATE attempts SET status = ? WHERE id = ?",
		},
		{
			name:  "dollar numbering",
			p:     Dollar,
			query: "UPDATE attempts SET status = ?, step = ? WHERE id = ?",
			want:  "UPDATE attempts SET status = $1, step = $2 WHERE id = $3",
		},
		{
			name:  "quoted question mark",
			p:     Dollar,
			query: "SELECT id FROM attempts WHERE error = '?' AND id = ?",
			want:  "SELECT id FROM attempts WHERE error = '?' AND id = $1",
		},
		{
			name:  "no placeholders",
			p:     Dollar,
			query: "SELECT 1",
			want:  "SELECT 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Rebind(tt.p, tt.query))
		})
	}
}
