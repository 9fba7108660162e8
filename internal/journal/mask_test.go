package journal

import (
	"reflect"
	"testing"
)

func TestMaskSecrets(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want any
	}{
		{
			name: "criticKey masked",
			in:   map[string]any{"criticKey": "sk-secret", "prompt": "go"},
			want: map[string]any{"criticKey": "***", "prompt": "go"},
		},
		{
			name: "assistantKey masked",
			in:   map[string]any{"assistantKey": "sk-other"},
			want: map[string]any{"assistantKey": "***"},
		},
		{
			name: "authorization masked",
			in:   map[string]any{"Authorization": "Bearer abc"},
			want: map[string]any{"Authorization": "***"},
		},
		{
			name: "nested object",
			in:   map[string]any{"request": map[string]any{"api_key": "xyz"}},
			want: map[string]any{"request": map[string]any{"api_key": "***"}},
		},
		{
			name: "array elements",
			in:   []any{map[string]any{"token": "t1"}, "plain"},
			want: []any{map[string]any{"token": "***"}, "plain"},
		},
		{
			name: "key-shaped substring in value",
			in:   map[string]any{"note": "used sk-abcdefghijklmnopqrstuvwxyz123456 here"},
			want: map[string]any{"note": "used *** here"},
		},
		{
			name: "empty secret left empty",
			in:   map[string]any{"criticKey": ""},
			want: map[string]any{"criticKey": ""},
		},
		{
			name: "non-secret scalars untouched",
			in:   map[string]any{"count": float64(3), "ok": true},
			want: map[string]any{"count": float64(3), "ok": true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MaskSecrets(tt.in)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("MaskSecrets() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestMaskSecrets_Idempotent(t *testing.T) {
	in := map[string]any{"criticKey": "sk-secret", "nested": map[string]any{"token": "x"}}
	once := MaskSecrets(in)
	twice := MaskSecrets(once)
	if !reflect.DeepEqual(once, twice) {
		t.Errorf("MaskSecrets() not idempotent: %#v vs %#v", once, twice)
	}
}
