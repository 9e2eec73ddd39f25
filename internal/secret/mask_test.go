package secret

import "testing"

func TestMask(t *testing.T) {
	tests := map[string]string{
		"":                          "",
		"abc":                       "***",
		"secret-123":                "s********3",
		"averyveryverylongsecret01": "ave*********************1",
	}
	for in, want := range tests {
		if got := Mask(in); got != want {
			t.Errorf("Mask(%q) = %q; want %q", in, got, want)
		}
	}
}

func TestMaskURL(t *testing.T) {
	tests := []struct{ in, want string }{
		{"localhost:6379", "localhost:6379"},
		{"redis://localhost:6379/0", "redis://localhost:6379/0"},
		{"redis://:hunter2pass@localhost:6379/1", "redis://:h*********s@localhost:6379/1"},
	}
	for _, tt := range tests {
		if got := MaskURL(tt.in); got != tt.want {
			t.Errorf("MaskURL(%q) = %q; want %q", tt.in, got, tt.want)
		}
	}
}
