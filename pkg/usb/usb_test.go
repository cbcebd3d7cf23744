package usb

import "testing"

func TestValidPort(t *testing.T) {
	tests := []struct {
		name string
		port string
		want bool
	}{
		{"root hub", "usb1", true},
		{"root hub multi digit", "usb12", true},
		{"root hub zero", "usb0", false},
		{"bus port", "1-2", true},
		{"bus port dotted", "1-2.3.4", true},
		{"bus leading zero", "1-0", false},
		{"garbage", "not-a-port", false},
		{"empty", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidPort(tt.port); got != tt.want {
				t.Errorf("ValidPort(%q) = %v, want %v", tt.port, got, tt.want)
			}
		})
	}
}

func TestValidatePort(t *testing.T) {
	if err := ValidatePort("usb1"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := ValidatePort("bogus"); err == nil {
		t.Error("expected error for invalid port")
	}
}
