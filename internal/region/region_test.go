package region

import "testing"

func TestAddress(t *testing.T) {
	tests := []struct {
		bank     Bank
		expected uint32
	}{
		{DataRAMIn, 0x0000},
		{DataRAMOut, 0x1000},
		{CmdBuffer, 0x4000},
		{ResBuffer, 0x5000},
		{Bank(7), 0x7000},
	}

	for _, test := range tests {
		t.Run(test.bank.String(), func(t *testing.T) {
			if got := Address(test.bank); got != test.expected {
				t.Errorf("Address(%v) = 0x%x, want 0x%x", test.bank, got, test.expected)
			}
			if got := Of(test.expected + 0x123); got != test.bank {
				t.Errorf("Of(0x%x) = %v, want %v", test.expected+0x123, got, test.bank)
			}
		})
	}
}

func TestBankString(t *testing.T) {
	if s := Bank(3).String(); s != "bank(0x3)" {
		t.Errorf("unexpected name %q", s)
	}
}
