package byteio

import "testing"

func TestUint40RoundTrip(t *testing.T) {
	cases := []uint64{0, 1, 255, 256, 1 << 20, 1<<40 - 1}
	for _, v := range cases {
		buf := make([]byte, 5)
		PutUint40(buf, v)
		got, err := Uint40(buf)
		if err != nil {
			t.Fatalf("Uint40(%d): %v", v, err)
		}
		if got != v {
			t.Errorf("round trip %d: got %d", v, got)
		}
	}
}

func TestUint40Short(t *testing.T) {
	if _, err := Uint40([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected error on short buffer")
	}
}

func TestItemWidth(t *testing.T) {
	tests := []struct {
		blockSize uint32
		want      int
		wantErr   bool
	}{
		{0, 0, true},
		{1, 1, false},
		{1 << 8, 1, false},
		{1<<8 + 1, 2, false},
		{1 << 16, 2, false},
		{1<<16 + 1, 3, false},
		{1 << 24, 3, false},
		{1<<24 + 1, 4, false},
		{1 << 31, 4, false},
	}
	for _, tc := range tests {
		got, err := ItemWidth(tc.blockSize)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ItemWidth(%d): expected error", tc.blockSize)
			}
			continue
		}
		if err != nil {
			t.Errorf("ItemWidth(%d): unexpected error: %v", tc.blockSize, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ItemWidth(%d) = %d, want %d", tc.blockSize, got, tc.want)
		}
	}
}

func TestBlockItemRoundTrip(t *testing.T) {
	for width := 1; width <= 4; width++ {
		buf := make([]byte, width)
		var max uint32 = 1
		for i := 0; i < width; i++ {
			max <<= 8
		}
		max--
		PutBlockItem(buf, width, max)
		got, err := ReadBlockItem(buf, width)
		if err != nil {
			t.Fatalf("width %d: %v", width, err)
		}
		if got != max {
			t.Errorf("width %d: got %d, want %d", width, got, max)
		}
	}
}
