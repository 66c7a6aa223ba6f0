package mpu

import (
	"testing"

	"errs"
)

type fakeConfigurer struct {
	called bool
	region Region
	base   uintptr
	attr   uint32
	err    error
}

func (f *fakeConfigurer) Configure(region Region, base uintptr, attr uint32) error {
	f.called = true
	f.region = region
	f.base = base
	f.attr = attr
	return f.err
}

func TestConfigureComputesAttrWord(t *testing.T) {
	c := &fakeConfigurer{}
	errno := Configure(c, RegionText, 0, 32, ExecOK, APRwRw)
	if errno != errs.EOK {
		t.Fatalf("Configure() = %v", errno)
	}
	if !c.called {
		t.Fatal("Configure() did not call the Configurer")
	}
	if c.region != RegionText || c.base != 0 {
		t.Errorf("Configure() called with region=%v base=%#x", c.region, c.base)
	}
	const want = 0x03050008
	if c.attr != want {
		t.Errorf("attr = %#x, want %#x", c.attr, want)
	}
}

func TestConfigureExecNo(t *testing.T) {
	c := &fakeConfigurer{}
	if errno := Configure(c, RegionData, 0, 64, ExecNo, APRwNo); errno != errs.EOK {
		t.Fatalf("Configure() = %v", errno)
	}
	if c.attr>>28&1 != 1 {
		t.Errorf("XN bit not set in attr %#x", c.attr)
	}
}

func TestConfigureRejectsBadRegion(t *testing.T) {
	c := &fakeConfigurer{}
	if errno := Configure(c, Region(1), 0, 32, ExecOK, APRwRw); errno != errs.EInvalid {
		t.Errorf("Configure() with region below range = %v, want EInvalid", errno)
	}
	if c.called {
		t.Error("Configure() called the Configurer despite invalid region")
	}
	if errno := Configure(c, Region(7), 0, 32, ExecOK, APRwRw); errno != errs.EInvalid {
		t.Errorf("Configure() with region above range = %v, want EInvalid", errno)
	}
}

func TestConfigureRejectsBadAP(t *testing.T) {
	c := &fakeConfigurer{}
	if errno := Configure(c, RegionText, 0, 32, ExecOK, apReserved); errno != errs.EInvalid {
		t.Errorf("Configure() with reserved AP = %v, want EInvalid", errno)
	}
	if errno := Configure(c, RegionText, 0, 32, ExecOK, AP(7)); errno != errs.EInvalid {
		t.Errorf("Configure() with out-of-range AP = %v, want EInvalid", errno)
	}
}

func TestConfigureRejectsNonPowerOfTwoSize(t *testing.T) {
	c := &fakeConfigurer{}
	if errno := Configure(c, RegionText, 0, 100, ExecOK, APRwRw); errno != errs.EInvalid {
		t.Errorf("Configure() with non-power-of-two size = %v, want EInvalid", errno)
	}
}

func TestConfigureRejectsUndersizedRegion(t *testing.T) {
	c := &fakeConfigurer{}
	if errno := Configure(c, RegionText, 0, 16, ExecOK, APRwRw); errno != errs.EInvalid {
		t.Errorf("Configure() with size below 32 = %v, want EInvalid", errno)
	}
}

func TestConfigureRejectsMisalignedAddress(t *testing.T) {
	c := &fakeConfigurer{}
	if errno := Configure(c, RegionText, 1, 32, ExecOK, APRwRw); errno != errs.EInvalid {
		t.Errorf("Configure() with misaligned address = %v, want EInvalid", errno)
	}
}

func TestConfigurePropagatesConfigurerError(t *testing.T) {
	c := &fakeConfigurer{err: errConfigureFailed{}}
	if errno := Configure(c, RegionText, 0, 32, ExecOK, APRwRw); errno != errs.EIO {
		t.Errorf("Configure() with a failing Configurer = %v, want EIO", errno)
	}
}

type errConfigureFailed struct{}

func (errConfigureFailed) Error() string { return "configure failed" }

func TestIsPowerOfTwo(t *testing.T) {
	tests := []struct {
		v    uint32
		want bool
	}{
		{0, false},
		{1, true},
		{2, true},
		{3, false},
		{4096, true},
		{4097, false},
	}
	for _, tt := range tests {
		if got := isPowerOfTwo(tt.v); got != tt.want {
			t.Errorf("isPowerOfTwo(%d) = %v, want %v", tt.v, got, tt.want)
		}
	}
}

func TestLog2(t *testing.T) {
	tests := []struct {
		v    uint32
		want uint32
	}{
		{1, 0},
		{2, 1},
		{32, 5},
		{4096, 12},
		{1 << 20, 20},
	}
	for _, tt := range tests {
		if got := log2(tt.v); got != tt.want {
			t.Errorf("log2(%d) = %d, want %d", tt.v, got, tt.want)
		}
	}
}
