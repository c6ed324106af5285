package hidsvc

import (
	"testing"
	"time"

	"github.com/dgraph-io/badger"
	"github.com/sstallion/go-hid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		product string
		class   DeviceClass
		ok      bool
	}{
		{"Craft Dialpad", ClassDialpad, true},
		{"MX Dial", ClassDialpad, true},
		{"Wireless Keypad", ClassKeypad, true},
		{"Craft Keys", ClassKeypad, true},
		{"KEYPAD PRO", ClassKeypad, true},
		{"Gaming Mouse", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.product, func(t *testing.T) {
			class, ok := classify(hid.DeviceInfo{ProductStr: tt.product})
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.class, class)
			}
		})
	}
}

func TestInterfaceScoreDialpadGeneric(t *testing.T) {
	desktop := hid.DeviceInfo{UsagePage: 0x0001, Usage: 0x0002}
	pointer := hid.DeviceInfo{UsagePage: 0x0001, Usage: 0x0001}
	vendor := hid.DeviceInfo{UsagePage: 0xff00}

	best := interfaceScore(ClassDialpad, LayoutGeneric, desktop)
	mid := interfaceScore(ClassDialpad, LayoutGeneric, pointer)
	low := interfaceScore(ClassDialpad, LayoutGeneric, vendor)

	assert.Greater(t, best, mid)
	assert.Greater(t, mid, low)
	assert.Positive(t, low)
}

func TestInterfaceScoreDialpadVendorLayout(t *testing.T) {
	desktop := hid.DeviceInfo{UsagePage: 0x0001, Usage: 0x0002}
	vendor := hid.DeviceInfo{UsagePage: 0xff00}

	assert.Greater(t,
		interfaceScore(ClassDialpad, LayoutVendor, vendor),
		interfaceScore(ClassDialpad, LayoutVendor, desktop))
}

func TestInterfaceScoreKeypad(t *testing.T) {
	specific := hid.DeviceInfo{UsagePage: 0xff43}
	anyVendor := hid.DeviceInfo{UsagePage: 0xff01}
	other := hid.DeviceInfo{UsagePage: 0x000c}

	assert.Greater(t,
		interfaceScore(ClassKeypad, LayoutGeneric, specific),
		interfaceScore(ClassKeypad, LayoutGeneric, anyVendor))
	assert.Greater(t,
		interfaceScore(ClassKeypad, LayoutGeneric, anyVendor),
		interfaceScore(ClassKeypad, LayoutGeneric, other))
}

func openTestDB(t *testing.T) *badger.DB {
	opts := badger.DefaultOptions(t.TempDir())
	opts.Logger = nil
	db, err := badger.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRegisterDevicePreservesFirstSeen(t *testing.T) {
	db := openTestDB(t)
	s := New(db, zap.NewNop(), nil)

	first := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	second := first.Add(48 * time.Hour)
	info := hid.DeviceInfo{
		VendorID:     vendorLogitech,
		ProductID:    0xc52b,
		InterfaceNbr: 1,
		MfrStr:       "Logitech",
		ProductStr:   "Craft Dialpad",
	}

	s.now = func() time.Time { return first }
	dev, err := s.registerDevice(ClassDialpad, info)
	require.NoError(t, err)
	assert.Equal(t, first, dev.FirstSeenAt)
	assert.Equal(t, first, dev.LastSeenAt)
	assert.Equal(t, "Logitech Craft Dialpad", dev.Name)
	assert.Equal(t, "dialpad", dev.Class)

	s.now = func() time.Time { return second }
	dev, err = s.registerDevice(ClassDialpad, info)
	require.NoError(t, err)
	assert.Equal(t, first, dev.FirstSeenAt)
	assert.Equal(t, second, dev.LastSeenAt)
}

func TestListDevices(t *testing.T) {
	db := openTestDB(t)
	s := New(db, zap.NewNop(), nil)

	_, err := s.registerDevice(ClassDialpad, hid.DeviceInfo{
		VendorID: vendorLogitech, ProductID: 0xc52b, InterfaceNbr: 1, ProductStr: "Craft Dialpad",
	})
	require.NoError(t, err)
	_, err = s.registerDevice(ClassKeypad, hid.DeviceInfo{
		VendorID: vendorLogitech, ProductID: 0xc548, InterfaceNbr: 2, ProductStr: "Wireless Keypad",
	})
	require.NoError(t, err)

	devices, err := s.ListDevices()
	require.NoError(t, err)
	require.Len(t, devices, 2)

	classes := []string{devices[0].Class, devices[1].Class}
	assert.Contains(t, classes, "dialpad")
	assert.Contains(t, classes, "keypad")
}
