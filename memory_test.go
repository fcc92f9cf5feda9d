package refpool

import (
	"errors"
	"testing"
)

func TestCPURAMDeviceReadResident(t *testing.T) {
	t.Parallel()

	dev := NewCPURAMDevice()
	rs := NewRefState(8, dev, "payload")

	if err := dev.Write(rs, 1); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	v, err := dev.Read(rs, 1, true)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}

	if v != "payload" {
		t.Fatalf("expected payload, got %v", v)
	}

	// Accounting-only read returns nothing.
	v, err = dev.Read(rs, 1, false)
	if err != nil {
		t.Fatalf("Read(ret=false) failed: %v", err)
	}

	if v != nil {
		t.Fatalf("Read(ret=false) should not materialize, got %v", v)
	}
}

func TestCPURAMDeviceDeleteReleasesValue(t *testing.T) {
	t.Parallel()

	dev := NewCPURAMDevice()
	rs := NewRefState(8, dev, "payload")

	if err := dev.Delete(rs, 1); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	if _, ok := StorageRead(rs).Value(); ok {
		t.Fatal("value should be released")
	}

	// With no leaves left, a read has nowhere to go.
	_, err := dev.Read(rs, 1, true)
	if !errors.Is(err, ErrMissingLeaf) {
		t.Fatalf("expected ErrMissingLeaf, got %v", err)
	}

	// Delete is idempotent.
	if err := dev.Delete(rs, 1); err != nil {
		t.Fatalf("second Delete failed: %v", err)
	}
}

func TestCPURAMDeviceResourceQueries(t *testing.T) {
	t.Parallel()

	dev := NewCPURAMDevice()

	if !dev.ExternallyVarying() {
		t.Fatal("memory availability varies externally")
	}

	resources := dev.Resources()
	if len(resources) != 1 || resources[0] != CPURAM() {
		t.Fatalf("expected the CPURAM singleton, got %v", resources)
	}

	capacity, err := dev.Capacity()
	if err != nil {
		t.Fatalf("Capacity failed: %v", err)
	}

	if capacity == 0 {
		t.Fatal("capacity should be positive")
	}

	available, err := dev.AvailableOn(CPURAM())
	if err != nil {
		t.Fatalf("AvailableOn failed: %v", err)
	}

	if available > capacity {
		t.Fatalf("available %d exceeds capacity %d", available, capacity)
	}

	_, err = dev.CapacityOn(NewFilesystemResource("/"))
	if !errors.Is(err, ErrInvalidResourceForDevice) {
		t.Fatalf("expected ErrInvalidResourceForDevice, got %v", err)
	}
}
