package refpool

import "testing"

func TestCPURAMResource(t *testing.T) {
	t.Parallel()

	res := CPURAM()

	capacity, err := res.Capacity()
	if err != nil {
		t.Fatalf("Capacity failed: %v", err)
	}

	if capacity == 0 {
		t.Fatal("total RAM should be positive")
	}

	available, err := res.Available()
	if err != nil {
		t.Fatalf("Available failed: %v", err)
	}

	if available == 0 || available > capacity {
		t.Fatalf("available %d should be positive and within capacity %d", available, capacity)
	}

	used, err := res.Utilized()
	if err != nil {
		t.Fatalf("Utilized failed: %v", err)
	}

	// Utilized re-reads the counters, so only bound it loosely.
	if used > capacity {
		t.Fatalf("utilized %d exceeds capacity %d", used, capacity)
	}
}

func TestCPURAMSingleton(t *testing.T) {
	t.Parallel()

	if CPURAM() != CPURAM() {
		t.Fatal("CPURAM must return the singleton")
	}
}

func TestFilesystemResource(t *testing.T) {
	t.Parallel()

	res := NewFilesystemResource(t.TempDir())

	capacity, err := res.Capacity()
	if err != nil {
		t.Fatalf("Capacity failed: %v", err)
	}

	if capacity == 0 {
		t.Fatal("filesystem capacity should be positive")
	}

	available, err := res.Available()
	if err != nil {
		t.Fatalf("Available failed: %v", err)
	}

	if available > capacity {
		t.Fatalf("available %d exceeds capacity %d", available, capacity)
	}

	if _, err := res.Utilized(); err != nil {
		t.Fatalf("Utilized failed: %v", err)
	}
}

func TestFilesystemResourceMissingMountpoint(t *testing.T) {
	t.Parallel()

	res := NewFilesystemResource("/definitely/not/a/mountpoint")

	if _, err := res.Capacity(); err == nil {
		t.Fatal("expected an error for a missing mountpoint")
	}
}
