package supervisor

import "testing"

func TestDeterministicTAPNameIsStable(t *testing.T) {
	a := DeterministicTAPName("default/s1")
	b := DeterministicTAPName("default/s1")
	if a != b {
		t.Errorf("expected stable tap name, got %s then %s", a, b)
	}
}

func TestDeterministicTAPNameDiffersAcrossKeys(t *testing.T) {
	a := DeterministicTAPName("default/s1")
	b := DeterministicTAPName("default/s2")
	if a == b {
		t.Errorf("expected different tap names for different sandbox keys, both got %s", a)
	}
}

func TestSubnetAllocatorRejectsDoubleAllocation(t *testing.T) {
	a := NewSubnetAllocator()
	if _, err := a.AllocateFor("default/s1"); err != nil {
		t.Fatalf("first allocate: %v", err)
	}
	if _, err := a.AllocateFor("default/s1"); err == nil {
		t.Fatal("expected second allocate for the same key to fail")
	}
}

func TestSubnetAllocatorReleaseAllowsReuse(t *testing.T) {
	a := NewSubnetAllocator()
	if _, err := a.AllocateFor("default/s1"); err != nil {
		t.Fatalf("allocate: %v", err)
	}
	a.Release("default/s1")
	if _, err := a.AllocateFor("default/s1"); err != nil {
		t.Fatalf("allocate after release: %v", err)
	}
}

func TestBlockToIPsAreWithinSubnet(t *testing.T) {
	cfg, err := NewSubnetAllocator().AllocateFor("default/s1")
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if cfg.HostIP == cfg.GuestIP {
		t.Errorf("host and guest IP must differ, both %s", cfg.HostIP)
	}
}
