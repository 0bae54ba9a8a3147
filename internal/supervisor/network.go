package supervisor

import (
	"fmt"
	"hash/fnv"
	"os/exec"
	"strings"
	"sync"
)

// NetworkConfig holds the networking state for a single sandbox's microVM.
type NetworkConfig struct {
	TAPName string // e.g., "msb-tap0"
	HostIP  string // e.g., "10.0.0.1"
	GuestIP string // e.g., "10.0.0.2"
	CIDR    int    // /30
}

const tapPoolSize = 4_194_304 // 10.0.0.0/8 split into /30 blocks: 2^24 / 4

// DeterministicTAPBlock returns the TAP block index for a sandbox key
// (namespace/name). The same sandbox key always maps to the same block,
// which keeps reconciliation after a crash free of any coordination.
func DeterministicTAPBlock(sandboxKey string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(sandboxKey))
	return h.Sum32() % tapPoolSize
}

// DeterministicTAPName returns the TAP device name for a sandbox key.
func DeterministicTAPName(sandboxKey string) string {
	return fmt.Sprintf("msb-tap%d", DeterministicTAPBlock(sandboxKey))
}

// SubnetAllocator manages /30 subnet allocation from a 10.0.0.0/8 pool.
// Each VM gets a /30: host IP (.1) and guest IP (.2).
type SubnetAllocator struct {
	mu   sync.Mutex
	used map[uint32]bool
}

func NewSubnetAllocator() *SubnetAllocator {
	return &SubnetAllocator{used: make(map[uint32]bool)}
}

// AllocateFor reserves the deterministic block for sandboxKey.
func (a *SubnetAllocator) AllocateFor(sandboxKey string) (*NetworkConfig, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	block := DeterministicTAPBlock(sandboxKey)
	if a.used[block] {
		return nil, fmt.Errorf("tap block %d already in use", block)
	}
	a.used[block] = true

	hostIP, guestIP := blockToIPs(block)
	return &NetworkConfig{
		TAPName: fmt.Sprintf("msb-tap%d", block),
		HostIP:  hostIP,
		GuestIP: guestIP,
		CIDR:    30,
	}, nil
}

// Release returns a /30 block to the pool.
func (a *SubnetAllocator) Release(sandboxKey string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.used, DeterministicTAPBlock(sandboxKey))
}

func blockToIPs(block uint32) (hostIP, guestIP string) {
	base := block * 4
	b1 := byte(base >> 16)
	b2 := byte(base >> 8)
	b3 := byte(base)
	hostIP = fmt.Sprintf("10.%d.%d.%d", b1, b2, b3+1)
	guestIP = fmt.Sprintf("10.%d.%d.%d", b1, b2, b3+2)
	return
}

// CreateTAP creates a TAP device and configures it with the host IP.
func CreateTAP(cfg *NetworkConfig) error {
	if err := run("ip", "tuntap", "add", "dev", cfg.TAPName, "mode", "tap"); err != nil {
		return fmt.Errorf("create tap %s: %w", cfg.TAPName, err)
	}
	addr := fmt.Sprintf("%s/%d", cfg.HostIP, cfg.CIDR)
	if err := run("ip", "addr", "add", addr, "dev", cfg.TAPName); err != nil {
		DeleteTAP(cfg.TAPName)
		return fmt.Errorf("assign ip to %s: %w", cfg.TAPName, err)
	}
	if err := run("ip", "link", "set", cfg.TAPName, "up"); err != nil {
		DeleteTAP(cfg.TAPName)
		return fmt.Errorf("bring up %s: %w", cfg.TAPName, err)
	}
	return nil
}

// DeleteTAP removes a TAP device.
func DeleteTAP(tapName string) {
	_ = run("ip", "link", "del", tapName)
}

func run(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s %s: %w (%s)", name, strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return nil
}
