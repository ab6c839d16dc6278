package device

import (
	"fmt"
	"testing"
)

// setupBenchRegistry creates a registry pre-populated with n devices.
func setupBenchRegistry(b *testing.B, n int) *Registry {
	b.Helper()
	reg := NewRegistry()
	for i := 0; i < n; i++ {
		reg.SetState(fmt.Sprintf("dev-%04d", i), StateIdle, ControllerRaspberry)
	}
	return reg
}

func BenchmarkRegistryIsFree(b *testing.B) {
	reg := setupBenchRegistry(b, 100)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		reg.IsFree("dev-0050")
	}
}

func BenchmarkRegistryIsFree_Parallel(b *testing.B) {
	reg := setupBenchRegistry(b, 100)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			reg.IsFree("dev-0050")
		}
	})
}

func BenchmarkRegistryClaimRelease(b *testing.B) {
	reg := setupBenchRegistry(b, 100)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		lease, _ := reg.Claim("dev-0050", ControllerSmart)
		reg.Release("dev-0050", lease)
	}
}

func BenchmarkRegistryList(b *testing.B) {
	reg := setupBenchRegistry(b, 200)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		reg.List()
	}
}
