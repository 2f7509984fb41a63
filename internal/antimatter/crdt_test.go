package antimatter

// mockCrdt is a minimal PrunableCrdt used only by tests, mirroring the
// original's MockCrdt test stub in antimatter/crdt_trait.rs.
type mockCrdt struct {
	pruned []string
}

func (m *mockCrdt) ApplyPatch(Patch)      {}
func (m *mockCrdt) Prune(v string)        { m.pruned = append(m.pruned, v) }
func (m *mockCrdt) NextSeq() uint64       { return 0 }
func (m *mockCrdt) GenerateBraid(map[string]bool) []BraidUpdate { return nil }
