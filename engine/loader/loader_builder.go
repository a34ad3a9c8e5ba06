package loader

// RegistryBuilderOption is a functional option for configuring a Registry via NewRegistry.
type RegistryBuilderOption func(*registry)

// WithBindposes is an option builder that pre-populates the registry with an
// inverse-bindpose set. The handle for pre-populated entries is issued in
// option order starting at 1.
//
// Parameters:
//   - bindposes: the inverse bind matrices to store
//
// Returns:
//   - RegistryBuilderOption: a function that applies the option to a registry
func WithBindposes(bindposes [][16]float32) RegistryBuilderOption {
	return func(r *registry) {
		h := r.reserveLocked()
		r.bindposes[h] = bindposes
	}
}
