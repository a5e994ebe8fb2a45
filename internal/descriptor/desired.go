package descriptor

// DesiredState is an immutable snapshot of a Descriptor at one generation.
// The generation counter is owned by the reconciler and increments on every
// descriptor change; two DesiredStates with equal generations are identical.
type DesiredState struct {
	Descriptor  Descriptor
	Generation  int64
	Fingerprint string
}

// NewDesiredState snapshots a validated descriptor at the given generation.
func NewDesiredState(d Descriptor, generation int64, fingerprint string) DesiredState {
	return DesiredState{
		Descriptor:  d,
		Generation:  generation,
		Fingerprint: fingerprint,
	}
}
