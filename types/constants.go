package types

const (
	// TallyTreeMaxLevels is the maximum number of levels of the trees that
	// commit to per-recipient tally values.
	TallyTreeMaxLevels = 32
	// TallyTreeKeyLen is the length in bytes of a tally tree key.
	TallyTreeKeyLen = TallyTreeMaxLevels / 8
	// StateTreeMaxLevels is the maximum number of levels of the tree that
	// commits to the user states.
	StateTreeMaxLevels = 32
	// StateTreeKeyLen is the length in bytes of a state tree key.
	StateTreeKeyLen = StateTreeMaxLevels / 8
	// NoRecipient is the reserved recipient index of commands that cast no
	// vote (key changes). Recipients are numbered from 1.
	NoRecipient = 0
)
