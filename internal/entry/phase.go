package entry

// Phase is where an entry is in its reveal/edit lifecycle.
type Phase int

const (
	Masked Phase = iota
	Revealing
	Revealed
	Editing
	Saving
)

// Mask replaces a hidden value on screen, whatever its length.
const Mask = "••••••••"

func (p Phase) String() string {
	switch p {
	case Masked:
		return "masked"
	case Revealing:
		return "revealing"
	case Revealed:
		return "revealed"
	case Editing:
		return "editing"
	case Saving:
		return "saving"
	default:
		return "unknown"
	}
}

// Transient reports whether a store call is in flight.
func (p Phase) Transient() bool {
	return p == Revealing || p == Saving
}
