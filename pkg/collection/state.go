package collection

// Phase is where a controller is in its fetch lifecycle.
type Phase int

const (
	// Idle is a controller that has not loaded anything yet.
	Idle Phase = iota
	// Fetching is a controller with a read outstanding.
	Fetching
	// Ready is a controller holding a loaded list. It returns to Fetching
	// only through Refresh.
	Ready
)

func (p Phase) String() string {
	switch p {
	case Fetching:
		return "fetching"
	case Ready:
		return "ready"
	default:
		return "idle"
	}
}

// State is a snapshot of a controller. Items is a copy.
type State[T any] struct {
	Items   []T
	Loading bool
	Err     error
	Phase   Phase
}

// Config parametrizes a controller for one table.
type Config struct {
	// Table is the row store table.
	Table string
	// Columns is the column selection, "*" or a comma list.
	Columns string
	// Order is the default sort, e.g. "created_at.desc".
	Order string
	// Filter is an optional secondary equality filter,
	// "column,operator,value".
	Filter string
	// OwnerColumn holds the owning user id. Defaults to "user_id".
	OwnerColumn string
	// FetchErrorMessage is the text recorded when a read fails.
	// Defaults to "Failed to load <table>".
	FetchErrorMessage string
}
