package modhost

// State is the lifecycle state of the embedded module.
//
//	Uninitialized -> Loading -> Ready
//	Loading -> Failed            (error, trap, timeout)
//	Ready   -> Failed            (trap during dispatch)
//	Failed  -> Loading           (retry)
//	any     -> Disposed          (terminal)
type State int32

const (
	Uninitialized State = iota
	Loading
	Ready
	Failed
	Disposed
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	case Disposed:
		return "disposed"
	default:
		return "unknown"
	}
}
