package recovery

// Strategy decides how parsing continues after a structural error.
type Strategy interface {
	OnError(err error, location Location) Action
}

// Location pins an error to a byte offset and the component that hit it.
type Location struct {
	ByteOffset int64
	ObjectNum  int
	ObjectGen  int
	Component  string
}

type Action int

const (
	ActionFail Action = iota
	ActionSkip
	ActionFix
	ActionWarn
)

type strictStrategy struct{}

func (strictStrategy) OnError(err error, _ Location) Action { return ActionFail }

// Strict fails on the first structural error.
func Strict() Strategy { return strictStrategy{} }

type lenientStrategy struct{}

func (lenientStrategy) OnError(err error, _ Location) Action { return ActionFix }

// Lenient patches over recoverable structural errors (missing >>,
// unterminated strings, broken xref offsets) the way most viewers do.
func Lenient() Strategy { return lenientStrategy{} }
