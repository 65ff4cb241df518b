package sqlite

type Op struct {
	readOnly bool
}

type OpOption func(*Op)

func (op *Op) applyOpts(opts []OpOption) error {
	for _, opt := range opts {
		opt(op)
	}
	return nil
}

// WithReadOnly opens the database with mode=ro, used by the history and
// summary commands while a run may be writing.
func WithReadOnly(b bool) OpOption {
	return func(op *Op) {
		op.readOnly = b
	}
}
