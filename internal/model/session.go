package model

// Session is one executable instance of a loaded model.
// Run is not required to be safe for concurrent use; the Pool hands a
// session to one caller at a time.
type Session interface {
	// Run executes one forward pass on a batch of one. The i-th returned
	// tensor belongs to the i-th logical output key.
	Run(input *Tensor, outputKeys []string) ([]*Tensor, error)
	Close() error
}

// Runtime turns a signature into executable sessions.
type Runtime interface {
	Open(sig *Signature) (Session, error)
}

// RuntimeFunc adapts a function to the Runtime interface.
type RuntimeFunc func(sig *Signature) (Session, error)

// Open calls f(sig).
func (f RuntimeFunc) Open(sig *Signature) (Session, error) {
	return f(sig)
}
