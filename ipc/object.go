package ipc

// Object is a thin composition wrapper for callers building a typed
// service binding over a session without re-implementing Close and
// IsClosed — distinct from Session's own plain/domain-root/
// domain-sub-object tagged variant, which already carries the
// lifecycle rules. A generated binding typically embeds Object and
// adds its own typed methods that each build a Dispatch and call
// Session.
type Object struct {
	session *Session
}

// NewObject wraps an existing session.
func NewObject(session *Session) *Object {
	return &Object{session: session}
}

// Session returns the wrapped session.
func (o *Object) Session() *Session { return o.session }

// Close delegates to the wrapped session; idempotent.
func (o *Object) Close() error { return o.session.Close() }

// IsClosed delegates to the wrapped session.
func (o *Object) IsClosed() bool { return o.session.IsClosed() }

// WithSession is the scoped-acquisition helper: it runs ctor, and on
// success guarantees Close runs after body returns on any path,
// mirroring the Python __enter__/__exit__ context-manager pattern
// service bindings used over a Service.
func WithSession(ctor func() (*Session, error), body func(*Session) error) error {
	session, err := ctor()
	if err != nil {
		return err
	}
	defer session.Close()
	return body(session)
}
