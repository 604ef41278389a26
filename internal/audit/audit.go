package audit

import "fmt"

// Logger emits typed events to a Writer. A nil *Logger discards events.
type Logger struct {
	w     Writer
	actor *Actor
}

// New creates a Logger writing to w. A nil w discards events.
func New(w Writer) *Logger {
	if w == nil {
		w = NopWriter{}
	}
	return &Logger{w: w}
}

// NewFile creates a Logger backed by a FileWriter at path.
// An empty path yields a discarding Logger.
func NewFile(path string) (*Logger, error) {
	if path == "" {
		return New(nil), nil
	}
	w, err := NewFileWriter(path)
	if err != nil {
		return nil, err
	}
	return New(w), nil
}

// WithActor returns a copy of l attributing events to actor.
func (l *Logger) WithActor(actor Actor) *Logger {
	if l == nil {
		return nil
	}
	return &Logger{w: l.w, actor: &actor}
}

// Close closes the underlying writer.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	return l.w.Close()
}

// Log writes event. The returned error must fail the calling operation.
func (l *Logger) Log(event *Event) error {
	if l == nil {
		return nil
	}
	if l.actor != nil {
		event.WithActor(*l.actor)
	}
	if err := l.w.Write(event); err != nil {
		return fmt.Errorf("audit log failed: %w", err)
	}
	return nil
}

// EntryStored logs the creation or replacement of a keystore entry.
func (l *Logger) EntryStored(alias, kind string, ok bool, reason string) error {
	return l.Log(NewEvent(EventEntryStored, resultOf(ok)).
		WithObject(Object{Type: "entry", Alias: alias}).
		WithContext(Context{Kind: kind, Reason: reason}))
}

// EntryDeleted logs the removal of a keystore entry.
func (l *Logger) EntryDeleted(alias, kind string) error {
	return l.Log(NewEvent(EventEntryDeleted, ResultSuccess).
		WithObject(Object{Type: "entry", Alias: alias}).
		WithContext(Context{Kind: kind}))
}

// CertPurged logs the removal of an unreferenced certificate from the trust graph.
func (l *Logger) CertPurged(subject, issuer, serial string) error {
	return l.Log(NewEvent(EventCertPurged, ResultSuccess).
		WithObject(Object{Type: "certificate", Subject: subject, Issuer: issuer, Serial: serial}))
}

// CertIssued logs a certificate issuance attempt.
func (l *Logger) CertIssued(signerAlias, subject, serial, algorithm string, ok bool, reason string) error {
	return l.Log(NewEvent(EventCertIssued, resultOf(ok)).
		WithObject(Object{Type: "certificate", Subject: subject, Serial: serial}).
		WithContext(Context{Signer: signerAlias, Algorithm: algorithm, Reason: reason}))
}

// EnrollRequest logs the receipt of an enrollment request.
func (l *Logger) EnrollRequest(requestID, subject, strategy string) error {
	return l.Log(NewEvent(EventEnrollRequest, ResultSuccess).
		WithObject(Object{Type: "request", Subject: subject}).
		WithContext(Context{RequestID: requestID, Strategy: strategy}))
}

// EnrollVerified logs a request whose proofs were accepted.
func (l *Logger) EnrollVerified(requestID, subject, strategy string) error {
	return l.Log(NewEvent(EventEnrollVerified, ResultSuccess).
		WithObject(Object{Type: "request", Subject: subject}).
		WithContext(Context{RequestID: requestID, Strategy: strategy}))
}

// EnrollRejected logs a request that failed verification.
func (l *Logger) EnrollRejected(requestID, subject, reason string) error {
	return l.Log(NewEvent(EventEnrollRejected, ResultFailure).
		WithObject(Object{Type: "request", Subject: subject}).
		WithContext(Context{RequestID: requestID, Reason: reason}))
}

// AuthFailed logs a failed password or MAC check.
func (l *Logger) AuthFailed(alias, reason string) error {
	return l.Log(NewEvent(EventAuthFailed, ResultFailure).
		WithObject(Object{Type: "entry", Alias: alias}).
		WithContext(Context{Reason: reason}))
}
