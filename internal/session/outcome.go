package session

// OutcomeKind is the result class of an interactive authorization.
type OutcomeKind string

const (
	// OutcomeSuccess means a new credential was obtained.
	OutcomeSuccess OutcomeKind = "success"
	// OutcomeHandled means nothing further needs to happen, e.g. a valid
	// credential already existed.
	OutcomeHandled OutcomeKind = "handled"
	// OutcomeFailed means authorization did not produce a credential.
	OutcomeFailed OutcomeKind = "failed"
)

// Outcome is the explicit result of Complete and Login.
type Outcome struct {
	Kind       OutcomeKind
	Credential Credential
	Err        error
}

// OK reports whether a credential is available.
func (o Outcome) OK() bool {
	return o.Kind == OutcomeSuccess || o.Kind == OutcomeHandled
}

func failed(err error) Outcome {
	return Outcome{Kind: OutcomeFailed, Err: err}
}
