// Package session is the host-facing facade over the credential lifecycle.
//
// A Manager wires the protocol client, credential store, device flow poller
// and refresh scheduler for one installation:
//
//	m, err := session.NewManager(cfg)
//	defer m.Close()
//
//	outcome := m.Login(ctx, func(ch *session.Challenge) {
//		fmt.Println(ch.URL)
//		fmt.Println(ch.Instructions)
//	})
//
//	client := m.HTTPClient(ctx) // Authorization header managed for you
//
// Interactive results are reported as an Outcome rather than as errors, so
// callers can tell "nothing to do" apart from a real failure.
package session
