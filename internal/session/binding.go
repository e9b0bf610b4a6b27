package session

// Connector is the connection lifecycle the session drives.
// socket.Manager satisfies it.
type Connector interface {
	Connect()
	Disconnect()
}

// Bind makes c follow s: connect on sign-in, disconnect on sign-out or
// expiry, and reconnect when the token is refreshed so the new token is
// used. If s is already signed in, c is connected immediately.
func Bind(s *Session, c Connector) {
	s.OnChange(func(prev, next Snapshot) {
		switch {
		case !next.Authenticated:
			c.Disconnect()
		case !prev.Authenticated:
			c.Connect()
		case prev.Token != next.Token:
			c.Disconnect()
			c.Connect()
		}
	})

	if s.Authenticated() {
		c.Connect()
	}
}
