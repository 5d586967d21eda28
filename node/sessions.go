package node

import (
	"github.com/juju/errors"
)

const errBadLogin = errors.ConstError("invalid username or password")

// Login opens a session for a provisioned user.
func (a *Agent) Login(username, password, address string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	u, ok := a.users[username]
	if !ok || u.Password != password {
		return errBadLogin
	}
	if s, ok := a.sessions[username]; ok {
		s.Address = address
		return nil
	}
	a.sessions[username] = &Session{Username: username, Address: address, started: a.clock.Now()}
	return nil
}

// AddTraffic accounts bytes to a user's session. Once the user's byte
// limit is reached the session is closed.
func (a *Agent) AddTraffic(username string, in, out int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.sessions[username]
	if !ok {
		return errors.NotFoundf("session for %s", username)
	}
	s.BytesIn += in
	s.BytesOut += out
	if u := a.users[username]; u != nil && u.LimitBytes > 0 && s.BytesIn+s.BytesOut >= u.LimitBytes {
		delete(a.sessions, username)
		a.logger.Infow("session closed at byte limit", "username", username)
	}
	return nil
}

// Users returns the provisioned usernames.
func (a *Agent) Users() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.users))
	for name := range a.users {
		out = append(out, name)
	}
	return out
}

// Configuration returns the last applied configuration.
func (a *Agent) Configuration() map[string]any {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]any, len(a.config))
	for k, v := range a.config {
		out[k] = v
	}
	return out
}
