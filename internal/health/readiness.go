package health

import "time"

// Ready evaluates the readiness predicate: at least one chain polled
// successfully within the stale threshold, and no chain that has ever
// succeeded has gone stale past it. Chains that have never succeeded do not
// gate readiness, so a permanently broken chain cannot block startup, while
// a chain that went from healthy to stale fails the probe.
func (s *State) Ready(staleThreshold time.Duration) bool {
	now := s.now()

	s.mu.RLock()
	defer s.mu.RUnlock()

	anyFresh := false
	for _, entry := range s.chains {
		if !entry.everSucceeded {
			continue
		}
		if now.Sub(entry.lastSuccess) <= staleThreshold {
			anyFresh = true
		} else {
			return false
		}
	}

	return anyFresh
}

// Alive evaluates the liveness predicate. The HTTP surface being able to run
// this handler is the other half of the check; liveness never depends on RPC
// reachability.
func (s *State) Alive() bool {
	return s.Started()
}
