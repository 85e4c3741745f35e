package application

// IsServing returns whether requests on topic are dispatched by a running
// worker.
func (s *BridgeSupervisor) IsServing(topic string) bool {
	s.lock.RLock()
	defer s.lock.RUnlock()

	w, ok := s.workers[topic]
	return ok && !w.isStopped()
}
