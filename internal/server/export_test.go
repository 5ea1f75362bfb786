package server

import "torii/internal/store"

// Store returns the store the session is attached to.
func (s *Server) Store() store.Store {
	return s.session.Store()
}
