package handlers

// DefaultRegistry builds the registry covering every representative event
// class named in the component design: authentication, security,
// application, and document lifecycle events.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(AuthHandler{})
	r.Register(SecurityHandler{})
	r.Register(ApplicationHandler{})
	r.Register(DocumentHandler{})
	return r
}
