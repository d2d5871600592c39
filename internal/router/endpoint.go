package router

// Endpoint is one router mesh entry point. Names
// are conventionally prefixed with `*`.
type Endpoint struct {
	Name      string
	Host      string
	Port      int
	Preferred bool
}

// endpointList holds the configured/refreshed router list and the index
// currently being dialed. Routers are tried in preferred order; a
// startup-reply whose router_list changes the first entry schedules a
// reconnect to it.
type endpointList struct {
	endpoints []Endpoint
	current   int
}

func newEndpointList(endpoints []Endpoint) *endpointList {
	ordered := make([]Endpoint, len(endpoints))
	copy(ordered, endpoints)
	orderPreferredFirst(ordered)
	return &endpointList{endpoints: ordered}
}

// orderPreferredFirst stable-sorts preferred endpoints ahead of
// non-preferred ones, otherwise preserving configured order.
func orderPreferredFirst(endpoints []Endpoint) {
	preferred := endpoints[:0:0]
	rest := make([]Endpoint, 0, len(endpoints))
	for _, e := range endpoints {
		if e.Preferred {
			preferred = append(preferred, e)
		} else {
			rest = append(rest, e)
		}
	}
	copy(endpoints, append(preferred, rest...))
}

// Current returns the endpoint currently being targeted.
func (l *endpointList) Current() (Endpoint, bool) {
	if len(l.endpoints) == 0 {
		return Endpoint{}, false
	}
	return l.endpoints[l.current%len(l.endpoints)], true
}

// Advance moves to the next endpoint in the list (router failover).
func (l *endpointList) Advance() {
	if len(l.endpoints) == 0 {
		return
	}
	l.current = (l.current + 1) % len(l.endpoints)
}

// Head reports the first (most preferred) endpoint's name, for detecting
// whether a refreshed router_list changed its head entry.
func (l *endpointList) Head() string {
	if len(l.endpoints) == 0 {
		return ""
	}
	return l.endpoints[0].Name
}

// Refresh replaces the endpoint list (from a startup-reply's router_list)
// and reports whether the preferred head entry changed.
func (l *endpointList) Refresh(endpoints []Endpoint) (headChanged bool) {
	oldHead := l.Head()
	l.endpoints = append([]Endpoint(nil), endpoints...)
	orderPreferredFirst(l.endpoints)
	l.current = 0
	return l.Head() != oldHead && oldHead != ""
}
