package session

import "sync"

// Guard decides where a route may be shown for a given state.
type Guard struct {
	LoginRoute string
	HomeRoute  string
	// IsProtected reports whether route needs a session. Nil protects every
	// route except LoginRoute.
	IsProtected func(route string) bool
}

// Resolve returns the route to redirect to. Unauthenticated users are sent
// from protected routes to LoginRoute; authenticated users are sent from
// LoginRoute to HomeRoute. StatusUnknown never redirects.
func (g Guard) Resolve(s State, route string) (target string, redirect bool) {
	switch s.Status {
	case StatusUnauthenticated:
		if route != g.LoginRoute && g.protected(route) {
			return g.LoginRoute, true
		}
	case StatusAuthenticated:
		if route == g.LoginRoute {
			return g.HomeRoute, true
		}
	}
	return "", false
}

func (g Guard) protected(route string) bool {
	if g.IsProtected == nil {
		return true
	}
	return g.IsProtected(route)
}

// Navigator re-runs a Guard on every state transition and on every route
// change, so a just-logged-out user is moved off a protected route without
// waiting for the next navigation.
type Navigator struct {
	guard    Guard
	ctrl     *Controller
	navigate func(route string)

	mu    sync.Mutex
	route string

	unsubscribe func()
}

// NewNavigator subscribes to ctrl. Call Visit to set the first route.
func NewNavigator(ctrl *Controller, guard Guard, navigate func(route string)) *Navigator {
	n := &Navigator{guard: guard, ctrl: ctrl, navigate: navigate}
	n.unsubscribe = ctrl.Subscribe(n.onState)
	return n
}

// Visit records route as current and redirects if the guard requires it.
func (n *Navigator) Visit(route string) {
	n.mu.Lock()
	n.route = route
	n.mu.Unlock()
	n.onState(n.ctrl.State())
}

// Route returns the current route after any redirect.
func (n *Navigator) Route() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.route
}

func (n *Navigator) onState(s State) {
	n.mu.Lock()
	route := n.route
	target, redirect := n.guard.Resolve(s, route)
	if redirect {
		n.route = target
	}
	n.mu.Unlock()

	if redirect && n.navigate != nil {
		n.navigate(target)
	}
}

// Close stops reacting to state transitions.
func (n *Navigator) Close() {
	n.unsubscribe()
}
