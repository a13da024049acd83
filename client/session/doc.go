// Package session holds the client-side auth state machine.
//
// A Controller starts in StatusUnknown, reads the stored pair in Init and
// moves between StatusUnauthenticated and StatusAuthenticated on Login,
// Refresh and Logout. A Navigator binds a Guard to a Controller so route
// checks run on every transition.
package session
