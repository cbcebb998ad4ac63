package testutil

import "testing"

// Given opens a scenario: its subtest builds the starting state that the
// nested When blocks act on.
func Given(t *testing.T, desc string, fn func(t *testing.T)) {
	t.Helper()
	t.Run("Given "+desc, fn)
}

// When performs one action against the state its enclosing Given built.
func When(t *testing.T, desc string, fn func(t *testing.T)) {
	t.Helper()
	t.Run("When "+desc, fn)
}

// Then holds the assertions for the action of its enclosing When.
func Then(t *testing.T, desc string, fn func(t *testing.T)) {
	t.Helper()
	t.Run("Then "+desc, fn)
}

// And continues whichever step precedes it, so a scenario with two outcomes
// reads "Then ... And ..." in the subtest names.
func And(t *testing.T, desc string, fn func(t *testing.T)) {
	t.Helper()
	t.Run("And "+desc, fn)
}
