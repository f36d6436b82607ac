// Package fixtures builds the school, students and provider payloads shared by
// pipeline tests.
package fixtures

// Ptr returns a pointer to a copy of v
func Ptr[T any](v T) *T {
	return &v
}
