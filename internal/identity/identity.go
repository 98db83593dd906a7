// Package identity resolves raw meeting display names to known
// students. The matching policy is deliberately opaque to the rest of
// the pipeline: callers get either a student reference or unresolved.
package identity

// Student is a resolved student reference.
type Student struct {
	ID   string
	Name string
}

// Resolver maps a raw display name to a student. Implementations own
// the matching policy; the pipeline treats the call as a black box.
type Resolver interface {
	// Resolve returns the matched student and true, or a zero Student
	// and false when the name cannot be resolved. Unresolved is not an
	// error: events for unknown participants are still recorded.
	Resolve(displayName string) (Student, bool)
}

// StaticResolver resolves by exact display-name lookup against a fixed
// roster. It is the bundled implementation; deployments with fuzzier
// needs plug in their own Resolver.
type StaticResolver struct {
	roster map[string]Student
}

func NewStaticResolver(students []Student) *StaticResolver {
	r := &StaticResolver{roster: make(map[string]Student, len(students))}
	for _, s := range students {
		r.roster[s.Name] = s
	}
	return r
}

func (r *StaticResolver) Resolve(displayName string) (Student, bool) {
	s, ok := r.roster[displayName]
	return s, ok
}
