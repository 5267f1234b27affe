package proto

import (
	"path"
	"strings"

	"github.com/coreos/go-semver/semver"
	"github.com/libp2p/go-libp2p/core/protocol"
)

// MatchFunc consumes a leading portion of a protocol ID.  It returns the
// unconsumed remainder, and whether the consumed portion matched.
type MatchFunc func(string) (string, bool)

// Match reports whether f accepts id.  It can be passed directly to
// host.SetStreamHandlerMatch.
func (f MatchFunc) Match(id protocol.ID) bool {
	_, ok := f(string(id))
	return ok
}

// Then returns a matcher that applies next to whatever f leaves over.
func (f MatchFunc) Then(next MatchFunc) MatchFunc {
	if f == nil {
		return next
	}

	return normalized(func(s string) (string, bool) {
		rest, ok := f(s)
		if !ok {
			return rest, false
		}

		return normalized(next)(rest)
	})
}

// Match chains the supplied matchers from left to right.
func Match(ms ...MatchFunc) (f MatchFunc) {
	for _, next := range ms {
		f = f.Then(next)
	}

	return
}

// Exactly matches a single path component.
func Exactly[ID ~string](id ID) MatchFunc {
	want := string(clean(id))
	return normalized(func(s string) (string, bool) {
		head, tail := pop(s)
		return tail, head == want
	})
}

// Rest matches when everything that remains equals id.
func Rest[ID ~string](id ID) MatchFunc {
	want := string(clean(id))
	return normalized(func(s string) (string, bool) {
		return "", s == want
	})
}

// SemVer matches a version component whose major number equals that of
// version.
//
// SemVer is compliant with the Semantic Versioning 2.0.0 spec.
// https://semver.org/
func SemVer(version string) MatchFunc {
	v := semver.New(clean(version))

	return normalized(func(s string) (string, bool) {
		head, tail := pop(s)

		remote, err := semver.NewVersion(head)
		if err != nil {
			return s, false
		}

		return tail, v.Major == remote.Major
	})
}

func clean[ID ~string](id ID) ID {
	return ID(strings.TrimLeft(path.Clean(string(id)), "/."))
}

func normalized(f func(string) (string, bool)) MatchFunc {
	return func(s string) (string, bool) {
		return f(clean(s))
	}
}

func pop(s string) (head, tail string) {
	head, tail, _ = strings.Cut(clean(s), "/")
	return
}
