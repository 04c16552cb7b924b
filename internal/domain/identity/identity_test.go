package identity_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	identity "github.com/okian/vitals/internal/domain/identity"
	. "github.com/smartystreets/goconvey/convey"
)

// fakeLookup serves a fixed mapping and counts store round trips.
type fakeLookup struct {
	mu       sync.Mutex
	mappings map[string]string
	calls    atomic.Int64
	failWith error
}

func newFakeLookup() *fakeLookup {
	return &fakeLookup{mappings: make(map[string]string)}
}

func (f *fakeLookup) link(provider, providerUserID, userID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mappings[provider+"/"+providerUserID] = userID
}

func (f *fakeLookup) LookupConnection(ctx context.Context, provider, providerUserID string) (string, error) {
	f.calls.Add(1)
	if f.failWith != nil {
		return "", f.failWith
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	userID, ok := f.mappings[provider+"/"+providerUserID]
	if !ok {
		return "", identity.ErrUnknownUser
	}
	return userID, nil
}

func TestResolver(t *testing.T) {
	Convey("Given a resolver over a linked account", t, func() {
		lookup := newFakeLookup()
		lookup.link("pulseband", "pb-801", "user-1")
		r := identity.NewResolver(lookup)

		Convey("When resolving the pair twice", func() {
			first, err1 := r.Resolve(context.Background(), "pulseband", "pb-801")
			second, err2 := r.Resolve(context.Background(), "pulseband", "pb-801")

			Convey("Then both resolve and the second is served from cache", func() {
				So(err1, ShouldBeNil)
				So(err2, ShouldBeNil)
				So(first, ShouldEqual, "user-1")
				So(second, ShouldEqual, "user-1")
				So(lookup.calls.Load(), ShouldEqual, 1)
				So(r.CacheSize(), ShouldEqual, 1)
			})
		})

		Convey("When resolving an unlinked pair", func() {
			_, err := r.Resolve(context.Background(), "pulseband", "pb-unlinked")

			Convey("Then the unknown user sentinel comes back", func() {
				So(err, ShouldNotBeNil)
				So(errors.Is(err, identity.ErrUnknownUser), ShouldBeTrue)
			})

			Convey("And the miss is not cached", func() {
				So(r.CacheSize(), ShouldEqual, 0)

				lookup.link("pulseband", "pb-unlinked", "user-9")
				userID, err := r.Resolve(context.Background(), "pulseband", "pb-unlinked")
				So(err, ShouldBeNil)
				So(userID, ShouldEqual, "user-9")
			})
		})

		Convey("When invalidating a cached pair", func() {
			_, _ = r.Resolve(context.Background(), "pulseband", "pb-801")
			So(r.CacheSize(), ShouldEqual, 1)

			r.Invalidate("pulseband", "pb-801")

			Convey("Then the next resolve hits the store again", func() {
				So(r.CacheSize(), ShouldEqual, 0)
				before := lookup.calls.Load()
				_, err := r.Resolve(context.Background(), "pulseband", "pb-801")
				So(err, ShouldBeNil)
				So(lookup.calls.Load(), ShouldEqual, before+1)
			})
		})
	})

	Convey("Given a resolver whose store is failing", t, func() {
		lookup := newFakeLookup()
		lookup.failWith = errors.New("connection refused")
		r := identity.NewResolver(lookup)

		Convey("When resolving", func() {
			_, err := r.Resolve(context.Background(), "somnus", "sn-1")

			Convey("Then the error is not the unknown user sentinel", func() {
				So(err, ShouldNotBeNil)
				So(errors.Is(err, identity.ErrUnknownUser), ShouldBeFalse)
				So(err.Error(), ShouldContainSubstring, "connection refused")
			})
		})
	})
}

func TestResolverCacheBounds(t *testing.T) {
	Convey("Given a resolver with a tiny cache", t, func() {
		lookup := newFakeLookup()
		for i := 0; i < 5; i++ {
			lookup.link("trailwatch", fmt.Sprintf("tw-%d", i), fmt.Sprintf("user-%d", i))
		}
		r := identity.NewResolver(lookup, identity.WithCacheSize(3))

		Convey("When resolving more pairs than the cache holds", func() {
			for i := 0; i < 5; i++ {
				userID, err := r.Resolve(context.Background(), "trailwatch", fmt.Sprintf("tw-%d", i))
				So(err, ShouldBeNil)
				So(userID, ShouldEqual, fmt.Sprintf("user-%d", i))
			}

			Convey("Then the cache stays at its bound", func() {
				So(r.CacheSize(), ShouldEqual, 3)
			})

			Convey("And evicted pairs still resolve through the store", func() {
				before := lookup.calls.Load()
				userID, err := r.Resolve(context.Background(), "trailwatch", "tw-0")
				So(err, ShouldBeNil)
				So(userID, ShouldEqual, "user-0")
				So(lookup.calls.Load(), ShouldEqual, before+1)
			})
		})
	})

	Convey("Given a resolver with an unbounded cache", t, func() {
		lookup := newFakeLookup()
		const pairs = 500
		for i := 0; i < pairs; i++ {
			lookup.link("healthsync", fmt.Sprintf("hs-%d", i), fmt.Sprintf("user-%d", i))
		}
		r := identity.NewResolver(lookup, identity.WithCacheSize(0))

		Convey("When resolving every pair", func() {
			for i := 0; i < pairs; i++ {
				_, err := r.Resolve(context.Background(), "healthsync", fmt.Sprintf("hs-%d", i))
				So(err, ShouldBeNil)
			}

			Convey("Then nothing is evicted", func() {
				So(r.CacheSize(), ShouldEqual, pairs)
				So(lookup.calls.Load(), ShouldEqual, pairs)
			})
		})
	})
}

func TestResolverConcurrency(t *testing.T) {
	Convey("Given concurrent resolution of overlapping pairs", t, func() {
		lookup := newFakeLookup()
		const accounts = 50
		for i := 0; i < accounts; i++ {
			lookup.link("pulseband", fmt.Sprintf("pb-%d", i), fmt.Sprintf("user-%d", i))
		}
		r := identity.NewResolver(lookup, identity.WithCacheSize(1000))

		Convey("When many goroutines resolve at once", func() {
			const numGoroutines = 10
			var wg sync.WaitGroup
			var failures atomic.Int64

			for g := 0; g < numGoroutines; g++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for i := 0; i < accounts; i++ {
						userID, err := r.Resolve(context.Background(), "pulseband", fmt.Sprintf("pb-%d", i))
						if err != nil || userID != fmt.Sprintf("user-%d", i) {
							failures.Add(1)
						}
					}
				}()
			}
			wg.Wait()

			Convey("Then every resolution succeeds with the right owner", func() {
				So(failures.Load(), ShouldEqual, 0)
				So(r.CacheSize(), ShouldEqual, accounts)
			})
		})
	})
}
