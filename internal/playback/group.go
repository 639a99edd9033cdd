package playback

import (
	"context"
	"errors"
	"log"

	"github.com/lowaak/smart-trainer/treadmill-runner/internal/go_func_utils"
)

// Group runs several playbacks on the same session. Each member gets its own
// copy of every value, and they share the exit signal.
type Group struct {
	logger  *log.Logger
	members []Playback
}

func NewGroup(logger *log.Logger, members ...Playback) *Group {
	if logger == nil {
		panic("Group: logger cannot be nil")
	}
	return &Group{logger: logger, members: members}
}

func (g *Group) Run(ctx context.Context, feeds *Feeds) error {
	switch len(g.members) {
	case 0:
		<-ctx.Done()
		return nil
	case 1:
		return g.members[0].Run(ctx, feeds)
	}

	children := make([]*Feeds, len(g.members))
	for i := range children {
		children[i] = NewFeeds(feeds.Exit)
	}

	errs := make([]error, len(g.members))
	done := make([]<-chan struct{}, 0, len(g.members))
	for i, member := range g.members {
		done = append(done, go_func_utils.SafeGoDone(g.logger, func() {
			errs[i] = member.Run(ctx, children[i])
		}))
	}

	fanOut(ctx, feeds, children)
	for _, d := range done {
		<-d
	}
	return errors.Join(errs...)
}

// fanOut copies every value from src to each of dst until ctx ends
func fanOut(ctx context.Context, src *Feeds, dst []*Feeds) {
	forward := func(put func(f *Feeds)) {
		for _, f := range dst {
			put(f)
		}
	}
	for {
		select {
		case <-ctx.Done():
			return
		case v := <-src.SpeedRatio.C():
			forward(func(f *Feeds) { f.SpeedRatio.Put(v) })
		case v := <-src.SpeedKmh.C():
			forward(func(f *Feeds) { f.SpeedKmh.Put(v) })
		case v := <-src.DistanceKm.C():
			forward(func(f *Feeds) { f.DistanceKm.Put(v) })
		case v := <-src.ElapsedSeconds.C():
			forward(func(f *Feeds) { f.ElapsedSeconds.Put(v) })
		case v := <-src.HeartRateBpm.C():
			forward(func(f *Feeds) { f.HeartRateBpm.Put(v) })
		case v := <-src.Gaps.C():
			forward(func(f *Feeds) { f.Gaps.Put(v) })
		case v := <-src.Status.C():
			forward(func(f *Feeds) { f.Status.Put(v) })
		}
	}
}
