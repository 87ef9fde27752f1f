package watcher

import (
	"testing"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
)

func TestClassify_MapsFsnotifyOps(t *testing.T) {
	cases := []struct {
		op   fsnotify.Op
		want EventType
	}{
		{fsnotify.Create, EventAdd},
		{fsnotify.Write, EventChange},
		{fsnotify.Remove, EventUnlink},
		{fsnotify.Rename, EventUnlink},
	}
	for _, c := range cases {
		got, ok := classify(fsnotify.Event{Op: c.op})
		assert.True(t, ok)
		assert.Equal(t, c.want, got)
	}
}

func TestClassify_IgnoresChmod(t *testing.T) {
	_, ok := classify(fsnotify.Event{Op: fsnotify.Chmod})
	assert.False(t, ok)
}
