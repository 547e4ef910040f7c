package ledger

import (
	"context"
	"sort"
	"sync"
)

// locks a table of per-account locks. Entries are reference counted and
// dropped once nobody holds or waits for them.
type locks struct {
	lock    sync.Mutex
	entries map[string]*accountLock
}

type accountLock struct {
	ch   chan struct{}
	refs int
}

func newLocks() *locks {
	return &locks{entries: map[string]*accountLock{}}
}

// acquire locks every account in ascending order, so two entries touching the
// same accounts cannot deadlock. numbers must be sorted and distinct.
func (t *locks) acquire(ctx context.Context, numbers []string) (func(), error) {
	held := make([]string, 0, len(numbers))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			t.unlock(held[i])
		}
	}
	for _, n := range numbers {
		if err := t.lockOne(ctx, n); err != nil {
			release()
			return nil, err
		}
		held = append(held, n)
	}
	return release, nil
}

func (t *locks) lockOne(ctx context.Context, number string) error {
	t.lock.Lock()
	e, ok := t.entries[number]
	if !ok {
		e = &accountLock{ch: make(chan struct{}, 1)}
		t.entries[number] = e
	}
	e.refs++
	t.lock.Unlock()

	select {
	case e.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		t.deref(number, e)
		return ctx.Err()
	}
}

func (t *locks) unlock(number string) {
	t.lock.Lock()
	e := t.entries[number]
	t.lock.Unlock()
	<-e.ch
	t.deref(number, e)
}

func (t *locks) deref(number string, e *accountLock) {
	t.lock.Lock()
	defer t.lock.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(t.entries, number)
	}
}

func sortedCopy(numbers []string) []string {
	out := make([]string, len(numbers))
	copy(out, numbers)
	sort.Strings(out)
	return out
}
