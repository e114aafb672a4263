package progress

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProgress_CountAndData(t *testing.T) {
	var seen []int
	root := New(func(done, total int) {
		assert.Equal(t, Total, total)
		seen = append(seen, done)
	})

	count := root.Child(1)
	data := root.Child(99)

	count.Complete()
	assert.Equal(t, 1, root.Done())

	data.Set(1.0 / 3)
	data.Set(2.0 / 3)
	data.Complete()
	assert.Equal(t, Total, root.Done())
	assert.Equal(t, Total, seen[len(seen)-1])

	for i := 1; i < len(seen); i++ {
		assert.GreaterOrEqual(t, seen[i], seen[i-1])
	}
}

func TestProgress_Clamped(t *testing.T) {
	root := New(nil)
	root.Add(70)
	root.Add(70)
	assert.Equal(t, Total, root.Done())

	root.Set(0.1)
	assert.Equal(t, Total, root.Done(), "progress never goes back")
}

func TestProgress_NilSafe(t *testing.T) {
	var p *Progress
	assert.NotPanics(t, func() {
		p.Add(5)
		p.Complete()
		p.Child(10).Complete()
	})
	assert.Equal(t, 0, p.Done())
}

func TestProgress_ConcurrentChildren(t *testing.T) {
	root := New(nil)
	data := root.Child(Total)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			data.Add(10)
		}()
	}
	wg.Wait()
	assert.Equal(t, Total, root.Done())
}
