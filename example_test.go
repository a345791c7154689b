package lockwatch_test

import (
	"fmt"

	"github.com/lockwatch/lockwatch"
)

func Example() {
	m := lockwatch.New()
	if err := m.Init(); err != nil {
		fmt.Println("init:", err)
		return
	}
	defer m.Shutdown()

	mu := m.NewMutex("state")
	mu.Lock()
	// critical section
	mu.Unlock()

	acquired, released, held := m.Counters()
	fmt.Printf("acquired=%d released=%d held=%d\n", acquired, released, held)
	// Output: acquired=1 released=1 held=0
}

func ExampleManager_NewRWMutex() {
	m := lockwatch.New()
	if err := m.Init(); err != nil {
		return
	}
	defer m.Shutdown()

	rw := m.NewRWMutex("index")
	fmt.Println(rw.Name())

	rw.RLock()
	// read path
	rw.RUnlock()

	rw.Lock()
	// write path
	rw.Unlock()
	// Output: index.0
}

func ExampleManager_Report() {
	m := lockwatch.New()
	if err := m.Init(); err != nil {
		return
	}
	defer m.Shutdown()

	mu := m.NewMutex("cache")
	mu.Lock()
	defer mu.Unlock()

	r := m.Report()
	fmt.Println(len(r.Active))
	// Output: 1
}
