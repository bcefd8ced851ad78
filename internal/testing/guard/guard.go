package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("MEDIMART_TEST_MODE") == "" {
			_ = os.Setenv("MEDIMART_TEST_MODE", "1")
		}
	})
}
