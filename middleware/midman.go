package middleware

import (
	"sync"

	"github.com/gin-gonic/gin"
)

// Chain is an ordered middleware list mounted on the engine as one handler.
// Handlers may be added after the engine is running.
type Chain struct {
	mu   sync.RWMutex
	mids []gin.HandlerFunc
}

func NewChain(h ...gin.HandlerFunc) *Chain {
	return &Chain{mids: append([]gin.HandlerFunc(nil), h...)}
}

func (m *Chain) Add(h gin.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mids = append(m.mids, h)
}

func (m *Chain) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.mids)
}

// Use runs a snapshot of the chain in order and stops at the first abort.
// Handlers must not call c.Next themselves.
func (m *Chain) Use() gin.HandlerFunc {
	return func(c *gin.Context) {
		m.mu.RLock()
		handlers := append([]gin.HandlerFunc{}, m.mids...)
		m.mu.RUnlock()

		for _, h := range handlers {
			h(c)
			if c.IsAborted() {
				return
			}
		}
		c.Next()
	}
}
