// Package swap - Coordinator construction, events, and lifecycle.
package swap

import (
	"context"
	"crypto/rand"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
)

// NewCoordinator creates a new swap coordinator.
func NewCoordinator(cfg *CoordinatorConfig) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())

	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	refundRetries := cfg.RefundRetries
	if refundRetries <= 0 {
		refundRetries = 3
	}
	refundBackoff := cfg.RefundBackoff
	if refundBackoff <= 0 {
		refundBackoff = 500 * time.Millisecond
	}

	// The seal key protects swap secrets at rest. Without an identity the
	// key is ephemeral, so secrets do not survive a restart.
	var sealKey []byte
	if cfg.Identity != nil {
		sealKey = cfg.Identity.SealKey()
	} else {
		sealKey = make([]byte, chacha20poly1305.KeySize)
		rand.Read(sealKey)
	}

	return &Coordinator{
		registry:      cfg.Registry,
		store:         cfg.Store,
		adapters:      cfg.Adapters,
		authorities:   cfg.Authorities,
		confirms:      cfg.Confirms,
		identity:      cfg.Identity,
		sealKey:       sealKey,
		pollInterval:  pollInterval,
		refundRetries: refundRetries,
		refundBackoff: refundBackoff,
		eventHandlers: make([]EventHandler, 0),
		log:           cfg.Logger.Component("swap"),
		ctx:           ctx,
		cancel:        cancel,
	}
}

// OnEvent registers an event handler.
func (c *Coordinator) OnEvent(handler EventHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.eventHandlers = append(c.eventHandlers, handler)
}

// emitEvent appends to the swap's persistent event log and fans the event
// out to registered handlers.
func (c *Coordinator) emitEvent(swapID, eventType, detail string) {
	if err := c.store.AppendSwapEvent(swapID, eventType, detail); err != nil {
		c.log.Error("Failed to append swap event", "swap_id", swapID, "event", eventType, "error", err)
	}

	event := Event{
		SwapID:    swapID,
		EventType: eventType,
		Data:      detail,
		Timestamp: time.Now(),
	}

	c.mu.RLock()
	handlers := make([]EventHandler, len(c.eventHandlers))
	copy(handlers, c.eventHandlers)
	c.mu.RUnlock()

	for _, handler := range handlers {
		go handler(event)
	}
}

// Close stops background work and waits for in-flight operations to park.
// Non-terminal swaps stay persisted so scheduling resumes in a new process.
func (c *Coordinator) Close() error {
	c.cancel()
	c.wg.Wait()
	return nil
}
