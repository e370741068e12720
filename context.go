package cortex

import "sync"

// Context is the Working Context (§4.C): a per-session scratchpad plus a
// process-wide global scratchpad, each behind its own RWMutex so that a
// writer in one scope never blocks a reader in the other. Reads never
// error; writes are serialized per scope.
//
// Presence, not truthiness, distinguishes "key absent" from "key present
// with an empty value" — Get's second return value is the authority; an
// empty string is a legitimate, present value (e.g. a file-selection step
// answered "play the whole folder" with input_path == "").
type Context struct {
	mu          sync.RWMutex
	sessionData map[string]map[string]any

	globalMu sync.RWMutex
	global   map[string]any
}

// NewContext creates an empty Working Context.
func NewContext() *Context {
	return &Context{
		sessionData: make(map[string]map[string]any),
		global:      make(map[string]any),
	}
}

// Get returns the value stored at key for sessionID and whether it is
// present. An absent session or an absent key both report ok == false.
func (c *Context) Get(sessionID, key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	scope, ok := c.sessionData[sessionID]
	if !ok {
		return nil, false
	}
	v, ok := scope[key]
	return v, ok
}

// Has reports whether key is present for sessionID, regardless of value.
func (c *Context) Has(sessionID, key string) bool {
	_, ok := c.Get(sessionID, key)
	return ok
}

// Set writes key=value into sessionID's scope, creating the scope if
// necessary. An explicitly empty string is a present value, not an absence.
func (c *Context) Set(sessionID, key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	scope, ok := c.sessionData[sessionID]
	if !ok {
		scope = make(map[string]any)
		c.sessionData[sessionID] = scope
	}
	scope[key] = value
}

// Delete removes key from sessionID's scope, if present.
func (c *Context) Delete(sessionID, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if scope, ok := c.sessionData[sessionID]; ok {
		delete(scope, key)
	}
}

// Snapshot returns a shallow copy of sessionID's scope, for handing to a
// step's BuildLLMRequest or a background worker without holding the lock.
func (c *Context) Snapshot(sessionID string) map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	scope := c.sessionData[sessionID]
	out := make(map[string]any, len(scope))
	for k, v := range scope {
		out[k] = v
	}
	return out
}

// ClearSession discards sessionID's entire scope, called when a session is
// finalized.
func (c *Context) ClearSession(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessionData, sessionID)
}

// GetGlobal returns the value stored at key in the process-wide scope.
func (c *Context) GetGlobal(key string) (any, bool) {
	c.globalMu.RLock()
	defer c.globalMu.RUnlock()
	v, ok := c.global[key]
	return v, ok
}

// SetGlobal writes key=value into the process-wide scope.
func (c *Context) SetGlobal(key string, value any) {
	c.globalMu.Lock()
	defer c.globalMu.Unlock()
	c.global[key] = value
}
