package ruleengine

import (
	"github.com/carepoint/policygate/internal/identity"
	"github.com/carepoint/policygate/internal/protocol"
)

// ContextKeyUser is the context data key the authorization rule stores the
// resolved identity under.
const ContextKeyUser = "user"

// Contribution is the set of fields one rule added to the context.
type Contribution struct {
	RuleID string
	Fields map[string]any
}

// Context is the per-request state shared by the rules of one evaluation.
//
// Request starts as a copy of the inbound request; transformation rules
// replace its fields and every later rule and the handler see the result.
// Data is append-only: the first rule to contribute a key owns it.
type Context struct {
	Request     *protocol.Request
	HandlerName string
	Endpoint    string

	log  []Contribution
	data map[string]any
}

// NewContext creates the evaluation context for req.
func NewContext(req *protocol.Request, handlerName, endpoint string) *Context {
	if req == nil {
		req = &protocol.Request{}
	}
	return &Context{
		Request:     req.Clone(),
		HandlerName: handlerName,
		Endpoint:    endpoint,
		data:        make(map[string]any),
	}
}

// Value returns the context data stored under key.
func (c *Context) Value(key string) (any, bool) {
	v, ok := c.data[key]
	return v, ok
}

// Data returns a copy of the folded context data.
func (c *Context) Data() map[string]any {
	out := make(map[string]any, len(c.data))
	for k, v := range c.data {
		out[k] = v
	}
	return out
}

// Contributions returns the ordered contribution log.
func (c *Context) Contributions() []Contribution {
	out := make([]Contribution, len(c.log))
	copy(out, c.log)
	return out
}

// User returns the identity resolved by an authorization rule, if any.
func (c *Context) User() *identity.Identity {
	v, ok := c.data[ContextKeyUser]
	if !ok {
		return nil
	}
	u, _ := v.(*identity.Identity)
	return u
}

// merge records fields contributed by ruleID and returns the keys that were
// already owned by an earlier contribution (those are not overwritten).
func (c *Context) merge(ruleID string, fields map[string]any) []string {
	if len(fields) == 0 {
		return nil
	}

	var conflicts []string
	for k, v := range fields {
		if _, exists := c.data[k]; exists {
			conflicts = append(conflicts, k)
			continue
		}
		c.data[k] = v
	}

	c.log = append(c.log, Contribution{RuleID: ruleID, Fields: fields})
	return conflicts
}
