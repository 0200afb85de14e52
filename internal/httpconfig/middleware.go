package httpconfig

import "github.com/AlexLonberg/js-api-router/internal/apierrors"

// passthroughType is the distinguished sentinel type for "do not change the
// flowing value" (spec §4.E middleware contract, §9 design notes).
type passthroughType struct{}

// Passthrough is the sentinel a middleware returns to mean "pass the
// current value through unchanged".
var Passthrough interface{} = passthroughType{}

// IsPassthrough reports whether a middleware's return value was the
// Passthrough sentinel.
func IsPassthrough(v interface{}) bool {
	_, ok := v.(passthroughType)
	return ok
}

// Ctx is the minimal view of an in-flight request handed to middleware;
// httpcontext.Context implements it. Kept here (rather than in
// httpcontext) so the configuration composer's Middleware interface has no
// import-cycle back onto the package that consumes resolved configs.
type Ctx interface {
	Attempt() int
	RequestID() string
}

// Middleware is the pipeline unit processed by the HTTP request context
// (spec §6 "Middleware interface").
type Middleware interface {
	Kind() string
	Process(ctx Ctx, value interface{}) (interface{}, error)
}

// ErrorProcessor is optionally implemented by a Middleware to participate
// in the error chain when a peer middleware throws.
type ErrorProcessor interface {
	ProcessError(ctx Ctx, value interface{}, cause error) (interface{}, error)
}

// RequestContext is the opaque object a ContextFactory produces; the
// concrete type lives in package httpcontext.
type RequestContext interface {
	Run() error
}

// ContextFactory produces request contexts for one config "kind" (spec §6
// "Context factory interface").
type ContextFactory interface {
	Kind() string
	Create(cfg *Resolved, runtimeOptions map[string]interface{}) (RequestContext, error)
}

// Producer is a lazy reference to a Middleware: a registry name resolved
// on first access, a constructor instantiated once and memoized, a bare
// instance, or a factory function invoked on every access.
type Producer struct {
	name        string
	constructor func() Middleware
	instance    Middleware
	factory     func() (Middleware, error)
	memo        Middleware
}

// ByName builds a producer that resolves from the middleware registry.
func ByName(name string) Producer { return Producer{name: name} }

// ByConstructor builds a producer instantiated once, memoized thereafter.
func ByConstructor(ctor func() Middleware) Producer { return Producer{constructor: ctor} }

// ByInstance wraps an already-built Middleware.
func ByInstance(m Middleware) Producer { return Producer{instance: m} }

// ByFactory builds a producer invoked fresh on every Resolve call.
func ByFactory(f func() (Middleware, error)) Producer { return Producer{factory: f} }

// Resolve materializes the Middleware this producer refers to.
func (p *Producer) Resolve(reg *MiddlewareRegistry) (Middleware, error) {
	if p.instance != nil {
		return p.instance, nil
	}
	if p.memo != nil {
		return p.memo, nil
	}
	if p.constructor != nil {
		p.memo = p.constructor()
		return p.memo, nil
	}
	if p.factory != nil {
		return p.factory()
	}
	if p.name != "" {
		return reg.MustLookup(p.name)
	}
	return nil, apierrors.Wrap(apierrors.Configure, "empty middleware reference", nil)
}

// baseMiddlewareSentinel marks the splice point where a chain should
// expand to the chain inherited from the layer below (spec §4.D, §9).
type baseMiddlewareSentinel struct{}

// BaseMiddleware is appended into a Chain to mean "inherited chain goes
// here"; it may appear at most once per chain.
var BaseMiddleware = baseMiddlewareSentinel{}

// Chain is a middleware chain reference: either a single Producer or a
// sequence of Producer/BaseMiddleware entries.
type Chain struct {
	entries []chainEntry
}

type chainEntry struct {
	producer Producer
	isBase   bool
}

// NewChain builds a chain from producers, none of which may be the
// BaseMiddleware sentinel (use WithBase for that).
func NewChain(producers ...Producer) Chain {
	entries := make([]chainEntry, len(producers))
	for i, p := range producers {
		entries[i] = chainEntry{producer: p}
	}
	return Chain{entries: entries}
}

// WithBase returns a chain like c but with BaseMiddleware spliced at
// position i (0 <= i <= len(c.entries)).
func (c Chain) WithBase(i int) Chain {
	entries := make([]chainEntry, 0, len(c.entries)+1)
	entries = append(entries, c.entries[:i]...)
	entries = append(entries, chainEntry{isBase: true})
	entries = append(entries, c.entries[i:]...)
	return Chain{entries: entries}
}

// Empty reports whether the chain has no entries.
func (c Chain) Empty() bool { return len(c.entries) == 0 }

// Expand resolves the chain against an inherited chain, substituting
// BaseMiddleware for its entries in place. It is a ConfigureError for
// BaseMiddleware to appear more than once.
func (c Chain) Expand(inherited Chain) (Chain, error) {
	baseCount := 0
	for _, e := range c.entries {
		if e.isBase {
			baseCount++
		}
	}
	if baseCount > 1 {
		return Chain{}, apierrors.Wrap(apierrors.Configure, "BASE_MIDDLEWARE may appear at most once per chain", nil)
	}
	if baseCount == 0 {
		return c, nil
	}
	out := make([]chainEntry, 0, len(c.entries)+len(inherited.entries))
	for _, e := range c.entries {
		if e.isBase {
			out = append(out, inherited.entries...)
			continue
		}
		out = append(out, e)
	}
	return Chain{entries: out}, nil
}

// Producers returns the chain's resolved producer list (after Expand has
// removed any BaseMiddleware sentinel).
func (c Chain) Producers() []Producer {
	out := make([]Producer, 0, len(c.entries))
	for _, e := range c.entries {
		if !e.isBase {
			out = append(out, e.producer)
		}
	}
	return out
}

// Resolve materializes every producer in the chain, in order.
func (c Chain) Resolve(reg *MiddlewareRegistry) ([]Middleware, error) {
	out := make([]Middleware, 0, len(c.entries))
	for i := range c.entries {
		e := &c.entries[i]
		if e.isBase {
			continue
		}
		m, err := e.producer.Resolve(reg)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}
