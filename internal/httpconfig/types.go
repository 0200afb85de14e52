package httpconfig

import (
	"time"

	"github.com/AlexLonberg/js-api-router/internal/headers"
)

// RetryDelayFunc maps a 1-based attempt index to a delay before the next
// attempt (spec §3 "retryDelay").
type RetryDelayFunc func(attempt int) time.Duration

// HandlerFunc is the callback-style result delivery signature (spec §4.E
// "Result delivery"): invoked once with the outcome and the request id.
type HandlerFunc func(ok bool, value interface{}, err error, requestID string)

// RequestInit mirrors the immutable base options from spec §3: cache,
// credentials, integrity, keepalive, mode, priority, redirect, referrer,
// referrerPolicy, plus headers that get promoted into the headers channel.
type RequestInit struct {
	Cache          Opt[string]
	Credentials    Opt[string]
	Integrity      Opt[string]
	Keepalive      Opt[bool]
	Mode           Opt[string]
	Priority       Opt[string]
	Redirect       Opt[string]
	Referrer       Opt[string]
	ReferrerPolicy Opt[string]
	Headers        Opt[*headers.Headers]
}

func mergeRequestInit(target, source RequestInit) RequestInit {
	return RequestInit{
		Cache:          Merge(target.Cache, source.Cache),
		Credentials:    Merge(target.Credentials, source.Credentials),
		Integrity:      Merge(target.Integrity, source.Integrity),
		Keepalive:      Merge(target.Keepalive, source.Keepalive),
		Mode:           Merge(target.Mode, source.Mode),
		Priority:       Merge(target.Priority, source.Priority),
		Redirect:       Merge(target.Redirect, source.Redirect),
		Referrer:       Merge(target.Referrer, source.Referrer),
		ReferrerPolicy: Merge(target.ReferrerPolicy, source.ReferrerPolicy),
		Headers:        Merge(target.Headers, source.Headers),
	}
}

// PresetRef names a registered preset, or carries one inline. Explicit
// Disable turns off preset inheritance entirely (spec §4.D "Presets").
type PresetRef struct {
	Name   string
	Inline *Preset
}

// Preset is the subset of endpoint options that may be registered by name
// and layered under concrete endpoint configs. By construction it never
// carries a path, target, handler, or nested preset (spec §3 "Preset
// configuration").
type Preset struct {
	Executor       Opt[Producer]
	Preprocessor   Opt[Chain]
	Postprocessor  Opt[Chain]
	Errorprocessor Opt[Chain]
	QueueKey       Opt[string]
	QueueLimit     Opt[int]
	QueuePriority  Opt[int]
	QueueUnordered Opt[bool]
	Timeout        Opt[time.Duration]
	Retries        Opt[int]
	RetryDelay     Opt[RetryDelayFunc]
	RequestInit    RequestInit
	Headers        Opt[*headers.Headers]
}

// asOptions lifts a Preset into the full EndpointOptions shape so it can be
// merged with the same field-by-field logic as any other layer.
func (p Preset) asOptions() EndpointOptions {
	return EndpointOptions{
		Executor:       p.Executor,
		Preprocessor:   p.Preprocessor,
		Postprocessor:  p.Postprocessor,
		Errorprocessor: p.Errorprocessor,
		QueueKey:       p.QueueKey,
		QueueLimit:     p.QueueLimit,
		QueuePriority:  p.QueuePriority,
		QueueUnordered: p.QueueUnordered,
		Timeout:        p.Timeout,
		Retries:        p.Retries,
		RetryDelay:     p.RetryDelay,
		RequestInit:    p.RequestInit,
		Headers:        p.Headers,
	}
}

// EndpointOptions is one composable layer: a registered endpoint's base
// config, a preset, or per-call overrides. Every field is optional
// (Opt zero value = inherit).
type EndpointOptions struct {
	Kind           Opt[string]
	ContextFactory Opt[string]
	Executor       Opt[Producer]
	Preprocessor   Opt[Chain]
	Postprocessor  Opt[Chain]
	Errorprocessor Opt[Chain]
	QueueKey       Opt[string]
	QueueLimit     Opt[int]
	QueuePriority  Opt[int]
	QueueUnordered Opt[bool]
	Timeout        Opt[time.Duration]
	Retries        Opt[int]
	RetryDelay     Opt[RetryDelayFunc]
	RequestInit    RequestInit
	Headers        Opt[*headers.Headers]
	URL            Opt[headers.Fragment]
	Target         Opt[interface{}]
	Handler        Opt[HandlerFunc]
	Preset         Opt[PresetRef]
}

// Resolved is the immutable, fully composed endpoint configuration (spec
// §3 "Endpoint configuration (resolved)", invariant §3.f).
type Resolved struct {
	Kind           string
	ContextFactory string
	Executor       Producer
	Preprocessor   Chain
	Postprocessor  Chain
	Errorprocessor Chain
	QueueKey       Opt[string]
	QueueLimit     Opt[int]
	QueuePriority  Opt[int]
	QueueUnordered Opt[bool]
	Timeout        Opt[time.Duration]
	Retries        Opt[int]
	RetryDelay     Opt[RetryDelayFunc]
	RequestInit    RequestInit
	Headers        *headers.Headers
	URL            *headers.URL
	Target         interface{}
	Handler        HandlerFunc
	PresetName     string
}
