package httpconfig

import (
	"github.com/AlexLonberg/js-api-router/internal/apierrors"
	"github.com/AlexLonberg/js-api-router/internal/headers"
)

func mergeChain(target Opt[Chain], source Opt[Chain]) (Opt[Chain], error) {
	if source.IsSet() {
		src, _ := source.Value()
		inherited, _ := target.Value()
		expanded, err := src.Expand(inherited)
		if err != nil {
			return Opt[Chain]{}, err
		}
		return Set(expanded), nil
	}
	if source.IsDisabled() {
		return Disable[Chain](), nil
	}
	return target, nil
}

func resolvePreset(regs *Registries, ref PresetRef) (Preset, error) {
	if ref.Inline != nil {
		return *ref.Inline, nil
	}
	if ref.Name != "" {
		return regs.Preset.MustLookup(ref.Name)
	}
	return Preset{}, apierrors.Wrap(apierrors.Configure, "empty preset reference", nil)
}

// mergeFields folds one layer's fields onto the accumulator, per-field, per
// spec §4.D. accURL carries the URL composed so far because URL fragments
// compose cumulatively (append/replace) rather than simply overwrite.
func mergeFields(acc EndpointOptions, accURL *headers.URL, layer EndpointOptions) (EndpointOptions, *headers.URL, error) {
	out := acc
	out.Kind = Merge(acc.Kind, layer.Kind)
	out.ContextFactory = Merge(acc.ContextFactory, layer.ContextFactory)
	out.Executor = Merge(acc.Executor, layer.Executor)

	var err error
	if out.Preprocessor, err = mergeChain(acc.Preprocessor, layer.Preprocessor); err != nil {
		return out, accURL, err
	}
	if out.Postprocessor, err = mergeChain(acc.Postprocessor, layer.Postprocessor); err != nil {
		return out, accURL, err
	}
	if out.Errorprocessor, err = mergeChain(acc.Errorprocessor, layer.Errorprocessor); err != nil {
		return out, accURL, err
	}

	out.QueueKey = Merge(acc.QueueKey, layer.QueueKey)
	out.QueueLimit = Merge(acc.QueueLimit, layer.QueueLimit)
	out.QueuePriority = Merge(acc.QueuePriority, layer.QueuePriority)
	// last-writer-wins for queueUnordered across shared queueKeys (§9 open
	// question): plain overwrite-on-Set already gives that semantics.
	out.QueueUnordered = Merge(acc.QueueUnordered, layer.QueueUnordered)
	out.Timeout = Merge(acc.Timeout, layer.Timeout)
	out.Retries = Merge(acc.Retries, layer.Retries)
	out.RetryDelay = Merge(acc.RetryDelay, layer.RetryDelay)
	out.RequestInit = mergeRequestInit(acc.RequestInit, layer.RequestInit)
	out.Headers = Merge(acc.Headers, layer.Headers)
	out.Target = Merge(acc.Target, layer.Target)
	out.Handler = Merge(acc.Handler, layer.Handler)
	out.Preset = layer.Preset

	newURL := accURL
	if layer.URL.IsSet() {
		frag, _ := layer.URL.Value()
		u, cerr := headers.Compose(accURL, frag)
		if cerr != nil {
			return out, accURL, cerr
		}
		newURL = u
	} else if layer.URL.IsDisabled() {
		newURL = nil
	}
	return out, newURL, nil
}

// mergeLayer applies one EndpointOptions layer, first splicing in its
// preset (if any and not explicitly disabled) ahead of the layer's own
// fields, matching the base -> preset -> target ordering from §4.D.
func mergeLayer(regs *Registries, acc EndpointOptions, accURL *headers.URL, layer EndpointOptions) (EndpointOptions, *headers.URL, error) {
	if layer.Preset.IsSet() {
		ref, _ := layer.Preset.Value()
		preset, err := resolvePreset(regs, ref)
		if err != nil {
			return acc, accURL, err
		}
		var mergeErr error
		acc, accURL, mergeErr = mergeFields(acc, accURL, preset.asOptions())
		if mergeErr != nil {
			return acc, accURL, mergeErr
		}
	}
	return mergeFields(acc, accURL, layer)
}

// mergeHeaderChannels promotes request-init headers then overlays the
// headers channel, which applies last and has priority (spec §4.D).
func mergeHeaderChannels(requestInitHeaders, channel Opt[*headers.Headers]) *headers.Headers {
	promoted, _ := requestInitHeaders.Value()
	ch, _ := channel.Value()
	if promoted == nil {
		return ch
	}
	if ch == nil {
		return promoted
	}
	return promoted.Extend(ch.Entries(), headers.ReplaceMatching)
}

// Compose layers endpoint options (base, preset, target, request-specific
// overrides — in that order) into an immutable Resolved config.
func Compose(regs *Registries, layers ...EndpointOptions) (*Resolved, error) {
	var acc EndpointOptions
	var accURL *headers.URL
	var err error
	for _, layer := range layers {
		acc, accURL, err = mergeLayer(regs, acc, accURL, layer)
		if err != nil {
			return nil, err
		}
	}
	return finalize(acc, accURL)
}

func finalize(acc EndpointOptions, accURL *headers.URL) (*Resolved, error) {
	kind, ok := acc.Kind.Value()
	if !ok || kind == "" {
		return nil, apierrors.Wrap(apierrors.Configure, "resolved endpoint config requires a non-empty kind", nil)
	}
	contextFactory, ok := acc.ContextFactory.Value()
	if !ok || contextFactory == "" {
		return nil, apierrors.Wrap(apierrors.Configure, "resolved endpoint config requires a context factory kind", nil)
	}
	executor, ok := acc.Executor.Value()
	if !ok {
		return nil, apierrors.Wrap(apierrors.Configure, "resolved endpoint config requires an executor", nil)
	}

	target, _ := acc.Target.Value()
	handler, _ := acc.Handler.Value()
	presetName := ""
	if ref, ok := acc.Preset.Value(); ok {
		presetName = ref.Name
	}

	return &Resolved{
		Kind:           kind,
		ContextFactory: contextFactory,
		Executor:       executor,
		Preprocessor:   valueOrEmpty(acc.Preprocessor),
		Postprocessor:  valueOrEmpty(acc.Postprocessor),
		Errorprocessor: valueOrEmpty(acc.Errorprocessor),
		QueueKey:       acc.QueueKey,
		QueueLimit:     acc.QueueLimit,
		QueuePriority:  acc.QueuePriority,
		QueueUnordered: acc.QueueUnordered,
		Timeout:        acc.Timeout,
		Retries:        acc.Retries,
		RetryDelay:     acc.RetryDelay,
		RequestInit:    acc.RequestInit,
		Headers:        mergeHeaderChannels(acc.RequestInit.Headers, acc.Headers),
		URL:            accURL,
		Target:         target,
		Handler:        handler,
		PresetName:     presetName,
	}, nil
}

func valueOrEmpty(o Opt[Chain]) Chain {
	v, ok := o.Value()
	if !ok {
		return Chain{}
	}
	return v
}
