package astifilter

import (
	"fmt"
	"slices"
)

// ConverterFactory creates the converters the chain inserts between two nodes whose formats
// don't match
type ConverterFactory interface {
	CanConvert(in, out Format) bool
	Name() string
	NewConverter(in, out Format) (Filter, error)
	// Formats the factory would produce for in when the consumer doesn't state any preference
	OutputFormats(in Format) []Format
}

// ConverterSelector picks a factory and an output format among candidates which are ordered by
// the consumer's preference. It returns false when no factory fits.
type ConverterSelector func(in Format, candidates []Format, fs []ConverterFactory) (ConverterFactory, Format, bool)

// SelectFirstAcceptable returns the first candidate, in order, that a factory can produce out
// of in. Factories are tried in registration order.
func SelectFirstAcceptable(in Format, candidates []Format, fs []ConverterFactory) (ConverterFactory, Format, bool) {
	for _, c := range candidates {
		for _, f := range fs {
			if f.CanConvert(in, c) {
				return f, c, true
			}
		}
	}
	return nil, Format{}, false
}

type NegotiationPlan struct {
	// Nil when the producer can be linked directly to the consumer
	Factory ConverterFactory
	In      Format
	Out     Format
}

func (p NegotiationPlan) Direct() bool {
	return p.Factory == nil
}

type Negotiator struct {
	fs []ConverterFactory
	s  ConverterSelector
}

func NewNegotiator(fs []ConverterFactory, s ConverterSelector) *Negotiator {
	if s == nil {
		s = SelectFirstAcceptable
	}
	return &Negotiator{
		fs: slices.Clone(fs),
		s:  s,
	}
}

func (n *Negotiator) Factories() []ConverterFactory {
	return slices.Clone(n.fs)
}

// Negotiate returns how frames of format in should reach the consumer. When force is true, a
// converter is used even if the consumer accepts in.
func (n *Negotiator) Negotiate(in Format, consumer Filter, force bool) (p NegotiationPlan, err error) {
	// Direct
	p.In = in
	p.Out = in
	if !force && consumer.Accepts(in) {
		return
	}

	// Get candidates
	var cs []Format
	if force && consumer.Accepts(in) {
		cs = append(cs, in)
	}
	if r, ok := consumer.(FormatRanker); ok {
		cs = append(cs, r.RankFormats(in)...)
	} else {
		cs = append(cs, consumer.PreferredFormats()...)
	}

	// Consumer has no preference
	if len(cs) == 0 || (force && len(cs) == 1) {
		for _, f := range n.fs {
			cs = append(cs, f.OutputFormats(in)...)
		}
	}

	// Consumer must accept candidates
	cs = slices.DeleteFunc(cs, func(f Format) bool { return !consumer.Accepts(f) })

	// Select
	f, out, ok := n.s(in, cs, n.fs)
	if !ok {
		err = fmt.Errorf("%w: no conversion from %s to any of [%s]", ErrFormatNegotiation, in, Formats(cs))
		return
	}
	p.Factory = f
	p.Out = out
	return
}
