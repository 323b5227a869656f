// Package catalog discovers the value/timestamp channel pairs of a store.
//
// A key without the reserved "_timestamps" suffix is a candidate value
// array. It becomes a channel when "<key>_timestamps" exists and has the
// same length. Channels are ordered byte-wise by name; that order is the
// tie-break for every traversal built on the catalog.
//
// Malformed pairs never fail construction. Only store access failures do.
package catalog

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/xtxerr/replay/config"
	"github.com/xtxerr/replay/internal/array"
	"github.com/xtxerr/replay/internal/errors"
	"github.com/xtxerr/replay/internal/logging"
)

var log = logging.Component("catalog")

// Channel is a registered value/timestamp pair. Channels are immutable.
type Channel struct {
	Name     string
	Len      int
	ChunkLen int

	// ValueArray and TimestampArray are the store keys of the pair.
	ValueArray     string
	TimestampArray string

	DType DType
	Shape []int
}

// DType aliases array.DType for callers that only import catalog.
type DType = array.DType

// Chunks returns the number of chunks along dimension 0.
func (c *Channel) Chunks() int {
	return array.ChunkCount(c.Len, c.ChunkLen)
}

// WarningKind classifies a skipped candidate.
type WarningKind int

const (
	// MissingTimestamps: no "<name>_timestamps" array exists.
	MissingTimestamps WarningKind = iota
	// LengthMismatch: the timestamp array length differs.
	LengthMismatch
)

// String returns a human-readable representation of the WarningKind.
func (k WarningKind) String() string {
	switch k {
	case MissingTimestamps:
		return "missing_timestamps"
	case LengthMismatch:
		return "length_mismatch"
	default:
		return "unknown"
	}
}

// DiscoveryWarning records a candidate that was excluded from the catalog.
type DiscoveryWarning struct {
	Kind      WarningKind
	Candidate string
	Detail    string
}

func (w DiscoveryWarning) String() string {
	return fmt.Sprintf("%s: %s (%s)", w.Candidate, w.Kind, w.Detail)
}

// Catalog is the ordered, immutable list of channels of one store handle.
type Catalog struct {
	store    array.Store
	suffix   string
	names    []string
	channels map[string]*Channel
	warnings []DiscoveryWarning
}

// Option configures catalog discovery.
type Option func(*Catalog)

// WithSuffix overrides the timestamp suffix. Intended for stores that use a
// different naming convention; the default is config.TimestampSuffix.
func WithSuffix(suffix string) Option {
	return func(c *Catalog) { c.suffix = suffix }
}

// New enumerates the store and registers every well-formed channel pair.
func New(ctx context.Context, store array.Store, opts ...Option) (*Catalog, error) {
	c := &Catalog{
		store:    store,
		suffix:   config.TimestampSuffix,
		channels: make(map[string]*Channel),
	}
	for _, opt := range opts {
		opt(c)
	}

	keys, err := store.ArrayNames(ctx)
	if err != nil {
		return nil, errors.StoreIO(err, "list arrays", "")
	}

	present := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		present[k] = struct{}{}
	}

	for _, name := range keys {
		if strings.HasSuffix(name, c.suffix) {
			continue
		}

		tsName := name + c.suffix
		if _, ok := present[tsName]; !ok {
			c.warn(DiscoveryWarning{
				Kind:      MissingTimestamps,
				Candidate: name,
				Detail:    fmt.Sprintf("no %q array", tsName),
			})
			continue
		}

		vInfo, err := store.Info(ctx, name)
		if err != nil {
			return nil, errors.StoreIO(err, "info", name)
		}
		tInfo, err := store.Info(ctx, tsName)
		if err != nil {
			return nil, errors.StoreIO(err, "info", tsName)
		}

		if vInfo.Len != tInfo.Len {
			c.warnings = append(c.warnings, DiscoveryWarning{
				Kind:      LengthMismatch,
				Candidate: name,
				Detail:    fmt.Sprintf("%d values vs %d timestamps", vInfo.Len, tInfo.Len),
			})
			log.Debug("channel skipped", "channel", name, "values", vInfo.Len, "timestamps", tInfo.Len)
			continue
		}

		chunkLen := vInfo.ChunkLen
		if chunkLen <= 0 {
			chunkLen = max(vInfo.Len, 1)
		}

		c.channels[name] = &Channel{
			Name:           name,
			Len:            vInfo.Len,
			ChunkLen:       chunkLen,
			ValueArray:     name,
			TimestampArray: tsName,
			DType:          vInfo.DType,
			Shape:          vInfo.Shape,
		}
		c.names = append(c.names, name)
	}

	// Byte-wise ordering, independent of the store's enumeration order.
	sort.Strings(c.names)

	log.Debug("catalog built", "channels", len(c.names), "skipped", len(c.warnings))
	return c, nil
}

func (c *Catalog) warn(w DiscoveryWarning) {
	c.warnings = append(c.warnings, w)
	log.Warn("data group has no timestamp group, skipping",
		"channel", w.Candidate, "detail", w.Detail)
}

// Store returns the store the catalog was built from.
func (c *Catalog) Store() array.Store {
	return c.store
}

// Names returns the channel names in traversal order. The slice is a copy.
func (c *Catalog) Names() []string {
	out := make([]string, len(c.names))
	copy(out, c.names)
	return out
}

// Len returns the number of channels.
func (c *Catalog) Len() int {
	return len(c.names)
}

// Channel returns the named channel.
func (c *Catalog) Channel(name string) (*Channel, bool) {
	ch, ok := c.channels[name]
	return ch, ok
}

// Channels returns the channels in traversal order.
func (c *Catalog) Channels() []*Channel {
	out := make([]*Channel, len(c.names))
	for i, name := range c.names {
		out[i] = c.channels[name]
	}
	return out
}

// MaxLen returns the longest channel length, or 0 with no channels.
func (c *Catalog) MaxLen() int {
	n := 0
	for _, ch := range c.channels {
		n = max(n, ch.Len)
	}
	return n
}

// TotalLen returns the sum of all channel lengths.
func (c *Catalog) TotalLen() int {
	n := 0
	for _, ch := range c.channels {
		n += ch.Len
	}
	return n
}

// Warnings returns the candidates excluded during discovery.
func (c *Catalog) Warnings() []DiscoveryWarning {
	out := make([]DiscoveryWarning, len(c.warnings))
	copy(out, c.warnings)
	return out
}
