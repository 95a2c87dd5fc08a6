// Package blocks holds the segmented content of a page: prose spans and
// media regions (music scores, illustrations) with their crop windows.
package blocks

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"go.uber.org/multierr"
)

var (
	ErrInvalidCropRange = errors.New("invalid crop range")
	ErrBlockIndex       = errors.New("block index out of range")
	ErrNotMedia         = errors.New("block is not a media block")
	ErrUnknownKind      = errors.New("unknown block kind")
)

// Kind identifies the variant of a block.
type Kind string

const (
	KindText         Kind = "text"
	KindMusicScore   Kind = "music_score"
	KindIllustration Kind = "illustration"
)

// IsMedia reports whether blocks of this kind carry an image instead of text.
func (k Kind) IsMedia() bool {
	return k == KindMusicScore || k == KindIllustration
}

// Crop is the vertical window of the original scan, in percent of page height.
type Crop struct {
	Top    float64 `json:"top"`
	Bottom float64 `json:"bottom"`
}

// FullPage covers the whole scan.
var FullPage = Crop{Top: 0, Bottom: 100}

// Validate checks 0 <= top < bottom <= 100.
func (c Crop) Validate() error {
	if c.Top < 0 || c.Bottom > 100 || c.Top >= c.Bottom {
		return fmt.Errorf("%w: top=%g bottom=%g", ErrInvalidCropRange, c.Top, c.Bottom)
	}
	return nil
}

// Block is one segmented unit of a page. The concrete type is either
// *TextBlock or *MediaBlock.
type Block interface {
	Kind() Kind
	clone() Block
}

// TextBlock is a contiguous span of recognized prose.
type TextBlock struct {
	Content string
}

func (*TextBlock) Kind() Kind { return KindText }

func (b *TextBlock) clone() Block { c := *b; return &c }

// MediaBlock is a music score or illustration cut out of the original scan.
type MediaBlock struct {
	Type        Kind
	ImageRef    string
	Description string
	Crop        Crop
}

func (b *MediaBlock) Kind() Kind { return b.Type }

func (b *MediaBlock) clone() Block { c := *b; return &c }

// List is the ordered block sequence of a page, top to bottom.
type List []Block

// Clone returns a deep copy of the list.
func (l List) Clone() List {
	if l == nil {
		return nil
	}
	out := make(List, len(l))
	for i, b := range l {
		out[i] = b.clone()
	}
	return out
}

// TextBlocks returns the indexes of the text blocks in l.
func (l List) TextBlocks() []int {
	var idx []int
	for i, b := range l {
		if _, ok := b.(*TextBlock); ok {
			idx = append(idx, i)
		}
	}
	return idx
}

// Validate checks every media crop and reports all failures at once.
func (l List) Validate() error {
	var err error
	for i, b := range l {
		switch b := b.(type) {
		case *TextBlock:
		case *MediaBlock:
			if !b.Type.IsMedia() {
				err = multierr.Append(err, fmt.Errorf("block %d: %w %q", i, ErrUnknownKind, b.Type))
				continue
			}
			if cerr := b.Crop.Validate(); cerr != nil {
				err = multierr.Append(err, fmt.Errorf("block %d: %w", i, cerr))
			}
		default:
			err = multierr.Append(err, fmt.Errorf("block %d: %w %T", i, ErrUnknownKind, b))
		}
	}
	return err
}

// Recrop returns a copy of l with the crop of the media block at index
// replaced. l itself is never modified.
func (l List) Recrop(index int, c Crop) (List, *MediaBlock, error) {
	if index < 0 || index >= len(l) {
		return nil, nil, fmt.Errorf("%w: %d", ErrBlockIndex, index)
	}
	if err := c.Validate(); err != nil {
		return nil, nil, err
	}
	if _, ok := l[index].(*MediaBlock); !ok {
		return nil, nil, fmt.Errorf("%w: %d", ErrNotMedia, index)
	}
	out := l.Clone()
	updated := out[index].(*MediaBlock)
	updated.Crop = c
	return out, updated, nil
}

// BoundingBox is a region's vertical extent on the scan, in pixels.
type BoundingBox struct {
	Top    float64 `json:"top"`
	Bottom float64 `json:"bottom"`
}

// Region is one classified area reported by the OCR+segment service.
type Region struct {
	Type        Kind         `json:"type"`
	Content     string       `json:"content,omitempty"`
	ImageRef    string       `json:"image_ref,omitempty"`
	Description string       `json:"description,omitempty"`
	Crop        *Crop        `json:"crop,omitempty"`
	BBox        *BoundingBox `json:"bbox,omitempty"`
}

// FromRegions turns classified OCR regions into an ordered block list.
// Regions with bounding boxes are ordered top to bottom; a region without
// one stays right after the region that preceded it in the OCR output.
// Prose becomes a TextBlock, scores and illustrations become MediaBlocks
// whose initial crop is the bounding box as a percentage of pageHeight.
func FromRegions(regions []Region, pageHeight int) (List, error) {
	type keyed struct {
		region Region
		top    float64
		index  int
	}
	keys := make([]keyed, len(regions))
	top := math.Inf(-1)
	for i, r := range regions {
		if r.BBox != nil {
			top = r.BBox.Top
		}
		keys[i] = keyed{region: r, top: top, index: i}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].top != keys[j].top {
			return keys[i].top < keys[j].top
		}
		return keys[i].index < keys[j].index
	})
	ordered := make([]Region, len(keys))
	for i, k := range keys {
		ordered[i] = k.region
	}

	out := make(List, 0, len(ordered))
	for i, r := range ordered {
		switch {
		case r.Type == KindText:
			out = append(out, &TextBlock{Content: r.Content})
		case r.Type.IsMedia():
			out = append(out, &MediaBlock{
				Type:        r.Type,
				ImageRef:    r.ImageRef,
				Description: r.Description,
				Crop:        initialCrop(r, pageHeight),
			})
		default:
			return nil, fmt.Errorf("region %d: %w %q", i, ErrUnknownKind, r.Type)
		}
	}
	return out, nil
}

func initialCrop(r Region, pageHeight int) Crop {
	if r.BBox != nil && pageHeight > 0 {
		c := Crop{
			Top:    clampPercent(r.BBox.Top * 100 / float64(pageHeight)),
			Bottom: clampPercent(r.BBox.Bottom * 100 / float64(pageHeight)),
		}
		if c.Validate() == nil {
			return c
		}
		slog.Warn("Degenerate region bounding box, using full page", "top", r.BBox.Top, "bottom", r.BBox.Bottom, "height", pageHeight)
		return FullPage
	}
	if r.Crop != nil {
		c := Crop{Top: clampPercent(r.Crop.Top), Bottom: clampPercent(r.Crop.Bottom)}
		if c.Validate() == nil {
			return c
		}
		slog.Warn("Invalid crop reported by OCR, using full page", "top", r.Crop.Top, "bottom", r.Crop.Bottom)
	}
	return FullPage
}

func clampPercent(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// wire form of a block; "type" selects the variant.
type wireBlock struct {
	Type        Kind   `json:"type"`
	Content     string `json:"content,omitempty"`
	ImageRef    string `json:"image_ref,omitempty"`
	Description string `json:"description,omitempty"`
	Crop        *Crop  `json:"crop,omitempty"`
}

func (l List) MarshalJSON() ([]byte, error) {
	wire := make([]wireBlock, 0, len(l))
	for i, b := range l {
		switch b := b.(type) {
		case *TextBlock:
			wire = append(wire, wireBlock{Type: KindText, Content: b.Content})
		case *MediaBlock:
			c := b.Crop
			wire = append(wire, wireBlock{Type: b.Type, ImageRef: b.ImageRef, Description: b.Description, Crop: &c})
		default:
			return nil, fmt.Errorf("block %d: %w %T", i, ErrUnknownKind, b)
		}
	}
	return json.Marshal(wire)
}

func (l *List) UnmarshalJSON(data []byte) error {
	var wire []wireBlock
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	if wire == nil {
		*l = nil
		return nil
	}
	out := make(List, 0, len(wire))
	for i, w := range wire {
		switch {
		case w.Type == KindText:
			out = append(out, &TextBlock{Content: w.Content})
		case w.Type.IsMedia():
			c := FullPage
			if w.Crop != nil {
				c = *w.Crop
			}
			out = append(out, &MediaBlock{Type: w.Type, ImageRef: w.ImageRef, Description: w.Description, Crop: c})
		default:
			return fmt.Errorf("block %d: %w %q", i, ErrUnknownKind, w.Type)
		}
	}
	*l = out
	return nil
}
