package geometry

import (
	"image"

	"pii-redactor/internal/pii"
)

// Region is the pixel rectangle covering one entity: the union of every
// token box its span touches. Max edges are exclusive.
type Region struct {
	Entity int      `json:"entity"` // index into the projected list
	Type   pii.Type `json:"type"`
	XMin   int      `json:"x_min"`
	YMin   int      `json:"y_min"`
	XMax   int      `json:"x_max"`
	YMax   int      `json:"y_max"`
}

// Rect converts the region for image drawing.
func (r Region) Rect() image.Rectangle {
	return image.Rect(r.XMin, r.YMin, r.XMax, r.YMax)
}

// Contains reports whether b lies entirely inside the region.
func (r Region) Contains(b Box) bool {
	return b.Left >= r.XMin && b.Top >= r.YMin && b.Right() <= r.XMax && b.Bottom() <= r.YMax
}

// Projection is the result of projecting one entity list onto a page.
type Projection struct {
	Regions []Region `json:"regions"`
	// Unprojected holds indexes of entities that touched no token. They are
	// reported for review rather than treated as errors.
	Unprojected []int `json:"unprojected"`
}

// Project returns one Region per entity that intersects at least one token,
// in entity order. Any overlap counts: a partial-word match covers the whole
// word's box.
func (l *Layout) Project(entities pii.List) Projection {
	p := Projection{Regions: []Region{}, Unprojected: []int{}}
	for i, e := range entities {
		hits := l.overlapping(e.Start, e.End)
		if len(hits) == 0 {
			p.Unprojected = append(p.Unprojected, i)
			continue
		}
		first := l.tokens[hits[0]].Box
		r := Region{
			Entity: i,
			Type:   e.Type,
			XMin:   first.Left,
			YMin:   first.Top,
			XMax:   first.Right(),
			YMax:   first.Bottom(),
		}
		for _, k := range hits[1:] {
			b := l.tokens[k].Box
			r.XMin = min(r.XMin, b.Left)
			r.YMin = min(r.YMin, b.Top)
			r.XMax = max(r.XMax, b.Right())
			r.YMax = max(r.YMax, b.Bottom())
		}
		p.Regions = append(p.Regions, r)
	}
	return p
}

// Project is a convenience wrapper: build a layout from tokens and project
// entities detected over its text.
func Project(tokens []Token, minConfidence float64, entities pii.List) (Projection, error) {
	l, err := NewLayout(tokens, minConfidence)
	if err != nil {
		return Projection{}, err
	}
	return l.Project(entities), nil
}
