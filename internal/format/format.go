// Package format turns an assignment into the recommendation handed to
// callers: parts in service order, each with its display label.
package format

import (
	"encoding/json"
	"time"

	"cantor/internal/domain"
)

// DefaultLabels are the English display labels of the mass parts.
var DefaultLabels = map[domain.MassPart]string{
	domain.PartMain:              "Main song",
	domain.PartEntrance:          "Entrance",
	domain.PartAsperges:          "Sprinkling rite",
	domain.PartOrdinarium:        "Ordinary of the Mass",
	domain.PartPsalm:             "Responsorial psalm",
	domain.PartSequence:          "Sequence",
	domain.PartAleluia:           "Gospel acclamation",
	domain.PartGospel:            "After the gospel",
	domain.PartImpositionOfAshes: "Imposition of ashes",
	domain.PartOffertory:         "Offertory",
	domain.PartCommunion:         "Communion",
	domain.PartRecessional:       "Recessional",
}

// Item is one line of a recommendation.
type Item struct {
	Part   domain.MassPart `json:"part"`
	Label  string          `json:"label"`
	Number int             `json:"number"`
	Title  string          `json:"title"`
	Source string          `json:"source,omitempty"`
}

// Input carries everything Format needs. Songs and Sources are keyed by mass
// part; parts without a song are left out of the result.
type Input struct {
	ID          string
	Date        time.Time
	Celebration domain.Celebration
	Season      domain.Season
	SubSeasons  []domain.SubSeason
	Description string
	Degraded    bool
	Songs       map[domain.MassPart]domain.Song
	Sources     map[domain.MassPart]string
}

// Formatter labels mass parts. Labels overrides DefaultLabels per part.
type Formatter struct {
	Labels map[domain.MassPart]string
}

// New returns a Formatter with the given overrides; keys that are not mass
// parts are ignored.
func New(overrides map[string]string) Formatter {
	labels := map[domain.MassPart]string{}
	for k, v := range overrides {
		if part, ok := domain.ParseMassPart(k); ok && v != "" {
			labels[part] = v
		}
	}
	return Formatter{Labels: labels}
}

// Label returns the display label of part.
func (f Formatter) Label(part domain.MassPart) string {
	if l, ok := f.Labels[part]; ok {
		return l
	}
	if l, ok := DefaultLabels[part]; ok {
		return l
	}
	return string(part)
}

// Format orders the songs canonically and attaches labels.
func (f Formatter) Format(in Input) Recommendation {
	items := make([]Item, 0, len(in.Songs))
	for _, part := range domain.MassParts() {
		s, ok := in.Songs[part]
		if !ok {
			continue
		}
		items = append(items, Item{
			Part:   part,
			Label:  f.Label(part),
			Number: s.Number,
			Title:  s.Title,
			Source: in.Sources[part],
		})
	}
	cel := in.Celebration
	cel.Categories = append([]string(nil), cel.Categories...)
	return Recommendation{
		id:          in.ID,
		date:        in.Date,
		celebration: cel,
		season:      in.Season,
		subSeasons:  append([]domain.SubSeason(nil), in.SubSeasons...),
		description: in.Description,
		degraded:    in.Degraded,
		items:       items,
	}
}

// Recommendation is an immutable recommendation. Accessors return copies.
type Recommendation struct {
	id          string
	date        time.Time
	celebration domain.Celebration
	season      domain.Season
	subSeasons  []domain.SubSeason
	description string
	degraded    bool
	items       []Item
}

func (r Recommendation) ID() string { return r.id }

func (r Recommendation) Date() time.Time { return r.date }

func (r Recommendation) Season() domain.Season { return r.season }

func (r Recommendation) Description() string { return r.description }

// Degraded reports that no main song could be found.
func (r Recommendation) Degraded() bool { return r.degraded }

func (r Recommendation) Celebration() domain.Celebration {
	c := r.celebration
	c.Categories = append([]string(nil), c.Categories...)
	return c
}

func (r Recommendation) SubSeasons() []domain.SubSeason {
	return append([]domain.SubSeason(nil), r.subSeasons...)
}

// Items returns the lines in canonical mass-part order.
func (r Recommendation) Items() []Item {
	return append([]Item(nil), r.items...)
}

// Song returns the song recommended for part.
func (r Recommendation) Song(part domain.MassPart) (Item, bool) {
	for _, it := range r.items {
		if it.Part == part {
			return it, true
		}
	}
	return Item{}, false
}

// View is the wire form of a Recommendation.
type View struct {
	ID          string             `json:"id"`
	Date        string             `json:"date" format:"date"`
	Celebration domain.Celebration `json:"celebration"`
	Season      domain.Season      `json:"season"`
	SubSeasons  []domain.SubSeason `json:"subseasons"`
	Description string             `json:"description,omitempty"`
	Degraded    bool               `json:"degraded"`
	Items       []Item             `json:"items"`
}

// View returns a mutable copy for encoding.
func (r Recommendation) View() View {
	subs := r.SubSeasons()
	if subs == nil {
		subs = []domain.SubSeason{}
	}
	items := r.Items()
	if items == nil {
		items = []Item{}
	}
	return View{
		ID:          r.id,
		Date:        domain.FormatDate(r.date),
		Celebration: r.Celebration(),
		Season:      r.season,
		SubSeasons:  subs,
		Description: r.description,
		Degraded:    r.degraded,
		Items:       items,
	}
}

func (r Recommendation) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.View())
}
