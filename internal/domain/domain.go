package domain

import (
	"fmt"
	"strings"
	"time"
)

// Season is the broad liturgical period of a date.
type Season string

const (
	SeasonAdvent      Season = "advent"
	SeasonChristmas   Season = "christmas"
	SeasonLent        Season = "lent"
	SeasonEaster      Season = "easter"
	SeasonOrdinary    Season = "ordinary"
	SeasonJesusChrist Season = "jesus-christ"
	SeasonVirginMary  Season = "virgin-mary"
	SeasonSaints      Season = "saints"
	SeasonOccasional  Season = "occasional"
)

var seasons = []Season{
	SeasonAdvent, SeasonChristmas, SeasonLent, SeasonEaster, SeasonOrdinary,
	SeasonJesusChrist, SeasonVirginMary, SeasonSaints, SeasonOccasional,
}

// Seasons returns every known season code.
func Seasons() []Season {
	return append([]Season(nil), seasons...)
}

// ParseSeason normalizes a season code. Calendar feeds write "jesus christ",
// the catalog writes "jesus-christ"; both parse to the same value.
func ParseSeason(v string) (Season, bool) {
	s := Season(normalizeCode(v))
	for _, known := range seasons {
		if s == known {
			return s, true
		}
	}
	return s, false
}

// SubSeason is a date-derived overlay window within a season.
type SubSeason string

const (
	SubSeasonLateAdvent      SubSeason = "late-advent"
	SubSeasonChristmasOctave SubSeason = "christmas-octave"
	SubSeasonUnityWeek       SubSeason = "week-of-prayer-for-unity"
	SubSeasonLateLent        SubSeason = "late-lent"
	SubSeasonPentecostNovena SubSeason = "pentecost-novena"
)

var subSeasons = []SubSeason{
	SubSeasonLateAdvent, SubSeasonChristmasOctave, SubSeasonUnityWeek,
	SubSeasonLateLent, SubSeasonPentecostNovena,
}

// SubSeasons returns every known sub-season code.
func SubSeasons() []SubSeason {
	return append([]SubSeason(nil), subSeasons...)
}

func ParseSubSeason(v string) (SubSeason, bool) {
	s := SubSeason(normalizeCode(v))
	for _, known := range subSeasons {
		if s == known {
			return s, true
		}
	}
	return s, false
}

// MassPart is a slot in the order of service.
type MassPart string

const (
	PartMain              MassPart = "main"
	PartEntrance          MassPart = "entrance"
	PartAsperges          MassPart = "asperges"
	PartOrdinarium        MassPart = "ordinarium"
	PartPsalm             MassPart = "psalm"
	PartSequence          MassPart = "sequence"
	PartAleluia           MassPart = "aleluia"
	PartGospel            MassPart = "gospel"
	PartImpositionOfAshes MassPart = "imposition-of-ashes"
	PartOffertory         MassPart = "offertory"
	PartCommunion         MassPart = "communion"
	PartRecessional       MassPart = "recessional"
)

// massParts is the canonical service order. Output always follows it.
var massParts = []MassPart{
	PartMain, PartEntrance, PartAsperges, PartOrdinarium, PartPsalm, PartSequence,
	PartAleluia, PartGospel, PartImpositionOfAshes, PartOffertory, PartCommunion, PartRecessional,
}

// MassParts returns the mass parts in canonical order.
func MassParts() []MassPart {
	return append([]MassPart(nil), massParts...)
}

// Rank is the position of the part in the canonical order, or -1 if unknown.
func (p MassPart) Rank() int {
	for i, known := range massParts {
		if p == known {
			return i
		}
	}
	return -1
}

func ParseMassPart(v string) (MassPart, bool) {
	p := MassPart(normalizeCode(v))
	return p, p.Rank() >= 0
}

// Priority orders competing rules; higher wins.
type Priority int

const (
	PriorityDefault           Priority = 0
	PriorityPreferred         Priority = 1
	PriorityStronglyPreferred Priority = 2
	PriorityMandatory         Priority = 3
)

func (p Priority) Valid() bool {
	return p >= PriorityDefault && p <= PriorityMandatory
}

func (p Priority) String() string {
	switch p {
	case PriorityDefault:
		return "default"
	case PriorityPreferred:
		return "preferred"
	case PriorityStronglyPreferred:
		return "strongly-preferred"
	case PriorityMandatory:
		return "mandatory"
	}
	return fmt.Sprintf("priority(%d)", int(p))
}

// ParsePriority accepts either the tier name or its number.
func ParsePriority(v string) (Priority, bool) {
	switch normalizeCode(v) {
	case "default", "0", "":
		return PriorityDefault, true
	case "preferred", "1":
		return PriorityPreferred, true
	case "strongly-preferred", "2":
		return PriorityStronglyPreferred, true
	case "mandatory", "3":
		return PriorityMandatory, true
	}
	return 0, false
}

type Song struct {
	ID                  int64    `json:"id"`
	Number              int      `json:"number"`
	Title               string   `json:"title"`
	Season              Season   `json:"season,omitempty"`
	Occasions           []string `json:"occasions,omitempty"`
	HasCommunionVerse   bool     `json:"has_communion_verse"`
	HasRecessionalVerse bool     `json:"has_recessional_verse"`
}

// HasOccasion reports whether the song is tagged for the occasion.
func (s Song) HasOccasion(occasion string) bool {
	for _, o := range s.Occasions {
		if o == occasion {
			return true
		}
	}
	return false
}

type Celebration struct {
	Slug        string   `json:"slug"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Categories  []string `json:"categories"`
}

type SeasonInfo struct {
	Code        Season `json:"code"`
	Description string `json:"description,omitempty"`
}

type SubSeasonInfo struct {
	Code        SubSeason `json:"code"`
	Description string    `json:"description,omitempty"`
}

type CalendarDay struct {
	Date         string   `json:"date" format:"date"`
	Season       string   `json:"season"`
	Celebrations []string `json:"celebrations"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// DateLayout is the wire and storage format of calendar dates.
const DateLayout = "2006-01-02"

// FormatDate renders a date in DateLayout.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

func normalizeCode(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	v = strings.ReplaceAll(v, "_", "-")
	return strings.Join(strings.Fields(v), "-")
}
